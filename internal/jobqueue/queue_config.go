package jobqueue

import (
	"time"

	"github.com/riverqueue/river"
)

// QueueConfig holds all tunable parameters for the reply task queue.
type QueueConfig struct {
	// MaxWorkers is the number of concurrent delivery workers.
	MaxWorkers int

	// MaxRetries is the retry cap per task before River discards it.
	MaxRetries int

	// Delivery configures the outbound endpoint replies are posted to.
	Delivery DeliveryConfig
}

// DeliveryConfig holds the outbound reply endpoint settings. An empty
// OutboundURL disables delivery; tasks then complete on record.
type DeliveryConfig struct {
	OutboundURL string
	Token       string
	Timeout     time.Duration
}

// DefaultQueueConfig returns the default configuration.
func DefaultQueueConfig() *QueueConfig {
	return &QueueConfig{
		// Replies are low volume, a handful of workers is plenty.
		MaxWorkers: 4,
		MaxRetries: 10,
		Delivery: DeliveryConfig{
			Timeout: 30 * time.Second,
		},
	}
}

// RiverQueueConfig converts our config to River's queue configuration format
func (c *QueueConfig) RiverQueueConfig() map[string]river.QueueConfig {
	return map[string]river.QueueConfig{
		river.QueueDefault: {
			MaxWorkers: c.MaxWorkers,
		},
	}
}
