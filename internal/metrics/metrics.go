package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	// Ingress metrics
	EventsReceived = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "tagclaw_events_received_total",
			Help: "Total mention events delivered to the bot",
		},
	)

	EventsRejected = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "tagclaw_events_rejected_total",
			Help: "Events rejected before execution",
		},
		[]string{"reason"}, // "invalid", "duplicate", "global_daily", "user_daily"
	)

	// Backlog metrics
	BacklogDepth = promauto.NewGauge(
		prometheus.GaugeOpts{
			Name: "tagclaw_backlog_events",
			Help: "Events currently deferred in per-user backlogs",
		},
	)

	BacklogPurged = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "tagclaw_backlog_purged_total",
			Help: "Backlog events discarded on daily quota exhaustion",
		},
	)

	// Reply metrics
	RepliesAttempted = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "tagclaw_replies_attempted_total",
			Help: "Completion calls attempted",
		},
	)

	RepliesRecorded = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "tagclaw_replies_recorded_total",
			Help: "Reply tasks durably recorded",
		},
	)

	RepliesDuplicate = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "tagclaw_replies_duplicate_total",
			Help: "Reply tasks skipped because the conversation already has one",
		},
	)

	CompletionFailures = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "tagclaw_completion_failures_total",
			Help: "Completion calls that failed or timed out",
		},
	)
)
