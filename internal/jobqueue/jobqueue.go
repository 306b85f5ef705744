/*
Package jobqueue persists reply tasks in a River-backed durable queue.

Each task is unique per conversation: inserting a second task for a
conversation that already holds one is skipped by River rather than
duplicated, which makes reply recording idempotent across restarts and
racing producers.

For worker counts, retry policy, and delivery tuning see queue_config.go.
*/
package jobqueue

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/riverqueue/river"
	"github.com/riverqueue/river/riverdriver/riverpgxv5"
	"github.com/rs/zerolog/log"

	"github.com/tagai-dao/tagclaw/pkg/models"
)

// ReplyTaskArgs is the River job payload for one outbound reply.
// ConversationID alone determines uniqueness: one reply per thread.
type ReplyTaskArgs struct {
	ConversationID string `json:"conversation_id" river:"unique"`
	ParentEventID  string `json:"parent_event_id"`
	Content        string `json:"content"`
}

// Kind returns the job kind for River
func (ReplyTaskArgs) Kind() string {
	return models.ReplyTaskType
}

// ReplyDeliveryWorker posts recorded replies to the configured outbound
// endpoint. With no endpoint configured the task completes immediately;
// the recorded row in the jobs table is then the system of record.
type ReplyDeliveryWorker struct {
	river.WorkerDefaults[ReplyTaskArgs]
	config *QueueConfig
}

func (w *ReplyDeliveryWorker) Work(ctx context.Context, job *river.Job[ReplyTaskArgs]) error {
	args := job.Args

	if w.config.Delivery.OutboundURL == "" {
		log.Info().
			Str("conversation_id", args.ConversationID).
			Msg("No outbound endpoint configured, reply recorded only")
		return nil
	}

	body, err := json.Marshal(map[string]string{
		"type":            models.ReplyTaskType,
		"conversation_id": args.ConversationID,
		"parent_event_id": args.ParentEventID,
		"content":         args.Content,
	})
	if err != nil {
		return fmt.Errorf("failed to marshal reply payload: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, w.config.Delivery.OutboundURL, bytes.NewReader(body))
	if err != nil {
		return fmt.Errorf("failed to create request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")
	if w.config.Delivery.Token != "" {
		req.Header.Set("Authorization", "Bearer "+w.config.Delivery.Token)
	}

	client := &http.Client{Timeout: w.config.Delivery.Timeout}
	resp, err := client.Do(req)
	if err != nil {
		return fmt.Errorf("reply delivery failed: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		respBody, _ := io.ReadAll(io.LimitReader(resp.Body, 512))
		return fmt.Errorf("outbound endpoint returned %d: %s", resp.StatusCode, string(respBody))
	}

	log.Info().
		Str("conversation_id", args.ConversationID).
		Str("parent_event_id", args.ParentEventID).
		Msg("Reply delivered")
	return nil
}

// JobQueue manages the River client and its worker pool.
type JobQueue struct {
	client *river.Client[pgx.Tx]
	pool   *pgxpool.Pool
	config *QueueConfig
}

// NewJobQueue connects to Postgres and builds the River client with the
// reply delivery worker registered.
func NewJobQueue(databaseURL string, config *QueueConfig) (*JobQueue, error) {
	if config == nil {
		config = DefaultQueueConfig()
	}

	pool, err := pgxpool.New(context.Background(), databaseURL)
	if err != nil {
		return nil, fmt.Errorf("failed to create connection pool: %w", err)
	}

	workers := river.NewWorkers()
	river.AddWorker(workers, &ReplyDeliveryWorker{config: config})

	client, err := river.NewClient(riverpgxv5.New(pool), &river.Config{
		Queues:  config.RiverQueueConfig(),
		Workers: workers,
	})
	if err != nil {
		pool.Close()
		return nil, fmt.Errorf("failed to create River client: %w", err)
	}

	return &JobQueue{
		client: client,
		pool:   pool,
		config: config,
	}, nil
}

// Start starts the job queue workers
func (jq *JobQueue) Start(ctx context.Context) error {
	return jq.client.Start(ctx)
}

// Stop stops the job queue workers and closes the pool.
func (jq *JobQueue) Stop(ctx context.Context) error {
	err := jq.client.Stop(ctx)
	jq.pool.Close()
	return err
}

// RecordReply inserts a reply task. It reports queued=false when the
// conversation already holds a task, which callers treat as a benign
// duplicate rather than an error.
func (jq *JobQueue) RecordReply(ctx context.Context, task models.ReplyTask) (bool, error) {
	args := ReplyTaskArgs{
		ConversationID: task.ConversationID,
		ParentEventID:  task.ParentEventID,
		Content:        task.Content,
	}

	result, err := jq.client.Insert(ctx, args, &river.InsertOpts{
		UniqueOpts: river.UniqueOpts{ByArgs: true},
	})
	if err != nil {
		return false, fmt.Errorf("failed to queue reply task: %w", err)
	}
	return !result.UniqueSkippedAsDuplicate, nil
}
