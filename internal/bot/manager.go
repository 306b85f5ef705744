package bot

import (
	"context"
	"sync"
	"time"

	"github.com/rs/zerolog/log"

	"github.com/tagai-dao/tagclaw/internal/metrics"
	"github.com/tagai-dao/tagclaw/pkg/models"
)

// Completer is the external completion service: one request, one reply,
// bounded by the context deadline.
type Completer interface {
	Complete(ctx context.Context, sessionID, prompt string) (string, error)
}

// TaskRecorder persists a decided reply as a durable task. queued=false
// means the conversation already has a task recorded; that is a benign
// outcome, not an error.
type TaskRecorder interface {
	RecordReply(ctx context.Context, task models.ReplyTask) (queued bool, err error)
}

// Options tune the admission and reply pipeline.
type Options struct {
	Limits        QuotaLimits
	SessionTTL    time.Duration
	QueueInterval time.Duration
	Timezone      *time.Location
	IntendedLimit int
	HardLimit     int
	CallTimeout   time.Duration
}

// DefaultOptions returns the production policy values.
func DefaultOptions() Options {
	return Options{
		Limits:        DefaultQuotaLimits(),
		SessionTTL:    2 * time.Hour,
		QueueInterval: 5 * time.Second,
		IntendedLimit: 240,
		HardLimit:     280,
		CallTimeout:   60 * time.Second,
	}
}

// Manager is the admission-control, deduplication and backlog-scheduling
// engine. Events enter through OnEvent; a periodic tick drains backlogs
// that have become admissible again.
//
// All counter, window, session and queue state lives behind per-component
// mutexes; executions for one user are serialized by a per-user mutex so
// an in-flight reply can never interleave with a drain for the same user.
type Manager struct {
	opts      Options
	dedup     *Deduplicator
	quota     *QuotaLedger
	sessions  *SessionRegistry
	backlog   *BacklogQueue
	completer Completer
	recorder  TaskRecorder

	userMu sync.Mutex
	users  map[string]*sync.Mutex
}

// NewManager wires the engine with its collaborators.
func NewManager(opts Options, completer Completer, recorder TaskRecorder) *Manager {
	if opts.QueueInterval <= 0 {
		opts.QueueInterval = 5 * time.Second
	}
	if opts.CallTimeout <= 0 {
		opts.CallTimeout = 60 * time.Second
	}
	return &Manager{
		opts:      opts,
		dedup:     NewDeduplicator(),
		quota:     NewQuotaLedger(opts.Limits, opts.Timezone),
		sessions:  NewSessionRegistry(opts.SessionTTL),
		backlog:   NewBacklogQueue(),
		completer: completer,
		recorder:  recorder,
		users:     make(map[string]*sync.Mutex),
	}
}

// Start launches the backlog scheduler. It ticks until ctx is canceled.
func (m *Manager) Start(ctx context.Context) {
	go func() {
		ticker := time.NewTicker(m.opts.QueueInterval)
		defer ticker.Stop()
		for {
			select {
			case <-ctx.Done():
				return
			case <-ticker.C:
				m.processQueues(ctx)
			}
		}
	}()
	log.Info().
		Dur("queue_interval", m.opts.QueueInterval).
		Int("global_daily_limit", m.opts.Limits.GlobalDaily).
		Int("user_daily_limit", m.opts.Limits.UserDaily).
		Int("user_minute_limit", m.opts.Limits.UserMinute).
		Msg("bot manager started")
}

// OnEvent is the fire-and-forget ingress entry point. It never blocks on
// the completion call and never reports an error to the caller: the worst
// outcome of any failure is one lost reply opportunity.
func (m *Manager) OnEvent(event *models.Event) {
	metrics.EventsReceived.Inc()

	if !event.Valid() {
		metrics.EventsRejected.WithLabelValues("invalid").Inc()
		log.Warn().Msg("dropping malformed event: missing id or author")
		return
	}

	if !m.dedup.Admit(event.ID) {
		metrics.EventsRejected.WithLabelValues("duplicate").Inc()
		log.Debug().Str("event_id", event.ID).Msg("event already processed, skipping")
		return
	}

	userID := event.AuthorID

	if !m.quota.CheckDaily(userID) {
		reason := "user_daily"
		if m.quota.GlobalExhausted() {
			reason = "global_daily"
		}
		metrics.EventsRejected.WithLabelValues(reason).Inc()
		log.Info().
			Str("event_id", event.ID).
			Str("user_id", userID).
			Str("tier", reason).
			Msg("daily quota reached, ignoring event")
		return
	}

	if m.quota.TryConsumeMinute(userID) {
		go m.runSerialized(context.Background(), event)
	} else {
		m.backlog.Enqueue(userID, event)
		metrics.BacklogDepth.Inc()
		log.Info().
			Str("event_id", event.ID).
			Str("user_id", userID).
			Int("backlog", m.backlog.Len(userID)).
			Msg("minute quota reached, event queued")
	}
}

// Backlog exposes the backlog for inspection.
func (m *Manager) Backlog() *BacklogQueue {
	return m.backlog
}

// Quota exposes the quota ledger for inspection.
func (m *Manager) Quota() *QuotaLedger {
	return m.quota
}

// userLock returns the mutex serializing executions for userID.
func (m *Manager) userLock(userID string) *sync.Mutex {
	m.userMu.Lock()
	defer m.userMu.Unlock()
	mu, ok := m.users[userID]
	if !ok {
		mu = &sync.Mutex{}
		m.users[userID] = mu
	}
	return mu
}

// runSerialized executes one reply while holding the user's lock, so an
// immediate admission can never overlap a backlog drain for that user.
func (m *Manager) runSerialized(ctx context.Context, event *models.Event) {
	mu := m.userLock(event.AuthorID)
	mu.Lock()
	defer mu.Unlock()
	m.execute(ctx, event)
}

// processQueues is one scheduler tick: purge users whose daily quota is
// gone, drain the rest while their minute tier keeps granting. Users are
// drained independently; a user whose previous drain is still running is
// skipped and picked up on a later tick.
func (m *Manager) processQueues(ctx context.Context) {
	for _, userID := range m.backlog.Users() {
		if !m.quota.CheckDaily(userID) {
			dropped := m.backlog.Purge(userID)
			metrics.BacklogDepth.Sub(float64(dropped))
			metrics.BacklogPurged.Add(float64(dropped))
			log.Info().
				Str("user_id", userID).
				Int("dropped", dropped).
				Msg("daily quota exhausted, backlog purged")
			continue
		}

		userID := userID
		go func() {
			mu := m.userLock(userID)
			if !mu.TryLock() {
				return // drain still in flight from a previous tick
			}
			defer mu.Unlock()

			m.backlog.DrainWhileAdmissible(userID, m.quota.TryConsumeMinute, func(event *models.Event) {
				metrics.BacklogDepth.Dec()
				log.Debug().
					Str("event_id", event.ID).
					Str("user_id", userID).
					Msg("draining queued event")
				m.execute(ctx, event)
			})
		}()
	}
}

// execute runs one end-to-end reply attempt. Quota already spent is never
// refunded on any failure past the charge; every failure here is logged
// and swallowed.
func (m *Manager) execute(ctx context.Context, event *models.Event) {
	userID := event.AuthorID

	// Quota may have been spent between admission and dispatch. Check and
	// charge happen atomically so a bail-out leaves no partial charge.
	if !m.quota.ChargeDaily(userID) {
		log.Debug().
			Str("event_id", event.ID).
			Str("user_id", userID).
			Msg("daily quota gone before dispatch, dropping")
		return
	}

	sessionID := m.sessions.SessionFor(userID)
	prompt := BuildPrompt(event)

	log.Info().
		Str("event_id", event.ID).
		Str("session_id", sessionID).
		Msg("requesting completion")
	metrics.RepliesAttempted.Inc()

	callCtx, cancel := context.WithTimeout(ctx, m.opts.CallTimeout)
	reply, err := m.completer.Complete(callCtx, sessionID, prompt)
	cancel()
	if err != nil {
		// No retry, no refund, no re-enqueue.
		metrics.CompletionFailures.Inc()
		log.Error().
			Err(err).
			Str("event_id", event.ID).
			Str("user_id", userID).
			Msg("completion call failed")
		return
	}

	content := TruncateReply(reply, m.opts.IntendedLimit, m.opts.HardLimit)

	task := models.ReplyTask{
		Type:           models.ReplyTaskType,
		ConversationID: event.Conversation(),
		ParentEventID:  event.ID,
		Content:        content,
	}

	queued, err := m.recorder.RecordReply(ctx, task)
	if err != nil {
		// Swallowed: the quota charge and session mutation stand.
		log.Error().
			Err(err).
			Str("conversation_id", task.ConversationID).
			Msg("failed to record reply task")
		return
	}
	if !queued {
		metrics.RepliesDuplicate.Inc()
		log.Info().
			Str("conversation_id", task.ConversationID).
			Msg("reply already queued for conversation")
		return
	}

	metrics.RepliesRecorded.Inc()
	log.Info().
		Str("event_id", event.ID).
		Str("conversation_id", task.ConversationID).
		Int("length", len(content)).
		Msg("reply task recorded")
}
