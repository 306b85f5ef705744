package bot

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/tagai-dao/tagclaw/pkg/models"
)

type fakeCompleter struct {
	mu    sync.Mutex
	calls int
	reply string
	err   error
}

func (f *fakeCompleter) Complete(ctx context.Context, sessionID, prompt string) (string, error) {
	f.mu.Lock()
	f.calls++
	f.mu.Unlock()
	if f.err != nil {
		return "", f.err
	}
	return f.reply, nil
}

func (f *fakeCompleter) Calls() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.calls
}

// fakeRecorder mimics the durable store's conversation-level uniqueness:
// the first insert per conversation wins, later ones report queued=false.
type fakeRecorder struct {
	mu    sync.Mutex
	tasks []models.ReplyTask
	seen  map[string]bool
	err   error
}

func newFakeRecorder() *fakeRecorder {
	return &fakeRecorder{seen: make(map[string]bool)}
}

func (f *fakeRecorder) RecordReply(ctx context.Context, task models.ReplyTask) (bool, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.err != nil {
		return false, f.err
	}
	if f.seen[task.ConversationID] {
		return false, nil
	}
	f.seen[task.ConversationID] = true
	f.tasks = append(f.tasks, task)
	return true, nil
}

func (f *fakeRecorder) Count() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return len(f.tasks)
}

func (f *fakeRecorder) Tasks() []models.ReplyTask {
	f.mu.Lock()
	defer f.mu.Unlock()
	out := make([]models.ReplyTask, len(f.tasks))
	copy(out, f.tasks)
	return out
}

func newTestManager(t *testing.T, clock *fakeClock, completer Completer, recorder TaskRecorder) *Manager {
	t.Helper()
	opts := DefaultOptions()
	opts.Timezone = time.UTC
	opts.CallTimeout = time.Second
	m := NewManager(opts, completer, recorder)
	m.quota.now = clock.Now
	m.quota.day = clock.Now().In(time.UTC).Format("2006-01-02")
	m.sessions.now = clock.Now
	return m
}

func waitFor(t *testing.T, cond func() bool, msg string) {
	t.Helper()
	require.Eventually(t, cond, 3*time.Second, 10*time.Millisecond, msg)
}

func TestManager_DuplicateEventSingleAdmission(t *testing.T) {
	clock := newFakeClock(time.Date(2025, 6, 1, 12, 0, 0, 0, time.UTC))
	completer := &fakeCompleter{reply: "hi there"}
	recorder := newFakeRecorder()
	m := newTestManager(t, clock, completer, recorder)

	e := ev("t1", "u1")
	m.OnEvent(e)
	m.OnEvent(e)

	waitFor(t, func() bool { return recorder.Count() == 1 }, "one task recorded")
	time.Sleep(50 * time.Millisecond)
	assert.Equal(t, 1, completer.Calls(), "one completion attempt per unique id")
	assert.Equal(t, 1, m.dedup.Len())
}

func TestManager_InvalidEventNotMarkedProcessed(t *testing.T) {
	clock := newFakeClock(time.Date(2025, 6, 1, 12, 0, 0, 0, time.UTC))
	completer := &fakeCompleter{reply: "hi"}
	recorder := newFakeRecorder()
	m := newTestManager(t, clock, completer, recorder)

	m.OnEvent(&models.Event{ID: "", AuthorID: "u1", Text: "no id"})
	m.OnEvent(&models.Event{ID: "t1", AuthorID: "", Text: "no author"})

	time.Sleep(50 * time.Millisecond)
	assert.Equal(t, 0, m.dedup.Len(), "validation failures never enter the dedup set")
	assert.Equal(t, 0, recorder.Count())
	assert.Equal(t, 0, m.quota.GlobalCount(), "no quota mutated on validation failure")
}

func TestManager_GlobalDailyCapScenario(t *testing.T) {
	clock := newFakeClock(time.Date(2025, 6, 1, 12, 0, 0, 0, time.UTC))
	completer := &fakeCompleter{reply: "reply"}
	recorder := newFakeRecorder()
	m := newTestManager(t, clock, completer, recorder)

	// 105 distinct users each send one qualifying event within a day:
	// exactly 100 replies are recorded, the rest drop at the global cap.
	for i := 0; i < 105; i++ {
		m.OnEvent(ev(fmt.Sprintf("t%d", i), fmt.Sprintf("u%d", i)))
	}

	waitFor(t, func() bool { return m.quota.GlobalCount() == 100 }, "global cap reached")
	waitFor(t, func() bool { return recorder.Count() == 100 }, "100 tasks recorded")
	time.Sleep(50 * time.Millisecond)
	assert.Equal(t, 100, recorder.Count(), "no task past the global cap")
	assert.Equal(t, 100, m.quota.GlobalCount())
}

func TestManager_MinuteBurstQueuesAndDrains(t *testing.T) {
	clock := newFakeClock(time.Date(2025, 6, 1, 12, 0, 0, 0, time.UTC))
	completer := &fakeCompleter{reply: "reply"}
	recorder := newFakeRecorder()
	m := newTestManager(t, clock, completer, recorder)

	// 15 events in a burst: 10 admitted immediately, 5 queued.
	for i := 0; i < 15; i++ {
		m.OnEvent(ev(fmt.Sprintf("t%d", i), "u1"))
	}

	waitFor(t, func() bool { return recorder.Count() == 10 }, "10 immediate replies")
	assert.Equal(t, 5, m.backlog.Len("u1"))

	// After the minute window expires a tick drains the backlog.
	clock.Advance(61 * time.Second)
	m.processQueues(context.Background())

	waitFor(t, func() bool { return recorder.Count() == 15 }, "backlog drained")
	assert.Equal(t, 0, m.backlog.Len("u1"))
}

func TestManager_PurgeOnDailyExhaustion(t *testing.T) {
	clock := newFakeClock(time.Date(2025, 6, 1, 12, 0, 0, 0, time.UTC))
	completer := &fakeCompleter{reply: "reply"}
	recorder := newFakeRecorder()

	opts := DefaultOptions()
	opts.Timezone = time.UTC
	opts.Limits.UserMinute = 0 // force every event into the backlog
	m := NewManager(opts, completer, recorder)
	m.quota.now = clock.Now
	m.quota.day = clock.Now().In(time.UTC).Format("2006-01-02")
	m.sessions.now = clock.Now

	for i := 0; i < 7; i++ {
		m.OnEvent(ev(fmt.Sprintf("t%d", i), "u1"))
	}
	require.Equal(t, 7, m.backlog.Len("u1"))

	// Exhaust u1's daily quota, then tick: the whole backlog is discarded.
	for i := 0; i < m.opts.Limits.UserDaily; i++ {
		m.quota.ChargeDaily("u1")
	}
	m.processQueues(context.Background())

	assert.Equal(t, 0, m.backlog.Len("u1"), "backlog purged on exhaustion")
	assert.Equal(t, 0, recorder.Count(), "purged events are never replied to")
}

func TestManager_CompletionFailureConsumesQuota(t *testing.T) {
	clock := newFakeClock(time.Date(2025, 6, 1, 12, 0, 0, 0, time.UTC))
	completer := &fakeCompleter{err: errors.New("upstream timeout")}
	recorder := newFakeRecorder()
	m := newTestManager(t, clock, completer, recorder)

	m.OnEvent(ev("t1", "u1"))

	waitFor(t, func() bool { return completer.Calls() == 1 }, "completion attempted")
	time.Sleep(50 * time.Millisecond)
	assert.Equal(t, 0, recorder.Count(), "no task persisted on failure")
	assert.Equal(t, 1, m.quota.UserCount("u1"), "daily charge stays consumed")
	assert.Equal(t, 1, m.quota.GlobalCount())
}

func TestManager_ConversationIdempotency(t *testing.T) {
	clock := newFakeClock(time.Date(2025, 6, 1, 12, 0, 0, 0, time.UTC))
	completer := &fakeCompleter{reply: "reply"}
	recorder := newFakeRecorder()
	m := newTestManager(t, clock, completer, recorder)

	// Two distinct events in the same conversation: both execute, only
	// one task lands; the duplicate outcome is benign.
	a := &models.Event{ID: "t1", AuthorID: "u1", Text: "hi", ConversationID: "conv-1"}
	b := &models.Event{ID: "t2", AuthorID: "u2", Text: "hello", ConversationID: "conv-1"}
	m.OnEvent(a)
	m.OnEvent(b)

	waitFor(t, func() bool { return completer.Calls() == 2 }, "both events executed")
	waitFor(t, func() bool { return m.quota.GlobalCount() == 2 }, "both charged")
	time.Sleep(50 * time.Millisecond)
	assert.Equal(t, 1, recorder.Count(), "one task per conversation")
}

func TestManager_PersistenceFailureSwallowed(t *testing.T) {
	clock := newFakeClock(time.Date(2025, 6, 1, 12, 0, 0, 0, time.UTC))
	completer := &fakeCompleter{reply: "reply"}
	recorder := newFakeRecorder()
	recorder.err = errors.New("connection refused")
	m := newTestManager(t, clock, completer, recorder)

	m.OnEvent(ev("t1", "u1"))

	waitFor(t, func() bool { return completer.Calls() == 1 }, "completion attempted")
	time.Sleep(50 * time.Millisecond)
	assert.Equal(t, 1, m.quota.UserCount("u1"), "charge not rolled back")
	assert.Equal(t, 0, m.backlog.Len("u1"), "event not re-enqueued")
}

func TestManager_ReplyTaskShape(t *testing.T) {
	clock := newFakeClock(time.Date(2025, 6, 1, 12, 0, 0, 0, time.UTC))
	completer := &fakeCompleter{reply: "first line\nsecond line"}
	recorder := newFakeRecorder()
	m := newTestManager(t, clock, completer, recorder)

	m.OnEvent(&models.Event{ID: "t1", AuthorID: "u1", Text: "hi", ConversationID: "conv-9"})

	waitFor(t, func() bool { return recorder.Count() == 1 }, "task recorded")
	task := recorder.Tasks()[0]
	assert.Equal(t, models.ReplyTaskType, task.Type)
	assert.Equal(t, "conv-9", task.ConversationID)
	assert.Equal(t, "t1", task.ParentEventID)
	assert.Equal(t, "first line", task.Content, "reply is cut to its first line")
}

// gateCompleter blocks every Complete call until the gate is closed,
// pinning the caller's per-user lock for the duration.
type gateCompleter struct {
	mu    sync.Mutex
	calls int
	gate  chan struct{}
}

func newGateCompleter() *gateCompleter {
	return &gateCompleter{gate: make(chan struct{})}
}

func (g *gateCompleter) Complete(ctx context.Context, sessionID, prompt string) (string, error) {
	g.mu.Lock()
	g.calls++
	g.mu.Unlock()
	select {
	case <-g.gate:
	case <-ctx.Done():
		return "", ctx.Err()
	}
	return "reply", nil
}

func (g *gateCompleter) Calls() int {
	g.mu.Lock()
	defer g.mu.Unlock()
	return g.calls
}

func TestManager_TickSkipsUserWithInFlightExecution(t *testing.T) {
	clock := newFakeClock(time.Date(2025, 6, 1, 12, 0, 0, 0, time.UTC))
	completer := newGateCompleter()
	recorder := newFakeRecorder()

	opts := DefaultOptions()
	opts.Timezone = time.UTC
	opts.Limits.UserMinute = 1
	m := NewManager(opts, completer, recorder)
	m.quota.now = clock.Now
	m.quota.day = clock.Now().In(time.UTC).Format("2006-01-02")
	m.sessions.now = clock.Now

	// First event takes the one minute slot and blocks inside the
	// completion call, holding u1's execution lock.
	m.OnEvent(ev("t1", "u1"))
	waitFor(t, func() bool { return completer.Calls() == 1 }, "first execution in flight")

	m.OnEvent(ev("t2", "u1"))
	m.OnEvent(ev("t3", "u1"))
	require.Equal(t, 2, m.backlog.Len("u1"))

	// The window has reset, so the minute tier would grant again, but
	// the tick must skip u1 while its execution is still running.
	clock.Advance(61 * time.Second)
	m.processQueues(context.Background())
	time.Sleep(50 * time.Millisecond)
	assert.Equal(t, 2, m.backlog.Len("u1"), "backlog untouched while the user is busy")
	assert.Equal(t, 1, completer.Calls(), "no concurrent execution for one user")
	assert.Equal(t, 0, recorder.Count())

	// Once the in-flight call finishes, the next tick drains one event
	// (the single refreshed minute slot).
	close(completer.gate)
	waitFor(t, func() bool { return recorder.Count() == 1 }, "blocked reply completed")

	clock.Advance(61 * time.Second)
	require.Eventually(t, func() bool {
		// The lock may still be mid-release right after the reply
		// lands, so tick until the drain gets through.
		m.processQueues(context.Background())
		return recorder.Count() == 2
	}, 3*time.Second, 20*time.Millisecond, "one queued event drained")
	time.Sleep(50 * time.Millisecond)
	assert.Equal(t, 1, m.backlog.Len("u1"), "drain stops when the minute slot is spent")
}

func TestManager_ConversationDefaultsToEventID(t *testing.T) {
	clock := newFakeClock(time.Date(2025, 6, 1, 12, 0, 0, 0, time.UTC))
	completer := &fakeCompleter{reply: "ok"}
	recorder := newFakeRecorder()
	m := newTestManager(t, clock, completer, recorder)

	m.OnEvent(ev("t42", "u1"))

	waitFor(t, func() bool { return recorder.Count() == 1 }, "task recorded")
	assert.Equal(t, "t42", recorder.Tasks()[0].ConversationID)
}
