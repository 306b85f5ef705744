package bot

import (
	"sync"

	"github.com/tagai-dao/tagclaw/pkg/models"
)

// BacklogQueue buffers events that could not be admitted immediately,
// one FIFO per user. Entries leave a queue only by a successful drain or
// an explicit purge; the queue is never reordered.
type BacklogQueue struct {
	mu     sync.Mutex
	queues map[string][]*models.Event
}

// NewBacklogQueue creates an empty backlog.
func NewBacklogQueue() *BacklogQueue {
	return &BacklogQueue{queues: make(map[string][]*models.Event)}
}

// Enqueue appends event to userID's queue.
func (b *BacklogQueue) Enqueue(userID string, event *models.Event) {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.queues[userID] = append(b.queues[userID], event)
}

// PeekUser returns a copy of userID's pending events in arrival order.
func (b *BacklogQueue) PeekUser(userID string) []*models.Event {
	b.mu.Lock()
	defer b.mu.Unlock()
	q := b.queues[userID]
	out := make([]*models.Event, len(q))
	copy(out, q)
	return out
}

// Len returns the number of pending events for userID.
func (b *BacklogQueue) Len(userID string) int {
	b.mu.Lock()
	defer b.mu.Unlock()
	return len(b.queues[userID])
}

// Users returns the ids of all users with a non-empty backlog.
func (b *BacklogQueue) Users() []string {
	b.mu.Lock()
	defer b.mu.Unlock()
	users := make([]string, 0, len(b.queues))
	for id, q := range b.queues {
		if len(q) > 0 {
			users = append(users, id)
		}
	}
	return users
}

// Purge drops every pending event for userID and returns how many were
// discarded. Used when the user's daily quota is exhausted for the day.
func (b *BacklogQueue) Purge(userID string) int {
	b.mu.Lock()
	defer b.mu.Unlock()
	n := len(b.queues[userID])
	delete(b.queues, userID)
	return n
}

// pop removes and returns the head of userID's queue, or nil when empty.
func (b *BacklogQueue) pop(userID string) *models.Event {
	b.mu.Lock()
	defer b.mu.Unlock()
	q := b.queues[userID]
	if len(q) == 0 {
		return nil
	}
	head := q[0]
	if len(q) == 1 {
		delete(b.queues, userID)
	} else {
		b.queues[userID] = q[1:]
	}
	return head
}

// DrainWhileAdmissible pops and handles queued events for userID while
// admitFn keeps granting. admitFn runs before each pop, so a consumed
// admission slot always corresponds to a popped event. handleFn may
// block; the remainder of the queue stays put for the next tick once
// admitFn refuses.
func (b *BacklogQueue) DrainWhileAdmissible(userID string, admitFn func(string) bool, handleFn func(*models.Event)) {
	for b.Len(userID) > 0 {
		if !admitFn(userID) {
			return
		}
		event := b.pop(userID)
		if event == nil {
			return
		}
		handleFn(event)
	}
}
