package bot

import "sync"

// Deduplicator remembers which event ids have already been admitted.
// Membership is permanent for the process lifetime: the upstream feed is
// not expected to redeliver after a long gap, so a restart losing the set
// is an accepted risk.
type Deduplicator struct {
	mu   sync.Mutex
	seen map[string]struct{}
}

// NewDeduplicator creates an empty dedup set.
func NewDeduplicator() *Deduplicator {
	return &Deduplicator{seen: make(map[string]struct{})}
}

// Admit records eventID and returns true exactly once per id. A repeated
// id returns false and must not be processed further.
func (d *Deduplicator) Admit(eventID string) bool {
	d.mu.Lock()
	defer d.mu.Unlock()

	if _, ok := d.seen[eventID]; ok {
		return false
	}
	d.seen[eventID] = struct{}{}
	return true
}

// Len returns the number of admitted ids.
func (d *Deduplicator) Len() int {
	d.mu.Lock()
	defer d.mu.Unlock()
	return len(d.seen)
}
