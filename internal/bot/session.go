package bot

import (
	"fmt"
	"sync"
	"time"
)

type session struct {
	id        string
	createdAt time.Time
}

// SessionRegistry maps a user to a stable conversation session id. A
// session lives for at most ttl from creation; after that a fresh id is
// minted so the completion service treats the conversation as reset.
type SessionRegistry struct {
	mu       sync.Mutex
	ttl      time.Duration
	sessions map[string]*session
	now      func() time.Time
}

// NewSessionRegistry creates a registry with the given session TTL.
func NewSessionRegistry(ttl time.Duration) *SessionRegistry {
	return &SessionRegistry{
		ttl:      ttl,
		sessions: make(map[string]*session),
		now:      time.Now,
	}
}

// SessionFor returns userID's current session id, minting a new one when
// none exists or the TTL has elapsed. Ids embed the user id and creation
// time in milliseconds, so two users can never share a session.
func (r *SessionRegistry) SessionFor(userID string) string {
	r.mu.Lock()
	defer r.mu.Unlock()

	now := r.now()
	s := r.sessions[userID]
	if s == nil || now.Sub(s.createdAt) > r.ttl {
		s = &session{
			id:        fmt.Sprintf("u_%s_%d", userID, now.UnixMilli()),
			createdAt: now,
		}
		r.sessions[userID] = s
	}
	return s.id
}
