package bot

import (
	"strings"
	"testing"
	"time"
)

func TestSessionRegistry_StableWithinTTL(t *testing.T) {
	clock := newFakeClock(time.Date(2025, 6, 1, 12, 0, 0, 0, time.UTC))
	r := NewSessionRegistry(2 * time.Hour)
	r.now = clock.Now

	first := r.SessionFor("u1")
	if !strings.HasPrefix(first, "u_u1_") {
		t.Errorf("Unexpected session id format: %s", first)
	}

	clock.Advance(time.Hour)
	if got := r.SessionFor("u1"); got != first {
		t.Errorf("Expected stable session within TTL, got %s then %s", first, got)
	}
}

func TestSessionRegistry_RenewsAfterTTL(t *testing.T) {
	clock := newFakeClock(time.Date(2025, 6, 1, 12, 0, 0, 0, time.UTC))
	r := NewSessionRegistry(2 * time.Hour)
	r.now = clock.Now

	first := r.SessionFor("u1")

	// Exactly at the TTL the session is still valid.
	clock.Advance(2 * time.Hour)
	if got := r.SessionFor("u1"); got != first {
		t.Errorf("Expected session still valid at exactly the TTL, got %s", got)
	}

	clock.Advance(time.Millisecond)
	renewed := r.SessionFor("u1")
	if renewed == first {
		t.Error("Expected a fresh session id after the TTL elapsed")
	}
	if got := r.SessionFor("u1"); got != renewed {
		t.Errorf("Expected the renewed session to be stable, got %s", got)
	}
}

func TestSessionRegistry_DistinctUsersDistinctSessions(t *testing.T) {
	clock := newFakeClock(time.Date(2025, 6, 1, 12, 0, 0, 0, time.UTC))
	r := NewSessionRegistry(2 * time.Hour)
	r.now = clock.Now

	// Same instant, different users: ids embed the user id so they differ.
	a := r.SessionFor("alice")
	b := r.SessionFor("bob")
	if a == b {
		t.Errorf("Two users received the same session id: %s", a)
	}
}
