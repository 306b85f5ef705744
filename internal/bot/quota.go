package bot

import (
	"sync"
	"time"
)

// QuotaLimits are the fixed policy thresholds for the three tiers.
type QuotaLimits struct {
	GlobalDaily  int
	UserDaily    int
	UserMinute   int
	MinuteWindow time.Duration
}

// DefaultQuotaLimits mirrors the production policy: 100 replies per day
// globally, 20 per user per day, 10 per user per minute.
func DefaultQuotaLimits() QuotaLimits {
	return QuotaLimits{
		GlobalDaily:  100,
		UserDaily:    20,
		UserMinute:   10,
		MinuteWindow: time.Minute,
	}
}

type minuteWindow struct {
	windowStart time.Time
	count       int
}

// QuotaLedger tracks the tiered counters: one global daily counter, one
// per-user daily counter, one per-user minute window. Daily counters roll
// lazily when the calendar day (in loc) changes; there is no reset timer.
//
// Charging is optimistic and never refunded: the minute slot is consumed
// the moment TryConsumeMinute passes, while the daily charge is applied
// separately at dispatch time via ChargeDaily.
type QuotaLedger struct {
	mu     sync.Mutex
	limits QuotaLimits
	loc    *time.Location

	day         string
	globalCount int
	userCounts  map[string]int

	minutes map[string]*minuteWindow

	now func() time.Time
}

// NewQuotaLedger creates a ledger. loc determines which calendar day the
// daily tier resets on; nil means the host's local day.
func NewQuotaLedger(limits QuotaLimits, loc *time.Location) *QuotaLedger {
	if loc == nil {
		loc = time.Local
	}
	l := &QuotaLedger{
		limits:     limits,
		loc:        loc,
		userCounts: make(map[string]int),
		minutes:    make(map[string]*minuteWindow),
		now:        time.Now,
	}
	l.day = l.now().In(loc).Format("2006-01-02")
	return l
}

// rollDay resets the daily tier when the calendar day has changed.
// Caller holds l.mu.
func (l *QuotaLedger) rollDay(now time.Time) {
	today := now.In(l.loc).Format("2006-01-02")
	if l.day != today {
		l.day = today
		l.globalCount = 0
		l.userCounts = make(map[string]int)
	}
}

// CheckDaily reports whether userID still has daily quota, without
// charging. Rolls the day first if needed.
func (l *QuotaLedger) CheckDaily(userID string) bool {
	l.mu.Lock()
	defer l.mu.Unlock()

	l.rollDay(l.now())
	if l.globalCount >= l.limits.GlobalDaily {
		return false
	}
	return l.userCounts[userID] < l.limits.UserDaily
}

// ChargeDaily applies the daily charge for one dispatched reply. Returns
// false without charging if either daily cap is already reached; the
// caller must treat that as a silent bail-out.
func (l *QuotaLedger) ChargeDaily(userID string) bool {
	l.mu.Lock()
	defer l.mu.Unlock()

	l.rollDay(l.now())
	if l.globalCount >= l.limits.GlobalDaily {
		return false
	}
	if l.userCounts[userID] >= l.limits.UserDaily {
		return false
	}
	l.globalCount++
	l.userCounts[userID]++
	return true
}

// TryConsumeMinute checks the per-user minute window and, when the check
// passes, consumes one slot immediately. The window is reset-on-check: an
// expired window is replaced with a fresh one before the count is
// evaluated, so bursts straddling a boundary are not smoothed. A consumed
// slot is never given back, even if the reply later fails.
func (l *QuotaLedger) TryConsumeMinute(userID string) bool {
	l.mu.Lock()
	defer l.mu.Unlock()

	now := l.now()
	w := l.minutes[userID]
	if w == nil || now.Sub(w.windowStart) > l.limits.MinuteWindow {
		w = &minuteWindow{windowStart: now}
		l.minutes[userID] = w
	}

	if w.count < l.limits.UserMinute {
		w.count++
		return true
	}
	return false
}

// GlobalExhausted reports whether the global daily cap is reached.
func (l *QuotaLedger) GlobalExhausted() bool {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.rollDay(l.now())
	return l.globalCount >= l.limits.GlobalDaily
}

// GlobalCount returns the global daily counter, for observability.
func (l *QuotaLedger) GlobalCount() int {
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.globalCount
}

// UserCount returns userID's daily counter, for observability.
func (l *QuotaLedger) UserCount(userID string) int {
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.userCounts[userID]
}
