// Package ratelimit enforces per-connection action budgets for the relay.
//
// Two budgets are tracked per connection: a fixed window over "qualifying"
// actions (countdown and voice operations) and a burst guard over every
// counted message. A rejected message consumes neither budget.
package ratelimit

import (
	"sync"
	"time"
)

// Config holds the budgets applied to each connection.
type Config struct {
	MaxActions int           // qualifying actions allowed per window
	Window     time.Duration // fixed window opened by the first qualifying action
	BurstSize  int           // messages allowed inside any BurstSpan
	BurstSpan  time.Duration
	RecordTTL  time.Duration // idle records older than this are swept
}

// DefaultConfig returns 10 actions per minute with a 5-per-400ms burst guard.
func DefaultConfig() Config {
	return Config{
		MaxActions: 10,
		Window:     60 * time.Second,
		BurstSize:  5,
		BurstSpan:  400 * time.Millisecond,
		RecordTTL:  5 * time.Minute,
	}
}

// Decision is the outcome of a limiter check.
type Decision int

const (
	Allowed Decision = iota
	WindowExceeded
	BurstExceeded
)

func (d Decision) String() string {
	switch d {
	case Allowed:
		return "allowed"
	case WindowExceeded:
		return "window_exceeded"
	case BurstExceeded:
		return "burst_exceeded"
	default:
		return "unknown"
	}
}

type record struct {
	windowStart time.Time
	count       int
	recent      []time.Time
	lastSeen    time.Time
}

// Limiter tracks budgets keyed by connection ID. Safe for concurrent use.
type Limiter struct {
	mu      sync.Mutex
	cfg     Config
	records map[string]*record
}

// New creates a limiter with the given budgets.
func New(cfg Config) *Limiter {
	return &Limiter{
		cfg:     cfg,
		records: make(map[string]*record),
	}
}

// CheckAndConsume counts one qualifying action for connID at now and
// reports whether it is allowed.
func (l *Limiter) CheckAndConsume(connID string, now time.Time) bool {
	return l.Allow(connID, now, true) == Allowed
}

// Allow checks the burst guard and, when qualifying is set, the fixed
// window. Budgets are only consumed when the result is Allowed.
func (l *Limiter) Allow(connID string, now time.Time, qualifying bool) Decision {
	l.mu.Lock()
	defer l.mu.Unlock()

	rec, ok := l.records[connID]
	if !ok {
		rec = &record{}
		l.records[connID] = rec
	}
	rec.lastSeen = now

	if l.cfg.BurstSize > 0 && l.burstCount(rec, now) >= l.cfg.BurstSize {
		return BurstExceeded
	}

	if qualifying {
		if rec.windowStart.IsZero() || now.Sub(rec.windowStart) >= l.cfg.Window {
			rec.windowStart = now
			rec.count = 0
		}
		if rec.count >= l.cfg.MaxActions {
			return WindowExceeded
		}
		rec.count++
	}

	if l.cfg.BurstSize > 0 {
		rec.recent = append(rec.recent, now)
		if len(rec.recent) > l.cfg.BurstSize {
			rec.recent = rec.recent[len(rec.recent)-l.cfg.BurstSize:]
		}
	}
	return Allowed
}

func (l *Limiter) burstCount(rec *record, now time.Time) int {
	n := 0
	for _, ts := range rec.recent {
		if now.Sub(ts) < l.cfg.BurstSpan {
			n++
		}
	}
	return n
}

// Forget drops all state for connID. Called on connection teardown.
func (l *Limiter) Forget(connID string) {
	l.mu.Lock()
	delete(l.records, connID)
	l.mu.Unlock()
}

// Sweep removes records idle for longer than RecordTTL and returns how many
// were removed.
func (l *Limiter) Sweep(now time.Time) int {
	l.mu.Lock()
	defer l.mu.Unlock()

	removed := 0
	for id, rec := range l.records {
		if now.Sub(rec.lastSeen) > l.cfg.RecordTTL {
			delete(l.records, id)
			removed++
		}
	}
	return removed
}

// Len returns the number of tracked connections.
func (l *Limiter) Len() int {
	l.mu.Lock()
	defer l.mu.Unlock()
	return len(l.records)
}
