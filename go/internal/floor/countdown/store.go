// Package countdown keeps the per-company table countdowns shared by every
// station of a room. Remaining time is always derived from the start instant
// and the duration, never stored.
package countdown

import (
	"errors"
	"sort"
	"strconv"
	"sync"
	"time"

	"github.com/mcdev12/floorsync/go/internal/floor/validate"
)

var (
	ErrInvalidCompany     = errors.New("invalid company name")
	ErrInvalidTable       = errors.New("invalid table number")
	ErrInvalidDuration    = errors.New("invalid countdown duration")
	ErrInvalidDestination = errors.New("invalid destination")
)

// Countdown is a copy of a stored record.
type Countdown struct {
	Company      string
	Table        string
	StartedAt    time.Time
	Duration     time.Duration
	Destinations []validate.Role
}

// EndsAt is the instant the countdown reaches zero.
func (c Countdown) EndsAt() time.Time {
	return c.StartedAt.Add(c.Duration)
}

// Remaining is max(0, duration - elapsed), truncated to whole seconds.
func (c Countdown) Remaining(now time.Time) time.Duration {
	left := c.EndsAt().Sub(now)
	if left <= 0 {
		return 0
	}
	return left.Truncate(time.Second)
}

// RemainingSeconds is Remaining expressed in whole seconds.
func (c Countdown) RemainingSeconds(now time.Time) int {
	return int(c.Remaining(now) / time.Second)
}

// Live reports whether the countdown still has time left at now.
func (c Countdown) Live(now time.Time) bool {
	return now.Before(c.EndsAt())
}

type record struct {
	startedAt    time.Time
	duration     time.Duration
	destinations []validate.Role
}

func (r *record) live(now time.Time) bool {
	return now.Before(r.startedAt.Add(r.duration))
}

func (r *record) expiredBeyond(now time.Time, grace time.Duration) bool {
	return now.Sub(r.startedAt.Add(r.duration)) > grace
}

func (r *record) hasDestination(role validate.Role) bool {
	for _, d := range r.destinations {
		if d == role {
			return true
		}
	}
	return false
}

// Store is the keyed countdown map. Safe for concurrent use.
type Store struct {
	mu        sync.Mutex
	grace     time.Duration
	byCompany map[string]map[string]*record
}

// NewStore creates an empty store. grace is how long an expired record
// stays visible before snapshots evict it.
func NewStore(grace time.Duration) *Store {
	return &Store{
		grace:     grace,
		byCompany: make(map[string]map[string]*record),
	}
}

// Grace returns the eviction grace used by snapshots.
func (s *Store) Grace() time.Duration {
	return s.grace
}

// Start begins or restarts the countdown for (company, table). A live
// countdown keeps its destinations and gains dest; an absent or finished
// one is replaced. Either way start and duration reset to (now, seconds).
// The merged destination set is returned in insertion order.
func (s *Store) Start(company, table string, seconds int, dest validate.Role, now time.Time) ([]validate.Role, error) {
	if !validate.IsValidCompanyName(company) {
		return nil, ErrInvalidCompany
	}
	table, ok := validate.ParseTableNumber(table)
	if !ok {
		return nil, ErrInvalidTable
	}
	if !validate.IsValidDuration(seconds) {
		return nil, ErrInvalidDuration
	}
	if !validate.IsValidPageRole(string(dest)) {
		return nil, ErrInvalidDestination
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	tables, ok := s.byCompany[company]
	if !ok {
		tables = make(map[string]*record)
		s.byCompany[company] = tables
	}

	rec, exists := tables[table]
	if !exists || !rec.live(now) {
		rec = &record{}
		tables[table] = rec
	}
	rec.startedAt = now
	rec.duration = time.Duration(seconds) * time.Second
	if !rec.hasDestination(dest) {
		rec.destinations = append(rec.destinations, dest)
	}

	return append([]validate.Role(nil), rec.destinations...), nil
}

// Delete removes (company, table). Returns false if nothing was stored.
func (s *Store) Delete(company, table string) bool {
	if t, ok := validate.ParseTableNumber(table); ok {
		table = t
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	tables, ok := s.byCompany[company]
	if !ok {
		return false
	}
	if _, ok := tables[table]; !ok {
		return false
	}
	delete(tables, table)
	if len(tables) == 0 {
		delete(s.byCompany, company)
	}
	return true
}

// Lookup returns the record for (company, table) if it has not been
// expired for longer than the grace window.
func (s *Store) Lookup(company, table string, now time.Time) (Countdown, bool) {
	if t, ok := validate.ParseTableNumber(table); ok {
		table = t
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	rec, ok := s.byCompany[company][table]
	if !ok || rec.expiredBeyond(now, s.grace) {
		return Countdown{}, false
	}
	return toCountdown(company, table, rec), true
}

// SnapshotFor returns every live countdown of company ordered by table.
// Records expired beyond the grace window are evicted on the way.
func (s *Store) SnapshotFor(company string, now time.Time) []Countdown {
	return s.collect(company, now, false)
}

// List is SnapshotFor that also includes records still inside the grace
// window with zero remaining.
func (s *Store) List(company string, now time.Time) []Countdown {
	return s.collect(company, now, true)
}

func (s *Store) collect(company string, now time.Time, includeGrace bool) []Countdown {
	s.mu.Lock()
	defer s.mu.Unlock()

	tables, ok := s.byCompany[company]
	if !ok {
		return nil
	}

	out := make([]Countdown, 0, len(tables))
	for table, rec := range tables {
		if rec.expiredBeyond(now, s.grace) {
			delete(tables, table)
			continue
		}
		if !includeGrace && !rec.live(now) {
			continue
		}
		out = append(out, toCountdown(company, table, rec))
	}
	if len(tables) == 0 {
		delete(s.byCompany, company)
	}

	sort.Slice(out, func(i, j int) bool {
		a, _ := strconv.Atoi(out[i].Table)
		b, _ := strconv.Atoi(out[j].Table)
		return a < b
	})
	return out
}

// SweepExpired removes every record whose remaining time has been zero for
// longer than grace and returns how many were removed.
func (s *Store) SweepExpired(now time.Time, grace time.Duration) int {
	s.mu.Lock()
	defer s.mu.Unlock()

	removed := 0
	for company, tables := range s.byCompany {
		for table, rec := range tables {
			if rec.expiredBeyond(now, grace) {
				delete(tables, table)
				removed++
			}
		}
		if len(tables) == 0 {
			delete(s.byCompany, company)
		}
	}
	return removed
}

// Stats returns the number of companies and records held.
func (s *Store) Stats() (companies, countdowns int) {
	s.mu.Lock()
	defer s.mu.Unlock()
	for _, tables := range s.byCompany {
		countdowns += len(tables)
	}
	return len(s.byCompany), countdowns
}

func toCountdown(company, table string, rec *record) Countdown {
	return Countdown{
		Company:      company,
		Table:        table,
		StartedAt:    rec.startedAt,
		Duration:     rec.duration,
		Destinations: append([]validate.Role(nil), rec.destinations...),
	}
}
