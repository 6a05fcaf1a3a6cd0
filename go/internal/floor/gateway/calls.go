package gateway

import (
	"sync"
	"time"

	"github.com/mcdev12/floorsync/go/internal/floor/validate"
)

// CallStatus tracks where a call is in its setup.
type CallStatus string

const (
	CallRinging CallStatus = "ringing"
	CallActive  CallStatus = "active"
)

// Call is a signaling session between two page roles of one room.
type Call struct {
	ID         string
	Company    string
	CallerID   string
	CallerRole validate.Role
	TargetRole validate.Role
	Status     CallStatus
	StartedAt  time.Time
}

// Counterpart returns the role on the other side of the call from the
// connection connID playing role.
func (c Call) Counterpart(connID string, role validate.Role) validate.Role {
	if connID == c.CallerID || (role == c.CallerRole && role != c.TargetRole) {
		return c.TargetRole
	}
	return c.CallerRole
}

type callKey struct {
	company string
	id      string
}

// CallRegistry remembers calls so that answers, candidates and hangups
// without an explicit target reach the right role.
type CallRegistry struct {
	mu    sync.Mutex
	calls map[callKey]*Call
}

func NewCallRegistry() *CallRegistry {
	return &CallRegistry{calls: make(map[callKey]*Call)}
}

// Register stores call unless one with the same ID exists in the company.
func (r *CallRegistry) Register(call Call) bool {
	r.mu.Lock()
	defer r.mu.Unlock()
	key := callKey{call.Company, call.ID}
	if _, ok := r.calls[key]; ok {
		return false
	}
	if call.Status == "" {
		call.Status = CallRinging
	}
	r.calls[key] = &call
	return true
}

func (r *CallRegistry) Get(company, id string) (Call, bool) {
	r.mu.Lock()
	defer r.mu.Unlock()
	c, ok := r.calls[callKey{company, id}]
	if !ok {
		return Call{}, false
	}
	return *c, true
}

// MarkActive flips a ringing call to active.
func (r *CallRegistry) MarkActive(company, id string) bool {
	r.mu.Lock()
	defer r.mu.Unlock()
	c, ok := r.calls[callKey{company, id}]
	if !ok {
		return false
	}
	c.Status = CallActive
	return true
}

func (r *CallRegistry) Remove(company, id string) (Call, bool) {
	r.mu.Lock()
	defer r.mu.Unlock()
	key := callKey{company, id}
	c, ok := r.calls[key]
	if !ok {
		return Call{}, false
	}
	delete(r.calls, key)
	return *c, true
}

// DropConnection removes every call placed by connID.
func (r *CallRegistry) DropConnection(connID string) []Call {
	r.mu.Lock()
	defer r.mu.Unlock()
	var out []Call
	for key, c := range r.calls {
		if c.CallerID == connID {
			out = append(out, *c)
			delete(r.calls, key)
		}
	}
	return out
}

// ExpireRinging removes calls still ringing after timeout.
func (r *CallRegistry) ExpireRinging(now time.Time, timeout time.Duration) []Call {
	r.mu.Lock()
	defer r.mu.Unlock()
	var out []Call
	for key, c := range r.calls {
		if c.Status == CallRinging && now.Sub(c.StartedAt) > timeout {
			out = append(out, *c)
			delete(r.calls, key)
		}
	}
	return out
}

func (r *CallRegistry) Len() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return len(r.calls)
}
