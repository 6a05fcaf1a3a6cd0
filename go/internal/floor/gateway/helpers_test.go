package gateway

import (
	"encoding/json"
	"sync"
	"testing"
	"time"

	"github.com/jonboulle/clockwork"
	"github.com/stretchr/testify/require"

	"github.com/mcdev12/floorsync/go/internal/floor/journal"
)

var serviceEpoch = time.Date(2024, 6, 1, 19, 0, 0, 0, time.UTC)

type captureFeed struct {
	mu     sync.Mutex
	events []journal.Event
}

func (f *captureFeed) Emit(e journal.Event) {
	f.mu.Lock()
	f.events = append(f.events, e)
	f.mu.Unlock()
}

func (f *captureFeed) types() []journal.EventType {
	f.mu.Lock()
	defer f.mu.Unlock()
	out := make([]journal.EventType, len(f.events))
	for i, e := range f.events {
		out[i] = e.Type
	}
	return out
}

type harness struct {
	t     *testing.T
	clock *clockwork.FakeClock
	svc   *Service
	feed  *captureFeed
}

func newHarness(t *testing.T, opts ...func(*Config)) *harness {
	t.Helper()
	clock := clockwork.NewFakeClockAt(serviceEpoch)
	cfg := DefaultConfig()
	for _, opt := range opts {
		opt(&cfg)
	}
	feed := &captureFeed{}
	svc := NewService(cfg, Dependencies{Clock: clock, Feed: feed})
	return &harness{t: t, clock: clock, svc: svc, feed: feed}
}

func (h *harness) connect() *Connection {
	return h.svc.Manager().NewConnection(nil, "127.0.0.1:40000")
}

func (h *harness) send(c *Connection, raw string) {
	h.svc.Router().Handle(c, []byte(raw), h.clock.Now())
}

// join puts c in company (and on page when set) and discards the replies.
func (h *harness) join(c *Connection, company, page string) {
	h.t.Helper()
	h.send(c, `{"action":"joinRoom","companyName":"`+company+`"}`)
	if page != "" {
		h.send(c, `{"action":"joinPage","pageType":"`+page+`"}`)
	}
	drain(h.t, c)
}

type frame map[string]any

func (f frame) action() string {
	s, _ := f["action"].(string)
	return s
}

// drain returns every frame queued for c without blocking.
func drain(t *testing.T, c *Connection) []frame {
	t.Helper()
	var out []frame
	for {
		select {
		case data := <-c.Outbound():
			var f frame
			require.NoError(t, json.Unmarshal(data, &f), string(data))
			out = append(out, f)
		default:
			return out
		}
	}
}

func actionsOf(frames []frame) []string {
	out := make([]string, len(frames))
	for i, f := range frames {
		out[i] = f.action()
	}
	return out
}

func framesWithAction(frames []frame, action string) []frame {
	var out []frame
	for _, f := range frames {
		if f.action() == action {
			out = append(out, f)
		}
	}
	return out
}
