package ratelimit

import (
	"encoding/json"
	"net"
	"net/http"
	"sync"
	"time"

	"github.com/jonboulle/clockwork"
	"golang.org/x/time/rate"
)

type keyLimiter struct {
	lim *rate.Limiter
	ts  time.Time
}

// HTTPLimiter is a token bucket per client IP for the REST endpoints.
type HTTPLimiter struct {
	mu    sync.Mutex
	m     map[string]*keyLimiter
	r     rate.Limit
	b     int
	ttl   time.Duration
	clock clockwork.Clock
}

// NewHTTPLimiter creates a limiter allowing r requests per second with burst b.
func NewHTTPLimiter(r rate.Limit, b int, ttl time.Duration, clock clockwork.Clock) *HTTPLimiter {
	if clock == nil {
		clock = clockwork.NewRealClock()
	}
	return &HTTPLimiter{m: make(map[string]*keyLimiter), r: r, b: b, ttl: ttl, clock: clock}
}

func (h *HTTPLimiter) get(key string, now time.Time) *rate.Limiter {
	h.mu.Lock()
	defer h.mu.Unlock()
	kl, ok := h.m[key]
	if ok {
		kl.ts = now
		return kl.lim
	}
	lim := rate.NewLimiter(h.r, h.b)
	h.m[key] = &keyLimiter{lim: lim, ts: now}
	return lim
}

// Sweep drops buckets not used within ttl.
func (h *HTTPLimiter) Sweep(now time.Time) int {
	h.mu.Lock()
	defer h.mu.Unlock()
	removed := 0
	for k, v := range h.m {
		if now.Sub(v.ts) > h.ttl {
			delete(h.m, k)
			removed++
		}
	}
	return removed
}

// Middleware rejects requests over budget with 429 and a RATE_LIMIT body.
func (h *HTTPLimiter) Middleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		now := h.clock.Now()
		if !h.get(clientIP(r.RemoteAddr), now).AllowN(now, 1) {
			w.Header().Set("Content-Type", "application/json")
			w.WriteHeader(http.StatusTooManyRequests)
			_ = json.NewEncoder(w).Encode(map[string]any{
				"success": false,
				"error":   "too many requests",
				"code":    "RATE_LIMIT",
			})
			return
		}
		next.ServeHTTP(w, r)
	})
}

func clientIP(remote string) string {
	host, _, err := net.SplitHostPort(remote)
	if err != nil {
		return remote
	}
	return host
}
