package main

import (
	"context"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/mcdev12/floorsync/go/internal/floor/config"
	"github.com/mcdev12/floorsync/go/internal/floor/gateway"
)

func TestRelayConfig(t *testing.T) {
	cfg := config.Default()
	cfg.Limits.MaxControlBytes = 2000
	cfg.Countdowns.Grace = 30 * time.Second
	cfg.Liveness.JoinTimeout = 20 * time.Second
	cfg.WSPath = "/socket"

	rc := relayConfig(&cfg)
	assert.Equal(t, 2000, rc.RouterConfig.MaxControlBytes)
	assert.Equal(t, 30*time.Second, rc.CountdownGrace)
	assert.Equal(t, 20*time.Second, rc.ConnectionConfig.JoinTimeout)
	assert.Equal(t, "/socket", rc.WSPath)
	assert.Equal(t, 10, rc.RateLimit.MaxActions)
	assert.Greater(t, rc.ConnectionConfig.MaxMessageSize, int64(cfg.Limits.MaxAudioBytes))
}

func TestOriginChecker(t *testing.T) {
	req := func(origin string) *http.Request {
		r := httptest.NewRequest(http.MethodGet, "/ws", nil)
		if origin != "" {
			r.Header.Set("Origin", origin)
		}
		return r
	}

	wildcard := originChecker([]string{"*"})
	assert.True(t, wildcard(req("https://evil.example")))

	strict := originChecker([]string{"https://pos.example"})
	assert.True(t, strict(req("https://pos.example")))
	assert.True(t, strict(req("")))
	assert.False(t, strict(req("https://evil.example")))
}

func TestSetupFeedDisabled(t *testing.T) {
	cfg := config.Default()
	feed, err := setupFeed(context.Background(), &cfg)
	require.NoError(t, err)
	assert.Nil(t, feed)
}

func TestServerRoutes(t *testing.T) {
	cfg := config.Default()
	cfg.HTTP.Burst = 2
	cfg.HTTP.RequestsPerSecond = 0.001
	relay := gateway.NewService(relayConfig(&cfg), gateway.Dependencies{})
	srv := setupServer(&cfg, relay, gateway.NewPrometheusMetrics())

	get := func(path string) int {
		rec := httptest.NewRecorder()
		srv.Handler.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, path, nil))
		return rec.Code
	}

	assert.Equal(t, http.StatusOK, get("/health"))
	assert.Equal(t, http.StatusOK, get("/status"))
	assert.Equal(t, http.StatusOK, get("/metrics"))
	assert.Equal(t, http.StatusOK, get("/ws/stats"))

	assert.Equal(t, http.StatusOK, get("/api/countdowns?company=Roma"))
	assert.Equal(t, http.StatusBadRequest, get("/api/countdowns"))
	assert.Equal(t, http.StatusTooManyRequests, get("/api/countdowns?company=Roma"))
	assert.Equal(t, http.StatusOK, get("/status"), "only /api is rate limited")

	rec := httptest.NewRecorder()
	srv.Handler.ServeHTTP(rec, httptest.NewRequest(http.MethodPost, "/api/speech-to-text", nil))
	assert.Equal(t, http.StatusTooManyRequests, rec.Code)
}
