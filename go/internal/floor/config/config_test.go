package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func writeConfig(t *testing.T, body string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "floorsync.yaml")
	require.NoError(t, os.WriteFile(path, []byte(body), 0o600))
	return path
}

func TestDefaultIsValid(t *testing.T) {
	cfg := Default()
	require.NoError(t, cfg.Validate())
	assert.Equal(t, 8080, cfg.Port)
	assert.Equal(t, 40*time.Second, cfg.Countdowns.Grace)
	assert.Equal(t, 10, cfg.Limits.ActionsPerWindow)
	assert.False(t, cfg.FeedEnabled())
	assert.True(t, cfg.IsDevelopment())
}

func TestLoadFile(t *testing.T) {
	path := writeConfig(t, `
port: 9090
env: production
limits:
  max_control_bytes: 2000
  window: 30s
liveness:
  nudge_after: 20s
  timeout: 40s
countdowns:
  grace: 30s
feed:
  nats_url: nats://localhost:4222
`)

	cfg, err := LoadFile(path)
	require.NoError(t, err)
	assert.Equal(t, 9090, cfg.Port)
	assert.Equal(t, 2000, cfg.Limits.MaxControlBytes)
	assert.Equal(t, 30*time.Second, cfg.Limits.Window)
	assert.Equal(t, 40*time.Second, cfg.Liveness.Timeout)
	assert.Equal(t, 30*time.Second, cfg.Countdowns.Grace)
	assert.Equal(t, 10<<20, cfg.Limits.MaxAudioBytes, "unset keys keep their defaults")
	assert.True(t, cfg.FeedEnabled())
	assert.False(t, cfg.IsDevelopment())
}

func TestLoadEnvOverridesFile(t *testing.T) {
	path := writeConfig(t, "port: 9090\n")
	t.Setenv(PathEnv, path)
	t.Setenv("GATEWAY_PORT", "7070")
	t.Setenv("ALLOWED_ORIGINS", "https://a.example, https://b.example")
	t.Setenv("JOIN_TIMEOUT", "10")
	t.Setenv("COUNTDOWN_GRACE", "45s")
	t.Setenv("JOURNAL_ENABLED", "true")
	t.Setenv("STT_URL", "http://stt.local")

	cfg, err := Load()
	require.NoError(t, err)
	assert.Equal(t, 7070, cfg.Port)
	assert.Equal(t, []string{"https://a.example", "https://b.example"}, cfg.AllowedOrigins)
	assert.Equal(t, 10*time.Second, cfg.Liveness.JoinTimeout)
	assert.Equal(t, 45*time.Second, cfg.Countdowns.Grace)
	assert.True(t, cfg.Feed.JournalEnabled)
	assert.Equal(t, "http://stt.local", cfg.STT.URL)
}

func TestLoadIgnoresMalformedEnv(t *testing.T) {
	t.Setenv(PathEnv, "")
	t.Setenv("GATEWAY_PORT", "eighty")
	t.Setenv("RING_TIMEOUT", "soon")

	cfg, err := Load()
	require.NoError(t, err)
	assert.Equal(t, 8080, cfg.Port)
	assert.Equal(t, 30*time.Second, cfg.Calls.RingTimeout)
}

func TestLoadErrors(t *testing.T) {
	_, err := LoadFile(filepath.Join(t.TempDir(), "missing.yaml"))
	assert.Error(t, err)

	_, err = LoadFile(writeConfig(t, "port: [1, 2"))
	assert.Error(t, err)
}

func TestValidate(t *testing.T) {
	tests := []struct {
		name   string
		mutate func(*Config)
	}{
		{"port", func(c *Config) { c.Port = 0 }},
		{"ws path", func(c *Config) { c.WSPath = "ws" }},
		{"control above audio", func(c *Config) { c.Limits.MaxControlBytes = c.Limits.MaxAudioBytes + 1 }},
		{"window", func(c *Config) { c.Limits.Window = 0 }},
		{"nudge after timeout", func(c *Config) { c.Liveness.NudgeAfter = c.Liveness.Timeout }},
		{"negative grace", func(c *Config) { c.Countdowns.Grace = -time.Second }},
		{"ring timeout", func(c *Config) { c.Calls.RingTimeout = 0 }},
		{"http rate", func(c *Config) { c.HTTP.Burst = 0 }},
		{"feed buffer", func(c *Config) { c.Feed.BufferSize = 0 }},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg := Default()
			tt.mutate(&cfg)
			assert.Error(t, cfg.Validate())
		})
	}
}
