// Package config loads relay settings from an optional YAML file overlaid
// by environment variables.
package config

import (
	"errors"
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"

	"gopkg.in/yaml.v3"
)

// PathEnv names the variable holding the optional YAML file path.
const PathEnv = "FLOORSYNC_CONFIG"

type Config struct {
	Env            string   `yaml:"env"`
	Port           int      `yaml:"port"`
	WSPath         string   `yaml:"ws_path"`
	LogLevel       string   `yaml:"log_level"`
	AllowedOrigins []string `yaml:"allowed_origins"`
	ErrorFrames    bool     `yaml:"error_frames"`

	Limits     LimitsConfig     `yaml:"limits"`
	Liveness   LivenessConfig   `yaml:"liveness"`
	Countdowns CountdownsConfig `yaml:"countdowns"`
	Calls      CallsConfig      `yaml:"calls"`
	HTTP       HTTPConfig       `yaml:"http"`
	Feed       FeedConfig       `yaml:"feed"`
	STT        STTConfig        `yaml:"speech_to_text"`
}

type LimitsConfig struct {
	MaxControlBytes  int           `yaml:"max_control_bytes"`
	MaxAudioBytes    int           `yaml:"max_audio_bytes"`
	ActionsPerWindow int           `yaml:"actions_per_window"`
	Window           time.Duration `yaml:"window"`
	BurstSize        int           `yaml:"burst_size"`
	BurstInterval    time.Duration `yaml:"burst_interval"`
	RecordGrace      time.Duration `yaml:"record_grace"`
}

type LivenessConfig struct {
	PingInterval  time.Duration `yaml:"ping_interval"`
	NudgeAfter    time.Duration `yaml:"nudge_after"`
	Timeout       time.Duration `yaml:"timeout"`
	SweepInterval time.Duration `yaml:"sweep_interval"`
	JoinTimeout   time.Duration `yaml:"join_timeout"`
}

type CountdownsConfig struct {
	Grace         time.Duration `yaml:"grace"`
	SweepInterval time.Duration `yaml:"sweep_interval"`
}

type CallsConfig struct {
	RingTimeout   time.Duration `yaml:"ring_timeout"`
	SweepInterval time.Duration `yaml:"sweep_interval"`
}

// HTTPConfig bounds the per-client request rate on the REST surface.
type HTTPConfig struct {
	RequestsPerSecond float64       `yaml:"requests_per_second"`
	Burst             int           `yaml:"burst"`
	ClientTTL         time.Duration `yaml:"client_ttl"`
}

// FeedConfig selects where relay events are published. An empty NATSURL
// and a disabled journal leave the feed unconfigured.
type FeedConfig struct {
	BufferSize     int           `yaml:"buffer_size"`
	PublishTimeout time.Duration `yaml:"publish_timeout"`
	NATSURL        string        `yaml:"nats_url"`
	Stream         string        `yaml:"stream"`
	Subject        string        `yaml:"subject"`
	JournalEnabled bool          `yaml:"journal_enabled"`
}

type STTConfig struct {
	URL     string        `yaml:"url"`
	APIKey  string        `yaml:"api_key"`
	Timeout time.Duration `yaml:"timeout"`
}

// Default returns the configuration used when nothing is overridden.
func Default() Config {
	return Config{
		Env:            "development",
		Port:           8080,
		WSPath:         "/ws",
		LogLevel:       "info",
		AllowedOrigins: []string{"*"},
		ErrorFrames:    true,
		Limits: LimitsConfig{
			MaxControlBytes:  1000,
			MaxAudioBytes:    10 << 20,
			ActionsPerWindow: 10,
			Window:           60 * time.Second,
			BurstSize:        5,
			BurstInterval:    400 * time.Millisecond,
			RecordGrace:      5 * time.Minute,
		},
		Liveness: LivenessConfig{
			PingInterval:  30 * time.Second,
			NudgeAfter:    45 * time.Second,
			Timeout:       60 * time.Second,
			SweepInterval: 15 * time.Second,
		},
		Countdowns: CountdownsConfig{
			Grace:         40 * time.Second,
			SweepInterval: 60 * time.Second,
		},
		Calls: CallsConfig{
			RingTimeout:   30 * time.Second,
			SweepInterval: 10 * time.Second,
		},
		HTTP: HTTPConfig{
			RequestsPerSecond: 5,
			Burst:             20,
			ClientTTL:         10 * time.Minute,
		},
		Feed: FeedConfig{
			BufferSize:     1000,
			PublishTimeout: 5 * time.Second,
			Stream:         "FLOOR_EVENTS",
			Subject:        "floor.events",
		},
		STT: STTConfig{
			Timeout: 30 * time.Second,
		},
	}
}

// Load builds the configuration from defaults, the YAML file named by
// FLOORSYNC_CONFIG (if any) and the environment, then validates it.
func Load() (*Config, error) {
	cfg := Default()
	if path := os.Getenv(PathEnv); path != "" {
		if err := loadFile(path, &cfg); err != nil {
			return nil, err
		}
	}
	applyEnv(&cfg)
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return &cfg, nil
}

// LoadFile reads a YAML file on top of the defaults without consulting
// the environment.
func LoadFile(path string) (*Config, error) {
	cfg := Default()
	if err := loadFile(path, &cfg); err != nil {
		return nil, err
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return &cfg, nil
}

func loadFile(path string, cfg *Config) error {
	data, err := os.ReadFile(path)
	if err != nil {
		return fmt.Errorf("failed to read config file: %w", err)
	}
	if err := yaml.Unmarshal(data, cfg); err != nil {
		return fmt.Errorf("failed to parse config: %w", err)
	}
	return nil
}

func applyEnv(cfg *Config) {
	cfg.Env = getEnv("APP_ENV", cfg.Env)
	cfg.Port = getEnvAsInt("GATEWAY_PORT", cfg.Port)
	cfg.WSPath = getEnv("WS_PATH", cfg.WSPath)
	cfg.LogLevel = getEnv("LOG_LEVEL", cfg.LogLevel)
	if v := os.Getenv("ALLOWED_ORIGINS"); v != "" {
		cfg.AllowedOrigins = splitList(v)
	}
	cfg.ErrorFrames = getEnvAsBool("ERROR_FRAMES", cfg.ErrorFrames)

	cfg.Limits.MaxControlBytes = getEnvAsInt("MAX_CONTROL_BYTES", cfg.Limits.MaxControlBytes)
	cfg.Limits.MaxAudioBytes = getEnvAsInt("MAX_AUDIO_BYTES", cfg.Limits.MaxAudioBytes)
	cfg.Limits.ActionsPerWindow = getEnvAsInt("RATE_LIMIT_ACTIONS", cfg.Limits.ActionsPerWindow)
	cfg.Limits.Window = getEnvAsDuration("RATE_LIMIT_WINDOW", cfg.Limits.Window)

	cfg.Liveness.Timeout = getEnvAsDuration("LIVENESS_TIMEOUT", cfg.Liveness.Timeout)
	cfg.Liveness.JoinTimeout = getEnvAsDuration("JOIN_TIMEOUT", cfg.Liveness.JoinTimeout)
	cfg.Countdowns.Grace = getEnvAsDuration("COUNTDOWN_GRACE", cfg.Countdowns.Grace)
	cfg.Calls.RingTimeout = getEnvAsDuration("RING_TIMEOUT", cfg.Calls.RingTimeout)

	cfg.Feed.NATSURL = getEnv("NATS_URL", cfg.Feed.NATSURL)
	cfg.Feed.JournalEnabled = getEnvAsBool("JOURNAL_ENABLED", cfg.Feed.JournalEnabled)

	cfg.STT.URL = getEnv("STT_URL", cfg.STT.URL)
	cfg.STT.APIKey = getEnv("STT_API_KEY", cfg.STT.APIKey)
}

// Validate rejects settings the relay cannot run with.
func (c *Config) Validate() error {
	var errs []error
	if c.Port <= 0 || c.Port > 65535 {
		errs = append(errs, fmt.Errorf("port out of range: %d", c.Port))
	}
	if !strings.HasPrefix(c.WSPath, "/") {
		errs = append(errs, fmt.Errorf("ws_path must start with /: %q", c.WSPath))
	}
	if c.Limits.MaxControlBytes <= 0 || c.Limits.MaxAudioBytes <= 0 {
		errs = append(errs, errors.New("limits: frame caps must be positive"))
	}
	if c.Limits.MaxControlBytes > c.Limits.MaxAudioBytes {
		errs = append(errs, errors.New("limits: max_control_bytes exceeds max_audio_bytes"))
	}
	if c.Limits.ActionsPerWindow <= 0 || c.Limits.Window <= 0 {
		errs = append(errs, errors.New("limits: actions_per_window and window must be positive"))
	}
	if c.Limits.BurstSize < 0 || c.Limits.BurstInterval < 0 {
		errs = append(errs, errors.New("limits: burst settings cannot be negative"))
	}
	if c.Liveness.Timeout <= 0 || c.Liveness.SweepInterval <= 0 || c.Liveness.PingInterval <= 0 {
		errs = append(errs, errors.New("liveness: intervals must be positive"))
	}
	if c.Liveness.NudgeAfter >= c.Liveness.Timeout {
		errs = append(errs, errors.New("liveness: nudge_after must be shorter than timeout"))
	}
	if c.Liveness.JoinTimeout < 0 {
		errs = append(errs, errors.New("liveness: join_timeout cannot be negative"))
	}
	if c.Countdowns.Grace < 0 || c.Countdowns.SweepInterval <= 0 {
		errs = append(errs, errors.New("countdowns: invalid grace or sweep interval"))
	}
	if c.Calls.RingTimeout <= 0 {
		errs = append(errs, errors.New("calls: ring_timeout must be positive"))
	}
	if c.HTTP.RequestsPerSecond <= 0 || c.HTTP.Burst <= 0 {
		errs = append(errs, errors.New("http: rate settings must be positive"))
	}
	if c.Feed.BufferSize <= 0 {
		errs = append(errs, errors.New("feed: buffer_size must be positive"))
	}
	if len(errs) > 0 {
		return fmt.Errorf("invalid configuration: %w", errors.Join(errs...))
	}
	return nil
}

func (c *Config) IsDevelopment() bool {
	return c.Env == "" || c.Env == "development" || c.Env == "dev"
}

// FeedEnabled reports whether any event sink is configured.
func (c *Config) FeedEnabled() bool {
	return c.Feed.NATSURL != "" || c.Feed.JournalEnabled
}

func getEnv(key, defaultValue string) string {
	if value := os.Getenv(key); value != "" {
		return value
	}
	return defaultValue
}

func getEnvAsInt(key string, defaultValue int) int {
	if value := os.Getenv(key); value != "" {
		if intValue, err := strconv.Atoi(value); err == nil {
			return intValue
		}
	}
	return defaultValue
}

func getEnvAsBool(key string, defaultValue bool) bool {
	if value := os.Getenv(key); value != "" {
		if b, err := strconv.ParseBool(value); err == nil {
			return b
		}
	}
	return defaultValue
}

// getEnvAsDuration accepts Go durations ("45s") or bare seconds ("45").
func getEnvAsDuration(key string, defaultValue time.Duration) time.Duration {
	value := os.Getenv(key)
	if value == "" {
		return defaultValue
	}
	if d, err := time.ParseDuration(value); err == nil {
		return d
	}
	if secs, err := strconv.Atoi(value); err == nil {
		return time.Duration(secs) * time.Second
	}
	return defaultValue
}

func splitList(s string) []string {
	var out []string
	for _, part := range strings.Split(s, ",") {
		if p := strings.TrimSpace(part); p != "" {
			out = append(out, p)
		}
	}
	return out
}
