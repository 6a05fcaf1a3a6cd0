package main

import (
	"context"
	"errors"
	"net"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/joho/godotenv"
	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"

	"github.com/mcdev12/floorsync/go/internal/dbconfig"
	"github.com/mcdev12/floorsync/go/internal/floor/config"
	"github.com/mcdev12/floorsync/go/internal/floor/gateway"
	"github.com/mcdev12/floorsync/go/internal/floor/journal"
)

func main() {
	// Load .env file if it exists
	if err := godotenv.Load(); err != nil {
		log.Debug().Err(err).Msg("could not load .env file")
	}

	cfg, err := config.Load()
	if err != nil {
		log.Fatal().Err(err).Msg("failed to load configuration")
	}
	setupLogging(cfg)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	feed, err := setupFeed(ctx, cfg)
	if err != nil {
		log.Fatal().Err(err).Msg("failed to set up event feed")
	}
	feedDone := make(chan struct{})
	if feed != nil {
		go func() {
			defer close(feedDone)
			feed.Run(ctx)
		}()
	} else {
		close(feedDone)
	}

	metrics := gateway.NewPrometheusMetrics()
	deps := gateway.Dependencies{Metrics: metrics}
	if feed != nil {
		deps.Feed = feed
	}
	relay := gateway.NewService(relayConfig(cfg), deps)

	server := setupServer(cfg, relay, metrics)

	// Bind before logging readiness so a busy port fails loudly
	listener, err := net.Listen("tcp", server.Addr)
	if err != nil {
		log.Fatal().Err(err).Str("addr", server.Addr).Msg("failed to bind listen address")
	}

	log.Info().
		Str("addr", listener.Addr().String()).
		Str("ws_path", cfg.WSPath).
		Bool("event_feed", feed != nil).
		Bool("speech_to_text", cfg.STT.URL != "").
		Msg("starting floorsync relay")

	serviceDone := make(chan struct{})
	go func() {
		defer close(serviceDone)
		if err := relay.Start(ctx); err != nil {
			log.Error().Err(err).Msg("relay service failed")
		}
	}()

	go func() {
		if err := server.Serve(listener); err != nil && !errors.Is(err, http.ErrServerClosed) {
			log.Fatal().Err(err).Msg("HTTP server failed")
		}
	}()

	// Wait for interrupt signal
	sigChan := make(chan os.Signal, 1)
	signal.Notify(sigChan, os.Interrupt, syscall.SIGTERM)
	sig := <-sigChan

	log.Info().Str("signal", sig.String()).Msg("received shutdown signal")

	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer shutdownCancel()

	if err := server.Shutdown(shutdownCtx); err != nil {
		log.Error().Err(err).Msg("HTTP server shutdown failed")
	}

	// Stops the sweeps, closes every socket and drains the feed
	cancel()
	<-serviceDone
	<-feedDone
	if feed != nil {
		if err := feed.Close(); err != nil {
			log.Error().Err(err).Msg("failed to close event feed")
		}
		stats := feed.Stats()
		log.Info().
			Int64("published", stats.Published).
			Int64("dropped", stats.Dropped).
			Msg("event feed closed")
	}

	log.Info().Msg("floorsync relay shutdown complete")
}

func setupLogging(cfg *config.Config) {
	if cfg.IsDevelopment() {
		log.Logger = log.Output(zerolog.ConsoleWriter{Out: os.Stderr, TimeFormat: time.Kitchen})
	}
	level, err := zerolog.ParseLevel(cfg.LogLevel)
	if err != nil || level == zerolog.NoLevel {
		level = zerolog.InfoLevel
	}
	zerolog.SetGlobalLevel(level)
}

func relayConfig(cfg *config.Config) gateway.Config {
	rc := gateway.DefaultConfig()

	rc.ConnectionConfig.PingInterval = cfg.Liveness.PingInterval
	rc.ConnectionConfig.NudgeAfter = cfg.Liveness.NudgeAfter
	rc.ConnectionConfig.LivenessTimeout = cfg.Liveness.Timeout
	rc.ConnectionConfig.JoinTimeout = cfg.Liveness.JoinTimeout
	rc.ConnectionConfig.MaxMessageSize = int64(cfg.Limits.MaxAudioBytes) + 64<<10
	rc.ConnectionConfig.CheckOrigin = originChecker(cfg.AllowedOrigins)

	rc.RouterConfig.MaxControlBytes = cfg.Limits.MaxControlBytes
	rc.RouterConfig.MaxAudioBytes = cfg.Limits.MaxAudioBytes
	rc.RouterConfig.ErrorFrames = cfg.ErrorFrames

	rc.RateLimit.MaxActions = cfg.Limits.ActionsPerWindow
	rc.RateLimit.Window = cfg.Limits.Window
	rc.RateLimit.BurstSize = cfg.Limits.BurstSize
	rc.RateLimit.BurstSpan = cfg.Limits.BurstInterval
	rc.RateLimit.RecordTTL = cfg.Limits.RecordGrace

	rc.CountdownGrace = cfg.Countdowns.Grace
	rc.CountdownSweepInterval = cfg.Countdowns.SweepInterval
	rc.LivenessSweepInterval = cfg.Liveness.SweepInterval
	rc.CallSweepInterval = cfg.Calls.SweepInterval
	rc.RingTimeout = cfg.Calls.RingTimeout
	rc.WSPath = cfg.WSPath
	return rc
}

// originChecker allows any origin for "*", otherwise an exact match.
// Requests without an Origin header (native clients) are always allowed.
func originChecker(allowed []string) func(r *http.Request) bool {
	set := make(map[string]bool, len(allowed))
	for _, o := range allowed {
		if o == "*" {
			return func(*http.Request) bool { return true }
		}
		set[o] = true
	}
	return func(r *http.Request) bool {
		origin := r.Header.Get("Origin")
		return origin == "" || set[origin]
	}
}

// setupFeed returns nil when no sink is configured.
func setupFeed(ctx context.Context, cfg *config.Config) (*journal.Feed, error) {
	if !cfg.FeedEnabled() {
		return nil, nil
	}

	var sinks journal.MultiPublisher
	if cfg.Feed.NATSURL != "" {
		jsCfg := journal.DefaultJetStreamConfig()
		jsCfg.URL = cfg.Feed.NATSURL
		jsCfg.StreamName = cfg.Feed.Stream
		jsCfg.SubjectPrefix = cfg.Feed.Subject
		publisher, err := journal.NewJetStreamPublisher(ctx, jsCfg)
		if err != nil {
			return nil, err
		}
		sinks = append(sinks, publisher)
	}
	if cfg.Feed.JournalEnabled {
		dbCfg := dbconfig.NewConfigFromEnv()
		store, err := journal.NewPostgresJournal(ctx, dbCfg.DSN())
		if err != nil {
			_ = sinks.Close()
			return nil, err
		}
		log.Info().
			Str("host", dbCfg.Host).
			Int("port", dbCfg.Port).
			Str("database", dbCfg.Database).
			Msg("event journal connected")
		sinks = append(sinks, store)
	}

	return journal.NewFeed(sinks, journal.FeedConfig{
		BufferSize:     cfg.Feed.BufferSize,
		PublishTimeout: cfg.Feed.PublishTimeout,
	}), nil
}
