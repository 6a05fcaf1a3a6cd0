package main

import (
	"fmt"
	"net/http"
	"strings"
	"time"

	"github.com/rs/cors"
	"github.com/rs/zerolog/log"
	"golang.org/x/net/http2"
	"golang.org/x/net/http2/h2c"
	"golang.org/x/time/rate"

	"github.com/mcdev12/floorsync/go/internal/floor/config"
	"github.com/mcdev12/floorsync/go/internal/floor/gateway"
	"github.com/mcdev12/floorsync/go/internal/floor/ratelimit"
	"github.com/mcdev12/floorsync/go/internal/floor/transcribe"
)

func setupServer(cfg *config.Config, relay *gateway.Service, metrics *gateway.PrometheusMetrics) *http.Server {
	mux := http.NewServeMux()

	// REST routes go on their own mux so the per-client limiter only
	// sees HTTP API traffic, never the websocket upgrade
	api := http.NewServeMux()
	relay.RegisterRoutes(api)
	setupSpeechToText(api, cfg)

	httpLimiter := ratelimit.NewHTTPLimiter(rate.Limit(cfg.HTTP.RequestsPerSecond), cfg.HTTP.Burst, cfg.HTTP.ClientTTL, relay.Clock())
	relay.AddSweep(func(now time.Time) { httpLimiter.Sweep(now) })

	mux.Handle(cfg.WSPath, api)
	mux.Handle(cfg.WSPath+"/stats", api)
	mux.Handle("/api/", httpLimiter.Middleware(api))
	mux.Handle("/status", api)
	mux.Handle("/metrics", metrics.Handler())
	setupHealthCheck(mux)

	c := cors.New(cors.Options{
		AllowedMethods: []string{
			http.MethodHead,
			http.MethodGet,
			http.MethodPost,
			http.MethodOptions,
		},
		AllowedOrigins: cfg.AllowedOrigins,
		AllowedHeaders: []string{"*"},
	})
	handler := c.Handler(mux)

	return &http.Server{
		Addr:              fmt.Sprintf(":%d", cfg.Port),
		Handler:           h2c.NewHandler(handler, &http2.Server{}),
		ReadHeaderTimeout: 10 * time.Second,
		IdleTimeout:       120 * time.Second,
	}
}

func setupSpeechToText(mux *http.ServeMux, cfg *config.Config) {
	var t transcribe.Transcriber
	if cfg.STT.URL != "" {
		t = transcribe.NewClient(strings.TrimRight(cfg.STT.URL, "/"), cfg.STT.APIKey, cfg.STT.Timeout)
	}
	mux.Handle("/api/speech-to-text", transcribe.NewHandler(t, cfg.Limits.MaxAudioBytes))
}

func setupHealthCheck(mux *http.ServeMux) {
	mux.HandleFunc("/health", func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusOK)
		if _, err := w.Write([]byte("OK")); err != nil {
			log.Error().Err(err).Msg("failed to write health check response")
		}
	})
}
