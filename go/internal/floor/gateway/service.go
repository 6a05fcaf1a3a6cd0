package gateway

import (
	"context"
	"sync"
	"time"

	"github.com/jonboulle/clockwork"
	"github.com/rs/zerolog/log"

	"github.com/mcdev12/floorsync/go/internal/floor/countdown"
	"github.com/mcdev12/floorsync/go/internal/floor/journal"
	"github.com/mcdev12/floorsync/go/internal/floor/ratelimit"
)

// Service is the relay: it owns the connection registry, the countdown
// store, the rate limiter and the call registry, and runs their sweeps.
type Service struct {
	connectionManager *ConnectionManager
	router            *Router
	store             *countdown.Store
	limiter           *ratelimit.Limiter
	calls             *CallRegistry
	wsHandler         *WebSocketHandler
	stateHandler      *StateHandler
	metrics           MetricsCollector
	clock             clockwork.Clock
	config            Config
	startedAt         time.Time

	extraSweeps []func(now time.Time)
	wg          sync.WaitGroup
}

// Config holds configuration for the relay service
type Config struct {
	ConnectionConfig ConnectionConfig
	RouterConfig     RouterConfig
	RateLimit        ratelimit.Config

	CountdownGrace         time.Duration
	CountdownSweepInterval time.Duration
	LivenessSweepInterval  time.Duration
	LimiterSweepInterval   time.Duration
	CallSweepInterval      time.Duration
	RingTimeout            time.Duration
	WSPath                 string
}

// DefaultConfig returns default configuration for the relay
func DefaultConfig() Config {
	return Config{
		ConnectionConfig:       DefaultConnectionConfig(),
		RouterConfig:           DefaultRouterConfig(),
		RateLimit:              ratelimit.DefaultConfig(),
		CountdownGrace:         40 * time.Second,
		CountdownSweepInterval: 60 * time.Second,
		LivenessSweepInterval:  15 * time.Second,
		LimiterSweepInterval:   60 * time.Second,
		CallSweepInterval:      10 * time.Second,
		RingTimeout:            30 * time.Second,
		WSPath:                 "/ws",
	}
}

// Dependencies are the collaborators injected into the service.
type Dependencies struct {
	Clock   clockwork.Clock
	Feed    journal.Emitter
	Metrics MetricsCollector
}

// NewService wires a relay. Every piece of state lives on the returned
// value; independent services share nothing.
func NewService(config Config, deps Dependencies) *Service {
	if deps.Clock == nil {
		deps.Clock = clockwork.NewRealClock()
	}
	if deps.Metrics == nil {
		deps.Metrics = &NoOpMetricsCollector{}
	}
	if deps.Feed == nil {
		deps.Feed = journal.Discard{}
	}
	if config.WSPath == "" {
		config.WSPath = "/ws"
	}

	cm := NewConnectionManager(config.ConnectionConfig, deps.Clock, deps.Metrics)
	store := countdown.NewStore(config.CountdownGrace)
	limiter := ratelimit.New(config.RateLimit)
	calls := NewCallRegistry()
	router := NewRouter(cm, store, limiter, calls, deps.Feed, deps.Metrics, config.RouterConfig)
	cm.SetHandler(router)

	s := &Service{
		connectionManager: cm,
		router:            router,
		store:             store,
		limiter:           limiter,
		calls:             calls,
		metrics:           deps.Metrics,
		clock:             deps.Clock,
		config:            config,
		startedAt:         deps.Clock.Now(),
	}
	s.wsHandler = NewWebSocketHandler(cm)
	s.stateHandler = NewStateHandler(s)

	cm.OnTeardown(func(c *Connection) {
		limiter.Forget(c.ID)
		if dropped := calls.DropConnection(c.ID); len(dropped) > 0 {
			router.endCalls(dropped, "caller disconnected", deps.Clock.Now())
		}
	})
	return s
}

// AddSweep registers an extra function run on the liveness cadence.
// Must be called before Start.
func (s *Service) AddSweep(fn func(now time.Time)) {
	s.extraSweeps = append(s.extraSweeps, fn)
}

// Start runs the periodic sweeps until ctx is cancelled.
func (s *Service) Start(ctx context.Context) error {
	log.Info().Msg("starting relay service")

	s.runEvery(ctx, s.config.LivenessSweepInterval, s.SweepLiveness)
	s.runEvery(ctx, s.config.CountdownSweepInterval, s.SweepCountdowns)
	s.runEvery(ctx, s.config.LimiterSweepInterval, s.SweepLimiter)
	s.runEvery(ctx, s.config.CallSweepInterval, s.SweepCalls)

	<-ctx.Done()
	s.wg.Wait()

	log.Info().Msg("relay service shutting down")
	return s.Stop()
}

// Stop closes every open connection.
func (s *Service) Stop() error {
	for _, c := range s.connectionManager.Connections() {
		c.Close("server shutdown")
	}
	log.Info().Msg("relay service stopped")
	return nil
}

func (s *Service) runEvery(ctx context.Context, interval time.Duration, fn func(now time.Time)) {
	if interval <= 0 {
		return
	}
	ticker := s.clock.NewTicker(interval)
	s.wg.Add(1)
	go func() {
		defer s.wg.Done()
		defer ticker.Stop()
		for {
			select {
			case <-ctx.Done():
				return
			case <-ticker.Chan():
				fn(s.clock.Now())
			}
		}
	}()
}

// SweepLiveness pings quiet connections and closes silent ones.
func (s *Service) SweepLiveness(now time.Time) {
	nudged, terminated := s.connectionManager.SweepLiveness(now)
	s.metrics.SweepCompleted("liveness", terminated)
	for _, fn := range s.extraSweeps {
		fn(now)
	}
	if nudged > 0 || terminated > 0 {
		log.Debug().
			Int("nudged", nudged).
			Int("terminated", terminated).
			Msg("liveness sweep")
	}
}

// SweepCountdowns drops countdowns expired beyond the grace window.
func (s *Service) SweepCountdowns(now time.Time) {
	removed := s.store.SweepExpired(now, s.config.CountdownGrace)
	_, remaining := s.store.Stats()
	s.metrics.SweepCompleted("countdowns", removed)
	s.metrics.CountdownsActive(remaining)
	if removed > 0 {
		log.Info().
			Int("removed", removed).
			Int("remaining", remaining).
			Msg("expired countdowns swept")
	}
}

// SweepLimiter forgets idle rate-limit records.
func (s *Service) SweepLimiter(now time.Time) {
	removed := s.limiter.Sweep(now)
	s.metrics.SweepCompleted("ratelimit", removed)
}

// SweepCalls ends calls that rang for too long.
func (s *Service) SweepCalls(now time.Time) {
	expired := s.calls.ExpireRinging(now, s.config.RingTimeout)
	if len(expired) > 0 {
		s.router.endCalls(expired, "timeout", now)
	}
	s.metrics.SweepCompleted("calls", len(expired))
}

func (s *Service) Manager() *ConnectionManager { return s.connectionManager }
func (s *Service) Router() *Router             { return s.router }
func (s *Service) Store() *countdown.Store     { return s.store }
func (s *Service) Calls() *CallRegistry        { return s.calls }
func (s *Service) Clock() clockwork.Clock      { return s.clock }

// Uptime is the time since the service was created.
func (s *Service) Uptime() time.Duration {
	return s.clock.Since(s.startedAt)
}
