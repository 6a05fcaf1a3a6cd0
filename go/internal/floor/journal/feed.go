package journal

import (
	"context"
	"errors"
	"sync"
	"sync/atomic"
	"time"

	"github.com/rs/zerolog/log"
)

// FeedConfig sizes the asynchronous feed.
type FeedConfig struct {
	BufferSize     int
	PublishTimeout time.Duration
}

func DefaultFeedConfig() FeedConfig {
	return FeedConfig{
		BufferSize:     1000,
		PublishTimeout: 5 * time.Second,
	}
}

// Feed decouples event producers from slow sinks. Emit never blocks: when
// the buffer is full the event is dropped with a warning.
type Feed struct {
	publisher Publisher
	config    FeedConfig
	ch        chan Event

	dropped   atomic.Int64
	published atomic.Int64
	failed    atomic.Int64

	closeOnce sync.Once
	wg        sync.WaitGroup
}

func NewFeed(publisher Publisher, config FeedConfig) *Feed {
	if config.BufferSize <= 0 {
		config.BufferSize = DefaultFeedConfig().BufferSize
	}
	if config.PublishTimeout <= 0 {
		config.PublishTimeout = DefaultFeedConfig().PublishTimeout
	}
	return &Feed{
		publisher: publisher,
		config:    config,
		ch:        make(chan Event, config.BufferSize),
	}
}

// Emit queues event for publishing.
func (f *Feed) Emit(event Event) {
	select {
	case f.ch <- event:
	default:
		f.dropped.Add(1)
		log.Warn().
			Str("event_type", string(event.Type)).
			Str("company", event.Company).
			Msg("event feed full, dropping event")
	}
}

// Run publishes queued events until ctx is cancelled, then drains what is
// left using a fresh deadline per event.
func (f *Feed) Run(ctx context.Context) {
	f.wg.Add(1)
	defer f.wg.Done()

	log.Info().Int("buffer", f.config.BufferSize).Msg("event feed started")
	for {
		select {
		case <-ctx.Done():
			f.drain()
			log.Info().
				Int64("published", f.published.Load()).
				Int64("failed", f.failed.Load()).
				Int64("dropped", f.dropped.Load()).
				Msg("event feed stopped")
			return
		case event := <-f.ch:
			f.publish(ctx, event)
		}
	}
}

func (f *Feed) drain() {
	for {
		select {
		case event := <-f.ch:
			f.publish(context.Background(), event)
		default:
			return
		}
	}
}

func (f *Feed) publish(ctx context.Context, event Event) {
	pctx, cancel := context.WithTimeout(ctx, f.config.PublishTimeout)
	defer cancel()

	if err := f.publisher.Publish(pctx, event); err != nil {
		f.failed.Add(1)
		log.Error().
			Err(err).
			Str("event_id", event.ID.String()).
			Str("event_type", string(event.Type)).
			Msg("failed to publish relay event")
		return
	}
	f.published.Add(1)
}

// Close waits for Run to return and closes the publisher.
func (f *Feed) Close() error {
	var err error
	f.closeOnce.Do(func() {
		f.wg.Wait()
		err = f.publisher.Close()
	})
	return err
}

// FeedStats reports counters since start.
type FeedStats struct {
	Published int64 `json:"published"`
	Failed    int64 `json:"failed"`
	Dropped   int64 `json:"dropped"`
	Pending   int   `json:"pending"`
}

func (f *Feed) Stats() FeedStats {
	return FeedStats{
		Published: f.published.Load(),
		Failed:    f.failed.Load(),
		Dropped:   f.dropped.Load(),
		Pending:   len(f.ch),
	}
}

// MultiPublisher fans an event out to several sinks.
type MultiPublisher []Publisher

func (m MultiPublisher) Publish(ctx context.Context, event Event) error {
	var errs []error
	for _, p := range m {
		if err := p.Publish(ctx, event); err != nil {
			errs = append(errs, err)
		}
	}
	return errors.Join(errs...)
}

func (m MultiPublisher) Close() error {
	var errs []error
	for _, p := range m {
		if err := p.Close(); err != nil {
			errs = append(errs, err)
		}
	}
	return errors.Join(errs...)
}
