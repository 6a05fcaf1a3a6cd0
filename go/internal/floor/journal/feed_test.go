package journal

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type recordingPublisher struct {
	mu     sync.Mutex
	events []Event
	err    error
	closed bool
}

func (p *recordingPublisher) Publish(ctx context.Context, e Event) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.err != nil {
		return p.err
	}
	p.events = append(p.events, e)
	return nil
}

func (p *recordingPublisher) Close() error {
	p.mu.Lock()
	p.closed = true
	p.mu.Unlock()
	return nil
}

func (p *recordingPublisher) count() int {
	p.mu.Lock()
	defer p.mu.Unlock()
	return len(p.events)
}

var at = time.Date(2024, 6, 1, 21, 0, 0, 0, time.UTC)

func TestFeedPublishesInOrder(t *testing.T) {
	pub := &recordingPublisher{}
	feed := NewFeed(pub, FeedConfig{BufferSize: 10})

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan struct{})
	go func() {
		feed.Run(ctx)
		close(done)
	}()

	for i := 0; i < 3; i++ {
		e := NewEvent(EventCountdownStarted, "Roma", at)
		e.Table = string(rune('1' + i))
		feed.Emit(e)
	}

	require.Eventually(t, func() bool { return pub.count() == 3 }, time.Second, 5*time.Millisecond)
	cancel()
	<-done
	require.NoError(t, feed.Close())

	assert.True(t, pub.closed)
	assert.Equal(t, "1", pub.events[0].Table)
	assert.Equal(t, "3", pub.events[2].Table)
	assert.Equal(t, int64(3), feed.Stats().Published)
}

func TestFeedDropsWhenFull(t *testing.T) {
	pub := &recordingPublisher{}
	feed := NewFeed(pub, FeedConfig{BufferSize: 2})

	// not running: the buffer fills and further events are dropped
	for i := 0; i < 5; i++ {
		feed.Emit(NewEvent(EventVoiceRelayed, "Roma", at))
	}
	stats := feed.Stats()
	assert.Equal(t, int64(3), stats.Dropped)
	assert.Equal(t, 2, stats.Pending)

	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	feed.Run(ctx)
	assert.Equal(t, 2, pub.count())
}

func TestFeedCountsFailures(t *testing.T) {
	pub := &recordingPublisher{err: errors.New("sink down")}
	feed := NewFeed(pub, FeedConfig{BufferSize: 4})
	feed.Emit(NewEvent(EventCallStarted, "Roma", at))

	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	feed.Run(ctx)
	assert.Equal(t, int64(1), feed.Stats().Failed)
}

func TestMultiPublisher(t *testing.T) {
	ok := &recordingPublisher{}
	bad := &recordingPublisher{err: errors.New("boom")}
	multi := MultiPublisher{ok, bad}

	err := multi.Publish(context.Background(), NewEvent(EventCallEnded, "Roma", at))
	require.Error(t, err)
	assert.Contains(t, err.Error(), "boom")
	assert.Equal(t, 1, ok.count())

	require.NoError(t, multi.Close())
	assert.True(t, ok.closed)
	assert.True(t, bad.closed)
}

func TestNewEventStampsIdentity(t *testing.T) {
	a := NewEvent(EventCountdownDeleted, "Roma", at.In(time.FixedZone("CET", 3600)))
	b := NewEvent(EventCountdownDeleted, "Roma", at)
	assert.NotEqual(t, a.ID, b.ID)
	assert.Equal(t, time.UTC, a.OccurredAt.Location())
}

func TestJetStreamSubjectPerEventType(t *testing.T) {
	p := &JetStreamPublisher{config: DefaultJetStreamConfig()}
	e := NewEvent(EventCallEnded, "Roma", time.Now())
	assert.Equal(t, "floor.events.call.ended", p.Subject(e))
	require.NoError(t, p.Close())
}
