package gateway

import (
	"sync"
	"testing"
	"time"

	"github.com/jonboulle/clockwork"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/mcdev12/floorsync/go/internal/floor/validate"
)

func newTestManager(t *testing.T, mutate func(*ConnectionConfig)) (*ConnectionManager, *clockwork.FakeClock) {
	t.Helper()
	clock := clockwork.NewFakeClockAt(serviceEpoch)
	cfg := DefaultConnectionConfig()
	if mutate != nil {
		mutate(&cfg)
	}
	return NewConnectionManager(cfg, clock, nil), clock
}

func TestJoinIsIdempotent(t *testing.T) {
	cm, _ := newTestManager(t, nil)
	c := cm.NewConnection(nil, "test")

	assert.True(t, cm.Join(c, "Roma"))
	assert.False(t, cm.Join(c, "Roma"))

	stats := cm.GetConnectionStats()
	require.Len(t, stats.Rooms, 1)
	assert.Equal(t, 1, stats.Rooms[0].Connections)
	assert.Equal(t, StateJoined, c.State())
}

func TestJoinMovesBetweenRooms(t *testing.T) {
	cm, _ := newTestManager(t, nil)
	c := cm.NewConnection(nil, "test")

	cm.Join(c, "Roma")
	require.True(t, cm.SelectPage(c, validate.RoleKitchen, ""))
	assert.Equal(t, StatePageSelected, c.State())

	cm.Join(c, "Napoli")
	assert.Equal(t, "Napoli", c.Company())
	assert.Equal(t, StateJoined, c.State(), "page is cleared when changing rooms")

	stats := cm.GetConnectionStats()
	assert.Equal(t, 1, stats.ActiveRooms, "empty room is removed")
	assert.Equal(t, "Napoli", stats.Rooms[0].Company)
}

func TestLeaveIsSafeToRepeat(t *testing.T) {
	cm, _ := newTestManager(t, nil)
	c := cm.NewConnection(nil, "test")

	cm.Leave(c)
	cm.Join(c, "Roma")
	cm.Leave(c)
	cm.Leave(c)

	assert.Equal(t, StateUnjoined, c.State())
	assert.Zero(t, cm.GetConnectionStats().ActiveRooms)
	assert.False(t, cm.SelectPage(c, validate.RoleSalad, ""))
}

func TestBroadcastIsolationAndPredicate(t *testing.T) {
	cm, _ := newTestManager(t, nil)
	a := cm.NewConnection(nil, "a")
	b := cm.NewConnection(nil, "b")
	other := cm.NewConnection(nil, "other")
	cm.Join(a, "Roma")
	cm.Join(b, "Roma")
	cm.Join(other, "Napoli")
	cm.SelectPage(b, validate.RolePizzeria, "")

	assert.Equal(t, 2, cm.Broadcast("Roma", []byte(`{"action":"x"}`), nil))
	assert.Len(t, drain(t, a), 1)
	assert.Len(t, drain(t, b), 1)
	assert.Empty(t, drain(t, other))

	n := cm.Broadcast("Roma", []byte(`{"action":"y"}`), func(c *Connection) bool {
		return c.Page() == validate.RolePizzeria
	})
	assert.Equal(t, 1, n)
	assert.Empty(t, drain(t, a))
	assert.Len(t, drain(t, b), 1)

	assert.Zero(t, cm.Broadcast("Milano", []byte(`{}`), nil))
}

func TestBroadcastSkipsUnwritableMembers(t *testing.T) {
	cm, _ := newTestManager(t, func(cfg *ConnectionConfig) { cfg.SendBufferSize = 1 })
	slow := cm.NewConnection(nil, "slow")
	fast := cm.NewConnection(nil, "fast")
	closed := cm.NewConnection(nil, "closed")
	for _, c := range []*Connection{slow, fast, closed} {
		cm.Join(c, "Roma")
	}

	require.True(t, slow.Enqueue([]byte(`{"action":"filler"}`)))
	closed.Close("test")

	assert.Equal(t, 1, cm.Broadcast("Roma", []byte(`{"action":"x"}`), nil))
	assert.Len(t, drain(t, fast), 1)
	frames := drain(t, slow)
	require.Len(t, frames, 1)
	assert.Equal(t, "filler", frames[0].action())
}

func TestMembersWithRole(t *testing.T) {
	cm, _ := newTestManager(t, nil)
	k1 := cm.NewConnection(nil, "k1")
	k2 := cm.NewConnection(nil, "k2")
	p := cm.NewConnection(nil, "p")
	for _, c := range []*Connection{k1, k2, p} {
		cm.Join(c, "Roma")
	}
	cm.SelectPage(k1, validate.RoleKitchen, "")
	cm.SelectPage(k2, validate.RoleKitchen, "")
	cm.SelectPage(p, validate.RolePizzeria, "")

	assert.Len(t, cm.MembersWithRole("Roma", validate.RoleKitchen, nil), 2)
	assert.Equal(t, []*Connection{k2}, cm.MembersWithRole("Roma", validate.RoleKitchen, k1))
	assert.Empty(t, cm.MembersWithRole("Roma", validate.RoleSalad, nil))
	assert.Empty(t, cm.MembersWithRole("Napoli", validate.RoleKitchen, nil))
}

func TestTeardownRunsOnce(t *testing.T) {
	cm, _ := newTestManager(t, nil)
	calls := 0
	cm.OnTeardown(func(*Connection) { calls++ })

	c := cm.NewConnection(nil, "test")
	cm.Join(c, "Roma")

	c.Close("first")
	c.Close("second")
	cm.Teardown(c, "third")

	assert.Equal(t, 1, calls)
	assert.Equal(t, StateClosed, c.State())
	assert.False(t, c.Enqueue([]byte(`{}`)))
	assert.False(t, cm.Join(c, "Roma"), "closed connections cannot rejoin")
	_, ok := cm.Get(c.ID)
	assert.False(t, ok)
	assert.Zero(t, cm.GetConnectionStats().ActiveRooms)
}

func TestTeardownConcurrentWithBroadcast(t *testing.T) {
	cm, _ := newTestManager(t, nil)
	conns := make([]*Connection, 20)
	for i := range conns {
		conns[i] = cm.NewConnection(nil, "test")
		cm.Join(conns[i], "Roma")
	}

	var wg sync.WaitGroup
	wg.Add(2)
	go func() {
		defer wg.Done()
		for i := 0; i < 100; i++ {
			cm.Broadcast("Roma", []byte(`{"action":"tick"}`), nil)
		}
	}()
	go func() {
		defer wg.Done()
		for _, c := range conns {
			c.Close("test")
			c.Close("test")
		}
	}()
	wg.Wait()

	assert.Zero(t, cm.GetConnectionStats().TotalConnections)
	assert.Zero(t, cm.GetConnectionStats().ActiveRooms)
}

func TestSweepLiveness(t *testing.T) {
	cm, clock := newTestManager(t, nil)
	quiet := cm.NewConnection(nil, "quiet")
	chatty := cm.NewConnection(nil, "chatty")
	cm.Join(quiet, "Roma")
	cm.Join(chatty, "Roma")

	clock.Advance(46 * time.Second)
	chatty.Touch(clock.Now())

	nudged, terminated := cm.SweepLiveness(clock.Now())
	assert.Equal(t, 1, nudged)
	assert.Zero(t, terminated)
	frames := drain(t, quiet)
	require.Len(t, frames, 1)
	assert.Equal(t, "ping", frames[0].action())

	clock.Advance(15 * time.Second)
	nudged, terminated = cm.SweepLiveness(clock.Now())
	assert.Zero(t, nudged)
	assert.Equal(t, 1, terminated)
	assert.Equal(t, StateClosed, quiet.State())
	assert.NotEqual(t, StateClosed, chatty.State())
}

func TestSweepJoinTimeout(t *testing.T) {
	cm, clock := newTestManager(t, func(cfg *ConnectionConfig) { cfg.JoinTimeout = 10 * time.Second })
	idle := cm.NewConnection(nil, "idle")
	joined := cm.NewConnection(nil, "joined")
	cm.Join(joined, "Roma")

	clock.Advance(11 * time.Second)
	idle.Touch(clock.Now())
	joined.Touch(clock.Now())

	_, terminated := cm.SweepLiveness(clock.Now())
	assert.Equal(t, 1, terminated)
	assert.Equal(t, StateClosed, idle.State())
	assert.Equal(t, StateJoined, joined.State())
}
