package gateway

import (
	"fmt"
	"net/http"
	"sort"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/gorilla/websocket"
	"github.com/jonboulle/clockwork"
	"github.com/rs/zerolog/log"

	"github.com/mcdev12/floorsync/go/internal/floor/events"
	"github.com/mcdev12/floorsync/go/internal/floor/validate"
)

// MessageHandler consumes inbound frames for a connection.
type MessageHandler interface {
	Handle(c *Connection, raw []byte, now time.Time)
}

// ConnectionManager owns every live connection and the company rooms
// they are grouped into.
type ConnectionManager struct {
	// Room membership organized by company name
	rooms       map[string]map[*Connection]bool
	connections map[string]*Connection
	mu          sync.RWMutex

	upgrader   websocket.Upgrader
	config     ConnectionConfig
	clock      clockwork.Clock
	metrics    MetricsCollector
	handler    MessageHandler
	onTeardown []func(*Connection)
}

// ConnectionConfig holds configuration for WebSocket connections
type ConnectionConfig struct {
	WriteTimeout    time.Duration
	ReadTimeout     time.Duration
	PingInterval    time.Duration // protocol-level ping cadence
	NudgeAfter      time.Duration // silence before an application ping is sent
	LivenessTimeout time.Duration // silence before the connection is terminated
	JoinTimeout     time.Duration // 0 disables closing connections that never join
	MaxMessageSize  int64
	ReadBufferSize  int
	WriteBufferSize int
	SendBufferSize  int
	CheckOrigin     func(r *http.Request) bool
}

// DefaultConnectionConfig returns default WebSocket configuration
func DefaultConnectionConfig() ConnectionConfig {
	return ConnectionConfig{
		WriteTimeout:    10 * time.Second,
		ReadTimeout:     60 * time.Second,
		PingInterval:    30 * time.Second,
		NudgeAfter:      45 * time.Second,
		LivenessTimeout: 60 * time.Second,
		MaxMessageSize:  10<<20 + 64<<10,
		ReadBufferSize:  1024,
		WriteBufferSize: 1024,
		SendBufferSize:  256,
		CheckOrigin: func(r *http.Request) bool {
			return true
		},
	}
}

// NewConnectionManager creates a new connection manager
func NewConnectionManager(config ConnectionConfig, clock clockwork.Clock, metrics MetricsCollector) *ConnectionManager {
	if clock == nil {
		clock = clockwork.NewRealClock()
	}
	if metrics == nil {
		metrics = &NoOpMetricsCollector{}
	}
	if config.SendBufferSize <= 0 {
		config.SendBufferSize = 256
	}
	return &ConnectionManager{
		rooms:       make(map[string]map[*Connection]bool),
		connections: make(map[string]*Connection),
		upgrader: websocket.Upgrader{
			ReadBufferSize:  config.ReadBufferSize,
			WriteBufferSize: config.WriteBufferSize,
			CheckOrigin:     config.CheckOrigin,
		},
		config:  config,
		clock:   clock,
		metrics: metrics,
	}
}

// SetHandler installs the frame handler. Must be called before serving.
func (cm *ConnectionManager) SetHandler(h MessageHandler) {
	cm.handler = h
}

// OnTeardown registers a hook run exactly once per torn-down connection.
// Must be called before serving.
func (cm *ConnectionManager) OnTeardown(fn func(*Connection)) {
	cm.onTeardown = append(cm.onTeardown, fn)
}

// NewConnection registers a connection in the Unjoined state. ws may be
// nil, in which case frames only accumulate in the outbound buffer.
func (cm *ConnectionManager) NewConnection(ws *websocket.Conn, remoteAddr string) *Connection {
	now := cm.clock.Now()
	c := &Connection{
		ID:          uuid.New().String(),
		Conn:        ws,
		RemoteAddr:  remoteAddr,
		ConnectedAt: now,
		Manager:     cm,
		send:        make(chan []byte, cm.config.SendBufferSize),
		inbound:     make(chan []byte, 32),
		done:        make(chan struct{}),
		lastSeen:    now,
	}

	cm.mu.Lock()
	cm.connections[c.ID] = c
	total := len(cm.connections)
	cm.mu.Unlock()

	cm.metrics.ConnectionOpened()
	log.Debug().
		Str("connection_id", c.ID).
		Str("remote_addr", remoteAddr).
		Int("total_connections", total).
		Msg("connection registered")
	return c
}

// UpgradeConnection upgrades an HTTP connection to WebSocket and starts
// its pumps.
func (cm *ConnectionManager) UpgradeConnection(w http.ResponseWriter, r *http.Request) (*Connection, error) {
	ws, err := cm.upgrader.Upgrade(w, r, nil)
	if err != nil {
		return nil, fmt.Errorf("failed to upgrade connection: %w", err)
	}

	c := cm.NewConnection(ws, r.RemoteAddr)

	go c.writePump()
	go c.readPump()
	go c.processLoop()

	log.Info().
		Str("connection_id", c.ID).
		Str("remote_addr", r.RemoteAddr).
		Msg("WebSocket connection established")
	return c, nil
}

func (cm *ConnectionManager) dispatch(c *Connection, raw []byte) {
	if cm.handler == nil {
		return
	}
	cm.handler.Handle(c, raw, cm.clock.Now())
}

// Join places c in the room for company, leaving any previous room first.
// Joining the room c is already in changes nothing. Returns whether
// membership changed.
func (cm *ConnectionManager) Join(c *Connection, company string) bool {
	cm.mu.Lock()
	defer cm.mu.Unlock()

	if c.State() == StateClosed {
		return false
	}

	prev := c.Company()
	if prev == company {
		if _, ok := cm.rooms[company][c]; ok {
			return false
		}
	}
	if prev != "" {
		cm.removeLocked(c, prev)
	}

	room, ok := cm.rooms[company]
	if !ok {
		room = make(map[*Connection]bool)
		cm.rooms[company] = room
	}
	room[c] = true
	c.setRoom(company)
	cm.metrics.RoomsActive(len(cm.rooms))

	log.Debug().
		Str("connection_id", c.ID).
		Str("company", company).
		Str("previous_company", prev).
		Int("room_size", len(room)).
		Msg("connection joined room")
	return true
}

// Leave removes c from its room. Safe to call when c is in no room.
func (cm *ConnectionManager) Leave(c *Connection) {
	cm.mu.Lock()
	defer cm.mu.Unlock()

	if prev := c.Company(); prev != "" {
		cm.removeLocked(c, prev)
		c.setRoom("")
		cm.metrics.RoomsActive(len(cm.rooms))
	}
}

func (cm *ConnectionManager) removeLocked(c *Connection, company string) {
	room, ok := cm.rooms[company]
	if !ok {
		return
	}
	delete(room, c)
	if len(room) == 0 {
		delete(cm.rooms, company)
		log.Debug().Str("company", company).Msg("empty room removed")
	}
}

// SelectPage records the page role for a joined connection.
func (cm *ConnectionManager) SelectPage(c *Connection, role validate.Role, userID string) bool {
	cm.mu.RLock()
	defer cm.mu.RUnlock()

	company := c.Company()
	if company == "" {
		return false
	}
	if _, ok := cm.rooms[company][c]; !ok {
		return false
	}
	c.setPage(role, userID)
	return true
}

// snapshot copies the members of company matching pred. The registry lock
// is released before any frame is queued.
func (cm *ConnectionManager) snapshot(company string, pred func(*Connection) bool) []*Connection {
	cm.mu.RLock()
	defer cm.mu.RUnlock()

	room, ok := cm.rooms[company]
	if !ok {
		return nil
	}
	out := make([]*Connection, 0, len(room))
	for conn := range room {
		if pred != nil && !pred(conn) {
			continue
		}
		out = append(out, conn)
	}
	return out
}

// Broadcast queues msg for every member of company accepted by pred (nil
// accepts all). Members whose buffer is full or that are closing are
// skipped. Returns the number of members the frame was queued for.
func (cm *ConnectionManager) Broadcast(company string, msg []byte, pred func(*Connection) bool) int {
	targets := cm.snapshot(company, pred)

	delivered, dropped := 0, 0
	for _, conn := range targets {
		if conn.Enqueue(msg) {
			delivered++
			continue
		}
		dropped++
		log.Warn().
			Str("connection_id", conn.ID).
			Str("company", company).
			Msg("connection not writable, skipping frame")
	}
	cm.metrics.BroadcastDelivered(delivered, dropped)
	return delivered
}

// BroadcastFrame marshals frame once and broadcasts it.
func (cm *ConnectionManager) BroadcastFrame(company string, frame any, pred func(*Connection) bool) int {
	data, err := events.Encode(frame)
	if err != nil {
		log.Error().Err(err).Str("company", company).Msg("failed to marshal frame for broadcast")
		return 0
	}
	return cm.Broadcast(company, data, pred)
}

// MembersWithRole returns the members of company whose page is role,
// excluding exclude when non-nil.
func (cm *ConnectionManager) MembersWithRole(company string, role validate.Role, exclude *Connection) []*Connection {
	return cm.snapshot(company, func(c *Connection) bool {
		return c != exclude && c.Page() == role
	})
}

// Get returns a registered connection by ID.
func (cm *ConnectionManager) Get(id string) (*Connection, bool) {
	cm.mu.RLock()
	defer cm.mu.RUnlock()
	c, ok := cm.connections[id]
	return c, ok
}

// Connections returns a snapshot of every registered connection.
func (cm *ConnectionManager) Connections() []*Connection {
	cm.mu.RLock()
	defer cm.mu.RUnlock()
	out := make([]*Connection, 0, len(cm.connections))
	for _, c := range cm.connections {
		out = append(out, c)
	}
	return out
}

// Teardown closes c, removes it from its room and runs the registered
// hooks. Only the first call has any effect.
func (cm *ConnectionManager) Teardown(c *Connection, reason string) {
	c.closeOnce.Do(func() {
		company := c.Company()

		c.mu.Lock()
		c.closed = true
		c.mu.Unlock()
		close(c.done)

		cm.Leave(c)

		cm.mu.Lock()
		delete(cm.connections, c.ID)
		cm.mu.Unlock()

		for _, fn := range cm.onTeardown {
			fn(c)
		}

		if c.Conn != nil {
			_ = c.Conn.Close()
		}

		cm.metrics.ConnectionClosed(reason)
		log.Info().
			Str("connection_id", c.ID).
			Str("company", company).
			Str("reason", reason).
			Msg("connection closed")
	})
}

// SweepLiveness nudges silent connections and terminates those silent for
// longer than the liveness timeout, or unjoined past the join timeout.
func (cm *ConnectionManager) SweepLiveness(now time.Time) (nudged, terminated int) {
	ping, err := events.Encode(events.NewHeartbeat(events.ActionPing, now))
	if err != nil {
		return 0, 0
	}

	for _, c := range cm.Connections() {
		silence := now.Sub(c.LastSeen())
		switch {
		case silence > cm.config.LivenessTimeout:
			c.Close("liveness timeout")
			terminated++
		case cm.config.JoinTimeout > 0 && c.State() == StateUnjoined && now.Sub(c.ConnectedAt) > cm.config.JoinTimeout:
			c.Close("join timeout")
			terminated++
		case silence >= cm.config.NudgeAfter:
			if c.Enqueue(ping) {
				nudged++
			}
		}
	}
	return nudged, terminated
}

// RoomStats summarizes one room.
type RoomStats struct {
	Company     string `json:"company"`
	Connections int    `json:"connections"`
}

// Stats holds registry counters.
type Stats struct {
	TotalConnections int         `json:"total_connections"`
	ActiveRooms      int         `json:"active_rooms"`
	Rooms            []RoomStats `json:"rooms"`
}

// GetConnectionStats returns statistics about active connections
func (cm *ConnectionManager) GetConnectionStats() Stats {
	cm.mu.RLock()
	defer cm.mu.RUnlock()

	stats := Stats{
		TotalConnections: len(cm.connections),
		ActiveRooms:      len(cm.rooms),
		Rooms:            make([]RoomStats, 0, len(cm.rooms)),
	}
	for company, room := range cm.rooms {
		stats.Rooms = append(stats.Rooms, RoomStats{Company: company, Connections: len(room)})
	}
	sort.Slice(stats.Rooms, func(i, j int) bool { return stats.Rooms[i].Company < stats.Rooms[j].Company })
	return stats
}
