package gateway

import (
	"sync"
	"time"

	"github.com/gorilla/websocket"
	"github.com/rs/zerolog/log"

	"github.com/mcdev12/floorsync/go/internal/floor/events"
	"github.com/mcdev12/floorsync/go/internal/floor/validate"
)

// ConnState is the lifecycle position of a connection.
type ConnState int

const (
	StateUnjoined ConnState = iota
	StateJoined
	StatePageSelected
	StateClosed
)

func (s ConnState) String() string {
	switch s {
	case StateUnjoined:
		return "unjoined"
	case StateJoined:
		return "joined"
	case StatePageSelected:
		return "page_selected"
	case StateClosed:
		return "closed"
	default:
		return "unknown"
	}
}

// Connection represents a WebSocket connection to a station device
type Connection struct {
	ID          string
	Conn        *websocket.Conn // nil for in-memory connections
	RemoteAddr  string
	ConnectedAt time.Time
	Manager     *ConnectionManager

	send      chan []byte
	inbound   chan []byte
	done      chan struct{}
	closeOnce sync.Once

	mu       sync.Mutex
	company  string
	page     validate.Role
	userID   string
	closed   bool
	lastSeen time.Time
}

// Company returns the room the connection is in, or "".
func (c *Connection) Company() string {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.company
}

// Page returns the selected page role, or "".
func (c *Connection) Page() validate.Role {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.page
}

// UserID returns the optional client-supplied identity.
func (c *Connection) UserID() string {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.userID
}

func (c *Connection) State() ConnState {
	c.mu.Lock()
	defer c.mu.Unlock()
	switch {
	case c.closed:
		return StateClosed
	case c.page != "":
		return StatePageSelected
	case c.company != "":
		return StateJoined
	default:
		return StateUnjoined
	}
}

// LastSeen is the last instant the peer proved it was alive.
func (c *Connection) LastSeen() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.lastSeen
}

// Touch records liveness at now.
func (c *Connection) Touch(now time.Time) {
	c.mu.Lock()
	if now.After(c.lastSeen) {
		c.lastSeen = now
	}
	c.mu.Unlock()
}

func (c *Connection) setRoom(company string) {
	c.mu.Lock()
	if c.company != company {
		c.page = ""
	}
	c.company = company
	c.mu.Unlock()
}

func (c *Connection) setPage(role validate.Role, userID string) {
	c.mu.Lock()
	c.page = role
	if userID != "" {
		c.userID = userID
	}
	c.mu.Unlock()
}

// Done is closed once the connection is torn down.
func (c *Connection) Done() <-chan struct{} {
	return c.done
}

// Outbound exposes queued frames. Used by the write pump and by tests.
func (c *Connection) Outbound() <-chan []byte {
	return c.send
}

// Enqueue queues a frame without blocking. It returns false when the
// connection is closed or its buffer is full.
func (c *Connection) Enqueue(msg []byte) bool {
	select {
	case <-c.done:
		return false
	default:
	}
	select {
	case c.send <- msg:
		return true
	default:
		return false
	}
}

// SendFrame marshals v and queues it for this connection only.
func (c *Connection) SendFrame(v any) bool {
	data, err := events.Encode(v)
	if err != nil {
		log.Error().Err(err).Str("connection_id", c.ID).Msg("failed to marshal frame")
		return false
	}
	return c.Enqueue(data)
}

// Close tears the connection down. Safe to call any number of times.
func (c *Connection) Close(reason string) {
	c.Manager.Teardown(c, reason)
}

// writePump handles sending messages to the WebSocket connection
func (c *Connection) writePump() {
	cfg := c.Manager.config
	ticker := time.NewTicker(cfg.PingInterval)
	defer func() {
		ticker.Stop()
		c.Close("write pump exited")
	}()

	for {
		select {
		case <-c.done:
			_ = c.Conn.SetWriteDeadline(time.Now().Add(cfg.WriteTimeout))
			_ = c.Conn.WriteMessage(websocket.CloseMessage, websocket.FormatCloseMessage(websocket.CloseNormalClosure, ""))
			return

		case message := <-c.send:
			_ = c.Conn.SetWriteDeadline(time.Now().Add(cfg.WriteTimeout))
			if err := c.Conn.WriteMessage(websocket.TextMessage, message); err != nil {
				log.Warn().
					Err(err).
					Str("connection_id", c.ID).
					Msg("failed to write message to WebSocket")
				return
			}

		case <-ticker.C:
			_ = c.Conn.SetWriteDeadline(time.Now().Add(cfg.WriteTimeout))
			if err := c.Conn.WriteMessage(websocket.PingMessage, nil); err != nil {
				log.Warn().
					Err(err).
					Str("connection_id", c.ID).
					Msg("failed to send ping")
				return
			}
		}
	}
}

// readPump reads frames off the socket and hands them to the inbound queue
func (c *Connection) readPump() {
	cfg := c.Manager.config
	defer func() {
		close(c.inbound)
		c.Close("read pump exited")
	}()

	c.Conn.SetReadLimit(cfg.MaxMessageSize)
	_ = c.Conn.SetReadDeadline(time.Now().Add(cfg.ReadTimeout))
	c.Conn.SetPongHandler(func(string) error {
		_ = c.Conn.SetReadDeadline(time.Now().Add(cfg.ReadTimeout))
		c.Touch(c.Manager.clock.Now())
		return nil
	})

	for {
		msgType, message, err := c.Conn.ReadMessage()
		if err != nil {
			if websocket.IsUnexpectedCloseError(err, websocket.CloseGoingAway, websocket.CloseNormalClosure, websocket.CloseNoStatusReceived) {
				log.Warn().
					Err(err).
					Str("connection_id", c.ID).
					Msg("unexpected WebSocket close error")
			}
			return
		}
		_ = c.Conn.SetReadDeadline(time.Now().Add(cfg.ReadTimeout))
		if msgType != websocket.TextMessage && msgType != websocket.BinaryMessage {
			continue
		}

		select {
		case c.inbound <- message:
		case <-c.done:
			return
		}
	}
}

// processLoop handles inbound frames one at a time, in arrival order.
func (c *Connection) processLoop() {
	for message := range c.inbound {
		c.Manager.dispatch(c, message)
	}
}
