package gateway

import (
	"errors"
	"net/http"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/gorilla/websocket"
	"github.com/rs/zerolog/log"

	"github.com/mcdev12/typerace/go/internal/race/events"
)

// ConnectionConfig holds configuration for WebSocket connections
type ConnectionConfig struct {
	WriteTimeout    time.Duration
	ReadTimeout     time.Duration
	PingInterval    time.Duration
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
		MaxMessageSize:  64 * 1024, // race text arrives with race:start
		ReadBufferSize:  1024,
		WriteBufferSize: 1024,
		SendBufferSize:  256,
	}
}

// Connection is one authenticated client socket. It is the session of the user bound at
// handshake and the handle rooms and presence address.
type Connection struct {
	id     string
	userID string
	email  string

	conn   *websocket.Conn
	send   chan []byte
	closed chan struct{}
	once   sync.Once

	hub    *Hub
	config ConnectionConfig

	ConnectedAt time.Time
}

func newConnection(conn *websocket.Conn, identity *Identity, hub *Hub, config ConnectionConfig) *Connection {
	return &Connection{
		id:          uuid.New().String(),
		userID:      identity.UserID,
		email:       identity.Email,
		conn:        conn,
		send:        make(chan []byte, config.SendBufferSize),
		closed:      make(chan struct{}),
		hub:         hub,
		config:      config,
		ConnectedAt: time.Now(),
	}
}

func (c *Connection) ID() string     { return c.id }
func (c *Connection) UserID() string { return c.userID }
func (c *Connection) Email() string  { return c.email }

// Send queues a frame for the write pump. It never blocks; a closed connection or a full
// buffer drops the frame.
func (c *Connection) Send(msg []byte) bool {
	select {
	case <-c.closed:
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

// Close stops the write pump, which closes the socket and in turn ends the read pump
func (c *Connection) Close() {
	c.once.Do(func() {
		close(c.closed)
	})
}

// writePump handles sending messages to the WebSocket connection
func (c *Connection) writePump() {
	ticker := time.NewTicker(c.config.PingInterval)
	defer func() {
		ticker.Stop()
		c.conn.Close()
	}()

	for {
		select {
		case <-c.closed:
			c.conn.SetWriteDeadline(time.Now().Add(c.config.WriteTimeout))
			c.conn.WriteMessage(websocket.CloseMessage, websocket.FormatCloseMessage(websocket.CloseNormalClosure, ""))
			return

		case message := <-c.send:
			c.conn.SetWriteDeadline(time.Now().Add(c.config.WriteTimeout))
			if err := c.conn.WriteMessage(websocket.TextMessage, message); err != nil {
				log.Error().
					Err(err).
					Str("connection_id", c.id).
					Msg("failed to write message to WebSocket")
				return
			}

		case <-ticker.C:
			c.conn.SetWriteDeadline(time.Now().Add(c.config.WriteTimeout))
			if err := c.conn.WriteMessage(websocket.PingMessage, nil); err != nil {
				log.Debug().
					Err(err).
					Str("connection_id", c.id).
					Msg("failed to send ping")
				return
			}
		}
	}
}

// readPump decodes client frames and hands them to the hub in arrival order. When the socket
// ends the hub treats it as a leave from every room the connection joined.
func (c *Connection) readPump() {
	defer func() {
		c.hub.Disconnect(c)
		c.Close()
	}()

	c.conn.SetReadLimit(c.config.MaxMessageSize)
	c.conn.SetReadDeadline(time.Now().Add(c.config.ReadTimeout))
	c.conn.SetPongHandler(func(string) error {
		c.conn.SetReadDeadline(time.Now().Add(c.config.ReadTimeout))
		return nil
	})

	for {
		_, message, err := c.conn.ReadMessage()
		if err != nil {
			if websocket.IsUnexpectedCloseError(err, websocket.CloseGoingAway, websocket.CloseNormalClosure, websocket.CloseAbnormalClosure) {
				log.Warn().
					Err(err).
					Str("connection_id", c.id).
					Msg("unexpected WebSocket close error")
			}
			return
		}
		c.conn.SetReadDeadline(time.Now().Add(c.config.ReadTimeout))

		cmd, err := events.DecodeCommand(message)
		if err != nil {
			level := log.Debug()
			if !errors.Is(err, events.ErrUnknownEvent) && !errors.Is(err, events.ErrMalformedFrame) {
				level = log.Warn()
			}
			level.Err(err).
				Str("connection_id", c.id).
				Str("user_id", c.userID).
				Msg("dropping client frame")
			continue
		}

		if !c.hub.Dispatch(c, cmd) {
			return
		}
	}
}
