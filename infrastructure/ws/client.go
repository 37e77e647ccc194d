package ws

import (
	"errors"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/gorilla/websocket"
	"go.uber.org/zap"
)

const (
	// Time allowed to write a message
	writeWait = 10 * time.Second

	// Time allowed to read next pong message
	pongWait = 60 * time.Second

	// Send pings with this period (must be less than pongWait)
	pingPeriod = (pongWait * 9) / 10

	// Max inbound frame size
	maxMessageSize = 64 * 1024

	DefaultSendBufferSize = 256
)

var (
	ErrAlreadyIdentified = errors.New("connection already identified")
	ErrConnectionClosed  = errors.New("connection closed")
)

type clientState int

const (
	stateConnected clientState = iota
	stateIdentified
	stateClosed
)

// UserClient is one live connection. It starts Connected, becomes
// Identified once bound to a user, and ends Closed.
type UserClient struct {
	Id string

	hub  IHub
	conn *websocket.Conn
	send chan []byte

	mu       sync.Mutex
	state    clientState
	userId   int64
	failures int
}

func NewClient(hub IHub, conn *websocket.Conn, bufferSize int) *UserClient {
	if bufferSize <= 0 {
		bufferSize = DefaultSendBufferSize
	}
	return &UserClient{
		Id:   uuid.New().String(),
		hub:  hub,
		conn: conn,
		send: make(chan []byte, bufferSize),
	}
}

// Identify binds the connection to userId. Re-identifying as the same user
// is a no-op.
func (c *UserClient) Identify(userId int64) error {
	c.mu.Lock()
	defer c.mu.Unlock()

	switch c.state {
	case stateClosed:
		return ErrConnectionClosed
	case stateIdentified:
		if c.userId == userId {
			return nil
		}
		return ErrAlreadyIdentified
	}
	c.userId = userId
	c.state = stateIdentified
	return nil
}

func (c *UserClient) UserId() int64 {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.userId
}

func (c *UserClient) Identified() bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.state == stateIdentified
}

// Send enqueues without blocking. A full queue counts as a failure.
func (c *UserClient) Send(message []byte) bool {
	c.mu.Lock()
	defer c.mu.Unlock()

	if c.state == stateClosed {
		return false
	}
	select {
	case c.send <- message:
		c.failures = 0
		return true
	default:
		c.failures++
		return false
	}
}

// Failures is the number of consecutive failed enqueues.
func (c *UserClient) Failures() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.failures
}

// Outbound exposes the queue read by WritePump.
func (c *UserClient) Outbound() <-chan []byte {
	return c.send
}

// Close stops the write side; WritePump then closes the socket.
func (c *UserClient) Close() {
	c.mu.Lock()
	defer c.mu.Unlock()

	if c.state == stateClosed {
		return
	}
	c.state = stateClosed
	close(c.send)
}

// ReadPump pumps frames from the socket to handle until the socket fails,
// then unregisters the client.
func (c *UserClient) ReadPump(logger *zap.Logger, handle func(data []byte)) {
	defer func() {
		c.hub.UnregisterClient(c)
		c.conn.Close()
	}()

	c.conn.SetReadLimit(maxMessageSize)
	c.conn.SetReadDeadline(time.Now().Add(pongWait))
	c.conn.SetPongHandler(func(string) error {
		c.conn.SetReadDeadline(time.Now().Add(pongWait))
		return nil
	})

	for {
		_, message, err := c.conn.ReadMessage()
		if err != nil {
			if websocket.IsUnexpectedCloseError(err, websocket.CloseGoingAway, websocket.CloseAbnormalClosure) {
				logger.Warn("unexpected close", zap.String("connection", c.Id), zap.Int64("user", c.UserId()), zap.Error(err))
			}
			return
		}
		handle(message)
	}
}

// WritePump pumps queued messages to the socket and keeps it alive with pings.
func (c *UserClient) WritePump(logger *zap.Logger) {
	ticker := time.NewTicker(pingPeriod)
	defer func() {
		ticker.Stop()
		c.conn.Close()
	}()

	for {
		select {
		case message, ok := <-c.send:
			c.conn.SetWriteDeadline(time.Now().Add(writeWait))
			if !ok {
				c.conn.WriteMessage(websocket.CloseMessage, []byte{})
				return
			}

			if err := c.conn.WriteMessage(websocket.TextMessage, message); err != nil {
				logger.Debug("write failed", zap.String("connection", c.Id), zap.Error(err))
				return
			}

		case <-ticker.C:
			c.conn.SetWriteDeadline(time.Now().Add(writeWait))
			if err := c.conn.WriteMessage(websocket.PingMessage, nil); err != nil {
				logger.Debug("ping failed", zap.String("connection", c.Id), zap.Error(err))
				return
			}
		}
	}
}
