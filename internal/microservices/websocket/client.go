package websocket

import (
	"errors"
	"log/slog"
	"sync"
	"time"

	"tradegateway/internal/streaming"

	"github.com/google/uuid"
	"github.com/gorilla/websocket"
	"golang.org/x/time/rate"
)

// Individual downstream subscriber connection.
// Clients are receive-only: whatever they send is read and discarded.

const ( // ping pong(2-way heartbeat) to keep connection alive
	WriteWait      = 10 * time.Second    // max time write a message to the peer
	PongWait       = 60 * time.Second    // max time to wait for pong from peer => no pong = no connection
	PingPeriod     = (PongWait * 9) / 10 // ping before pong wait expires
	MaxMessageSize = 512                 // maximum message size allowed from peer
)

const (
	DefaultSendBuffer = 256
	inboundRatePerSec = 10 // inbound msgs/sec, burst of inboundBurst
	inboundBurst      = 20
)

var (
	ErrClientClosed   = errors.New("client closed")
	ErrSendBufferFull = errors.New("client send buffer full")
)

type Client struct {
	ID          string          // unique client ID
	ReferenceID string          // subscribed reference id, empty for /ws/all
	Conn        *websocket.Conn // WebSocket connection
	SendChannel chan []byte     // outbound payloads, drained by WritePump
	Limiter     *rate.Limiter   // inbound message limiter

	registry  *streaming.Registry
	logger    *slog.Logger
	done      chan struct{}
	closeOnce sync.Once
	onClose   func()
}

// constructor new client
func NewClient(conn *websocket.Conn, referenceID string, sendBuffer int, registry *streaming.Registry, logger *slog.Logger) *Client {
	if sendBuffer < 1 {
		sendBuffer = DefaultSendBuffer
	}
	if logger == nil {
		logger = slog.Default()
	}
	id := uuid.NewString()
	return &Client{
		ID:          id,
		ReferenceID: referenceID,
		Conn:        conn,
		SendChannel: make(chan []byte, sendBuffer),
		Limiter:     rate.NewLimiter(rate.Limit(inboundRatePerSec), inboundBurst),
		registry:    registry,
		logger:      logger.With("client_id", id),
		done:        make(chan struct{}),
	}
}

// Scope is the metrics label for the client's subscription kind.
func (c *Client) Scope() string {
	if c.ReferenceID == "" {
		return "all"
	}
	return "ref"
}

// Send enqueues payload without blocking. A client that cannot keep up is
// closed, so the registry drops it on the returned error.
func (c *Client) Send(payload []byte) error {
	select {
	case <-c.done:
		return ErrClientClosed
	default:
	}

	select {
	case c.SendChannel <- payload:
		return nil
	case <-c.done:
		return ErrClientClosed
	default:
		c.logger.Warn("client_send_buffer_full", "reference_id", c.ReferenceID)
		c.Close()
		return ErrSendBufferFull
	}
}

// ReadPump blocks until the peer goes away. It keeps the read deadline moving
// on pongs and drops the client if it floods the socket.
func (c *Client) ReadPump() {
	defer c.Close()

	c.Conn.SetReadLimit(MaxMessageSize)
	_ = c.Conn.SetReadDeadline(time.Now().Add(PongWait))
	c.Conn.SetPongHandler(func(string) error {
		return c.Conn.SetReadDeadline(time.Now().Add(PongWait))
	})

	for {
		if _, _, err := c.Conn.ReadMessage(); err != nil {
			if websocket.IsUnexpectedCloseError(err, websocket.CloseGoingAway, websocket.CloseNormalClosure) {
				c.logger.Debug("client_read_error", "error", err.Error())
			}
			return
		}
		if !c.Limiter.Allow() {
			c.logger.Warn("client_rate_limited")
			_ = c.Conn.WriteControl(websocket.CloseMessage,
				websocket.FormatCloseMessage(websocket.ClosePolicyViolation, "rate limit exceeded"),
				time.Now().Add(WriteWait))
			return
		}
	}
}

// WritePump is the only writer of data frames on the connection.
func (c *Client) WritePump() {
	ticker := time.NewTicker(PingPeriod)
	defer func() {
		ticker.Stop()
		c.Close()
	}()

	for {
		select {
		case payload := <-c.SendChannel:
			_ = c.Conn.SetWriteDeadline(time.Now().Add(WriteWait))
			if err := c.Conn.WriteMessage(websocket.TextMessage, payload); err != nil {
				c.logger.Debug("client_write_failed", "error", err.Error())
				return
			}
		case <-ticker.C:
			if err := c.Conn.WriteControl(websocket.PingMessage, nil, time.Now().Add(WriteWait)); err != nil {
				return
			}
		case <-c.done:
			_ = c.Conn.WriteControl(websocket.CloseMessage,
				websocket.FormatCloseMessage(websocket.CloseNormalClosure, ""),
				time.Now().Add(time.Second))
			return
		}
	}
}

// Close deregisters the client from every set and closes the socket. Safe to
// call more than once and from any goroutine.
func (c *Client) Close() {
	c.closeOnce.Do(func() {
		close(c.done)
		if c.registry != nil {
			c.registry.Remove(c)
		}
		_ = c.Conn.Close()
		if c.onClose != nil {
			c.onClose()
		}
		c.logger.Info("client_removed", "reference_id", c.ReferenceID)
	})
}

// Done is closed once the client has been closed.
func (c *Client) Done() <-chan struct{} {
	return c.done
}
