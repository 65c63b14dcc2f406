package streaming

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"net/url"
	"strings"
	"sync/atomic"
	"time"

	"github.com/gorilla/websocket"
)

// TokenSource yields the bearer token used for the next connection attempt.
type TokenSource interface {
	Token(ctx context.Context) (string, error)
}

type State int32

const (
	StateDisconnected State = iota
	StateConnecting
	StateConnected
)

func (s State) String() string {
	switch s {
	case StateConnecting:
		return "connecting"
	case StateConnected:
		return "connected"
	default:
		return "disconnected"
	}
}

// disconnectReference is the broker control message asking the client to
// drop and re-establish the stream.
const disconnectReference = "_disconnect"

var (
	ErrInvalidConfig  = errors.New("invalid connector config")
	errResetRequested = errors.New("server requested stream reset")
)

type ConnectorConfig struct {
	URL              string // streaming base URL, ws:// or wss://
	ContextID        string
	PingInterval     time.Duration
	PongTimeout      time.Duration
	HandshakeTimeout time.Duration
	BackoffFloor     time.Duration
	BackoffCeiling   time.Duration
}

// Connector owns the single upstream connection to the broker stream and
// feeds every decoded message into the Registry.
type Connector struct {
	cfg      ConnectorConfig
	base     *url.URL
	tokens   TokenSource
	registry *Registry
	last     *LastMessages
	metrics  *Metrics
	logger   *slog.Logger
	dialer   *websocket.Dialer
	backoff  *Backoff
	sleep    func(ctx context.Context, d time.Duration) error
	state    atomic.Int32
}

type ConnectorOption func(*Connector)

func WithLogger(logger *slog.Logger) ConnectorOption {
	return func(c *Connector) { c.logger = logger }
}

func WithMetrics(m *Metrics) ConnectorOption {
	return func(c *Connector) { c.metrics = m }
}

func WithLastMessages(last *LastMessages) ConnectorOption {
	return func(c *Connector) { c.last = last }
}

func WithDialer(d *websocket.Dialer) ConnectorOption {
	return func(c *Connector) { c.dialer = d }
}

// NewConnector validates cfg and builds a connector. A configuration error is
// the only failure the streaming core reports to its caller.
func NewConnector(cfg ConnectorConfig, tokens TokenSource, registry *Registry, opts ...ConnectorOption) (*Connector, error) {
	base, err := url.Parse(cfg.URL)
	if err != nil {
		return nil, fmt.Errorf("%w: parse url: %v", ErrInvalidConfig, err)
	}
	if (base.Scheme != "ws" && base.Scheme != "wss") || base.Host == "" {
		return nil, fmt.Errorf("%w: url %q must be ws:// or wss://", ErrInvalidConfig, cfg.URL)
	}
	if strings.TrimSpace(cfg.ContextID) == "" {
		return nil, fmt.Errorf("%w: context id is required", ErrInvalidConfig)
	}
	if tokens == nil || registry == nil {
		return nil, fmt.Errorf("%w: token source and registry are required", ErrInvalidConfig)
	}

	if cfg.PingInterval <= 0 {
		cfg.PingInterval = 20 * time.Second
	}
	if cfg.PongTimeout <= 0 {
		cfg.PongTimeout = 10 * time.Second
	}
	if cfg.HandshakeTimeout <= 0 {
		cfg.HandshakeTimeout = 10 * time.Second
	}
	if cfg.BackoffFloor <= 0 {
		cfg.BackoffFloor = time.Second
	}
	if cfg.BackoffCeiling <= 0 {
		cfg.BackoffCeiling = 15 * time.Second
	}

	c := &Connector{
		cfg:      cfg,
		base:     base,
		tokens:   tokens,
		registry: registry,
		logger:   slog.Default(),
		backoff:  NewBackoff(cfg.BackoffFloor, cfg.BackoffCeiling),
		sleep:    sleepContext,
		dialer: &websocket.Dialer{
			Proxy:            http.ProxyFromEnvironment,
			HandshakeTimeout: cfg.HandshakeTimeout,
		},
	}
	for _, opt := range opts {
		opt(c)
	}
	return c, nil
}

// URL builds the connection URL for token. The authorization value keeps the
// %20 separator the broker expects.
func (c *Connector) URL(token string) string {
	u := *c.base
	query := "contextId=" + url.QueryEscape(c.cfg.ContextID) +
		"&authorization=" + strings.ReplaceAll(url.QueryEscape("Bearer "+token), "+", "%20")
	if u.RawQuery != "" {
		query = u.RawQuery + "&" + query
	}
	u.RawQuery = query
	return u.String()
}

func (c *Connector) State() State {
	return State(c.state.Load())
}

func (c *Connector) Connected() bool {
	return c.State() == StateConnected
}

func (c *Connector) setState(s State) {
	c.state.Store(int32(s))
}

// Run keeps the upstream connection alive until ctx is cancelled, retrying
// forever with backoff. It returns after the active socket is closed.
func (c *Connector) Run(ctx context.Context) {
	c.logger.Info("upstream_starting",
		"endpoint", c.base.String(),
		"context_id", c.cfg.ContextID,
	)

	for attempt := 0; ; attempt++ {
		if ctx.Err() != nil {
			break
		}
		if attempt > 0 {
			c.metrics.reconnect()
		}

		err := c.connectAndServe(ctx)
		c.setState(StateDisconnected)
		if ctx.Err() != nil {
			break
		}

		switch {
		case errors.Is(err, errResetRequested):
			c.logger.Info("upstream_reset_requested", "context_id", c.cfg.ContextID)
		case err != nil:
			c.logger.Warn("upstream_disconnected", "error", err.Error())
		default:
			c.logger.Warn("upstream_closed")
		}

		delay := c.backoff.Next()
		c.logger.Info("upstream_backoff", "delay", delay.String())
		if err := c.sleep(ctx, delay); err != nil {
			break
		}
	}

	c.setState(StateDisconnected)
	c.logger.Info("upstream_stopped")
}

// connectAndServe runs one connection from dial to disconnect.
func (c *Connector) connectAndServe(ctx context.Context) error {
	c.setState(StateConnecting)

	token, err := c.tokens.Token(ctx)
	if err != nil {
		return fmt.Errorf("get token: %w", err)
	}
	if token == "" {
		return errors.New("get token: empty token")
	}

	header := http.Header{}
	header.Set("Authorization", "Bearer "+token)

	conn, resp, err := c.dialer.DialContext(ctx, c.URL(token), header)
	if err != nil {
		if resp != nil {
			return fmt.Errorf("dial: %w (status %d)", err, resp.StatusCode)
		}
		return fmt.Errorf("dial: %w", err)
	}
	defer conn.Close()

	c.backoff.Reset()
	c.setState(StateConnected)
	c.metrics.connected(true)
	defer c.metrics.connected(false)
	c.logger.Info("upstream_connected", "context_id", c.cfg.ContextID)

	readWait := c.cfg.PingInterval + c.cfg.PongTimeout
	_ = conn.SetReadDeadline(time.Now().Add(readWait))
	conn.SetPongHandler(func(string) error {
		return conn.SetReadDeadline(time.Now().Add(readWait))
	})

	done := make(chan struct{})
	defer close(done)
	go c.keepalive(ctx, conn, done)

	for {
		msgType, data, err := conn.ReadMessage()
		if err != nil {
			if ctx.Err() != nil {
				return nil
			}
			return fmt.Errorf("read: %w", err)
		}

		if err := c.handleFrame(msgType, data); err != nil {
			_ = conn.WriteControl(websocket.CloseMessage,
				websocket.FormatCloseMessage(websocket.CloseNormalClosure, "reset"),
				time.Now().Add(time.Second))
			return err
		}
	}
}

// keepalive is the only writer on conn besides the close frames. It pings on
// every interval and closes the socket on shutdown or a failed ping.
func (c *Connector) keepalive(ctx context.Context, conn *websocket.Conn, done <-chan struct{}) {
	ticker := time.NewTicker(c.cfg.PingInterval)
	defer ticker.Stop()

	for {
		select {
		case <-done:
			return
		case <-ctx.Done():
			_ = conn.WriteControl(websocket.CloseMessage,
				websocket.FormatCloseMessage(websocket.CloseNormalClosure, "shutdown"),
				time.Now().Add(time.Second))
			_ = conn.Close()
			return
		case <-ticker.C:
			if err := conn.WriteControl(websocket.PingMessage, []byte("ping"), time.Now().Add(c.cfg.PongTimeout)); err != nil {
				c.logger.Warn("upstream_ping_failed", "error", err.Error())
				_ = conn.Close()
				return
			}
		}
	}
}

// handleFrame decodes and broadcasts one inbound frame. It returns
// errResetRequested when the server asked for the stream to be re-established.
func (c *Connector) handleFrame(msgType int, data []byte) error {
	switch msgType {
	case websocket.BinaryMessage:
		c.metrics.frame("binary")
		reset := false
		for msg, err := range Decode(data) {
			if err != nil {
				c.metrics.decodeError()
				c.logger.Warn("frame_decode_error", "error", err.Error(), "frame_size", len(data))
				continue
			}
			c.metrics.decoded()
			c.dispatch(msg)
			if msg.ReferenceID == disconnectReference {
				reset = true
			}
		}
		if reset {
			c.metrics.reset()
			return errResetRequested
		}

	case websocket.TextMessage:
		c.metrics.frame("text")
		if isResetSignal(data) {
			c.metrics.reset()
			return errResetRequested
		}
		c.logger.Debug("upstream_text_frame", "size", len(data))
	}
	return nil
}

func (c *Connector) dispatch(msg Message) {
	payload, err := msg.Envelope()
	if err != nil {
		c.logger.Warn("envelope_marshal_failed",
			"message_id", msg.ID,
			"reference_id", msg.ReferenceID,
			"error", err.Error(),
		)
		return
	}
	if c.last != nil {
		c.last.Store(msg)
	}

	c.metrics.pushed("all", c.registry.PushAll(payload))
	c.metrics.pushed("ref", c.registry.PushRef(msg.ReferenceID, payload))
	c.logger.Debug("message_dispatched", "message_id", msg.ID, "reference_id", msg.ReferenceID)
}

// isResetSignal reports whether a JSON control message asks for a reset:
// a truthy Reset or ResetRequired field, or Reason "Reset".
func isResetSignal(data []byte) bool {
	var obj map[string]any
	if err := json.Unmarshal(data, &obj); err != nil {
		return false
	}
	if truthy(obj["Reset"]) || truthy(obj["ResetRequired"]) {
		return true
	}
	reason, _ := obj["Reason"].(string)
	return reason == "Reset"
}

func truthy(v any) bool {
	switch t := v.(type) {
	case bool:
		return t
	case float64:
		return t != 0
	case string:
		return t != ""
	default:
		return false
	}
}
