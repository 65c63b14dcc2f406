package websocket

import (
	"log/slog"
	"net/http"
	"sync"

	"tradegateway/internal/streaming"

	"github.com/gin-gonic/gin"
	"github.com/gorilla/websocket"
)

// HTTP upgrade handler for downstream subscribers

// Handler upgrades /ws/all and /ws/:reference_id requests and registers the
// resulting clients with the fan-out registry.
type Handler struct {
	registry   *streaming.Registry
	metrics    *streaming.Metrics
	sendBuffer int
	logger     *slog.Logger
	upgrader   websocket.Upgrader

	mu      sync.Mutex
	clients map[*Client]struct{}
	closed  bool
}

// constructor for Handler
func NewHandler(registry *streaming.Registry, metrics *streaming.Metrics, sendBuffer int, logger *slog.Logger) *Handler {
	if logger == nil {
		logger = slog.Default()
	}
	return &Handler{
		registry:   registry,
		metrics:    metrics,
		sendBuffer: sendBuffer,
		logger:     logger,
		upgrader: websocket.Upgrader{
			ReadBufferSize:  1024,
			WriteBufferSize: 1024,
			// subscribers are internal services and browsers on any origin
			CheckOrigin: func(r *http.Request) bool {
				return true
			},
		},
		clients: make(map[*Client]struct{}),
	}
}

// RegisterRoutes mounts the subscriber endpoints.
func (h *Handler) RegisterRoutes(r gin.IRouter) {
	r.GET("/ws/all", h.AllHandler())
	r.GET("/ws/:reference_id", h.ReferenceHandler())
}

// AllHandler: subscriber receives every decoded message
func (h *Handler) AllHandler() gin.HandlerFunc {
	return func(c *gin.Context) {
		h.serve(c, "")
	}
}

// ReferenceHandler: subscriber receives messages for one reference id
func (h *Handler) ReferenceHandler() gin.HandlerFunc {
	return func(c *gin.Context) {
		ref := c.Param("reference_id")
		if ref == "" {
			c.JSON(http.StatusBadRequest, gin.H{"error": "reference_id is required"})
			return
		}
		h.serve(c, ref)
	}
}

// serve upgrades the connection and blocks until the client goes away.
func (h *Handler) serve(c *gin.Context, ref string) {
	conn, err := h.upgrader.Upgrade(c.Writer, c.Request, nil)
	if err != nil {
		// the upgrader has already written the error response
		h.logger.Warn("websocket_upgrade_failed", "path", c.Request.URL.Path, "error", err.Error())
		return
	}

	client := NewClient(conn, ref, h.sendBuffer, h.registry, h.logger)
	scope := client.Scope()
	client.onClose = func() {
		h.metrics.ClientDisconnected(scope)
		h.untrack(client)
	}

	h.metrics.ClientConnected(scope)
	if ref == "" {
		h.registry.AddAll(client)
	} else {
		h.registry.AddRef(ref, client)
	}
	// registered first so a concurrent Shutdown either closes it or refuses it
	if !h.track(client) {
		client.Close()
		return
	}
	h.logger.Info("client_added",
		"client_id", client.ID,
		"reference_id", ref,
		"remote_addr", c.ClientIP(),
	)

	go client.WritePump()
	client.ReadPump()
}

// track records c unless Shutdown has already run.
func (h *Handler) track(c *Client) bool {
	h.mu.Lock()
	defer h.mu.Unlock()
	if h.closed {
		return false
	}
	h.clients[c] = struct{}{}
	return true
}

func (h *Handler) untrack(c *Client) {
	h.mu.Lock()
	delete(h.clients, c)
	h.mu.Unlock()
}

// ClientCount returns the number of open subscriber connections.
func (h *Handler) ClientCount() int {
	h.mu.Lock()
	defer h.mu.Unlock()
	return len(h.clients)
}

// Shutdown closes every open subscriber and refuses new ones. Hijacked
// connections are not covered by http.Server.Shutdown.
func (h *Handler) Shutdown() {
	h.mu.Lock()
	h.closed = true
	clients := make([]*Client, 0, len(h.clients))
	for c := range h.clients {
		clients = append(clients, c)
	}
	h.mu.Unlock()

	for _, c := range clients {
		c.Close()
	}
	h.logger.Info("subscribers_closed", "count", len(clients))
}
