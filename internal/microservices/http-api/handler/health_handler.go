package handler

import (
	"context"
	"net/http"
	"time"

	"tradegateway/internal/streaming"

	"github.com/gin-gonic/gin"
)

// UpstreamStatus reports the broker connection state.
type UpstreamStatus interface {
	State() streaming.State
}

// StorePinger checks the subscription store.
type StorePinger interface {
	Ping(ctx context.Context) error
}

type HealthHandler struct {
	upstream UpstreamStatus
	store    StorePinger
	registry *streaming.Registry
}

func NewHealthHandler(upstream UpstreamStatus, store StorePinger, registry *streaming.Registry) *HealthHandler {
	return &HealthHandler{upstream: upstream, store: store, registry: registry}
}

func (h *HealthHandler) RegisterRoutes(r gin.IRouter) {
	r.GET("/health", h.Health)
	r.GET("/ready", h.Ready)
}

// Health is healthy only while the broker stream is up and the store answers.
func (h *HealthHandler) Health(c *gin.Context) {
	state := h.upstream.State()
	healthy := state == streaming.StateConnected
	message := "Service is running."
	if !healthy {
		message = "Service is not connected to the broker stream."
	}

	if healthy && h.store != nil {
		ctx, cancel := context.WithTimeout(c.Request.Context(), 2*time.Second)
		defer cancel()
		if err := h.store.Ping(ctx); err != nil {
			healthy = false
			message = "Subscription store is unreachable."
		}
	}

	code := http.StatusOK
	status := "healthy"
	if !healthy {
		code = http.StatusServiceUnavailable
		status = "unhealthy"
	}

	c.JSON(code, gin.H{
		"status":      status,
		"message":     message,
		"status_code": code,
		"upstream":    state.String(),
		"subscribers": gin.H{
			"all":        h.registry.AllCount(),
			"references": h.registry.References(),
		},
	})
}

func (h *HealthHandler) Ready(c *gin.Context) {
	c.JSON(http.StatusOK, gin.H{
		"status":      "ready",
		"message":     "Service is ready to accept requests.",
		"status_code": http.StatusOK,
	})
}
