package handler

import (
	"context"
	"errors"
	"log/slog"
	"net/http"
	"time"

	"tradegateway/internal/microservices/http-api/dto"
	"tradegateway/internal/microservices/http-api/service"

	"github.com/gin-gonic/gin"
)

type SubscriptionHandler struct {
	svc service.SubscriptionService
}

func NewSubscriptionHandler(svc service.SubscriptionService) *SubscriptionHandler {
	return &SubscriptionHandler{svc: svc}
}

func (h *SubscriptionHandler) RegisterRoutes(rg *gin.RouterGroup) {
	rg.GET("", h.List)
	rg.POST("", h.Create)
	rg.DELETE("", h.DeleteByContext)
	rg.GET("/:reference_id", h.Get)
	rg.DELETE("/:reference_id", h.Delete)
	rg.GET("/:reference_id/last", h.Last)
}

// List subscriptions, optionally for one context id
func (h *SubscriptionHandler) List(c *gin.Context) {
	ctx, cancel := context.WithTimeout(c.Request.Context(), 5*time.Second)
	defer cancel()

	subs, err := h.svc.List(ctx, c.Query("context_id"))
	if err != nil {
		writeError(c, err)
		return
	}

	c.JSON(http.StatusOK, dto.SubscriptionListResponse{
		Items: subs,
		Total: len(subs),
	})
}

// Get returns one subscription by reference id
func (h *SubscriptionHandler) Get(c *gin.Context) {
	ctx, cancel := context.WithTimeout(c.Request.Context(), 5*time.Second)
	defer cancel()

	sub, err := h.svc.Get(ctx, c.Param("reference_id"))
	if err != nil {
		writeError(c, err)
		return
	}
	c.JSON(http.StatusOK, sub)
}

// Create records a subscription
func (h *SubscriptionHandler) Create(c *gin.Context) {
	var req dto.CreateSubscriptionRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}

	ctx, cancel := context.WithTimeout(c.Request.Context(), 5*time.Second)
	defer cancel()

	sub, err := h.svc.Create(ctx, req)
	if err != nil {
		writeError(c, err)
		return
	}

	slog.Info("subscription_created", "reference_id", sub.ReferenceID, "context_id", sub.ContextID)
	c.JSON(http.StatusCreated, sub)
}

// Delete removes one subscription by reference id
func (h *SubscriptionHandler) Delete(c *gin.Context) {
	ref := c.Param("reference_id")

	ctx, cancel := context.WithTimeout(c.Request.Context(), 5*time.Second)
	defer cancel()

	if err := h.svc.Delete(ctx, ref); err != nil {
		writeError(c, err)
		return
	}

	slog.Info("subscription_deleted", "reference_id", ref)
	c.JSON(http.StatusOK, gin.H{"message": "subscription removed"})
}

// DeleteByContext removes all subscriptions of a context, optionally one tag
func (h *SubscriptionHandler) DeleteByContext(c *gin.Context) {
	ctx, cancel := context.WithTimeout(c.Request.Context(), 5*time.Second)
	defer cancel()

	n, err := h.svc.DeleteByContext(ctx, c.Query("context_id"), c.Query("tag"))
	if err != nil {
		writeError(c, err)
		return
	}

	c.JSON(http.StatusOK, gin.H{"message": "subscriptions removed", "removed": n})
}

// Last returns the most recent message seen for a reference id
func (h *SubscriptionHandler) Last(c *gin.Context) {
	msg, err := h.svc.LastMessage(c.Param("reference_id"))
	if err != nil {
		writeError(c, err)
		return
	}

	c.JSON(http.StatusOK, dto.LastMessageResponse{
		MessageID:   msg.ID,
		ReferenceID: msg.ReferenceID,
		Payload:     msg.Payload,
	})
}

// writeError maps service errors to status codes
func writeError(c *gin.Context, err error) {
	switch {
	case errors.Is(err, service.ErrInvalidSubscription):
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
	case errors.Is(err, service.ErrSubscriptionNotFound), errors.Is(err, service.ErrNoLastMessage):
		c.JSON(http.StatusNotFound, gin.H{"error": err.Error()})
	case errors.Is(err, service.ErrSubscriptionExists):
		c.JSON(http.StatusConflict, gin.H{"error": err.Error()})
	case errors.Is(err, service.ErrNoStore):
		c.JSON(http.StatusServiceUnavailable, gin.H{"error": err.Error()})
	default:
		slog.Error("subscription_request_failed", "path", c.FullPath(), "error", err.Error())
		c.JSON(http.StatusInternalServerError, gin.H{"error": "internal server error"})
	}
}
