package analytics

import (
	"context"
	"errors"
	"net/http"
	"time"

	"github.com/gin-gonic/gin"

	"github.com/contextforge/contextforge/internal/auth"
	"github.com/contextforge/contextforge/internal/counters"
	"github.com/contextforge/contextforge/internal/logging"
	"github.com/contextforge/contextforge/internal/realtime"
	"github.com/contextforge/contextforge/internal/validation"
)

// maxEventDataEntries bounds the free-form data map of a usage event.
const maxEventDataEntries = 32

// Handler provides the analytics HTTP endpoints.
type Handler struct {
	service *Service
	hub     *realtime.Hub
}

// NewHandler creates a handler. hub may be nil, in which case the WebSocket
// endpoint is not registered.
func NewHandler(service *Service, hub *realtime.Hub) *Handler {
	return &Handler{service: service, hub: hub}
}

// RegisterProtectedRoutes sets up analytics routes. The group must require auth.
func (h *Handler) RegisterProtectedRoutes(r *gin.RouterGroup) {
	g := r.Group("/analytics")
	g.GET("/usage", h.GetUsage)
	g.GET("/insights", h.GetInsights)
	g.GET("/realtime", h.GetRealtime)
	g.POST("/realtime", h.RecordActivity)
	if h.hub != nil {
		g.GET("/realtime/ws", h.StreamRealtime)
	}
}

// GetUsage handles GET /v1/analytics/usage?range=.
func (h *Handler) GetUsage(c *gin.Context) {
	res, err := h.service.Usage(c.Request.Context(), auth.UserID(c), c.Query("range"))
	if err != nil {
		respondError(c, err)
		return
	}
	c.JSON(http.StatusOK, res)
}

// GetInsights handles GET /v1/analytics/insights?range=.
func (h *Handler) GetInsights(c *gin.Context) {
	res, err := h.service.Insights(c.Request.Context(), auth.UserID(c), c.Query("range"))
	if err != nil {
		respondError(c, err)
		return
	}
	c.JSON(http.StatusOK, res)
}

// GetRealtime handles GET /v1/analytics/realtime.
func (h *Handler) GetRealtime(c *gin.Context) {
	res, err := h.service.Realtime(c.Request.Context(), auth.UserID(c))
	if err != nil {
		respondError(c, err)
		return
	}
	c.JSON(http.StatusOK, res)
}

// RecordActivityRequest is the body of POST /v1/analytics/realtime.
type RecordActivityRequest struct {
	Type      string         `json:"type"`
	Data      map[string]any `json:"data"`
	Timestamp *time.Time     `json:"timestamp,omitempty"`
}

// RecordActivity handles POST /v1/analytics/realtime.
func (h *Handler) RecordActivity(c *gin.Context) {
	var req RecordActivityRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid_request", "message": "body must be {type, data, timestamp?}"})
		return
	}
	if errs := validation.Validate(
		validation.Required("type", req.Type),
		validation.EventType("type", req.Type),
		validation.MaxEntries("data", req.Data, maxEventDataEntries),
	); len(errs) > 0 {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid_request", "message": errs.Error(), "details": errs})
		return
	}

	ev := counters.Event{Type: req.Type, Data: req.Data}
	if req.Timestamp != nil {
		ev.Timestamp = *req.Timestamp
	}
	if _, err := h.service.RecordActivity(c.Request.Context(), auth.UserID(c), ev); err != nil {
		logging.L(c.Request.Context()).Error("record activity failed", "type", req.Type, "error", err)
		c.JSON(http.StatusServiceUnavailable, gin.H{"error": "unavailable", "message": "realtime counters unavailable"})
		return
	}
	c.JSON(http.StatusCreated, gin.H{"success": true})
}

// StreamRealtime handles GET /v1/analytics/realtime/ws.
func (h *Handler) StreamRealtime(c *gin.Context) {
	h.hub.Serve(c.Writer, c.Request, auth.UserID(c))
}

func respondError(c *gin.Context, err error) {
	if errors.Is(err, context.Canceled) {
		// Client went away; nobody reads the response.
		c.Status(499)
		return
	}
	logging.L(c.Request.Context()).Error("analytics request failed", "error", err)
	c.JSON(http.StatusInternalServerError, gin.H{"error": "internal_error", "message": "failed to build analytics"})
}
