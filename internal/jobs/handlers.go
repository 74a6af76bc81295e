package jobs

import (
	"errors"
	"net/http"

	"github.com/gin-gonic/gin"

	"github.com/contextforge/contextforge/internal/auth"
	"github.com/contextforge/contextforge/internal/logging"
	"github.com/contextforge/contextforge/internal/pagination"
)

// Handler provides HTTP endpoints for job records.
type Handler struct {
	service *Service
}

// NewHandler creates a new job handler.
func NewHandler(service *Service) *Handler {
	return &Handler{service: service}
}

// RegisterProtectedRoutes sets up job routes. The group must require auth.
func (h *Handler) RegisterProtectedRoutes(r *gin.RouterGroup) {
	r.POST("/jobs", h.CreateJob)
	r.GET("/jobs", h.ListJobs)
	r.GET("/jobs/:id", h.GetJob)
	r.PATCH("/jobs/:id", h.UpdateJob)
}

// CreateJob handles POST /v1/jobs.
func (h *Handler) CreateJob(c *gin.Context) {
	var req CreateRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid_request", "message": "body must be {type, totalItems}"})
		return
	}
	j, err := h.service.Create(c.Request.Context(), auth.UserID(c), req)
	if err != nil {
		h.respondError(c, err)
		return
	}
	c.JSON(http.StatusCreated, j)
}

// ListJobs handles GET /v1/jobs?limit=&cursor=.
func (h *Handler) ListJobs(c *gin.Context) {
	limit := pagination.ParseLimit(c.Query("limit"))
	page, err := h.service.List(c.Request.Context(), auth.UserID(c), limit, c.Query("cursor"))
	if err != nil {
		h.respondError(c, err)
		return
	}
	c.JSON(http.StatusOK, page)
}

// GetJob handles GET /v1/jobs/:id.
func (h *Handler) GetJob(c *gin.Context) {
	j, err := h.service.Get(c.Request.Context(), auth.UserID(c), c.Param("id"))
	if err != nil {
		h.respondError(c, err)
		return
	}
	c.JSON(http.StatusOK, j)
}

// UpdateJob handles PATCH /v1/jobs/:id.
func (h *Handler) UpdateJob(c *gin.Context) {
	var u ProgressUpdate
	if err := c.ShouldBindJSON(&u); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid_request", "message": "malformed progress update"})
		return
	}
	j, err := h.service.Progress(c.Request.Context(), auth.UserID(c), c.Param("id"), u)
	if err != nil {
		h.respondError(c, err)
		return
	}
	c.JSON(http.StatusOK, j)
}

func (h *Handler) respondError(c *gin.Context, err error) {
	switch {
	case errors.Is(err, ErrNotFound):
		c.JSON(http.StatusNotFound, gin.H{"error": "not_found", "message": "job not found"})
	case errors.Is(err, ErrUnknownType), errors.Is(err, ErrUnknownStatus),
		errors.Is(err, ErrInvalidProgress), errors.Is(err, pagination.ErrInvalidCursor):
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid_request", "message": err.Error()})
	case errors.Is(err, ErrTerminal), errors.Is(err, ErrTransition):
		c.JSON(http.StatusConflict, gin.H{"error": "conflict", "message": err.Error()})
	default:
		logging.L(c.Request.Context()).Error("job request failed", "error", err)
		c.JSON(http.StatusInternalServerError, gin.H{"error": "internal_error", "message": "job store unavailable"})
	}
}
