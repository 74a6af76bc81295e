package auth

import (
	"errors"
	"net/http"

	"github.com/gin-gonic/gin"

	"github.com/contextforge/contextforge/internal/validation"
)

// Handler provides HTTP endpoints for key management.
type Handler struct {
	manager *Manager
}

// NewHandler creates a new auth handler.
func NewHandler(m *Manager) *Handler {
	return &Handler{manager: m}
}

// RegisterProtectedRoutes sets up self-service key routes.
func (h *Handler) RegisterProtectedRoutes(r *gin.RouterGroup) {
	r.GET("/auth/me", h.Me)
	r.GET("/auth/keys", h.ListKeys)
	r.DELETE("/auth/keys/:keyId", h.RevokeKey)
}

// RegisterAdminRoutes sets up operator routes.
func (h *Handler) RegisterAdminRoutes(r *gin.RouterGroup) {
	r.POST("/keys", h.CreateKey)
}

// Me handles GET /v1/auth/me.
func (h *Handler) Me(c *gin.Context) {
	key, ok := GetAPIKey(c)
	if !ok {
		c.JSON(http.StatusUnauthorized, gin.H{"error": "unauthorized", "message": "API key required"})
		return
	}
	c.JSON(http.StatusOK, gin.H{
		"userId":    key.UserID,
		"keyId":     key.ID,
		"keyName":   key.Name,
		"createdAt": key.CreatedAt,
		"lastUsed":  key.LastUsed,
	})
}

// ListKeys handles GET /v1/auth/keys.
func (h *Handler) ListKeys(c *gin.Context) {
	keys, err := h.manager.ListKeys(c.Request.Context(), UserID(c))
	if err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": "internal_error", "message": "failed to list keys"})
		return
	}
	if keys == nil {
		keys = []*APIKey{}
	}
	c.JSON(http.StatusOK, gin.H{"keys": keys, "count": len(keys)})
}

// RevokeKey handles DELETE /v1/auth/keys/:keyId.
func (h *Handler) RevokeKey(c *gin.Context) {
	keyID := c.Param("keyId")
	if current, ok := GetAPIKey(c); ok && current.ID == keyID {
		c.JSON(http.StatusBadRequest, gin.H{
			"error":   "cannot_revoke_current",
			"message": "Cannot revoke the key you're using",
		})
		return
	}
	if err := h.manager.RevokeKey(c.Request.Context(), keyID, UserID(c)); err != nil {
		if errors.Is(err, ErrKeyNotFound) {
			c.JSON(http.StatusNotFound, gin.H{"error": "not_found", "message": "key not found"})
			return
		}
		c.JSON(http.StatusInternalServerError, gin.H{"error": "internal_error", "message": "failed to revoke key"})
		return
	}
	c.JSON(http.StatusOK, gin.H{"message": "Key revoked", "keyId": keyID})
}

// CreateKey handles POST /v1/admin/keys.
func (h *Handler) CreateKey(c *gin.Context) {
	var req struct {
		UserID string `json:"userId" binding:"required"`
		Name   string `json:"name"`
	}
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid_request", "message": "userId required"})
		return
	}
	name := validation.SanitizeString(req.Name, 200)
	if name == "" {
		name = "API key"
	}

	rawKey, key, err := h.manager.GenerateKey(c.Request.Context(), validation.SanitizeString(req.UserID, 200), name)
	if err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": "internal_error", "message": "failed to create key"})
		return
	}
	c.JSON(http.StatusCreated, gin.H{
		"apiKey":  rawKey,
		"keyId":   key.ID,
		"userId":  key.UserID,
		"warning": "Store this key securely. It will not be shown again.",
	})
}
