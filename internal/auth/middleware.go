package auth

import (
	"crypto/subtle"
	"net/http"

	"github.com/gin-gonic/gin"

	"github.com/contextforge/contextforge/internal/logging"
)

const (
	// ContextKeyAPIKey is the gin context key of the validated *APIKey.
	ContextKeyAPIKey = "apiKey"
	// ContextKeyUserID is the gin context key of the authenticated user id.
	ContextKeyUserID = "authUserID"
)

// Middleware validates the key from Authorization or X-API-Key and, when
// valid, stores the key and its user on the gin and request contexts. It
// never rejects; RequireAuth does.
func Middleware(m *Manager) gin.HandlerFunc {
	return func(c *gin.Context) {
		raw := c.GetHeader("Authorization")
		if raw == "" {
			raw = c.GetHeader("X-API-Key")
		}
		if raw != "" {
			if key, err := m.ValidateKey(c.Request.Context(), raw); err == nil {
				c.Set(ContextKeyAPIKey, key)
				c.Set(ContextKeyUserID, key.UserID)
				c.Request = c.Request.WithContext(logging.WithUserID(c.Request.Context(), key.UserID))
			}
		}
		c.Next()
	}
}

// RequireAuth rejects requests without a valid key with 401.
func RequireAuth() gin.HandlerFunc {
	return func(c *gin.Context) {
		if _, exists := c.Get(ContextKeyAPIKey); !exists {
			c.AbortWithStatusJSON(http.StatusUnauthorized, gin.H{
				"error":   "unauthorized",
				"message": "API key required. Include 'Authorization: Bearer cf_...' header.",
			})
			return
		}
		c.Next()
	}
}

// RequireAdmin guards operator endpoints with the shared admin secret sent
// in X-Admin-Secret. An empty secret disables the endpoints.
func RequireAdmin(secret string) gin.HandlerFunc {
	return func(c *gin.Context) {
		given := c.GetHeader("X-Admin-Secret")
		if secret == "" || subtle.ConstantTimeCompare([]byte(given), []byte(secret)) != 1 {
			c.AbortWithStatusJSON(http.StatusUnauthorized, gin.H{
				"error":   "unauthorized",
				"message": "admin secret required",
			})
			return
		}
		c.Next()
	}
}

// GetAPIKey returns the validated key, if any.
func GetAPIKey(c *gin.Context) (*APIKey, bool) {
	key, exists := c.Get(ContextKeyAPIKey)
	if !exists {
		return nil, false
	}
	k, ok := key.(*APIKey)
	return k, ok
}

// UserID returns the authenticated user id, or "" when unauthenticated.
func UserID(c *gin.Context) string {
	return c.GetString(ContextKeyUserID)
}
