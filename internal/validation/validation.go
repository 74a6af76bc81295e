// Package validation checks API request bodies.
package validation

import (
	"net/http"
	"regexp"
	"strings"

	"github.com/gin-gonic/gin"
)

// MaxRequestSize caps request bodies at 1MB.
const MaxRequestSize = 1 << 20

var eventTypeRegex = regexp.MustCompile(`^[a-z][a-z0-9_]{0,63}$`)

// RequestSizeMiddleware rejects bodies larger than maxSize. Declared
// lengths are refused up front with 413; chunked bodies are cut off by
// http.MaxBytesReader and fail when the handler decodes them.
func RequestSizeMiddleware(maxSize int64) gin.HandlerFunc {
	return func(c *gin.Context) {
		if c.Request.ContentLength > maxSize {
			c.AbortWithStatusJSON(http.StatusRequestEntityTooLarge, gin.H{
				"error":   "payload_too_large",
				"message": "request body exceeds the size limit",
			})
			return
		}
		c.Request.Body = http.MaxBytesReader(c.Writer, c.Request.Body, maxSize)
		c.Next()
	}
}

// SanitizeString trims whitespace, drops null bytes and limits length.
func SanitizeString(s string, maxLen int) string {
	s = strings.ReplaceAll(strings.TrimSpace(s), "\x00", "")
	if len(s) > maxLen {
		s = s[:maxLen]
	}
	return s
}

// IsValidEventType reports whether s is a snake_case event name of at most
// 64 characters.
func IsValidEventType(s string) bool {
	return eventTypeRegex.MatchString(s)
}

// FieldError is one failed rule.
type FieldError struct {
	Field   string `json:"field"`
	Message string `json:"message"`
}

// Errors collects every failed rule of a request.
type Errors []FieldError

func (e Errors) Error() string {
	if len(e) == 0 {
		return "validation failed"
	}
	parts := make([]string, len(e))
	for i, fe := range e {
		parts[i] = fe.Field + ": " + fe.Message
	}
	return strings.Join(parts, "; ")
}

// Rule checks one field and returns nil when it passes.
type Rule func() *FieldError

// Validate runs every rule and returns the failures, or nil.
func Validate(rules ...Rule) Errors {
	var errs Errors
	for _, rule := range rules {
		if fe := rule(); fe != nil {
			errs = append(errs, *fe)
		}
	}
	return errs
}

func fail(field, msg string) *FieldError {
	return &FieldError{Field: field, Message: msg}
}

// Required fails on blank values.
func Required(field, value string) Rule {
	return func() *FieldError {
		if strings.TrimSpace(value) == "" {
			return fail(field, "is required")
		}
		return nil
	}
}

// EventType checks an event type name. Empty values pass; pair with Required.
func EventType(field, value string) Rule {
	return func() *FieldError {
		if value != "" && !IsValidEventType(value) {
			return fail(field, "must be snake_case, at most 64 characters")
		}
		return nil
	}
}

// MaxEntries fails when m has more than max keys.
func MaxEntries[V any](field string, m map[string]V, max int) Rule {
	return func() *FieldError {
		if len(m) > max {
			return fail(field, "has too many entries")
		}
		return nil
	}
}
