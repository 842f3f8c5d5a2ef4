package middleware

import (
	"crypto/subtle"

	"github.com/gin-gonic/gin"

	apperrors "etfdiscovery/internal/errors"
)

// AdminAuthMiddleware creates a Gin middleware that validates the X-API-Key
// header against the configured admin API key. Admin routes are closed when
// no key is configured.
func AdminAuthMiddleware(apiKey string) gin.HandlerFunc {
	return func(c *gin.Context) {
		if apiKey == "" {
			abortWithError(c, apperrors.ErrAdminNotConfigured)
			return
		}
		key := c.GetHeader("X-API-Key")
		if subtle.ConstantTimeCompare([]byte(key), []byte(apiKey)) != 1 {
			abortWithError(c, apperrors.ErrInvalidAPIKey)
			return
		}
		c.Next()
	}
}
