package middleware

import (
	"fmt"

	"github.com/gin-gonic/gin"

	apperrors "etfdiscovery/internal/errors"
	"etfdiscovery/internal/logger"
)

// Recovery turns a handler panic into an INTERNAL_ERROR response carrying
// the request ID.
func Recovery() gin.HandlerFunc {
	return gin.CustomRecoveryWithWriter(nil, func(c *gin.Context, recovered any) {
		logger.ForRequest(c.GetString(requestIDKey)).Errorw("panic recovered",
			"panic", fmt.Sprint(recovered),
			"method", c.Request.Method,
			"path", c.Request.URL.Path,
		)
		abortWithError(c, apperrors.ErrInternalServer)
	})
}
