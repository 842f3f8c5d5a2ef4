package middleware

import (
	"errors"

	"github.com/gin-gonic/gin"

	apperrors "etfdiscovery/internal/errors"
	"etfdiscovery/internal/logger"
)

// ErrorHandler returns a Gin middleware that converts errors set on the Gin
// context into consistent JSON error responses. AppErrors are returned with
// their code and message; unexpected errors are logged and return a generic
// internal error to avoid leaking details.
func ErrorHandler() gin.HandlerFunc {
	return func(c *gin.Context) {
		c.Next()

		if len(c.Errors) == 0 || c.Writer.Written() {
			return
		}

		// Process the last error (most relevant in a middleware chain)
		err := c.Errors.Last().Err
		log := logger.ForRequest(c.GetString(requestIDKey))

		var appErr *apperrors.AppError
		if errors.As(err, &appErr) {
			if appErr.Internal != nil {
				log.Errorw("app error",
					"code", appErr.Code,
					"message", appErr.Message,
					"internal", appErr.Internal.Error(),
					"path", c.Request.URL.Path,
				)
			}
		} else {
			log.Errorw("unexpected error",
				"error", err.Error(),
				"path", c.Request.URL.Path,
				"method", c.Request.Method,
			)
		}
		abortWithError(c, err)
	}
}

// abortWithError stops the chain and writes the flat error body.
func abortWithError(c *gin.Context, err error) {
	status, body := apperrors.ToResponse(err, c.GetString(requestIDKey))
	c.AbortWithStatusJSON(status, body)
}
