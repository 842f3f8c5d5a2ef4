package handlers

import (
	"errors"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"

	apperrors "etfdiscovery/internal/errors"
	"etfdiscovery/internal/logger"
)

// ErrorResponse documents the error body for swagger.
type ErrorResponse = apperrors.Response

// requestID returns the request ID assigned by the logging middleware, or a
// fresh one when the handler runs without it.
func requestID(c *gin.Context) string {
	if id := c.GetString("requestID"); id != "" {
		return id
	}
	id, err := uuid.NewV7()
	if err != nil {
		return uuid.NewString()
	}
	c.Set("requestID", id.String())
	return id.String()
}

// respondWithError writes a consistent JSON error response. If the error is an
// *AppError it uses the error's status code, code, and message. Otherwise it
// logs the unexpected error and returns a generic internal server error.
func respondWithError(c *gin.Context, err error) {
	id := requestID(c)
	log := logger.ForRequest(id)

	var appErr *apperrors.AppError
	if errors.As(err, &appErr) {
		if appErr.Internal != nil {
			log.Errorw("app error",
				"code", appErr.Code,
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

	status, body := apperrors.ToResponse(err, id)
	c.JSON(status, body)
}
