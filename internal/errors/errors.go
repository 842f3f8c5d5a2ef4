// Package errors provides custom error types for the discovery API.
// Service-layer errors use AppError so that every response carries a stable
// code and never leaks internal details to clients.
package errors

import (
	stderrors "errors"
	"net/http"
)

// AppError represents a structured application error with an error code,
// human-readable message, HTTP status code, and optional internal error.
type AppError struct {
	Code       string         `json:"code"`
	Message    string         `json:"message"`
	Details    map[string]any `json:"details,omitempty"`
	StatusCode int            `json:"-"`
	Internal   error          `json:"-"`
}

// Error implements the error interface.
func (e *AppError) Error() string { return e.Message }

// Unwrap returns the internal error for use with errors.Is/As.
func (e *AppError) Unwrap() error { return e.Internal }

// Is matches AppErrors by code so sentinels survive Wrap/WithMessage.
func (e *AppError) Is(target error) bool {
	t, ok := target.(*AppError)
	return ok && t.Code == e.Code
}

// Wrap creates a new AppError with the same code/message/status but wraps an internal error.
func Wrap(sentinel *AppError, internal error) *AppError {
	return &AppError{
		Code:       sentinel.Code,
		Message:    sentinel.Message,
		Details:    sentinel.Details,
		StatusCode: sentinel.StatusCode,
		Internal:   internal,
	}
}

// WithMessage creates a new AppError with a custom message.
func WithMessage(sentinel *AppError, message string) *AppError {
	return &AppError{
		Code:       sentinel.Code,
		Message:    message,
		Details:    sentinel.Details,
		StatusCode: sentinel.StatusCode,
		Internal:   sentinel.Internal,
	}
}

// WithDetails creates a new AppError carrying structured details for the client.
func WithDetails(sentinel *AppError, details map[string]any) *AppError {
	return &AppError{
		Code:       sentinel.Code,
		Message:    sentinel.Message,
		Details:    details,
		StatusCode: sentinel.StatusCode,
		Internal:   sentinel.Internal,
	}
}

// General errors.
var (
	ErrInvalidInput   = &AppError{Code: "INVALID_INPUT", Message: "Invalid input", StatusCode: http.StatusBadRequest}
	ErrNotFound       = &AppError{Code: "NOT_FOUND", Message: "Resource not found", StatusCode: http.StatusNotFound}
	ErrInternalServer = &AppError{Code: "INTERNAL_ERROR", Message: "An internal error occurred", StatusCode: http.StatusInternalServerError}
	ErrRateLimited    = &AppError{Code: "RATE_LIMITED", Message: "Too many requests", StatusCode: http.StatusTooManyRequests}
)

// Admin errors.
var (
	ErrInvalidAPIKey      = &AppError{Code: "INVALID_API_KEY", Message: "Invalid or missing API key", StatusCode: http.StatusUnauthorized}
	ErrAdminNotConfigured = &AppError{Code: "ADMIN_NOT_CONFIGURED", Message: "Admin endpoints are not configured", StatusCode: http.StatusServiceUnavailable}
)

// Discovery errors.
var (
	ErrMalformedQuery         = &AppError{Code: "MALFORMED_QUERY", Message: "Discovery query is malformed", StatusCode: http.StatusBadRequest}
	ErrCatalogUnavailable     = &AppError{Code: "CATALOG_UNAVAILABLE", Message: "Instrument catalog is unavailable", StatusCode: http.StatusServiceUnavailable}
	ErrEligibilityUnavailable = &AppError{Code: "ELIGIBILITY_UNAVAILABLE", Message: "Eligibility rules are unavailable", StatusCode: http.StatusServiceUnavailable}
	ErrDiscoveryTimeout       = &AppError{Code: "DISCOVERY_TIMEOUT", Message: "Discovery did not complete within the time budget", StatusCode: http.StatusGatewayTimeout}
)

// Catalog errors.
var (
	ErrInstrumentNotFound = &AppError{Code: "INSTRUMENT_NOT_FOUND", Message: "Instrument not found", StatusCode: http.StatusNotFound}
)

// Rule set errors.
var (
	ErrInvalidRuleSet         = &AppError{Code: "INVALID_RULESET", Message: "Rule set definition is invalid", StatusCode: http.StatusBadRequest}
	ErrRuleSetVersionConflict = &AppError{Code: "RULESET_VERSION_CONFLICT", Message: "Rule set version must be newer than the latest published version", StatusCode: http.StatusConflict}
	ErrRuleSetNotFound        = &AppError{Code: "RULESET_NOT_FOUND", Message: "No rule set applies to this jurisdiction and account type", StatusCode: http.StatusNotFound}
)

// Response is the JSON error body sent to clients.
type Response struct {
	Code      string         `json:"code"`
	Message   string         `json:"message"`
	RequestID string         `json:"requestId,omitempty"`
	Details   map[string]any `json:"details,omitempty"`
}

// ToResponse converts err into an HTTP status and a client-safe body.
// Anything that is not an AppError becomes a generic internal error.
func ToResponse(err error, requestID string) (int, Response) {
	var appErr *AppError
	if !stderrors.As(err, &appErr) {
		appErr = ErrInternalServer
	}
	return appErr.StatusCode, Response{
		Code:      appErr.Code,
		Message:   appErr.Message,
		RequestID: requestID,
		Details:   appErr.Details,
	}
}
