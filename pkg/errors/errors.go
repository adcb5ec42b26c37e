package errors

import (
	"context"
	stderrors "errors"
	"fmt"
	"net/http"
)

// Error codes shared by HTTP responses and realtime error events
const (
	CodeInvalidRequest      = "INVALID_REQUEST"
	CodeProviderError       = "PROVIDER_ERROR"
	CodeProviderTimeout     = "PROVIDER_TIMEOUT"
	CodeProviderUnavailable = "PROVIDER_UNAVAILABLE"
	CodeFormatError         = "FORMAT_ERROR"
	CodeSessionNotFound     = "SESSION_NOT_FOUND"
	CodePersistenceError    = "PERSISTENCE_ERROR"
	CodeRateLimitExceeded   = "RATE_LIMIT_EXCEEDED"
	CodeUnauthorized        = "UNAUTHORIZED"
	CodeInternal            = "INTERNAL_ERROR"
)

// ErrCircuitOpen is returned by guarded provider calls while the breaker is open
var ErrCircuitOpen = stderrors.New("circuit open")

// AppError represents an application error with HTTP status code and error code
type AppError struct {
	StatusCode int    `json:"-"`
	Code       string `json:"code"`
	Message    string `json:"message"`
	Details    any    `json:"details,omitempty"`
	Err        error  `json:"-"`
}

// Error implements the error interface
func (e *AppError) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("[%s] %s: %v", e.Code, e.Message, e.Err)
	}
	return fmt.Sprintf("[%s] %s", e.Code, e.Message)
}

// Unwrap exposes the underlying cause
func (e *AppError) Unwrap() error {
	return e.Err
}

// WithDetails adds details to the error
func (e *AppError) WithDetails(details any) *AppError {
	e.Details = details
	return e
}

// NewError creates a new application error
func NewError(statusCode int, code string, message string) *AppError {
	return &AppError{
		StatusCode: statusCode,
		Code:       code,
		Message:    message,
	}
}

// Wrap creates an application error around a cause
func Wrap(err error, statusCode int, code string, message string) *AppError {
	return &AppError{
		StatusCode: statusCode,
		Code:       code,
		Message:    message,
		Err:        err,
	}
}

// NewBadRequestError creates a 400 Bad Request error
func NewBadRequestError(code string, message string) *AppError {
	return NewError(http.StatusBadRequest, code, message)
}

// NewUnauthorizedError creates a 401 Unauthorized error
func NewUnauthorizedError(code string, message string) *AppError {
	return NewError(http.StatusUnauthorized, code, message)
}

// NewTooManyRequestsError creates a 429 Too Many Requests error
func NewTooManyRequestsError(code string, message string) *AppError {
	return NewError(http.StatusTooManyRequests, code, message)
}

// NewInternalServerError creates a 500 Internal Server Error
func NewInternalServerError(code string, message string) *AppError {
	return NewError(http.StatusInternalServerError, code, message)
}

// NewProviderError classifies a failed call to an external LLM or image provider.
// Deadline expiry maps to 504, an open breaker to 503, anything else to 502.
func NewProviderError(op string, err error) *AppError {
	switch {
	case stderrors.Is(err, context.DeadlineExceeded):
		return Wrap(err, http.StatusGatewayTimeout, CodeProviderTimeout, op+" timed out")
	case stderrors.Is(err, ErrCircuitOpen):
		return Wrap(err, http.StatusServiceUnavailable, CodeProviderUnavailable, op+" is temporarily unavailable")
	default:
		return Wrap(err, http.StatusBadGateway, CodeProviderError, op+" failed")
	}
}

// NewFormatError reports provider text that does not match the expected layout
func NewFormatError(message string) *AppError {
	return NewError(http.StatusInternalServerError, CodeFormatError, message)
}

// NewPersistenceError wraps a failed chat log write
func NewPersistenceError(err error) *AppError {
	return Wrap(err, http.StatusInternalServerError, CodePersistenceError, "failed to persist chat log")
}

// Is checks if the target error is of type AppError with the same code
func Is(err error, target *AppError) bool {
	var appErr *AppError
	if !stderrors.As(err, &appErr) {
		return false
	}
	return appErr.Code == target.Code
}

// HasCode reports whether err is an AppError carrying code
func HasCode(err error, code string) bool {
	var appErr *AppError
	return stderrors.As(err, &appErr) && appErr.Code == code
}
