package errors

import (
	"errors"
	"fmt"
	"net/http"
)

// Error represents a typed gateway error with HTTP awareness.
type Error struct {
	Code    string `json:"code"`
	Message string `json:"message"`
	Status  int    `json:"status"`
	Err     error  `json:"-"`
}

// Error implements the error interface.
func (e *Error) Error() string {
	if e == nil {
		return "<nil>"
	}
	if e.Err != nil {
		return fmt.Sprintf("%s: %v", e.Message, e.Err)
	}
	return e.Message
}

// Unwrap returns the wrapped error.
func (e *Error) Unwrap() error {
	if e == nil {
		return nil
	}
	return e.Err
}

// New creates a new Error instance.
func New(code string, status int, message string) *Error {
	return &Error{Code: code, Status: status, Message: message}
}

// Wrap attaches context to an existing error.
func Wrap(err error, code string, status int, message string) *Error {
	return &Error{Code: code, Status: status, Message: message, Err: err}
}

// Predefined errors for the routing layer.
var (
	ErrRouteNotFound      = New("ROUTE_NOT_FOUND", http.StatusNotFound, "no route configured for request path")
	ErrBackendUnavailable = New("BACKEND_UNAVAILABLE", http.StatusServiceUnavailable, "backend temporarily unavailable")
	ErrBackendTimeout     = New("BACKEND_TIMEOUT", http.StatusGatewayTimeout, "backend did not respond in time")
	ErrBackendError       = New("BACKEND_ERROR", http.StatusBadGateway, "backend request failed")
	ErrRateLimited        = New("RATE_LIMITED", http.StatusTooManyRequests, "rate limit exceeded")
	ErrConfigInvalid      = New("CONFIG_INVALID", http.StatusBadRequest, "invalid configuration")
	ErrNotFound           = New("NOT_FOUND", http.StatusNotFound, "resource not found")
	ErrUnauthorized       = New("UNAUTHORIZED", http.StatusUnauthorized, "unauthorized")
	ErrValidation         = New("VALIDATION_ERROR", http.StatusBadRequest, "validation failed")
	ErrInternal           = New("INTERNAL_ERROR", http.StatusInternalServerError, "internal server error")
)

// FromError normalises any error into an *Error.
func FromError(err error) *Error {
	if err == nil {
		return nil
	}
	var e *Error
	if errors.As(err, &e) {
		return e
	}
	return Wrap(err, ErrInternal.Code, ErrInternal.Status, ErrInternal.Message)
}

// Clone returns a copy of the error allowing for message overrides.
func Clone(err *Error, message string) *Error {
	if err == nil {
		return nil
	}
	clone := *err
	if message != "" {
		clone.Message = message
	}
	return &clone
}
