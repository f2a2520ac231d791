package schema

import (
	"errors"
	"fmt"
)

// Error codes for structured error reporting.
const (
	ErrCodeValidation  = "VALIDATION_ERROR"
	ErrCodeNotFound    = "NOT_FOUND"
	ErrCodeConflict    = "CONFLICT"
	ErrCodeForbidden   = "FORBIDDEN"
	ErrCodeClosed      = "THREAD_CLOSED"
	ErrCodeWaitPending = "WAIT_PENDING"
	ErrCodeConfig      = "CONFIG_ERROR"
	ErrCodeArchive     = "ARCHIVE_ERROR"
)

// CoralError is the structured error type for all coral-server operations.
type CoralError struct {
	Code    string         `json:"code"`
	Message string         `json:"message"`
	Details map[string]any `json:"details,omitempty"`
	Cause   error          `json:"-"`
}

func (e *CoralError) Error() string {
	return fmt.Sprintf("[%s] %s", e.Code, e.Message)
}

func (e *CoralError) Unwrap() error {
	return e.Cause
}

// NewError creates a new CoralError.
func NewError(code, message string) *CoralError {
	return &CoralError{Code: code, Message: message}
}

// NewErrorf creates a new CoralError with a formatted message.
func NewErrorf(code, format string, args ...any) *CoralError {
	return &CoralError{Code: code, Message: fmt.Sprintf(format, args...)}
}

// WithCause attaches an underlying cause.
func (e *CoralError) WithCause(err error) *CoralError {
	e.Cause = err
	return e
}

// WithDetails attaches key-value details.
func (e *CoralError) WithDetails(details map[string]any) *CoralError {
	e.Details = details
	return e
}

// IsCode reports whether err is a CoralError carrying the given code.
func IsCode(err error, code string) bool {
	var ce *CoralError
	if errors.As(err, &ce) {
		return ce.Code == code
	}
	return false
}
