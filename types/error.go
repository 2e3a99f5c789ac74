package types

import (
	"errors"
	"fmt"
)

// ErrorCode represents a unified error code across the subsystem.
type ErrorCode string

// Coordination error codes. Validation, not-found and state-conflict errors
// are rejected synchronously before any state mutation.
const (
	ErrInvalidArgument  ErrorCode = "INVALID_ARGUMENT"
	ErrNotFound         ErrorCode = "NOT_FOUND"
	ErrStateConflict    ErrorCode = "STATE_CONFLICT"
	ErrAlreadyVoted     ErrorCode = "ALREADY_VOTED"
	ErrExpired          ErrorCode = "EXPIRED"
	ErrAgentUnavailable ErrorCode = "AGENT_UNAVAILABLE"
	ErrInternal         ErrorCode = "INTERNAL_ERROR"
)

// Error represents a structured error with code, message and cause.
type Error struct {
	Code    ErrorCode `json:"code"`
	Message string    `json:"message"`
	Cause   error     `json:"-"`
}

// Error implements the error interface.
func (e *Error) Error() string {
	if e.Cause != nil {
		return fmt.Sprintf("[%s] %s: %v", e.Code, e.Message, e.Cause)
	}
	return fmt.Sprintf("[%s] %s", e.Code, e.Message)
}

// Unwrap returns the underlying cause.
func (e *Error) Unwrap() error {
	return e.Cause
}

// NewError creates a new Error with the given code and message.
func NewError(code ErrorCode, message string) *Error {
	return &Error{Code: code, Message: message}
}

// Errorf creates a new Error with a formatted message.
func Errorf(code ErrorCode, format string, args ...any) *Error {
	return &Error{Code: code, Message: fmt.Sprintf(format, args...)}
}

// WithCause adds a cause to the error.
func (e *Error) WithCause(cause error) *Error {
	e.Cause = cause
	return e
}

// CodeOf extracts the error code from an error, unwrapping as needed.
// Returns the empty code for nil or unstructured errors.
func CodeOf(err error) ErrorCode {
	var e *Error
	if errors.As(err, &e) {
		return e.Code
	}
	return ""
}

// IsCode reports whether err carries the given error code.
func IsCode(err error, code ErrorCode) bool {
	return CodeOf(err) == code
}
