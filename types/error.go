package types

import (
	"errors"
	"fmt"
)

// ErrorCode represents a unified error code across the memory store.
type ErrorCode string

const (
	ErrNotFound             ErrorCode = "NOT_FOUND"
	ErrValidation           ErrorCode = "VALIDATION"
	ErrPoolTimeout          ErrorCode = "POOL_TIMEOUT"
	ErrStoreUnavailable     ErrorCode = "STORE_UNAVAILABLE"
	ErrEmbeddingUnavailable ErrorCode = "EMBEDDING_UNAVAILABLE"
	ErrInternal             ErrorCode = "INTERNAL"
)

// Error represents a structured error with code, message, and metadata.
type Error struct {
	Code      ErrorCode `json:"code"`
	Message   string    `json:"message"`
	Retryable bool      `json:"retryable"`
	Cause     error     `json:"-"`
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

// WithCause adds a cause to the error.
func (e *Error) WithCause(cause error) *Error {
	e.Cause = cause
	return e
}

// WithRetryable marks the error as retryable.
func (e *Error) WithRetryable(retryable bool) *Error {
	e.Retryable = retryable
	return e
}

// NotFoundError builds the error returned for an unknown id.
func NotFoundError(kind, id string) *Error {
	return NewError(ErrNotFound, fmt.Sprintf("%s %s not found", kind, id))
}

// ValidationError builds the error returned for out-of-range or malformed input.
func ValidationError(format string, args ...any) *Error {
	return NewError(ErrValidation, fmt.Sprintf(format, args...))
}

// PoolTimeoutError builds the retryable error returned when a connection
// cannot be acquired within the deadline.
func PoolTimeoutError(cause error) *Error {
	return NewError(ErrPoolTimeout, "connection not acquired within deadline").
		WithRetryable(true).
		WithCause(cause)
}

// IsNotFound checks if an error carries the NOT_FOUND code.
func IsNotFound(err error) bool {
	return GetErrorCode(err) == ErrNotFound
}

// IsRetryable checks if an error is retryable.
func IsRetryable(err error) bool {
	var e *Error
	if errors.As(err, &e) {
		return e.Retryable
	}
	return false
}

// GetErrorCode extracts the error code from an error.
func GetErrorCode(err error) ErrorCode {
	var e *Error
	if errors.As(err, &e) {
		return e.Code
	}
	return ""
}
