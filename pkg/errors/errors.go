package errors

import (
	"errors"
	"fmt"
)

// Well-known error codes. Packages outside pkg/errors define their own
// domain-specific codes (see pkg/messaging's MESSAGING_* codes) but should
// reuse these for the common cases.
const (
	CodeInvalidArgument = "INVALID_ARGUMENT"
	CodeNotFound        = "NOT_FOUND"
	CodeConflict        = "CONFLICT"
	CodeForbidden       = "FORBIDDEN"
	CodeInternal        = "INTERNAL"
)

// AppError is the structured error type used across the system. It carries
// a stable machine-readable code alongside a human-readable message and an
// optional wrapped cause, so callers can branch on Code while logs still get
// the full chain via Error()/Unwrap().
type AppError struct {
	Code    string
	Message string
	Cause   error
}

// New creates an AppError with the given code, message and cause.
// Cause may be nil.
func New(code string, message string, cause error) *AppError {
	return &AppError{Code: code, Message: message, Cause: cause}
}

// Wrap attaches a message to err, preserving its code if it is already an
// AppError, otherwise classifying it as internal.
func Wrap(err error, message string) *AppError {
	if err == nil {
		return nil
	}

	var appErr *AppError
	if errors.As(err, &appErr) {
		return &AppError{Code: appErr.Code, Message: message, Cause: err}
	}

	return &AppError{Code: CodeInternal, Message: message, Cause: err}
}

func (e *AppError) Error() string {
	if e.Cause != nil {
		return fmt.Sprintf("%s: %v", e.Message, e.Cause)
	}
	return e.Message
}

// Unwrap exposes the underlying cause so errors.Is/errors.As from the
// standard library work through an AppError chain.
func (e *AppError) Unwrap() error {
	return e.Cause
}

// Is reports whether err's code matches target's code when target is an
// AppError, falling back to standard library comparison otherwise.
func (e *AppError) Is(target error) bool {
	t, ok := target.(*AppError)
	if !ok {
		return false
	}
	return e.Code == t.Code
}

// Is delegates to the standard library, exported so callers importing this
// package don't also need to import "errors" directly.
func Is(err, target error) bool {
	return errors.Is(err, target)
}

// As delegates to the standard library.
func As(err error, target interface{}) bool {
	return errors.As(err, target)
}

// CodeOf returns the code of err if it is (or wraps) an AppError, otherwise
// CodeInternal.
func CodeOf(err error) string {
	var appErr *AppError
	if errors.As(err, &appErr) {
		return appErr.Code
	}
	return CodeInternal
}

// InvalidArgument creates an AppError for malformed or missing input.
func InvalidArgument(message string, cause error) *AppError {
	return New(CodeInvalidArgument, message, cause)
}

// NotFound creates an AppError for a missing resource.
func NotFound(message string, cause error) *AppError {
	return New(CodeNotFound, message, cause)
}

// Conflict creates an AppError for a state conflict (e.g. a circuit
// breaker that is open, or a duplicate resource).
func Conflict(message string, cause error) *AppError {
	return New(CodeConflict, message, cause)
}

// Forbidden creates an AppError for an authorization failure.
func Forbidden(message string, cause error) *AppError {
	return New(CodeForbidden, message, cause)
}

// Internal creates an AppError for an unexpected internal failure.
func Internal(message string, cause error) *AppError {
	return New(CodeInternal, message, cause)
}
