package domain

import (
	"errors"
	"fmt"
)

// Application error codes. Handlers map these to HTTP statuses.
const (
	EINVALID      = "invalid"
	EUNAUTHORIZED = "unauthorized"
	EFORBIDDEN    = "forbidden"
	ENOTFOUND     = "not_found"
	ECONFLICT     = "conflict"
	ETOOLARGE     = "too_large"
	ERATELIMIT    = "rate_limit"
	EUNAVAILABLE  = "unavailable" // dependency unreachable, safe to retry
	EINTERNAL     = "internal"
	EPAYMENT      = "payment" // payment provider refused or failed
)

// ErrTransient marks failures of an external store that are safe to retry.
// Wrap it (fmt.Errorf("...: %w", ErrTransient)) or use Unavailable.
var ErrTransient = errors.New("transient store failure")

// genericInternalMessage replaces the message of internal errors before it
// reaches a client.
const genericInternalMessage = "An internal error occurred. Please try again later."

// Error is the structured error returned by services.
type Error struct {
	Code    string // one of the E* codes
	Op      string // "Service.Method" that produced it
	Message string // safe to show to the caller unless Code is EINTERNAL
	Err     error
}

func (e *Error) Error() string {
	if e.Op == "" {
		return e.Message
	}
	return e.Op + ": " + e.Message
}

func (e *Error) Unwrap() error { return e.Err }

// Errorf creates an Error with a formatted message.
func Errorf(code, op, format string, args ...any) *Error {
	return &Error{Code: code, Op: op, Message: fmt.Sprintf(format, args...)}
}

// Wrap attaches a code and message to err.
func Wrap(err error, code, op, message string) *Error {
	return &Error{Code: code, Op: op, Message: message, Err: err}
}

func asError(err error) (*Error, bool) {
	var e *Error
	if err == nil || !errors.As(err, &e) {
		return nil, false
	}
	return e, true
}

// ErrorCode returns the code of the first *Error in the chain. Plain errors
// are EINTERNAL; nil is "".
func ErrorCode(err error) string {
	if err == nil {
		return ""
	}
	if e, ok := asError(err); ok {
		return e.Code
	}
	return EINTERNAL
}

// ErrorMessage returns the client-safe message for err.
func ErrorMessage(err error) string {
	if err == nil {
		return ""
	}
	if e, ok := asError(err); ok && e.Code != EINTERNAL {
		return e.Message
	}
	return genericInternalMessage
}

// ErrorOp returns the operation of the first *Error in the chain.
func ErrorOp(err error) string {
	if e, ok := asError(err); ok {
		return e.Op
	}
	return ""
}

// IsTransient reports whether err is a retryable store failure.
func IsTransient(err error) bool {
	if err == nil {
		return false
	}
	return errors.Is(err, ErrTransient) || ErrorCode(err) == EUNAVAILABLE
}

// Invalid creates an EINVALID error.
func Invalid(op, message string) *Error {
	return &Error{Code: EINVALID, Op: op, Message: message}
}

// Unauthorized creates an EUNAUTHORIZED error.
func Unauthorized(op, message string) *Error {
	return &Error{Code: EUNAUTHORIZED, Op: op, Message: message}
}

// TooLarge creates an ETOOLARGE error.
func TooLarge(op, message string) *Error {
	return &Error{Code: ETOOLARGE, Op: op, Message: message}
}

// Unavailable wraps a failure of an external dependency that the caller may retry.
func Unavailable(err error, op, message string) *Error {
	return &Error{Code: EUNAVAILABLE, Op: op, Message: message, Err: err}
}

// Internal wraps err as EINTERNAL. The message is logged, never returned.
func Internal(err error, op, message string) *Error {
	return &Error{Code: EINTERNAL, Op: op, Message: message, Err: err}
}

// RateLimit creates an ERATELIMIT error.
func RateLimit(op string) *Error {
	return &Error{Code: ERATELIMIT, Op: op, Message: "Too many requests. Please try again later."}
}

// ValidationError carries per-field messages for a rejected request.
type ValidationError struct {
	Op     string
	Fields map[string]string
}

func (e *ValidationError) Error() string {
	return fmt.Sprintf("%s: validation failed (%d fields)", e.Op, len(e.Fields))
}

// NewValidationError creates a ValidationError with a single field.
func NewValidationError(op, field, message string) *ValidationError {
	return &ValidationError{Op: op, Fields: map[string]string{field: message}}
}
