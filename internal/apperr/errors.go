// Package apperr is the error taxonomy shared by the order, idempotency and job packages.
//
// Every error carries the HTTP status it surfaces as. Errors compare with errors.Is by
// Kind, so a wrapped NotFound still matches ErrNotFound.
package apperr

import (
	"errors"
	"fmt"
	"net/http"
)

// Error represents an application error.
type Error struct {
	Code    int               `json:"-"`
	Kind    string            `json:"error"`
	Message string            `json:"message"`
	Details map[string]string `json:"details,omitempty"`
	Err     error             `json:"-"`
}

// Error implements the error interface.
func (e *Error) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("%s: %v", e.Message, e.Err)
	}
	return e.Message
}

// Unwrap returns the wrapped error.
func (e *Error) Unwrap() error {
	return e.Err
}

// Is reports whether target is an *Error of the same kind.
func (e *Error) Is(target error) bool {
	t, ok := target.(*Error)
	return ok && t.Kind == e.Kind
}

// New creates a new Error.
func New(code int, kind, message string, err error) *Error {
	return &Error{Code: code, Kind: kind, Message: message, Err: err}
}

// Base errors, one per taxonomy entry. Use the constructors below to build instances.
var (
	ErrValidation            = New(http.StatusBadRequest, "validation_error", "Validation error", nil)
	ErrNotFound              = New(http.StatusNotFound, "not_found", "Not found", nil)
	ErrInsufficientQuantity  = New(http.StatusBadRequest, "insufficient_quantity", "Insufficient quantity", nil)
	ErrMissingIdempotencyKey = New(http.StatusBadRequest, "missing_idempotency_key", "Idempotency-Key header is required", nil)
	ErrIdempotencyKeyReuse   = New(http.StatusUnprocessableEntity, "idempotency_key_reused", "Idempotency-Key was used for a different request", nil)
	ErrUnauthorized          = New(http.StatusUnauthorized, "unauthorized", "Authentication required", nil)
	ErrRateLimited           = New(http.StatusTooManyRequests, "rate_limited", "Rate limit exceeded", nil)
	ErrPersistence           = New(http.StatusInternalServerError, "persistence_error", "Storage operation failed", nil)

	// ErrUnknownJobType is job scoped: it is recorded on the failed job and never
	// reaches an HTTP caller.
	ErrUnknownJobType = New(http.StatusInternalServerError, "unknown_job_type", "Unknown job type", nil)

	// ErrJobTimeout marks a handler that exceeded JOB_TIMEOUT. Handlers that ignore
	// their context are not interrupted and keep their worker busy.
	ErrJobTimeout = New(http.StatusInternalServerError, "job_timeout", "Job handler timed out", nil)
)

func derive(base *Error, message string, err error) *Error {
	return &Error{Code: base.Code, Kind: base.Kind, Message: message, Err: err}
}

// Validation reports malformed input. details maps field names to messages.
func Validation(message string, details map[string]string) *Error {
	e := derive(ErrValidation, message, nil)
	e.Details = details
	return e
}

// NotFound reports an unknown referenced entity.
func NotFound(format string, args ...interface{}) *Error {
	return derive(ErrNotFound, fmt.Sprintf(format, args...), nil)
}

// InsufficientQuantity reports a requested quantity above the recorded availability.
func InsufficientQuantity(format string, args ...interface{}) *Error {
	return derive(ErrInsufficientQuantity, fmt.Sprintf(format, args...), nil)
}

// UnknownJobType reports a job whose type has no registered handler.
func UnknownJobType(jobType string) *Error {
	return derive(ErrUnknownJobType, fmt.Sprintf("Unknown job type: %s", jobType), nil)
}

// Persistence wraps a storage-layer failure during op.
func Persistence(op string, err error) *Error {
	return derive(ErrPersistence, op, err)
}

// Unauthorized reports a missing or invalid bearer token.
func Unauthorized(message string) *Error {
	return derive(ErrUnauthorized, message, nil)
}

// As extracts an *Error from err. Errors outside the taxonomy become persistence errors.
func As(err error) *Error {
	var e *Error
	if errors.As(err, &e) {
		return e
	}
	return Persistence(ErrPersistence.Message, err)
}
