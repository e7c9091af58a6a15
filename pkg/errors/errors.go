// Package errors defines the typed errors services return and the HTTP layer renders.
// Codes are stable API values; messages may be overridden per call with Clone.
package errors

import (
	"errors"
	"fmt"
	"net/http"
)

// Error is a domain error carrying the HTTP status it maps to.
type Error struct {
	Code    string `json:"code"`
	Message string `json:"message"`
	Status  int    `json:"status"`
	Err     error  `json:"-"`
}

// Error implements the error interface.
func (e *Error) Error() string {
	switch {
	case e == nil:
		return "<nil>"
	case e.Err != nil:
		return fmt.Sprintf("%s: %v", e.Message, e.Err)
	default:
		return e.Message
	}
}

// Unwrap returns the wrapped cause.
func (e *Error) Unwrap() error {
	if e == nil {
		return nil
	}
	return e.Err
}

// Is matches any *Error with the same code, so clones satisfy errors.Is against their sentinel.
func (e *Error) Is(target error) bool {
	t, ok := target.(*Error)
	return ok && e != nil && t != nil && e.Code == t.Code
}

// New creates a new Error instance.
func New(code string, status int, message string) *Error {
	return &Error{Code: code, Status: status, Message: message}
}

// Wrap attaches a code, status and message to cause.
func Wrap(err error, code string, status int, message string) *Error {
	return &Error{Code: code, Status: status, Message: message, Err: err}
}

// Authentication and generic request failures.
var (
	ErrInvalidCredentials = New("INVALID_CREDENTIALS", http.StatusUnauthorized, "invalid email or password")
	ErrInactiveAccount    = New("ACCOUNT_INACTIVE", http.StatusForbidden, "account is inactive")
	ErrUnauthorized       = New("UNAUTHORIZED", http.StatusUnauthorized, "unauthorized")
	ErrForbidden          = New("FORBIDDEN", http.StatusForbidden, "forbidden")
	ErrNotFound           = New("NOT_FOUND", http.StatusNotFound, "resource not found")
	ErrConflict           = New("CONFLICT", http.StatusConflict, "conflict")
	ErrPreconditionFailed = New("PRECONDITION_FAILED", http.StatusPreconditionFailed, "precondition failed")
	ErrValidation         = New("VALIDATION_ERROR", http.StatusBadRequest, "validation failed")
	ErrTooManyRequests    = New("RATE_LIMITED", http.StatusTooManyRequests, "too many requests, try again later")
	ErrInternal           = New("INTERNAL_ERROR", http.StatusInternalServerError, "internal server error")
)

// Training domain and infrastructure failures.
var (
	// ErrRoundFull is returned when a round has no seats left.
	ErrRoundFull = New("ROUND_FULL", http.StatusBadRequest, "round is full")
	// ErrRoundClosed is returned when a round no longer accepts enrollments.
	ErrRoundClosed = New("ROUND_NOT_OPEN", http.StatusBadRequest, "round is not open for enrollment")
	// ErrInvalidTransition rejects enrollment status changes outside the lifecycle.
	ErrInvalidTransition = New("INVALID_STATUS_TRANSITION", http.StatusConflict, "invalid status transition")
	// ErrTransport marks failed outbound mail or directory calls. Never surfaced to API callers.
	ErrTransport = New("TRANSPORT_ERROR", http.StatusBadGateway, "delivery transport failed")
	// ErrCacheMiss is returned by cache reads that found nothing.
	ErrCacheMiss = New("CACHE_MISS", http.StatusNotFound, "cache miss")
)

// Is reports whether err carries the same code as target.
func Is(err error, target *Error) bool {
	return target != nil && errors.Is(err, target)
}

// FromError returns the first *Error in err's chain, or wraps err as ErrInternal.
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

// Clone copies err, replacing the message when one is given. Sentinels are never mutated.
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
