// Package apierr defines the gateway's stable, machine-readable error taxonomy.
//
// Every error surfaced to a caller carries a Code that is stable across releases, a
// human-readable message, and, for time-bounded conditions (quota pauses, open
// circuits), a retry hint so well-behaved clients can back off without polling.
package apierr

import (
	"errors"
	"fmt"
	"net/http"
	"time"
)

// Code identifies an error category. Codes are part of the public API contract.
type Code string

const (
	CodeValidation             Code = "VALIDATION_ERROR"
	CodeAuthentication         Code = "AUTH_FAILED"
	CodeInvalidSecondarySecret Code = "INVALID_SECONDARY_SECRET"
	CodeSecondarySecretLockout Code = "SECONDARY_SECRET_LOCKOUT"
	CodeQuotaPaused            Code = "QUOTA_PAUSED"
	CodeRateLimited            Code = "RATE_LIMITED"
	CodeCircuitOpen            Code = "CIRCUIT_OPEN"
	CodeTransientBackend       Code = "TRANSIENT_BACKEND_ERROR"
	CodeResourceNotFound       Code = "RESOURCE_NOT_FOUND"
	CodeInternal               Code = "INTERNAL_ERROR"
)

// Error is the gateway's public error type.
type Error struct {
	Code       Code
	Message    string
	RetryAfter time.Duration // zero when no retry hint applies
	Err        error         // wrapped cause, may be nil
}

func New(code Code, message string) *Error {
	return &Error{Code: code, Message: message}
}

func Newf(code Code, format string, a ...interface{}) *Error {
	return &Error{Code: code, Message: fmt.Sprintf(format, a...)}
}

// Wrap annotates err with a code, preserving the cause for errors.Is/As.
func Wrap(code Code, err error) *Error {
	if err == nil {
		return nil
	}
	return &Error{Code: code, Message: err.Error(), Err: err}
}

func (e *Error) Error() string {
	if e.RetryAfter > 0 {
		return fmt.Sprintf("%s: %s (retry after %s)", e.Code, e.Message, e.RetryAfter)
	}
	return fmt.Sprintf("%s: %s", e.Code, e.Message)
}

func (e *Error) Unwrap() error {
	return e.Err
}

// Temporary reports whether the condition is expected to clear without operator
// intervention.
func (e *Error) Temporary() bool {
	switch e.Code {
	case CodeQuotaPaused, CodeRateLimited, CodeCircuitOpen, CodeTransientBackend, CodeSecondarySecretLockout:
		return true
	}
	return false
}

// RetryAfterSeconds rounds the retry hint up to whole seconds for the wire format.
func (e *Error) RetryAfterSeconds() int {
	if e.RetryAfter <= 0 {
		return 0
	}
	secs := int((e.RetryAfter + time.Second - 1) / time.Second)
	if secs < 1 {
		secs = 1
	}
	return secs
}

// HTTPStatus maps an error code to the HTTP status served by the entry point.
func HTTPStatus(code Code) int {
	switch code {
	case CodeValidation:
		return http.StatusBadRequest
	case CodeAuthentication:
		return http.StatusUnauthorized
	case CodeInvalidSecondarySecret, CodeSecondarySecretLockout:
		return http.StatusForbidden
	case CodeResourceNotFound:
		return http.StatusNotFound
	case CodeQuotaPaused, CodeRateLimited:
		return http.StatusTooManyRequests
	case CodeCircuitOpen:
		return http.StatusServiceUnavailable
	case CodeTransientBackend:
		return http.StatusBadGateway
	default:
		return http.StatusInternalServerError
	}
}

// CodeOf extracts the taxonomy code from err, defaulting to CodeInternal.
func CodeOf(err error) Code {
	var apiErr *Error
	if errors.As(err, &apiErr) {
		return apiErr.Code
	}
	return CodeInternal
}

// AsError returns err as an *Error, wrapping unclassified errors as internal.
func AsError(err error) *Error {
	var apiErr *Error
	if errors.As(err, &apiErr) {
		return apiErr
	}
	return Wrap(CodeInternal, err)
}
