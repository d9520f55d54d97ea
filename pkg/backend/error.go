package backend

import (
	"context"
	"errors"
	"fmt"
	"time"
)

// Kind classifies a backend failure. The gateway's failure policy (breaker
// accounting, retries, session invalidation) is driven entirely by this value.
type Kind int

const (
	KindUnknown Kind = iota
	KindAuthentication
	KindQuota
	KindNotFound
	KindTransient
)

func (k Kind) String() string {
	switch k {
	case KindAuthentication:
		return "authentication"
	case KindQuota:
		return "quota"
	case KindNotFound:
		return "not-found"
	case KindTransient:
		return "transient"
	default:
		return "unknown"
	}
}

// Error is a typed backend failure.
type Error struct {
	Kind       Kind
	Message    string
	RetryAfter time.Duration // quota replenishment hint; zero if the backend gave none
	Cause      error
}

func NewError(kind Kind, message string) *Error {
	return &Error{Kind: kind, Message: message}
}

func (e *Error) Error() string {
	if e.Message == "" && e.Cause != nil {
		return fmt.Sprintf("backend %s error: %s", e.Kind, e.Cause)
	}
	return fmt.Sprintf("backend %s error: %s", e.Kind, e.Message)
}

func (e *Error) Unwrap() error {
	return e.Cause
}

// Temporary reports whether retrying may succeed without user action.
func (e *Error) Temporary() bool {
	return e.Kind == KindTransient || e.Kind == KindQuota
}

// MayHaveSucceeded returns true if the command might have been executed even though
// the client did not receive a confirmation. Timeouts on dispatched commands fall in
// this category.
func (e *Error) MayHaveSucceeded() bool {
	return e.Kind == KindUnknown && errors.Is(e.Cause, context.DeadlineExceeded)
}

// KindOf extracts the failure kind from err, defaulting to KindUnknown.
func KindOf(err error) Kind {
	var berr *Error
	if errors.As(err, &berr) {
		return berr.Kind
	}
	return KindUnknown
}

// RetryAfterHint returns the backend's replenishment hint, if any.
func RetryAfterHint(err error) time.Duration {
	var berr *Error
	if errors.As(err, &berr) {
		return berr.RetryAfter
	}
	return 0
}
