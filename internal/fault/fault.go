// Package fault classifies pipeline errors so each stage can decide whether to
// retry, drop, defer or fail.
package fault

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"time"
)

// Kind is the coarse error class used by retry and stage handling.
type Kind string

const (
	RateLimited      Kind = "rate_limited"
	Transient        Kind = "transient"
	Permanent        Kind = "permanent"
	Validation       Kind = "validation"
	UnmappedIdentity Kind = "unmapped_identity"
	Timeout          Kind = "timeout"
	Internal         Kind = "internal"
)

// Error carries a Kind alongside the operation that produced it.
type Error struct {
	Kind Kind
	Op   string
	Err  error

	// RetryAfter is the wait the provider asked for, zero when it gave none.
	RetryAfter time.Duration
}

// Error implements the error interface.
func (e *Error) Error() string {
	if e.Err == nil {
		return fmt.Sprintf("%s: %s", e.Op, e.Kind)
	}
	return fmt.Sprintf("%s: %s: %v", e.Op, e.Kind, e.Err)
}

// Unwrap exposes the underlying error for errors.Is/As.
func (e *Error) Unwrap() error {
	return e.Err
}

// New wraps err with the given kind. A nil err still produces an error so
// callers can signal a kind without a cause.
func New(kind Kind, op string, err error) error {
	return &Error{Kind: kind, Op: op, Err: err}
}

// Throttled is a RateLimited error carrying the provider's requested wait.
func Throttled(op string, after time.Duration, err error) error {
	return &Error{Kind: RateLimited, Op: op, Err: err, RetryAfter: after}
}

// RetryAfter returns the wait requested by the provider, if any.
func RetryAfter(err error) time.Duration {
	var fe *Error
	if errors.As(err, &fe) {
		return fe.RetryAfter
	}
	return 0
}

// Errorf is New with a formatted cause.
func Errorf(kind Kind, op, format string, args ...any) error {
	return &Error{Kind: kind, Op: op, Err: fmt.Errorf(format, args...)}
}

// KindOf reports the kind of err. Context deadline and cancellation map to
// Timeout; untyped errors are Internal.
func KindOf(err error) Kind {
	if err == nil {
		return ""
	}
	var fe *Error
	if errors.As(err, &fe) {
		return fe.Kind
	}
	if errors.Is(err, context.DeadlineExceeded) || errors.Is(err, context.Canceled) {
		return Timeout
	}
	return Internal
}

// Is reports whether err is of the given kind.
func Is(err error, kind Kind) bool {
	return err != nil && KindOf(err) == kind
}

// IsRetryable reports whether a retry with backoff may succeed.
func IsRetryable(err error) bool {
	switch KindOf(err) {
	case RateLimited, Transient:
		return true
	default:
		return false
	}
}

// FromStatus classifies an HTTP status code returned by a provider.
func FromStatus(op string, status int, err error) error {
	switch {
	case status == http.StatusTooManyRequests:
		return New(RateLimited, op, err)
	case status == http.StatusRequestTimeout, status >= 500:
		return New(Transient, op, err)
	default:
		return New(Permanent, op, err)
	}
}
