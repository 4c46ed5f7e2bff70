// Package fault defines the error taxonomy shared by every component.
// Tools and clients translate underlying I/O errors into taxonomy
// values at their boundary; the workflow engine consumes only these.
package fault

import (
	"context"
	"errors"
	"fmt"
)

// Kind classifies a failure for retry and propagation decisions.
type Kind int

const (
	KindUnknown Kind = iota
	// KindInvalidArguments means schema or semantic validation failed. Never retried.
	KindInvalidArguments
	// KindMismatchedFormKind means the XML dispatcher rejected a foreign form variant.
	KindMismatchedFormKind
	// KindInvalidFiling means the XML document is malformed at the root.
	KindInvalidFiling
	// KindNotFound means the EIN, filing, or profile is not present.
	KindNotFound
	// KindTransient covers network errors, 5xx responses, and I/O hiccups.
	KindTransient
	// KindRateLimited means an external rate limit was hit.
	KindRateLimited
	// KindBudgetExceeded means a cost reservation was denied.
	KindBudgetExceeded
	// KindCancelled means the cancellation signal tripped.
	KindCancelled
	// KindTimeout means a step or tool deadline was reached.
	KindTimeout
	// KindQueueFull means the worker admission queue is saturated.
	KindQueueFull
	// KindDependencyFailed means an upstream workflow step failed.
	KindDependencyFailed
)

func (k Kind) String() string {
	switch k {
	case KindInvalidArguments:
		return "invalid_arguments"
	case KindMismatchedFormKind:
		return "mismatched_form_kind"
	case KindInvalidFiling:
		return "invalid_filing"
	case KindNotFound:
		return "not_found"
	case KindTransient:
		return "transient"
	case KindRateLimited:
		return "rate_limited"
	case KindBudgetExceeded:
		return "budget_exceeded"
	case KindCancelled:
		return "cancelled"
	case KindTimeout:
		return "timeout"
	case KindQueueFull:
		return "queue_full"
	case KindDependencyFailed:
		return "dependency_failed"
	default:
		return "unknown"
	}
}

// Error carries a taxonomy kind alongside a wrapped cause.
type Error struct {
	Kind Kind
	Msg  string
	Err  error
}

func (e *Error) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("%s: %s: %v", e.Kind, e.Msg, e.Err)
	}
	return fmt.Sprintf("%s: %s", e.Kind, e.Msg)
}

func (e *Error) Unwrap() error { return e.Err }

// New creates a taxonomy error with a formatted message.
func New(kind Kind, format string, args ...any) *Error {
	return &Error{Kind: kind, Msg: fmt.Sprintf(format, args...)}
}

// Wrap attaches a taxonomy kind to an underlying error. A nil cause
// yields nil so call sites can wrap unconditionally.
func Wrap(kind Kind, err error, format string, args ...any) error {
	if err == nil {
		return nil
	}
	return &Error{Kind: kind, Msg: fmt.Sprintf(format, args...), Err: err}
}

// KindOf extracts the taxonomy kind from an error chain.
// Plain context errors map to Cancelled/Timeout; anything else is Unknown.
func KindOf(err error) Kind {
	if err == nil {
		return KindUnknown
	}
	var fe *Error
	if errors.As(err, &fe) {
		return fe.Kind
	}
	if errors.Is(err, context.Canceled) {
		return KindCancelled
	}
	if errors.Is(err, context.DeadlineExceeded) {
		return KindTimeout
	}
	return KindUnknown
}

// Retryable reports whether the error kind may be retried per policy.
// Only Transient, RateLimited, Timeout, and QueueFull retry.
func Retryable(err error) bool {
	switch KindOf(err) {
	case KindTransient, KindRateLimited, KindTimeout, KindQueueFull:
		return true
	default:
		return false
	}
}

// Is lets errors.Is match on kind sentinels produced by New with no cause.
func (e *Error) Is(target error) bool {
	t, ok := target.(*Error)
	if !ok {
		return false
	}
	return t.Kind == e.Kind && (t.Msg == "" || t.Msg == e.Msg)
}
