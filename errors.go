package gocoro

import (
	"errors"
	"fmt"
)

// ErrCancelled identifies the Cancellation failure kind. A Job's terminal
// failure satisfies errors.Is(err, ErrCancelled) exactly when the job
// wound down because of cancellation rather than a user failure.
var ErrCancelled = errors.New("gocoro: cancelled")

// CancellationError wraps ErrCancelled with the job that was cancelled,
// so callers walking a failure chain can identify the source.
type CancellationError struct {
	JobID string
	Cause error
}

func (e *CancellationError) Error() string {
	if e.Cause != nil && e.Cause != ErrCancelled {
		return fmt.Sprintf("gocoro: job %s cancelled: %v", e.JobID, e.Cause)
	}
	return fmt.Sprintf("gocoro: job %s cancelled", e.JobID)
}

func (e *CancellationError) Unwrap() error {
	if e.Cause != nil {
		return e.Cause
	}
	return ErrCancelled
}

func (e *CancellationError) Is(target error) bool {
	return target == ErrCancelled
}

func newCancellationError(jobID string) *CancellationError {
	return &CancellationError{JobID: jobID, Cause: ErrCancelled}
}

// UsageError marks a programming error in how the runtime's primitives were
// used: a continuation resumed twice, a second sender/receiver racing a
// single-slot channel, or a resume attempted after a coroutine is already
// terminal. These are unrecoverable: the runtime panics with
// a *UsageError rather than returning one, except where a primitive
// explicitly routes the violation through a supplied failure continuation
// (the channel's second-sender/second-receiver case).
type UsageError struct {
	Op  string
	Msg string
}

func (e *UsageError) Error() string {
	return fmt.Sprintf("gocoro: usage error in %s: %s", e.Op, e.Msg)
}

func newUsageError(op, msg string) *UsageError {
	return &UsageError{Op: op, Msg: msg}
}

// PanicError wraps a recovered panic value from a coroutine body, turning
// it into an ordinary user failure that flows through the Job's normal
// completion/cancellation path instead of crashing the driving goroutine.
type PanicError struct {
	Recovered any
}

func (e *PanicError) Error() string {
	return fmt.Sprintf("gocoro: panic in coroutine body: %v", e.Recovered)
}

func newPanicError(recovered any) *PanicError {
	return &PanicError{Recovered: recovered}
}
