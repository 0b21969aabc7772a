package gocoro

import (
	"time"

	"go.uber.org/zap"
)

// RunScope is the only blocking primitive the runtime exposes: it
// constructs a root Job under ctx, dispatches block, and parks the
// calling goroutine until that root Job reaches a terminal state. A
// user failure in block re-raises on the caller's goroutine; a
// Cancellation completion returns ErrCancelled-compatible error instead
// of panicking, since cancelling the root scope from within its own body
// is a legitimate, non-exceptional outcome.
func RunScope(ctx *Context, block func(*coroutineScope) error) error {
	if ctx == nil {
		ctx = Background()
	}
	done := make(chan error, 1)

	root := Launch(ctx, block)
	root.onTerminal(func(err error) { done <- err })

	return <-done
}

// onTerminal registers fn to run, exactly once, once j reaches a
// terminal state, bypassing the suspension machinery entirely — RunScope
// is not itself a coroutine and has no Continuation to resume.
func (j *Job) onTerminal(fn func(error)) {
	j.mu.Lock()
	switch JobState(j.state.Load()) {
	case JobCompleted, JobCancelled:
		err := j.finalErr
		j.mu.Unlock()
		fn(err)
		return
	default:
		j.waiters = append(j.waiters, &waiterFn{fn: fn})
		j.mu.Unlock()
	}
}

// Yield suspends scope's coroutine and immediately resubmits its
// continuation through its Dispatcher, giving other ready continuations
// queued on the same Dispatcher a chance to run before this coroutine
// continues. Checks cancellation on entry: a cancelled coroutine's Yield
// resumes with Cancellation instead of proceeding. Under InlineDispatcher
// it returns right after the cancellation check without parking or
// submitting anything — there is no other ready work an inline
// dispatcher could interleave in anyway.
func Yield(scope *coroutineScope) error {
	_, err := suspendHere[struct{}](scope, func(k Continuation[struct{}]) (struct{}, error, bool) {
		if _, inline := scope.ctx.Dispatcher().(InlineDispatcher); inline {
			return struct{}{}, nil, true
		}
		scope.ctx.Dispatcher().Submit(func() { k.Resume(struct{}{}) })
		return struct{}{}, nil, false
	})
	return err
}

// Delay suspends scope's coroutine and schedules its resumption via the
// current Dispatcher's ScheduleAfter once d elapses. Cancellation while
// the timer is pending disarms it and resumes with Cancellation instead.
func Delay(scope *coroutineScope, d time.Duration) error {
	var cancelTimer CancelFunc
	_, err := suspendHereCancel[struct{}](scope, func(k Continuation[struct{}]) (struct{}, error, bool) {
		cancelTimer = scope.ctx.Dispatcher().ScheduleAfter(d, func() { k.Resume(struct{}{}) })
		return struct{}{}, nil, false
	}, func() {
		logDebug("delay cancelled", zap.Duration("after", d))
		cancelTimer()
	})
	return err
}
