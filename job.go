package gocoro

import (
	"errors"
	"sync"
	"sync/atomic"

	"github.com/google/uuid"
	"go.uber.org/zap"
)

// JobState is one of the four states a Job may occupy: Active, then
// either straight to Completed on success, or Cancelling on the way to
// Cancelled (cancellation) or Completed (the body failed with a user
// error).
type JobState int32

const (
	JobActive JobState = iota
	JobCancelling
	JobCompleted
	JobCancelled
)

func (s JobState) String() string {
	switch s {
	case JobActive:
		return "Active"
	case JobCancelling:
		return "Cancelling"
	case JobCompleted:
		return "Completed"
	case JobCancelled:
		return "Cancelled"
	default:
		return "Unknown"
	}
}

// Job is the lifecycle handle for a running coroutine: its state,
// cancellation, child registration, and completion waiters. A Job has at
// most one parent, which holds it in its children set until the Job
// itself reaches a terminal state and removes itself.
type Job struct {
	id     string
	parent *Job

	state atomic.Int32

	mu       sync.Mutex
	children map[*Job]struct{}
	waiters  []*waiterFn
	pending  func() // cancellation hook for the currently parked suspension, if any
	bodyDone bool
	bodyErr  error
	finalErr error
}

// waiterFn is a completion callback registered by Join or Await, boxed so
// it can be located and removed from a Job's waiters slice by identity if
// the waiting side's own suspension resolves some other way first (its
// caller's Job being cancelled) before this Job ever goes terminal.
// Without retraction, a terminal-triggered waiter call and a cancellation
// hook could both try to resume the same Continuation.
type waiterFn struct {
	fn func(error)
}

func newJob(parent *Job) *Job {
	j := &Job{id: uuid.NewString(), parent: parent}
	if parent != nil {
		parent.addChild(j)
	}
	return j
}

// ID is an opaque identifier used in log fields; it carries no ordering
// or uniqueness guarantee beyond the lifetime of the process.
func (j *Job) ID() string {
	return j.id
}

// State returns the Job's current lifecycle state.
func (j *Job) State() JobState {
	return JobState(j.state.Load())
}

// Launch merges ctx with the caller's ambient context (ctx's own chain
// already carries that, per Context's override-merge semantics), installs
// a fresh Job as the current Job, and dispatches block's entry
// continuation through ctx's Dispatcher. The new Job is registered as a
// child of ctx's current Job, if any.
func Launch(ctx *Context, block func(*coroutineScope) error) *Job {
	parent := ctx.Job()
	j := newJob(parent)
	childCtx := ctx.withJob(j)
	scope := &coroutineScope{ctx: childCtx, coro: newCoroutine()}

	scope.coro.run(func() {
		err := runBody(scope, block)
		j.finish(err)
	})

	ctx.Dispatcher().Submit(func() {
		logDebug("launching job", zap.String("job", j.id))
		scope.coro.start()
	})

	return j
}

// runBody invokes block, converting a panic that is not itself a
// *UsageError into a returned error rather than letting it escape onto
// whatever goroutine happens to be driving the coroutine at the time.
func runBody(scope *coroutineScope, block func(*coroutineScope) error) (err error) {
	defer func() {
		if r := recover(); r != nil {
			if ue, ok := r.(*UsageError); ok {
				panic(ue)
			}
			err = newPanicError(r)
		}
	}()
	return block(scope)
}

// Join suspends scope's coroutine until j reaches a terminal state. It
// discards j's value (if j is a Deferred) and re-raises only
// Cancellation, and only if the calling coroutine's own Job was itself
// cancelled — a successful or user-failed target Job does not propagate
// through Join.
func (j *Job) Join(scope *coroutineScope) error {
	var w *waiterFn
	_, err := suspendHereCancel[struct{}](scope, func(k Continuation[struct{}]) (struct{}, error, bool) {
		j.mu.Lock()
		defer j.mu.Unlock()
		switch JobState(j.state.Load()) {
		case JobCompleted, JobCancelled:
			return struct{}{}, nil, true
		default:
			w = &waiterFn{fn: func(error) { k.Resume(struct{}{}) }}
			j.waiters = append(j.waiters, w)
			return struct{}{}, nil, false
		}
	}, func() { j.retractWaiter(w) })
	return err
}

// retractWaiter removes w from j's waiters if it is still there, a no-op
// if j already went terminal and fired it (or every waiter) first.
func (j *Job) retractWaiter(w *waiterFn) {
	j.mu.Lock()
	defer j.mu.Unlock()
	for i, cur := range j.waiters {
		if cur == w {
			j.waiters = append(j.waiters[:i], j.waiters[i+1:]...)
			return
		}
	}
}

// Cancel idempotently transitions j from Active to Cancelling, resolves
// any suspension j is currently parked at toward Cancellation, and
// cascades Cancel to every still-active child. It is a no-op if j is
// already Cancelling or terminal.
func (j *Job) Cancel() {
	hook, children, ok := j.transitionToCancelling()
	if !ok {
		return
	}
	logDebug("job cancel requested", zap.String("job", j.id))
	if hook != nil {
		hook()
	}
	for _, c := range children {
		c.Cancel()
	}
}

func (j *Job) transitionToCancelling() (hook func(), children []*Job, ok bool) {
	j.mu.Lock()
	defer j.mu.Unlock()
	if JobState(j.state.Load()) != JobActive {
		return nil, nil, false
	}
	j.state.Store(int32(JobCancelling))
	hook, j.pending = j.pending, nil
	children = j.childList()
	return hook, children, true
}

func (j *Job) childList() []*Job {
	out := make([]*Job, 0, len(j.children))
	for c := range j.children {
		out = append(out, c)
	}
	return out
}

func (j *Job) addChild(c *Job) {
	j.mu.Lock()
	if j.children == nil {
		j.children = make(map[*Job]struct{})
	}
	j.children[c] = struct{}{}
	j.mu.Unlock()
}

func (j *Job) removeChild(c *Job) {
	j.mu.Lock()
	delete(j.children, c)
	j.mu.Unlock()
	j.finalizeIfReady()
}

// cancellationError reports the failure a suspension point on j must
// resume with, or nil if j is Active and suspension should proceed
// normally.
func (j *Job) cancellationError() error {
	switch JobState(j.state.Load()) {
	case JobCancelling, JobCancelled:
		return newCancellationError(j.id)
	default:
		return nil
	}
}

// setPendingCancel registers hook as the resolution for the suspension j
// is about to park at. It returns false, without registering anything,
// if j is no longer Active — the caller must treat that as an immediate
// cancellation instead, since no future Cancel() call will find the hook.
func (j *Job) setPendingCancel(hook func()) bool {
	j.mu.Lock()
	defer j.mu.Unlock()
	if JobState(j.state.Load()) != JobActive {
		return false
	}
	j.pending = hook
	return true
}

func (j *Job) clearPendingCancel() {
	j.mu.Lock()
	j.pending = nil
	j.mu.Unlock()
}

// finish records the outcome of j's own body. If the body failed with a
// non-nil error, j begins cancelling (cascading to its children) exactly
// as an explicit Cancel() would, before finalization is attempted.
func (j *Job) finish(bodyErr error) {
	j.mu.Lock()
	j.bodyDone = true
	j.bodyErr = bodyErr
	j.mu.Unlock()

	if bodyErr != nil {
		if hook, children, ok := j.transitionToCancelling(); ok {
			if hook != nil {
				hook()
			}
			for _, c := range children {
				c.Cancel()
			}
		}
	}
	j.finalizeIfReady()
}

// finalizeIfReady computes and commits j's terminal state once its own
// body has returned and every child it launched has itself reached a
// terminal state — the structured-concurrency invariant that a scope
// outlives its children.
func (j *Job) finalizeIfReady() {
	j.mu.Lock()
	if !j.bodyDone || len(j.children) > 0 {
		j.mu.Unlock()
		return
	}
	switch JobState(j.state.Load()) {
	case JobCompleted, JobCancelled:
		j.mu.Unlock()
		return
	}
	wasCancelling := JobState(j.state.Load()) == JobCancelling
	bodyErr := j.bodyErr

	var finalState JobState
	var finalErr error
	switch {
	case wasCancelling && (bodyErr == nil || errors.Is(bodyErr, ErrCancelled)):
		finalState = JobCancelled
		finalErr = newCancellationError(j.id)
	case bodyErr != nil:
		finalState = JobCompleted
		finalErr = bodyErr
	default:
		finalState = JobCompleted
	}

	j.state.Store(int32(finalState))
	j.finalErr = finalErr
	waiters := j.waiters
	j.waiters = nil
	parent := j.parent
	j.mu.Unlock()

	logDebug("job finalized",
		zap.String("job", j.id),
		zap.String("state", finalState.String()),
		zap.Error(finalErr),
	)

	for _, w := range waiters {
		w.fn(finalErr)
	}

	if parent != nil {
		parent.removeChild(j)
		if finalErr != nil && !errors.Is(finalErr, ErrCancelled) {
			parent.Cancel()
		}
	}
}
