package gocoro

import (
	"sync/atomic"

	"go.uber.org/zap"
)

// Continuation is a one-shot, value-consuming resume callback: the
// primitive through which a parked coroutine is resumed. Exactly one of
// Resume or ResumeWithFailure must be invoked, exactly once; a second
// invocation panics with a *UsageError. A Continuation may be resumed
// from any goroutine — the Dispatcher captured in the Context active at
// the suspension point decides which goroutine actually drives the
// coroutine forward from there.
type Continuation[T any] interface {
	Resume(value T)
	ResumeWithFailure(err error)
}

type result[T any] struct {
	value T
	err   error
}

// continuation is the concrete Continuation used by every suspension
// point in this package. It is intentionally unexported: user code only
// ever sees the Continuation interface, so the channels and resume state
// backing it can change shape without breaking anything outside the
// package.
type continuation[T any] struct {
	ctx      *Context
	resumeCh chan result[T]
	yieldCh  chan struct{}
	fired    atomic.Bool
}

func (k *continuation[T]) Resume(value T) {
	k.deliver(result[T]{value: value})
}

func (k *continuation[T]) ResumeWithFailure(err error) {
	k.deliver(result[T]{err: err})
}

func (k *continuation[T]) deliver(r result[T]) {
	if !k.fired.CompareAndSwap(false, true) {
		panic(newUsageError("resume", "continuation resumed more than once"))
	}
	k.ctx.Dispatcher().Submit(func() {
		k.resumeCh <- r
		<-k.yieldCh // block the resuming goroutine until the coroutine parks again or exits
	})
}

// coroutine drives a single suspendable body on a dedicated goroutine.
// Suspension is simulated, in the absence of compiler-supported
// suspendable functions, by letting that goroutine park on a channel read
// at every suspension point; a Dispatcher decides which goroutine
// performs the blocking wait that drives the coroutine from one park to
// the next. This is the same two-channel rendezvous shape used by
// hand-rolled goroutine coroutines elsewhere in Go (a dedicated driver
// goroutine, parked on an unbuffered channel at each yield point), scaled
// up with a pluggable Dispatcher standing in for "who performs the wait".
type coroutine struct {
	yieldCh chan struct{} // body sends here each time it parks; closed when body returns
	startCh chan struct{} // single send kicks the goroutine off
}

func newCoroutine() *coroutine {
	return &coroutine{
		yieldCh: make(chan struct{}),
		startCh: make(chan struct{}),
	}
}

// run launches body on a dedicated goroutine. The goroutine blocks
// immediately until start() is called.
func (co *coroutine) run(body func()) {
	go func() {
		defer close(co.yieldCh)
		<-co.startCh
		body()
	}()
}

// start kicks the goroutine off and blocks until it parks at its first
// suspension point or returns without ever suspending.
func (co *coroutine) start() (alive bool) {
	co.startCh <- struct{}{}
	_, ok := <-co.yieldCh
	return ok
}

// coroutineScope is the capability a running coroutine body receives: it
// carries the Context active at the point the coroutine is currently
// executing. Resuming under a different Context than the one it launched
// under is intentionally not supported — the Context a coroutine runs
// under is fixed once, at Launch/Defer/Generate time.
type coroutineScope struct {
	ctx  *Context
	coro *coroutine

	// pendingPull is set only for a Generator's scope: the hook that
	// resumes its body from its most recently parked Yield. Unused by
	// Job/Deferred scopes.
	pendingPull func()
}

// suspendHere is the universal suspension primitive. handler receives the
// freshly minted Continuation for this suspension point and returns
// (value, err, true) to resolve synchronously — the coroutine continues
// on the same goroutine with no parking, exactly as if an external party
// had already resumed k, but without ever invoking k itself. Otherwise
// handler returns (_, _, false) having stored the Continuation somewhere
// that will resume it later (a timer, a channel cell, a Job's waiter
// list); suspendHere then parks the coroutine's goroutine until that
// happens. A handler must never call Resume/ResumeWithFailure on the k it
// was just handed before returning — doing so would resume a continuation
// whose coroutine has not parked yet, deadlocking the resumer's own wait
// for that park. Synchronous resolution exists precisely so a handler
// that discovers it can complete immediately (a rendezvous partner
// already waiting, a misuse to reject) reports that through the return
// value instead.
func suspendHere[T any](scope *coroutineScope, handler func(Continuation[T]) (T, error, bool)) (T, error) {
	return suspendHereCancel(scope, handler, nil)
}

// suspendHereCancel is suspendHere generalized with an explicit retract
// hook: when the coroutine's Job is cancelled here, before or after k is
// actually parked, retract runs first so a primitive that stashed k in
// external mutable state (the rendezvous Channel's state cell) can remove
// that reference. Without this, a continuation resolved toward
// Cancellation while still sitting in a Channel's cell would be resumed a
// second time, and panic, the moment a racing peer completes the handoff.
// retract must not itself call k; it only undoes the handler's side
// effect, synchronously, on whichever goroutine observes the
// cancellation.
func suspendHereCancel[T any](scope *coroutineScope, handler func(Continuation[T]) (T, error, bool), retract func()) (T, error) {
	var zero T

	job := scope.ctx.Job()
	if job != nil {
		if err := job.cancellationError(); err != nil {
			return zero, err
		}
	}

	k := &continuation[T]{
		ctx:      scope.ctx,
		resumeCh: make(chan result[T], 1),
		yieldCh:  scope.coro.yieldCh,
	}

	if v, err, ok := handler(k); ok {
		return v, err
	}

	asyncHook := func() {
		if retract != nil {
			retract()
		}
		k.ResumeWithFailure(newCancellationError(job.ID()))
	}

	var hookInstalled bool
	if job != nil {
		hookInstalled = job.setPendingCancel(asyncHook)
		if !hookInstalled {
			logDebug("suspend observed cancellation before parking", zap.String("job", job.ID()))
			if retract != nil {
				retract()
			}
			return zero, newCancellationError(job.ID())
		}
	}

	scope.coro.yieldCh <- struct{}{} // tell whoever is driving us that we've parked
	r := <-k.resumeCh

	if job != nil {
		job.clearPendingCancel()
	}
	return r.value, r.err
}
