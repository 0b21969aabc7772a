package gocoro

import "go.uber.org/zap"

// Deferred is a Job that additionally carries a typed result slot,
// written exactly once when its body returns.
type Deferred[T any] struct {
	*Job
	value T
}

// Defer starts block as a new child coroutine, exactly like Launch, but
// captures its return value for later retrieval via Await.
func Defer[T any](ctx *Context, block func(*coroutineScope) (T, error)) *Deferred[T] {
	parent := ctx.Job()
	j := newJob(parent)
	d := &Deferred[T]{Job: j}

	childCtx := ctx.withJob(j)
	scope := &coroutineScope{ctx: childCtx, coro: newCoroutine()}

	scope.coro.run(func() {
		err := runDeferredBody(scope, block, d)
		j.finish(err)
	})

	ctx.Dispatcher().Submit(func() {
		logDebug("deferring job", zap.String("job", j.id))
		scope.coro.start()
	})

	return d
}

func runDeferredBody[T any](scope *coroutineScope, block func(*coroutineScope) (T, error), d *Deferred[T]) (err error) {
	defer func() {
		if r := recover(); r != nil {
			if ue, ok := r.(*UsageError); ok {
				panic(ue)
			}
			err = newPanicError(r)
		}
	}()
	v, err := block(scope)
	d.value = v
	return err
}

// Await suspends scope's coroutine until d is terminal, then yields d's
// value on success, re-raises d's failure on failure, or raises
// Cancellation if the awaiting coroutine's own Job was cancelled while
// parked here. Awaiting a d that is already terminal does not suspend, so
// it yields d's outcome even if the awaiting Job is already cancelling.
func (d *Deferred[T]) Await(scope *coroutineScope) (T, error) {
	d.mu.Lock()
	st := JobState(d.state.Load())
	d.mu.Unlock()
	if st == JobCompleted || st == JobCancelled {
		var zero T
		if d.finalErr != nil {
			return zero, d.finalErr
		}
		return d.value, nil
	}

	var w *waiterFn
	_, err := suspendHereCancel[struct{}](scope, func(k Continuation[struct{}]) (struct{}, error, bool) {
		d.mu.Lock()
		defer d.mu.Unlock()
		switch JobState(d.state.Load()) {
		case JobCompleted, JobCancelled:
			return struct{}{}, nil, true
		default:
			w = &waiterFn{fn: func(error) { k.Resume(struct{}{}) }}
			d.waiters = append(d.waiters, w)
			return struct{}{}, nil, false
		}
	}, func() { d.retractWaiter(w) })
	if err != nil {
		var zero T
		return zero, err
	}
	if d.finalErr != nil {
		var zero T
		return zero, d.finalErr
	}
	return d.value, nil
}
