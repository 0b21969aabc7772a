package gocoro

import (
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
)

// TestStructuredOrder confirms a tree of launches with interleaved Yield
// and Join produces a deterministic sequence under an inline dispatcher.
// Under InlineDispatcher, Submit and Yield both run
// synchronously on the calling goroutine (Yield degrades to a pure
// cancellation check), so Launch drives a child coroutine to completion
// before returning — the resulting order is strictly depth-first, and
// deterministically so, run after run.
func TestStructuredOrder(t *testing.T) {
	var order []int
	record := func(i int) { order = append(order, i) }

	err := RunScope(Background(), func(outer *coroutineScope) error {
		record(1)
		child := Launch(outer.ctx, func(inner *coroutineScope) error {
			record(3)
			require.NoError(t, Yield(inner))
			record(4)
			return nil
		})
		record(2) // the child already ran to completion by the time Launch returns here
		require.NoError(t, Yield(outer))
		record(5)
		require.NoError(t, child.Join(outer))
		record(6)
		return nil
	})

	require.NoError(t, err)
	require.Equal(t, []int{1, 3, 4, 2, 5, 6}, order)
}

// TestCancellationHonoredAtSuspension confirms a child parked at a
// suspension point when its parent is cancelled must not execute any
// statement past that point. The child parks on a Channel receive that
// nothing ever sends to, so its only path forward is the cancellation
// cascade — unlike a plain Yield, which self-resubmits its own resumption
// the instant it parks and so cannot be raced against an external Cancel
// deterministically.
func TestCancellationHonoredAtSuspension(t *testing.T) {
	disp := NewSingleThreadDispatcher()
	t.Cleanup(disp.Close)
	ctx := Background().WithDispatcher(disp)

	ranPastReceive := false
	childDone := make(chan struct{})
	parked := make(chan struct{})
	ch := NewChannel[int]()

	var parent *Job
	parent = Launch(ctx, func(scope *coroutineScope) error {
		Launch(scope.ctx, func(child *coroutineScope) error {
			defer close(childDone)
			close(parked)
			_, err := ch.ReceiveSuspend(child)
			if err == nil {
				ranPastReceive = true
			}
			return err
		})
		return Yield(scope) // park so the child stays un-joined while still active
	})

	<-parked
	parent.Cancel()

	select {
	case <-childDone:
	case <-time.After(2 * time.Second):
		t.Fatal("timed out waiting for child to unwind after parent cancellation")
	}
	require.False(t, ranPastReceive, "child must not run past a receive resolved by its parent's cancellation")
}

// TestExplicitCancelTiming confirms a Job cancelled between two
// suspension points observes the cancellation at the next suspension, not
// before and not later.
func TestExplicitCancelTiming(t *testing.T) {
	reachedSecondYield := false
	observedAt := -1
	done := make(chan struct{})

	var j *Job
	disp := NewSingleThreadDispatcher()
	t.Cleanup(disp.Close)
	ctx := Background().WithDispatcher(disp)
	j = Launch(ctx, func(scope *coroutineScope) error {
		defer close(done)
		if err := Yield(scope); err != nil {
			observedAt = 1
			return err
		}
		j.Cancel()
		reachedSecondYield = true
		if err := Yield(scope); err != nil {
			observedAt = 2
			return err
		}
		observedAt = 3
		return nil
	})

	select {
	case <-done:
	case <-time.After(2 * time.Second):
		t.Fatal("timed out waiting for job to finish")
	}

	require.True(t, reachedSecondYield)
	require.Equal(t, 2, observedAt, "cancellation must be observed at the next suspension, not before or after")
	require.Equal(t, JobCancelled, j.State())
}

// TestParentCancellationOnChildFailure confirms a child raising a user
// error cancels the root scope, and a sibling parked at a
// suspension point sees Cancellation. Uses a SingleThreadDispatcher, whose
// single worker goroutine drains queued starts in submission order: the
// sibling is launched (and so queued) first, so it is already parked by
// the time the worker gets to the failing child's start and the resulting
// cascade. The sibling parks on a Channel receive nobody ever completes,
// rather than Yield, since Yield's self-resubmission races an external
// cancellation for the same Continuation.
func TestParentCancellationOnChildFailure(t *testing.T) {
	disp := NewSingleThreadDispatcher()
	t.Cleanup(disp.Close)
	ctx := Background().WithDispatcher(disp)

	boom := errors.New("boom")
	siblingObservedCancel := false
	siblingDone := make(chan struct{})
	ch := NewChannel[int]()

	err := RunScope(ctx, func(root *coroutineScope) error {
		sibling := Launch(root.ctx, func(scope *coroutineScope) error {
			defer close(siblingDone)
			_, err := ch.ReceiveSuspend(scope)
			if err != nil && errors.Is(err, ErrCancelled) {
				siblingObservedCancel = true
			}
			return err
		})
		Launch(root.ctx, func(child *coroutineScope) error {
			return boom
		})
		return sibling.Join(root)
	})

	<-siblingDone
	require.Error(t, err)
	require.True(t, errors.Is(err, ErrCancelled))
	require.True(t, siblingObservedCancel)
}

// TestChildCancellationIsLocal confirms cancelling one child does not
// cancel its siblings or its parent. Uses a SingleThreadDispatcher,
// whose Launch only enqueues a start task rather than running it inline,
// so victim.Cancel() lands before victim's body ever runs — the body's
// own Yield then observes Cancellation deterministically, with no race
// against the dispatcher's worker goroutine.
func TestChildCancellationIsLocal(t *testing.T) {
	disp := NewSingleThreadDispatcher()
	t.Cleanup(disp.Close)
	ctx := Background().WithDispatcher(disp)

	siblingCompleted := false
	parentCompleted := false

	err := RunScope(ctx, func(root *coroutineScope) error {
		victim := Launch(root.ctx, func(scope *coroutineScope) error {
			return Yield(scope)
		})
		victim.Cancel()
		sibling := Launch(root.ctx, func(scope *coroutineScope) error {
			siblingCompleted = true
			return nil
		})
		require.NoError(t, sibling.Join(root))
		vErr := victim.Join(root)
		require.NoError(t, vErr, "Join discards a target's own Cancellation, only re-raising the joiner's own")
		require.Equal(t, JobCancelled, victim.State())
		parentCompleted = true
		return nil
	})

	require.NoError(t, err)
	require.True(t, siblingCompleted)
	require.True(t, parentCompleted)
}

// TestIdempotentCancel confirms cancelling a Job twice has the same
// effect as once, and cancelling a terminal Job is a no-op. The job
// parks on a Channel receive nobody ever completes, so an external Cancel
// arriving concurrently with the park cannot race the resumption (Yield's
// self-resubmission would).
func TestIdempotentCancel(t *testing.T) {
	disp := NewSingleThreadDispatcher()
	t.Cleanup(disp.Close)
	ctx := Background().WithDispatcher(disp)

	started := make(chan struct{})
	done := make(chan struct{})
	ch := NewChannel[int]()
	var j *Job
	j = Launch(ctx, func(scope *coroutineScope) error {
		defer close(done)
		close(started)
		_, err := ch.ReceiveSuspend(scope)
		return err
	})

	<-started
	j.Cancel()
	j.Cancel()

	select {
	case <-done:
	case <-time.After(2 * time.Second):
		t.Fatal("timed out waiting for cancellation")
	}
	require.Equal(t, JobCancelled, j.State())

	j.Cancel() // terminal Job, must not panic or alter state
	require.Equal(t, JobCancelled, j.State())

	completed := Launch(Background(), func(scope *coroutineScope) error {
		return nil
	})
	require.NoError(t, RunScope(Background(), func(scope *coroutineScope) error {
		return completed.Join(scope)
	}))
	completed.Cancel()
	require.Equal(t, JobCompleted, completed.State())
}

// TestYieldUnderPoolDispatcher confirms Yield's resubmission actually goes
// through a non-inline Dispatcher without deadlocking: Yield's handler
// only special-cases InlineDispatcher, so this exercises the other branch.
func TestYieldUnderPoolDispatcher(t *testing.T) {
	pool := NewPoolDispatcher(2)
	t.Cleanup(pool.Close)

	done := make(chan struct{})
	Launch(Background().WithDispatcher(pool), func(scope *coroutineScope) error {
		defer close(done)
		for i := 0; i < 5; i++ {
			if err := Yield(scope); err != nil {
				return err
			}
		}
		return nil
	})

	select {
	case <-done:
	case <-time.After(2 * time.Second):
		t.Fatal("timed out waiting for yield loop under pool dispatcher")
	}
}

// TestDelay confirms that cancelling a job parked in Delay resumes it
// with Cancellation instead of waiting out the timer.
func TestDelay(t *testing.T) {
	disp := NewSingleThreadDispatcher()
	t.Cleanup(disp.Close)

	start := make(chan struct{})
	done := make(chan error, 1)
	j := Launch(Background().WithDispatcher(disp), func(scope *coroutineScope) error {
		close(start)
		err := Delay(scope, 50*time.Millisecond)
		done <- err
		return err
	})
	<-start
	j.Cancel()

	select {
	case err := <-done:
		require.Error(t, err)
		require.True(t, errors.Is(err, ErrCancelled))
	case <-time.After(2 * time.Second):
		t.Fatal("timed out waiting for delayed job to resolve")
	}
}
