package gocoro

import (
	"context"
	"errors"
	"sync"
	"sync/atomic"
	"time"

	"github.com/cenkalti/backoff/v5"
	"go.uber.org/zap"
)

var (
	errPoolBusy   = errors.New("gocoro: pool dispatcher workers busy")
	errPoolClosed = errors.New("gocoro: pool dispatcher closed")
)

// CancelFunc cancels a pending ScheduleAfter timer. Calling it after the
// timer has already fired is a no-op.
type CancelFunc func()

// Dispatcher decides on which goroutine a resumed continuation actually
// runs. Implementations must run a submitted task to completion-or-
// suspension without the runtime itself preempting it.
type Dispatcher interface {
	// Submit schedules task for execution on some goroutine under the
	// Dispatcher's control.
	Submit(task func())
	// ScheduleAfter schedules task to run after d elapses, via Submit,
	// and returns a CancelFunc that disarms the timer if it hasn't fired
	// yet.
	ScheduleAfter(d time.Duration, task func()) CancelFunc
}

// InlineDispatcher runs every task synchronously on the calling goroutine.
// It is the default Dispatcher used by Background, and the one under
// which the deterministic-ordering properties of this package's test
// suite are exercised.
type InlineDispatcher struct{}

func (InlineDispatcher) Submit(task func()) {
	task()
}

func (InlineDispatcher) ScheduleAfter(d time.Duration, task func()) CancelFunc {
	return scheduleAfter(InlineDispatcher{}, d, task)
}

// scheduleAfter is shared by every built-in Dispatcher: it arms a
// one-shot timer and, when it fires, submits task through disp. Firing is
// recorded in an atomic flag, cancellation closes a stop channel exactly
// once, and both outcomes (fire, cancel) are logged for visibility into
// timers that never got the chance to run.
func scheduleAfter(disp Dispatcher, d time.Duration, task func()) CancelFunc {
	stop := make(chan struct{})
	var fired atomic.Bool

	go func() {
		timer := time.NewTimer(d)
		defer timer.Stop()
		select {
		case <-timer.C:
			if fired.CompareAndSwap(false, true) {
				logDebug("timer fired", zap.Duration("after", d))
				disp.Submit(task)
			}
		case <-stop:
			logDebug("timer cancelled", zap.Duration("after", d))
		}
	}()

	var once sync.Once
	return func() {
		once.Do(func() { close(stop) })
	}
}

// PoolDispatcher forwards submitted tasks to a bounded pool of persistent
// worker goroutines, grounded on the job-queue-plus-worker-pool shape in
// the migration-agent example's scheduler package: a shared work channel
// drained by N workers started up front, with Submit retrying against a
// full queue with exponential backoff rather than blocking indefinitely.
type PoolDispatcher struct {
	work    chan func()
	closed  chan struct{}
	wg      sync.WaitGroup
	backoff func() backoff.BackOff
}

// NewPoolDispatcher starts workers persistent goroutines draining a
// shared, unbuffered work queue.
func NewPoolDispatcher(workers int) *PoolDispatcher {
	if workers < 1 {
		workers = 1
	}
	p := &PoolDispatcher{
		work:   make(chan func()),
		closed: make(chan struct{}),
		backoff: func() backoff.BackOff {
			return backoff.NewExponentialBackOff()
		},
	}
	for i := 0; i < workers; i++ {
		p.wg.Add(1)
		go p.runWorker()
	}
	return p
}

func (p *PoolDispatcher) runWorker() {
	defer p.wg.Done()
	for {
		select {
		case task := <-p.work:
			task()
		case <-p.closed:
			return
		}
	}
}

// Submit enqueues task for a worker to run. If every worker is currently
// busy, Submit retries with exponential backoff instead of blocking the
// caller on an unbounded queue.
func (p *PoolDispatcher) Submit(task func()) {
	op := func() (struct{}, error) {
		select {
		case p.work <- task:
			return struct{}{}, nil
		case <-p.closed:
			return struct{}{}, backoff.Permanent(errPoolClosed)
		default:
			return struct{}{}, errPoolBusy
		}
	}
	if _, err := backoff.Retry(
		context.Background(),
		op,
		backoff.WithBackOff(p.backoff()),
		backoff.WithMaxElapsedTime(0),
	); err != nil {
		logWarn("pool dispatcher dropped task", zap.Error(err))
	}
}

func (p *PoolDispatcher) ScheduleAfter(d time.Duration, task func()) CancelFunc {
	return scheduleAfter(p, d, task)
}

// Close stops accepting new tasks and waits for in-flight workers to
// drain their current task.
func (p *PoolDispatcher) Close() {
	close(p.closed)
	p.wg.Wait()
}

// SingleThreadDispatcher serializes every submitted task onto one
// dedicated goroutine — the shape a UI event loop or any other
// single-threaded host plugs into. Tasks submitted from inside a task
// already running on that goroutine are queued rather than run
// re-entrantly, matching PoolDispatcher's and InlineDispatcher's
// run-to-suspension-without-interleaving guarantee.
type SingleThreadDispatcher struct {
	tasks  chan func()
	closed chan struct{}
}

// NewSingleThreadDispatcher starts the dedicated goroutine and returns a
// Dispatcher bound to it.
func NewSingleThreadDispatcher() *SingleThreadDispatcher {
	d := &SingleThreadDispatcher{
		tasks:  make(chan func(), 256),
		closed: make(chan struct{}),
	}
	go d.run()
	return d
}

func (d *SingleThreadDispatcher) run() {
	for {
		select {
		case task := <-d.tasks:
			task()
		case <-d.closed:
			return
		}
	}
}

func (d *SingleThreadDispatcher) Submit(task func()) {
	select {
	case <-d.closed:
		logWarn("single-thread dispatcher dropped task after close")
		return
	default:
	}
	select {
	case d.tasks <- task:
	case <-d.closed:
		logWarn("single-thread dispatcher dropped task after close")
	}
}

func (d *SingleThreadDispatcher) ScheduleAfter(dur time.Duration, task func()) CancelFunc {
	return scheduleAfter(d, dur, task)
}

// Close stops the dedicated goroutine. Tasks submitted after Close are
// dropped rather than run.
func (d *SingleThreadDispatcher) Close() {
	close(d.closed)
}
