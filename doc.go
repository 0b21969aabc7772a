/*
Package gocoro is a structured-concurrency runtime built around three
tightly coupled primitives: suspendable computations ("coroutines") that
park without blocking an OS thread, a job tree that gives every running
coroutine a parent and propagates cancellation down / failure up, and two
synchronous building blocks on top of that — a pull-based generator and a
single-slot rendezvous channel.

# Suspension

Coroutines suspend at well-defined points only: [Yield], [Delay], joining
or awaiting a not-yet-terminal [Job] or [Deferred], and the [Channel]
operations when the channel's state requires parking. There is no
preemption; a coroutine runs until it voluntarily reaches one of these
points.

# Structured concurrency

[Launch] and [Defer] start a child coroutine under the [Job] carried by
the current [Context]. A parent is not terminal until every child it
launched is terminal. Cancelling a job cancels its still-active children;
a child failing with anything other than cancellation requests
cancellation of its parent. [RunScope] is the one blocking entry point:
it parks the calling goroutine until its root job completes and re-raises
an unhandled failure on that goroutine.

# Dispatchers

A [Dispatcher] decides which goroutine actually runs a resumed
continuation. [InlineDispatcher] runs it on whichever goroutine called
Resume; [PoolDispatcher] hands it to a bounded worker pool;
[SingleThreadDispatcher] serializes it onto one dedicated goroutine, the
shape a UI event loop would plug into.
*/
package gocoro
