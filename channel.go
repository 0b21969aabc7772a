package gocoro

import (
	"sync/atomic"

	"go.uber.org/zap"
)

// chanPhase is the tag of a Channel's single state cell. A rendezvous
// Channel holds at most one sender or receiver waiting at a time: Empty
// with nobody parked, SenderRegistered once a sender has announced intent
// without a value yet, SenderWaiting once that sender has a value parked
// and is waiting for a receiver, or ReceiverWaiting once a receiver is
// parked waiting for a value.
type chanPhase int32

const (
	chanEmpty chanPhase = iota
	chanSenderRegistered
	chanSenderWaiting
	chanReceiverWaiting
)

func (p chanPhase) String() string {
	switch p {
	case chanEmpty:
		return "Empty"
	case chanSenderRegistered:
		return "SenderRegistered"
	case chanSenderWaiting:
		return "SenderWaiting"
	case chanReceiverWaiting:
		return "ReceiverWaiting"
	default:
		return "Unknown"
	}
}

// chanState is the immutable value swapped into a Channel's state cell.
// Every transition replaces the cell wholesale via CompareAndSwap rather
// than mutating it in place, so a racing peer always observes either the
// old state or the new one, never a partially updated cell.
type chanState[T any] struct {
	phase chanPhase
	value T
	kSend Continuation[struct{}]
	kRecv Continuation[T]
}

// Channel is a lock-free single-slot rendezvous: at most one producer and
// one consumer may be parked on it at a time. A second concurrent sender
// or receiver is a usage error, reported through the caller's failure
// continuation rather than left to corrupt the cell.
type Channel[T any] struct {
	state atomic.Pointer[chanState[T]]
}

// NewChannel returns an empty Channel.
func NewChannel[T any]() *Channel[T] {
	ch := &Channel[T]{}
	ch.state.Store(&chanState[T]{phase: chanEmpty})
	return ch
}

// cas attempts to swap old for next. Returns false if the cell moved
// under us; the caller is expected to reread and retry.
func (ch *Channel[T]) cas(old, next *chanState[T]) bool {
	return ch.state.CompareAndSwap(old, next)
}

// RegisterSender announces intent to send without yet supplying a value,
// used by a producer that wants to observe backpressure (a parked
// receiver) before doing the work of computing what to send. kSend is
// resumed by this call itself when the outcome is already known
// (handoff or misuse); raw callers — ones supplying their own
// Continuation implementation rather than going through a suspending
// wrapper — can rely on that. The suspendHere-backed SendSuspend does not
// use RegisterSender and resumes nothing on this goroutine's own behalf.
func (ch *Channel[T]) RegisterSender(kSend Continuation[struct{}]) {
	for {
		cur := ch.state.Load()
		switch cur.phase {
		case chanEmpty:
			next := &chanState[T]{phase: chanSenderRegistered, kSend: kSend}
			if ch.cas(cur, next) {
				return
			}
		case chanReceiverWaiting:
			next := &chanState[T]{phase: chanReceiverWaiting, kRecv: cur.kRecv}
			if ch.cas(cur, next) {
				kSend.Resume(struct{}{})
				return
			}
		default:
			logWarn("channel registerSender rejected: sender already present", zap.Stringer("phase", cur.phase))
			kSend.ResumeWithFailure(newUsageError("Channel.RegisterSender", "a sender is already registered or waiting"))
			return
		}
	}
}

// Send hands v to a parked receiver if one is waiting, or parks kSend
// until one arrives. Like RegisterSender, this resumes kSend itself when
// the outcome is immediate; SendSuspend uses trySend instead to avoid
// resuming its own freshly minted continuation before it has parked.
func (ch *Channel[T]) Send(v T, kSend Continuation[struct{}]) {
	sync, err := ch.trySend(v, kSend)
	if !sync {
		return
	}
	if err != nil {
		kSend.ResumeWithFailure(err)
		return
	}
	kSend.Resume(struct{}{})
}

// Receive parks kRecv until a value is available, or immediately consumes
// one if a sender is already waiting with a value. A sender that is only
// registered is woken, and kRecv stays parked until that sender's Send
// supplies the value. Like Send, this resumes kRecv itself when the
// outcome is immediate.
func (ch *Channel[T]) Receive(kRecv Continuation[T]) {
	v, sync, err := ch.tryReceive(kRecv)
	if !sync {
		return
	}
	if err != nil {
		kRecv.ResumeWithFailure(err)
		return
	}
	kRecv.Resume(v)
}

// trySend drives the state machine for a send of v. It returns
// (sync=false, nil) having stored kSend in the cell for a later Receive
// to resume asynchronously, or (sync=true, err) when the outcome is
// already known: err is nil on a completed handoff (having already
// resumed the waiting receiver's continuation — a different coroutine's,
// safe to resume from here) and non-nil on misuse. The caller is
// responsible for resolving kSend itself in the sync=true case; trySend
// never touches it, since for a suspendHere-backed caller kSend has not
// parked yet and resuming it here would deadlock the resumer's own wait.
func (ch *Channel[T]) trySend(v T, kSend Continuation[struct{}]) (sync bool, err error) {
	for {
		cur := ch.state.Load()
		switch cur.phase {
		case chanEmpty:
			next := &chanState[T]{phase: chanSenderWaiting, value: v, kSend: kSend}
			if ch.cas(cur, next) {
				return false, nil
			}
		case chanSenderRegistered:
			next := &chanState[T]{phase: chanSenderWaiting, value: v, kSend: kSend}
			if ch.cas(cur, next) {
				return false, nil
			}
		case chanReceiverWaiting:
			next := &chanState[T]{phase: chanEmpty}
			if ch.cas(cur, next) {
				cur.kRecv.Resume(v)
				return true, nil
			}
		default:
			logWarn("channel send rejected: sender already present", zap.Stringer("phase", cur.phase))
			return true, newUsageError("Channel.Send", "a sender is already registered or waiting")
		}
	}
}

// tryReceive is trySend's mirror image for the receive side.
func (ch *Channel[T]) tryReceive(kRecv Continuation[T]) (value T, sync bool, err error) {
	for {
		cur := ch.state.Load()
		switch cur.phase {
		case chanEmpty:
			next := &chanState[T]{phase: chanReceiverWaiting, kRecv: kRecv}
			if ch.cas(cur, next) {
				var zero T
				return zero, false, nil
			}
		case chanSenderRegistered:
			// The registered sender has not computed a value yet: wake it
			// to proceed toward Send, but this receive does not complete
			// here. It takes over the cell as the waiting receiver; the
			// sender's upcoming trySend call finds chanReceiverWaiting and
			// completes the handoff then.
			next := &chanState[T]{phase: chanReceiverWaiting, kRecv: kRecv}
			if ch.cas(cur, next) {
				cur.kSend.Resume(struct{}{})
				var zero T
				return zero, false, nil
			}
		case chanSenderWaiting:
			next := &chanState[T]{phase: chanEmpty}
			if ch.cas(cur, next) {
				cur.kSend.Resume(struct{}{})
				return cur.value, true, nil
			}
		default:
			logWarn("channel receive rejected: receiver already present", zap.Stringer("phase", cur.phase))
			var zero T
			return zero, true, newUsageError("Channel.Receive", "a receiver is already waiting")
		}
	}
}

// SendSuspend is the suspendHere-shaped entry point used by coroutine
// bodies: it sends v, parking scope's coroutine until a receiver
// completes the handoff, and resumes with Cancellation if scope's Job is
// cancelled while parked.
func (ch *Channel[T]) SendSuspend(scope *coroutineScope, v T) error {
	var k Continuation[struct{}]
	_, err := suspendHereCancel[struct{}](scope, func(kk Continuation[struct{}]) (struct{}, error, bool) {
		k = kk
		if sync, sendErr := ch.trySend(v, kk); sync {
			return struct{}{}, sendErr, true
		}
		return struct{}{}, nil, false
	}, func() { ch.retractSender(k) })
	return err
}

// ReceiveSuspend parks scope's coroutine until a value is available,
// returning it, or resumes with Cancellation if scope's Job is cancelled
// while parked.
func (ch *Channel[T]) ReceiveSuspend(scope *coroutineScope) (T, error) {
	var k Continuation[T]
	return suspendHereCancel[T](scope, func(kk Continuation[T]) (T, error, bool) {
		k = kk
		if v, sync, recvErr := ch.tryReceive(kk); sync {
			return v, recvErr, true
		}
		var zero T
		return zero, nil, false
	}, func() { ch.retractReceiver(k) })
}

// retractSender removes k from the state cell if it is still sitting
// there as the registered or waiting sender, leaving the cell Empty. A
// no-op if a racing receiver already completed the handoff first.
func (ch *Channel[T]) retractSender(k Continuation[struct{}]) {
	for {
		cur := ch.state.Load()
		switch cur.phase {
		case chanSenderRegistered, chanSenderWaiting:
			if cur.kSend != k {
				return
			}
			if ch.cas(cur, &chanState[T]{phase: chanEmpty}) {
				return
			}
		default:
			return
		}
	}
}

// retractReceiver removes k from the state cell if it is still the
// parked receiver, leaving the cell Empty. A no-op if a racing sender
// already completed the handoff first.
func (ch *Channel[T]) retractReceiver(k Continuation[T]) {
	for {
		cur := ch.state.Load()
		if cur.phase != chanReceiverWaiting || cur.kRecv != k {
			return
		}
		if ch.cas(cur, &chanState[T]{phase: chanEmpty}) {
			return
		}
	}
}
