package gocoro

// Generator is the capability a generator body receives: the only thing
// it can do is Yield a value back to the pull side.
type Generator[T any] struct {
	scope *coroutineScope
	value T
}

// Yield hands v to whichever side is currently pulling via Sequence's
// HasNext/Next, parking the generator's coroutine until the next pull.
func (g *Generator[T]) Yield(v T) error {
	_, err := suspendHere[struct{}](g.scope, func(k Continuation[struct{}]) (struct{}, error, bool) {
		g.value = v
		g.scope.pendingPull = func() { k.Resume(struct{}{}) }
		return struct{}{}, nil, false
	})
	return err
}

// Sequence is a demand-driven iterator produced by Generate. HasNext
// drives the generator body forward until its next Yield, its return, or
// a failure; Next returns the value most recently produced.
type Sequence[T any] struct {
	scope   *coroutineScope
	gen     *Generator[T]
	started bool
	done    bool
	err     error
	current T
}

// Generate builds a lazily-driven Sequence[T] from block, which receives
// a Generator[T] capability to Yield values through. No goroutine runs
// block until the first call to HasNext or Next. The generator's own
// scope always resumes inline regardless of ctx's Dispatcher: HasNext is
// itself the synchronous pull, so there is no hand-off for a Dispatcher
// to mediate.
func Generate[T any](ctx *Context, block func(*Generator[T]) error) *Sequence[T] {
	genCtx := ctx.WithDispatcher(InlineDispatcher{})
	scope := &coroutineScope{ctx: genCtx, coro: newCoroutine()}
	gen := &Generator[T]{scope: scope}
	seq := &Sequence[T]{scope: scope, gen: gen}

	scope.coro.run(func() {
		err := runGeneratorBody(gen, block)
		seq.done = true
		seq.err = err
	})

	return seq
}

func runGeneratorBody[T any](gen *Generator[T], block func(*Generator[T]) error) (err error) {
	defer func() {
		if r := recover(); r != nil {
			if ue, ok := r.(*UsageError); ok {
				panic(ue)
			}
			err = newPanicError(r)
		}
	}()
	return block(gen)
}

// HasNext advances the generator until it yields again, returns, or
// fails. It returns false once the body has returned; it re-raises a
// body failure to the caller instead of returning it as a second value
// alongside true.
func (s *Sequence[T]) HasNext() (bool, error) {
	if s.done {
		return false, s.err
	}
	if !s.started {
		s.started = true
		if !s.scope.coro.start() {
			return false, s.err
		}
		s.current = s.gen.value
		return true, nil
	}

	pull := s.scope.pendingPull
	s.scope.pendingPull = nil
	pull() // runs inline: blocks until the body parks at its next Yield or returns
	if s.done {
		return false, s.err
	}
	s.current = s.gen.value
	return true, nil
}

// Next returns the value most recently produced. It calls HasNext first
// if the sequence has not yet been advanced at all.
func (s *Sequence[T]) Next() (T, error) {
	if !s.started {
		if _, err := s.HasNext(); err != nil {
			var zero T
			return zero, err
		}
	}
	return s.current, nil
}
