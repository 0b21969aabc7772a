package gocoro

// contextKey identifies an element stored in a Context. Keys are compared
// by identity, so each call to NewContextKey produces a distinct key even
// if two keys share a debug name.
type contextKey struct {
	name string
}

// NewContextKey creates a fresh, identity-distinct key for storing
// opaque user-defined elements in a Context. name is used only for
// diagnostics.
func NewContextKey(name string) any {
	return &contextKey{name: name}
}

var (
	jobKeyElem        = &contextKey{name: "job"}
	dispatcherKeyElem = &contextKey{name: "dispatcher"}
)

// Context is an immutable mapping from opaque element keys to elements.
// Contexts compose by override-merge: WithValue on an existing Context
// returns a new Context in which the new key wins, and every other
// element carried by the parent is still reachable. The Context active
// at a suspension point is captured with the suspension and restored on
// resume, via the *coroutineScope that suspendHere closes over.
type Context struct {
	parent *Context
	key    any
	value  any
}

// Background returns an empty Context carrying no Job and the
// InlineDispatcher.
func Background() *Context {
	return (&Context{}).withDispatcher(InlineDispatcher{})
}

// WithValue returns a new Context with key bound to value, overriding
// any existing binding for key from ctx (or any of its ancestors).
func (c *Context) WithValue(key, value any) *Context {
	return &Context{parent: c, key: key, value: value}
}

// Value looks up key, walking from the most recently merged element
// toward the root. It returns nil if key is not bound.
func (c *Context) Value(key any) any {
	for cur := c; cur != nil; cur = cur.parent {
		if cur.key == key {
			return cur.value
		}
	}
	return nil
}

// Job returns the Job bound in ctx, or nil if ctx carries none (e.g. the
// background context before any Launch/Defer/RunScope installed one).
func (c *Context) Job() *Job {
	if v := c.Value(jobKeyElem); v != nil {
		return v.(*Job)
	}
	return nil
}

func (c *Context) withJob(j *Job) *Context {
	return c.WithValue(jobKeyElem, j)
}

// Dispatcher returns the Dispatcher bound in ctx. Every Context produced
// by Background or WithDispatcher carries one, and a Context that carries
// none yields InlineDispatcher, so the result is never nil.
func (c *Context) Dispatcher() Dispatcher {
	if v := c.Value(dispatcherKeyElem); v != nil {
		return v.(Dispatcher)
	}
	return InlineDispatcher{}
}

// WithDispatcher returns a new Context that resumes continuations
// captured under it via d instead of whatever Dispatcher ctx carried.
func (c *Context) WithDispatcher(d Dispatcher) *Context {
	return c.withDispatcher(d)
}

func (c *Context) withDispatcher(d Dispatcher) *Context {
	return c.WithValue(dispatcherKeyElem, d)
}
