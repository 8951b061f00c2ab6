package lattice

import "warp/internal/cancel"

// Computer is the only plugin surface the engine requires: a user-supplied
// function from a Context to a computed NodeData or an error.
type Computer[K comparable, V any, C any] interface {
	Compute(ctx *Context[K, V, C]) (NodeData[V], error)
}

// ComputerFunc adapts a plain function to the Computer interface.
type ComputerFunc[K comparable, V any, C any] func(ctx *Context[K, V, C]) (NodeData[V], error)

func (f ComputerFunc[K, V, C]) Compute(ctx *Context[K, V, C]) (NodeData[V], error) {
	return f(ctx)
}

// Context is the per-invocation handle passed to a Computer. It borrows the
// Engine and the key under computation for the lifetime of exactly one
// Compute call and must not outlive it.
type Context[K comparable, V any, C any] struct {
	engine  *Engine[K, V, C]
	caller  *K
	this    K
	stack   []K
	oldData *NodeData[V]
	userCtx C
	token   cancel.Token
}

// This returns the key currently being computed.
func (c *Context[K, V, C]) This() K { return c.this }

// Caller returns the key that requested this one, and whether one exists
// (false for a root invocation).
func (c *Context[K, V, C]) Caller() (K, bool) {
	if c.caller == nil {
		var zero K
		return zero, false
	}
	return *c.caller, true
}

// OldData returns the previous NodeData if this invocation followed a
// Dirty->Computing transition, enabling early-cut reuse when the newly
// produced OutputHash matches the old one.
func (c *Context[K, V, C]) OldData() (NodeData[V], bool) {
	if c.oldData == nil {
		return NodeData[V]{}, false
	}
	return *c.oldData, true
}

// UserContext returns the effective user-supplied context.
func (c *Context[K, V, C]) UserContext() C { return c.userCtx }

// CancelToken returns the cloneable cancellation handle for this
// invocation. The Computer must consult it at coarse suspension points.
func (c *Context[K, V, C]) CancelToken() cancel.Token { return c.token }

// Request demands key k on behalf of the current computation, recording
// the dependency edge this->k and recursing into the engine's Get. The
// cycle check happens before any graph mutation, so a cyclic request never
// poisons the graph with an edge it would not have created on success.
func (c *Context[K, V, C]) Request(k K) (NodeData[V], error) {
	return c.RequestWithContext(k, c.engine.userCtx)
}

// RequestWithContext is Request but overriding the user-context passed
// into the nested Compute invocation; the engine's construction-time
// context is only the default for plain Request. The override applies to
// the requested key's compute alone - anything it requests in turn starts
// again from its own context.
func (c *Context[K, V, C]) RequestWithContext(k K, userCtx C) (NodeData[V], error) {
	for i, s := range c.stack {
		if s == k {
			// The reported path starts at the first occurrence of k and ends
			// at k again, so the caller sees exactly the offending loop
			// rather than the whole request chain above it.
			path := append(append([]K{}, c.stack[i:]...), k)
			return NodeData[V]{}, &CycleDetected[K]{Path: path, Current: c.this}
		}
	}

	newStack := make([]K, len(c.stack), len(c.stack)+1)
	copy(newStack, c.stack)
	newStack = append(newStack, k)

	c.engine.graph.AddChild(c.this, k)

	if c.token.IsCancelled() {
		reason, _ := c.token.Reason()
		return NodeData[V]{}, &Canceled{Reason: reason}
	}

	this := c.this
	return c.engine.get(k, &this, newStack, c.token, userCtx)
}
