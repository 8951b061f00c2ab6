package lattice

import (
	"fmt"
	"sync"

	"warp/internal/cancel"
	"warp/internal/depgraph"
)

// Engine is the status map, request coordinator and persistence boundary
// for one memoized computation space. It exclusively owns its status map
// and dependency graph.
type Engine[K comparable, V any, C any] struct {
	mu       sync.Mutex // guards creation of new entries map[K]*entry[V]
	entries  map[K]*entry[V]
	graph    *depgraph.Graph[K]
	computer Computer[K, V, C]
	userCtx  C
	log      Logger
}

// Logger is the minimal structured-logging surface the engine consults. It
// is satisfied by trace.LoggingSink, a thin adapter over
// github.com/joeycumines/logiface, and is nil-safe: a nil Logger silently
// drops events.
type Logger interface {
	Event(level string, msg string, fields map[string]any)
}

// New constructs an Engine bound to a Computer and an effective
// user-supplied context, mirroring engine.rs's constructor (the context is
// fixed at construction, not supplied per-call - see DESIGN.md's Open
// Question resolution).
func New[K comparable, V any, C any](computer Computer[K, V, C], userCtx C, opts ...Option[K, V, C]) *Engine[K, V, C] {
	e := &Engine[K, V, C]{
		entries:  make(map[K]*entry[V]),
		graph:    depgraph.New[K](),
		computer: computer,
		userCtx:  userCtx,
	}
	for _, o := range opts {
		o(e)
	}
	return e
}

// Option configures an Engine at construction time.
type Option[K comparable, V any, C any] func(*Engine[K, V, C])

// WithLogger attaches a structured logger; nil is accepted and disables
// logging.
func WithLogger[K comparable, V any, C any](l Logger) Option[K, V, C] {
	return func(e *Engine[K, V, C]) { e.log = l }
}

func (e *Engine[K, V, C]) logEvent(level, msg string, fields map[string]any) {
	if e.log == nil {
		return
	}
	e.log.Event(level, msg, fields)
}

// DependencyGraph returns read access to the dependency graph, for
// debuggers and the resolver.
func (e *Engine[K, V, C]) DependencyGraph() *depgraph.Graph[K] {
	return e.graph
}

func (e *Engine[K, V, C]) entryFor(key K, create bool) (*entry[V], bool) {
	e.mu.Lock()
	defer e.mu.Unlock()
	ent, ok := e.entries[key]
	if !ok && create {
		ent = newEntry[V]()
		e.entries[key] = ent
		ok = true
	}
	return ent, ok
}

// PeekStatus returns a non-blocking snapshot of a single entry, for
// diagnostics. A key with no entry reports Present: false (Vacant).
func (e *Engine[K, V, C]) PeekStatus(key K) Snapshot[V] {
	ent, ok := e.entryFor(key, false)
	if !ok {
		return Snapshot[V]{Present: false}
	}
	ent.mu.Lock()
	defer ent.mu.Unlock()
	switch ent.kind {
	case kindVerified, kindDirty:
		return Snapshot[V]{Present: true, Kind: ent.kind.String(), Data: ent.data}
	case kindFailed:
		return Snapshot[V]{Present: true, Kind: ent.kind.String(), Err: ent.err}
	case kindUnreachable:
		return Snapshot[V]{Present: true, Kind: ent.kind.String(), Reason: ent.reason}
	default:
		return Snapshot[V]{Present: true, Kind: ent.kind.String()}
	}
}

// Durable returns a point-in-time snapshot of every Verified or Dirty entry,
// the only two kinds the persistence layer is permitted to write (Computing,
// Failed and Unreachable are ephemeral and excluded). It takes the
// engine-level map lock only long enough to copy the key list and current
// entry pointers, then reads each entry under its own lock, so it never
// holds a single lock across the whole snapshot.
func (e *Engine[K, V, C]) Durable() map[K]Status[V] {
	e.mu.Lock()
	keys := make([]K, 0, len(e.entries))
	entries := make([]*entry[V], 0, len(e.entries))
	for k, ent := range e.entries {
		keys = append(keys, k)
		entries = append(entries, ent)
	}
	e.mu.Unlock()

	out := make(map[K]Status[V], len(keys))
	for i, k := range keys {
		ent := entries[i]
		ent.mu.Lock()
		switch ent.kind {
		case kindVerified:
			out[k] = Verified(ent.data)
		case kindDirty:
			out[k] = DirtyStatus(ent.data)
		}
		ent.mu.Unlock()
	}
	return out
}

// Insert seeds state for a key at startup (e.g. reloading a persisted
// snapshot), along with any known parent/child edges for the dependency
// graph; either slice may be nil. It is not a concurrency-safe transition
// primitive; callers must not call Insert concurrently with live traffic
// on the same key.
func (e *Engine[K, V, C]) Insert(key K, status Status[V], parents, children []K) error {
	ent, _ := e.entryFor(key, true)
	ent.mu.Lock()
	ent.kind = status.kind
	ent.data = status.data
	ent.err = status.err
	ent.reason = status.reason
	ent.notify = nil
	ent.mu.Unlock()

	for _, p := range parents {
		e.graph.AddParent(key, p)
	}
	for _, c := range children {
		e.graph.AddChild(key, c)
	}
	return nil
}

// Pollute performs the single externally-triggered status-map transition.
// Fixed per the design ledger: it accepts only a Dirty-kind status
// argument - any other kind is rejected with InvalidPolluteAction - and on
// acceptance inserts it and returns nil. The original source inserted the
// Dirty data but then unconditionally reported failure; that bug is not
// reproduced here.
func (e *Engine[K, V, C]) Pollute(key K, status Status[V]) error {
	if status.kind != kindDirty {
		return &InvalidPolluteAction{Key: fmt.Sprint(key), Reason: "only a Dirty status may be used to pollute a node"}
	}
	ent, ok := e.entryFor(key, false)
	if !ok {
		return &InvalidPolluteAction{Key: fmt.Sprint(key), Reason: "key does not exist"}
	}
	ent.mu.Lock()
	defer ent.mu.Unlock()
	if ent.kind != kindVerified {
		return &InvalidPolluteAction{Key: fmt.Sprint(key), Reason: fmt.Sprintf("current status is %s, not Verified", ent.kind)}
	}
	ent.kind = kindDirty
	ent.data = status.data
	return nil
}

// Dirty is the public convenience wrapper for Pollute: it reads the
// current Verified NodeData and transitions it to Dirty in place,
// preserving the value for early-cut change detection.
func (e *Engine[K, V, C]) Dirty(key K) error {
	ent, ok := e.entryFor(key, false)
	if !ok {
		return &InvalidPolluteAction{Key: fmt.Sprint(key), Reason: "key does not exist"}
	}
	ent.mu.Lock()
	if ent.kind != kindVerified {
		kind := ent.kind
		ent.mu.Unlock()
		return &InvalidPolluteAction{Key: fmt.Sprint(key), Reason: fmt.Sprintf("current status is %s, not Verified", kind)}
	}
	data := ent.data
	ent.mu.Unlock()
	return e.Pollute(key, DirtyStatus(data))
}

// Get is the internal single-key demand coordinator, exposed for testing.
// It has no caller, its cycle stack holds only key itself - equivalent to
// a root Request - and it uses the engine's stored context.
func (e *Engine[K, V, C]) Get(key K, tok cancel.Token) (NodeData[V], error) {
	return e.get(key, nil, []K{key}, tok, e.userCtx)
}

// get implements the claim/compute/publish loop of the request
// coordinator (C3). userCtx is the effective user context for this one
// compute invocation: the engine's stored context for a root Get or a
// plain Request, or a caller-supplied override from RequestWithContext.
// It is a single for-loop whose only looping case is Computing (wait on
// the notify channel, then retry); every other case returns directly, so
// there is no vestigial "breaks after one real iteration" structure to
// carry over from the original source.
func (e *Engine[K, V, C]) get(key K, caller *K, stack []K, tok cancel.Token, userCtx C) (NodeData[V], error) {
	for {
		ent, _ := e.entryFor(key, true)
		ent.mu.Lock()

		switch ent.kind {
		case kindVerified:
			data := ent.data
			ent.mu.Unlock()
			return data, nil

		case kindFailed:
			err := ent.err
			ent.mu.Unlock()
			return NodeData[V]{}, err

		case kindUnreachable:
			reason := ent.reason
			ent.mu.Unlock()
			return NodeData[V]{}, &ErrUnreachable{Key: fmt.Sprint(key), Reason: reason}

		case kindComputing:
			// Clone the notify handle, release the entry, and suspend
			// outside any map-internal lock.
			notify := ent.notify
			ent.mu.Unlock()
			select {
			case <-notify:
				continue // re-read the published terminal state
			case <-tok.Cancelled():
				reason, _ := tok.Reason()
				return NodeData[V]{}, &Canceled{Reason: reason}
			}
		}

		// Vacant or Dirty: claim the entry.
		var oldData *NodeData[V]
		if ent.kind == kindDirty {
			d := ent.data
			oldData = &d
		}
		notify := make(chan struct{})
		ent.kind = kindComputing
		ent.notify = notify
		ent.mu.Unlock()

		e.graph.ClearChildrenOf(key)

		if tok.IsCancelled() {
			reason, _ := tok.Reason()
			cerr := &Canceled{Reason: reason}
			ent.mu.Lock()
			ent.kind = kindFailed
			ent.err = cerr
			ent.notify = nil
			ent.mu.Unlock()
			close(notify)
			return NodeData[V]{}, cerr
		}

		cctx := &Context[K, V, C]{
			engine:  e,
			caller:  caller,
			this:    key,
			stack:   stack,
			oldData: oldData,
			userCtx: userCtx,
			token:   tok,
		}

		data, err := e.invokeComputer(cctx)

		ent.mu.Lock()
		if err != nil {
			ent.kind = kindFailed
			ent.err = err
			ent.notify = nil
		} else {
			ent.kind = kindVerified
			ent.data = data
			ent.notify = nil
		}
		ent.mu.Unlock()
		close(notify) // notify-all: a channel close broadcasts to every waiter at once

		if err != nil {
			e.logEvent("error", "compute failed", map[string]any{"key": fmt.Sprint(key), "error": err.Error()})
			return NodeData[V]{}, err
		}
		e.logEvent("debug", "compute verified", map[string]any{"key": fmt.Sprint(key)})
		return data, nil
	}
}

// invokeComputer runs the user Computer, converting any panic into a
// Failed(UnexpectedError) rather than letting it escape and leave the
// entry stuck in Computing.
func (e *Engine[K, V, C]) invokeComputer(ctx *Context[K, V, C]) (data NodeData[V], err error) {
	defer func() {
		if r := recover(); r != nil {
			err = &UnexpectedError{Msg: fmt.Sprintf("panic in Computer for key %v: %v", ctx.this, r)}
		}
	}()
	return e.computer.Compute(ctx)
}
