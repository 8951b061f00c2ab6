package lattice

import (
	"sync"

	"golang.org/x/sync/errgroup"

	"warp/internal/cancel"
)

// Resolve pre-drives the subgraph reachable from root before demanding root
// itself, so that by the time Get(root) runs every dependency it will
// synchronously need is already Verified (or has already failed). parallelism
// bounds the number of concurrent sub-walks at any one level; values <= 0 are
// treated as 1.
//
// Child sub-walks fan out using golang.org/x/sync/errgroup with SetLimit,
// the idiomatic Go analogue of buffer_unordered(N). Unlike a typical errgroup
// usage, a child's error is never returned to the group - doing so would
// trigger the group's own fail-fast cancellation of sibling goroutines via
// its derived context, and the resolver's contract is the opposite: a single
// sibling's failure must not prevent discovery of the others. Each error is
// instead captured into a per-call, mutex-guarded slice and the group itself
// always succeeds.
func (e *Engine[K, V, C]) Resolve(root K, parallelism int, tok cancel.Token) (NodeData[V], error) {
	if parallelism <= 0 {
		parallelism = 1
	}
	if err := e.resolveChildren(root, parallelism, nil, tok); err != nil {
		return NodeData[V]{}, err
	}
	return e.Get(root, tok)
}

// resolveChildren walks children[key] (a snapshot of pre-existing edges, not
// the cycle-detection stack used at compute time) and recursively resolves
// each, bounded to parallelism concurrent sub-walks. path tracks the active
// resolve path so a pre-existing cycle is reported rather than recursing
// forever; fresh cycles (edges not yet in the graph) are instead caught at
// request time by Context.Request.
func (e *Engine[K, V, C]) resolveChildren(key K, parallelism int, path []K, tok cancel.Token) error {
	for i, p := range path {
		if p == key {
			return &CycleDetected[K]{Path: append(append([]K{}, path[i:]...), key), Current: key}
		}
	}
	nextPath := append(append([]K{}, path...), key)

	children := e.graph.IterChildren(key)
	if len(children) == 0 {
		return nil
	}

	var (
		mu   sync.Mutex
		errs []error
		g    errgroup.Group
	)
	g.SetLimit(parallelism)

	for _, child := range children {
		child := child
		g.Go(func() error {
			if tok.IsCancelled() {
				reason, _ := tok.Reason()
				mu.Lock()
				errs = append(errs, &Canceled{Reason: reason})
				mu.Unlock()
				return nil
			}
			if err := e.resolveChildren(child, parallelism, nextPath, tok); err != nil {
				mu.Lock()
				errs = append(errs, err)
				mu.Unlock()
				return nil
			}
			if _, err := e.Get(child, tok); err != nil {
				mu.Lock()
				errs = append(errs, err)
				mu.Unlock()
			}
			return nil
		})
	}
	_ = g.Wait() // every Go func above always returns nil; errors are aggregated separately

	if len(errs) > 0 {
		return &AggregativeError{Errors: errs}
	}
	return nil
}
