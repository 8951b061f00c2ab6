// Package lattice implements the demand-driven, memoizing, dependency-
// tracking evaluator: the status map, request coordinator, resolver and
// compute context at the heart of the engine. It is generic over a key
// type K, a value type V, and a user-supplied context type C threaded
// through every Computer invocation.
//
// Ownership: an *Engine exclusively owns its status map and dependency
// graph. A *Context borrows the Engine and the key under computation for
// the lifetime of exactly one Compute call; it must never outlive that
// call. NodeData is cheaply cloned - its inner value is reference-shared,
// never deep-copied.
package lattice
