// Package core holds the execution primitives that internal/buildgraph
// wires into the generic incremental engine: declarative task definitions,
// content-addressed input resolution, sandboxed execution, artifact
// harvesting, and a secondary cache keyed by the resulting input hash.
//
// # Determinism constraints
//
// Every type here is built to the same rule: nothing that isn't an
// explicit, named part of a task's identity may leak into its hash.
//
//  1. No implicitly-varying fields (timestamps, PIDs, absolute paths)
//  2. Every field traces back to a declared part of the task or its inputs
//  3. Every structure serializes exactly the same way on every run
//
// # Core types
//
// Task is the declarative unit of work. Input is a resolved file whose
// content feeds a task's hash. Artifact is a declared output a task
// produced, captured for caching and later replay.
package core
