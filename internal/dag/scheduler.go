package dag

// ExecutionState maps task name to its current TaskState.
//
// It is intentionally a plain map so state transitions (see state_machine.go)
// can remain pure functions without coupling to an executor implementation.
type ExecutionState map[string]TaskState
