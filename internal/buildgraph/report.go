package buildgraph

import (
	"errors"
	"fmt"
	"sort"

	"warp/internal/dag"
	"warp/internal/lattice"
	"warp/internal/trace"
)

// DependencyFailed wraps the error returned by ctx.Request when a task's
// declared dependency did not reach a Verified state. It distinguishes "this
// task's own work failed" from "this task was never attempted because
// something it needs failed", which TaskReport needs to tell a genuine
// failure apart from a propagated skip.
type DependencyFailed struct {
	Dep string
	Err error
}

func (e *DependencyFailed) Error() string {
	return fmt.Sprintf("dependency %q failed: %v", e.Dep, e.Err)
}

func (e *DependencyFailed) Unwrap() error { return e.Err }

// TaskExecutionFailed is returned by Compute when a task's own command exits
// non-zero. It carries enough of the process outcome for reporting without
// keeping the full Result (failed tasks have no verified value to cache).
type TaskExecutionFailed struct {
	Name     string
	ExitCode int
	Stderr   []byte
}

func (e *TaskExecutionFailed) Error() string {
	return fmt.Sprintf("task %q exited with code %d", e.Name, e.ExitCode)
}

// TaskReport is the deterministic, reportable outcome of resolving an entire
// task graph: a terminal dag.TaskState per node (reusing dag's own state
// vocabulary for execution reporting, since resolution order itself is now
// owned by lattice.Engine rather than a dag-level scheduler) plus the
// ordered trace events a caller can persist for later inspection.
type TaskReport struct {
	State   dag.ExecutionState
	Trace   *trace.Recorder
	Results map[string]*Result
}

// BuildReport inspects every node of graph against engine's current status
// and produces a TaskReport. It must run after a Resolve/Get pass has
// settled every node the caller cares about; nodes the engine never touched
// (e.g. because they're unreachable from the requested roots) are reported
// Skipped with no cause, rather than Pending, since by the time a report is
// requested there is no further scheduling left to do.
func BuildReport(engine *lattice.Engine[string, *Result, *Env], graph *dag.TaskGraph) TaskReport {
	rec := trace.NewRecorder()
	state := make(dag.ExecutionState, len(graph.Nodes()))
	results := make(map[string]*Result)

	names := make([]string, 0, len(graph.Nodes()))
	for _, n := range graph.Nodes() {
		names = append(names, n.Name)
		state[n.Name] = dag.TaskPending
	}
	sort.Strings(names)

	// Pass 1: classify every node the engine actually touched. Genuine
	// failures transition through dag.Transition and immediately cascade
	// dag.TaskSkipped to their still-pending downstream dependents via
	// dag.FailAndPropagate, so the cascade is driven by graph reachability
	// rather than by the order names happen to be visited here.
	causes := make(map[string]string, len(names))
	for _, name := range names {
		snap := engine.PeekStatus(name)
		switch {
		case snap.Present && snap.Kind == "Verified":
			result := snap.Data.Value()
			results[name] = result
			if result.FromCache {
				mustTransition(state, name, dag.TaskPending, dag.TaskCached)
				trace.SafeRecord(rec, trace.TraceEvent{Kind: trace.EventTaskCached, TaskID: name, Reason: "CacheHit"})
				if len(result.RestoredArtifacts) > 0 {
					trace.SafeRecord(rec, trace.TraceEvent{Kind: trace.EventTaskArtifactsRestored, TaskID: name, Reason: "CacheReplay", Artifacts: result.RestoredArtifacts})
				}
			} else {
				mustTransition(state, name, dag.TaskPending, dag.TaskRunning)
				mustTransition(state, name, dag.TaskRunning, dag.TaskCompleted)
				trace.SafeRecord(rec, trace.TraceEvent{Kind: trace.EventTaskExecuted, TaskID: name, Reason: "FreshWork"})
			}

		case snap.Present && snap.Kind == "Failed":
			var depErr *DependencyFailed
			if errors.As(snap.Err, &depErr) {
				// Resolved once its failing ancestor is processed (in this
				// pass, via FailAndPropagate) or by the fallback pass below.
				causes[name] = rootCause(depErr)
			} else {
				mustTransition(state, name, dag.TaskPending, dag.TaskRunning)
				mustTransition(state, name, dag.TaskRunning, dag.TaskFailed)
				trace.SafeRecord(rec, trace.TraceEvent{Kind: trace.EventTaskFailed, TaskID: name})
				if err := dag.FailAndPropagate(graph, state, name); err != nil {
					panic(fmt.Sprintf("buildgraph: %v", err))
				}
			}

		default:
			// Never claimed by the engine: unreachable from the requested roots.
			// Left PENDING here; resolved to SKIPPED in the fallback pass.
		}
	}

	// Pass 2: anything still PENDING was either never claimed by the engine
	// or was a DependencyFailed node whose ancestor's cascade hadn't reached
	// it (e.g. the ancestor itself was never attempted). dag.IsTerminal lets
	// this pass be a no-op for everything the cascade already settled.
	for _, name := range names {
		if dag.IsTerminal(state[name]) {
			continue
		}
		mustTransition(state, name, dag.TaskPending, dag.TaskSkipped)
	}

	for name, cause := range causes {
		if state[name] != dag.TaskSkipped {
			continue
		}
		trace.SafeRecord(rec, trace.TraceEvent{Kind: trace.EventTaskSkipped, TaskID: name, Reason: "UpstreamFailed", CauseTaskID: cause})
	}

	return TaskReport{State: state, Trace: rec, Results: results}
}

// mustTransition applies a dag state transition known to be valid by
// construction (the caller has just observed the engine's own terminal
// classification for name). A failure here indicates the engine and the
// dag state machine have disagreed about a node's lifecycle, which is a
// bug in this package rather than a condition callers can recover from.
func mustTransition(state dag.ExecutionState, name string, from, to dag.TaskState) {
	if err := dag.Transition(state, name, from, to); err != nil {
		panic(fmt.Sprintf("buildgraph: %v", err))
	}
}

// rootCause walks a chain of DependencyFailed wrappers down to the first
// error that is not itself a propagated dependency failure, i.e. the task
// that actually failed rather than one that was merely starved by it.
func rootCause(err *DependencyFailed) string {
	cause := err.Dep
	cur := err
	for {
		var next *DependencyFailed
		if errors.As(cur.Err, &next) {
			cause = next.Dep
			cur = next
			continue
		}
		return cause
	}
}
