package cli

import (
	"context"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"time"

	"warp/internal/buildgraph"
	"warp/internal/cancel"
	"warp/internal/core"
	"warp/internal/dag"
	"warp/internal/lattice"
	"warp/internal/persist"
	"warp/internal/recovery/state"
	"warp/internal/trace"
)

// CLIResult is the outcome of a single Execute call.
type CLIResult struct {
	ExitCode  int
	GraphHash string
	State     dag.ExecutionState
	Results   map[string]*buildgraph.Result
}

// Execute maps a canonical CLIInvocation to engine execution.
//
// Responsibilities:
//   - Prepare OutputDir using the Overwrite policy (no stale files).
//   - Select cache strategy based on ExecutionMode.
//   - Initialize trace output before execution and finalize after execution,
//     even on panic/failure.
//   - Reload the durable engine snapshot for incremental/resume-only modes
//     and persist the new one afterward.
//   - Translate engine outcomes to semantic exit codes.
func Execute(ctx context.Context, inv CLIInvocation) (res CLIResult, execErr error) {
	res.ExitCode = ExitInternalError

	// Initialize recovery store as early as possible so failures can be recorded.
	st, _ := state.NewStore(inv.WorkDir)
	rec := &state.FailureRecorder{Store: st}
	runID, _ := rec.NewRunID()

	graphObj, graphHash, err := loadGraphAndHash(inv.GraphPath)
	if err != nil {
		if runID != "" {
			_ = rec.StartRun(state.Run{RunID: runID, GraphHash: "", StartTime: time.Now().UTC(), Mode: state.ExecutionMode(inv.ExecutionMode), RetryCount: 0, Status: "failed"})
			_ = rec.RecordFailure(runID, &state.GraphFailureError{Code: graphFailureCode(err), Message: err.Error(), Cause: err})
		}
		res.ExitCode = ExitConfigError
		return res, err
	}
	res.GraphHash = graphHash

	traceWriter, err := newTraceWriter(inv, graphHash)
	if err != nil {
		if runID != "" {
			_ = rec.RecordFailure(runID, &state.SystemFailureError{Code: "TraceInit", Message: err.Error(), Cause: err})
		}
		res.ExitCode = ExitConfigError
		return res, err
	}
	var report *buildgraph.TaskReport
	defer func() {
		_ = traceWriter.Finalize(graphHash, report)
	}()

	if err := prepareOutputDir(inv.OutputDir); err != nil {
		if runID != "" {
			_ = rec.RecordFailure(runID, &state.WorkspaceFailureError{Code: "OutputDir", Message: err.Error(), Cause: err})
		}
		res.ExitCode = ExitConfigError
		return res, err
	}

	cache, err := cacheForMode(inv.ExecutionMode, inv.CacheDir)
	if err != nil {
		if runID != "" {
			_ = rec.RecordFailure(runID, &state.WorkspaceFailureError{Code: "CacheDir", Message: err.Error(), Cause: err})
		}
		res.ExitCode = ExitConfigError
		return res, err
	}

	pstore, err := persist.Open(inv.PersistDBPath)
	if err != nil {
		if runID != "" {
			_ = rec.RecordFailure(runID, &state.WorkspaceFailureError{Code: "PersistDB", Message: err.Error(), Cause: err})
		}
		res.ExitCode = ExitConfigError
		return res, err
	}
	defer func() { _ = pstore.Close() }()

	// The Env doubles as the engine's user context and the persistence
	// bridges' context, so it must exist before the snapshot is loaded.
	env := buildgraph.NewEnv(ctx, graphObj, inv.WorkDir, cache)

	// Resume planning (incremental/resume-only): best-effort attempt to reuse
	// prior work recorded in the durable snapshot. Clean mode ignores it
	// entirely, both on load and on eligibility checking.
	var previousRunID *string
	retryCount := 0
	var snapshot map[string]lattice.Status[*buildgraph.Result]
	if inv.ExecutionMode == ExecutionModeIncremental || inv.ExecutionMode == ExecutionModeResumeOnly {
		prevID, perr := detectPreviousRunID(st, graphHash)
		if perr != nil {
			if inv.ExecutionMode == ExecutionModeResumeOnly {
				return failResumeIneligible(res, rec, runID, inv, graphHash, perr)
			}
		} else if prevID != "" {
			loaded, lerr := persist.LoadSnapshot(pstore, env, buildgraph.KeyBridge, buildgraph.ResultBridge)
			if lerr != nil {
				if inv.ExecutionMode == ExecutionModeResumeOnly {
					return failResumeIneligible(res, rec, runID, inv, graphHash, lerr)
				}
			} else {
				eligErr := checkResumeEligibility(st, inv, graphObj, loaded, graphHash, prevID, runID)
				if eligErr == nil {
					prevRun, _ := st.LoadRun(prevID)
					candidate := prevID
					snapshot = loaded
					previousRunID = &candidate
					retryCount = prevRun.RetryCount + 1
				} else if inv.ExecutionMode == ExecutionModeResumeOnly {
					return failResumeIneligible(res, rec, runID, inv, graphHash, eligErr)
				}
			}
		}
		if inv.ExecutionMode == ExecutionModeResumeOnly && previousRunID == nil {
			return failResumeIneligible(res, rec, runID, inv, graphHash, fmt.Errorf("resume-only mode requires an eligible previous run with a durable snapshot"))
		}
	}

	if runID != "" {
		_ = rec.StartRun(state.Run{RunID: runID, GraphHash: graphHash, StartTime: time.Now().UTC(), Mode: state.ExecutionMode(inv.ExecutionMode), RetryCount: retryCount, Status: "running", PreviousRunID: previousRunID})
	}

	defer func() {
		if r := recover(); r != nil {
			res.ExitCode = ExitInternalError
			execErr = fmt.Errorf("panic: %v", r)
			if runID != "" {
				_ = rec.RecordFailure(runID, &state.SystemFailureError{Code: "Panic", Message: fmt.Sprintf("panic: %v", r), Cause: execErr})
			}
		}
	}()

	var logSink *trace.LoggingSink
	var engineOpts []lattice.Option[string, *buildgraph.Result, *buildgraph.Env]
	if inv.Trace.Enabled {
		logSink = trace.NewLoggingSink(os.Stderr)
		engineOpts = append(engineOpts, lattice.WithLogger[string, *buildgraph.Result, *buildgraph.Env](logSink))
	}

	engine := lattice.New[string, *buildgraph.Result, *buildgraph.Env](buildgraph.TaskComputer{}, env, engineOpts...)
	for name, status := range snapshot {
		// A snapshot from a prior process cannot prove the task's file inputs
		// are still what they were, so every reloaded entry re-enters as
		// Dirty: the recompute re-hashes the current inputs and the
		// content-addressed execution cache turns an unchanged task into a
		// replay instead of a fresh process.
		_ = engine.Insert(name, lattice.DirtyStatus(status.Data()), nil, nil)
	}
	// Seed the engine's dependency graph from the validated manifest so the
	// resolver's pre-walk drives leaves before dependents on the first pass;
	// each node's recompute clears and re-records its own edges anyway.
	for _, e := range graphObj.Edges() {
		engine.DependencyGraph().AddChild(e.To, e.From)
	}

	source := cancel.NewSource()
	done := make(chan struct{})
	go func() {
		select {
		case <-ctx.Done():
			source.Cancel(cancel.Other(ctx.Err()))
		case <-done:
		}
	}()
	tok := source.Token()

	for _, target := range graphObj.FinalTargets() {
		_, _ = engine.Resolve(target, inv.Parallelism, tok)
	}
	close(done)

	built := buildgraph.BuildReport(engine, graphObj)
	report = &built
	res.State = built.State
	res.Results = built.Results

	if logSink != nil {
		for _, ev := range built.Trace.Snapshot() {
			logSink.Record(ev)
		}
	}

	if err := persist.WriteSnapshot(pstore, engine.Durable(), env, buildgraph.KeyBridge, buildgraph.ResultBridge); err != nil {
		if runID != "" {
			_ = rec.RecordFailure(runID, &state.SystemFailureError{Code: "PersistWrite", Message: err.Error(), Cause: err})
		}
		res.ExitCode = ExitInternalError
		return res, err
	}

	if runID != "" && (inv.ExecutionMode == ExecutionModeIncremental || inv.ExecutionMode == ExecutionModeResumeOnly) {
		recordCheckpoints(st, cache, inv.WorkDir, runID, graphObj, built)
	}

	res.ExitCode = translateToExitCode(built.State)
	if res.ExitCode == ExitGraphFailure && runID != "" {
		failed := firstFailedNode(built.State)
		_ = rec.RecordFailure(runID, &state.ExecutionFailureError{NodeID: failed, Code: "NodeFailed", Message: fmt.Sprintf("node %s failed", failed)})
	}
	return res, nil
}

func graphFailureCode(err error) string {
	var ge *dag.GraphError
	if errors.As(err, &ge) {
		if errors.Is(ge.Kind, dag.ErrCycleFound) {
			return "StructuralInvalidity"
		}
		return "SchemaViolation"
	}
	return "GraphLoadError"
}

func failResumeIneligible(res CLIResult, rec *state.FailureRecorder, runID string, inv CLIInvocation, graphHash string, cause error) (CLIResult, error) {
	if runID != "" {
		_ = rec.StartRun(state.Run{RunID: runID, GraphHash: graphHash, StartTime: time.Now().UTC(), Mode: state.ExecutionMode(inv.ExecutionMode), RetryCount: 0, Status: "failed"})
		_ = rec.RecordFailure(runID, &state.ExecutionFailureError{NodeID: "", Code: "ResumeIneligible", Message: cause.Error(), Cause: cause})
	}
	res.ExitCode = ExitConfigError
	return res, cause
}

// checkResumeEligibility projects the current graph and the loaded snapshot
// into the shapes state.ResumeEligibilityChecker expects, and checks them
// against the previous run. The resume point is the node whose reuse would
// pull in the largest verified prefix: in practice the checker only cares
// that every upstream of every Verified node is itself not invalidated, so
// a conservative, deterministic choice (the topologically last Verified
// node) is sufficient here.
func checkResumeEligibility(st *state.Store, inv CLIInvocation, g *dag.TaskGraph, snapshot map[string]lattice.Status[*buildgraph.Result], graphHash, prevID, runID string) error {
	upstream := make(map[string][]string, len(g.Nodes()))
	for _, e := range g.Edges() {
		upstream[e.To] = append(upstream[e.To], e.From)
	}

	snap := &state.GraphSnapshot{Nodes: make(map[string]state.NodeSnapshot, len(g.Nodes()))}
	inv2 := make(state.InvalidationMap, len(g.Nodes()))
	resumeNode := ""
	for _, name := range g.TopologicalOrder() {
		ups := append([]string(nil), upstream[name]...)
		sort.Strings(ups)
		snap.Nodes[name] = state.NodeSnapshot{Name: name, Upstream: ups}

		status, verified := snapshot[name]
		invalidated := !verified || !status.IsVerified()
		reasons := []string(nil)
		if invalidated {
			reasons = []string{"NoVerifiedCheckpoint"}
		}
		inv2[name] = state.InvalidationEntry{Invalidated: invalidated, Reasons: reasons}
		if !invalidated {
			resumeNode = name
		}
	}
	if resumeNode == "" {
		return fmt.Errorf("no verified node available to resume from")
	}

	prevRun, err := st.LoadRun(prevID)
	if err != nil {
		return fmt.Errorf("loading previous run: %w", err)
	}
	newRun := state.Run{
		RunID:         runID,
		GraphHash:     graphHash,
		StartTime:     time.Now().UTC(),
		Mode:          state.ExecutionMode(inv.ExecutionMode),
		RetryCount:    prevRun.RetryCount + 1,
		Status:        "running",
		PreviousRunID: &prevID,
	}

	checker := &state.ResumeEligibilityChecker{Store: st, ProjectRoot: inv.WorkDir}
	return checker.Check(state.ResumeEligibilityRequest{
		NewRun:           newRun,
		ResumeFromNodeID: resumeNode,
		Graph:            snap,
		Invalidation:     inv2,
	})
}

// recordCheckpoints saves one checkpoint per successfully completed task, so
// a subsequent run can establish resume eligibility against this run.
func recordCheckpoints(st *state.Store, cache core.Cache, workDir, runID string, g *dag.TaskGraph, report buildgraph.TaskReport) {
	validator := &state.CheckpointValidator{Store: st, Cache: cache, Harvester: core.NewHarvester(workDir)}
	names := make([]string, 0, len(report.Results))
	for name := range report.Results {
		names = append(names, name)
	}
	sort.Strings(names)

	for _, name := range names {
		result := report.Results[name]
		if !dag.IsSuccessful(report.State[name]) {
			continue
		}
		node, ok := g.Node(name)
		if !ok {
			continue
		}
		_, _ = validator.CreateAndSave(state.CheckpointInput{
			RunID:           runID,
			NodeID:          name,
			When:            time.Now().UTC(),
			TaskHash:        result.TaskHash,
			DeclaredOutputs: node.Task.Outputs,
			ExitCode:        result.ExitCode,
			FromCache:       result.FromCache,
			TraceEvents:     report.Trace.Snapshot(),
		})
	}
}

func detectPreviousRunID(st *state.Store, graphHash string) (string, error) {
	if st == nil {
		return "", fmt.Errorf("nil store")
	}
	if graphHash == "" {
		return "", fmt.Errorf("graph hash is empty")
	}
	ids, err := st.ListRunIDs()
	if err != nil {
		return "", err
	}
	// Resume is only meaningful after a non-successful termination.
	// Prefer the most recent run with matching graph hash that has a persisted failure.
	var bestID string
	var bestTime time.Time
	for _, id := range ids {
		r, err := st.LoadRun(id)
		if err != nil {
			continue
		}
		if r.GraphHash != graphHash {
			continue
		}
		if _, ferr := st.LoadFailure(id); ferr != nil {
			continue
		}
		if bestID == "" || r.StartTime.After(bestTime) || (r.StartTime.Equal(bestTime) && r.RunID < bestID) {
			bestID = r.RunID
			bestTime = r.StartTime
		}
	}
	return bestID, nil
}

func firstFailedNode(execState dag.ExecutionState) string {
	names := make([]string, 0, len(execState))
	for n := range execState {
		names = append(names, n)
	}
	sort.Strings(names)
	for _, n := range names {
		if execState[n] == dag.TaskFailed {
			return n
		}
	}
	return ""
}

func translateToExitCode(execState dag.ExecutionState) int {
	for _, st := range execState {
		if st == dag.TaskFailed {
			return ExitGraphFailure
		}
	}
	return ExitSuccess
}

func cacheForMode(mode ExecutionMode, cacheDir string) (core.Cache, error) {
	switch mode {
	case ExecutionModeIncremental, ExecutionModeResumeOnly:
		if cacheDir == "" {
			return nil, fmt.Errorf("cache dir is empty")
		}
		if err := os.MkdirAll(cacheDir, 0o755); err != nil {
			return nil, fmt.Errorf("create cache dir: %w", err)
		}
		return core.NewFileCache(cacheDir), nil
	case ExecutionModeClean:
		return noCache{}, nil
	default:
		return nil, fmt.Errorf("unknown execution mode: %q", mode)
	}
}

type noCache struct{}

func (noCache) Has(core.TaskHash) (bool, error)             { return false, nil }
func (noCache) Get(core.TaskHash) (*core.CacheEntry, error) { return nil, nil }
func (noCache) Put(*core.CacheEntry) error                  { return nil }

func prepareOutputDir(dir string) error {
	if dir == "" {
		return fmt.Errorf("output dir is empty")
	}
	clean := filepath.Clean(dir)
	if clean == "/" {
		return fmt.Errorf("refusing to operate on output dir '/' ")
	}
	info, err := os.Stat(clean)
	if err != nil {
		if os.IsNotExist(err) {
			return os.MkdirAll(clean, 0o755)
		}
		return fmt.Errorf("stat output dir: %w", err)
	}
	if !info.IsDir() {
		return fmt.Errorf("output dir is not a directory: %s", clean)
	}
	entries, err := os.ReadDir(clean)
	if err != nil {
		return fmt.Errorf("read output dir: %w", err)
	}
	for _, e := range entries {
		p := filepath.Join(clean, e.Name())
		if err := os.RemoveAll(p); err != nil {
			return fmt.Errorf("clear output dir: %w", err)
		}
	}
	return nil
}

func loadGraphAndHash(path string) (*dag.TaskGraph, string, error) {
	g, err := LoadGraphFromFile(path)
	if err != nil {
		return nil, "", err
	}
	return g, g.Hash().String(), nil
}

type traceFileWriter struct {
	enabled bool
	path    string
}

func newTraceWriter(inv CLIInvocation, graphHash string) (*traceFileWriter, error) {
	if !inv.Trace.Enabled {
		return &traceFileWriter{enabled: false}, nil
	}
	if inv.Trace.Path == "" {
		return nil, fmt.Errorf("trace enabled but path is empty")
	}
	if err := os.MkdirAll(filepath.Dir(inv.Trace.Path), 0o755); err != nil {
		return nil, fmt.Errorf("create trace dir: %w", err)
	}
	// Create an empty trace file eagerly so the destination is reserved and
	// so that even a panic results in a deterministic artifact.
	w := &traceFileWriter{enabled: true, path: inv.Trace.Path}
	return w, w.writeEvents(graphHash, nil)
}

func (w *traceFileWriter) Finalize(graphHash string, report *buildgraph.TaskReport) error {
	if w == nil || !w.enabled {
		return nil
	}
	if report != nil && report.Trace != nil {
		return w.writeEvents(graphHash, report.Trace.Snapshot())
	}
	// No trace bytes (e.g., internal error or panic): still emit a valid
	// empty trace for this graph.
	return w.writeEvents(graphHash, nil)
}

func (w *traceFileWriter) writeEvents(graphHash string, events []trace.TraceEvent) error {
	t := trace.ExecutionTrace{GraphHash: graphHash, Events: events}
	b, err := t.CanonicalJSON()
	if err != nil {
		return err
	}
	return writeFileAtomic(w.path, b, 0o644)
}

func writeFileAtomic(path string, data []byte, perm os.FileMode) error {
	dir := filepath.Dir(path)
	base := filepath.Base(path)
	tmp, err := os.CreateTemp(dir, base+".tmp.*")
	if err != nil {
		return err
	}
	tmpName := tmp.Name()
	defer func() {
		_ = tmp.Close()
		_ = os.Remove(tmpName)
	}()

	if _, err := tmp.Write(data); err != nil {
		return err
	}
	if err := tmp.Chmod(perm); err != nil {
		return err
	}
	_ = tmp.Sync() // best-effort durability
	if err := tmp.Close(); err != nil {
		return err
	}
	return os.Rename(tmpName, path)
}
