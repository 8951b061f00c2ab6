// Package buildgraph instantiates the generic incremental engine over a
// concrete domain: shell tasks wired together by a static dependency
// manifest. It adapts the resolve -> hash -> execute -> harvest pipeline
// into a single lattice.Computer, driven by the generic engine's own
// memoization, while still reusing internal/core.Cache as a secondary,
// content-addressed store for the execution side effects (stdout, stderr,
// exit code, artifact content) that a caller may want to inspect
// independently of the computed Result value. On a secondary-cache hit, the
// cached artifact content is replayed back onto the workspace filesystem via
// internal/core.Replayer, the same restore-or-verify-then-write path the
// engine would otherwise only exercise on a fresh execution.
package buildgraph

import (
	"context"
	"fmt"
	"sort"
	"strconv"

	"warp/internal/core"
	"warp/internal/dag"
	"warp/internal/lattice"
)

// Result is the memoized value for one task: captured process output plus
// any harvested output files.
type Result struct {
	Stdout    []byte
	Stderr    []byte
	ExitCode  int
	Artifacts []core.CachedArtifact

	// FromCache records whether this Result was produced by replaying the
	// secondary execution cache rather than by a fresh process invocation.
	// It only describes this Compute call; the engine's own memoization
	// (verified/dirty) is a separate, coarser layer above it.
	FromCache bool

	// TaskHash is the content-addressed key this Result was stored under in
	// the secondary execution cache (env.Cache), exposed so callers such as
	// checkpoint recording don't need to re-derive it independently.
	TaskHash core.TaskHash

	// RestoredArtifacts lists the workspace-relative artifact paths that
	// were actually rewritten by the replayer on a cache hit. It is always
	// empty for a fresh execution, where harvesting - not replay - is what
	// puts the files in place.
	RestoredArtifacts []string
}

// Env is the shared, read-only context every TaskComputer invocation
// receives. It is the userCtx (C) type parameter of the engine instantiated
// over this package.
type Env struct {
	Graph      *dag.TaskGraph
	Resolver   *core.InputResolver
	Executor   *core.Executor
	Harvester  *core.Harvester
	Cache      core.Cache
	Replayer   *core.Replayer
	Hasher     *core.TaskHasher
	WorkingDir string
	Context    context.Context
}

// NewEnv wires a fully-configured Env from a validated graph and a working
// directory layout, using the default (timestamp-stripping) normalizer for
// harvested artifacts.
func NewEnv(ctx context.Context, graph *dag.TaskGraph, workingDir string, cache core.Cache) *Env {
	return &Env{
		Graph:      graph,
		Resolver:   core.NewInputResolver(workingDir),
		Executor:   core.NewExecutor(workingDir),
		Harvester:  core.NewHarvesterWithNormalizer(workingDir, core.NewDefaultNormalizer()),
		Cache:      cache,
		Replayer:   core.NewReplayer(workingDir),
		Hasher:     core.NewTaskHasher(),
		WorkingDir: workingDir,
		Context:    ctx,
	}
}

// TaskComputer is the lattice.Computer for K=string (task name), V=*Result,
// C=*Env.
type TaskComputer struct{}

var _ lattice.Computer[string, *Result, *Env] = TaskComputer{}

// Compute resolves a task's declared dependencies (as engine requests, so
// the engine's own dependency graph records the edges), resolves its inputs,
// computes a 256-bit input hash, consults the secondary execution cache, and
// otherwise executes and harvests. On a cache hit it also restores any
// artifact whose workspace content no longer matches what was cached.
func (TaskComputer) Compute(ctx *lattice.Context[string, *Result, *Env]) (lattice.NodeData[*Result], error) {
	env := ctx.UserContext()
	name := ctx.This()

	node, ok := env.Graph.Node(name)
	if !ok {
		if caller, hasCaller := ctx.Caller(); hasCaller {
			return lattice.NodeData[*Result]{}, &lattice.MissingDependency[string]{Caller: caller, Missing: name}
		}
		return lattice.NodeData[*Result]{}, &lattice.UnexpectedError{Msg: fmt.Sprintf("no task definition for %q", name)}
	}
	task := node.Task

	for _, dep := range dependenciesOf(env.Graph, name) {
		if _, err := ctx.Request(dep); err != nil {
			return lattice.NodeData[*Result]{}, &DependencyFailed{Dep: dep, Err: err}
		}
	}

	if ctx.CancelToken().IsCancelled() {
		reason, _ := ctx.CancelToken().Reason()
		return lattice.NodeData[*Result]{}, &lattice.Canceled{Reason: reason}
	}

	inputs, err := env.Resolver.Resolve(task.Inputs)
	if err != nil {
		return lattice.NodeData[*Result]{}, &lattice.OtherError{Cause: fmt.Errorf("resolving inputs for %q: %w", name, err)}
	}

	inputHash := hashInputs(task, inputs)
	taskHash := env.Hasher.ComputeHash(core.HashInput{
		Inputs:     inputs,
		Command:    task.Run,
		Env:        task.Env,
		Outputs:    task.Outputs,
		WorkingDir: env.WorkingDir,
	})

	var execResult *core.ExecutionResult
	var artifacts []core.CachedArtifact
	var fromCache bool
	var restoredArtifacts []string

	if hit, err := env.Cache.Has(taskHash); err == nil && hit {
		entry, err := env.Cache.Get(taskHash)
		if err != nil {
			return lattice.NodeData[*Result]{}, &lattice.StorageError{Inner: err}
		}
		execResult = &core.ExecutionResult{Stdout: entry.Stdout, Stderr: entry.Stderr, ExitCode: entry.ExitCode, Hash: taskHash}
		artifacts = entry.Artifacts
		fromCache = true

		if entry.ExitCode == 0 {
			restoredArtifacts, err = env.Replayer.RestoreArtifacts(name, entry)
			if err != nil {
				return lattice.NodeData[*Result]{}, &lattice.OtherError{Cause: fmt.Errorf("restoring cached artifacts for %q: %w", name, err)}
			}
		}
	} else {
		runCtx := env.Context
		if runCtx == nil {
			runCtx = context.Background()
		}
		execResult, err = env.Executor.Execute(runCtx, &task, taskHash)
		if err != nil {
			return lattice.NodeData[*Result]{}, &lattice.OtherError{Cause: fmt.Errorf("executing %q: %w", name, err)}
		}

		if execResult.ExitCode == 0 {
			set, err := env.Harvester.Harvest(task.Outputs)
			if err != nil {
				return lattice.NodeData[*Result]{}, &lattice.OtherError{Cause: fmt.Errorf("harvesting outputs for %q: %w", name, err)}
			}
			artifacts = make([]core.CachedArtifact, len(set.Artifacts))
			for i, a := range set.Artifacts {
				artifacts[i] = core.CachedArtifact{Path: a.Path, Content: a.Content}
			}
		} else {
			// Failed tasks must not partially update artifacts.
			artifacts = []core.CachedArtifact{}
		}

		if err := env.Cache.Put(&core.CacheEntry{
			Hash:      taskHash,
			Stdout:    execResult.Stdout,
			Stderr:    execResult.Stderr,
			ExitCode:  execResult.ExitCode,
			Artifacts: artifacts,
		}); err != nil {
			return lattice.NodeData[*Result]{}, &lattice.StorageError{Inner: err}
		}
	}

	if execResult.ExitCode != 0 {
		return lattice.NodeData[*Result]{}, &TaskExecutionFailed{Name: name, ExitCode: execResult.ExitCode, Stderr: execResult.Stderr}
	}

	result := &Result{
		Stdout:            execResult.Stdout,
		Stderr:            execResult.Stderr,
		ExitCode:          execResult.ExitCode,
		Artifacts:         artifacts,
		FromCache:         fromCache,
		TaskHash:          taskHash,
		RestoredArtifacts: restoredArtifacts,
	}
	return lattice.NewNodeData(result, lattice.HashPair{Input: inputHash, Output: hashResult(result)}), nil
}

// dependenciesOf returns the names of tasks that must complete before name,
// derived from the validated graph's canonical edge list (From depends-on
// edges point From -> To, meaning From must run before To).
func dependenciesOf(g *dag.TaskGraph, name string) []string {
	var deps []string
	for _, e := range g.Edges() {
		if e.To == name {
			deps = append(deps, e.From)
		}
	}
	sort.Strings(deps)
	return deps
}

// hashInputs extends the length-prefixed hashing idiom used by
// internal/core.TaskHasher to the engine's 32-byte Hash, folding in resolved
// input content, the command, sorted env pairs and sorted declared outputs.
func hashInputs(task core.Task, inputs *core.InputSet) lattice.Hash {
	h := lattice.NewFieldHasher()
	for _, in := range inputs.Inputs {
		h.WriteField([]byte(in.Path))
		h.WriteField(in.Content)
	}
	h.WriteField([]byte(task.Run))

	keys := make([]string, 0, len(task.Env))
	for k := range task.Env {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	for _, k := range keys {
		h.WriteField([]byte(k))
		h.WriteField([]byte(task.Env[k]))
	}

	outs := append([]string{}, task.Outputs...)
	sort.Strings(outs)
	for _, o := range outs {
		h.WriteField([]byte(o))
	}

	return h.Sum()
}

// hashResult hashes the execution side effects and harvested artifacts
// (already sorted by Path per ArtifactSet's invariant) into the output hash.
func hashResult(r *Result) lattice.Hash {
	h := lattice.NewFieldHasher()
	h.WriteField(r.Stdout)
	h.WriteField(r.Stderr)
	h.WriteField([]byte(strconv.Itoa(r.ExitCode)))
	for _, a := range r.Artifacts {
		h.WriteField([]byte(a.Path))
		h.WriteField(a.Content)
	}
	return h.Sum()
}
