package cli

import (
	"context"
	"os"
	"path/filepath"
	"testing"
)

func TestFailureRecording_WritesFailureJSON_OnNodeFailure(t *testing.T) {
	work := t.TempDir()

	// Minimal workspace dirs expected by CLI.
	if err := os.MkdirAll(filepath.Join(work, ".warp"), 0o755); err != nil {
		t.Fatalf("mkdir: %v", err)
	}

	inv := CLIInvocation{
		GraphPath:     filepath.Join(work, "graph.json"),
		WorkDir:       work,
		CacheDir:      filepath.Join(work, "cache"),
		OutputDir:     filepath.Join(work, "out"),
		ExecutionMode: ExecutionModeIncremental,
		Trace:         TraceConfig{Enabled: false},
		Parallelism:   4,
		PersistDBPath: filepath.Join(work, "warp.db"),
	}

	// A deterministically failing task.
	graphJSON := `{
	  "tasks": [
	    {"name": "A", "inputs": [], "run": "exit 1"}
	  ],
	  "edges": []
	}`
	if err := os.WriteFile(inv.GraphPath, []byte(graphJSON), 0o644); err != nil {
		t.Fatalf("WriteFile graph: %v", err)
	}

	res, err := Execute(context.Background(), inv)
	if err != nil {
		t.Fatalf("Execute: %v", err)
	}
	if res.ExitCode != ExitGraphFailure {
		t.Fatalf("expected ExitGraphFailure got %d", res.ExitCode)
	}
	// We don't know the run id, but a failure should have been recorded under .warp/runs.
	runsDir := filepath.Join(work, ".warp", "runs")
	entries, readErr := os.ReadDir(runsDir)
	if readErr != nil {
		t.Fatalf("ReadDir runs: %v", readErr)
	}
	if len(entries) == 0 {
		t.Fatalf("expected at least one run dir")
	}

	found := false
	for _, e := range entries {
		p := filepath.Join(runsDir, e.Name(), "failure.json")
		if _, statErr := os.Stat(p); statErr == nil {
			found = true
			break
		}
	}
	if !found {
		t.Fatalf("expected failure.json to exist in a run directory")
	}
}
