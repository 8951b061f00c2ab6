package buildgraph

import (
	"encoding/json"

	"warp/internal/persist"
)

// KeyBridge persists task names as their raw UTF-8 bytes: the key space is
// already the deterministic, human-assigned task name, so no further
// encoding is required and the environment is not consulted.
var KeyBridge persist.Bridge[string, *Env] = persist.FuncBridge[string, *Env]{
	To:   func(k string, _ *Env) ([]byte, bool) { return []byte(k), true },
	From: func(b []byte, _ *Env) (string, bool) { return string(b), true },
}

// ResultBridge persists a *Result as JSON. A nil Result (which Compute never
// produces on success) is rejected so a corrupt snapshot can't silently
// resurrect a phantom task. Nothing in a Result is environment-relative
// (artifact paths are already workspace-relative), so the Env goes unused.
var ResultBridge persist.Bridge[*Result, *Env] = persist.FuncBridge[*Result, *Env]{
	To: func(r *Result, _ *Env) ([]byte, bool) {
		if r == nil {
			return nil, false
		}
		b, err := json.Marshal(r)
		if err != nil {
			return nil, false
		}
		return b, true
	},
	From: func(b []byte, _ *Env) (*Result, bool) {
		var r Result
		if err := json.Unmarshal(b, &r); err != nil {
			return nil, false
		}
		return &r, true
	},
}
