package cli

import (
	"bytes"
	"encoding/json"
	"fmt"
	"io"
	"os"
	"strings"

	"gopkg.in/yaml.v3"

	"warp/internal/core"
	"warp/internal/dag"
)

type graphFile struct {
	Tasks []core.Task `json:"tasks" yaml:"tasks"`
	Edges []dag.Edge  `json:"edges" yaml:"edges"`
}

// LoadGraphFromFile reads and parses the graph definition at path.
//
// Supported formats: JSON and YAML, selected by file extension
// (.yaml/.yml decode as YAML; anything else is treated as JSON).
//
// The loader is deterministic:
//   - Disallows unknown fields (to avoid silent divergence).
//   - Does not consult environment variables.
func LoadGraphFromFile(path string) (*dag.TaskGraph, error) {
	b, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read graph: %w", err)
	}

	var gf graphFile
	if isYAMLPath(path) {
		if err := decodeGraphYAML(b, &gf); err != nil {
			return nil, err
		}
	} else {
		if err := decodeGraphJSON(b, &gf); err != nil {
			return nil, err
		}
	}

	if len(gf.Tasks) == 0 {
		return nil, fmt.Errorf("parse graph: no tasks")
	}
	g, err := dag.NewTaskGraph(gf.Tasks, gf.Edges)
	if err != nil {
		return nil, err
	}
	return g, nil
}

func isYAMLPath(path string) bool {
	lower := strings.ToLower(path)
	return strings.HasSuffix(lower, ".yaml") || strings.HasSuffix(lower, ".yml")
}

func decodeGraphJSON(b []byte, gf *graphFile) error {
	dec := json.NewDecoder(bytes.NewReader(b))
	dec.DisallowUnknownFields()
	if err := dec.Decode(gf); err != nil {
		return fmt.Errorf("parse graph json: %w", err)
	}
	// Ensure there is no trailing garbage (including a second JSON value).
	var trailing any
	if err := dec.Decode(&trailing); err != io.EOF {
		if err == nil {
			return fmt.Errorf("parse graph json: trailing data")
		}
		return fmt.Errorf("parse graph json: %w", err)
	}
	return nil
}

func decodeGraphYAML(b []byte, gf *graphFile) error {
	dec := yaml.NewDecoder(bytes.NewReader(b))
	dec.KnownFields(true)
	if err := dec.Decode(gf); err != nil {
		return fmt.Errorf("parse graph yaml: %w", err)
	}
	// Ensure there is no trailing document.
	var trailing any
	if err := dec.Decode(&trailing); err != io.EOF {
		if err == nil {
			return fmt.Errorf("parse graph yaml: trailing document")
		}
		return fmt.Errorf("parse graph yaml: %w", err)
	}
	return nil
}
