// Package core defines the domain models for deterministic task execution.
package core

import (
	"fmt"
	"os"
	"path/filepath"
	"sort"
)

// Harvester collects artifacts from declared output paths after task
// execution. Outputs are normalized to remove nondeterministic data (e.g.
// timestamps) so file ordering and metadata stay stable; only declared
// outputs are captured, and harvested artifacts are what later gets stored
// in and replayed from the cache.
type Harvester struct {
	// BaseDir is the working directory where outputs are relative to.
	BaseDir string

	// Normalizer is used to normalize artifact contents.
	// If nil, no normalization is applied (raw bytes preserved).
	Normalizer OutputNormalizer
}

// OutputNormalizer defines the interface for normalizing output content.
// Normalization removes nondeterministic data like timestamps.
type OutputNormalizer interface {
	// Normalize processes content to remove nondeterministic data.
	// Returns normalized content.
	Normalize(content []byte) []byte
}

// NewHarvester creates a new Harvester with the given base directory.
func NewHarvester(baseDir string) *Harvester {
	return &Harvester{
		BaseDir:    baseDir,
		Normalizer: nil, // Default: no normalization (raw bytes)
	}
}

// NewHarvesterWithNormalizer creates a Harvester with a custom normalizer.
func NewHarvesterWithNormalizer(baseDir string, normalizer OutputNormalizer) *Harvester {
	return &Harvester{
		BaseDir:    baseDir,
		Normalizer: normalizer,
	}
}

// Harvest walks exactly the declared output paths - never "whatever changed"
// or a git-status diff - expanding any directory recursively, then reads and
// (optionally) normalizes each file's content.
//
// Returns an error if a declared output is missing (the task silently failed
// to produce it) or unreadable.
func (h *Harvester) Harvest(declaredOutputs []string) (*ArtifactSet, error) {
	if len(declaredOutputs) == 0 {
		return &ArtifactSet{Artifacts: []Artifact{}}, nil
	}

	var allPaths []string

	for _, output := range declaredOutputs {
		fullPath := output
		if !filepath.IsAbs(output) {
			fullPath = filepath.Join(h.BaseDir, output)
		}

		info, err := os.Stat(fullPath)
		if err != nil {
			if os.IsNotExist(err) {
				return nil, fmt.Errorf("declared output does not exist: %s", output)
			}
			return nil, fmt.Errorf("stat output %q: %w", output, err)
		}

		if info.IsDir() {
			files, err := h.collectFilesFromDir(fullPath)
			if err != nil {
				return nil, fmt.Errorf("collecting files from %q: %w", output, err)
			}
			allPaths = append(allPaths, files...)
		} else {
			allPaths = append(allPaths, fullPath)
		}
	}

	// Never trust filesystem iteration order for the final artifact list.
	sort.Strings(allPaths)
	allPaths = deduplicateSorted(allPaths)

	artifacts := make([]Artifact, 0, len(allPaths))
	for _, path := range allPaths {
		content, err := os.ReadFile(path)
		if err != nil {
			return nil, fmt.Errorf("reading artifact %q: %w", path, err)
		}

		if h.Normalizer != nil {
			content = h.Normalizer.Normalize(content)
		}

		relPath := path
		if rel, err := filepath.Rel(h.BaseDir, path); err == nil && filepath.IsLocal(rel) {
			relPath = rel
		}

		artifacts = append(artifacts, Artifact{
			Path:    filepath.ToSlash(relPath),
			Content: content,
		})
	}

	return &ArtifactSet{Artifacts: artifacts}, nil
}

// collectFilesFromDir recursively collects all files in a directory.
// Returns paths sorted for determinism.
func (h *Harvester) collectFilesFromDir(dir string) ([]string, error) {
	var files []string

	err := filepath.WalkDir(dir, func(path string, d os.DirEntry, err error) error {
		if err != nil {
			return err
		}

		// Skip directories (we only want files)
		if d.IsDir() {
			return nil
		}

		files = append(files, path)
		return nil
	})

	if err != nil {
		return nil, err
	}

	// Sort for determinism
	sort.Strings(files)

	return files, nil
}

// deduplicateSorted removes duplicates from a sorted slice.
func deduplicateSorted(sorted []string) []string {
	if len(sorted) == 0 {
		return sorted
	}

	result := make([]string, 0, len(sorted))
	result = append(result, sorted[0])

	for i := 1; i < len(sorted); i++ {
		if sorted[i] != sorted[i-1] {
			result = append(result, sorted[i])
		}
	}

	return result
}
