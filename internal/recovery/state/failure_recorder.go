package state

import (
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
)

// FailureRecorder writes failure.json artifacts for runs.
//
// It is intentionally small: callers provide Run metadata and the triggering error.
// The recorder classifies the error into the frozen failure taxonomy and persists
// the Failure record using Store (atomic + durable).
type FailureRecorder struct {
	Store *Store
}

func (r *FailureRecorder) NewRunID() (string, error) {
	// Run IDs are operational identifiers; no schema mandates a specific format,
	// so a random UUIDv4 is used.
	id, err := uuid.NewRandom()
	if err != nil {
		return "", err
	}
	return id.String(), nil
}

func (r *FailureRecorder) StartRun(run Run) error {
	if r == nil || r.Store == nil {
		return errors.New("Store is required")
	}
	if run.StartTime.IsZero() {
		run.StartTime = time.Now().UTC()
	}
	if err := run.Validate(); err != nil {
		return fmt.Errorf("invalid run: %w", err)
	}
	return r.Store.SaveRun(run)
}

func (r *FailureRecorder) RecordFailure(runID string, err error) error {
	if r == nil || r.Store == nil {
		return errors.New("Store is required")
	}
	f, ferr := failureFromError(err)
	if ferr != nil {
		return ferr
	}
	return r.Store.SaveFailure(runID, f)
}
