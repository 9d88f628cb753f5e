// Package sync drains the offline action queue against the remote API.
package sync

import (
	"context"
	"time"

	"github.com/kimhsiao/driverq/internal/models"
)

// Drainer is the surface the scheduler, the connectivity monitor and the
// outer layers use to trigger sync passes. It allows for mocking in tests.
type Drainer interface {
	// Drain runs one pass over a snapshot of the queue. It never fails; a
	// pass that could not run reports why in DrainResult.Skipped.
	Drain(ctx context.Context) *DrainResult

	// InProgress reports whether a pass is running.
	InProgress() bool

	// LastResult returns the result of the most recent completed pass.
	LastResult() *DrainResult
}

// ActionQueue is the subset of the action queue the engine mutates.
type ActionQueue interface {
	List() []*models.OfflineAction
	Remove(ctx context.Context, id models.UUID) error
	UpdateRetryCount(ctx context.Context, id models.UUID, action *models.OfflineAction) error
}

// Connectivity reports the advisory platform connectivity state.
type Connectivity interface {
	IsOnline() bool
}

// Recorder receives per-action outcomes and per-pass results.
type Recorder interface {
	ObserveOutcome(actionType models.ActionType, outcome Outcome)
	ObserveDrain(result *DrainResult)
}

// Skip reasons reported in DrainResult.Skipped.
const (
	SkipOffline    = "offline"
	SkipInProgress = "in_progress"
)

// DrainResult summarizes one pass.
type DrainResult struct {
	Attempted int `json:"attempted"`
	Succeeded int `json:"succeeded"`
	Conflicts int `json:"conflicts"`
	Rejected  int `json:"rejected"`
	Retried   int `json:"retried"`
	Exhausted int `json:"exhausted"`
	// Deferred counts actions still waiting for their backoff delay.
	Deferred int `json:"deferred"`
	// StorageErrors counts outcomes that could not be persisted; those
	// actions stay queued as they were.
	StorageErrors int `json:"storage_errors"`
	// Halted is set when the circuit breaker ended the pass early.
	Halted bool `json:"halted"`
	// Interrupted is set when ctx ended the pass. The action in flight at
	// that point is not charged unless the remote answered definitively.
	Interrupted bool          `json:"interrupted"`
	Skipped     string        `json:"skipped,omitempty"`
	Started     time.Time     `json:"started"`
	Duration    time.Duration `json:"duration"`
}

// Ran reports whether the pass actually executed.
func (r *DrainResult) Ran() bool {
	return r.Skipped == ""
}
