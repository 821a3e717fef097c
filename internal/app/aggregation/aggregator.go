// Package aggregation accumulates findings and task results into a
// per-target report under a single write lock. It is the only place
// concurrent writes occur in the pipeline.
package aggregation

import (
	"sync"

	"github.com/google/uuid"

	"github.com/ahrav/threatswarm/internal/domain/scanning"
)

// Failure records a task that finished unsuccessfully, for gap reporting.
type Failure struct {
	TaskID uuid.UUID
	Error  string
}

// Snapshot is an immutable copy-on-read view of an aggregator's state. The
// correlation engine iterates snapshots without contending with ongoing
// merges.
type Snapshot struct {
	RunID    uuid.UUID
	Target   string
	Findings []scanning.Finding
	Failures []Failure
}

// Aggregator merges task results for a single target. Merge is strictly
// serialized: many agents finish concurrently but only one writer mutates
// the aggregate at a time. Merges are idempotent by task id, so a duplicate
// delivery cannot double-count findings.
type Aggregator struct {
	mu sync.Mutex

	runID  uuid.UUID
	target string

	merged   map[uuid.UUID]struct{}
	findings []scanning.Finding
	failures []Failure

	aborted bool
	sealed  bool
}

// NewAggregator creates an empty aggregator for one target within a run.
func NewAggregator(runID uuid.UUID, target string) *Aggregator {
	return &Aggregator{
		runID:  runID,
		target: target,
		merged: make(map[uuid.UUID]struct{}),
	}
}

// Target returns the target this aggregator accumulates for.
func (a *Aggregator) Target() string { return a.target }

// Merge appends the result's findings to the aggregate. Results arriving
// after Abort or Seal are dropped, as are duplicate deliveries for a task id
// already merged. Merge reports whether the result was accepted.
func (a *Aggregator) Merge(result scanning.TaskResult) bool {
	a.mu.Lock()
	defer a.mu.Unlock()

	if a.aborted || a.sealed {
		return false
	}
	if _, dup := a.merged[result.TaskID]; dup {
		return false
	}
	a.merged[result.TaskID] = struct{}{}

	if !result.Success {
		a.failures = append(a.failures, Failure{TaskID: result.TaskID, Error: result.Error})
		return true
	}
	a.findings = append(a.findings, result.Findings...)
	return true
}

// Snapshot returns an immutable copy of the current aggregate.
func (a *Aggregator) Snapshot() Snapshot {
	a.mu.Lock()
	defer a.mu.Unlock()

	findings := make([]scanning.Finding, len(a.findings))
	copy(findings, a.findings)
	failures := make([]Failure, len(a.failures))
	copy(failures, a.failures)

	return Snapshot{
		RunID:    a.runID,
		Target:   a.target,
		Findings: findings,
		Failures: failures,
	}
}

// Abort marks the run as aborted; in-flight results that arrive later are
// discarded rather than merged into a dead run.
func (a *Aggregator) Abort() {
	a.mu.Lock()
	defer a.mu.Unlock()
	a.aborted = true
}

// Seal closes the aggregate once the run completes so results from abandoned
// tasks arriving late cannot mutate the reported state.
func (a *Aggregator) Seal() {
	a.mu.Lock()
	defer a.mu.Unlock()
	a.sealed = true
}
