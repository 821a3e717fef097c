package scanning

import (
	"errors"
	"fmt"
)

// Sentinel errors for the orchestration failure taxonomy. Task-level and
// capability-level failures are converted to TaskResult values at the
// component boundary; these sentinels classify the reason.
var (
	// ErrQueueClosed indicates the task queue is shutting down and rejects
	// new submissions while in-flight work drains.
	ErrQueueClosed = errors.New("task queue closed")

	// ErrNoEligibleNode indicates no node in the swarm serves the task's
	// agent type. Surfaced in the final report as a gap; the run continues.
	ErrNoEligibleNode = errors.New("no eligible node for task")

	// ErrNodeUnavailable indicates a node dropped out of the swarm while
	// holding tasks. Held tasks are requeued up to the retry limit.
	ErrNodeUnavailable = errors.New("node unavailable")

	// ErrPhaseTimeout indicates a phase deadline elapsed before every task
	// reached a terminal status. The run continues with partial results.
	ErrPhaseTimeout = errors.New("phase timed out")

	// ErrTargetUnreachable indicates reconnaissance could not establish basic
	// contact. The run for that target aborts; other targets are unaffected.
	ErrTargetUnreachable = errors.New("target unreachable")

	// ErrRunNotFound indicates no run exists for the requested identifier.
	ErrRunNotFound = errors.New("run not found")

	// ErrReportPending indicates the run exists but has not produced its
	// report yet.
	ErrReportPending = errors.New("report pending")
)

// CapabilityError wraps a failure raised by a scan capability for one task.
// It is recovered locally and recorded on the failed TaskResult; it never
// aborts the run.
type CapabilityError struct {
	AgentType AgentType
	Target    string
	Err       error
}

// Error implements the error interface.
func (e *CapabilityError) Error() string {
	return fmt.Sprintf("capability %s failed for target %s: %v", e.AgentType, e.Target, e.Err)
}

// Unwrap returns the underlying capability failure.
func (e *CapabilityError) Unwrap() error { return e.Err }
