package scanning

import (
	"errors"
	"fmt"
)

// TaskStatus represents the execution state of an individual scan task. It enables
// fine-grained tracking of task progress and error conditions.
type TaskStatus string

// ErrTaskStatusUnknown is returned when a task status is unknown.
var ErrTaskStatusUnknown = errors.New("task status unknown")

const (
	// TaskStatusPending indicates a task is created but not yet assigned.
	TaskStatusPending TaskStatus = "PENDING"

	// TaskStatusAssigned indicates a task has been handed to exactly one agent.
	TaskStatusAssigned TaskStatus = "ASSIGNED"

	// TaskStatusRunning indicates a task is actively executing its capability.
	TaskStatusRunning TaskStatus = "RUNNING"

	// TaskStatusCompleted indicates a task finished successfully.
	TaskStatusCompleted TaskStatus = "COMPLETED"

	// TaskStatusFailed indicates a task encountered an unrecoverable error.
	TaskStatusFailed TaskStatus = "FAILED"

	// TaskStatusTimedOut indicates a task exceeded its capability or phase deadline.
	TaskStatusTimedOut TaskStatus = "TIMED_OUT"

	// TaskStatusUnspecified is used when a task status is unknown.
	TaskStatusUnspecified TaskStatus = "UNSPECIFIED"
)

// String returns the string representation of the TaskStatus.
func (s TaskStatus) String() string { return string(s) }

// ParseTaskStatus converts a string to a TaskStatus.
func ParseTaskStatus(s string) TaskStatus {
	switch s {
	case "PENDING":
		return TaskStatusPending
	case "ASSIGNED":
		return TaskStatusAssigned
	case "RUNNING":
		return TaskStatusRunning
	case "COMPLETED":
		return TaskStatusCompleted
	case "FAILED":
		return TaskStatusFailed
	case "TIMED_OUT":
		return TaskStatusTimedOut
	default:
		return TaskStatusUnspecified
	}
}

// IsTerminal reports whether the status permits no further transitions.
func (s TaskStatus) IsTerminal() bool {
	return s == TaskStatusCompleted || s == TaskStatusFailed || s == TaskStatusTimedOut
}

// validateTransition checks if a status transition is valid and returns an error if not.
func (s TaskStatus) validateTransition(target TaskStatus) error {
	if !s.isValidTransition(target) {
		return fmt.Errorf("invalid task status transition from %s to %s", s, target)
	}
	return nil
}

// isValidTransition checks if the current status can transition to the target status.
// The lifecycle is strictly forward with one exception: a task stranded on a
// failed node may move back to Pending for another attempt.
func (s TaskStatus) isValidTransition(target TaskStatus) bool {
	switch s {
	case TaskStatusPending:
		// From Pending, can be assigned, failed outright (e.g. no eligible
		// node), or timed out when abandoned at a phase deadline while still
		// queued.
		return target == TaskStatusAssigned || target == TaskStatusFailed || target == TaskStatusTimedOut
	case TaskStatusAssigned:
		// From Assigned, can start running, fail, time out waiting, or be
		// requeued when the holding node drops out.
		return target == TaskStatusRunning || target == TaskStatusFailed ||
			target == TaskStatusTimedOut || target == TaskStatusPending
	case TaskStatusRunning:
		// From Running, can reach any terminal state, or be requeued when the
		// holding node drops out before reporting a result.
		return target == TaskStatusCompleted || target == TaskStatusFailed ||
			target == TaskStatusTimedOut || target == TaskStatusPending
	case TaskStatusCompleted, TaskStatusFailed, TaskStatusTimedOut:
		// Terminal states - no further transitions allowed.
		return false
	case TaskStatusUnspecified:
		// Cannot transition from unspecified state.
		return false
	default:
		return false
	}
}
