package scanning

import (
	"time"

	"github.com/google/uuid"
)

// TaskResult is the envelope an agent returns after executing a task.
// Capability failures are carried as values here; they never propagate as
// errors across component boundaries.
type TaskResult struct {
	TaskID   uuid.UUID
	AgentID  uuid.UUID
	Success  bool
	Findings []Finding
	Error    string
	Duration time.Duration
}

// NewTaskResult creates a successful result carrying the given findings.
func NewTaskResult(taskID, agentID uuid.UUID, findings []Finding, duration time.Duration) TaskResult {
	return TaskResult{
		TaskID:   taskID,
		AgentID:  agentID,
		Success:  true,
		Findings: findings,
		Duration: duration,
	}
}

// NewFailedTaskResult creates a failed result with the reason recorded.
func NewFailedTaskResult(taskID, agentID uuid.UUID, reason string, duration time.Duration) TaskResult {
	return TaskResult{
		TaskID:   taskID,
		AgentID:  agentID,
		Success:  false,
		Error:    reason,
		Duration: duration,
	}
}
