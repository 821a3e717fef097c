package scanning

import (
	"sync"
	"sync/atomic"
	"time"

	"github.com/google/uuid"
)

// taskSeq hands out creation-order sequence numbers used to break priority
// ties FIFO. Monotonic per process, which is all the queue requires.
var taskSeq atomic.Uint64

// Task tracks the full lifecycle of a single unit of scan work. Status
// mutations are guarded both by the lifecycle state machine and by an
// internal mutex: the queue assigns under its own lock, but the swarm's
// requeue path may race with the executing agent's bookkeeping reads.
type Task struct {
	mu sync.Mutex

	id        uuid.UUID
	runID     uuid.UUID
	target    string
	agentType AgentType
	phase     Phase
	priority  int
	seq       uint64

	status         TaskStatus
	assignedNodeID uuid.UUID
	retryCount     int

	payload map[string]any

	createdAt   time.Time
	startedAt   time.Time
	completedAt time.Time
}

// NewTask creates a Pending task for the given run, target and agent type.
// The payload carries opaque capability parameters and is never interpreted
// by the orchestration layer.
func NewTask(runID uuid.UUID, target string, agentType AgentType, phase Phase, priority int, payload map[string]any) *Task {
	return &Task{
		id:        uuid.New(),
		runID:     runID,
		target:    target,
		agentType: agentType,
		phase:     phase,
		priority:  priority,
		seq:       taskSeq.Add(1),
		status:    TaskStatusPending,
		payload:   payload,
		createdAt: time.Now(),
	}
}

// ID returns the unique identifier for this task.
func (t *Task) ID() uuid.UUID { return t.id }

// RunID returns the identifier of the run that generated this task.
func (t *Task) RunID() uuid.UUID { return t.runID }

// Target returns the URI or host this task operates on.
func (t *Task) Target() string { return t.target }

// AgentType returns the agent type required to execute this task.
func (t *Task) AgentType() AgentType { return t.agentType }

// Phase returns the pipeline phase that generated this task.
func (t *Task) Phase() Phase { return t.phase }

// Priority returns the scheduling priority; higher values dequeue sooner.
func (t *Task) Priority() int { return t.priority }

// Seq returns the creation-order sequence number used for FIFO tie-breaks.
func (t *Task) Seq() uint64 { return t.seq }

// Payload returns the opaque capability parameters.
func (t *Task) Payload() map[string]any { return t.payload }

// CreatedAt returns the task creation time.
func (t *Task) CreatedAt() time.Time { return t.createdAt }

// Status returns the current lifecycle status.
func (t *Task) Status() TaskStatus {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.status
}

// AssignedNodeID returns the node currently holding this task, or uuid.Nil.
func (t *Task) AssignedNodeID() uuid.UUID {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.assignedNodeID
}

// RetryCount returns the number of times this task has been requeued.
func (t *Task) RetryCount() int {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.retryCount
}

// StartedAt returns the time execution began, or the zero time.
func (t *Task) StartedAt() time.Time {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.startedAt
}

// CompletedAt returns the time a terminal status was reached, or the zero time.
func (t *Task) CompletedAt() time.Time {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.completedAt
}

// IsTerminal reports whether the task has reached a terminal status.
func (t *Task) IsTerminal() bool { return t.Status().IsTerminal() }

// Assign transitions the task to Assigned and records the holding node.
// The queue calls this under its own lock so no two agents can receive
// the same task.
func (t *Task) Assign(nodeID uuid.UUID) error {
	t.mu.Lock()
	defer t.mu.Unlock()
	if err := t.status.validateTransition(TaskStatusAssigned); err != nil {
		return err
	}
	t.status = TaskStatusAssigned
	t.assignedNodeID = nodeID
	return nil
}

// Start transitions the task to Running. Only the executing agent calls this.
func (t *Task) Start() error {
	t.mu.Lock()
	defer t.mu.Unlock()
	if err := t.status.validateTransition(TaskStatusRunning); err != nil {
		return err
	}
	t.status = TaskStatusRunning
	t.startedAt = time.Now()
	return nil
}

// Complete transitions the task to the Completed terminal status.
func (t *Task) Complete() error { return t.finish(TaskStatusCompleted) }

// Fail transitions the task to the Failed terminal status.
func (t *Task) Fail() error { return t.finish(TaskStatusFailed) }

// TimeOut transitions the task to the TimedOut terminal status. Used both by
// the agent's capability deadline and by the orchestrator when abandoning
// tasks at a phase timeout.
func (t *Task) TimeOut() error { return t.finish(TaskStatusTimedOut) }

func (t *Task) finish(target TaskStatus) error {
	t.mu.Lock()
	defer t.mu.Unlock()
	if err := t.status.validateTransition(target); err != nil {
		return err
	}
	t.status = target
	t.completedAt = time.Now()
	return nil
}

// Requeue returns an Assigned or Running task to Pending for another attempt
// and increments the retry count. Used when the holding node drops out of the
// swarm before reporting a result.
func (t *Task) Requeue() error {
	t.mu.Lock()
	defer t.mu.Unlock()
	if err := t.status.validateTransition(TaskStatusPending); err != nil {
		return err
	}
	t.status = TaskStatusPending
	t.assignedNodeID = uuid.Nil
	t.startedAt = time.Time{}
	t.retryCount++
	return nil
}
