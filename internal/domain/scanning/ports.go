package scanning

import (
	"context"
)

// ScanCapability is the contract content-inspection plugins satisfy to be
// invoked by agents. Implementations must be safe for concurrent invocation
// across targets; the orchestrator assumes no shared mutable state between
// invocations.
type ScanCapability interface {
	// Scan inspects the task's target with its opaque payload parameters and
	// returns structured findings stamped with the task's ID. Implementations
	// honor ctx cancellation; the agent enforces the per-task deadline
	// through it.
	Scan(ctx context.Context, task *Task) ([]Finding, error)
}

// ScanCapabilityFunc adapts a function to the ScanCapability interface.
type ScanCapabilityFunc func(ctx context.Context, task *Task) ([]Finding, error)

// Scan implements ScanCapability.
func (f ScanCapabilityFunc) Scan(ctx context.Context, task *Task) ([]Finding, error) {
	return f(ctx, task)
}

// TaskDispatcher routes generated tasks to whatever executes them: the local
// agent pool in single-target mode, or the swarm's node selection in swarm
// mode.
type TaskDispatcher interface {
	Dispatch(ctx context.Context, task *Task) error
}

// ResultSink receives every TaskResult emitted by agents. Pools forward
// results here; the orchestration layer owns the single merge point.
type ResultSink interface {
	Consume(ctx context.Context, result TaskResult) error
}

// ResultSinkFunc adapts a function to the ResultSink interface.
type ResultSinkFunc func(ctx context.Context, result TaskResult) error

// Consume implements ResultSink.
func (f ResultSinkFunc) Consume(ctx context.Context, result TaskResult) error {
	return f(ctx, result)
}
