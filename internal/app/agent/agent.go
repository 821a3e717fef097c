package agent

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"

	"github.com/ahrav/threatswarm/internal/domain/scanning"
	"github.com/ahrav/threatswarm/pkg/common/logger"
)

// timeoutReason is the error string recorded on results for tasks that
// exceeded their capability deadline.
const timeoutReason = "timeout"

// Agent is a typed worker that executes tasks by invoking the capability
// bound to the task's agent type. Agents convert every capability failure,
// panic and deadline into a TaskResult value; the orchestration layer never
// crashes because a capability misbehaved. Retry decisions belong to the
// caller, not the agent.
type Agent struct {
	id          uuid.UUID
	registry    *CapabilityRegistry
	taskTimeout time.Duration

	logger  *logger.Logger
	tracer  trace.Tracer
	metrics Metrics
}

// NewAgent creates an agent bound to the given capability registry with a
// per-task capability deadline.
func NewAgent(
	registry *CapabilityRegistry,
	taskTimeout time.Duration,
	log *logger.Logger,
	tracer trace.Tracer,
	metrics Metrics,
) *Agent {
	id := uuid.New()
	return &Agent{
		id:          id,
		registry:    registry,
		taskTimeout: taskTimeout,
		logger:      log.With("component", "agent", "agent_id", id.String()),
		tracer:      tracer,
		metrics:     metrics,
	}
}

// ID returns the unique identifier for this agent.
func (a *Agent) ID() uuid.UUID { return a.id }

// Execute runs the task's capability with the per-task deadline applied and
// returns the result envelope. The task is transitioned Running before the
// capability is invoked and to a terminal status before Execute returns.
func (a *Agent) Execute(ctx context.Context, task *scanning.Task) scanning.TaskResult {
	ctx, span := a.tracer.Start(ctx, "agent.execute",
		trace.WithAttributes(
			attribute.String("agent_id", a.id.String()),
			attribute.String("task_id", task.ID().String()),
			attribute.String("agent_type", task.AgentType().String()),
			attribute.String("target", task.Target()),
		))
	defer span.End()

	start := time.Now()

	if err := task.Start(); err != nil {
		// The task was abandoned (e.g. phase timeout) between dequeue and
		// execution; report the failure without touching its terminal state.
		span.RecordError(err)
		return scanning.NewFailedTaskResult(task.ID(), a.id, err.Error(), time.Since(start))
	}

	capability, err := a.registry.Resolve(task.AgentType())
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, "capability not registered")
		_ = task.Fail()
		return scanning.NewFailedTaskResult(task.ID(), a.id, err.Error(), time.Since(start))
	}

	findings, err := a.invoke(ctx, capability, task)
	duration := time.Since(start)
	a.metrics.ObserveTaskDuration(ctx, task.AgentType(), duration)

	switch {
	case errors.Is(err, context.DeadlineExceeded):
		span.SetStatus(codes.Error, "capability deadline exceeded")
		a.logger.Warn(ctx, "task timed out", "task_id", task.ID(), "agent_type", task.AgentType())
		a.metrics.IncTasksTimedOut(ctx, task.AgentType())
		_ = task.TimeOut()
		return scanning.NewFailedTaskResult(task.ID(), a.id, timeoutReason, duration)

	case err != nil:
		capErr := &scanning.CapabilityError{AgentType: task.AgentType(), Target: task.Target(), Err: err}
		span.RecordError(capErr)
		span.SetStatus(codes.Error, "capability failed")
		a.logger.Error(ctx, "capability failed", "task_id", task.ID(), "error", capErr)
		a.metrics.IncTasksFailed(ctx, task.AgentType())
		_ = task.Fail()
		return scanning.NewFailedTaskResult(task.ID(), a.id, capErr.Error(), duration)

	default:
		span.SetAttributes(attribute.Int("num_findings", len(findings)))
		a.metrics.IncTasksCompleted(ctx, task.AgentType())
		_ = task.Complete()
		return scanning.NewTaskResult(task.ID(), a.id, findings, duration)
	}
}

// invoke runs the capability under the per-task deadline. The capability is
// executed on its own goroutine so a deadline fires even when the capability
// ignores ctx; an abandoned invocation's eventual return is discarded.
func (a *Agent) invoke(ctx context.Context, capability scanning.ScanCapability, task *scanning.Task) ([]scanning.Finding, error) {
	ctx, cancel := context.WithTimeout(ctx, a.taskTimeout)
	defer cancel()

	type outcome struct {
		findings []scanning.Finding
		err      error
	}
	outCh := make(chan outcome, 1)

	go func() {
		defer func() {
			if r := recover(); r != nil {
				outCh <- outcome{err: fmt.Errorf("capability panic: %v", r)}
			}
		}()
		findings, err := capability.Scan(ctx, task)
		outCh <- outcome{findings: findings, err: err}
	}()

	select {
	case out := <-outCh:
		if out.err != nil && ctx.Err() == context.DeadlineExceeded {
			return nil, context.DeadlineExceeded
		}
		return out.findings, out.err
	case <-ctx.Done():
		if ctx.Err() == context.DeadlineExceeded {
			return nil, context.DeadlineExceeded
		}
		return nil, ctx.Err()
	}
}
