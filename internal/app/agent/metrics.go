package agent

import (
	"context"
	"time"

	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/metric"

	"github.com/ahrav/threatswarm/internal/domain/scanning"
)

// Metrics defines the metrics operations recorded by agents and pools.
type Metrics interface {
	IncTasksDequeued(ctx context.Context, agentType scanning.AgentType)
	IncTasksCompleted(ctx context.Context, agentType scanning.AgentType)
	IncTasksFailed(ctx context.Context, agentType scanning.AgentType)
	IncTasksTimedOut(ctx context.Context, agentType scanning.AgentType)
	ObserveTaskDuration(ctx context.Context, agentType scanning.AgentType, duration time.Duration)
}

type agentMetrics struct {
	tasksDequeued  metric.Int64Counter
	tasksCompleted metric.Int64Counter
	tasksFailed    metric.Int64Counter
	tasksTimedOut  metric.Int64Counter
	taskDuration   metric.Float64Histogram
}

// NewMetrics creates the otel-backed agent metrics using the provided meter
// provider.
func NewMetrics(mp metric.MeterProvider) (Metrics, error) {
	meter := mp.Meter("agent")

	m := new(agentMetrics)
	var err error

	if m.tasksDequeued, err = meter.Int64Counter("agent_tasks_dequeued_total",
		metric.WithDescription("Total tasks dequeued by agents")); err != nil {
		return nil, err
	}
	if m.tasksCompleted, err = meter.Int64Counter("agent_tasks_completed_total",
		metric.WithDescription("Total tasks completed successfully")); err != nil {
		return nil, err
	}
	if m.tasksFailed, err = meter.Int64Counter("agent_tasks_failed_total",
		metric.WithDescription("Total tasks failed by capability errors")); err != nil {
		return nil, err
	}
	if m.tasksTimedOut, err = meter.Int64Counter("agent_tasks_timed_out_total",
		metric.WithDescription("Total tasks that exceeded their capability deadline")); err != nil {
		return nil, err
	}
	if m.taskDuration, err = meter.Float64Histogram("agent_task_duration_seconds",
		metric.WithDescription("Task execution duration in seconds")); err != nil {
		return nil, err
	}

	return m, nil
}

func (m *agentMetrics) IncTasksDequeued(ctx context.Context, agentType scanning.AgentType) {
	m.tasksDequeued.Add(ctx, 1, metric.WithAttributes(attribute.String("agent_type", agentType.String())))
}

func (m *agentMetrics) IncTasksCompleted(ctx context.Context, agentType scanning.AgentType) {
	m.tasksCompleted.Add(ctx, 1, metric.WithAttributes(attribute.String("agent_type", agentType.String())))
}

func (m *agentMetrics) IncTasksFailed(ctx context.Context, agentType scanning.AgentType) {
	m.tasksFailed.Add(ctx, 1, metric.WithAttributes(attribute.String("agent_type", agentType.String())))
}

func (m *agentMetrics) IncTasksTimedOut(ctx context.Context, agentType scanning.AgentType) {
	m.tasksTimedOut.Add(ctx, 1, metric.WithAttributes(attribute.String("agent_type", agentType.String())))
}

func (m *agentMetrics) ObserveTaskDuration(ctx context.Context, agentType scanning.AgentType, duration time.Duration) {
	m.taskDuration.Record(ctx, duration.Seconds(),
		metric.WithAttributes(attribute.String("agent_type", agentType.String())))
}

// NoopMetrics discards every observation. Useful for tests and wiring where
// telemetry is not configured.
type NoopMetrics struct{}

func (NoopMetrics) IncTasksDequeued(context.Context, scanning.AgentType)               {}
func (NoopMetrics) IncTasksCompleted(context.Context, scanning.AgentType)              {}
func (NoopMetrics) IncTasksFailed(context.Context, scanning.AgentType)                 {}
func (NoopMetrics) IncTasksTimedOut(context.Context, scanning.AgentType)               {}
func (NoopMetrics) ObserveTaskDuration(context.Context, scanning.AgentType, time.Duration) {}
