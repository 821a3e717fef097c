package swarm

import (
	"context"
	"time"

	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/metric"

	"github.com/ahrav/threatswarm/internal/domain/scanning"
)

// Metrics defines the metrics operations recorded by the coordinator.
type Metrics interface {
	IncTasksAssigned(ctx context.Context, agentType scanning.AgentType)
	IncTasksRequeued(ctx context.Context)
	IncAssignmentFailures(ctx context.Context)
	SetActiveNodes(ctx context.Context, count int64)
	ObserveSwarmRunDuration(ctx context.Context, duration time.Duration)
}

type swarmMetrics struct {
	tasksAssigned      metric.Int64Counter
	tasksRequeued      metric.Int64Counter
	assignmentFailures metric.Int64Counter
	activeNodes        metric.Int64Gauge
	swarmRunDuration   metric.Float64Histogram
}

// NewMetrics creates the otel-backed swarm metrics using the provided meter
// provider.
func NewMetrics(mp metric.MeterProvider) (Metrics, error) {
	meter := mp.Meter("swarm")

	m := new(swarmMetrics)
	var err error

	if m.tasksAssigned, err = meter.Int64Counter("swarm_tasks_assigned_total",
		metric.WithDescription("Total tasks placed on a node")); err != nil {
		return nil, err
	}
	if m.tasksRequeued, err = meter.Int64Counter("swarm_tasks_requeued_total",
		metric.WithDescription("Total tasks requeued after their node dropped out")); err != nil {
		return nil, err
	}
	if m.assignmentFailures, err = meter.Int64Counter("swarm_assignment_failures_total",
		metric.WithDescription("Total tasks that found no eligible node")); err != nil {
		return nil, err
	}
	if m.activeNodes, err = meter.Int64Gauge("swarm_active_nodes",
		metric.WithDescription("Current node count in the swarm")); err != nil {
		return nil, err
	}
	if m.swarmRunDuration, err = meter.Float64Histogram("swarm_run_duration_seconds",
		metric.WithDescription("End-to-end swarm run duration in seconds")); err != nil {
		return nil, err
	}

	return m, nil
}

func (m *swarmMetrics) IncTasksAssigned(ctx context.Context, agentType scanning.AgentType) {
	m.tasksAssigned.Add(ctx, 1, metric.WithAttributes(attribute.String("agent_type", agentType.String())))
}

func (m *swarmMetrics) IncTasksRequeued(ctx context.Context) {
	m.tasksRequeued.Add(ctx, 1)
}

func (m *swarmMetrics) IncAssignmentFailures(ctx context.Context) {
	m.assignmentFailures.Add(ctx, 1)
}

func (m *swarmMetrics) SetActiveNodes(ctx context.Context, count int64) {
	m.activeNodes.Record(ctx, count)
}

func (m *swarmMetrics) ObserveSwarmRunDuration(ctx context.Context, duration time.Duration) {
	m.swarmRunDuration.Record(ctx, duration.Seconds())
}

// NoopMetrics discards every observation.
type NoopMetrics struct{}

func (NoopMetrics) IncTasksAssigned(context.Context, scanning.AgentType) {}
func (NoopMetrics) IncTasksRequeued(context.Context)                     {}
func (NoopMetrics) IncAssignmentFailures(context.Context)                {}
func (NoopMetrics) SetActiveNodes(context.Context, int64)                {}
func (NoopMetrics) ObserveSwarmRunDuration(context.Context, time.Duration) {}
