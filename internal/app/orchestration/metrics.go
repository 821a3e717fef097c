package orchestration

import (
	"context"
	"time"

	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/metric"

	"github.com/ahrav/threatswarm/internal/domain/scanning"
)

// Metrics defines the metrics operations recorded by orchestrators.
type Metrics interface {
	IncRunsCompleted(ctx context.Context)
	IncRunsAborted(ctx context.Context)
	IncPhaseTimeouts(ctx context.Context, phase scanning.Phase)
	ObservePhaseDuration(ctx context.Context, phase scanning.Phase, duration time.Duration)
	ObserveRunDuration(ctx context.Context, duration time.Duration)
}

type orchestrationMetrics struct {
	runsCompleted metric.Int64Counter
	runsAborted   metric.Int64Counter
	phaseTimeouts metric.Int64Counter
	phaseDuration metric.Float64Histogram
	runDuration   metric.Float64Histogram
}

// NewMetrics creates the otel-backed orchestration metrics using the
// provided meter provider.
func NewMetrics(mp metric.MeterProvider) (Metrics, error) {
	meter := mp.Meter("orchestration")

	m := new(orchestrationMetrics)
	var err error

	if m.runsCompleted, err = meter.Int64Counter("orchestration_runs_completed_total",
		metric.WithDescription("Total target runs that reached Done")); err != nil {
		return nil, err
	}
	if m.runsAborted, err = meter.Int64Counter("orchestration_runs_aborted_total",
		metric.WithDescription("Total target runs aborted before completion")); err != nil {
		return nil, err
	}
	if m.phaseTimeouts, err = meter.Int64Counter("orchestration_phase_timeouts_total",
		metric.WithDescription("Total phases that hit their deadline with unfinished tasks")); err != nil {
		return nil, err
	}
	if m.phaseDuration, err = meter.Float64Histogram("orchestration_phase_duration_seconds",
		metric.WithDescription("Phase duration in seconds")); err != nil {
		return nil, err
	}
	if m.runDuration, err = meter.Float64Histogram("orchestration_run_duration_seconds",
		metric.WithDescription("End-to-end run duration in seconds")); err != nil {
		return nil, err
	}

	return m, nil
}

func (m *orchestrationMetrics) IncRunsCompleted(ctx context.Context) {
	m.runsCompleted.Add(ctx, 1)
}

func (m *orchestrationMetrics) IncRunsAborted(ctx context.Context) {
	m.runsAborted.Add(ctx, 1)
}

func (m *orchestrationMetrics) IncPhaseTimeouts(ctx context.Context, phase scanning.Phase) {
	m.phaseTimeouts.Add(ctx, 1, metric.WithAttributes(attribute.String("phase", phase.String())))
}

func (m *orchestrationMetrics) ObservePhaseDuration(ctx context.Context, phase scanning.Phase, duration time.Duration) {
	m.phaseDuration.Record(ctx, duration.Seconds(),
		metric.WithAttributes(attribute.String("phase", phase.String())))
}

func (m *orchestrationMetrics) ObserveRunDuration(ctx context.Context, duration time.Duration) {
	m.runDuration.Record(ctx, duration.Seconds())
}

// NoopMetrics discards every observation.
type NoopMetrics struct{}

func (NoopMetrics) IncRunsCompleted(context.Context)                                  {}
func (NoopMetrics) IncRunsAborted(context.Context)                                    {}
func (NoopMetrics) IncPhaseTimeouts(context.Context, scanning.Phase)                  {}
func (NoopMetrics) ObservePhaseDuration(context.Context, scanning.Phase, time.Duration) {}
func (NoopMetrics) ObserveRunDuration(context.Context, time.Duration)                 {}
