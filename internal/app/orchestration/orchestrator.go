// Package orchestration drives a single target through the fixed four-phase
// analysis pipeline: reconnaissance, parallel scan, deep analysis, then
// correlation and risk assessment over the aggregated findings. Phase N+1
// tasks are never generated before every phase-N task is terminal; that
// barrier is the pipeline's only strict ordering guarantee.
package orchestration

import (
	"context"
	"fmt"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"

	"github.com/ahrav/threatswarm/internal/app/aggregation"
	"github.com/ahrav/threatswarm/internal/app/correlation"
	"github.com/ahrav/threatswarm/internal/app/risk"
	"github.com/ahrav/threatswarm/internal/domain/scanning"
	"github.com/ahrav/threatswarm/pkg/common/logger"
)

// Limits bound data-dependent task generation so a noisy parallel scan
// cannot explode the deep-analysis phase.
const (
	maxCrawlTasks       = 8
	maxDeepExploreTasks = 16
)

// Config carries the tunables for a single-target run. All values come from
// the surrounding system's configuration, not hardcoded policy.
type Config struct {
	PhaseTimeout time.Duration
	Depth        int

	// Priorities per phase; higher dequeues sooner. Recon runs alone, so its
	// priority only matters when targets share nodes in swarm mode.
	ReconPriority    int
	ScanPriority     int
	AnalysisPriority int
}

// Orchestrator owns one target's run: it generates tasks phase by phase,
// dispatches them, blocks on the phase barrier, merges results and finally
// reduces the aggregate to a risk report.
type Orchestrator struct {
	runID  uuid.UUID
	target string
	cfg    Config

	dispatcher scanning.TaskDispatcher
	aggregator *aggregation.Aggregator
	correlator *correlation.Engine
	scorer     *risk.Scorer

	mu       sync.Mutex
	phase    scanning.Phase
	tracker  *phaseTracker
	partial  bool
	aborted  string
	gaps     []scanning.Gap
	report   *scanning.RiskReport
	cancelFn context.CancelFunc

	logger  *logger.Logger
	tracer  trace.Tracer
	metrics Metrics
}

// NewOrchestrator creates an orchestrator for one target. The dispatcher
// abstracts where tasks execute: a local agent pool in single-target mode or
// the swarm's node selection in swarm mode.
func NewOrchestrator(
	runID uuid.UUID,
	target string,
	cfg Config,
	dispatcher scanning.TaskDispatcher,
	scorer *risk.Scorer,
	log *logger.Logger,
	tracer trace.Tracer,
	metrics Metrics,
) *Orchestrator {
	return &Orchestrator{
		runID:      runID,
		target:     target,
		cfg:        cfg,
		dispatcher: dispatcher,
		aggregator: aggregation.NewAggregator(runID, target),
		correlator: correlation.NewEngine(),
		scorer:     scorer,
		phase:      scanning.PhaseReconnaissance,
		logger:     log.With("component", "orchestrator", "run_id", runID.String(), "target", target),
		tracer:     tracer,
		metrics:    metrics,
	}
}

// RunID returns the run identifier.
func (o *Orchestrator) RunID() uuid.UUID { return o.runID }

// Target returns the target under analysis.
func (o *Orchestrator) Target() string { return o.target }

// Phase returns the current pipeline phase.
func (o *Orchestrator) Phase() scanning.Phase {
	o.mu.Lock()
	defer o.mu.Unlock()
	return o.phase
}

// Aggregator exposes the run's aggregator so the swarm coordinator can take
// the final snapshot for cross-target correlation.
func (o *Orchestrator) Aggregator() *aggregation.Aggregator { return o.aggregator }

// Report returns the final risk report, or scanning.ErrReportPending while
// the run is still in flight.
func (o *Orchestrator) Report() (scanning.RiskReport, error) {
	o.mu.Lock()
	defer o.mu.Unlock()
	if o.report == nil {
		return scanning.RiskReport{}, scanning.ErrReportPending
	}
	return *o.report, nil
}

// Gaps returns the recorded completeness gaps for this run.
func (o *Orchestrator) Gaps() []scanning.Gap {
	o.mu.Lock()
	defer o.mu.Unlock()
	gaps := make([]scanning.Gap, len(o.gaps))
	copy(gaps, o.gaps)
	return gaps
}

// Abort marks the run aborted. In-flight tasks are not forcibly killed, but
// the aggregator discards their results once aborted.
func (o *Orchestrator) Abort(reason string) {
	o.mu.Lock()
	o.phase = scanning.PhaseAborted
	o.aborted = reason
	o.gaps = append(o.gaps, scanning.Gap{Target: o.target, Reason: reason})
	cancel := o.cancelFn
	o.mu.Unlock()

	o.aggregator.Abort()
	if cancel != nil {
		cancel()
	}
}

// Consume implements scanning.ResultSink. Results for tasks the current
// phase is not waiting on (late arrivals from abandoned tasks, or other
// runs' tasks routed by a shared broker) are dropped.
func (o *Orchestrator) Consume(ctx context.Context, result scanning.TaskResult) error {
	o.mu.Lock()
	tracker := o.tracker
	o.mu.Unlock()

	if tracker == nil || !tracker.resolve(result) {
		return nil
	}
	o.aggregator.Merge(result)
	return nil
}

// Run executes the pipeline to completion. It returns the final report, or
// an error when the run aborted before producing one.
func (o *Orchestrator) Run(ctx context.Context) (scanning.RiskReport, error) {
	ctx, span := o.tracer.Start(ctx, "orchestrator.run",
		trace.WithAttributes(
			attribute.String("run_id", o.runID.String()),
			attribute.String("target", o.target),
		))
	defer span.End()

	runCtx, cancel := context.WithCancel(ctx)
	defer cancel()
	o.mu.Lock()
	o.cancelFn = cancel
	o.mu.Unlock()

	start := time.Now()

	for _, phase := range scanning.TaskPhases() {
		if o.Phase() == scanning.PhaseAborted {
			break
		}
		o.setPhase(phase)

		if err := o.runPhase(runCtx, phase); err != nil {
			span.RecordError(err)
			span.SetStatus(codes.Error, "phase failed")
			o.Abort(err.Error())
			break
		}

		if phase == scanning.PhaseReconnaissance && o.targetUnreachable() {
			span.AddEvent("target_unreachable")
			o.Abort(scanning.ErrTargetUnreachable.Error())
			break
		}
	}

	report := o.finalize()
	o.metrics.ObserveRunDuration(ctx, time.Since(start))

	if o.Phase() == scanning.PhaseAborted {
		o.metrics.IncRunsAborted(ctx)
		span.AddEvent("run_aborted")
		return report, fmt.Errorf("run aborted for target %s: %s", o.target, o.abortReason())
	}

	o.metrics.IncRunsCompleted(ctx)
	span.AddEvent("run_completed")
	return report, nil
}

// runPhase generates the phase's tasks, dispatches them all at once and
// blocks until every task is terminal or the phase timeout elapses. On
// timeout the phase proceeds with whatever arrived; unfinished tasks are
// marked TimedOut for bookkeeping and their late results dropped.
func (o *Orchestrator) runPhase(ctx context.Context, phase scanning.Phase) error {
	ctx, span := o.tracer.Start(ctx, "orchestrator.run_phase",
		trace.WithAttributes(
			attribute.String("run_id", o.runID.String()),
			attribute.String("phase", phase.String()),
		))
	defer span.End()

	tasks := o.generateTasks(phase)
	span.SetAttributes(attribute.Int("num_tasks", len(tasks)))
	if len(tasks) == 0 {
		return nil
	}

	tracker := newPhaseTracker(tasks)
	o.mu.Lock()
	o.tracker = tracker
	o.mu.Unlock()

	start := time.Now()
	o.logger.Info(ctx, "starting phase", "phase", phase, "tasks", len(tasks))

	for _, task := range tasks {
		if err := o.dispatcher.Dispatch(ctx, task); err != nil {
			// Dispatch failures (queue closed, no eligible node) resolve the
			// task immediately so the barrier cannot hang on it.
			o.logger.Error(ctx, "failed to dispatch task",
				"task_id", task.ID(), "agent_type", task.AgentType(), "error", err)
			if task.Status() == scanning.TaskStatusPending {
				_ = task.Fail()
			}
			tracker.resolve(scanning.NewFailedTaskResult(task.ID(), uuid.Nil, err.Error(), 0))
			o.recordGap(phase, err.Error())
		}
	}

	timer := time.NewTimer(o.cfg.PhaseTimeout)
	defer timer.Stop()

	select {
	case <-tracker.done():
		span.AddEvent("phase_completed")
		o.metrics.ObservePhaseDuration(ctx, phase, time.Since(start))

	case <-timer.C:
		span.AddEvent("phase_timeout")
		o.metrics.IncPhaseTimeouts(ctx, phase)
		o.logger.Warn(ctx, "phase timed out; proceeding with partial results",
			"phase", phase, "unresolved", tracker.unresolved())
		o.markPartial(phase)
		tracker.abandon()

	case <-ctx.Done():
		return ctx.Err()
	}

	o.mu.Lock()
	o.tracker = nil
	o.mu.Unlock()
	return nil
}

// generateTasks produces the task set for a phase. Reconnaissance is fixed;
// later phases derive their tasks from the previous phases' aggregated
// findings.
func (o *Orchestrator) generateTasks(phase scanning.Phase) []*scanning.Task {
	switch phase {
	case scanning.PhaseReconnaissance:
		return []*scanning.Task{
			scanning.NewTask(o.runID, o.target, scanning.AgentTypeRecon, phase, o.cfg.ReconPriority, map[string]any{
				"depth": o.cfg.Depth,
			}),
		}

	case scanning.PhaseParallelScan:
		snap := o.aggregator.Snapshot()
		tasks := []*scanning.Task{
			scanning.NewTask(o.runID, o.target, scanning.AgentTypePatternHunt, phase, o.cfg.ScanPriority, nil),
			scanning.NewTask(o.runID, o.target, scanning.AgentTypeStealthScan, phase, o.cfg.ScanPriority, nil),
		}
		// One crawl task per endpoint reconnaissance surfaced, bounded.
		crawled := 0
		for _, f := range snap.Findings {
			if f.Category() != scanning.CategoryEndpoint {
				continue
			}
			if crawled >= maxCrawlTasks {
				break
			}
			tasks = append(tasks, scanning.NewTask(o.runID, o.target, scanning.AgentTypeWebCrawl, phase, o.cfg.ScanPriority, map[string]any{
				"endpoint": f.Context(),
				"depth":    o.cfg.Depth,
			}))
			crawled++
		}
		return tasks

	case scanning.PhaseDeepAnalysis:
		snap := o.aggregator.Snapshot()
		var tasks []*scanning.Task
		explored := 0
		for _, f := range snap.Findings {
			if f.Category() != scanning.CategoryEndpoint && f.Category() != scanning.CategoryMisconfiguration {
				continue
			}
			if explored >= maxDeepExploreTasks {
				break
			}
			tasks = append(tasks, scanning.NewTask(o.runID, o.target, scanning.AgentTypeDeepExplore, phase, o.cfg.AnalysisPriority, map[string]any{
				"candidate": f.Context(),
				"category":  string(f.Category()),
			}))
			explored++
		}
		if len(snap.Findings) > 0 {
			tasks = append(tasks, scanning.NewTask(o.runID, o.target, scanning.AgentTypeAnalyze, phase, o.cfg.AnalysisPriority, map[string]any{
				"finding_count": len(snap.Findings),
			}))
		}
		return tasks

	default:
		return nil
	}
}

// finalize seals the aggregator, runs correlation and risk scoring over the
// final snapshot and records the report. For aborted runs the report carries
// whatever merged before the abort, flagged partial.
func (o *Orchestrator) finalize() scanning.RiskReport {
	aborted := o.Phase() == scanning.PhaseAborted
	if !aborted {
		o.setPhase(scanning.PhaseCorrelation)
	}
	o.aggregator.Seal()
	snap := o.aggregator.Snapshot()

	correlations := o.correlator.Correlate(snap)

	if !aborted {
		o.setPhase(scanning.PhaseRiskAssessment)
	}

	o.mu.Lock()
	partial := o.partial || aborted
	gaps := o.gaps
	o.mu.Unlock()

	report := o.scorer.BuildReport(o.runID, o.target, snap.Findings, correlations, partial, gaps)

	o.mu.Lock()
	o.report = &report
	if !aborted {
		o.phase = scanning.PhaseDone
	}
	o.mu.Unlock()
	return report
}

// targetUnreachable reports whether reconnaissance failed to establish basic
// contact: no findings merged and at least one failure classified as
// unreachable.
func (o *Orchestrator) targetUnreachable() bool {
	snap := o.aggregator.Snapshot()
	if len(snap.Findings) > 0 {
		return false
	}
	for _, failure := range snap.Failures {
		if strings.Contains(failure.Error, scanning.ErrTargetUnreachable.Error()) {
			return true
		}
	}
	return false
}

func (o *Orchestrator) abortReason() string {
	o.mu.Lock()
	defer o.mu.Unlock()
	return o.aborted
}

func (o *Orchestrator) setPhase(phase scanning.Phase) {
	o.mu.Lock()
	o.phase = phase
	o.mu.Unlock()
}

func (o *Orchestrator) markPartial(phase scanning.Phase) {
	o.mu.Lock()
	o.partial = true
	o.gaps = append(o.gaps, scanning.Gap{Target: o.target, Phase: phase, Reason: scanning.ErrPhaseTimeout.Error()})
	o.mu.Unlock()
}

func (o *Orchestrator) recordGap(phase scanning.Phase, reason string) {
	o.mu.Lock()
	o.partial = true
	o.gaps = append(o.gaps, scanning.Gap{Target: o.target, Phase: phase, Reason: reason})
	o.mu.Unlock()
}
