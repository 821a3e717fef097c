package swarm

import (
	"context"
	"fmt"
	"strings"
	"sync"
	"time"

	"github.com/cenkalti/backoff"
	"github.com/google/uuid"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"
	"golang.org/x/sync/errgroup"

	"github.com/ahrav/threatswarm/internal/app/agent"
	"github.com/ahrav/threatswarm/internal/app/aggregation"
	"github.com/ahrav/threatswarm/internal/app/correlation"
	"github.com/ahrav/threatswarm/internal/app/orchestration"
	"github.com/ahrav/threatswarm/internal/app/risk"
	"github.com/ahrav/threatswarm/internal/domain/scanning"
	"github.com/ahrav/threatswarm/internal/infra/eventbus/memory"
	"github.com/ahrav/threatswarm/pkg/common/logger"
)

// Defaults for assignment retry behavior when the config leaves them zero.
const (
	defaultMaxRetries       = 3
	defaultAssignmentSweeps = 4
	defaultSweepBackoff     = 50 * time.Millisecond
)

// Config carries the coordinator's tunables. Orchestration is the template
// for every per-target run; Depth may be overridden per submission.
type Config struct {
	Orchestration orchestration.Config

	// MaxRetries bounds how many times a task stranded by node failure is
	// requeued before it fails for good.
	MaxRetries int

	// AssignmentSweeps bounds how many selection passes Dispatch makes over
	// the node set before giving up with ErrNoEligibleNode.
	AssignmentSweeps int

	// SweepBackoff is the initial delay between assignment sweeps; subsequent
	// sweeps back off exponentially.
	SweepBackoff time.Duration
}

func (c Config) withDefaults() Config {
	if c.MaxRetries <= 0 {
		c.MaxRetries = defaultMaxRetries
	}
	if c.AssignmentSweeps <= 0 {
		c.AssignmentSweeps = defaultAssignmentSweeps
	}
	if c.SweepBackoff <= 0 {
		c.SweepBackoff = defaultSweepBackoff
	}
	return c
}

// runKind distinguishes single-target submissions from swarm submissions.
type runKind int

const (
	runKindSingle runKind = iota
	runKindSwarm
)

// run is the coordinator's bookkeeping for one submission.
type run struct {
	kind          runKind
	targets       []string
	orchestrators []*orchestration.Orchestrator

	mu     sync.Mutex
	report *scanning.RiskReport
}

// Coordinator balances tasks across nodes and tracks multi-target runs. It is
// the swarm-mode TaskDispatcher: per-target orchestrators hand it tasks and it
// places each on the least-loaded healthy node serving the task's agent type.
type Coordinator struct {
	cfg      Config
	registry *agent.CapabilityRegistry
	broker   *memory.Broker
	scorer   *risk.Scorer

	mu    sync.RWMutex
	nodes []*Node
	runs  map[uuid.UUID]*run

	logger       *logger.Logger
	tracer       trace.Tracer
	metrics      Metrics
	agentMetrics agent.Metrics
}

// NewCoordinator creates a coordinator with no nodes. Call Start before
// submitting targets so results and heartbeats are routed.
func NewCoordinator(
	cfg Config,
	registry *agent.CapabilityRegistry,
	broker *memory.Broker,
	scorer *risk.Scorer,
	log *logger.Logger,
	tracer trace.Tracer,
	metrics Metrics,
	agentMetrics agent.Metrics,
) *Coordinator {
	return &Coordinator{
		cfg:          cfg.withDefaults(),
		registry:     registry,
		broker:       broker,
		scorer:       scorer,
		runs:         make(map[uuid.UUID]*run),
		logger:       log.With("component", "swarm_coordinator"),
		tracer:       tracer,
		metrics:      metrics,
		agentMetrics: agentMetrics,
	}
}

// Start subscribes the coordinator to task results and node heartbeats. Every
// result fans out to all active orchestrators; each orchestrator's phase
// tracker keeps its own tasks and drops the rest.
func (c *Coordinator) Start(ctx context.Context) error {
	if err := c.broker.SubscribeResults(ctx, func(result scanning.TaskResult) error {
		for _, o := range c.activeOrchestrators() {
			if err := o.Consume(ctx, result); err != nil {
				return err
			}
		}
		return nil
	}); err != nil {
		return fmt.Errorf("subscribing to results: %w", err)
	}

	if err := c.broker.SubscribeHeartbeats(ctx, func(hb memory.NodeHeartbeat) error {
		if hb.Healthy {
			return nil
		}
		nodeID, err := uuid.Parse(hb.NodeID)
		if err != nil {
			return nil
		}
		c.RemoveNode(ctx, nodeID)
		return nil
	}); err != nil {
		return fmt.Errorf("subscribing to heartbeats: %w", err)
	}

	return nil
}

// AddNode creates a node from the config, starts its agent pool and adds it to
// the assignment rotation. Node results flow through the shared broker.
func (c *Coordinator) AddNode(ctx context.Context, cfg NodeConfig) *Node {
	sink := scanning.ResultSinkFunc(func(ctx context.Context, result scanning.TaskResult) error {
		return c.broker.PublishResult(ctx, result)
	})

	node := NewNode(cfg, c.registry, sink, c.logger, c.tracer, c.agentMetrics)
	node.Start(ctx)

	c.mu.Lock()
	c.nodes = append(c.nodes, node)
	active := len(c.nodes)
	c.mu.Unlock()

	c.metrics.SetActiveNodes(ctx, int64(active))
	c.logger.Info(ctx, "node joined swarm",
		"node_id", node.ID(), "node_name", node.Name(),
		"node_type", node.NodeType(), "capacity", node.Capacity())
	return node
}

// RemoveNode drops a node from the rotation, shuts it down and reassigns its
// stranded tasks. A task over its retry budget fails instead of requeueing,
// and its synthetic failure result keeps the owning phase barrier moving.
func (c *Coordinator) RemoveNode(ctx context.Context, nodeID uuid.UUID) {
	c.mu.Lock()
	var node *Node
	for i, n := range c.nodes {
		if n.ID() == nodeID {
			node = n
			c.nodes = append(c.nodes[:i], c.nodes[i+1:]...)
			break
		}
	}
	active := len(c.nodes)
	c.mu.Unlock()

	if node == nil {
		return
	}
	c.metrics.SetActiveNodes(ctx, int64(active))

	stranded := node.Shutdown()
	c.logger.Warn(ctx, "node left swarm; reassigning stranded tasks",
		"node_id", nodeID, "stranded", len(stranded))

	for _, task := range stranded {
		c.reassign(ctx, task)
	}
}

// reassign requeues one stranded task and dispatches it again, or fails it
// when the retry budget is spent or no node can take it.
func (c *Coordinator) reassign(ctx context.Context, task *scanning.Task) {
	// Tasks still queued on the dead node are already Pending and spend no
	// retry budget; tasks an agent had picked up go back through Requeue.
	if task.Status() != scanning.TaskStatusPending {
		if err := task.Requeue(); err != nil {
			return
		}
		c.metrics.IncTasksRequeued(ctx)
	}

	if task.RetryCount() > c.cfg.MaxRetries {
		c.failTask(ctx, task, fmt.Sprintf("retry budget exhausted after node failure: %s", scanning.ErrNodeUnavailable))
		return
	}

	if err := c.Dispatch(ctx, task); err != nil {
		c.failTask(ctx, task, err.Error())
	}
}

// failTask marks the task failed and publishes a synthetic failure result so
// the orchestrator waiting on it resolves instead of hanging until its phase
// timeout.
func (c *Coordinator) failTask(ctx context.Context, task *scanning.Task, reason string) {
	if task.Status() == scanning.TaskStatusPending {
		_ = task.Fail()
	}
	result := scanning.NewFailedTaskResult(task.ID(), uuid.Nil, reason, 0)
	if err := c.broker.PublishResult(ctx, result); err != nil {
		c.logger.Error(ctx, "failed to publish synthetic failure result",
			"task_id", task.ID(), "error", err)
	}
}

// Dispatch implements scanning.TaskDispatcher. It sweeps the node set for the
// least-loaded healthy node serving the task's agent type, backing off
// between sweeps; when every sweep comes up empty the task fails with
// ErrNoEligibleNode.
func (c *Coordinator) Dispatch(ctx context.Context, task *scanning.Task) error {
	ctx, span := c.tracer.Start(ctx, "swarm.dispatch",
		trace.WithAttributes(
			attribute.String("task_id", task.ID().String()),
			attribute.String("agent_type", task.AgentType().String()),
		))
	defer span.End()

	bo := backoff.NewExponentialBackOff()
	bo.InitialInterval = c.cfg.SweepBackoff
	bo.MaxElapsedTime = 0

	for sweep := 0; sweep < c.cfg.AssignmentSweeps; sweep++ {
		if node := c.selectNode(task.AgentType()); node != nil && node.Accept(task) {
			span.SetAttributes(
				attribute.String("node_id", node.ID().String()),
				attribute.Int("sweeps", sweep+1),
			)
			c.metrics.IncTasksAssigned(ctx, task.AgentType())
			return nil
		}

		if sweep == c.cfg.AssignmentSweeps-1 {
			break
		}
		timer := time.NewTimer(bo.NextBackOff())
		select {
		case <-timer.C:
		case <-ctx.Done():
			timer.Stop()
			return ctx.Err()
		}
	}

	span.SetStatus(codes.Error, "no eligible node")
	c.metrics.IncAssignmentFailures(ctx)
	return fmt.Errorf("agent type %s: %w", task.AgentType(), scanning.ErrNoEligibleNode)
}

// selectNode returns the least-loaded healthy node with spare capacity that
// serves the agent type, or nil. Ties break by membership order so selection
// is deterministic.
func (c *Coordinator) selectNode(agentType scanning.AgentType) *Node {
	c.mu.RLock()
	defer c.mu.RUnlock()

	var best *Node
	var bestLoad int64
	for _, n := range c.nodes {
		if !n.Healthy() || !n.Serves(agentType) {
			continue
		}
		load := n.CurrentLoad()
		if load >= n.Capacity() {
			continue
		}
		if best == nil || load < bestLoad {
			best = n
			bestLoad = load
		}
	}
	return best
}

// Nodes returns the current membership in join order.
func (c *Coordinator) Nodes() []*Node {
	c.mu.RLock()
	defer c.mu.RUnlock()
	nodes := make([]*Node, len(c.nodes))
	copy(nodes, c.nodes)
	return nodes
}

// SubmitSingleTarget starts an asynchronous run for one target and returns its
// run ID. The report is retrieved with GetReport once the run finishes.
func (c *Coordinator) SubmitSingleTarget(ctx context.Context, target string, depth int) (uuid.UUID, error) {
	if strings.TrimSpace(target) == "" {
		return uuid.Nil, fmt.Errorf("target cannot be empty")
	}

	cfg := c.cfg.Orchestration
	if depth > 0 {
		cfg.Depth = depth
	}

	o := orchestration.NewOrchestrator(
		uuid.New(), target, cfg, c, c.scorer,
		c.logger, c.tracer, orchestration.NoopMetrics{},
	)

	r := &run{kind: runKindSingle, targets: []string{target}, orchestrators: []*orchestration.Orchestrator{o}}
	c.mu.Lock()
	c.runs[o.RunID()] = r
	c.mu.Unlock()

	go func() {
		report, err := o.Run(context.WithoutCancel(ctx))
		if err != nil {
			c.logger.Warn(ctx, "single-target run did not complete cleanly",
				"run_id", o.RunID(), "target", target, "error", err)
		}
		r.mu.Lock()
		r.report = &report
		r.mu.Unlock()
	}()

	return o.RunID(), nil
}

// SubmitSwarm starts one run per target sharing the node pool and returns the
// swarm run ID. Targets run concurrently; once every target's run is Done or
// Aborted the coordinator correlates findings across all of them and builds
// the swarm-wide report.
func (c *Coordinator) SubmitSwarm(ctx context.Context, targets []string, depth int) (uuid.UUID, error) {
	if len(targets) == 0 {
		return uuid.Nil, fmt.Errorf("at least one target is required")
	}

	cfg := c.cfg.Orchestration
	if depth > 0 {
		cfg.Depth = depth
	}

	swarmID := uuid.New()
	orchestrators := make([]*orchestration.Orchestrator, 0, len(targets))
	for _, target := range targets {
		orchestrators = append(orchestrators, orchestration.NewOrchestrator(
			uuid.New(), target, cfg, c, c.scorer,
			c.logger, c.tracer, orchestration.NoopMetrics{},
		))
	}

	r := &run{kind: runKindSwarm, targets: targets, orchestrators: orchestrators}
	c.mu.Lock()
	c.runs[swarmID] = r
	c.mu.Unlock()

	go c.runSwarm(context.WithoutCancel(ctx), swarmID, r)
	return swarmID, nil
}

// runSwarm drives every target's orchestrator to completion, then reduces all
// sealed aggregates to the cross-target report.
func (c *Coordinator) runSwarm(ctx context.Context, swarmID uuid.UUID, r *run) {
	ctx, span := c.tracer.Start(ctx, "swarm.run",
		trace.WithAttributes(
			attribute.String("swarm_run_id", swarmID.String()),
			attribute.Int("num_targets", len(r.targets)),
		))
	defer span.End()

	start := time.Now()

	var g errgroup.Group
	for _, o := range r.orchestrators {
		o := o
		g.Go(func() error {
			// Aborted targets surface as gaps in the swarm report, not as a
			// swarm-wide failure.
			if _, err := o.Run(ctx); err != nil {
				c.logger.Warn(ctx, "target run aborted within swarm",
					"run_id", o.RunID(), "target", o.Target(), "error", err)
			}
			return nil
		})
	}
	_ = g.Wait()

	report := c.buildSwarmReport(swarmID, r)
	r.mu.Lock()
	r.report = &report
	r.mu.Unlock()

	c.metrics.ObserveSwarmRunDuration(ctx, time.Since(start))
	span.AddEvent("swarm_completed")
	c.logger.Info(ctx, "swarm run completed",
		"swarm_run_id", swarmID, "targets", len(r.targets),
		"score", report.Score, "severity", report.Severity, "partial", report.Partial)
}

// buildSwarmReport correlates across every target's sealed snapshot and
// scores the union of findings. Orchestrator finalize seals each aggregator,
// so no merge can race this read.
func (c *Coordinator) buildSwarmReport(swarmID uuid.UUID, r *run) scanning.RiskReport {
	snapshots := make([]aggregation.Snapshot, 0, len(r.orchestrators))
	var findings []scanning.Finding
	var gaps []scanning.Gap
	partial := false

	for _, o := range r.orchestrators {
		snap := o.Aggregator().Snapshot()
		snapshots = append(snapshots, snap)
		findings = append(findings, snap.Findings...)
		gaps = append(gaps, o.Gaps()...)
		if report, err := o.Report(); err == nil && report.Partial {
			partial = true
		}
		if o.Phase() == scanning.PhaseAborted {
			partial = true
		}
	}

	correlations := correlation.NewEngine().Correlate(snapshots...)
	return c.scorer.BuildReport(swarmID, strings.Join(r.targets, ","), findings, correlations, partial, gaps)
}

// GetReport returns the report for a run ID from SubmitSingleTarget or
// SubmitSwarm. It returns ErrRunNotFound for unknown IDs and ErrReportPending
// while the run is still in flight. A delivered report evicts the run, so a
// second call for the same ID returns ErrRunNotFound.
func (c *Coordinator) GetReport(runID uuid.UUID) (scanning.RiskReport, error) {
	c.mu.RLock()
	r, ok := c.runs[runID]
	c.mu.RUnlock()
	if !ok {
		return scanning.RiskReport{}, scanning.ErrRunNotFound
	}

	r.mu.Lock()
	report := r.report
	r.mu.Unlock()
	if report == nil {
		return scanning.RiskReport{}, scanning.ErrReportPending
	}

	c.mu.Lock()
	delete(c.runs, runID)
	c.mu.Unlock()
	return *report, nil
}

// activeOrchestrators snapshots the orchestrators still in flight for result
// fanout. Terminal-phase orchestrators no longer track tasks and are skipped.
func (c *Coordinator) activeOrchestrators() []*orchestration.Orchestrator {
	c.mu.RLock()
	defer c.mu.RUnlock()
	var out []*orchestration.Orchestrator
	for _, r := range c.runs {
		for _, o := range r.orchestrators {
			if o.Phase().IsTerminal() {
				continue
			}
			out = append(out, o)
		}
	}
	return out
}
