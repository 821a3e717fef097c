package swarm

import (
	"context"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/ahrav/threatswarm/internal/app/agent"
	"github.com/ahrav/threatswarm/internal/app/correlation"
	"github.com/ahrav/threatswarm/internal/app/orchestration"
	"github.com/ahrav/threatswarm/internal/app/risk"
	"github.com/ahrav/threatswarm/internal/domain/scanning"
	"github.com/ahrav/threatswarm/internal/infra/eventbus/memory"
)

func testCoordinatorConfig() Config {
	return Config{
		Orchestration: orchestration.Config{
			PhaseTimeout:     5 * time.Second,
			Depth:            1,
			ReconPriority:    10,
			ScanPriority:     5,
			AnalysisPriority: 5,
		},
		MaxRetries:       3,
		AssignmentSweeps: 2,
		SweepBackoff:     time.Millisecond,
	}
}

func newTestCoordinator(t *testing.T, registry *agent.CapabilityRegistry) (*Coordinator, *memory.Broker) {
	t.Helper()
	broker := memory.NewBroker()
	c := NewCoordinator(
		testCoordinatorConfig(), registry, broker,
		risk.NewScorer(risk.DefaultWeights()),
		testLogger(), testTracer(), NoopMetrics{}, agent.NoopMetrics{},
	)
	return c, broker
}

// addStoppedNode registers a node without starting its pool, so dispatched
// tasks stay queued and per-node load is deterministic.
func addStoppedNode(c *Coordinator, n *Node) {
	c.mu.Lock()
	c.nodes = append(c.nodes, n)
	c.mu.Unlock()
}

func TestDispatchBalancesLoadAcrossNodes(t *testing.T) {
	t.Parallel()

	c, _ := newTestCoordinator(t, newRegistry(t, scanning.AgentTypeRecon))
	first := stoppedNode(t, "node-0", 4, scanning.AgentTypeRecon)
	second := stoppedNode(t, "node-1", 4, scanning.AgentTypeRecon)
	addStoppedNode(c, first)
	addStoppedNode(c, second)

	for i := 0; i < 6; i++ {
		require.NoError(t, c.Dispatch(context.Background(), pendingTask(scanning.AgentTypeRecon)))
	}

	assert.Equal(t, int64(3), first.CurrentLoad())
	assert.Equal(t, int64(3), second.CurrentLoad())
}

func TestDispatchTieBreaksByJoinOrder(t *testing.T) {
	t.Parallel()

	c, _ := newTestCoordinator(t, newRegistry(t, scanning.AgentTypeRecon))
	first := stoppedNode(t, "node-0", 4, scanning.AgentTypeRecon)
	second := stoppedNode(t, "node-1", 4, scanning.AgentTypeRecon)
	addStoppedNode(c, first)
	addStoppedNode(c, second)

	require.NoError(t, c.Dispatch(context.Background(), pendingTask(scanning.AgentTypeRecon)))

	assert.Equal(t, int64(1), first.CurrentLoad(), "equal loads resolve to the earliest member")
	assert.Equal(t, int64(0), second.CurrentLoad())
}

func TestDispatchFailsWithNoEligibleNode(t *testing.T) {
	t.Parallel()

	c, _ := newTestCoordinator(t, newRegistry(t, scanning.AgentTypeRecon))

	err := c.Dispatch(context.Background(), pendingTask(scanning.AgentTypeRecon))
	assert.ErrorIs(t, err, scanning.ErrNoEligibleNode)
}

func TestDispatchSkipsUnhealthyAndFullNodes(t *testing.T) {
	t.Parallel()

	c, _ := newTestCoordinator(t, newRegistry(t, scanning.AgentTypeRecon))
	sick := stoppedNode(t, "node-0", 4, scanning.AgentTypeRecon)
	sick.healthy.Store(false)
	full := stoppedNode(t, "node-1", 1, scanning.AgentTypeRecon)
	require.True(t, full.Accept(pendingTask(scanning.AgentTypeRecon)))
	spare := stoppedNode(t, "node-2", 4, scanning.AgentTypeRecon)
	addStoppedNode(c, sick)
	addStoppedNode(c, full)
	addStoppedNode(c, spare)

	require.NoError(t, c.Dispatch(context.Background(), pendingTask(scanning.AgentTypeRecon)))

	assert.Equal(t, int64(0), sick.CurrentLoad())
	assert.Equal(t, int64(1), spare.CurrentLoad())
}

func TestRemoveNodeReassignsStrandedTasks(t *testing.T) {
	t.Parallel()

	c, _ := newTestCoordinator(t, newRegistry(t, scanning.AgentTypeRecon))
	doomed := stoppedNode(t, "node-0", 4, scanning.AgentTypeRecon)
	survivor := stoppedNode(t, "node-1", 4, scanning.AgentTypeRecon)
	addStoppedNode(c, doomed)
	addStoppedNode(c, survivor)

	task := pendingTask(scanning.AgentTypeRecon)
	require.NoError(t, c.Dispatch(context.Background(), task))
	require.Equal(t, int64(1), doomed.CurrentLoad())

	c.RemoveNode(context.Background(), doomed.ID())

	require.Len(t, c.Nodes(), 1)
	assert.Equal(t, int64(1), survivor.CurrentLoad())
	assert.Equal(t, scanning.TaskStatusPending, task.Status())
}

func TestRemoveNodeFailsTaskPastRetryBudget(t *testing.T) {
	t.Parallel()

	c, broker := newTestCoordinator(t, newRegistry(t, scanning.AgentTypeRecon))
	c.cfg.MaxRetries = 1

	var mu sync.Mutex
	var failures []scanning.TaskResult
	require.NoError(t, broker.SubscribeResults(context.Background(), func(result scanning.TaskResult) error {
		mu.Lock()
		defer mu.Unlock()
		if !result.Success {
			failures = append(failures, result)
		}
		return nil
	}))

	node := stoppedNode(t, "node-0", 4, scanning.AgentTypeRecon)
	addStoppedNode(c, node)

	task := pendingTask(scanning.AgentTypeRecon)
	require.NoError(t, c.Dispatch(context.Background(), task))

	// Simulate the task bouncing through a prior failed node before this one
	// picks it up.
	require.NoError(t, task.Assign(uuid.New()))
	require.NoError(t, task.Requeue())
	require.NoError(t, task.Assign(node.ID()))

	c.RemoveNode(context.Background(), node.ID())

	assert.Equal(t, scanning.TaskStatusFailed, task.Status())
	mu.Lock()
	defer mu.Unlock()
	require.Len(t, failures, 1)
	assert.Equal(t, task.ID(), failures[0].TaskID)
	assert.Contains(t, failures[0].Error, "retry budget exhausted")
}

func TestHeartbeatRemovesUnhealthyNode(t *testing.T) {
	t.Parallel()

	c, broker := newTestCoordinator(t, newRegistry(t, scanning.AgentTypeRecon))
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	require.NoError(t, c.Start(ctx))

	node := c.AddNode(ctx, NodeConfig{
		Name:        "node-0",
		NodeType:    scanning.NodeTypeScanner,
		AgentsPer:   1,
		Capacity:    4,
		TaskTimeout: time.Second,
		AgentTypes:  []scanning.AgentType{scanning.AgentTypeRecon},
	})
	require.Len(t, c.Nodes(), 1)

	require.NoError(t, broker.PublishHeartbeat(ctx, memory.NodeHeartbeat{
		NodeID:  node.ID().String(),
		Healthy: false,
	}))

	waitUntil(t, 5*time.Second, func() bool { return len(c.Nodes()) == 0 })
	assert.False(t, node.Healthy())
}

func TestGetReportUnknownRun(t *testing.T) {
	t.Parallel()

	c, _ := newTestCoordinator(t, newRegistry(t))
	_, err := c.GetReport(uuid.New())
	assert.ErrorIs(t, err, scanning.ErrRunNotFound)
}

// scanStack registers a full capability set: reconnaissance surfaces one
// endpoint, the pattern hunt leaks the same credential on every target, and
// the remaining capabilities come back clean.
func scanStack(t *testing.T, secret string) *agent.CapabilityRegistry {
	t.Helper()
	registry := agent.NewCapabilityRegistry()

	require.NoError(t, registry.Register(scanning.AgentTypeRecon,
		scanning.ScanCapabilityFunc(func(ctx context.Context, task *scanning.Task) ([]scanning.Finding, error) {
			return []scanning.Finding{
				scanning.NewFinding(task.ID(), task.Target(), scanning.CategoryEndpoint, 0.9, scanning.RiskLevelLow, "/app", ""),
			}, nil
		})))
	require.NoError(t, registry.Register(scanning.AgentTypePatternHunt,
		scanning.ScanCapabilityFunc(func(ctx context.Context, task *scanning.Task) ([]scanning.Finding, error) {
			return []scanning.Finding{
				scanning.NewFinding(task.ID(), task.Target(), scanning.CategoryCredential, 0.95,
					scanning.RiskLevelCritical, "leaked api key", correlation.Fingerprint(secret)),
			}, nil
		})))
	for _, at := range []scanning.AgentType{
		scanning.AgentTypeStealthScan, scanning.AgentTypeWebCrawl,
		scanning.AgentTypeDeepExplore, scanning.AgentTypeAnalyze,
	} {
		require.NoError(t, registry.Register(at, noopCapability()))
	}
	return registry
}

func allAgentTypes() []scanning.AgentType {
	return []scanning.AgentType{
		scanning.AgentTypeRecon, scanning.AgentTypePatternHunt, scanning.AgentTypeStealthScan,
		scanning.AgentTypeWebCrawl, scanning.AgentTypeDeepExplore, scanning.AgentTypeAnalyze,
	}
}

func awaitReport(t *testing.T, c *Coordinator, runID uuid.UUID) scanning.RiskReport {
	t.Helper()
	var report scanning.RiskReport
	waitUntil(t, 30*time.Second, func() bool {
		r, err := c.GetReport(runID)
		if err != nil {
			return false
		}
		report = r
		return true
	})
	return report
}

func TestSubmitSingleTargetProducesReport(t *testing.T) {
	t.Parallel()

	c, _ := newTestCoordinator(t, scanStack(t, "solo-secret"))
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	require.NoError(t, c.Start(ctx))
	c.AddNode(ctx, NodeConfig{
		Name:        "node-0",
		NodeType:    scanning.NodeTypeScanner,
		AgentsPer:   4,
		Capacity:    32,
		TaskTimeout: 2 * time.Second,
		AgentTypes:  allAgentTypes(),
	})

	runID, err := c.SubmitSingleTarget(ctx, "solo.test", 1)
	require.NoError(t, err)

	report := awaitReport(t, c, runID)

	assert.Equal(t, "solo.test", report.Target)
	assert.False(t, report.Partial)
	assert.Greater(t, report.Score, 0.0)
	assert.NotEmpty(t, report.FindingsSummary)
	assert.Empty(t, report.Correlations, "one credential on one target correlates with nothing")
}

func TestSubmitSwarmCorrelatesAcrossTargets(t *testing.T) {
	t.Parallel()

	c, _ := newTestCoordinator(t, scanStack(t, "shared-secret"))
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	require.NoError(t, c.Start(ctx))
	for _, name := range []string{"node-0", "node-1"} {
		c.AddNode(ctx, NodeConfig{
			Name:        name,
			NodeType:    scanning.NodeTypeScanner,
			AgentsPer:   4,
			Capacity:    32,
			TaskTimeout: 2 * time.Second,
			AgentTypes:  allAgentTypes(),
		})
	}

	targets := []string{"alpha.test", "beta.test"}
	runID, err := c.SubmitSwarm(ctx, targets, 1)
	require.NoError(t, err)

	report := awaitReport(t, c, runID)

	assert.Equal(t, strings.Join(targets, ","), report.Target)
	assert.False(t, report.Partial)
	assert.GreaterOrEqual(t, len(report.FindingsSummary), 4, "endpoint and credential per target")

	require.NotEmpty(t, report.Correlations, "the shared credential must correlate")
	crossTarget := false
	for _, corr := range report.Correlations {
		if corr.IsCrossTarget {
			crossTarget = true
			assert.ElementsMatch(t, targets, corr.AffectedTargets)
		}
	}
	assert.True(t, crossTarget)

	found := false
	for _, rec := range report.Recommendations {
		if strings.Contains(rec, "shared infrastructure") {
			found = true
		}
	}
	assert.True(t, found, "cross-target correlation adds the shared-infrastructure recommendation")
}

// TestCompletedRunLeavesFanoutAndRegistry pins down the lifecycle of a
// finished run: its orchestrator drops out of the result fanout once the
// pipeline reaches a terminal phase, and retrieving the report evicts the run
// so the registry does not grow without bound.
func TestCompletedRunLeavesFanoutAndRegistry(t *testing.T) {
	t.Parallel()

	c, _ := newTestCoordinator(t, scanStack(t, "evict-secret"))
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	require.NoError(t, c.Start(ctx))
	c.AddNode(ctx, NodeConfig{
		Name:        "node-0",
		NodeType:    scanning.NodeTypeScanner,
		AgentsPer:   4,
		Capacity:    32,
		TaskTimeout: 2 * time.Second,
		AgentTypes:  allAgentTypes(),
	})

	runID, err := c.SubmitSingleTarget(ctx, "evict.test", 1)
	require.NoError(t, err)

	c.mu.RLock()
	r := c.runs[runID]
	c.mu.RUnlock()
	require.NotNil(t, r)

	waitUntil(t, 30*time.Second, func() bool {
		r.mu.Lock()
		defer r.mu.Unlock()
		return r.report != nil
	})

	assert.Empty(t, c.activeOrchestrators(), "finished orchestrators stay out of the result fanout")

	_, err = c.GetReport(runID)
	require.NoError(t, err)

	c.mu.RLock()
	_, still := c.runs[runID]
	c.mu.RUnlock()
	assert.False(t, still, "delivered run must leave the registry")

	_, err = c.GetReport(runID)
	assert.ErrorIs(t, err, scanning.ErrRunNotFound)
}

func TestSubmitSwarmRejectsEmptyTargets(t *testing.T) {
	t.Parallel()

	c, _ := newTestCoordinator(t, newRegistry(t))
	_, err := c.SubmitSwarm(context.Background(), nil, 1)
	assert.Error(t, err)

	_, err = c.SubmitSingleTarget(context.Background(), "  ", 1)
	assert.Error(t, err)
}
