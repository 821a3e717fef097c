package swarm

import (
	"context"
	"io"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.opentelemetry.io/otel/trace"
	"go.opentelemetry.io/otel/trace/noop"

	"github.com/ahrav/threatswarm/internal/app/agent"
	"github.com/ahrav/threatswarm/internal/domain/scanning"
	"github.com/ahrav/threatswarm/pkg/common/logger"
)

func testLogger() *logger.Logger {
	return logger.New(io.Discard, logger.LevelDebug, "test", nil)
}

func testTracer() trace.Tracer {
	return noop.NewTracerProvider().Tracer("test")
}

func noopCapability() scanning.ScanCapabilityFunc {
	return func(ctx context.Context, task *scanning.Task) ([]scanning.Finding, error) {
		return nil, nil
	}
}

func newRegistry(t *testing.T, types ...scanning.AgentType) *agent.CapabilityRegistry {
	t.Helper()
	registry := agent.NewCapabilityRegistry()
	for _, at := range types {
		require.NoError(t, registry.Register(at, noopCapability()))
	}
	return registry
}

// discardSink drops results; for tests that never start the node's pool.
type discardSink struct{}

func (discardSink) Consume(context.Context, scanning.TaskResult) error { return nil }

// countingSink counts consumed results.
type countingSink struct{ n atomic.Int64 }

func (s *countingSink) Consume(context.Context, scanning.TaskResult) error {
	s.n.Add(1)
	return nil
}

func pendingTask(agentType scanning.AgentType) *scanning.Task {
	return scanning.NewTask(uuid.New(), "example.com", agentType, scanning.PhaseReconnaissance, 1, nil)
}

func waitUntil(t *testing.T, timeout time.Duration, cond func() bool) {
	t.Helper()
	deadline := time.Now().Add(timeout)
	for time.Now().Before(deadline) {
		if cond() {
			return
		}
		time.Sleep(5 * time.Millisecond)
	}
	t.Fatal("condition not met before timeout")
}

// stoppedNode builds a node whose pool is never started, so accepted tasks
// stay queued and the load counter is stable for assertions.
func stoppedNode(t *testing.T, name string, capacity int64, types ...scanning.AgentType) *Node {
	t.Helper()
	return NewNode(NodeConfig{
		Name:        name,
		NodeType:    scanning.NodeTypeScanner,
		AgentsPer:   1,
		Capacity:    capacity,
		TaskTimeout: time.Second,
		AgentTypes:  types,
	}, newRegistry(t, types...), discardSink{}, testLogger(), testTracer(), agent.NoopMetrics{})
}

func TestNodeAcceptEnforcesCapacity(t *testing.T) {
	t.Parallel()

	n := stoppedNode(t, "node-0", 2, scanning.AgentTypeRecon)

	assert.True(t, n.Accept(pendingTask(scanning.AgentTypeRecon)))
	assert.True(t, n.Accept(pendingTask(scanning.AgentTypeRecon)))
	assert.False(t, n.Accept(pendingTask(scanning.AgentTypeRecon)), "third accept exceeds capacity")
	assert.Equal(t, int64(2), n.CurrentLoad())
}

func TestNodeRejectsUnservedAgentTypes(t *testing.T) {
	t.Parallel()

	n := stoppedNode(t, "node-0", 4, scanning.AgentTypeRecon)

	assert.False(t, n.Accept(pendingTask(scanning.AgentTypeAnalyze)))
	assert.Equal(t, int64(0), n.CurrentLoad(), "rejected task must not consume a slot")
}

func TestNodeAcceptIsExactUnderContention(t *testing.T) {
	t.Parallel()

	const capacity = 10
	n := stoppedNode(t, "node-0", capacity, scanning.AgentTypeRecon)

	var accepted atomic.Int64
	var wg sync.WaitGroup
	for i := 0; i < 50; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			if n.Accept(pendingTask(scanning.AgentTypeRecon)) {
				accepted.Add(1)
			}
		}()
	}
	wg.Wait()

	assert.Equal(t, int64(capacity), accepted.Load())
	assert.Equal(t, int64(capacity), n.CurrentLoad())
}

func TestNodeShutdownReturnsStrandedTasks(t *testing.T) {
	t.Parallel()

	n := stoppedNode(t, "node-0", 4, scanning.AgentTypeRecon)
	first := pendingTask(scanning.AgentTypeRecon)
	second := pendingTask(scanning.AgentTypeRecon)
	require.True(t, n.Accept(first))
	require.True(t, n.Accept(second))

	stranded := n.Shutdown()

	require.Len(t, stranded, 2)
	assert.Equal(t, int64(0), n.CurrentLoad())
	assert.False(t, n.Healthy())
	assert.False(t, n.Accept(pendingTask(scanning.AgentTypeRecon)), "a shut-down node accepts nothing")
}

func TestNodeShutdownExcludesTerminalTasks(t *testing.T) {
	t.Parallel()

	n := stoppedNode(t, "node-0", 4, scanning.AgentTypeRecon)
	done := pendingTask(scanning.AgentTypeRecon)
	live := pendingTask(scanning.AgentTypeRecon)
	require.True(t, n.Accept(done))
	require.True(t, n.Accept(live))

	require.NoError(t, done.Assign(n.ID()))
	require.NoError(t, done.Start())
	require.NoError(t, done.Complete())

	stranded := n.Shutdown()

	require.Len(t, stranded, 1)
	assert.Equal(t, live.ID(), stranded[0].ID())
}

// TestNodeReleasesSlotForTaskAbandonedWhileQueued covers the phase-timeout
// case: a task marked TimedOut before any agent picks it up is dropped at
// dequeue, and the slot it held must come back so the node does not fill up
// with phantom load.
func TestNodeReleasesSlotForTaskAbandonedWhileQueued(t *testing.T) {
	t.Parallel()

	n := stoppedNode(t, "node-0", 1, scanning.AgentTypeRecon)

	abandoned := pendingTask(scanning.AgentTypeRecon)
	require.True(t, n.Accept(abandoned))
	require.Equal(t, int64(1), n.CurrentLoad())

	// Abandoned at a phase deadline while still queued.
	require.NoError(t, abandoned.TimeOut())

	_, ok := n.queue.Dequeue(scanning.AgentTypeRecon, n.ID())
	assert.False(t, ok, "a terminal task must never reach an agent")
	assert.Equal(t, int64(0), n.CurrentLoad(), "abandoned task must not hold its slot")
	assert.True(t, n.Accept(pendingTask(scanning.AgentTypeRecon)), "freed slot accepts new work")
}

func TestNodeReleasesSlotWhenTaskFinishes(t *testing.T) {
	t.Parallel()

	registry := newRegistry(t, scanning.AgentTypeRecon)
	sink := &countingSink{}
	n := NewNode(NodeConfig{
		Name:        "node-0",
		NodeType:    scanning.NodeTypeScanner,
		AgentsPer:   2,
		Capacity:    8,
		TaskTimeout: time.Second,
		AgentTypes:  []scanning.AgentType{scanning.AgentTypeRecon},
	}, registry, sink, testLogger(), testTracer(), agent.NoopMetrics{})

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	n.Start(ctx)
	defer n.Shutdown()

	task := pendingTask(scanning.AgentTypeRecon)
	require.True(t, n.Accept(task))

	waitUntil(t, 5*time.Second, func() bool {
		return sink.n.Load() == 1 && n.CurrentLoad() == 0
	})
	assert.Equal(t, scanning.TaskStatusCompleted, task.Status())
}
