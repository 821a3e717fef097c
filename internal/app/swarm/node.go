// Package swarm manages multiple nodes and multiple targets concurrently:
// task-to-node assignment, load balancing, node failure recovery and the
// swarm-wide report produced once every target finishes.
package swarm

import (
	"context"
	"sync"
	"sync/atomic"
	"time"

	"github.com/google/uuid"
	"go.opentelemetry.io/otel/trace"

	"github.com/ahrav/threatswarm/internal/app/agent"
	"github.com/ahrav/threatswarm/internal/domain/scanning"
	"github.com/ahrav/threatswarm/internal/infra/queue"
	"github.com/ahrav/threatswarm/pkg/common/logger"
)

// Node is a capacity-bounded group of agents; the unit of horizontal
// scaling. Each node owns its task queue and agent pool. The load counter
// is updated with atomic increments only, never read-then-write, so burst
// assignment cannot lose updates.
type Node struct {
	id       uuid.UUID
	name     string
	nodeType scanning.NodeType
	serves   map[scanning.AgentType]struct{}
	capacity int64

	load    atomic.Int64
	healthy atomic.Bool

	queue *queue.Queue
	pool  *agent.Pool

	// held tracks tasks accepted but not yet terminal so a failed node's
	// work can be requeued elsewhere.
	heldMu sync.Mutex
	held   map[uuid.UUID]*scanning.Task

	logger *logger.Logger
}

// NodeConfig carries the knobs for constructing a node.
type NodeConfig struct {
	Name        string
	NodeType    scanning.NodeType
	AgentsPer   int
	Capacity    int64
	TaskTimeout time.Duration

	// AgentTypes overrides the node type's default served set when non-empty.
	AgentTypes []scanning.AgentType
}

// NewNode creates a healthy node with its own queue and agent pool. Results
// flow to sink; the pool's terminal hook keeps the load counter honest.
func NewNode(
	cfg NodeConfig,
	registry *agent.CapabilityRegistry,
	sink scanning.ResultSink,
	log *logger.Logger,
	tracer trace.Tracer,
	metrics agent.Metrics,
) *Node {
	id := uuid.New()

	served := cfg.AgentTypes
	if len(served) == 0 {
		served = cfg.NodeType.DefaultAgentTypes()
	}
	servedSet := make(map[scanning.AgentType]struct{}, len(served))
	for _, at := range served {
		servedSet[at] = struct{}{}
	}

	n := &Node{
		id:       id,
		name:     cfg.Name,
		nodeType: cfg.NodeType,
		serves:   servedSet,
		capacity: cfg.Capacity,
		queue:    queue.New(),
		held:     make(map[uuid.UUID]*scanning.Task),
		logger:   log.With("component", "node", "node_id", id.String(), "node_name", cfg.Name),
	}
	n.healthy.Store(true)
	// Tasks that turn terminal while still queued never reach an agent, so
	// the queue's discard path must release their capacity too.
	n.queue.SetDiscardHook(n.release)

	n.pool = agent.NewPool(
		cfg.AgentsPer,
		registry,
		n.queue,
		sink,
		cfg.TaskTimeout,
		log,
		tracer,
		metrics,
		agent.WithNodeID(id),
		agent.WithTerminalHook(n.release),
	)
	n.pool.ServeTypes(served)

	return n
}

// ID returns the node's unique identifier.
func (n *Node) ID() uuid.UUID { return n.id }

// Name returns the node's configured name.
func (n *Node) Name() string { return n.name }

// NodeType returns the node's placement hint.
func (n *Node) NodeType() scanning.NodeType { return n.nodeType }

// AgentIDs returns the identifiers of the node's pooled agents.
func (n *Node) AgentIDs() []uuid.UUID { return n.pool.AgentIDs() }

// Serves reports whether the node runs agents of the given type.
func (n *Node) Serves(agentType scanning.AgentType) bool {
	_, ok := n.serves[agentType]
	return ok
}

// CurrentLoad returns the count of accepted, non-terminal tasks on this node.
func (n *Node) CurrentLoad() int64 { return n.load.Load() }

// Capacity returns the maximum concurrent tasks this node accepts.
func (n *Node) Capacity() int64 { return n.capacity }

// Healthy reports whether the node participates in assignment.
func (n *Node) Healthy() bool { return n.healthy.Load() }

// Accept takes ownership of a task if the node is healthy, serves its agent
// type and has spare capacity. The load counter is incremented before
// enqueueing completes so concurrent assignment sweeps observe the claim
// immediately; there is no separate commit step to race against.
func (n *Node) Accept(task *scanning.Task) bool {
	if !n.healthy.Load() || !n.Serves(task.AgentType()) {
		return false
	}

	if n.load.Add(1) > n.capacity {
		n.load.Add(-1)
		return false
	}

	n.heldMu.Lock()
	n.held[task.ID()] = task
	n.heldMu.Unlock()

	if err := n.queue.Enqueue(task); err != nil {
		n.release(task)
		return false
	}
	return true
}

// release is the pool's terminal hook: it drops the task from the held set
// and returns its capacity slot.
func (n *Node) release(task *scanning.Task) {
	n.heldMu.Lock()
	if _, ok := n.held[task.ID()]; !ok {
		n.heldMu.Unlock()
		return
	}
	delete(n.held, task.ID())
	n.heldMu.Unlock()
	n.load.Add(-1)
}

// Start launches the node's agent pool.
func (n *Node) Start(ctx context.Context) { n.pool.Start(ctx) }

// Shutdown marks the node unhealthy, stops its pool and closes its queue,
// returning every held non-terminal task for reassignment elsewhere.
func (n *Node) Shutdown() []*scanning.Task {
	n.healthy.Store(false)
	n.queue.Close()
	n.pool.Stop()

	n.heldMu.Lock()
	defer n.heldMu.Unlock()

	stranded := make([]*scanning.Task, 0, len(n.held))
	for id, task := range n.held {
		if !task.Status().IsTerminal() {
			stranded = append(stranded, task)
		}
		delete(n.held, id)
		n.load.Add(-1)
	}
	return stranded
}
