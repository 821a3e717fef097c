package agent

import (
	"context"
	"sync"
	"time"

	"github.com/google/uuid"
	"go.opentelemetry.io/otel/trace"

	"github.com/ahrav/threatswarm/internal/domain/scanning"
	"github.com/ahrav/threatswarm/internal/infra/queue"
	"github.com/ahrav/threatswarm/pkg/common/logger"
)

// defaultPollBound is the bounded wait applied per agent type when a worker
// polls the queue. Workers cycle through their served types, so the bound
// also caps how stale a worker's view of the other types can get.
const defaultPollBound = 25 * time.Millisecond

// Pool is a bounded set of agents draining a task queue concurrently. Every
// TaskResult is forwarded to the configured sink; agents never touch shared
// aggregation state themselves.
type Pool struct {
	nodeID     uuid.UUID
	queue      *queue.Queue
	agents     []*Agent
	agentTypes []scanning.AgentType
	sink       scanning.ResultSink
	pollBound  time.Duration

	// onTerminal, when set, runs after a task reaches a terminal status.
	// The owning node uses it for load accounting.
	onTerminal func(task *scanning.Task)

	stopCh   chan struct{}
	stopOnce sync.Once
	workerWg sync.WaitGroup

	logger  *logger.Logger
	tracer  trace.Tracer
	metrics Metrics
}

// PoolOption defines functional options for configuring a Pool.
type PoolOption func(*Pool)

// WithPollBound overrides the bounded wait used when polling the queue.
func WithPollBound(d time.Duration) PoolOption {
	return func(p *Pool) { p.pollBound = d }
}

// WithTerminalHook registers a hook invoked after each task reaches a
// terminal status.
func WithTerminalHook(hook func(task *scanning.Task)) PoolOption {
	return func(p *Pool) { p.onTerminal = hook }
}

// WithNodeID attributes dequeued tasks to the given node. Single-target
// pools leave it unset and tasks carry uuid.Nil.
func WithNodeID(nodeID uuid.UUID) PoolOption {
	return func(p *Pool) { p.nodeID = nodeID }
}

// NewPool creates a pool of size agents sharing the registry, draining q and
// forwarding results to sink. The served agent types default to every type
// with a registered capability.
func NewPool(
	size int,
	registry *CapabilityRegistry,
	q *queue.Queue,
	sink scanning.ResultSink,
	taskTimeout time.Duration,
	log *logger.Logger,
	tracer trace.Tracer,
	metrics Metrics,
	opts ...PoolOption,
) *Pool {
	p := &Pool{
		queue:      q,
		agentTypes: registry.Types(),
		sink:       sink,
		pollBound:  defaultPollBound,
		stopCh:     make(chan struct{}),
		logger:     log.With("component", "agent_pool"),
		tracer:     tracer,
		metrics:    metrics,
	}
	for _, opt := range opts {
		opt(p)
	}

	p.agents = make([]*Agent, 0, size)
	for i := 0; i < size; i++ {
		p.agents = append(p.agents, NewAgent(registry, taskTimeout, log, tracer, metrics))
	}
	return p
}

// ServeTypes restricts the pool to the given agent types. Used by nodes whose
// type implies a subset of the registry.
func (p *Pool) ServeTypes(types []scanning.AgentType) { p.agentTypes = types }

// AgentIDs returns the identifiers of the pooled agents.
func (p *Pool) AgentIDs() []uuid.UUID {
	ids := make([]uuid.UUID, len(p.agents))
	for i, a := range p.agents {
		ids[i] = a.ID()
	}
	return ids
}

// Run starts one worker goroutine per agent and blocks until ctx is
// cancelled or Stop is called, then waits for workers to finish their
// in-flight tasks.
func (p *Pool) Run(ctx context.Context) {
	p.logger.Info(ctx, "starting agent pool", "workers", len(p.agents), "agent_types", len(p.agentTypes))

	p.workerWg.Add(len(p.agents))
	for _, a := range p.agents {
		go func(a *Agent) {
			defer p.workerWg.Done()
			p.worker(ctx, a)
		}(a)
	}

	select {
	case <-ctx.Done():
	case <-p.stopCh:
	}
	p.workerWg.Wait()
}

// Start runs the pool on its own goroutine and returns immediately.
func (p *Pool) Start(ctx context.Context) {
	go p.Run(ctx)
}

// Stop signals workers to finish their current task and exit.
func (p *Pool) Stop() {
	p.stopOnce.Do(func() { close(p.stopCh) })
}

// worker cycles through the pool's served agent types, executing whatever
// the queue hands out. No ordering is guaranteed between tasks of a phase;
// DequeueWait's bound doubles as the idle backoff when every type is empty.
func (p *Pool) worker(ctx context.Context, a *Agent) {
	for {
		select {
		case <-ctx.Done():
			return
		case <-p.stopCh:
			return
		default:
		}

		for _, at := range p.agentTypes {
			task, ok := p.queue.DequeueWait(ctx, at, p.nodeID, p.pollBound)
			if !ok {
				continue
			}
			p.metrics.IncTasksDequeued(ctx, at)

			result := a.Execute(ctx, task)
			if p.onTerminal != nil && task.IsTerminal() {
				p.onTerminal(task)
			}
			if err := p.sink.Consume(ctx, result); err != nil {
				p.logger.Error(ctx, "failed to forward task result",
					"task_id", result.TaskID, "error", err)
			}
		}
	}
}
