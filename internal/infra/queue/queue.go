// Package queue provides the in-memory, priority-aware task queue shared by
// agent pools. It is the single point where Pending tasks become Assigned,
// which is what makes assignment exactly-once under concurrent consumers.
package queue

import (
	"container/heap"
	"context"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/ahrav/threatswarm/internal/domain/scanning"
)

// drainPollInterval bounds how often Drain re-checks queue emptiness.
const drainPollInterval = 10 * time.Millisecond

// Queue is an ordered, priority-aware queue of tasks keyed by agent type.
// It is safe for any number of concurrent producers and consumers.
type Queue struct {
	mu     sync.Mutex
	heaps  map[scanning.AgentType]*taskHeap
	notify map[scanning.AgentType]chan struct{}
	size   int
	closed bool

	// done is closed exactly once on Close. The notify channels are never
	// closed, so a producer's post-unlock wakeup send can never panic
	// against a concurrent Close.
	done chan struct{}

	// discard, when set, receives tasks dropped at dequeue because they
	// reached a terminal status while still queued.
	discard func(*scanning.Task)
}

// New creates an empty Queue with a sub-queue per agent type.
func New() *Queue {
	q := &Queue{
		heaps:  make(map[scanning.AgentType]*taskHeap),
		notify: make(map[scanning.AgentType]chan struct{}),
		done:   make(chan struct{}),
	}
	for _, at := range scanning.AgentTypes() {
		h := &taskHeap{}
		heap.Init(h)
		q.heaps[at] = h
		q.notify[at] = make(chan struct{}, 1)
	}
	return q
}

// Enqueue adds a Pending task. It never blocks. After Close it fails with
// scanning.ErrQueueClosed.
func (q *Queue) Enqueue(task *scanning.Task) error {
	q.mu.Lock()
	if q.closed {
		q.mu.Unlock()
		return scanning.ErrQueueClosed
	}
	h := q.heaps[task.AgentType()]
	heap.Push(h, task)
	q.size++
	notify := q.notify[task.AgentType()]
	q.mu.Unlock()

	// Best-effort wakeup; waiters re-check on their own bound anyway.
	select {
	case notify <- struct{}{}:
	default:
	}
	return nil
}

// SetDiscardHook registers a callback invoked for tasks dropped at dequeue
// because they reached a terminal status while still queued. The owning node
// uses it to reclaim the capacity such tasks hold.
func (q *Queue) SetDiscardHook(hook func(*scanning.Task)) {
	q.mu.Lock()
	defer q.mu.Unlock()
	q.discard = hook
}

// Dequeue returns the highest-priority task for the agent type, FIFO among
// equal priorities, atomically transitioning it to Assigned before returning.
// It reports false when no task matches or the queue is closed.
func (q *Queue) Dequeue(agentType scanning.AgentType, nodeID uuid.UUID) (*scanning.Task, bool) {
	var out *scanning.Task
	var discarded []*scanning.Task

	q.mu.Lock()
	if q.closed {
		q.mu.Unlock()
		return nil, false
	}
	h := q.heaps[agentType]
	for h.Len() > 0 {
		task := heap.Pop(h).(*scanning.Task)
		q.size--
		// Tasks abandoned at a phase timeout may already be terminal; never
		// hand dead work to an agent, but report it so held capacity is
		// released.
		if err := task.Assign(nodeID); err != nil {
			if task.IsTerminal() {
				discarded = append(discarded, task)
			}
			continue
		}
		out = task
		break
	}
	hook := q.discard
	q.mu.Unlock()

	if hook != nil {
		for _, task := range discarded {
			hook(task)
		}
	}
	return out, out != nil
}

// DequeueWait behaves like Dequeue but waits up to bound for a matching task
// to arrive. It returns early when ctx is cancelled or the queue closes.
func (q *Queue) DequeueWait(ctx context.Context, agentType scanning.AgentType, nodeID uuid.UUID, bound time.Duration) (*scanning.Task, bool) {
	if task, ok := q.Dequeue(agentType, nodeID); ok {
		return task, true
	}

	q.mu.Lock()
	notify := q.notify[agentType]
	q.mu.Unlock()

	timer := time.NewTimer(bound)
	defer timer.Stop()

	for {
		select {
		case <-ctx.Done():
			return nil, false
		case <-timer.C:
			return nil, false
		case <-q.done:
			return nil, false
		case <-notify:
			if task, ok := q.Dequeue(agentType, nodeID); ok {
				return task, true
			}
		}
	}
}

// Size returns the number of queued tasks across all agent types.
func (q *Queue) Size() int {
	q.mu.Lock()
	defer q.mu.Unlock()
	return q.size
}

// Drain blocks until the queue is empty or ctx is cancelled. It reports
// whether the queue fully drained.
func (q *Queue) Drain(ctx context.Context) bool {
	ticker := time.NewTicker(drainPollInterval)
	defer ticker.Stop()

	for {
		if q.Size() == 0 {
			return true
		}
		select {
		case <-ctx.Done():
			return q.Size() == 0
		case <-ticker.C:
		}
	}
}

// Close marks the queue as shutting down. Subsequent Enqueue calls fail with
// scanning.ErrQueueClosed and Dequeue returns empty permanently. Safe to call
// while producers are mid-Enqueue.
func (q *Queue) Close() {
	q.mu.Lock()
	defer q.mu.Unlock()
	if q.closed {
		return
	}
	q.closed = true
	close(q.done)
}

// taskHeap orders tasks by priority descending, then creation sequence
// ascending (FIFO among equals).
type taskHeap []*scanning.Task

func (h taskHeap) Len() int { return len(h) }

func (h taskHeap) Less(i, j int) bool {
	if h[i].Priority() != h[j].Priority() {
		return h[i].Priority() > h[j].Priority()
	}
	return h[i].Seq() < h[j].Seq()
}

func (h taskHeap) Swap(i, j int) { h[i], h[j] = h[j], h[i] }

func (h *taskHeap) Push(x any) { *h = append(*h, x.(*scanning.Task)) }

func (h *taskHeap) Pop() any {
	old := *h
	n := len(old)
	task := old[n-1]
	old[n-1] = nil
	*h = old[:n-1]
	return task
}
