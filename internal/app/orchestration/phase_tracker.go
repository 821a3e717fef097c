package orchestration

import (
	"sync"

	"github.com/google/uuid"

	"github.com/ahrav/threatswarm/internal/domain/scanning"
)

// phaseTracker is the counting barrier for one phase: it resolves exactly
// once per dispatched task and closes its done channel when the last task's
// result arrives. The orchestrator waits on done with a timeout escape
// hatch.
type phaseTracker struct {
	mu      sync.Mutex
	pending map[uuid.UUID]*scanning.Task
	doneCh  chan struct{}
	closed  bool
}

func newPhaseTracker(tasks []*scanning.Task) *phaseTracker {
	pending := make(map[uuid.UUID]*scanning.Task, len(tasks))
	for _, t := range tasks {
		pending[t.ID()] = t
	}
	return &phaseTracker{
		pending: pending,
		doneCh:  make(chan struct{}),
	}
}

// done returns the channel closed once every tracked task has resolved.
func (p *phaseTracker) done() <-chan struct{} { return p.doneCh }

// unresolved returns the number of tasks still awaiting a result.
func (p *phaseTracker) unresolved() int {
	p.mu.Lock()
	defer p.mu.Unlock()
	return len(p.pending)
}

// resolve marks the result's task as finished. It reports false for tasks
// this tracker is not waiting on, including duplicate deliveries and late
// results after abandon.
func (p *phaseTracker) resolve(result scanning.TaskResult) bool {
	p.mu.Lock()
	defer p.mu.Unlock()

	if _, ok := p.pending[result.TaskID]; !ok {
		return false
	}
	delete(p.pending, result.TaskID)
	if len(p.pending) == 0 && !p.closed {
		p.closed = true
		close(p.doneCh)
	}
	return true
}

// abandon gives up on the remaining tasks at a phase timeout. Unfinished
// tasks are marked TimedOut for bookkeeping; they are not forcibly killed
// and their eventual results are dropped.
func (p *phaseTracker) abandon() {
	p.mu.Lock()
	defer p.mu.Unlock()

	for id, task := range p.pending {
		if !task.Status().IsTerminal() {
			_ = task.TimeOut()
		}
		delete(p.pending, id)
	}
	if !p.closed {
		p.closed = true
		close(p.doneCh)
	}
}
