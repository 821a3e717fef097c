package orchestration

import (
	"context"
	"errors"
	"io"
	"sync"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.opentelemetry.io/otel/trace"
	"go.opentelemetry.io/otel/trace/noop"

	"github.com/ahrav/threatswarm/internal/app/risk"
	"github.com/ahrav/threatswarm/internal/domain/scanning"
	"github.com/ahrav/threatswarm/pkg/common/logger"
)

func testLogger() *logger.Logger {
	return logger.New(io.Discard, logger.LevelDebug, "test", nil)
}

func testTracer() trace.Tracer {
	return noop.NewTracerProvider().Tracer("test")
}

func testConfig() Config {
	return Config{
		PhaseTimeout:     2 * time.Second,
		Depth:            1,
		ReconPriority:    10,
		ScanPriority:     5,
		AnalysisPriority: 5,
	}
}

// scriptedDispatcher executes tasks inline: each dispatched task runs its
// scripted handler and the result is fed straight back to the orchestrator.
// It records dispatch order for phase-ordering assertions.
type scriptedDispatcher struct {
	orchestrator *Orchestrator
	handlers     map[scanning.AgentType]func(task *scanning.Task) scanning.TaskResult

	mu         sync.Mutex
	dispatched []*scanning.Task
}

func (d *scriptedDispatcher) Dispatch(ctx context.Context, task *scanning.Task) error {
	d.mu.Lock()
	d.dispatched = append(d.dispatched, task)
	d.mu.Unlock()

	handler, ok := d.handlers[task.AgentType()]
	if !ok {
		// Scripted to never respond; the phase timeout covers it.
		_ = task.Assign(uuid.Nil)
		return nil
	}
	return d.orchestrator.Consume(ctx, handler(task))
}

func (d *scriptedDispatcher) order() []*scanning.Task {
	d.mu.Lock()
	defer d.mu.Unlock()
	out := make([]*scanning.Task, len(d.dispatched))
	copy(out, d.dispatched)
	return out
}

// complete runs the task to Completed and returns a success result with the
// given findings.
func complete(task *scanning.Task, findings ...scanning.Finding) scanning.TaskResult {
	_ = task.Assign(uuid.Nil)
	_ = task.Start()
	_ = task.Complete()
	return scanning.NewTaskResult(task.ID(), uuid.New(), findings, time.Millisecond)
}

func fail(task *scanning.Task, reason string) scanning.TaskResult {
	_ = task.Assign(uuid.Nil)
	_ = task.Start()
	_ = task.Fail()
	return scanning.NewFailedTaskResult(task.ID(), uuid.New(), reason, time.Millisecond)
}

func endpointFinding(task *scanning.Task, path string) scanning.Finding {
	return scanning.NewFinding(task.ID(), task.Target(), scanning.CategoryEndpoint, 0.8, scanning.RiskLevelLow, path, "")
}

func credentialFinding(task *scanning.Task) scanning.Finding {
	return scanning.NewFinding(task.ID(), task.Target(), scanning.CategoryCredential, 1.0, scanning.RiskLevelCritical, "leaked key", "fp")
}

func newTestOrchestrator(t *testing.T, handlers map[scanning.AgentType]func(*scanning.Task) scanning.TaskResult) (*Orchestrator, *scriptedDispatcher) {
	t.Helper()
	d := &scriptedDispatcher{handlers: handlers}
	o := NewOrchestrator(
		uuid.New(), "test.local", testConfig(), d,
		risk.NewScorer(risk.DefaultWeights()),
		testLogger(), testTracer(), NoopMetrics{},
	)
	d.orchestrator = o
	return o, d
}

func TestRunHappyPath(t *testing.T) {
	t.Parallel()

	handlers := map[scanning.AgentType]func(*scanning.Task) scanning.TaskResult{
		scanning.AgentTypeRecon: func(task *scanning.Task) scanning.TaskResult {
			return complete(task, endpointFinding(task, "/api"))
		},
		scanning.AgentTypePatternHunt: func(task *scanning.Task) scanning.TaskResult {
			return complete(task, credentialFinding(task))
		},
		scanning.AgentTypeStealthScan: func(task *scanning.Task) scanning.TaskResult {
			return complete(task)
		},
		scanning.AgentTypeWebCrawl: func(task *scanning.Task) scanning.TaskResult {
			return complete(task, endpointFinding(task, "/api/v2"))
		},
		scanning.AgentTypeDeepExplore: func(task *scanning.Task) scanning.TaskResult {
			return complete(task)
		},
		scanning.AgentTypeAnalyze: func(task *scanning.Task) scanning.TaskResult {
			return complete(task)
		},
	}

	o, d := newTestOrchestrator(t, handlers)

	_, err := o.Report()
	assert.ErrorIs(t, err, scanning.ErrReportPending)

	report, err := o.Run(context.Background())
	require.NoError(t, err)

	assert.Equal(t, scanning.PhaseDone, o.Phase())
	assert.False(t, report.Partial)
	assert.Empty(t, report.Gaps)
	assert.NotEmpty(t, report.FindingsSummary)
	assert.Greater(t, report.Score, 0.0)

	stored, err := o.Report()
	require.NoError(t, err)
	assert.Equal(t, report.RunID, stored.RunID)

	// Tasks dispatch strictly phase by phase: reconnaissance, then the
	// parallel scan, then deep analysis.
	var phases []scanning.Phase
	for _, task := range d.order() {
		phases = append(phases, task.Phase())
	}
	lastIdx := map[scanning.Phase]int{}
	for i, p := range phases {
		lastIdx[p] = i
	}
	firstIdx := map[scanning.Phase]int{}
	for i := len(phases) - 1; i >= 0; i-- {
		firstIdx[phases[i]] = i
	}
	assert.Less(t, lastIdx[scanning.PhaseReconnaissance], firstIdx[scanning.PhaseParallelScan])
	assert.Less(t, lastIdx[scanning.PhaseParallelScan], firstIdx[scanning.PhaseDeepAnalysis])
}

func TestRunDerivesCrawlTasksFromReconFindings(t *testing.T) {
	t.Parallel()

	handlers := map[scanning.AgentType]func(*scanning.Task) scanning.TaskResult{
		scanning.AgentTypeRecon: func(task *scanning.Task) scanning.TaskResult {
			return complete(task,
				endpointFinding(task, "/api"),
				endpointFinding(task, "/admin"),
			)
		},
	}
	for _, at := range []scanning.AgentType{
		scanning.AgentTypePatternHunt, scanning.AgentTypeStealthScan, scanning.AgentTypeWebCrawl,
		scanning.AgentTypeDeepExplore, scanning.AgentTypeAnalyze,
	} {
		handlers[at] = func(task *scanning.Task) scanning.TaskResult { return complete(task) }
	}

	o, d := newTestOrchestrator(t, handlers)
	_, err := o.Run(context.Background())
	require.NoError(t, err)

	crawls := 0
	for _, task := range d.order() {
		if task.AgentType() == scanning.AgentTypeWebCrawl {
			crawls++
			assert.Contains(t, []any{"/api", "/admin"}, task.Payload()["endpoint"])
		}
	}
	assert.Equal(t, 2, crawls, "one crawl task per endpoint finding")
}

func TestRunAbortsWhenTargetUnreachable(t *testing.T) {
	t.Parallel()

	handlers := map[scanning.AgentType]func(*scanning.Task) scanning.TaskResult{
		scanning.AgentTypeRecon: func(task *scanning.Task) scanning.TaskResult {
			return fail(task, scanning.ErrTargetUnreachable.Error()+": no route to host")
		},
	}

	o, d := newTestOrchestrator(t, handlers)
	report, err := o.Run(context.Background())

	require.Error(t, err)
	assert.Equal(t, scanning.PhaseAborted, o.Phase())
	assert.True(t, report.Partial)
	assert.NotEmpty(t, report.Gaps)

	// No later-phase tasks after the abort.
	for _, task := range d.order() {
		assert.Equal(t, scanning.PhaseReconnaissance, task.Phase())
	}
}

func TestRunReconFailureWithFindingsDoesNotAbort(t *testing.T) {
	t.Parallel()

	// A recon failure alongside merged findings means the target responded;
	// the run continues.
	reconCalls := 0
	handlers := map[scanning.AgentType]func(*scanning.Task) scanning.TaskResult{
		scanning.AgentTypeRecon: func(task *scanning.Task) scanning.TaskResult {
			reconCalls++
			return complete(task, endpointFinding(task, "/"))
		},
	}
	for _, at := range []scanning.AgentType{
		scanning.AgentTypePatternHunt, scanning.AgentTypeStealthScan, scanning.AgentTypeWebCrawl,
		scanning.AgentTypeDeepExplore, scanning.AgentTypeAnalyze,
	} {
		handlers[at] = func(task *scanning.Task) scanning.TaskResult { return complete(task) }
	}

	o, _ := newTestOrchestrator(t, handlers)
	_, err := o.Run(context.Background())
	require.NoError(t, err)
	assert.Equal(t, scanning.PhaseDone, o.Phase())
}

func TestRunPhaseTimeoutProducesPartialReport(t *testing.T) {
	t.Parallel()

	handlers := map[scanning.AgentType]func(*scanning.Task) scanning.TaskResult{
		scanning.AgentTypeRecon: func(task *scanning.Task) scanning.TaskResult {
			return complete(task, endpointFinding(task, "/api"))
		},
		// PatternHunt never responds; StealthScan and WebCrawl finish.
		scanning.AgentTypeStealthScan: func(task *scanning.Task) scanning.TaskResult {
			return complete(task, scanning.NewFinding(task.ID(), task.Target(),
				scanning.CategoryMisconfiguration, 0.7, scanning.RiskLevelMedium, "missing header", ""))
		},
		scanning.AgentTypeWebCrawl: func(task *scanning.Task) scanning.TaskResult {
			return complete(task)
		},
		scanning.AgentTypeDeepExplore: func(task *scanning.Task) scanning.TaskResult {
			return complete(task)
		},
		scanning.AgentTypeAnalyze: func(task *scanning.Task) scanning.TaskResult {
			return complete(task)
		},
	}

	d := &scriptedDispatcher{handlers: handlers}
	cfg := testConfig()
	cfg.PhaseTimeout = 100 * time.Millisecond
	o := NewOrchestrator(uuid.New(), "test.local", cfg, d,
		risk.NewScorer(risk.DefaultWeights()), testLogger(), testTracer(), NoopMetrics{})
	d.orchestrator = o

	report, err := o.Run(context.Background())
	require.NoError(t, err, "a phase timeout degrades the run, it does not abort it")

	assert.Equal(t, scanning.PhaseDone, o.Phase())
	assert.True(t, report.Partial)

	require.NotEmpty(t, report.Gaps)
	foundTimeoutGap := false
	for _, gap := range report.Gaps {
		if gap.Phase == scanning.PhaseParallelScan {
			foundTimeoutGap = true
			assert.Contains(t, gap.Reason, scanning.ErrPhaseTimeout.Error())
		}
	}
	assert.True(t, foundTimeoutGap)

	// The stealth scan finding made it in despite the stuck hunt task.
	assert.NotEmpty(t, report.FindingsSummary)
}

func TestRunRecordsGapOnDispatchFailure(t *testing.T) {
	t.Parallel()

	dispatchErr := errors.New("no eligible node")
	handlers := map[scanning.AgentType]func(*scanning.Task) scanning.TaskResult{
		scanning.AgentTypeRecon: func(task *scanning.Task) scanning.TaskResult {
			return complete(task, endpointFinding(task, "/api"))
		},
		scanning.AgentTypePatternHunt: func(task *scanning.Task) scanning.TaskResult {
			return complete(task)
		},
		scanning.AgentTypeWebCrawl: func(task *scanning.Task) scanning.TaskResult {
			return complete(task)
		},
		scanning.AgentTypeDeepExplore: func(task *scanning.Task) scanning.TaskResult {
			return complete(task)
		},
		scanning.AgentTypeAnalyze: func(task *scanning.Task) scanning.TaskResult {
			return complete(task)
		},
	}

	d := &failingDispatcher{
		inner:    &scriptedDispatcher{handlers: handlers},
		failType: scanning.AgentTypeStealthScan,
		err:      dispatchErr,
	}
	o := NewOrchestrator(uuid.New(), "test.local", testConfig(), d,
		risk.NewScorer(risk.DefaultWeights()), testLogger(), testTracer(), NoopMetrics{})
	d.inner.orchestrator = o

	report, err := o.Run(context.Background())
	require.NoError(t, err)

	assert.True(t, report.Partial)
	found := false
	for _, gap := range report.Gaps {
		if gap.Phase == scanning.PhaseParallelScan && gap.Reason == dispatchErr.Error() {
			found = true
		}
	}
	assert.True(t, found, "dispatch failure should be recorded as a gap")
}

// failingDispatcher fails dispatch for one agent type and delegates the rest.
type failingDispatcher struct {
	inner    *scriptedDispatcher
	failType scanning.AgentType
	err      error
}

func (d *failingDispatcher) Dispatch(ctx context.Context, task *scanning.Task) error {
	if task.AgentType() == d.failType {
		return d.err
	}
	return d.inner.Dispatch(ctx, task)
}

func TestAbortStopsPipeline(t *testing.T) {
	t.Parallel()

	o, _ := newTestOrchestrator(t, nil)
	o.Abort("operator cancelled")

	report, err := o.Run(context.Background())
	require.Error(t, err)
	assert.Contains(t, err.Error(), "operator cancelled")
	assert.Equal(t, scanning.PhaseAborted, o.Phase())
	assert.True(t, report.Partial)
}

func TestConsumeDropsUnknownResults(t *testing.T) {
	t.Parallel()

	o, _ := newTestOrchestrator(t, nil)

	// No phase in flight; a stray result must be ignored, not merged.
	stray := scanning.NewTaskResult(uuid.New(), uuid.New(), []scanning.Finding{
		scanning.NewFinding(uuid.New(), "other.local", scanning.CategoryEndpoint, 0.9, scanning.RiskLevelLow, "/", ""),
	}, 0)
	require.NoError(t, o.Consume(context.Background(), stray))

	assert.Empty(t, o.Aggregator().Snapshot().Findings)
}
