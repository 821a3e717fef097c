package scanning

import (
	"testing"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestTaskLifecycle(t *testing.T) {
	t.Parallel()

	task := NewTask(uuid.New(), "example.com", AgentTypeRecon, PhaseReconnaissance, 10, map[string]any{"depth": 2})
	require.Equal(t, TaskStatusPending, task.Status())
	require.Equal(t, uuid.Nil, task.AssignedNodeID())

	nodeID := uuid.New()
	require.NoError(t, task.Assign(nodeID))
	assert.Equal(t, TaskStatusAssigned, task.Status())
	assert.Equal(t, nodeID, task.AssignedNodeID())

	require.NoError(t, task.Start())
	assert.Equal(t, TaskStatusRunning, task.Status())
	assert.False(t, task.StartedAt().IsZero())

	require.NoError(t, task.Complete())
	assert.Equal(t, TaskStatusCompleted, task.Status())
	assert.True(t, task.IsTerminal())
	assert.False(t, task.CompletedAt().IsZero())

	// Terminal states are immutable.
	assert.Error(t, task.Start())
	assert.Error(t, task.Fail())
	assert.Error(t, task.Requeue())
}

func TestTaskRequeueResetsAssignment(t *testing.T) {
	t.Parallel()

	task := NewTask(uuid.New(), "example.com", AgentTypeWebCrawl, PhaseParallelScan, 5, nil)
	require.NoError(t, task.Assign(uuid.New()))
	require.NoError(t, task.Start())

	require.NoError(t, task.Requeue())
	assert.Equal(t, TaskStatusPending, task.Status())
	assert.Equal(t, uuid.Nil, task.AssignedNodeID())
	assert.True(t, task.StartedAt().IsZero())
	assert.Equal(t, 1, task.RetryCount())

	// A requeued task can go around again.
	require.NoError(t, task.Assign(uuid.New()))
	require.NoError(t, task.Requeue())
	assert.Equal(t, 2, task.RetryCount())
}

func TestTaskSequenceIsMonotonic(t *testing.T) {
	t.Parallel()

	first := NewTask(uuid.New(), "a", AgentTypeRecon, PhaseReconnaissance, 1, nil)
	second := NewTask(uuid.New(), "b", AgentTypeRecon, PhaseReconnaissance, 1, nil)
	assert.Less(t, first.Seq(), second.Seq())
}

func TestFindingNormalization(t *testing.T) {
	t.Parallel()

	tests := []struct {
		name           string
		confidence     float64
		context        string
		wantConfidence float64
		wantContextLen int
	}{
		{name: "confidence above one clamps", confidence: 1.7, context: "x", wantConfidence: 1, wantContextLen: 1},
		{name: "negative confidence clamps to zero", confidence: -0.2, context: "x", wantConfidence: 0, wantContextLen: 1},
		{name: "long context truncates", confidence: 0.5, context: string(make([]byte, 1024)), wantConfidence: 0.5, wantContextLen: maxContextLen},
	}

	for _, tt := range tests {
		tt := tt
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()
			f := NewFinding(uuid.New(), "example.com", CategoryEndpoint, tt.confidence, RiskLevelLow, tt.context, "")
			assert.Equal(t, tt.wantConfidence, f.Confidence())
			assert.Len(t, f.Context(), tt.wantContextLen)
		})
	}
}
