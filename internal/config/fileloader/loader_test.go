package fileloader

import (
	"context"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/ahrav/threatswarm/internal/config"
)

func writeConfig(t *testing.T, content string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "swarm.yaml")
	require.NoError(t, os.WriteFile(path, []byte(content), 0o600))
	return path
}

func TestLoadMinimalConfigKeepsDefaults(t *testing.T) {
	t.Parallel()

	path := writeConfig(t, `
targets:
  - example.com
`)

	cfg, err := NewFileLoader(path).Load(context.Background())
	require.NoError(t, err)

	assert.Equal(t, []string{"example.com"}, cfg.Targets)

	defaults := config.Default()
	assert.Equal(t, defaults.Depth, cfg.Depth)
	assert.Equal(t, defaults.Pipeline, cfg.Pipeline)
	assert.Equal(t, defaults.Swarm, cfg.Swarm)
	assert.Len(t, cfg.Nodes, len(defaults.Nodes))
	assert.Equal(t, defaults.Weights(), cfg.Weights())
}

func TestLoadOverridesDefaults(t *testing.T) {
	t.Parallel()

	path := writeConfig(t, `
targets:
  - alpha.test
  - beta.test
depth: 3
pipeline:
  phase_timeout: 90s
  task_timeout: 20s
  recon_priority: 8
  scan_priority: 4
  analysis_priority: 2
swarm:
  max_retries: 5
  assignment_sweeps: 6
  sweep_backoff: 100ms
nodes:
  - name: custom-0
    type: SCANNER
    agents: 6
    capacity: 24
    agent_types: [RECON, PATTERN_HUNT]
rate_limit:
  requests_per_second: 25
  burst: 50
risk_weights:
  critical: 12
  high: 8
  medium: 5
  low: 2
  cross_target_boost: 2
`)

	cfg, err := NewFileLoader(path).Load(context.Background())
	require.NoError(t, err)

	assert.Equal(t, []string{"alpha.test", "beta.test"}, cfg.Targets)
	assert.Equal(t, 3, cfg.Depth)
	assert.Equal(t, 90*time.Second, cfg.Pipeline.PhaseTimeout)
	assert.Equal(t, 5, cfg.Swarm.MaxRetries)
	assert.Equal(t, 100*time.Millisecond, cfg.Swarm.SweepBackoff)

	require.Len(t, cfg.Nodes, 1, "explicit nodes replace the default layout")
	assert.Equal(t, "custom-0", cfg.Nodes[0].Name)
	assert.Equal(t, []string{"RECON", "PATTERN_HUNT"}, cfg.Nodes[0].AgentTypes)

	assert.Equal(t, float64(25), cfg.RateLimit.RequestsPerSecond)
	assert.Equal(t, 12.0, cfg.Weights().Critical)
	assert.Equal(t, 2.0, cfg.Weights().CrossTargetBoost)
}

func TestLoadRejectsInvalidConfig(t *testing.T) {
	t.Parallel()

	tests := []struct {
		name    string
		content string
		errMsg  string
	}{
		{
			name:    "no targets",
			content: "depth: 2\n",
			errMsg:  "at least one target",
		},
		{
			name: "bad agent count",
			content: `
targets: [example.com]
nodes:
  - name: broken
    type: SCANNER
    agents: 0
    capacity: 8
`,
			errMsg: "agents must be positive",
		},
		{
			name: "unknown agent type",
			content: `
targets: [example.com]
nodes:
  - name: broken
    type: SCANNER
    agents: 2
    capacity: 8
    agent_types: [TELEPORT]
`,
			errMsg: "broken",
		},
		{
			name:    "malformed yaml",
			content: "targets: [unterminated",
			errMsg:  "failed to parse config",
		},
	}

	for _, tt := range tests {
		tt := tt
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()
			path := writeConfig(t, tt.content)
			_, err := NewFileLoader(path).Load(context.Background())
			require.Error(t, err)
			assert.Contains(t, err.Error(), tt.errMsg)
		})
	}
}

func TestLoadMissingFile(t *testing.T) {
	t.Parallel()

	_, err := NewFileLoader(filepath.Join(t.TempDir(), "absent.yaml")).Load(context.Background())
	require.Error(t, err)
	assert.Contains(t, err.Error(), "failed to read config file")
}
