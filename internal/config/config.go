// Package config defines the file-based configuration for a swarm: targets,
// pipeline tunables, node layout and scoring weights.
package config

import (
	"fmt"
	"time"

	"github.com/ahrav/threatswarm/internal/app/risk"
	"github.com/ahrav/threatswarm/internal/domain/scanning"
)

// Config represents the top-level configuration.
type Config struct {
	// Targets are the URIs or hosts to analyze. More than one target runs in
	// swarm mode with cross-target correlation.
	Targets []string `yaml:"targets"`

	// Depth controls how far reconnaissance and crawling walk into a target.
	Depth int `yaml:"depth"`

	Pipeline  PipelineConfig  `yaml:"pipeline"`
	Swarm     SwarmConfig     `yaml:"swarm"`
	Nodes     []NodeSpec      `yaml:"nodes"`
	RateLimit RateLimitConfig `yaml:"rate_limit"`

	// RiskWeights tune how findings reduce to a score. Omitted fields fall
	// back to the defaults.
	RiskWeights *risk.Weights `yaml:"risk_weights,omitempty"`
}

// PipelineConfig tunes the per-target phase pipeline.
type PipelineConfig struct {
	// PhaseTimeout bounds how long a phase waits for its tasks before
	// proceeding with partial results.
	PhaseTimeout time.Duration `yaml:"phase_timeout"`

	// TaskTimeout is the per-task capability deadline enforced by agents.
	TaskTimeout time.Duration `yaml:"task_timeout"`

	ReconPriority    int `yaml:"recon_priority"`
	ScanPriority     int `yaml:"scan_priority"`
	AnalysisPriority int `yaml:"analysis_priority"`
}

// SwarmConfig tunes cross-node assignment and recovery.
type SwarmConfig struct {
	// MaxRetries bounds requeue attempts for tasks stranded by node failure.
	MaxRetries int `yaml:"max_retries"`

	// AssignmentSweeps bounds selection passes before a task fails with no
	// eligible node.
	AssignmentSweeps int `yaml:"assignment_sweeps"`

	// SweepBackoff is the initial delay between assignment sweeps.
	SweepBackoff time.Duration `yaml:"sweep_backoff"`
}

// NodeSpec declares one node in the swarm.
type NodeSpec struct {
	Name string `yaml:"name"`

	// Type biases which agent types the node serves; see scanning.NodeType.
	Type string `yaml:"type"`

	// Agents is the worker count in the node's pool.
	Agents int `yaml:"agents"`

	// Capacity is the maximum concurrent tasks the node accepts.
	Capacity int64 `yaml:"capacity"`

	// AgentTypes overrides the node type's default served set when set.
	AgentTypes []string `yaml:"agent_types,omitempty"`
}

// RateLimitConfig bounds outbound probe traffic swarm-wide.
type RateLimitConfig struct {
	RequestsPerSecond float64 `yaml:"requests_per_second"`
	Burst             int     `yaml:"burst"`
}

// Default returns a runnable configuration: one scanner node, one explorer
// node, one analyzer node and conservative timeouts.
func Default() Config {
	return Config{
		Depth: 2,
		Pipeline: PipelineConfig{
			PhaseTimeout:     2 * time.Minute,
			TaskTimeout:      30 * time.Second,
			ReconPriority:    10,
			ScanPriority:     5,
			AnalysisPriority: 5,
		},
		Swarm: SwarmConfig{
			MaxRetries:       3,
			AssignmentSweeps: 4,
			SweepBackoff:     50 * time.Millisecond,
		},
		Nodes: []NodeSpec{
			{Name: "scanner-0", Type: string(scanning.NodeTypeScanner), Agents: 4, Capacity: 16},
			{Name: "explorer-0", Type: string(scanning.NodeTypeExplorer), Agents: 2, Capacity: 8},
			{Name: "analyzer-0", Type: string(scanning.NodeTypeAnalyzer), Agents: 2, Capacity: 8},
		},
		RateLimit: RateLimitConfig{RequestsPerSecond: 10, Burst: 20},
	}
}

// Validate rejects configurations that cannot run.
func (c *Config) Validate() error {
	if len(c.Targets) == 0 {
		return fmt.Errorf("at least one target is required")
	}
	if len(c.Nodes) == 0 {
		return fmt.Errorf("at least one node is required")
	}
	for i, n := range c.Nodes {
		if n.Agents <= 0 {
			return fmt.Errorf("node %d (%s): agents must be positive", i, n.Name)
		}
		if n.Capacity <= 0 {
			return fmt.Errorf("node %d (%s): capacity must be positive", i, n.Name)
		}
		for _, at := range n.AgentTypes {
			if _, err := scanning.ParseAgentType(at); err != nil {
				return fmt.Errorf("node %d (%s): %w", i, n.Name, err)
			}
		}
	}
	if c.Pipeline.PhaseTimeout <= 0 {
		return fmt.Errorf("pipeline phase_timeout must be positive")
	}
	if c.Pipeline.TaskTimeout <= 0 {
		return fmt.Errorf("pipeline task_timeout must be positive")
	}
	return nil
}

// Weights returns the configured risk weights, or the defaults.
func (c *Config) Weights() risk.Weights {
	if c.RiskWeights == nil {
		return risk.DefaultWeights()
	}
	return *c.RiskWeights
}
