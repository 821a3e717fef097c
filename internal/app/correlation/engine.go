// Package correlation detects finding patterns that recur within one target
// or across targets in swarm mode.
package correlation

import (
	"fmt"
	"sort"
	"strings"

	"github.com/spaolacci/murmur3"

	"github.com/ahrav/threatswarm/internal/app/aggregation"
	"github.com/ahrav/threatswarm/internal/domain/scanning"
)

// Fingerprint produces a stable content hash for correlation. Evidence is
// normalized (lowercased, whitespace collapsed) so trivially different
// captures of the same secret still correlate.
func Fingerprint(content string) string {
	normalized := strings.Join(strings.Fields(strings.ToLower(content)), " ")
	return fmt.Sprintf("%016x", murmur3.Sum64([]byte(normalized)))
}

// Engine groups aggregated findings by pattern key and emits a
// ThreatCorrelation for every pattern observed more than once. It is
// read-only with respect to aggregator state and must only run over final
// snapshots; the orchestrator guarantees no merge is in progress by sealing
// aggregators first.
type Engine struct{}

// NewEngine creates a correlation engine.
func NewEngine() *Engine { return &Engine{} }

// Correlate performs a single pass over the snapshots' findings. Output is
// ordered by pattern key so identical input always yields identical output.
func (e *Engine) Correlate(snapshots ...aggregation.Snapshot) []scanning.ThreatCorrelation {
	type group struct {
		occurrences []scanning.Occurrence
		targets     map[string]struct{}
	}
	groups := make(map[string]*group)

	for _, snap := range snapshots {
		for _, f := range snap.Findings {
			key := patternKey(f)
			g, ok := groups[key]
			if !ok {
				g = &group{targets: make(map[string]struct{})}
				groups[key] = g
			}
			g.occurrences = append(g.occurrences, scanning.Occurrence{
				Target:    f.Target(),
				FindingID: f.ID().String(),
			})
			g.targets[f.Target()] = struct{}{}
		}
	}

	keys := make([]string, 0, len(groups))
	for key, g := range groups {
		if len(g.occurrences) > 1 {
			keys = append(keys, key)
		}
	}
	sort.Strings(keys)

	correlations := make([]scanning.ThreatCorrelation, 0, len(keys))
	for _, key := range keys {
		g := groups[key]

		targets := make([]string, 0, len(g.targets))
		for t := range g.targets {
			targets = append(targets, t)
		}
		sort.Strings(targets)

		correlations = append(correlations, scanning.ThreatCorrelation{
			PatternKey:      key,
			Occurrences:     g.occurrences,
			AffectedTargets: targets,
			IsCrossTarget:   len(targets) > 1,
		})
	}
	return correlations
}

// patternKey combines the finding category with its content fingerprint.
// Findings without a capability-provided fingerprint get one derived from
// their evidence context.
func patternKey(f scanning.Finding) string {
	fp := f.Fingerprint()
	if fp == "" {
		fp = Fingerprint(f.Context())
	}
	return fmt.Sprintf("%s:%s", f.Category(), fp)
}
