// Package risk reduces findings and correlations to a numeric score, a
// categorical severity and templated remediation recommendations. Scoring is
// a pure function of its inputs; identical input always yields an identical
// report.
package risk

import (
	"sort"
	"time"

	"github.com/google/uuid"

	"github.com/ahrav/threatswarm/internal/domain/scanning"
)

// maxScore caps the risk score.
const maxScore = 100

// Weights configures how findings and correlations are reduced to a score.
// The defaults mirror common severity weighting but are deliberately
// configuration, not policy baked into code.
type Weights struct {
	Critical float64 `yaml:"critical"`
	High     float64 `yaml:"high"`
	Medium   float64 `yaml:"medium"`
	Low      float64 `yaml:"low"`

	// CrossTargetBoost multiplies the score when any correlation spans
	// more than one target.
	CrossTargetBoost float64 `yaml:"cross_target_boost"`
}

// DefaultWeights returns the default scoring weights.
func DefaultWeights() Weights {
	return Weights{
		Critical:         10,
		High:             7,
		Medium:           4,
		Low:              1,
		CrossTargetBoost: 1.5,
	}
}

// Scorer produces RiskReports from aggregated findings and correlations.
type Scorer struct {
	weights Weights
}

// NewScorer creates a scorer with the given weights.
func NewScorer(weights Weights) *Scorer {
	return &Scorer{weights: weights}
}

// Score computes the capped risk score for the findings and correlations.
func (s *Scorer) Score(findings []scanning.Finding, correlations []scanning.ThreatCorrelation) float64 {
	var score float64
	for _, f := range findings {
		score += s.weight(f.RiskLevel()) * f.Confidence()
	}

	for _, c := range correlations {
		if c.IsCrossTarget {
			score *= s.weights.CrossTargetBoost
			break
		}
	}

	if score > maxScore {
		score = maxScore
	}
	return score
}

// Severity maps a score to its categorical band.
func Severity(score float64) scanning.Severity {
	switch {
	case score >= 75:
		return scanning.SeverityCritical
	case score >= 50:
		return scanning.SeverityHigh
	case score >= 25:
		return scanning.SeverityMedium
	default:
		return scanning.SeverityLow
	}
}

// BuildReport assembles the immutable final report for a run.
func (s *Scorer) BuildReport(
	runID uuid.UUID,
	target string,
	findings []scanning.Finding,
	correlations []scanning.ThreatCorrelation,
	partial bool,
	gaps []scanning.Gap,
) scanning.RiskReport {
	score := s.Score(findings, correlations)

	summaries := make([]scanning.FindingSummary, 0, len(findings))
	for _, f := range findings {
		summaries = append(summaries, f.Summary())
	}

	return scanning.RiskReport{
		RunID:           runID.String(),
		Target:          target,
		Score:           score,
		Severity:        Severity(score),
		FindingsSummary: summaries,
		Correlations:    correlations,
		Recommendations: Recommendations(findings, correlations),
		Partial:         partial,
		Gaps:            gaps,
		GeneratedAt:     time.Now().UTC(),
	}
}

func (s *Scorer) weight(level scanning.RiskLevel) float64 {
	switch level {
	case scanning.RiskLevelCritical:
		return s.weights.Critical
	case scanning.RiskLevelHigh:
		return s.weights.High
	case scanning.RiskLevelMedium:
		return s.weights.Medium
	case scanning.RiskLevelLow:
		return s.weights.Low
	default:
		return 0
	}
}

// categoryRecommendations templates remediation guidance per finding
// category. No external calls, no models; deterministic and testable.
var categoryRecommendations = map[scanning.FindingCategory]string{
	scanning.CategoryCredential:       "Rotate exposed credentials immediately and move secrets to a managed vault.",
	scanning.CategoryEndpoint:         "Review exposed endpoints and restrict access to those not intended to be public.",
	scanning.CategoryMisconfiguration: "Harden server configuration; disable directory listings and verbose error pages.",
	scanning.CategoryInfoDisclosure:   "Strip version banners and debugging detail from client-visible responses.",
	scanning.CategoryAnomaly:          "Investigate anomalous responses manually; they may indicate filtered or inconsistent middleware.",
}

// crossTargetRecommendation is appended whenever the same pattern recurs on
// multiple targets, which usually indicates a shared root cause.
const crossTargetRecommendation = "Identical findings recur across multiple targets; audit shared infrastructure, templates and deployment pipelines for a common root cause."

// Recommendations returns the templated guidance for the categories present,
// in a stable order.
func Recommendations(findings []scanning.Finding, correlations []scanning.ThreatCorrelation) []string {
	present := make(map[scanning.FindingCategory]struct{})
	for _, f := range findings {
		present[f.Category()] = struct{}{}
	}

	categories := make([]string, 0, len(present))
	for c := range present {
		categories = append(categories, string(c))
	}
	sort.Strings(categories)

	recs := make([]string, 0, len(categories)+1)
	for _, c := range categories {
		if rec, ok := categoryRecommendations[scanning.FindingCategory(c)]; ok {
			recs = append(recs, rec)
		}
	}

	for _, corr := range correlations {
		if corr.IsCrossTarget {
			recs = append(recs, crossTargetRecommendation)
			break
		}
	}
	return recs
}
