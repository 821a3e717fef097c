package scanning

import "time"

// Severity is the categorical band a risk score falls into.
type Severity string

const (
	SeverityCritical Severity = "Critical"
	SeverityHigh     Severity = "High"
	SeverityMedium   Severity = "Medium"
	SeverityLow      Severity = "Low"
)

// String returns the string representation of the Severity.
func (s Severity) String() string { return string(s) }

// Gap records a target or phase that did not complete cleanly. Reports carry
// gaps explicitly rather than silently omitting incomplete work.
type Gap struct {
	Target string `json:"target"`
	Phase  Phase  `json:"phase,omitempty"`
	Reason string `json:"reason"`
}

// RiskReport is the immutable final product of an analysis run. It is a plain
// structured record so callers can persist or serialize it as they see fit.
type RiskReport struct {
	RunID           string              `json:"run_id"`
	Target          string              `json:"target,omitempty"`
	Score           float64             `json:"score"`
	Severity        Severity            `json:"severity"`
	FindingsSummary []FindingSummary    `json:"findings_summary"`
	Correlations    []ThreatCorrelation `json:"correlations"`
	Recommendations []string            `json:"recommendations"`
	Partial         bool                `json:"partial"`
	Gaps            []Gap               `json:"gaps,omitempty"`
	GeneratedAt     time.Time           `json:"generated_at"`
}
