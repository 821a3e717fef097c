package scanning

import (
	"time"

	"github.com/google/uuid"
)

// maxContextLen bounds the evidence excerpt carried by a finding so large
// response bodies never travel through the result pipeline.
const maxContextLen = 256

// RiskLevel categorizes the severity of an individual finding.
type RiskLevel string

const (
	RiskLevelCritical RiskLevel = "CRITICAL"
	RiskLevelHigh     RiskLevel = "HIGH"
	RiskLevelMedium   RiskLevel = "MEDIUM"
	RiskLevelLow      RiskLevel = "LOW"
)

// String returns the string representation of the RiskLevel.
func (r RiskLevel) String() string { return string(r) }

// FindingCategory classifies what kind of evidence a finding represents.
type FindingCategory string

const (
	CategoryCredential       FindingCategory = "credential"
	CategoryEndpoint         FindingCategory = "endpoint"
	CategoryMisconfiguration FindingCategory = "misconfiguration"
	CategoryInfoDisclosure   FindingCategory = "info_disclosure"
	CategoryAnomaly          FindingCategory = "anomaly"
)

// Finding is a single observation produced by a scan capability. It is
// immutable once created; the result aggregator owns it after an agent
// emits it.
type Finding struct {
	id           uuid.UUID
	sourceTaskID uuid.UUID
	target       string
	category     FindingCategory
	confidence   float64
	riskLevel    RiskLevel
	context      string
	fingerprint  string
	discoveredAt time.Time
}

// NewFinding creates a Finding, truncating the evidence context and clamping
// confidence into [0, 1]. The fingerprint is a normalized content hash used
// as the correlation pattern key; capabilities without a natural fingerprint
// may leave it empty and the correlation engine derives one from the context.
func NewFinding(
	sourceTaskID uuid.UUID,
	target string,
	category FindingCategory,
	confidence float64,
	riskLevel RiskLevel,
	context string,
	fingerprint string,
) Finding {
	if confidence < 0 {
		confidence = 0
	}
	if confidence > 1 {
		confidence = 1
	}
	if len(context) > maxContextLen {
		context = context[:maxContextLen]
	}
	return Finding{
		id:           uuid.New(),
		sourceTaskID: sourceTaskID,
		target:       target,
		category:     category,
		confidence:   confidence,
		riskLevel:    riskLevel,
		context:      context,
		fingerprint:  fingerprint,
		discoveredAt: time.Now(),
	}
}

// ID returns the unique identifier for this finding.
func (f Finding) ID() uuid.UUID { return f.id }

// SourceTaskID returns the task that produced this finding.
func (f Finding) SourceTaskID() uuid.UUID { return f.sourceTaskID }

// Target returns the target the finding was observed on.
func (f Finding) Target() string { return f.target }

// Category returns the finding classification.
func (f Finding) Category() FindingCategory { return f.category }

// Confidence returns the capability's confidence in [0, 1].
func (f Finding) Confidence() float64 { return f.confidence }

// RiskLevel returns the categorical severity of the finding.
func (f Finding) RiskLevel() RiskLevel { return f.riskLevel }

// Context returns the truncated surrounding evidence.
func (f Finding) Context() string { return f.context }

// Fingerprint returns the normalized content hash used for correlation.
func (f Finding) Fingerprint() string { return f.fingerprint }

// DiscoveredAt returns the time the finding was produced.
func (f Finding) DiscoveredAt() time.Time { return f.discoveredAt }

// FindingSummary is the JSON-ready projection of a finding carried by reports.
type FindingSummary struct {
	ID         string          `json:"id"`
	Target     string          `json:"target"`
	Category   FindingCategory `json:"category"`
	Confidence float64         `json:"confidence"`
	RiskLevel  RiskLevel       `json:"risk_level"`
	Context    string          `json:"context,omitempty"`
}

// Summary returns the JSON-ready projection of the finding.
func (f Finding) Summary() FindingSummary {
	return FindingSummary{
		ID:         f.id.String(),
		Target:     f.target,
		Category:   f.category,
		Confidence: f.confidence,
		RiskLevel:  f.riskLevel,
		Context:    f.context,
	}
}
