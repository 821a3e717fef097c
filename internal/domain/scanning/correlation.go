package scanning

// Occurrence records one appearance of a correlated pattern.
type Occurrence struct {
	Target    string `json:"target"`
	FindingID string `json:"finding_id"`
}

// ThreatCorrelation captures a finding pattern that recurred, either within a
// single target or across several.
type ThreatCorrelation struct {
	PatternKey      string       `json:"pattern_key"`
	Occurrences     []Occurrence `json:"occurrences"`
	AffectedTargets []string     `json:"affected_targets"`
	IsCrossTarget   bool         `json:"is_cross_target"`
}
