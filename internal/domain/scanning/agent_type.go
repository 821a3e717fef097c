package scanning

import "fmt"

// AgentType identifies the kind of work an agent is able to perform. Task
// dispatch is keyed on this type, so the set is closed and exhaustive.
type AgentType string

const (
	// AgentTypeRecon performs initial reachability and surface discovery.
	AgentTypeRecon AgentType = "RECON"

	// AgentTypePatternHunt scans content for secret and credential patterns.
	AgentTypePatternHunt AgentType = "PATTERN_HUNT"

	// AgentTypeWebCrawl walks discovered endpoints for additional surface.
	AgentTypeWebCrawl AgentType = "WEB_CRAWL"

	// AgentTypeStealthScan probes endpoints with low-noise request patterns.
	AgentTypeStealthScan AgentType = "STEALTH_SCAN"

	// AgentTypeDeepExplore inspects candidate resources surfaced by earlier phases.
	AgentTypeDeepExplore AgentType = "DEEP_EXPLORE"

	// AgentTypeAnalyze re-evaluates findings for quality and confidence.
	AgentTypeAnalyze AgentType = "ANALYZE"

	// AgentTypeCorrelate groups recurring finding patterns across targets.
	AgentTypeCorrelate AgentType = "CORRELATE"

	// AgentTypeRiskAssess reduces findings and correlations to a risk score.
	AgentTypeRiskAssess AgentType = "RISK_ASSESS"
)

// AgentTypes returns every member of the closed agent type set in a stable order.
func AgentTypes() []AgentType {
	return []AgentType{
		AgentTypeRecon,
		AgentTypePatternHunt,
		AgentTypeWebCrawl,
		AgentTypeStealthScan,
		AgentTypeDeepExplore,
		AgentTypeAnalyze,
		AgentTypeCorrelate,
		AgentTypeRiskAssess,
	}
}

// String returns the string representation of the AgentType.
func (t AgentType) String() string { return string(t) }

// ParseAgentType converts a string to an AgentType.
func ParseAgentType(s string) (AgentType, error) {
	switch AgentType(s) {
	case AgentTypeRecon, AgentTypePatternHunt, AgentTypeWebCrawl, AgentTypeStealthScan,
		AgentTypeDeepExplore, AgentTypeAnalyze, AgentTypeCorrelate, AgentTypeRiskAssess:
		return AgentType(s), nil
	default:
		return "", fmt.Errorf("unknown agent type: %q", s)
	}
}

// NodeType hints at the task types a node is provisioned for. It biases
// placement but is not a hard constraint; eligibility is decided by the
// agent types a node actually serves.
type NodeType string

const (
	NodeTypeScanner    NodeType = "SCANNER"
	NodeTypeAnalyzer   NodeType = "ANALYZER"
	NodeTypeCorrelator NodeType = "CORRELATOR"
	NodeTypeExplorer   NodeType = "EXPLORER"
)

// String returns the string representation of the NodeType.
func (t NodeType) String() string { return string(t) }

// DefaultAgentTypes returns the agent types a node of this type serves when
// no explicit set is configured.
func (t NodeType) DefaultAgentTypes() []AgentType {
	switch t {
	case NodeTypeScanner:
		return []AgentType{AgentTypeRecon, AgentTypePatternHunt, AgentTypeWebCrawl, AgentTypeStealthScan}
	case NodeTypeAnalyzer:
		return []AgentType{AgentTypeAnalyze, AgentTypeRiskAssess}
	case NodeTypeCorrelator:
		return []AgentType{AgentTypeCorrelate}
	case NodeTypeExplorer:
		return []AgentType{AgentTypeDeepExplore}
	default:
		return nil
	}
}
