package scanning

// Phase identifies a stage of the fixed analysis pipeline for a single target.
// Phases execute strictly in order; tasks for phase N+1 are never generated
// before every phase-N task reaches a terminal status.
type Phase string

const (
	// PhaseReconnaissance establishes basic contact and discovers surface.
	PhaseReconnaissance Phase = "RECONNAISSANCE"

	// PhaseParallelScan fans out the broad scanning capabilities.
	PhaseParallelScan Phase = "PARALLEL_SCAN"

	// PhaseDeepAnalysis inspects candidates surfaced by the parallel scan.
	PhaseDeepAnalysis Phase = "DEEP_ANALYSIS"

	// PhaseCorrelation groups recurring finding patterns.
	PhaseCorrelation Phase = "CORRELATION"

	// PhaseRiskAssessment reduces the correlated aggregate to a risk report.
	PhaseRiskAssessment Phase = "RISK_ASSESSMENT"

	// PhaseDone is the successful terminal phase.
	PhaseDone Phase = "DONE"

	// PhaseAborted is the unrecoverable-failure terminal phase.
	PhaseAborted Phase = "ABORTED"
)

// String returns the string representation of the Phase.
func (p Phase) String() string { return string(p) }

// IsTerminal reports whether the pipeline has finished in this phase.
func (p Phase) IsTerminal() bool { return p == PhaseDone || p == PhaseAborted }

// Next returns the phase that follows p in the pipeline. Terminal phases
// return themselves.
func (p Phase) Next() Phase {
	switch p {
	case PhaseReconnaissance:
		return PhaseParallelScan
	case PhaseParallelScan:
		return PhaseDeepAnalysis
	case PhaseDeepAnalysis:
		return PhaseCorrelation
	case PhaseCorrelation:
		return PhaseRiskAssessment
	case PhaseRiskAssessment:
		return PhaseDone
	default:
		return p
	}
}

// TaskPhases returns the phases that dispatch tasks to agents. Correlation and
// risk assessment run in-process over the aggregated snapshot.
func TaskPhases() []Phase {
	return []Phase{PhaseReconnaissance, PhaseParallelScan, PhaseDeepAnalysis}
}
