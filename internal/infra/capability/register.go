package capability

import (
	"fmt"

	"go.opentelemetry.io/otel/trace"

	"github.com/ahrav/threatswarm/internal/app/agent"
	"github.com/ahrav/threatswarm/internal/domain/scanning"
	"github.com/ahrav/threatswarm/pkg/common/logger"
)

// RegisterDefaults binds the built-in capability for every scan-executing
// agent type. Correlate and RiskAssess have no capability here: the
// orchestrator runs those phases in-process over the sealed aggregate
// rather than dispatching them to agents.
func RegisterDefaults(
	registry *agent.CapabilityRegistry,
	fetcher *Fetcher,
	log *logger.Logger,
	tracer trace.Tracer,
) error {
	hunt, err := NewPatternHunt(fetcher, log, tracer)
	if err != nil {
		return fmt.Errorf("building pattern hunt capability: %w", err)
	}

	caps := map[scanning.AgentType]scanning.ScanCapability{
		scanning.AgentTypeRecon:       NewRecon(fetcher, log, tracer),
		scanning.AgentTypePatternHunt: hunt,
		scanning.AgentTypeWebCrawl:    NewWebCrawl(fetcher, log, tracer),
		scanning.AgentTypeStealthScan: NewStealthScan(fetcher, log, tracer),
		scanning.AgentTypeDeepExplore: NewDeepExplore(fetcher, log, tracer),
		scanning.AgentTypeAnalyze:     NewAnalyze(fetcher, log, tracer),
	}

	for _, agentType := range scanning.AgentTypes() {
		capability, ok := caps[agentType]
		if !ok {
			continue
		}
		if err := registry.Register(agentType, capability); err != nil {
			return err
		}
	}
	return nil
}
