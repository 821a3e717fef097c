// Package agent provides the typed workers that execute scan tasks by
// invoking pluggable scan capabilities, and the bounded pools that drain
// task queues concurrently.
package agent

import (
	"fmt"
	"sync"

	"github.com/ahrav/threatswarm/internal/domain/scanning"
)

// CapabilityRegistry maps each agent type to the single capability bound to
// it. It is constructed explicitly and injected, so independent runs in the
// same process can use different capability sets.
type CapabilityRegistry struct {
	mu   sync.RWMutex
	caps map[scanning.AgentType]scanning.ScanCapability
}

// NewCapabilityRegistry creates an empty registry.
func NewCapabilityRegistry() *CapabilityRegistry {
	return &CapabilityRegistry{caps: make(map[scanning.AgentType]scanning.ScanCapability)}
}

// Register binds a capability to an agent type. Binding the same type twice
// is a wiring mistake and fails loudly.
func (r *CapabilityRegistry) Register(agentType scanning.AgentType, capability scanning.ScanCapability) error {
	if capability == nil {
		return fmt.Errorf("nil capability for agent type %s", agentType)
	}

	r.mu.Lock()
	defer r.mu.Unlock()
	if _, exists := r.caps[agentType]; exists {
		return fmt.Errorf("capability already registered for agent type %s", agentType)
	}
	r.caps[agentType] = capability
	return nil
}

// Resolve returns the capability bound to the agent type.
func (r *CapabilityRegistry) Resolve(agentType scanning.AgentType) (scanning.ScanCapability, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	capability, ok := r.caps[agentType]
	if !ok {
		return nil, fmt.Errorf("no capability registered for agent type %s", agentType)
	}
	return capability, nil
}

// Types returns the agent types with a bound capability.
func (r *CapabilityRegistry) Types() []scanning.AgentType {
	r.mu.RLock()
	defer r.mu.RUnlock()

	types := make([]scanning.AgentType, 0, len(r.caps))
	for _, at := range scanning.AgentTypes() {
		if _, ok := r.caps[at]; ok {
			types = append(types, at)
		}
	}
	return types
}
