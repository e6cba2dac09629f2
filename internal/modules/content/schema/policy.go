package schema

import "github.com/strata-cms/core/internal/config"

// Evolution modes a section registry may declare.
const (
	EvolutionAdditiveOnly = "additive_only"
	EvolutionFree         = "free"
)

// Policy governs which schema activations a section accepts.
type Policy struct {
	EvolutionMode string
	AllowBreaking bool
}

// PolicyProvider resolves the evolution policy for a section key. Absence of
// a policy means the section is unconstrained. Injected into the registry
// service so tests and deployments can swap the source; there is no global
// policy state.
type PolicyProvider interface {
	PolicyForSection(sectionKey string) (Policy, bool)
}

// StaticPolicies is a PolicyProvider over a fixed map, as loaded from config.
type StaticPolicies map[string]Policy

func (p StaticPolicies) PolicyForSection(sectionKey string) (Policy, bool) {
	policy, ok := p[sectionKey]
	return policy, ok
}

// PoliciesFromConfig builds the provider from the registries config block.
func PoliciesFromConfig(registries map[string]config.RegistryPolicy) StaticPolicies {
	out := make(StaticPolicies, len(registries))
	for key, rp := range registries {
		out[key] = Policy{EvolutionMode: rp.EvolutionMode, AllowBreaking: rp.AllowBreaking}
	}
	return out
}
