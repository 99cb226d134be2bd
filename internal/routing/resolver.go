package routing

import (
	"errors"
	"fmt"
	"sort"

	"github.com/rs/zerolog/log"

	"github.com/dagbolade/trust-proxy/internal/policy"
)

var ErrAgentNotFound = errors.New("agent not found")

// Source tags name the step of the priority chain that produced a model.
const (
	SourceAgentModel     = "agent.llmModel"
	SourceAgentAPIKey    = "agent.llmApiKeyId"
	SourceAvailableKeys  = "available_keys"
	SourceConfigDefaults = "config_defaults"
)

type Defaults struct {
	Model    string
	Provider string
}

type ResolveRequest struct {
	AgentID        string
	OrganizationID string
	UserID         string
}

// Resolution is the model chosen for an agent turn. Credential is nil when
// the caller's own key should be used.
type Resolution struct {
	Model      string
	Provider   string
	Credential *policy.Credential
	Source     string
}

type Resolver struct {
	catalog  policy.Reader
	defaults Defaults
}

func NewResolver(catalog policy.Reader, defaults Defaults) *Resolver {
	return &Resolver{catalog: catalog, defaults: defaults}
}

// Resolve walks the priority chain: the agent's explicit model, the best
// model of the agent's credential, the best model among credentials visible
// to the user ordered by scope, and finally the configured defaults. Only an
// unknown agent is an error.
func (r *Resolver) Resolve(req ResolveRequest) (Resolution, error) {
	agent, ok := r.catalog.Agent(req.AgentID)
	if !ok {
		return Resolution{}, fmt.Errorf("%w: %s", ErrAgentNotFound, req.AgentID)
	}

	res := r.resolve(agent, req)

	log.Info().
		Str("agent_id", agent.ID).
		Str("model", res.Model).
		Str("provider", res.Provider).
		Str("source", res.Source).
		Msg("model resolved")

	return res, nil
}

func (r *Resolver) resolve(agent policy.Agent, req ResolveRequest) Resolution {
	var agentKey *policy.Credential
	if agent.LLMAPIKeyID != "" {
		if cred, ok := r.catalog.Credential(agent.LLMAPIKeyID); ok {
			agentKey = &cred
		} else {
			log.Warn().Str("agent_id", agent.ID).Str("key_id", agent.LLMAPIKeyID).Msg("agent references unknown credential")
		}
	}

	if agent.LLMModel != "" {
		provider := InferProvider(agent.LLMModel, r.defaults.Provider)
		// a key for another provider cannot call this model
		cred := agentKey
		if cred != nil && cred.Provider != "" && cred.Provider != provider {
			log.Warn().Str("agent_id", agent.ID).Str("key_provider", cred.Provider).Str("provider", provider).Msg("agent key does not match model provider, ignoring it")
			cred = nil
		}
		return Resolution{
			Model:      agent.LLMModel,
			Provider:   provider,
			Credential: cred,
			Source:     SourceAgentModel,
		}
	}

	if agentKey != nil && agentKey.BestModel != "" {
		return Resolution{
			Model:      agentKey.BestModel,
			Provider:   providerOf(*agentKey, r.defaults.Provider),
			Credential: agentKey,
			Source:     SourceAgentAPIKey,
		}
	}

	if cred, ok := bestAvailable(r.catalog.VisibleCredentials(req.OrganizationID, req.UserID)); ok {
		return Resolution{
			Model:      cred.BestModel,
			Provider:   providerOf(cred, r.defaults.Provider),
			Credential: &cred,
			Source:     SourceAvailableKeys,
		}
	}

	return Resolution{
		Model:    r.defaults.Model,
		Provider: r.defaults.Provider,
		Source:   SourceConfigDefaults,
	}
}

func bestAvailable(creds []policy.Credential) (policy.Credential, bool) {
	sorted := make([]policy.Credential, len(creds))
	copy(sorted, creds)
	sort.SliceStable(sorted, func(i, j int) bool {
		return scopePriority(sorted[i].Scope) < scopePriority(sorted[j].Scope)
	})

	for _, c := range sorted {
		if c.BestModel != "" {
			return c, true
		}
	}
	return policy.Credential{}, false
}

func scopePriority(s policy.Scope) int {
	switch s {
	case policy.ScopeOrgWide:
		return 0
	case policy.ScopeTeam:
		return 1
	case policy.ScopePersonal:
		return 2
	default:
		return 3
	}
}

func providerOf(c policy.Credential, def string) string {
	if c.Provider != "" {
		return c.Provider
	}
	return InferProvider(c.BestModel, def)
}
