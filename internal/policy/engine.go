package policy

import (
	"fmt"
	"sort"
	"sync"

	"github.com/rs/zerolog/log"
)

// Catalog serves the declarative agents, credentials and policies, reloading
// them when files in its directory change. Lookups read an immutable snapshot
// that a reload swaps under the write lock.
type Catalog struct {
	mu      sync.RWMutex
	loader  *YAMLLoader
	watcher *FileWatcher
	dir     string
	snap    *snapshot
}

type snapshot struct {
	doc         Document
	agents      map[string]Agent
	credentials map[string]Credential
	tools       map[string]Tool
	trusted     map[string]TrustedDataPolicy
	invocation  map[string][]ToolInvocationPolicy
}

func NewCatalog(dir string) (*Catalog, error) {
	c := &Catalog{
		loader: NewYAMLLoader(),
		dir:    dir,
	}

	if err := c.Reload(); err != nil {
		return nil, fmt.Errorf("initial load: %w", err)
	}

	watcher, err := NewFileWatcher(dir, c.handleCatalogChange)
	if err != nil {
		return nil, fmt.Errorf("create watcher: %w", err)
	}
	c.watcher = watcher

	return c, nil
}

// NewStaticCatalog builds a catalog from an in-memory document. It never reloads.
func NewStaticCatalog(doc Document) (*Catalog, error) {
	if err := validate(doc); err != nil {
		return nil, err
	}
	return &Catalog{snap: buildSnapshot(doc)}, nil
}

func (c *Catalog) Reload() error {
	doc, err := c.loader.LoadFromDir(c.dir)
	if err != nil {
		return err
	}

	snap := buildSnapshot(doc)

	c.mu.Lock()
	c.snap = snap
	c.mu.Unlock()

	log.Info().
		Int("agents", len(doc.Agents)).
		Int("credentials", len(doc.Credentials)).
		Int("trusted_data_policies", len(doc.TrustedDataPolicies)).
		Int("tool_invocation_policies", len(doc.ToolInvocationPolicies)).
		Int("optimization_rules", len(doc.OptimizationRules)).
		Msg("catalog loaded")
	return nil
}

func (c *Catalog) Close() error {
	if c.watcher != nil {
		return c.watcher.Close()
	}
	return nil
}

func (c *Catalog) handleCatalogChange(path string) {
	log.Info().Str("path", path).Msg("catalog change detected")

	if err := c.Reload(); err != nil {
		log.Error().Err(err).Msg("failed to reload catalog, keeping previous version")
	}
}

func (c *Catalog) current() *snapshot {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.snap
}

func (c *Catalog) Agent(id string) (Agent, bool) {
	a, ok := c.current().agents[id]
	return a, ok
}

func (c *Catalog) Credential(id string) (Credential, bool) {
	cr, ok := c.current().credentials[id]
	return cr, ok
}

func (c *Catalog) Tool(name string) (Tool, bool) {
	t, ok := c.current().tools[name]
	return t, ok
}

// TeamsForUser returns the teams of the organization the user is a member of.
func (c *Catalog) TeamsForUser(organizationID, userID string) []Team {
	var teams []Team
	for _, t := range c.current().doc.Teams {
		if t.OrganizationID == organizationID && t.HasMember(userID) {
			teams = append(teams, t)
		}
	}
	return teams
}

// VisibleCredentials lists the organization-wide keys of the organization,
// the keys of teams the user belongs to and the user's personal keys, in
// catalog order.
func (c *Catalog) VisibleCredentials(organizationID, userID string) []Credential {
	teams := make(map[string]bool)
	for _, t := range c.TeamsForUser(organizationID, userID) {
		teams[t.ID] = true
	}

	var out []Credential
	for _, cr := range c.current().doc.Credentials {
		if cr.OrganizationID != organizationID {
			continue
		}
		switch cr.Scope {
		case ScopeOrgWide:
			out = append(out, cr)
		case ScopeTeam:
			if teams[cr.TeamID] {
				out = append(out, cr)
			}
		case ScopePersonal:
			if cr.UserID == userID {
				out = append(out, cr)
			}
		}
	}
	return out
}

// TrustedDataPolicy prefers a policy bound to the agent over the wildcard one.
func (c *Catalog) TrustedDataPolicy(agentID, toolName string) (TrustedDataPolicy, bool) {
	snap := c.current()
	if p, ok := snap.trusted[policyKey(agentID, toolName)]; ok {
		return p, true
	}
	p, ok := snap.trusted[policyKey("", toolName)]
	return p, ok
}

func (c *Catalog) ToolInvocationPolicies(agentID, toolName string) []ToolInvocationPolicy {
	var out []ToolInvocationPolicy
	for _, p := range c.current().invocation[toolName] {
		if p.AgentID == "" || p.AgentID == agentID {
			out = append(out, p)
		}
	}
	return out
}

// OptimizationRules returns the rules for the provider, team rules before
// organization rules, each in catalog order.
func (c *Catalog) OptimizationRules(organizationID string, teamIDs []string, provider string) []OptimizationRule {
	teams := make(map[string]bool, len(teamIDs))
	for _, id := range teamIDs {
		teams[id] = true
	}

	var teamRules, orgRules []OptimizationRule
	for _, r := range c.current().doc.OptimizationRules {
		if r.Provider != "" && r.Provider != provider {
			continue
		}
		switch {
		case r.EntityType == EntityTeam && teams[r.EntityID]:
			teamRules = append(teamRules, r)
		case r.EntityType == EntityOrganization && r.EntityID == organizationID:
			orgRules = append(orgRules, r)
		}
	}
	return append(teamRules, orgRules...)
}

// AgentIDs lists every agent id, sorted.
func (c *Catalog) AgentIDs() []string {
	snap := c.current()
	ids := make([]string, 0, len(snap.agents))
	for id := range snap.agents {
		ids = append(ids, id)
	}
	sort.Strings(ids)
	return ids
}

func buildSnapshot(doc Document) *snapshot {
	s := &snapshot{
		doc:         doc,
		agents:      make(map[string]Agent, len(doc.Agents)),
		credentials: make(map[string]Credential, len(doc.Credentials)),
		tools:       make(map[string]Tool, len(doc.Tools)),
		trusted:     make(map[string]TrustedDataPolicy, len(doc.TrustedDataPolicies)),
		invocation:  make(map[string][]ToolInvocationPolicy),
	}

	for _, a := range doc.Agents {
		s.agents[a.ID] = a
	}
	for _, cr := range doc.Credentials {
		s.credentials[cr.ID] = cr
	}
	for _, t := range doc.Tools {
		s.tools[t.Name] = t
	}
	for _, p := range doc.TrustedDataPolicies {
		key := policyKey(p.AgentID, p.ToolName)
		if _, exists := s.trusted[key]; exists {
			log.Warn().Str("agent", p.AgentID).Str("tool", p.ToolName).Msg("duplicate trusted data policy, first one wins")
			continue
		}
		s.trusted[key] = p
	}
	for _, p := range doc.ToolInvocationPolicies {
		s.invocation[p.ToolName] = append(s.invocation[p.ToolName], p)
	}

	return s
}

func policyKey(agentID, toolName string) string {
	return agentID + "\x00" + toolName
}
