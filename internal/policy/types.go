package policy

// AgentType discriminates agents that carry prompts and can be run by the
// delegation executor from agents that only send traffic through the proxy.
type AgentType string

const (
	AgentTypeInternal AgentType = "internal"
	AgentTypeExternal AgentType = "external"
)

type Agent struct {
	ID             string    `yaml:"id" json:"id"`
	Name           string    `yaml:"name" json:"name"`
	OrganizationID string    `yaml:"organization_id" json:"organization_id"`
	TeamIDs        []string  `yaml:"team_ids" json:"team_ids,omitempty"`
	Type           AgentType `yaml:"type" json:"type"`
	LLMModel       string    `yaml:"llm_model" json:"llm_model,omitempty"`
	LLMAPIKeyID    string    `yaml:"llm_api_key_id" json:"llm_api_key_id,omitempty"`
	SystemPrompt   string    `yaml:"system_prompt" json:"system_prompt,omitempty"`
	UserPrompt     string    `yaml:"user_prompt" json:"user_prompt,omitempty"`
	Tools          []string  `yaml:"tools" json:"tools,omitempty"`
	Delegates      []string  `yaml:"delegates" json:"delegates,omitempty"`
}

func (a Agent) Delegatable() bool {
	return a.Type == AgentTypeInternal
}

type Scope string

const (
	ScopeOrgWide  Scope = "org_wide"
	ScopeTeam     Scope = "team"
	ScopePersonal Scope = "personal"
)

// Credential is a provider API key together with the model it is best used with.
type Credential struct {
	ID             string `yaml:"id" json:"id"`
	OrganizationID string `yaml:"organization_id" json:"organization_id"`
	Provider       string `yaml:"provider" json:"provider"`
	Scope          Scope  `yaml:"scope" json:"scope"`
	TeamID         string `yaml:"team_id" json:"team_id,omitempty"`
	UserID         string `yaml:"user_id" json:"user_id,omitempty"`
	Secret         string `yaml:"secret" json:"-"`
	BestModel      string `yaml:"best_model" json:"best_model,omitempty"`
}

type Team struct {
	ID             string   `yaml:"id"`
	OrganizationID string   `yaml:"organization_id"`
	Members        []string `yaml:"members"`
}

func (t Team) HasMember(userID string) bool {
	for _, m := range t.Members {
		if m == userID {
			return true
		}
	}
	return false
}

// Tool is an executable tool known to the catalog. Upstream is where
// delegated turns send invocations.
type Tool struct {
	Name        string         `yaml:"name"`
	Description string         `yaml:"description"`
	Upstream    string         `yaml:"upstream"`
	Parameters  map[string]any `yaml:"parameters"`
}

type Operator string

const (
	OpEqual       Operator = "equal"
	OpNotEqual    Operator = "notEqual"
	OpContains    Operator = "contains"
	OpNotContains Operator = "notContains"
	OpStartsWith  Operator = "startsWith"
	OpEndsWith    Operator = "endsWith"
	OpRegex       Operator = "regex"
	OpGlob        Operator = "glob"
)

// TrustedDataPolicy decides whether output of a tool may be trusted.
// An empty AgentID applies to every agent.
type TrustedDataPolicy struct {
	AgentID                 string   `yaml:"agent_id"`
	ToolName                string   `yaml:"tool_name"`
	Description             string   `yaml:"description"`
	TrustedByDefault        bool     `yaml:"trusted_by_default"`
	AllowUsageWhenUntrusted bool     `yaml:"allow_usage_when_untrusted"`
	AttributePath           string   `yaml:"attribute_path"`
	Operator                Operator `yaml:"operator"`
	Value                   string   `yaml:"value"`
}

func (p TrustedDataPolicy) HasCondition() bool {
	return p.Operator != ""
}

type InvocationAction string

const (
	ActionAllowWhenUntrusted InvocationAction = "allow_when_context_is_untrusted"
	ActionBlockAlways        InvocationAction = "block_always"
)

// ToolInvocationPolicy is a condition on one argument of a pending tool call.
type ToolInvocationPolicy struct {
	ID           string           `yaml:"id"`
	AgentID      string           `yaml:"agent_id"`
	ToolName     string           `yaml:"tool_name"`
	ArgumentName string           `yaml:"argument_name"`
	Operator     Operator         `yaml:"operator"`
	Value        string           `yaml:"value"`
	Action       InvocationAction `yaml:"action"`
	Reason       string           `yaml:"reason"`
}

type RuleType string

const (
	RuleContentLength RuleType = "content_length"
	RuleToolPresence  RuleType = "tool_presence"
)

type EntityType string

const (
	EntityOrganization EntityType = "organization"
	EntityTeam         EntityType = "team"
)

type RuleConditions struct {
	MaxLength int  `yaml:"max_length"`
	HasTools  bool `yaml:"has_tools"`
}

// OptimizationRule redirects a request to TargetModel when, together with
// every other enabled rule for the same target, its condition holds.
type OptimizationRule struct {
	ID          string         `yaml:"id"`
	EntityType  EntityType     `yaml:"entity_type"`
	EntityID    string         `yaml:"entity_id"`
	RuleType    RuleType       `yaml:"rule_type"`
	Provider    string         `yaml:"provider"`
	TargetModel string         `yaml:"target_model"`
	Enabled     bool           `yaml:"enabled"`
	Conditions  RuleConditions `yaml:"conditions"`
}

// Document is the shape of one catalog file. Files in a catalog directory are
// merged in name order.
type Document struct {
	Agents                 []Agent                `yaml:"agents"`
	Teams                  []Team                 `yaml:"teams"`
	Credentials            []Credential           `yaml:"credentials"`
	Tools                  []Tool                 `yaml:"tools"`
	TrustedDataPolicies    []TrustedDataPolicy    `yaml:"trusted_data_policies"`
	ToolInvocationPolicies []ToolInvocationPolicy `yaml:"tool_invocation_policies"`
	OptimizationRules      []OptimizationRule     `yaml:"optimization_rules"`
}

func (d *Document) merge(other Document) {
	d.Agents = append(d.Agents, other.Agents...)
	d.Teams = append(d.Teams, other.Teams...)
	d.Credentials = append(d.Credentials, other.Credentials...)
	d.Tools = append(d.Tools, other.Tools...)
	d.TrustedDataPolicies = append(d.TrustedDataPolicies, other.TrustedDataPolicies...)
	d.ToolInvocationPolicies = append(d.ToolInvocationPolicies, other.ToolInvocationPolicies...)
	d.OptimizationRules = append(d.OptimizationRules, other.OptimizationRules...)
}

// Reader is the read-only view of the catalog consumed by the proxy, the
// trust evaluator, the model resolver and the delegation executor.
type Reader interface {
	Agent(id string) (Agent, bool)
	Credential(id string) (Credential, bool)
	VisibleCredentials(organizationID, userID string) []Credential
	Tool(name string) (Tool, bool)
	TrustedDataPolicy(agentID, toolName string) (TrustedDataPolicy, bool)
	ToolInvocationPolicies(agentID, toolName string) []ToolInvocationPolicy
	OptimizationRules(organizationID string, teamIDs []string, provider string) []OptimizationRule
}
