package policy

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

const agentsYAML = `
agents:
  - id: support
    name: Support bot
    organization_id: org-1
    type: internal
    llm_model: gpt-4o
    system_prompt: You answer tickets.
    tools: [search_tickets]
teams:
  - id: team-a
    organization_id: org-1
    members: [alice]
`

const policiesYAML = `
trusted_data_policies:
  - tool_name: search_tickets
    trusted_by_default: true
tool_invocation_policies:
  - id: no-external-mail
    tool_name: send_email
    argument_name: to
    operator: glob
    value: "external@*"
    action: block_always
    reason: external recipients are not allowed
`

func writeCatalogFile(t *testing.T, dir, name, content string) string {
	t.Helper()
	path := filepath.Join(dir, name)
	require.NoError(t, os.WriteFile(path, []byte(content), 0644))
	return path
}

func TestLoaderFileDetection(t *testing.T) {
	loader := NewYAMLLoader()

	tests := []struct {
		filename string
		expected bool
	}{
		{"catalog.yaml", true},
		{"catalog.YML", true},
		{"catalog.json", false},
		{"catalog.yaml.bak", false},
		{"yaml", false},
	}

	for _, tt := range tests {
		t.Run(tt.filename, func(t *testing.T) {
			assert.Equal(t, tt.expected, loader.isCatalogFile(tt.filename))
		})
	}
}

func TestLoaderMergesFilesInNameOrder(t *testing.T) {
	dir := t.TempDir()
	writeCatalogFile(t, dir, "10-agents.yaml", agentsYAML)
	writeCatalogFile(t, dir, "20-policies.yml", policiesYAML)
	writeCatalogFile(t, dir, "notes.txt", "not a catalog")

	doc, err := NewYAMLLoader().LoadFromDir(dir)
	require.NoError(t, err)

	require.Len(t, doc.Agents, 1)
	assert.Equal(t, "support", doc.Agents[0].ID)
	assert.Equal(t, AgentTypeInternal, doc.Agents[0].Type)
	require.Len(t, doc.Teams, 1)
	require.Len(t, doc.TrustedDataPolicies, 1)
	require.Len(t, doc.ToolInvocationPolicies, 1)
	assert.Equal(t, ActionBlockAlways, doc.ToolInvocationPolicies[0].Action)
	assert.Equal(t, OpGlob, doc.ToolInvocationPolicies[0].Operator)
}

func TestLoaderEmptyDirectory(t *testing.T) {
	doc, err := NewYAMLLoader().LoadFromDir(t.TempDir())
	require.NoError(t, err)
	assert.Empty(t, doc.Agents)
}

func TestLoaderMissingDirectory(t *testing.T) {
	_, err := NewYAMLLoader().LoadFromDir(filepath.Join(t.TempDir(), "missing"))
	assert.Error(t, err)
}

func TestLoaderRejectsUnknownKeys(t *testing.T) {
	dir := t.TempDir()
	writeCatalogFile(t, dir, "bad.yaml", "agents:\n  - id: a\n    type: internal\n    colour: blue\n")

	_, err := NewYAMLLoader().LoadFromDir(dir)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "bad.yaml")
}

func TestLoaderRejectsInvalidDocument(t *testing.T) {
	dir := t.TempDir()
	writeCatalogFile(t, dir, "a.yaml", agentsYAML)
	writeCatalogFile(t, dir, "b.yaml", agentsYAML)

	_, err := NewYAMLLoader().LoadFromDir(dir)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "duplicate id")
}

func TestParseDocumentEmpty(t *testing.T) {
	doc, err := ParseDocument(nil)
	require.NoError(t, err)
	assert.Empty(t, doc.Agents)
}

func TestValidate(t *testing.T) {
	tests := []struct {
		name    string
		doc     Document
		wantErr string
	}{
		{
			name: "valid",
			doc: Document{
				Agents:      []Agent{{ID: "a", Type: AgentTypeExternal}},
				Credentials: []Credential{{ID: "k", Scope: ScopeTeam}},
			},
		},
		{
			name:    "missing agent id",
			doc:     Document{Agents: []Agent{{Type: AgentTypeInternal}}},
			wantErr: "id is required",
		},
		{
			name:    "bad agent type",
			doc:     Document{Agents: []Agent{{ID: "a", Type: "robot"}}},
			wantErr: "invalid type",
		},
		{
			name:    "bad scope",
			doc:     Document{Credentials: []Credential{{ID: "k", Scope: "global"}}},
			wantErr: "invalid scope",
		},
		{
			name: "bad operator",
			doc: Document{ToolInvocationPolicies: []ToolInvocationPolicy{{
				ToolName: "t", ArgumentName: "a", Operator: "like", Action: ActionBlockAlways,
			}}},
			wantErr: "invalid operator",
		},
		{
			name: "bad action",
			doc: Document{ToolInvocationPolicies: []ToolInvocationPolicy{{
				ToolName: "t", ArgumentName: "a", Operator: OpEqual, Action: "maybe",
			}}},
			wantErr: "invalid action",
		},
		{
			name: "trusted policy without condition",
			doc:  Document{TrustedDataPolicies: []TrustedDataPolicy{{ToolName: "t"}}},
		},
		{
			name: "bad rule type",
			doc: Document{OptimizationRules: []OptimizationRule{{
				TargetModel: "m", EntityType: EntityTeam, RuleType: "price",
			}}},
			wantErr: "invalid rule_type",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			err := validate(tt.doc)
			if tt.wantErr == "" {
				assert.NoError(t, err)
				return
			}
			require.Error(t, err)
			assert.Contains(t, err.Error(), tt.wantErr)
		})
	}
}
