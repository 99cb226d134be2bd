package integration

import (
	"net/http"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/dagbolade/trust-proxy/internal/llm/llmtest"
	"github.com/dagbolade/trust-proxy/internal/policy"
)

const optimizationCatalog = `
optimization_rules:
  - id: short-prompts
    entity_type: organization
    entity_id: org-1
    rule_type: content_length
    provider: openai
    target_model: gpt-4o-mini
    enabled: true
    conditions:
      max_length: 1000
`

// TestCatalogHotReload adds an optimization rule to the watched directory
// while the server is running and checks later requests are rerouted.
func TestCatalogHotReload(t *testing.T) {
	env := SetupTestEnvironment(t, llmtest.Reply{Text: "ok"})

	resp := env.Chat(t, "before", "hello")
	resp.Body.Close()
	require.Equal(t, http.StatusOK, resp.StatusCode)

	env.WriteCatalogFile(t, "10-rules.yaml", optimizationCatalog)

	require.Eventually(t, func() bool {
		return len(env.Catalog.OptimizationRules("org-1", nil, "openai")) == 1
	}, 5*time.Second, 50*time.Millisecond)

	resp = env.Chat(t, "after", "hello")
	resp.Body.Close()
	require.Equal(t, http.StatusOK, resp.StatusCode)

	reqs := env.Upstream.Requests()
	require.Len(t, reqs, 2)
	assert.Equal(t, "gpt-4o", reqs[0].Model)
	assert.Equal(t, "gpt-4o-mini", reqs[1].Model)
}

// TestCatalogReloadKeepsServingOnInvalidFile writes a broken file and checks
// the previous catalog stays in effect.
func TestCatalogReloadKeepsServingOnInvalidFile(t *testing.T) {
	env := SetupTestEnvironment(t, llmtest.Reply{Text: "ok"})

	env.WriteCatalogFile(t, "10-broken.yaml", "agents:\n  - id: assistant\n    type: robot\n")
	time.Sleep(time.Second)

	agent, ok := env.Catalog.Agent("assistant")
	require.True(t, ok)
	assert.Equal(t, policy.AgentTypeExternal, agent.Type)

	resp := env.Chat(t, "still-serving", "hello")
	resp.Body.Close()
	assert.Equal(t, http.StatusOK, resp.StatusCode)
}
