package integration

import (
	"bytes"
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/dagbolade/trust-proxy/internal/auth"
	"github.com/dagbolade/trust-proxy/internal/llm/llmtest"
	"github.com/dagbolade/trust-proxy/internal/metrics"
	"github.com/dagbolade/trust-proxy/internal/policy"
	"github.com/dagbolade/trust-proxy/internal/proxy"
	"github.com/dagbolade/trust-proxy/internal/routing"
	"github.com/dagbolade/trust-proxy/internal/server"
	"github.com/dagbolade/trust-proxy/internal/store"
)

const baseCatalog = `
agents:
  - id: assistant
    organization_id: org-1
    type: external
trusted_data_policies:
  - tool_name: read_inbox
    trusted_by_default: false
tool_invocation_policies:
  - id: no-external-mail
    tool_name: send_email
    argument_name: to
    operator: glob
    value: "external@*"
    action: block_always
    reason: external recipients are not allowed
`

// TestEnvironment is a full server wired to a catalog directory on disk, a
// SQLite store and a scripted upstream.
type TestEnvironment struct {
	Server     *server.Server
	Catalog    *policy.Catalog
	Store      *store.SQLiteStore
	Upstream   *llmtest.Server
	HTTPServer *httptest.Server
	CatalogDir string
}

func SetupTestEnvironment(t *testing.T, replies ...llmtest.Reply) *TestEnvironment {
	t.Helper()

	tmpDir := t.TempDir()
	catalogDir := filepath.Join(tmpDir, "catalog")
	require.NoError(t, os.MkdirAll(catalogDir, 0755))
	writeFile(t, filepath.Join(catalogDir, "00-base.yaml"), baseCatalog)

	upstream := llmtest.NewServer(replies...)
	t.Cleanup(upstream.Close)

	catalog, err := policy.NewCatalog(catalogDir)
	require.NoError(t, err)
	t.Cleanup(func() { catalog.Close() })

	st, err := store.NewSQLiteStore(filepath.Join(tmpDir, "test.db"))
	require.NoError(t, err)
	t.Cleanup(func() { st.Close() })

	cfg := server.Config{
		Port:             8080,
		ShutdownTimeout:  1,
		DefaultModel:     "gpt-4o-mini",
		DefaultProvider:  routing.ProviderOpenAI,
		DefaultAgentID:   "assistant",
		ProviderBaseURLs: map[string]string{routing.ProviderOpenAI: upstream.BaseURL()},
		UpstreamTimeout:  5,
		ToolTimeout:      5,
		JWTSecret:        "test-secret",
	}

	srv, err := server.New(cfg, server.Deps{
		Catalog: catalog,
		Store:   st,
		Auth:    auth.NewManager(cfg.AuthConfig()),
		Metrics: metrics.New(),
	})
	require.NoError(t, err)

	httpServer := httptest.NewServer(srv.Handler())
	t.Cleanup(func() {
		httpServer.Close()
		srv.Shutdown(context.Background())
	})

	return &TestEnvironment{
		Server:     srv,
		Catalog:    catalog,
		Store:      st,
		Upstream:   upstream,
		HTTPServer: httpServer,
		CatalogDir: catalogDir,
	}
}

func (env *TestEnvironment) BaseURL() string {
	return env.HTTPServer.URL
}

// WriteCatalogFile adds or replaces a file in the watched catalog directory.
func (env *TestEnvironment) WriteCatalogFile(t *testing.T, name, content string) {
	t.Helper()
	writeFile(t, filepath.Join(env.CatalogDir, name), content)
}

// Chat posts a single user message through the OpenAI route.
func (env *TestEnvironment) Chat(t *testing.T, chatID, text string) *http.Response {
	t.Helper()

	body, err := json.Marshal(map[string]any{
		"model":    "gpt-4o",
		"messages": []map[string]string{{"role": "user", "content": text}},
	})
	require.NoError(t, err)

	req, err := http.NewRequest(http.MethodPost, env.BaseURL()+"/v1/openai/chat/completions", bytes.NewReader(body))
	require.NoError(t, err)
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("Authorization", "Bearer sk-client")
	if chatID != "" {
		req.Header.Set(proxy.HeaderChatID, chatID)
	}

	resp, err := http.DefaultClient.Do(req)
	require.NoError(t, err)
	return resp
}

func writeFile(t *testing.T, path, content string) {
	t.Helper()
	require.NoError(t, os.WriteFile(path, []byte(content), 0644))
}
