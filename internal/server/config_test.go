package server

import (
	"os"
	"testing"
	"time"

	"github.com/dagbolade/trust-proxy/internal/routing"
)

func TestGetEnv(t *testing.T) {
	tests := []struct {
		name     string
		key      string
		fallback string
		setValue string
		expected string
	}{
		{
			name:     "uses env value",
			key:      "TEST_VAR",
			fallback: "default",
			setValue: "custom",
			expected: "custom",
		},
		{
			name:     "uses fallback",
			key:      "MISSING_VAR",
			fallback: "default",
			setValue: "",
			expected: "default",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if tt.setValue != "" {
				t.Setenv(tt.key, tt.setValue)
			}

			result := getEnv(tt.key, tt.fallback)
			if result != tt.expected {
				t.Errorf("expected %s, got %s", tt.expected, result)
			}
		})
	}
}

func TestGetEnvInt(t *testing.T) {
	tests := []struct {
		name     string
		key      string
		fallback int
		setValue string
		expected int
	}{
		{
			name:     "parses int",
			key:      "TEST_INT",
			fallback: 100,
			setValue: "200",
			expected: 200,
		},
		{
			name:     "uses fallback on invalid",
			key:      "TEST_INT",
			fallback: 100,
			setValue: "invalid",
			expected: 100,
		},
		{
			name:     "uses fallback when missing",
			key:      "MISSING_INT",
			fallback: 100,
			setValue: "",
			expected: 100,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if tt.setValue != "" {
				t.Setenv(tt.key, tt.setValue)
			} else {
				os.Unsetenv(tt.key)
			}

			result := getEnvInt(tt.key, tt.fallback)
			if result != tt.expected {
				t.Errorf("expected %d, got %d", tt.expected, result)
			}
		})
	}
}

func TestGetEnvBool(t *testing.T) {
	t.Setenv("TEST_BOOL", "TRUE")
	if !getEnvBool("TEST_BOOL", false) {
		t.Error("expected true")
	}

	t.Setenv("TEST_BOOL", "no")
	if getEnvBool("TEST_BOOL", true) {
		t.Error("expected false")
	}

	t.Setenv("TEST_BOOL", "maybe")
	if !getEnvBool("TEST_BOOL", true) {
		t.Error("expected fallback on unparsable value")
	}
}

func TestLoadConfig(t *testing.T) {
	t.Setenv("PORT", "9090")
	t.Setenv("OPENAI_BASE_URL", "http://localhost:4000/v1")
	t.Setenv("MAX_DELEGATION_DEPTH", "3")
	t.Setenv("STREAM_CHUNK_DELAY_MS", "0")
	t.Setenv("REQUIRE_AUTH", "true")
	t.Setenv("DEFAULT_AGENT_ID", "assistant")

	cfg := LoadConfig()

	if cfg.Port != 9090 {
		t.Errorf("expected port 9090, got %d", cfg.Port)
	}
	if cfg.ProviderBaseURLs[routing.ProviderOpenAI] != "http://localhost:4000/v1" {
		t.Errorf("expected custom openai base url, got %s", cfg.ProviderBaseURLs[routing.ProviderOpenAI])
	}
	if cfg.ReadTimeout != 30 {
		t.Errorf("expected default read timeout 30, got %d", cfg.ReadTimeout)
	}
	if !cfg.RequireAuth {
		t.Error("expected auth to be required")
	}

	if got := cfg.ExecutorConfig().MaxDepth; got != 3 {
		t.Errorf("expected max depth 3, got %d", got)
	}
	if got := cfg.ProxyConfig(); got.StreamChunkDelay != 0 || got.DefaultAgentID != "assistant" {
		t.Errorf("unexpected proxy config %+v", got)
	}
	if got := cfg.FactoryConfig().Timeout; got != 120*time.Second {
		t.Errorf("expected default upstream timeout, got %s", got)
	}
	if got := cfg.Defaults(); got.Provider != routing.ProviderOpenAI {
		t.Errorf("expected openai default provider, got %s", got.Provider)
	}
}
