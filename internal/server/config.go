package server

import (
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/dagbolade/trust-proxy/internal/a2a"
	"github.com/dagbolade/trust-proxy/internal/auth"
	"github.com/dagbolade/trust-proxy/internal/llm"
	"github.com/dagbolade/trust-proxy/internal/proxy"
	"github.com/dagbolade/trust-proxy/internal/routing"
)

// Config is read once at startup. Durations are whole seconds unless the
// name says otherwise.
type Config struct {
	Port            int
	ReadTimeout     int
	WriteTimeout    int
	ShutdownTimeout int

	DBPath     string
	CatalogDir string

	DefaultModel    string
	DefaultProvider string
	DefaultAgentID  string

	ProviderBaseURLs map[string]string
	ProviderAPIKeys  map[string]string
	UpstreamTimeout  int
	StreamDelayMS    int

	A2AMaxSteps        int
	MaxDelegationDepth int
	ToolTimeout        int

	RequireAuth bool
	JWTSecret   string
	AuthUsers   string
	LogLevel    string
}

func LoadConfig() Config {
	return Config{
		Port:            getEnvInt("PORT", 8080),
		ReadTimeout:     getEnvInt("READ_TIMEOUT", 30),
		WriteTimeout:    getEnvInt("WRITE_TIMEOUT", 120),
		ShutdownTimeout: getEnvInt("SHUTDOWN_TIMEOUT", 10),

		DBPath:     getEnv("DB_PATH", "./db/trust-proxy.db"),
		CatalogDir: getEnv("CATALOG_DIR", "./catalog"),

		DefaultModel:    getEnv("DEFAULT_MODEL", "gpt-4o-mini"),
		DefaultProvider: getEnv("DEFAULT_PROVIDER", routing.ProviderOpenAI),
		DefaultAgentID:  getEnv("DEFAULT_AGENT_ID", ""),

		ProviderBaseURLs: map[string]string{
			routing.ProviderOpenAI:    getEnv("OPENAI_BASE_URL", "https://api.openai.com/v1"),
			routing.ProviderAnthropic: getEnv("ANTHROPIC_BASE_URL", "https://api.anthropic.com/v1"),
			routing.ProviderGemini:    getEnv("GEMINI_BASE_URL", "https://generativelanguage.googleapis.com/v1beta/openai"),
		},
		ProviderAPIKeys: map[string]string{
			routing.ProviderOpenAI:    os.Getenv("OPENAI_API_KEY"),
			routing.ProviderAnthropic: os.Getenv("ANTHROPIC_API_KEY"),
			routing.ProviderGemini:    os.Getenv("GEMINI_API_KEY"),
		},
		UpstreamTimeout: getEnvInt("UPSTREAM_TIMEOUT", 120),
		StreamDelayMS:   getEnvInt("STREAM_CHUNK_DELAY_MS", 10),

		A2AMaxSteps:        getEnvInt("A2A_MAX_STEPS", 5),
		MaxDelegationDepth: getEnvInt("MAX_DELEGATION_DEPTH", 5),
		ToolTimeout:        getEnvInt("TOOL_TIMEOUT", 30),

		RequireAuth: getEnvBool("REQUIRE_AUTH", false),
		JWTSecret:   os.Getenv("JWT_SECRET"),
		AuthUsers:   getEnv("AUTH_USERS", auth.DefaultUsers),
		LogLevel:    getEnv("LOG_LEVEL", "info"),
	}
}

func (c Config) ProxyConfig() proxy.Config {
	return proxy.Config{
		DefaultAgentID:   c.DefaultAgentID,
		StreamChunkDelay: time.Duration(c.StreamDelayMS) * time.Millisecond,
	}
}

func (c Config) FactoryConfig() llm.FactoryConfig {
	return llm.FactoryConfig{
		BaseURLs: c.ProviderBaseURLs,
		Timeout:  time.Duration(c.UpstreamTimeout) * time.Second,
	}
}

func (c Config) ExecutorConfig() a2a.Config {
	return a2a.Config{
		MaxSteps: c.A2AMaxSteps,
		MaxDepth: c.MaxDelegationDepth,
		APIKeys:  c.ProviderAPIKeys,
	}
}

func (c Config) AuthConfig() auth.Config {
	return auth.Config{
		JWTSecret:       c.JWTSecret,
		TokenExpiration: 24 * time.Hour,
		RequireAuth:     c.RequireAuth,
	}
}

func (c Config) Defaults() routing.Defaults {
	return routing.Defaults{Model: c.DefaultModel, Provider: c.DefaultProvider}
}

func getEnv(key, fallback string) string {
	if value := os.Getenv(key); value != "" {
		return value
	}
	return fallback
}

func getEnvInt(key string, fallback int) int {
	if value := os.Getenv(key); value != "" {
		if intVal, err := strconv.Atoi(value); err == nil {
			return intVal
		}
	}
	return fallback
}

func getEnvBool(key string, fallback bool) bool {
	switch strings.ToLower(os.Getenv(key)) {
	case "1", "true", "yes":
		return true
	case "0", "false", "no":
		return false
	}
	return fallback
}
