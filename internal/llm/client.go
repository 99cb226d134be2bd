package llm

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"time"

	openai "github.com/sashabaranov/go-openai"
)

var ErrUnknownProvider = errors.New("unknown provider")

// Client is the subset of the OpenAI client used to reach any provider with an
// OpenAI-compatible endpoint. *openai.Client satisfies it.
type Client interface {
	CreateChatCompletion(ctx context.Context, req openai.ChatCompletionRequest) (openai.ChatCompletionResponse, error)
	CreateChatCompletionStream(ctx context.Context, req openai.ChatCompletionRequest) (*openai.ChatCompletionStream, error)
}

// ClientFactory builds a client for a provider and API key.
type ClientFactory interface {
	Client(provider, apiKey string) (Client, error)
}

type FactoryConfig struct {
	BaseURLs map[string]string
	Timeout  time.Duration
}

type Factory struct {
	baseURLs map[string]string
	http     *http.Client
}

func NewFactory(cfg FactoryConfig) *Factory {
	return &Factory{
		baseURLs: cfg.BaseURLs,
		http:     &http.Client{Timeout: cfg.Timeout},
	}
}

func (f *Factory) Supports(provider string) bool {
	_, ok := f.baseURLs[provider]
	return ok
}

func (f *Factory) Client(provider, apiKey string) (Client, error) {
	base, ok := f.baseURLs[provider]
	if !ok {
		return nil, fmt.Errorf("%w: %s", ErrUnknownProvider, provider)
	}

	config := openai.DefaultConfig(apiKey)
	if base != "" {
		config.BaseURL = base
	}
	config.HTTPClient = f.http

	return openai.NewClientWithConfig(config), nil
}
