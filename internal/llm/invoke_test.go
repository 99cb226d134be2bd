package llm

import (
	"context"
	"errors"
	"net/http"
	"testing"
	"time"

	openai "github.com/sashabaranov/go-openai"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/dagbolade/trust-proxy/internal/llm/llmtest"
)

func newClient(t *testing.T, srv *llmtest.Server) Client {
	t.Helper()
	f := NewFactory(FactoryConfig{
		BaseURLs: map[string]string{"openai": srv.BaseURL()},
		Timeout:  5 * time.Second,
	})
	c, err := f.Client("openai", "sk-test")
	require.NoError(t, err)
	return c
}

var weatherCall = openai.ToolCall{
	ID:       "call_1",
	Type:     openai.ToolTypeFunction,
	Function: openai.FunctionCall{Name: "get_weather", Arguments: `{"city":"Paris"}`},
}

func TestFactoryUnknownProvider(t *testing.T) {
	f := NewFactory(FactoryConfig{BaseURLs: map[string]string{"openai": ""}})

	_, err := f.Client("mistral", "k")
	assert.ErrorIs(t, err, ErrUnknownProvider)
	assert.True(t, f.Supports("openai"))
	assert.False(t, f.Supports("mistral"))
}

func TestCompleteAndStreamAgree(t *testing.T) {
	srv := llmtest.NewServer(llmtest.Reply{
		Text:      "Checking the weather.",
		ToolCalls: []openai.ToolCall{weatherCall},
		Usage:     openai.Usage{PromptTokens: 10, CompletionTokens: 5, TotalTokens: 15},
	})
	defer srv.Close()
	c := newClient(t, srv)

	req := openai.ChatCompletionRequest{
		Model:    "gpt-4o",
		Messages: []openai.ChatCompletionMessage{{Role: "user", Content: "weather?"}},
	}

	_, direct, err := Complete(context.Background(), c, req)
	require.NoError(t, err)

	final, err := Stream(context.Background(), c, req)
	require.NoError(t, err)

	assert.Equal(t, direct, final.Completion)
	assert.Equal(t, "get_weather", final.Completion.Message.ToolCalls[0].Name)
	assert.Equal(t, 15, final.Completion.Usage.TotalTokens)

	reqs := srv.Requests()
	require.Len(t, reqs, 2)
	assert.False(t, reqs[0].Stream)
	assert.True(t, reqs[1].Stream)
	require.NotNil(t, reqs[1].StreamOptions)
	assert.True(t, reqs[1].StreamOptions.IncludeUsage)
	assert.Equal(t, []string{"sk-test", "sk-test"}, srv.APIKeys())
}

func TestUpstreamErrorMirrorsStatus(t *testing.T) {
	srv := llmtest.NewServer(llmtest.Reply{
		Status:  http.StatusTooManyRequests,
		ErrType: "rate_limit_error",
		ErrMsg:  "slow down",
	})
	defer srv.Close()
	c := newClient(t, srv)

	req := openai.ChatCompletionRequest{Model: "gpt-4o", Messages: []openai.ChatCompletionMessage{{Role: "user", Content: "hi"}}}

	_, _, err := Complete(context.Background(), c, req)
	var upstream *UpstreamError
	require.True(t, errors.As(err, &upstream))
	assert.Equal(t, http.StatusTooManyRequests, upstream.Status)
	assert.Equal(t, "rate_limit_error", upstream.Type)
	assert.Equal(t, "slow down", upstream.Message)

	_, err = Stream(context.Background(), c, req)
	require.True(t, errors.As(err, &upstream))
	assert.Equal(t, http.StatusTooManyRequests, upstream.Status)
}

func TestWrapErrorDefaultsTo500(t *testing.T) {
	err := wrapError(errors.New("connection refused"))

	var upstream *UpstreamError
	require.True(t, errors.As(err, &upstream))
	assert.Equal(t, http.StatusInternalServerError, upstream.Status)
	assert.Equal(t, ErrTypeUpstream, upstream.Type)
}

func TestWrapErrorKeepsCancellation(t *testing.T) {
	assert.ErrorIs(t, wrapError(context.Canceled), context.Canceled)

	var upstream *UpstreamError
	assert.False(t, errors.As(wrapError(context.Canceled), &upstream))
}
