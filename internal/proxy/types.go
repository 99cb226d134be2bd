package proxy

import (
	"time"

	openai "github.com/sashabaranov/go-openai"

	"github.com/dagbolade/trust-proxy/internal/chat"
	"github.com/dagbolade/trust-proxy/internal/llm"
	"github.com/dagbolade/trust-proxy/internal/policy"
	"github.com/dagbolade/trust-proxy/internal/stream"
)

// Error types used in response bodies.
const (
	ErrTypeInvalidRequest = "invalid_request_error"
	ErrTypeNotFound       = "not_found_error"
	ErrTypeAuthentication = "authentication_error"
	ErrTypeUpstream       = llm.ErrTypeUpstream
	ErrTypeInternal       = "internal_error"
)

const (
	HeaderChatID  = "X-Chat-Id"
	HeaderAgentID = "X-Agent-Id"
)

type ErrorDetail struct {
	Message string `json:"message"`
	Type    string `json:"type"`
}

type ErrorBody struct {
	Error ErrorDetail `json:"error"`
}

type Config struct {
	DefaultAgentID   string
	StreamChunkDelay time.Duration
}

// Turn is one validated chat completion call.
type Turn struct {
	Provider string
	APIKey   string
	Agent    policy.Agent
	ChatID   string
	Request  openai.ChatCompletionRequest
	Messages []chat.Message
}

// Outcome is what goes back to the caller. Exactly one of Final and Response
// is set, depending on whether the request streamed.
type Outcome struct {
	Final      *stream.Final
	Response   openai.ChatCompletionResponse
	Completion chat.Completion
	Refused    bool
}
