package proxy

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"strings"

	"github.com/labstack/echo/v4"
	"github.com/rs/zerolog/log"
	openai "github.com/sashabaranov/go-openai"

	"github.com/dagbolade/trust-proxy/internal/chat"
	"github.com/dagbolade/trust-proxy/internal/llm"
	"github.com/dagbolade/trust-proxy/internal/metrics"
	"github.com/dagbolade/trust-proxy/internal/policy"
	"github.com/dagbolade/trust-proxy/internal/stream"
)

// ProviderSet reports which providers can be reached.
type ProviderSet interface {
	Supports(provider string) bool
}

type Handler struct {
	config       Config
	catalog      policy.Reader
	providers    ProviderSet
	orchestrator *Orchestrator
	metrics      *metrics.Metrics
}

func NewHandler(cfg Config, catalog policy.Reader, providers ProviderSet, orch *Orchestrator, m *metrics.Metrics) *Handler {
	return &Handler{
		config:       cfg,
		catalog:      catalog,
		providers:    providers,
		orchestrator: orch,
		metrics:      m,
	}
}

func (h *Handler) HandleChatCompletion(c echo.Context) error {
	ctx := c.Request().Context()
	provider := c.Param("provider")

	turn, status, errType, err := h.parseTurn(c)
	if err != nil {
		h.metrics.Request(provider, fmt.Sprint(status))
		return h.errorResponse(c, status, errType, err.Error())
	}

	c.Response().Header().Set(HeaderChatID, turn.ChatID)

	outcome, err := h.orchestrator.Handle(ctx, turn)
	if err != nil {
		return h.failure(c, provider, err)
	}

	h.metrics.Request(provider, "200")

	if outcome.Final != nil {
		return h.writeStream(ctx, c, outcome)
	}
	return c.JSON(http.StatusOK, outcome.Response)
}

func (h *Handler) parseTurn(c echo.Context) (Turn, int, string, error) {
	provider := c.Param("provider")
	if !h.providers.Supports(provider) {
		return Turn{}, http.StatusBadRequest, ErrTypeInvalidRequest, fmt.Errorf("unsupported provider %q", provider)
	}

	apiKey, ok := bearerToken(c.Request().Header.Get(echo.HeaderAuthorization))
	if !ok {
		return Turn{}, http.StatusUnauthorized, ErrTypeAuthentication, errors.New("missing provider API key")
	}

	var req openai.ChatCompletionRequest
	if err := json.NewDecoder(c.Request().Body).Decode(&req); err != nil {
		return Turn{}, http.StatusBadRequest, ErrTypeInvalidRequest, fmt.Errorf("invalid request body: %w", err)
	}
	if len(req.Messages) == 0 {
		return Turn{}, http.StatusBadRequest, ErrTypeInvalidRequest, errors.New("messages cannot be empty")
	}
	if req.Model == "" {
		return Turn{}, http.StatusBadRequest, ErrTypeInvalidRequest, errors.New("model is required")
	}

	msgs, err := chat.FromOpenAIMessages(req.Messages)
	if err != nil {
		return Turn{}, http.StatusBadRequest, ErrTypeInvalidRequest, err
	}
	for i, m := range msgs {
		if m.Role == chat.RoleTool && m.ToolCallID == "" {
			return Turn{}, http.StatusBadRequest, ErrTypeInvalidRequest, fmt.Errorf("message %d: tool message requires tool_call_id", i)
		}
	}

	agentID := h.agentID(c)
	if agentID == "" {
		return Turn{}, http.StatusBadRequest, ErrTypeInvalidRequest, errors.New("agent id is required")
	}
	agent, ok := h.catalog.Agent(agentID)
	if !ok {
		return Turn{}, http.StatusNotFound, ErrTypeNotFound, fmt.Errorf("agent %q not found", agentID)
	}

	chatID := c.Request().Header.Get(HeaderChatID)
	if chatID == "" {
		chatID = DeriveChatID(agent.ID, msgs)
	}

	return Turn{
		Provider: provider,
		APIKey:   apiKey,
		Agent:    agent,
		ChatID:   chatID,
		Request:  req,
		Messages: msgs,
	}, 0, "", nil
}

func (h *Handler) agentID(c echo.Context) string {
	if id := c.Param("agentId"); id != "" {
		return id
	}
	if id := c.Request().Header.Get(HeaderAgentID); id != "" {
		return id
	}
	return h.config.DefaultAgentID
}

func (h *Handler) writeStream(ctx context.Context, c echo.Context, outcome *Outcome) error {
	resp := c.Response()
	stream.SetHeaders(resp.Header())
	resp.WriteHeader(http.StatusOK)

	if err := stream.NewWriter(resp, h.config.StreamChunkDelay).Write(ctx, outcome.Final); err != nil {
		log.Warn().Err(err).Msg("client stream interrupted")
	}
	return nil
}

func (h *Handler) failure(c echo.Context, provider string, err error) error {
	var upstream *llm.UpstreamError
	switch {
	case errors.As(err, &upstream):
		h.metrics.Request(provider, fmt.Sprint(upstream.Status))
		log.Warn().Err(err).Int("status", upstream.Status).Msg("upstream call failed")
		return h.errorResponse(c, upstream.Status, upstream.Type, upstream.Message)
	case errors.Is(err, llm.ErrUnknownProvider):
		h.metrics.Request(provider, "400")
		return h.errorResponse(c, http.StatusBadRequest, ErrTypeInvalidRequest, err.Error())
	case errors.Is(err, context.Canceled):
		h.metrics.Request(provider, "499")
		log.Info().Msg("client cancelled request")
		return h.errorResponse(c, http.StatusInternalServerError, ErrTypeInternal, "request cancelled")
	default:
		h.metrics.Request(provider, "500")
		log.Error().Err(err).Msg("chat completion failed")
		return h.errorResponse(c, http.StatusInternalServerError, ErrTypeInternal, "internal error")
	}
}

func (h *Handler) errorResponse(c echo.Context, status int, errType, message string) error {
	if status == 0 {
		status = http.StatusInternalServerError
	}
	return c.JSON(status, ErrorBody{Error: ErrorDetail{Message: message, Type: errType}})
}

func bearerToken(header string) (string, bool) {
	const prefix = "Bearer "
	if !strings.HasPrefix(header, prefix) {
		return "", false
	}
	token := strings.TrimSpace(header[len(prefix):])
	return token, token != ""
}
