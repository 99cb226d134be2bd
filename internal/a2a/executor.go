package a2a

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strings"

	"github.com/google/uuid"
	"github.com/rs/zerolog/log"
	openai "github.com/sashabaranov/go-openai"
	"github.com/tidwall/gjson"

	"github.com/dagbolade/trust-proxy/internal/chat"
	"github.com/dagbolade/trust-proxy/internal/llm"
	"github.com/dagbolade/trust-proxy/internal/metrics"
	"github.com/dagbolade/trust-proxy/internal/policy"
	"github.com/dagbolade/trust-proxy/internal/routing"
	"github.com/dagbolade/trust-proxy/internal/store"
	"github.com/dagbolade/trust-proxy/internal/toolexec"
	"github.com/dagbolade/trust-proxy/internal/trust"
)

// DelegateToolPrefix names the tools that hand a task to another agent.
const DelegateToolPrefix = "delegate_to_"

const (
	defaultMaxSteps = 5
	defaultMaxDepth = 5
)

var delegateParameters = map[string]any{
	"type": "object",
	"properties": map[string]any{
		"message": map[string]any{
			"type":        "string",
			"description": "The task for the agent, stated in full.",
		},
	},
	"required": []string{"message"},
}

var emptyParameters = map[string]any{
	"type":       "object",
	"properties": map[string]any{},
}

type Config struct {
	MaxSteps int
	MaxDepth int
	// APIKeys holds the provider keys used when the resolved model has no
	// credential of its own.
	APIKeys map[string]string
}

type Request struct {
	AgentID               string `json:"-"`
	Message               string `json:"message"`
	OrganizationID        string `json:"organization_id"`
	UserID                string `json:"user_id"`
	SessionID             string `json:"session_id,omitempty"`
	ParentDelegationChain string `json:"parent_delegation_chain,omitempty"`
}

type Result struct {
	MessageID       string     `json:"message_id"`
	SessionID       string     `json:"session_id"`
	Text            string     `json:"text"`
	FinishReason    string     `json:"finish_reason"`
	Usage           chat.Usage `json:"usage"`
	DelegationChain string     `json:"delegation_chain"`
	Refused         bool       `json:"refused,omitempty"`
}

// Executor runs an internal agent as one bounded turn on behalf of a caller.
type Executor struct {
	config   Config
	catalog  policy.Reader
	store    store.Store
	resolver *routing.Resolver
	clients  llm.ClientFactory
	trust    *trust.Evaluator
	tools    *toolexec.Forwarder
	metrics  *metrics.Metrics
}

func NewExecutor(cfg Config, catalog policy.Reader, st store.Store, resolver *routing.Resolver, clients llm.ClientFactory, tools *toolexec.Forwarder, m *metrics.Metrics) *Executor {
	if cfg.MaxSteps <= 0 {
		cfg.MaxSteps = defaultMaxSteps
	}
	if cfg.MaxDepth <= 0 {
		cfg.MaxDepth = defaultMaxDepth
	}
	return &Executor{
		config:   cfg,
		catalog:  catalog,
		store:    st,
		resolver: resolver,
		clients:  clients,
		trust:    trust.NewEvaluator(catalog),
		tools:    tools,
		metrics:  m,
	}
}

// turn is the state of one agent run.
type turn struct {
	agent     policy.Agent
	req       Request
	chain     Chain
	sessionID string
	model     string
	client    llm.Client
	tools     []openai.Tool
	delegates map[string]bool
	usage     chat.Usage
}

func (e *Executor) Execute(ctx context.Context, req Request) (*Result, error) {
	res, err := e.execute(ctx, req)

	var notDelegatable *NotDelegatableError
	switch {
	case err == nil && res.Refused:
		e.metrics.Delegation("refused")
	case err == nil:
		e.metrics.Delegation("ok")
	case errors.Is(err, ErrDelegationDepthExceeded):
		e.metrics.Delegation("depth_exceeded")
	case errors.Is(err, ErrAgentNotFound), errors.As(err, &notDelegatable):
		e.metrics.Delegation("rejected")
	default:
		e.metrics.Delegation("error")
	}
	return res, err
}

func (e *Executor) execute(ctx context.Context, req Request) (*Result, error) {
	agent, ok := e.catalog.Agent(req.AgentID)
	if !ok {
		return nil, fmt.Errorf("%w: %s", ErrAgentNotFound, req.AgentID)
	}
	if !agent.Delegatable() {
		return nil, &NotDelegatableError{AgentID: agent.ID, Type: string(agent.Type)}
	}

	chain := Chain(req.ParentDelegationChain).Extend(agent.ID)
	if chain.Depth() > e.config.MaxDepth {
		log.Warn().Str("chain", chain.String()).Int("max_depth", e.config.MaxDepth).Msg("delegation refused, chain too deep")
		return nil, fmt.Errorf("%w: %s", ErrDelegationDepthExceeded, chain)
	}

	resolution, err := e.resolver.Resolve(routing.ResolveRequest{
		AgentID:        agent.ID,
		OrganizationID: req.OrganizationID,
		UserID:         req.UserID,
	})
	if err != nil {
		return nil, err
	}

	apiKey := e.apiKey(resolution)
	if apiKey == "" {
		return nil, fmt.Errorf("%w: %s", ErrNoAPIKey, resolution.Provider)
	}
	client, err := e.clients.Client(resolution.Provider, apiKey)
	if err != nil {
		return nil, err
	}

	sessionID := req.SessionID
	if sessionID == "" {
		sessionID = "a2a_" + uuid.NewString()
	}
	if err := e.store.EnsureChat(ctx, sessionID, agent.ID); err != nil {
		return nil, fmt.Errorf("ensure session: %w", err)
	}

	tools, err := e.toolsFor(ctx, agent)
	if err != nil {
		return nil, err
	}

	t := &turn{
		agent:     agent,
		req:       req,
		chain:     chain,
		sessionID: sessionID,
		model:     resolution.Model,
		client:    client,
		tools:     tools,
		delegates: make(map[string]bool, len(agent.Delegates)),
	}
	for _, id := range agent.Delegates {
		t.delegates[id] = true
	}

	log.Info().
		Str("agent_id", agent.ID).
		Str("chain", chain.String()).
		Str("session_id", sessionID).
		Str("model", resolution.Model).
		Int("tools", len(tools)).
		Msg("delegated turn started")

	return e.run(ctx, t)
}

func (e *Executor) run(ctx context.Context, t *turn) (*Result, error) {
	user := chat.TextMessage(chat.RoleUser, t.req.Message)
	if _, err := e.store.Append(ctx, store.Interaction{ChatID: t.sessionID, Message: user}); err != nil {
		return nil, fmt.Errorf("persist user message: %w", err)
	}

	messages := initialMessages(t.agent, user)

	for step := 1; ; step++ {
		req := openai.ChatCompletionRequest{
			Model:    t.model,
			Messages: messages,
		}
		// The last step has no tools so the model has to answer.
		if step < e.config.MaxSteps {
			req.Tools = t.tools
		}

		final, err := llm.Stream(ctx, t.client, req)
		if err != nil {
			return nil, err
		}
		completion := final.Completion
		t.usage = addUsage(t.usage, completion.Usage)

		tainted, err := e.store.ChatTainted(ctx, t.sessionID)
		if err != nil {
			return nil, fmt.Errorf("trust snapshot: %w", err)
		}

		if decision, refused := e.trust.EvaluateCalls(t.agent.ID, completion.Message.ToolCalls, tainted); refused {
			return e.refuse(ctx, t, decision)
		}

		if _, err := e.store.Append(ctx, store.Interaction{ChatID: t.sessionID, Message: completion.Message}); err != nil {
			return nil, fmt.Errorf("persist assistant message: %w", err)
		}

		if !completion.Message.HasToolCalls() || step >= e.config.MaxSteps {
			return e.result(t, completion.Message.Text(), completion.FinishReason, false)
		}

		messages = append(messages, chat.ToOpenAI(completion.Message))
		for _, call := range completion.Message.ToolCalls {
			output, err := e.runTool(ctx, t, call)
			if err != nil {
				return nil, err
			}
			msg, err := e.recordToolResult(ctx, t, call, output)
			if err != nil {
				return nil, err
			}
			messages = append(messages, msg)
		}

		log.Debug().Str("agent_id", t.agent.ID).Int("step", step).Int("tool_calls", len(completion.Message.ToolCalls)).Msg("delegated step completed")
	}
}

func (e *Executor) refuse(ctx context.Context, t *turn, decision trust.CallDecision) (*Result, error) {
	text, err := trust.RefusalMessage(decision)
	if err != nil {
		return nil, err
	}

	_, err = e.store.Append(ctx, store.Interaction{
		ChatID:  t.sessionID,
		Message: chat.TextMessage(chat.RoleAssistant, text),
		Refused: true,
	})
	if err != nil {
		return nil, fmt.Errorf("persist refusal: %w", err)
	}

	e.metrics.Refusal("a2a", decision.Cause)
	return e.result(t, text, string(openai.FinishReasonStop), true)
}

// runTool executes one tool call. Delegation tools recurse into Execute with
// the extended chain; catalog tools go to their upstream.
func (e *Executor) runTool(ctx context.Context, t *turn, call chat.ToolCall) (string, error) {
	if target, ok := strings.CutPrefix(call.Name, DelegateToolPrefix); ok && t.delegates[target] {
		message := gjson.Get(call.Arguments, "message").String()
		if message == "" {
			return "delegation requires a non-empty message argument", nil
		}

		nested, err := e.Execute(ctx, Request{
			AgentID:               target,
			Message:               message,
			OrganizationID:        t.req.OrganizationID,
			UserID:                t.req.UserID,
			ParentDelegationChain: t.chain.String(),
		})
		if err != nil {
			return "", fmt.Errorf("delegate to %s: %w", target, err)
		}
		return nested.Text, nil
	}

	tool, ok := e.catalog.Tool(call.Name)
	if !ok || tool.Upstream == "" {
		log.Warn().Str("tool", call.Name).Str("agent_id", t.agent.ID).Msg("tool has no upstream")
		return fmt.Sprintf("tool %s cannot be executed in a delegated turn", call.Name), nil
	}

	out, err := e.tools.Forward(ctx, tool.Upstream, toolexec.Request{
		ToolName: call.Name,
		Args:     json.RawMessage(call.Arguments),
		AgentID:  t.agent.ID,
		ChatID:   t.sessionID,
	})
	if err != nil {
		return "", fmt.Errorf("tool %s: %w", call.Name, err)
	}
	return string(out), nil
}

func (e *Executor) recordToolResult(ctx context.Context, t *turn, call chat.ToolCall, output string) (openai.ChatCompletionMessage, error) {
	verdict := e.trust.EvaluateResult(t.agent.ID, call.Name, output)

	msg := chat.TextMessage(chat.RoleTool, output)
	msg.ToolCallID = call.ID
	msg.Name = call.Name

	in := store.Interaction{
		ChatID:   t.sessionID,
		Message:  msg,
		ToolName: call.Name,
		Tainted:  !verdict.IsTrusted,
	}
	if !verdict.IsTrusted {
		in.TaintReason = verdict.Reason
	}
	switch _, err := e.store.Append(ctx, in); {
	case err == nil:
		e.metrics.ToolResult(verdict.IsTrusted)
	case errors.Is(err, store.ErrDuplicate):
		log.Warn().Str("tool_call_id", call.ID).Str("session_id", t.sessionID).Msg("model reused a tool call id")
	default:
		return openai.ChatCompletionMessage{}, fmt.Errorf("persist tool result: %w", err)
	}

	wire := chat.ToOpenAI(msg)
	if !verdict.UsageAllowed {
		wire.Content = trust.WithheldNotice(verdict)
	}
	return wire, nil
}

func (e *Executor) result(t *turn, text, finishReason string, refused bool) (*Result, error) {
	id, err := uuid.NewV7()
	if err != nil {
		return nil, fmt.Errorf("message id: %w", err)
	}

	log.Info().
		Str("agent_id", t.agent.ID).
		Str("chain", t.chain.String()).
		Str("finish_reason", finishReason).
		Bool("refused", refused).
		Int("total_tokens", t.usage.TotalTokens).
		Msg("delegated turn finished")

	return &Result{
		MessageID:       id.String(),
		SessionID:       t.sessionID,
		Text:            text,
		FinishReason:    finishReason,
		Usage:           t.usage,
		DelegationChain: t.chain.String(),
		Refused:         refused,
	}, nil
}

// toolsFor lists the catalog tools of the agent, the tools seen in its proxied
// traffic and one delegation tool per delegate. Names are unique, first wins.
func (e *Executor) toolsFor(ctx context.Context, agent policy.Agent) ([]openai.Tool, error) {
	stored, err := e.store.ToolsForAgent(ctx, agent.ID)
	if err != nil {
		return nil, fmt.Errorf("load agent tools: %w", err)
	}

	seen := make(map[string]bool)
	var out []openai.Tool
	add := func(name, description string, params any) {
		if seen[name] {
			return
		}
		seen[name] = true
		out = append(out, openai.Tool{
			Type: openai.ToolTypeFunction,
			Function: &openai.FunctionDefinition{
				Name:        name,
				Description: description,
				Parameters:  params,
			},
		})
	}

	for _, name := range agent.Tools {
		tool, ok := e.catalog.Tool(name)
		if !ok {
			log.Warn().Str("agent_id", agent.ID).Str("tool", name).Msg("agent references unknown tool")
			continue
		}
		var params any = emptyParameters
		if len(tool.Parameters) > 0 {
			params = tool.Parameters
		}
		add(tool.Name, tool.Description, params)
	}

	for _, tool := range stored {
		var params any = emptyParameters
		if len(tool.Parameters) > 0 && string(tool.Parameters) != "{}" {
			params = tool.Parameters
		}
		add(tool.Name, tool.Description, params)
	}

	for _, id := range agent.Delegates {
		add(DelegateToolPrefix+id, fmt.Sprintf("Hand a task to agent %s and receive its answer.", id), delegateParameters)
	}

	return out, nil
}

func (e *Executor) apiKey(res routing.Resolution) string {
	if res.Credential != nil && res.Credential.Secret != "" {
		return res.Credential.Secret
	}
	return e.config.APIKeys[res.Provider]
}

// initialMessages prefixes the user message with the agent's prompts joined by
// a blank line. No system message is sent when both prompts are empty.
func initialMessages(agent policy.Agent, user chat.Message) []openai.ChatCompletionMessage {
	var prompts []string
	for _, p := range []string{agent.SystemPrompt, agent.UserPrompt} {
		if strings.TrimSpace(p) != "" {
			prompts = append(prompts, p)
		}
	}

	var out []openai.ChatCompletionMessage
	if len(prompts) > 0 {
		out = append(out, openai.ChatCompletionMessage{
			Role:    openai.ChatMessageRoleSystem,
			Content: strings.Join(prompts, "\n\n"),
		})
	}
	return append(out, chat.ToOpenAI(user))
}

func addUsage(a, b chat.Usage) chat.Usage {
	return chat.Usage{
		PromptTokens:     a.PromptTokens + b.PromptTokens,
		CompletionTokens: a.CompletionTokens + b.CompletionTokens,
		TotalTokens:      a.TotalTokens + b.TotalTokens,
	}
}
