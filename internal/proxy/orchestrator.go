package proxy

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/rs/zerolog/log"
	openai "github.com/sashabaranov/go-openai"

	"github.com/dagbolade/trust-proxy/internal/chat"
	"github.com/dagbolade/trust-proxy/internal/llm"
	"github.com/dagbolade/trust-proxy/internal/metrics"
	"github.com/dagbolade/trust-proxy/internal/policy"
	"github.com/dagbolade/trust-proxy/internal/routing"
	"github.com/dagbolade/trust-proxy/internal/store"
	"github.com/dagbolade/trust-proxy/internal/stream"
	"github.com/dagbolade/trust-proxy/internal/trust"
)

// Orchestrator runs one chat completion through persistence, trust
// evaluation, model routing, the upstream call and refusal rewriting.
type Orchestrator struct {
	catalog policy.Reader
	store   store.Store
	trust   *trust.Evaluator
	clients llm.ClientFactory
	metrics *metrics.Metrics
}

func NewOrchestrator(catalog policy.Reader, st store.Store, clients llm.ClientFactory, m *metrics.Metrics) *Orchestrator {
	return &Orchestrator{
		catalog: catalog,
		store:   st,
		trust:   trust.NewEvaluator(catalog),
		clients: clients,
		metrics: m,
	}
}

func (o *Orchestrator) Handle(ctx context.Context, turn Turn) (*Outcome, error) {
	if err := o.store.EnsureChat(ctx, turn.ChatID, turn.Agent.ID); err != nil {
		return nil, fmt.Errorf("ensure chat: %w", err)
	}

	if err := o.store.UpsertTools(ctx, turn.Agent.ID, requestTools(turn.Request.Tools)); err != nil {
		return nil, fmt.Errorf("upsert tools: %w", err)
	}

	if err := o.recordToolResults(ctx, &turn); err != nil {
		return nil, err
	}

	if err := o.recordUserMessages(ctx, turn); err != nil {
		return nil, err
	}

	o.applyOptimization(&turn)

	outcome, err := o.invoke(ctx, turn)
	if err != nil {
		return nil, err
	}

	tainted, err := o.store.ChatTainted(ctx, turn.ChatID)
	if err != nil {
		return nil, fmt.Errorf("trust snapshot: %w", err)
	}

	if decision, refused := o.trust.EvaluateCalls(turn.Agent.ID, outcome.Completion.Message.ToolCalls, tainted); refused {
		if err := o.refuse(outcome, decision); err != nil {
			return nil, err
		}
		o.metrics.Refusal("proxy", decision.Cause)
	}

	// The assistant turn is recorded even when the client has gone away.
	_, err = o.store.Append(context.WithoutCancel(ctx), store.Interaction{
		ChatID:  turn.ChatID,
		Message: outcome.Completion.Message,
		Refused: outcome.Refused,
	})
	if err != nil {
		return nil, fmt.Errorf("persist assistant message: %w", err)
	}

	log.Info().
		Str("chat_id", turn.ChatID).
		Str("agent_id", turn.Agent.ID).
		Str("provider", turn.Provider).
		Str("model", turn.Request.Model).
		Bool("stream", turn.Request.Stream).
		Bool("tainted", tainted).
		Bool("refused", outcome.Refused).
		Msg("chat completion handled")

	return outcome, nil
}

// recordToolResults persists every tool result not seen before with its trust
// verdict and withholds outputs whose policy forbids untrusted usage.
func (o *Orchestrator) recordToolResults(ctx context.Context, turn *Turn) error {
	for i, msg := range turn.Messages {
		if msg.Role != chat.RoleTool {
			continue
		}

		toolName := o.toolNameFor(ctx, *turn, i)
		verdict := o.trust.EvaluateResult(turn.Agent.ID, toolName, msg.Text())

		_, err := o.store.ToolResult(ctx, turn.ChatID, msg.ToolCallID)
		switch {
		case err == nil:
			// recorded in an earlier turn; its taint stays as written
		case errors.Is(err, store.ErrNotFound):
			_, err := o.store.Append(ctx, store.Interaction{
				ChatID:      turn.ChatID,
				Message:     msg,
				ToolName:    toolName,
				Tainted:     !verdict.IsTrusted,
				TaintReason: taintReason(verdict),
			})
			switch {
			case err == nil:
				o.metrics.ToolResult(verdict.IsTrusted)
			case errors.Is(err, store.ErrDuplicate):
				// a concurrent turn of the same chat recorded it first
			default:
				return fmt.Errorf("persist tool result: %w", err)
			}
		default:
			return fmt.Errorf("lookup tool result: %w", err)
		}

		if !verdict.UsageAllowed {
			turn.Request.Messages[i].Content = trust.WithheldNotice(verdict)
			turn.Request.Messages[i].MultiContent = nil
			log.Info().Str("tool", toolName).Str("chat_id", turn.ChatID).Msg("tool output withheld from upstream")
		}
	}
	return nil
}

// toolNameFor finds the tool behind the tool result at index i, first among
// the assistant messages of the request, then in the tool call index.
func (o *Orchestrator) toolNameFor(ctx context.Context, turn Turn, i int) string {
	id := turn.Messages[i].ToolCallID
	for j := i - 1; j >= 0; j-- {
		for _, tc := range turn.Messages[j].ToolCalls {
			if tc.ID == id {
				return tc.Name
			}
		}
	}

	if rec, err := o.store.ToolCall(ctx, turn.ChatID, id); err == nil {
		return rec.ToolName
	}
	if name := turn.Messages[i].Name; name != "" {
		return name
	}
	return "unknown"
}

// recordUserMessages persists the user messages after the last assistant
// message, which are the ones new in this turn.
func (o *Orchestrator) recordUserMessages(ctx context.Context, turn Turn) error {
	start := 0
	for i := len(turn.Messages) - 1; i >= 0; i-- {
		if turn.Messages[i].Role == chat.RoleAssistant {
			start = i + 1
			break
		}
	}

	for _, msg := range turn.Messages[start:] {
		if msg.Role != chat.RoleUser {
			continue
		}
		if _, err := o.store.Append(ctx, store.Interaction{ChatID: turn.ChatID, Message: msg}); err != nil {
			return fmt.Errorf("persist user message: %w", err)
		}
	}
	return nil
}

func (o *Orchestrator) applyOptimization(turn *Turn) {
	rules := o.catalog.OptimizationRules(turn.Agent.OrganizationID, turn.Agent.TeamIDs, turn.Provider)
	if len(rules) == 0 {
		return
	}

	ctx := routing.RuleContext{
		TokenCount: routing.EstimateTokens(turn.Messages),
		HasTools:   len(turn.Request.Tools) > 0,
	}
	model, ok := routing.MatchByRules(rules, ctx)
	if !ok || model == turn.Request.Model {
		return
	}

	log.Info().
		Str("agent_id", turn.Agent.ID).
		Str("from", turn.Request.Model).
		Str("to", model).
		Int("tokens", ctx.TokenCount).
		Msg("optimization rule matched")

	turn.Request.Model = model
	o.metrics.Optimization(model)
}

func (o *Orchestrator) invoke(ctx context.Context, turn Turn) (*Outcome, error) {
	client, err := o.clients.Client(turn.Provider, turn.APIKey)
	if err != nil {
		return nil, err
	}

	start := time.Now()
	defer func() { o.metrics.Upstream(turn.Provider, turn.Request.Stream, time.Since(start)) }()

	if turn.Request.Stream {
		final, err := llm.Stream(ctx, client, turn.Request)
		if err != nil {
			return nil, err
		}
		return &Outcome{Final: final, Completion: final.Completion}, nil
	}

	resp, completion, err := llm.Complete(ctx, client, turn.Request)
	if err != nil {
		return nil, err
	}
	return &Outcome{Response: resp, Completion: completion}, nil
}

// refuse replaces the assistant turn with a refusal message.
func (o *Orchestrator) refuse(out *Outcome, decision trust.CallDecision) error {
	text, err := trust.RefusalMessage(decision)
	if err != nil {
		return err
	}

	usage := out.Completion.Usage
	out.Refused = true
	out.Completion = chat.Completion{
		Message:      chat.TextMessage(chat.RoleAssistant, text),
		FinishReason: string(openai.FinishReasonStop),
		Usage:        usage,
	}

	if out.Final != nil {
		var like openai.ChatCompletionStreamResponse
		if len(out.Final.Chunks) > 0 {
			like = out.Final.Chunks[0]
		}
		out.Final.Replace(stream.TextChunk(like, text, streamUsage(usage)))
		return nil
	}

	out.Response.Choices = []openai.ChatCompletionChoice{{
		Index:        0,
		Message:      openai.ChatCompletionMessage{Role: openai.ChatMessageRoleAssistant, Content: text},
		FinishReason: openai.FinishReasonStop,
	}}
	return nil
}

func streamUsage(u chat.Usage) *openai.Usage {
	if u == (chat.Usage{}) {
		return nil
	}
	return &openai.Usage{
		PromptTokens:     u.PromptTokens,
		CompletionTokens: u.CompletionTokens,
		TotalTokens:      u.TotalTokens,
	}
}

func requestTools(tools []openai.Tool) []store.Tool {
	var out []store.Tool
	for _, t := range tools {
		if t.Function == nil || t.Function.Name == "" {
			continue
		}
		params, err := json.Marshal(t.Function.Parameters)
		if err != nil || string(params) == "null" {
			params = []byte("{}")
		}
		out = append(out, store.Tool{
			Name:        t.Function.Name,
			Description: t.Function.Description,
			Parameters:  params,
		})
	}
	return out
}

func taintReason(v trust.Verdict) string {
	if v.IsTrusted {
		return ""
	}
	return v.Reason
}
