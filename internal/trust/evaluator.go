package trust

import (
	"fmt"

	"github.com/rs/zerolog/log"

	"github.com/dagbolade/trust-proxy/internal/chat"
	"github.com/dagbolade/trust-proxy/internal/policy"
)

// Verdict is the trust outcome for one tool result. Reason is always set.
type Verdict struct {
	IsTrusted    bool   `json:"is_trusted"`
	Reason       string `json:"trust_reason"`
	UsageAllowed bool   `json:"usage_allowed"`
}

// Refusal causes.
const (
	CauseBlocked   = "block_always"
	CauseUntrusted = "untrusted_context"
)

// CallDecision is the outcome for one pending tool call.
type CallDecision struct {
	Call     chat.ToolCall
	Refused  bool
	Cause    string
	Reason   string
	PolicyID string
}

type Evaluator struct {
	catalog policy.Reader
}

func NewEvaluator(catalog policy.Reader) *Evaluator {
	return &Evaluator{catalog: catalog}
}

// EvaluateResult decides whether the output of toolName, as seen by agentID,
// is trusted. Tools without a policy produce untrusted output that may still
// be used.
func (e *Evaluator) EvaluateResult(agentID, toolName, output string) Verdict {
	p, ok := e.catalog.TrustedDataPolicy(agentID, toolName)
	if !ok {
		return Verdict{
			IsTrusted:    false,
			UsageAllowed: true,
			Reason:       fmt.Sprintf("no trusted data policy for tool %s; treated as untrusted", toolName),
		}
	}

	if p.TrustedByDefault {
		return Verdict{
			IsTrusted:    true,
			UsageAllowed: true,
			Reason:       fmt.Sprintf("tool %s is trusted by default", toolName),
		}
	}

	if p.HasCondition() {
		if actual, found := lookup(output, p.AttributePath); found && matches(p.Operator, actual, p.Value) {
			return Verdict{
				IsTrusted:    true,
				UsageAllowed: true,
				Reason:       fmt.Sprintf("output of %s satisfies %s %s %q", toolName, attributeLabel(p.AttributePath), p.Operator, p.Value),
			}
		}
	}

	reason := fmt.Sprintf("output of %s did not satisfy the trusted data policy", toolName)
	if !p.AllowUsageWhenUntrusted {
		reason += "; usage blocked"
	}
	return Verdict{
		IsTrusted:    false,
		UsageAllowed: p.AllowUsageWhenUntrusted,
		Reason:       reason,
	}
}

// EvaluateCall decides whether call may run given whether the conversation
// already holds tainted tool output. Any matching block_always policy refuses
// the call. On tainted context the call additionally needs a matching
// allow_when_context_is_untrusted exception.
func (e *Evaluator) EvaluateCall(agentID string, call chat.ToolCall, tainted bool) CallDecision {
	decision := CallDecision{Call: call}
	excepted := false

	for _, p := range e.catalog.ToolInvocationPolicies(agentID, call.Name) {
		actual, found := lookup(call.Arguments, p.ArgumentName)
		if !found || p.ArgumentName == "" || !matches(p.Operator, actual, p.Value) {
			continue
		}

		switch p.Action {
		case policy.ActionBlockAlways:
			decision.Refused = true
			decision.Cause = CauseBlocked
			decision.PolicyID = p.ID
			decision.Reason = p.Reason
			if decision.Reason == "" {
				decision.Reason = fmt.Sprintf("argument %s of tool %q is blocked by policy", p.ArgumentName, call.Name)
			}
			log.Info().
				Str("tool", call.Name).
				Str("policy_id", p.ID).
				Msg("tool call refused")
			return decision
		case policy.ActionAllowWhenUntrusted:
			excepted = true
		}
	}

	if tainted && !excepted {
		decision.Refused = true
		decision.Cause = CauseUntrusted
		decision.Reason = fmt.Sprintf("tool %q cannot be invoked: the conversation contains untrusted data", call.Name)
		log.Info().Str("tool", call.Name).Msg("tool call refused on untrusted context")
	}

	return decision
}

// EvaluateCalls evaluates every call of an assistant message and returns the
// first refusal, if any.
func (e *Evaluator) EvaluateCalls(agentID string, calls []chat.ToolCall, tainted bool) (CallDecision, bool) {
	for _, c := range calls {
		if d := e.EvaluateCall(agentID, c, tainted); d.Refused {
			return d, true
		}
	}
	return CallDecision{}, false
}

func attributeLabel(path string) string {
	if path == "" {
		return "output"
	}
	return path
}

// WithheldNotice is what the model sees in place of tool output whose
// policy forbids untrusted usage.
func WithheldNotice(v Verdict) string {
	return fmt.Sprintf("[tool output withheld: %s]", v.Reason)
}
