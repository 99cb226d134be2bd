package routing

import "github.com/dagbolade/trust-proxy/internal/policy"

// RuleContext is what optimization rules are evaluated against.
type RuleContext struct {
	TokenCount int
	HasTools   bool
}

type ruleGroup struct {
	target string
	rules  []policy.OptimizationRule
}

// MatchByRules groups enabled rules by target model, in the order each target
// is first seen, and returns the first target whose rules all hold. ok is
// false when no group matches and the caller should keep its model.
func MatchByRules(rules []policy.OptimizationRule, ctx RuleContext) (model string, ok bool) {
	for _, g := range groupByTarget(rules) {
		if groupMatches(g, ctx) {
			return g.target, true
		}
	}
	return "", false
}

func groupByTarget(rules []policy.OptimizationRule) []ruleGroup {
	var groups []ruleGroup
	index := make(map[string]int)

	for _, r := range rules {
		if !r.Enabled {
			continue
		}
		i, seen := index[r.TargetModel]
		if !seen {
			i = len(groups)
			index[r.TargetModel] = i
			groups = append(groups, ruleGroup{target: r.TargetModel})
		}
		groups[i].rules = append(groups[i].rules, r)
	}
	return groups
}

func groupMatches(g ruleGroup, ctx RuleContext) bool {
	for _, r := range g.rules {
		if !ruleMatches(r, ctx) {
			return false
		}
	}
	return true
}

func ruleMatches(r policy.OptimizationRule, ctx RuleContext) bool {
	switch r.RuleType {
	case policy.RuleContentLength:
		return ctx.TokenCount <= r.Conditions.MaxLength
	case policy.RuleToolPresence:
		return ctx.HasTools == r.Conditions.HasTools
	default:
		return false
	}
}
