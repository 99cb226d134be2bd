package policy

import (
	"errors"
	"fmt"
)

func validate(doc Document) error {
	var errs []error

	agents := make(map[string]bool, len(doc.Agents))
	for i, a := range doc.Agents {
		if a.ID == "" {
			errs = append(errs, fmt.Errorf("agents[%d]: id is required", i))
			continue
		}
		if agents[a.ID] {
			errs = append(errs, fmt.Errorf("agents[%d]: duplicate id %q", i, a.ID))
		}
		agents[a.ID] = true
		if a.Type != AgentTypeInternal && a.Type != AgentTypeExternal {
			errs = append(errs, fmt.Errorf("agent %q: invalid type %q", a.ID, a.Type))
		}
	}

	for i, c := range doc.Credentials {
		if c.ID == "" {
			errs = append(errs, fmt.Errorf("credentials[%d]: id is required", i))
		}
		switch c.Scope {
		case ScopeOrgWide, ScopeTeam, ScopePersonal:
		default:
			errs = append(errs, fmt.Errorf("credential %q: invalid scope %q", c.ID, c.Scope))
		}
	}

	for i, p := range doc.TrustedDataPolicies {
		if p.ToolName == "" {
			errs = append(errs, fmt.Errorf("trusted_data_policies[%d]: tool_name is required", i))
		}
		if p.HasCondition() && !isValidOperator(p.Operator) {
			errs = append(errs, fmt.Errorf("trusted_data_policies[%d]: invalid operator %q", i, p.Operator))
		}
	}

	for i, p := range doc.ToolInvocationPolicies {
		if p.ToolName == "" || p.ArgumentName == "" {
			errs = append(errs, fmt.Errorf("tool_invocation_policies[%d]: tool_name and argument_name are required", i))
		}
		if !isValidOperator(p.Operator) {
			errs = append(errs, fmt.Errorf("tool_invocation_policies[%d]: invalid operator %q", i, p.Operator))
		}
		if p.Action != ActionAllowWhenUntrusted && p.Action != ActionBlockAlways {
			errs = append(errs, fmt.Errorf("tool_invocation_policies[%d]: invalid action %q", i, p.Action))
		}
	}

	for i, r := range doc.OptimizationRules {
		if r.TargetModel == "" {
			errs = append(errs, fmt.Errorf("optimization_rules[%d]: target_model is required", i))
		}
		if r.EntityType != EntityOrganization && r.EntityType != EntityTeam {
			errs = append(errs, fmt.Errorf("optimization_rules[%d]: invalid entity_type %q", i, r.EntityType))
		}
		if r.RuleType != RuleContentLength && r.RuleType != RuleToolPresence {
			errs = append(errs, fmt.Errorf("optimization_rules[%d]: invalid rule_type %q", i, r.RuleType))
		}
	}

	return errors.Join(errs...)
}

func isValidOperator(op Operator) bool {
	switch op {
	case OpEqual, OpNotEqual, OpContains, OpNotContains, OpStartsWith, OpEndsWith, OpRegex, OpGlob:
		return true
	}
	return false
}
