package router

import (
	"context"
	"fmt"

	celgo "github.com/google/cel-go/cel"

	"github.com/mcprt/mcprt/internal/adapter/outbound/cel"
	"github.com/mcprt/mcprt/internal/domain/policy"
)

// CELPolicyGate adapts the teacher's CEL evaluator
// (internal/adapter/outbound/cel, internal/domain/policy) into a
// router.ToolPolicyGate: an ordered list of compiled rules, evaluated
// first-match, giving the google/cel-go dependency a concrete home at
// the router layer alongside the teacher's own RBAC policy engine
// (§4.3 "Custom CEL-based tool policies... wired in as an optional
// additional gate alongside RBAC").
type CELPolicyGate struct {
	evaluator *cel.Evaluator
	rules     []compiledRule
}

type compiledRule struct {
	rule    policy.Rule
	program celgo.Program
}

// NewCELPolicyGate compiles every rule once at construction time; a rule
// that fails to compile makes construction return an error so callers
// can fail fast during startup rather than per-request.
func NewCELPolicyGate(rules []policy.Rule) (*CELPolicyGate, error) {
	ev, err := cel.NewEvaluator()
	if err != nil {
		return nil, fmt.Errorf("router: cel policy gate: %w", err)
	}
	g := &CELPolicyGate{evaluator: ev}
	for _, rule := range rules {
		if rule.Condition == "" {
			g.rules = append(g.rules, compiledRule{rule: rule})
			continue
		}
		prog, err := ev.Compile(rule.Condition)
		if err != nil {
			return nil, fmt.Errorf("router: compiling policy rule %s: %w", rule.ID, err)
		}
		g.rules = append(g.rules, compiledRule{rule: rule, program: prog})
	}
	return g, nil
}

// Evaluate implements router.ToolPolicyGate: the first rule whose
// ToolMatch pattern matches toolName and whose CEL condition (if any)
// evaluates true determines the outcome; no matching rule allows by
// default (fail-open on tool selection, fail-closed is the operator's
// responsibility via an explicit deny-all trailing rule).
func (g *CELPolicyGate) Evaluate(ctx context.Context, toolName string, args map[string]any, auth *AuthInfo) (bool, string, error) {
	roles := []string{}
	if auth != nil {
		roles = auth.Roles
	}

	for _, cr := range g.rules {
		matched, err := CompilePattern(cr.rule.ToolMatch)
		if err != nil {
			continue
		}
		if !matched.MatchString(toolName) {
			continue
		}
		if cr.program != nil {
			out, _, err := cr.program.Eval(map[string]any{
				"tool_name":  toolName,
				"tool_args":  args,
				"user_roles": roles,
			})
			if err != nil {
				return false, "", fmt.Errorf("router: evaluating policy rule %s: %w", cr.rule.ID, err)
			}
			allowed, ok := out.Value().(bool)
			if !ok || !allowed {
				continue
			}
		}
		switch cr.rule.Action {
		case policy.ActionDeny:
			return false, ruleDenyReason(cr.rule), nil
		case policy.ActionAllow:
			return true, "", nil
		default:
			// ApprovalTimeout/ApprovalRequired rules are a human-in-the-loop
			// concern the router doesn't itself implement; treat as deny
			// so the caller sees an explicit rejection rather than a
			// silent pass-through.
			return false, ruleDenyReason(cr.rule), nil
		}
	}
	return true, "", nil
}

func ruleDenyReason(rule policy.Rule) string {
	if rule.HelpText != "" {
		return rule.HelpText
	}
	return fmt.Sprintf("denied by policy rule %s", rule.Name)
}

var _ ToolPolicyGate = (*CELPolicyGate)(nil)
