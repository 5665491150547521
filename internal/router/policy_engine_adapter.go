package router

import (
	"context"

	"github.com/mcprt/mcprt/internal/domain/policy"
)

// PolicyEngineAdapter lets a ToolPolicyGate (the CEL gate above) stand in
// for the interceptor chain's policy.PolicyEngine (internal/domain/proxy's
// PolicyInterceptor), so the chain's RBAC gate is backed by the same
// compiled CEL rules the router itself consults rather than a second,
// separate rule engine. EvaluationContext.UserRoles feeds the gate's
// AuthInfo.Roles; every other policy.EvaluationContext field not carried
// by AuthInfo (Framework, destination fields, etc.) is unavailable to CEL
// expressions evaluated through this path — callers needing those should
// consult the gate directly through the router instead.
type PolicyEngineAdapter struct {
	gate ToolPolicyGate
}

// NewPolicyEngineAdapter wraps gate as a policy.PolicyEngine.
func NewPolicyEngineAdapter(gate ToolPolicyGate) *PolicyEngineAdapter {
	return &PolicyEngineAdapter{gate: gate}
}

// Evaluate implements policy.PolicyEngine.
func (a *PolicyEngineAdapter) Evaluate(ctx context.Context, evalCtx policy.EvaluationContext) (policy.Decision, error) {
	auth := &AuthInfo{Subject: evalCtx.IdentityID, Roles: evalCtx.UserRoles}
	allowed, reason, err := a.gate.Evaluate(ctx, evalCtx.ToolName, evalCtx.ToolArguments, auth)
	if err != nil {
		return policy.Decision{}, err
	}
	return policy.Decision{Allowed: allowed, Reason: reason}, nil
}

var _ policy.PolicyEngine = (*PolicyEngineAdapter)(nil)
