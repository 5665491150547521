package router

import (
	"context"

	"github.com/mcprt/mcprt/pkg/mcp"
)

// AuthInfo is the identity/role information a transport-level gate (API
// key, OAuth bearer token) attaches to a request before it reaches the
// router. RBAC (§4.3) reads Roles; the bidirectional dispatcher and audit
// trail read Subject.
type AuthInfo struct {
	Subject string
	Roles   []string
	Scopes  []string
}

// HasAnyRole reports whether a is nil-safe and carries at least one of the
// required roles.
func (a *AuthInfo) HasAnyRole(required []string) bool {
	if a == nil || len(required) == 0 {
		return len(required) == 0
	}
	have := make(map[string]struct{}, len(a.Roles))
	for _, r := range a.Roles {
		have[r] = struct{}{}
	}
	for _, r := range required {
		if _, ok := have[r]; ok {
			return true
		}
	}
	return false
}

// Metadata carries out-of-band request context: the authenticated caller,
// the originating session (Streamable HTTP), and a free-form bag for
// interceptor-to-interceptor data (mirrors the teacher's mcp.Message
// metadata pattern, generalized to the router).
type Metadata struct {
	Auth      *AuthInfo
	SessionID string
	Extra     map[string]any
}

// ServerRequestDispatcher is the narrow capability a tool/prompt/resource
// handler uses to issue a server->client reverse request (sampling,
// elicitation, roots) while handling a client request (§4.3, §9 "pass it
// as an ambient capability to avoid ownership cycles"). The router
// implements this by delegating to whatever transport+pending-table the
// inbound request arrived on; if none is configured, every method returns
// mcperr.HandlerNotConfigured.
type ServerRequestDispatcher interface {
	CreateMessage(ctx context.Context, req mcp.CreateMessageRequest) (*mcp.CreateMessageResult, error)
	Elicit(ctx context.Context, req mcp.ElicitRequest) (*mcp.ElicitResult, error)
	ListRoots(ctx context.Context) (*mcp.RootsListResult, error)
}

// RequestContext is threaded through every handler invocation. It is
// deliberately a plain value passed by the router, not embedded in the
// request payload, so a handler cannot accidentally retain a cycle back
// into the router (§9).
type RequestContext struct {
	Context    context.Context
	Metadata   Metadata
	Dispatcher ServerRequestDispatcher
}

// noopDispatcher is installed when the router has no bidirectional
// capability configured; every call fails with the typed HandlerError.
type noopDispatcher struct{}

func (noopDispatcher) CreateMessage(context.Context, mcp.CreateMessageRequest) (*mcp.CreateMessageResult, error) {
	return nil, errDispatcherNotConfigured
}

func (noopDispatcher) Elicit(context.Context, mcp.ElicitRequest) (*mcp.ElicitResult, error) {
	return nil, errDispatcherNotConfigured
}

func (noopDispatcher) ListRoots(context.Context) (*mcp.RootsListResult, error) {
	return nil, errDispatcherNotConfigured
}
