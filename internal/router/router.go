package router

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"strings"
	"sync"
	"sync/atomic"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/trace"

	"github.com/mcprt/mcprt/internal/mcperr"
	"github.com/mcprt/mcprt/internal/router/schema"
	"github.com/mcprt/mcprt/pkg/jsonrpc"
	"github.com/mcprt/mcprt/pkg/mcp"
)

// DefaultMaxConcurrentRequests is route_batch's default concurrency cap
// (§4.3).
const DefaultMaxConcurrentRequests = 1000

// InitializeFunc negotiates protocol version/capabilities for the
// `initialize` method.
type InitializeFunc func(*RequestContext, mcp.InitializeRequest) (*mcp.InitializeResult, error)

// ResourcesListFunc enumerates concrete (non-templated) resources.
type ResourcesListFunc func(*RequestContext) (*mcp.ResourcesListResult, error)

// SamplingFunc, RootsFunc, ElicitFunc, CompleteFunc back the reverse-shaped
// methods when this router is acting on the server side of a proxy that
// re-exposes client capabilities (§4.3's sampling/createMessage row).
type SamplingFunc func(*RequestContext, mcp.CreateMessageRequest) (*mcp.CreateMessageResult, error)
type RootsFunc func(*RequestContext) (*mcp.RootsListResult, error)
type ElicitFunc func(*RequestContext, mcp.ElicitRequest) (*mcp.ElicitResult, error)
type CompleteFunc func(*RequestContext, mcp.CompleteRequest) (*mcp.CompleteResult, error)

// ToolPolicyGate is consulted, in addition to RBAC, before a tools/call
// handler runs. Implementations wrap the teacher's CEL evaluator
// (internal/adapter/outbound/cel) over internal/domain/policy rules; nil
// means no additional gate.
type ToolPolicyGate interface {
	Evaluate(ctx context.Context, toolName string, args map[string]any, auth *AuthInfo) (allow bool, reason string, err error)
}

// Router dispatches parsed JSON-RPC requests to the registered handlers
// (§4.3). It owns the handler registry, RBAC/policy gates, subscription
// bookkeeping, the bidirectional dispatcher capability, and the
// logging/setLevel state.
type Router struct {
	Registry *Registry

	dispatcher    ServerRequestDispatcher
	maxConcurrent int

	policyGate ToolPolicyGate
	logger     *slog.Logger
	tracer     trace.Tracer

	logLevel atomic.Value // mcp.LogLevel

	Initialize    InitializeFunc
	ListResources ResourcesListFunc
	Sampling      SamplingFunc
	Roots         RootsFunc
	Elicit        ElicitFunc
	Complete      CompleteFunc
}

// Option configures a Router at construction time.
type Option func(*Router)

// WithDispatcher installs the bidirectional ServerRequestDispatcher
// capability (§4.3, §9).
func WithDispatcher(d ServerRequestDispatcher) Option {
	return func(r *Router) { r.dispatcher = d }
}

// WithMaxConcurrentRequests overrides route_batch's concurrency cap.
func WithMaxConcurrentRequests(n int) Option {
	return func(r *Router) {
		if n > 0 {
			r.maxConcurrent = n
		}
	}
}

// WithPolicyGate installs an additional tool-call gate evaluated after
// RBAC (§4.3's "optional additional gate alongside RBAC").
func WithPolicyGate(g ToolPolicyGate) Option {
	return func(r *Router) { r.policyGate = g }
}

// WithLogger overrides the router's slog logger (defaults to
// slog.Default()).
func WithLogger(l *slog.Logger) Option {
	return func(r *Router) {
		if l != nil {
			r.logger = l
		}
	}
}

// New constructs a Router over reg with the given options.
func New(reg *Registry, opts ...Option) *Router {
	r := &Router{
		Registry:      reg,
		dispatcher:    noopDispatcher{},
		maxConcurrent: DefaultMaxConcurrentRequests,
		logger:        slog.Default(),
		tracer:        otel.Tracer("github.com/mcprt/mcprt/internal/router"),
	}
	r.logLevel.Store(mcp.LogLevelInfo)
	for _, opt := range opts {
		opt(r)
	}
	return r
}

// LogLevel returns the server's current minimum emitted log level.
func (r *Router) LogLevel() mcp.LogLevel { return r.logLevel.Load().(mcp.LogLevel) }

// newContext builds a RequestContext for one dispatch, wiring in the
// router's dispatcher capability unless the caller already supplied one
// (e.g. a per-session dispatcher bound to a specific transport).
func (r *Router) newContext(ctx context.Context, meta Metadata) *RequestContext {
	d := r.dispatcher
	if d == nil {
		d = noopDispatcher{}
	}
	return &RequestContext{Context: ctx, Metadata: meta, Dispatcher: d}
}

// Route dispatches one parsed request and returns its response. Route
// never panics the caller: a handler panic is recovered and converted to
// a -32603 response for that request only (§7).
func (r *Router) Route(ctx context.Context, meta Metadata, req *jsonrpc.Request) (resp *jsonrpc.Response) {
	ctx, span := r.tracer.Start(ctx, "router.dispatch."+req.Method)
	defer span.End()

	defer func() {
		if rec := recover(); rec != nil {
			r.logger.Error("router: handler panicked", "method", req.Method, "recover", rec)
			resp = jsonrpc.NewErrorResponse(req.ID, mcperr.ToJSONRPC(mcperr.Internal(fmt.Errorf("panic: %v", rec))))
		}
	}()

	rc := r.newContext(ctx, meta)
	result, err := r.dispatch(rc, req.Method, req.Params)
	if err != nil {
		return jsonrpc.NewErrorResponse(req.ID, mcperr.ToJSONRPC(err))
	}
	raw, merr := json.Marshal(result)
	if merr != nil {
		return jsonrpc.NewErrorResponse(req.ID, mcperr.ToJSONRPC(mcperr.SerializationFailed(merr)))
	}
	return jsonrpc.NewResultResponse(req.ID, raw)
}

// RouteNotification dispatches a fire-and-forget notification. Its result
// (if any) and any error are discarded after logging, per §5: notifications
// never receive a response.
func (r *Router) RouteNotification(ctx context.Context, meta Metadata, note *jsonrpc.Notification) {
	rc := r.newContext(ctx, meta)
	if _, err := r.dispatch(rc, note.Method, note.Params); err != nil {
		r.logger.Warn("router: notification handler failed", "method", note.Method, "error", err)
	}
}

// RouteBatch processes requests with bounded concurrency equal to
// maxConcurrent (default 1000) and returns responses in completion order;
// clients match responses to requests by id (§4.3, §5).
func (r *Router) RouteBatch(ctx context.Context, meta Metadata, reqs []*jsonrpc.Request) []*jsonrpc.Response {
	out := make(chan *jsonrpc.Response, len(reqs))
	sem := make(chan struct{}, r.maxConcurrent)
	var wg sync.WaitGroup

	for _, req := range reqs {
		req := req
		wg.Add(1)
		sem <- struct{}{}
		go func() {
			defer wg.Done()
			defer func() { <-sem }()
			out <- r.Route(ctx, meta, req)
		}()
	}
	go func() {
		wg.Wait()
		close(out)
	}()

	responses := make([]*jsonrpc.Response, 0, len(reqs))
	for resp := range out {
		responses = append(responses, resp)
	}
	return responses
}

// dispatch consults the built-in dispatch table first, falling back to
// user-registered custom routes, then "method not found" (§4.3).
func (r *Router) dispatch(rc *RequestContext, method string, params json.RawMessage) (any, error) {
	switch method {
	case mcp.MethodInitialize:
		return r.handleInitialize(rc, params)
	case mcp.MethodToolsList:
		return mcp.ToolsListResult{Tools: r.Registry.ListTools()}, nil
	case mcp.MethodToolsCall:
		return r.handleToolsCall(rc, params)
	case mcp.MethodPromptsList:
		return mcp.PromptsListResult{Prompts: r.Registry.ListPrompts()}, nil
	case mcp.MethodPromptsGet:
		return r.handlePromptsGet(rc, params)
	case mcp.MethodResourcesList:
		return r.handleResourcesList(rc)
	case mcp.MethodResourcesRead:
		return r.handleResourcesRead(rc, params)
	case mcp.MethodResourcesSubscribe:
		return r.handleSubscribe(params)
	case mcp.MethodResourcesUnsubscribe:
		return r.handleUnsubscribe(params)
	case mcp.MethodResourceTemplatesList:
		return mcp.ResourceTemplatesListResult{ResourceTemplates: r.Registry.ListResourceTemplates()}, nil
	case mcp.MethodLoggingSetLevel:
		return r.handleSetLevel(params)
	case mcp.MethodSamplingCreateMessage:
		return r.handleSampling(rc, params)
	case mcp.MethodRootsList:
		return r.handleRoots(rc)
	case mcp.MethodElicitRequest:
		return r.handleElicit(rc, params)
	case mcp.MethodCompleteRequest:
		return r.handleComplete(rc, params)
	case mcp.MethodPingRequest:
		return mcp.PingRequest{}, nil
	default:
		if h, ok := r.Registry.custom(method); ok {
			return h(rc, params)
		}
		return nil, mcperr.MethodNotFound(method)
	}
}

func (r *Router) handleInitialize(rc *RequestContext, params json.RawMessage) (any, error) {
	if r.Initialize == nil {
		return nil, mcperr.MethodNotFound(mcp.MethodInitialize)
	}
	var req mcp.InitializeRequest
	if err := unmarshalParams(params, &req); err != nil {
		return nil, err
	}
	return r.Initialize(rc, req)
}

// handleToolsCall validates params against the tool's declared schema
// (draft-07), enforces RBAC and the optional policy gate, then invokes
// the handler (§4.3).
func (r *Router) handleToolsCall(rc *RequestContext, params json.RawMessage) (any, error) {
	var req mcp.CallToolRequest
	if err := unmarshalParams(params, &req); err != nil {
		return nil, err
	}

	entry, ok := r.Registry.tool(req.Name)
	if !ok {
		return nil, mcperr.NotFound("tool", req.Name)
	}

	args, err := decodeArguments(req.Arguments)
	if err != nil {
		return nil, err
	}

	if len(entry.tool.InputSchema) > 0 {
		var schemaDoc map[string]any
		if err := json.Unmarshal(entry.tool.InputSchema, &schemaDoc); err != nil {
			return nil, mcperr.Internal(fmt.Errorf("router: invalid input schema for tool %s: %w", req.Name, err))
		}
		if verr := schema.Validate(schemaDoc, toAny(args)); verr != nil {
			return nil, mcperr.InvalidParams(verr.Error())
		}
	}

	if len(entry.roles) > 0 && !rc.Metadata.Auth.HasAnyRole(entry.roles) {
		return nil, mcperr.AuthenticationRequired("insufficient role for tool " + req.Name)
	}

	if r.policyGate != nil {
		allow, reason, err := r.policyGate.Evaluate(rc.Context, req.Name, args, rc.Metadata.Auth)
		if err != nil {
			return nil, mcperr.Internal(err)
		}
		if !allow {
			return nil, mcperr.AuthorizationDenied(reason)
		}
	}

	return entry.handler(rc, req)
}

func (r *Router) handlePromptsGet(rc *RequestContext, params json.RawMessage) (any, error) {
	var req mcp.GetPromptRequest
	if err := unmarshalParams(params, &req); err != nil {
		return nil, err
	}
	entry, ok := r.Registry.prompt(req.Name)
	if !ok {
		return nil, mcperr.NotFound("prompt", req.Name)
	}
	return entry.handler(rc, req)
}

func (r *Router) handleResourcesList(rc *RequestContext) (any, error) {
	if r.ListResources == nil {
		return mcp.ResourcesListResult{}, nil
	}
	return r.ListResources(rc)
}

func (r *Router) handleResourcesRead(rc *RequestContext, params json.RawMessage) (any, error) {
	var req mcp.ReadResourceRequest
	if err := unmarshalParams(params, &req); err != nil {
		return nil, err
	}
	pattern, ok := r.Registry.matchResource(req.URI)
	if !ok {
		return nil, mcperr.NotFound("resource", req.URI)
	}
	return pattern.handler(rc, req)
}

func (r *Router) handleSubscribe(params json.RawMessage) (any, error) {
	var req mcp.SubscribeRequest
	if err := unmarshalParams(params, &req); err != nil {
		return nil, err
	}
	r.Registry.Subscribe(req.URI)
	return struct{}{}, nil
}

func (r *Router) handleUnsubscribe(params json.RawMessage) (any, error) {
	var req mcp.UnsubscribeRequest
	if err := unmarshalParams(params, &req); err != nil {
		return nil, err
	}
	r.Registry.Unsubscribe(req.URI)
	return struct{}{}, nil
}

func (r *Router) handleSetLevel(params json.RawMessage) (any, error) {
	var req mcp.SetLevelRequest
	if err := unmarshalParams(params, &req); err != nil {
		return nil, err
	}
	r.logLevel.Store(req.Level)
	return struct{}{}, nil
}

func (r *Router) handleSampling(rc *RequestContext, params json.RawMessage) (any, error) {
	if r.Sampling == nil {
		return nil, mcperr.MethodNotFound(mcp.MethodSamplingCreateMessage)
	}
	var req mcp.CreateMessageRequest
	if err := unmarshalParams(params, &req); err != nil {
		return nil, err
	}
	return r.Sampling(rc, req)
}

func (r *Router) handleRoots(rc *RequestContext) (any, error) {
	if r.Roots == nil {
		return nil, mcperr.MethodNotFound(mcp.MethodRootsList)
	}
	return r.Roots(rc)
}

func (r *Router) handleElicit(rc *RequestContext, params json.RawMessage) (any, error) {
	if r.Elicit == nil {
		return nil, mcperr.MethodNotFound(mcp.MethodElicitRequest)
	}
	var req mcp.ElicitRequest
	if err := unmarshalParams(params, &req); err != nil {
		return nil, err
	}
	return r.Elicit(rc, req)
}

func (r *Router) handleComplete(rc *RequestContext, params json.RawMessage) (any, error) {
	if r.Complete == nil {
		return nil, mcperr.MethodNotFound(mcp.MethodCompleteRequest)
	}
	var req mcp.CompleteRequest
	if err := unmarshalParams(params, &req); err != nil {
		return nil, err
	}
	return r.Complete(rc, req)
}

func unmarshalParams(params json.RawMessage, v any) error {
	if len(params) == 0 {
		return nil
	}
	if err := json.Unmarshal(params, v); err != nil {
		return mcperr.InvalidParams("invalid params: " + err.Error())
	}
	return nil
}

func decodeArguments(raw json.RawMessage) (map[string]any, error) {
	if len(raw) == 0 {
		return map[string]any{}, nil
	}
	var m map[string]any
	if err := json.Unmarshal(raw, &m); err != nil {
		return nil, mcperr.InvalidParams("arguments: " + err.Error())
	}
	return m, nil
}

func toAny(m map[string]any) any { return map[string]any(m) }

// MethodPath normalizes a dotted method name's first segment, used by
// metrics/tracing labels that want to group e.g. "tools/list" and
// "tools/call" under "tools" without a full taxonomy switch.
func MethodPath(method string) string {
	if i := strings.IndexByte(method, '/'); i >= 0 {
		return method[:i]
	}
	return method
}
