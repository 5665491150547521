// Package router implements the MCP protocol router (C3): the dispatch
// table, handler registry, request validation, RBAC gate, subscription
// bookkeeping, and the bidirectional server->client request capability
// threaded through RequestContext.
package router

import (
	"errors"
	"fmt"
	"regexp"
	"sort"
	"strings"
	"sync"

	"github.com/mcprt/mcprt/pkg/mcp"
)

var errDispatcherNotConfigured = errors.New("router: dispatcher not configured")

// ToolHandler invokes a registered tool.
type ToolHandler func(*RequestContext, mcp.CallToolRequest) (*mcp.CallToolResult, error)

// PromptHandler materializes a registered prompt.
type PromptHandler func(*RequestContext, mcp.GetPromptRequest) (*mcp.GetPromptResult, error)

// ResourceHandler reads a resource matching a registered URI pattern. The
// matched URI (which may differ from the pattern) is passed through.
type ResourceHandler func(*RequestContext, mcp.ReadResourceRequest) (*mcp.ReadResourceResult, error)

// CustomHandler backs a user-registered route that isn't one of the
// built-in dispatch-table methods (§4.3: "Custom routes register by
// method name and may not shadow built-ins").
type CustomHandler func(*RequestContext, []byte) (any, error)

// toolEntry pairs a handler with its declared schema and RBAC roles.
type toolEntry struct {
	tool    mcp.Tool
	handler ToolHandler
	roles   []string
}

// promptEntry pairs a handler with its declared metadata.
type promptEntry struct {
	prompt  mcp.Prompt
	handler PromptHandler
}

// resourcePattern is one compiled URI-pattern registration (§4.3): `*` ->
// `.*`, `{name}` -> `[^/]+`, other regex metacharacters in literal
// segments escaped, anchored at both ends. First match wins in
// registration order.
type resourcePattern struct {
	raw      string
	template mcp.ResourceTemplate
	re       *regexp.Regexp
	handler  ResourceHandler
}

// Registry holds every handler the router can dispatch to: tools,
// prompts, resource-URI patterns, plus the subscription counters and
// custom route table. Safe for concurrent registration and lookup.
type Registry struct {
	mu sync.RWMutex

	tools     map[string]*toolEntry
	prompts   map[string]*promptEntry
	resources []*resourcePattern // insertion order, first match wins
	customs   map[string]CustomHandler

	subMu sync.Mutex
	subs  map[string]int // URI -> active subscriber count
}

// NewRegistry returns an empty registry.
func NewRegistry() *Registry {
	return &Registry{
		tools:   make(map[string]*toolEntry),
		prompts: make(map[string]*promptEntry),
		customs: make(map[string]CustomHandler),
		subs:    make(map[string]int),
	}
}

// RegisterTool adds a tool handler, optionally gated by required roles
// (RBAC, §4.3).
func (r *Registry) RegisterTool(tool mcp.Tool, roles []string, h ToolHandler) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.tools[tool.Name] = &toolEntry{tool: tool, handler: h, roles: roles}
}

// Tool returns the entry for name, or (nil, false).
func (r *Registry) tool(name string) (*toolEntry, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	e, ok := r.tools[name]
	return e, ok
}

// ListTools returns the registered tools sorted by name, for a stable
// tools/list response.
func (r *Registry) ListTools() []mcp.Tool {
	r.mu.RLock()
	defer r.mu.RUnlock()
	out := make([]mcp.Tool, 0, len(r.tools))
	for _, e := range r.tools {
		out = append(out, e.tool)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Name < out[j].Name })
	return out
}

// RegisterPrompt adds a prompt handler.
func (r *Registry) RegisterPrompt(prompt mcp.Prompt, h PromptHandler) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.prompts[prompt.Name] = &promptEntry{prompt: prompt, handler: h}
}

func (r *Registry) prompt(name string) (*promptEntry, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	e, ok := r.prompts[name]
	return e, ok
}

// ListPrompts returns the registered prompts sorted by name.
func (r *Registry) ListPrompts() []mcp.Prompt {
	r.mu.RLock()
	defer r.mu.RUnlock()
	out := make([]mcp.Prompt, 0, len(r.prompts))
	for _, e := range r.prompts {
		out = append(out, e.prompt)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Name < out[j].Name })
	return out
}

// CompilePattern turns a URI-pattern registration into an anchored regex:
// `*` greedily matches any run of characters, `{word}` matches a single
// non-slash path segment, and every other regex metacharacter occurring
// in a literal segment is escaped (§4.3, §8).
func CompilePattern(pattern string) (*regexp.Regexp, error) {
	var b strings.Builder
	b.WriteString("^")
	i := 0
	for i < len(pattern) {
		switch {
		case pattern[i] == '*':
			b.WriteString(".*")
			i++
		case pattern[i] == '{':
			end := strings.IndexByte(pattern[i:], '}')
			if end < 0 {
				return nil, fmt.Errorf("router: unterminated placeholder in pattern %q", pattern)
			}
			b.WriteString("[^/]+")
			i += end + 1
		default:
			// Accumulate a run of literal bytes up to the next '*' or '{'
			// and escape it as one regex literal.
			start := i
			for i < len(pattern) && pattern[i] != '*' && pattern[i] != '{' {
				i++
			}
			b.WriteString(regexp.QuoteMeta(pattern[start:i]))
		}
	}
	b.WriteString("$")
	return regexp.Compile(b.String())
}

// RegisterResource registers a URI-pattern resource handler. Patterns are
// tried in registration order; first match wins (§4.3).
func (r *Registry) RegisterResource(pattern string, template mcp.ResourceTemplate, h ResourceHandler) error {
	re, err := CompilePattern(pattern)
	if err != nil {
		return err
	}
	r.mu.Lock()
	defer r.mu.Unlock()
	r.resources = append(r.resources, &resourcePattern{raw: pattern, template: template, re: re, handler: h})
	return nil
}

// matchResource returns the first registered pattern (in registration
// order) whose compiled regex matches uri.
func (r *Registry) matchResource(uri string) (*resourcePattern, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	for _, p := range r.resources {
		if p.re.MatchString(uri) {
			return p, true
		}
	}
	return nil, false
}

// ListResourceTemplates returns every registered pattern's template
// metadata, in registration order.
func (r *Registry) ListResourceTemplates() []mcp.ResourceTemplate {
	r.mu.RLock()
	defer r.mu.RUnlock()
	out := make([]mcp.ResourceTemplate, 0, len(r.resources))
	for _, p := range r.resources {
		out = append(out, p.template)
	}
	return out
}

// builtinMethods is the fixed dispatch-table method set; custom routes
// may not shadow any of these (§4.3).
var builtinMethods = map[string]struct{}{
	mcp.MethodInitialize:            {},
	mcp.MethodToolsList:             {},
	mcp.MethodToolsCall:             {},
	mcp.MethodPromptsList:           {},
	mcp.MethodPromptsGet:            {},
	mcp.MethodResourcesList:         {},
	mcp.MethodResourcesRead:         {},
	mcp.MethodResourcesSubscribe:    {},
	mcp.MethodResourcesUnsubscribe:  {},
	mcp.MethodResourceTemplatesList: {},
	mcp.MethodLoggingSetLevel:       {},
	mcp.MethodSamplingCreateMessage: {},
	mcp.MethodRootsList:             {},
	mcp.MethodElicitRequest:         {},
	mcp.MethodCompleteRequest:       {},
	mcp.MethodPingRequest:           {},
}

// ErrShadowsBuiltin is returned by RegisterCustom for a method name that
// names one of the built-in dispatch-table entries.
var ErrShadowsBuiltin = errors.New("router: custom route may not shadow a built-in method")

// RegisterCustom adds a route for a method not covered by the built-in
// dispatch table.
func (r *Registry) RegisterCustom(method string, h CustomHandler) error {
	if _, ok := builtinMethods[method]; ok {
		return fmt.Errorf("%w: %s", ErrShadowsBuiltin, method)
	}
	r.mu.Lock()
	defer r.mu.Unlock()
	r.customs[method] = h
	return nil
}

func (r *Registry) custom(method string) (CustomHandler, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	h, ok := r.customs[method]
	return h, ok
}

// Subscribe increments the subscriber count for uri and reports the count
// after incrementing (§4.3: "resources/subscribe increments a per-URI
// counter").
func (r *Registry) Subscribe(uri string) int {
	r.subMu.Lock()
	defer r.subMu.Unlock()
	r.subs[uri]++
	return r.subs[uri]
}

// Unsubscribe decrements the subscriber count for uri, removing the entry
// once it reaches zero. Unsubscribing a URI with no active subscription is
// a no-op that succeeds (§8).
func (r *Registry) Unsubscribe(uri string) int {
	r.subMu.Lock()
	defer r.subMu.Unlock()
	n, ok := r.subs[uri]
	if !ok {
		return 0
	}
	n--
	if n <= 0 {
		delete(r.subs, uri)
		return 0
	}
	r.subs[uri] = n
	return n
}

// SubscriberCount reports the current subscriber count for uri (0 if
// none), used downstream to decide whether to push change notifications.
func (r *Registry) SubscriberCount(uri string) int {
	r.subMu.Lock()
	defer r.subMu.Unlock()
	return r.subs[uri]
}
