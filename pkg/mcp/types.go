// Package mcp defines the MCP request/result/notification taxonomy layered
// on top of pkg/jsonrpc's generic JSON-RPC envelopes, plus the Message
// wrapper the router and proxy pass bytes around as.
package mcp

import "encoding/json"

// ProtocolVersion is the MCP wire-protocol version this runtime speaks by
// default (Streamable HTTP transport, per §4.2.2).
const ProtocolVersion = "2025-11-25"

// Method names recognized by the server-side dispatch table (§4.3).
const (
	MethodInitialize             = "initialize"
	MethodToolsList              = "tools/list"
	MethodToolsCall              = "tools/call"
	MethodPromptsList            = "prompts/list"
	MethodPromptsGet             = "prompts/get"
	MethodResourcesList          = "resources/list"
	MethodResourcesRead          = "resources/read"
	MethodResourcesSubscribe     = "resources/subscribe"
	MethodResourcesUnsubscribe   = "resources/unsubscribe"
	MethodResourceTemplatesList  = "resources/templates/list"
	MethodLoggingSetLevel        = "logging/setLevel"
	MethodSamplingCreateMessage  = "sampling/createMessage"
	MethodRootsList              = "roots/list"
	MethodElicitRequest          = "elicit/request"
	MethodCompleteRequest        = "complete/request"
	MethodPingRequest            = "ping/request"
)

// Implementation identifies a client or server peer by name and version.
type Implementation struct {
	Name    string `json:"name"`
	Version string `json:"version"`
}

// ClientCapabilities advertises what reverse requests a client accepts.
type ClientCapabilities struct {
	Sampling    *struct{} `json:"sampling,omitempty"`
	Roots       *RootsCapability `json:"roots,omitempty"`
	Elicitation *struct{} `json:"elicitation,omitempty"`
}

// RootsCapability indicates whether the client notifies the server when
// its set of filesystem roots changes.
type RootsCapability struct {
	ListChanged bool `json:"listChanged,omitempty"`
}

// ServerCapabilities advertises what the server supports.
type ServerCapabilities struct {
	Tools     *ListChangedCapability `json:"tools,omitempty"`
	Prompts   *ListChangedCapability `json:"prompts,omitempty"`
	Resources *ResourcesCapability   `json:"resources,omitempty"`
	Logging   *struct{}              `json:"logging,omitempty"`
}

// ListChangedCapability is the common shape for capabilities that may emit
// a listChanged notification.
type ListChangedCapability struct {
	ListChanged bool `json:"listChanged,omitempty"`
}

// ResourcesCapability additionally advertises subscribe support.
type ResourcesCapability struct {
	Subscribe   bool `json:"subscribe,omitempty"`
	ListChanged bool `json:"listChanged,omitempty"`
}

// InitializeRequest negotiates protocol version and capabilities.
type InitializeRequest struct {
	ProtocolVersion string             `json:"protocolVersion"`
	Capabilities    ClientCapabilities `json:"capabilities"`
	ClientInfo      Implementation     `json:"clientInfo"`
}

// InitializeResult is the server's reply to InitializeRequest.
type InitializeResult struct {
	ProtocolVersion string             `json:"protocolVersion"`
	Capabilities    ServerCapabilities `json:"capabilities"`
	ServerInfo      Implementation     `json:"serverInfo"`
}

// Tool describes one callable tool, optionally with a JSON Schema (draft-07)
// describing its input shape and the roles required to invoke it.
type Tool struct {
	Name         string          `json:"name"`
	Description  string          `json:"description,omitempty"`
	InputSchema  json.RawMessage `json:"inputSchema,omitempty"`
	RequiredRoles []string       `json:"-"`
}

// ToolsListResult enumerates available tools.
type ToolsListResult struct {
	Tools []Tool `json:"tools"`
}

// CallToolRequest invokes a named tool with arguments.
type CallToolRequest struct {
	Name      string          `json:"name"`
	Arguments json.RawMessage `json:"arguments,omitempty"`
}

// Content is one block of a tool/prompt result: text, image, or an
// embedded resource. Exactly one of the typed fields is populated,
// selected by Type.
type Content struct {
	Type     string          `json:"type"`
	Text     string          `json:"text,omitempty"`
	Data     string          `json:"data,omitempty"`
	MimeType string          `json:"mimeType,omitempty"`
	Resource json.RawMessage `json:"resource,omitempty"`
}

// TextContent builds a text content block.
func TextContent(text string) Content { return Content{Type: "text", Text: text} }

// CallToolResult is the outcome of a tool invocation.
type CallToolResult struct {
	Content []Content `json:"content"`
	IsError bool      `json:"isError,omitempty"`
}

// Prompt describes a named, templated prompt.
type Prompt struct {
	Name        string           `json:"name"`
	Description string           `json:"description,omitempty"`
	Arguments   []PromptArgument `json:"arguments,omitempty"`
}

// PromptArgument is one named input a prompt template accepts.
type PromptArgument struct {
	Name        string `json:"name"`
	Description string `json:"description,omitempty"`
	Required    bool   `json:"required,omitempty"`
}

// PromptsListResult enumerates available prompts.
type PromptsListResult struct {
	Prompts []Prompt `json:"prompts"`
}

// GetPromptRequest materializes a prompt with concrete arguments.
type GetPromptRequest struct {
	Name      string            `json:"name"`
	Arguments map[string]string `json:"arguments,omitempty"`
}

// PromptMessage is one turn of a materialized prompt.
type PromptMessage struct {
	Role    string  `json:"role"`
	Content Content `json:"content"`
}

// GetPromptResult is the materialized prompt conversation.
type GetPromptResult struct {
	Description string          `json:"description,omitempty"`
	Messages    []PromptMessage `json:"messages"`
}

// Resource describes one URI-addressable resource.
type Resource struct {
	URI         string `json:"uri"`
	Name        string `json:"name"`
	Description string `json:"description,omitempty"`
	MimeType    string `json:"mimeType,omitempty"`
}

// ResourcesListResult enumerates concrete resources.
type ResourcesListResult struct {
	Resources []Resource `json:"resources"`
}

// ResourceTemplate describes a URI pattern (§4.3 URI-pattern matching)
// rather than one concrete resource.
type ResourceTemplate struct {
	URITemplate string `json:"uriTemplate"`
	Name        string `json:"name"`
	Description string `json:"description,omitempty"`
	MimeType    string `json:"mimeType,omitempty"`
}

// ResourceTemplatesListResult enumerates registered URI-pattern templates.
type ResourceTemplatesListResult struct {
	ResourceTemplates []ResourceTemplate `json:"resourceTemplates"`
}

// ReadResourceRequest reads one resource by concrete URI.
type ReadResourceRequest struct {
	URI string `json:"uri"`
}

// ResourceContents is one resource's materialized content.
type ResourceContents struct {
	URI      string `json:"uri"`
	MimeType string `json:"mimeType,omitempty"`
	Text     string `json:"text,omitempty"`
	Blob     string `json:"blob,omitempty"`
}

// ReadResourceResult is the outcome of resources/read.
type ReadResourceResult struct {
	Contents []ResourceContents `json:"contents"`
}

// SubscribeRequest and UnsubscribeRequest reference a resource by URI for
// subscription bookkeeping (§4.3).
type SubscribeRequest struct {
	URI string `json:"uri"`
}

type UnsubscribeRequest struct {
	URI string `json:"uri"`
}

// LogLevel mirrors RFC 5424 syslog severities, as used by logging/setLevel.
type LogLevel string

const (
	LogLevelDebug     LogLevel = "debug"
	LogLevelInfo      LogLevel = "info"
	LogLevelNotice    LogLevel = "notice"
	LogLevelWarning   LogLevel = "warning"
	LogLevelError     LogLevel = "error"
	LogLevelCritical  LogLevel = "critical"
	LogLevelAlert     LogLevel = "alert"
	LogLevelEmergency LogLevel = "emergency"
)

// SetLevelRequest adjusts the server's minimum emitted log level.
type SetLevelRequest struct {
	Level LogLevel `json:"level"`
}

// SamplingMessage is one turn offered to sampling/createMessage.
type SamplingMessage struct {
	Role    string  `json:"role"`
	Content Content `json:"content"`
}

// CreateMessageRequest is the server->client reverse request asking the
// client's LLM to sample a completion.
type CreateMessageRequest struct {
	Messages    []SamplingMessage `json:"messages"`
	MaxTokens   int               `json:"maxTokens,omitempty"`
	Temperature float64           `json:"temperature,omitempty"`
	SystemPrompt string           `json:"systemPrompt,omitempty"`
}

// CreateMessageResult is the client's sampled completion.
type CreateMessageResult struct {
	Role       string  `json:"role"`
	Content    Content `json:"content"`
	Model      string  `json:"model,omitempty"`
	StopReason string  `json:"stopReason,omitempty"`
}

// Root is one filesystem root the client exposes to the server.
type Root struct {
	URI  string `json:"uri"`
	Name string `json:"name,omitempty"`
}

// RootsListResult is the client's reply to roots/list.
type RootsListResult struct {
	Roots []Root `json:"roots"`
}

// ElicitRequest is a server->client reverse request asking the user for
// structured input.
type ElicitRequest struct {
	Message         string          `json:"message"`
	RequestedSchema json.RawMessage `json:"requestedSchema,omitempty"`
}

// ElicitResult is the client's reply: the user's action and, if accepted,
// their content.
type ElicitResult struct {
	Action  string          `json:"action"` // "accept" | "decline" | "cancel"
	Content json.RawMessage `json:"content,omitempty"`
}

// CompleteRequest asks for completion suggestions against a prompt or
// resource-template argument.
type CompleteRequest struct {
	Ref      json.RawMessage `json:"ref"`
	Argument struct {
		Name  string `json:"name"`
		Value string `json:"value"`
	} `json:"argument"`
}

// CompleteResult carries the candidate completions.
type CompleteResult struct {
	Completion struct {
		Values  []string `json:"values"`
		Total   int      `json:"total,omitempty"`
		HasMore bool     `json:"hasMore,omitempty"`
	} `json:"completion"`
}

// PingRequest carries no fields; a successful reply is an empty result.
type PingRequest struct{}
