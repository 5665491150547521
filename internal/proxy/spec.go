package proxy

import (
	"context"
	"encoding/json"

	"github.com/mcprt/mcprt/pkg/mcp"
)

// ServerSpec is the cached shape of a backend's capabilities, collected
// once at startup (§4.4's "Introspection: called once at startup. The
// spec is cached; the proxy does not re-introspect per request.").
type ServerSpec struct {
	Tools     []mcp.Tool
	Resources []mcp.Resource
	Prompts   []mcp.Prompt
}

// introspect queries tools/list, resources/list, and prompts/list on the
// backend and assembles a ServerSpec. A backend that doesn't implement
// one of the three (method not found, or any other error) simply
// contributes an empty list for that category rather than failing
// startup — many MCP servers only expose tools, for instance.
func introspect(ctx context.Context, connector BackendConnector) (*ServerSpec, error) {
	spec := &ServerSpec{}

	if raw, err := connector.Call(ctx, mcp.MethodToolsList, nil); err == nil {
		var result mcp.ToolsListResult
		if json.Unmarshal(raw, &result) == nil {
			spec.Tools = result.Tools
		}
	}
	if raw, err := connector.Call(ctx, mcp.MethodResourcesList, nil); err == nil {
		var result mcp.ResourcesListResult
		if json.Unmarshal(raw, &result) == nil {
			spec.Resources = result.Resources
		}
	}
	if raw, err := connector.Call(ctx, mcp.MethodPromptsList, nil); err == nil {
		var result mcp.PromptsListResult
		if json.Unmarshal(raw, &result) == nil {
			spec.Prompts = result.Prompts
		}
	}

	return spec, nil
}
