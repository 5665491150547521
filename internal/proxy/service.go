package proxy

import (
	"context"
	"encoding/json"
	"errors"
	"log/slog"
	"sync/atomic"

	"github.com/mcprt/mcprt/pkg/jsonrpc"
	"github.com/mcprt/mcprt/pkg/mcp"
)

// proxyMetrics holds the lock-free counters mirrored from
// internal/transport.Metrics's pattern: plain atomic adds, no global lock,
// read independently by Snapshot (§4.4's "lock-free counters"). prom is
// nil unless Config.MetricsEnabled registered Prometheus collectors for
// this instance, in which case forwarded requests are double-recorded:
// once in the lock-free counter for Metrics(), once in the collector for
// scraping.
type proxyMetrics struct {
	requestsForwarded atomic.Uint64
	prom              *promMetrics
}

func (m *proxyMetrics) RecordForwarded() {
	m.requestsForwarded.Add(1)
	if m.prom != nil {
		m.prom.requestsForwarded.Inc()
	}
}

// ProxyMetrics is an immutable snapshot of proxyMetrics, for reporting.
type ProxyMetrics struct {
	RequestsForwarded uint64
}

// Snapshot returns the current counter values.
func (m *proxyMetrics) Snapshot() ProxyMetrics {
	return ProxyMetrics{RequestsForwarded: m.requestsForwarded.Load()}
}

// ProxyService re-exposes a backend's cached ServerSpec over a frontend
// transport, forwarding the methods that need a live backend call and
// answering the three list methods from the cached spec (§4.4's
// introspection contract: cached once, never per-request).
type ProxyService struct {
	connector BackendConnector
	spec      *ServerSpec
	metrics   proxyMetrics
	logger    *slog.Logger
}

func newProxyService(connector BackendConnector, spec *ServerSpec, logger *slog.Logger, prom *promMetrics) *ProxyService {
	return &ProxyService{connector: connector, spec: spec, logger: logger, metrics: proxyMetrics{prom: prom}}
}

// Metrics returns a snapshot of the service's forwarding counters.
func (s *ProxyService) Metrics() ProxyMetrics { return s.metrics.Snapshot() }

// Route dispatches one JSON-RPC request per the proxy's routing table
// (§4.4) and returns the response to send back on the frontend.
func (s *ProxyService) Route(ctx context.Context, req *jsonrpc.Request) *jsonrpc.Response {
	switch req.Method {
	case mcp.MethodToolsList:
		return s.result(req.ID, mcp.ToolsListResult{Tools: s.spec.Tools})

	case mcp.MethodToolsCall:
		var call mcp.CallToolRequest
		if err := json.Unmarshal(req.Params, &call); err != nil {
			return jsonrpc.NewErrorResponse(req.ID, jsonrpc.NewError(jsonrpc.CodeInvalidParams, "invalid params: "+err.Error()))
		}
		return s.forward(ctx, req.ID, mcp.MethodToolsCall, req.Params)

	case mcp.MethodResourcesList:
		return s.result(req.ID, mcp.ResourcesListResult{Resources: s.spec.Resources})

	case mcp.MethodResourcesRead:
		return s.forward(ctx, req.ID, mcp.MethodResourcesRead, req.Params)

	case mcp.MethodPromptsList:
		return s.result(req.ID, mcp.PromptsListResult{Prompts: s.spec.Prompts})

	case mcp.MethodPromptsGet:
		return s.forward(ctx, req.ID, mcp.MethodPromptsGet, req.Params)

	default:
		return jsonrpc.NewErrorResponse(req.ID, jsonrpc.NewError(jsonrpc.CodeInternalError, "Method not found"))
	}
}

// forward makes the live backend call and wraps either outcome into a
// JSON-RPC response, incrementing requests_forwarded only on success. The
// backend's raw error is logged but never echoed to the frontend caller
// (§7's internal-error policy).
func (s *ProxyService) forward(ctx context.Context, id jsonrpc.ID, method string, params json.RawMessage) *jsonrpc.Response {
	raw, err := s.connector.Call(ctx, method, params)
	if err != nil {
		s.logger.Error("proxy: backend call failed", "method", method, "error", err)
		message := "backend request failed"
		if errors.Is(err, context.DeadlineExceeded) || errors.Is(err, context.Canceled) {
			message = "backend request timed out"
		}
		return jsonrpc.NewErrorResponse(id, jsonrpc.NewError(jsonrpc.CodeInternalError, message))
	}
	s.metrics.RecordForwarded()
	return jsonrpc.NewResultResponse(id, raw)
}

func (s *ProxyService) result(id jsonrpc.ID, v any) *jsonrpc.Response {
	raw, err := json.Marshal(v)
	if err != nil {
		return jsonrpc.NewErrorResponse(id, jsonrpc.NewError(jsonrpc.CodeInternalError, "serialization failed"))
	}
	return jsonrpc.NewResultResponse(id, raw)
}
