package proxy

import (
	"encoding/json"
	"io"
	"net/http"

	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/mcprt/mcprt/pkg/jsonrpc"
)

// serveHTTP runs the HTTP frontend: a single POST endpoint, guarded by
// body-size-limit and timeout middleware (§4.4 step 3), that re-exposes
// the cached ServerSpec and forwards tool/resource/prompt calls to the
// backend. It blocks until the listener fails or ctx-driven shutdown
// closes it (§4.4's "HTTP/WebSocket shut down on listener error"). When
// Config.MetricsEnabled registered a Prometheus registry, /metrics serves
// it alongside the main endpoint.
func (p *Proxy) serveHTTP() error {
	mux := http.NewServeMux()
	mux.HandleFunc("/", p.handleHTTPRequest)
	if p.promReg != nil {
		mux.Handle("/metrics", promhttp.HandlerFor(p.promReg, promhttp.HandlerOpts{Registry: p.promReg}))
	}

	server := &http.Server{
		Addr:         p.cfg.ListenAddr,
		Handler:      http.TimeoutHandler(mux, p.cfg.RequestTimeout, "request timeout"),
		ReadTimeout:  p.cfg.RequestTimeout,
		WriteTimeout: p.cfg.RequestTimeout,
	}
	p.httpServer = server

	return server.ListenAndServe()
}

func (p *Proxy) handleHTTPRequest(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		http.Error(w, "method not allowed", http.StatusMethodNotAllowed)
		return
	}

	body, err := io.ReadAll(io.LimitReader(r.Body, int64(p.cfg.MaxRequestSize)+1))
	if err != nil {
		http.Error(w, "error reading body", http.StatusBadRequest)
		return
	}
	if len(body) > p.cfg.MaxRequestSize {
		writeHTTPError(w, nil, jsonrpc.CodeInvalidRequest, "request body too large")
		return
	}

	msg, err := jsonrpc.Parse(body)
	if err != nil {
		writeHTTPError(w, nil, jsonrpc.CodeParseError, "parse error")
		return
	}
	req, ok := msg.(*jsonrpc.Request)
	if !ok {
		writeHTTPError(w, nil, jsonrpc.CodeInvalidRequest, "expected a JSON-RPC request")
		return
	}

	resp := p.service.Route(r.Context(), req)
	w.Header().Set("Content-Type", "application/json")
	_ = json.NewEncoder(w).Encode(resp)
}

func writeHTTPError(w http.ResponseWriter, id *jsonrpc.ID, code int, message string) {
	var respID jsonrpc.ID
	if id != nil {
		respID = *id
	}
	resp := jsonrpc.NewErrorResponse(respID, jsonrpc.NewError(code, message))
	w.Header().Set("Content-Type", "application/json")
	_ = json.NewEncoder(w).Encode(resp)
}
