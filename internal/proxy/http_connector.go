package proxy

import (
	"bytes"
	"context"
	"crypto/tls"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"time"

	"github.com/mcprt/mcprt/internal/adapter/inbound/httpgw"
	"github.com/mcprt/mcprt/internal/mcperr"
	"github.com/mcprt/mcprt/pkg/jsonrpc"
)

// httpConnector calls an HTTP backend with one JSON-RPC request per POST,
// the same shape adapter/outbound/mcp.HTTPClient speaks but without the
// pipe-bridging machinery that client needs to satisfy outbound.MCPClient
// — the proxy only ever needs a single blocking request/response call.
type httpConnector struct {
	url    string
	client *http.Client
}

func newHTTPConnector(url string, timeout time.Duration) *httpConnector {
	return &httpConnector{
		url: url,
		client: &http.Client{
			Timeout: timeout,
			Transport: &http.Transport{
				TLSClientConfig: &tls.Config{MinVersion: tls.VersionTLS12},
				DialContext:     httpgw.SafeDialContext(),
			},
		},
	}
}

func (c *httpConnector) Call(ctx context.Context, method string, params json.RawMessage) (json.RawMessage, error) {
	id := jsonrpc.NewUUIDID()
	body, err := json.Marshal(jsonrpc.NewRequest(id, method, params))
	if err != nil {
		return nil, mcperr.SerializationFailed(err)
	}

	httpReq, err := http.NewRequestWithContext(ctx, http.MethodPost, c.url, bytes.NewReader(body))
	if err != nil {
		return nil, mcperr.ConnectionFailed(err)
	}
	httpReq.Header.Set("Content-Type", "application/json")
	httpReq.Header.Set("Accept", "application/json")

	resp, err := c.client.Do(httpReq)
	if err != nil {
		return nil, mcperr.ConnectionFailed(err)
	}
	defer resp.Body.Close()

	respBody, err := io.ReadAll(io.LimitReader(resp.Body, defaultMaxRequestSize))
	if err != nil {
		return nil, mcperr.ConnectionFailed(err)
	}
	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		return nil, fmt.Errorf("proxy: backend http status %d", resp.StatusCode)
	}

	msg, err := jsonrpc.Parse(respBody)
	if err != nil {
		return nil, mcperr.ParseFailed(err)
	}
	r, ok := msg.(*jsonrpc.Response)
	if !ok {
		return nil, fmt.Errorf("proxy: backend response is not a JSON-RPC response")
	}
	if r.IsError() {
		return nil, fmt.Errorf("proxy: backend returned error %d: %s", r.Err.Code, r.Err.Message)
	}
	return r.Result, nil
}

func (c *httpConnector) Close() error {
	c.client.CloseIdleConnections()
	return nil
}
