package proxy

import (
	"context"
	"encoding/json"
	"fmt"
	"net"
	"sync"
	"time"

	"github.com/mcprt/mcprt/internal/adapter/inbound/httpgw"
	"github.com/mcprt/mcprt/internal/mcperr"
	"github.com/mcprt/mcprt/internal/transport"
	"github.com/mcprt/mcprt/internal/transport/childproc"
	"github.com/mcprt/mcprt/internal/transport/stdio"
	"github.com/mcprt/mcprt/internal/transport/streamhttp"
	"github.com/mcprt/mcprt/pkg/jsonrpc"
)

// BackendConnector is the client transport to the backend that Build()
// constructs (§4.4 step 2). It hides whether the backend speaks stdio,
// raw TCP/Unix sockets, HTTP, or WebSocket behind one request/response
// call, since the proxy's routing table only ever needs "send this
// method+params, get back a result or error".
type BackendConnector interface {
	Call(ctx context.Context, method string, params json.RawMessage) (json.RawMessage, error)
	Close() error
}

// dialBackend builds the BackendConnector matching cfg.Backend.Kind. TCP
// and Unix backends are assumed to speak the same newline-delimited JSON
// framing as stdio, so they reuse internal/transport/stdio directly over
// the dialed net.Conn.
func dialBackend(ctx context.Context, cfg Config) (BackendConnector, error) {
	switch cfg.Backend.Kind {
	case BackendStdio:
		t := childproc.NewWithDefaults(cfg.Backend.Command, cfg.Backend.Args...)
		if len(cfg.Backend.Env) > 0 {
			t = childproc.New(childproc.Config{
				Command:          cfg.Backend.Command,
				Args:             cfg.Backend.Args,
				Env:              cfg.Backend.Env,
				KillOnDisconnect: true,
			})
		}
		if err := t.Connect(ctx); err != nil {
			return nil, err
		}
		return newTransportConnector(t, cfg.RequestTimeout), nil

	case BackendTCP, BackendUnix:
		network := "tcp"
		if cfg.Backend.Kind == BackendUnix {
			network = "unix"
		}
		conn, err := safeDial(ctx, network, cfg.Backend.Address)
		if err != nil {
			return nil, err
		}
		st := stdio.New(conn, conn)
		if err := st.Connect(ctx); err != nil {
			return nil, err
		}
		return newTransportConnector(st, cfg.RequestTimeout), nil

	case BackendHTTP:
		return newHTTPConnector(cfg.Backend.URL, cfg.RequestTimeout), nil

	case BackendWebSocket:
		return dialWebSocketConnector(ctx, cfg.Backend.URL, cfg.RequestTimeout)

	case BackendStreamHTTP:
		client := streamhttp.NewClient(streamhttp.ClientConfig{
			Config:      transport.Config{ConnectTimeout: cfg.RequestTimeout},
			URL:         cfg.Backend.URL,
			DialContext: httpgw.SafeDialContext(),
		})
		if err := client.Connect(ctx); err != nil {
			return nil, err
		}
		return newTransportConnector(client, cfg.RequestTimeout), nil

	default:
		return nil, mcperr.SecurityGate("unknown backend kind: " + string(cfg.Backend.Kind))
	}
}

// safeDial resolves and connects through the SSRF guard (§7): it rejects
// destinations that resolve to private, loopback, or link-local
// addresses, the same gate the HTTP gateway applies to forward-proxied
// requests. Unix sockets are local by construction and skip the
// resolver/IP check.
func safeDial(ctx context.Context, network, addr string) (net.Conn, error) {
	if network == "unix" {
		var d net.Dialer
		return d.DialContext(ctx, network, addr)
	}
	dial := httpgw.SafeDialContext()
	return dial(ctx, network, addr)
}

// transportConnector adapts a internal/transport.Transport (stdio,
// childproc, or a bare socket framed the same way) to BackendConnector by
// serializing calls: one in-flight request at a time, matched by id. The
// proxy's own frontends (stdio: one request at a time by construction;
// HTTP: bounded by whatever concurrency the net/http server gives it)
// tolerate this since backend request/response pairs are typically fast
// local calls.
type transportConnector struct {
	t  transport.Transport
	mu sync.Mutex
}

func newTransportConnector(t transport.Transport, _ time.Duration) *transportConnector {
	return &transportConnector{t: t}
}

func (c *transportConnector) Call(ctx context.Context, method string, params json.RawMessage) (json.RawMessage, error) {
	c.mu.Lock()
	defer c.mu.Unlock()

	id := jsonrpc.NewUUIDID()
	req := jsonrpc.NewRequest(id, method, params)
	raw, err := json.Marshal(req)
	if err != nil {
		return nil, mcperr.SerializationFailed(err)
	}

	if err := c.t.Send(ctx, transport.Message{Payload: jsonrpc.NewBytes(raw)}); err != nil {
		return nil, mcperr.ConnectionFailed(err)
	}

	for {
		msg, err := c.t.Receive(ctx)
		if err != nil {
			return nil, mcperr.ConnectionFailed(err)
		}
		resp, perr := jsonrpc.Parse(msg.Payload.Data())
		if perr != nil {
			continue // not a well-formed JSON-RPC message; keep waiting
		}
		r, ok := resp.(*jsonrpc.Response)
		if !ok || !r.ID.Equal(id) {
			continue // a stray notification or a response to a prior call
		}
		if r.IsError() {
			return nil, fmt.Errorf("proxy: backend returned error %d: %s", r.Err.Code, r.Err.Message)
		}
		return r.Result, nil
	}
}

func (c *transportConnector) Close() error {
	return c.t.Disconnect(context.Background())
}
