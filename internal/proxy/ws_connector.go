package proxy

import (
	"bufio"
	"context"
	"crypto/rand"
	"crypto/tls"
	"encoding/base64"
	"encoding/json"
	"fmt"
	"net"
	"net/url"
	"strings"
	"sync"
	"time"

	"github.com/mcprt/mcprt/internal/adapter/inbound/httpgw"
	"github.com/mcprt/mcprt/internal/mcperr"
	"github.com/mcprt/mcprt/pkg/jsonrpc"
)

// wsConnector dials a backend over WebSocket as a client, performing the
// RFC 6455 handshake once, then exchanges one JSON-RPC request per text
// frame. Frame I/O reuses httpgw's exported RFC 6455 framing helpers
// (kept nearly verbatim per §4.4, since it's the same wire format the
// gateway's WebSocketProxy already speaks on the server side).
type wsConnector struct {
	conn net.Conn
	mu   sync.Mutex
}

func dialWebSocketConnector(ctx context.Context, rawURL string, timeout time.Duration) (*wsConnector, error) {
	u, err := url.Parse(rawURL)
	if err != nil {
		return nil, fmt.Errorf("proxy: invalid websocket url %q: %w", rawURL, err)
	}

	tlsWanted := u.Scheme == "wss" || u.Scheme == "https"
	host := u.Host
	if !strings.Contains(host, ":") {
		if tlsWanted {
			host += ":443"
		} else {
			host += ":80"
		}
	}

	conn, err := httpgw.SafeDialContext()(ctx, "tcp", host)
	if err != nil {
		return nil, mcperr.ConnectionFailed(err)
	}
	if tlsWanted {
		conn = tls.Client(conn, &tls.Config{MinVersion: tls.VersionTLS12, ServerName: u.Hostname()})
	}
	if dl, ok := ctx.Deadline(); ok {
		_ = conn.SetDeadline(dl)
	}

	key, err := wsClientKey()
	if err != nil {
		_ = conn.Close()
		return nil, err
	}

	path := u.Path
	if path == "" {
		path = "/"
	}
	if u.RawQuery != "" {
		path += "?" + u.RawQuery
	}

	req := fmt.Sprintf(
		"GET %s HTTP/1.1\r\nHost: %s\r\nConnection: Upgrade\r\nUpgrade: websocket\r\nSec-WebSocket-Version: 13\r\nSec-WebSocket-Key: %s\r\n\r\n",
		path, u.Host, key,
	)
	if _, err := conn.Write([]byte(req)); err != nil {
		_ = conn.Close()
		return nil, mcperr.ConnectionFailed(err)
	}

	reader := bufio.NewReader(conn)
	status, err := reader.ReadString('\n')
	if err != nil {
		_ = conn.Close()
		return nil, mcperr.ConnectionFailed(err)
	}
	if !strings.Contains(status, "101") {
		_ = conn.Close()
		return nil, fmt.Errorf("proxy: websocket backend refused upgrade: %s", strings.TrimSpace(status))
	}
	// Drain the remaining header lines before frame reads begin.
	for {
		line, err := reader.ReadString('\n')
		if err != nil {
			_ = conn.Close()
			return nil, mcperr.ConnectionFailed(err)
		}
		if strings.TrimSpace(line) == "" {
			break
		}
	}
	_ = conn.SetDeadline(time.Time{})

	return &wsConnector{conn: &bufferedConn{Conn: conn, r: reader}}, nil
}

// bufferedConn lets the handshake's bufio.Reader survive past the header
// read, so frame bytes already buffered aren't dropped on the floor.
type bufferedConn struct {
	net.Conn
	r *bufio.Reader
}

func (b *bufferedConn) Read(p []byte) (int, error) { return b.r.Read(p) }

func wsClientKey() (string, error) {
	raw := make([]byte, 16)
	if _, err := rand.Read(raw); err != nil {
		return "", err
	}
	return base64.StdEncoding.EncodeToString(raw), nil
}

func (c *wsConnector) Call(ctx context.Context, method string, params json.RawMessage) (json.RawMessage, error) {
	c.mu.Lock()
	defer c.mu.Unlock()

	id := jsonrpc.NewUUIDID()
	body, err := json.Marshal(jsonrpc.NewRequest(id, method, params))
	if err != nil {
		return nil, mcperr.SerializationFailed(err)
	}

	if dl, ok := ctx.Deadline(); ok {
		_ = c.conn.SetDeadline(dl)
		defer c.conn.SetDeadline(time.Time{})
	}

	if err := httpgw.WriteFrame(c.conn, httpgw.OpText, body, true); err != nil {
		return nil, mcperr.ConnectionFailed(err)
	}

	for {
		opcode, payload, err := httpgw.ReadFrame(c.conn)
		if err != nil {
			return nil, mcperr.ConnectionFailed(err)
		}
		if opcode != httpgw.OpText {
			continue
		}
		msg, perr := jsonrpc.Parse(payload)
		if perr != nil {
			continue
		}
		r, ok := msg.(*jsonrpc.Response)
		if !ok || !r.ID.Equal(id) {
			continue
		}
		if r.IsError() {
			return nil, fmt.Errorf("proxy: backend returned error %d: %s", r.Err.Code, r.Err.Message)
		}
		return r.Result, nil
	}
}

func (c *wsConnector) Close() error {
	_ = httpgw.WriteCloseFrame(c.conn, true)
	return c.conn.Close()
}
