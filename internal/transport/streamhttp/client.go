// Package streamhttp implements the Streamable HTTP transport (§4.2.2): a
// single endpoint that multiplexes plain JSON responses, inline SSE
// response delivery, and a resumable server-push event stream.
package streamhttp

import (
	"bytes"
	"context"
	"crypto/tls"
	"crypto/x509"
	"fmt"
	"io"
	"log/slog"
	"net"
	"net/http"
	"sync"
	"time"

	"github.com/mcprt/mcprt/internal/mcperr"
	"github.com/mcprt/mcprt/internal/transport"
	"github.com/mcprt/mcprt/pkg/jsonrpc"
)

// ProtocolVersion is the MCP-Protocol-Version header value this transport
// negotiates.
const ProtocolVersion = "2025-11-25"

// minConnectTimeout mirrors the stdio transport's floor; Streamable HTTP
// reuses the same Configure contract.
const minConnectTimeout = 100 * time.Millisecond

// TLSConfig controls the client's certificate validation policy (§4.2.2
// "TLS policy"). Validation is on by default; disabling it requires both
// an explicit opt-out and an environment escape hatch, checked by the
// caller that builds http.Client — see NewClient's doc comment.
type TLSConfig struct {
	// InsecureSkipVerify disables certificate validation. Only honored by
	// NewClient when InsecureEnvVarSet is also true.
	InsecureSkipVerify bool
	// InsecureEnvVarSet records whether the environment escape hatch was
	// present at startup. If InsecureSkipVerify is true but this is false,
	// NewClient logs an error and forces validation back on rather than
	// silently complying.
	InsecureEnvVarSet bool
	// RootCAs are additional PEM or DER encoded certificates to trust,
	// alongside the system pool. Entries that fail to parse are skipped
	// with a warning, not a fatal error.
	RootCAs [][]byte
}

// ClientConfig configures a Client.
type ClientConfig struct {
	transport.Config
	// URL is the initial connect endpoint. The transport may be redirected
	// to a different message endpoint via SSE "endpoint" discovery.
	URL string
	// BearerToken, if set, is sent as Authorization: Bearer <token>.
	BearerToken string
	// Retry computes GET-stream reconnect delays. Defaults to NeverRetry.
	Retry RetryPolicy
	TLS   TLSConfig
	// DialContext overrides the transport dialer, e.g. to apply an SSRF
	// guard on outbound backend dials. Defaults to the zero http.Transport
	// dialer when nil.
	DialContext func(ctx context.Context, network, addr string) (net.Conn, error)
}

// Client implements transport.Transport over Streamable HTTP: POSTs carry
// requests/notifications, an optional background GET stream delivers
// server-initiated pushes, and both deliver into the same receive channel.
type Client struct {
	cfg    ClientConfig
	http   *http.Client
	sm     *transport.StateMachine
	metric transport.Metrics
	logger *slog.Logger

	mu          sync.Mutex
	endpointURL string
	sessionID   string
	lastEventID string

	recvCh     chan *transport.Message
	streamDone chan struct{}
	cancelGET  context.CancelFunc
}

// NewClient builds a Streamable HTTP client. The returned *http.Client
// enforces TLS 1.3 minimum; InsecureSkipVerify is honored only when both
// cfg.TLS.InsecureSkipVerify and cfg.TLS.InsecureEnvVarSet are set, per
// §4.2.2 — otherwise validation is forced on and the mismatch is logged.
func NewClient(cfg ClientConfig) *Client {
	logger := slog.Default()

	tlsCfg := &tls.Config{MinVersion: tls.VersionTLS13}
	if cfg.TLS.InsecureSkipVerify {
		if cfg.TLS.InsecureEnvVarSet {
			tlsCfg.InsecureSkipVerify = true
		} else {
			logger.Error("streamhttp: insecure TLS requested without escape hatch env var, forcing validation on")
		}
	}
	if len(cfg.TLS.RootCAs) > 0 {
		pool := systemCertPoolOrEmpty()
		for _, der := range cfg.TLS.RootCAs {
			if !appendCert(pool, der) {
				logger.Warn("streamhttp: skipping unparseable root CA entry")
			}
		}
		tlsCfg.RootCAs = pool
	}

	if cfg.ConnectTimeout != 0 && cfg.ConnectTimeout < minConnectTimeout {
		cfg.ConnectTimeout = minConnectTimeout
	}
	if cfg.Limits.MaxRequestSize == 0 {
		cfg.Limits.MaxRequestSize = 16 * 1024 * 1024
	}
	if cfg.Limits.MaxResponseSize == 0 {
		cfg.Limits.MaxResponseSize = 16 * 1024 * 1024
	}
	if cfg.Retry == nil {
		cfg.Retry = NeverRetry{}
	}

	return &Client{
		cfg:         cfg,
		endpointURL: cfg.URL,
		http: &http.Client{
			Transport: &http.Transport{TLSClientConfig: tlsCfg, DialContext: cfg.DialContext},
		},
		sm:     transport.NewStateMachine(),
		logger: logger,
	}
}

// Configure applies transport-level limits; Streamable HTTP has no
// additional required fields beyond transport.Config.
func (c *Client) Configure(cfg transport.Config) error {
	if cfg.ConnectTimeout != 0 && cfg.ConnectTimeout < minConnectTimeout {
		return &transport.ConfigurationError{Reason: fmt.Sprintf("connect_timeout must be >= %s", minConnectTimeout)}
	}
	c.mu.Lock()
	defer c.mu.Unlock()
	if cfg.Limits.MaxRequestSize != 0 {
		c.cfg.Limits.MaxRequestSize = cfg.Limits.MaxRequestSize
	}
	if cfg.Limits.MaxResponseSize != 0 {
		c.cfg.Limits.MaxResponseSize = cfg.Limits.MaxResponseSize
	}
	if cfg.ConnectTimeout != 0 {
		c.cfg.ConnectTimeout = cfg.ConnectTimeout
	}
	return nil
}

// Connect opens the background GET event stream and moves to Connected.
// A server that doesn't support server push (no stream, or the GET
// request fails) is not treated as a connect failure — many Streamable
// HTTP servers only ever answer POSTs.
func (c *Client) Connect(ctx context.Context) error {
	if err := c.sm.ToConnecting(); err != nil {
		return err
	}

	c.mu.Lock()
	c.recvCh = make(chan *transport.Message, channelCapacity)
	c.streamDone = make(chan struct{})
	streamCtx, cancel := context.WithCancel(context.Background())
	c.cancelGET = cancel
	c.mu.Unlock()

	go c.runGETStream(streamCtx)

	if err := c.sm.ToConnected(); err != nil {
		cancel()
		return err
	}
	c.metric.RecordConnection()
	return nil
}

// channelCapacity mirrors stdio's bounded receive channel.
const channelCapacity = 1000

// runGETStream opens the server-push stream and reconnects per cfg.Retry
// until the stream context is cancelled.
func (c *Client) runGETStream(ctx context.Context) {
	defer close(c.streamDone)

	for attempt := 0; ; attempt++ {
		if ctx.Err() != nil {
			return
		}
		err := c.openAndDrainGETStream(ctx)
		if ctx.Err() != nil {
			return
		}
		if err != nil {
			c.logger.Debug("streamhttp: GET stream ended", "error", err)
		}
		delay, ok := c.cfg.Retry.Delay(attempt)
		if !ok {
			return
		}
		select {
		case <-time.After(delay):
		case <-ctx.Done():
			return
		}
	}
}

// openAndDrainGETStream opens one GET connection and decodes frames until
// the stream ends or ctx is cancelled.
func (c *Client) openAndDrainGETStream(ctx context.Context) error {
	c.mu.Lock()
	url := c.endpointURL
	lastID := c.lastEventID
	c.mu.Unlock()

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, url, nil)
	if err != nil {
		return err
	}
	c.setCommonHeaders(req)
	if lastID != "" {
		req.Header.Set("Last-Event-ID", lastID)
	}

	resp, err := c.http.Do(req)
	if err != nil {
		return err
	}
	defer func() { _ = resp.Body.Close() }()
	if resp.StatusCode != http.StatusOK {
		return fmt.Errorf("streamhttp: GET stream status %d", resp.StatusCode)
	}

	rd := NewReader(resp.Body)
	for {
		frame, err := rd.Next()
		if err != nil {
			return err
		}
		if frame.IsKeepAlive() {
			continue
		}
		if frame.ID != "" {
			c.mu.Lock()
			c.lastEventID = frame.ID
			c.mu.Unlock()
		}
		if frame.Event == ReservedEventEndpoint {
			if uri, err := ParseEndpointData(frame.Data); err == nil && uri != "" {
				c.mu.Lock()
				c.endpointURL = uri
				c.mu.Unlock()
			}
			continue
		}
		c.deliver([]byte(frame.Data))
	}
}

// deliver pushes a decoded message payload into the receive channel,
// dropping it with a warning if the channel is full — the same
// backpressure policy as the stdio transport.
func (c *Client) deliver(data []byte) {
	cp := make([]byte, len(data))
	copy(cp, data)
	c.metric.RecordReceived(len(cp))
	msg := &transport.Message{Payload: jsonrpc.NewBytes(cp), ContentType: "application/json", CreatedAt: time.Now()}

	c.mu.Lock()
	ch := c.recvCh
	c.mu.Unlock()
	if ch == nil {
		return
	}
	select {
	case ch <- msg:
	default:
		c.logger.Warn("streamhttp: receive channel full, dropping message", "size", len(cp))
	}
}

// setCommonHeaders sets the headers required on every request (§4.2.2).
func (c *Client) setCommonHeaders(req *http.Request) {
	req.Header.Set("Accept", "application/json, text/event-stream")
	req.Header.Set("MCP-Protocol-Version", ProtocolVersion)
	c.mu.Lock()
	sessionID := c.sessionID
	c.mu.Unlock()
	if sessionID != "" {
		req.Header.Set("Mcp-Session-Id", sessionID)
	}
	if c.cfg.BearerToken != "" {
		req.Header.Set("Authorization", "Bearer "+c.cfg.BearerToken)
	}
}

// Send POSTs msg.Payload to the current message endpoint. A
// text/event-stream response is drained inline — every event it carries
// is delivered to the receive channel before Send returns, per §8's
// "request/response pair completes atomically" ordering rule. A plain
// application/json response is delivered the same way. A 202 with no body
// (notification accepted) returns with nothing delivered.
func (c *Client) Send(ctx context.Context, msg transport.Message) error {
	if c.sm.Current() != transport.StateConnected {
		return &transport.ErrNotConnected{Current: c.sm.Current()}
	}

	data := msg.Payload.Data()
	if len(data) > c.cfg.Limits.MaxRequestSize {
		return mcperr.SizeLimitExceeded(c.cfg.Limits.MaxRequestSize)
	}

	c.mu.Lock()
	url := c.endpointURL
	c.mu.Unlock()

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, url, bytes.NewReader(data))
	if err != nil {
		return mcperr.Wrap(mcperr.KindProtocol, 0, "build request", err)
	}
	req.Header.Set("Content-Type", "application/json")
	c.setCommonHeaders(req)

	resp, err := c.http.Do(req)
	if err != nil {
		return mcperr.ConnectionFailed(err)
	}
	defer func() { _ = resp.Body.Close() }()

	if sid := resp.Header.Get("Mcp-Session-Id"); sid != "" {
		c.mu.Lock()
		c.sessionID = sid
		c.mu.Unlock()
	}

	if resp.StatusCode == http.StatusAccepted {
		return nil
	}
	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		body, _ := io.ReadAll(io.LimitReader(resp.Body, 64*1024))
		return mcperr.ConnectionFailed(fmt.Errorf("http status %d: %s", resp.StatusCode, body))
	}

	switch contentType(resp.Header.Get("Content-Type")) {
	case "text/event-stream":
		return c.drainSSEResponse(resp.Body)
	default:
		limited := io.LimitReader(resp.Body, int64(c.cfg.Limits.MaxResponseSize)+1)
		body, err := io.ReadAll(limited)
		if err != nil {
			return mcperr.ConnectionFailed(err)
		}
		if len(body) > c.cfg.Limits.MaxResponseSize {
			return mcperr.SizeLimitExceeded(c.cfg.Limits.MaxResponseSize)
		}
		c.deliver(body)
		return nil
	}
}

// drainSSEResponse decodes every frame in an inline SSE response body and
// delivers each "message" event, returning once the body is exhausted.
func (c *Client) drainSSEResponse(body io.Reader) error {
	rd := NewReader(body)
	for {
		frame, err := rd.Next()
		if err != nil {
			if err == io.EOF {
				return nil
			}
			return mcperr.ConnectionFailed(err)
		}
		if frame.IsKeepAlive() {
			continue
		}
		if frame.ID != "" {
			c.mu.Lock()
			c.lastEventID = frame.ID
			c.mu.Unlock()
		}
		c.deliver([]byte(frame.Data))
	}
}

// contentType strips any `; charset=...` parameters for a bare comparison.
func contentType(header string) string {
	name, _, _ := bytes.Cut([]byte(header), []byte(";"))
	return string(bytes.TrimSpace(name))
}

// Receive returns the next message delivered by either a Send's inline SSE
// drain or the background GET stream.
func (c *Client) Receive(ctx context.Context) (*transport.Message, error) {
	if c.sm.Current() != transport.StateConnected {
		return nil, &transport.ErrNotConnected{Current: c.sm.Current()}
	}
	c.mu.Lock()
	ch := c.recvCh
	c.mu.Unlock()

	select {
	case msg, ok := <-ch:
		if !ok {
			return nil, io.EOF
		}
		return msg, nil
	case <-ctx.Done():
		return nil, ctx.Err()
	}
}

// Disconnect terminates the session (DELETE) and stops the GET stream.
func (c *Client) Disconnect(ctx context.Context) error {
	if c.sm.Current() == transport.StateDisconnected {
		return nil
	}
	if err := c.sm.ToDisconnecting(); err != nil {
		return err
	}

	c.mu.Lock()
	cancel := c.cancelGET
	done := c.streamDone
	url := c.endpointURL
	sessionID := c.sessionID
	c.mu.Unlock()

	if cancel != nil {
		cancel()
	}
	if done != nil {
		select {
		case <-done:
		case <-ctx.Done():
		}
	}

	if sessionID != "" {
		req, err := http.NewRequestWithContext(ctx, http.MethodDelete, url, nil)
		if err == nil {
			c.setCommonHeaders(req)
			if resp, err := c.http.Do(req); err == nil {
				_ = resp.Body.Close()
			}
		}
	}

	return c.sm.ToDisconnected()
}

func (c *Client) State() transport.State     { return c.sm.Current() }
func (c *Client) Metrics() transport.Snapshot { return c.metric.Snapshot() }
func (c *Client) Capabilities() transport.Capabilities {
	return transport.Capabilities{Bidirectional: true, Resumable: true, Streaming: true}
}

var _ transport.Transport = (*Client)(nil)

// systemCertPoolOrEmpty returns the system cert pool, or a fresh empty pool
// if it's unavailable (e.g. some minimal container images), so custom root
// CAs still have somewhere to go.
func systemCertPoolOrEmpty() *x509.CertPool {
	if pool, err := x509.SystemCertPool(); err == nil && pool != nil {
		return pool
	}
	return x509.NewCertPool()
}

// appendCert adds one PEM or DER encoded certificate to pool, returning
// false if it couldn't be parsed as either.
func appendCert(pool *x509.CertPool, data []byte) bool {
	if pool.AppendCertsFromPEM(data) {
		return true
	}
	cert, err := x509.ParseCertificate(data)
	if err != nil {
		return false
	}
	pool.AddCert(cert)
	return true
}
