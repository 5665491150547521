// Package stdio implements the newline-delimited JSON stdio transport
// (§4.2.1), usable either over the current process's stdin/stdout or over
// an arbitrary pair of io.Reader/io.Writer streams (typically a spawned
// child's stdout/stdin, wired up by internal/transport/childproc).
package stdio

import (
	"bufio"
	"context"
	"fmt"
	"io"
	"log/slog"
	"sync"
	"time"

	"github.com/mcprt/mcprt/internal/mcperr"
	"github.com/mcprt/mcprt/internal/transport"
	"github.com/mcprt/mcprt/pkg/jsonrpc"
)

// channelCapacity is the bounded reader channel size from §4.2.1.
const channelCapacity = 1000

// minConnectTimeout is the floor enforced by Configure.
const minConnectTimeout = 100 * time.Millisecond

// maxLineSize bounds a single stdio frame; larger lines fail with a size
// limit error rather than growing the scanner's buffer unboundedly.
const maxLineSize = 16 * 1024 * 1024

// Config configures the stdio transport. It must be passed to Configure
// before Connect for ConnectTimeout validation to apply.
type Config struct {
	transport.Config
	ConnectTimeout time.Duration
}

// Transport implements transport.Transport over a pair of streams framed
// as newline-delimited JSON.
type Transport struct {
	reader io.Reader
	writer io.Writer

	sm      *transport.StateMachine
	metrics transport.Metrics
	cfg     Config

	mu          sync.Mutex
	writerMu    sync.Mutex // guards writes; critical section can span an I/O wait
	recvCh      chan *transport.Message
	readerDone  chan struct{}
	cancelRead  context.CancelFunc
	logger      *slog.Logger
}

// New wraps an arbitrary reader/writer pair (e.g. a child process's
// stdout/stdin, or os.Stdin/os.Stdout for the current-process case).
func New(r io.Reader, w io.Writer) *Transport {
	return &Transport{
		reader: r,
		writer: w,
		sm:     transport.NewStateMachine(),
		logger: slog.Default(),
		cfg: Config{
			Config:         transport.Config{Limits: transport.LimitsConfig{MaxRequestSize: maxLineSize, MaxResponseSize: maxLineSize}},
			ConnectTimeout: 30 * time.Second,
		},
	}
}

// Configure validates and applies stdio-specific configuration.
// ConnectTimeout below 100ms is rejected, per §4.2.1.
func (t *Transport) Configure(cfg transport.Config) error {
	return t.ConfigureStdio(Config{Config: cfg, ConnectTimeout: cfg.ConnectTimeout})
}

// ConfigureStdio is the stdio-typed configuration entry point; the generic
// Configure above adapts transport.Config to it with a zero ConnectTimeout,
// which callers should instead set explicitly via this method.
func (t *Transport) ConfigureStdio(cfg Config) error {
	if cfg.ConnectTimeout != 0 && cfg.ConnectTimeout < minConnectTimeout {
		return &transport.ConfigurationError{Reason: fmt.Sprintf("connect_timeout must be >= %s", minConnectTimeout)}
	}
	t.mu.Lock()
	defer t.mu.Unlock()
	if cfg.ConnectTimeout == 0 {
		cfg.ConnectTimeout = t.cfg.ConnectTimeout
	}
	if cfg.Limits.MaxRequestSize == 0 {
		cfg.Limits.MaxRequestSize = maxLineSize
	}
	if cfg.Limits.MaxResponseSize == 0 {
		cfg.Limits.MaxResponseSize = maxLineSize
	}
	t.cfg = cfg
	return nil
}

// Connect spawns the background reader task and moves to Connected.
func (t *Transport) Connect(ctx context.Context) error {
	if err := t.sm.ToConnecting(); err != nil {
		return err
	}

	t.mu.Lock()
	t.recvCh = make(chan *transport.Message, channelCapacity)
	t.readerDone = make(chan struct{})
	readCtx, cancel := context.WithCancel(context.Background())
	t.cancelRead = cancel
	t.mu.Unlock()

	go t.readLoop(readCtx)

	if err := t.sm.ToConnected(); err != nil {
		cancel()
		return err
	}
	t.metrics.RecordConnection()
	return nil
}

// readLoop scans newline-delimited frames and pushes parsed messages into
// the bounded channel. On channel-full it drops the message and logs a
// warning — MCP clients retry via higher-level response timeouts, so
// dropping (rather than blocking the reader) is the chosen backpressure
// policy (§4.2.1).
func (t *Transport) readLoop(ctx context.Context) {
	defer close(t.readerDone)

	scanner := bufio.NewScanner(t.reader)
	scanner.Buffer(make([]byte, 0, 64*1024), maxLineSize)

	for scanner.Scan() {
		select {
		case <-ctx.Done():
			return
		default:
		}

		line := scanner.Bytes()
		if len(line) == 0 {
			continue
		}
		cp := make([]byte, len(line))
		copy(cp, line)

		t.metrics.RecordReceived(len(cp))
		msg := &transport.Message{Payload: jsonrpc.NewBytes(cp), ContentType: "application/json", CreatedAt: time.Now()}

		select {
		case t.recvCh <- msg:
		default:
			t.logger.Warn("stdio: receive channel full, dropping message", "size", len(cp))
		}
	}
	if err := scanner.Err(); err != nil {
		_ = t.sm.ToFailed(err.Error())
	}
}

// Receive returns the next message pushed by the reader loop, or an error
// if the transport isn't connected.
func (t *Transport) Receive(ctx context.Context) (*transport.Message, error) {
	if t.sm.Current() != transport.StateConnected {
		return nil, &transport.ErrNotConnected{Current: t.sm.Current()}
	}
	t.mu.Lock()
	ch := t.recvCh
	t.mu.Unlock()

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

// Send serializes msg.Payload's already-encoded bytes to the writer,
// asserting no literal newline, then appends a single '\n' framer.
func (t *Transport) Send(ctx context.Context, msg transport.Message) error {
	if t.sm.Current() != transport.StateConnected {
		return &transport.ErrNotConnected{Current: t.sm.Current()}
	}

	data := msg.Payload.Data()
	if len(data) > t.cfg.Limits.MaxRequestSize {
		return mcperr.SizeLimitExceeded(t.cfg.Limits.MaxRequestSize)
	}
	if jsonrpc.HasLiteralNewline(data) {
		return mcperr.Wrap(mcperr.KindProtocol, 0, "stdio send rejected", jsonrpc.ProtocolNewlineError{})
	}

	t.writerMu.Lock()
	defer t.writerMu.Unlock()
	if _, err := t.writer.Write(data); err != nil {
		return mcperr.ConnectionFailed(err)
	}
	if _, err := t.writer.Write([]byte{'\n'}); err != nil {
		return mcperr.ConnectionFailed(err)
	}
	t.metrics.RecordSent(len(data))
	return nil
}

// Disconnect aborts the reader task and returns to Disconnected. Calling
// Disconnect while already Disconnected is a no-op that succeeds (§8).
func (t *Transport) Disconnect(ctx context.Context) error {
	if t.sm.Current() == transport.StateDisconnected {
		return nil
	}
	if err := t.sm.ToDisconnecting(); err != nil {
		return err
	}

	t.mu.Lock()
	cancel := t.cancelRead
	done := t.readerDone
	t.mu.Unlock()
	if cancel != nil {
		cancel()
	}
	// bufio.Scanner has no context awareness, so a blocked Read on the
	// underlying stream is only interrupted by closing it.
	if closer, ok := t.reader.(io.Closer); ok {
		_ = closer.Close()
	}
	if done != nil {
		select {
		case <-done:
		case <-ctx.Done():
		}
	}
	return t.sm.ToDisconnected()
}

func (t *Transport) State() transport.State          { return t.sm.Current() }
func (t *Transport) Metrics() transport.Snapshot      { return t.metrics.Snapshot() }
func (t *Transport) Capabilities() transport.Capabilities {
	return transport.Capabilities{Bidirectional: true, Resumable: false, Streaming: false}
}

var _ transport.Transport = (*Transport)(nil)
