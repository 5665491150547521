package transport

import (
	"context"
	"time"

	"github.com/mcprt/mcprt/pkg/jsonrpc"
)

// Message is the transport-level envelope (§3): an opaque payload plus the
// bookkeeping metadata needed to correlate it with a request/response pair
// or a content type.
type Message struct {
	ID            string
	Payload       jsonrpc.Bytes
	ContentType   string
	CreatedAt     time.Time
	CorrelationID string
}

// Capabilities describes what a transport implementation supports, so
// generic callers (e.g. the proxy) can make policy decisions (does this
// transport support server push? resumable streams?) without a type
// switch.
type Capabilities struct {
	Bidirectional bool
	Resumable     bool
	Streaming     bool
}

// LimitsConfig bounds request/response sizes, consulted before send and
// after receive by every transport (§4.2).
type LimitsConfig struct {
	MaxRequestSize  int
	MaxResponseSize int
}

// Config is the common configuration surface; concrete transports embed
// this and add their own fields (e.g. stdio's ConnectTimeout).
type Config struct {
	Limits         LimitsConfig
	ConnectTimeout time.Duration
}

// Transport is the uniform contract implemented by stdio, Streamable HTTP,
// and child-process transports (§4.2). All methods may suspend (block on
// I/O); callers are expected to pass a context for cancellation.
type Transport interface {
	Connect(ctx context.Context) error
	Disconnect(ctx context.Context) error
	Send(ctx context.Context, msg Message) error
	Receive(ctx context.Context) (*Message, error)
	State() State
	Metrics() Snapshot
	Capabilities() Capabilities
	Configure(cfg Config) error
}

// ErrNotConnected is returned by Send/Receive when the transport isn't in
// StateConnected.
type ErrNotConnected struct {
	Current State
}

func (e *ErrNotConnected) Error() string {
	return "transport: not connected (state=" + e.Current.String() + ")"
}

// ConfigurationError is returned by Configure when the supplied config is
// invalid for the concrete transport (e.g. stdio connect timeout too low).
type ConfigurationError struct {
	Reason string
}

func (e *ConfigurationError) Error() string { return "transport: configuration error: " + e.Reason }
