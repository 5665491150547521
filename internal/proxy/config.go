// Package proxy implements the proxy core (§4.4): a frontend<->backend
// bridge that introspects an arbitrary backend MCP server once at startup,
// caches its tool/resource/prompt spec, and re-exposes it through a
// possibly-different transport while enforcing the security gates that
// keep an operator from pointing the proxy at something it shouldn't.
package proxy

import (
	"context"
	"fmt"
	"log/slog"
	"time"
)

// BackendKind selects how the proxy dials its backend.
type BackendKind string

const (
	BackendStdio      BackendKind = "stdio"
	BackendHTTP       BackendKind = "http"
	BackendTCP        BackendKind = "tcp"
	BackendUnix       BackendKind = "unix"
	BackendWebSocket  BackendKind = "websocket"
	BackendStreamHTTP BackendKind = "streamhttp"
)

// FrontendKind selects the transport the proxy re-exposes the backend
// through.
type FrontendKind string

const (
	FrontendHTTP  FrontendKind = "http"
	FrontendStdio FrontendKind = "stdio"
)

// BackendConfig describes one backend dial target. Only the fields
// relevant to Kind are consulted.
type BackendConfig struct {
	Kind BackendKind

	// Stdio
	Command string
	Args    []string
	Env     []string

	// HTTP / WebSocket / Streaming HTTP
	URL string

	// TCP / Unix
	Address string // host:port for TCP, socket path for Unix
}

// Config is the full set of knobs the Builder assembles before Build().
type Config struct {
	Backend  BackendConfig
	Frontend FrontendKind

	// ListenAddr is where the HTTP frontend listens. Ignored for stdio.
	ListenAddr string

	MaxRequestSize int
	RequestTimeout time.Duration

	// MetricsEnabled toggles Prometheus registration of the proxy's
	// counters (§4.2). The counters themselves are always kept.
	MetricsEnabled bool

	// AllowedCommands restricts which executables a stdio backend may
	// launch (§7's command allowlist gate). Entries match either the
	// literal command string or, if they contain no path separator, the
	// executable's base name. Empty means no stdio backend is permitted.
	AllowedCommands []string

	Logger *slog.Logger
}

const (
	defaultMaxRequestSize = 4 * 1024 * 1024
	defaultRequestTimeout = 30 * time.Second
)

// Builder collects backend config, frontend transport choice, and the
// size/timeout/metrics knobs (§4.4 step 1), deferring validation and
// connection to Build().
type Builder struct {
	cfg Config
}

// NewBuilder starts a Builder with the documented defaults.
func NewBuilder() *Builder {
	return &Builder{cfg: Config{
		MaxRequestSize: defaultMaxRequestSize,
		RequestTimeout: defaultRequestTimeout,
		Frontend:       FrontendStdio,
	}}
}

func (b *Builder) WithBackend(backend BackendConfig) *Builder {
	b.cfg.Backend = backend
	return b
}

func (b *Builder) WithFrontend(kind FrontendKind, listenAddr string) *Builder {
	b.cfg.Frontend = kind
	b.cfg.ListenAddr = listenAddr
	return b
}

func (b *Builder) WithLimits(maxRequestSize int, timeout time.Duration) *Builder {
	if maxRequestSize > 0 {
		b.cfg.MaxRequestSize = maxRequestSize
	}
	if timeout > 0 {
		b.cfg.RequestTimeout = timeout
	}
	return b
}

func (b *Builder) WithMetrics(enabled bool) *Builder {
	b.cfg.MetricsEnabled = enabled
	return b
}

func (b *Builder) WithAllowedCommands(commands ...string) *Builder {
	b.cfg.AllowedCommands = commands
	return b
}

func (b *Builder) WithLogger(logger *slog.Logger) *Builder {
	b.cfg.Logger = logger
	return b
}

// Build validates the security gates (§7) and dials the backend,
// returning a Proxy ready to Run(). It does not introspect the backend
// yet — that happens in Run, once per process lifetime.
func (b *Builder) Build(ctx context.Context) (*Proxy, error) {
	cfg := b.cfg
	if cfg.Logger == nil {
		cfg.Logger = slog.Default()
	}

	if err := gateSecurity(cfg); err != nil {
		return nil, err
	}

	connector, err := dialBackend(ctx, cfg)
	if err != nil {
		return nil, fmt.Errorf("proxy: dialing backend: %w", err)
	}

	return &Proxy{
		cfg:       cfg,
		connector: connector,
		logger:    cfg.Logger,
	}, nil
}
