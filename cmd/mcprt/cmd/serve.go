package cmd

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"github.com/spf13/cobra"

	"github.com/mcprt/mcprt/internal/proxy"
)

var (
	serveBackendKind    string
	serveBackendURL     string
	serveBackendCommand string
	serveBackendArgs    []string
	serveFrontendKind   string
	serveListenAddr     string
	serveMaxRequestSize int
	serveRequestTimeout time.Duration
	serveMetrics        bool
	serveAllowedCmds    []string
)

// serveCmd runs the proxy core (§4.4) directly against one backend: dial,
// introspect once, and re-expose the cached spec on the chosen frontend.
// Unlike "serve-full", which puts the auth/audit/policy interceptor chain
// in front of the backend, serve is a plain single-backend,
// single-frontend proxy instance — the shape an
// operator reaches for when embedding the proxy in another process's
// supervision tree.
var serveCmd = &cobra.Command{
	Use:   "serve",
	Short: "Run the proxy against a single MCP backend",
	Long: `Serve dials one upstream MCP server, introspects its tools,
resources, and prompts once, and re-exposes them on the chosen frontend
transport.

Examples:
  # Proxy a subprocess MCP server over stdio
  mcprt serve --backend stdio --command ./my-mcp-server --allow-command ./my-mcp-server

  # Proxy a remote MCP server over HTTP, re-exposed as HTTP
  mcprt serve --backend http --backend-url http://localhost:3000/mcp --frontend http --listen :8090

  # Proxy a Streamable HTTP backend
  mcprt serve --backend streamhttp --backend-url https://upstream.example.com/mcp --frontend stdio`,
	RunE: runServe,
}

func init() {
	serveCmd.Flags().StringVar(&serveBackendKind, "backend", "stdio", "backend kind: stdio, http, tcp, unix, websocket, streamhttp")
	serveCmd.Flags().StringVar(&serveBackendURL, "backend-url", "", "backend URL (http, websocket, streamhttp) or address (tcp, unix)")
	serveCmd.Flags().StringVar(&serveBackendCommand, "command", "", "backend subprocess command (stdio)")
	serveCmd.Flags().StringArrayVar(&serveBackendArgs, "arg", nil, "backend subprocess argument (stdio, repeatable)")
	serveCmd.Flags().StringVar(&serveFrontendKind, "frontend", "stdio", "frontend kind: stdio, http")
	serveCmd.Flags().StringVar(&serveListenAddr, "listen", "127.0.0.1:8090", "HTTP frontend listen address")
	serveCmd.Flags().IntVar(&serveMaxRequestSize, "max-request-size", 0, "maximum request body size in bytes (0 = default)")
	serveCmd.Flags().DurationVar(&serveRequestTimeout, "request-timeout", 0, "backend call timeout (0 = default)")
	serveCmd.Flags().BoolVar(&serveMetrics, "metrics", false, "register Prometheus collectors and mount /metrics (HTTP frontend only)")
	serveCmd.Flags().StringArrayVar(&serveAllowedCmds, "allow-command", nil, "executable allowed as a stdio backend (repeatable, required for --backend stdio)")
	rootCmd.AddCommand(serveCmd)
}

func runServe(cmd *cobra.Command, args []string) error {
	logger := slog.New(slog.NewTextHandler(os.Stderr, nil))

	backend := proxy.BackendConfig{
		Kind:    proxy.BackendKind(serveBackendKind),
		Command: serveBackendCommand,
		Args:    serveBackendArgs,
		URL:     serveBackendURL,
		Address: serveBackendURL,
	}

	builder := proxy.NewBuilder().
		WithBackend(backend).
		WithFrontend(proxy.FrontendKind(serveFrontendKind), serveListenAddr).
		WithLimits(serveMaxRequestSize, serveRequestTimeout).
		WithMetrics(serveMetrics).
		WithAllowedCommands(serveAllowedCmds...).
		WithLogger(logger)

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	p, err := builder.Build(ctx)
	if err != nil {
		return fmt.Errorf("mcprt: building proxy: %w", err)
	}
	defer p.Close(context.Background()) //nolint:errcheck // best-effort on shutdown

	errCh := make(chan error, 1)
	go func() { errCh <- p.Run(ctx) }()

	select {
	case <-ctx.Done():
		fmt.Fprintln(os.Stderr, "mcprt: shutting down")
		return p.Close(context.Background())
	case err := <-errCh:
		if err != nil && !strings.Contains(err.Error(), "closed") {
			return fmt.Errorf("mcprt: proxy exited: %w", err)
		}
		return nil
	}
}
