// Package cmd provides the CLI commands for MCP Runtime.
package cmd

import (
	"fmt"
	"os"

	"github.com/spf13/cobra"

	"github.com/mcprt/mcprt/internal/config"
)

var cfgFile string

var rootCmd = &cobra.Command{
	Use:   "mcprt",
	Short: "MCP Runtime - MCP protocol proxy and OAuth 2.1 authorization server",
	Long: `MCP Runtime dials one or more upstream Model Context Protocol (MCP)
servers, introspects their tools/resources/prompts, and re-exposes them
on stdio, HTTP, or WebSocket frontends through a JSON-RPC router with
RBAC and CEL policy gates.

Quick start:
  mcprt serve --backend stdio --command ./my-mcp-server

Configuration:
  Config is loaded from mcprt.yaml in the current directory,
  $HOME/.mcprt/, or /etc/mcprt/.

  Environment variables can override config values with the MCPRT_ prefix.
  Example: MCPRT_SERVER_HTTP_ADDR=:9090

Commands:
  serve          Run the proxy core against a single backend
  serve-full     Run the proxy behind the auth/audit/policy interceptor chain
  oauth-client   Register an OAuth 2.1 client via dynamic registration
  token-inspect  Decode and print the claims of a JWT access token
  hash-key       Generate SHA256 hash for an API key
  trust-ca       Add/remove the CA certificate to the OS trust store
  version        Print version information`,
}

// Execute runs the root command.
func Execute() {
	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}

func init() {
	cobra.OnInitialize(initConfig)
	rootCmd.PersistentFlags().StringVar(&cfgFile, "config", "", "config file (default: ./mcprt.yaml)")
}

func initConfig() {
	config.InitViper(cfgFile)
}
