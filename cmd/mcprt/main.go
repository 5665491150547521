// Command mcprt runs the MCP runtime: a security proxy, protocol router,
// and OAuth 2.1 authorization server/client for Model Context Protocol
// servers.
package main

import "github.com/mcprt/mcprt/cmd/mcprt/cmd"

func main() {
	cmd.Execute()
}
