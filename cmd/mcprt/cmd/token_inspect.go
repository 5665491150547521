package cmd

import (
	"encoding/json"
	"fmt"

	"github.com/golang-jwt/jwt/v5"
	"github.com/spf13/cobra"

	"github.com/mcprt/mcprt/internal/oauth"
)

// tokenInspectCmd is the CLI half of the RFC 7662 introspection endpoint
// (internal/oauth/handler.go's handleIntrospect): it decodes a JWT access
// token's claims locally without holding the authorization server's
// signing key, for operators debugging what a token actually carries.
// This does not verify the signature — use the server's /introspect
// endpoint to check whether a token is still valid.
var tokenInspectCmd = &cobra.Command{
	Use:   "token-inspect [token]",
	Short: "Decode an access token's claims without verifying its signature",
	Long: `Decode the claims of a JWT access token issued by this runtime's
authorization server, for local debugging.

This only parses the token; it does not check the signature or call the
authorization server's /introspect endpoint, so a decoded token may be
expired or revoked.

Example:
  mcprt token-inspect "$ACCESS_TOKEN"`,
	Args: cobra.ExactArgs(1),
	RunE: runTokenInspect,
}

func init() {
	rootCmd.AddCommand(tokenInspectCmd)
}

func runTokenInspect(cmd *cobra.Command, args []string) error {
	claims := &oauth.Claims{}
	parser := jwt.NewParser()
	if _, _, err := parser.ParseUnverified(args[0], claims); err != nil {
		return fmt.Errorf("mcprt: parsing token: %w", err)
	}

	out, err := json.MarshalIndent(claims, "", "  ")
	if err != nil {
		return err
	}
	fmt.Println(string(out))
	return nil
}
