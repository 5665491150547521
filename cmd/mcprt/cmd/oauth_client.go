package cmd

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/spf13/cobra"

	"github.com/mcprt/mcprt/internal/oauth"
	oauthclient "github.com/mcprt/mcprt/internal/oauth/client"
)

var (
	oauthClientName        string
	oauthClientRedirectURI string
	oauthClientScopes      []string
)

// oauthClientCmd generalizes hash-key and trust-ca's pattern of a small,
// operator-facing admin command: instead of hashing a key or installing a
// CA, it drives RFC 7591 dynamic client registration against a running
// authorization server so an operator can obtain credentials without
// hand-writing a registration POST.
var oauthClientCmd = &cobra.Command{
	Use:   "oauth-client [registration-endpoint]",
	Short: "Dynamically register an OAuth client against an authorization server",
	Long: `Register a new OAuth 2.1 client via RFC 7591 dynamic client
registration and print the resulting client_id / client_secret.

Example:
  mcprt oauth-client https://auth.example.com/register \
    --name "my-agent" --redirect-uri http://localhost:8765/callback`,
	Args: cobra.ExactArgs(1),
	RunE: runOAuthClient,
}

func init() {
	oauthClientCmd.Flags().StringVar(&oauthClientName, "name", "", "client_name to register")
	oauthClientCmd.Flags().StringVar(&oauthClientRedirectURI, "redirect-uri", "", "redirect_uri the client will use (required)")
	oauthClientCmd.Flags().StringArrayVar(&oauthClientScopes, "scope", nil, "scope to request (repeatable)")
	_ = oauthClientCmd.MarkFlagRequired("redirect-uri")
	rootCmd.AddCommand(oauthClientCmd)
}

func runOAuthClient(cmd *cobra.Command, args []string) error {
	endpoint := args[0]

	req := oauth.RegisteredClientResponse{
		ClientName:              oauthClientName,
		RedirectURIs:            []string{oauthClientRedirectURI},
		TokenEndpointAuthMethod: "none",
		GrantTypes:              []string{"authorization_code", "refresh_token"},
		ResponseTypes:           []string{"code"},
		Scope:                   joinScopes(oauthClientScopes),
	}

	httpClient := oauthclient.NewHTTPClient(false)
	resp, err := oauthclient.RegisterClient(context.Background(), httpClient, endpoint, req)
	if err != nil {
		return fmt.Errorf("mcprt: registering OAuth client: %w", err)
	}

	out, err := json.MarshalIndent(resp, "", "  ")
	if err != nil {
		return err
	}
	fmt.Println(string(out))
	return nil
}

func joinScopes(scopes []string) string {
	return oauth.ScopeString(scopes)
}
