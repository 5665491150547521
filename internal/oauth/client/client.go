// Package client is the MCP-client side of C5: a PKCE-mandatory
// authorization_code flow built on golang.org/x/oauth2, plus RFC 9728
// protected-resource-metadata discovery and RFC 7591 dynamic
// registration, so a client talking to an unfamiliar MCP server can
// bootstrap authorization without any out-of-band configuration.
package client

import (
	"context"
	"crypto/tls"
	"encoding/json"
	"fmt"
	"net/http"
	"strings"
	"time"

	"golang.org/x/oauth2"

	"github.com/mcprt/mcprt/internal/oauth"
)

// DiscoverProtectedResource fetches RFC 9728 metadata for an MCP server,
// identifying which authorization server(s) can mint tokens for it.
func DiscoverProtectedResource(ctx context.Context, httpClient *http.Client, resourceBaseURL string) (*oauth.ProtectedResourceMetadata, error) {
	url := strings.TrimSuffix(resourceBaseURL, "/") + "/.well-known/oauth-protected-resource"
	var meta oauth.ProtectedResourceMetadata
	if err := getJSON(ctx, httpClient, url, &meta); err != nil {
		return nil, fmt.Errorf("oauth/client: discovering protected resource metadata: %w", err)
	}
	return &meta, nil
}

// DiscoverAuthorizationServer fetches RFC 8414 metadata for an
// authorization server.
func DiscoverAuthorizationServer(ctx context.Context, httpClient *http.Client, issuer string) (*oauth.AuthorizationServerMetadata, error) {
	url := strings.TrimSuffix(issuer, "/") + "/.well-known/oauth-authorization-server"
	var meta oauth.AuthorizationServerMetadata
	if err := getJSON(ctx, httpClient, url, &meta); err != nil {
		return nil, fmt.Errorf("oauth/client: discovering authorization server metadata: %w", err)
	}
	return &meta, nil
}

// RegisterClient performs RFC 7591 dynamic registration against an
// authorization server's registration endpoint.
func RegisterClient(ctx context.Context, httpClient *http.Client, registrationEndpoint string, req oauth.RegisteredClientResponse) (*oauth.RegisteredClientResponse, error) {
	body, err := json.Marshal(req)
	if err != nil {
		return nil, err
	}
	httpReq, err := http.NewRequestWithContext(ctx, http.MethodPost, registrationEndpoint, strings.NewReader(string(body)))
	if err != nil {
		return nil, err
	}
	httpReq.Header.Set("Content-Type", "application/json")

	resp, err := httpClient.Do(httpReq)
	if err != nil {
		return nil, fmt.Errorf("oauth/client: registering client: %w", err)
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusCreated {
		return nil, fmt.Errorf("oauth/client: registration endpoint returned %d", resp.StatusCode)
	}

	var out oauth.RegisteredClientResponse
	if err := json.NewDecoder(resp.Body).Decode(&out); err != nil {
		return nil, fmt.Errorf("oauth/client: decoding registration response: %w", err)
	}
	return &out, nil
}

// Flow drives a PKCE-mandatory authorization_code flow for one client
// against one authorization server, wrapping golang.org/x/oauth2's
// oauth2.Config with the verifier/challenge bookkeeping PKCE requires.
type Flow struct {
	config   oauth2.Config
	verifier string
	resource string
}

// NewFlow builds a Flow from discovered/registered endpoints. Resource
// is included as the RFC 8707 `resource` parameter on both legs.
func NewFlow(meta *oauth.AuthorizationServerMetadata, clientID, clientSecret, redirectURL string, scopes []string, resource string) (*Flow, error) {
	if err := ValidateRedirectHost(redirectURL); err != nil {
		return nil, err
	}
	verifier, err := oauth.NewCodeVerifier()
	if err != nil {
		return nil, err
	}
	canonResource, err := oauth.CanonicalizeResource(resource)
	if err != nil {
		return nil, err
	}
	return &Flow{
		config: oauth2.Config{
			ClientID:     clientID,
			ClientSecret: clientSecret,
			Scopes:       scopes,
			RedirectURL:  redirectURL,
			Endpoint: oauth2.Endpoint{
				AuthURL:  meta.AuthorizationEndpoint,
				TokenURL: meta.TokenEndpoint,
			},
		},
		verifier: verifier,
		resource: canonResource,
	}, nil
}

// AuthCodeURL builds the browser-facing authorization URL, carrying the
// S256 PKCE challenge and (if set) the resource indicator.
func (f *Flow) AuthCodeURL(state string) string {
	opts := []oauth2.AuthCodeOption{
		oauth2.S256ChallengeOption(f.verifier),
	}
	if f.resource != "" {
		opts = append(opts, oauth2.SetAuthURLParam("resource", f.resource))
	}
	return f.config.AuthCodeURL(state, opts...)
}

// Exchange redeems the authorization code for a token, presenting the
// verifier that matches the challenge sent in AuthCodeURL.
func (f *Flow) Exchange(ctx context.Context, code string) (*oauth2.Token, error) {
	opts := []oauth2.AuthCodeOption{
		oauth2.VerifierOption(f.verifier),
	}
	if f.resource != "" {
		opts = append(opts, oauth2.SetAuthURLParam("resource", f.resource))
	}
	return f.config.Exchange(ctx, code, opts...)
}

// TokenSource returns a self-refreshing oauth2.TokenSource seeded from an
// already-obtained token, so callers get silent refresh-token rotation
// without re-driving the browser flow.
func (f *Flow) TokenSource(ctx context.Context, tok *oauth2.Token) oauth2.TokenSource {
	return f.config.TokenSource(ctx, tok)
}

// NewHTTPClient builds the client used for discovery/registration calls.
// insecureTLS only takes effect when TURBOMCP_ALLOW_INSECURE_TLS is set in
// the environment; otherwise a request for insecure TLS is silently
// overridden back to verified TLS.
func NewHTTPClient(insecureTLS bool) *http.Client {
	cfg := &tls.Config{MinVersion: tls.VersionTLS12}
	if insecureTLS && InsecureTLSAllowed() {
		cfg.InsecureSkipVerify = true
	}
	return &http.Client{
		Timeout:   10 * time.Second,
		Transport: &http.Transport{TLSClientConfig: cfg},
	}
}

func getJSON(ctx context.Context, httpClient *http.Client, url string, out any) error {
	if httpClient == nil {
		httpClient = NewHTTPClient(false)
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, url, nil)
	if err != nil {
		return err
	}
	resp, err := httpClient.Do(req)
	if err != nil {
		return err
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		return fmt.Errorf("unexpected status %d from %s", resp.StatusCode, url)
	}
	return json.NewDecoder(resp.Body).Decode(out)
}
