// Package oauth implements the OAuth 2.1 authorization server and the
// client-side pieces that talk to one (C5): PKCE, RFC 8707 resource
// indicators, RFC 9728 protected-resource metadata, RFC 7591 dynamic
// client registration, and single-use refresh-token families.
//
// Layout follows the teacher's domain -> service -> HTTP adapter split
// (internal/domain/auth + internal/service + internal/adapter/inbound/admin),
// since the teacher itself carries only API-key auth; the teacher's
// Identity/Role model is reused as the resource-owner identity behind the
// authorization endpoint's injected Authenticator (§4.5).
package oauth

import "time"

// CodeChallengeMethod is the PKCE transformation applied to the verifier.
type CodeChallengeMethod string

const (
	ChallengeS256  CodeChallengeMethod = "S256"
	ChallengePlain CodeChallengeMethod = "plain"
)

// ClientAuthMethod records how a client authenticated to the token
// endpoint (§4.5 "Client authentication order").
type ClientAuthMethod string

const (
	AuthMethodNone            ClientAuthMethod = "none"
	AuthMethodClientSecretPost ClientAuthMethod = "client_secret_post"
	AuthMethodClientSecretBasic ClientAuthMethod = "client_secret_basic"
)

// Client is a registered OAuth client (RFC 7591 dynamic registration or
// statically pre-registered).
type Client struct {
	ClientID                string
	ClientSecretHash        string // argon2id PHC hash; empty for public clients
	ClientName               string
	RedirectURIs             []string
	GrantTypes               []string
	ResponseTypes            []string
	TokenEndpointAuthMethod  ClientAuthMethod
	Scopes                   []string
	ClientIDIssuedAt         time.Time
	ClientSecretExpiresAt    time.Time // zero means never expires
}

// IsPublic reports whether this client has no registered secret, meaning
// PKCE is mandatory (§4.5 step 1).
func (c *Client) IsPublic() bool { return c.ClientSecretHash == "" }

// AuthorizationGrant is the ephemeral, single-use record backing an
// issued authorization code (§3). Stored only by the code's hash; this
// struct is the value the store returns on lookup, never on the wire.
type AuthorizationGrant struct {
	ClientID            string
	RedirectURI         string
	Scopes              []string
	CodeChallenge       string
	CodeChallengeMethod CodeChallengeMethod
	Subject             string
	Resource            string // RFC 8707 canonical resource URI, optional
	ExpiresAt           time.Time
	State               string
	Nonce               string
	DPoPJKT             string // bound DPoP key thumbprint, empty unless DPoP is in use
}

// Expired reports whether this grant's lifetime has elapsed at instant
// `now` (§8: "expired by exactly one second is rejected").
func (g *AuthorizationGrant) Expired(now time.Time) bool { return now.After(g.ExpiresAt) }

// RefreshToken models one member of a token family (§3, §9): rather than
// a linked list, membership is `(FamilyID, Generation)`, so revoking a
// family is a bulk delete by FamilyID instead of a graph walk.
type RefreshToken struct {
	FamilyID   string
	Generation uint32
	Subject    string
	ClientID   string
	Scopes     []string
	Resource   string
	Used       bool
	ExpiresAt  time.Time
	DPoPJKT    string // carried across rotations so a refreshed token keeps the same key binding
}

// NextGeneration returns this token's generation, incremented for the
// next token issued in the family. Saturation at math.MaxUint32 wraps to
// 0 rather than issuing past the type's range (§8 open question: the
// implementer must choose wrap-or-error; we wrap and additionally refuse
// to issue past a configured family generation ceiling in the store, so a
// wrapped generation can never silently alias a still-live earlier token
// — see DESIGN.md).
func (t *RefreshToken) NextGeneration() uint32 { return t.Generation + 1 }

// Expired reports whether this refresh token has expired at instant now.
func (t *RefreshToken) Expired(now time.Time) bool { return now.After(t.ExpiresAt) }

// AccessTokenRecord is the server's bookkeeping for one issued access
// token (§3). Tokens are stored only by hash; RefreshTokenHash links back
// to the refresh token issued alongside it, if any.
type AccessTokenRecord struct {
	Subject           string
	ClientID          string
	Scopes            []string
	Resource          string
	IssuedAt          time.Time
	ExpiresAt         time.Time
	RefreshTokenHash  string
	DPoPJKT           string
}

// Expired reports whether this access token has expired at instant now.
func (a *AccessTokenRecord) Expired(now time.Time) bool { return now.After(a.ExpiresAt) }

// TokenResponse is the RFC 6749 §5.1 success body returned by the token
// endpoint.
type TokenResponse struct {
	AccessToken  string `json:"access_token"`
	TokenType    string `json:"token_type"`
	ExpiresIn    int64  `json:"expires_in"`
	RefreshToken string `json:"refresh_token,omitempty"`
	Scope        string `json:"scope,omitempty"`
}

// ErrorResponse is the RFC 6749 §5.2 error body.
type ErrorResponse struct {
	Error            string `json:"error"`
	ErrorDescription string `json:"error_description,omitempty"`
}

// IntrospectionResponse is the RFC 7662 token introspection response
// shape, fully populated per the supplemented-features note in
// SPEC_FULL.md (not just a boolean `active`).
type IntrospectionResponse struct {
	Active    bool     `json:"active"`
	Scope     string   `json:"scope,omitempty"`
	ClientID  string   `json:"client_id,omitempty"`
	Subject   string   `json:"sub,omitempty"`
	TokenType string   `json:"token_type,omitempty"`
	Exp       int64    `json:"exp,omitempty"`
	Iat       int64    `json:"iat,omitempty"`
	Aud       []string `json:"aud,omitempty"`
}

// RegisteredClientResponse is the RFC 7591 §3.2.1 dynamic-registration
// response, including the supplemented client_id_issued_at /
// client_secret_expires_at fields the distilled spec didn't name.
type RegisteredClientResponse struct {
	ClientID                string   `json:"client_id"`
	ClientSecret             string   `json:"client_secret,omitempty"`
	ClientIDIssuedAt         int64    `json:"client_id_issued_at"`
	ClientSecretExpiresAt    int64    `json:"client_secret_expires_at"`
	RedirectURIs             []string `json:"redirect_uris"`
	TokenEndpointAuthMethod  string   `json:"token_endpoint_auth_method"`
	GrantTypes               []string `json:"grant_types"`
	ResponseTypes            []string `json:"response_types"`
	ClientName               string   `json:"client_name,omitempty"`
	Scope                    string   `json:"scope,omitempty"`
}

// ProtectedResourceMetadata is the RFC 9728 document served at
// /.well-known/oauth-protected-resource.
type ProtectedResourceMetadata struct {
	Resource               string   `json:"resource"`
	AuthorizationServers   []string `json:"authorization_servers"`
	ScopesSupported        []string `json:"scopes_supported,omitempty"`
	BearerMethodsSupported []string `json:"bearer_methods_supported,omitempty"`
	ResourceDocumentation  string   `json:"resource_documentation,omitempty"`
}

// AuthorizationServerMetadata is the RFC 8414 document served at
// /.well-known/oauth-authorization-server.
type AuthorizationServerMetadata struct {
	Issuer                            string   `json:"issuer"`
	AuthorizationEndpoint             string   `json:"authorization_endpoint"`
	TokenEndpoint                     string   `json:"token_endpoint"`
	RevocationEndpoint                string   `json:"revocation_endpoint"`
	IntrospectionEndpoint             string   `json:"introspection_endpoint"`
	JWKSURI                           string   `json:"jwks_uri"`
	ResponseTypesSupported            []string `json:"response_types_supported"`
	GrantTypesSupported               []string `json:"grant_types_supported"`
	TokenEndpointAuthMethodsSupported []string `json:"token_endpoint_auth_methods_supported"`
	CodeChallengeMethodsSupported     []string `json:"code_challenge_methods_supported"`
	ScopesSupported                   []string `json:"scopes_supported,omitempty"`
	RegistrationEndpoint              string   `json:"registration_endpoint,omitempty"`
}
