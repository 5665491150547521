package oauth

import (
	"context"
	"crypto/rand"
	"encoding/hex"
	"fmt"
	"net/http"
	"time"

	"github.com/google/uuid"
)

// Authenticator resolves the resource owner behind an authorization
// request. The teacher carries only API-key identities; C5 treats
// whatever sits behind this interface as the logged-in subject, so a
// deployment can wire it to internal/domain/auth or any other identity
// source without the authorization server knowing the difference.
type Authenticator interface {
	Authenticate(ctx context.Context, r AuthorizationRequest) (subject string, err error)
}

// AuthorizationRequest is the parsed /oauth/authorize query.
type AuthorizationRequest struct {
	ClientID            string
	RedirectURI          string
	Scope                string
	State                string
	CodeChallenge        string
	CodeChallengeMethod  CodeChallengeMethod
	Resource             string
	DPoPJKT              string // set when the request carried a DPoP proof ticket (§3)
}

const (
	defaultCodeTTL    = 60 * time.Second
	defaultAccessTTL  = 1 * time.Hour
	defaultRefreshTTL = 30 * 24 * time.Hour
)

// Server is the OAuth 2.1 authorization server (§4.5): PKCE-mandatory
// authorization_code grant plus single-use, reuse-detecting
// refresh_token rotation.
type Server struct {
	Issuer   string
	Clients  ClientStore
	Tokens   TokenStore
	JWT      *JWTIssuer
	DPoP     DPoPConfig
	CodeTTL    time.Duration
	AccessTTL  time.Duration
	RefreshTTL time.Duration
}

// NewServer wires a Server with sane defaults for the token lifetimes.
func NewServer(issuer string, clients ClientStore, tokens TokenStore, jwt *JWTIssuer) *Server {
	return &Server{
		Issuer:     issuer,
		Clients:    clients,
		Tokens:     tokens,
		JWT:        jwt,
		CodeTTL:    defaultCodeTTL,
		AccessTTL:  defaultAccessTTL,
		RefreshTTL: defaultRefreshTTL,
	}
}

// Authorize validates an authorization request against the client's
// registration and mints a single-use authorization code bound to the
// PKCE challenge (§3, §4.5). PKCE is mandatory for every client, public
// or confidential (RFC 9700 / MCP's PKCE-always profile).
func (s *Server) Authorize(ctx context.Context, req AuthorizationRequest, subject string) (code string, err error) {
	client, err := s.Clients.GetClient(ctx, req.ClientID)
	if err != nil {
		return "", fmt.Errorf("oauth: unknown client: %w", err)
	}
	if err := ValidateRedirectURI(req.RedirectURI, client.RedirectURIs); err != nil {
		return "", err
	}
	if req.CodeChallenge == "" {
		return "", fmt.Errorf("oauth: code_challenge is required")
	}
	method := req.CodeChallengeMethod
	if method == "" {
		method = ChallengeS256
	}

	resource, err := CanonicalizeResource(req.Resource)
	if err != nil {
		return "", err
	}

	rawCode, err := NewOpaqueToken()
	if err != nil {
		return "", fmt.Errorf("oauth: generating authorization code: %w", err)
	}

	now := time.Now().UTC()
	grant := AuthorizationGrant{
		ClientID:            client.ClientID,
		RedirectURI:         req.RedirectURI,
		Scopes:              normalizeScope(ParseScope(req.Scope), client.Scopes),
		CodeChallenge:       req.CodeChallenge,
		CodeChallengeMethod: method,
		Subject:             subject,
		Resource:            resource,
		ExpiresAt:           now.Add(s.codeTTL()),
		State:               req.State,
		DPoPJKT:             req.DPoPJKT,
	}
	if err := s.Tokens.CreateCode(ctx, HashToken(rawCode), grant); err != nil {
		return "", fmt.Errorf("oauth: storing authorization code: %w", err)
	}
	return rawCode, nil
}

// ExchangeCode implements the authorization_code grant (§3): the code is
// consumed exactly once, the verifier is checked against the stored
// challenge, and a fresh access + refresh token pair is issued,
// establishing generation 0 of a new refresh-token family.
func (s *Server) ExchangeCode(ctx context.Context, client *Client, code, redirectURI, verifier, resource string) (*TokenResponse, error) {
	grant, err := s.Tokens.ConsumeCode(ctx, HashToken(code))
	if err != nil {
		return nil, fmt.Errorf("oauth: invalid_grant: %w", err)
	}
	if grant.ClientID != client.ClientID {
		return nil, fmt.Errorf("oauth: invalid_grant: code was not issued to this client")
	}
	if grant.RedirectURI != redirectURI {
		return nil, fmt.Errorf("oauth: invalid_grant: redirect_uri mismatch")
	}
	if !VerifyPKCE(verifier, grant.CodeChallenge, grant.CodeChallengeMethod) {
		return nil, fmt.Errorf("oauth: invalid_grant: PKCE verification failed")
	}
	canonResource, err := CanonicalizeResource(resource)
	if err != nil {
		return nil, err
	}
	if canonResource != "" && grant.Resource != "" && canonResource != grant.Resource {
		return nil, fmt.Errorf("oauth: invalid_grant: resource does not match the authorized resource")
	}

	familyID := uuid.NewString()
	return s.issueTokenPair(ctx, grant.Subject, client.ClientID, grant.Scopes, grant.Resource, familyID, 0, grant.DPoPJKT)
}

// RefreshGrant implements the refresh_token grant with reuse detection
// (§3: "the first reuse of any used token revokes every token in the
// family"). A successful refresh both rotates the token (new generation)
// and marks the presented one used; presenting an already-used token a
// second time revokes the whole family, since that can only happen if
// the token was exfiltrated and used concurrently by two parties.
func (s *Server) RefreshGrant(ctx context.Context, client *Client, rawRefreshToken, resource string) (*TokenResponse, error) {
	hash := HashToken(rawRefreshToken)
	rt, err := s.Tokens.GetRefreshToken(ctx, hash)
	if err != nil {
		if err == ErrRevoked {
			return nil, fmt.Errorf("oauth: invalid_grant: refresh token reuse detected, family revoked")
		}
		return nil, fmt.Errorf("oauth: invalid_grant: %w", err)
	}
	if rt.ClientID != client.ClientID {
		return nil, fmt.Errorf("oauth: invalid_grant: refresh token was not issued to this client")
	}

	if rt.Used {
		_ = s.Tokens.RevokeFamily(ctx, rt.FamilyID)
		return nil, fmt.Errorf("oauth: invalid_grant: refresh token reuse detected, family revoked")
	}
	if err := s.Tokens.MarkRefreshTokenUsed(ctx, hash); err != nil {
		return nil, fmt.Errorf("oauth: marking refresh token used: %w", err)
	}

	canonResource, err := CanonicalizeResource(resource)
	if err != nil {
		return nil, err
	}
	if canonResource == "" {
		canonResource = rt.Resource
	}

	return s.issueTokenPair(ctx, rt.Subject, client.ClientID, rt.Scopes, canonResource, rt.FamilyID, rt.NextGeneration(), rt.DPoPJKT)
}

func (s *Server) issueTokenPair(ctx context.Context, subject, clientID string, scopes []string, resource, familyID string, generation uint32, dpopJKT string) (*TokenResponse, error) {
	var cnf *CNF
	if s.DPoP.Enabled && dpopJKT != "" {
		cnf = &CNF{JKT: dpopJKT}
	}
	accessTTL := s.accessTTL()
	accessToken, expiresAt, err := s.JWT.Issue(subject, clientID, scopes, resource, accessTTL, cnf)
	if err != nil {
		return nil, err
	}
	if err := s.Tokens.StoreAccessToken(ctx, HashToken(accessToken), AccessTokenRecord{
		Subject:   subject,
		ClientID:  clientID,
		Scopes:    scopes,
		Resource:  resource,
		IssuedAt:  time.Now().UTC(),
		ExpiresAt: expiresAt,
		DPoPJKT:   dpopJKT,
	}); err != nil {
		return nil, fmt.Errorf("oauth: storing access token: %w", err)
	}

	rawRefresh, err := NewOpaqueToken()
	if err != nil {
		return nil, fmt.Errorf("oauth: generating refresh token: %w", err)
	}
	refreshExpiresAt := time.Now().UTC().Add(s.refreshTTL())
	if err := s.Tokens.StoreRefreshToken(ctx, HashToken(rawRefresh), RefreshToken{
		FamilyID:   familyID,
		Generation: generation,
		Subject:    subject,
		ClientID:   clientID,
		Scopes:     scopes,
		Resource:   resource,
		ExpiresAt:  refreshExpiresAt,
		DPoPJKT:    dpopJKT,
	}); err != nil {
		return nil, fmt.Errorf("oauth: storing refresh token: %w", err)
	}

	return &TokenResponse{
		AccessToken:  accessToken,
		TokenType:    "Bearer",
		ExpiresIn:    int64(accessTTL.Seconds()),
		RefreshToken: rawRefresh,
		Scope:        joinScopes(scopes),
	}, nil
}

// Introspect implements RFC 7662: verifies the JWT signature/claims and
// cross-checks the store so a revoked-but-unexpired token reports inactive.
func (s *Server) Introspect(ctx context.Context, rawToken string) (*IntrospectionResponse, error) {
	rec, err := s.Tokens.GetAccessToken(ctx, HashToken(rawToken))
	if err != nil {
		return &IntrospectionResponse{Active: false}, nil
	}
	claims, err := s.JWT.Verify(rawToken)
	if err != nil {
		return &IntrospectionResponse{Active: false}, nil
	}
	return &IntrospectionResponse{
		Active:    true,
		Scope:     joinScopes(rec.Scopes),
		ClientID:  rec.ClientID,
		Subject:   rec.Subject,
		TokenType: "Bearer",
		Exp:       claims.ExpiresAt.Unix(),
		Iat:       claims.IssuedAt.Unix(),
		Aud:       claims.Audience,
	}, nil
}

// VerifyAccessToken is the resource-server-side check a protected
// endpoint runs per request: the token must verify and be unexpired,
// and when it carries a cnf.jkt binding, the caller must also present a
// fresh, matching DPoP proof (§3 "usage requires a DPoP proof JWT per
// request").
func (s *Server) VerifyAccessToken(r *http.Request, rawToken string) (*Claims, error) {
	claims, err := s.JWT.Verify(rawToken)
	if err != nil {
		return nil, err
	}
	if claims.CNF != nil && claims.CNF.JKT != "" {
		proof := r.Header.Get("DPoP")
		if proof == "" {
			return nil, fmt.Errorf("oauth: token is DPoP-bound but no DPoP proof was presented")
		}
		if err := VerifyDPoPProof(proof, r, claims.CNF.JKT, 2*time.Minute); err != nil {
			return nil, err
		}
	}
	return claims, nil
}

// CurrentDPoPNonce returns the server-chosen anti-replay nonce for the
// current minute window, or "" when DPoP is disabled.
func (s *Server) CurrentDPoPNonce() (string, error) {
	if !s.DPoP.Enabled {
		return "", nil
	}
	return s.DPoP.Nonce(time.Now().UTC().Unix() / 60)
}

// Revoke implements RFC 7009: revocation is always reported as success
// even for an unknown token, matching the RFC's intent that clients
// cannot probe token validity through this endpoint.
func (s *Server) Revoke(ctx context.Context, rawToken string) error {
	hash := HashToken(rawToken)
	_ = s.Tokens.RevokeAccessToken(ctx, hash)
	if rt, err := s.Tokens.GetRefreshToken(ctx, hash); err == nil {
		_ = s.Tokens.RevokeFamily(ctx, rt.FamilyID)
	}
	return nil
}

// RegisterClient implements RFC 7591 dynamic client registration.
// Confidential clients receive a freshly generated secret, returned in
// plaintext exactly once and stored only as an argon2id hash thereafter.
func (s *Server) RegisterClient(ctx context.Context, req RegisteredClientResponse, public bool) (*RegisteredClientResponse, string, error) {
	clientID := uuid.NewString()
	now := time.Now().UTC()

	var secretHash, plainSecret string
	if !public {
		raw, err := randomSecret()
		if err != nil {
			return nil, "", err
		}
		plainSecret = raw
		secretHash, err = HashClientSecret(raw)
		if err != nil {
			return nil, "", err
		}
	}

	authMethod := AuthMethodNone
	if !public {
		authMethod = AuthMethodClientSecretPost
	}

	client := &Client{
		ClientID:                clientID,
		ClientSecretHash:        secretHash,
		ClientName:              req.ClientName,
		RedirectURIs:            req.RedirectURIs,
		GrantTypes:              req.GrantTypes,
		ResponseTypes:           req.ResponseTypes,
		TokenEndpointAuthMethod: authMethod,
		Scopes:                  ParseScope(req.Scope),
		ClientIDIssuedAt:        now,
	}
	if err := s.Clients.CreateClient(ctx, client); err != nil {
		return nil, "", fmt.Errorf("oauth: registering client: %w", err)
	}

	resp := &RegisteredClientResponse{
		ClientID:                clientID,
		ClientSecret:            plainSecret,
		ClientIDIssuedAt:        now.Unix(),
		RedirectURIs:            client.RedirectURIs,
		TokenEndpointAuthMethod: string(authMethod),
		GrantTypes:              client.GrantTypes,
		ResponseTypes:           client.ResponseTypes,
		ClientName:              client.ClientName,
		Scope:                   joinScopes(client.Scopes),
	}
	return resp, plainSecret, nil
}

func randomSecret() (string, error) {
	buf := make([]byte, 32)
	if _, err := rand.Read(buf); err != nil {
		return "", err
	}
	return hex.EncodeToString(buf), nil
}

func (s *Server) codeTTL() time.Duration {
	if s.CodeTTL == 0 {
		return defaultCodeTTL
	}
	return s.CodeTTL
}

func (s *Server) accessTTL() time.Duration {
	if s.AccessTTL == 0 {
		return defaultAccessTTL
	}
	return s.AccessTTL
}

func (s *Server) refreshTTL() time.Duration {
	if s.RefreshTTL == 0 {
		return defaultRefreshTTL
	}
	return s.RefreshTTL
}
