package oauth

import (
	"crypto/rand"
	"crypto/rsa"
	"fmt"
	"strings"
	"time"

	"github.com/golang-jwt/jwt/v5"
)

// Claims is the access-token JWT's claim set: standard registered claims
// plus MCP-specific scope/client_id, following the shape RFC 7662
// introspection (§4.5) expects to read back.
type Claims struct {
	jwt.RegisteredClaims
	ClientID string   `json:"client_id"`
	Scopes   []string `json:"scope_list"`
	Resource string   `json:"resource,omitempty"`
	CNF      *CNF     `json:"cnf,omitempty"`
}

// CNF is the RFC 7800 confirmation-key claim used to bind a DPoP-issued
// token to a key thumbprint (§4.5 DPoP).
type CNF struct {
	JKT string `json:"jkt"`
}

// JWTIssuer signs and verifies access tokens as JWTs (golang-jwt/jwt/v5),
// following the pattern used for access tokens elsewhere in the
// retrieval pack (§2 DOMAIN STACK) rather than opaque server-side-only
// tokens, so introspection can verify signature + claims without always
// round-tripping to the store.
type JWTIssuer struct {
	issuer     string
	signingKey *rsa.PrivateKey
	keyID      string
}

// NewJWTIssuer generates a fresh RSA signing key. Production deployments
// should instead load a persisted key; NewJWTIssuerFromKey supports that.
func NewJWTIssuer(issuer string) (*JWTIssuer, error) {
	key, err := rsa.GenerateKey(rand.Reader, 2048)
	if err != nil {
		return nil, fmt.Errorf("oauth: generating jwt signing key: %w", err)
	}
	return NewJWTIssuerFromKey(issuer, key, "default")
}

// NewJWTIssuerFromKey wraps an existing RSA key as the signing key.
func NewJWTIssuerFromKey(issuer string, key *rsa.PrivateKey, keyID string) (*JWTIssuer, error) {
	if key == nil {
		return nil, fmt.Errorf("oauth: signing key must not be nil")
	}
	return &JWTIssuer{issuer: issuer, signingKey: key, keyID: keyID}, nil
}

// Issue mints a signed access token for subject, scoped to scopes and
// (optionally) a single RFC 8707 resource, valid for ttl.
func (j *JWTIssuer) Issue(subject, clientID string, scopes []string, resource string, ttl time.Duration, cnf *CNF) (string, time.Time, error) {
	now := time.Now().UTC()
	expiresAt := now.Add(ttl)
	claims := Claims{
		RegisteredClaims: jwt.RegisteredClaims{
			Issuer:    j.issuer,
			Subject:   subject,
			IssuedAt:  jwt.NewNumericDate(now),
			ExpiresAt: jwt.NewNumericDate(expiresAt),
		},
		ClientID: clientID,
		Scopes:   scopes,
		Resource: resource,
		CNF:      cnf,
	}
	if resource != "" {
		claims.Audience = jwt.ClaimStrings{resource}
	}

	token := jwt.NewWithClaims(jwt.SigningMethodRS256, claims)
	token.Header["kid"] = j.keyID
	signed, err := token.SignedString(j.signingKey)
	if err != nil {
		return "", time.Time{}, fmt.Errorf("oauth: signing access token: %w", err)
	}
	return signed, expiresAt, nil
}

// Verify parses and validates a signed access token, returning its claims.
func (j *JWTIssuer) Verify(raw string) (*Claims, error) {
	claims := &Claims{}
	_, err := jwt.ParseWithClaims(raw, claims, func(t *jwt.Token) (any, error) {
		if _, ok := t.Method.(*jwt.SigningMethodRSA); !ok {
			return nil, fmt.Errorf("oauth: unexpected signing method %v", t.Header["alg"])
		}
		return &j.signingKey.PublicKey, nil
	})
	if err != nil {
		return nil, fmt.Errorf("oauth: invalid access token: %w", err)
	}
	return claims, nil
}

// ScopeString renders a scope slice in the space-delimited wire form
// (RFC 6749 §3.3).
func ScopeString(scopes []string) string { return strings.Join(scopes, " ") }

// ParseScope splits the wire-form space-delimited scope string.
func ParseScope(scope string) []string {
	if scope == "" {
		return nil
	}
	return strings.Fields(scope)
}
