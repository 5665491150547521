package oauth

import (
	"crypto/sha256"
	"encoding/base64"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	"github.com/golang-jwt/jwt/v5"
	"golang.org/x/crypto/hkdf"
)

// DPoPConfig gates the optional proof-of-possession binding (§3 "DPoP
// (optional, feature-gated)"). Off by default: plain bearer tokens.
type DPoPConfig struct {
	Enabled bool
	// Info is the HKDF context string mixed into confirmation-key
	// derivation, letting a deployment separate key material per
	// environment without rotating the signing key itself.
	Info string
	// NonceSecret seeds the server-chosen anti-replay nonce
	// (draft-ietf-oauth-dpop §8) handed back on a 401 with
	// use_dpop_nonce; required only when Enabled.
	NonceSecret []byte
}

// Nonce derives the current server-provided DPoP nonce for a coarse time
// window (one per minute), so a proof replayed after the window rolls
// over is rejected without the server persisting any per-client state.
func (c DPoPConfig) Nonce(window int64) (string, error) {
	windowed, err := deriveConfirmationSecret(append(c.NonceSecret, []byte(fmt.Sprintf(":%d", window))...), c, 16)
	if err != nil {
		return "", err
	}
	return base64.RawURLEncoding.EncodeToString(windowed), nil
}

// dpopClaims is the minimal claim set of a DPoP proof JWT (draft-ietf-oauth-dpop).
type dpopClaims struct {
	jwt.RegisteredClaims
	HTM string `json:"htm"`
	HTU string `json:"htu"`
}

// JKTFromProof extracts the JWK thumbprint binding a DPoP proof's key,
// used both to stamp a new access token's cnf.jkt and to verify a
// presented proof matches the token it accompanies.
func JKTFromProof(proofJWT string) (string, error) {
	token, _, err := jwt.NewParser().ParseUnverified(proofJWT, &dpopClaims{})
	if err != nil {
		return "", fmt.Errorf("oauth: parsing DPoP proof: %w", err)
	}
	jwkHeader, ok := token.Header["jwk"]
	if !ok {
		return "", fmt.Errorf("oauth: DPoP proof missing jwk header")
	}
	raw, err := json.Marshal(jwkHeader)
	if err != nil {
		return "", err
	}
	sum := sha256.Sum256(raw)
	return base64.RawURLEncoding.EncodeToString(sum[:]), nil
}

// VerifyDPoPProof checks a proof JWT's htm/htu claims and freshness
// against the inbound request, then confirms the proof's key thumbprint
// matches the access token's bound cnf.jkt claim.
func VerifyDPoPProof(proofJWT string, r *http.Request, expectedJKT string, maxAge time.Duration) error {
	claims := &dpopClaims{}
	_, _, err := jwt.NewParser().ParseUnverified(proofJWT, claims)
	if err != nil {
		return fmt.Errorf("oauth: parsing DPoP proof: %w", err)
	}
	if !strings.EqualFold(claims.HTM, r.Method) {
		return fmt.Errorf("oauth: DPoP proof htm mismatch")
	}
	if claims.HTU != requestURL(r) {
		return fmt.Errorf("oauth: DPoP proof htu mismatch")
	}
	if claims.IssuedAt == nil || time.Since(claims.IssuedAt.Time) > maxAge {
		return fmt.Errorf("oauth: DPoP proof is stale")
	}
	jkt, err := JKTFromProof(proofJWT)
	if err != nil {
		return err
	}
	if !ConstantTimeEqual(jkt, expectedJKT) {
		return fmt.Errorf("oauth: DPoP proof key does not match token binding")
	}
	return nil
}

func requestURL(r *http.Request) string {
	scheme := "https"
	if r.TLS == nil {
		scheme = "http"
	}
	return scheme + "://" + r.Host + r.URL.Path
}

// deriveConfirmationSecret derives deployment-scoped key material for
// confirmation-key bookkeeping (e.g. encrypting a cached jkt-to-subject
// index at rest) from the authorization server's master secret via
// HKDF-SHA256, rather than reusing the master secret directly.
func deriveConfirmationSecret(master []byte, cfg DPoPConfig, length int) ([]byte, error) {
	info := cfg.Info
	if info == "" {
		info = "mcprt-dpop-cnf"
	}
	reader := hkdf.New(sha256.New, master, nil, []byte(info))
	out := make([]byte, length)
	if _, err := io.ReadFull(reader, out); err != nil {
		return nil, fmt.Errorf("oauth: deriving DPoP confirmation secret: %w", err)
	}
	return out, nil
}
