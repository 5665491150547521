package oauth

import (
	"crypto/rand"
	"crypto/sha256"
	"crypto/subtle"
	"encoding/base64"
	"encoding/hex"
)

// NewCodeVerifier generates a cryptographically random PKCE verifier
// (RFC 7636 §4.1): 32 random bytes, base64url-encoded without padding,
// which satisfies the 43-128 character length requirement.
func NewCodeVerifier() (string, error) {
	buf := make([]byte, 32)
	if _, err := rand.Read(buf); err != nil {
		return "", err
	}
	return base64.RawURLEncoding.EncodeToString(buf), nil
}

// ChallengeFromVerifier computes the S256 code challenge for a verifier
// (RFC 7636 §4.2): BASE64URL(SHA256(verifier)).
func ChallengeFromVerifier(verifier string) string {
	sum := sha256.Sum256([]byte(verifier))
	return base64.RawURLEncoding.EncodeToString(sum[:])
}

// VerifyPKCE checks a supplied code_verifier against the challenge
// recorded at authorization time.
func VerifyPKCE(verifier, challenge string, method CodeChallengeMethod) bool {
	switch method {
	case ChallengeS256, "":
		computed := ChallengeFromVerifier(verifier)
		return subtle.ConstantTimeCompare([]byte(computed), []byte(challenge)) == 1
	case ChallengePlain:
		return subtle.ConstantTimeCompare([]byte(verifier), []byte(challenge)) == 1
	default:
		return false
	}
}

// HashToken returns the SHA-256 hex digest of a bearer token / code /
// refresh token, the form every TokenStore persists (§4.5, §9: "Hashing
// before store, never store plaintext").
func HashToken(raw string) string {
	sum := sha256.Sum256([]byte(raw))
	return hex.EncodeToString(sum[:])
}

// NewOpaqueToken generates a cryptographically random opaque token (used
// for authorization codes and refresh tokens, which — unlike access
// tokens — carry no claims of their own).
func NewOpaqueToken() (string, error) {
	buf := make([]byte, 32)
	if _, err := rand.Read(buf); err != nil {
		return "", err
	}
	return base64.RawURLEncoding.EncodeToString(buf), nil
}
