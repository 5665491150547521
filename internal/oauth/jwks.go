package oauth

import (
	"encoding/base64"
	"encoding/json"
	"net/http"
)

// jwk is a minimal RFC 7517 JSON Web Key for an RSA public key — only the
// fields a JWKS consumer needs to verify an RS256-signed access token.
type jwk struct {
	Kty string `json:"kty"`
	Use string `json:"use"`
	Alg string `json:"alg"`
	Kid string `json:"kid"`
	N   string `json:"n"`
	E   string `json:"e"`
}

type jwks struct {
	Keys []jwk `json:"keys"`
}

// JWKS renders the issuer's public signing key as a JWK set, served at
// /.well-known/jwks.json so resource servers can verify access tokens
// without a live call back to this authorization server.
func (j *JWTIssuer) JWKS() jwks {
	pub := j.signingKey.PublicKey
	return jwks{Keys: []jwk{{
		Kty: "RSA",
		Use: "sig",
		Alg: "RS256",
		Kid: j.keyID,
		N:   base64.RawURLEncoding.EncodeToString(pub.N.Bytes()),
		E:   base64.RawURLEncoding.EncodeToString(bigEndianBytes(pub.E)),
	}}}
}

func bigEndianBytes(e int) []byte {
	if e == 0 {
		return []byte{0}
	}
	var b []byte
	for e > 0 {
		b = append([]byte{byte(e & 0xff)}, b...)
		e >>= 8
	}
	return b
}

func (h *Handler) handleJWKS(w http.ResponseWriter, r *http.Request) {
	w.Header().Set("Content-Type", "application/json")
	_ = json.NewEncoder(w).Encode(h.server.JWT.JWKS())
}
