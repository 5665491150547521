package oauth

import (
	"context"
	"crypto/subtle"
	"errors"
	"fmt"
	"net/http"
	"strings"

	"github.com/alexedwards/argon2id"
)

// ErrClientAuthFailed is returned when none of the supported client
// authentication methods succeed.
var ErrClientAuthFailed = errors.New("oauth: client authentication failed")

// clientSecretParams mirrors the OWASP-minimum argon2id parameters used
// for API keys (internal/domain/auth), reused here for client secrets.
var clientSecretParams = &argon2id.Params{
	Memory:      47 * 1024,
	Iterations:  1,
	Parallelism: 1,
	SaltLength:  16,
	KeyLength:   32,
}

// HashClientSecret returns the PHC-format argon2id hash stored for a
// confidential client's secret.
func HashClientSecret(secret string) (string, error) {
	return argon2id.CreateHash(secret, clientSecretParams)
}

// AuthenticateClient resolves and authenticates the client presenting a
// token-endpoint request, trying client_secret_post, then HTTP Basic,
// then falling through to a public client lookup (§4.5 "Client
// authentication order"). A public client is only accepted when the
// caller supplies a verified PKCE code_verifier elsewhere in the flow;
// this function only establishes identity, not grant eligibility.
func AuthenticateClient(ctx context.Context, store ClientStore, r *http.Request) (*Client, ClientAuthMethod, error) {
	if clientID, secret, ok := basicAuth(r); ok {
		client, err := store.GetClient(ctx, clientID)
		if err != nil {
			return nil, "", fmt.Errorf("%w: %v", ErrClientAuthFailed, err)
		}
		if client.IsPublic() {
			return nil, "", fmt.Errorf("%w: public client must not present a secret", ErrClientAuthFailed)
		}
		if !verifySecret(secret, client.ClientSecretHash) {
			return nil, "", ErrClientAuthFailed
		}
		return client, AuthMethodClientSecretBasic, nil
	}

	clientID := r.FormValue("client_id")
	if clientID == "" {
		return nil, "", fmt.Errorf("%w: missing client_id", ErrClientAuthFailed)
	}
	client, err := store.GetClient(ctx, clientID)
	if err != nil {
		return nil, "", fmt.Errorf("%w: %v", ErrClientAuthFailed, err)
	}

	if secret := r.FormValue("client_secret"); secret != "" {
		if client.IsPublic() {
			return nil, "", fmt.Errorf("%w: public client must not present a secret", ErrClientAuthFailed)
		}
		if !verifySecret(secret, client.ClientSecretHash) {
			return nil, "", ErrClientAuthFailed
		}
		return client, AuthMethodClientSecretPost, nil
	}

	if !client.IsPublic() {
		return nil, "", fmt.Errorf("%w: confidential client must authenticate", ErrClientAuthFailed)
	}
	return client, AuthMethodNone, nil
}

func verifySecret(provided, storedHash string) bool {
	if storedHash == "" {
		return false
	}
	match, err := safeCompare(provided, storedHash)
	return err == nil && match
}

func safeCompare(provided, storedHash string) (match bool, err error) {
	defer func() {
		if r := recover(); r != nil {
			match = false
			err = fmt.Errorf("oauth: malformed client secret hash: %v", r)
		}
	}()
	return argon2id.ComparePasswordAndHash(provided, storedHash)
}

func basicAuth(r *http.Request) (clientID, secret string, ok bool) {
	username, password, hasBasic := r.BasicAuth()
	if !hasBasic {
		return "", "", false
	}
	return username, password, true
}

// ConstantTimeEqual compares two strings without leaking timing
// information, used wherever a bearer value is checked against a stored
// plaintext value that isn't otherwise hashed (e.g. DPoP confirmation
// thumbprints).
func ConstantTimeEqual(a, b string) bool {
	return subtle.ConstantTimeCompare([]byte(a), []byte(b)) == 1
}

// normalizeScope intersects the requested scopes with the client's
// registered scopes, dropping anything the client was never granted.
func normalizeScope(requested, registered []string) []string {
	if len(requested) == 0 {
		return append([]string(nil), registered...)
	}
	allowed := make(map[string]bool, len(registered))
	for _, s := range registered {
		allowed[s] = true
	}
	var out []string
	for _, s := range requested {
		if allowed[s] {
			out = append(out, s)
		}
	}
	return out
}

// joinScopes is a small readability helper around ScopeString for call
// sites that already have a []string and want RFC 6749 §3.3 wire form.
func joinScopes(scopes []string) string { return strings.TrimSpace(ScopeString(scopes)) }
