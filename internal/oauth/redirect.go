package oauth

import (
	"fmt"
	"net"
	"net/url"
	"strings"
)

// loopbackHosts are treated as loopback regardless of how they were
// spelled in the redirect_uri, matching RFC 8252 §7.3 (native-app
// loopback redirects may use a dynamic port over plain http).
var loopbackHosts = map[string]bool{
	"localhost": true,
	"127.0.0.1": true,
	"::1":       true,
}

// metadataHosts blocks cloud-metadata endpoints outright, the same
// targets the HTTP gateway's SSRF guard blocks by CIDR
// (internal/adapter/inbound/httpgw/ssrf.go); redirect_uri validation
// checks the literal host since it never dials out itself.
var metadataHosts = map[string]bool{
	"169.254.169.254": true,
	"metadata.google.internal": true,
}

// ValidateRedirectURI enforces the authorization endpoint's redirect_uri
// rules (§4.5): must be one of the client's pre-registered URIs
// (exact match, no substring/prefix matching), must use https unless
// the host is loopback, and must not target a cloud metadata host.
func ValidateRedirectURI(candidate string, registered []string) error {
	exact := false
	for _, r := range registered {
		if r == candidate {
			exact = true
			break
		}
	}
	if !exact {
		return fmt.Errorf("oauth: redirect_uri %q is not registered for this client", candidate)
	}

	u, err := url.Parse(candidate)
	if err != nil {
		return fmt.Errorf("oauth: redirect_uri %q is not a valid URI: %w", candidate, err)
	}

	switch u.Scheme {
	case "https":
	case "http":
		host := u.Hostname()
		if !loopbackHosts[host] {
			return fmt.Errorf("oauth: redirect_uri %q must use https (plain http only permitted for loopback)", candidate)
		}
	default:
		return fmt.Errorf("oauth: redirect_uri %q has unsupported scheme %q", candidate, u.Scheme)
	}

	if metadataHosts[u.Hostname()] {
		return fmt.Errorf("oauth: redirect_uri %q targets a blocked metadata host", candidate)
	}
	if ip := net.ParseIP(u.Hostname()); ip != nil && isLinkLocal(ip) {
		return fmt.Errorf("oauth: redirect_uri %q targets a link-local address", candidate)
	}

	return nil
}

func isLinkLocal(ip net.IP) bool {
	return ip.IsLinkLocalUnicast() || ip.IsLinkLocalMulticast()
}

// CanonicalizeResource normalizes an RFC 8707 `resource` parameter: lowercases
// scheme and host, strips a trailing slash and any fragment, so that
// "https://API.example.com/mcp/" and "https://api.example.com/mcp" compare
// equal when binding a token's audience.
func CanonicalizeResource(raw string) (string, error) {
	if raw == "" {
		return "", nil
	}
	u, err := url.Parse(raw)
	if err != nil {
		return "", fmt.Errorf("oauth: invalid resource indicator %q: %w", raw, err)
	}
	if u.Scheme == "" || u.Host == "" {
		return "", fmt.Errorf("oauth: resource indicator %q must be an absolute URI", raw)
	}
	if u.Fragment != "" {
		return "", fmt.Errorf("oauth: resource indicator %q must not contain a fragment", raw)
	}
	u.Scheme = strings.ToLower(u.Scheme)
	u.Host = strings.ToLower(u.Host)
	u.Path = strings.TrimSuffix(u.Path, "/")
	u.Fragment = ""
	return u.String(), nil
}
