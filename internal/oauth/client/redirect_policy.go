package client

import (
	"fmt"
	"net/url"
	"os"
	"strings"
)

// ValidateRedirectHost enforces the client-side redirect-host allowlist
// the runtime reads from the environment: OAUTH_ALLOWED_REDIRECT_HOSTS is
// a comma-separated set of exact hosts, and OAUTH_MAIN_DOMAIN additionally
// accepts any subdomain of the configured domain. Both are read exactly
// as named since they are part of the fixed ops contract.
func ValidateRedirectHost(redirectURI string) error {
	allowed := os.Getenv("OAUTH_ALLOWED_REDIRECT_HOSTS")
	mainDomain := os.Getenv("OAUTH_MAIN_DOMAIN")
	if allowed == "" && mainDomain == "" {
		return nil // no allowlist configured: accept as-is
	}

	u, err := url.Parse(redirectURI)
	if err != nil {
		return fmt.Errorf("oauth/client: invalid redirect_uri %q: %w", redirectURI, err)
	}
	host := u.Hostname()

	for _, h := range strings.Split(allowed, ",") {
		if strings.TrimSpace(h) == host {
			return nil
		}
	}
	if mainDomain != "" && (host == mainDomain || strings.HasSuffix(host, "."+mainDomain)) {
		return nil
	}
	return fmt.Errorf("oauth/client: redirect host %q is not in the configured allowlist", host)
}

// InsecureTLSAllowed reports whether TURBOMCP_ALLOW_INSECURE_TLS is set,
// the escape hatch gating whether a caller's request to skip certificate
// validation is honored at all. Absent this variable, any attempt to
// configure insecure TLS is overridden back to verified TLS.
func InsecureTLSAllowed() bool {
	return os.Getenv("TURBOMCP_ALLOW_INSECURE_TLS") != ""
}
