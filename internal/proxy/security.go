package proxy

import (
	"path/filepath"
	"strings"

	"github.com/mcprt/mcprt/internal/mcperr"
)

// gateSecurity enforces the proxy's security invariants (§7) before any
// backend connection is attempted: a command allowlist for stdio
// backends, a sane size limit, and a sane request timeout. The SSRF guard
// for network backends lives in dialBackend, where the actual dial
// happens, since httpgw.SafeDialContext acts at connect time.
func gateSecurity(cfg Config) error {
	if cfg.MaxRequestSize <= 0 {
		return mcperr.SecurityGate("max request size must be positive")
	}
	if cfg.RequestTimeout <= 0 {
		return mcperr.SecurityGate("request timeout must be positive")
	}

	if cfg.Backend.Kind == BackendStdio {
		if err := checkCommandAllowed(cfg.Backend.Command, cfg.AllowedCommands); err != nil {
			return err
		}
	}
	return nil
}

// checkCommandAllowed enforces the stdio backend command allowlist. A
// command matches if it equals an allowlist entry exactly, or if its base
// name matches an allowlist entry that contains no path separator — so an
// operator can allow "python3" without caring whether it resolves via
// /usr/bin/python3 or /usr/local/bin/python3.
func checkCommandAllowed(command string, allowed []string) error {
	if command == "" {
		return mcperr.SecurityGate("stdio backend requires a command")
	}
	base := filepath.Base(command)
	for _, a := range allowed {
		if a == command {
			return nil
		}
		if !strings.ContainsAny(a, `/\`) && a == base {
			return nil
		}
	}
	return mcperr.SecurityGate("command not in allowlist: " + command)
}
