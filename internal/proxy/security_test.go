package proxy

import (
	"testing"
	"time"
)

func TestGateSecurityRejectsBadLimits(t *testing.T) {
	cfg := Config{MaxRequestSize: 0, RequestTimeout: time.Second}
	if err := gateSecurity(cfg); err == nil {
		t.Fatal("expected error for zero MaxRequestSize")
	}

	cfg = Config{MaxRequestSize: 1024, RequestTimeout: 0}
	if err := gateSecurity(cfg); err == nil {
		t.Fatal("expected error for zero RequestTimeout")
	}
}

func TestGateSecurityEnforcesStdioAllowlist(t *testing.T) {
	cfg := Config{
		MaxRequestSize: 1024,
		RequestTimeout: time.Second,
		Backend:        BackendConfig{Kind: BackendStdio, Command: "/usr/bin/python3"},
		AllowedCommands: []string{"python3"},
	}
	if err := gateSecurity(cfg); err != nil {
		t.Fatalf("expected basename match to pass, got %v", err)
	}

	cfg.Backend.Command = "/usr/bin/bash"
	if err := gateSecurity(cfg); err == nil {
		t.Fatal("expected command not in allowlist to fail")
	}
}

func TestCheckCommandAllowedExactMatch(t *testing.T) {
	if err := checkCommandAllowed("/opt/tools/run.sh", []string{"/opt/tools/run.sh"}); err != nil {
		t.Fatalf("expected exact match to pass, got %v", err)
	}
}

func TestCheckCommandAllowedEmptyCommand(t *testing.T) {
	if err := checkCommandAllowed("", []string{"python3"}); err == nil {
		t.Fatal("expected empty command to be rejected")
	}
}

func TestCheckCommandAllowedNoEntries(t *testing.T) {
	if err := checkCommandAllowed("python3", nil); err == nil {
		t.Fatal("expected rejection when allowlist is empty")
	}
}
