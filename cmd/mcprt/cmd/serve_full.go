package cmd

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"github.com/spf13/cobra"

	httptransport "github.com/mcprt/mcprt/internal/adapter/inbound/http"
	stdiotransport "github.com/mcprt/mcprt/internal/adapter/inbound/stdio"
	"github.com/mcprt/mcprt/internal/adapter/outbound/memory"
	outboundmcp "github.com/mcprt/mcprt/internal/adapter/outbound/mcp"
	"github.com/mcprt/mcprt/internal/config"
	"github.com/mcprt/mcprt/internal/domain/auth"
	"github.com/mcprt/mcprt/internal/domain/policy"
	domainproxy "github.com/mcprt/mcprt/internal/domain/proxy"
	"github.com/mcprt/mcprt/internal/domain/ratelimit"
	"github.com/mcprt/mcprt/internal/domain/session"
	"github.com/mcprt/mcprt/internal/port/outbound"
	"github.com/mcprt/mcprt/internal/router"
	"github.com/mcprt/mcprt/internal/service"
)

var (
	serveFullBackendKind    string
	serveFullBackendURL     string
	serveFullBackendCommand string
	serveFullBackendArgs    []string
	serveFullFrontendKind   string
	serveFullListenAddr     string
	serveFullAPIKey         string
	serveFullIdentity       string
	serveFullRoles          []string
	serveFullCELRule        []string
	serveFullUseConfig      bool
)

// serveFullCmd runs the teacher's interceptor chain (IPRateLimitInterceptor ->
// AuthInterceptor -> AuditInterceptor -> PolicyInterceptor ->
// Passthrough) in front of a single upstream, instead of the plain
// routing table "serve" uses. It exists so the RBAC/audit/rate-limit
// machinery in internal/domain/proxy has a real entry point: the RBAC
// gate is internal/router's CELPolicyGate (the same one the JSON-RPC
// router consults for §4.3), adapted onto policy.PolicyEngine by
// router.PolicyEngineAdapter, rather than a second rule engine.
var serveFullCmd = &cobra.Command{
	Use:   "serve-full",
	Short: "Run the proxy with the auth/audit/policy interceptor chain in front of a single backend",
	Long: `serve-full wires the same single-backend proxy as "serve" behind the
full request pipeline: IP rate limiting, API-key authentication and
session binding, audit logging, and a CEL-backed RBAC policy gate.

Without --api-key, the chain runs in dev mode (no authentication); pass
--api-key (the SHA-256 hash of the accepted key, as printed by
'mcprt hash-key') to require a bearer/API key per request. CEL rules passed via --policy-rule are compiled once at
startup; a tool call that matches no rule is allowed.

Example:
  mcprt serve-full --backend stdio --command ./my-mcp-server \
    --policy-rule 'deny:tool_name == "delete_all"'`,
	RunE: runServeFull,
}

func init() {
	serveFullCmd.Flags().StringVar(&serveFullBackendKind, "backend", "stdio", "backend kind: stdio, http")
	serveFullCmd.Flags().StringVar(&serveFullBackendURL, "backend-url", "", "backend URL (http)")
	serveFullCmd.Flags().StringVar(&serveFullBackendCommand, "command", "", "backend subprocess command (stdio)")
	serveFullCmd.Flags().StringArrayVar(&serveFullBackendArgs, "arg", nil, "backend subprocess argument (stdio, repeatable)")
	serveFullCmd.Flags().StringVar(&serveFullFrontendKind, "frontend", "stdio", "frontend kind: stdio, http")
	serveFullCmd.Flags().StringVar(&serveFullListenAddr, "listen", "127.0.0.1:8091", "HTTP frontend listen address")
	serveFullCmd.Flags().StringVar(&serveFullAPIKey, "api-key", "", "SHA-256 hash (as printed by 'mcprt hash-key') of the one accepted API key; empty disables auth (dev mode)")
	serveFullCmd.Flags().StringVar(&serveFullIdentity, "identity", "default", "identity ID bound to --api-key")
	serveFullCmd.Flags().StringArrayVar(&serveFullRoles, "role", []string{string(auth.RoleUser)}, "role granted to --identity (repeatable)")
	serveFullCmd.Flags().StringArrayVar(&serveFullCELRule, "policy-rule", nil, "CEL policy rule as 'allow:<expr>' or 'deny:<expr>' matched against every tool (repeatable)")
	serveFullCmd.Flags().BoolVar(&serveFullUseConfig, "use-config", false, "load identities, API keys, rate limits and policies from the mcprt.yaml config file instead of flags")
	rootCmd.AddCommand(serveFullCmd)
}

// parseCELRule turns "allow:tool_name.startsWith('read_')" into a
// policy.Rule matching every tool name, gated by the CEL condition.
func parseCELRule(i int, spec string) (policy.Rule, error) {
	action := policy.ActionDeny
	expr := spec
	switch {
	case len(spec) > 6 && spec[:6] == "allow:":
		action = policy.ActionAllow
		expr = spec[6:]
	case len(spec) > 5 && spec[:5] == "deny:":
		action = policy.ActionDeny
		expr = spec[5:]
	default:
		return policy.Rule{}, fmt.Errorf("policy-rule %q must start with 'allow:' or 'deny:'", spec)
	}
	return policy.Rule{
		ID:        fmt.Sprintf("cli-rule-%d", i),
		Name:      fmt.Sprintf("cli-rule-%d", i),
		ToolMatch: "*",
		Condition: expr,
		Action:    action,
	}, nil
}

// serveFullSettings holds everything runServeFull needs to assemble the
// chain, gathered either from CLI flags or from an mcprt.yaml OSSConfig
// (--use-config). Keeping the two sources behind one struct means the
// wiring below doesn't care which one populated it.
type serveFullSettings struct {
	backendKind    string
	backendURL     string
	backendCommand string
	backendArgs    []string
	listenAddr     string
	identities     []*auth.Identity
	apiKeys        []*auth.APIKey
	devMode        bool
	rules          []policy.Rule
	ipRate         int
}

// loadServeFullSettingsFromConfig builds settings from the OSSConfig loaded
// via Viper (internal/config), translating its YAML-facing types into the
// domain types the interceptor chain consumes.
func loadServeFullSettingsFromConfig() (*serveFullSettings, error) {
	cfg, err := config.LoadConfigRaw()
	if err != nil {
		return nil, fmt.Errorf("mcprt: loading config: %w", err)
	}
	cfg.SetDevDefaults()
	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("mcprt: invalid config: %w", err)
	}

	s := &serveFullSettings{
		listenAddr: cfg.Server.HTTPAddr,
		devMode:    cfg.DevMode,
		ipRate:     100,
	}
	switch {
	case cfg.Upstream.Command != "":
		s.backendKind = "stdio"
		s.backendCommand = cfg.Upstream.Command
		s.backendArgs = cfg.Upstream.Args
	case cfg.Upstream.HTTP != "":
		s.backendKind = "http"
		s.backendURL = cfg.Upstream.HTTP
	default:
		return nil, fmt.Errorf("mcprt: config upstream must set either command or http")
	}

	for _, id := range cfg.Auth.Identities {
		roles := make([]auth.Role, 0, len(id.Roles))
		for _, r := range id.Roles {
			roles = append(roles, auth.Role(r))
		}
		s.identities = append(s.identities, &auth.Identity{ID: id.ID, Name: id.Name, Roles: roles})
	}
	for _, k := range cfg.Auth.APIKeys {
		s.apiKeys = append(s.apiKeys, &auth.APIKey{
			Key:        strings.TrimPrefix(k.KeyHash, "sha256:"),
			IdentityID: k.IdentityID,
			CreatedAt:  time.Now().UTC(),
		})
	}
	if len(s.apiKeys) > 0 {
		s.devMode = false
	}

	for pi, p := range cfg.Policies {
		for ri, r := range p.Rules {
			action := policy.ActionDeny
			if r.Action == "allow" {
				action = policy.ActionAllow
			}
			s.rules = append(s.rules, policy.Rule{
				ID:        fmt.Sprintf("%s-%d-%d", p.Name, pi, ri),
				Name:      r.Name,
				ToolMatch: "*",
				Condition: r.Condition,
				Action:    action,
			})
		}
	}

	if cfg.RateLimit.Enabled && cfg.RateLimit.IPRate > 0 {
		s.ipRate = cfg.RateLimit.IPRate
	}
	return s, nil
}

// loadServeFullSettingsFromFlags builds settings from the serve-full CLI flags.
func loadServeFullSettingsFromFlags() (*serveFullSettings, error) {
	s := &serveFullSettings{
		backendKind:    serveFullBackendKind,
		backendURL:     serveFullBackendURL,
		backendCommand: serveFullBackendCommand,
		backendArgs:    serveFullBackendArgs,
		listenAddr:     serveFullListenAddr,
		devMode:        serveFullAPIKey == "",
		ipRate:         1000,
	}
	if !s.devMode {
		roles := make([]auth.Role, 0, len(serveFullRoles))
		for _, r := range serveFullRoles {
			roles = append(roles, auth.Role(r))
		}
		s.identities = append(s.identities, &auth.Identity{ID: serveFullIdentity, Name: serveFullIdentity, Roles: roles})
		s.apiKeys = append(s.apiKeys, &auth.APIKey{Key: serveFullAPIKey, IdentityID: serveFullIdentity, Name: serveFullIdentity, CreatedAt: time.Now().UTC()})
	}
	for i, spec := range serveFullCELRule {
		rule, err := parseCELRule(i, spec)
		if err != nil {
			return nil, err
		}
		s.rules = append(s.rules, rule)
	}
	return s, nil
}

func runServeFull(cmd *cobra.Command, args []string) error {
	logger := slog.New(slog.NewTextHandler(os.Stderr, nil))

	var settings *serveFullSettings
	var err error
	if serveFullUseConfig {
		settings, err = loadServeFullSettingsFromConfig()
	} else {
		settings, err = loadServeFullSettingsFromFlags()
	}
	if err != nil {
		return err
	}

	var client outbound.MCPClient
	switch settings.backendKind {
	case "stdio":
		if settings.backendCommand == "" {
			return fmt.Errorf("mcprt: --command is required for --backend stdio")
		}
		client = outboundmcp.NewStdioClient(settings.backendCommand, settings.backendArgs...)
	case "http":
		if settings.backendURL == "" {
			return fmt.Errorf("mcprt: --backend-url is required for --backend http")
		}
		client = outboundmcp.NewHTTPClient(settings.backendURL)
	default:
		return fmt.Errorf("mcprt: unsupported backend kind %q for serve-full", settings.backendKind)
	}

	gate, err := router.NewCELPolicyGate(settings.rules)
	if err != nil {
		return fmt.Errorf("mcprt: compiling policy rules: %w", err)
	}
	policyEngine := router.NewPolicyEngineAdapter(gate)

	authStore := memory.NewAuthStore()
	for _, id := range settings.identities {
		authStore.AddIdentity(id)
	}
	for _, k := range settings.apiKeys {
		authStore.AddKey(k)
	}
	apiKeyService := auth.NewAPIKeyService(authStore)
	sessionService := session.NewSessionService(memory.NewSessionStore(), session.Config{Timeout: 30 * time.Minute})

	auditStore := memory.NewAuditStore()
	auditService := service.NewAuditService(auditStore, logger)

	limiter := memory.NewRateLimiter()
	ipConfig := ratelimit.RateLimitConfig{Rate: settings.ipRate, Burst: settings.ipRate, Period: time.Minute}

	passthrough := domainproxy.NewPassthroughInterceptor()
	policyInterceptor := domainproxy.NewPolicyInterceptor(policyEngine, passthrough, logger)
	auditInterceptor := domainproxy.NewAuditInterceptor(auditService, nil, policyInterceptor, logger)
	authInterceptor := domainproxy.NewAuthInterceptor(apiKeyService, sessionService, auditInterceptor, logger, settings.devMode)
	chain := domainproxy.NewIPRateLimitInterceptor(limiter, ipConfig, authInterceptor, logger)

	proxyService := service.NewProxyService(client, chain, logger)

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	listenAddr := serveFullListenAddr
	if serveFullUseConfig && settings.listenAddr != "" {
		listenAddr = settings.listenAddr
	}

	switch serveFullFrontendKind {
	case "stdio":
		t := stdiotransport.NewStdioTransport(proxyService)
		return t.Start(ctx)
	case "http":
		t := httptransport.NewHTTPTransport(proxyService, httptransport.WithAddr(listenAddr))
		return t.Start(ctx)
	default:
		return fmt.Errorf("mcprt: unsupported frontend kind %q for serve-full", serveFullFrontendKind)
	}
}
