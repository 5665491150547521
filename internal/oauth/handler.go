// Package oauth (handler.go) exposes the authorization server's seven
// HTTP endpoints (§4.5): /oauth/authorize, /oauth/token, /oauth/revoke,
// /oauth/introspect, /oauth/register, and the two well-known metadata
// documents. Follows the admin package's bare http.ServeMux +
// log/slog + direct json.Encode/Decode idiom rather than a web framework.
package oauth

import (
	"encoding/json"
	"log/slog"
	"net/http"
	"time"

	"github.com/mcprt/mcprt/internal/domain/ratelimit"
)

var (
	authorizeRateLimit = ratelimit.RateLimitConfig{Rate: 20, Burst: 20, Period: time.Minute}
	tokenRateLimit     = ratelimit.RateLimitConfig{Rate: 10, Burst: 10, Period: time.Minute}
)

// Handler serves the authorization server's HTTP surface.
type Handler struct {
	server   *Server
	auth     Authenticator
	logger   *slog.Logger
	resource string // this deployment's canonical protected-resource URI
	limiter  ratelimit.RateLimiter
}

// NewHandler wires an HTTP handler around a Server. resource is this
// MCP server's own canonical URI, served back in the protected-resource
// metadata document (RFC 9728). limiter is optional (§4.5 "Rate
// limits"); pass nil to disable per-IP throttling.
func NewHandler(server *Server, authenticator Authenticator, resource string, logger *slog.Logger, limiter ratelimit.RateLimiter) *Handler {
	if logger == nil {
		logger = slog.Default()
	}
	return &Handler{server: server, auth: authenticator, resource: resource, logger: logger, limiter: limiter}
}

// Mux returns an http.Handler with all OAuth routes registered.
func (h *Handler) Mux() http.Handler {
	mux := http.NewServeMux()
	mux.HandleFunc("GET /oauth/authorize", RateLimitMiddleware(h.limiter, "authorize", authorizeRateLimit, h.handleAuthorize))
	mux.HandleFunc("POST /oauth/token", RateLimitMiddleware(h.limiter, "token", tokenRateLimit, h.handleToken))
	mux.HandleFunc("POST /oauth/revoke", h.handleRevoke)
	mux.HandleFunc("POST /oauth/introspect", h.handleIntrospect)
	mux.HandleFunc("POST /oauth/register", h.handleRegister)
	mux.HandleFunc("GET /.well-known/oauth-authorization-server", h.handleASMetadata)
	mux.HandleFunc("GET /.well-known/oauth-protected-resource", h.handlePRMetadata)
	mux.HandleFunc("GET /.well-known/jwks.json", h.handleJWKS)
	return mux
}

func (h *Handler) handleAuthorize(w http.ResponseWriter, r *http.Request) {
	q := r.URL.Query()
	req := AuthorizationRequest{
		ClientID:            q.Get("client_id"),
		RedirectURI:         q.Get("redirect_uri"),
		Scope:               q.Get("scope"),
		State:               q.Get("state"),
		CodeChallenge:       q.Get("code_challenge"),
		CodeChallengeMethod: CodeChallengeMethod(q.Get("code_challenge_method")),
		Resource:            q.Get("resource"),
	}
	if q.Get("response_type") != "code" {
		h.writeError(w, http.StatusBadRequest, "unsupported_response_type", "only response_type=code is supported")
		return
	}
	if h.server.DPoP.Enabled {
		if ticket := q.Get("dpop_jkt"); ticket != "" {
			req.DPoPJKT = ticket
		}
	}

	subject, err := h.auth.Authenticate(r.Context(), req)
	if err != nil {
		h.writeError(w, http.StatusUnauthorized, "access_denied", "authentication required")
		return
	}

	code, err := h.server.Authorize(r.Context(), req, subject)
	if err != nil {
		h.logger.Warn("authorize failed", "error", err, "client_id", req.ClientID)
		h.writeError(w, http.StatusBadRequest, "invalid_request", err.Error())
		return
	}

	redirect := req.RedirectURI + "?code=" + code
	if req.State != "" {
		redirect += "&state=" + req.State
	}
	http.Redirect(w, r, redirect, http.StatusFound)
}

func (h *Handler) handleToken(w http.ResponseWriter, r *http.Request) {
	if err := r.ParseForm(); err != nil {
		h.writeError(w, http.StatusBadRequest, "invalid_request", "malformed form body")
		return
	}

	client, _, err := AuthenticateClient(r.Context(), h.server.Clients, r)
	if err != nil {
		h.writeError(w, http.StatusUnauthorized, "invalid_client", err.Error())
		return
	}

	grantType := r.FormValue("grant_type")
	resource := r.FormValue("resource")

	var resp *TokenResponse
	switch grantType {
	case "authorization_code":
		resp, err = h.server.ExchangeCode(r.Context(), client, r.FormValue("code"), r.FormValue("redirect_uri"), r.FormValue("code_verifier"), resource)
	case "refresh_token":
		resp, err = h.server.RefreshGrant(r.Context(), client, r.FormValue("refresh_token"), resource)
	default:
		h.writeError(w, http.StatusBadRequest, "unsupported_grant_type", grantType+" is not supported")
		return
	}
	if err != nil {
		h.logger.Warn("token grant failed", "error", err, "client_id", client.ClientID, "grant_type", grantType)
		h.writeError(w, http.StatusBadRequest, "invalid_grant", err.Error())
		return
	}

	w.Header().Set("Content-Type", "application/json")
	w.Header().Set("Cache-Control", "no-store")
	w.Header().Set("Pragma", "no-cache")
	_ = json.NewEncoder(w).Encode(resp)
}

func (h *Handler) handleRevoke(w http.ResponseWriter, r *http.Request) {
	if err := r.ParseForm(); err != nil {
		h.writeError(w, http.StatusBadRequest, "invalid_request", "malformed form body")
		return
	}
	token := r.FormValue("token")
	if token == "" {
		h.writeError(w, http.StatusBadRequest, "invalid_request", "token is required")
		return
	}
	if err := h.server.Revoke(r.Context(), token); err != nil {
		h.logger.Error("revoke failed", "error", err)
	}
	w.WriteHeader(http.StatusOK)
}

func (h *Handler) handleIntrospect(w http.ResponseWriter, r *http.Request) {
	if err := r.ParseForm(); err != nil {
		h.writeError(w, http.StatusBadRequest, "invalid_request", "malformed form body")
		return
	}
	token := r.FormValue("token")
	if token == "" {
		h.writeError(w, http.StatusBadRequest, "invalid_request", "token is required")
		return
	}
	resp, err := h.server.Introspect(r.Context(), token)
	if err != nil {
		h.logger.Error("introspection failed", "error", err)
		h.writeError(w, http.StatusInternalServerError, "server_error", "introspection failed")
		return
	}
	w.Header().Set("Content-Type", "application/json")
	_ = json.NewEncoder(w).Encode(resp)
}

func (h *Handler) handleRegister(w http.ResponseWriter, r *http.Request) {
	var req RegisteredClientResponse
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		h.writeError(w, http.StatusBadRequest, "invalid_client_metadata", "malformed JSON body")
		return
	}
	if len(req.RedirectURIs) == 0 {
		h.writeError(w, http.StatusBadRequest, "invalid_redirect_uri", "redirect_uris is required")
		return
	}

	public := req.TokenEndpointAuthMethod == string(AuthMethodNone)
	resp, _, err := h.server.RegisterClient(r.Context(), req, public)
	if err != nil {
		h.logger.Error("client registration failed", "error", err)
		h.writeError(w, http.StatusInternalServerError, "server_error", "registration failed")
		return
	}

	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(http.StatusCreated)
	_ = json.NewEncoder(w).Encode(resp)
}

func (h *Handler) handleASMetadata(w http.ResponseWriter, r *http.Request) {
	issuer := h.server.Issuer
	meta := AuthorizationServerMetadata{
		Issuer:                            issuer,
		AuthorizationEndpoint:             issuer + "/oauth/authorize",
		TokenEndpoint:                     issuer + "/oauth/token",
		RevocationEndpoint:                issuer + "/oauth/revoke",
		IntrospectionEndpoint:             issuer + "/oauth/introspect",
		RegistrationEndpoint:              issuer + "/oauth/register",
		JWKSURI:                           issuer + "/.well-known/jwks.json",
		ResponseTypesSupported:            []string{"code"},
		GrantTypesSupported:               []string{"authorization_code", "refresh_token"},
		TokenEndpointAuthMethodsSupported: []string{"client_secret_post", "client_secret_basic", "none"},
		CodeChallengeMethodsSupported:     []string{"S256"},
	}
	w.Header().Set("Content-Type", "application/json")
	_ = json.NewEncoder(w).Encode(meta)
}

func (h *Handler) handlePRMetadata(w http.ResponseWriter, r *http.Request) {
	meta := ProtectedResourceMetadata{
		Resource:               h.resource,
		AuthorizationServers:   []string{h.server.Issuer},
		BearerMethodsSupported: []string{"header"},
	}
	w.Header().Set("Content-Type", "application/json")
	_ = json.NewEncoder(w).Encode(meta)
}

func (h *Handler) writeError(w http.ResponseWriter, status int, code, description string) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(ErrorResponse{Error: code, ErrorDescription: description})
}
