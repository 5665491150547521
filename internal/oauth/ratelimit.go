package oauth

import (
	"fmt"
	"net/http"
	"strconv"
	"strings"

	"github.com/mcprt/mcprt/internal/domain/ratelimit"
)

// clientIP extracts the caller's address for rate-limit keying,
// preferring the proxy headers the teacher's gateway already trusts
// (CF-Connecting-IP, then X-Forwarded-For, then X-Real-IP) before
// falling back to RemoteAddr.
func clientIP(r *http.Request) string {
	if ip := r.Header.Get("CF-Connecting-IP"); ip != "" {
		return ip
	}
	if fwd := r.Header.Get("X-Forwarded-For"); fwd != "" {
		return strings.TrimSpace(strings.Split(fwd, ",")[0])
	}
	if ip := r.Header.Get("X-Real-IP"); ip != "" {
		return ip
	}
	return r.RemoteAddr
}

// RateLimitMiddleware enforces a per-client-IP GCRA limit in front of a
// handler (§4.5 "Rate limits": 20/min on /authorize, 10/min on /token).
// limiter is optional; a nil limiter disables enforcement entirely.
func RateLimitMiddleware(limiter ratelimit.RateLimiter, endpoint string, cfg ratelimit.RateLimitConfig, next http.HandlerFunc) http.HandlerFunc {
	if limiter == nil {
		return next
	}
	return func(w http.ResponseWriter, r *http.Request) {
		key := ratelimit.FormatKey(ratelimit.KeyTypeIP, endpoint+":"+clientIP(r))
		result, err := limiter.Allow(r.Context(), key, cfg)
		if err != nil {
			next(w, r)
			return
		}
		if !result.Allowed {
			w.Header().Set("Retry-After", strconv.Itoa(int(result.RetryAfter.Seconds())))
			w.Header().Set("Content-Type", "application/json")
			w.WriteHeader(http.StatusTooManyRequests)
			fmt.Fprintf(w, `{"error":"too_many_requests","error_description":"rate limit exceeded"}`)
			return
		}
		next(w, r)
	}
}
