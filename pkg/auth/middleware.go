package auth

import (
	"encoding/json"
	"errors"
	"log/slog"
	"net/http"
	"strconv"
	"strings"

	"github.com/itsbakr/weave-tutor/pkg/api"
	"github.com/itsbakr/weave-tutor/pkg/observability"
	"github.com/itsbakr/weave-tutor/pkg/storage"
)

// DefaultBypassPaths skip authentication. Entries ending in "/" match
// as prefixes.
var DefaultBypassPaths = []string{"/healthz", "/readyz", "/metrics"}

// Middleware authenticates requests with chain, applies limiter when not
// nil, and stores the identity and tenant in the request context.
func Middleware(chain *Chain, limiter RateLimiter, bypassPaths []string) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			if bypassed(r.URL.Path, bypassPaths) {
				next.ServeHTTP(w, r)
				return
			}

			res := chain.Authenticate(r.Context(), r)
			if res.Decision != Yes || res.Identity == nil {
				slog.Warn("authentication failed", "path", r.URL.Path, "remote_addr", r.RemoteAddr, "error", res.Err)
				writeError(w, http.StatusUnauthorized, api.NewUnauthorizedError("authentication required"))
				return
			}
			id := res.Identity
			if id.Subject == "" {
				slog.Error("authenticator returned identity without subject", "path", r.URL.Path)
				writeError(w, http.StatusInternalServerError, api.NewServerError("internal authentication error"))
				return
			}

			if limiter != nil {
				if err := limiter.Allow(r.Context(), id); err != nil {
					var limited *LimitError
					if errors.As(err, &limited) && limited.RetryAfter > 0 {
						w.Header().Set("Retry-After", strconv.Itoa(int(limited.RetryAfter.Seconds()+0.5)))
					}
					observability.RateLimitRejectedTotal.WithLabelValues(tierOf(id)).Inc()
					slog.Warn("rate limit exceeded", "subject", id.Subject, "tier", tierOf(id))
					writeError(w, http.StatusTooManyRequests, api.NewTooManyRequestsError("rate limit exceeded"))
					return
				}
			}

			ctx := WithIdentity(r.Context(), id)
			if id.TenantID != "" {
				ctx = storage.SetTenant(ctx, id.TenantID)
			}
			next.ServeHTTP(w, r.WithContext(ctx))
		})
	}
}

func bypassed(path string, bypassPaths []string) bool {
	for _, p := range bypassPaths {
		if path == p || (strings.HasSuffix(p, "/") && strings.HasPrefix(path, p)) {
			return true
		}
	}
	return false
}

func writeError(w http.ResponseWriter, status int, e *api.APIError) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(api.ErrorResponse{Error: e})
}
