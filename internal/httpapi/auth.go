package httpapi

import (
	"context"
	"crypto/subtle"
	"encoding/json"
	"errors"
	"net/http"
	"strings"

	"github.com/storefront-labs/pricelab/internal/metrics"
	"github.com/storefront-labs/pricelab/internal/tenant"
)

// Gateway authentication. The gateway verifies the caller's token and
// forwards the claims as headers; the engine only trusts them when the
// gateway marks the request verified.

type contextKey string

const (
	StoreIDKey contextKey = "store_id"
	ActorKey   contextKey = "actor"
	ScopesKey  contextKey = "scopes"
)

// ScopeWrite allows starting and stopping experiments
const ScopeWrite = "pricing:write"

type AuthConfig struct {
	RequireVerified bool   // Require X-Auth-Verified: true
	StoreIDHeader   string // Default: "X-Store-ID"
	ActorHeader     string // Default: "X-User-ID"
	ScopesHeader    string // Default: "X-Scopes"
	VerifiedHeader  string // Default: "X-Auth-Verified"
}

// DefaultAuthConfig returns production defaults
func DefaultAuthConfig() *AuthConfig {
	return &AuthConfig{
		RequireVerified: true,
		StoreIDHeader:   "X-Store-ID",
		ActorHeader:     "X-User-ID",
		ScopesHeader:    "X-Scopes",
		VerifiedHeader:  "X-Auth-Verified",
	}
}

// Authenticate binds store, actor and scopes from gateway headers to the
// request context
func Authenticate(config *AuthConfig) func(http.Handler) http.Handler {
	if config == nil {
		config = DefaultAuthConfig()
	}

	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			if config.RequireVerified && r.Header.Get(config.VerifiedHeader) != "true" {
				writeError(w, http.StatusUnauthorized, "gateway verification required")
				return
			}

			storeID := strings.TrimSpace(r.Header.Get(config.StoreIDHeader))
			if storeID == "" {
				writeError(w, http.StatusUnauthorized, "missing store id")
				return
			}

			ctx := context.WithValue(r.Context(), StoreIDKey, storeID)
			if actor := r.Header.Get(config.ActorHeader); actor != "" {
				ctx = context.WithValue(ctx, ActorKey, actor)
			}
			if scopes := parseScopes(r.Header.Get(config.ScopesHeader)); len(scopes) > 0 {
				ctx = context.WithValue(ctx, ScopesKey, scopes)
			}

			next.ServeHTTP(w, r.WithContext(ctx))
		})
	}
}

// parseScopes accepts a JSON array or a comma-separated list
func parseScopes(raw string) []string {
	if raw == "" {
		return nil
	}

	var scopes []string
	if err := json.Unmarshal([]byte(raw), &scopes); err == nil {
		return scopes
	}

	for _, s := range strings.Split(raw, ",") {
		if s = strings.TrimSpace(s); s != "" {
			scopes = append(scopes, s)
		}
	}
	return scopes
}

func StoreID(ctx context.Context) (string, bool) {
	id, ok := ctx.Value(StoreIDKey).(string)
	return id, ok
}

func Actor(ctx context.Context) (string, bool) {
	actor, ok := ctx.Value(ActorKey).(string)
	return actor, ok
}

func Scopes(ctx context.Context) ([]string, bool) {
	scopes, ok := ctx.Value(ScopesKey).([]string)
	return scopes, ok
}

func HasScope(ctx context.Context, required string) bool {
	scopes, _ := Scopes(ctx)
	for _, s := range scopes {
		if s == required {
			return true
		}
	}
	return false
}

// RequireScope rejects requests whose context lacks scope with 403
func RequireScope(scope string) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			if !HasScope(r.Context(), scope) {
				writeError(w, http.StatusForbidden, "missing scope "+scope)
				return
			}
			next.ServeHTTP(w, r)
		})
	}
}

// RateLimit applies the store's request budget. It must run after
// Authenticate.
func RateLimit(tenants *tenant.Manager, m *metrics.Metrics) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			storeID, _ := StoreID(r.Context())

			err := tenants.Allow(r.Context(), storeID)
			switch {
			case err == nil:
				if m != nil {
					if used, uerr := tenants.Usage(storeID); uerr == nil {
						m.StoreRequestsToday.WithLabelValues(storeID).Set(float64(used))
					}
				}
				next.ServeHTTP(w, r)
			case errors.Is(err, tenant.ErrStoreInactive):
				writeError(w, http.StatusForbidden, "store is suspended")
			case errors.Is(err, tenant.ErrQuotaExceeded):
				if m != nil {
					m.QuotaExceeded.WithLabelValues(storeID).Inc()
				}
				w.Header().Set("Retry-After", "1")
				writeError(w, http.StatusTooManyRequests, "too many requests")
			case errors.Is(err, tenant.ErrInvalidStoreID):
				writeError(w, http.StatusBadRequest, err.Error())
			default:
				writeError(w, http.StatusForbidden, err.Error())
			}
		})
	}
}

// BasicAuth guards h with a single user; an empty user disables the check
func BasicAuth(h http.Handler, user, password string) http.Handler {
	if user == "" {
		return h
	}

	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		u, p, ok := r.BasicAuth()
		if !ok ||
			subtle.ConstantTimeCompare([]byte(u), []byte(user)) != 1 ||
			subtle.ConstantTimeCompare([]byte(p), []byte(password)) != 1 {
			w.Header().Set("WWW-Authenticate", `Basic realm="Metrics"`)
			http.Error(w, "Unauthorized", http.StatusUnauthorized)
			return
		}
		h.ServeHTTP(w, r)
	})
}
