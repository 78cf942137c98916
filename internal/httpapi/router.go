package httpapi

import (
	"net/http"
	"strconv"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"

	"github.com/storefront-labs/pricelab/internal/metrics"
	"github.com/storefront-labs/pricelab/internal/tenant"
)

type RouterConfig struct {
	Auth    *AuthConfig
	Tenants *tenant.Manager
	Metrics *metrics.Metrics
	// MetricsHandler serves /metrics when set
	MetricsHandler http.Handler
}

// NewRouter mounts the API under /v1/pricing next to /health and /metrics
func NewRouter(h *Handler, cfg RouterConfig) http.Handler {
	r := chi.NewRouter()

	r.Use(middleware.RequestID)
	r.Use(middleware.RealIP)
	r.Use(middleware.Recoverer)
	if cfg.Metrics != nil {
		r.Use(countRequests(cfg.Metrics))
	}

	r.Get("/health", handleHealth)
	if cfg.MetricsHandler != nil {
		r.Handle("/metrics", cfg.MetricsHandler)
	}

	r.Route("/v1/pricing", func(r chi.Router) {
		r.Use(Authenticate(cfg.Auth))
		if cfg.Tenants != nil {
			r.Use(RateLimit(cfg.Tenants, cfg.Metrics))
		}
		h.Routes(r)
	})

	return r
}

// countRequests labels by route pattern so experiment ids stay out of the
// series
func countRequests(m *metrics.Metrics) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			ww := middleware.NewWrapResponseWriter(w, r.ProtoMajor)
			next.ServeHTTP(ww, r)

			route := "unmatched"
			if rc := chi.RouteContext(r.Context()); rc != nil && rc.RoutePattern() != "" {
				route = rc.RoutePattern()
			}
			status := ww.Status()
			if status == 0 {
				status = http.StatusOK
			}
			m.HTTPRequests.WithLabelValues(route, strconv.Itoa(status)).Inc()
		})
	}
}

func handleHealth(w http.ResponseWriter, r *http.Request) {
	w.WriteHeader(http.StatusOK)
	_, _ = w.Write([]byte("OK"))
}
