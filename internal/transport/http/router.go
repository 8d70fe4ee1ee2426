package httptransport

import (
	"context"
	"log/slog"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/prometheus/client_golang/prometheus"

	"fecsync/internal/platform/metrics"
	"fecsync/internal/platform/middleware"
	"fecsync/pkg/platform/httputil"
)

// HealthCheck reports whether one dependency is usable.
type HealthCheck func(ctx context.Context) error

// Routes is implemented by every domain handler.
type Routes interface {
	Register(r chi.Router)
}

// Deps are the pieces the router is assembled from.
type Deps struct {
	Logger     *slog.Logger
	Metrics    *metrics.HTTP
	Gatherer   prometheus.Gatherer
	AdminToken string
	Checks     map[string]HealthCheck
	Handlers   []Routes
}

// NewRouter wires the health and metrics endpoints plus every domain
// handler. Domain routes sit behind the admin token.
func NewRouter(d Deps) http.Handler {
	r := chi.NewRouter()
	r.Use(middleware.Recovery(d.Logger))
	r.Use(middleware.RequestID)
	if d.Metrics != nil {
		r.Use(d.Metrics.Middleware)
	}

	r.Get("/healthz", healthHandler(d.Checks))
	if d.Gatherer != nil {
		r.Method(http.MethodGet, "/metrics", metrics.Handler(d.Gatherer))
	}

	r.Group(func(r chi.Router) {
		r.Use(middleware.Logger(d.Logger))
		r.Use(middleware.RequireAdminToken(d.AdminToken, d.Logger))
		for _, h := range d.Handlers {
			h.Register(r)
		}
	})
	return r
}

func healthHandler(checks map[string]HealthCheck) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		ctx, cancel := context.WithTimeout(r.Context(), 2*time.Second)
		defer cancel()

		status := http.StatusOK
		report := make(map[string]string, len(checks))
		for name, check := range checks {
			if err := check(ctx); err != nil {
				status = http.StatusServiceUnavailable
				report[name] = err.Error()
				continue
			}
			report[name] = "ok"
		}
		httputil.WriteJSON(w, status, map[string]any{
			"status": http.StatusText(status),
			"checks": report,
		})
	}
}
