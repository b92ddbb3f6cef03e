// Package adminapi exposes the engine's ops-only surface — health, readiness,
// liveness, and Prometheus metrics — on a separate listen address from the
// tenant-facing API so it can be reached without going through the public
// rate limiter or auth layer.
package adminapi

import (
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"

	"github.com/inspectflow/orchestrator/infrastructure/health"
	"github.com/inspectflow/orchestrator/infrastructure/metrics"
)

// Deps are the dependencies the admin router wires into its handlers.
type Deps struct {
	Checker    *health.Checker
	Metrics    *metrics.Metrics
	Service    string
	Version    string
	StartedAt  time.Time
}

// NewRouter builds the admin API's chi router.
func NewRouter(d Deps) *chi.Mux {
	r := chi.NewRouter()
	r.Use(middleware.Recoverer)
	r.Use(middleware.RealIP)

	uptime := func() time.Duration { return time.Since(d.StartedAt) }

	r.Get("/health", health.Handler(d.Checker, d.Service, d.Version, uptime))

	r.Get("/ready", func(w http.ResponseWriter, req *http.Request) {
		result := d.Checker.Check(req.Context(), d.Service, d.Version, uptime())
		if result.Status == "unhealthy" {
			w.WriteHeader(http.StatusServiceUnavailable)
			return
		}
		w.WriteHeader(http.StatusOK)
	})

	r.Get("/alive", func(w http.ResponseWriter, req *http.Request) {
		w.WriteHeader(http.StatusOK)
	})

	if d.Metrics != nil {
		r.Handle("/metrics", metrics.Handler())
	}

	return r
}
