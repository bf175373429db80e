package server

import (
	"context"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/dw2kim/job-scheduler/internal/api"
	"github.com/dw2kim/job-scheduler/internal/core"
)

// HealthCheck reports whether one dependency is usable.
type HealthCheck struct {
	Name  string
	Check func(ctx context.Context) error
}

// RouterDeps are the collaborators the HTTP router serves.
type RouterDeps struct {
	Jobs     api.JobService
	Scans    api.ScanTrigger
	Dead     core.DeadLetterLister
	APIKey   string
	Gatherer prometheus.Gatherer
	Checks   []HealthCheck
}

// NewRouter creates the chi router with health, metrics and /v1 routes.
func NewRouter(deps RouterDeps) *chi.Mux {
	r := chi.NewRouter()
	r.Use(api.RequestID, api.RequestLogger)

	r.Get("/healthz", healthHandler(deps.Checks))
	if deps.Gatherer != nil {
		r.Handle("/metrics", promhttp.HandlerFor(deps.Gatherer, promhttp.HandlerOpts{}))
	}

	var admin *api.AdminHandler
	if deps.Scans != nil {
		admin = api.NewAdminHandler(deps.Scans, deps.Dead)
	}
	api.Mount(r, api.NewJobHandler(deps.Jobs), admin, deps.APIKey)
	return r
}

func healthHandler(checks []HealthCheck) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		ctx, cancel := context.WithTimeout(r.Context(), 2*time.Second)
		defer cancel()

		status := "ok"
		code := http.StatusOK
		results := make(map[string]string, len(checks))
		for _, c := range checks {
			if err := c.Check(ctx); err != nil {
				results[c.Name] = err.Error()
				status = "degraded"
				code = http.StatusServiceUnavailable
				continue
			}
			results[c.Name] = "ok"
		}
		api.WriteJSON(w, code, map[string]any{
			"status": status,
			"checks": results,
		})
	}
}
