// Package api exposes job intake, status, cancellation and operator
// endpoints over HTTP.
package api

import (
	"github.com/go-chi/chi/v5"
)

// Mount registers the /v1 routes on r. A non-empty apiKey guards all of them.
// admin may be nil.
func Mount(r chi.Router, jobs *JobHandler, admin *AdminHandler, apiKey string) {
	r.Route("/v1", func(r chi.Router) {
		r.Use(APIKeyAuth(apiKey), LimitBody, ValidateContentType)

		r.Post("/jobs", jobs.Create)
		r.Get("/jobs/{jobId}", jobs.Get)
		r.Delete("/jobs/{jobId}", jobs.Cancel)
		r.Post("/jobs/{jobId}/cancel", jobs.Cancel)

		if admin != nil {
			r.Post("/admin/scan", admin.Scan)
			r.Get("/admin/deadletter", admin.DeadLetters)
		}
	})
}
