package api

import (
	"context"
	"encoding/json"
	"net/http"

	"github.com/go-chi/chi/v5"

	"github.com/dw2kim/job-scheduler/internal/core"
	"github.com/dw2kim/job-scheduler/internal/service"
)

// JobService is the job lifecycle the HTTP layer exposes.
type JobService interface {
	CreateJob(ctx context.Context, req *core.CreateJobRequest) (*service.CreateJobResult, error)
	GetStatus(ctx context.Context, jobID string) (*service.JobStatus, error)
	Cancel(ctx context.Context, jobID string) (*service.CancelResult, error)
}

// JobHandler handles job-related HTTP endpoints.
type JobHandler struct {
	jobs JobService
}

// NewJobHandler creates a new JobHandler.
func NewJobHandler(jobs JobService) *JobHandler {
	return &JobHandler{jobs: jobs}
}

// Create handles POST /v1/jobs. A new job answers 201, a replayed
// idempotency key answers 200 with the original job.
func (h *JobHandler) Create(w http.ResponseWriter, r *http.Request) {
	var req core.CreateJobRequest
	dec := json.NewDecoder(r.Body)
	dec.DisallowUnknownFields()
	if err := dec.Decode(&req); err != nil {
		WriteError(w, http.StatusBadRequest, core.NewValidationError("Invalid JSON in request body.", map[string]any{
			"parse_error": err.Error(),
		}))
		return
	}

	res, err := h.jobs.CreateJob(r.Context(), &req)
	if err != nil {
		HandleError(w, err)
		return
	}

	status := http.StatusCreated
	if res.Idempotent {
		status = http.StatusOK
	}
	WriteJSON(w, status, res)
}

// Get handles GET /v1/jobs/{jobId}.
func (h *JobHandler) Get(w http.ResponseWriter, r *http.Request) {
	st, err := h.jobs.GetStatus(r.Context(), chi.URLParam(r, "jobId"))
	if err != nil {
		HandleError(w, err)
		return
	}
	WriteJSON(w, http.StatusOK, st)
}

// Cancel handles DELETE /v1/jobs/{jobId} and POST /v1/jobs/{jobId}/cancel.
func (h *JobHandler) Cancel(w http.ResponseWriter, r *http.Request) {
	res, err := h.jobs.Cancel(r.Context(), chi.URLParam(r, "jobId"))
	if err != nil {
		HandleError(w, err)
		return
	}
	WriteJSON(w, http.StatusOK, res)
}
