package api

import (
	"context"
	"net/http"
	"strconv"

	"github.com/dw2kim/job-scheduler/internal/core"
	"github.com/dw2kim/job-scheduler/internal/scheduler"
)

// ScanTrigger runs one scan immediately.
type ScanTrigger interface {
	ScanNow(ctx context.Context) (*scheduler.ScanReport, error)
}

const (
	defaultDeadLetterLimit = 50
	maxDeadLetterLimit     = 500
)

// AdminHandler handles operator endpoints.
type AdminHandler struct {
	scans       ScanTrigger
	deadLetters core.DeadLetterLister
}

// NewAdminHandler creates a new AdminHandler. deadLetters may be nil when
// the queue cannot enumerate them.
func NewAdminHandler(scans ScanTrigger, deadLetters core.DeadLetterLister) *AdminHandler {
	return &AdminHandler{scans: scans, deadLetters: deadLetters}
}

// Scan handles POST /v1/admin/scan.
func (h *AdminHandler) Scan(w http.ResponseWriter, r *http.Request) {
	report, err := h.scans.ScanNow(r.Context())
	if err != nil {
		HandleError(w, err)
		return
	}
	WriteJSON(w, http.StatusOK, report)
}

// DeadLetters handles GET /v1/admin/deadletter?limit=N.
func (h *AdminHandler) DeadLetters(w http.ResponseWriter, r *http.Request) {
	if h.deadLetters == nil {
		WriteError(w, http.StatusNotImplemented, &core.Error{
			Code:    "unsupported",
			Message: "The configured queue does not keep dead letters.",
		})
		return
	}

	limit := defaultDeadLetterLimit
	if v := r.URL.Query().Get("limit"); v != "" {
		n, err := strconv.Atoi(v)
		if err != nil || n < 1 {
			WriteError(w, http.StatusBadRequest, core.NewValidationError("limit must be a positive integer", map[string]any{
				"field": "limit",
				"value": v,
			}))
			return
		}
		limit = min(n, maxDeadLetterLimit)
	}

	items, err := h.deadLetters.ListDeadLetters(r.Context(), limit)
	if err != nil {
		HandleError(w, core.WrapInternal("list dead letters", err))
		return
	}
	if items == nil {
		items = []core.DeadLetter{}
	}
	WriteJSON(w, http.StatusOK, map[string]any{
		"items": items,
		"count": len(items),
	})
}
