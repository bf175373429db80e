package api

import (
	"encoding/json"
	"errors"
	"log/slog"
	"net/http"

	"github.com/dw2kim/job-scheduler/internal/core"
)

// MediaType is the Content-Type of every response.
const MediaType = "application/json"

// ErrorResponse is the body of every error reply.
type ErrorResponse struct {
	Error ErrorBody `json:"error"`
}

// ErrorBody mirrors core.Error plus the request id.
type ErrorBody struct {
	Code      string         `json:"code"`
	Message   string         `json:"message"`
	Retryable bool           `json:"retryable"`
	Details   map[string]any `json:"details,omitempty"`
	RequestID string         `json:"request_id,omitempty"`
}

// WriteJSON writes data as a JSON response.
func WriteJSON(w http.ResponseWriter, status int, data any) {
	w.Header().Set("Content-Type", MediaType)
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(data); err != nil {
		slog.Error("failed to encode response", "error", err)
	}
}

// WriteError writes e with the given HTTP status.
func WriteError(w http.ResponseWriter, status int, e *core.Error) {
	WriteJSON(w, status, ErrorResponse{Error: ErrorBody{
		Code:      e.Code,
		Message:   e.Message,
		Retryable: e.Retryable,
		Details:   e.Details,
		RequestID: w.Header().Get(RequestIDHeader),
	}})
}

// HandleError maps err to a status code and writes it. Errors that are not
// a *core.Error are reported as internal.
func HandleError(w http.ResponseWriter, err error) {
	var e *core.Error
	if !errors.As(err, &e) {
		e = core.WrapInternal("unexpected error", err)
	}
	status := StatusFor(e.Code)
	if status >= http.StatusInternalServerError {
		slog.Error("request failed", "code", e.Code, "error", err)
	}
	WriteError(w, status, e)
}

// StatusFor returns the HTTP status of an error code.
func StatusFor(code string) int {
	switch code {
	case core.ErrCodeValidationError:
		return http.StatusBadRequest
	case core.ErrCodeNotFound:
		return http.StatusNotFound
	case core.ErrCodeConflict:
		return http.StatusConflict
	case core.ErrCodeExecutionFailure:
		return http.StatusBadGateway
	default:
		return http.StatusInternalServerError
	}
}
