package core

import (
	"encoding/json"
	"fmt"
	"strings"
	"time"
)

// MaxIdempotencyKeyLength bounds client-supplied deduplication tokens.
const MaxIdempotencyKeyLength = 512

// CreateJobRequest is the intake input.
type CreateJobRequest struct {
	RunAt          string          `json:"runAt"`
	Task           string          `json:"task"`
	Params         json.RawMessage `json:"params,omitempty"`
	IdempotencyKey string          `json:"idempotencyKey"`
}

// ValidateCreateJobRequest checks req against now and returns the parsed run
// time. runAt must be RFC 3339 in UTC with a trailing "Z" and strictly after now.
func ValidateCreateJobRequest(req *CreateJobRequest, now time.Time) (time.Time, *Error) {
	if req == nil {
		return time.Time{}, NewValidationError("request body is required", nil)
	}
	if strings.TrimSpace(req.RunAt) == "" {
		return time.Time{}, NewValidationError("runAt is required", map[string]any{"field": "runAt"})
	}
	if strings.TrimSpace(req.Task) == "" {
		return time.Time{}, NewValidationError("task is required", map[string]any{"field": "task"})
	}
	if strings.TrimSpace(req.IdempotencyKey) == "" {
		return time.Time{}, NewValidationError("idempotencyKey is required", map[string]any{"field": "idempotencyKey"})
	}
	if len(req.IdempotencyKey) > MaxIdempotencyKeyLength {
		return time.Time{}, NewValidationError(
			fmt.Sprintf("idempotencyKey must be at most %d bytes", MaxIdempotencyKeyLength),
			map[string]any{"field": "idempotencyKey", "length": len(req.IdempotencyKey)},
		)
	}

	runAt, err := ParseRunAt(req.RunAt)
	if err != nil {
		return time.Time{}, NewValidationError(err.Error(), map[string]any{"field": "runAt", "value": req.RunAt})
	}
	if !runAt.After(now) {
		return time.Time{}, NewValidationError("runAt must be in the future", map[string]any{
			"field":       "runAt",
			"value":       req.RunAt,
			"server_time": FormatTime(now),
		})
	}

	if len(req.Params) > 0 && !json.Valid(req.Params) {
		return time.Time{}, NewValidationError("params must be valid JSON", map[string]any{"field": "params"})
	}
	return runAt, nil
}

// ParseRunAt parses an RFC 3339 timestamp that carries the UTC "Z" designator.
func ParseRunAt(s string) (time.Time, error) {
	if !strings.HasSuffix(s, "Z") {
		return time.Time{}, fmt.Errorf("runAt must be a UTC timestamp ending in 'Z'")
	}
	t, err := time.Parse(time.RFC3339Nano, s)
	if err != nil {
		return time.Time{}, fmt.Errorf("runAt is not a valid RFC 3339 timestamp")
	}
	return t.UTC(), nil
}
