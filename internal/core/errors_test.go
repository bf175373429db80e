package core

import (
	"errors"
	"fmt"
	"testing"
)

func TestError_Error(t *testing.T) {
	err := &Error{Code: "not_found", Message: "Job 'abc' not found."}
	got := err.Error()
	want := "[not_found] Job 'abc' not found."
	if got != want {
		t.Errorf("Error() = %q, want %q", got, want)
	}
}

func TestNewValidationError(t *testing.T) {
	err := NewValidationError("runAt is required", map[string]any{"field": "runAt"})
	if err.Code != ErrCodeValidationError {
		t.Errorf("Code = %q, want %q", err.Code, ErrCodeValidationError)
	}
	if err.Retryable {
		t.Error("expected Retryable = false")
	}
	if err.Details["field"] != "runAt" {
		t.Errorf("Details[field] = %v, want %q", err.Details["field"], "runAt")
	}
}

func TestNewNotFoundError(t *testing.T) {
	err := NewNotFoundError("Job", "123")
	if err.Code != ErrCodeNotFound {
		t.Errorf("Code = %q, want %q", err.Code, ErrCodeNotFound)
	}
	if err.Details["resource_id"] != "123" {
		t.Errorf("Details[resource_id] = %v, want %q", err.Details["resource_id"], "123")
	}
	if !errors.Is(err, ErrNotFound) {
		t.Error("expected errors.Is(err, ErrNotFound)")
	}
}

func TestNewConflictError(t *testing.T) {
	err := NewConflictError("already running", map[string]any{"job_id": "abc"})
	if err.Code != ErrCodeConflict {
		t.Errorf("Code = %q, want %q", err.Code, ErrCodeConflict)
	}
	if err.Retryable {
		t.Error("expected Retryable = false")
	}
	if !errors.Is(err, ErrPreconditionFailed) {
		t.Error("expected errors.Is(err, ErrPreconditionFailed)")
	}
}

func TestNewExecutionError(t *testing.T) {
	cause := errors.New("telegram unavailable")
	err := NewExecutionError("job-1", cause)
	if err.Code != ErrCodeExecutionFailure {
		t.Errorf("Code = %q, want %q", err.Code, ErrCodeExecutionFailure)
	}
	if !err.Retryable {
		t.Error("expected Retryable = true for execution failures")
	}
	if !errors.Is(err, cause) {
		t.Error("expected cause in error chain")
	}
}

func TestWrapInternal(t *testing.T) {
	cause := errors.New("connection refused")
	err := WrapInternal("get record", cause)
	if err.Code != ErrCodeInternalError {
		t.Errorf("Code = %q, want %q", err.Code, ErrCodeInternalError)
	}
	if !err.Retryable {
		t.Error("expected Retryable = true for internal errors")
	}
	if !errors.Is(err, cause) {
		t.Error("expected cause in error chain")
	}
}

func TestHasCode(t *testing.T) {
	wrapped := fmt.Errorf("cancel: %w", NewNotFoundError("Job", "x"))
	if !HasCode(wrapped, ErrCodeNotFound) {
		t.Error("HasCode(wrapped, not_found) = false, want true")
	}
	if HasCode(errors.New("plain"), ErrCodeNotFound) {
		t.Error("HasCode(plain) = true, want false")
	}
}
