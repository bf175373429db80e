package core

import (
	"errors"
	"fmt"
)

// Error codes surfaced to callers.
const (
	ErrCodeValidationError  = "validation_error"
	ErrCodeNotFound         = "not_found"
	ErrCodeConflict         = "conflict"
	ErrCodeExecutionFailure = "execution_failure"
	ErrCodeInternalError    = "internal_error"
)

// Store contract outcomes. Adapters return these (possibly wrapped) so the
// core can tell a lost race from an infrastructure failure.
var (
	ErrNotFound                = errors.New("record not found")
	ErrPreconditionFailed      = errors.New("precondition failed")
	ErrDuplicateIdempotencyKey = errors.New("idempotency key already exists")
)

// Error is the structured error returned by every core operation.
type Error struct {
	Code      string         `json:"code"`
	Message   string         `json:"message"`
	Retryable bool           `json:"retryable"`
	Details   map[string]any `json:"details,omitempty"`

	cause error
}

func (e *Error) Error() string {
	return fmt.Sprintf("[%s] %s", e.Code, e.Message)
}

func (e *Error) Unwrap() error {
	return e.cause
}

// NewValidationError reports bad input. No state was changed.
func NewValidationError(message string, details map[string]any) *Error {
	return &Error{
		Code:    ErrCodeValidationError,
		Message: message,
		Details: details,
	}
}

// NewNotFoundError reports a missing resource.
func NewNotFoundError(resourceType, resourceID string) *Error {
	return &Error{
		Code:    ErrCodeNotFound,
		Message: fmt.Sprintf("%s '%s' not found.", resourceType, resourceID),
		Details: map[string]any{
			"resource_type": resourceType,
			"resource_id":   resourceID,
		},
		cause: ErrNotFound,
	}
}

// NewConflictError reports a transition that lost to a concurrent one.
func NewConflictError(message string, details map[string]any) *Error {
	return &Error{
		Code:    ErrCodeConflict,
		Message: message,
		Details: details,
		cause:   ErrPreconditionFailed,
	}
}

// NewExecutionError wraps a Task Executor failure. The delivery is retried.
func NewExecutionError(jobID string, cause error) *Error {
	return &Error{
		Code:      ErrCodeExecutionFailure,
		Message:   fmt.Sprintf("Execution of job '%s' failed: %v", jobID, cause),
		Retryable: true,
		Details:   map[string]any{"job_id": jobID},
		cause:     cause,
	}
}

// NewInternalError reports an unreachable store or queue.
func NewInternalError(message string) *Error {
	return &Error{
		Code:      ErrCodeInternalError,
		Message:   message,
		Retryable: true,
	}
}

// WrapInternal builds an internal error that keeps cause in the chain.
func WrapInternal(op string, cause error) *Error {
	e := NewInternalError(fmt.Sprintf("%s: %v", op, cause))
	e.cause = cause
	return e
}

// HasCode reports whether err is an *Error with the given code.
func HasCode(err error, code string) bool {
	var e *Error
	return errors.As(err, &e) && e.Code == code
}
