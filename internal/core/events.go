package core

import "context"

// Lifecycle event types.
const (
	EventJobCreated        = "job.created"
	EventJobCancelled      = "job.cancelled"
	EventExecutionRetrying = "execution.retrying"
	EventExecutionDone     = "execution.succeeded"
	EventExecutionFailed   = "execution.failed"
)

// Event announces a lifecycle change of a job.
type Event struct {
	Type         string `json:"type"`
	JobID        string `json:"jobId"`
	ExecutionKey string `json:"executionKey,omitempty"`
	Status       Status `json:"status"`
	Attempt      int    `json:"attempt,omitempty"`
	At           string `json:"at"`
}

// EventPublisher broadcasts lifecycle events. Publishing is best effort and
// never affects the outcome of the operation that emitted the event.
type EventPublisher interface {
	Publish(ctx context.Context, event Event)
}

// NopPublisher drops every event.
type NopPublisher struct{}

func (NopPublisher) Publish(context.Context, Event) {}
