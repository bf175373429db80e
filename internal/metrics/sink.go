// Package metrics records scheduler, worker and intake measurements.
package metrics

import "time"

// Sink records metrics. Methods are fire-and-forget and must not block.
type Sink interface {
	// Intake
	JobCreated(idempotent bool)
	JobCancelled(outcome string)

	// Scanner
	ScanCompleted(duration time.Duration, buckets, enqueued int, err error)
	DispatchLost()

	// Worker
	DeliveryHandled(outcome string, redeliveryCount int)
	ExecutionObserved(task string, duration time.Duration, err error)

	// Store
	TransitionApplied(transition string)
	PreconditionFailed(transition string)
	RecordsSwept(count int)
}

// Delivery outcomes.
const (
	OutcomeSucceeded  = "succeeded"
	OutcomeRetry      = "retry"
	OutcomeExhausted  = "exhausted"
	OutcomeDuplicate  = "duplicate"
	OutcomeSkipped    = "skipped"
	OutcomeStoreError = "store_error"
)

// Cancellation outcomes.
const (
	CancelOutcomeCancelled = "cancelled"
	CancelOutcomeConflict  = "conflict"
	CancelOutcomeNotFound  = "not_found"
)
