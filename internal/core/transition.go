package core

import (
	"context"
	"errors"
	"fmt"
	"time"
)

// Mutation describes the fields a transition writes besides the status.
type Mutation struct {
	Status Status
	// Attempt is written when non-nil.
	Attempt *int
	// TTLEpochSeconds is written when positive.
	TTLEpochSeconds int64
	UpdatedAt       string
}

// Apply writes m onto r.
func (m Mutation) Apply(r *Record) {
	r.Status = m.Status
	if m.Attempt != nil {
		r.Attempt = *m.Attempt
	}
	if m.TTLEpochSeconds > 0 {
		r.TTLEpochSeconds = m.TTLEpochSeconds
	}
	if m.UpdatedAt != "" {
		r.UpdatedAt = m.UpdatedAt
	}
}

// Allowed reports whether a record in status current satisfies expected.
func Allowed(current Status, expected []Status) bool {
	if expected == nil {
		return true
	}
	for _, s := range expected {
		if s == current {
			return true
		}
	}
	return false
}

// Transition is one guarded edge of the execution state machine.
type Transition struct {
	Name string
	From []Status
	To   Status
}

var (
	// Dispatch hands a pending record to the delivery queue.
	Dispatch = Transition{Name: "dispatch", From: []Status{StatusPending}, To: StatusRunning}
	// Retry re-asserts RUNNING after a failed attempt.
	Retry = Transition{Name: "retry", From: []Status{StatusRunning}, To: StatusRunning}
	// Complete records a successful attempt.
	Complete = Transition{Name: "complete", From: []Status{StatusRunning}, To: StatusSucceeded}
	// Exhaust fails a record whose retry budget ran out. It may overwrite any
	// non-terminal status.
	Exhaust = Transition{Name: "exhaust", From: []Status{StatusPending, StatusRunning}, To: StatusFailedPermanent}
	// Cancel vetoes a record that has not been dispatched yet.
	Cancel = Transition{Name: "cancel", From: []Status{StatusPending}, To: StatusCancelled}
)

// Transitions lists every edge of the state machine.
var Transitions = []Transition{Dispatch, Retry, Complete, Exhaust, Cancel}

// CanTransition reports whether some edge leads from from to to.
func CanTransition(from, to Status) bool {
	for _, t := range Transitions {
		if t.To == to && Allowed(from, t.From) {
			return true
		}
	}
	return false
}

// Retention holds how long resolved records are kept before expiry.
type Retention struct {
	Succeeded time.Duration
	Cancelled time.Duration
	Failed    time.Duration
}

// DefaultRetention keeps successes and cancellations for a week and permanent
// failures for two.
var DefaultRetention = Retention{
	Succeeded: 7 * 24 * time.Hour,
	Cancelled: 7 * 24 * time.Hour,
	Failed:    14 * 24 * time.Hour,
}

// For returns the retention of a terminal status, zero otherwise.
func (r Retention) For(s Status) time.Duration {
	switch s {
	case StatusSucceeded:
		return r.Succeeded
	case StatusCancelled:
		return r.Cancelled
	case StatusFailedPermanent:
		return r.Failed
	}
	return 0
}

// ErrUndeclaredTransition is returned by Apply for an edge outside the state
// machine.
var ErrUndeclaredTransition = errors.New("transition is not part of the state machine")

// declared reports whether every source status of t may move to t.To.
func (t Transition) declared() bool {
	if len(t.From) == 0 {
		return false
	}
	for _, from := range t.From {
		if !CanTransition(from, t.To) {
			return false
		}
	}
	return true
}

// Apply performs t on the record under key as one conditional write. Terminal
// targets get an expiry marker from retention. A lost race is returned as
// ErrPreconditionFailed.
func (t Transition) Apply(ctx context.Context, store Store, key RecordKey, now time.Time, retention Retention, attempt *int) (*Record, error) {
	if !t.declared() {
		return nil, fmt.Errorf("%s %s -> %s: %w", t.Name, t.From, t.To, ErrUndeclaredTransition)
	}
	m := Mutation{
		Status:          t.To,
		Attempt:         attempt,
		TTLEpochSeconds: ExpiryAt(now, retention.For(t.To)),
		UpdatedAt:       FormatTime(now),
	}
	rec, err := store.ConditionalUpdate(ctx, key, t.From, m)
	if err != nil {
		if errors.Is(err, ErrPreconditionFailed) || errors.Is(err, ErrNotFound) {
			return nil, err
		}
		return nil, fmt.Errorf("%s %s: %w", t.Name, key, err)
	}
	return rec, nil
}
