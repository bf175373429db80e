package core

import (
	"context"
	"errors"
	"testing"
	"time"
)

func TestCanTransition(t *testing.T) {
	tests := []struct {
		from, to Status
		want     bool
	}{
		{StatusPending, StatusRunning, true},
		{StatusPending, StatusCancelled, true},
		{StatusRunning, StatusRunning, true},
		{StatusRunning, StatusSucceeded, true},
		{StatusRunning, StatusFailedPermanent, true},
		{StatusPending, StatusFailedPermanent, true},
		{StatusPending, StatusSucceeded, false},
		{StatusRunning, StatusCancelled, false},
		{StatusRunning, StatusPending, false},
	}
	for _, tt := range tests {
		if got := CanTransition(tt.from, tt.to); got != tt.want {
			t.Errorf("CanTransition(%s, %s) = %v, want %v", tt.from, tt.to, got, tt.want)
		}
	}
}

func TestCanTransition_NothingLeavesTerminal(t *testing.T) {
	all := []Status{StatusPending, StatusRunning, StatusSucceeded, StatusFailedPermanent, StatusCancelled}
	for _, from := range all {
		if !from.IsTerminal() {
			continue
		}
		for _, to := range all {
			if CanTransition(from, to) {
				t.Errorf("CanTransition(%s, %s) = true, terminal states must be final", from, to)
			}
		}
	}
}

func TestAllowed_NilIsUnconditional(t *testing.T) {
	if !Allowed(StatusSucceeded, nil) {
		t.Error("Allowed(nil) = false, want true")
	}
	if Allowed(StatusSucceeded, []Status{StatusRunning}) {
		t.Error("Allowed(SUCCEEDED, [RUNNING]) = true, want false")
	}
}

func TestMutationApply(t *testing.T) {
	r := &Record{Status: StatusRunning, Attempt: 1, TTLEpochSeconds: 0}
	attempt := 3
	Mutation{Status: StatusSucceeded, Attempt: &attempt, TTLEpochSeconds: 42, UpdatedAt: "now"}.Apply(r)
	if r.Status != StatusSucceeded || r.Attempt != 3 || r.TTLEpochSeconds != 42 || r.UpdatedAt != "now" {
		t.Errorf("unexpected record after Apply: %+v", r)
	}

	Mutation{Status: StatusSucceeded}.Apply(r)
	if r.Attempt != 3 || r.TTLEpochSeconds != 42 {
		t.Errorf("zero mutation fields overwrote record: %+v", r)
	}
}

func TestRetentionFor(t *testing.T) {
	r := DefaultRetention
	if r.For(StatusSucceeded) != r.Succeeded || r.For(StatusCancelled) != r.Cancelled || r.For(StatusFailedPermanent) != r.Failed {
		t.Error("Retention.For returned wrong duration for terminal status")
	}
	if r.For(StatusRunning) != 0 {
		t.Error("Retention.For(RUNNING) should be zero")
	}
}

type countingUpdates struct {
	Store
	calls int
}

func (c *countingUpdates) ConditionalUpdate(_ context.Context, key RecordKey, _ []Status, m Mutation) (*Record, error) {
	c.calls++
	return &Record{TimeBucket: key.TimeBucket, ExecutionKey: key.ExecutionKey, Status: m.Status}, nil
}

func TestTransitionApply_RejectsUndeclaredEdge(t *testing.T) {
	store := &countingUpdates{}
	key := RecordKey{TimeBucket: "2026-03-14T09:30", ExecutionKey: "2026-03-14T09:30:00.000Z#job"}
	now := time.Date(2026, 3, 14, 9, 31, 0, 0, time.UTC)

	undeclared := []Transition{
		{Name: "revive", From: []Status{StatusSucceeded}, To: StatusRunning},
		{Name: "uncancel", From: []Status{StatusCancelled}, To: StatusPending},
		{Name: "force", To: StatusSucceeded},
	}
	for _, tr := range undeclared {
		if _, err := tr.Apply(context.Background(), store, key, now, DefaultRetention, nil); !errors.Is(err, ErrUndeclaredTransition) {
			t.Errorf("%s.Apply() error = %v, want ErrUndeclaredTransition", tr.Name, err)
		}
	}
	if store.calls != 0 {
		t.Errorf("store written %d times for undeclared edges", store.calls)
	}

	for _, tr := range Transitions {
		if _, err := tr.Apply(context.Background(), store, key, now, DefaultRetention, nil); err != nil {
			t.Errorf("%s.Apply() error = %v", tr.Name, err)
		}
	}
	if store.calls != len(Transitions) {
		t.Errorf("store written %d times, want %d", store.calls, len(Transitions))
	}
}
