package memory

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/dw2kim/job-scheduler/internal/core"
	"github.com/dw2kim/job-scheduler/internal/store/storetest"
)

func TestStoreContract(t *testing.T) {
	storetest.Run(t, func(t *testing.T) core.Store { return New() })
}

func TestGetReturnsCopy(t *testing.T) {
	s := New()
	ctx := context.Background()
	rec := storetest.NewRecord(storetest.RandomMinute())
	if err := s.PutIfAbsent(ctx, rec); err != nil {
		t.Fatalf("PutIfAbsent() error = %v", err)
	}

	got, _ := s.Get(ctx, rec.Key())
	got.Status = core.StatusSucceeded

	again, _ := s.Get(ctx, rec.Key())
	if again.Status != core.StatusPending {
		t.Errorf("mutating a returned record changed the store: %s", again.Status)
	}
}

func TestSweep(t *testing.T) {
	s := New()
	ctx := context.Background()
	now := time.Now()

	expired := storetest.NewRecord(storetest.RandomMinute())
	live := storetest.NewRecord(storetest.RandomMinute())
	resting := storetest.NewRecord(storetest.RandomMinute())
	for _, r := range []*core.Record{expired, live, resting} {
		if err := s.PutIfAbsent(ctx, r); err != nil {
			t.Fatalf("PutIfAbsent() error = %v", err)
		}
	}
	mustUpdate(t, s, expired.Key(), now.Add(-time.Minute).Unix())
	mustUpdate(t, s, live.Key(), now.Add(time.Hour).Unix())

	removed, err := s.Sweep(ctx, now)
	if err != nil {
		t.Fatalf("Sweep() error = %v", err)
	}
	if removed != 1 {
		t.Errorf("Sweep() removed %d, want 1", removed)
	}
	if _, err := s.Get(ctx, expired.Key()); !errors.Is(err, core.ErrNotFound) {
		t.Errorf("expired record still present: %v", err)
	}
	if _, err := s.FindByIdempotencyKey(ctx, expired.IdempotencyKey); !errors.Is(err, core.ErrNotFound) {
		t.Errorf("expired idempotency key still indexed: %v", err)
	}
	if _, err := s.FindByJobID(ctx, expired.JobID); !errors.Is(err, core.ErrNotFound) {
		t.Errorf("expired job still indexed: %v", err)
	}
	if s.Len() != 2 {
		t.Errorf("Len() = %d, want 2", s.Len())
	}
}

func TestTransitionApply(t *testing.T) {
	s := New()
	ctx := context.Background()
	now := time.Date(2026, 2, 7, 17, 5, 0, 0, time.UTC)
	rec := storetest.NewRecord(now)
	if err := s.PutIfAbsent(ctx, rec); err != nil {
		t.Fatalf("PutIfAbsent() error = %v", err)
	}

	if _, err := core.Complete.Apply(ctx, s, rec.Key(), now, core.DefaultRetention, nil); !errors.Is(err, core.ErrPreconditionFailed) {
		t.Fatalf("Complete from PENDING error = %v, want ErrPreconditionFailed", err)
	}
	if _, err := core.Dispatch.Apply(ctx, s, rec.Key(), now, core.DefaultRetention, nil); err != nil {
		t.Fatalf("Dispatch error = %v", err)
	}
	got, err := core.Complete.Apply(ctx, s, rec.Key(), now, core.DefaultRetention, nil)
	if err != nil {
		t.Fatalf("Complete error = %v", err)
	}
	if want := now.Add(7 * 24 * time.Hour).Unix(); got.TTLEpochSeconds != want {
		t.Errorf("TTLEpochSeconds = %d, want %d", got.TTLEpochSeconds, want)
	}

	for _, tr := range core.Transitions {
		if _, err := tr.Apply(ctx, s, rec.Key(), now, core.DefaultRetention, nil); !errors.Is(err, core.ErrPreconditionFailed) {
			t.Errorf("%s out of SUCCEEDED error = %v, want ErrPreconditionFailed", tr.Name, err)
		}
	}
}

func mustUpdate(t *testing.T, s *Store, key core.RecordKey, ttl int64) {
	t.Helper()
	_, err := s.ConditionalUpdate(context.Background(), key, nil, core.Mutation{Status: core.StatusSucceeded, TTLEpochSeconds: ttl})
	if err != nil {
		t.Fatalf("ConditionalUpdate() error = %v", err)
	}
}
