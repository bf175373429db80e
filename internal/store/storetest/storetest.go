// Package storetest holds the behavioral suite every core.Store adapter must
// pass. Tests create their own buckets and keys so the suite can run against
// shared backends.
package storetest

import (
	"context"
	"encoding/json"
	"errors"
	"math/rand/v2"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/dw2kim/job-scheduler/internal/core"
)

// Factory returns a store for one test.
type Factory func(t *testing.T) core.Store

// Run executes the suite against stores built by newStore.
func Run(t *testing.T, newStore Factory) {
	t.Run("PutIfAbsentAndGet", func(t *testing.T) { testPutIfAbsentAndGet(t, newStore(t)) })
	t.Run("DuplicateIdempotencyKey", func(t *testing.T) { testDuplicateIdempotencyKey(t, newStore(t)) })
	t.Run("FindByJobID", func(t *testing.T) { testFindByJobID(t, newStore(t)) })
	t.Run("ListByTimeBucket", func(t *testing.T) { testListByTimeBucket(t, newStore(t)) })
	t.Run("ConditionalUpdate", func(t *testing.T) { testConditionalUpdate(t, newStore(t)) })
	t.Run("ConditionalUpdateNotFound", func(t *testing.T) { testConditionalUpdateNotFound(t, newStore(t)) })
	t.Run("ConcurrentTransitionsHaveOneWinner", func(t *testing.T) { testConcurrentWinner(t, newStore(t)) })
	t.Run("ConcurrentPutIfAbsent", func(t *testing.T) { testConcurrentPutIfAbsent(t, newStore(t)) })
}

// NewRecord builds a PENDING record running at runAt.
func NewRecord(runAt time.Time) *core.Record {
	jobID := core.NewJobID()
	return &core.Record{
		TimeBucket:     core.TimeBucket(runAt),
		ExecutionKey:   core.ExecutionKey(runAt, jobID),
		JobID:          jobID,
		IdempotencyKey: "idem-" + jobID,
		Task:           "log.echo",
		Params:         json.RawMessage(`{"text":"hi"}`),
		Status:         core.StatusPending,
		CreatedAt:      core.NowFormatted(),
	}
}

// RandomMinute returns a minute far in the future that no other test uses.
func RandomMinute() time.Time {
	base := time.Date(2090, 1, 1, 0, 0, 0, 0, time.UTC)
	return base.Add(time.Duration(rand.Int64N(5_000_000)) * time.Minute)
}

func testPutIfAbsentAndGet(t *testing.T, s core.Store) {
	ctx := context.Background()
	rec := NewRecord(RandomMinute().Add(17 * time.Second))

	if err := s.PutIfAbsent(ctx, rec); err != nil {
		t.Fatalf("PutIfAbsent() error = %v", err)
	}

	got, err := s.Get(ctx, rec.Key())
	if err != nil {
		t.Fatalf("Get() error = %v", err)
	}
	if got.JobID != rec.JobID || got.Status != core.StatusPending || got.Task != rec.Task {
		t.Errorf("Get() = %+v, want %+v", got, rec)
	}
	if string(got.Params) != string(rec.Params) {
		t.Errorf("Get().Params = %s, want %s", got.Params, rec.Params)
	}

	byKey, err := s.FindByIdempotencyKey(ctx, rec.IdempotencyKey)
	if err != nil {
		t.Fatalf("FindByIdempotencyKey() error = %v", err)
	}
	if byKey.Key() != rec.Key() {
		t.Errorf("FindByIdempotencyKey() key = %v, want %v", byKey.Key(), rec.Key())
	}

	if _, err := s.Get(ctx, core.RecordKey{TimeBucket: rec.TimeBucket, ExecutionKey: "missing"}); !errors.Is(err, core.ErrNotFound) {
		t.Errorf("Get(missing) error = %v, want ErrNotFound", err)
	}
	if _, err := s.FindByIdempotencyKey(ctx, "missing-"+rec.JobID); !errors.Is(err, core.ErrNotFound) {
		t.Errorf("FindByIdempotencyKey(missing) error = %v, want ErrNotFound", err)
	}
}

func testDuplicateIdempotencyKey(t *testing.T, s core.Store) {
	ctx := context.Background()
	first := NewRecord(RandomMinute())
	if err := s.PutIfAbsent(ctx, first); err != nil {
		t.Fatalf("PutIfAbsent(first) error = %v", err)
	}

	second := NewRecord(RandomMinute())
	second.IdempotencyKey = first.IdempotencyKey
	err := s.PutIfAbsent(ctx, second)
	if !errors.Is(err, core.ErrDuplicateIdempotencyKey) {
		t.Fatalf("PutIfAbsent(second) error = %v, want ErrDuplicateIdempotencyKey", err)
	}
	if _, err := s.Get(ctx, second.Key()); !errors.Is(err, core.ErrNotFound) {
		t.Errorf("losing record was stored: Get() error = %v", err)
	}
}

func testFindByJobID(t *testing.T, s core.Store) {
	ctx := context.Background()
	rec := NewRecord(RandomMinute())
	if err := s.PutIfAbsent(ctx, rec); err != nil {
		t.Fatalf("PutIfAbsent() error = %v", err)
	}

	got, err := s.FindByJobID(ctx, rec.JobID)
	if err != nil {
		t.Fatalf("FindByJobID() error = %v", err)
	}
	if len(got) != 1 || got[0].Key() != rec.Key() {
		t.Fatalf("FindByJobID() = %+v, want one record %v", got, rec.Key())
	}

	if _, err := s.FindByJobID(ctx, core.NewJobID()); !errors.Is(err, core.ErrNotFound) {
		t.Errorf("FindByJobID(unknown) error = %v, want ErrNotFound", err)
	}
}

func testListByTimeBucket(t *testing.T, s core.Store) {
	ctx := context.Background()
	minute := RandomMinute()

	late := NewRecord(minute.Add(40 * time.Second))
	early := NewRecord(minute.Add(5 * time.Second))
	other := NewRecord(minute.Add(90 * time.Second))
	for _, r := range []*core.Record{late, early, other} {
		if err := s.PutIfAbsent(ctx, r); err != nil {
			t.Fatalf("PutIfAbsent() error = %v", err)
		}
	}
	if _, err := s.ConditionalUpdate(ctx, late.Key(), []core.Status{core.StatusPending}, core.Mutation{Status: core.StatusRunning}); err != nil {
		t.Fatalf("ConditionalUpdate() error = %v", err)
	}

	all, err := s.ListByTimeBucket(ctx, core.TimeBucket(minute), "")
	if err != nil {
		t.Fatalf("ListByTimeBucket() error = %v", err)
	}
	if len(all) != 2 {
		t.Fatalf("ListByTimeBucket() returned %d records, want 2", len(all))
	}
	if all[0].Key() != early.Key() || all[1].Key() != late.Key() {
		t.Errorf("ListByTimeBucket() order = [%s %s], want [%s %s]",
			all[0].ExecutionKey, all[1].ExecutionKey, early.ExecutionKey, late.ExecutionKey)
	}

	pending, err := s.ListByTimeBucket(ctx, core.TimeBucket(minute), core.StatusPending)
	if err != nil {
		t.Fatalf("ListByTimeBucket(PENDING) error = %v", err)
	}
	if len(pending) != 1 || pending[0].Key() != early.Key() {
		t.Errorf("ListByTimeBucket(PENDING) = %v, want only %v", pending, early.Key())
	}

	empty, err := s.ListByTimeBucket(ctx, core.TimeBucket(minute.Add(-time.Minute)), core.StatusPending)
	if err != nil {
		t.Fatalf("ListByTimeBucket(empty) error = %v", err)
	}
	if len(empty) != 0 {
		t.Errorf("ListByTimeBucket(empty) returned %d records", len(empty))
	}
}

func testConditionalUpdate(t *testing.T, s core.Store) {
	ctx := context.Background()
	rec := NewRecord(RandomMinute())
	if err := s.PutIfAbsent(ctx, rec); err != nil {
		t.Fatalf("PutIfAbsent() error = %v", err)
	}

	attempt := 2
	updated, err := s.ConditionalUpdate(ctx, rec.Key(), []core.Status{core.StatusPending}, core.Mutation{
		Status:  core.StatusRunning,
		Attempt: &attempt,
	})
	if err != nil {
		t.Fatalf("ConditionalUpdate(PENDING→RUNNING) error = %v", err)
	}
	if updated.Status != core.StatusRunning || updated.Attempt != 2 {
		t.Errorf("updated = %+v", updated)
	}

	_, err = s.ConditionalUpdate(ctx, rec.Key(), []core.Status{core.StatusPending}, core.Mutation{Status: core.StatusCancelled})
	if !errors.Is(err, core.ErrPreconditionFailed) {
		t.Fatalf("ConditionalUpdate(stale) error = %v, want ErrPreconditionFailed", err)
	}

	ttl := time.Now().Add(time.Hour).Unix()
	done, err := s.ConditionalUpdate(ctx, rec.Key(), []core.Status{core.StatusRunning}, core.Mutation{
		Status:          core.StatusSucceeded,
		TTLEpochSeconds: ttl,
	})
	if err != nil {
		t.Fatalf("ConditionalUpdate(RUNNING→SUCCEEDED) error = %v", err)
	}
	if done.TTLEpochSeconds != ttl {
		t.Errorf("TTLEpochSeconds = %d, want %d", done.TTLEpochSeconds, ttl)
	}

	got, err := s.Get(ctx, rec.Key())
	if err != nil {
		t.Fatalf("Get() error = %v", err)
	}
	if got.Status != core.StatusSucceeded || got.Attempt != 2 {
		t.Errorf("stored record = %+v", got)
	}
}

func testConditionalUpdateNotFound(t *testing.T, s core.Store) {
	ctx := context.Background()
	key := core.RecordKey{TimeBucket: core.TimeBucket(RandomMinute()), ExecutionKey: "nope#" + core.NewJobID()}
	_, err := s.ConditionalUpdate(ctx, key, []core.Status{core.StatusPending}, core.Mutation{Status: core.StatusRunning})
	if !errors.Is(err, core.ErrNotFound) {
		t.Errorf("ConditionalUpdate(missing) error = %v, want ErrNotFound", err)
	}
}

func testConcurrentWinner(t *testing.T, s core.Store) {
	ctx := context.Background()
	rec := NewRecord(RandomMinute())
	if err := s.PutIfAbsent(ctx, rec); err != nil {
		t.Fatalf("PutIfAbsent() error = %v", err)
	}

	const racers = 8
	var wins, lost atomic.Int32
	var wg sync.WaitGroup
	for i := 0; i < racers; i++ {
		target := core.StatusRunning
		if i%2 == 1 {
			target = core.StatusCancelled
		}
		wg.Add(1)
		go func() {
			defer wg.Done()
			_, err := s.ConditionalUpdate(ctx, rec.Key(), []core.Status{core.StatusPending}, core.Mutation{Status: target})
			switch {
			case err == nil:
				wins.Add(1)
			case errors.Is(err, core.ErrPreconditionFailed):
				lost.Add(1)
			default:
				t.Errorf("ConditionalUpdate() unexpected error = %v", err)
			}
		}()
	}
	wg.Wait()

	if wins.Load() != 1 {
		t.Errorf("winners = %d, want exactly 1", wins.Load())
	}
	if lost.Load() != racers-1 {
		t.Errorf("losers = %d, want %d", lost.Load(), racers-1)
	}
}

func testConcurrentPutIfAbsent(t *testing.T, s core.Store) {
	ctx := context.Background()
	idem := "race-" + core.NewJobID()

	const racers = 6
	var created atomic.Int32
	var wg sync.WaitGroup
	for i := 0; i < racers; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			rec := NewRecord(RandomMinute())
			rec.IdempotencyKey = idem
			err := s.PutIfAbsent(ctx, rec)
			switch {
			case err == nil:
				created.Add(1)
			case errors.Is(err, core.ErrDuplicateIdempotencyKey):
			default:
				t.Errorf("PutIfAbsent() unexpected error = %v", err)
			}
		}()
	}
	wg.Wait()

	if created.Load() != 1 {
		t.Errorf("created = %d, want exactly 1", created.Load())
	}
	if _, err := s.FindByIdempotencyKey(ctx, idem); err != nil {
		t.Errorf("FindByIdempotencyKey() error = %v", err)
	}
}
