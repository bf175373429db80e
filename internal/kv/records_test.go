package kv

import (
	"context"
	"errors"
	"os"
	"regexp"
	"testing"
	"time"

	"github.com/nats-io/nats.go"
	"github.com/nats-io/nats.go/jetstream"

	"github.com/dw2kim/job-scheduler/internal/core"
	"github.com/dw2kim/job-scheduler/internal/service"
	"github.com/dw2kim/job-scheduler/internal/store/storetest"
)

var validKey = regexp.MustCompile(`^[-/_=.a-zA-Z0-9]+$`)

func TestRecordKey_ValidKVKey(t *testing.T) {
	k := core.RecordKey{TimeBucket: "2026-03-14T09:30", ExecutionKey: "2026-03-14T09:30:15.250Z#0195f1c2-aaaa-7bbb-8ccc-123456789abc"}
	got := recordKey(k)
	if !validKey.MatchString(got) {
		t.Errorf("recordKey() = %q is not a valid KV key", got)
	}
	if got2 := recordKey(k); got2 != got {
		t.Error("recordKey() is not deterministic")
	}
	if jk := jobKey("job with spaces/and:colons", k.ExecutionKey); !validKey.MatchString(jk) {
		t.Errorf("jobKey() = %q is not a valid KV key", jk)
	}
}

func TestIsRevisionConflict(t *testing.T) {
	if !isRevisionConflict(jetstream.ErrKeyExists) {
		t.Error("ErrKeyExists should be a conflict")
	}
	apiErr := &jetstream.APIError{Code: 400, ErrorCode: jetstream.JSErrCodeStreamWrongLastSequence}
	if !isRevisionConflict(apiErr) {
		t.Error("wrong last sequence should be a conflict")
	}
	if isRevisionConflict(errors.New("timeout")) {
		t.Error("plain error is not a conflict")
	}
}

func newIntegrationStore(t *testing.T) *ExecutionStore {
	t.Helper()

	natsURL := os.Getenv("NATS_URL")
	if natsURL == "" {
		natsURL = "nats://localhost:4222"
	}
	nc, err := nats.Connect(natsURL, nats.Timeout(2*time.Second))
	if err != nil {
		t.Skipf("skipping integration test; NATS unavailable at %s: %v", natsURL, err)
	}
	t.Cleanup(nc.Close)

	js, err := jetstream.New(nc)
	if err != nil {
		t.Fatalf("jetstream.New() error = %v", err)
	}
	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	store, err := Open(ctx, js, nil)
	if err != nil {
		t.Skipf("skipping integration test; JetStream unavailable: %v", err)
	}
	return store
}

func TestExecutionStoreContract(t *testing.T) {
	store := newIntegrationStore(t)
	storetest.Run(t, func(t *testing.T) core.Store { return store })
}

func TestExecutionStoreSweep(t *testing.T) {
	store := newIntegrationStore(t)
	ctx := context.Background()
	now := time.Now().UTC()

	rec := storetest.NewRecord(storetest.RandomMinute())
	if err := store.PutIfAbsent(ctx, rec); err != nil {
		t.Fatalf("PutIfAbsent() error = %v", err)
	}
	if _, err := core.Cancel.Apply(ctx, store, rec.Key(), now.Add(-8*24*time.Hour), core.DefaultRetention, nil); err != nil {
		t.Fatalf("Cancel error = %v", err)
	}

	n, err := store.Sweep(ctx, now)
	if err != nil {
		t.Fatalf("Sweep() error = %v", err)
	}
	if n < 1 {
		t.Errorf("Sweep() removed %d, want at least 1", n)
	}
	if _, err := store.Get(ctx, rec.Key()); !errors.Is(err, core.ErrNotFound) {
		t.Errorf("Get() after sweep error = %v, want ErrNotFound", err)
	}
	if _, err := store.FindByIdempotencyKey(ctx, rec.IdempotencyKey); !errors.Is(err, core.ErrNotFound) {
		t.Errorf("FindByIdempotencyKey() after sweep error = %v, want ErrNotFound", err)
	}

	// The key is free again once its record expired.
	again := storetest.NewRecord(storetest.RandomMinute())
	again.IdempotencyKey = rec.IdempotencyKey
	if err := store.PutIfAbsent(ctx, again); err != nil {
		t.Fatalf("PutIfAbsent() after sweep error = %v", err)
	}
}

func TestCreateJob_LosingClaimReturnsInFlightWinner(t *testing.T) {
	store := newIntegrationStore(t)
	ctx := context.Background()

	runAt := storetest.RandomMinute().Add(15 * time.Second)
	winner := storetest.NewRecord(runAt)

	// The winner holds the key but has not written its record yet.
	if _, claimed, err := store.idem.Claim(ctx, winner.IdempotencyKey, winner.Key(), func(core.RecordKey) (bool, error) {
		return false, nil
	}); err != nil || !claimed {
		t.Fatalf("Claim() claimed=%v error=%v", claimed, err)
	}

	done := make(chan error, 1)
	go func() {
		time.Sleep(150 * time.Millisecond)
		ref := recordRef{TimeBucket: winner.TimeBucket, ExecutionKey: winner.ExecutionKey}
		if _, err := store.jobs.PutJSON(ctx, jobKey(winner.JobID, winner.ExecutionKey), ref); err != nil {
			done <- err
			return
		}
		_, err := store.records.CreateJSON(ctx, recordKey(winner.Key()), winner)
		done <- err
	}()

	svc := service.New(store)
	res, err := svc.CreateJob(ctx, &core.CreateJobRequest{
		RunAt:          core.FormatTime(runAt),
		Task:           "log.echo",
		IdempotencyKey: winner.IdempotencyKey,
	})
	if werr := <-done; werr != nil {
		t.Fatalf("writing winner record: %v", werr)
	}
	if err != nil {
		t.Fatalf("CreateJob() error = %v", err)
	}
	if res.JobID != winner.JobID || !res.Idempotent {
		t.Errorf("CreateJob() = %+v, want idempotent %s", res, winner.JobID)
	}
}
