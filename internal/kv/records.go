package kv

import (
	"context"
	"encoding/base64"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"sort"
	"time"

	"github.com/nats-io/nats.go/jetstream"

	"github.com/dw2kim/job-scheduler/internal/core"
)

// KV bucket names.
const (
	BucketExecutions  = "sched-executions"
	BucketIdempotency = "sched-idempotency"
	BucketJobs        = "sched-jobs"
)

const recordPrefix = "exec"

// DefaultClaimGrace is how long an idempotency claim without a record blocks
// other creators.
const DefaultClaimGrace = time.Minute

var (
	_ core.Store   = (*ExecutionStore)(nil)
	_ core.Sweeper = (*ExecutionStore)(nil)
)

// EnsureBuckets creates or updates the KV buckets the store needs.
func EnsureBuckets(ctx context.Context, js jetstream.JetStream) error {
	for _, name := range []string{BucketExecutions, BucketIdempotency, BucketJobs} {
		_, err := js.CreateOrUpdateKeyValue(ctx, jetstream.KeyValueConfig{
			Bucket:  name,
			Storage: jetstream.FileStorage,
			History: 1,
		})
		if err != nil {
			return fmt.Errorf("creating KV bucket %s: %w", name, err)
		}
	}
	return nil
}

// ExecutionStore implements core.Store over three KV buckets: the records,
// an idempotency index and a per-job index. Records carry an expiry marker
// that Sweep enforces.
type ExecutionStore struct {
	records *Bucket
	idem    *IdempotencyIndex
	jobs    *Bucket
	logger  *slog.Logger
}

// Open ensures the buckets exist and returns a store over them.
func Open(ctx context.Context, js jetstream.JetStream, logger *slog.Logger) (*ExecutionStore, error) {
	if err := EnsureBuckets(ctx, js); err != nil {
		return nil, err
	}
	openKV := func(name string) (jetstream.KeyValue, error) {
		bucket, err := js.KeyValue(ctx, name)
		if err != nil {
			return nil, fmt.Errorf("opening KV bucket %s: %w", name, err)
		}
		return bucket, nil
	}
	records, err := openKV(BucketExecutions)
	if err != nil {
		return nil, err
	}
	idem, err := openKV(BucketIdempotency)
	if err != nil {
		return nil, err
	}
	jobs, err := openKV(BucketJobs)
	if err != nil {
		return nil, err
	}
	return NewExecutionStore(records, idem, jobs, logger), nil
}

// NewExecutionStore wraps already opened buckets.
func NewExecutionStore(records, idem, jobs jetstream.KeyValue, logger *slog.Logger) *ExecutionStore {
	if logger == nil {
		logger = slog.Default()
	}
	return &ExecutionStore{
		records: NewBucket(records),
		idem:    NewIdempotencyIndex(idem, DefaultClaimGrace),
		jobs:    NewBucket(jobs),
		logger:  logger,
	}
}

func (s *ExecutionStore) Get(ctx context.Context, key core.RecordKey) (*core.Record, error) {
	var rec core.Record
	if _, err := s.records.GetJSON(ctx, recordKey(key), &rec); err != nil {
		if isNotFound(err) {
			return nil, core.ErrNotFound
		}
		return nil, fmt.Errorf("get %s: %w", key, err)
	}
	return &rec, nil
}

func (s *ExecutionStore) FindByJobID(ctx context.Context, jobID string) ([]*core.Record, error) {
	entries, err := s.jobs.Scan(ctx, encode(jobID)+".*")
	if err != nil {
		return nil, fmt.Errorf("scan job %s: %w", jobID, err)
	}

	var out []*core.Record
	for _, e := range entries {
		var ref recordRef
		if err := json.Unmarshal(e.Value, &ref); err != nil {
			return nil, fmt.Errorf("decode job ref %s: %w", e.Key, err)
		}
		rec, err := s.Get(ctx, ref.key())
		if errors.Is(err, core.ErrNotFound) {
			continue
		}
		if err != nil {
			return nil, err
		}
		out = append(out, rec)
	}
	if len(out) == 0 {
		return nil, core.ErrNotFound
	}
	sortRecords(out)
	return out, nil
}

func (s *ExecutionStore) FindByIdempotencyKey(ctx context.Context, key string) (*core.Record, error) {
	ref, err := s.idem.Lookup(ctx, key)
	if err != nil {
		if isNotFound(err) {
			return nil, core.ErrNotFound
		}
		return nil, fmt.Errorf("lookup idempotency key: %w", err)
	}
	return s.Get(ctx, ref)
}

func (s *ExecutionStore) ListByTimeBucket(ctx context.Context, bucket string, status core.Status) ([]*core.Record, error) {
	entries, err := s.records.Scan(ctx, recordPrefix+"."+encode(bucket)+".*")
	if err != nil {
		return nil, fmt.Errorf("scan bucket %s: %w", bucket, err)
	}
	out := make([]*core.Record, 0, len(entries))
	for _, e := range entries {
		rec, err := decodeRecord(e)
		if err != nil {
			return nil, err
		}
		if status != "" && rec.Status != status {
			continue
		}
		out = append(out, rec)
	}
	sortRecords(out)
	return out, nil
}

// PutIfAbsent claims the idempotency key, indexes the job and then creates
// the record. An index entry without a record is ignored by readers.
func (s *ExecutionStore) PutIfAbsent(ctx context.Context, rec *core.Record) error {
	key := rec.Key()
	_, claimed, err := s.idem.Claim(ctx, rec.IdempotencyKey, key, func(k core.RecordKey) (bool, error) {
		_, err := s.Get(ctx, k)
		if errors.Is(err, core.ErrNotFound) {
			return false, nil
		}
		return err == nil, err
	})
	if err != nil {
		return fmt.Errorf("claim idempotency key: %w", err)
	}
	if !claimed {
		return core.ErrDuplicateIdempotencyKey
	}

	ref := recordRef{TimeBucket: key.TimeBucket, ExecutionKey: key.ExecutionKey}
	if _, err := s.jobs.PutJSON(ctx, jobKey(rec.JobID, rec.ExecutionKey), ref); err != nil {
		_ = s.idem.Release(ctx, rec.IdempotencyKey, key)
		return fmt.Errorf("index job %s: %w", rec.JobID, err)
	}
	if _, err := s.records.CreateJSON(ctx, recordKey(key), rec); err != nil {
		_ = s.idem.Release(ctx, rec.IdempotencyKey, key)
		if errors.Is(err, jetstream.ErrKeyExists) {
			return fmt.Errorf("record %s already exists: %w", key, err)
		}
		return fmt.Errorf("create %s: %w", key, err)
	}
	return nil
}

func (s *ExecutionStore) ConditionalUpdate(ctx context.Context, key core.RecordKey, expected []core.Status, m core.Mutation) (*core.Record, error) {
	var rec core.Record
	_, err := s.records.UpdateJSON(ctx, recordKey(key), &rec, func() error {
		if !core.Allowed(rec.Status, expected) {
			return core.ErrPreconditionFailed
		}
		m.Apply(&rec)
		return nil
	})
	switch {
	case err == nil:
		return &rec, nil
	case errors.Is(err, core.ErrPreconditionFailed):
		return nil, err
	case isNotFound(err):
		return nil, core.ErrNotFound
	default:
		return nil, fmt.Errorf("update %s: %w", key, err)
	}
}

// Sweep deletes records whose expiry marker has passed, along with their
// index entries.
func (s *ExecutionStore) Sweep(ctx context.Context, now time.Time) (int, error) {
	entries, err := s.records.Scan(ctx, recordPrefix+".>")
	if err != nil {
		return 0, fmt.Errorf("scan records: %w", err)
	}
	cutoff := now.Unix()
	removed := 0
	for _, e := range entries {
		rec, err := decodeRecord(e)
		if err != nil {
			s.logger.Warn("skipping undecodable record", "key", e.Key, "error", err)
			continue
		}
		if rec.TTLEpochSeconds == 0 || rec.TTLEpochSeconds > cutoff {
			continue
		}
		if err := s.records.Delete(ctx, e.Key, e.Revision); err != nil {
			s.logger.Warn("sweep delete failed", "key", e.Key, "error", err)
			continue
		}
		if err := s.jobs.Delete(ctx, jobKey(rec.JobID, rec.ExecutionKey), 0); err != nil && !isNotFound(err) {
			s.logger.Warn("sweep job index delete failed", "job_id", rec.JobID, "error", err)
		}
		if err := s.idem.Release(ctx, rec.IdempotencyKey, rec.Key()); err != nil {
			s.logger.Warn("sweep idempotency release failed", "job_id", rec.JobID, "error", err)
		}
		removed++
	}
	return removed, nil
}

func decodeRecord(e Entry) (*core.Record, error) {
	var rec core.Record
	if err := json.Unmarshal(e.Value, &rec); err != nil {
		return nil, fmt.Errorf("decode record %s: %w", e.Key, err)
	}
	return &rec, nil
}

func sortRecords(recs []*core.Record) {
	sort.Slice(recs, func(i, j int) bool {
		if recs[i].ExecutionKey != recs[j].ExecutionKey {
			return recs[i].ExecutionKey < recs[j].ExecutionKey
		}
		return recs[i].TimeBucket < recs[j].TimeBucket
	})
}

// encode maps arbitrary text onto the KV key alphabet.
func encode(s string) string {
	return base64.RawURLEncoding.EncodeToString([]byte(s))
}

func recordKey(k core.RecordKey) string {
	return recordPrefix + "." + encode(k.TimeBucket) + "." + encode(k.ExecutionKey)
}

func jobKey(jobID, executionKey string) string {
	return encode(jobID) + "." + encode(executionKey)
}

func marshalRef(r recordRef) ([]byte, error) {
	return json.Marshal(r)
}
