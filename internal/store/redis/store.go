// Package redis implements core.Store on Redis. Records are JSON strings,
// buckets and jobs are indexed by sorted sets, and resolved records expire
// natively through EXPIREAT.
//
// Usage:
//
//	client := goredis.NewClient(&goredis.Options{Addr: "localhost:6379"})
//	s := redisstore.New(client)
//	if err := s.Ping(ctx); err != nil { ... }
package redis

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"time"

	goredis "github.com/redis/go-redis/v9"

	"github.com/dw2kim/job-scheduler/internal/core"
)

var _ core.Store = (*Store)(nil)

// maxTxAttempts bounds optimistic retries of a watched transaction.
const maxTxAttempts = 8

// putIfAbsent claims the idempotency key and writes the record and both
// indexes in one step. It returns 0 when the key or record already exists.
var putIfAbsent = goredis.NewScript(`
if redis.call('EXISTS', KEYS[1]) == 1 or redis.call('EXISTS', KEYS[2]) == 1 then
	return 0
end
redis.call('SET', KEYS[1], ARGV[1])
redis.call('SET', KEYS[2], ARGV[2])
redis.call('ZADD', KEYS[3], 0, ARGV[3])
redis.call('ZADD', KEYS[4], 0, ARGV[1])
return 1
`)

// Option configures the Store.
type Option func(*Store)

// WithLogger sets a custom logger.
func WithLogger(l *slog.Logger) Option {
	return func(s *Store) { s.logger = l }
}

// Store implements core.Store backed by Redis.
type Store struct {
	client goredis.UniversalClient
	logger *slog.Logger
}

// New creates a Redis-backed store. The caller owns the client lifecycle.
func New(client goredis.UniversalClient, opts ...Option) *Store {
	s := &Store{client: client, logger: slog.Default()}
	for _, o := range opts {
		o(s)
	}
	return s
}

// Ping verifies the Redis connection is alive.
func (s *Store) Ping(ctx context.Context) error {
	return s.client.Ping(ctx).Err()
}

// Get returns the record under key.
func (s *Store) Get(ctx context.Context, key core.RecordKey) (*core.Record, error) {
	raw, err := s.client.Get(ctx, recordKey(key)).Bytes()
	if err != nil {
		if errors.Is(err, goredis.Nil) {
			return nil, core.ErrNotFound
		}
		return nil, fmt.Errorf("redis: get %s: %w", key, err)
	}
	return decodeRecord(raw)
}

// FindByJobID returns the job's records oldest first.
func (s *Store) FindByJobID(ctx context.Context, jobID string) ([]*core.Record, error) {
	refs, err := s.client.ZRange(ctx, jobKey(jobID), 0, -1).Result()
	if err != nil {
		return nil, fmt.Errorf("redis: list job %s: %w", jobID, err)
	}
	keys := make([]core.RecordKey, 0, len(refs))
	for _, r := range refs {
		if k, ok := parseRef(r); ok {
			keys = append(keys, k)
		}
	}
	recs, missing, err := s.load(ctx, keys)
	if err != nil {
		return nil, err
	}
	if len(missing) > 0 {
		s.prune(ctx, jobKey(jobID), refsOf(missing))
	}
	if len(recs) == 0 {
		return nil, core.ErrNotFound
	}
	return recs, nil
}

// FindByIdempotencyKey returns the record created under key.
func (s *Store) FindByIdempotencyKey(ctx context.Context, key string) (*core.Record, error) {
	r, err := s.client.Get(ctx, idempotencyKey(key)).Result()
	if err != nil {
		if errors.Is(err, goredis.Nil) {
			return nil, core.ErrNotFound
		}
		return nil, fmt.Errorf("redis: lookup idempotency key: %w", err)
	}
	rk, ok := parseRef(r)
	if !ok {
		return nil, fmt.Errorf("redis: malformed idempotency ref %q", r)
	}
	return s.Get(ctx, rk)
}

// ListByTimeBucket returns the bucket's records ordered by execution key.
func (s *Store) ListByTimeBucket(ctx context.Context, bucket string, status core.Status) ([]*core.Record, error) {
	execKeys, err := s.client.ZRange(ctx, bucketKey(bucket), 0, -1).Result()
	if err != nil {
		return nil, fmt.Errorf("redis: list bucket %s: %w", bucket, err)
	}
	keys := make([]core.RecordKey, len(execKeys))
	for i, ek := range execKeys {
		keys[i] = core.RecordKey{TimeBucket: bucket, ExecutionKey: ek}
	}
	recs, missing, err := s.load(ctx, keys)
	if err != nil {
		return nil, err
	}
	if len(missing) > 0 {
		members := make([]string, len(missing))
		for i, k := range missing {
			members[i] = k.ExecutionKey
		}
		s.prune(ctx, bucketKey(bucket), members)
	}
	if status == "" {
		return recs, nil
	}
	out := recs[:0]
	for _, r := range recs {
		if r.Status == status {
			out = append(out, r)
		}
	}
	return out, nil
}

// PutIfAbsent stores rec unless its idempotency key or primary key is taken.
func (s *Store) PutIfAbsent(ctx context.Context, rec *core.Record) error {
	data, err := json.Marshal(rec)
	if err != nil {
		return fmt.Errorf("redis: marshal record: %w", err)
	}
	key := rec.Key()
	keys := []string{
		idempotencyKey(rec.IdempotencyKey),
		recordKey(key),
		bucketKey(rec.TimeBucket),
		jobKey(rec.JobID),
	}
	created, err := putIfAbsent.Run(ctx, s.client, keys, ref(key), data, rec.ExecutionKey).Int()
	if err != nil {
		return fmt.Errorf("redis: put %s: %w", key, err)
	}
	if created == 0 {
		return core.ErrDuplicateIdempotencyKey
	}
	return nil
}

// ConditionalUpdate applies m inside a WATCH transaction on the record key.
// A concurrent write aborts the transaction and the status check reruns.
func (s *Store) ConditionalUpdate(ctx context.Context, key core.RecordKey, expected []core.Status, m core.Mutation) (*core.Record, error) {
	rk := recordKey(key)
	var updated *core.Record

	txf := func(tx *goredis.Tx) error {
		raw, err := tx.Get(ctx, rk).Bytes()
		if err != nil {
			if errors.Is(err, goredis.Nil) {
				return core.ErrNotFound
			}
			return err
		}
		rec, err := decodeRecord(raw)
		if err != nil {
			return err
		}
		if !core.Allowed(rec.Status, expected) {
			return core.ErrPreconditionFailed
		}
		m.Apply(rec)
		data, err := json.Marshal(rec)
		if err != nil {
			return err
		}

		_, err = tx.TxPipelined(ctx, func(pipe goredis.Pipeliner) error {
			pipe.Set(ctx, rk, data, goredis.KeepTTL)
			if rec.TTLEpochSeconds > 0 {
				at := time.Unix(rec.TTLEpochSeconds, 0)
				pipe.ExpireAt(ctx, rk, at)
				pipe.ExpireAt(ctx, idempotencyKey(rec.IdempotencyKey), at)
			}
			return nil
		})
		if err != nil {
			return err
		}
		updated = rec
		return nil
	}

	for attempt := 0; attempt < maxTxAttempts; attempt++ {
		err := s.client.Watch(ctx, txf, rk)
		switch {
		case err == nil:
			return updated, nil
		case errors.Is(err, goredis.TxFailedErr):
			continue
		case errors.Is(err, core.ErrNotFound), errors.Is(err, core.ErrPreconditionFailed):
			return nil, err
		default:
			return nil, fmt.Errorf("redis: update %s: %w", key, err)
		}
	}
	return nil, fmt.Errorf("redis: update %s: %w", key, goredis.TxFailedErr)
}

// load fetches keys in one MGET. Keys whose record expired are returned as
// missing.
func (s *Store) load(ctx context.Context, keys []core.RecordKey) ([]*core.Record, []core.RecordKey, error) {
	if len(keys) == 0 {
		return nil, nil, nil
	}
	names := make([]string, len(keys))
	for i, k := range keys {
		names[i] = recordKey(k)
	}
	vals, err := s.client.MGet(ctx, names...).Result()
	if err != nil {
		return nil, nil, fmt.Errorf("redis: mget records: %w", err)
	}

	var recs []*core.Record
	var missing []core.RecordKey
	for i, v := range vals {
		str, ok := v.(string)
		if !ok {
			missing = append(missing, keys[i])
			continue
		}
		rec, err := decodeRecord([]byte(str))
		if err != nil {
			return nil, nil, err
		}
		recs = append(recs, rec)
	}
	return recs, missing, nil
}

// prune drops index members whose record has expired.
func (s *Store) prune(ctx context.Context, index string, members []string) {
	args := make([]any, len(members))
	for i, m := range members {
		args[i] = m
	}
	if err := s.client.ZRem(ctx, index, args...).Err(); err != nil {
		s.logger.Warn("failed to prune index", "index", index, "error", err)
	}
}

func refsOf(keys []core.RecordKey) []string {
	out := make([]string, len(keys))
	for i, k := range keys {
		out[i] = ref(k)
	}
	return out
}

func decodeRecord(raw []byte) (*core.Record, error) {
	var rec core.Record
	if err := json.Unmarshal(raw, &rec); err != nil {
		return nil, fmt.Errorf("redis: unmarshal record: %w", err)
	}
	return &rec, nil
}
