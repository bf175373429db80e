package kv

import (
	"context"
	"errors"
	"time"

	"github.com/nats-io/nats.go/jetstream"

	"github.com/dw2kim/job-scheduler/internal/core"
)

// recordRef points from an index entry to an execution record.
type recordRef struct {
	TimeBucket   string `json:"timeBucket"`
	ExecutionKey string `json:"executionKey"`
	ClaimedAt    int64  `json:"claimedAt,omitempty"`
}

func (r recordRef) key() core.RecordKey {
	return core.RecordKey{TimeBucket: r.TimeBucket, ExecutionKey: r.ExecutionKey}
}

// IdempotencyIndex claims idempotency keys via KV Create.
type IdempotencyIndex struct {
	bucket *Bucket
	// grace is how long a claim whose record is missing is still considered
	// in progress.
	grace time.Duration
	now   func() time.Time
}

// NewIdempotencyIndex creates a new IdempotencyIndex.
func NewIdempotencyIndex(kv jetstream.KeyValue, grace time.Duration) *IdempotencyIndex {
	return &IdempotencyIndex{bucket: NewBucket(kv), grace: grace, now: time.Now}
}

// Claim tries to bind key to ref. It returns the existing binding and false
// when the key is already held, and the revision of its own claim otherwise.
// A claim older than the grace period whose record no longer exists is taken
// over, exactly one concurrent caller winning.
func (x *IdempotencyIndex) Claim(ctx context.Context, key string, ref core.RecordKey, recordExists func(core.RecordKey) (bool, error)) (core.RecordKey, bool, error) {
	token := encode(key)
	mine := recordRef{TimeBucket: ref.TimeBucket, ExecutionKey: ref.ExecutionKey, ClaimedAt: x.now().Unix()}

	for i := 0; i < maxCASAttempts; i++ {
		_, err := x.bucket.CreateJSON(ctx, token, mine)
		if err == nil {
			return ref, true, nil
		}
		if !errors.Is(err, jetstream.ErrKeyExists) {
			return core.RecordKey{}, false, err
		}

		var held recordRef
		rev, err := x.bucket.GetJSON(ctx, token, &held)
		if isNotFound(err) {
			// Released between Create and Get.
			continue
		}
		if err != nil {
			return core.RecordKey{}, false, err
		}

		exists, err := recordExists(held.key())
		if err != nil {
			return core.RecordKey{}, false, err
		}
		if exists || x.now().Sub(time.Unix(held.ClaimedAt, 0)) < x.grace {
			return held.key(), false, nil
		}

		data, err := marshalRef(mine)
		if err != nil {
			return core.RecordKey{}, false, err
		}
		if _, err := x.bucket.Update(ctx, token, data, rev); err == nil {
			return ref, true, nil
		} else if !isRevisionConflict(err) {
			return core.RecordKey{}, false, err
		}
	}
	return core.RecordKey{}, false, errors.New("idempotency claim: revision conflict persisted")
}

// Lookup returns the record key bound to key.
func (x *IdempotencyIndex) Lookup(ctx context.Context, key string) (core.RecordKey, error) {
	var ref recordRef
	if _, err := x.bucket.GetJSON(ctx, encode(key), &ref); err != nil {
		return core.RecordKey{}, err
	}
	return ref.key(), nil
}

// Release removes key if it still points at ref.
func (x *IdempotencyIndex) Release(ctx context.Context, key string, ref core.RecordKey) error {
	token := encode(key)
	var held recordRef
	rev, err := x.bucket.GetJSON(ctx, token, &held)
	if err != nil {
		if isNotFound(err) {
			return nil
		}
		return err
	}
	if held.key() != ref {
		return nil
	}
	return x.bucket.Delete(ctx, token, rev)
}
