// Package kv implements the execution record store on NATS JetStream
// key-value buckets.
package kv

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"

	"github.com/nats-io/nats.go/jetstream"
)

// maxCASAttempts bounds re-reads after a revision conflict.
const maxCASAttempts = 5

// Bucket provides typed access to a NATS KV bucket.
type Bucket struct {
	kv jetstream.KeyValue
}

// NewBucket wraps a NATS KV bucket.
func NewBucket(kv jetstream.KeyValue) *Bucket {
	return &Bucket{kv: kv}
}

// Get retrieves a value and its revision.
func (b *Bucket) Get(ctx context.Context, key string) ([]byte, uint64, error) {
	entry, err := b.kv.Get(ctx, key)
	if err != nil {
		return nil, 0, err
	}
	return entry.Value(), entry.Revision(), nil
}

// Put stores a value at key.
func (b *Bucket) Put(ctx context.Context, key string, value []byte) (uint64, error) {
	return b.kv.Put(ctx, key, value)
}

// Create stores a value at key only if it doesn't already exist.
// Returns jetstream.ErrKeyExists if the key already exists.
func (b *Bucket) Create(ctx context.Context, key string, value []byte) (uint64, error) {
	return b.kv.Create(ctx, key, value)
}

// Update stores a value at key only if the revision matches.
func (b *Bucket) Update(ctx context.Context, key string, value []byte, revision uint64) (uint64, error) {
	return b.kv.Update(ctx, key, value, revision)
}

// Delete removes a key. A non-zero revision makes the delete conditional.
func (b *Bucket) Delete(ctx context.Context, key string, revision uint64) error {
	if revision > 0 {
		return b.kv.Delete(ctx, key, jetstream.LastRevision(revision))
	}
	return b.kv.Delete(ctx, key)
}

// GetJSON retrieves and unmarshals a JSON value.
func (b *Bucket) GetJSON(ctx context.Context, key string, v any) (uint64, error) {
	data, rev, err := b.Get(ctx, key)
	if err != nil {
		return 0, err
	}
	if err := json.Unmarshal(data, v); err != nil {
		return 0, fmt.Errorf("unmarshal key %s: %w", key, err)
	}
	return rev, nil
}

// CreateJSON marshals v and creates key.
func (b *Bucket) CreateJSON(ctx context.Context, key string, v any) (uint64, error) {
	data, err := json.Marshal(v)
	if err != nil {
		return 0, fmt.Errorf("marshal key %s: %w", key, err)
	}
	return b.Create(ctx, key, data)
}

// PutJSON marshals and stores a JSON value.
func (b *Bucket) PutJSON(ctx context.Context, key string, v any) (uint64, error) {
	data, err := json.Marshal(v)
	if err != nil {
		return 0, fmt.Errorf("marshal key %s: %w", key, err)
	}
	return b.Put(ctx, key, data)
}

// UpdateJSON performs a compare-and-swap update on an existing JSON value.
// mutate sees the freshly read value on every attempt; a non-nil error from
// mutate is returned as is and nothing is written. Revision conflicts are
// retried a bounded number of times.
func (b *Bucket) UpdateJSON(ctx context.Context, key string, target any, mutate func() error) (uint64, error) {
	for i := 0; i < maxCASAttempts; i++ {
		rev, err := b.GetJSON(ctx, key, target)
		if err != nil {
			return 0, err
		}
		if err := mutate(); err != nil {
			return 0, err
		}
		data, err := json.Marshal(target)
		if err != nil {
			return 0, fmt.Errorf("marshal key %s: %w", key, err)
		}
		newRev, err := b.Update(ctx, key, data, rev)
		if err == nil {
			return newRev, nil
		}
		if !isRevisionConflict(err) {
			return 0, err
		}
	}
	return 0, fmt.Errorf("update key %s: revision conflict persisted after %d attempts", key, maxCASAttempts)
}

// Entry is one key read by Scan.
type Entry struct {
	Key      string
	Value    []byte
	Revision uint64
}

// Scan returns the current entries whose keys match the subject pattern,
// for example "exec.abc.*". Deleted keys are skipped.
func (b *Bucket) Scan(ctx context.Context, pattern string) ([]Entry, error) {
	w, err := b.kv.Watch(ctx, pattern, jetstream.IgnoreDeletes())
	if err != nil {
		return nil, err
	}
	defer w.Stop()

	var out []Entry
	for {
		select {
		case <-ctx.Done():
			return nil, ctx.Err()
		case e, ok := <-w.Updates():
			if !ok {
				return out, nil
			}
			// A nil entry marks the end of the initial values.
			if e == nil {
				return out, nil
			}
			out = append(out, Entry{Key: e.Key(), Value: e.Value(), Revision: e.Revision()})
		}
	}
}

func isNotFound(err error) bool {
	return errors.Is(err, jetstream.ErrKeyNotFound) || errors.Is(err, jetstream.ErrKeyDeleted)
}

func isRevisionConflict(err error) bool {
	if errors.Is(err, jetstream.ErrKeyExists) {
		return true
	}
	var apiErr *jetstream.APIError
	return errors.As(err, &apiErr) && apiErr.ErrorCode == jetstream.JSErrCodeStreamWrongLastSequence
}
