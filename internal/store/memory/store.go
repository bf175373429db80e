// Package memory implements core.Store in process memory. It is safe for
// concurrent use and intended for tests and single-process development.
package memory

import (
	"context"
	"sort"
	"sync"
	"time"

	"github.com/dw2kim/job-scheduler/internal/core"
)

var (
	_ core.Store   = (*Store)(nil)
	_ core.Sweeper = (*Store)(nil)
)

// Store keeps execution records in maps guarded by one mutex.
type Store struct {
	mu sync.RWMutex

	records     map[core.RecordKey]*core.Record
	idempotency map[string]core.RecordKey
	jobs        map[string][]core.RecordKey
}

// New returns an empty Store.
func New() *Store {
	return &Store{
		records:     make(map[core.RecordKey]*core.Record),
		idempotency: make(map[string]core.RecordKey),
		jobs:        make(map[string][]core.RecordKey),
	}
}

// Get returns a copy of the record under key.
func (s *Store) Get(_ context.Context, key core.RecordKey) (*core.Record, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	r, ok := s.records[key]
	if !ok {
		return nil, core.ErrNotFound
	}
	return r.Clone(), nil
}

// FindByJobID returns the job's records ordered by execution key.
func (s *Store) FindByJobID(_ context.Context, jobID string) ([]*core.Record, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	var out []*core.Record
	for _, key := range s.jobs[jobID] {
		if r, ok := s.records[key]; ok {
			out = append(out, r.Clone())
		}
	}
	if len(out) == 0 {
		return nil, core.ErrNotFound
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ExecutionKey < out[j].ExecutionKey })
	return out, nil
}

// FindByIdempotencyKey returns the record created under key.
func (s *Store) FindByIdempotencyKey(_ context.Context, key string) (*core.Record, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	rk, ok := s.idempotency[key]
	if !ok {
		return nil, core.ErrNotFound
	}
	r, ok := s.records[rk]
	if !ok {
		return nil, core.ErrNotFound
	}
	return r.Clone(), nil
}

// ListByTimeBucket returns the bucket's records ordered by execution key.
func (s *Store) ListByTimeBucket(_ context.Context, bucket string, status core.Status) ([]*core.Record, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	var out []*core.Record
	for key, r := range s.records {
		if key.TimeBucket != bucket {
			continue
		}
		if status != "" && r.Status != status {
			continue
		}
		out = append(out, r.Clone())
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ExecutionKey < out[j].ExecutionKey })
	return out, nil
}

// PutIfAbsent stores rec unless its idempotency key or primary key is taken.
func (s *Store) PutIfAbsent(_ context.Context, rec *core.Record) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if _, ok := s.idempotency[rec.IdempotencyKey]; ok {
		return core.ErrDuplicateIdempotencyKey
	}
	key := rec.Key()
	if _, ok := s.records[key]; ok {
		return core.ErrDuplicateIdempotencyKey
	}

	s.records[key] = rec.Clone()
	s.idempotency[rec.IdempotencyKey] = key
	s.jobs[rec.JobID] = append(s.jobs[rec.JobID], key)
	return nil
}

// ConditionalUpdate applies m when the stored status is one of expected.
func (s *Store) ConditionalUpdate(_ context.Context, key core.RecordKey, expected []core.Status, m core.Mutation) (*core.Record, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	r, ok := s.records[key]
	if !ok {
		return nil, core.ErrNotFound
	}
	if !core.Allowed(r.Status, expected) {
		return nil, core.ErrPreconditionFailed
	}
	m.Apply(r)
	return r.Clone(), nil
}

// Sweep deletes records whose expiry marker has passed.
func (s *Store) Sweep(_ context.Context, now time.Time) (int, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	cutoff := now.Unix()
	removed := 0
	for key, r := range s.records {
		if r.TTLEpochSeconds == 0 || r.TTLEpochSeconds > cutoff {
			continue
		}
		delete(s.records, key)
		if s.idempotency[r.IdempotencyKey] == key {
			delete(s.idempotency, r.IdempotencyKey)
		}
		s.jobs[r.JobID] = removeKey(s.jobs[r.JobID], key)
		if len(s.jobs[r.JobID]) == 0 {
			delete(s.jobs, r.JobID)
		}
		removed++
	}
	return removed, nil
}

// Len returns the number of stored records.
func (s *Store) Len() int {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return len(s.records)
}

func removeKey(keys []core.RecordKey, key core.RecordKey) []core.RecordKey {
	out := keys[:0]
	for _, k := range keys {
		if k != key {
			out = append(out, k)
		}
	}
	return out
}
