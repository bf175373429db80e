package service

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/dw2kim/job-scheduler/internal/core"
)

// CreateJobResult is returned by CreateJob.
type CreateJobResult struct {
	JobID      string      `json:"jobId"`
	Status     core.Status `json:"status"`
	Idempotent bool        `json:"idempotent"`
}

// CreateJob registers a job to run at req.RunAt. A request whose idempotency
// key was seen before returns the existing job with Idempotent set and
// writes nothing.
func (s *Service) CreateJob(ctx context.Context, req *core.CreateJobRequest) (*CreateJobResult, error) {
	now := s.clock()
	runAt, verr := core.ValidateCreateJobRequest(req, now)
	if verr != nil {
		return nil, verr
	}

	existing, err := s.store.FindByIdempotencyKey(ctx, req.IdempotencyKey)
	switch {
	case err == nil:
		s.metrics.JobCreated(true)
		return idempotentResult(existing), nil
	case !errors.Is(err, core.ErrNotFound):
		return nil, core.WrapInternal("lookup idempotency key", err)
	}

	jobID := s.newID()
	rec := &core.Record{
		TimeBucket:     core.TimeBucket(runAt),
		ExecutionKey:   core.ExecutionKey(runAt, jobID),
		JobID:          jobID,
		IdempotencyKey: req.IdempotencyKey,
		Task:           req.Task,
		Params:         req.Params,
		Status:         core.StatusPending,
		Attempt:        0,
		CreatedAt:      core.FormatTime(now),
		UpdatedAt:      core.FormatTime(now),
	}

	for attempt := 0; ; attempt++ {
		err := s.store.PutIfAbsent(ctx, rec)
		if err == nil {
			break
		}
		if !errors.Is(err, core.ErrDuplicateIdempotencyKey) {
			return nil, core.WrapInternal("create job", err)
		}
		// Another request with the same key won the write. Its record may
		// still be in flight.
		winner, ferr := s.awaitIdempotent(ctx, req.IdempotencyKey)
		if ferr == nil {
			s.metrics.JobCreated(true)
			return idempotentResult(winner), nil
		}
		if !errors.Is(ferr, core.ErrNotFound) || attempt+1 >= maxCreateAttempts {
			return nil, core.WrapInternal("re-read idempotency key",
				fmt.Errorf("after duplicate write: %w", ferr))
		}
		s.logger.Warn("idempotency key held without a record, retrying create",
			"idempotency_key", req.IdempotencyKey, "attempt", attempt+1)
	}

	s.logger.Info("job created",
		"job_id", jobID,
		"task", rec.Task,
		"time_bucket", rec.TimeBucket,
		"run_at", core.FormatTime(runAt),
	)
	s.metrics.JobCreated(false)
	s.events.Publish(ctx, core.Event{
		Type:         core.EventJobCreated,
		JobID:        jobID,
		ExecutionKey: rec.ExecutionKey,
		Status:       core.StatusPending,
		At:           rec.CreatedAt,
	})
	return &CreateJobResult{JobID: jobID, Status: core.StatusPending}, nil
}

// maxCreateAttempts bounds how often CreateJob retries a write whose
// idempotency key was claimed by a request that never produced a record.
const maxCreateAttempts = 3

// claimPollInterval is the delay between re-reads in awaitIdempotent.
const claimPollInterval = 25 * time.Millisecond

// awaitIdempotent re-reads the record bound to key until it appears or the
// claim wait elapses.
func (s *Service) awaitIdempotent(ctx context.Context, key string) (*core.Record, error) {
	deadline := time.Now().Add(s.claimWait)
	for {
		rec, err := s.store.FindByIdempotencyKey(ctx, key)
		if err == nil || !errors.Is(err, core.ErrNotFound) {
			return rec, err
		}
		if !time.Now().Before(deadline) {
			return nil, err
		}
		select {
		case <-ctx.Done():
			return nil, ctx.Err()
		case <-time.After(claimPollInterval):
		}
	}
}

func idempotentResult(r *core.Record) *CreateJobResult {
	return &CreateJobResult{JobID: r.JobID, Status: r.Status, Idempotent: true}
}
