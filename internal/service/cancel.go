package service

import (
	"context"
	"errors"

	"github.com/dw2kim/job-scheduler/internal/core"
	"github.com/dw2kim/job-scheduler/internal/metrics"
)

// CancelResult is returned by Cancel.
type CancelResult struct {
	JobID  string      `json:"jobId"`
	Status core.Status `json:"status"`
}

// Cancel moves the job's earliest execution from PENDING to CANCELLED. A job
// that was already dispatched, finished or cancelled yields a conflict error.
func (s *Service) Cancel(ctx context.Context, jobID string) (*CancelResult, error) {
	if jobID == "" {
		return nil, core.NewValidationError("jobId is required", map[string]any{"field": "jobId"})
	}

	records, err := s.store.FindByJobID(ctx, jobID)
	if err != nil {
		if errors.Is(err, core.ErrNotFound) {
			s.metrics.JobCancelled(metrics.CancelOutcomeNotFound)
			return nil, core.NewNotFoundError("job", jobID)
		}
		return nil, core.WrapInternal("find job", err)
	}
	target := records[0]

	now := s.clock()
	_, err = core.Cancel.Apply(ctx, s.store, target.Key(), now, s.retention, nil)
	switch {
	case err == nil:
	case errors.Is(err, core.ErrPreconditionFailed):
		s.metrics.PreconditionFailed(core.Cancel.Name)
		s.metrics.JobCancelled(metrics.CancelOutcomeConflict)
		current := target.Status
		if latest, gerr := s.store.Get(ctx, target.Key()); gerr == nil {
			current = latest.Status
		}
		return nil, core.NewConflictError("job already running or finished", map[string]any{
			"job_id": jobID,
			"status": string(current),
		})
	case errors.Is(err, core.ErrNotFound):
		// Expired between lookup and write.
		s.metrics.JobCancelled(metrics.CancelOutcomeNotFound)
		return nil, core.NewNotFoundError("job", jobID)
	default:
		return nil, core.WrapInternal("cancel job", err)
	}

	s.metrics.TransitionApplied(core.Cancel.Name)
	s.metrics.JobCancelled(metrics.CancelOutcomeCancelled)
	s.logger.Info("job cancelled", "job_id", jobID, "execution_key", target.ExecutionKey)
	s.events.Publish(ctx, core.Event{
		Type:         core.EventJobCancelled,
		JobID:        jobID,
		ExecutionKey: target.ExecutionKey,
		Status:       core.StatusCancelled,
		At:           core.FormatTime(now),
	})
	return &CancelResult{JobID: jobID, Status: core.StatusCancelled}, nil
}
