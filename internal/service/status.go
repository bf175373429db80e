package service

import (
	"context"
	"errors"

	"github.com/dw2kim/job-scheduler/internal/core"
)

// JobStatus is the aggregate view of a job.
type JobStatus struct {
	JobID      string         `json:"jobId"`
	Status     core.Status    `json:"status"`
	Executions []*core.Record `json:"executions"`
}

// GetStatus returns the job's aggregate status and its records ordered
// oldest first.
func (s *Service) GetStatus(ctx context.Context, jobID string) (*JobStatus, error) {
	if jobID == "" {
		return nil, core.NewValidationError("jobId is required", map[string]any{"field": "jobId"})
	}
	records, err := s.store.FindByJobID(ctx, jobID)
	if err != nil {
		if errors.Is(err, core.ErrNotFound) {
			return nil, core.NewNotFoundError("job", jobID)
		}
		return nil, core.WrapInternal("find job", err)
	}
	return &JobStatus{
		JobID:      jobID,
		Status:     core.AggregateStatus(records),
		Executions: records,
	}, nil
}
