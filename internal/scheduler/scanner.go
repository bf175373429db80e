// Package scheduler finds due execution records and hands them to the
// delivery queue on a cron cadence.
package scheduler

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/dw2kim/job-scheduler/internal/core"
	"github.com/dw2kim/job-scheduler/internal/metrics"
)

// ScanReport summarises one Scan.
type ScanReport struct {
	Buckets  []string      `json:"buckets"`
	Found    int           `json:"found"`
	Enqueued int           `json:"enqueued"`
	Lost     int           `json:"lost"`
	Duration time.Duration `json:"durationNs"`
}

// Scanner enqueues PENDING records of the current and upcoming minute
// buckets. It keeps no state between runs.
type Scanner struct {
	store      core.Store
	queue      core.Queue
	lookbehind int
	retention  core.Retention
	logger     *slog.Logger
	metrics    metrics.Sink
}

// ScannerOption configures a Scanner.
type ScannerOption func(*Scanner)

// WithLookbehind also scans the given number of minutes before now, picking
// up records whose bucket passed while no scan ran.
func WithLookbehind(minutes int) ScannerOption {
	return func(s *Scanner) { s.lookbehind = minutes }
}

func WithScannerLogger(l *slog.Logger) ScannerOption {
	return func(s *Scanner) { s.logger = l }
}

func WithScannerMetrics(m metrics.Sink) ScannerOption {
	return func(s *Scanner) { s.metrics = m }
}

// NewScanner creates a Scanner.
func NewScanner(store core.Store, queue core.Queue, opts ...ScannerOption) *Scanner {
	s := &Scanner{
		store:     store,
		queue:     queue,
		retention: core.DefaultRetention,
		logger:    slog.Default(),
		metrics:   metrics.NewNoopSink(),
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// Scan visits the buckets from now through now+lookaheadMinutes in order.
// Each PENDING record is sent to the queue and then moved to RUNNING; a lost
// transition leaves the sent message in place. The first store or queue
// failure aborts the scan and the next run picks up where it stopped.
func (s *Scanner) Scan(ctx context.Context, now time.Time, lookaheadMinutes int) (*ScanReport, error) {
	if lookaheadMinutes < 0 {
		return nil, core.NewValidationError("lookahead must not be negative", map[string]any{"lookahead": lookaheadMinutes})
	}
	start := time.Now()
	now = now.UTC()
	report := &ScanReport{
		Buckets: core.BucketsBetween(
			now.Add(-time.Duration(s.lookbehind)*time.Minute),
			now.Add(time.Duration(lookaheadMinutes)*time.Minute),
		),
	}

	err := s.scanBuckets(ctx, now, report)
	report.Duration = time.Since(start)
	s.metrics.ScanCompleted(report.Duration, len(report.Buckets), report.Enqueued, err)

	if err != nil {
		s.logger.Error("scan aborted",
			"buckets", len(report.Buckets),
			"enqueued", report.Enqueued,
			"error", err,
		)
		return report, err
	}
	if report.Found > 0 {
		s.logger.Info("scan completed",
			"buckets", len(report.Buckets),
			"found", report.Found,
			"enqueued", report.Enqueued,
			"lost", report.Lost,
			"duration_ms", report.Duration.Milliseconds(),
		)
	}
	return report, nil
}

func (s *Scanner) scanBuckets(ctx context.Context, now time.Time, report *ScanReport) error {
	for _, bucket := range report.Buckets {
		if err := ctx.Err(); err != nil {
			return err
		}
		records, err := s.store.ListByTimeBucket(ctx, bucket, core.StatusPending)
		if err != nil {
			return core.WrapInternal("list bucket "+bucket, err)
		}
		report.Found += len(records)

		for _, rec := range records {
			if err := s.enqueue(ctx, now, rec, report); err != nil {
				return err
			}
		}
	}
	return nil
}

func (s *Scanner) enqueue(ctx context.Context, now time.Time, rec *core.Record, report *ScanReport) error {
	if err := s.queue.Send(ctx, core.NewMessage(rec)); err != nil {
		return core.WrapInternal("send "+rec.ExecutionKey, err)
	}
	report.Enqueued++

	_, err := core.Dispatch.Apply(ctx, s.store, rec.Key(), now, s.retention, nil)
	switch {
	case err == nil:
		s.metrics.TransitionApplied(core.Dispatch.Name)
		s.logger.Debug("execution enqueued", "job_id", rec.JobID, "execution_key", rec.ExecutionKey)
		return nil
	case errors.Is(err, core.ErrPreconditionFailed), errors.Is(err, core.ErrNotFound):
		// Cancelled or claimed after the listing; the worker sorts it out.
		report.Lost++
		s.metrics.PreconditionFailed(core.Dispatch.Name)
		s.metrics.DispatchLost()
		s.logger.Info("dispatch lost race", "job_id", rec.JobID, "execution_key", rec.ExecutionKey)
		return nil
	default:
		return core.WrapInternal("dispatch", fmt.Errorf("%s: %w", rec.ExecutionKey, err))
	}
}
