// Package worker executes delivered messages and records their outcome.
package worker

import (
	"context"
	"errors"
	"log/slog"
	"time"

	"github.com/dw2kim/job-scheduler/internal/core"
	"github.com/dw2kim/job-scheduler/internal/metrics"
)

// DefaultMaxAttempts is the number of deliveries a message gets before its
// record is marked FAILED_PERMANENT.
const DefaultMaxAttempts = 3

var _ core.Handler = (*Worker)(nil)

// Worker handles one delivery at a time and is safe for concurrent use.
type Worker struct {
	store       core.Store
	executor    core.Executor
	maxAttempts int
	timeout     time.Duration
	retention   core.Retention
	clock       func() time.Time
	logger      *slog.Logger
	metrics     metrics.Sink
	events      core.EventPublisher
}

// Option configures a Worker.
type Option func(*Worker)

func WithMaxAttempts(n int) Option {
	return func(w *Worker) { w.maxAttempts = n }
}

// WithExecutionTimeout bounds each executor call. Zero disables the bound.
func WithExecutionTimeout(d time.Duration) Option {
	return func(w *Worker) { w.timeout = d }
}

func WithRetention(r core.Retention) Option {
	return func(w *Worker) { w.retention = r }
}

func WithClock(clock func() time.Time) Option {
	return func(w *Worker) { w.clock = clock }
}

func WithLogger(l *slog.Logger) Option {
	return func(w *Worker) { w.logger = l }
}

func WithMetrics(m metrics.Sink) Option {
	return func(w *Worker) { w.metrics = m }
}

// WithEvents publishes execution outcomes to p.
func WithEvents(p core.EventPublisher) Option {
	return func(w *Worker) { w.events = p }
}

// New creates a Worker that runs tasks through executor.
func New(store core.Store, executor core.Executor, opts ...Option) *Worker {
	w := &Worker{
		store:       store,
		executor:    executor,
		maxAttempts: DefaultMaxAttempts,
		retention:   core.DefaultRetention,
		clock:       time.Now,
		logger:      slog.Default(),
		metrics:     metrics.NewNoopSink(),
		events:      core.NopPublisher{},
	}
	for _, opt := range opts {
		opt(w)
	}
	return w
}

// Handle processes one delivery. A nil return means the delivery is
// finished, including when it was exhausted or found already resolved. An
// ExecutionFailure asks the queue to redeliver.
func (w *Worker) Handle(ctx context.Context, msg core.Message, redeliveryCount int) error {
	log := w.logger.With(
		"job_id", msg.JobID,
		"execution_key", msg.ExecutionKey,
		"delivery", redeliveryCount,
	)
	log.Debug("delivery received")

	if redeliveryCount > w.maxAttempts {
		return w.exhaust(ctx, log, msg, redeliveryCount)
	}

	rec, ok, err := w.claim(ctx, log, msg, redeliveryCount)
	if err != nil {
		w.metrics.DeliveryHandled(metrics.OutcomeStoreError, redeliveryCount)
		return err
	}
	if !ok {
		return nil
	}

	execErr := w.execute(ctx, rec, redeliveryCount)
	if execErr == nil {
		return w.complete(ctx, log, msg, redeliveryCount)
	}

	log.Warn("execution failed, will retry", "task", rec.Task, "error", execErr)
	attempt := redeliveryCount
	if _, err := core.Retry.Apply(ctx, w.store, msg.Key(), w.clock(), w.retention, &attempt); err != nil {
		if errors.Is(err, core.ErrPreconditionFailed) {
			w.metrics.PreconditionFailed(core.Retry.Name)
		}
		log.Warn("could not reassert RUNNING", "error", err)
	} else {
		w.metrics.TransitionApplied(core.Retry.Name)
	}
	w.metrics.DeliveryHandled(metrics.OutcomeRetry, redeliveryCount)
	w.publish(ctx, core.EventExecutionRetrying, msg, core.StatusRunning, redeliveryCount)
	return core.NewExecutionError(msg.JobID, execErr)
}

// exhaust marks the record FAILED_PERMANENT unless it already resolved, and
// returns nil so the queue dead-letters the message.
func (w *Worker) exhaust(ctx context.Context, log *slog.Logger, msg core.Message, redeliveryCount int) error {
	attempt := redeliveryCount
	_, err := core.Exhaust.Apply(ctx, w.store, msg.Key(), w.clock(), w.retention, &attempt)
	switch {
	case err == nil:
		w.metrics.TransitionApplied(core.Exhaust.Name)
		w.metrics.DeliveryHandled(metrics.OutcomeExhausted, redeliveryCount)
		log.Warn("max attempts exceeded, marked permanently failed", "max_attempts", w.maxAttempts)
		w.publish(ctx, core.EventExecutionFailed, msg, core.StatusFailedPermanent, redeliveryCount)
		return nil
	case errors.Is(err, core.ErrPreconditionFailed), errors.Is(err, core.ErrNotFound):
		w.metrics.PreconditionFailed(core.Exhaust.Name)
		w.metrics.DeliveryHandled(metrics.OutcomeDuplicate, redeliveryCount)
		log.Info("max attempts exceeded on a resolved record, leaving it", "error", err)
		return nil
	default:
		w.metrics.DeliveryHandled(metrics.OutcomeStoreError, redeliveryCount)
		return core.WrapInternal("mark permanently failed", err)
	}
}

// claim loads the record and makes sure it is RUNNING. It reports false when
// the delivery must be dropped without executing.
func (w *Worker) claim(ctx context.Context, log *slog.Logger, msg core.Message, redeliveryCount int) (*core.Record, bool, error) {
	rec, err := w.store.Get(ctx, msg.Key())
	if err != nil {
		if errors.Is(err, core.ErrNotFound) {
			w.metrics.DeliveryHandled(metrics.OutcomeSkipped, redeliveryCount)
			log.Warn("record not found, dropping delivery")
			return nil, false, nil
		}
		return nil, false, core.WrapInternal("load record", err)
	}

	if rec.Status == core.StatusPending {
		// The scanner sends before it flips, so the worker can get here first.
		attempt := redeliveryCount
		claimed, err := core.Dispatch.Apply(ctx, w.store, msg.Key(), w.clock(), w.retention, &attempt)
		switch {
		case err == nil:
			w.metrics.TransitionApplied(core.Dispatch.Name)
			rec = claimed
		case errors.Is(err, core.ErrPreconditionFailed):
			w.metrics.PreconditionFailed(core.Dispatch.Name)
			if rec, err = w.store.Get(ctx, msg.Key()); err != nil {
				return nil, false, core.WrapInternal("reload record", err)
			}
		case errors.Is(err, core.ErrNotFound):
			w.metrics.DeliveryHandled(metrics.OutcomeSkipped, redeliveryCount)
			return nil, false, nil
		default:
			return nil, false, core.WrapInternal("claim record", err)
		}
	}

	if rec.Status.IsTerminal() {
		w.metrics.DeliveryHandled(metrics.OutcomeDuplicate, redeliveryCount)
		log.Info("record already resolved, skipping execution", "status", rec.Status)
		return nil, false, nil
	}
	return rec, true, nil
}

func (w *Worker) execute(ctx context.Context, rec *core.Record, redeliveryCount int) error {
	if w.timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, w.timeout)
		defer cancel()
	}
	start := time.Now()
	err := w.executor.Execute(ctx, core.Task{
		JobID:   rec.JobID,
		Name:    rec.Task,
		Params:  rec.Params,
		Attempt: redeliveryCount,
	})
	if err == nil && ctx.Err() != nil {
		err = ctx.Err()
	}
	w.metrics.ExecutionObserved(rec.Task, time.Since(start), err)
	return err
}

func (w *Worker) complete(ctx context.Context, log *slog.Logger, msg core.Message, redeliveryCount int) error {
	attempt := redeliveryCount
	_, err := core.Complete.Apply(ctx, w.store, msg.Key(), w.clock(), w.retention, &attempt)
	switch {
	case err == nil:
		w.metrics.TransitionApplied(core.Complete.Name)
		w.metrics.DeliveryHandled(metrics.OutcomeSucceeded, redeliveryCount)
		log.Info("execution succeeded")
		w.publish(ctx, core.EventExecutionDone, msg, core.StatusSucceeded, redeliveryCount)
		return nil
	case errors.Is(err, core.ErrPreconditionFailed), errors.Is(err, core.ErrNotFound):
		w.metrics.PreconditionFailed(core.Complete.Name)
		w.metrics.DeliveryHandled(metrics.OutcomeDuplicate, redeliveryCount)
		log.Info("execution succeeded but record was already resolved", "error", err)
		return nil
	default:
		w.metrics.DeliveryHandled(metrics.OutcomeStoreError, redeliveryCount)
		return core.WrapInternal("mark succeeded", err)
	}
}

func (w *Worker) publish(ctx context.Context, typ string, msg core.Message, status core.Status, attempt int) {
	w.events.Publish(ctx, core.Event{
		Type:         typ,
		JobID:        msg.JobID,
		ExecutionKey: msg.ExecutionKey,
		Status:       status,
		Attempt:      attempt,
		At:           core.FormatTime(w.clock()),
	})
}
