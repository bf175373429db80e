package nats

import (
	"context"
	"sync"
	"time"

	"github.com/nats-io/nats.go/jetstream"

	"github.com/dw2kim/job-scheduler/internal/core"
)

const fetchWait = time.Second

// Consume pulls messages with concurrency workers and hands each to h until
// ctx is cancelled. A handler error naks the message with the redelivery
// delay, also past the delivery budget. A message the handler accepts past
// its budget is copied to the dead letter stream and acked.
func (q *Queue) Consume(ctx context.Context, h core.Handler, concurrency int) error {
	consumer, err := EnsureConsumer(ctx, q.js, q.cfg)
	if err != nil {
		return err
	}
	if concurrency < 1 {
		concurrency = 1
	}

	q.logger.Info("consumer started",
		"subject", q.cfg.Subject,
		"consumer", ConsumerName(q.cfg.Subject),
		"concurrency", concurrency,
		"max_attempts", q.cfg.MaxAttempts,
	)

	var wg sync.WaitGroup
	for range concurrency {
		wg.Add(1)
		go func() {
			defer wg.Done()
			q.fetchLoop(ctx, consumer, h)
		}()
	}
	wg.Wait()
	q.logger.Info("consumer stopped", "subject", q.cfg.Subject)
	return nil
}

func (q *Queue) fetchLoop(ctx context.Context, consumer jetstream.Consumer, h core.Handler) {
	for ctx.Err() == nil {
		msgs, err := consumer.Fetch(1, jetstream.FetchMaxWait(fetchWait))
		if err != nil {
			q.logger.Warn("fetch failed", "error", err)
			select {
			case <-ctx.Done():
			case <-time.After(fetchWait):
			}
			continue
		}
		for msg := range msgs.Messages() {
			q.process(ctx, h, msg)
		}
	}
}

func (q *Queue) process(ctx context.Context, h core.Handler, msg jetstream.Msg) {
	deliveries := 1
	if md, err := msg.Metadata(); err == nil {
		deliveries = int(md.NumDelivered)
	}

	m, err := decodeMessage(msg.Data())
	if err != nil {
		q.logger.Error("undecodable message, terminating", "error", err, "deliveries", deliveries)
		q.deadLetter(ctx, core.DeadLetter{Deliveries: deliveries})
		_ = msg.Term()
		return
	}

	herr := h.Handle(ctx, m, deliveries)
	switch {
	case herr == nil && deliveries > q.cfg.MaxAttempts:
		q.deadLetter(ctx, core.DeadLetter{Message: m, Deliveries: deliveries})
		q.ack(msg, m)
	case herr == nil:
		q.ack(msg, m)
	default:
		if deliveries > q.cfg.MaxAttempts {
			q.logger.Warn("exhaustion notice not accepted, redelivering", "job_id", m.JobID, "deliveries", deliveries, "error", herr)
		}
		if err := msg.NakWithDelay(q.cfg.RedeliveryDelay); err != nil {
			q.logger.Warn("nak failed", "job_id", m.JobID, "error", err)
		}
	}
}

func (q *Queue) ack(msg jetstream.Msg, m core.Message) {
	if err := msg.Ack(); err != nil {
		q.logger.Warn("ack failed", "job_id", m.JobID, "error", err)
	}
}
