package nats

import (
	"context"
	"errors"
	"fmt"

	"github.com/nats-io/nats.go/jetstream"

	"github.com/dw2kim/job-scheduler/internal/core"
)

// deadLetter records a message the queue gave up on. Failures are logged; the
// record store already holds the outcome.
func (q *Queue) deadLetter(ctx context.Context, d core.DeadLetter) {
	d.DeadAt = core.NowFormatted()
	data, err := encodeDeadLetter(d)
	if err != nil {
		q.logger.Error("encode dead letter", "error", err)
		return
	}
	if _, err := q.js.Publish(ctx, DeadLetterSubject(q.cfg.Subject), data); err != nil {
		q.logger.Error("publish dead letter", "job_id", d.Message.JobID, "error", err)
		return
	}
	q.logger.Info("message dead-lettered",
		"job_id", d.Message.JobID,
		"execution_key", d.Message.ExecutionKey,
		"deliveries", d.Deliveries,
	)
}

// ListDeadLetters returns up to limit dead letters, oldest first.
func (q *Queue) ListDeadLetters(ctx context.Context, limit int) ([]core.DeadLetter, error) {
	name := DLQStreamFor(q.cfg.Stream)
	stream, err := q.js.Stream(ctx, name)
	if err != nil {
		return nil, fmt.Errorf("open stream %s: %w", name, err)
	}
	info, err := stream.Info(ctx)
	if err != nil {
		return nil, fmt.Errorf("stream info %s: %w", name, err)
	}

	out := []core.DeadLetter{}
	if info.State.Msgs == 0 {
		return out, nil
	}
	for seq := info.State.FirstSeq; seq <= info.State.LastSeq; seq++ {
		if limit > 0 && len(out) >= limit {
			break
		}
		raw, err := stream.GetMsg(ctx, seq)
		if errors.Is(err, jetstream.ErrMsgNotFound) {
			continue
		}
		if err != nil {
			return nil, fmt.Errorf("get dead letter %d: %w", seq, err)
		}
		d, err := decodeDeadLetter(raw.Data)
		if err != nil {
			q.logger.Warn("skipping undecodable dead letter", "seq", seq, "error", err)
			continue
		}
		out = append(out, d)
	}
	return out, nil
}
