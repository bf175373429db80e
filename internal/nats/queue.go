package nats

import (
	"context"
	"fmt"
	"log/slog"

	"github.com/nats-io/nats.go/jetstream"

	"github.com/dw2kim/job-scheduler/internal/core"
)

var (
	_ core.Queue            = (*Queue)(nil)
	_ core.DeadLetterLister = (*Queue)(nil)
)

// Queue is the delivery queue on a JetStream work-queue stream.
type Queue struct {
	js     jetstream.JetStream
	cfg    QueueConfig
	logger *slog.Logger
}

// NewQueue sets up the streams and returns a Queue publishing to cfg.Subject.
func NewQueue(ctx context.Context, js jetstream.JetStream, cfg QueueConfig, logger *slog.Logger) (*Queue, error) {
	cfg = cfg.withDefaults()
	if logger == nil {
		logger = slog.Default()
	}
	if err := SetupStreams(ctx, js, cfg); err != nil {
		return nil, err
	}
	return &Queue{js: js, cfg: cfg, logger: logger}, nil
}

// Send publishes msg. Re-sends of the same execution inside the duplicate
// window are dropped by the server.
func (q *Queue) Send(ctx context.Context, msg core.Message) error {
	data, err := encodeMessage(msg)
	if err != nil {
		return err
	}
	if _, err := q.js.Publish(ctx, q.cfg.Subject, data, jetstream.WithMsgID(msgID(msg))); err != nil {
		return fmt.Errorf("publish %s to %s: %w", msg.ExecutionKey, q.cfg.Subject, err)
	}
	return nil
}
