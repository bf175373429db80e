package nats

import (
	"context"
	"fmt"
	"time"

	"github.com/nats-io/nats.go/jetstream"
)

// QueueConfig describes the delivery queue.
type QueueConfig struct {
	// Stream names the work-queue stream; the dead letter stream is
	// Stream+"_DLQ".
	Stream  string
	Subject string
	// MaxAttempts is the number of executing deliveries. Later deliveries
	// are exhaustion notices the worker turns into a permanent failure; the
	// consumer redelivers them until one is accepted.
	MaxAttempts     int
	AckWait         time.Duration
	RedeliveryDelay time.Duration
	// MaxAge bounds how long an undelivered message is retained.
	MaxAge time.Duration
}

func (c QueueConfig) withDefaults() QueueConfig {
	if c.Stream == "" {
		c.Stream = StreamName
	}
	if c.Subject == "" {
		c.Subject = DefaultSubject
	}
	if c.MaxAttempts < 1 {
		c.MaxAttempts = 3
	}
	if c.AckWait <= 0 {
		c.AckWait = 60 * time.Second
	}
	if c.RedeliveryDelay <= 0 {
		c.RedeliveryDelay = 30 * time.Second
	}
	if c.MaxAge <= 0 {
		c.MaxAge = 24 * time.Hour
	}
	return c
}

// SetupStreams creates the work-queue stream and its dead letter stream.
func SetupStreams(ctx context.Context, js jetstream.JetStream, cfg QueueConfig) error {
	cfg = cfg.withDefaults()

	_, err := js.CreateOrUpdateStream(ctx, jetstream.StreamConfig{
		Name:       cfg.Stream,
		Subjects:   []string{cfg.Subject},
		Storage:    jetstream.FileStorage,
		Retention:  jetstream.WorkQueuePolicy,
		MaxAge:     cfg.MaxAge,
		Discard:    jetstream.DiscardOld,
		Duplicates: 2 * time.Minute,
	})
	if err != nil {
		return fmt.Errorf("creating stream %s: %w", cfg.Stream, err)
	}

	_, err = js.CreateOrUpdateStream(ctx, jetstream.StreamConfig{
		Name:      DLQStreamFor(cfg.Stream),
		Subjects:  []string{DeadLetterSubject(cfg.Subject)},
		Storage:   jetstream.FileStorage,
		Retention: jetstream.LimitsPolicy,
		MaxAge:    14 * 24 * time.Hour,
	})
	if err != nil {
		return fmt.Errorf("creating stream %s: %w", DLQStreamFor(cfg.Stream), err)
	}
	return nil
}

// EnsureConsumer creates or updates the durable pull consumer for the queue.
func EnsureConsumer(ctx context.Context, js jetstream.JetStream, cfg QueueConfig) (jetstream.Consumer, error) {
	cfg = cfg.withDefaults()
	consumer, err := js.CreateOrUpdateConsumer(ctx, cfg.Stream, jetstream.ConsumerConfig{
		Durable:       ConsumerName(cfg.Subject),
		FilterSubject: cfg.Subject,
		AckPolicy:     jetstream.AckExplicitPolicy,
		AckWait:       cfg.AckWait,
		MaxDeliver:    -1,
		DeliverPolicy: jetstream.DeliverAllPolicy,
	})
	if err != nil {
		return nil, fmt.Errorf("creating consumer for %s: %w", cfg.Subject, err)
	}
	return consumer, nil
}
