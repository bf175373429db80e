package nats

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"sync"

	"github.com/nats-io/nats.go"

	"github.com/dw2kim/job-scheduler/internal/core"
)

var _ core.EventPublisher = (*EventBroker)(nil)

// EventBroker publishes and subscribes to lifecycle events over core NATS
// pub/sub. Events are not persisted.
type EventBroker struct {
	nc     *nats.Conn
	logger *slog.Logger
	mu     sync.Mutex
	subs   []*nats.Subscription
}

// NewEventBroker creates a new EventBroker using the given NATS connection.
func NewEventBroker(nc *nats.Conn, logger *slog.Logger) *EventBroker {
	if logger == nil {
		logger = slog.Default()
	}
	return &EventBroker{nc: nc, logger: logger}
}

// Publish sends event to its job subject and the global subject.
func (b *EventBroker) Publish(_ context.Context, event core.Event) {
	data, err := json.Marshal(event)
	if err != nil {
		b.logger.Error("failed to marshal event", "error", err)
		return
	}
	if err := b.nc.Publish(EventJobSubject(event.JobID), data); err != nil {
		b.logger.Error("failed to publish job event", "error", err, "job_id", event.JobID)
		return
	}
	if err := b.nc.Publish(EventAllSubject(), data); err != nil {
		b.logger.Error("failed to publish global event", "error", err)
	}
}

// SubscribeJob subscribes to events for a specific job.
func (b *EventBroker) SubscribeJob(jobID string) (<-chan core.Event, func(), error) {
	return b.subscribe(EventJobSubject(jobID))
}

// SubscribeAll subscribes to all events.
func (b *EventBroker) SubscribeAll() (<-chan core.Event, func(), error) {
	return b.subscribe(EventAllSubject())
}

func (b *EventBroker) subscribe(subject string) (<-chan core.Event, func(), error) {
	ch := make(chan core.Event, 64)

	var once sync.Once
	var closed bool
	var cmu sync.Mutex

	sub, err := b.nc.Subscribe(subject, func(msg *nats.Msg) {
		var event core.Event
		if err := json.Unmarshal(msg.Data, &event); err != nil {
			b.logger.Error("failed to unmarshal event", "error", err)
			return
		}
		cmu.Lock()
		defer cmu.Unlock()
		if closed {
			return
		}
		select {
		case ch <- event:
		default:
			b.logger.Warn("dropping event, subscriber channel full", "subject", subject)
		}
	})
	if err != nil {
		close(ch)
		return nil, nil, fmt.Errorf("subscribe to %s: %w", subject, err)
	}

	b.mu.Lock()
	b.subs = append(b.subs, sub)
	b.mu.Unlock()

	unsubscribe := func() {
		once.Do(func() {
			_ = sub.Unsubscribe()
			cmu.Lock()
			closed = true
			close(ch)
			cmu.Unlock()
		})
	}
	return ch, unsubscribe, nil
}

// Close unsubscribes all subscriptions.
func (b *EventBroker) Close() error {
	b.mu.Lock()
	defer b.mu.Unlock()
	for _, sub := range b.subs {
		_ = sub.Unsubscribe()
	}
	b.subs = nil
	return nil
}
