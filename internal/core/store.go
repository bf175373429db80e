package core

import (
	"context"
	"encoding/json"
	"time"
)

// Store is the durable execution record store. Implementations must make
// ConditionalUpdate an atomic compare-and-set on a single record.
type Store interface {
	// Get returns the record stored under key, or ErrNotFound.
	Get(ctx context.Context, key RecordKey) (*Record, error)

	// FindByJobID returns every record of a job ordered oldest first,
	// or ErrNotFound when there is none.
	FindByJobID(ctx context.Context, jobID string) ([]*Record, error)

	// FindByIdempotencyKey returns the record created under key, or ErrNotFound.
	FindByIdempotencyKey(ctx context.Context, key string) (*Record, error)

	// ListByTimeBucket returns the records of one bucket ordered by
	// execution key. An empty status returns all of them.
	ListByTimeBucket(ctx context.Context, bucket string, status Status) ([]*Record, error)

	// PutIfAbsent stores a new record. It fails with
	// ErrDuplicateIdempotencyKey when the idempotency key is taken.
	PutIfAbsent(ctx context.Context, rec *Record) error

	// ConditionalUpdate applies m only if the stored status is one of
	// expected; nil expected means unconditional. It returns the updated
	// record, ErrNotFound or ErrPreconditionFailed.
	ConditionalUpdate(ctx context.Context, key RecordKey, expected []Status, m Mutation) (*Record, error)
}

// Sweeper is implemented by stores without native expiry. Sweep removes
// records whose expiry marker is before now and reports how many it removed.
type Sweeper interface {
	Sweep(ctx context.Context, now time.Time) (int, error)
}

// Queue is the sending side of the delivery queue.
type Queue interface {
	Send(ctx context.Context, msg Message) error
}

// Handler consumes one delivery. redeliveryCount starts at 1. A returned
// error asks the queue to redeliver after its visibility delay.
type Handler interface {
	Handle(ctx context.Context, msg Message, redeliveryCount int) error
}

// HandlerFunc adapts a function to Handler.
type HandlerFunc func(ctx context.Context, msg Message, redeliveryCount int) error

func (f HandlerFunc) Handle(ctx context.Context, msg Message, redeliveryCount int) error {
	return f(ctx, msg, redeliveryCount)
}

// DeadLetter is a message the queue gave up on.
type DeadLetter struct {
	Message    Message `json:"message"`
	Deliveries int     `json:"deliveries"`
	DeadAt     string  `json:"deadAt"`
}

// DeadLetterLister is implemented by queues that can enumerate dead letters.
type DeadLetterLister interface {
	ListDeadLetters(ctx context.Context, limit int) ([]DeadLetter, error)
}

// Task is what the worker hands to an Executor.
type Task struct {
	JobID   string
	Name    string
	Params  json.RawMessage
	Attempt int
}

// Executor performs the side effects of a task.
type Executor interface {
	Execute(ctx context.Context, task Task) error
}

// ExecutorFunc adapts a function to Executor.
type ExecutorFunc func(ctx context.Context, task Task) error

func (f ExecutorFunc) Execute(ctx context.Context, task Task) error {
	return f(ctx, task)
}
