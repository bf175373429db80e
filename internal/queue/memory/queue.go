// Package memory is an in-process delivery queue with redelivery and a dead
// letter list. Messages are lost when the process exits.
package memory

import (
	"context"
	"errors"
	"log/slog"
	"sync"
	"time"

	"github.com/dw2kim/job-scheduler/internal/core"
)

var (
	_ core.Queue            = (*Queue)(nil)
	_ core.DeadLetterLister = (*Queue)(nil)
)

// ErrBufferFull is returned by Send when the buffer stays full past the send timeout.
var ErrBufferFull = errors.New("queue buffer full")

// ErrClosed is returned by Send after Close.
var ErrClosed = errors.New("queue closed")

type delivery struct {
	msg   core.Message
	count int
}

// Queue delivers each message until the handler accepts it. A message
// accepted past the delivery budget is dead-lettered; one that still fails
// past the budget keeps being redelivered.
type Queue struct {
	ch              chan delivery
	redeliveryDelay time.Duration
	maxAttempts     int
	sendTimeout     time.Duration
	logger          *slog.Logger

	done      chan struct{}
	closeOnce sync.Once

	mu   sync.Mutex
	dead []core.DeadLetter
}

// Option configures a Queue.
type Option func(*Queue)

// WithRedeliveryDelay sets how long a failed message waits before redelivery.
func WithRedeliveryDelay(d time.Duration) Option {
	return func(q *Queue) { q.redeliveryDelay = d }
}

// WithMaxAttempts sets the delivery budget. Deliveries past it are
// exhaustion notices.
func WithMaxAttempts(n int) Option {
	return func(q *Queue) { q.maxAttempts = n }
}

func WithSendTimeout(d time.Duration) Option {
	return func(q *Queue) { q.sendTimeout = d }
}

func WithLogger(l *slog.Logger) Option {
	return func(q *Queue) { q.logger = l }
}

// New creates a Queue buffering up to buffer messages.
func New(buffer int, opts ...Option) *Queue {
	q := &Queue{
		ch:              make(chan delivery, buffer),
		redeliveryDelay: 30 * time.Second,
		maxAttempts:     3,
		sendTimeout:     time.Second,
		logger:          slog.Default(),
		done:            make(chan struct{}),
	}
	for _, opt := range opts {
		opt(q)
	}
	return q
}

// Send enqueues msg for its first delivery.
func (q *Queue) Send(ctx context.Context, msg core.Message) error {
	select {
	case <-q.done:
		return ErrClosed
	default:
	}
	timer := time.NewTimer(q.sendTimeout)
	defer timer.Stop()

	select {
	case <-q.done:
		return ErrClosed
	case q.ch <- delivery{msg: msg, count: 1}:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	case <-timer.C:
		return ErrBufferFull
	}
}

// Consume runs concurrency goroutines feeding h until ctx is cancelled or the
// queue is closed. It blocks until they return.
func (q *Queue) Consume(ctx context.Context, h core.Handler, concurrency int) {
	if concurrency < 1 {
		concurrency = 1
	}
	var wg sync.WaitGroup
	for range concurrency {
		wg.Add(1)
		go func() {
			defer wg.Done()
			for {
				select {
				case <-ctx.Done():
					return
				case <-q.done:
					return
				case d := <-q.ch:
					q.dispatch(ctx, h, d)
				}
			}
		}()
	}
	wg.Wait()
}

func (q *Queue) dispatch(ctx context.Context, h core.Handler, d delivery) {
	err := h.Handle(ctx, d.msg, d.count)
	switch {
	case err == nil && d.count > q.maxAttempts:
		q.deadLetter(d)
	case err == nil:
	case d.count > q.maxAttempts:
		q.logger.Warn("exhaustion notice not accepted, redelivering", "job_id", d.msg.JobID, "deliveries", d.count, "error", err)
		q.redeliver(delivery{msg: d.msg, count: d.count + 1})
	default:
		q.redeliver(delivery{msg: d.msg, count: d.count + 1})
	}
}

func (q *Queue) redeliver(d delivery) {
	time.AfterFunc(q.redeliveryDelay, func() {
		select {
		case q.ch <- d:
		case <-q.done:
		}
	})
}

func (q *Queue) deadLetter(d delivery) {
	q.mu.Lock()
	defer q.mu.Unlock()
	q.dead = append(q.dead, core.DeadLetter{
		Message:    d.msg,
		Deliveries: d.count,
		DeadAt:     core.NowFormatted(),
	})
	q.logger.Info("message dead-lettered", "job_id", d.msg.JobID, "execution_key", d.msg.ExecutionKey, "deliveries", d.count)
}

// ListDeadLetters returns up to limit dead letters, oldest first. A
// non-positive limit returns all of them.
func (q *Queue) ListDeadLetters(_ context.Context, limit int) ([]core.DeadLetter, error) {
	q.mu.Lock()
	defer q.mu.Unlock()
	n := len(q.dead)
	if limit > 0 && limit < n {
		n = limit
	}
	return append([]core.DeadLetter(nil), q.dead[:n]...), nil
}

// Close stops consumers and pending redeliveries. Buffered messages are dropped.
func (q *Queue) Close() {
	q.closeOnce.Do(func() { close(q.done) })
}
