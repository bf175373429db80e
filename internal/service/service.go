// Package service implements job intake, cancellation and status queries on
// top of a core.Store.
package service

import (
	"log/slog"
	"time"

	"github.com/dw2kim/job-scheduler/internal/core"
	"github.com/dw2kim/job-scheduler/internal/metrics"
)

// Service is the client-facing side of the scheduler.
type Service struct {
	store     core.Store
	clock     func() time.Time
	newID     func() string
	retention core.Retention
	logger    *slog.Logger
	metrics   metrics.Sink
	events    core.EventPublisher
	claimWait time.Duration
}

// DefaultClaimWait bounds how long CreateJob waits for a concurrent
// request's record after losing the idempotency key to it.
const DefaultClaimWait = 2 * time.Second

// Option configures a Service.
type Option func(*Service)

// WithClock overrides the time source.
func WithClock(clock func() time.Time) Option {
	return func(s *Service) { s.clock = clock }
}

// WithIDGenerator overrides job id generation.
func WithIDGenerator(newID func() string) Option {
	return func(s *Service) { s.newID = newID }
}

// WithRetention sets the expiry applied on terminal transitions.
func WithRetention(r core.Retention) Option {
	return func(s *Service) { s.retention = r }
}

func WithLogger(l *slog.Logger) Option {
	return func(s *Service) { s.logger = l }
}

func WithMetrics(m metrics.Sink) Option {
	return func(s *Service) { s.metrics = m }
}

// WithClaimWait overrides DefaultClaimWait.
func WithClaimWait(d time.Duration) Option {
	return func(s *Service) { s.claimWait = d }
}

// WithEvents publishes job lifecycle events to p.
func WithEvents(p core.EventPublisher) Option {
	return func(s *Service) { s.events = p }
}

// New creates a Service backed by store.
func New(store core.Store, opts ...Option) *Service {
	s := &Service{
		store:     store,
		clock:     time.Now,
		newID:     core.NewJobID,
		retention: core.DefaultRetention,
		logger:    slog.Default(),
		metrics:   metrics.NewNoopSink(),
		events:    core.NopPublisher{},
		claimWait: DefaultClaimWait,
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}
