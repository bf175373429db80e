package scheduler

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/robfig/cron/v3"

	"github.com/dw2kim/job-scheduler/internal/core"
	"github.com/dw2kim/job-scheduler/internal/metrics"
)

// Config holds the scheduler cadence.
type Config struct {
	// ScanSchedule is a cron spec or descriptor such as "@every 1m".
	ScanSchedule     string
	LookaheadMinutes int
	// SweepSchedule is ignored when the store has no Sweeper.
	SweepSchedule string
	// RunTimeout bounds a single scan or sweep. Zero means no bound.
	RunTimeout time.Duration
}

// Scheduler runs the Scanner, and the store's Sweeper when there is one, on
// cron schedules. A run still in progress makes the next tick a no-op.
type Scheduler struct {
	cfg     Config
	scanner *Scanner
	sweeper core.Sweeper
	clock   func() time.Time
	logger  *slog.Logger
	metrics metrics.Sink
	parser  cron.Parser

	mu     sync.Mutex
	c      *cron.Cron
	stop   chan struct{}
	cancel context.CancelFunc
}

// Option configures a Scheduler.
type Option func(*Scheduler)

func WithSweeper(sw core.Sweeper) Option {
	return func(s *Scheduler) { s.sweeper = sw }
}

func WithClock(clock func() time.Time) Option {
	return func(s *Scheduler) { s.clock = clock }
}

func WithLogger(l *slog.Logger) Option {
	return func(s *Scheduler) { s.logger = l }
}

func WithMetrics(m metrics.Sink) Option {
	return func(s *Scheduler) { s.metrics = m }
}

// New creates a stopped Scheduler.
func New(cfg Config, scanner *Scanner, opts ...Option) *Scheduler {
	s := &Scheduler{
		cfg:     cfg,
		scanner: scanner,
		clock:   time.Now,
		logger:  slog.Default(),
		metrics: metrics.NewNoopSink(),
		parser:  cron.NewParser(cron.Minute | cron.Hour | cron.Dom | cron.Month | cron.Dow | cron.Descriptor),
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// Start registers the schedules and starts the cron loop. Calling Start on a
// running Scheduler does nothing.
func (s *Scheduler) Start() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.stop != nil {
		return nil
	}

	logger := cronLogger{s.logger}
	c := cron.New(
		cron.WithParser(s.parser),
		cron.WithLocation(time.UTC),
		cron.WithLogger(logger),
		cron.WithChain(cron.Recover(logger), cron.SkipIfStillRunning(logger)),
	)
	ctx, cancel := context.WithCancel(context.Background())

	if _, err := c.AddFunc(s.cfg.ScanSchedule, func() { s.runScan(ctx) }); err != nil {
		cancel()
		return fmt.Errorf("scan schedule %q: %w", s.cfg.ScanSchedule, err)
	}
	if s.sweeper != nil && s.cfg.SweepSchedule != "" {
		if _, err := c.AddFunc(s.cfg.SweepSchedule, func() { s.runSweep(ctx) }); err != nil {
			cancel()
			return fmt.Errorf("sweep schedule %q: %w", s.cfg.SweepSchedule, err)
		}
	}

	s.c = c
	s.cancel = cancel
	s.stop = make(chan struct{})
	c.Start()
	s.logger.Info("scheduler started",
		"scan_schedule", s.cfg.ScanSchedule,
		"lookahead_minutes", s.cfg.LookaheadMinutes,
		"sweep", s.sweeper != nil,
	)
	return nil
}

// Stop cancels in-flight runs and waits for them to return. It is safe to
// call more than once and before Start.
func (s *Scheduler) Stop() {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.stop == nil {
		return
	}
	close(s.stop)
	s.stop = nil
	if s.cancel != nil {
		s.cancel()
	}
	if s.c != nil {
		<-s.c.Stop().Done()
		s.c = nil
	}
	s.logger.Info("scheduler stopped")
}

// ScanNow runs one scan immediately with the configured lookahead.
func (s *Scheduler) ScanNow(ctx context.Context) (*ScanReport, error) {
	return s.scanner.Scan(ctx, s.clock(), s.cfg.LookaheadMinutes)
}

func (s *Scheduler) runScan(ctx context.Context) {
	ctx, cancel := s.runContext(ctx)
	defer cancel()
	if _, err := s.ScanNow(ctx); err != nil && !errors.Is(err, context.Canceled) {
		s.logger.Warn("scheduled scan failed", "error", err)
	}
}

func (s *Scheduler) runSweep(ctx context.Context) {
	ctx, cancel := s.runContext(ctx)
	defer cancel()
	n, err := s.sweeper.Sweep(ctx, s.clock())
	if err != nil {
		s.logger.Warn("sweep failed", "error", err)
		return
	}
	s.metrics.RecordsSwept(n)
	if n > 0 {
		s.logger.Info("expired records swept", "count", n)
	}
}

func (s *Scheduler) runContext(ctx context.Context) (context.Context, context.CancelFunc) {
	if s.cfg.RunTimeout > 0 {
		return context.WithTimeout(ctx, s.cfg.RunTimeout)
	}
	return context.WithCancel(ctx)
}

// cronLogger adapts slog to cron.Logger.
type cronLogger struct {
	l *slog.Logger
}

func (c cronLogger) Info(msg string, keysAndValues ...interface{}) {
	c.l.Debug("cron: "+msg, keysAndValues...)
}

func (c cronLogger) Error(err error, msg string, keysAndValues ...interface{}) {
	c.l.Error("cron: "+msg, append(keysAndValues, "error", err)...)
}
