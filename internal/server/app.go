package server

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	goredis "github.com/redis/go-redis/v9"

	"github.com/dw2kim/job-scheduler/internal/core"
	"github.com/dw2kim/job-scheduler/internal/executor"
	"github.com/dw2kim/job-scheduler/internal/kv"
	"github.com/dw2kim/job-scheduler/internal/metrics"
	natsbackend "github.com/dw2kim/job-scheduler/internal/nats"
	memqueue "github.com/dw2kim/job-scheduler/internal/queue/memory"
	"github.com/dw2kim/job-scheduler/internal/scheduler"
	"github.com/dw2kim/job-scheduler/internal/service"
	memstore "github.com/dw2kim/job-scheduler/internal/store/memory"
	pgstore "github.com/dw2kim/job-scheduler/internal/store/postgres"
	redisstore "github.com/dw2kim/job-scheduler/internal/store/redis"
	"github.com/dw2kim/job-scheduler/internal/worker"
)

// memoryQueueBuffer is the channel capacity of SCHED_QUEUE=memory.
const memoryQueueBuffer = 1024

// App is a fully wired scheduler: store, queue, worker, cron runner and the
// HTTP router in front of them.
type App struct {
	Config    Config
	Store     core.Store
	Service   *service.Service
	Worker    *worker.Worker
	Scheduler *scheduler.Scheduler
	Router    http.Handler
	Checks    []HealthCheck
	Events    core.EventPublisher

	consume func(ctx context.Context) error
	closers []func()
	logger  *slog.Logger
}

// Build connects the configured backends and wires every component. Close
// releases what Build opened, also when Build fails half way.
func Build(ctx context.Context, cfg Config, logger *slog.Logger) (_ *App, err error) {
	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("invalid configuration: %w", err)
	}
	if logger == nil {
		logger = slog.Default()
	}
	app := &App{Config: cfg, logger: logger, Events: core.NopPublisher{}}
	defer func() {
		if err != nil {
			app.Close()
		}
	}()

	reg := prometheus.NewRegistry()
	reg.MustRegister(collectors.NewGoCollector(), collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}))
	sink := metrics.NewPrometheusSink(reg)

	var conn *natsbackend.Conn
	if cfg.Store == BackendNATS || cfg.Queue == BackendNATS {
		conn, err = natsbackend.Connect(cfg.NatsURL)
		if err != nil {
			return nil, err
		}
		app.closers = append(app.closers, conn.Close)
		app.Checks = append(app.Checks, HealthCheck{Name: "nats", Check: func(context.Context) error {
			if !conn.Healthy() {
				return errors.New("disconnected")
			}
			return nil
		}})
		broker := natsbackend.NewEventBroker(conn.NATS(), logger)
		app.closers = append(app.closers, func() { _ = broker.Close() })
		app.Events = broker
		logger.Info("connected to NATS", "url", cfg.NatsURL)
	}

	if err := app.openStore(ctx, conn); err != nil {
		return nil, err
	}

	registry, err := buildExecutors(cfg, logger)
	if err != nil {
		return nil, err
	}

	app.Worker = worker.New(app.Store, registry,
		worker.WithMaxAttempts(cfg.MaxAttempts),
		worker.WithExecutionTimeout(cfg.ExecutionTimeout),
		worker.WithRetention(cfg.Retention),
		worker.WithLogger(logger),
		worker.WithMetrics(sink),
		worker.WithEvents(app.Events),
	)

	queue, dead, err := app.openQueue(ctx, conn)
	if err != nil {
		return nil, err
	}

	app.Service = service.New(app.Store,
		service.WithRetention(cfg.Retention),
		service.WithLogger(logger),
		service.WithMetrics(sink),
		service.WithEvents(app.Events),
	)

	scanner := scheduler.NewScanner(app.Store, queue,
		scheduler.WithLookbehind(cfg.LookbehindMinutes),
		scheduler.WithScannerLogger(logger),
		scheduler.WithScannerMetrics(sink),
	)
	schedOpts := []scheduler.Option{scheduler.WithLogger(logger), scheduler.WithMetrics(sink)}
	if sw, ok := app.Store.(core.Sweeper); ok {
		schedOpts = append(schedOpts, scheduler.WithSweeper(sw))
	}
	app.Scheduler = scheduler.New(scheduler.Config{
		ScanSchedule:     cfg.ScanSchedule,
		LookaheadMinutes: cfg.LookaheadMinutes,
		SweepSchedule:    cfg.SweepSchedule,
		RunTimeout:       time.Minute,
	}, scanner, schedOpts...)

	app.Router = NewRouter(RouterDeps{
		Jobs:     app.Service,
		Scans:    app.Scheduler,
		Dead:     dead,
		APIKey:   cfg.APIKey,
		Gatherer: reg,
		Checks:   app.Checks,
	})
	return app, nil
}

func (a *App) openStore(ctx context.Context, conn *natsbackend.Conn) error {
	switch a.Config.Store {
	case BackendNATS:
		st, err := kv.Open(ctx, conn.JetStream(), a.logger)
		if err != nil {
			return err
		}
		a.Store = st

	case BackendRedis:
		opts, err := goredis.ParseURL(a.Config.RedisURL)
		if err != nil {
			return fmt.Errorf("parse REDIS_URL: %w", err)
		}
		client := goredis.NewClient(opts)
		a.closers = append(a.closers, func() { _ = client.Close() })
		st := redisstore.New(client, redisstore.WithLogger(a.logger))
		if err := st.Ping(ctx); err != nil {
			return fmt.Errorf("connecting to Redis: %w", err)
		}
		a.Store = st
		a.Checks = append(a.Checks, HealthCheck{Name: "redis", Check: st.Ping})

	case BackendPostgres:
		st, err := pgstore.New(ctx, a.Config.DatabaseURL, pgstore.WithLogger(a.logger))
		if err != nil {
			return err
		}
		a.closers = append(a.closers, func() { _ = st.Close() })
		if err := st.Migrate(ctx); err != nil {
			return err
		}
		a.Store = st
		a.Checks = append(a.Checks, HealthCheck{Name: "postgres", Check: st.Ping})

	case BackendMemory:
		a.Store = memstore.New()
	}
	a.logger.Info("execution store ready", "backend", a.Config.Store)
	return nil
}

func (a *App) openQueue(ctx context.Context, conn *natsbackend.Conn) (core.Queue, core.DeadLetterLister, error) {
	cfg := a.Config
	switch cfg.Queue {
	case BackendNATS:
		q, err := natsbackend.NewQueue(ctx, conn.JetStream(), natsbackend.QueueConfig{
			Subject:         cfg.QueueSubject,
			MaxAttempts:     cfg.MaxAttempts,
			AckWait:         cfg.AckWait,
			RedeliveryDelay: cfg.RedeliveryDelay,
		}, a.logger)
		if err != nil {
			return nil, nil, err
		}
		a.consume = func(ctx context.Context) error {
			return q.Consume(ctx, a.Worker, cfg.WorkerConcurrency)
		}
		return q, q, nil

	default:
		q := memqueue.New(memoryQueueBuffer,
			memqueue.WithRedeliveryDelay(cfg.RedeliveryDelay),
			memqueue.WithMaxAttempts(cfg.MaxAttempts),
			memqueue.WithLogger(a.logger),
		)
		a.closers = append(a.closers, q.Close)
		a.consume = func(ctx context.Context) error {
			q.Consume(ctx, a.Worker, cfg.WorkerConcurrency)
			return nil
		}
		return q, q, nil
	}
}

func buildExecutors(cfg Config, logger *slog.Logger) (*executor.Registry, error) {
	reg := executor.NewRegistry()
	reg.Register(executor.TaskLogEcho, executor.LogEcho(logger))
	reg.Register(executor.TaskWebhookPost, executor.NewWebhook(nil,
		executor.NewCircuitBreaker(cfg.BreakerThreshold, cfg.BreakerCooldown),
		cfg.ExecutionTimeout,
	))
	if cfg.TelegramToken != "" {
		tg, err := executor.NewTelegram(executor.TelegramConfig{
			Token:      cfg.TelegramToken,
			ChatID:     cfg.TelegramChatID,
			RatePerSec: cfg.TelegramRatePerSec,
		})
		if err != nil {
			return nil, err
		}
		reg.Register(executor.TaskTelegramNotify, tg)
	} else {
		logger.Warn("TELEGRAM_BOT_TOKEN not set; telegram.notify tasks will fail")
	}
	return reg, nil
}

// Run starts the cron runner and the worker consumer and blocks until ctx is
// done or the consumer fails.
func (a *App) Run(ctx context.Context) error {
	if err := a.Scheduler.Start(); err != nil {
		return err
	}
	defer a.Scheduler.Stop()

	a.logger.Info("worker consuming",
		"queue", a.Config.Queue,
		"concurrency", a.Config.WorkerConcurrency,
		"max_attempts", a.Config.MaxAttempts,
	)
	err := a.consume(ctx)
	if err != nil && !errors.Is(err, context.Canceled) {
		return err
	}
	return nil
}

// Close releases connections in reverse order of opening.
func (a *App) Close() {
	for i := len(a.closers) - 1; i >= 0; i-- {
		a.closers[i]()
	}
	a.closers = nil
}
