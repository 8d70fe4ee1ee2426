// Package app assembles the sync pipeline from configuration. The server
// and the CLI share it.
package app

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"

	"fecsync/internal/finance/committee"
	"fecsync/internal/finance/crosswalk"
	"fecsync/internal/finance/events"
	"fecsync/internal/finance/fec"
	"fecsync/internal/finance/fetcher"
	"fecsync/internal/finance/handler"
	"fecsync/internal/finance/identity"
	"fecsync/internal/finance/metrics"
	"fecsync/internal/finance/models"
	"fecsync/internal/finance/orchestrator"
	"fecsync/internal/finance/store"
	"fecsync/internal/platform/config"
	platformmetrics "fecsync/internal/platform/metrics"
	"fecsync/internal/platform/postgres"
	"fecsync/internal/platform/redis"
	ratemetrics "fecsync/internal/ratelimit/metrics"
	"fecsync/internal/ratelimit/budget"
	"fecsync/internal/ratelimit/store/bucket"
	httptransport "fecsync/internal/transport/http"
)

// Store is every persistence operation the pipeline needs.
type Store interface {
	orchestrator.Store
	committee.Store
	identity.CandidateWriter
	UpsertCandidate(ctx context.Context, c models.Candidate) error
}

// App is the assembled pipeline.
type App struct {
	Config       *config.Config
	Logger       *slog.Logger
	Registry     *prometheus.Registry
	Store        Store
	Resolver     *identity.Resolver
	Orchestrator *orchestrator.Orchestrator
	Runs         *orchestrator.Registry
	Handler      *handler.Handler

	db        *sql.DB
	redis     *redis.Client
	crosswalk *crosswalk.Cache
	snapshot  *crosswalk.Snapshot
	publisher *events.Publisher
	kafka     *events.KafkaSink
}

// Options tweak assembly for the CLI.
type Options struct {
	// InMemory skips PostgreSQL and keeps state in process memory.
	InMemory bool
}

// New connects the configured backends and builds the pipeline. Close
// releases everything New opened, also after a partial failure.
func New(ctx context.Context, cfg *config.Config, logger *slog.Logger, opts Options) (a *App, err error) {
	a = &App{
		Config:   cfg,
		Logger:   logger,
		Registry: prometheus.NewRegistry(),
	}
	defer func() {
		if err != nil {
			a.Close()
			a = nil
		}
	}()
	a.Registry.MustRegister(collectors.NewGoCollector(), collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}))
	financeMetrics := metrics.New(a.Registry)

	if err := a.openStore(ctx, opts); err != nil {
		return nil, err
	}

	a.redis, err = redis.New(ctx, cfg.Redis)
	if err != nil {
		return nil, err
	}

	budgetOpts := []budget.Option{
		budget.WithLogger(logger),
		budget.WithMetrics(ratemetrics.New(a.Registry)),
	}
	var limiter *budget.Budget
	var progress orchestrator.ProgressStore
	if a.redis != nil {
		limiter = budget.New(bucket.NewRedis(a.redis.Client), budgetOpts...)
		progress = orchestrator.NewRedisProgressStore(a.redis.Client, cfg.Sync.ProgressTTL)
	} else {
		limiter = budget.New(nil, budgetOpts...)
		progress = orchestrator.NewMemoryProgressStore()
	}

	client := fec.NewClient(cfg.FEC.APIKey,
		fec.WithBaseURL(cfg.FEC.BaseURL),
		fec.WithHTTPClient(&http.Client{Timeout: cfg.FEC.Timeout}),
		fec.WithPageSize(cfg.FEC.PageSize),
		fec.WithLogger(logger),
	)

	if err := a.openCrosswalk(financeMetrics); err != nil {
		return nil, err
	}
	a.Resolver = identity.New(client, a.Store,
		identity.WithCrosswalk(a.crosswalk),
		identity.WithThresholds(cfg.Identity.MinScore, cfg.Identity.AutoApplyScore),
		identity.WithLogger(logger),
		identity.WithMetrics(financeMetrics),
	)

	f := fetcher.New(client, limiter,
		fetcher.WithLogger(logger),
		fetcher.WithMetrics(financeMetrics),
		fetcher.WithPageSize(cfg.FEC.PageSize),
		fetcher.WithPageDelay(cfg.Sync.PageDelay),
		fetcher.WithRetryPolicy(fetcher.RetryPolicy{
			Initial:  cfg.FEC.BackoffInitial,
			Max:      cfg.FEC.BackoffMax,
			Attempts: cfg.FEC.MaxAttempts,
		}),
	)

	if err := a.openEvents(ctx, financeMetrics); err != nil {
		return nil, err
	}

	a.Orchestrator = orchestrator.New(a.Store, committee.New(client, a.Store, logger), f,
		orchestrator.WithResolver(a.Resolver),
		orchestrator.WithPublisher(a.publisher),
		orchestrator.WithLimits(orchestrator.Limits{
			Cycle:                cfg.Sync.DefaultCycle,
			MaxPages:             cfg.Sync.MaxPagesPerCommittee,
			MaxRuntime:           cfg.Sync.MaxRuntime,
			RateLimitPerMinute:   cfg.FEC.RateLimitPerMinute,
			IncludeOtherReceipts: cfg.Sync.IncludeOtherReceipts,
			MaxIterations:        cfg.Sync.MaxIterations,
			IterationDelay:       cfg.Sync.IterationDelay,
			CandidateDelay:       cfg.Sync.CandidateDelay,
		}),
		orchestrator.WithLogger(logger),
		orchestrator.WithMetrics(financeMetrics),
	)
	a.Runs = orchestrator.NewRegistry(progress, orchestrator.WithRegistryLogger(logger))
	a.Handler = handler.New(a.Orchestrator, a.Resolver, a.Store, a.Runs, logger, cfg.Sync.DefaultCycle)
	return a, nil
}

func (a *App) openStore(ctx context.Context, opts Options) error {
	if opts.InMemory || a.Config.Database.URL == "" {
		if !opts.InMemory {
			a.Logger.WarnContext(ctx, "database.url not set, keeping state in memory")
		}
		a.Store = store.NewMemory()
		return nil
	}
	db, err := postgres.Open(ctx, a.Config.Database)
	if err != nil {
		return err
	}
	a.db = db
	if err := store.Migrate(ctx, db); err != nil {
		return err
	}
	a.Store = store.NewPostgres(db)
	return nil
}

func (a *App) openCrosswalk(m *metrics.Metrics) error {
	cwOpts := []crosswalk.Option{
		crosswalk.WithTTL(a.Config.Crosswalk.TTL),
		crosswalk.WithLogger(a.Logger),
		crosswalk.WithMetrics(m),
	}
	if path := a.Config.Crosswalk.SnapshotPath; path != "" {
		snap, err := crosswalk.OpenSnapshot(path)
		if err != nil {
			return err
		}
		a.snapshot = snap
		cwOpts = append(cwOpts, crosswalk.WithStore(snap))
	}
	a.crosswalk = crosswalk.NewCache(crosswalk.NewHTTPSource(a.Config.Crosswalk.URL, nil), cwOpts...)
	return nil
}

func (a *App) openEvents(ctx context.Context, m *metrics.Metrics) error {
	var sink events.Sink = events.NewLogSink(a.Logger)
	if brokers := a.Config.Kafka.Brokers; len(brokers) > 0 {
		k, err := events.NewKafkaSink(brokers, a.Config.Kafka.Topic, a.Logger)
		if err != nil {
			return err
		}
		a.kafka = k
		ensureCtx, cancel := context.WithTimeout(ctx, 10*time.Second)
		defer cancel()
		if err := k.EnsureTopic(ensureCtx, 3, 1); err != nil {
			return fmt.Errorf("ensure event topic: %w", err)
		}
		sink = k
	}
	a.publisher = events.NewPublisher(sink,
		events.WithAsyncBuffer(256),
		events.WithLogger(a.Logger),
		events.WithMetrics(m),
	)
	return nil
}

// Router builds the HTTP API.
func (a *App) Router() http.Handler {
	checks := map[string]httptransport.HealthCheck{}
	if a.db != nil {
		checks["postgres"] = a.db.PingContext
	}
	if a.redis != nil {
		checks["redis"] = a.redis.Health
	}
	if a.kafka != nil {
		checks["kafka"] = a.kafka.Ping
	}
	return httptransport.NewRouter(httptransport.Deps{
		Logger:     a.Logger,
		Metrics:    platformmetrics.NewHTTP(a.Registry),
		Gatherer:   a.Registry,
		AdminToken: a.Config.Server.AdminToken,
		Checks:     checks,
		Handlers:   []httptransport.Routes{a.Handler},
	})
}

// Close flushes pending events and releases connections.
func (a *App) Close() error {
	var errs []error
	if a.publisher != nil {
		a.publisher.Close()
	}
	if a.kafka != nil {
		a.kafka.Close()
	}
	if a.snapshot != nil {
		errs = append(errs, a.snapshot.Close())
	}
	if a.redis != nil {
		errs = append(errs, a.redis.Close())
	}
	if a.db != nil {
		errs = append(errs, a.db.Close())
	}
	return errors.Join(errs...)
}
