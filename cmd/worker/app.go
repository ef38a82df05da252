package main

import (
	"context"
	"fmt"
	"log/slog"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"

	"github.com/studyhub/schedule-sync/config"
	"github.com/studyhub/schedule-sync/internal/application/command"
	"github.com/studyhub/schedule-sync/internal/infrastructure/external/portal"
	"github.com/studyhub/schedule-sync/internal/infrastructure/persistence/postgres"
	"github.com/studyhub/schedule-sync/internal/infrastructure/persistence/redis"
	"github.com/studyhub/schedule-sync/internal/infrastructure/security"
	"github.com/studyhub/schedule-sync/internal/infrastructure/service"
	"github.com/studyhub/schedule-sync/internal/metrics"
)

// ══════════════════════════════════════════════════════════════════════════════
// COMPOSITION ROOT
// ══════════════════════════════════════════════════════════════════════════════

// app holds the long-lived dependencies shared by subcommands.
type app struct {
	cfg      *config.Config
	log      *slog.Logger
	registry *prometheus.Registry
	metrics  metrics.Sink

	db        *postgres.Connection
	creds     *postgres.CredentialRepository
	schedules *postgres.ScheduleRepository

	// Nil unless the command needs the queue.
	redis *redis.Client
	queue *redis.Queue
}

// newApp connects to PostgreSQL, and to Redis when withQueue is set.
func newApp(ctx context.Context, cfg *config.Config, log *slog.Logger, withQueue bool) (*app, error) {
	a := &app{cfg: cfg, log: log, registry: prometheus.NewRegistry()}
	a.registry.MustRegister(
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
	)
	a.metrics = metrics.NewPrometheusSink(a.registry, log)
	if !cfg.Observability.MetricsEnabled {
		a.metrics = metrics.NewNoopSink()
	}

	dbCfg := postgres.DefaultConfig(cfg.Database.URL)
	dbCfg.MaxConns = int32(cfg.Database.MaxConns)
	dbCfg.MinConns = int32(cfg.Database.MinConns)
	dbCfg.MaxConnLifetime = cfg.Database.ConnMaxLifetime
	dbCfg.MaxConnIdleTime = cfg.Database.ConnMaxIdleTime

	log.Info("connecting to database")
	db, err := postgres.NewConnection(ctx, dbCfg)
	if err != nil {
		return nil, fmt.Errorf("failed to connect to database: %w", err)
	}
	a.db = db

	sealer, err := security.NewSealer(cfg.Security.CookieSealKey)
	if err != nil {
		a.close()
		return nil, fmt.Errorf("failed to init cookie sealer: %w", err)
	}
	if !sealer.Enabled() {
		log.Warn("COOKIE_SEAL_KEY not set, cookies are stored unencrypted")
	}

	a.creds = postgres.NewCredentialRepository(db, postgres.CredentialRepositoryConfig{
		PrimaryCookie: cfg.Portal.PrimaryCookie,
		Sealer:        sealer,
	})
	a.schedules = postgres.NewScheduleRepository(db)

	if withQueue {
		redisCfg := redis.DefaultConfig()
		redisCfg.Addr = cfg.Redis.Addr
		redisCfg.Password = cfg.Redis.Password
		redisCfg.DB = cfg.Redis.DB
		redisCfg.PoolSize = cfg.Redis.PoolSize
		redisCfg.MinIdleConns = cfg.Redis.MinIdleConns
		redisCfg.DialTimeout = cfg.Redis.DialTimeout
		redisCfg.ReadTimeout = cfg.Redis.ReadTimeout
		redisCfg.WriteTimeout = cfg.Redis.WriteTimeout

		log.Info("connecting to Redis", slog.String("addr", redisCfg.Addr))
		client, err := redis.NewClient(redisCfg)
		if err != nil {
			a.close()
			return nil, fmt.Errorf("failed to connect to redis: %w", err)
		}
		a.redis = client
		a.queue = redis.NewQueue(client.Redis(), redis.QueueConfig{
			Name:        cfg.Queue.Name,
			MaxAttempts: cfg.Queue.MaxAttempts,
		})
	}

	return a, nil
}

func (a *app) close() {
	if a.redis != nil {
		if err := a.redis.Close(); err != nil {
			a.log.Warn("failed to close redis", slog.Any("error", err))
		}
	}
	if a.db != nil {
		a.db.Close()
	}
}

// scrapeHandler wires the portal client, parser and repositories.
func (a *app) scrapeHandler() (*command.ScrapeStudentHandler, error) {
	clientCfg := portal.DefaultClientConfig(a.cfg.Portal.BaseURL)
	if a.cfg.Portal.UserAgent != "" {
		clientCfg.UserAgent = a.cfg.Portal.UserAgent
	}
	clientCfg.Timeout = a.cfg.Portal.RequestTimeout
	clientCfg.MaxRedirects = a.cfg.Portal.MaxRedirects
	clientCfg.RateLimiterConfig.RequestsPerSecond = a.cfg.Portal.RequestsPerSecond
	clientCfg.RateLimiterConfig.BurstSize = a.cfg.Portal.Burst
	clientCfg.RateLimiterConfig.MinInterval = a.cfg.Portal.MinInterval
	clientCfg.Logger = a.log

	client, err := portal.NewClient(clientCfg)
	if err != nil {
		return nil, fmt.Errorf("failed to create portal client: %w", err)
	}

	parser := portal.NewParser(portal.ParserConfig{Location: a.cfg.App.Location, Logger: a.log})
	persister := command.NewPersistScheduleHandler(a.schedules, command.PersistScheduleConfig{Logger: a.log})

	return command.NewScrapeStudentHandler(
		a.creds,
		service.NewPortalFetcherAdapter(client),
		service.NewPortalParserAdapter(parser),
		persister,
		command.ScrapeStudentConfig{Logger: a.log, Metrics: a.metrics},
	), nil
}

// fanoutHandler publishes to the Redis queue. Requires withQueue.
func (a *app) fanoutHandler() *command.FanoutRefreshHandler {
	cfg := command.DefaultFanoutRefreshConfig()
	cfg.BatchSize = a.cfg.Queue.BatchSize
	cfg.Concurrency = a.cfg.Queue.PublishConcurrency
	cfg.Logger = a.log
	cfg.Metrics = a.metrics
	return command.NewFanoutRefreshHandler(a.creds, a.queue, cfg)
}

// migrate applies pending migrations.
func (a *app) migrate(ctx context.Context) error {
	applied, err := postgres.NewMigrator(a.db).Migrate(ctx)
	if err != nil {
		return fmt.Errorf("failed to run migrations: %w", err)
	}
	a.log.Info("database schema is up to date", slog.Int("applied", applied))
	return nil
}
