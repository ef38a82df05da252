package main

import (
	"context"
	"fmt"
	"log/slog"

	"github.com/spf13/cobra"
	"golang.org/x/sync/errgroup"

	"github.com/studyhub/schedule-sync/config"
	"github.com/studyhub/schedule-sync/internal/infrastructure/messaging"
	"github.com/studyhub/schedule-sync/internal/infrastructure/scheduler"
	"github.com/studyhub/schedule-sync/internal/infrastructure/scheduler/jobs"
	httpserver "github.com/studyhub/schedule-sync/internal/interface/http"
	"github.com/studyhub/schedule-sync/internal/interface/http/handlers"
	"github.com/studyhub/schedule-sync/pkg/logger"
)

func newRunCmd(opts *rootOptions) *cobra.Command {
	var (
		workers     int
		noScheduler bool
	)

	cmd := &cobra.Command{
		Use:   "run",
		Short: "Run queue consumers, the fan-out trigger and the ops server",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, log, err := opts.loadConfig()
			if err != nil {
				return err
			}
			if workers > 0 {
				cfg.Queue.Workers = workers
			}
			if noScheduler {
				cfg.Scheduler.Enabled = false
			}
			return runWorker(cmd.Context(), cfg, log)
		},
	}

	cmd.Flags().IntVar(&workers, "workers", 0, "Number of consumer workers (overrides QUEUE_WORKERS)")
	cmd.Flags().BoolVar(&noScheduler, "no-scheduler", false, "Do not run the periodic fan-out in this process")
	return cmd
}

func runWorker(ctx context.Context, cfg *config.Config, log *slog.Logger) error {
	log.Info("starting schedule sync worker",
		slog.String("env", string(cfg.App.Environment)),
		slog.String("timezone", cfg.App.Timezone),
		slog.Int("workers", cfg.Queue.Workers),
	)

	a, err := newApp(ctx, cfg, log, true)
	if err != nil {
		return err
	}
	defer a.close()

	if cfg.Database.AutoMigrate {
		if err := a.migrate(ctx); err != nil {
			return err
		}
	}

	// Jobs left in flight by a crashed process go back to pending.
	if moved, err := a.queue.RequeueProcessing(ctx); err != nil {
		return fmt.Errorf("failed to requeue in-flight jobs: %w", err)
	} else if moved > 0 {
		log.Warn("requeued in-flight jobs", slog.Int("count", moved))
	}

	scrape, err := a.scrapeHandler()
	if err != nil {
		return err
	}

	consumer := messaging.NewConsumer(a.queue, scrape, messaging.ConsumerConfig{
		Workers:        cfg.Queue.Workers,
		ReceiveTimeout: cfg.Queue.ReceiveTimeout,
		JobTimeout:     cfg.Queue.JobTimeout,
		Logger:         log,
		Metrics:        a.metrics,
	})

	sched := scheduler.NewScheduler(scheduler.SchedulerConfig{
		Logger:     log,
		Timezone:   cfg.App.Location,
		RunOnStart: cfg.Scheduler.RunOnStart,
	})
	if cfg.Scheduler.Enabled {
		fanoutSchedule, err := scheduler.ParseCronSchedule(cfg.Scheduler.FanoutCron, cfg.App.Location)
		if err != nil {
			return err
		}
		fanoutJob := jobs.NewFanoutJob(a.fanoutHandler(), jobs.FanoutJobConfig{
			Locker:  jobs.RedisLocker{Client: a.redis},
			LockTTL: cfg.Scheduler.LockTTL,
			Logger:  log,
		})
		if err := sched.Register(fanoutJob, fanoutSchedule); err != nil {
			return err
		}
	}

	if cfg.Observability.MetricsEnabled && cfg.Observability.QueueSampleInterval > 0 {
		sample := &scheduler.IntervalSchedule{Interval: cfg.Observability.QueueSampleInterval, Aligned: true}
		if err := sched.Register(jobs.NewQueueDepthJob(a.queue, a.metrics, log), sample); err != nil {
			return err
		}
	}

	health := handlers.NewHealthChecker(cfg.App.Version)
	health.AddCheck("postgres", handlers.PingCheck(a.db))
	health.AddCheck("redis", handlers.PingCheck(a.redis))

	serverCfg := httpserver.DefaultConfig()
	serverCfg.Addr = cfg.Observability.HTTPAddr
	serverCfg.EnableMetrics = cfg.Observability.MetricsEnabled
	server := httpserver.NewServer(serverCfg, httpserver.Dependencies{
		Health:   health,
		Gatherer: a.registry,
		Jobs:     sched,
		Queue:    a.queue,
		Logger:   log,
	})

	g, gctx := errgroup.WithContext(ctx)

	g.Go(func() error {
		return consumer.Run(gctx)
	})

	g.Go(server.Start)
	g.Go(func() error {
		<-gctx.Done()
		shutdownCtx, cancel := context.WithTimeout(context.WithoutCancel(gctx), cfg.App.ShutdownTimeout)
		defer cancel()
		return server.Shutdown(shutdownCtx)
	})

	if err := sched.Start(gctx); err != nil {
		return err
	}
	g.Go(func() error {
		<-gctx.Done()
		return sched.Stop()
	})

	log.Info("worker started", slog.String("http_addr", serverCfg.Addr))

	err = g.Wait()
	if err != nil {
		log.Error("worker stopped with error", logger.Err(err))
		return err
	}
	log.Info("worker stopped")
	return nil
}
