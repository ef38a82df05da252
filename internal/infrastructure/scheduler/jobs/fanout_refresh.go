// Package jobs contains the scheduled jobs of the schedule sync worker.
package jobs

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/google/uuid"

	"github.com/studyhub/schedule-sync/internal/application/command"
	"github.com/studyhub/schedule-sync/internal/infrastructure/persistence/redis"
	"github.com/studyhub/schedule-sync/pkg/logger"
)

// ══════════════════════════════════════════════════════════════════════════════
// FAN-OUT REFRESH JOB
// ══════════════════════════════════════════════════════════════════════════════

// FanoutJobName is the registered name of the fan-out job.
const FanoutJobName = "fanout-refresh"

// FanoutRunner runs one fan-out.
type FanoutRunner interface {
	Run(ctx context.Context) (*command.FanoutResult, error)
}

// Locker takes a named lock. It returns redis.ErrLockHeld when another
// process owns it.
type Locker interface {
	TryLock(ctx context.Context, resource string, ttl time.Duration) (release func(context.Context) error, err error)
}

// FanoutJobConfig configures a FanoutJob.
type FanoutJobConfig struct {
	// Locker makes the fan-out single-flight across worker replicas. Nil
	// disables locking.
	Locker Locker

	// LockTTL bounds how long a crashed holder blocks other replicas.
	LockTTL time.Duration

	Logger *slog.Logger
}

// FanoutJob enqueues a refresh job for every active student.
type FanoutJob struct {
	runner FanoutRunner
	config FanoutJobConfig
	logger *slog.Logger
}

// NewFanoutJob creates a new FanoutJob.
func NewFanoutJob(runner FanoutRunner, config FanoutJobConfig) *FanoutJob {
	if config.Logger == nil {
		config.Logger = slog.Default()
	}
	if config.LockTTL <= 0 {
		config.LockTTL = 10 * time.Minute
	}
	return &FanoutJob{
		runner: runner,
		config: config,
		logger: config.Logger.With(logger.Component("fanout_job")),
	}
}

// Name returns the job name.
func (j *FanoutJob) Name() string { return FanoutJobName }

// Description returns the job description.
func (j *FanoutJob) Description() string {
	return "Enqueues a schedule refresh job for every active student"
}

// Run executes one fan-out. A held lock skips the run without error.
func (j *FanoutJob) Run(ctx context.Context) error {
	if j.config.Locker != nil {
		release, err := j.config.Locker.TryLock(ctx, FanoutJobName, j.config.LockTTL)
		if errors.Is(err, redis.ErrLockHeld) {
			j.logger.Info("fan-out already running elsewhere, skipping")
			return nil
		}
		if err != nil {
			return fmt.Errorf("acquire fan-out lock: %w", err)
		}
		defer func() {
			if err := release(context.WithoutCancel(ctx)); err != nil {
				j.logger.Warn("failed to release fan-out lock", logger.Err(err))
			}
		}()
	}

	result, err := j.runner.Run(ctx)
	if result != nil {
		j.logger.Info("fan-out finished",
			slog.String("status", string(result.Status())),
			slog.Int("scheduled", result.TotalScheduled),
			slog.Int("skipped", result.SkippedCount),
			slog.Int("failed_jobs", result.FailedJobs),
		)
	}
	return err
}

// RedisLocker implements Locker with redis.Client.AcquireLock. Every
// acquisition uses a fresh owner token.
type RedisLocker struct {
	Client *redis.Client
}

// TryLock acquires resource for ttl.
func (l RedisLocker) TryLock(ctx context.Context, resource string, ttl time.Duration) (func(context.Context) error, error) {
	lock, err := l.Client.AcquireLock(ctx, resource, uuid.NewString(), ttl)
	if err != nil {
		return nil, err
	}
	return lock.Release, nil
}
