package command

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"golang.org/x/sync/errgroup"

	"github.com/studyhub/schedule-sync/internal/domain/job"
	"github.com/studyhub/schedule-sync/internal/domain/session"
	"github.com/studyhub/schedule-sync/internal/metrics"
	"github.com/studyhub/schedule-sync/pkg/logger"
	"github.com/studyhub/schedule-sync/pkg/retry"
)

// ══════════════════════════════════════════════════════════════════════════════
// FAN-OUT REFRESH COMMAND
// Enumerates every known credential and publishes one refresh job per student
// in bounded batches.
// ══════════════════════════════════════════════════════════════════════════════

const (
	// DefaultFanoutBatchSize is the maximum number of messages the queue
	// accepts per publish call.
	DefaultFanoutBatchSize = 100

	// DefaultFanoutConcurrency caps parallel publish calls.
	DefaultFanoutConcurrency = 4

	// DefaultPublishAttempts bounds retries of one batch publish.
	DefaultPublishAttempts = 3
)

// ErrPartialFanout is returned when at least one batch failed to publish.
var ErrPartialFanout = errors.New("fan-out partially scheduled")

// FanoutStatus tells fully scheduled runs apart from partial ones.
type FanoutStatus string

const (
	FanoutComplete FanoutStatus = "complete"
	FanoutPartial  FanoutStatus = "partial"
	FanoutFailed   FanoutStatus = "failed"
)

// FanoutResult is the aggregate of one fan-out run.
type FanoutResult struct {
	// TotalScheduled counts jobs in successfully published batches only.
	TotalScheduled int
	// BatchCount counts successfully published batches.
	BatchCount   int
	SkippedCount int

	FailedBatches int
	FailedJobs    int

	// EnumerationErr is set when listing credentials stopped early.
	EnumerationErr error

	Duration time.Duration
}

// Status derives the run status from the counters.
func (r *FanoutResult) Status() FanoutStatus {
	switch {
	case r.FailedBatches == 0 && r.EnumerationErr == nil:
		return FanoutComplete
	case r.BatchCount == 0:
		return FanoutFailed
	default:
		return FanoutPartial
	}
}

// JobPublisher publishes one batch of jobs in a single network call.
type JobPublisher interface {
	PublishBatch(ctx context.Context, jobs []job.RefreshJob) error
}

// FanoutRefreshConfig contains configuration for the handler.
type FanoutRefreshConfig struct {
	BatchSize       int
	Concurrency     int
	PublishAttempts int

	// RetryDelay is the initial backoff between publish attempts.
	RetryDelay time.Duration

	Logger  *slog.Logger
	Metrics metrics.Sink
	Now     func() time.Time
}

// DefaultFanoutRefreshConfig returns default configuration.
func DefaultFanoutRefreshConfig() FanoutRefreshConfig {
	return FanoutRefreshConfig{
		BatchSize:       DefaultFanoutBatchSize,
		Concurrency:     DefaultFanoutConcurrency,
		PublishAttempts: DefaultPublishAttempts,
		RetryDelay:      200 * time.Millisecond,
	}
}

// FanoutRefreshHandler is the job fan-out.
type FanoutRefreshHandler struct {
	lister    session.CredentialLister
	publisher JobPublisher
	config    FanoutRefreshConfig
	retrier   *retry.Retrier
	logger    *slog.Logger
	metrics   metrics.Sink
}

// NewFanoutRefreshHandler creates a new FanoutRefreshHandler.
func NewFanoutRefreshHandler(lister session.CredentialLister, publisher JobPublisher, config FanoutRefreshConfig) *FanoutRefreshHandler {
	defaults := DefaultFanoutRefreshConfig()
	if config.BatchSize <= 0 {
		config.BatchSize = defaults.BatchSize
	}
	if config.Concurrency <= 0 {
		config.Concurrency = defaults.Concurrency
	}
	if config.PublishAttempts <= 0 {
		config.PublishAttempts = defaults.PublishAttempts
	}
	if config.RetryDelay <= 0 {
		config.RetryDelay = defaults.RetryDelay
	}
	if config.Logger == nil {
		config.Logger = slog.Default()
	}
	if config.Metrics == nil {
		config.Metrics = metrics.NewNoopSink()
	}
	if config.Now == nil {
		config.Now = time.Now
	}

	log := config.Logger.With(logger.Component("fanout_refresh"))

	return &FanoutRefreshHandler{
		lister:    lister,
		publisher: publisher,
		config:    config,
		retrier: retry.New(
			retry.WithMaxAttempts(config.PublishAttempts),
			retry.WithInitialDelay(config.RetryDelay),
			retry.WithMaxDelay(5*time.Second),
			retry.WithJitter(0.2),
			retry.WithRetryIf(func(err error) bool {
				return !errors.Is(err, context.Canceled) && !errors.Is(err, context.DeadlineExceeded)
			}),
			retry.WithOnRetry(func(attempt int, err error, delay time.Duration) {
				log.Warn("retrying batch publish", slog.Int("attempt", attempt), slog.Duration("delay", delay), logger.Err(err))
			}),
		),
		logger:  log,
		metrics: config.Metrics,
	}
}

// Run publishes a refresh job for the current week of every student.
func (h *FanoutRefreshHandler) Run(ctx context.Context) (*FanoutResult, error) {
	return h.RunForWeek(ctx, "")
}

// RunForWeek publishes refresh jobs for the given week key. Records missing
// an id are skipped without stopping enumeration. A run where any batch
// failed returns its result together with ErrPartialFanout.
func (h *FanoutRefreshHandler) RunForWeek(ctx context.Context, weekKey string) (*FanoutResult, error) {
	start := h.config.Now()
	result := &FanoutResult{}

	var mu sync.Mutex
	var g errgroup.Group
	g.SetLimit(h.config.Concurrency)

	publish := func(batch []job.RefreshJob) {
		// Go blocks while Concurrency batches are in flight, which also bounds
		// how many pending batches are held in memory.
		g.Go(func() error {
			err := h.retrier.Do(ctx, func(ctx context.Context) error {
				return h.publisher.PublishBatch(ctx, batch)
			})

			mu.Lock()
			defer mu.Unlock()
			if err != nil {
				result.FailedBatches++
				result.FailedJobs += len(batch)
				h.logger.Error("batch publish failed", slog.Int("jobs", len(batch)), logger.Err(err))
				return nil
			}
			result.BatchCount++
			result.TotalScheduled += len(batch)
			return nil
		})
	}

	batch := make([]job.RefreshJob, 0, h.config.BatchSize)
	enumErr := h.lister.ListRefs(ctx, func(ref session.CredentialRef) error {
		if !ref.IsComplete() {
			mu.Lock()
			result.SkippedCount++
			mu.Unlock()
			h.logger.Warn("skipping credential with missing id",
				logger.StudentID(ref.StudentID),
				logger.SchoolID(ref.SchoolID),
			)
			return nil
		}

		batch = append(batch, job.NewRefreshJob(ref.StudentID, ref.SchoolID, weekKey, h.config.Now().UTC()))
		if len(batch) == h.config.BatchSize {
			publish(batch)
			batch = make([]job.RefreshJob, 0, h.config.BatchSize)
		}
		return ctx.Err()
	})
	if len(batch) > 0 {
		publish(batch)
	}

	_ = g.Wait()

	result.Duration = h.config.Now().Sub(start)
	if enumErr != nil {
		result.EnumerationErr = enumErr
	}

	status := result.Status()
	h.metrics.FanoutCompleted(string(status), result.TotalScheduled, result.SkippedCount, result.FailedJobs)

	h.logger.Info("fan-out finished",
		slog.String("status", string(status)),
		slog.Int("total_scheduled", result.TotalScheduled),
		slog.Int("batch_count", result.BatchCount),
		slog.Int("skipped", result.SkippedCount),
		slog.Int("failed_batches", result.FailedBatches),
		logger.Latency(result.Duration),
	)

	switch {
	case enumErr != nil:
		return result, fmt.Errorf("fanout_refresh: list credentials: %w", enumErr)
	case status != FanoutComplete:
		return result, fmt.Errorf("fanout_refresh: %d of %d batches failed: %w",
			result.FailedBatches, result.FailedBatches+result.BatchCount, ErrPartialFanout)
	}
	return result, nil
}
