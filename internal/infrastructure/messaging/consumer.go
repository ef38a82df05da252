// Package messaging runs the refresh job consumer: a pool of workers pulling
// jobs from the task queue and settling each delivery by the job outcome.
package messaging

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"runtime/debug"
	"sync"
	"time"

	"github.com/studyhub/schedule-sync/internal/domain/job"
	"github.com/studyhub/schedule-sync/internal/domain/shared"
	"github.com/studyhub/schedule-sync/internal/infrastructure/persistence/redis"
	"github.com/studyhub/schedule-sync/internal/metrics"
	"github.com/studyhub/schedule-sync/pkg/logger"
)

// ══════════════════════════════════════════════════════════════════════════════
// DEPENDENCIES
// ══════════════════════════════════════════════════════════════════════════════

// JobQueue is the consuming side of the task queue.
type JobQueue interface {
	Receive(ctx context.Context, timeout time.Duration) (*redis.Delivery, error)
	Ack(ctx context.Context, d *redis.Delivery) error
	Retry(ctx context.Context, d *redis.Delivery, reason string) (deadLettered bool, err error)
	Reject(ctx context.Context, d *redis.Delivery, reason string) error
}

// JobHandler runs one refresh job.
type JobHandler interface {
	HandleJob(ctx context.Context, j job.RefreshJob) error
}

// JobHandlerFunc adapts a function to JobHandler.
type JobHandlerFunc func(ctx context.Context, j job.RefreshJob) error

func (f JobHandlerFunc) HandleJob(ctx context.Context, j job.RefreshJob) error {
	return f(ctx, j)
}

// ══════════════════════════════════════════════════════════════════════════════
// OUTCOMES
// ══════════════════════════════════════════════════════════════════════════════

// Outcome is how a delivery is settled.
type Outcome string

const (
	OutcomeAck    Outcome = metrics.DeliveryAcked
	OutcomeRetry  Outcome = metrics.DeliveryRetried
	OutcomeReject Outcome = metrics.DeliveryRejected
)

// Classify maps a job error to its settlement. Bad input, dead sessions and
// unknown students need an operator and are rejected. Transport, HTTP and
// storage failures are retried by the queue.
func Classify(err error) Outcome {
	switch {
	case err == nil:
		return OutcomeAck
	case shared.IsValidation(err), shared.IsSessionInvalid(err), shared.IsNotFound(err):
		return OutcomeReject
	default:
		return OutcomeRetry
	}
}

// ══════════════════════════════════════════════════════════════════════════════
// CONSUMER
// ══════════════════════════════════════════════════════════════════════════════

// ConsumerConfig contains configuration for the Consumer.
type ConsumerConfig struct {
	// Workers is the number of concurrent jobs.
	Workers int

	// ReceiveTimeout is how long one receive blocks waiting for a job.
	ReceiveTimeout time.Duration

	// JobTimeout bounds a single job.
	JobTimeout time.Duration

	// ErrorBackoff is the pause after a failed receive.
	ErrorBackoff time.Duration

	Logger  *slog.Logger
	Metrics metrics.Sink
}

// DefaultConsumerConfig returns default configuration.
func DefaultConsumerConfig() ConsumerConfig {
	return ConsumerConfig{
		Workers:        4,
		ReceiveTimeout: 5 * time.Second,
		JobTimeout:     60 * time.Second,
		ErrorBackoff:   time.Second,
	}
}

// Consumer pulls jobs from a JobQueue and hands them to a JobHandler.
type Consumer struct {
	queue   JobQueue
	handler JobHandler
	config  ConsumerConfig
	logger  *slog.Logger
	metrics metrics.Sink
}

// NewConsumer creates a new Consumer.
func NewConsumer(queue JobQueue, handler JobHandler, config ConsumerConfig) *Consumer {
	defaults := DefaultConsumerConfig()
	if config.Workers <= 0 {
		config.Workers = defaults.Workers
	}
	if config.ReceiveTimeout <= 0 {
		config.ReceiveTimeout = defaults.ReceiveTimeout
	}
	if config.JobTimeout <= 0 {
		config.JobTimeout = defaults.JobTimeout
	}
	if config.ErrorBackoff <= 0 {
		config.ErrorBackoff = defaults.ErrorBackoff
	}
	if config.Logger == nil {
		config.Logger = slog.Default()
	}
	if config.Metrics == nil {
		config.Metrics = metrics.NewNoopSink()
	}
	return &Consumer{
		queue:   queue,
		handler: handler,
		config:  config,
		logger:  config.Logger.With(logger.Component("consumer")),
		metrics: config.Metrics,
	}
}

// Run starts the workers and blocks until ctx is cancelled and every
// in-flight job has been settled.
func (c *Consumer) Run(ctx context.Context) error {
	c.logger.Info("consumer started", slog.Int("workers", c.config.Workers))

	var wg sync.WaitGroup
	for i := 0; i < c.config.Workers; i++ {
		wg.Add(1)
		go func(worker int) {
			defer wg.Done()
			c.work(ctx, worker)
		}(i)
	}
	wg.Wait()

	c.logger.Info("consumer stopped")
	return nil
}

func (c *Consumer) work(ctx context.Context, worker int) {
	log := c.logger.With(slog.Int("worker", worker))
	for ctx.Err() == nil {
		d, err := c.queue.Receive(ctx, c.config.ReceiveTimeout)
		if err != nil {
			if ctx.Err() != nil {
				return
			}
			if errors.Is(err, redis.ErrMalformedMessage) {
				c.metrics.QueueDelivery(string(OutcomeReject))
				log.Warn("malformed message dead-lettered", logger.Err(err))
				continue
			}
			log.Error("receive failed", logger.Err(err))
			sleep(ctx, c.config.ErrorBackoff)
			continue
		}
		if d == nil {
			continue
		}
		c.process(ctx, log, d)
	}
}

// process runs one delivery and settles it.
func (c *Consumer) process(ctx context.Context, log *slog.Logger, d *redis.Delivery) {
	c.metrics.JobsInFlightIncr()
	defer c.metrics.JobsInFlightDecr()

	log = log.With(
		logger.JobID(d.Job.ID),
		logger.StudentID(d.Job.StudentID),
		slog.Int("attempt", d.Job.Attempt),
	)

	err := d.Job.Validate()
	if err == nil {
		jobCtx, cancel := context.WithTimeout(ctx, c.config.JobTimeout)
		err = c.run(jobCtx, d.Job)
		cancel()
	}

	// Shutdown interrupted the job. The message stays in the processing list
	// and is requeued on the next start.
	if err != nil && ctx.Err() != nil && errors.Is(err, context.Canceled) {
		log.Warn("job interrupted by shutdown, left for requeue")
		return
	}

	// Settle even while shutting down.
	settleCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), 5*time.Second)
	defer cancel()

	outcome := Classify(err)
	var settleErr error
	switch outcome {
	case OutcomeAck:
		settleErr = c.queue.Ack(settleCtx, d)
	case OutcomeReject:
		log.Warn("job rejected", logger.ErrorClass(shared.Class(err)), logger.Err(err))
		settleErr = c.queue.Reject(settleCtx, d, err.Error())
	case OutcomeRetry:
		var dead bool
		dead, settleErr = c.queue.Retry(settleCtx, d, err.Error())
		if dead {
			outcome = OutcomeReject
			log.Error("job dead-lettered after retries", logger.ErrorClass(shared.Class(err)), logger.Err(err))
		} else {
			log.Warn("job scheduled for retry", logger.ErrorClass(shared.Class(err)), logger.Err(err))
		}
	}

	if settleErr != nil {
		log.Error("failed to settle delivery", slog.String("outcome", string(outcome)), logger.Err(settleErr))
		return
	}
	c.metrics.QueueDelivery(string(outcome))
}

// run calls the handler, turning a panic into an error.
func (c *Consumer) run(ctx context.Context, j job.RefreshJob) (err error) {
	defer func() {
		if r := recover(); r != nil {
			c.logger.Error("handler panic recovered",
				logger.JobID(j.ID),
				slog.Any("panic", r),
				slog.String("stack", string(debug.Stack())),
			)
			err = fmt.Errorf("handler panic: %v", r)
		}
	}()
	return c.handler.HandleJob(ctx, j)
}

func sleep(ctx context.Context, d time.Duration) {
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-ctx.Done():
	case <-t.C:
	}
}
