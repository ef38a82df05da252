package redis

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"

	"github.com/studyhub/schedule-sync/internal/domain/job"
	"github.com/studyhub/schedule-sync/pkg/retry"
)

// ══════════════════════════════════════════════════════════════════════════════
// REFRESH JOB QUEUE
// Reliable-list pattern: messages move atomically from the pending list to a
// processing list on receive and leave it only on ack, retry or reject.
// ══════════════════════════════════════════════════════════════════════════════

const (
	// DefaultQueueName names the refresh job queue.
	DefaultQueueName = "schedule-refresh"

	// DefaultMaxAttempts bounds deliveries of one job before dead-lettering.
	DefaultMaxAttempts = 5
)

// ErrMalformedMessage is returned by Receive for a message that is not a job.
// The message has already been moved to the dead-letter list.
var ErrMalformedMessage = errors.New("redis: malformed queue message")

// QueueConfig configures a Queue.
type QueueConfig struct {
	Name        string
	MaxAttempts int
	Now         func() time.Time
}

// Queue is the refresh job queue.
type Queue struct {
	client      *redis.Client
	pending     string
	processing  string
	dead        string
	maxAttempts int
	now         func() time.Time
}

// NewQueue creates a queue on client.
func NewQueue(client *redis.Client, cfg QueueConfig) *Queue {
	if cfg.Name == "" {
		cfg.Name = DefaultQueueName
	}
	if cfg.MaxAttempts <= 0 {
		cfg.MaxAttempts = DefaultMaxAttempts
	}
	if cfg.Now == nil {
		cfg.Now = time.Now
	}
	base := PrefixQueue + cfg.Name
	return &Queue{
		client:      client,
		pending:     base + ":pending",
		processing:  base + ":processing",
		dead:        base + ":dead",
		maxAttempts: cfg.MaxAttempts,
		now:         cfg.Now,
	}
}

// Delivery is a received job. Raw is the exact list element, used to remove
// it from the processing list.
type Delivery struct {
	Job job.RefreshJob
	Raw string
}

// deadLetter is the stored shape of a dead-lettered message.
type deadLetter struct {
	Message  string    `json:"message"`
	Reason   string    `json:"reason"`
	FailedAt time.Time `json:"failed_at"`
}

// PublishBatch appends every job with a single RPUSH.
func (q *Queue) PublishBatch(ctx context.Context, jobs []job.RefreshJob) error {
	if len(jobs) == 0 {
		return nil
	}
	values := make([]any, len(jobs))
	for i, j := range jobs {
		data, err := json.Marshal(j)
		if err != nil {
			return retry.Permanent(fmt.Errorf("redis: marshal job %s: %w", j.ID, err))
		}
		values[i] = string(data)
	}
	if err := q.client.RPush(ctx, q.pending, values...).Err(); err != nil {
		return fmt.Errorf("redis: publish %d jobs: %w", len(jobs), err)
	}
	return nil
}

// Receive waits up to timeout for a job. It returns nil, nil on timeout.
func (q *Queue) Receive(ctx context.Context, timeout time.Duration) (*Delivery, error) {
	raw, err := q.client.BLMove(ctx, q.pending, q.processing, "LEFT", "RIGHT", timeout).Result()
	if err != nil {
		if errors.Is(err, redis.Nil) {
			return nil, nil
		}
		return nil, fmt.Errorf("redis: receive: %w", err)
	}

	var j job.RefreshJob
	if err := json.Unmarshal([]byte(raw), &j); err != nil {
		if dlErr := q.moveToDead(ctx, raw, "malformed: "+err.Error()); dlErr != nil {
			return nil, dlErr
		}
		return nil, fmt.Errorf("%w: %v", ErrMalformedMessage, err)
	}
	return &Delivery{Job: j, Raw: raw}, nil
}

// Ack removes a handled delivery.
func (q *Queue) Ack(ctx context.Context, d *Delivery) error {
	if err := q.client.LRem(ctx, q.processing, 1, d.Raw).Err(); err != nil {
		return fmt.Errorf("redis: ack %s: %w", d.Job.ID, err)
	}
	return nil
}

// Retry re-enqueues the job with its attempt counter bumped. Once the job has
// used MaxAttempts deliveries it is dead-lettered instead and deadLettered is true.
func (q *Queue) Retry(ctx context.Context, d *Delivery, reason string) (deadLettered bool, err error) {
	next := d.Job.NextAttempt()
	if next.Attempt >= q.maxAttempts {
		return true, q.moveToDead(ctx, d.Raw, fmt.Sprintf("attempts exhausted (%d): %s", next.Attempt, reason))
	}

	data, err := json.Marshal(next)
	if err != nil {
		return false, fmt.Errorf("redis: marshal job %s: %w", next.ID, err)
	}

	_, err = q.client.TxPipelined(ctx, func(pipe redis.Pipeliner) error {
		pipe.LRem(ctx, q.processing, 1, d.Raw)
		pipe.RPush(ctx, q.pending, string(data))
		return nil
	})
	if err != nil {
		return false, fmt.Errorf("redis: retry %s: %w", d.Job.ID, err)
	}
	return false, nil
}

// Reject dead-letters the delivery without retrying.
func (q *Queue) Reject(ctx context.Context, d *Delivery, reason string) error {
	return q.moveToDead(ctx, d.Raw, reason)
}

func (q *Queue) moveToDead(ctx context.Context, raw, reason string) error {
	entry, err := json.Marshal(deadLetter{Message: raw, Reason: reason, FailedAt: q.now().UTC()})
	if err != nil {
		return fmt.Errorf("redis: marshal dead letter: %w", err)
	}
	_, err = q.client.TxPipelined(ctx, func(pipe redis.Pipeliner) error {
		pipe.LRem(ctx, q.processing, 1, raw)
		pipe.RPush(ctx, q.dead, string(entry))
		return nil
	})
	if err != nil {
		return fmt.Errorf("redis: dead-letter: %w", err)
	}
	return nil
}

// RequeueProcessing moves messages left in the processing list by a crashed
// worker back to the pending list. Call it before consumers start.
func (q *Queue) RequeueProcessing(ctx context.Context) (int, error) {
	moved := 0
	for {
		err := q.client.LMove(ctx, q.processing, q.pending, "LEFT", "LEFT").Err()
		if errors.Is(err, redis.Nil) {
			return moved, nil
		}
		if err != nil {
			return moved, fmt.Errorf("redis: requeue processing: %w", err)
		}
		moved++
	}
}

// QueueDepth holds list lengths.
type QueueDepth struct {
	Pending    int64
	Processing int64
	Dead       int64
}

// Depth returns the length of each list.
func (q *Queue) Depth(ctx context.Context) (QueueDepth, error) {
	var pending, processing, dead *redis.IntCmd
	_, err := q.client.Pipelined(ctx, func(pipe redis.Pipeliner) error {
		pending = pipe.LLen(ctx, q.pending)
		processing = pipe.LLen(ctx, q.processing)
		dead = pipe.LLen(ctx, q.dead)
		return nil
	})
	if err != nil {
		return QueueDepth{}, fmt.Errorf("redis: queue depth: %w", err)
	}
	return QueueDepth{Pending: pending.Val(), Processing: processing.Val(), Dead: dead.Val()}, nil
}
