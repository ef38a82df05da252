package jobs

import (
	"context"
	"fmt"
	"log/slog"

	"github.com/studyhub/schedule-sync/internal/infrastructure/persistence/redis"
	"github.com/studyhub/schedule-sync/pkg/logger"
)

// QueueDepthJobName is the registered name of the queue sampling job.
const QueueDepthJobName = "queue-depth"

// DepthSource reports the lengths of the refresh queue lists.
type DepthSource interface {
	Depth(ctx context.Context) (redis.QueueDepth, error)
}

// DepthRecorder receives sampled depths.
type DepthRecorder interface {
	QueueDepth(pending, processing, dead int64)
}

// QueueDepthJob samples the refresh queue into the metrics sink so a
// growing backlog or dead-letter list is visible without polling /queue.
type QueueDepthJob struct {
	source   DepthSource
	recorder DepthRecorder
	logger   *slog.Logger
}

// NewQueueDepthJob creates a new QueueDepthJob.
func NewQueueDepthJob(source DepthSource, recorder DepthRecorder, log *slog.Logger) *QueueDepthJob {
	if log == nil {
		log = slog.Default()
	}
	return &QueueDepthJob{
		source:   source,
		recorder: recorder,
		logger:   log.With(logger.Component("queue_depth_job")),
	}
}

// Name returns the job name.
func (j *QueueDepthJob) Name() string { return QueueDepthJobName }

// Description returns the job description.
func (j *QueueDepthJob) Description() string {
	return "Samples pending, processing and dead-letter queue lengths"
}

// Run takes one sample.
func (j *QueueDepthJob) Run(ctx context.Context) error {
	depth, err := j.source.Depth(ctx)
	if err != nil {
		return fmt.Errorf("sample queue depth: %w", err)
	}
	j.recorder.QueueDepth(depth.Pending, depth.Processing, depth.Dead)
	if depth.Dead > 0 {
		j.logger.Debug("dead-letter list not empty", slog.Int64("dead", depth.Dead))
	}
	return nil
}
