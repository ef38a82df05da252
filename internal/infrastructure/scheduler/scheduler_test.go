package scheduler

import (
	"context"
	"errors"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/studyhub/schedule-sync/pkg/logger"
)

type testJob struct {
	name  string
	runs  atomic.Int32
	block chan struct{}
	err   error
}

func (j *testJob) Name() string        { return j.name }
func (j *testJob) Description() string { return "test job " + j.name }

func (j *testJob) Run(ctx context.Context) error {
	j.runs.Add(1)
	if j.block != nil {
		select {
		case <-j.block:
		case <-ctx.Done():
			return ctx.Err()
		}
	}
	return j.err
}

func newTestScheduler(cfg SchedulerConfig) *Scheduler {
	cfg.Logger = logger.Discard()
	if cfg.TickInterval == 0 {
		cfg.TickInterval = 5 * time.Millisecond
	}
	return NewScheduler(cfg)
}

func TestScheduler_Register(t *testing.T) {
	s := newTestScheduler(SchedulerConfig{})
	job := &testJob{name: "a"}

	require.NoError(t, s.Register(job, NewIntervalSchedule(time.Hour)))
	assert.ErrorIs(t, s.Register(job, NewIntervalSchedule(time.Hour)), ErrJobAlreadyExists)
	assert.ErrorIs(t, s.Register(nil, NewIntervalSchedule(time.Hour)), ErrNilJob)
	assert.ErrorIs(t, s.Register(&testJob{name: "b"}, nil), ErrNilSchedule)

	infos := s.ListJobs()
	require.Len(t, infos, 1)
	assert.Equal(t, "a", infos[0].Name)
	assert.Equal(t, "@every 1h0m0s", infos[0].Schedule)
}

func TestScheduler_RunNow(t *testing.T) {
	s := newTestScheduler(SchedulerConfig{})
	ok := &testJob{name: "ok"}
	failing := &testJob{name: "failing", err: errors.New("boom")}
	require.NoError(t, s.Register(ok, NewIntervalSchedule(time.Hour)))
	require.NoError(t, s.Register(failing, NewIntervalSchedule(time.Hour)))

	result, err := s.RunNow(context.Background(), "ok")
	require.NoError(t, err)
	assert.True(t, result.Success())
	assert.True(t, result.Manual)

	result, err = s.RunNow(context.Background(), "failing")
	assert.EqualError(t, err, "boom")
	assert.False(t, result.Success())

	_, err = s.RunNow(context.Background(), "missing")
	assert.ErrorIs(t, err, ErrJobNotFound)

	infos := s.ListJobs()
	assert.Equal(t, int64(1), infos[0].FailCount, "failing sorts first")
	assert.Equal(t, int64(1), infos[1].RunCount)
}

func TestScheduler_RunsDueJobs(t *testing.T) {
	var mu sync.Mutex
	var results []JobResult
	s := newTestScheduler(SchedulerConfig{
		OnJobComplete: func(r JobResult) {
			mu.Lock()
			results = append(results, r)
			mu.Unlock()
		},
	})
	job := &testJob{name: "tick"}
	require.NoError(t, s.Register(job, NewIntervalSchedule(10*time.Millisecond)))

	require.NoError(t, s.Start(context.Background()))
	assert.ErrorIs(t, s.Start(context.Background()), ErrSchedulerAlreadyRunning)

	require.Eventually(t, func() bool { return job.runs.Load() >= 2 }, time.Second, 5*time.Millisecond)
	require.NoError(t, s.Stop())
	assert.ErrorIs(t, s.Stop(), ErrSchedulerNotRunning)

	mu.Lock()
	defer mu.Unlock()
	require.NotEmpty(t, results)
	assert.False(t, results[0].Manual)
}

func TestScheduler_NoOverlap(t *testing.T) {
	s := newTestScheduler(SchedulerConfig{RunOnStart: true})
	job := &testJob{name: "slow", block: make(chan struct{})}
	require.NoError(t, s.Register(job, NewIntervalSchedule(time.Millisecond)))

	require.NoError(t, s.Start(context.Background()))
	require.Eventually(t, func() bool { return job.runs.Load() == 1 }, time.Second, time.Millisecond)

	// Many ticks pass while the first run is blocked.
	time.Sleep(50 * time.Millisecond)
	assert.Equal(t, int32(1), job.runs.Load())

	_, err := s.RunNow(context.Background(), "slow")
	assert.ErrorIs(t, err, ErrJobRunning)
	assert.True(t, s.ListJobs()[0].Running)

	close(job.block)
	require.Eventually(t, func() bool { return job.runs.Load() >= 2 }, time.Second, time.Millisecond)
	require.NoError(t, s.Stop())
}

func TestScheduler_StopCancelsRunningJob(t *testing.T) {
	s := newTestScheduler(SchedulerConfig{RunOnStart: true})
	job := &testJob{name: "stuck", block: make(chan struct{})}
	require.NoError(t, s.Register(job, NewIntervalSchedule(time.Hour)))

	require.NoError(t, s.Start(context.Background()))
	require.Eventually(t, func() bool { return job.runs.Load() == 1 }, time.Second, time.Millisecond)

	done := make(chan struct{})
	go func() {
		_ = s.Stop()
		close(done)
	}()
	select {
	case <-done:
	case <-time.After(time.Second):
		t.Fatal("Stop did not return")
	}
	assert.ErrorIs(t, s.ListJobs()[0].LastResult.Error, context.Canceled)
}

func TestIntervalSchedule_Next(t *testing.T) {
	base := time.Date(2025, 10, 20, 8, 7, 30, 0, time.UTC)

	s := NewIntervalSchedule(15 * time.Minute)
	assert.Equal(t, base.Add(15*time.Minute), s.Next(base))

	s.Aligned = true
	assert.Equal(t, time.Date(2025, 10, 20, 8, 15, 0, 0, time.UTC), s.Next(base))
	assert.Equal(t, "@every 15m0s (aligned)", s.String())
}

func TestCronSchedule(t *testing.T) {
	almaty := time.FixedZone("Asia/Almaty", 5*3600)

	s, err := ParseCronSchedule("0 */2 * * *", almaty)
	require.NoError(t, err)

	from := time.Date(2025, 10, 20, 9, 30, 0, 0, almaty)
	assert.Equal(t, time.Date(2025, 10, 20, 10, 0, 0, 0, almaty), s.Next(from))
	assert.Equal(t, "0 */2 * * * (Asia/Almaty)", s.String())

	every, err := ParseCronSchedule("@every 30m", nil)
	require.NoError(t, err)
	assert.Equal(t, from.Add(30*time.Minute).UTC(), every.Next(from).UTC())

	_, err = ParseCronSchedule("not a cron", nil)
	assert.Error(t, err)
}
