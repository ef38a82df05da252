package command

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/studyhub/schedule-sync/internal/domain/job"
	"github.com/studyhub/schedule-sync/internal/domain/session"
	"github.com/studyhub/schedule-sync/pkg/logger"
)

func makeRefs(n int) []session.CredentialRef {
	refs := make([]session.CredentialRef, n)
	for i := range refs {
		refs[i] = session.CredentialRef{StudentID: fmt.Sprintf("s-%03d", i), SchoolID: "681"}
	}
	return refs
}

func newTestFanout(lister session.CredentialLister, publisher JobPublisher) *FanoutRefreshHandler {
	return NewFanoutRefreshHandler(lister, publisher, FanoutRefreshConfig{
		BatchSize:  100,
		RetryDelay: time.Millisecond,
		Logger:     logger.Discard(),
	})
}

func TestFanout_BatchesOfHundred(t *testing.T) {
	pub := &fakePublisher{}
	h := newTestFanout(&fakeLister{refs: makeRefs(250)}, pub)

	result, err := h.RunForWeek(context.Background(), "432025")
	require.NoError(t, err)

	sizes := pub.sizes()
	sort.Sort(sort.Reverse(sort.IntSlice(sizes)))
	assert.Equal(t, []int{100, 100, 50}, sizes)
	assert.Equal(t, 3, pub.calls)
	assert.Equal(t, 250, result.TotalScheduled)
	assert.Equal(t, 3, result.BatchCount)
	assert.Equal(t, FanoutComplete, result.Status())

	seen := make(map[string]bool)
	for _, b := range pub.batches {
		for _, j := range b {
			assert.Equal(t, "432025", j.WeekKey)
			assert.Equal(t, "681", j.SchoolID)
			assert.NotEmpty(t, j.ID)
			seen[j.StudentID] = true
		}
	}
	assert.Len(t, seen, 250, "one job per student")
}

func TestFanout_SkipsIncompleteRecords(t *testing.T) {
	refs := makeRefs(3)
	refs = append(refs,
		session.CredentialRef{StudentID: "s-missing-school"},
		session.CredentialRef{SchoolID: "681"},
	)
	pub := &fakePublisher{}

	result, err := newTestFanout(&fakeLister{refs: refs}, pub).Run(context.Background())
	require.NoError(t, err)

	assert.Equal(t, 3, result.TotalScheduled)
	assert.Equal(t, 2, result.SkippedCount)
	assert.Equal(t, []int{3}, pub.sizes())
}

func TestFanout_PartialFailure(t *testing.T) {
	pub := &fakePublisher{failOn: func(_ int, batch []job.RefreshJob) error {
		if batch[0].StudentID == "s-100" {
			return errors.New("queue unavailable")
		}
		return nil
	}}

	result, err := newTestFanout(&fakeLister{refs: makeRefs(250)}, pub).Run(context.Background())
	require.Error(t, err)
	assert.True(t, errors.Is(err, ErrPartialFanout))

	assert.Equal(t, FanoutPartial, result.Status())
	assert.Equal(t, 150, result.TotalScheduled)
	assert.Equal(t, 1, result.FailedBatches)
	assert.Equal(t, 100, result.FailedJobs)
	assert.Equal(t, 2+DefaultPublishAttempts, pub.calls, "failed batch is retried")
}

func TestFanout_AllBatchesFail(t *testing.T) {
	pub := &fakePublisher{failOn: func(int, []job.RefreshJob) error {
		return errors.New("queue unavailable")
	}}

	result, err := newTestFanout(&fakeLister{refs: makeRefs(120)}, pub).Run(context.Background())
	assert.True(t, errors.Is(err, ErrPartialFanout))
	assert.Equal(t, FanoutFailed, result.Status())
	assert.Equal(t, 0, result.TotalScheduled)
	assert.Equal(t, 120, result.FailedJobs)
}

func TestFanout_EnumerationErrorPublishesCollected(t *testing.T) {
	lister := &fakeLister{refs: makeRefs(30), err: errors.New("cursor closed")}
	pub := &fakePublisher{}

	result, err := newTestFanout(lister, pub).Run(context.Background())
	require.Error(t, err)
	assert.Equal(t, 30, result.TotalScheduled)
	assert.Equal(t, FanoutPartial, result.Status())
}

func TestFanout_EmptyRegistry(t *testing.T) {
	pub := &fakePublisher{}

	result, err := newTestFanout(&fakeLister{}, pub).Run(context.Background())
	require.NoError(t, err)
	assert.Equal(t, 0, result.TotalScheduled)
	assert.Equal(t, 0, pub.calls)
}

// slowPublisher tracks the peak number of concurrent publish calls.
type slowPublisher struct {
	inFlight atomic.Int32
	peak     atomic.Int32
	mu       sync.Mutex
	total    int
}

func (p *slowPublisher) PublishBatch(ctx context.Context, jobs []job.RefreshJob) error {
	n := p.inFlight.Add(1)
	defer p.inFlight.Add(-1)
	for {
		peak := p.peak.Load()
		if n <= peak || p.peak.CompareAndSwap(peak, n) {
			break
		}
	}
	time.Sleep(10 * time.Millisecond)

	p.mu.Lock()
	p.total += len(jobs)
	p.mu.Unlock()
	return nil
}

func TestFanout_ConcurrencyCap(t *testing.T) {
	pub := &slowPublisher{}
	h := NewFanoutRefreshHandler(&fakeLister{refs: makeRefs(1000)}, pub, FanoutRefreshConfig{
		BatchSize:   10,
		Concurrency: 3,
		Logger:      logger.Discard(),
	})

	result, err := h.Run(context.Background())
	require.NoError(t, err)
	assert.Equal(t, 1000, result.TotalScheduled)
	assert.Equal(t, 1000, pub.total)
	assert.LessOrEqual(t, pub.peak.Load(), int32(3))
	assert.GreaterOrEqual(t, pub.peak.Load(), int32(1))
}
