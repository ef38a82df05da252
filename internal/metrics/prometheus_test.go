package metrics

import (
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"

	"github.com/studyhub/schedule-sync/pkg/logger"
)

var (
	_ Sink = (*PrometheusSink)(nil)
	_ Sink = (*NoopSink)(nil)
)

func newTestSink(t *testing.T) *PrometheusSink {
	t.Helper()
	return NewPrometheusSink(prometheus.NewRegistry(), logger.Discard())
}

func TestPrometheusSink_Scrape(t *testing.T) {
	s := newTestSink(t)

	s.ScrapeCompleted("ok", time.Second)
	s.ScrapeCompleted("ok", time.Second)
	s.ScrapeCompleted("session_invalid", time.Second)
	s.DaysPersisted(3, 4)
	s.TilesSkipped(2)
	s.TilesSkipped(0)
	s.SessionInvalidated()

	assert.Equal(t, 2.0, testutil.ToFloat64(s.scrapesTotal.WithLabelValues("ok")))
	assert.Equal(t, 1.0, testutil.ToFloat64(s.scrapesTotal.WithLabelValues("session_invalid")))
	assert.Equal(t, 3.0, testutil.ToFloat64(s.daysWrittenTotal))
	assert.Equal(t, 4.0, testutil.ToFloat64(s.daysUnchangedTotal))
	assert.Equal(t, 2.0, testutil.ToFloat64(s.tilesSkippedTotal))
	assert.Equal(t, 1.0, testutil.ToFloat64(s.sessionsInvalid))
}

func TestPrometheusSink_FanoutAndConsumer(t *testing.T) {
	s := newTestSink(t)

	s.FanoutCompleted("partial", 200, 1, 50)
	s.QueueDelivery(DeliveryAcked)
	s.QueueDelivery(DeliveryRejected)
	s.JobsInFlightIncr()
	s.JobsInFlightIncr()
	s.JobsInFlightDecr()
	s.QueueDepth(7, 2, 1)

	assert.Equal(t, 1.0, testutil.ToFloat64(s.fanoutRunsTotal.WithLabelValues("partial")))
	assert.Equal(t, 200.0, testutil.ToFloat64(s.fanoutScheduledTotal))
	assert.Equal(t, 1.0, testutil.ToFloat64(s.fanoutSkippedTotal))
	assert.Equal(t, 50.0, testutil.ToFloat64(s.fanoutFailedTotal))
	assert.Equal(t, 1.0, testutil.ToFloat64(s.deliveriesTotal.WithLabelValues(DeliveryAcked)))
	assert.Equal(t, 1.0, testutil.ToFloat64(s.jobsInFlight))
	assert.Equal(t, 7.0, testutil.ToFloat64(s.queueDepth.WithLabelValues("pending")))
	assert.Equal(t, 1.0, testutil.ToFloat64(s.queueDepth.WithLabelValues("dead")))
}

func TestPrometheusSink_DuplicateRegistrationDoesNotPanic(t *testing.T) {
	reg := prometheus.NewRegistry()
	NewPrometheusSink(reg, logger.Discard())

	assert.NotPanics(t, func() {
		s := NewPrometheusSink(reg, logger.Discard())
		s.ScrapeCompleted("ok", time.Millisecond)
	})
}
