package metrics

import "time"

// NoopSink is a no-op implementation of Sink.
// Used when metrics are disabled to avoid nil checks.
type NoopSink struct{}

// NewNoopSink returns a no-op metrics sink.
func NewNoopSink() *NoopSink {
	return &NoopSink{}
}

func (n *NoopSink) ScrapeCompleted(outcome string, duration time.Duration)           {}
func (n *NoopSink) FetchCompleted(duration time.Duration, redirects int)             {}
func (n *NoopSink) DaysPersisted(written, unchanged int)                             {}
func (n *NoopSink) TilesSkipped(count int)                                           {}
func (n *NoopSink) SessionInvalidated()                                              {}
func (n *NoopSink) FanoutCompleted(status string, scheduled, skipped, failedJobs int) {}
func (n *NoopSink) QueueDelivery(outcome string)                                     {}
func (n *NoopSink) JobsInFlightIncr()                                                {}
func (n *NoopSink) JobsInFlightDecr()                                                {}
func (n *NoopSink) QueueDepth(pending, processing, dead int64)                       {}
