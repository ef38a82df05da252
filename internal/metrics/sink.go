// Package metrics records operational metrics of the scrape pipeline.
package metrics

import "time"

// Sink defines the interface for recording metrics.
// All methods are fire-and-forget: implementations must not block or return errors.
type Sink interface {
	// Scrape pipeline
	ScrapeCompleted(outcome string, duration time.Duration)
	FetchCompleted(duration time.Duration, redirects int)
	DaysPersisted(written, unchanged int)
	TilesSkipped(count int)
	SessionInvalidated()

	// Fan-out
	FanoutCompleted(status string, scheduled, skipped, failedJobs int)

	// Queue consumer
	QueueDelivery(outcome string)
	JobsInFlightIncr()
	JobsInFlightDecr()
	QueueDepth(pending, processing, dead int64)
}

// Outcome labels of QueueDelivery.
const (
	DeliveryAcked    = "ack"
	DeliveryRetried  = "retry"
	DeliveryRejected = "reject"
)
