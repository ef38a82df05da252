package metrics

import (
	"log/slog"
	"time"

	"github.com/prometheus/client_golang/prometheus"
)

const namespace = "schedule_sync"

// PrometheusSink implements Sink using Prometheus client library.
// Registration errors are logged but never propagated.
type PrometheusSink struct {
	logger *slog.Logger

	// Scrape metrics
	scrapesTotal       *prometheus.CounterVec
	scrapeDuration     prometheus.Histogram
	fetchDuration      prometheus.Histogram
	fetchRedirects     prometheus.Histogram
	daysWrittenTotal   prometheus.Counter
	daysUnchangedTotal prometheus.Counter
	tilesSkippedTotal  prometheus.Counter
	sessionsInvalid    prometheus.Counter

	// Fan-out metrics
	fanoutRunsTotal      *prometheus.CounterVec
	fanoutScheduledTotal prometheus.Counter
	fanoutSkippedTotal   prometheus.Counter
	fanoutFailedTotal    prometheus.Counter

	// Consumer metrics
	deliveriesTotal *prometheus.CounterVec
	jobsInFlight    prometheus.Gauge
	queueDepth      *prometheus.GaugeVec
}

// NewPrometheusSink creates a new Prometheus metrics sink registered on reg.
func NewPrometheusSink(reg prometheus.Registerer, logger *slog.Logger) *PrometheusSink {
	if logger == nil {
		logger = slog.Default()
	}
	s := &PrometheusSink{logger: logger}
	s.initScrapeMetrics(reg)
	s.initFanoutMetrics(reg)
	s.initConsumerMetrics(reg)
	return s
}

func (s *PrometheusSink) initScrapeMetrics(reg prometheus.Registerer) {
	s.scrapesTotal = prometheus.NewCounterVec(prometheus.CounterOpts{
		Namespace: namespace,
		Name:      "scrapes_total",
		Help:      "Total number of scrape invocations by outcome.",
	}, []string{"outcome"})
	s.scrapeDuration = prometheus.NewHistogram(prometheus.HistogramOpts{
		Namespace: namespace,
		Name:      "scrape_duration_seconds",
		Help:      "Duration of a whole scrape invocation in seconds.",
		Buckets:   []float64{0.25, 0.5, 1, 2, 5, 10, 30, 60},
	})
	s.fetchDuration = prometheus.NewHistogram(prometheus.HistogramOpts{
		Namespace: namespace,
		Name:      "portal_fetch_duration_seconds",
		Help:      "Portal fetch latency including redirects in seconds.",
		Buckets:   []float64{0.1, 0.25, 0.5, 1, 2.5, 5, 10, 20},
	})
	s.fetchRedirects = prometheus.NewHistogram(prometheus.HistogramOpts{
		Namespace: namespace,
		Name:      "portal_fetch_redirects",
		Help:      "Redirect hops followed per portal fetch.",
		Buckets:   []float64{0, 1, 2, 3, 4, 5},
	})
	s.daysWrittenTotal = prometheus.NewCounter(prometheus.CounterOpts{
		Namespace: namespace,
		Name:      "days_written_total",
		Help:      "Total number of schedule days written because their hash changed.",
	})
	s.daysUnchangedTotal = prometheus.NewCounter(prometheus.CounterOpts{
		Namespace: namespace,
		Name:      "days_unchanged_total",
		Help:      "Total number of schedule days skipped because their hash matched.",
	})
	s.tilesSkippedTotal = prometheus.NewCounter(prometheus.CounterOpts{
		Namespace: namespace,
		Name:      "tiles_skipped_total",
		Help:      "Total number of schedule tiles the parser could not read.",
	})
	s.sessionsInvalid = prometheus.NewCounter(prometheus.CounterOpts{
		Namespace: namespace,
		Name:      "sessions_invalidated_total",
		Help:      "Total number of sessions the portal invalidated.",
	})

	s.register(reg, s.scrapesTotal, "scrapes_total")
	s.register(reg, s.scrapeDuration, "scrape_duration_seconds")
	s.register(reg, s.fetchDuration, "portal_fetch_duration_seconds")
	s.register(reg, s.fetchRedirects, "portal_fetch_redirects")
	s.register(reg, s.daysWrittenTotal, "days_written_total")
	s.register(reg, s.daysUnchangedTotal, "days_unchanged_total")
	s.register(reg, s.tilesSkippedTotal, "tiles_skipped_total")
	s.register(reg, s.sessionsInvalid, "sessions_invalidated_total")
}

func (s *PrometheusSink) initFanoutMetrics(reg prometheus.Registerer) {
	s.fanoutRunsTotal = prometheus.NewCounterVec(prometheus.CounterOpts{
		Namespace: namespace,
		Name:      "fanout_runs_total",
		Help:      "Total number of fan-out runs by status.",
	}, []string{"status"})
	s.fanoutScheduledTotal = prometheus.NewCounter(prometheus.CounterOpts{
		Namespace: namespace,
		Name:      "fanout_jobs_scheduled_total",
		Help:      "Total number of refresh jobs published.",
	})
	s.fanoutSkippedTotal = prometheus.NewCounter(prometheus.CounterOpts{
		Namespace: namespace,
		Name:      "fanout_records_skipped_total",
		Help:      "Total number of credential records skipped for missing ids.",
	})
	s.fanoutFailedTotal = prometheus.NewCounter(prometheus.CounterOpts{
		Namespace: namespace,
		Name:      "fanout_jobs_failed_total",
		Help:      "Total number of refresh jobs in batches that failed to publish.",
	})

	s.register(reg, s.fanoutRunsTotal, "fanout_runs_total")
	s.register(reg, s.fanoutScheduledTotal, "fanout_jobs_scheduled_total")
	s.register(reg, s.fanoutSkippedTotal, "fanout_records_skipped_total")
	s.register(reg, s.fanoutFailedTotal, "fanout_jobs_failed_total")
}

func (s *PrometheusSink) initConsumerMetrics(reg prometheus.Registerer) {
	s.deliveriesTotal = prometheus.NewCounterVec(prometheus.CounterOpts{
		Namespace: namespace,
		Name:      "queue_deliveries_total",
		Help:      "Total number of processed queue deliveries by outcome.",
	}, []string{"outcome"})
	s.jobsInFlight = prometheus.NewGauge(prometheus.GaugeOpts{
		Namespace: namespace,
		Name:      "jobs_in_flight",
		Help:      "Number of refresh jobs currently being processed.",
	})

	s.queueDepth = prometheus.NewGaugeVec(prometheus.GaugeOpts{
		Namespace: namespace,
		Name:      "queue_depth",
		Help:      "Length of each refresh queue list at the last sample.",
	}, []string{"list"})

	s.register(reg, s.deliveriesTotal, "queue_deliveries_total")
	s.register(reg, s.jobsInFlight, "jobs_in_flight")
	s.register(reg, s.queueDepth, "queue_depth")
}

// register attempts to register a collector, logging any errors without propagating them.
func (s *PrometheusSink) register(reg prometheus.Registerer, c prometheus.Collector, name string) {
	if err := reg.Register(c); err != nil {
		s.logger.Warn("metrics: failed to register collector",
			slog.String("name", namespace+"_"+name),
			slog.String("error", err.Error()),
		)
	}
}

// Scrape metrics implementation

func (s *PrometheusSink) ScrapeCompleted(outcome string, duration time.Duration) {
	s.scrapesTotal.WithLabelValues(outcome).Inc()
	s.scrapeDuration.Observe(duration.Seconds())
}

func (s *PrometheusSink) FetchCompleted(duration time.Duration, redirects int) {
	s.fetchDuration.Observe(duration.Seconds())
	s.fetchRedirects.Observe(float64(redirects))
}

func (s *PrometheusSink) DaysPersisted(written, unchanged int) {
	s.daysWrittenTotal.Add(float64(written))
	s.daysUnchangedTotal.Add(float64(unchanged))
}

func (s *PrometheusSink) TilesSkipped(count int) {
	if count > 0 {
		s.tilesSkippedTotal.Add(float64(count))
	}
}

func (s *PrometheusSink) SessionInvalidated() {
	s.sessionsInvalid.Inc()
}

// Fan-out metrics implementation

func (s *PrometheusSink) FanoutCompleted(status string, scheduled, skipped, failedJobs int) {
	s.fanoutRunsTotal.WithLabelValues(status).Inc()
	s.fanoutScheduledTotal.Add(float64(scheduled))
	s.fanoutSkippedTotal.Add(float64(skipped))
	s.fanoutFailedTotal.Add(float64(failedJobs))
}

// Consumer metrics implementation

func (s *PrometheusSink) QueueDelivery(outcome string) {
	s.deliveriesTotal.WithLabelValues(outcome).Inc()
}

func (s *PrometheusSink) JobsInFlightIncr() {
	s.jobsInFlight.Inc()
}

func (s *PrometheusSink) JobsInFlightDecr() {
	s.jobsInFlight.Dec()
}

func (s *PrometheusSink) QueueDepth(pending, processing, dead int64) {
	s.queueDepth.WithLabelValues("pending").Set(float64(pending))
	s.queueDepth.WithLabelValues("processing").Set(float64(processing))
	s.queueDepth.WithLabelValues("dead").Set(float64(dead))
}
