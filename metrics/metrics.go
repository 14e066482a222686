// Package metrics exposes Prometheus counters and histograms for the build
// execution core (spec §4.9): worker spawns, build duration by terminal
// status, cache push outcomes, log shipper batches, and logger bus drops.
// The core never starts an HTTP server itself; callers mount Handler()
// wherever they already serve metrics.
package metrics

import (
	"net/http"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

const namespace = "hci_agent"

// Collector owns the registry this package's metrics are registered to, so
// a process can run more than one Collector (e.g. in tests) without
// colliding with promauto's default global registry.
type Collector struct {
	registry *prometheus.Registry

	workerSpawnsStarted prometheus.Counter
	workerSpawnsEnded   prometheus.Counter

	buildDuration *prometheus.HistogramVec

	cachePushAttempts *prometheus.CounterVec
	cachePushSuccess  *prometheus.CounterVec
	cachePushFailure  *prometheus.CounterVec

	logShipperBatchesShipped prometheus.Counter
	logShipperBatchesRetried prometheus.Counter

	loggerBusDrops prometheus.Counter
}

// NewCollector constructs a Collector with its own registry.
func NewCollector() *Collector {
	reg := prometheus.NewRegistry()
	factory := promauto.With(reg)

	return &Collector{
		registry: reg,

		workerSpawnsStarted: factory.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "worker",
			Name:      "spawns_started_total",
			Help:      "Count of worker subprocesses spawned",
		}),
		workerSpawnsEnded: factory.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "worker",
			Name:      "spawns_ended_total",
			Help:      "Count of worker subprocesses that have exited",
		}),

		buildDuration: factory.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: namespace,
			Subsystem: "build",
			Name:      "duration_seconds",
			Help:      "Wall time from SPAWNING to a terminal status, by status",
			Buckets:   prometheus.ExponentialBuckets(1, 2, 14),
		}, []string{"status"}),

		cachePushAttempts: factory.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "cache_push",
			Name:      "attempts_total",
			Help:      "Count of store-path push attempts, by cache",
		}, []string{"cache"}),
		cachePushSuccess: factory.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "cache_push",
			Name:      "success_total",
			Help:      "Count of store-path pushes that succeeded, by cache",
		}, []string{"cache"}),
		cachePushFailure: factory.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "cache_push",
			Name:      "failure_total",
			Help:      "Count of store-path pushes that exhausted retries, by cache",
		}, []string{"cache"}),

		logShipperBatchesShipped: factory.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "log_shipper",
			Name:      "batches_shipped_total",
			Help:      "Count of log entry batches delivered to the remote log socket",
		}),
		logShipperBatchesRetried: factory.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "log_shipper",
			Name:      "batches_retried_total",
			Help:      "Count of log entry batch deliveries that required a reconnect",
		}),

		loggerBusDrops: factory.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "logger_bus",
			Name:      "drops_total",
			Help:      "Count of discardable log entries evicted under backpressure",
		}),
	}
}

// Handler returns the http.Handler this Collector's registry should be
// mounted under.
func (c *Collector) Handler() http.Handler {
	return promhttp.HandlerFor(c.registry, promhttp.HandlerOpts{})
}

func (c *Collector) WorkerSpawned()      { c.workerSpawnsStarted.Inc() }
func (c *Collector) WorkerExited()       { c.workerSpawnsEnded.Inc() }

func (c *Collector) ObserveBuildDuration(status string, seconds float64) {
	c.buildDuration.WithLabelValues(status).Observe(seconds)
}

func (c *Collector) CachePushAttempt(cache string) { c.cachePushAttempts.WithLabelValues(cache).Inc() }
func (c *Collector) CachePushSuccess(cache string) { c.cachePushSuccess.WithLabelValues(cache).Inc() }
func (c *Collector) CachePushFailure(cache string) { c.cachePushFailure.WithLabelValues(cache).Inc() }

func (c *Collector) LogBatchShipped() { c.logShipperBatchesShipped.Inc() }
func (c *Collector) LogBatchRetried() { c.logShipperBatchesRetried.Inc() }

func (c *Collector) LoggerBusDropped(n uint64) {
	c.loggerBusDrops.Add(float64(n))
}
