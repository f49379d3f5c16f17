// Package metrics exposes pipeline counters in Prometheus format.
//
// All methods are safe on a nil *Metrics, so components can be built
// without metrics in tests.
package metrics

import (
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// Store outcomes.
const (
	OutcomeStored    = "stored"
	OutcomeDuplicate = "duplicate"
	OutcomeError     = "error"
)

// Document statuses.
const (
	StatusIndexed     = "indexed"
	StatusFailed      = "failed"
	StatusIndexError  = "index_error"
	StatusRecordError = "record_error"
)

// Metrics holds the collectors on a private registry.
type Metrics struct {
	registry *prometheus.Registry

	storeTotal      *prometheus.CounterVec
	documentsTotal  *prometheus.CounterVec
	queueDepth      *prometheus.GaugeVec
	watchersRunning prometheus.Gauge
	processDuration *prometheus.HistogramVec
	queueLag        *prometheus.HistogramVec
}

// New creates the collectors and registers them.
func New() *Metrics {
	registry := prometheus.NewRegistry()

	storeTotal := prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "dropwatch",
			Name:      "store_total",
			Help:      "Incoming files handled by the file store, by outcome.",
		},
		[]string{"category", "outcome"},
	)
	documentsTotal := prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "dropwatch",
			Name:      "documents_total",
			Help:      "Documents processed by indexing workers, by status.",
		},
		[]string{"category", "status"},
	)
	queueDepth := prometheus.NewGaugeVec(
		prometheus.GaugeOpts{
			Namespace: "dropwatch",
			Name:      "queue_depth",
			Help:      "Entries waiting for extraction.",
		},
		[]string{"category"},
	)
	watchersRunning := prometheus.NewGauge(
		prometheus.GaugeOpts{
			Namespace: "dropwatch",
			Name:      "watchers_running",
			Help:      "Category watchers currently running.",
		},
	)
	processDuration := prometheus.NewHistogramVec(
		prometheus.HistogramOpts{
			Namespace: "dropwatch",
			Name:      "process_duration_seconds",
			Help:      "Extract plus index duration per document.",
			Buckets:   prometheus.DefBuckets,
		},
		[]string{"category", "status"},
	)
	queueLag := prometheus.NewHistogramVec(
		prometheus.HistogramOpts{
			Namespace: "dropwatch",
			Name:      "queue_lag_seconds",
			Help:      "Delay between enqueue and processing start.",
			Buckets:   []float64{0.1, 0.5, 1, 2, 5, 10, 30, 60, 120, 300, 600},
		},
		[]string{"category"},
	)

	registry.MustRegister(storeTotal, documentsTotal, queueDepth, watchersRunning, processDuration, queueLag)

	return &Metrics{
		registry:        registry,
		storeTotal:      storeTotal,
		documentsTotal:  documentsTotal,
		queueDepth:      queueDepth,
		watchersRunning: watchersRunning,
		processDuration: processDuration,
		queueLag:        queueLag,
	}
}

// Registry returns the private registry.
func (m *Metrics) Registry() *prometheus.Registry {
	if m == nil {
		return nil
	}
	return m.registry
}

// Handler serves the registry.
func (m *Metrics) Handler() http.Handler {
	if m == nil {
		return http.NotFoundHandler()
	}
	return promhttp.HandlerFor(m.registry, promhttp.HandlerOpts{})
}

// ObserveStore counts one FileStore outcome.
func (m *Metrics) ObserveStore(category, outcome string) {
	if m == nil {
		return
	}
	m.storeTotal.WithLabelValues(category, outcome).Inc()
}

// ObserveDocument counts one processed document and its duration.
func (m *Metrics) ObserveDocument(category, status string, duration time.Duration) {
	if m == nil {
		return
	}
	m.documentsTotal.WithLabelValues(category, status).Inc()
	m.processDuration.WithLabelValues(category, status).Observe(duration.Seconds())
}

// ObserveQueueLag records how long an entry waited.
func (m *Metrics) ObserveQueueLag(category string, lag time.Duration) {
	if m == nil || lag < 0 {
		return
	}
	m.queueLag.WithLabelValues(category).Observe(lag.Seconds())
}

// SetQueueDepth sets the current queue length.
func (m *Metrics) SetQueueDepth(category string, depth int) {
	if m == nil {
		return
	}
	m.queueDepth.WithLabelValues(category).Set(float64(depth))
}

// WatcherStarted increments the running watcher gauge.
func (m *Metrics) WatcherStarted() {
	if m == nil {
		return
	}
	m.watchersRunning.Inc()
}

// WatcherStopped decrements the running watcher gauge.
func (m *Metrics) WatcherStopped() {
	if m == nil {
		return
	}
	m.watchersRunning.Dec()
}
