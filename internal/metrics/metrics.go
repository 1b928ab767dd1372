// file: internal/metrics/metrics.go

package metrics

import (
	"runtime"
	"sync/atomic"

	"github.com/prometheus/client_golang/prometheus"
)

// Message statuses used with IncMessagesTotal
const (
	StatusPublished  = "published"
	StatusReceived   = "received"
	StatusDispatched = "dispatched"
	StatusError      = "error"
)

// Metrics provides centralized metrics collection for the filter router
type Metrics struct {
	registry *prometheus.Registry

	// Message flow
	messagesTotal    *prometheus.CounterVec
	callbackFailures prometheus.Counter
	publishRetries   prometheus.Counter

	// Filter engine
	filtersParsedTotal *prometheus.CounterVec
	filterErrors       prometheus.Counter
	filterEvaluation   prometheus.Histogram

	// Compiled filter cache
	filterCacheHits      prometheus.Counter
	filterCacheMisses    prometheus.Counter
	filterCacheEvictions prometheus.Counter
	filterCacheSize      prometheus.Gauge

	// Subscription registry
	selectorsActive   prometheus.Gauge
	connectionsActive prometheus.Gauge
	upstreamOpsTotal  *prometheus.CounterVec

	// NATS connection
	natsConnectionStatus prometheus.Gauge
	natsReconnects       prometheus.Counter

	// System
	goroutines  prometheus.Gauge
	memoryBytes prometheus.Gauge

	// Internal counters for atomic operations
	stats struct {
		messagesReceived uint64
		messagesError    uint64
	}
}

// NewMetrics creates a new metrics instance with all collectors registered
func NewMetrics(registry *prometheus.Registry) (*Metrics, error) {
	m := &Metrics{
		registry: registry,

		// Message flow
		messagesTotal: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "messages_total",
				Help: "Total number of messages by status",
			},
			[]string{"status"},
		),
		callbackFailures: prometheus.NewCounter(
			prometheus.CounterOpts{
				Name: "callback_failures_total",
				Help: "Total number of subscriber callbacks that returned an error or panicked",
			},
		),
		publishRetries: prometheus.NewCounter(
			prometheus.CounterOpts{
				Name: "publish_retries_total",
				Help: "Total number of upstream publish retries",
			},
		),

		// Filter engine
		filtersParsedTotal: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "filters_parsed_total",
				Help: "Total number of filter compilations by status",
			},
			[]string{"status"},
		),
		filterErrors: prometheus.NewCounter(
			prometheus.CounterOpts{
				Name: "filter_errors_total",
				Help: "Total number of subscriptions excluded because their filter failed",
			},
		),
		filterEvaluation: prometheus.NewHistogram(
			prometheus.HistogramOpts{
				Name:    "filter_evaluation_duration_seconds",
				Help:    "Time to match one message against all subscriptions",
				Buckets: []float64{.00001, .00005, .0001, .0005, .001, .005, .01, .05, .1},
			},
		),

		// Compiled filter cache
		filterCacheHits: prometheus.NewCounter(
			prometheus.CounterOpts{
				Name: "filter_cache_hits_total",
				Help: "Total number of compiled filter cache hits",
			},
		),
		filterCacheMisses: prometheus.NewCounter(
			prometheus.CounterOpts{
				Name: "filter_cache_misses_total",
				Help: "Total number of compiled filter cache misses",
			},
		),
		filterCacheEvictions: prometheus.NewCounter(
			prometheus.CounterOpts{
				Name: "filter_cache_evictions_total",
				Help: "Total number of compiled filters evicted for idleness or capacity",
			},
		),
		filterCacheSize: prometheus.NewGauge(
			prometheus.GaugeOpts{
				Name: "filter_cache_size",
				Help: "Number of compiled filters currently cached",
			},
		),

		// Subscription registry
		selectorsActive: prometheus.NewGauge(
			prometheus.GaugeOpts{
				Name: "selectors_active",
				Help: "Number of selectors subscribed upstream",
			},
		),
		connectionsActive: prometheus.NewGauge(
			prometheus.GaugeOpts{
				Name: "connections_active",
				Help: "Number of connections holding at least one subscription",
			},
		),
		upstreamOpsTotal: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "upstream_operations_total",
				Help: "Total number of upstream subscribe/unsubscribe calls by result",
			},
			[]string{"op", "status"},
		),

		// NATS connection
		natsConnectionStatus: prometheus.NewGauge(
			prometheus.GaugeOpts{
				Name: "nats_connection_status",
				Help: "Current NATS connection status (0=disconnected, 1=connected)",
			},
		),
		natsReconnects: prometheus.NewCounter(
			prometheus.CounterOpts{
				Name: "nats_reconnects_total",
				Help: "Total number of NATS reconnection attempts",
			},
		),

		// System
		goroutines: prometheus.NewGauge(
			prometheus.GaugeOpts{
				Name: "process_goroutines",
				Help: "Current number of goroutines",
			},
		),
		memoryBytes: prometheus.NewGauge(
			prometheus.GaugeOpts{
				Name: "process_memory_bytes",
				Help: "Current memory usage in bytes",
			},
		),
	}

	collectors := []prometheus.Collector{
		m.messagesTotal,
		m.callbackFailures,
		m.publishRetries,
		m.filtersParsedTotal,
		m.filterErrors,
		m.filterEvaluation,
		m.filterCacheHits,
		m.filterCacheMisses,
		m.filterCacheEvictions,
		m.filterCacheSize,
		m.selectorsActive,
		m.connectionsActive,
		m.upstreamOpsTotal,
		m.natsConnectionStatus,
		m.natsReconnects,
		m.goroutines,
		m.memoryBytes,
	}

	for _, collector := range collectors {
		if err := registry.Register(collector); err != nil {
			return nil, err
		}
	}

	return m, nil
}

// GetRegistry returns the Prometheus registry (needed for HTTP handler)
func (m *Metrics) GetRegistry() *prometheus.Registry {
	return m.registry
}

// Message flow metrics
func (m *Metrics) IncMessagesTotal(status string) {
	m.messagesTotal.WithLabelValues(status).Inc()
	if status == StatusReceived {
		atomic.AddUint64(&m.stats.messagesReceived, 1)
	} else if status == StatusError {
		atomic.AddUint64(&m.stats.messagesError, 1)
	}
}

func (m *Metrics) IncCallbackFailures() {
	m.callbackFailures.Inc()
}

func (m *Metrics) IncPublishRetries() {
	m.publishRetries.Inc()
}

// Filter engine metrics
func (m *Metrics) IncFiltersParsed(success bool) {
	if success {
		m.filtersParsedTotal.WithLabelValues("success").Inc()
	} else {
		m.filtersParsedTotal.WithLabelValues("error").Inc()
	}
}

func (m *Metrics) IncFilterErrors() {
	m.filterErrors.Inc()
}

func (m *Metrics) ObserveFilterEvaluationDuration(seconds float64) {
	m.filterEvaluation.Observe(seconds)
}

// Compiled filter cache metrics
func (m *Metrics) IncFilterCacheHits() {
	m.filterCacheHits.Inc()
}

func (m *Metrics) IncFilterCacheMisses() {
	m.filterCacheMisses.Inc()
}

func (m *Metrics) AddFilterCacheEvictions(n int) {
	m.filterCacheEvictions.Add(float64(n))
}

func (m *Metrics) SetFilterCacheSize(size float64) {
	m.filterCacheSize.Set(size)
}

// Subscription registry metrics
func (m *Metrics) SetSelectorsActive(count float64) {
	m.selectorsActive.Set(count)
}

func (m *Metrics) SetConnectionsActive(count float64) {
	m.connectionsActive.Set(count)
}

func (m *Metrics) IncUpstreamOps(op string, success bool) {
	status := "success"
	if !success {
		status = "error"
	}
	m.upstreamOpsTotal.WithLabelValues(op, status).Inc()
}

// NATS connection metrics
func (m *Metrics) SetNATSConnectionStatus(connected bool) {
	if connected {
		m.natsConnectionStatus.Set(1)
	} else {
		m.natsConnectionStatus.Set(0)
	}
}

func (m *Metrics) IncNATSReconnects() {
	m.natsReconnects.Inc()
}

// System metrics
func (m *Metrics) UpdateSystemMetrics() {
	m.goroutines.Set(float64(runtime.NumGoroutine()))

	var memStats runtime.MemStats
	runtime.ReadMemStats(&memStats)
	m.memoryBytes.Set(float64(memStats.Alloc))
}

// GetStats returns current statistics
func (m *Metrics) GetStats() (received, errors uint64) {
	return atomic.LoadUint64(&m.stats.messagesReceived),
		atomic.LoadUint64(&m.stats.messagesError)
}
