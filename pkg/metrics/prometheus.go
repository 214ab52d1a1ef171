// Package metrics provides Prometheus metrics for the rollcall service.
package metrics

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// Default metrics configuration constants.
const (
	defaultRefreshInterval = 10 * time.Second
)

// Manager manages all Prometheus metrics for the rollcall service.
type Manager struct {
	namespace        string
	subsystem        string
	histogramBuckets []float64
	enabled          bool
	refreshInterval  time.Duration
	customLabels     map[string]string
	metricPrefix     string
	registry         prometheus.Registerer

	// Registration lifecycle
	registrations *prometheus.CounterVec
	cancellations *prometheus.CounterVec
	checkIns      *prometheus.CounterVec

	// Ranking engine
	rankingLatency  prometheus.Histogram
	rankedLocated   prometheus.Counter
	rankedUnlocated prometheus.Counter
	catalogSize     prometheus.Gauge

	// Document store
	storeLatency  *prometheus.HistogramVec
	storeErrors   *prometheus.CounterVec
	activeStreams prometheus.Gauge
	streamEmits   prometheus.Counter

	// HTTP Performance Metrics
	httpRequests        *prometheus.CounterVec
	httpRequestDuration *prometheus.HistogramVec

	// Lifecycle publication: queue, workers, publishers
	queueSize              prometheus.Gauge
	queueCapacity          prometheus.Gauge
	queueUtilization       prometheus.Gauge
	queueEnqueueRate       prometheus.Counter
	queueDequeueRate       prometheus.Counter
	queueEnqueueErrors     prometheus.Counter
	queueProcessingLatency prometheus.Histogram

	workerActiveCount       prometheus.Gauge
	workerProcessingLatency prometheus.Histogram
	workerErrorRate         prometheus.Counter

	lifecyclePublished  *prometheus.CounterVec
	lifecycleDuplicates prometheus.Counter
	publishErrors       *prometheus.CounterVec

	// Error Metrics
	errorRateByComponent *prometheus.CounterVec
	errorRateByType      *prometheus.CounterVec
	errorRateByEndpoint  *prometheus.CounterVec
	errorLatency         *prometheus.HistogramVec

	// System Performance Metrics
	systemMemoryUsage    prometheus.Gauge
	systemGoroutineCount prometheus.Gauge
	systemGCPauseTime    prometheus.Histogram
}

// Global metrics manager instance.
var globalManager *Manager //nolint:gochecknoglobals // intentional global for singleton metrics manager

// Custom registry to avoid default Go metrics.
var customRegistry = prometheus.NewRegistry() //nolint:gochecknoglobals // intentional global for metrics registry

func init() { //nolint:gochecknoinits // intentional init for global metrics setup
	globalManager = NewManager(WithPrometheusRegistry(customRegistry))
}

// NewManager creates a new metrics manager with default configuration.
func NewManager(opts ...Option) *Manager {
	m := &Manager{
		namespace:        "rollcall",
		subsystem:        "core",
		histogramBuckets: prometheus.DefBuckets,
		enabled:          true,
		refreshInterval:  defaultRefreshInterval,
		customLabels:     make(map[string]string),
		metricPrefix:     "",
		registry:         prometheus.DefaultRegisterer,
	}

	for _, opt := range opts {
		opt(m)
	}
	// A disabled manager still hands out collectors so recorders stay
	// safe to call, but they land in a registry nobody scrapes.
	if !m.enabled {
		m.registry = prometheus.NewRegistry()
	}

	m.initializeMetrics()

	return m
}

func (m *Manager) name(n string) string {
	if m.metricPrefix == "" {
		return n
	}
	return m.metricPrefix + "_" + n
}

func (m *Manager) counterVec(name, help string, labels ...string) *prometheus.CounterVec {
	return promauto.With(m.registry).NewCounterVec(prometheus.CounterOpts{
		Namespace:   m.namespace,
		Subsystem:   m.subsystem,
		Name:        m.name(name),
		Help:        help,
		ConstLabels: m.customLabels,
	}, labels)
}

func (m *Manager) counter(name, help string) prometheus.Counter {
	return promauto.With(m.registry).NewCounter(prometheus.CounterOpts{
		Namespace:   m.namespace,
		Subsystem:   m.subsystem,
		Name:        m.name(name),
		Help:        help,
		ConstLabels: m.customLabels,
	})
}

func (m *Manager) gauge(name, help string) prometheus.Gauge {
	return promauto.With(m.registry).NewGauge(prometheus.GaugeOpts{
		Namespace:   m.namespace,
		Subsystem:   m.subsystem,
		Name:        m.name(name),
		Help:        help,
		ConstLabels: m.customLabels,
	})
}

func (m *Manager) histogram(name, help string, buckets []float64) prometheus.Histogram {
	return promauto.With(m.registry).NewHistogram(prometheus.HistogramOpts{
		Namespace:   m.namespace,
		Subsystem:   m.subsystem,
		Name:        m.name(name),
		Help:        help,
		Buckets:     buckets,
		ConstLabels: m.customLabels,
	})
}

func (m *Manager) histogramVec(name, help string, labels ...string) *prometheus.HistogramVec {
	return promauto.With(m.registry).NewHistogramVec(prometheus.HistogramOpts{
		Namespace:   m.namespace,
		Subsystem:   m.subsystem,
		Name:        m.name(name),
		Help:        help,
		Buckets:     m.histogramBuckets,
		ConstLabels: m.customLabels,
	}, labels)
}

// initializeMetrics creates all the Prometheus metrics.
func (m *Manager) initializeMetrics() { //nolint:funlen // long function required for comprehensive metrics initialization
	m.registrations = m.counterVec("registrations_total",
		"Registration attempts by outcome (created, already_registered, unauthenticated, error)", "outcome")
	m.cancellations = m.counterVec("cancellations_total",
		"Cancellation attempts by outcome", "outcome")
	m.checkIns = m.counterVec("checkins_total",
		"Check-in token scans by outcome", "outcome")

	m.rankingLatency = m.histogram("ranking_latency_milliseconds",
		"Time spent ranking the catalog by distance", m.histogramBuckets)
	m.rankedLocated = m.counter("ranked_events_located_total",
		"Events ranked with a real distance")
	m.rankedUnlocated = m.counter("ranked_events_unlocated_total",
		"Events ranked with the unavailable sentinel distance")
	m.catalogSize = m.gauge("catalog_events", "Number of events in the catalog")

	m.storeLatency = m.histogramVec("store_operation_duration_milliseconds",
		"Registration store operation latency", "driver", "operation")
	m.storeErrors = m.counterVec("store_errors_total",
		"Registration store backend failures", "driver", "operation")
	m.activeStreams = m.gauge("registration_streams_active",
		"Open live registration subscriptions")
	m.streamEmits = m.counter("registration_stream_emits_total",
		"Registration lists pushed to live subscribers")

	m.httpRequests = m.counterVec("http_requests_total",
		"Total number of HTTP requests by endpoint and method", "endpoint", "method", "status_code")
	m.httpRequestDuration = m.histogramVec("http_request_duration_milliseconds",
		"HTTP request duration in milliseconds", "endpoint", "method", "status_code")

	m.queueSize = m.gauge("queue_size", "Current size of the lifecycle event queue")
	m.queueCapacity = m.gauge("queue_capacity", "Maximum capacity of the lifecycle event queue")
	m.queueUtilization = m.gauge("queue_utilization_ratio", "Queue utilization ratio (0.0 to 1.0)")
	m.queueEnqueueRate = m.counter("queue_enqueue_total", "Total number of enqueued lifecycle events")
	m.queueDequeueRate = m.counter("queue_dequeue_total", "Total number of dequeued lifecycle events")
	m.queueEnqueueErrors = m.counter("queue_enqueue_errors_total", "Total number of rejected enqueues")
	m.queueProcessingLatency = m.histogram("queue_processing_latency_milliseconds",
		"Enqueue latency in milliseconds", m.histogramBuckets)

	m.workerActiveCount = m.gauge("worker_active_count", "Number of running publisher workers")
	m.workerProcessingLatency = m.histogram("worker_processing_latency_milliseconds",
		"Time taken by a worker to deliver one lifecycle event", m.histogramBuckets)
	m.workerErrorRate = m.counter("worker_errors_total", "Total number of worker delivery errors")

	m.lifecyclePublished = m.counterVec("lifecycle_published_total",
		"Lifecycle events delivered to a publisher", "kind")
	m.lifecycleDuplicates = m.counter("lifecycle_duplicates_total",
		"Lifecycle events suppressed as duplicates")
	m.publishErrors = m.counterVec("publish_errors_total",
		"Lifecycle publisher failures", "publisher")

	m.errorRateByComponent = m.counterVec("errors_by_component_total",
		"Total number of errors by component", "component", "error_type")
	m.errorRateByType = m.counterVec("errors_by_type_total",
		"Total number of errors by type and severity", "error_type", "severity")
	m.errorRateByEndpoint = m.counterVec("errors_by_endpoint_total",
		"Total number of errors by HTTP endpoint", "endpoint", "method", "error_type")
	m.errorLatency = m.histogramVec("error_latency_milliseconds",
		"Latency of operations that resulted in errors", "component", "error_type")

	m.systemMemoryUsage = m.gauge("system_memory_usage_bytes", "System memory usage in bytes")
	m.systemGoroutineCount = m.gauge("system_goroutine_count", "Number of goroutines")
	m.systemGCPauseTime = m.histogram("system_gc_pause_time_milliseconds", "GC pause time in milliseconds",
		[]float64{0.1, 0.5, 1, 2, 5, 10, 25, 50, 100, 250, 500, 1000})
}

// Enabled reports whether the manager records anything.
func (m *Manager) Enabled() bool { return m.enabled }

// RefreshInterval returns how often system gauges are refreshed.
func (m *Manager) RefreshInterval() time.Duration { return m.refreshInterval }

// Registration lifecycle.

// RecordRegistration counts a register() call by outcome.
func RecordRegistration(outcome string) {
	globalManager.registrations.WithLabelValues(outcome).Inc()
}

// RecordCancellation counts a cancel() call by outcome.
func RecordCancellation(outcome string) {
	globalManager.cancellations.WithLabelValues(outcome).Inc()
}

// RecordCheckIn counts a token scan by outcome.
func RecordCheckIn(outcome string) {
	globalManager.checkIns.WithLabelValues(outcome).Inc()
}

// Ranking.

// RecordRankingLatency records one ranking pass in milliseconds.
func RecordRankingLatency(latencyMs float64) {
	globalManager.rankingLatency.Observe(latencyMs)
}

// RecordRankedEvents adds the located/unlocated split of one ranking pass.
func RecordRankedEvents(located, unlocated int) {
	globalManager.rankedLocated.Add(float64(located))
	globalManager.rankedUnlocated.Add(float64(unlocated))
}

// UpdateCatalogSize sets the number of catalog events.
func UpdateCatalogSize(count int) {
	globalManager.catalogSize.Set(float64(count))
}

// Store.

// RecordStoreOperation records the latency of a store call.
func RecordStoreOperation(driver, operation string, latencyMs float64) {
	globalManager.storeLatency.WithLabelValues(driver, operation).Observe(latencyMs)
}

// RecordStoreError counts a backend failure.
func RecordStoreError(driver, operation string) {
	globalManager.storeErrors.WithLabelValues(driver, operation).Inc()
}

// IncActiveStreams marks a live subscription as opened.
func IncActiveStreams() {
	globalManager.activeStreams.Inc()
}

// DecActiveStreams marks a live subscription as released.
func DecActiveStreams() {
	globalManager.activeStreams.Dec()
}

// RecordStreamEmit counts one push to a live subscriber.
func RecordStreamEmit() {
	globalManager.streamEmits.Inc()
}

// HTTP.

// RecordHTTPRequest records an HTTP request.
func RecordHTTPRequest(endpoint, method, statusCode string) {
	globalManager.httpRequests.WithLabelValues(endpoint, method, statusCode).Inc()
}

// RecordHTTPRequestDuration records HTTP request duration.
func RecordHTTPRequestDuration(endpoint, method, statusCode string, duration float64) {
	globalManager.httpRequestDuration.WithLabelValues(endpoint, method, statusCode).Observe(duration)
}

// Queue Metrics Functions.

// UpdateQueueSize sets the current queue size.
func UpdateQueueSize(size int) {
	globalManager.queueSize.Set(float64(size))
}

// UpdateQueueCapacity sets the maximum queue capacity.
func UpdateQueueCapacity(capacity int) {
	globalManager.queueCapacity.Set(float64(capacity))
}

// UpdateQueueUtilization sets the queue utilization ratio.
func UpdateQueueUtilization(utilization float64) {
	globalManager.queueUtilization.Set(utilization)
}

// RecordQueueEnqueue increments the enqueue counter.
func RecordQueueEnqueue() {
	globalManager.queueEnqueueRate.Inc()
}

// RecordQueueDequeue increments the dequeue counter.
func RecordQueueDequeue() {
	globalManager.queueDequeueRate.Inc()
}

// RecordQueueEnqueueError increments the enqueue error counter.
func RecordQueueEnqueueError() {
	globalManager.queueEnqueueErrors.Inc()
}

// RecordQueueProcessingLatency records queue processing latency.
func RecordQueueProcessingLatency(latencyMs float64) {
	globalManager.queueProcessingLatency.Observe(latencyMs)
}

// Worker Metrics Functions.

// UpdateWorkerActiveCount sets the number of active workers.
func UpdateWorkerActiveCount(count int) {
	globalManager.workerActiveCount.Set(float64(count))
}

// RecordWorkerProcessingLatency records worker processing latency.
func RecordWorkerProcessingLatency(latencyMs float64) {
	globalManager.workerProcessingLatency.Observe(latencyMs)
}

// RecordWorkerError increments the worker error counter.
func RecordWorkerError() {
	globalManager.workerErrorRate.Inc()
}

// Publication.

// RecordLifecyclePublished counts a delivered lifecycle event.
func RecordLifecyclePublished(kind string) {
	globalManager.lifecyclePublished.WithLabelValues(kind).Inc()
}

// RecordLifecycleDuplicate counts a suppressed duplicate.
func RecordLifecycleDuplicate() {
	globalManager.lifecycleDuplicates.Inc()
}

// RecordPublishError counts a publisher failure.
func RecordPublishError(publisher string) {
	globalManager.publishErrors.WithLabelValues(publisher).Inc()
}

// Error Metrics Functions.

// RecordErrorByComponent records an error with component and type labels.
func RecordErrorByComponent(component, errorType string) {
	globalManager.errorRateByComponent.WithLabelValues(component, errorType).Inc()
}

// RecordErrorByType records an error with type and severity labels.
func RecordErrorByType(errorType, severity string) {
	globalManager.errorRateByType.WithLabelValues(errorType, severity).Inc()
}

// RecordErrorByEndpoint records an error with endpoint, method, and error type labels.
func RecordErrorByEndpoint(endpoint, method, errorType string) {
	globalManager.errorRateByEndpoint.WithLabelValues(endpoint, method, errorType).Inc()
}

// RecordErrorLatency records the latency of an operation that resulted in an error.
func RecordErrorLatency(component, errorType string, latencyMs float64) {
	globalManager.errorLatency.WithLabelValues(component, errorType).Observe(latencyMs)
}

// System Performance Metrics Functions.

// UpdateSystemMemoryUsage sets the system memory usage in bytes.
func UpdateSystemMemoryUsage(bytes uint64) {
	globalManager.systemMemoryUsage.Set(float64(bytes))
}

// UpdateSystemGoroutineCount sets the number of goroutines.
func UpdateSystemGoroutineCount(count int) {
	globalManager.systemGoroutineCount.Set(float64(count))
}

// RecordSystemGCPauseTime records GC pause time in milliseconds.
func RecordSystemGCPauseTime(pauseMs float64) {
	globalManager.systemGCPauseTime.Observe(pauseMs)
}

// RefreshInterval is how often the process should refresh system gauges.
func RefreshInterval() time.Duration {
	return globalManager.refreshInterval
}

// GetRegistry returns the custom Prometheus registry used by our metrics.
func GetRegistry() *prometheus.Registry {
	return customRegistry
}

// Since returns the elapsed milliseconds since start as a float.
func Since(start time.Time) float64 {
	return float64(time.Since(start).Microseconds()) / 1000.0
}
