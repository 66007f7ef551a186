// Package metrics provides Prometheus metrics for the errquotient service.
package metrics

import (
	"runtime"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// Manager owns every collector of the service.
type Manager struct {
	namespace        string
	subsystem        string
	histogramBuckets []float64
	registry         prometheus.Registerer

	// Pipeline
	eventsRecorded   prometheus.Counter
	eventsDropped    *prometheus.CounterVec
	usersProcessed   *prometheus.CounterVec
	sessionsScored   prometheus.Counter
	sessionEQ        prometheus.Histogram
	userProcessingMs prometheus.Histogram
	predictions      *prometheus.CounterVec

	// Model lifecycle
	retrainRuns       *prometheus.CounterVec
	retrainDurationMs prometheus.Histogram
	modelTrainedUnix  prometheus.Gauge
	modelState        prometheus.Gauge
	reconcileRecords  *prometheus.CounterVec
	reconcileFailures prometheus.Counter

	// Store
	storeLatencyMs *prometheus.HistogramVec

	// Queue
	queueSize          prometheus.Gauge
	queueCapacity      prometheus.Gauge
	queueUtilization   prometheus.Gauge
	queueEnqueued      prometheus.Counter
	queueEnqueueErrors prometheus.Counter
	recomputeCoalesced prometheus.Counter

	// Workers
	workerCount        prometheus.Gauge
	workerActive       prometheus.Gauge
	workerLatencyMs    prometheus.Histogram
	workerErrors       prometheus.Counter
	httpRequests       *prometheus.CounterVec
	httpRequestLatency *prometheus.HistogramVec

	errorsByComponent *prometheus.CounterVec

	systemMemoryUsage    prometheus.Gauge
	systemGoroutineCount prometheus.Gauge
}

var globalManager *Manager //nolint:gochecknoglobals // singleton metrics manager

// customRegistry keeps the default Go collectors out of /healthz.
var customRegistry = prometheus.NewRegistry() //nolint:gochecknoglobals // metrics registry

func init() { //nolint:gochecknoinits // global metrics setup
	globalManager = NewManager(WithPrometheusRegistry(customRegistry))
}

// NewManager creates a manager and registers its collectors.
func NewManager(opts ...Option) *Manager {
	m := &Manager{
		namespace:        "errquotient",
		subsystem:        "",
		histogramBuckets: prometheus.DefBuckets,
		registry:         prometheus.DefaultRegisterer,
	}
	for _, opt := range opts {
		opt(m)
	}
	m.initializeMetrics()
	return m
}

func (m *Manager) counter(name, help string) prometheus.Counter {
	return promauto.With(m.registry).NewCounter(prometheus.CounterOpts{
		Namespace: m.namespace, Subsystem: m.subsystem, Name: name, Help: help,
	})
}

func (m *Manager) counterVec(name, help string, labels ...string) *prometheus.CounterVec {
	return promauto.With(m.registry).NewCounterVec(prometheus.CounterOpts{
		Namespace: m.namespace, Subsystem: m.subsystem, Name: name, Help: help,
	}, labels)
}

func (m *Manager) gauge(name, help string) prometheus.Gauge {
	return promauto.With(m.registry).NewGauge(prometheus.GaugeOpts{
		Namespace: m.namespace, Subsystem: m.subsystem, Name: name, Help: help,
	})
}

func (m *Manager) histogram(name, help string, buckets []float64) prometheus.Histogram {
	return promauto.With(m.registry).NewHistogram(prometheus.HistogramOpts{
		Namespace: m.namespace, Subsystem: m.subsystem, Name: name, Help: help, Buckets: buckets,
	})
}

func (m *Manager) histogramVec(name, help string, labels ...string) *prometheus.HistogramVec {
	return promauto.With(m.registry).NewHistogramVec(prometheus.HistogramOpts{
		Namespace: m.namespace, Subsystem: m.subsystem, Name: name, Help: help, Buckets: m.histogramBuckets,
	}, labels)
}

func (m *Manager) initializeMetrics() {
	m.eventsRecorded = m.counter("events_recorded_total", "Error events accepted and stored")
	m.eventsDropped = m.counterVec("events_dropped_total", "Events skipped as data-quality faults", "reason")
	m.usersProcessed = m.counterVec("users_processed_total", "Per-user EQ recomputations by result", "result")
	m.sessionsScored = m.counter("sessions_scored_total", "Sessions scored by the EQ scorer")
	m.sessionEQ = m.histogram("session_eq_score", "Distribution of session EQ scores",
		[]float64{0, 0.1, 0.2, 0.3, 0.4, 0.5, 0.6, 0.7, 0.8, 0.9, 1})
	m.userProcessingMs = m.histogram("user_processing_duration_milliseconds",
		"Time to recompute one user", m.histogramBuckets)
	m.predictions = m.counterVec("predictions_total", "Predictions served by performance label", "performance")

	m.retrainRuns = m.counterVec("retrain_runs_total", "Retrain attempts by outcome", "outcome")
	m.retrainDurationMs = m.histogram("retrain_duration_milliseconds", "Duration of retrain plus reconcile", m.histogramBuckets)
	m.modelTrainedUnix = m.gauge("model_trained_timestamp_seconds", "Unix time of the current fitted model")
	m.modelState = m.gauge("model_state", "0 uninitialized, 1 default, 2 fitted")
	m.reconcileRecords = m.counterVec("reconcile_records_total", "Session records touched by reconciliation", "action")
	m.reconcileFailures = m.counter("reconcile_user_failures_total", "Users whose reconciliation hit a store fault")

	m.storeLatencyMs = m.histogramVec("store_operation_duration_milliseconds", "Store operation latency", "op")

	m.queueSize = m.gauge("queue_size", "Pending recompute jobs")
	m.queueCapacity = m.gauge("queue_capacity", "Recompute queue capacity")
	m.queueUtilization = m.gauge("queue_utilization_ratio", "Queue size divided by capacity")
	m.queueEnqueued = m.counter("queue_enqueued_total", "Recompute jobs enqueued")
	m.queueEnqueueErrors = m.counter("queue_enqueue_errors_total", "Recompute jobs rejected by the queue")
	m.recomputeCoalesced = m.counter("recompute_coalesced_total", "Recompute requests folded into a pending job")

	m.workerCount = m.gauge("worker_count", "Configured recompute workers")
	m.workerActive = m.gauge("worker_active_count", "Workers currently processing a job")
	m.workerLatencyMs = m.histogram("worker_processing_latency_milliseconds", "Recompute job latency", m.histogramBuckets)
	m.workerErrors = m.counter("worker_errors_total", "Recompute jobs that failed")

	m.httpRequests = m.counterVec("http_requests_total", "HTTP requests by endpoint", "endpoint", "method", "status_code")
	m.httpRequestLatency = m.histogramVec("http_request_duration_milliseconds", "HTTP request latency",
		"endpoint", "method", "status_code")

	m.errorsByComponent = m.counterVec("errors_by_component_total", "Errors by component and type", "component", "error_type")

	m.systemMemoryUsage = m.gauge("system_memory_bytes", "Heap bytes in use")
	m.systemGoroutineCount = m.gauge("system_goroutines", "Live goroutines")
}

// RecordEventRecorded increments the stored events counter.
func RecordEventRecorded() { globalManager.eventsRecorded.Inc() }

// RecordEventDropped counts an event skipped for the given reason.
func RecordEventDropped(reason string) { globalManager.eventsDropped.WithLabelValues(reason).Inc() }

// RecordUserProcessed counts a recomputation; result is ok, skipped or failed.
func RecordUserProcessed(result string, took time.Duration) {
	globalManager.usersProcessed.WithLabelValues(result).Inc()
	globalManager.userProcessingMs.Observe(float64(took.Milliseconds()))
}

// RecordSessionScored observes one session score.
func RecordSessionScored(eq float64) {
	globalManager.sessionsScored.Inc()
	globalManager.sessionEQ.Observe(eq)
}

// RecordPrediction counts a prediction by performance label.
func RecordPrediction(performance string) {
	globalManager.predictions.WithLabelValues(performance).Inc()
}

// RecordRetrain counts a retrain run and its duration.
func RecordRetrain(outcome string, took time.Duration) {
	globalManager.retrainRuns.WithLabelValues(outcome).Inc()
	globalManager.retrainDurationMs.Observe(float64(took.Milliseconds()))
}

// SetModel publishes the current model state and training time.
func SetModel(state int, trainedAt time.Time) {
	globalManager.modelState.Set(float64(state))
	if !trainedAt.IsZero() {
		globalManager.modelTrainedUnix.Set(float64(trainedAt.Unix()))
	}
}

// RecordReconcileRecords adds n records under action (updated, skipped, cleared).
func RecordReconcileRecords(action string, n int) {
	if n > 0 {
		globalManager.reconcileRecords.WithLabelValues(action).Add(float64(n))
	}
}

// RecordReconcileFailure counts a user that failed reconciliation.
func RecordReconcileFailure() { globalManager.reconcileFailures.Inc() }

// RecordStoreLatency records the latency of one store operation.
func RecordStoreLatency(op string, took time.Duration) {
	globalManager.storeLatencyMs.WithLabelValues(op).Observe(float64(took.Microseconds()) / 1000)
}

// UpdateQueueSize sets the current queue size.
func UpdateQueueSize(size int) { globalManager.queueSize.Set(float64(size)) }

// UpdateQueueCapacity sets the queue capacity.
func UpdateQueueCapacity(capacity int) { globalManager.queueCapacity.Set(float64(capacity)) }

// UpdateQueueUtilization sets the queue utilization ratio.
func UpdateQueueUtilization(utilization float64) { globalManager.queueUtilization.Set(utilization) }

// RecordQueueEnqueue increments the enqueue counter.
func RecordQueueEnqueue() { globalManager.queueEnqueued.Inc() }

// RecordQueueEnqueueError increments the enqueue error counter.
func RecordQueueEnqueueError() { globalManager.queueEnqueueErrors.Inc() }

// RecordRecomputeCoalesced counts a request absorbed by an already pending job.
func RecordRecomputeCoalesced() { globalManager.recomputeCoalesced.Inc() }

// UpdateWorkerCount sets the configured worker count.
func UpdateWorkerCount(count int) { globalManager.workerCount.Set(float64(count)) }

// AddWorkerActive moves the active worker gauge by delta.
func AddWorkerActive(delta int) { globalManager.workerActive.Add(float64(delta)) }

// RecordWorkerProcessingLatency records worker processing latency.
func RecordWorkerProcessingLatency(took time.Duration) {
	globalManager.workerLatencyMs.Observe(float64(took.Milliseconds()))
}

// RecordWorkerError increments the worker error counter.
func RecordWorkerError() { globalManager.workerErrors.Inc() }

// RecordHTTPRequest records one HTTP request and its latency in milliseconds.
func RecordHTTPRequest(endpoint, method, statusCode string, latencyMs float64) {
	globalManager.httpRequests.WithLabelValues(endpoint, method, statusCode).Inc()
	globalManager.httpRequestLatency.WithLabelValues(endpoint, method, statusCode).Observe(latencyMs)
}

// RecordErrorByComponent records an error with component and type labels.
func RecordErrorByComponent(component, errorType string) {
	globalManager.errorsByComponent.WithLabelValues(component, errorType).Inc()
}

// UpdateSystemStats samples memory and goroutine gauges.
func UpdateSystemStats() {
	var ms runtime.MemStats
	runtime.ReadMemStats(&ms)
	globalManager.systemMemoryUsage.Set(float64(ms.HeapInuse))
	globalManager.systemGoroutineCount.Set(float64(runtime.NumGoroutine()))
}

// GetRegistry returns the registry served on /healthz.
func GetRegistry() *prometheus.Registry {
	return customRegistry
}
