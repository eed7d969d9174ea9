// Package metrics provides Prometheus metrics for the repairflow service.
package metrics

import (
	"sync/atomic"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// Default metrics configuration constants.
const (
	defaultRefreshInterval = 10 * time.Second
)

// Manager manages all Prometheus metrics for the repairflow service.
type Manager struct {
	namespace        string
	subsystem        string
	histogramBuckets []float64
	enabled          atomic.Bool
	refreshInterval  atomic.Int64
	customLabels     map[string]string
	metricPrefix     string
	registry         prometheus.Registerer

	// Lifecycle
	jobsCreated          prometheus.Counter
	transitions          *prometheus.CounterVec
	transitionRejections *prometheus.CounterVec
	reworks              prometheus.Counter
	jobsEscalatedToHuman prometheus.Counter

	// Assignment
	assignments          *prometheus.CounterVec
	assignmentFailures   *prometheus.CounterVec
	scoringLatency       prometheus.Histogram
	candidatesConsidered prometheus.Histogram
	candidatesExcluded   *prometheus.CounterVec
	assignmentConfidence prometheus.Histogram

	// Escalation
	escalationsFired     *prometheus.CounterVec
	notificationFailures prometheus.Counter

	// Technician outcomes
	outcomesApplied   prometheus.Counter
	outcomesDuplicate prometheus.Counter

	// Store
	storeLatency  *prometheus.HistogramVec
	storeTimeouts *prometheus.CounterVec

	// Command queue and shard workers
	queueSize          prometheus.Gauge
	queueCapacity      prometheus.Gauge
	queueUtilization   prometheus.Gauge
	queueEnqueued      prometheus.Counter
	queueDequeued      prometheus.Counter
	queueEnqueueErrors *prometheus.CounterVec
	workerCount        prometheus.Gauge
	commandLatency     *prometheus.HistogramVec
	commandsSkipped    prometheus.Counter
	openJobs           prometheus.Gauge
	registeredTechs    prometheus.Gauge

	// HTTP
	httpRequests        *prometheus.CounterVec
	httpRequestDuration *prometheus.HistogramVec
	httpRetries         prometheus.Counter

	// Errors
	errorRateByComponent *prometheus.CounterVec

	// System
	systemMemoryUsage    prometheus.Gauge
	systemGoroutineCount prometheus.Gauge
}

// Global metrics manager instance.
var globalManager *Manager //nolint:gochecknoglobals // intentional global for singleton metrics manager

// discard absorbs recordings while collection is disabled.
var discard = NewManager(WithPrometheusRegistry(prometheus.NewRegistry())) //nolint:gochecknoglobals // sink for disabled collection

// Custom registry to avoid default Go metrics.
var customRegistry = prometheus.NewRegistry() //nolint:gochecknoglobals // intentional global for metrics registry

func init() { //nolint:gochecknoinits // intentional init for global metrics setup
	globalManager = NewManager(WithPrometheusRegistry(customRegistry))
}

// NewManager creates a new metrics manager with default configuration.
func NewManager(opts ...Option) *Manager {
	m := &Manager{
		namespace:        "repairflow",
		subsystem:        "core",
		histogramBuckets: prometheus.DefBuckets,
		customLabels:     make(map[string]string),
		registry:         prometheus.DefaultRegisterer,
	}
	m.enabled.Store(true)
	m.refreshInterval.Store(int64(defaultRefreshInterval))

	for _, opt := range opts {
		opt(m)
	}

	m.initializeMetrics()
	return m
}

// Enabled reports whether the manager records observations.
func (m *Manager) Enabled() bool { return m.enabled.Load() }

// RefreshInterval is how often owners of gauge metrics should republish them.
func (m *Manager) RefreshInterval() time.Duration {
	return time.Duration(m.refreshInterval.Load())
}

// Configure applies runtime options to the global manager. Options that
// shape metric names only take effect at construction and are ignored here.
func Configure(opts ...Option) {
	shadow := &Manager{}
	shadow.enabled.Store(globalManager.Enabled())
	shadow.refreshInterval.Store(int64(globalManager.RefreshInterval()))
	for _, opt := range opts {
		opt(shadow)
	}
	globalManager.enabled.Store(shadow.Enabled())
	globalManager.refreshInterval.Store(int64(shadow.RefreshInterval()))
}

// Enabled reports whether the global manager records observations.
func Enabled() bool { return globalManager.Enabled() }

// RefreshInterval returns the global gauge refresh interval.
func RefreshInterval() time.Duration { return globalManager.RefreshInterval() }

// active returns the global manager, or a private sink when disabled.
func active() *Manager {
	if globalManager.Enabled() {
		return globalManager
	}
	return discard
}

func (m *Manager) name(n string) string {
	if m.metricPrefix == "" {
		return n
	}
	return m.metricPrefix + "_" + n
}

func (m *Manager) counterOpts(name, help string) prometheus.CounterOpts {
	return prometheus.CounterOpts{
		Namespace:   m.namespace,
		Subsystem:   m.subsystem,
		Name:        m.name(name),
		Help:        help,
		ConstLabels: m.customLabels,
	}
}

func (m *Manager) gaugeOpts(name, help string) prometheus.GaugeOpts {
	return prometheus.GaugeOpts{
		Namespace:   m.namespace,
		Subsystem:   m.subsystem,
		Name:        m.name(name),
		Help:        help,
		ConstLabels: m.customLabels,
	}
}

func (m *Manager) histogramOpts(name, help string, buckets []float64) prometheus.HistogramOpts {
	if buckets == nil {
		buckets = m.histogramBuckets
	}
	return prometheus.HistogramOpts{
		Namespace:   m.namespace,
		Subsystem:   m.subsystem,
		Name:        m.name(name),
		Help:        help,
		Buckets:     buckets,
		ConstLabels: m.customLabels,
	}
}

// initializeMetrics creates all the Prometheus metrics.
func (m *Manager) initializeMetrics() { //nolint:funlen // long function required for comprehensive metrics initialization
	auto := promauto.With(m.registry)

	m.jobsCreated = auto.NewCounter(m.counterOpts("jobs_created_total", "Total number of repair jobs created"))
	m.transitions = auto.NewCounterVec(
		m.counterOpts("transitions_total", "Committed lifecycle transitions by source and target state"),
		[]string{"from", "to"},
	)
	m.transitionRejections = auto.NewCounterVec(
		m.counterOpts("transition_rejections_total", "Rejected transition requests by error kind"),
		[]string{"kind"},
	)
	m.reworks = auto.NewCounter(m.counterOpts("reworks_total", "Quality check failures routed back to IN_PROGRESS"))
	m.jobsEscalatedToHuman = auto.NewCounter(m.counterOpts("jobs_escalated_total", "Jobs moved to the ESCALATED pseudo-state after exhausting reworks"))

	m.assignments = auto.NewCounterVec(
		m.counterOpts("assignments_total", "Committed technician assignments by kind and recommendation tier"),
		[]string{"kind", "recommendation"},
	)
	m.assignmentFailures = auto.NewCounterVec(
		m.counterOpts("assignment_failures_total", "Assignment attempts that did not commit, by reason"),
		[]string{"reason"},
	)
	m.scoringLatency = auto.NewHistogram(m.histogramOpts(
		"scoring_latency_milliseconds", "Time spent scoring a candidate pool in milliseconds",
		[]float64{0.1, 0.5, 1, 2, 5, 10, 25, 50, 100, 250},
	))
	m.candidatesConsidered = auto.NewHistogram(m.histogramOpts(
		"candidates_considered", "Candidate pool size per assignment request",
		[]float64{1, 2, 5, 10, 20, 50, 100, 250},
	))
	m.candidatesExcluded = auto.NewCounterVec(
		m.counterOpts("candidates_excluded_total", "Technicians removed by hard filters, by exclusion kind"),
		[]string{"kind"},
	)
	m.assignmentConfidence = auto.NewHistogram(m.histogramOpts(
		"assignment_confidence", "Confidence of committed assignments",
		[]float64{0.1, 0.2, 0.3, 0.4, 0.5, 0.6, 0.7, 0.8, 0.9, 1},
	))

	m.escalationsFired = auto.NewCounterVec(
		m.counterOpts("escalations_fired_total", "Escalation levels fired by level and action"),
		[]string{"level", "action"},
	)
	m.notificationFailures = auto.NewCounter(m.counterOpts("notification_failures_total", "Escalation notifications the collaborator failed to accept"))

	m.outcomesApplied = auto.NewCounter(m.counterOpts("technician_outcomes_applied_total", "Technician job outcomes applied"))
	m.outcomesDuplicate = auto.NewCounter(m.counterOpts("technician_outcomes_duplicate_total", "Technician job outcomes ignored as duplicates"))

	m.storeLatency = auto.NewHistogramVec(
		m.histogramOpts("store_latency_milliseconds", "Store operation latency in milliseconds", nil),
		[]string{"op"},
	)
	m.storeTimeouts = auto.NewCounterVec(
		m.counterOpts("store_timeouts_total", "Store operations that exceeded their deadline"),
		[]string{"op"},
	)

	m.queueSize = auto.NewGauge(m.gaugeOpts("queue_size", "Commands waiting across all shard queues"))
	m.queueCapacity = auto.NewGauge(m.gaugeOpts("queue_capacity", "Capacity of a single shard queue"))
	m.queueUtilization = auto.NewGauge(m.gaugeOpts("queue_utilization_ratio", "Most recent shard queue utilization (size / capacity)"))
	m.queueEnqueued = auto.NewCounter(m.counterOpts("queue_enqueue_total", "Commands accepted by shard queues"))
	m.queueDequeued = auto.NewCounter(m.counterOpts("queue_dequeue_total", "Commands handed to shard workers"))
	m.queueEnqueueErrors = auto.NewCounterVec(
		m.counterOpts("queue_enqueue_errors_total", "Commands rejected by shard queues by reason"),
		[]string{"reason"},
	)
	m.workerCount = auto.NewGauge(m.gaugeOpts("worker_count", "Number of shard workers"))
	m.commandLatency = auto.NewHistogramVec(
		m.histogramOpts("command_latency_milliseconds", "Time a shard worker spends executing a command", nil),
		[]string{"command"},
	)
	m.commandsSkipped = auto.NewCounter(m.counterOpts("commands_skipped_total", "Commands dropped because the caller gave up before execution"))
	m.openJobs = auto.NewGauge(m.gaugeOpts("open_jobs", "Jobs not yet delivered"))
	m.registeredTechs = auto.NewGauge(m.gaugeOpts("technicians", "Registered technicians"))

	m.httpRequests = auto.NewCounterVec(
		m.counterOpts("http_requests_total", "Total number of HTTP requests by endpoint and method"),
		[]string{"endpoint", "method", "status_code"},
	)
	m.httpRequestDuration = auto.NewHistogramVec(
		m.histogramOpts("http_request_duration_milliseconds", "HTTP request duration in milliseconds", nil),
		[]string{"endpoint", "method", "status_code"},
	)
	m.httpRetries = auto.NewCounter(m.counterOpts("http_store_retries_total", "Retries issued by the HTTP adapter after retryable errors"))

	m.errorRateByComponent = auto.NewCounterVec(
		m.counterOpts("errors_by_component_total", "Total number of errors by component"),
		[]string{"component", "error_type"},
	)

	m.systemMemoryUsage = auto.NewGauge(m.gaugeOpts("system_memory_bytes", "Heap bytes allocated"))
	m.systemGoroutineCount = auto.NewGauge(m.gaugeOpts("system_goroutines", "Number of goroutines"))
}

// Lifecycle metrics.

// RecordJobCreated increments the created jobs counter.
func RecordJobCreated() {
	active().jobsCreated.Inc()
}

// RecordTransition counts a committed transition.
func RecordTransition(from, to string) {
	active().transitions.WithLabelValues(from, to).Inc()
}

// RecordTransitionRejected counts a rejected transition by kind.
func RecordTransitionRejected(kind string) {
	active().transitionRejections.WithLabelValues(kind).Inc()
}

// RecordRework counts a quality check failure that loops back.
func RecordRework() {
	active().reworks.Inc()
}

// RecordJobEscalatedToHuman counts a job moved to ESCALATED.
func RecordJobEscalatedToHuman() {
	active().jobsEscalatedToHuman.Inc()
}

// Assignment metrics.

// RecordAssignment counts a committed assignment.
func RecordAssignment(kind, recommendation string, confidence float64) {
	active().assignments.WithLabelValues(kind, recommendation).Inc()
	active().assignmentConfidence.Observe(confidence)
}

// RecordAssignmentFailure counts an assignment that did not commit.
func RecordAssignmentFailure(reason string) {
	active().assignmentFailures.WithLabelValues(reason).Inc()
}

// RecordScoringLatency records scoring latency in milliseconds.
func RecordScoringLatency(latencyMs float64) {
	active().scoringLatency.Observe(latencyMs)
}

// RecordCandidatesConsidered records the size of a candidate pool.
func RecordCandidatesConsidered(n int) {
	active().candidatesConsidered.Observe(float64(n))
}

// RecordCandidateExcluded counts a hard-filter exclusion.
func RecordCandidateExcluded(kind string) {
	active().candidatesExcluded.WithLabelValues(kind).Inc()
}

// Escalation metrics.

// RecordEscalation counts a fired escalation level.
func RecordEscalation(level, action string) {
	active().escalationsFired.WithLabelValues(level, action).Inc()
}

// RecordNotificationFailure counts a failed notification dispatch.
func RecordNotificationFailure() {
	active().notificationFailures.Inc()
}

// Technician outcome metrics.

// RecordOutcomeApplied counts an applied technician outcome.
func RecordOutcomeApplied() {
	active().outcomesApplied.Inc()
}

// RecordOutcomeDuplicate counts an ignored duplicate outcome.
func RecordOutcomeDuplicate() {
	active().outcomesDuplicate.Inc()
}

// Store metrics.

// RecordStoreLatency records latency of a store operation.
func RecordStoreLatency(op string, latencyMs float64) {
	active().storeLatency.WithLabelValues(op).Observe(latencyMs)
}

// RecordStoreTimeout counts a store operation that timed out.
func RecordStoreTimeout(op string) {
	active().storeTimeouts.WithLabelValues(op).Inc()
}

// Queue and worker metrics.

// UpdateQueueSize sets the number of queued commands.
func UpdateQueueSize(size int) {
	active().queueSize.Set(float64(size))
}

// UpdateQueueCapacity sets the shard queue capacity.
func UpdateQueueCapacity(capacity int) {
	active().queueCapacity.Set(float64(capacity))
}

// UpdateQueueUtilization sets the queue utilization ratio.
func UpdateQueueUtilization(utilization float64) {
	active().queueUtilization.Set(utilization)
}

// RecordQueueEnqueue increments the enqueue counter.
func RecordQueueEnqueue() {
	active().queueEnqueued.Inc()
}

// RecordQueueDequeue increments the dequeue counter.
func RecordQueueDequeue() {
	active().queueDequeued.Inc()
}

// RecordQueueEnqueueError counts a rejected enqueue.
func RecordQueueEnqueueError(reason string) {
	active().queueEnqueueErrors.WithLabelValues(reason).Inc()
}

// UpdateWorkerCount sets the current worker count.
func UpdateWorkerCount(count int) {
	active().workerCount.Set(float64(count))
}

// RecordCommandLatency records how long a command took on its shard.
func RecordCommandLatency(command string, latencyMs float64) {
	active().commandLatency.WithLabelValues(command).Observe(latencyMs)
}

// RecordCommandSkipped counts a command abandoned by its caller.
func RecordCommandSkipped() {
	active().commandsSkipped.Inc()
}

// UpdateOpenJobs sets the number of open jobs.
func UpdateOpenJobs(count int) {
	active().openJobs.Set(float64(count))
}

// UpdateTechnicianCount sets the number of registered technicians.
func UpdateTechnicianCount(count int) {
	active().registeredTechs.Set(float64(count))
}

// HTTP metrics.

// RecordHTTPRequest records an HTTP request.
func RecordHTTPRequest(endpoint, method, statusCode string) {
	active().httpRequests.WithLabelValues(endpoint, method, statusCode).Inc()
}

// RecordHTTPRequestDuration records HTTP request duration.
func RecordHTTPRequestDuration(endpoint, method, statusCode string, duration float64) {
	active().httpRequestDuration.WithLabelValues(endpoint, method, statusCode).Observe(duration)
}

// RecordHTTPRetry counts a retry issued by the HTTP adapter.
func RecordHTTPRetry() {
	active().httpRetries.Inc()
}

// RecordErrorByComponent records an error with component and type labels.
func RecordErrorByComponent(component, errorType string) {
	active().errorRateByComponent.WithLabelValues(component, errorType).Inc()
}

// UpdateSystemMemoryUsage sets the system memory usage in bytes.
func UpdateSystemMemoryUsage(bytes uint64) {
	active().systemMemoryUsage.Set(float64(bytes))
}

// UpdateSystemGoroutineCount sets the number of goroutines.
func UpdateSystemGoroutineCount(count int) {
	active().systemGoroutineCount.Set(float64(count))
}

// GetRegistry returns the custom Prometheus registry used by our metrics.
func GetRegistry() *prometheus.Registry {
	return customRegistry
}
