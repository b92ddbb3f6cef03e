// Package metrics exposes Prometheus collectors for the orchestration engine.
package metrics

import (
	"os"
	"strings"
	"sync"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"net/http"
)

// Metrics holds all collectors the engine records against.
type Metrics struct {
	RequestsTotal    *prometheus.CounterVec
	RequestDuration  *prometheus.HistogramVec
	RequestsInFlight prometheus.Gauge
	ErrorsTotal      *prometheus.CounterVec

	ExecutionsTotal    *prometheus.CounterVec
	ExecutionDuration  *prometheus.HistogramVec
	AgentInvocations   *prometheus.CounterVec
	AgentDuration      *prometheus.HistogramVec
	AgentRetries       *prometheus.CounterVec
	CheckpointsWritten prometheus.Counter

	DatabaseQueriesTotal   *prometheus.CounterVec
	DatabaseQueryDuration  *prometheus.HistogramVec
	DatabaseConnectionsOpen prometheus.Gauge

	RateLimitRejections *prometheus.CounterVec
	AuditEventsTotal    *prometheus.CounterVec

	ServiceUptime prometheus.Gauge
	ServiceInfo   *prometheus.GaugeVec

	startedAt time.Time
}

// New creates Metrics registered against the default Prometheus registerer.
func New(serviceName, version string) *Metrics {
	return NewWithRegistry(prometheus.DefaultRegisterer, serviceName, version)
}

// NewWithRegistry creates Metrics registered against a specific registerer,
// which tests can substitute with a fresh prometheus.NewRegistry().
func NewWithRegistry(reg prometheus.Registerer, serviceName, version string) *Metrics {
	factory := promauto.With(reg)

	m := &Metrics{
		RequestsTotal: factory.NewCounterVec(prometheus.CounterOpts{
			Name: "http_requests_total",
			Help: "Total HTTP requests processed",
		}, []string{"method", "path", "status"}),

		RequestDuration: factory.NewHistogramVec(prometheus.HistogramOpts{
			Name:    "http_request_duration_seconds",
			Help:    "HTTP request duration in seconds",
			Buckets: prometheus.DefBuckets,
		}, []string{"method", "path"}),

		RequestsInFlight: factory.NewGauge(prometheus.GaugeOpts{
			Name: "http_requests_in_flight",
			Help: "Number of HTTP requests currently being served",
		}),

		ErrorsTotal: factory.NewCounterVec(prometheus.CounterOpts{
			Name: "errors_total",
			Help: "Total errors by code",
		}, []string{"code"}),

		ExecutionsTotal: factory.NewCounterVec(prometheus.CounterOpts{
			Name: "workflow_executions_total",
			Help: "Total workflow executions by terminal status",
		}, []string{"workflow_id", "status"}),

		ExecutionDuration: factory.NewHistogramVec(prometheus.HistogramOpts{
			Name:    "workflow_execution_duration_seconds",
			Help:    "Workflow execution duration in seconds, start to terminal status",
			Buckets: prometheus.ExponentialBuckets(1, 2, 12),
		}, []string{"workflow_id"}),

		AgentInvocations: factory.NewCounterVec(prometheus.CounterOpts{
			Name: "agent_invocations_total",
			Help: "Total agent invocations by kind and outcome",
		}, []string{"agent_kind", "outcome"}),

		AgentDuration: factory.NewHistogramVec(prometheus.HistogramOpts{
			Name:    "agent_invocation_duration_seconds",
			Help:    "Agent invocation duration in seconds",
			Buckets: prometheus.DefBuckets,
		}, []string{"agent_kind"}),

		AgentRetries: factory.NewCounterVec(prometheus.CounterOpts{
			Name: "agent_retries_total",
			Help: "Total agent invocation retries by kind",
		}, []string{"agent_kind"}),

		CheckpointsWritten: factory.NewCounter(prometheus.CounterOpts{
			Name: "checkpoints_written_total",
			Help: "Total durable checkpoints written",
		}),

		DatabaseQueriesTotal: factory.NewCounterVec(prometheus.CounterOpts{
			Name: "database_queries_total",
			Help: "Total database queries by operation and outcome",
		}, []string{"operation", "outcome"}),

		DatabaseQueryDuration: factory.NewHistogramVec(prometheus.HistogramOpts{
			Name:    "database_query_duration_seconds",
			Help:    "Database query duration in seconds",
			Buckets: prometheus.DefBuckets,
		}, []string{"operation"}),

		DatabaseConnectionsOpen: factory.NewGauge(prometheus.GaugeOpts{
			Name: "database_connections_open",
			Help: "Current open database connections",
		}),

		RateLimitRejections: factory.NewCounterVec(prometheus.CounterOpts{
			Name: "rate_limit_rejections_total",
			Help: "Total requests rejected by the rate limiter",
		}, []string{"key_kind"}),

		AuditEventsTotal: factory.NewCounterVec(prometheus.CounterOpts{
			Name: "audit_events_total",
			Help: "Total audit events recorded by action",
		}, []string{"action"}),

		ServiceUptime: factory.NewGauge(prometheus.GaugeOpts{
			Name: "service_uptime_seconds",
			Help: "Seconds since the service started",
		}),

		ServiceInfo: factory.NewGaugeVec(prometheus.GaugeOpts{
			Name: "service_info",
			Help: "Static service build information",
		}, []string{"service", "version"}),

		startedAt: time.Now(),
	}

	m.ServiceInfo.WithLabelValues(serviceName, version).Set(1)
	return m
}

// RecordHTTPRequest records a completed HTTP request.
func (m *Metrics) RecordHTTPRequest(method, path, status string, duration time.Duration) {
	m.RequestsTotal.WithLabelValues(method, path, status).Inc()
	m.RequestDuration.WithLabelValues(method, path).Observe(duration.Seconds())
}

// RecordError records an error by code.
func (m *Metrics) RecordError(code string) {
	m.ErrorsTotal.WithLabelValues(code).Inc()
}

// RecordExecution records a terminal execution status and its total duration.
func (m *Metrics) RecordExecution(workflowID, status string, duration time.Duration) {
	m.ExecutionsTotal.WithLabelValues(workflowID, status).Inc()
	m.ExecutionDuration.WithLabelValues(workflowID).Observe(duration.Seconds())
}

// RecordAgentInvocation records a single agent invocation attempt.
func (m *Metrics) RecordAgentInvocation(agentKind, outcome string, duration time.Duration) {
	m.AgentInvocations.WithLabelValues(agentKind, outcome).Inc()
	m.AgentDuration.WithLabelValues(agentKind).Observe(duration.Seconds())
}

// RecordAgentRetry records one retry of an agent invocation.
func (m *Metrics) RecordAgentRetry(agentKind string) {
	m.AgentRetries.WithLabelValues(agentKind).Inc()
}

// RecordCheckpoint records one durable checkpoint write.
func (m *Metrics) RecordCheckpoint() {
	m.CheckpointsWritten.Inc()
}

// RecordDatabaseQuery records a database query outcome and latency.
func (m *Metrics) RecordDatabaseQuery(operation, outcome string, duration time.Duration) {
	m.DatabaseQueriesTotal.WithLabelValues(operation, outcome).Inc()
	m.DatabaseQueryDuration.WithLabelValues(operation).Observe(duration.Seconds())
}

// SetDatabaseConnections sets the current open connection gauge.
func (m *Metrics) SetDatabaseConnections(n int) {
	m.DatabaseConnectionsOpen.Set(float64(n))
}

// RecordRateLimitRejection records one rate-limited request.
func (m *Metrics) RecordRateLimitRejection(keyKind string) {
	m.RateLimitRejections.WithLabelValues(keyKind).Inc()
}

// RecordAuditEvent records one recorded audit event.
func (m *Metrics) RecordAuditEvent(action string) {
	m.AuditEventsTotal.WithLabelValues(action).Inc()
}

// UpdateUptime refreshes the service_uptime_seconds gauge.
func (m *Metrics) UpdateUptime() {
	m.ServiceUptime.Set(time.Since(m.startedAt).Seconds())
}

// IncrementInFlight/DecrementInFlight track concurrent HTTP requests.
func (m *Metrics) IncrementInFlight() { m.RequestsInFlight.Inc() }
func (m *Metrics) DecrementInFlight() { m.RequestsInFlight.Dec() }

// Enabled reports whether metrics collection is turned on via METRICS_ENABLED.
func Enabled() bool {
	val := strings.ToLower(strings.TrimSpace(os.Getenv("METRICS_ENABLED")))
	return val == "" || val == "true" || val == "1"
}

// Handler returns the Prometheus scrape handler.
func Handler() http.Handler {
	return promhttp.Handler()
}

var (
	globalMu sync.Mutex
	global   *Metrics
)

// Init initializes the process-wide global Metrics instance.
func Init(serviceName, version string) *Metrics {
	globalMu.Lock()
	defer globalMu.Unlock()
	global = New(serviceName, version)
	return global
}

// Global returns the process-wide Metrics instance, initializing a
// default one if Init was never called.
func Global() *Metrics {
	globalMu.Lock()
	defer globalMu.Unlock()
	if global == nil {
		global = New("orchestration-engine", "dev")
	}
	return global
}
