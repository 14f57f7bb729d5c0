package observability

import (
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// Histogram bucket definitions.
var (
	httpDurationBuckets     = []float64{0.005, 0.01, 0.025, 0.05, 0.1, 0.25, 0.5, 1, 2.5, 5, 10}
	stageDurationBuckets    = []float64{0.001, 0.005, 0.01, 0.05, 0.1, 0.5, 1, 5, 15, 30, 60}
	upstreamDurationBuckets = []float64{0.01, 0.05, 0.1, 0.25, 0.5, 1, 2.5, 5, 10, 30}
	scoreBuckets            = []float64{0, 1, 2, 3, 4, 5, 6, 7, 8, 9, 10}
)

// Metrics holds all Prometheus metric instruments.
type Metrics struct {
	// HTTP metrics
	HTTPRequestsTotal   *prometheus.CounterVec
	HTTPRequestDuration *prometheus.HistogramVec

	// Pipeline metrics
	RunsStartedTotal  prometheus.Counter
	RunsFinishedTotal *prometheus.CounterVec
	RunsActive        prometheus.Gauge
	TransitionsTotal  *prometheus.CounterVec
	StageDuration     *prometheus.HistogramVec
	StageRetriesTotal *prometheus.CounterVec

	// Analysis metrics
	ViolationsTotal *prometheus.CounterVec
	ScoreObserved   prometheus.Histogram

	// Upstream metrics
	UpstreamCallsTotal   *prometheus.CounterVec
	UpstreamCallDuration *prometheus.HistogramVec
	CircuitBreakerState  *prometheus.GaugeVec

	// Rule registry metrics
	RuleReloadTotal *prometheus.CounterVec
	RulesLoaded     prometheus.Gauge
	RegistryInfo    *prometheus.GaugeVec
}

// InitMetrics creates and registers all Prometheus metric instruments.
func InitMetrics(reg prometheus.Registerer) *Metrics {
	m := &Metrics{
		HTTPRequestsTotal: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "leanflow_http_requests_total",
			Help: "Total number of HTTP requests.",
		}, []string{"method", "path_pattern", "status"}),
		HTTPRequestDuration: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Name:    "leanflow_http_request_duration_seconds",
			Help:    "HTTP request duration in seconds.",
			Buckets: httpDurationBuckets,
		}, []string{"method", "path_pattern"}),

		RunsStartedTotal: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "leanflow_runs_started_total",
			Help: "Total number of pipeline runs started.",
		}),
		RunsFinishedTotal: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "leanflow_runs_finished_total",
			Help: "Total number of pipeline runs that reached a terminal status.",
		}, []string{"status", "code"}),
		RunsActive: prometheus.NewGauge(prometheus.GaugeOpts{
			Name: "leanflow_runs_active",
			Help: "Number of pipeline runs in progress.",
		}),
		TransitionsTotal: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "leanflow_run_transitions_total",
			Help: "Total number of persisted run status transitions.",
		}, []string{"from", "to"}),
		StageDuration: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Name:    "leanflow_stage_duration_seconds",
			Help:    "Pipeline stage duration in seconds, retries included.",
			Buckets: stageDurationBuckets,
		}, []string{"stage", "outcome"}),
		StageRetriesTotal: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "leanflow_stage_retries_total",
			Help: "Total number of stage retries.",
		}, []string{"stage", "reason"}),

		ViolationsTotal: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "leanflow_violations_total",
			Help: "Total number of rule violations detected.",
		}, []string{"framework", "severity"}),
		ScoreObserved: prometheus.NewHistogram(prometheus.HistogramOpts{
			Name:    "leanflow_inefficiency_score",
			Help:    "Distribution of computed inefficiency scores.",
			Buckets: scoreBuckets,
		}),

		UpstreamCallsTotal: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "leanflow_upstream_calls_total",
			Help: "Total number of reasoning-service calls.",
		}, []string{"service", "outcome"}),
		UpstreamCallDuration: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Name:    "leanflow_upstream_call_duration_seconds",
			Help:    "Reasoning-service call duration in seconds.",
			Buckets: upstreamDurationBuckets,
		}, []string{"service"}),
		CircuitBreakerState: prometheus.NewGaugeVec(prometheus.GaugeOpts{
			Name: "leanflow_circuit_breaker_state",
			Help: "Circuit breaker state (0=closed, 1=half-open, 2=open).",
		}, []string{"service"}),

		RuleReloadTotal: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "leanflow_rule_reload_total",
			Help: "Total rule registry reload attempts.",
		}, []string{"status"}),
		RulesLoaded: prometheus.NewGauge(prometheus.GaugeOpts{
			Name: "leanflow_rules_loaded",
			Help: "Number of rules in the active registry.",
		}),
		RegistryInfo: prometheus.NewGaugeVec(prometheus.GaugeOpts{
			Name: "leanflow_rule_registry_info",
			Help: "Active rule registry version (value is always 1).",
		}, []string{"version"}),
	}

	reg.MustRegister(
		m.HTTPRequestsTotal,
		m.HTTPRequestDuration,
		m.RunsStartedTotal,
		m.RunsFinishedTotal,
		m.RunsActive,
		m.TransitionsTotal,
		m.StageDuration,
		m.StageRetriesTotal,
		m.ViolationsTotal,
		m.ScoreObserved,
		m.UpstreamCallsTotal,
		m.UpstreamCallDuration,
		m.CircuitBreakerState,
		m.RuleReloadTotal,
		m.RulesLoaded,
		m.RegistryInfo,
	)

	return m
}

// --- Recording helpers ---

// RecordHTTPRequest records HTTP request metrics.
func (m *Metrics) RecordHTTPRequest(method, pathPattern string, status int, duration time.Duration) {
	m.HTTPRequestsTotal.WithLabelValues(method, pathPattern, strconv.Itoa(status)).Inc()
	m.HTTPRequestDuration.WithLabelValues(method, pathPattern).Observe(duration.Seconds())
}

// RecordRunStart records a new pipeline run.
func (m *Metrics) RecordRunStart() {
	m.RunsStartedTotal.Inc()
	m.RunsActive.Inc()
}

// RecordRunFinish records a run reaching a terminal status. code is empty
// for completed runs.
func (m *Metrics) RecordRunFinish(status, code string) {
	m.RunsFinishedTotal.WithLabelValues(status, code).Inc()
	m.RunsActive.Dec()
}

// RecordTransition records a persisted status transition.
func (m *Metrics) RecordTransition(from, to string) {
	m.TransitionsTotal.WithLabelValues(from, to).Inc()
}

// RecordStage records the duration and outcome of a stage.
func (m *Metrics) RecordStage(stage, outcome string, duration time.Duration) {
	m.StageDuration.WithLabelValues(stage, outcome).Observe(duration.Seconds())
}

// RecordStageRetry records a stage retry. reason is "gate" or "upstream".
func (m *Metrics) RecordStageRetry(stage, reason string) {
	m.StageRetriesTotal.WithLabelValues(stage, reason).Inc()
}

// RecordViolation records a detected violation.
func (m *Metrics) RecordViolation(framework, severity string) {
	m.ViolationsTotal.WithLabelValues(framework, severity).Inc()
}

// RecordScore records a computed inefficiency score.
func (m *Metrics) RecordScore(value float64) {
	m.ScoreObserved.Observe(value)
}

// RecordUpstreamCall records a reasoning-service call.
func (m *Metrics) RecordUpstreamCall(service, outcome string, duration time.Duration) {
	m.UpstreamCallsTotal.WithLabelValues(service, outcome).Inc()
	m.UpstreamCallDuration.WithLabelValues(service).Observe(duration.Seconds())
}

// SetCircuitBreakerState sets the circuit breaker state for a service.
// State: 0=closed, 1=half-open, 2=open.
func (m *Metrics) SetCircuitBreakerState(service string, state float64) {
	m.CircuitBreakerState.WithLabelValues(service).Set(state)
}

// RecordRuleReload records a rule registry reload attempt.
func (m *Metrics) RecordRuleReload(status string) {
	m.RuleReloadTotal.WithLabelValues(status).Inc()
}

// SetRegistry publishes the active registry version and size.
func (m *Metrics) SetRegistry(version string, rules int) {
	m.RegistryInfo.Reset()
	m.RegistryInfo.WithLabelValues(version).Set(1)
	m.RulesLoaded.Set(float64(rules))
}

// --- HTTP Middleware ---

// MetricsMiddleware returns HTTP middleware that records request metrics using
// chi's route pattern (not the actual URL path) to avoid label cardinality
// explosion.
func (m *Metrics) MetricsMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		start := time.Now()
		sw := &statusWriter{ResponseWriter: w, status: http.StatusOK}

		next.ServeHTTP(sw, r)

		m.RecordHTTPRequest(r.Method, routePattern(r), sw.status, time.Since(start))
	})
}

// Handler returns the Prometheus HTTP handler for the /metrics endpoint.
func Handler(g prometheus.Gatherer) http.Handler {
	return promhttp.HandlerFor(g, promhttp.HandlerOpts{})
}

// routePattern extracts chi's route pattern from the request context.
// Falls back to the raw URL path if no pattern is found.
func routePattern(r *http.Request) string {
	rctx := chi.RouteContext(r.Context())
	if rctx == nil {
		return r.URL.Path
	}
	pattern := strings.Join(rctx.RoutePatterns, "")
	pattern = strings.TrimSuffix(pattern, "/*")
	if pattern == "" {
		return r.URL.Path
	}
	return pattern
}

// statusWriter wraps http.ResponseWriter to capture the status code.
type statusWriter struct {
	http.ResponseWriter
	status  int
	written bool
}

func (w *statusWriter) WriteHeader(code int) {
	if !w.written {
		w.status = code
		w.written = true
	}
	w.ResponseWriter.WriteHeader(code)
}

func (w *statusWriter) Write(b []byte) (int, error) {
	w.written = true
	return w.ResponseWriter.Write(b)
}
