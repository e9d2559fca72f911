package server

import (
	"net/http"
	"strconv"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// Metrics holds the Prometheus metrics for the gateway API.
type Metrics struct {
	httpRequestsTotal   *prometheus.CounterVec
	httpRequestDuration *prometheus.HistogramVec

	commandsTotal      *prometheus.CounterVec
	securityRejections *prometheus.CounterVec
	workflowRuns       *prometheus.CounterVec
	rateLimited        *prometheus.CounterVec

	registry *prometheus.Registry
}

// NewMetrics creates a metrics instance backed by a private registry.
func NewMetrics() *Metrics {
	registry := prometheus.NewRegistry()

	m := &Metrics{
		httpRequestsTotal: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "relayforge_http_requests_total",
				Help: "Total number of HTTP requests",
			},
			[]string{"method", "endpoint", "status_code"},
		),

		httpRequestDuration: prometheus.NewHistogramVec(
			prometheus.HistogramOpts{
				Name:    "relayforge_http_request_duration_seconds",
				Help:    "HTTP request duration in seconds",
				Buckets: prometheus.DefBuckets,
			},
			[]string{"method", "endpoint"},
		),

		commandsTotal: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "relayforge_commands_total",
				Help: "Outbound commands executed by outcome",
			},
			[]string{"outcome"},
		),

		securityRejections: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "relayforge_security_rejections_total",
				Help: "Commands and URLs blocked by the security policy",
			},
			[]string{"kind"},
		),

		workflowRuns: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "relayforge_workflow_runs_total",
				Help: "Workflow runs by final status",
			},
			[]string{"status"},
		),

		rateLimited: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "relayforge_rate_limited_total",
				Help: "Requests denied by the rate limiter",
			},
			[]string{"endpoint"},
		),

		registry: registry,
	}

	registry.MustRegister(
		m.httpRequestsTotal,
		m.httpRequestDuration,
		m.commandsTotal,
		m.securityRejections,
		m.workflowRuns,
		m.rateLimited,
	)

	return m
}

// RecordHTTPRequest records one handled request.
func (m *Metrics) RecordHTTPRequest(method, endpoint, statusCode string, duration time.Duration) {
	m.httpRequestsTotal.WithLabelValues(method, endpoint, statusCode).Inc()
	m.httpRequestDuration.WithLabelValues(method, endpoint).Observe(duration.Seconds())
}

// RecordCommand records one executed command.
func (m *Metrics) RecordCommand(success bool) {
	outcome := "success"
	if !success {
		outcome = "failure"
	}
	m.commandsTotal.WithLabelValues(outcome).Inc()
}

// RecordSecurityRejection records a blocked command or URL.
func (m *Metrics) RecordSecurityRejection(kind string) {
	m.securityRejections.WithLabelValues(kind).Inc()
}

// RecordWorkflowRun records a finished run.
func (m *Metrics) RecordWorkflowRun(status string) {
	m.workflowRuns.WithLabelValues(status).Inc()
}

// RecordRateLimited records a denied request.
func (m *Metrics) RecordRateLimited(endpoint string) {
	m.rateLimited.WithLabelValues(endpoint).Inc()
}

// Handler returns the Prometheus metrics HTTP handler.
func (m *Metrics) Handler() http.Handler {
	return promhttp.HandlerFor(m.registry, promhttp.HandlerOpts{})
}

// Registry returns the private Prometheus registry.
func (m *Metrics) Registry() *prometheus.Registry {
	return m.registry
}

// Middleware records request counts and latency.
func (m *Metrics) Middleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		start := time.Now()
		wrapped := &statusWriter{ResponseWriter: w, status: http.StatusOK}
		next.ServeHTTP(wrapped, r)
		m.RecordHTTPRequest(r.Method, endpointName(r.URL.Path), strconv.Itoa(wrapped.status), time.Since(start))
	})
}

// endpointName collapses paths with embedded ids so label cardinality
// stays bounded.
func endpointName(path string) string {
	switch {
	case path == "/healthz":
		return "healthz"
	case path == "/metrics":
		return "metrics"
	case path == "/login" || path == "/logout":
		return "auth"
	case path == "/api/sessions":
		return "sessions"
	case len(path) > len("/api/sessions/") && path[:len("/api/sessions/")] == "/api/sessions/":
		return "session"
	case path == "/api/workflows":
		return "workflows"
	case len(path) > len("/api/workflows/") && path[:len("/api/workflows/")] == "/api/workflows/":
		return "workflow"
	default:
		return "other"
	}
}
