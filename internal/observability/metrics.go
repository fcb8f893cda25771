// File: internal/observability/metrics.go
package observability

import (
	"net/http"
	"strconv"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

const metricsNamespace = "navigator"

// Metrics holds the process-wide Prometheus collectors for the agent loop.
// All methods are safe on a nil receiver so components can run without metrics.
type Metrics struct {
	registry *prometheus.Registry

	sessionsStarted   prometheus.Counter
	sessionsFinished  *prometheus.CounterVec
	sessionsActive    prometheus.Gauge
	stepsTotal        *prometheus.CounterVec
	retriesTotal      *prometheus.CounterVec
	stepDuration      prometheus.Histogram
	reasoningDuration *prometheus.HistogramVec
	httpRequests      *prometheus.CounterVec
}

// NewMetrics registers every collector on reg. Passing nil creates a fresh registry
// that also carries the Go runtime and process collectors.
func NewMetrics(reg *prometheus.Registry) *Metrics {
	if reg == nil {
		reg = prometheus.NewRegistry()
		reg.MustRegister(
			collectors.NewGoCollector(),
			collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
		)
	}
	factory := promauto.With(reg)

	return &Metrics{
		registry: reg,
		sessionsStarted: factory.NewCounter(prometheus.CounterOpts{
			Namespace: metricsNamespace,
			Name:      "sessions_started_total",
			Help:      "Total number of agent sessions started",
		}),
		sessionsFinished: factory.NewCounterVec(prometheus.CounterOpts{
			Namespace: metricsNamespace,
			Name:      "sessions_finished_total",
			Help:      "Total number of agent sessions finished, by terminal status",
		}, []string{"status"}),
		sessionsActive: factory.NewGauge(prometheus.GaugeOpts{
			Namespace: metricsNamespace,
			Name:      "sessions_active",
			Help:      "Number of sessions currently running",
		}),
		stepsTotal: factory.NewCounterVec(prometheus.CounterOpts{
			Namespace: metricsNamespace,
			Name:      "steps_total",
			Help:      "Total number of recorded steps, by outcome",
		}, []string{"outcome"}),
		retriesTotal: factory.NewCounterVec(prometheus.CounterOpts{
			Namespace: metricsNamespace,
			Name:      "retries_total",
			Help:      "Total number of retried collaborator calls, by operation",
		}, []string{"operation"}),
		stepDuration: factory.NewHistogram(prometheus.HistogramOpts{
			Namespace: metricsNamespace,
			Name:      "step_duration_seconds",
			Help:      "Wall time of one capture/reason/act iteration",
			Buckets:   []float64{0.5, 1, 2, 5, 10, 20, 30, 60, 120},
		}),
		reasoningDuration: factory.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: metricsNamespace,
			Name:      "reasoning_request_duration_seconds",
			Help:      "Reasoning model request duration in seconds",
			Buckets:   []float64{0.1, 0.5, 1, 2, 5, 10, 30, 60},
		}, []string{"model", "status"}),
		httpRequests: factory.NewCounterVec(prometheus.CounterOpts{
			Namespace: metricsNamespace,
			Name:      "http_requests_total",
			Help:      "Total number of HTTP requests, by route and status code",
		}, []string{"method", "route", "code"}),
	}
}

// Registry exposes the underlying registry, mostly for tests.
func (m *Metrics) Registry() *prometheus.Registry {
	if m == nil {
		return nil
	}
	return m.registry
}

// Handler serves the registry in the Prometheus exposition format.
func (m *Metrics) Handler() http.Handler {
	if m == nil {
		return http.NotFoundHandler()
	}
	return promhttp.HandlerFor(m.registry, promhttp.HandlerOpts{})
}

func (m *Metrics) SessionStarted() {
	if m == nil {
		return
	}
	m.sessionsStarted.Inc()
	m.sessionsActive.Inc()
}

func (m *Metrics) SessionFinished(status string) {
	if m == nil {
		return
	}
	m.sessionsActive.Dec()
	m.sessionsFinished.WithLabelValues(status).Inc()
}

// StepRecorded counts one appended step. outcome is e.g. "ok", "parse_failure",
// "execution_failure", "capture_failure", "reasoning_failure" or "done".
func (m *Metrics) StepRecorded(outcome string, elapsed time.Duration) {
	if m == nil {
		return
	}
	m.stepsTotal.WithLabelValues(outcome).Inc()
	m.stepDuration.Observe(elapsed.Seconds())
}

func (m *Metrics) Retried(operation string) {
	if m == nil {
		return
	}
	m.retriesTotal.WithLabelValues(operation).Inc()
}

func (m *Metrics) ObserveReasoning(model, status string, elapsed time.Duration) {
	if m == nil {
		return
	}
	m.reasoningDuration.WithLabelValues(model, status).Observe(elapsed.Seconds())
}

func (m *Metrics) HTTPRequest(method, route string, code int) {
	if m == nil {
		return
	}
	m.httpRequests.WithLabelValues(method, route, strconv.Itoa(code)).Inc()
}
