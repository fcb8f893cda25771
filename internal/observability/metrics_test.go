package observability

import (
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestMetrics_SessionLifecycle(t *testing.T) {
	m := NewMetrics(prometheus.NewRegistry())

	m.SessionStarted()
	m.SessionStarted()
	m.SessionFinished("succeeded")

	assert.Equal(t, 2.0, testutil.ToFloat64(m.sessionsStarted))
	assert.Equal(t, 1.0, testutil.ToFloat64(m.sessionsActive))
	assert.Equal(t, 1.0, testutil.ToFloat64(m.sessionsFinished.WithLabelValues("succeeded")))
}

func TestMetrics_StepsAndRetries(t *testing.T) {
	m := NewMetrics(prometheus.NewRegistry())

	m.StepRecorded("parse_failure", 10*time.Millisecond)
	m.StepRecorded("parse_failure", 20*time.Millisecond)
	m.Retried("capture")

	assert.Equal(t, 2.0, testutil.ToFloat64(m.stepsTotal.WithLabelValues("parse_failure")))
	assert.Equal(t, 1.0, testutil.ToFloat64(m.retriesTotal.WithLabelValues("capture")))
}

func TestMetrics_NilReceiverIsSafe(t *testing.T) {
	var m *Metrics
	assert.NotPanics(t, func() {
		m.SessionStarted()
		m.SessionFinished("failed")
		m.StepRecorded("ok", time.Second)
		m.Retried("execute")
		m.ObserveReasoning("model", "ok", time.Second)
		m.HTTPRequest("GET", "/health", 200)
	})
	assert.Nil(t, m.Registry())
}

func TestMetrics_Handler(t *testing.T) {
	m := NewMetrics(nil)
	m.HTTPRequest("GET", "/health", 200)

	rec := httptest.NewRecorder()
	m.Handler().ServeHTTP(rec, httptest.NewRequest("GET", "/metrics", nil))

	require.Equal(t, 200, rec.Code)
	body := rec.Body.String()
	assert.True(t, strings.Contains(body, "navigator_http_requests_total"))
	assert.True(t, strings.Contains(body, "go_goroutines"))
}
