package statusserver

import (
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"tradecore/internal/breaker"
)

type stubReporter struct{ summary Summary }

func (s stubReporter) LastCycleSummary() Summary { return s.summary }

func TestHealthzReturnsOK(t *testing.T) {
	r := New(breaker.New(5), prometheus.NewRegistry(), nil)
	req := httptest.NewRequest(http.MethodGet, "/healthz", nil)
	rec := httptest.NewRecorder()
	r.ServeHTTP(rec, req)

	assert.Equal(t, http.StatusOK, rec.Code)
}

func TestStatusReportsBreakerStateWithoutReporter(t *testing.T) {
	cb := breaker.New(3)
	cb.RecordFailure()
	cb.RecordFailure()

	r := New(cb, prometheus.NewRegistry(), nil)
	req := httptest.NewRequest(http.MethodGet, "/status", nil)
	rec := httptest.NewRecorder()
	r.ServeHTTP(rec, req)

	require.Equal(t, http.StatusOK, rec.Code)
	var body map[string]interface{}
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &body))
	assert.Equal(t, false, body["breaker_tripped"])
	assert.Equal(t, float64(2), body["breaker_consecutive_failures"])
}

func TestStatusIncludesReporterSummaryWhenPresent(t *testing.T) {
	cb := breaker.New(3)
	rep := stubReporter{summary: Summary{LastCycleAt: "2026-01-15T10:00:00Z", LastCycleResult: "ok", MarketOpen: true}}

	r := New(cb, prometheus.NewRegistry(), rep)
	req := httptest.NewRequest(http.MethodGet, "/status", nil)
	rec := httptest.NewRecorder()
	r.ServeHTTP(rec, req)

	require.Equal(t, http.StatusOK, rec.Code)
	var body map[string]interface{}
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &body))
	assert.Equal(t, "2026-01-15T10:00:00Z", body["last_cycle_at"])
	assert.Equal(t, "ok", body["last_cycle_result"])
	assert.Equal(t, true, body["market_open"])
}

func TestMetricsEndpointExposesPrometheusFormat(t *testing.T) {
	registry := prometheus.NewRegistry()
	counter := prometheus.NewCounter(prometheus.CounterOpts{Name: "test_total", Help: "test"})
	registry.MustRegister(counter)
	counter.Inc()

	r := New(breaker.New(5), registry, nil)
	req := httptest.NewRequest(http.MethodGet, "/metrics", nil)
	rec := httptest.NewRecorder()
	r.ServeHTTP(rec, req)

	assert.Equal(t, http.StatusOK, rec.Code)
	assert.Contains(t, rec.Body.String(), "test_total 1")
}
