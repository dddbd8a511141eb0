package observability

import (
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
)

// TestMetrics_Usable verifies that all Prometheus metrics can be used without
// panic, ensuring label dimensions match usage across engine, externaltask, http and zeebe packages.
func TestMetrics_Usable(t *testing.T) {
	HTTPRequestsTotal.WithLabelValues("GET", "/health", "2xx").Inc()
	HTTPRequestDuration.WithLabelValues("GET", "/health").Observe(0.01)
	EngineCallsTotal.WithLabelValues("fetchAndLock", "success").Inc()
	EngineCallDuration.WithLabelValues("complete", "server_error").Observe(0.1)
	EngineRetriesTotal.Inc()
	EngineErrorsTotal.WithLabelValues("complete", "not_found").Inc()
	TasksFetchedTotal.WithLabelValues("number-topic").Add(3)
	HandlerExecutionsTotal.WithLabelValues("number-topic", "success").Inc()
	HandlerDuration.WithLabelValues("number-topic").Observe(0.2)
	HandlersInFlight.Inc()
	HandlersInFlight.Dec()
	ActiveSubscriptions.Set(2)
	PollBackoffSeconds.Set(0.5)
	ZeebeJobWorkersOpened.WithLabelValues("say-hello").Inc()
}

func TestRecordCircuitBreakerTransition(t *testing.T) {
	RecordCircuitBreakerTransition("engine_rest", "closed", "open")
	RecordCircuitBreakerTransition("engine_rest", "open", "half_open")

	tests := map[string]float64{"closed": 0, "open": 1, "half_open": 2, "bogus": 0}
	for state, want := range tests {
		if got := CircuitBreakerStateValue(state); got != want {
			t.Errorf("CircuitBreakerStateValue(%q) = %v, want %v", state, got, want)
		}
	}
}

// TestMetricsHandler_ServesPrometheusFormat verifies that MetricsHandler serves
// Prometheus text exposition format with correct HTTP status and metric output.
func TestMetricsHandler_ServesPrometheusFormat(t *testing.T) {
	EngineCallsTotal.WithLabelValues("fetchAndLock", "success").Inc()

	handler := MetricsHandler()
	req := httptest.NewRequest("GET", "/metrics", nil)
	w := httptest.NewRecorder()

	handler.ServeHTTP(w, req)

	if w.Code != http.StatusOK {
		t.Errorf("MetricsHandler status = %d, want 200", w.Code)
	}
	body := w.Body.String()
	if !strings.Contains(body, "engineCallsTotal") {
		t.Error("MetricsHandler response should contain metric output")
	}
}
