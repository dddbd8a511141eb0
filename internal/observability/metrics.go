package observability

import (
	"net/http"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

var (
	registry *prometheus.Registry

	// HTTP request rate on the worker's own surface (/health, /subscriptions, /metrics).
	HTTPRequestsTotal *prometheus.CounterVec

	// HTTP request latency per request on the worker's own surface.
	HTTPRequestDuration *prometheus.HistogramVec

	// Engine REST call rate by operation and status. Watch for: error vs success ratio.
	EngineCallsTotal *prometheus.CounterVec

	// Engine REST latency. fetchAndLock includes long polling time when async response timeout is set.
	EngineCallDuration *prometheus.HistogramVec

	// Retry attempts against the engine. Watch for: high retries = unstable engine.
	EngineRetriesTotal prometheus.Counter

	// Engine errors by category (timeout, not_found, engine_5xx, ...).
	EngineErrorsTotal *prometheus.CounterVec

	// Tasks returned by fetchAndLock, per topic.
	TasksFetchedTotal *prometheus.CounterVec

	// Handler executions per topic and outcome (success, panic).
	HandlerExecutionsTotal *prometheus.CounterVec

	// Handler execution latency per topic.
	HandlerDuration *prometheus.HistogramVec

	// Handler executions currently running. Watch for: stuck handlers during shutdown.
	HandlersInFlight prometheus.Gauge

	// Currently open topic subscriptions.
	ActiveSubscriptions prometheus.Gauge

	// Poll backoff applied after empty fetches, in seconds.
	PollBackoffSeconds prometheus.Gauge

	// Zeebe job workers opened, per job type.
	ZeebeJobWorkersOpened *prometheus.CounterVec

	// Circuit breaker state per component (0 closed, 1 open, 2 half_open).
	CircuitBreakerState *prometheus.GaugeVec

	// Circuit breaker transitions per component.
	CircuitBreakerTransitionsTotal *prometheus.CounterVec
)

func init() {
	registry = prometheus.NewRegistry()

	registry.MustRegister(
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
		collectors.NewGoCollector(),
	)

	HTTPRequestsTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "httpRequestsTotal",
			Help: "Total number of HTTP requests",
		},
		[]string{"method", "route", "statusCode"},
	)
	HTTPRequestDuration = prometheus.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "httpRequestDurationSeconds",
			Help:    "HTTP request latency in seconds (per request)",
			Buckets: prometheus.DefBuckets,
		},
		[]string{"method", "route"},
	)
	EngineCallsTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "engineCallsTotal",
			Help: "Total number of engine REST API calls",
		},
		[]string{"operation", "status"},
	)
	EngineCallDuration = prometheus.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "engineCallDurationSeconds",
			Help:    "Engine REST API latency in seconds (per request)",
			Buckets: []float64{.05, .1, .25, .5, 1, 2.5, 5, 10, 30, 60},
		},
		[]string{"operation", "status"},
	)
	EngineRetriesTotal = prometheus.NewCounter(
		prometheus.CounterOpts{
			Name: "engineRetriesTotal",
			Help: "Total number of retry attempts for engine REST API calls",
		},
	)
	EngineErrorsTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "engineErrorsTotal",
			Help: "Engine REST API errors by category",
		},
		[]string{"operation", "category"},
	)
	TasksFetchedTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "externalTasksFetchedTotal",
			Help: "External tasks fetched and locked, per topic",
		},
		[]string{"topic"},
	)
	HandlerExecutionsTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "externalTaskHandlerExecutionsTotal",
			Help: "External task handler executions per topic and outcome",
		},
		[]string{"topic", "outcome"},
	)
	HandlerDuration = prometheus.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "externalTaskHandlerDurationSeconds",
			Help:    "External task handler latency in seconds",
			Buckets: prometheus.DefBuckets,
		},
		[]string{"topic"},
	)
	HandlersInFlight = prometheus.NewGauge(
		prometheus.GaugeOpts{
			Name: "externalTaskHandlersInFlight",
			Help: "Number of external task handlers currently executing",
		},
	)
	ActiveSubscriptions = prometheus.NewGauge(
		prometheus.GaugeOpts{
			Name: "externalTaskActiveSubscriptions",
			Help: "Number of open topic subscriptions",
		},
	)
	PollBackoffSeconds = prometheus.NewGauge(
		prometheus.GaugeOpts{
			Name: "externalTaskPollBackoffSeconds",
			Help: "Backoff applied before the next fetchAndLock, in seconds",
		},
	)
	ZeebeJobWorkersOpened = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "zeebeJobWorkersOpenedTotal",
			Help: "Zeebe job workers opened, per job type",
		},
		[]string{"jobType"},
	)
	CircuitBreakerState = prometheus.NewGaugeVec(
		prometheus.GaugeOpts{
			Name: "circuitBreakerState",
			Help: "Circuit breaker state (0 closed, 1 open, 2 half_open)",
		},
		[]string{"component"},
	)
	CircuitBreakerTransitionsTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "circuitBreakerTransitionsTotal",
			Help: "Circuit breaker state transitions",
		},
		[]string{"component", "from", "to"},
	)

	registry.MustRegister(
		HTTPRequestsTotal, HTTPRequestDuration,
		EngineCallsTotal, EngineCallDuration, EngineRetriesTotal, EngineErrorsTotal,
		TasksFetchedTotal, HandlerExecutionsTotal, HandlerDuration, HandlersInFlight,
		ActiveSubscriptions, PollBackoffSeconds,
		ZeebeJobWorkersOpened,
		CircuitBreakerState, CircuitBreakerTransitionsTotal,
	)
}

// RecordCircuitBreakerTransition counts a transition and updates the state gauge.
func RecordCircuitBreakerTransition(component, from, to string) {
	CircuitBreakerTransitionsTotal.WithLabelValues(component, from, to).Inc()
	CircuitBreakerState.WithLabelValues(component).Set(CircuitBreakerStateValue(to))
}

// CircuitBreakerStateValue maps a state name to its gauge value.
func CircuitBreakerStateValue(state string) float64 {
	switch state {
	case "open":
		return 1
	case "half_open":
		return 2
	default:
		return 0
	}
}

// MetricsHandler returns an http.Handler that serves application and runtime metrics.
func MetricsHandler() http.Handler {
	return promhttp.HandlerFor(registry, promhttp.HandlerOpts{})
}
