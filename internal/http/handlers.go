package http

import (
	"encoding/json"
	"net/http"
	"sync"
	"time"

	"github.com/gorilla/mux"
	"go.uber.org/zap"

	"github.com/kjstillabower/external-task-worker/internal/externaltask"
	"github.com/kjstillabower/external-task-worker/internal/lifecycle"
	"github.com/kjstillabower/external-task-worker/internal/observability"
	"github.com/kjstillabower/external-task-worker/internal/traffic"
)

const serviceName = "external-task-worker"

// SubscriptionSource is the part of the external task client the surface reads.
type SubscriptionSource interface {
	Subscriptions() []externaltask.TopicSubscription
	IsActive() bool
}

// HealthConfig holds the degraded thresholds for the health handler.
type HealthConfig struct {
	DegradedWindow   time.Duration
	DegradedErrorPct int
}

// Handler holds dependencies for HTTP handlers.
type Handler struct {
	source           SubscriptionSource
	tracker          *traffic.Tracker
	healthConfig     HealthConfig
	logger           *zap.Logger
	healthStatusMu   sync.Mutex
	healthStatusPrev string
}

// NewHandler returns a new Handler. tracker may be nil, which disables the degraded check.
func NewHandler(source SubscriptionSource, tracker *traffic.Tracker, healthConfig HealthConfig, logger *zap.Logger) *Handler {
	return &Handler{
		source:       source,
		tracker:      tracker,
		healthConfig: healthConfig,
		logger:       observability.Named(logger, "http"),
	}
}

// NewRouter wires the worker's routes and middleware.
func NewRouter(h *Handler, logger *zap.Logger) *mux.Router {
	router := mux.NewRouter()
	router.Use(CorrelationIDMiddleware(logger))
	router.Use(MetricsMiddleware)
	router.HandleFunc("/health", h.GetHealth).Methods(http.MethodGet)
	router.HandleFunc("/subscriptions", h.GetSubscriptions).Methods(http.MethodGet)
	router.Handle("/metrics", observability.MetricsHandler()).Methods(http.MethodGet)
	return router
}

type healthResult struct {
	status     string
	statusCode int
	reason     string
}

// GetHealth handles GET /health.
func (h *Handler) GetHealth(w http.ResponseWriter, r *http.Request) {
	result := h.computeHealthStatus()

	h.healthStatusMu.Lock()
	prev := h.healthStatusPrev
	if prev != "" && prev != result.status {
		LoggerFrom(r.Context(), h.logger).Info("health status transition",
			zap.String("previous_status", prev),
			zap.String("current_status", result.status),
			zap.String("reason", result.reason))
	}
	h.healthStatusPrev = result.status
	h.healthStatusMu.Unlock()

	checks := map[string]string{"engine": "healthy", "poller": "stopped"}
	if result.status == "degraded" {
		checks["engine"] = "unhealthy"
	}
	if h.source != nil && h.source.IsActive() {
		checks["poller"] = "running"
	}
	writeJSON(w, result.statusCode, map[string]interface{}{
		"status":    result.status,
		"service":   serviceName,
		"checks":    checks,
		"timestamp": time.Now().UTC().Format(time.RFC3339),
	})
}

// computeHealthStatus evaluates shutting-down before the engine error rate.
func (h *Handler) computeHealthStatus() healthResult {
	if lifecycle.IsShuttingDown() {
		return healthResult{"shutting-down", http.StatusServiceUnavailable, "signal"}
	}
	if h.tracker != nil && h.healthConfig.DegradedWindow > 0 && h.healthConfig.DegradedErrorPct > 0 {
		if h.tracker.Degraded(h.healthConfig.DegradedWindow, h.healthConfig.DegradedErrorPct) {
			return healthResult{"degraded", http.StatusServiceUnavailable, "error_rate_breach"}
		}
	}
	return healthResult{"healthy", http.StatusOK, ""}
}

// subscriptionView is the JSON form of an open topic subscription.
type subscriptionView struct {
	TopicName                   string   `json:"topicName"`
	LockDuration                int64    `json:"lockDuration"`
	Variables                   []string `json:"variables"`
	LocalVariables              bool     `json:"localVariables"`
	BusinessKey                 string   `json:"businessKey,omitempty"`
	ProcessDefinitionID         string   `json:"processDefinitionId,omitempty"`
	ProcessDefinitionIDIn       []string `json:"processDefinitionIdIn,omitempty"`
	ProcessDefinitionKey        string   `json:"processDefinitionKey,omitempty"`
	ProcessDefinitionKeyIn      []string `json:"processDefinitionKeyIn,omitempty"`
	ProcessDefinitionVersionTag string   `json:"processDefinitionVersionTag,omitempty"`
	WithoutTenantID             bool     `json:"withoutTenantId"`
	TenantIDIn                  []string `json:"tenantIdIn,omitempty"`
	IncludeExtensionProperties  bool     `json:"includeExtensionProperties"`
}

// GetSubscriptions handles GET /subscriptions.
func (h *Handler) GetSubscriptions(w http.ResponseWriter, r *http.Request) {
	views := []subscriptionView{}
	if h.source != nil {
		for _, s := range h.source.Subscriptions() {
			views = append(views, subscriptionView{
				TopicName:                   s.TopicName,
				LockDuration:                s.LockDuration.Milliseconds(),
				Variables:                   s.Variables,
				LocalVariables:              s.LocalVariables,
				BusinessKey:                 s.BusinessKey,
				ProcessDefinitionID:         s.ProcessDefinitionID,
				ProcessDefinitionIDIn:       s.ProcessDefinitionIDIn,
				ProcessDefinitionKey:        s.ProcessDefinitionKey,
				ProcessDefinitionKeyIn:      s.ProcessDefinitionKeyIn,
				ProcessDefinitionVersionTag: s.ProcessDefinitionVersionTag,
				WithoutTenantID:             s.WithoutTenantID,
				TenantIDIn:                  s.TenantIDIn,
				IncludeExtensionProperties:  s.IncludeExtensionProperties,
			})
		}
	}
	writeJSON(w, http.StatusOK, map[string]interface{}{"subscriptions": views})
}

// writeJSON writes v as JSON with the given status code.
func writeJSON(w http.ResponseWriter, status int, v interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}
