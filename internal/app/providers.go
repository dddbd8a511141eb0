package app

import (
	"net/http"
	"time"

	"github.com/camunda/zeebe/clients/go/v8/pkg/zbc"
	"github.com/google/wire"
	"go.uber.org/zap"
	"golang.org/x/time/rate"

	"github.com/kjstillabower/external-task-worker/internal/circuitbreaker"
	"github.com/kjstillabower/external-task-worker/internal/config"
	"github.com/kjstillabower/external-task-worker/internal/engine"
	"github.com/kjstillabower/external-task-worker/internal/externaltask"
	apphttp "github.com/kjstillabower/external-task-worker/internal/http"
	"github.com/kjstillabower/external-task-worker/internal/observability"
	"github.com/kjstillabower/external-task-worker/internal/subscription"
	"github.com/kjstillabower/external-task-worker/internal/traffic"
	"github.com/kjstillabower/external-task-worker/internal/zeebe"
)

const engineComponent = "engine"

// Handlers are the external task handlers registered on startup.
type Handlers []externaltask.Handler

// JobHandlers are the Zeebe job handlers opened when the Zeebe client is enabled.
type JobHandlers []zeebe.JobHandler

// ClientCustomizer adjusts the external task client builder after
// configuration has been applied.
type ClientCustomizer func(*externaltask.ClientBuilder)

// Customizers run in order.
type Customizers []ClientCustomizer

// ReliabilitySet provides the engine call guards.
var ReliabilitySet = wire.NewSet(
	provideCircuitBreaker,
	provideRateLimiter,
	provideTrafficTracker,
)

// EngineSet provides the engine REST client.
var EngineSet = wire.NewSet(
	provideEngineClient,
	wire.Bind(new(engine.API), new(*engine.Client)),
)

// ExternalTaskSet provides the external task client and subscription wiring.
var ExternalTaskSet = wire.NewSet(
	provideExternalTaskClient,
	provideOverrides,
	subscription.NewCreator,
)

// HTTPSet provides the health and metrics surface.
var HTTPSet = wire.NewSet(
	provideHealthConfig,
	apphttp.NewHandler,
	wire.Bind(new(apphttp.SubscriptionSource), new(*externaltask.Client)),
	provideHTTPServer,
)

// ZeebeSet provides the optional Zeebe client and job worker creator.
var ZeebeSet = wire.NewSet(
	provideZeebeClient,
	provideZeebeCreator,
)

// ProviderSet combines every set into the application graph.
var ProviderSet = wire.NewSet(
	ReliabilitySet,
	EngineSet,
	ExternalTaskSet,
	HTTPSet,
	ZeebeSet,
	newApplication,
)

func provideCircuitBreaker(cfg *config.Config, logger *zap.Logger) *circuitbreaker.CircuitBreaker {
	if !cfg.CircuitBreakerEnabled {
		return nil
	}
	cb := circuitbreaker.New(circuitbreaker.Config{
		FailureThreshold: cfg.CircuitBreakerFailureThreshold,
		SuccessThreshold: cfg.CircuitBreakerSuccessThreshold,
		Timeout:          cfg.CircuitBreakerTimeout,
		Component:        engineComponent,
		IsFailure:        engine.IsConnectivityError,
		OnStateChange: func(from, to circuitbreaker.State) {
			observability.RecordCircuitBreakerTransition(engineComponent, from.String(), to.String())
		},
	})
	observability.CircuitBreakerState.WithLabelValues(engineComponent).Set(0)
	logger.Info("circuit breaker enabled",
		zap.Int("failure_threshold", cfg.CircuitBreakerFailureThreshold),
		zap.Duration("timeout", cfg.CircuitBreakerTimeout),
	)
	return cb
}

func provideRateLimiter(cfg *config.Config) *rate.Limiter {
	if cfg.RateLimitRPS <= 0 {
		return nil
	}
	return rate.NewLimiter(rate.Limit(cfg.RateLimitRPS), cfg.RateLimitBurst)
}

func provideTrafficTracker(cfg *config.Config) *traffic.Tracker {
	return traffic.NewTracker(cfg.DegradedWindow)
}

func provideEngineClient(
	cfg *config.Config,
	cb *circuitbreaker.CircuitBreaker,
	limiter *rate.Limiter,
	tracker *traffic.Tracker,
	logger *zap.Logger,
) (*engine.Client, error) {
	ec := cfg.ExternalClient
	return engine.New(engine.Options{
		BaseURL:        ec.BaseURL,
		Timeout:        cfg.RequestTimeout,
		RetryAttempts:  cfg.RetryAttempts,
		RetryBaseDelay: cfg.RetryBaseDelay,
		RetryMaxDelay:  cfg.RetryMaxDelay,
		Username:       ec.Username,
		Password:       ec.Password,
		CircuitBreaker: cb,
		Limiter:        limiter,
		Tracker:        tracker,
		Logger:         logger,
	})
}

func provideExternalTaskClient(
	cfg *config.Config,
	api engine.API,
	customizers Customizers,
	logger *zap.Logger,
) (*externaltask.Client, error) {
	ec := cfg.ExternalClient
	b := externaltask.NewClientBuilder().
		BaseURL(ec.BaseURL).
		WorkerID(ec.WorkerID).
		MaxTasks(ec.MaxTasks).
		UsePriority(ec.UsePriority).
		DefaultSerializationFormat(ec.DefaultSerializationFormat).
		DateFormat(ec.DateFormat).
		AsyncResponseTimeout(ec.AsyncResponseTimeout).
		LockDuration(ec.LockDuration).
		Engine(api).
		Logger(logger)
	if ec.DisableAutoFetching {
		b.DisableAutoFetching()
	}
	if ec.DisableBackoffStrategy {
		b.DisableBackoffStrategy()
	}
	for _, customize := range customizers {
		if customize != nil {
			customize(b)
		}
	}
	return b.Build()
}

// provideOverrides converts the configured subscriptions field by field.
func provideOverrides(cfg *config.Config) subscription.Overrides {
	configured := cfg.ExternalClient.Subscriptions
	if len(configured) == 0 {
		return nil
	}
	out := make(subscription.Overrides, len(configured))
	for topic, s := range configured {
		out[topic] = subscription.Override{
			LockDuration:                s.LockDuration,
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
		}
	}
	return out
}

func provideHealthConfig(cfg *config.Config) apphttp.HealthConfig {
	return apphttp.HealthConfig{
		DegradedWindow:   cfg.DegradedWindow,
		DegradedErrorPct: cfg.DegradedErrorPct,
	}
}

func provideHTTPServer(cfg *config.Config, handler *apphttp.Handler, logger *zap.Logger) *http.Server {
	return &http.Server{
		Addr:         ":" + cfg.ServerPort,
		Handler:      apphttp.NewRouter(handler, logger),
		ReadTimeout:  10 * time.Second,
		WriteTimeout: 10 * time.Second,
	}
}

// provideZeebeClient returns nil when the Zeebe client is disabled.
func provideZeebeClient(cfg *config.Config, logger *zap.Logger) (zbc.Client, error) {
	if !cfg.Zeebe.Enabled {
		return nil, nil
	}
	return zeebe.NewClient(cfg.Zeebe, logger)
}

func provideZeebeCreator(client zbc.Client, cfg *config.Config, logger *zap.Logger) *zeebe.Creator {
	if client == nil {
		return nil
	}
	return zeebe.NewCreator(client, cfg.Zeebe, logger)
}
