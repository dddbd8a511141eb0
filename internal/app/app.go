// Package app composes the worker: engine client, external task client,
// subscriptions, HTTP surface and the optional Zeebe job workers.
package app

import (
	"context"
	"errors"
	"fmt"
	"net"
	"net/http"
	"sync"
	"time"

	"github.com/camunda/zeebe/clients/go/v8/pkg/zbc"
	"go.uber.org/zap"

	"github.com/kjstillabower/external-task-worker/internal/config"
	"github.com/kjstillabower/external-task-worker/internal/externaltask"
	"github.com/kjstillabower/external-task-worker/internal/lifecycle"
	"github.com/kjstillabower/external-task-worker/internal/observability"
	"github.com/kjstillabower/external-task-worker/internal/subscription"
	"github.com/kjstillabower/external-task-worker/internal/zeebe"
)

const drainCheckInterval = 50 * time.Millisecond

// Application is the assembled worker.
type Application struct {
	Config             *config.Config
	ExternalTaskClient *externaltask.Client
	Subscriptions      *subscription.Creator
	Server             *http.Server

	zeebeClient  zbc.Client
	zeebeWorkers *zeebe.Creator
	handlers     Handlers
	jobHandlers  JobHandlers
	logger       *zap.Logger

	mu       sync.Mutex
	listener net.Listener
	serveErr chan error
}

func newApplication(
	cfg *config.Config,
	client *externaltask.Client,
	creator *subscription.Creator,
	server *http.Server,
	zeebeClient zbc.Client,
	zeebeWorkers *zeebe.Creator,
	handlers Handlers,
	jobHandlers JobHandlers,
	logger *zap.Logger,
) *Application {
	return &Application{
		Config:             cfg,
		ExternalTaskClient: client,
		Subscriptions:      creator,
		Server:             server,
		zeebeClient:        zeebeClient,
		zeebeWorkers:       zeebeWorkers,
		handlers:           handlers,
		jobHandlers:        jobHandlers,
		logger:             observability.Named(logger, "app"),
		serveErr:           make(chan error, 1),
	}
}

// Start subscribes the handlers, starts polling unless auto fetching is
// disabled, opens the Zeebe job workers and serves HTTP.
func (a *Application) Start(ctx context.Context) error {
	subs, err := a.Subscriptions.Register(a.handlers)
	if err != nil {
		return fmt.Errorf("register subscriptions: %w", err)
	}
	a.logger.Info("topic subscriptions registered", zap.Int("count", len(subs)))

	if a.ExternalTaskClient.AutoFetching() {
		a.ExternalTaskClient.Start(ctx)
	} else {
		a.logger.Info("auto fetching disabled; external task client not started")
	}

	if a.zeebeWorkers != nil {
		n := a.zeebeWorkers.Register(a.jobHandlers)
		a.logger.Info("zeebe job workers opened", zap.Int("count", n))
	}

	if a.Server == nil {
		return nil
	}
	ln, err := net.Listen("tcp", a.Server.Addr)
	if err != nil {
		return fmt.Errorf("listen %s: %w", a.Server.Addr, err)
	}
	a.mu.Lock()
	a.listener = ln
	a.mu.Unlock()

	go func() {
		a.logger.Info("server starting", zap.String("addr", ln.Addr().String()))
		if err := a.Server.Serve(ln); err != nil && !errors.Is(err, http.ErrServerClosed) {
			a.serveErr <- err
		}
	}()
	return nil
}

// Addr returns the bound HTTP address, or "" before Start.
func (a *Application) Addr() string {
	a.mu.Lock()
	defer a.mu.Unlock()
	if a.listener == nil {
		return ""
	}
	return a.listener.Addr().String()
}

// ServeErr delivers a fatal HTTP server error.
func (a *Application) ServeErr() <-chan error { return a.serveErr }

// Shutdown stops polling, drains running handlers within ctx, closes the
// Zeebe workers and the HTTP server, then flushes telemetry.
func (a *Application) Shutdown(ctx context.Context) error {
	lifecycle.SetShuttingDown(true)
	var errs []error

	stopped := make(chan struct{})
	go func() {
		a.ExternalTaskClient.Stop()
		close(stopped)
	}()
	select {
	case <-stopped:
	case <-ctx.Done():
		errs = append(errs, fmt.Errorf("stop external task client: %w", ctx.Err()))
	}

	inFlight := a.ExternalTaskClient.InFlight()
	a.logger.Info("waiting for in-flight handlers", zap.Int64("count", inFlight.Count()))
	if err := inFlight.WaitForZero(ctx, drainCheckInterval); err != nil {
		a.logger.Warn("in-flight handlers not completed", zap.Error(err), zap.Int64("remaining", inFlight.Count()))
		errs = append(errs, err)
	}

	if a.zeebeWorkers != nil {
		a.zeebeWorkers.Close()
	}
	if a.zeebeClient != nil {
		if err := a.zeebeClient.Close(); err != nil {
			errs = append(errs, fmt.Errorf("zeebe client close: %w", err))
		}
	}

	if a.Server != nil && a.Addr() != "" {
		if err := a.Server.Shutdown(ctx); err != nil {
			errs = append(errs, fmt.Errorf("server shutdown: %w", err))
		}
	}

	if err := observability.FlushTelemetry(ctx, a.logger); err != nil {
		errs = append(errs, fmt.Errorf("telemetry flush: %w", err))
	}
	a.logger.Info("shutdown complete")
	return errors.Join(errs...)
}
