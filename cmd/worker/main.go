package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/alecthomas/kong"
	"go.uber.org/zap"

	"github.com/kjstillabower/external-task-worker/internal/app"
	"github.com/kjstillabower/external-task-worker/internal/config"
	"github.com/kjstillabower/external-task-worker/internal/handlers"
	"github.com/kjstillabower/external-task-worker/internal/observability"
)

// CLI holds the worker's command line flags.
type CLI struct {
	ConfigDir      string   `help:"Directory containing config/{env}.yaml." default:"." type:"existingdir"`
	Env            string   `help:"Configuration environment name (defaults to ENV_NAME, then dev)."`
	PropertySource []string `help:"Additional YAML property sources applied in order, relative to --config-dir." name:"property-source" sep:"none"`
}

func (c CLI) options() config.Options {
	return config.Options{Dir: c.ConfigDir, Env: c.Env, PropertySources: c.PropertySource}
}

func main() {
	var cli CLI
	kctx := kong.Parse(&cli,
		kong.Name("external-task-worker"),
		kong.Description("Camunda external task and Zeebe job worker."),
		kong.ShortUsageOnError(),
		kong.HelpOptions{Compact: true, WrapUpperBound: 80},
	)

	logger, err := observability.NewLogger()
	if err != nil {
		fmt.Fprintf(os.Stderr, "logger: %v\n", err)
		os.Exit(1)
	}
	defer func() { _ = logger.Sync() }()

	kctx.FatalIfErrorf(run(cli, logger))
}

func run(cli CLI, logger *zap.Logger) error {
	cfg, err := config.LoadWithOptions(cli.options())
	if err != nil {
		return fmt.Errorf("config: %w", err)
	}

	application, err := app.InitializeApplication(cfg, logger,
		app.Handlers{handlers.NewNumberHandler(logger)},
		app.JobHandlers{handlers.NewGreetingHandler(logger), handlers.NewGoodbyeHandler(logger)},
		nil,
	)
	if err != nil {
		return fmt.Errorf("initialize: %w", err)
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	if err := application.Start(ctx); err != nil {
		return fmt.Errorf("start: %w", err)
	}

	return wait(ctx, stop, application, cfg.ShutdownTimeout, logger)
}

// wait blocks until ctx ends or the HTTP server fails, then shuts the
// application down. A server failure is returned after shutdown.
func wait(ctx context.Context, stop context.CancelFunc, application lifecycleApp, timeout time.Duration, logger *zap.Logger) error {
	var serveErr error
	select {
	case <-ctx.Done():
		logger.Info("graceful shutdown triggered")
	case serveErr = <-application.ServeErr():
		logger.Error("server", zap.Error(serveErr))
	}
	stop()

	shutdownCtx, cancel := context.WithTimeout(context.Background(), timeout)
	defer cancel()
	if err := application.Shutdown(shutdownCtx); err != nil {
		logger.Warn("shutdown incomplete", zap.Error(err))
	}
	if serveErr != nil {
		return fmt.Errorf("serve: %w", serveErr)
	}
	return nil
}

// lifecycleApp is the part of app.Application that wait drives.
type lifecycleApp interface {
	ServeErr() <-chan error
	Shutdown(ctx context.Context) error
}
