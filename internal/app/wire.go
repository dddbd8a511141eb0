//go:build wireinject
// +build wireinject

package app

import (
	"github.com/google/wire"
	"go.uber.org/zap"

	"github.com/kjstillabower/external-task-worker/internal/config"
)

// InitializeApplication builds the worker from configuration and the handlers
// to register.
func InitializeApplication(
	cfg *config.Config,
	logger *zap.Logger,
	handlers Handlers,
	jobHandlers JobHandlers,
	customizers Customizers,
) (*Application, error) {
	wire.Build(ProviderSet)
	return nil, nil
}
