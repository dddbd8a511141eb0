// Package handlers contains the worker's task and job handlers.
package handlers

import (
	"context"

	"go.uber.org/zap"

	"github.com/kjstillabower/external-task-worker/internal/externaltask"
	"github.com/kjstillabower/external-task-worker/internal/observability"
	"github.com/kjstillabower/external-task-worker/internal/subscription"
)

const NumberTopic = "number-topic"

// NumberHandler doubles the "number" variable and completes the task with "result".
type NumberHandler struct {
	logger *zap.Logger
}

func NewNumberHandler(logger *zap.Logger) *NumberHandler {
	return &NumberHandler{logger: observability.Named(logger, "handlers")}
}

func (h *NumberHandler) Subscription() subscription.Subscription {
	return subscription.Subscription{TopicName: NumberTopic}
}

func (h *NumberHandler) Execute(ctx context.Context, task *externaltask.ExternalTask, service externaltask.TaskService) {
	number, err := task.IntVariable("number")
	if err != nil {
		h.logger.Warn("Cannot read number variable", zap.String("taskId", task.ID), zap.Error(err))
		retries := 0
		if task.Retries != nil && *task.Retries > 0 {
			retries = *task.Retries - 1
		}
		if ferr := service.HandleFailure(ctx, task, externaltask.Failure{
			ErrorMessage: "number variable missing or not an integer",
			ErrorDetails: err.Error(),
			Retries:      retries,
		}); ferr != nil {
			h.logger.Error("Reporting failure failed", zap.String("taskId", task.ID), zap.Error(ferr))
		}
		return
	}

	result := number * 2
	if err := service.Complete(ctx, task, externaltask.Variables{"result": int(result)}, nil); err != nil {
		h.logger.Error("Completing external task failed", zap.String("taskId", task.ID), zap.Error(err))
		return
	}
	h.logger.Info("Completed external task",
		zap.String("taskId", task.ID),
		zap.Int64("number", number),
		zap.Int64("result", result),
	)
}
