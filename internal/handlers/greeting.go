package handlers

import (
	"context"
	"fmt"
	"math/rand"
	"time"

	"github.com/camunda/zeebe/clients/go/v8/pkg/entities"
	"github.com/camunda/zeebe/clients/go/v8/pkg/worker"
	"go.uber.org/zap"

	"github.com/kjstillabower/external-task-worker/internal/observability"
	"github.com/kjstillabower/external-task-worker/internal/zeebe"
)

const (
	GreetingJobType = "say-hello"
	GoodbyeJobType  = "say-goodbye"
)

const jobCommandTimeout = 10 * time.Second

// GreetingHandler completes say-hello jobs with a random "x" in [0, 100).
type GreetingHandler struct {
	logger *zap.Logger
	intn   func(int) int
}

func NewGreetingHandler(logger *zap.Logger) *GreetingHandler {
	return &GreetingHandler{logger: observability.Named(logger, "handlers"), intn: rand.Intn}
}

func (h *GreetingHandler) Worker() zeebe.Worker {
	return zeebe.Worker{Type: GreetingJobType}
}

func (h *GreetingHandler) HandleJob(client worker.JobClient, job entities.Job) {
	h.logger.Info("Hello world, from job", zap.Int64("jobKey", job.GetKey()))
	vars := map[string]interface{}{"x": h.intn(100)}

	ctx, cancel := context.WithTimeout(context.Background(), jobCommandTimeout)
	defer cancel()
	cmd, err := client.NewCompleteJobCommand().JobKey(job.GetKey()).VariablesFromMap(vars)
	if err != nil {
		failJob(ctx, client, job, err, h.logger)
		return
	}
	if _, err := cmd.Send(ctx); err != nil {
		h.logger.Error("Could not complete job", zap.Int64("jobKey", job.GetKey()), zap.Error(err))
	}
}

// GoodbyeHandler logs the "x" set by say-hello and completes say-goodbye jobs.
type GoodbyeHandler struct {
	logger *zap.Logger
}

func NewGoodbyeHandler(logger *zap.Logger) *GoodbyeHandler {
	return &GoodbyeHandler{logger: observability.Named(logger, "handlers")}
}

func (h *GoodbyeHandler) Worker() zeebe.Worker {
	return zeebe.Worker{Type: GoodbyeJobType, FetchVariables: []string{"x"}}
}

func (h *GoodbyeHandler) HandleJob(client worker.JobClient, job entities.Job) {
	ctx, cancel := context.WithTimeout(context.Background(), jobCommandTimeout)
	defer cancel()

	x, err := intVariable(job, "x")
	if err != nil {
		failJob(ctx, client, job, err, h.logger)
		return
	}
	h.logger.Info("Retrieved value. Goodbye, from job", zap.Int("x", x), zap.Int64("jobKey", job.GetKey()))
	if _, err := client.NewCompleteJobCommand().JobKey(job.GetKey()).Send(ctx); err != nil {
		h.logger.Error("Could not complete job", zap.Int64("jobKey", job.GetKey()), zap.Error(err))
	}
}

func intVariable(job entities.Job, name string) (int, error) {
	vars, err := job.GetVariablesAsMap()
	if err != nil {
		return 0, fmt.Errorf("decode job variables: %w", err)
	}
	raw, ok := vars[name]
	if !ok {
		return 0, fmt.Errorf("job variable %q missing", name)
	}
	n, ok := raw.(float64)
	if !ok || n != float64(int(n)) {
		return 0, fmt.Errorf("job variable %q is %v, want integer", name, raw)
	}
	return int(n), nil
}

func failJob(ctx context.Context, client worker.JobClient, job entities.Job, cause error, logger *zap.Logger) {
	retries := job.GetRetries() - 1
	if retries < 0 {
		retries = 0
	}
	logger.Warn("Failing job", zap.Int64("jobKey", job.GetKey()), zap.Int32("retries", retries), zap.Error(cause))
	if _, err := client.NewFailJobCommand().JobKey(job.GetKey()).Retries(retries).ErrorMessage(cause.Error()).Send(ctx); err != nil {
		logger.Error("Could not fail job", zap.Int64("jobKey", job.GetKey()), zap.Error(err))
	}
}
