package zeebe

import (
	"fmt"
	"sync"
	"time"

	"github.com/camunda/zeebe/clients/go/v8/pkg/entities"
	"github.com/camunda/zeebe/clients/go/v8/pkg/worker"
	"github.com/camunda/zeebe/clients/go/v8/pkg/zbc"
	"go.uber.org/zap"

	"github.com/kjstillabower/external-task-worker/internal/config"
	"github.com/kjstillabower/external-task-worker/internal/observability"
)

// Worker is the job worker metadata a handler declares. Zero values take the
// configured client defaults.
type Worker struct {
	Type           string
	Name           string
	Timeout        time.Duration
	MaxJobsActive  int
	RequestTimeout time.Duration
	PollInterval   time.Duration
	FetchVariables []string
}

// JobHandler handles activated jobs of the type it declares.
type JobHandler interface {
	HandleJob(client worker.JobClient, job entities.Job)
	Worker() Worker
}

// JobHandlerFunc pairs a handler function with its metadata.
func JobHandlerFunc(meta Worker, fn worker.JobHandler) JobHandler {
	return funcHandler{meta: meta, fn: fn}
}

type funcHandler struct {
	meta Worker
	fn   worker.JobHandler
}

func (f funcHandler) HandleJob(client worker.JobClient, job entities.Job) { f.fn(client, job) }
func (f funcHandler) Worker() Worker                                      { return f.meta }

// openFunc opens a job worker for a fully resolved Worker.
type openFunc func(spec Worker, concurrency int, handler worker.JobHandler) worker.JobWorker

func openWith(client zbc.Client) openFunc {
	return func(spec Worker, concurrency int, handler worker.JobHandler) worker.JobWorker {
		builder := client.NewJobWorker().
			JobType(spec.Type).
			Handler(handler).
			Name(spec.Name).
			Timeout(spec.Timeout).
			RequestTimeout(spec.RequestTimeout).
			PollInterval(spec.PollInterval).
			Concurrency(concurrency)
		if spec.MaxJobsActive > 0 {
			builder = builder.MaxJobsActive(spec.MaxJobsActive)
		}
		if len(spec.FetchVariables) > 0 {
			builder = builder.FetchVariables(spec.FetchVariables...)
		}
		return builder.Open()
	}
}

// Creator opens one job worker per declaring handler and closes them together.
type Creator struct {
	open     openFunc
	defaults config.ZeebeConfig
	logger   *zap.Logger

	mu      sync.Mutex
	workers []worker.JobWorker
}

// NewCreator returns a Creator opening workers on client.
func NewCreator(client zbc.Client, cfg config.ZeebeConfig, logger *zap.Logger) *Creator {
	return newCreator(openWith(client), cfg, logger)
}

func newCreator(open openFunc, cfg config.ZeebeConfig, logger *zap.Logger) *Creator {
	return &Creator{
		open:     open,
		defaults: cfg,
		logger:   observability.Named(logger, "zeebe"),
	}
}

// Register opens a job worker for every handler that declares a job type.
// Handlers without a type are skipped with a warning.
func (c *Creator) Register(handlers []JobHandler) int {
	opened := 0
	for _, h := range handlers {
		spec := c.resolve(h.Worker())
		if spec.Type == "" {
			c.logger.Warn("Skipping job worker. Handler declares no job type",
				zap.String("handler", fmt.Sprintf("%T", h)),
			)
			continue
		}
		w := c.open(spec, c.defaults.NumJobWorkerExecutionThreads, h.HandleJob)

		c.mu.Lock()
		c.workers = append(c.workers, w)
		c.mu.Unlock()

		observability.ZeebeJobWorkersOpened.WithLabelValues(spec.Type).Inc()
		c.logger.Info("Zeebe client subscribed to type",
			zap.String("type", spec.Type),
			zap.String("handler", fmt.Sprintf("%T", h)),
			zap.String("workerName", spec.Name),
		)
		opened++
	}
	return opened
}

func (c *Creator) resolve(meta Worker) Worker {
	if meta.Name == "" {
		meta.Name = c.defaults.DefaultJobWorkerName
	}
	if meta.Timeout <= 0 {
		meta.Timeout = c.defaults.DefaultJobTimeout
	}
	if meta.RequestTimeout <= 0 {
		meta.RequestTimeout = c.defaults.DefaultRequestTimeout
	}
	if meta.PollInterval <= 0 {
		meta.PollInterval = c.defaults.DefaultJobPollInterval
	}
	return meta
}

// Count returns the number of open job workers.
func (c *Creator) Count() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return len(c.workers)
}

// Close closes every job worker and waits for running handlers.
func (c *Creator) Close() {
	c.mu.Lock()
	workers := c.workers
	c.workers = nil
	c.mu.Unlock()

	for _, w := range workers {
		w.Close()
	}
	for _, w := range workers {
		w.AwaitClose()
	}
}
