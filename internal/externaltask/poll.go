package externaltask

import (
	"context"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/kjstillabower/external-task-worker/internal/engine"
	"github.com/kjstillabower/external-task-worker/internal/observability"
)

// errorBackoffFloor bounds the retry rate against an unreachable engine when
// the backoff strategy is disabled.
const errorBackoffFloor = DefaultBackoffInitial

func (c *Client) run(ctx context.Context, done chan struct{}) {
	defer close(done)
	for ctx.Err() == nil {
		req, ok := c.fetchRequest()
		if !ok {
			select {
			case <-ctx.Done():
				return
			case <-c.wake:
			}
			continue
		}

		cycleCtx := engine.WithCorrelationID(ctx, uuid.NewString())
		tasks, err := c.fetch(cycleCtx, req)
		if err != nil && ctx.Err() != nil {
			return
		}
		for _, task := range tasks {
			c.execute(cycleCtx, task)
		}

		c.backoff.Reconfigure(tasks)
		wait := c.backoff.CalculateBackoffTime()
		if err != nil && wait < errorBackoffFloor {
			wait = errorBackoffFloor
		}
		observability.PollBackoffSeconds.Set(wait.Seconds())
		if wait <= 0 {
			continue
		}
		timer := time.NewTimer(wait)
		select {
		case <-ctx.Done():
			timer.Stop()
			return
		case <-timer.C:
		}
	}
}

// fetchRequest builds one fetchAndLock request covering every subscription.
func (c *Client) fetchRequest() (engine.FetchAndLockRequest, bool) {
	c.mu.RLock()
	defer c.mu.RUnlock()
	if len(c.order) == 0 {
		return engine.FetchAndLockRequest{}, false
	}
	req := engine.FetchAndLockRequest{
		WorkerID:    c.workerID,
		MaxTasks:    c.maxTasks,
		UsePriority: c.usePriority,
		Topics:      make([]engine.TopicRequest, 0, len(c.order)),
	}
	if c.asyncResponseTimeout > 0 {
		ms := c.asyncResponseTimeout.Milliseconds()
		req.AsyncResponseTimeout = &ms
	}
	for _, name := range c.order {
		req.Topics = append(req.Topics, c.subs[name].topicRequest())
	}
	return req, true
}

func (c *Client) fetch(ctx context.Context, req engine.FetchAndLockRequest) ([]*ExternalTask, error) {
	locked, err := c.engine.FetchAndLock(ctx, req)
	if err != nil {
		if ctx.Err() == nil {
			c.logger.Error("fetchAndLock failed",
				zap.String("correlationId", engine.CorrelationID(ctx)),
				zap.String("category", string(engine.CategorizeError(err))),
				zap.Error(err),
			)
		}
		return nil, err
	}
	tasks := make([]*ExternalTask, 0, len(locked))
	for _, l := range locked {
		observability.TasksFetchedTotal.WithLabelValues(l.TopicName).Inc()
		task := newExternalTask(l, c.codec)
		for name, err := range task.decodeErrs {
			c.logger.Warn("External task variable kept undecoded",
				zap.String("taskId", l.ID),
				zap.String("topic", l.TopicName),
				zap.String("variable", name),
				zap.Error(err),
			)
		}
		tasks = append(tasks, task)
	}
	return tasks, nil
}

// execute runs the topic handler for one task. A panicking handler is logged
// and the task is left to lock expiry.
func (c *Client) execute(ctx context.Context, task *ExternalTask) {
	sub, ok := c.Subscription(task.TopicName)
	if !ok {
		c.logger.Warn("No subscription for fetched task; leaving it to lock expiry",
			zap.String("taskId", task.ID),
			zap.String("topic", task.TopicName),
		)
		return
	}

	c.inFlight.Increment()
	observability.HandlersInFlight.Inc()
	defer func() {
		observability.HandlersInFlight.Dec()
		c.inFlight.Decrement()
	}()

	// Handlers report outcomes after Stop cancels polling.
	handlerCtx := context.WithoutCancel(ctx)
	start := time.Now()
	outcome := "success"
	if panicked := c.invoke(handlerCtx, sub.Handler, task); panicked {
		outcome = "panic"
	}
	observability.HandlerDuration.WithLabelValues(task.TopicName).Observe(time.Since(start).Seconds())
	observability.HandlerExecutionsTotal.WithLabelValues(task.TopicName, outcome).Inc()
}

func (c *Client) invoke(ctx context.Context, h Handler, task *ExternalTask) (panicked bool) {
	defer func() {
		if r := recover(); r != nil {
			panicked = true
			c.logger.Error("External task handler panicked",
				zap.String("taskId", task.ID),
				zap.String("topic", task.TopicName),
				zap.String("correlationId", engine.CorrelationID(ctx)),
				zap.Any("panic", r),
				zap.Stack("stack"),
			)
		}
	}()
	h.Execute(ctx, task, c.service)
	return false
}
