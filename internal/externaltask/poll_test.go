package externaltask

import (
	"context"
	"encoding/json"
	"errors"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/kjstillabower/external-task-worker/internal/engine"
)

func lockedTask(id, topic string) engine.LockedExternalTask {
	return engine.LockedExternalTask{
		ID:                id,
		TopicName:         topic,
		ProcessInstanceID: "pi-" + id,
		Variables: map[string]engine.VariableValue{
			"number": {Type: TypeInteger, Value: json.RawMessage(`21`)},
		},
	}
}

// TestPoll_DispatchesTasksToHandlers verifies that fetched tasks reach their topic handler and can be completed.
func TestPoll_DispatchesTasksToHandlers(t *testing.T) {
	fake := newFakeEngine([]engine.LockedExternalTask{lockedTask("t1", "number-topic")})
	c := newTestClient(t, fake, nil)

	_, err := c.Subscribe("number-topic").
		LockDuration(19 * time.Second).
		Variables("number").
		Handler(HandlerFunc(func(ctx context.Context, task *ExternalTask, svc TaskService) {
			n, err := task.IntVariable("number")
			if err != nil {
				_ = svc.HandleFailure(ctx, task, Failure{ErrorMessage: err.Error()})
				return
			}
			_ = svc.Complete(ctx, task, Variables{"result": n * 2}, nil)
		})).
		Open()
	require.NoError(t, err)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	c.Start(ctx)
	defer c.Stop()
	assert.True(t, c.IsActive())

	require.Eventually(t, func() bool {
		_, ok := fake.completion("t1")
		return ok
	}, 2*time.Second, 10*time.Millisecond)

	done, _ := fake.completion("t1")
	assert.JSONEq(t, `42`, string(done.Variables["result"].Value))
	assert.Equal(t, TypeLong, done.Variables["result"].Type)

	req := fake.firstFetch()
	assert.Equal(t, "test-worker", req.WorkerID)
	assert.Equal(t, DefaultMaxTasks, req.MaxTasks)
	assert.True(t, req.UsePriority)
	assert.Nil(t, req.AsyncResponseTimeout)
	require.Len(t, req.Topics, 1)
	assert.Equal(t, "number-topic", req.Topics[0].TopicName)
	assert.Equal(t, int64(19000), req.Topics[0].LockDuration)
	assert.Equal(t, []string{"number"}, req.Topics[0].Variables)
}

// TestPoll_AsyncResponseTimeout verifies that long polling is requested when configured.
func TestPoll_AsyncResponseTimeout(t *testing.T) {
	fake := newFakeEngine()
	c := newTestClient(t, fake, func(b *ClientBuilder) {
		b.AsyncResponseTimeout(10 * time.Second).MaxTasks(3).UsePriority(false)
	})
	_, err := c.Subscribe("a").Handler(noopHandler).Open()
	require.NoError(t, err)

	req, ok := c.fetchRequest()
	require.True(t, ok)
	require.NotNil(t, req.AsyncResponseTimeout)
	assert.Equal(t, int64(10000), *req.AsyncResponseTimeout)
	assert.Equal(t, 3, req.MaxTasks)
	assert.False(t, req.UsePriority)
}

// TestPoll_WaitsForSubscriptions verifies that no fetch is sent until a topic is subscribed.
func TestPoll_WaitsForSubscriptions(t *testing.T) {
	fake := newFakeEngine()
	c := newTestClient(t, fake, nil)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	c.Start(ctx)
	defer c.Stop()

	time.Sleep(50 * time.Millisecond)
	assert.Equal(t, 0, fake.fetchCount())

	_, err := c.Subscribe("late").Handler(noopHandler).Open()
	require.NoError(t, err)

	require.Eventually(t, func() bool { return fake.fetchCount() > 0 }, 2*time.Second, 10*time.Millisecond)
}

// TestPoll_RecoversHandlerPanic verifies that a panicking handler does not stop the loop.
func TestPoll_RecoversHandlerPanic(t *testing.T) {
	fake := newFakeEngine(
		[]engine.LockedExternalTask{lockedTask("t1", "boom"), lockedTask("t2", "ok")},
	)
	c := newTestClient(t, fake, nil)

	_, err := c.Subscribe("boom").Handler(HandlerFunc(func(context.Context, *ExternalTask, TaskService) {
		panic("handler failure")
	})).Open()
	require.NoError(t, err)
	_, err = c.Subscribe("ok").Handler(HandlerFunc(func(ctx context.Context, task *ExternalTask, svc TaskService) {
		_ = svc.Complete(ctx, task, nil, nil)
	})).Open()
	require.NoError(t, err)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	c.Start(ctx)
	defer c.Stop()

	require.Eventually(t, func() bool {
		_, ok := fake.completion("t2")
		return ok
	}, 2*time.Second, 10*time.Millisecond)
	_, ok := fake.completion("t1")
	assert.False(t, ok, "panicking task is left to lock expiry")
	assert.Equal(t, int64(0), c.InFlight().Count())
}

// TestPoll_BackoffOnEmptyFetch verifies that empty fetches are spaced by the backoff strategy.
func TestPoll_BackoffOnEmptyFetch(t *testing.T) {
	fake := newFakeEngine()
	c := newTestClient(t, fake, func(b *ClientBuilder) {
		b.BackoffStrategy(NewExponentialBackoff(time.Hour, time.Hour, 2))
	})
	_, err := c.Subscribe("idle").Handler(noopHandler).Open()
	require.NoError(t, err)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	c.Start(ctx)

	require.Eventually(t, func() bool { return fake.fetchCount() == 1 }, 2*time.Second, 10*time.Millisecond)
	time.Sleep(50 * time.Millisecond)
	assert.Equal(t, 1, fake.fetchCount(), "second fetch waits for the backoff")

	c.Stop()
	assert.False(t, c.IsActive())
}

// TestPoll_FetchErrorBacksOff verifies that engine errors do not spin the loop even with backoff disabled.
func TestPoll_FetchErrorBacksOff(t *testing.T) {
	fake := newFakeEngine()
	fake.fetchErr = errors.New("connection refused")
	c := newTestClient(t, fake, func(b *ClientBuilder) { b.DisableBackoffStrategy() })
	_, err := c.Subscribe("a").Handler(noopHandler).Open()
	require.NoError(t, err)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	c.Start(ctx)
	time.Sleep(100 * time.Millisecond)
	c.Stop()

	assert.Equal(t, 1, fake.fetchCount())
}

// TestStop_WaitsForRunningHandler verifies that Stop returns only after the current handler finished,
// and that the handler can still report its outcome.
func TestStop_WaitsForRunningHandler(t *testing.T) {
	fake := newFakeEngine([]engine.LockedExternalTask{lockedTask("t1", "slow")})
	c := newTestClient(t, fake, nil)

	started := make(chan struct{})
	var finished atomic.Bool
	_, err := c.Subscribe("slow").Handler(HandlerFunc(func(ctx context.Context, task *ExternalTask, svc TaskService) {
		close(started)
		time.Sleep(100 * time.Millisecond)
		assert.NoError(t, ctx.Err())
		_ = svc.Complete(ctx, task, nil, nil)
		finished.Store(true)
	})).Open()
	require.NoError(t, err)

	c.Start(context.Background())
	<-started
	c.Stop()

	assert.True(t, finished.Load())
	_, ok := fake.completion("t1")
	assert.True(t, ok)
	assert.False(t, c.IsActive())
}

// TestStart_Idempotent verifies that a second Start does not launch another loop.
func TestStart_Idempotent(t *testing.T) {
	c := newTestClient(t, newFakeEngine(), nil)
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	c.Start(ctx)
	c.Start(ctx)
	assert.True(t, c.IsActive())
	c.Stop()
	c.Stop()
	assert.False(t, c.IsActive())
}

// TestPoll_DeliversTaskWithUndecodableVariable verifies that a variable the
// codec rejects does not keep the task from its handler.
func TestPoll_DeliversTaskWithUndecodableVariable(t *testing.T) {
	locked := lockedTask("t1", "number-topic")
	locked.Variables["created"] = engine.VariableValue{Type: TypeDate, Value: json.RawMessage(`"2024-01-01T00:00:00Z"`)}
	fake := newFakeEngine([]engine.LockedExternalTask{locked})
	c := newTestClient(t, fake, nil)

	createdErr := make(chan error, 1)
	_, err := c.Subscribe("number-topic").
		Handler(HandlerFunc(func(ctx context.Context, task *ExternalTask, svc TaskService) {
			_, err := task.TimeVariable("created")
			createdErr <- err
			n, err := task.IntVariable("number")
			if err != nil {
				_ = svc.HandleFailure(ctx, task, Failure{ErrorMessage: err.Error()})
				return
			}
			_ = svc.Complete(ctx, task, Variables{"result": n * 2}, nil)
		})).
		Open()
	require.NoError(t, err)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	c.Start(ctx)
	defer c.Stop()

	require.Eventually(t, func() bool {
		_, ok := fake.completion("t1")
		return ok
	}, 2*time.Second, 10*time.Millisecond)

	done, _ := fake.completion("t1")
	assert.JSONEq(t, `42`, string(done.Variables["result"].Value))
	assert.ErrorIs(t, <-createdErr, ErrVariableDecode)
}
