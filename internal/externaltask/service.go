package externaltask

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/kjstillabower/external-task-worker/internal/engine"
)

// Handler executes locked external tasks of one topic.
type Handler interface {
	Execute(ctx context.Context, task *ExternalTask, service TaskService)
}

// HandlerFunc adapts a function to Handler.
type HandlerFunc func(ctx context.Context, task *ExternalTask, service TaskService)

// Execute calls f(ctx, task, service).
func (f HandlerFunc) Execute(ctx context.Context, task *ExternalTask, service TaskService) {
	f(ctx, task, service)
}

// TaskService reports task outcomes back to the engine.
type TaskService interface {
	Complete(ctx context.Context, task *ExternalTask, variables, localVariables Variables) error
	HandleFailure(ctx context.Context, task *ExternalTask, failure Failure) error
	HandleBPMNError(ctx context.Context, task *ExternalTask, errorCode, errorMessage string, variables Variables) error
	ExtendLock(ctx context.Context, task *ExternalTask, newDuration time.Duration) error
	Unlock(ctx context.Context, task *ExternalTask) error
	SetVariables(ctx context.Context, processInstanceID string, variables Variables) error
}

// Failure describes a failed task execution. Retries decrement to zero raise an incident.
type Failure struct {
	ErrorMessage string
	ErrorDetails string
	Retries      int
	RetryTimeout time.Duration
}

var ErrInvalidTask = errors.New("external task: invalid argument")

type taskService struct {
	engine   engine.API
	workerID string
	codec    variableCodec
}

func (s *taskService) Complete(ctx context.Context, task *ExternalTask, variables, localVariables Variables) error {
	if err := requireTask(task); err != nil {
		return err
	}
	vars, err := s.codec.encodeAll(variables)
	if err != nil {
		return err
	}
	local, err := s.codec.encodeAll(localVariables)
	if err != nil {
		return err
	}
	return s.engine.Complete(ctx, task.ID, engine.CompleteRequest{
		WorkerID:       s.workerID,
		Variables:      vars,
		LocalVariables: local,
	})
}

func (s *taskService) HandleFailure(ctx context.Context, task *ExternalTask, failure Failure) error {
	if err := requireTask(task); err != nil {
		return err
	}
	if failure.Retries < 0 {
		return fmt.Errorf("%w: retries must not be negative", ErrInvalidTask)
	}
	if failure.RetryTimeout < 0 {
		return fmt.Errorf("%w: retry timeout must not be negative", ErrInvalidTask)
	}
	return s.engine.HandleFailure(ctx, task.ID, engine.FailureRequest{
		WorkerID:     s.workerID,
		ErrorMessage: failure.ErrorMessage,
		ErrorDetails: failure.ErrorDetails,
		Retries:      failure.Retries,
		RetryTimeout: failure.RetryTimeout.Milliseconds(),
	})
}

func (s *taskService) HandleBPMNError(ctx context.Context, task *ExternalTask, errorCode, errorMessage string, variables Variables) error {
	if err := requireTask(task); err != nil {
		return err
	}
	if errorCode == "" {
		return fmt.Errorf("%w: error code is required", ErrInvalidTask)
	}
	vars, err := s.codec.encodeAll(variables)
	if err != nil {
		return err
	}
	return s.engine.HandleBPMNError(ctx, task.ID, engine.BPMNErrorRequest{
		WorkerID:     s.workerID,
		ErrorCode:    errorCode,
		ErrorMessage: errorMessage,
		Variables:    vars,
	})
}

func (s *taskService) ExtendLock(ctx context.Context, task *ExternalTask, newDuration time.Duration) error {
	if err := requireTask(task); err != nil {
		return err
	}
	if newDuration <= 0 {
		return fmt.Errorf("%w: lock duration must be positive", ErrInvalidTask)
	}
	return s.engine.ExtendLock(ctx, task.ID, engine.ExtendLockRequest{
		WorkerID:    s.workerID,
		NewDuration: newDuration.Milliseconds(),
	})
}

func (s *taskService) Unlock(ctx context.Context, task *ExternalTask) error {
	if err := requireTask(task); err != nil {
		return err
	}
	return s.engine.Unlock(ctx, task.ID)
}

func (s *taskService) SetVariables(ctx context.Context, processInstanceID string, variables Variables) error {
	if processInstanceID == "" {
		return fmt.Errorf("%w: process instance id is required", ErrInvalidTask)
	}
	vars, err := s.codec.encodeAll(variables)
	if err != nil {
		return err
	}
	return s.engine.SetVariables(ctx, processInstanceID, vars)
}

func requireTask(task *ExternalTask) error {
	if task == nil || task.ID == "" {
		return fmt.Errorf("%w: task id is required", ErrInvalidTask)
	}
	return nil
}
