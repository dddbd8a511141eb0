package externaltask

import (
	"context"
	"sync"

	"github.com/kjstillabower/external-task-worker/internal/engine"
)

// fakeEngine records calls and serves queued fetch batches.
type fakeEngine struct {
	mu        sync.Mutex
	batches   [][]engine.LockedExternalTask
	fetchErr  error
	fetches   []engine.FetchAndLockRequest
	completed map[string]engine.CompleteRequest
	failures  map[string]engine.FailureRequest
	bpmn      map[string]engine.BPMNErrorRequest
	extended  map[string]engine.ExtendLockRequest
	unlocked  []string
	variables map[string]map[string]engine.VariableValue
}

func newFakeEngine(batches ...[]engine.LockedExternalTask) *fakeEngine {
	return &fakeEngine{
		batches:   batches,
		completed: make(map[string]engine.CompleteRequest),
		failures:  make(map[string]engine.FailureRequest),
		bpmn:      make(map[string]engine.BPMNErrorRequest),
		extended:  make(map[string]engine.ExtendLockRequest),
		variables: make(map[string]map[string]engine.VariableValue),
	}
}

func (f *fakeEngine) BaseURL() string { return "http://engine.test/engine-rest" }

func (f *fakeEngine) FetchAndLock(ctx context.Context, req engine.FetchAndLockRequest) ([]engine.LockedExternalTask, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.fetches = append(f.fetches, req)
	if f.fetchErr != nil {
		return nil, f.fetchErr
	}
	if len(f.batches) == 0 {
		return nil, nil
	}
	batch := f.batches[0]
	f.batches = f.batches[1:]
	return batch, nil
}

func (f *fakeEngine) Complete(ctx context.Context, taskID string, req engine.CompleteRequest) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.completed[taskID] = req
	return nil
}

func (f *fakeEngine) HandleFailure(ctx context.Context, taskID string, req engine.FailureRequest) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.failures[taskID] = req
	return nil
}

func (f *fakeEngine) HandleBPMNError(ctx context.Context, taskID string, req engine.BPMNErrorRequest) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.bpmn[taskID] = req
	return nil
}

func (f *fakeEngine) ExtendLock(ctx context.Context, taskID string, req engine.ExtendLockRequest) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.extended[taskID] = req
	return nil
}

func (f *fakeEngine) Unlock(ctx context.Context, taskID string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.unlocked = append(f.unlocked, taskID)
	return nil
}

func (f *fakeEngine) SetVariables(ctx context.Context, processInstanceID string, vars map[string]engine.VariableValue) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.variables[processInstanceID] = vars
	return nil
}

func (f *fakeEngine) fetchCount() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return len(f.fetches)
}

func (f *fakeEngine) firstFetch() engine.FetchAndLockRequest {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.fetches[0]
}

func (f *fakeEngine) completion(taskID string) (engine.CompleteRequest, bool) {
	f.mu.Lock()
	defer f.mu.Unlock()
	req, ok := f.completed[taskID]
	return req, ok
}
