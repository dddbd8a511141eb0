// Package testhelpers provides an in-process engine REST server for tests.
package testhelpers

import (
	"encoding/json"
	"io"
	"net/http"
	"net/http/httptest"
	"sync"
	"testing"

	"github.com/gorilla/mux"

	"github.com/kjstillabower/external-task-worker/internal/engine"
)

// Call is one request received by FakeEngine.
type Call struct {
	Op     string
	TaskID string
	Body   []byte
}

// FakeEngine serves the external task endpoints. Queued batches are returned
// by fetchAndLock in order; once drained it answers with an empty list.
type FakeEngine struct {
	Server *httptest.Server

	mu      sync.Mutex
	batches [][]engine.LockedExternalTask
	fetches []engine.FetchAndLockRequest
	calls   []Call
	status  map[string]int
	notify  chan Call
}

// NewFakeEngine starts a server closed by t.Cleanup.
func NewFakeEngine(t testing.TB) *FakeEngine {
	t.Helper()
	f := &FakeEngine{status: make(map[string]int), notify: make(chan Call, 64)}

	router := mux.NewRouter()
	router.HandleFunc("/external-task/fetchAndLock", f.fetchAndLock).Methods(http.MethodPost)
	router.HandleFunc("/external-task/{id}/{op}", f.taskAction).Methods(http.MethodPost)
	router.HandleFunc("/process-instance/{id}/variables", f.record("setVariables")).Methods(http.MethodPost)

	f.Server = httptest.NewServer(router)
	t.Cleanup(f.Server.Close)
	return f
}

// URL returns the engine REST root.
func (f *FakeEngine) URL() string { return f.Server.URL }

// Enqueue adds a batch for a later fetchAndLock.
func (f *FakeEngine) Enqueue(tasks ...engine.LockedExternalTask) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.batches = append(f.batches, tasks)
}

// FailWith makes every call to op answer with status.
func (f *FakeEngine) FailWith(op string, status int) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.status[op] = status
}

// Fetches returns the decoded fetchAndLock bodies received so far.
func (f *FakeEngine) Fetches() []engine.FetchAndLockRequest {
	f.mu.Lock()
	defer f.mu.Unlock()
	return append([]engine.FetchAndLockRequest(nil), f.fetches...)
}

// Calls returns every non-fetch call received so far.
func (f *FakeEngine) Calls() []Call {
	f.mu.Lock()
	defer f.mu.Unlock()
	return append([]Call(nil), f.calls...)
}

// Notify delivers non-fetch calls as they arrive.
func (f *FakeEngine) Notify() <-chan Call { return f.notify }

func (f *FakeEngine) fetchAndLock(w http.ResponseWriter, r *http.Request) {
	var req engine.FetchAndLockRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}

	f.mu.Lock()
	f.fetches = append(f.fetches, req)
	status := f.status["fetchAndLock"]
	batch := []engine.LockedExternalTask{}
	if status == 0 && len(f.batches) > 0 {
		batch = f.batches[0]
		f.batches = f.batches[1:]
	}
	f.mu.Unlock()

	if status != 0 {
		writeError(w, status, "fetchAndLock failed")
		return
	}
	for i := range batch {
		if batch[i].WorkerID == "" {
			batch[i].WorkerID = req.WorkerID
		}
	}
	writeJSON(w, http.StatusOK, batch)
}

func (f *FakeEngine) taskAction(w http.ResponseWriter, r *http.Request) {
	f.record(mux.Vars(r)["op"])(w, r)
}

func (f *FakeEngine) record(op string) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		body, _ := io.ReadAll(r.Body)
		call := Call{Op: op, TaskID: mux.Vars(r)["id"], Body: body}

		f.mu.Lock()
		f.calls = append(f.calls, call)
		status := f.status[op]
		f.mu.Unlock()

		select {
		case f.notify <- call:
		default:
		}
		if status != 0 {
			writeError(w, status, op+" failed")
			return
		}
		w.WriteHeader(http.StatusNoContent)
	}
}

func writeJSON(w http.ResponseWriter, status int, v interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}

func writeError(w http.ResponseWriter, status int, message string) {
	writeJSON(w, status, map[string]string{"type": "RestException", "message": message})
}
