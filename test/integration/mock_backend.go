package integration

import (
	"encoding/json"
	"io"
	"net/http"
	"net/http/httptest"
	"sync"
	"testing"
	"time"
)

// ReasoningRequest is the body the optimizer posts to /v1/complete.
type ReasoningRequest struct {
	Task        string `json:"task"`
	Instruction string `json:"instruction"`
	Prompt      string `json:"prompt"`
	Schema      string `json:"schema"`
}

// RecordedRequest captures one call received by the mock backend.
type RecordedRequest struct {
	Request    ReasoningRequest
	Headers    http.Header
	ReceivedAt time.Time
}

// MockBackend is an HTTP reasoning service with scripted responses per
// task. It records every call for later assertion.
type MockBackend struct {
	t      *testing.T
	server *httptest.Server

	mu       sync.RWMutex
	tasks    map[string]*taskConfig
	received map[string][]*RecordedRequest
}

type taskConfig struct {
	mu        sync.Mutex
	responses []*mockResponse
	current   int
}

type mockResponse struct {
	status    int
	output    any
	raw       []byte
	delay     time.Duration
	connError bool
	fn        func(ReasoningRequest) any
}

// TaskMock is a builder for the responses of one task.
type TaskMock struct {
	backend *MockBackend
	task    string
}

func newMockBackend(t *testing.T) *MockBackend {
	t.Helper()

	mb := &MockBackend{
		t:        t,
		tasks:    make(map[string]*taskConfig),
		received: make(map[string][]*RecordedRequest),
	}

	mux := http.NewServeMux()
	mux.HandleFunc("POST /v1/complete", mb.handleComplete)
	mux.HandleFunc("GET /healthz", func(w http.ResponseWriter, _ *http.Request) {
		w.WriteHeader(http.StatusOK)
	})

	mb.server = httptest.NewServer(mux)
	t.Cleanup(mb.server.Close)
	return mb
}

// URL returns the base URL of the mock backend.
func (mb *MockBackend) URL() string {
	return mb.server.URL
}

// OnTask returns a builder for the responses to task.
func (mb *MockBackend) OnTask(task string) *TaskMock {
	return &TaskMock{backend: mb, task: task}
}

// RespondWith answers with {"output": output}.
func (tm *TaskMock) RespondWith(output any) *TaskMock {
	tm.backend.addResponse(tm.task, &mockResponse{status: http.StatusOK, output: output})
	return tm
}

// RespondWithFunc computes the output from the request.
func (tm *TaskMock) RespondWithFunc(fn func(ReasoningRequest) any) *TaskMock {
	tm.backend.addResponse(tm.task, &mockResponse{status: http.StatusOK, fn: fn})
	return tm
}

// RespondWithStatus answers with a bare status code.
func (tm *TaskMock) RespondWithStatus(status int) *TaskMock {
	tm.backend.addResponse(tm.task, &mockResponse{status: status, raw: []byte(`{"error":"mock failure"}`)})
	return tm
}

// RespondWithRaw answers 200 with body as-is.
func (tm *TaskMock) RespondWithRaw(body string) *TaskMock {
	tm.backend.addResponse(tm.task, &mockResponse{status: http.StatusOK, raw: []byte(body)})
	return tm
}

// RespondWithDelay answers with output after delay.
func (tm *TaskMock) RespondWithDelay(delay time.Duration, output any) *TaskMock {
	tm.backend.addResponse(tm.task, &mockResponse{status: http.StatusOK, output: output, delay: delay})
	return tm
}

// RespondWithConnectionError closes the connection without answering.
func (tm *TaskMock) RespondWithConnectionError() *TaskMock {
	tm.backend.addResponse(tm.task, &mockResponse{connError: true})
	return tm
}

func (mb *MockBackend) addResponse(task string, resp *mockResponse) {
	mb.mu.Lock()
	defer mb.mu.Unlock()
	cfg, ok := mb.tasks[task]
	if !ok {
		cfg = &taskConfig{}
		mb.tasks[task] = cfg
	}
	cfg.responses = append(cfg.responses, resp)
}

func (mb *MockBackend) handleComplete(w http.ResponseWriter, r *http.Request) {
	body, _ := io.ReadAll(r.Body)
	var req ReasoningRequest
	if err := json.Unmarshal(body, &req); err != nil {
		w.WriteHeader(http.StatusBadRequest)
		return
	}

	mb.mu.Lock()
	mb.received[req.Task] = append(mb.received[req.Task], &RecordedRequest{
		Request:    req,
		Headers:    r.Header.Clone(),
		ReceivedAt: time.Now(),
	})
	mb.mu.Unlock()

	resp := mb.nextResponse(req.Task)
	if resp == nil {
		w.WriteHeader(http.StatusNotImplemented)
		return
	}

	if resp.connError {
		if hj, ok := w.(http.Hijacker); ok {
			conn, _, _ := hj.Hijack()
			if conn != nil {
				conn.Close()
			}
		}
		return
	}

	if resp.delay > 0 {
		select {
		case <-time.After(resp.delay):
		case <-r.Context().Done():
			return
		}
	}

	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(resp.status)
	switch {
	case resp.raw != nil:
		w.Write(resp.raw)
	case resp.fn != nil:
		json.NewEncoder(w).Encode(map[string]any{"output": resp.fn(req)})
	default:
		json.NewEncoder(w).Encode(map[string]any{"output": resp.output})
	}
}

// nextResponse returns the scripted responses in order, then repeats the
// last one.
func (mb *MockBackend) nextResponse(task string) *mockResponse {
	mb.mu.RLock()
	cfg, ok := mb.tasks[task]
	mb.mu.RUnlock()
	if !ok {
		return nil
	}

	cfg.mu.Lock()
	defer cfg.mu.Unlock()
	if len(cfg.responses) == 0 {
		return nil
	}
	idx := cfg.current
	if idx >= len(cfg.responses) {
		idx = len(cfg.responses) - 1
	} else {
		cfg.current++
	}
	return cfg.responses[idx]
}

// AssertCalled verifies that task was called the expected number of times.
func (mb *MockBackend) AssertCalled(t *testing.T, task string, expected int) {
	t.Helper()
	if actual := len(mb.Requests(task)); actual != expected {
		t.Errorf("mock reasoning: task %q called %d times, want %d", task, actual, expected)
	}
}

// AssertNotCalled verifies that task was never called.
func (mb *MockBackend) AssertNotCalled(t *testing.T, task string) {
	t.Helper()
	mb.AssertCalled(t, task, 0)
}

// Requests returns every call received for task.
func (mb *MockBackend) Requests(task string) []*RecordedRequest {
	mb.mu.RLock()
	defer mb.mu.RUnlock()
	reqs := mb.received[task]
	copied := make([]*RecordedRequest, len(reqs))
	copy(copied, reqs)
	return copied
}

// Reset clears scripted responses and recorded calls.
func (mb *MockBackend) Reset() {
	mb.mu.Lock()
	defer mb.mu.Unlock()
	mb.tasks = make(map[string]*taskConfig)
	mb.received = make(map[string][]*RecordedRequest)
}
