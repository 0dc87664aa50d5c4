package api

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"sitechat/internal/config"
	"sitechat/internal/dispatcher"
	queueMemory "sitechat/internal/queue/memory"
	"sitechat/internal/rag"
)

func TestServer_StartPipeline_Succeeds(t *testing.T) {
	t.Parallel()

	reg := newFakeRegistry()
	q := queueMemory.NewQueue(10)
	server := newTestServer(reg, dispatcher.New(q, nil), &fakeAnswerer{}, &fakeProber{})

	reqBody := []byte(`{"start_url":"https://example.com","max_depth":1,"max_pages":20}`)
	req := httptest.NewRequest(http.MethodPost, "/v1/pipeline/start", bytes.NewReader(reqBody))
	rec := httptest.NewRecorder()

	server.Handler().ServeHTTP(rec, req)

	require.Equal(t, http.StatusAccepted, rec.Code)
	var resp map[string]string
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &resp))
	require.Equal(t, "started", resp["status"])
	require.NotEmpty(t, resp["run_id"])
	require.Contains(t, resp["message"], "example.com")

	item, err := q.Dequeue(context.Background())
	require.NoError(t, err)
	require.Equal(t, resp["run_id"], item.RunID)
}

func TestServer_StartPipeline_EnqueueFailureFailsRun(t *testing.T) {
	t.Parallel()

	reg := newFakeRegistry()
	server := newTestServer(reg, failingEnqueuer{}, &fakeAnswerer{}, &fakeProber{})

	reqBody := []byte(`{"start_url":"https://example.com"}`)
	req := httptest.NewRequest(http.MethodPost, "/v1/pipeline/start", bytes.NewReader(reqBody))
	rec := httptest.NewRecorder()
	server.Handler().ServeHTTP(rec, req)

	require.Equal(t, http.StatusServiceUnavailable, rec.Code)

	// The stranded run is failed, not left running, so it can be deleted.
	ids := reg.List()
	require.Len(t, ids, 1)
	run := reg.Get(ids[0])
	require.Equal(t, rag.StatusFailed, run.Status)
	require.Contains(t, strings.Join(run.Logs, "\n"), "queue is full")

	rec = httptest.NewRecorder()
	server.Handler().ServeHTTP(rec, httptest.NewRequest(http.MethodDelete, "/v1/pipeline/"+ids[0], nil))
	require.Equal(t, http.StatusOK, rec.Code)
}

func TestServer_StartPipeline_InvalidJSON(t *testing.T) {
	t.Parallel()

	server := newDefaultTestServer()
	req := httptest.NewRequest(http.MethodPost, "/v1/pipeline/start", bytes.NewBufferString("{invalid"))
	rec := httptest.NewRecorder()

	server.Handler().ServeHTTP(rec, req)

	require.Equal(t, http.StatusBadRequest, rec.Code)
}

func TestServer_StartPipeline_ValidationError(t *testing.T) {
	t.Parallel()

	server := newDefaultTestServer()
	req := httptest.NewRequest(http.MethodPost, "/v1/pipeline/start", bytes.NewBufferString(`{"start_url":"not a url"}`))
	rec := httptest.NewRecorder()

	server.Handler().ServeHTTP(rec, req)

	require.Equal(t, http.StatusBadRequest, rec.Code)
	require.Contains(t, rec.Body.String(), "start_url")
}

func TestServer_PipelineStatus_UnknownRunStill200(t *testing.T) {
	t.Parallel()

	server := newDefaultTestServer()
	req := httptest.NewRequest(http.MethodGet, "/v1/pipeline/status/nope", nil)
	rec := httptest.NewRecorder()

	server.Handler().ServeHTTP(rec, req)

	require.Equal(t, http.StatusOK, rec.Code)
	require.Contains(t, rec.Body.String(), "not_found")
}

func TestServer_PipelineStatus_KnownRun(t *testing.T) {
	t.Parallel()

	reg := newFakeRegistry()
	reg.runs["r1"] = rag.Run{
		ID:     "r1",
		Status: rag.StatusCompleted,
		Progress: rag.Progress{
			Step: "completed", CurrentStep: 3, TotalSteps: 3,
		},
		Logs: []string{"Pipeline started", "pipeline completed"},
	}
	server := newTestServer(reg, newTestDispatcher(), &fakeAnswerer{}, &fakeProber{})

	req := httptest.NewRequest(http.MethodGet, "/v1/pipeline/status/r1", nil)
	rec := httptest.NewRecorder()

	server.Handler().ServeHTTP(rec, req)

	require.Equal(t, http.StatusOK, rec.Code)
	require.Contains(t, rec.Body.String(), `"status":"completed"`)
	require.Contains(t, rec.Body.String(), "pipeline completed")
}

func TestServer_ListAndHistory(t *testing.T) {
	t.Parallel()

	reg := newFakeRegistry()
	reg.runs["r2"] = rag.Run{ID: "r2", Status: rag.StatusRunning, SiteName: "two.example.com"}
	reg.runs["r1"] = rag.Run{ID: "r1", Status: rag.StatusCompleted, SiteName: "one.example.com"}
	server := newTestServer(reg, newTestDispatcher(), &fakeAnswerer{}, &fakeProber{})

	rec := httptest.NewRecorder()
	server.Handler().ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/v1/pipeline/list", nil))
	require.Equal(t, http.StatusOK, rec.Code)
	require.Contains(t, rec.Body.String(), "r1")
	require.Contains(t, rec.Body.String(), "r2")

	rec = httptest.NewRecorder()
	server.Handler().ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/v1/pipeline/history", nil))
	require.Equal(t, http.StatusOK, rec.Code)
	require.Contains(t, rec.Body.String(), "two.example.com")
}

func TestServer_DeletePipeline(t *testing.T) {
	t.Parallel()

	reg := newFakeRegistry()
	reg.runs["r1"] = rag.Run{ID: "r1", Status: rag.StatusCompleted}
	server := newTestServer(reg, newTestDispatcher(), &fakeAnswerer{}, &fakeProber{})

	req := httptest.NewRequest(http.MethodDelete, "/v1/pipeline/r1", nil)
	rec := httptest.NewRecorder()
	server.Handler().ServeHTTP(rec, req)

	require.Equal(t, http.StatusOK, rec.Code)
	require.Contains(t, rec.Body.String(), "deleted")
	require.Contains(t, reg.deleted, "r1")
}

func TestServer_DeleteRunningPipelineConflicts(t *testing.T) {
	t.Parallel()

	reg := newFakeRegistry()
	reg.runs["r1"] = rag.Run{ID: "r1", Status: rag.StatusRunning}
	server := newTestServer(reg, newTestDispatcher(), &fakeAnswerer{}, &fakeProber{})

	req := httptest.NewRequest(http.MethodDelete, "/v1/pipeline/r1", nil)
	rec := httptest.NewRecorder()
	server.Handler().ServeHTTP(rec, req)

	require.Equal(t, http.StatusConflict, rec.Code)
}

func TestServer_Answer_Succeeds(t *testing.T) {
	t.Parallel()

	ans := &fakeAnswerer{
		result: rag.Answer{
			Answer: "We ship worldwide.",
			Sources: []rag.Source{
				{URL: "https://example.com/shipping", Title: "Shipping", Score: 2.0},
			},
		},
	}
	server := newTestServer(newFakeRegistry(), newTestDispatcher(), ans, &fakeProber{})

	reqBody := []byte(`{"run_id":"r1","question":"do you ship?","top_k":3}`)
	req := httptest.NewRequest(http.MethodPost, "/v1/answer", bytes.NewReader(reqBody))
	rec := httptest.NewRecorder()
	server.Handler().ServeHTTP(rec, req)

	require.Equal(t, http.StatusOK, rec.Code)
	require.Contains(t, rec.Body.String(), "We ship worldwide.")
	require.Contains(t, rec.Body.String(), "example.com/shipping")
	require.Equal(t, "r1", ans.lastRunID)
	require.Equal(t, 3, ans.lastTopK)
}

func TestServer_Answer_ErrorMapping(t *testing.T) {
	t.Parallel()

	cases := []struct {
		name string
		err  error
		code int
	}{
		{"validation", &rag.ValidationError{Field: "query", Reason: "empty"}, http.StatusBadRequest},
		{"not found", &rag.NotFoundError{RunID: "r1"}, http.StatusNotFound},
		{"conflict", &rag.ConflictError{RunID: "r1", Reason: "busy"}, http.StatusConflict},
		{"upstream", &rag.UpstreamError{Stage: "embedding", Err: errors.New("down")}, http.StatusBadGateway},
		{"unknown", errors.New("boom"), http.StatusInternalServerError},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			t.Parallel()
			server := newTestServer(newFakeRegistry(), newTestDispatcher(), &fakeAnswerer{err: tc.err}, &fakeProber{})
			req := httptest.NewRequest(http.MethodPost, "/v1/answer", bytes.NewBufferString(`{"run_id":"r1","question":"q"}`))
			rec := httptest.NewRecorder()
			server.Handler().ServeHTTP(rec, req)
			require.Equal(t, tc.code, rec.Code)
		})
	}
}

func TestServer_Status_ReportsCapabilities(t *testing.T) {
	t.Parallel()

	prober := &fakeProber{collections: []string{"run_a", "run_b"}}
	server := newTestServer(newFakeRegistry(), newTestDispatcher(), &fakeAnswerer{}, prober)

	rec := httptest.NewRecorder()
	server.Handler().ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/v1/status", nil))

	require.Equal(t, http.StatusOK, rec.Code)
	var status rag.ServerStatus
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &status))
	require.True(t, status.VectorStoreConfigured)
	require.True(t, status.LLMConfigured)
	require.Equal(t, []string{"run_a", "run_b"}, status.Collections)
}

func TestServer_Readyz_FailsWhenStoreDown(t *testing.T) {
	t.Parallel()

	prober := &fakeProber{pingErr: errors.New("connection refused")}
	server := newTestServer(newFakeRegistry(), newTestDispatcher(), &fakeAnswerer{}, prober)

	rec := httptest.NewRecorder()
	server.Handler().ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/readyz", nil))
	require.Equal(t, http.StatusServiceUnavailable, rec.Code)

	rec = httptest.NewRecorder()
	server.Handler().ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/healthz", nil))
	require.Equal(t, http.StatusOK, rec.Code)
}

func TestServer_APIKeyMiddleware(t *testing.T) {
	t.Parallel()

	cfg := testConfig()
	cfg.Auth = config.AuthConfig{Enabled: true, APIKey: "secret"}
	server := NewServer(
		newFakeRegistry(),
		newTestDispatcher(),
		&fakeAnswerer{},
		&fakeProber{},
		true,
		&fakeClock{now: time.Unix(100, 0)},
		cfg,
		zap.NewNop(),
	)

	req := httptest.NewRequest(http.MethodGet, "/healthz", nil)
	rec := httptest.NewRecorder()
	server.Handler().ServeHTTP(rec, req)
	require.Equal(t, http.StatusForbidden, rec.Code)

	req = httptest.NewRequest(http.MethodGet, "/healthz", nil)
	req.Header.Set("X-API-Key", "secret")
	rec = httptest.NewRecorder()
	server.Handler().ServeHTTP(rec, req)
	require.Equal(t, http.StatusOK, rec.Code)
}

func TestRequestIDMiddlewareSetsHeader(t *testing.T) {
	t.Parallel()

	rec := httptest.NewRecorder()
	req := httptest.NewRequest(http.MethodGet, "/healthz", nil)
	newDefaultTestServer().Handler().ServeHTTP(rec, req)

	require.NotEmpty(t, rec.Header().Get("X-Request-ID"))
}

// --- helpers/fakes ---

func testConfig() config.Config {
	return config.Config{
		Server:  config.ServerConfig{Port: 8080},
		Logging: config.LoggingConfig{Development: true},
	}
}

func newTestDispatcher() *dispatcher.Dispatcher {
	return dispatcher.New(queueMemory.NewQueue(10), nil)
}

func newDefaultTestServer() *Server {
	return newTestServer(newFakeRegistry(), newTestDispatcher(), &fakeAnswerer{}, &fakeProber{})
}

func newTestServer(reg RunRegistry, enq Enqueuer, ans Answerer, prober StatusProber) *Server {
	return NewServer(reg, enq, ans, prober, true, &fakeClock{now: time.Unix(100, 0)}, testConfig(), zap.NewNop())
}

type fakeClock struct {
	now time.Time
}

func (c *fakeClock) Now() time.Time {
	return c.now
}

type fakeRegistry struct {
	mu      sync.Mutex
	runs    map[string]rag.Run
	deleted []string
	n       int
}

func newFakeRegistry() *fakeRegistry {
	return &fakeRegistry{runs: make(map[string]rag.Run)}
}

func (f *fakeRegistry) Create(params rag.RunParams) (rag.Run, error) {
	if params.StartURL == "" || params.StartURL == "not a url" {
		return rag.Run{}, &rag.ValidationError{Field: "start_url", Reason: "must be a well-formed absolute URL"}
	}
	f.mu.Lock()
	defer f.mu.Unlock()
	f.n++
	run := rag.Run{
		ID:       time.Unix(int64(f.n), 0).UTC().Format("20060102_150405") + "_test",
		Status:   rag.StatusRunning,
		Params:   params,
		SiteName: "example.com",
	}
	f.runs[run.ID] = run
	return run, nil
}

func (f *fakeRegistry) Get(id string) rag.Run {
	f.mu.Lock()
	defer f.mu.Unlock()
	run, ok := f.runs[id]
	if !ok {
		return rag.Run{
			ID:       id,
			Status:   rag.StatusNotFound,
			Progress: rag.Progress{Step: "not_found"},
			Logs:     []string{"Pipeline not found"},
		}
	}
	return run
}

func (f *fakeRegistry) AppendLog(id, line string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	run, ok := f.runs[id]
	if !ok {
		return &rag.NotFoundError{RunID: id}
	}
	run.Logs = append(run.Logs, line)
	f.runs[id] = run
	return nil
}

func (f *fakeRegistry) SetStatus(id string, status rag.RunStatus) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	run, ok := f.runs[id]
	if !ok {
		return &rag.NotFoundError{RunID: id}
	}
	run.Status = status
	f.runs[id] = run
	return nil
}

func (f *fakeRegistry) List() []string {
	f.mu.Lock()
	defer f.mu.Unlock()
	ids := make([]string, 0, len(f.runs))
	for id := range f.runs {
		ids = append(ids, id)
	}
	return ids
}

func (f *fakeRegistry) History() []rag.RunSummary {
	f.mu.Lock()
	defer f.mu.Unlock()
	out := make([]rag.RunSummary, 0, len(f.runs))
	for _, run := range f.runs {
		out = append(out, rag.RunSummary{ID: run.ID, Status: run.Status, SiteName: run.SiteName})
	}
	return out
}

func (f *fakeRegistry) Delete(_ context.Context, id string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	run, ok := f.runs[id]
	if !ok {
		return nil
	}
	if run.Status == rag.StatusRunning {
		return &rag.ConflictError{RunID: id, Reason: "cannot delete a running pipeline"}
	}
	delete(f.runs, id)
	f.deleted = append(f.deleted, id)
	return nil
}

type failingEnqueuer struct{}

func (failingEnqueuer) Enqueue(context.Context, rag.QueueItem) error {
	return errors.New("queue full")
}

type fakeAnswerer struct {
	result    rag.Answer
	err       error
	lastRunID string
	lastTopK  int
}

func (f *fakeAnswerer) Answer(_ context.Context, runID, _ string, topK int) (rag.Answer, error) {
	f.lastRunID = runID
	f.lastTopK = topK
	if f.err != nil {
		return rag.Answer{}, f.err
	}
	return f.result, nil
}

type fakeProber struct {
	pingErr     error
	collections []string
}

func (f *fakeProber) Ping(context.Context) error {
	return f.pingErr
}

func (f *fakeProber) ListCollections(context.Context) ([]string, error) {
	return f.collections, nil
}
