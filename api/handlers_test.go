package api

import (
	"bytes"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/KolosalAI/kolosal-agent/bus"
	"github.com/KolosalAI/kolosal-agent/runtime"
	"github.com/KolosalAI/kolosal-agent/types"
)

type testAPI struct {
	manager    *runtime.Manager
	supervisor *runtime.Supervisor
	handler    http.Handler
}

func newTestAPI(t *testing.T, mutate func(*Options)) *testAPI {
	t.Helper()
	router := bus.NewRouter(bus.Config{}, zap.NewNop(), nil)
	router.Start()
	t.Cleanup(router.Stop)

	manager := runtime.NewManager(runtime.ManagerOptions{Router: router, Logger: zap.NewNop()})
	t.Cleanup(manager.StopAll)
	supervisor := runtime.NewSupervisor(manager, nil, router, runtime.SupervisorConfig{Interval: time.Hour}, zap.NewNop())
	supervisor.Start()
	t.Cleanup(supervisor.Stop)

	opts := Options{
		Manager:    manager,
		Supervisor: supervisor,
		Logger:     zap.NewNop(),
	}
	if mutate != nil {
		mutate(&opts)
	}
	return &testAPI{manager: manager, supervisor: supervisor, handler: NewHandler(opts)}
}

func (a *testAPI) do(t *testing.T, method, path string, body any) *httptest.ResponseRecorder {
	t.Helper()
	var reader *bytes.Reader
	if body != nil {
		raw, err := json.Marshal(body)
		require.NoError(t, err)
		reader = bytes.NewReader(raw)
	} else {
		reader = bytes.NewReader(nil)
	}
	req := httptest.NewRequest(method, path, reader)
	req.RemoteAddr = "192.0.2.1:12345"
	rec := httptest.NewRecorder()
	a.handler.ServeHTTP(rec, req)
	return rec
}

func decode(t *testing.T, rec *httptest.ResponseRecorder) map[string]any {
	t.Helper()
	var out map[string]any
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &out), "body: %s", rec.Body.String())
	return out
}

func (a *testAPI) createAgent(t *testing.T, cfg types.AgentConfig) string {
	t.Helper()
	rec := a.do(t, http.MethodPost, "/v1/agents", cfg)
	require.Equal(t, http.StatusCreated, rec.Code, rec.Body.String())
	id, _ := decode(t, rec)["agent_id"].(string)
	require.NotEmpty(t, id)
	return id
}

// pollJob drives GET /v1/jobs/{id} until the status is terminal.
func (a *testAPI) pollJob(t *testing.T, jobID string) map[string]any {
	t.Helper()
	deadline := time.Now().Add(3 * time.Second)
	for time.Now().Before(deadline) {
		rec := a.do(t, http.MethodGet, "/v1/jobs/"+jobID, nil)
		require.Equal(t, http.StatusOK, rec.Code)
		body := decode(t, rec)
		status, _ := body["status"].(string)
		if types.JobStatus(status).IsTerminal() {
			return body
		}
		time.Sleep(5 * time.Millisecond)
	}
	t.Fatal("job did not reach a terminal status")
	return nil
}

func assertEnvelope(t *testing.T, rec *httptest.ResponseRecorder, status int, errType types.ErrorCode) {
	t.Helper()
	require.Equal(t, status, rec.Code, rec.Body.String())
	body := decode(t, rec)
	envelope, ok := body["error"].(map[string]any)
	require.True(t, ok, "missing error envelope: %s", rec.Body.String())
	assert.Equal(t, string(errType), envelope["type"])
	assert.Equal(t, float64(status), envelope["code"])
	assert.NotEmpty(t, envelope["message"])
}

func TestEchoRoundTrip(t *testing.T) {
	a := newTestAPI(t, nil)
	id := a.createAgent(t, types.AgentConfig{Name: "echoer", Functions: []string{"echo"}, AutoStart: true})

	rec := a.do(t, http.MethodPost, "/v1/agents/"+id+"/execute", map[string]any{
		"function": "echo",
		"params":   map[string]any{"text": "hi"},
	})
	require.Equal(t, http.StatusAccepted, rec.Code, rec.Body.String())
	jobID, _ := decode(t, rec)["job_id"].(string)
	require.NotEmpty(t, jobID)

	job := a.pollJob(t, jobID)
	assert.Equal(t, string(types.JobCompleted), job["status"])
	result, ok := job["result"].(map[string]any)
	require.True(t, ok)
	data, ok := result["result_data"].(map[string]any)
	require.True(t, ok)
	assert.Equal(t, "hi", data["text"])
}

func TestValidationFailureSurfacesInResult(t *testing.T) {
	a := newTestAPI(t, nil)
	id := a.createAgent(t, types.AgentConfig{Name: "adder", Functions: []string{"add"}, AutoStart: true})

	rec := a.do(t, http.MethodPost, "/v1/agents/"+id+"/execute", map[string]any{
		"function": "add",
		"params":   map[string]any{"x": 1},
	})
	require.Equal(t, http.StatusAccepted, rec.Code)
	jobID, _ := decode(t, rec)["job_id"].(string)

	job := a.pollJob(t, jobID)
	assert.Equal(t, string(types.JobFailed), job["status"])
	result := job["result"].(map[string]any)
	assert.Equal(t, false, result["success"])
	assert.Contains(t, result["error_message"], "y")
}

func TestAgentCRUD(t *testing.T) {
	a := newTestAPI(t, nil)
	id := a.createAgent(t, types.AgentConfig{Name: "worker", Functions: []string{"echo"}})

	rec := a.do(t, http.MethodGet, "/v1/agents/"+id, nil)
	require.Equal(t, http.StatusOK, rec.Code)
	info := decode(t, rec)
	assert.Equal(t, "worker", info["name"])
	assert.Equal(t, false, info["running"])

	// Lookup by name resolves to the same agent.
	rec = a.do(t, http.MethodGet, "/v1/agents/worker", nil)
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, id, decode(t, rec)["id"])

	rec = a.do(t, http.MethodDelete, "/v1/agents/"+id, nil)
	assert.Equal(t, http.StatusNoContent, rec.Code)

	rec = a.do(t, http.MethodGet, "/v1/agents/"+id, nil)
	assertEnvelope(t, rec, http.StatusNotFound, types.ErrNotFound)
}

func TestStartStopStateConflicts(t *testing.T) {
	a := newTestAPI(t, nil)
	id := a.createAgent(t, types.AgentConfig{Name: "cycler", Functions: []string{"echo"}})

	rec := a.do(t, http.MethodPut, "/v1/agents/"+id+"/start", nil)
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, "ok", decode(t, rec)["status"])

	rec = a.do(t, http.MethodPut, "/v1/agents/"+id+"/start", nil)
	assertEnvelope(t, rec, http.StatusConflict, types.ErrAlreadyRunning)

	rec = a.do(t, http.MethodPut, "/v1/agents/"+id+"/stop", nil)
	require.Equal(t, http.StatusOK, rec.Code)

	rec = a.do(t, http.MethodPut, "/v1/agents/"+id+"/stop", nil)
	assertEnvelope(t, rec, http.StatusConflict, types.ErrState)
}

func TestExecuteOnStoppedAgentConflicts(t *testing.T) {
	a := newTestAPI(t, nil)
	id := a.createAgent(t, types.AgentConfig{Name: "parked", Functions: []string{"echo"}})

	rec := a.do(t, http.MethodPost, "/v1/agents/"+id+"/execute", map[string]any{"function": "echo"})
	assertEnvelope(t, rec, http.StatusConflict, types.ErrAgentStopped)
}

func TestDuplicateNameRejected(t *testing.T) {
	a := newTestAPI(t, nil)
	a.createAgent(t, types.AgentConfig{Name: "solo", Functions: []string{"echo"}})

	rec := a.do(t, http.MethodPost, "/v1/agents", types.AgentConfig{Name: "solo", Functions: []string{"echo"}})
	assertEnvelope(t, rec, http.StatusBadRequest, types.ErrValidation)
}

func TestMalformedBodyRejected(t *testing.T) {
	a := newTestAPI(t, nil)
	req := httptest.NewRequest(http.MethodPost, "/v1/agents", strings.NewReader("{not json"))
	rec := httptest.NewRecorder()
	a.handler.ServeHTTP(rec, req)
	assertEnvelope(t, rec, http.StatusBadRequest, types.ErrValidation)
}

// decodeList parses a top-level JSON array response.
func decodeList(t *testing.T, rec *httptest.ResponseRecorder) []map[string]any {
	t.Helper()
	var out []map[string]any
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &out), "body: %s", rec.Body.String())
	return out
}

func TestListAgentsWithCapabilityFilter(t *testing.T) {
	a := newTestAPI(t, nil)
	a.createAgent(t, types.AgentConfig{Name: "searcher", Functions: []string{"echo"}, Capabilities: []string{"search"}})
	a.createAgent(t, types.AgentConfig{Name: "writer", Functions: []string{"echo"}, Capabilities: []string{"writing"}})

	rec := a.do(t, http.MethodGet, "/v1/agents", nil)
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Len(t, decodeList(t, rec), 2)

	rec = a.do(t, http.MethodGet, "/v1/agents?capability=search", nil)
	require.Equal(t, http.StatusOK, rec.Code)
	agents := decodeList(t, rec)
	require.Len(t, agents, 1)
	assert.Equal(t, "searcher", agents[0]["name"])

	rec = a.do(t, http.MethodGet, "/v1/agents?capability=juggling", nil)
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Len(t, decodeList(t, rec), 0)
}

// The list endpoint answers with a bare array, not a wrapper object; clients
// decode it directly into a slice.
func TestListAgentsReturnsTopLevelArray(t *testing.T) {
	a := newTestAPI(t, nil)
	a.createAgent(t, types.AgentConfig{Name: "one", Functions: []string{"echo"}, AutoStart: true})

	rec := a.do(t, http.MethodGet, "/v1/agents", nil)
	require.Equal(t, http.StatusOK, rec.Code)
	require.True(t, strings.HasPrefix(strings.TrimSpace(rec.Body.String()), "["), "body: %s", rec.Body.String())

	agents := decodeList(t, rec)
	require.Len(t, agents, 1)
	for _, key := range []string{"id", "name", "type", "role", "running", "capabilities"} {
		assert.Contains(t, agents[0], key)
	}
	assert.Equal(t, true, agents[0]["running"])

	// An empty population still yields an array, not null.
	empty := newTestAPI(t, nil)
	rec = empty.do(t, http.MethodGet, "/v1/agents", nil)
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, "[]", strings.TrimSpace(rec.Body.String()))
}

func TestCancelPendingJob(t *testing.T) {
	a := newTestAPI(t, nil)
	id := a.createAgent(t, types.AgentConfig{
		Name:               "slowpoke",
		Functions:          []string{"echo", "delay"},
		AutoStart:          true,
		MaxConcurrentTasks: 1,
	})

	// Occupy the single worker, then queue a second job to cancel.
	rec := a.do(t, http.MethodPost, "/v1/agents/"+id+"/execute", map[string]any{
		"function": "delay",
		"params":   map[string]any{"ms": 500},
	})
	require.Equal(t, http.StatusAccepted, rec.Code)

	rec = a.do(t, http.MethodPost, "/v1/agents/"+id+"/execute", map[string]any{"function": "echo"})
	require.Equal(t, http.StatusAccepted, rec.Code)
	victim, _ := decode(t, rec)["job_id"].(string)

	rec = a.do(t, http.MethodDelete, "/v1/jobs/"+victim, nil)
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, true, decode(t, rec)["cancelled"])

	job := a.pollJob(t, victim)
	assert.Equal(t, string(types.JobCancelled), job["status"])
}

func TestUnknownJobNotFound(t *testing.T) {
	a := newTestAPI(t, nil)
	rec := a.do(t, http.MethodGet, "/v1/jobs/nope", nil)
	assertEnvelope(t, rec, http.StatusNotFound, types.ErrNotFound)
}

func TestSystemStatusWireShape(t *testing.T) {
	a := newTestAPI(t, nil)
	a.createAgent(t, types.AgentConfig{Name: "up", Functions: []string{"echo"}, AutoStart: true})

	// Wait for the supervisor's first cycle so the snapshot is populated.
	deadline := time.Now().Add(3 * time.Second)
	for time.Now().Before(deadline) && a.supervisor.Status().Timestamp.IsZero() {
		time.Sleep(5 * time.Millisecond)
	}

	rec := a.do(t, http.MethodGet, "/v1/system/status", nil)
	require.Equal(t, http.StatusOK, rec.Code)
	body := decode(t, rec)

	backend := body["llm_backend"].(map[string]any)
	assert.Equal(t, false, backend["running"])
	assert.Equal(t, false, backend["healthy"])

	agents := body["agents"].(map[string]any)
	assert.Equal(t, float64(1), agents["total"])
	assert.Equal(t, float64(1), agents["running"])

	jobs := body["jobs"].(map[string]any)
	for _, key := range []string{"pending", "running", "completed_total", "failed_total"} {
		assert.Contains(t, jobs, key)
	}
	assert.Contains(t, body, "avg_response_time_ms")
	assert.NotZero(t, body["last_health_check_unix"])
}

func TestReloadEndpoint(t *testing.T) {
	var gotPath string
	a := newTestAPI(t, func(o *Options) {
		o.Reload = func(path string) error {
			gotPath = path
			return nil
		}
	})

	rec := a.do(t, http.MethodPost, "/v1/system/reload", map[string]string{"config_path": "/etc/kolosal.yaml"})
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, true, decode(t, rec)["reloaded"])
	assert.Equal(t, "/etc/kolosal.yaml", gotPath)
}

func TestReloadNotConfigured(t *testing.T) {
	a := newTestAPI(t, nil)
	rec := a.do(t, http.MethodPost, "/v1/system/reload", nil)
	assertEnvelope(t, rec, http.StatusConflict, types.ErrState)
}

func TestHealthEndpoint(t *testing.T) {
	a := newTestAPI(t, nil)
	rec := a.do(t, http.MethodGet, "/health", nil)
	assert.Equal(t, http.StatusOK, rec.Code)
}

func TestMetricsEndpoint(t *testing.T) {
	reg := prometheus.NewRegistry()
	a := newTestAPI(t, func(o *Options) { o.Gatherer = reg })

	rec := a.do(t, http.MethodGet, "/metrics", nil)
	assert.Equal(t, http.StatusOK, rec.Code)
}

func TestCORSPreflight(t *testing.T) {
	a := newTestAPI(t, nil)
	req := httptest.NewRequest(http.MethodOptions, "/v1/agents", nil)
	req.Header.Set("Origin", "https://console.example.com")
	rec := httptest.NewRecorder()
	a.handler.ServeHTTP(rec, req)

	assert.Equal(t, http.StatusNoContent, rec.Code)
	assert.Equal(t, "*", rec.Header().Get("Access-Control-Allow-Origin"))
	assert.Contains(t, rec.Header().Get("Access-Control-Allow-Methods"), "DELETE")
}

func TestCORSAllowList(t *testing.T) {
	a := newTestAPI(t, func(o *Options) {
		o.AllowedOrigins = []string{"https://ok.example.com"}
	})

	req := httptest.NewRequest(http.MethodGet, "/v1/agents", nil)
	req.Header.Set("Origin", "https://ok.example.com")
	rec := httptest.NewRecorder()
	a.handler.ServeHTTP(rec, req)
	assert.Equal(t, "https://ok.example.com", rec.Header().Get("Access-Control-Allow-Origin"))

	req = httptest.NewRequest(http.MethodGet, "/v1/agents", nil)
	req.Header.Set("Origin", "https://evil.example.com")
	rec = httptest.NewRecorder()
	a.handler.ServeHTTP(rec, req)
	assert.Empty(t, rec.Header().Get("Access-Control-Allow-Origin"))
}

func TestRateLimit(t *testing.T) {
	a := newTestAPI(t, func(o *Options) { o.RateLimitRPS = 1 })

	var limited bool
	for i := 0; i < 10; i++ {
		rec := a.do(t, http.MethodGet, "/v1/agents", nil)
		if rec.Code == http.StatusTooManyRequests {
			limited = true
			body := decode(t, rec)
			envelope := body["error"].(map[string]any)
			assert.Equal(t, string(types.ErrQueueFull), envelope["type"])
			break
		}
	}
	assert.True(t, limited, "burst of requests should trip the limiter")
}

func TestServerLifecycle(t *testing.T) {
	a := newTestAPI(t, nil)
	srv := NewServer(ServerConfig{Addr: "127.0.0.1:0"}, a.handler, zap.NewNop())
	require.NoError(t, srv.Start())
	defer srv.Stop()

	// Binding the same port again must fail synchronously.
	clash := NewServer(ServerConfig{Addr: srv.Addr()}, a.handler, zap.NewNop())
	err := clash.Start()
	require.Error(t, err)
	assert.Equal(t, types.ErrDependency, types.GetErrorCode(err))

	resp, err := http.Get("http://" + srv.Addr() + "/health")
	require.NoError(t, err)
	defer resp.Body.Close()
	assert.Equal(t, http.StatusOK, resp.StatusCode)
}
