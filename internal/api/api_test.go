package api

import (
	"bytes"
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"path/filepath"
	"sync"
	"testing"

	"github.com/gin-gonic/gin"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/vibesuite/orchestrator/internal/common/config"
	"github.com/vibesuite/orchestrator/internal/common/errors"
	"github.com/vibesuite/orchestrator/internal/common/logger"
	"github.com/vibesuite/orchestrator/internal/events"
	"github.com/vibesuite/orchestrator/internal/lifecycle"
	"github.com/vibesuite/orchestrator/internal/spool"
	"github.com/vibesuite/orchestrator/internal/store"
)

// fakeAgents is an in-memory AgentManager.
type fakeAgents struct {
	mu       sync.Mutex
	agents   map[string]*store.Agent
	logs     map[string][]store.AgentLogLine
	killed   []string
	spawnErr error
}

func newFakeAgents() *fakeAgents {
	return &fakeAgents{
		agents: make(map[string]*store.Agent),
		logs:   make(map[string][]store.AgentLogLine),
	}
}

func (f *fakeAgents) Spawn(ctx context.Context, req lifecycle.AgentSpawnRequest) (*store.Agent, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.spawnErr != nil {
		return nil, f.spawnErr
	}
	kind := req.Kind
	if kind == "" {
		kind = store.AgentKindTriage
	}
	agent := &store.Agent{ID: string(kind) + "-aaaa1111", TaskID: req.TaskID, Kind: kind, Status: store.AgentStatusRunning}
	f.agents[agent.ID] = agent
	return agent, nil
}

func (f *fakeAgents) Kill(ctx context.Context, agentID string, reason lifecycle.KillReason) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.killed = append(f.killed, agentID)
	return nil
}

func (f *fakeAgents) Retry(ctx context.Context, agentID string) (*store.Agent, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	orig, ok := f.agents[agentID]
	if !ok {
		return nil, errors.NotFound("agent", agentID)
	}
	fresh := &store.Agent{ID: string(orig.Kind) + "-bbbb2222", TaskID: orig.TaskID, Kind: orig.Kind, Status: store.AgentStatusStarting}
	f.agents[fresh.ID] = fresh
	return fresh, nil
}

func (f *fakeAgents) Get(ctx context.Context, agentID string) (*store.Agent, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	agent, ok := f.agents[agentID]
	if !ok {
		return nil, errors.NotFound("agent", agentID)
	}
	return agent, nil
}

func (f *fakeAgents) List(ctx context.Context, limit int) ([]*store.Agent, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	out := make([]*store.Agent, 0, len(f.agents))
	for _, a := range f.agents {
		out = append(out, a)
	}
	return out, nil
}

func (f *fakeAgents) Active(ctx context.Context) ([]*store.Agent, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	out := make([]*store.Agent, 0)
	for _, a := range f.agents {
		if a.Status == store.AgentStatusRunning || a.Status == store.AgentStatusStarting {
			out = append(out, a)
		}
	}
	return out, nil
}

func (f *fakeAgents) ActiveCount() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return len(f.agents)
}

func (f *fakeAgents) GetLogs(ctx context.Context, agentID string) ([]store.AgentLogLine, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.logs[agentID], nil
}

func (f *fakeAgents) Analytics(ctx context.Context) (*store.AgentAnalytics, error) {
	return &store.AgentAnalytics{Total: len(f.agents)}, nil
}

type apiFixture struct {
	router *gin.Engine
	agents *fakeAgents
	store  *store.Store
	spool  *spool.Spool
}

func newAPIFixture(t *testing.T) *apiFixture {
	t.Helper()
	st, err := store.Open(filepath.Join(t.TempDir(), "test.db"))
	require.NoError(t, err)
	t.Cleanup(func() { _ = st.Close() })

	sp, err := spool.Open(t.TempDir(), logger.Default())
	require.NoError(t, err)

	agents := newFakeAgents()
	router := NewRouter(Options{
		Agents:    agents,
		Store:     st,
		Spool:     sp,
		Workspace: config.WorkspaceConfig{},
		GitHub:    config.GitHubConfig{Owner: "vibesuite"},
		Logger:    logger.Default(),
	})
	return &apiFixture{router: router, agents: agents, store: st, spool: sp}
}

func (f *apiFixture) do(t *testing.T, method, path string, body any) *httptest.ResponseRecorder {
	t.Helper()
	var buf bytes.Buffer
	if body != nil {
		require.NoError(t, json.NewEncoder(&buf).Encode(body))
	}
	req := httptest.NewRequest(method, path, &buf)
	req.Header.Set("Content-Type", "application/json")
	w := httptest.NewRecorder()
	f.router.ServeHTTP(w, req)
	return w
}

func decodeBody(t *testing.T, w *httptest.ResponseRecorder) map[string]any {
	t.Helper()
	var out map[string]any
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &out))
	return out
}

func TestSpawnAgentEndpoint(t *testing.T) {
	f := newAPIFixture(t)

	w := f.do(t, http.MethodPost, "/agents/spawn", map[string]any{
		"taskId": "task-1", "repo": "webapp", "kind": "coding",
	})
	require.Equal(t, http.StatusCreated, w.Code)

	body := decodeBody(t, w)
	assert.Equal(t, "task-1", body["taskId"])
	assert.Equal(t, "coding", body["kind"])
}

func TestSpawnAgentInvalidBody(t *testing.T) {
	f := newAPIFixture(t)

	req := httptest.NewRequest(http.MethodPost, "/agents/spawn", bytes.NewBufferString("{not json"))
	w := httptest.NewRecorder()
	f.router.ServeHTTP(w, req)

	require.Equal(t, http.StatusBadRequest, w.Code)
	body := decodeBody(t, w)
	errObj := body["error"].(map[string]any)
	assert.Equal(t, errors.KindValidationError, errObj["kind"])
}

func TestGetAgentNotFound(t *testing.T) {
	f := newAPIFixture(t)

	w := f.do(t, http.MethodGet, "/agents/triage-deadbeef", nil)
	require.Equal(t, http.StatusNotFound, w.Code)
	body := decodeBody(t, w)
	errObj := body["error"].(map[string]any)
	assert.Equal(t, errors.KindNotFound, errObj["kind"])
}

func TestKillAgentEndpoint(t *testing.T) {
	f := newAPIFixture(t)
	agent, err := f.agents.Spawn(context.Background(), lifecycle.AgentSpawnRequest{TaskID: "task-1"})
	require.NoError(t, err)

	w := f.do(t, http.MethodPost, "/agents/"+agent.ID+"/kill", nil)
	require.Equal(t, http.StatusAccepted, w.Code)
	assert.Contains(t, f.agents.killed, agent.ID)

	// Unknown agents are rejected before the kill reaches the manager.
	w = f.do(t, http.MethodPost, "/agents/triage-deadbeef/kill", nil)
	assert.Equal(t, http.StatusNotFound, w.Code)
}

func TestErrorResponsesAreScrubbed(t *testing.T) {
	f := newAPIFixture(t)
	f.agents.spawnErr = errors.SandboxError("image pull failed: Bearer abcdef0123456789", nil)

	w := f.do(t, http.MethodPost, "/agents/spawn", map[string]any{"taskId": "task-1"})
	require.Equal(t, http.StatusBadGateway, w.Code)
	assert.NotContains(t, w.Body.String(), "abcdef0123456789")
	assert.Contains(t, w.Body.String(), "***")
}

func TestEventEndpoints(t *testing.T) {
	f := newAPIFixture(t)

	// Unknown kinds are rejected.
	w := f.do(t, http.MethodPost, "/events", map[string]any{"type": "task.reopened"})
	require.Equal(t, http.StatusBadRequest, w.Code)

	w = f.do(t, http.MethodPost, "/events", map[string]any{
		"type":    events.TaskAssigned,
		"payload": map[string]any{"taskId": "task-1", "repo": "webapp"},
	})
	require.Equal(t, http.StatusCreated, w.Code)
	created := decodeBody(t, w)
	id := created["id"].(string)
	require.NotEmpty(t, id)
	assert.Equal(t, "api", created["source"])

	w = f.do(t, http.MethodGet, "/events/pending", nil)
	require.Equal(t, http.StatusOK, w.Code)
	assert.Equal(t, float64(1), decodeBody(t, w)["total"])

	w = f.do(t, http.MethodGet, "/events/"+id[:8], nil)
	require.Equal(t, http.StatusOK, w.Code)

	w = f.do(t, http.MethodPost, "/events/"+id+"/processed", nil)
	require.Equal(t, http.StatusOK, w.Code)

	// Marking twice reports not found: the move already happened.
	w = f.do(t, http.MethodPost, "/events/"+id+"/processed", nil)
	assert.Equal(t, http.StatusNotFound, w.Code)

	w = f.do(t, http.MethodGet, "/events/processed", nil)
	require.Equal(t, http.StatusOK, w.Code)
	assert.Equal(t, float64(1), decodeBody(t, w)["total"])
}

func TestQueueEndpoints(t *testing.T) {
	f := newAPIFixture(t)
	ctx := context.Background()
	require.NoError(t, f.store.CreateTask(ctx, &store.Task{ID: "task-1", Repo: "webapp"}))

	w := f.do(t, http.MethodPost, "/queue/add/task-1", nil)
	require.Equal(t, http.StatusCreated, w.Code)

	// Double-adding is an invalid state.
	w = f.do(t, http.MethodPost, "/queue/add/task-1", nil)
	require.Equal(t, http.StatusConflict, w.Code)

	// Adding an unknown task is a 404.
	w = f.do(t, http.MethodPost, "/queue/add/task-missing", nil)
	require.Equal(t, http.StatusNotFound, w.Code)

	w = f.do(t, http.MethodGet, "/queue", nil)
	require.Equal(t, http.StatusOK, w.Code)
	assert.Equal(t, float64(1), decodeBody(t, w)["total"])

	w = f.do(t, http.MethodDelete, "/queue/task-1", nil)
	require.Equal(t, http.StatusOK, w.Code)

	w = f.do(t, http.MethodGet, "/queue", nil)
	assert.Equal(t, float64(0), decodeBody(t, w)["total"])
}

func TestQueueSettingsPartialUpdate(t *testing.T) {
	f := newAPIFixture(t)

	w := f.do(t, http.MethodPost, "/queue/settings", map[string]any{"paused": true})
	require.Equal(t, http.StatusOK, w.Code)
	body := decodeBody(t, w)
	assert.Equal(t, true, body["paused"])
	// Untouched fields keep their defaults.
	assert.Equal(t, float64(3), body["maxConcurrent"])

	w = f.do(t, http.MethodPost, "/queue/settings", map[string]any{"maxConcurrent": 0})
	assert.Equal(t, http.StatusBadRequest, w.Code)

	w = f.do(t, http.MethodGet, "/queue/settings", nil)
	require.Equal(t, http.StatusOK, w.Code)
	assert.Equal(t, true, decodeBody(t, w)["paused"])
}

func TestHealthEndpoint(t *testing.T) {
	f := newAPIFixture(t)

	w := f.do(t, http.MethodGet, "/health", nil)
	require.Equal(t, http.StatusOK, w.Code)
	body := decodeBody(t, w)
	assert.Equal(t, "ok", body["status"])
	assert.Equal(t, true, body["store"])
	assert.Equal(t, true, body["spool"])
	// No docker pinger wired in this fixture.
	assert.Equal(t, false, body["docker"])
}

func TestServiceLogsEndpoint(t *testing.T) {
	f := newAPIFixture(t)
	ctx := context.Background()
	require.NoError(t, f.store.AppendServiceLog(ctx, "info", "router", "poll completed", ""))

	w := f.do(t, http.MethodGet, "/logs", nil)
	require.Equal(t, http.StatusOK, w.Code)
	assert.Equal(t, float64(1), decodeBody(t, w)["total"])
}
