// ABOUTME: Tests for guardian wiring, HTTP endpoints, locking and lifecycle
// ABOUTME: Uses MockStore for handlers and a temp SQLite file for full runs

package guardian

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/2389/coven-guardian/internal/config"
	"github.com/2389/coven-guardian/internal/rpc"
	"github.com/2389/coven-guardian/internal/store"
)

func testConfig(t *testing.T, extra string) *config.Config {
	t.Helper()
	dbPath := filepath.Join(t.TempDir(), "data", "guardian.db")
	cfg, err := config.Parse([]byte(`
server:
  grpc_addr: "127.0.0.1:0"
  http_addr: "127.0.0.1:0"
database:
  path: "`+dbPath+`"
watch:
  enabled: false
`+extra), false)
	require.NoError(t, err)
	return cfg
}

func newTestGuardian(t *testing.T) (*Guardian, *store.MockStore) {
	t.Helper()
	s := store.NewMockStore()
	g := build(testConfig(t, ""), s, nil, "test", nil)
	return g, s
}

func get(t *testing.T, h http.Handler, path string) *httptest.ResponseRecorder {
	t.Helper()
	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, path, nil))
	return rec
}

func TestBuild_NilLoggerFallsBackToDefault(t *testing.T) {
	g := build(testConfig(t, ""), store.NewMockStore(), nil, "test", nil)
	require.NotNil(t, g.logger)
	require.NotNil(t, g.Coordinator())

	rec := get(t, g.Handler(), "/api/agents")
	assert.Equal(t, http.StatusOK, rec.Code)
}

func TestHealth(t *testing.T) {
	g, _ := newTestGuardian(t)

	rec := get(t, g.Handler(), "/health")
	assert.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, "OK", rec.Body.String())
}

func TestReady(t *testing.T) {
	g, s := newTestGuardian(t)
	ctx := t.Context()

	_, err := g.Coordinator().RegisterAgent(ctx, "a1", "/w/a1", nil)
	require.NoError(t, err)

	rec := get(t, g.Handler(), "/health/ready")
	assert.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, "ready (1 active agents)", rec.Body.String())

	s.SetFailure(assert.AnError)
	rec = get(t, g.Handler(), "/health/ready")
	assert.Equal(t, http.StatusServiceUnavailable, rec.Code)
}

func TestAPIListAgents(t *testing.T) {
	g, s := newTestGuardian(t)
	c := g.Coordinator()
	ctx := t.Context()

	_, err := c.RegisterAgent(ctx, "a1", "/w/a1", []string{"code"})
	require.NoError(t, err)
	_, err = c.RegisterAgent(ctx, "a2", "/w/a2", nil)
	require.NoError(t, err)
	require.NoError(t, c.UpdateStatus(ctx, "a1", "busy", "compiling"))

	rec := get(t, g.Handler(), "/api/agents")
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, "application/json", rec.Header().Get("Content-Type"))

	var agents []AgentResponse
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &agents))
	require.Len(t, agents, 2)
	assert.Equal(t, "a2", agents[0].ID)
	assert.Equal(t, "a1", agents[1].ID)
	assert.Equal(t, "busy", agents[1].Status)
	assert.Equal(t, []string{"code"}, agents[1].Capabilities)

	rec = get(t, g.Handler(), "/api/agents?status=busy")
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &agents))
	require.Len(t, agents, 1)
	assert.Equal(t, "a1", agents[0].ID)

	s.SetFailure(assert.AnError)
	rec = get(t, g.Handler(), "/api/agents")
	assert.Equal(t, http.StatusServiceUnavailable, rec.Code)
}

func TestAPIListAgents_MethodNotAllowed(t *testing.T) {
	g, _ := newTestGuardian(t)

	rec := httptest.NewRecorder()
	g.Handler().ServeHTTP(rec, httptest.NewRequest(http.MethodPost, "/api/agents", nil))
	assert.Equal(t, http.StatusMethodNotAllowed, rec.Code)
}

func TestAPIListOutputs(t *testing.T) {
	g, _ := newTestGuardian(t)
	ctx := t.Context()

	_, err := g.Coordinator().AnnounceOutput(ctx, "a1", "/w/a1/outputs/x.txt", map[string]any{"k": "v"})
	require.NoError(t, err)

	rec := get(t, g.Handler(), "/api/outputs")
	require.Equal(t, http.StatusOK, rec.Code)

	var outs []OutputResponse
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &outs))
	require.Len(t, outs, 1)
	assert.Equal(t, "a1", outs[0].AgentID)
	assert.Equal(t, "v", outs[0].Metadata["k"])

	future := time.Now().Add(time.Hour).UTC().Format(time.RFC3339)
	rec = get(t, g.Handler(), "/api/outputs?since="+future)
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &outs))
	assert.Empty(t, outs)

	rec = get(t, g.Handler(), "/api/outputs?since=yesterday")
	assert.Equal(t, http.StatusBadRequest, rec.Code)
}

func TestSweep(t *testing.T) {
	g, s := newTestGuardian(t)
	ctx := t.Context()

	require.NoError(t, s.InsertMessage(ctx, &store.Message{
		FromAgentID: "a", ToAgentID: "b", Type: "note", Content: "old",
		CreatedAt: time.Now().Add(-30 * 24 * time.Hour),
	}))
	require.NoError(t, s.InsertMessage(ctx, &store.Message{
		FromAgentID: "a", ToAgentID: "b", Type: "note", Content: "new",
	}))

	g.sweep(ctx, g.config.Retention.MessageMaxAge)

	unread, err := s.ListUnreadMessages(ctx, "b")
	require.NoError(t, err)
	require.Len(t, unread, 1)
	assert.Equal(t, "new", unread[0].Content)
}

func TestRunSweeper_StopsOnCancel(t *testing.T) {
	g, _ := newTestGuardian(t)
	g.config.Retention.SweepInterval = 5 * time.Millisecond

	ctx, cancel := context.WithCancel(t.Context())
	done := make(chan error, 1)
	go func() { done <- g.runSweeper(ctx) }()

	time.Sleep(20 * time.Millisecond)
	cancel()

	select {
	case err := <-done:
		assert.NoError(t, err)
	case <-time.After(2 * time.Second):
		t.Fatal("sweeper did not stop")
	}
}

func TestNew_SecondInstanceIsLockedOut(t *testing.T) {
	cfg := testConfig(t, "")

	g1, err := New(cfg, "test", nil)
	require.NoError(t, err)

	_, err = New(cfg, "test", nil)
	require.ErrorIs(t, err, ErrLocked)

	require.NoError(t, g1.Shutdown(t.Context()))

	// released on shutdown
	g2, err := New(cfg, "test", nil)
	require.NoError(t, err)
	require.NoError(t, g2.Shutdown(t.Context()))
}

func TestRun_ServesAndShutsDown(t *testing.T) {
	cfg := testConfig(t, "")
	g, err := New(cfg, "test", nil)
	require.NoError(t, err)

	grpcLn, httpLn, err := g.setupTCPListeners()
	require.NoError(t, err)

	ctx, cancel := context.WithCancel(t.Context())
	stop := g.startBackground(ctx)
	errCh := g.startServers(grpcLn, httpLn)

	resp, err := http.Get("http://" + httpLn.Addr().String() + "/health")
	require.NoError(t, err)
	_ = resp.Body.Close()
	assert.Equal(t, http.StatusOK, resp.StatusCode)

	client, err := rpc.Dial(grpcLn.Addr().String())
	require.NoError(t, err)
	defer client.Close()

	_, err = client.RegisterAgent(ctx, "a1", "/w/a1", nil)
	require.NoError(t, err)
	agents, err := client.ListAgents(ctx)
	require.NoError(t, err)
	require.Len(t, agents, 1)

	cancel()
	assert.NoError(t, g.waitForShutdownSignal(ctx, errCh))
	assert.NoError(t, stop())
	assert.NoError(t, g.gracefulShutdown())

	_, err = os.Stat(cfg.Database.Path)
	assert.NoError(t, err)
}

func TestBuild_WatchEnabledWiresBridge(t *testing.T) {
	cfg := testConfig(t, "")
	enabled := true
	cfg.Watch.Enabled = &enabled

	g := build(cfg, store.NewMockStore(), nil, "test", nil)
	t.Cleanup(func() { _ = g.watcher.Close() })

	require.NotNil(t, g.watcher)
	require.NotNil(t, g.bridge)

	ws := t.TempDir()
	require.NoError(t, os.MkdirAll(filepath.Join(ws, "outputs"), 0755))

	reg, err := g.Coordinator().RegisterAgent(t.Context(), "a1", ws, nil)
	require.NoError(t, err)
	assert.True(t, reg.Watching)

	dir, ok := g.watcher.Dir("a1")
	assert.True(t, ok)
	assert.Equal(t, filepath.Join(ws, "outputs"), dir)
}
