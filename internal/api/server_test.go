package api

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"net/http/httptest"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"simdeck/internal/batch"
	"simdeck/internal/core"
	"simdeck/internal/dirty"
	"simdeck/internal/events"
	"simdeck/internal/history"
	"simdeck/internal/lifecycle"
	"simdeck/internal/logging"
	"simdeck/internal/poll"
	"simdeck/internal/runstate"
	"simdeck/internal/telemetry"
)

// idleStream blocks until cancelled; API tests drive state through the
// handlers, not through telemetry.
type idleStream struct{}

func (idleStream) Recv(ctx context.Context) (core.TelemetrySnapshot, error) {
	<-ctx.Done()
	return core.TelemetrySnapshot{}, ctx.Err()
}

func (idleStream) Close() error { return nil }

// fakeEngine is a scripted engine for handler tests.
type fakeEngine struct {
	mu        sync.Mutex
	runSeq    int
	startErr  error
	batchErr  error
	saveErr   error
	cancelled []core.ScenarioID
	scenarios []core.Scenario
}

func (f *fakeEngine) StartRun(_ context.Context, _ core.ScenarioID) (core.RunID, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.startErr != nil {
		return "", f.startErr
	}
	f.runSeq++
	return core.RunID(fmt.Sprintf("run-%d", f.runSeq)), nil
}

func (f *fakeEngine) CancelRun(_ context.Context, id core.ScenarioID) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.cancelled = append(f.cancelled, id)
	return nil
}

func (f *fakeEngine) ResetRun(_ context.Context, _ core.ScenarioID) error { return nil }

func (f *fakeEngine) StreamTelemetry(_ context.Context, _ core.RunID) (telemetry.Stream, error) {
	return idleStream{}, nil
}

func (f *fakeEngine) StartBatch(_ context.Context, _ *core.BatchJob) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.batchErr
}

func (f *fakeEngine) BatchStatus(_ context.Context, id core.BatchID) (*core.BatchJob, error) {
	return nil, core.ErrNotFound("batch", string(id))
}

func (f *fakeEngine) ListScenarios(_ context.Context, _ core.WorkspaceID) ([]core.Scenario, error) {
	return f.scenarios, nil
}

func (f *fakeEngine) SaveConfig(_ context.Context, doc dirty.Snapshot) (dirty.Snapshot, error) {
	if f.saveErr != nil {
		return nil, f.saveErr
	}
	return doc.Clone(), nil
}

type testServer struct {
	srv    *httptest.Server
	eng    *fakeEngine
	store  *runstate.Store
	agg    *batch.Aggregator
	trk    *dirty.Tracker
	bus    *events.EventBus
	navSeq []string
}

func newTestServer(t *testing.T) *testServer {
	t.Helper()
	logger := logging.NewNop().Logger
	bus := events.New(64)
	t.Cleanup(bus.Close)

	store := runstate.New("ws-1", logger)
	monitor := telemetry.NewMonitor(time.Minute, logger)
	source := telemetry.NewSource(store, monitor, bus, time.Hour, logger)
	eng := &fakeEngine{}
	svc := lifecycle.NewService(store, source, monitor, eng, bus, logger)

	agg := batch.NewAggregator(bus, logger)
	reconciler := poll.NewReconciler(time.Hour, eng, agg, logger)
	t.Cleanup(reconciler.Shutdown)

	trk := dirty.NewTracker(dirty.Snapshot{
		"workforce": {"headcount": 250},
	}, bus, logger)

	ts := &testServer{eng: eng, store: store, agg: agg, trk: trk, bus: bus}
	guard := dirty.NewGuard(trk, func(nav dirty.PendingNavigation) {
		ts.navSeq = append(ts.navSeq, nav.Target)
	}, logger)

	hist, err := history.Open(t.TempDir() + "/history.db")
	require.NoError(t, err)
	t.Cleanup(func() { _ = hist.Close() })

	server := NewServer(Deps{
		Lifecycle:  svc,
		Aggregator: agg,
		Reconciler: reconciler,
		Tracker:    trk,
		Guard:      guard,
		Engine:     eng,
		History:    hist,
		Bus:        bus,
		Workspace:  "ws-1",
	}, WithLogger(logger))

	ts.srv = httptest.NewServer(server.Handler())
	t.Cleanup(ts.srv.Close)
	return ts
}

func (ts *testServer) do(t *testing.T, method, path string, body interface{}) *http.Response {
	t.Helper()
	var reader *bytes.Reader
	if body != nil {
		data, err := json.Marshal(body)
		require.NoError(t, err)
		reader = bytes.NewReader(data)
	} else {
		reader = bytes.NewReader(nil)
	}
	req, err := http.NewRequest(method, ts.srv.URL+path, reader)
	require.NoError(t, err)
	req.Header.Set("Content-Type", "application/json")
	resp, err := http.DefaultClient.Do(req)
	require.NoError(t, err)
	t.Cleanup(func() { _ = resp.Body.Close() })
	return resp
}

func decode[T any](t *testing.T, resp *http.Response) T {
	t.Helper()
	var out T
	require.NoError(t, json.NewDecoder(resp.Body).Decode(&out))
	return out
}

func TestHealth(t *testing.T) {
	ts := newTestServer(t)
	resp := ts.do(t, http.MethodGet, "/health", nil)
	assert.Equal(t, http.StatusOK, resp.StatusCode)
}

func TestStartRun(t *testing.T) {
	ts := newTestServer(t)

	resp := ts.do(t, http.MethodPost, "/api/v1/runs", map[string]string{"scenario_id": "scn-1"})
	require.Equal(t, http.StatusCreated, resp.StatusCode)

	body := decode[map[string]string](t, resp)
	assert.Equal(t, "run-1", body["run_id"])
	assert.Equal(t, "scn-1", body["scenario_id"])
	assert.NotNil(t, ts.store.Current())
}

func TestStartRunConflictIs409(t *testing.T) {
	ts := newTestServer(t)

	resp := ts.do(t, http.MethodPost, "/api/v1/runs", map[string]string{"scenario_id": "scn-1"})
	require.Equal(t, http.StatusCreated, resp.StatusCode)

	resp = ts.do(t, http.MethodPost, "/api/v1/runs", map[string]string{"scenario_id": "scn-2"})
	require.Equal(t, http.StatusConflict, resp.StatusCode)

	body := decode[errorBody](t, resp)
	assert.Equal(t, core.CodeRunAlreadyActive, body.Code)
	assert.Equal(t, "run-1", body.Details["active_run_id"])

	// The first run is untouched.
	require.NotNil(t, ts.store.Current())
	assert.Equal(t, core.RunID("run-1"), ts.store.Current().RunID)
}

func TestStartRunValidation(t *testing.T) {
	ts := newTestServer(t)

	resp := ts.do(t, http.MethodPost, "/api/v1/runs", map[string]string{})
	assert.Equal(t, http.StatusBadRequest, resp.StatusCode)
}

func TestActiveRun(t *testing.T) {
	ts := newTestServer(t)

	resp := ts.do(t, http.MethodGet, "/api/v1/runs/active", nil)
	assert.Equal(t, http.StatusNoContent, resp.StatusCode)

	ts.do(t, http.MethodPost, "/api/v1/runs", map[string]string{"scenario_id": "scn-1"})

	resp = ts.do(t, http.MethodGet, "/api/v1/runs/active", nil)
	require.Equal(t, http.StatusOK, resp.StatusCode)
	body := decode[lifecycle.ActiveRun](t, resp)
	assert.Equal(t, core.RunID("run-1"), body.RunID)
}

func TestCancelRunClearsLocallyEvenIfIdle(t *testing.T) {
	ts := newTestServer(t)

	ts.do(t, http.MethodPost, "/api/v1/runs", map[string]string{"scenario_id": "scn-1"})
	require.NotNil(t, ts.store.Current())

	resp := ts.do(t, http.MethodPost, "/api/v1/runs/cancel", nil)
	require.Equal(t, http.StatusOK, resp.StatusCode)
	assert.Nil(t, ts.store.Current())

	// Cancel with nothing active is a no-op.
	resp = ts.do(t, http.MethodPost, "/api/v1/runs/cancel", nil)
	assert.Equal(t, http.StatusOK, resp.StatusCode)
}

func TestStartBatchAndList(t *testing.T) {
	ts := newTestServer(t)

	resp := ts.do(t, http.MethodPost, "/api/v1/batches", map[string]interface{}{
		"name":         "nightly",
		"scenario_ids": []string{"a", "b"},
		"parallel":     true,
	})
	require.Equal(t, http.StatusCreated, resp.StatusCode)

	job := decode[core.BatchJob](t, resp)
	assert.Equal(t, core.RunStatusRunning, job.Status)
	require.Len(t, job.Scenarios, 2)
	assert.Equal(t, core.RunStatusRunning, job.Scenarios[0].Status)
	assert.Equal(t, core.RunStatusPending, job.Scenarios[1].Status)

	resp = ts.do(t, http.MethodGet, "/api/v1/batches", nil)
	require.Equal(t, http.StatusOK, resp.StatusCode)
	list := decode[map[string]json.RawMessage](t, resp)
	assert.NotNil(t, list["batches"])

	resp = ts.do(t, http.MethodGet, "/api/v1/batches/"+string(job.ID), nil)
	assert.Equal(t, http.StatusOK, resp.StatusCode)
}

func TestStartBatchEngineRejectionFinalizesFailed(t *testing.T) {
	ts := newTestServer(t)
	ts.eng.batchErr = core.ErrValidation(core.CodeInvalidBatch, "bad batch")

	resp := ts.do(t, http.MethodPost, "/api/v1/batches", map[string]interface{}{
		"name":         "bad",
		"scenario_ids": []string{"a"},
	})
	require.Equal(t, http.StatusUnprocessableEntity, resp.StatusCode)

	jobs := ts.agg.List()
	require.Len(t, jobs, 1)
	assert.Equal(t, core.RunStatusFailed, jobs[0].Status)
}

func TestStartBatchRejectsEmpty(t *testing.T) {
	ts := newTestServer(t)

	resp := ts.do(t, http.MethodPost, "/api/v1/batches", map[string]interface{}{
		"name": "empty",
	})
	assert.Equal(t, http.StatusUnprocessableEntity, resp.StatusCode)
}

func TestGetBatchNotFound(t *testing.T) {
	ts := newTestServer(t)
	resp := ts.do(t, http.MethodGet, "/api/v1/batches/missing", nil)
	assert.Equal(t, http.StatusNotFound, resp.StatusCode)
}

func TestListScenarios(t *testing.T) {
	ts := newTestServer(t)
	ts.eng.scenarios = []core.Scenario{{ID: "scn-1", Name: "Baseline"}}

	resp := ts.do(t, http.MethodGet, "/api/v1/scenarios", nil)
	require.Equal(t, http.StatusOK, resp.StatusCode)
}

func TestConfigEditSaveFlow(t *testing.T) {
	ts := newTestServer(t)

	// Edit.
	resp := ts.do(t, http.MethodPut, "/api/v1/config", map[string]map[string]interface{}{
		"workforce": {"headcount": 300},
	})
	require.Equal(t, http.StatusOK, resp.StatusCode)
	body := decode[configResponse](t, resp)
	assert.Equal(t, []string{"workforce"}, body.Dirty)

	// Dirty affordance.
	resp = ts.do(t, http.MethodGet, "/api/v1/config/dirty", nil)
	dirtyBody := decode[map[string]interface{}](t, resp)
	assert.Equal(t, true, dirtyBody["is_dirty"])

	// Save clears dirty.
	resp = ts.do(t, http.MethodPost, "/api/v1/config/save", nil)
	require.Equal(t, http.StatusOK, resp.StatusCode)
	assert.False(t, ts.trk.IsDirty())
}

func TestConfigSaveFailureKeepsDirty(t *testing.T) {
	ts := newTestServer(t)
	ts.eng.saveErr = fmt.Errorf("disk full")

	ts.do(t, http.MethodPut, "/api/v1/config", map[string]map[string]interface{}{
		"workforce": {"headcount": 300},
	})

	resp := ts.do(t, http.MethodPost, "/api/v1/config/save", nil)
	assert.Equal(t, http.StatusInternalServerError, resp.StatusCode)
	assert.True(t, ts.trk.IsDirty())
}

func TestNavigateCleanProceeds(t *testing.T) {
	ts := newTestServer(t)

	resp := ts.do(t, http.MethodPost, "/api/v1/navigate", map[string]string{"target": "results"})
	require.Equal(t, http.StatusOK, resp.StatusCode)
	body := decode[navigateResponse](t, resp)
	assert.True(t, body.Proceeded)
	assert.Equal(t, []string{"results"}, ts.navSeq)
}

func TestNavigateDirtyBlocksThenResolves(t *testing.T) {
	ts := newTestServer(t)

	ts.do(t, http.MethodPut, "/api/v1/config", map[string]map[string]interface{}{
		"workforce": {"headcount": 300},
	})

	// First attempt blocks with the dirty sections.
	resp := ts.do(t, http.MethodPost, "/api/v1/navigate", map[string]string{"target": "results"})
	require.Equal(t, http.StatusConflict, resp.StatusCode)
	body := decode[navigateResponse](t, resp)
	assert.True(t, body.Blocked)
	assert.Equal(t, []string{"workforce"}, body.Dirty)
	assert.Empty(t, ts.navSeq)

	// Discard resolution proceeds and drops the edit.
	resp = ts.do(t, http.MethodPost, "/api/v1/navigate", map[string]string{
		"target": "results", "resolution": "discard",
	})
	require.Equal(t, http.StatusOK, resp.StatusCode)
	assert.Equal(t, []string{"results"}, ts.navSeq)
	assert.False(t, ts.trk.IsDirty())
}

func TestNavigateSaveResolution(t *testing.T) {
	ts := newTestServer(t)

	ts.do(t, http.MethodPut, "/api/v1/config", map[string]map[string]interface{}{
		"workforce": {"headcount": 300},
	})

	resp := ts.do(t, http.MethodPost, "/api/v1/navigate", map[string]string{
		"target": "results", "resolution": "save",
	})
	require.Equal(t, http.StatusOK, resp.StatusCode)
	assert.Equal(t, []string{"results"}, ts.navSeq)
	assert.False(t, ts.trk.IsDirty())
	assert.Equal(t, 300, ts.trk.Saved()["workforce"]["headcount"])
}

func TestNavigateCancelResolutionStays(t *testing.T) {
	ts := newTestServer(t)

	ts.do(t, http.MethodPut, "/api/v1/config", map[string]map[string]interface{}{
		"workforce": {"headcount": 300},
	})

	resp := ts.do(t, http.MethodPost, "/api/v1/navigate", map[string]string{
		"target": "results", "resolution": "cancel",
	})
	require.Equal(t, http.StatusOK, resp.StatusCode)
	assert.Empty(t, ts.navSeq)
	assert.True(t, ts.trk.IsDirty())
}

func TestRunHistoryEndpoint(t *testing.T) {
	ts := newTestServer(t)

	resp := ts.do(t, http.MethodGet, "/api/v1/runs/history", nil)
	require.Equal(t, http.StatusOK, resp.StatusCode)
	body := decode[map[string]interface{}](t, resp)
	assert.Equal(t, float64(0), body["count"])
}
