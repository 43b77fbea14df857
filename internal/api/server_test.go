package api

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/btouchard/cookiejar/internal/clock"
	"github.com/btouchard/cookiejar/internal/engine"
	"github.com/btouchard/cookiejar/internal/gist"
	"github.com/btouchard/cookiejar/internal/run"
	"github.com/btouchard/cookiejar/internal/settings"
	"github.com/btouchard/cookiejar/internal/store"
	"github.com/btouchard/cookiejar/internal/trigger"
)

const testToken = "test-token"

type memKV struct {
	mu    sync.Mutex
	items map[string]json.RawMessage
}

func (m *memKV) GetItem(_ context.Context, key string) (json.RawMessage, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.items[key], nil
}

func (m *memKV) SetItem(_ context.Context, key string, value any) error {
	data, err := json.Marshal(value)
	if err != nil {
		return err
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	m.items[key] = data
	return nil
}

// gatedFlows blocks every flow until release is closed.
type gatedFlows struct {
	release chan struct{}
}

func (g *gatedFlows) Push(ctx context.Context) engine.Result { return g.wait(ctx) }
func (g *gatedFlows) Sync(ctx context.Context) engine.Result { return g.wait(ctx) }

func (g *gatedFlows) wait(ctx context.Context) engine.Result {
	select {
	case <-g.release:
		return engine.Result{Outcome: engine.OutcomeCompleted, DocumentID: "doc-1"}
	case <-ctx.Done():
		return engine.Result{Outcome: engine.OutcomeFailed, Err: ctx.Err()}
	}
}

type fakeEvents struct {
	got store.EventFilter
	err error
}

func (f *fakeEvents) ListEvents(_ context.Context, filter store.EventFilter) ([]store.EventRecord, error) {
	f.got = filter
	if f.err != nil {
		return nil, f.err
	}
	return []store.EventRecord{{ID: 1, RunID: "sync-1", Stage: "push_completed", Kind: "info"}}, nil
}

type fakeQueue struct {
	jobs    []gist.Job
	wake    time.Time
	drained int
}

func (f *fakeQueue) Jobs(context.Context) ([]gist.Job, error) { return f.jobs, nil }
func (f *fakeQueue) NextWakeUp() (time.Time, bool)           { return f.wake, !f.wake.IsZero() }
func (f *fakeQueue) ProcessQueue(context.Context) error {
	f.drained++
	f.jobs = nil
	f.wake = time.Time{}
	return nil
}

type fixedTriggers trigger.State

func (f fixedTriggers) State() trigger.State { return trigger.State(f) }

type harness struct {
	handler  http.Handler
	flows    *gatedFlows
	runs     *run.Manager
	settings *settings.Reconciler
	events   *fakeEvents
	queue    *fakeQueue
}

func newHarness(t *testing.T) *harness {
	t.Helper()
	h := &harness{
		flows:    &gatedFlows{release: make(chan struct{})},
		settings: settings.NewReconciler(&memKV{items: map[string]json.RawMessage{}}, nil, nil),
		events:   &fakeEvents{},
		queue:    &fakeQueue{},
	}
	h.runs = run.NewManager(h.flows, clock.Real(), 1, time.Minute)
	t.Cleanup(func() {
		ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		_ = h.runs.Shutdown(ctx)
	})
	h.handler = NewRouter(Deps{
		Runs:     h.runs,
		Settings: h.settings,
		Events:   h.events,
		Queue:    h.queue,
		Triggers: fixedTriggers{IntervalPeriod: 15 * time.Minute, ChangeListening: true},
		Token:    testToken,
		Version:  "test",
		MCP: http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
			w.WriteHeader(http.StatusTeapot)
		}),
		MCPPath: "/mcp",
	})
	return h
}

func (h *harness) do(t *testing.T, method, path, body string) *httptest.ResponseRecorder {
	t.Helper()
	var req *http.Request
	if body == "" {
		req = httptest.NewRequest(method, path, nil)
	} else {
		req = httptest.NewRequest(method, path, strings.NewReader(body))
		req.Header.Set("Content-Type", "application/json")
	}
	req.Header.Set("Authorization", "Bearer "+testToken)
	rec := httptest.NewRecorder()
	h.handler.ServeHTTP(rec, req)
	return rec
}

func decode[T any](t *testing.T, rec *httptest.ResponseRecorder) T {
	t.Helper()
	var out T
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &out), rec.Body.String())
	return out
}

func TestHealth_WhenUnauthenticated_Succeeds(t *testing.T) {
	t.Parallel()
	h := newHarness(t)

	rec := httptest.NewRecorder()
	h.handler.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/health", nil))

	assert.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, "nosniff", rec.Header().Get("X-Content-Type-Options"))
	body := decode[map[string]string](t, rec)
	assert.Equal(t, "ok", body["status"])
}

func TestBearerAuth_RejectsMissingAndWrongTokens(t *testing.T) {
	t.Parallel()
	h := newHarness(t)

	tests := []struct {
		name      string
		header    string
		challenge string
	}{
		{"missing", "", `Bearer realm="cookiejar"`},
		{"wrong scheme", "Basic " + testToken, `Bearer realm="cookiejar"`},
		{"wrong token", "Bearer nope", `Bearer error="invalid_token"`},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()
			req := httptest.NewRequest(http.MethodGet, "/v1/settings", nil)
			if tt.header != "" {
				req.Header.Set("Authorization", tt.header)
			}
			rec := httptest.NewRecorder()
			h.handler.ServeHTTP(rec, req)

			assert.Equal(t, http.StatusUnauthorized, rec.Code)
			assert.Equal(t, tt.challenge, rec.Header().Get("WWW-Authenticate"))
		})
	}
}

func TestBearerAuth_WhenServerTokenEmpty_RejectsEverything(t *testing.T) {
	t.Parallel()
	handler := BearerAuth("")(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		w.WriteHeader(http.StatusOK)
	}))

	req := httptest.NewRequest(http.MethodGet, "/", nil)
	req.Header.Set("Authorization", "Bearer ")
	rec := httptest.NewRecorder()
	handler.ServeHTTP(rec, req)

	assert.Equal(t, http.StatusUnauthorized, rec.Code)
}

func TestPush_StartsRunAndWaitReturnsResult(t *testing.T) {
	t.Parallel()
	h := newHarness(t)

	rec := h.do(t, http.MethodPost, "/v1/push", "")
	require.Equal(t, http.StatusAccepted, rec.Code)
	started := decode[run.Snapshot](t, rec)
	assert.Equal(t, run.KindPush, started.Kind)
	assert.Equal(t, "api", started.Source)

	close(h.flows.release)

	rec = h.do(t, http.MethodGet, "/v1/runs/"+started.ID+"?wait=5s", "")
	require.Equal(t, http.StatusOK, rec.Code)
	done := decode[run.Snapshot](t, rec)
	assert.Equal(t, run.StatusCompleted, done.Status)
	assert.Equal(t, "doc-1", done.DocumentID)
}

func TestPull_WhenRunLimitReached_ReturnsConflict(t *testing.T) {
	t.Parallel()
	h := newHarness(t)

	require.Equal(t, http.StatusAccepted, h.do(t, http.MethodPost, "/v1/pull", "").Code)

	rec := h.do(t, http.MethodPost, "/v1/push", "")
	assert.Equal(t, http.StatusConflict, rec.Code)
	assert.Equal(t, "busy", decode[map[string]string](t, rec)["code"])
}

func TestCancelRun(t *testing.T) {
	t.Parallel()
	h := newHarness(t)

	started := decode[run.Snapshot](t, h.do(t, http.MethodPost, "/v1/pull", ""))

	assert.Equal(t, http.StatusNoContent, h.do(t, http.MethodDelete, "/v1/runs/"+started.ID, "").Code)

	snap := decode[run.Snapshot](t, h.do(t, http.MethodGet, "/v1/runs/"+started.ID+"?wait=5s", ""))
	assert.Equal(t, run.StatusCancelled, snap.Status)

	assert.Equal(t, http.StatusConflict, h.do(t, http.MethodDelete, "/v1/runs/"+started.ID, "").Code)
}

func TestGetRun_Errors(t *testing.T) {
	t.Parallel()
	h := newHarness(t)

	assert.Equal(t, http.StatusNotFound, h.do(t, http.MethodGet, "/v1/runs/sync-missing", "").Code)
	assert.Equal(t, http.StatusBadRequest, h.do(t, http.MethodGet, "/v1/runs/sync-missing?wait=soon", "").Code)
}

func TestListRuns_FiltersByKind(t *testing.T) {
	t.Parallel()
	h := newHarness(t)
	close(h.flows.release)

	started := decode[run.Snapshot](t, h.do(t, http.MethodPost, "/v1/push", ""))
	_ = decode[run.Snapshot](t, h.do(t, http.MethodGet, "/v1/runs/"+started.ID+"?wait=5s", ""))

	body := decode[map[string][]run.Snapshot](t, h.do(t, http.MethodGet, "/v1/runs?kind=push", ""))
	require.Len(t, body["runs"], 1)
	assert.Equal(t, started.ID, body["runs"][0].ID)

	body = decode[map[string][]run.Snapshot](t, h.do(t, http.MethodGet, "/v1/runs?kind=pull", ""))
	assert.Empty(t, body["runs"])

	assert.Equal(t, http.StatusBadRequest, h.do(t, http.MethodGet, "/v1/runs?limit=-1", "").Code)
}

func TestSettings_PatchAndURLs(t *testing.T) {
	t.Parallel()
	h := newHarness(t)

	got := decode[settings.Settings](t, h.do(t, http.MethodGet, "/v1/settings", ""))
	assert.Equal(t, settings.Defaults(), got)

	rec := h.do(t, http.MethodPatch, "/v1/settings", `{"syncIntervalInMinutes": 30, "syncOnChange": false}`)
	require.Equal(t, http.StatusOK, rec.Code)
	got = decode[settings.Settings](t, rec)
	assert.Equal(t, 30, got.SyncIntervalMinutes)
	assert.False(t, got.SyncOnChange)
	assert.True(t, got.AutoSyncEnabled)

	rec = h.do(t, http.MethodPost, "/v1/settings/urls", `{"url": "Example.com"}`)
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, []string{"https://example.com/*"}, decode[settings.Settings](t, rec).SyncURLs)

	rec = h.do(t, http.MethodDelete, "/v1/settings/urls", `{"url": "https://example.com/*"}`)
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Empty(t, decode[settings.Settings](t, rec).SyncURLs)
}

func TestSettings_RejectsInvalidInput(t *testing.T) {
	t.Parallel()
	h := newHarness(t)

	tests := []struct {
		name, method, path, body string
	}{
		{"interval below minimum", http.MethodPatch, "/v1/settings", `{"syncIntervalInMinutes": 0}`},
		{"unknown field", http.MethodPatch, "/v1/settings", `{"bogus": true}`},
		{"malformed json", http.MethodPatch, "/v1/settings", `{`},
		{"invalid origin", http.MethodPost, "/v1/settings/urls", `{"url": "ftp://example.com"}`},
		{"empty removal", http.MethodDelete, "/v1/settings/urls", `{"url": ""}`},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			rec := h.do(t, tt.method, tt.path, tt.body)
			assert.Equal(t, http.StatusBadRequest, rec.Code, rec.Body.String())
		})
	}
	assert.Equal(t, settings.Defaults(), h.settings.Current())
}

func TestListEvents_PassesFilters(t *testing.T) {
	t.Parallel()
	h := newHarness(t)

	rec := h.do(t, http.MethodGet, "/v1/events?run_id=sync-1&stage=push_completed&limit=5&since=2026-05-04T10:00:00Z", "")
	require.Equal(t, http.StatusOK, rec.Code)

	body := decode[map[string][]store.EventRecord](t, rec)
	require.Len(t, body["events"], 1)
	assert.Equal(t, "sync-1", h.events.got.RunID)
	assert.Equal(t, "push_completed", h.events.got.Stage)
	assert.Equal(t, 5, h.events.got.Limit)
	assert.Equal(t, time.Date(2026, 5, 4, 10, 0, 0, 0, time.UTC), h.events.got.Since.UTC())
}

func TestListEvents_WhenStoreFails_Returns500(t *testing.T) {
	t.Parallel()
	h := newHarness(t)
	h.events.err = errors.New("disk gone")

	assert.Equal(t, http.StatusInternalServerError, h.do(t, http.MethodGet, "/v1/events", "").Code)
}

func TestQueue_OmitsBodiesAndDrains(t *testing.T) {
	t.Parallel()
	h := newHarness(t)
	wake := time.Date(2026, 5, 4, 10, 5, 0, 0, time.UTC)
	body := gist.NewBody("desc", map[string]string{"cookiejar_content.json": "sealed"})
	h.queue.jobs = []gist.Job{{ID: "job-1", Op: gist.OpUpdate, DocumentID: "doc-1", Attempts: 2, Body: &body}}
	h.queue.wake = wake

	rec := h.do(t, http.MethodGet, "/v1/queue", "")
	require.Equal(t, http.StatusOK, rec.Code)
	assert.NotContains(t, rec.Body.String(), "sealed")
	view := decode[queueView](t, rec)
	require.Len(t, view.Jobs, 1)
	assert.Equal(t, "job-1", view.Jobs[0].ID)
	assert.Equal(t, 2, view.Jobs[0].Attempts)
	assert.True(t, wake.Equal(view.NextWakeUp))

	rec = h.do(t, http.MethodPost, "/v1/queue/drain", "")
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, 1, h.queue.drained)
	assert.Empty(t, decode[queueView](t, rec).Jobs)
}

func TestTriggers_ReportsState(t *testing.T) {
	t.Parallel()
	h := newHarness(t)

	state := decode[trigger.State](t, h.do(t, http.MethodGet, "/v1/triggers", ""))
	assert.Equal(t, 15*time.Minute, state.IntervalPeriod)
	assert.True(t, state.ChangeListening)
}

func TestMCP_IsMountedBehindAuth(t *testing.T) {
	t.Parallel()
	h := newHarness(t)

	assert.Equal(t, http.StatusTeapot, h.do(t, http.MethodPost, "/mcp", "{}").Code)

	rec := httptest.NewRecorder()
	h.handler.ServeHTTP(rec, httptest.NewRequest(http.MethodPost, "/mcp", nil))
	assert.Equal(t, http.StatusUnauthorized, rec.Code)
}
