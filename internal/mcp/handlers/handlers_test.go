package handlers

import (
	"context"
	"encoding/json"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/mark3labs/mcp-go/mcp"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/btouchard/cookiejar/internal/clock"
	"github.com/btouchard/cookiejar/internal/engine"
	"github.com/btouchard/cookiejar/internal/gist"
	"github.com/btouchard/cookiejar/internal/run"
	"github.com/btouchard/cookiejar/internal/settings"
	"github.com/btouchard/cookiejar/internal/store"
)

func makeReq(args map[string]any) mcp.CallToolRequest {
	return mcp.CallToolRequest{
		Params: mcp.CallToolParams{
			Arguments: args,
		},
	}
}

func textOf(t *testing.T, result *mcp.CallToolResult) string {
	t.Helper()
	require.NotEmpty(t, result.Content)
	return result.Content[0].(mcp.TextContent).Text
}

type gatedFlows struct {
	release chan struct{}
	result  engine.Result
}

func (g *gatedFlows) Push(ctx context.Context) engine.Result { return g.wait(ctx) }
func (g *gatedFlows) Sync(ctx context.Context) engine.Result { return g.wait(ctx) }

func (g *gatedFlows) wait(ctx context.Context) engine.Result {
	select {
	case <-g.release:
		return g.result
	case <-ctx.Done():
		return engine.Result{Outcome: engine.OutcomeFailed, Err: ctx.Err()}
	}
}

func newTestRuns(t *testing.T, result engine.Result) (*run.Manager, *gatedFlows) {
	t.Helper()
	flows := &gatedFlows{release: make(chan struct{}), result: result}
	m := run.NewManager(flows, clock.Real(), 1, time.Minute)
	t.Cleanup(func() {
		ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		_ = m.Shutdown(ctx)
	})
	return m, flows
}

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

func newTestSettings() *settings.Reconciler {
	return settings.NewReconciler(&memKV{items: map[string]json.RawMessage{}}, nil, nil)
}

// --- Run tools ---

func TestPush_StartsRunAndReturnsID(t *testing.T) {
	t.Parallel()
	runs, _ := newTestRuns(t, engine.Result{Outcome: engine.OutcomeCompleted})

	result, err := Push(runs)(context.Background(), makeReq(nil))
	require.NoError(t, err)
	assert.False(t, result.IsError)

	text := textOf(t, result)
	assert.Contains(t, text, "Push started")
	assert.Contains(t, text, "sync-")

	snaps := runs.List(run.Filter{})
	require.Len(t, snaps, 1)
	assert.Equal(t, run.KindPush, snaps[0].Kind)
	assert.Equal(t, "mcp", snaps[0].Source)
}

func TestPull_WhenBusy_ReturnsToolError(t *testing.T) {
	t.Parallel()
	runs, _ := newTestRuns(t, engine.Result{Outcome: engine.OutcomeCompleted})

	_, err := Pull(runs)(context.Background(), makeReq(nil))
	require.NoError(t, err)

	result, err := Pull(runs)(context.Background(), makeReq(nil))
	require.NoError(t, err)
	assert.True(t, result.IsError)
	assert.Contains(t, textOf(t, result), "Try again")
}

func TestCheckRun_WhenMissingRunID_ReturnsError(t *testing.T) {
	t.Parallel()
	runs, _ := newTestRuns(t, engine.Result{})

	result, err := CheckRun(runs)(context.Background(), makeReq(map[string]any{}))
	require.NoError(t, err)
	assert.Contains(t, textOf(t, result), "run_id is required")
}

func TestCheckRun_WhenRunNotFound_ReturnsError(t *testing.T) {
	t.Parallel()
	runs, _ := newTestRuns(t, engine.Result{})

	result, err := CheckRun(runs)(context.Background(), makeReq(map[string]any{"run_id": "sync-nope"}))
	require.NoError(t, err)
	assert.True(t, result.IsError)
	assert.Contains(t, textOf(t, result), "not found")
}

func TestCheckRun_WhenRunning_ShowsProgress(t *testing.T) {
	t.Parallel()
	runs, _ := newTestRuns(t, engine.Result{})

	r, err := runs.Start(run.KindPush, "mcp", "")
	require.NoError(t, err)

	result, err := CheckRun(runs)(context.Background(), makeReq(map[string]any{"run_id": r.ID}))
	require.NoError(t, err)
	text := textOf(t, result)
	assert.Contains(t, text, "Status: running")
	assert.Contains(t, text, "Progress: 0%")
}

func TestCheckRun_LongPoll_ReturnsFinishedRunWithResult(t *testing.T) {
	t.Parallel()
	runs, flows := newTestRuns(t, engine.Result{
		Outcome:       engine.OutcomeCompleted,
		DocumentID:    "doc-9",
		Applied:       []string{"sid", "theme"},
		FailedCookies: []string{"bad"},
		DeniedOrigins: []string{"https://other.net/*"},
	})

	r, err := runs.Start(run.KindPull, "mcp", "")
	require.NoError(t, err)
	close(flows.release)

	result, err := CheckRun(runs)(context.Background(), makeReq(map[string]any{
		"run_id":       r.ID,
		"wait_seconds": float64(5),
	}))
	require.NoError(t, err)

	text := textOf(t, result)
	assert.Contains(t, text, "Status: completed")
	assert.Contains(t, text, "Gist: doc-9")
	assert.Contains(t, text, "Applied: 2 cookies")
	assert.Contains(t, text, "Failed: bad")
	assert.Contains(t, text, "Permission denied: https://other.net/*")
}

// --- Settings tools ---

func TestGetSettings_ShowsDefaults(t *testing.T) {
	t.Parallel()

	result, err := GetSettings(newTestSettings())(context.Background(), makeReq(nil))
	require.NoError(t, err)

	text := textOf(t, result)
	assert.Contains(t, text, "Auto sync: on")
	assert.Contains(t, text, "Interval: 15 min")
	assert.Contains(t, text, "Gist: none yet")
	assert.Contains(t, text, "Last sync: never")
	assert.Contains(t, text, "Sync URLs: none")
}

func TestUpdateSettings_AppliesOnlyGivenFields(t *testing.T) {
	t.Parallel()
	s := newTestSettings()

	result, err := UpdateSettings(s)(context.Background(), makeReq(map[string]any{
		"interval_minutes": float64(45),
		"sync_on_change":   false,
	}))
	require.NoError(t, err)
	assert.False(t, result.IsError)

	cur := s.Current()
	assert.Equal(t, 45, cur.SyncIntervalMinutes)
	assert.False(t, cur.SyncOnChange)
	assert.True(t, cur.AutoSyncEnabled)
	assert.Contains(t, textOf(t, result), "Interval: 45 min")
}

func TestUpdateSettings_Errors(t *testing.T) {
	t.Parallel()

	tests := []struct {
		name string
		args map[string]any
		want string
	}{
		{"empty patch", map[string]any{}, "nothing to update"},
		{"interval too short", map[string]any{"interval_minutes": float64(0)}, "at least 1 minute"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()
			result, err := UpdateSettings(newTestSettings())(context.Background(), makeReq(tt.args))
			require.NoError(t, err)
			assert.True(t, result.IsError)
			assert.Contains(t, textOf(t, result), tt.want)
		})
	}
}

func TestSyncURLTools_AddThenRemove(t *testing.T) {
	t.Parallel()
	s := newTestSettings()

	result, err := AddSyncURL(s)(context.Background(), makeReq(map[string]any{"url": "example.com"}))
	require.NoError(t, err)
	assert.Contains(t, textOf(t, result), "https://example.com/*")
	assert.Equal(t, []string{"https://example.com/*"}, s.Current().SyncURLs)

	result, err = RemoveSyncURL(s)(context.Background(), makeReq(map[string]any{"url": "example.com"}))
	require.NoError(t, err)
	assert.Contains(t, textOf(t, result), "Sync URLs: none")
	assert.Empty(t, s.Current().SyncURLs)
}

func TestAddSyncURL_RejectsInvalidOrigin(t *testing.T) {
	t.Parallel()

	result, err := AddSyncURL(newTestSettings())(context.Background(), makeReq(map[string]any{"url": "ftp://example.com"}))
	require.NoError(t, err)
	assert.True(t, result.IsError)

	result, err = RemoveSyncURL(newTestSettings())(context.Background(), makeReq(map[string]any{}))
	require.NoError(t, err)
	assert.Contains(t, textOf(t, result), "url is required")
}

// --- History and queue tools ---

type fakeEvents struct {
	records []store.EventRecord
	got     store.EventFilter
	err     error
}

func (f *fakeEvents) ListEvents(_ context.Context, filter store.EventFilter) ([]store.EventRecord, error) {
	f.got = filter
	return f.records, f.err
}

func TestSyncHistory_FormatsEvents(t *testing.T) {
	t.Parallel()
	events := &fakeEvents{records: []store.EventRecord{{
		ID:        7,
		RunID:     "sync-1",
		Stage:     "push_error",
		Kind:      "error",
		Message:   "Encryption failed",
		Error:     "bad key",
		CreatedAt: time.Date(2026, 5, 4, 10, 0, 0, 0, time.UTC),
	}}}

	result, err := SyncHistory(events)(context.Background(), makeReq(map[string]any{
		"run_id": "sync-1",
		"limit":  float64(3),
	}))
	require.NoError(t, err)

	text := textOf(t, result)
	assert.Contains(t, text, "[2026-05-04T10:00:00Z] error push_error (sync-1): Encryption failed | error: bad key")
	assert.Equal(t, "sync-1", events.got.RunID)
	assert.Equal(t, 3, events.got.Limit)
}

func TestSyncHistory_Errors(t *testing.T) {
	t.Parallel()

	result, err := SyncHistory(&fakeEvents{})(context.Background(), makeReq(map[string]any{"since": "yesterday"}))
	require.NoError(t, err)
	assert.True(t, result.IsError)

	result, err = SyncHistory(&fakeEvents{err: errors.New("disk")})(context.Background(), makeReq(nil))
	require.NoError(t, err)
	assert.True(t, result.IsError)

	result, err = SyncHistory(&fakeEvents{})(context.Background(), makeReq(nil))
	require.NoError(t, err)
	assert.Contains(t, textOf(t, result), "No sync events")
}

type fakeQueue struct {
	jobs []gist.Job
	wake time.Time
}

func (f fakeQueue) Jobs(context.Context) ([]gist.Job, error) { return f.jobs, nil }
func (f fakeQueue) NextWakeUp() (time.Time, bool)           { return f.wake, !f.wake.IsZero() }

func TestQueueStatus(t *testing.T) {
	t.Parallel()
	next := time.Date(2026, 5, 4, 10, 2, 5, 0, time.UTC)

	result, err := QueueStatus(fakeQueue{})(context.Background(), makeReq(nil))
	require.NoError(t, err)
	assert.Contains(t, textOf(t, result), "No queued Gist writes")

	result, err = QueueStatus(fakeQueue{
		jobs: []gist.Job{{ID: "job-1", Op: gist.OpUpdate, DocumentID: "doc-1", Attempts: 1, NextAttemptAt: next}},
		wake: next,
	})(context.Background(), makeReq(nil))
	require.NoError(t, err)

	text := textOf(t, result)
	assert.Contains(t, text, "- job-1 update gist doc-1 | attempts: 1 | next attempt: 2026-05-04T10:02:05Z")
	assert.Contains(t, text, "Next wake-up: 2026-05-04T10:02:05Z")
}
