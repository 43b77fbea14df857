package run

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/btouchard/cookiejar/internal/engine"
	"github.com/btouchard/cookiejar/internal/notify"
)

// mockFlows emits one progress event and returns result after delay.
type mockFlows struct {
	delay  time.Duration
	result engine.Result
	events notify.Notifier
	panics bool
}

func (m *mockFlows) Push(ctx context.Context) engine.Result {
	return m.exec(ctx, notify.StagePushSending)
}

func (m *mockFlows) Sync(ctx context.Context) engine.Result {
	return m.exec(ctx, notify.StagePullDownloading)
}

func (m *mockFlows) exec(ctx context.Context, stage notify.Stage) engine.Result {
	if m.panics {
		panic("boom")
	}
	runID, _ := notify.RunFrom(ctx)
	if m.events != nil {
		m.events.Notify(notify.Event{RunID: runID, Stage: stage, Kind: notify.KindProgress, Message: "working", Progress: 40})
	}
	select {
	case <-time.After(m.delay):
	case <-ctx.Done():
		return engine.Result{Outcome: engine.OutcomeFailed, Err: ctx.Err()}
	}
	return m.result
}

func newTestManager(flows *mockFlows, maxConcurrent int) *Manager {
	m := NewManager(flows, nil, maxConcurrent, time.Minute)
	flows.events = m
	return m
}

func waitDone(t *testing.T, r *Run) {
	t.Helper()
	select {
	case <-r.Done():
	case <-time.After(5 * time.Second):
		t.Fatal("run did not finish in time")
	}
}

func TestManager_StartAndComplete(t *testing.T) {
	t.Parallel()

	flows := &mockFlows{delay: 10 * time.Millisecond, result: engine.Result{Outcome: engine.OutcomeCompleted, Stage: notify.StagePushCompleted, DocumentID: "doc-1"}}
	m := newTestManager(flows, 2)

	r, err := m.Start(KindPush, "cli", "")
	require.NoError(t, err)
	assert.Regexp(t, `^sync-[0-9a-f]{8}$`, r.ID)
	waitDone(t, r)

	snap := r.Snapshot()
	assert.Equal(t, StatusCompleted, snap.Status)
	assert.Equal(t, "doc-1", snap.DocumentID)
	assert.Equal(t, notify.StagePushSending, snap.Stage)
	assert.Equal(t, 40, snap.Progress)
	require.Len(t, snap.Events, 1)
	assert.False(t, snap.CompletedAt.IsZero())
}

func TestManager_Outcomes_MapToStatus(t *testing.T) {
	t.Parallel()

	tests := []struct {
		outcome engine.Outcome
		want    Status
	}{
		{engine.OutcomeCompleted, StatusCompleted},
		{engine.OutcomeQueued, StatusQueued},
		{engine.OutcomeRateLimited, StatusRateLimited},
		{engine.OutcomeFailed, StatusFailed},
	}
	for _, tt := range tests {
		t.Run(string(tt.outcome), func(t *testing.T) {
			t.Parallel()
			m := newTestManager(&mockFlows{result: engine.Result{Outcome: tt.outcome}}, 2)
			r, err := m.Start(KindPull, "api", "")
			require.NoError(t, err)
			waitDone(t, r)
			assert.Equal(t, tt.want, r.Snapshot().Status)
		})
	}
}

func TestManager_StartAndFail_RecordsError(t *testing.T) {
	t.Parallel()

	flows := &mockFlows{result: engine.Result{Outcome: engine.OutcomeFailed, Err: errors.New("decryption failed")}}
	m := newTestManager(flows, 2)

	r, err := m.Start(KindPull, "mcp", "session-1")
	require.NoError(t, err)
	waitDone(t, r)

	snap := r.Snapshot()
	assert.Equal(t, StatusFailed, snap.Status)
	assert.Contains(t, snap.Error, "decryption failed")
}

func TestManager_Start_WhenFlowPanics_MarksFailed(t *testing.T) {
	t.Parallel()

	m := newTestManager(&mockFlows{panics: true}, 2)

	r, err := m.Start(KindPush, "cli", "")
	require.NoError(t, err)
	waitDone(t, r)

	assert.Equal(t, StatusFailed, r.Snapshot().Status)
	assert.Contains(t, r.Snapshot().Error, "internal panic")
}

func TestManager_Start_RejectsUnknownKind(t *testing.T) {
	t.Parallel()

	m := newTestManager(&mockFlows{}, 2)

	_, err := m.Start("merge", "cli", "")
	require.Error(t, err)
}

func TestManager_Cancel(t *testing.T) {
	t.Parallel()

	m := newTestManager(&mockFlows{delay: 10 * time.Second}, 2)

	r, err := m.Start(KindPush, "cli", "")
	require.NoError(t, err)
	require.NoError(t, m.Cancel(r.ID))
	waitDone(t, r)

	assert.Equal(t, StatusCancelled, r.Snapshot().Status)
}

func TestManager_Cancel_ErrorOnFinishedRun(t *testing.T) {
	t.Parallel()

	m := newTestManager(&mockFlows{result: engine.Result{Outcome: engine.OutcomeCompleted}}, 2)
	r, err := m.Start(KindPush, "cli", "")
	require.NoError(t, err)
	waitDone(t, r)

	err = m.Cancel(r.ID)
	assert.ErrorIs(t, err, ErrFinished)
}

func TestManager_Get_ReturnsErrorForUnknown(t *testing.T) {
	t.Parallel()

	m := newTestManager(&mockFlows{}, 2)

	_, err := m.Get("sync-00000000")
	assert.ErrorIs(t, err, ErrNotFound)
}

func TestManager_Start_WhenLimitReached_ReturnsBusy(t *testing.T) {
	t.Parallel()

	m := newTestManager(&mockFlows{delay: 10 * time.Second}, 1)

	r1, err := m.Start(KindPush, "interval", "")
	require.NoError(t, err)

	_, err = m.Start(KindPush, "change", "")
	require.ErrorIs(t, err, ErrBusy)
	assert.Contains(t, err.Error(), "1/1")

	_ = m.Cancel(r1.ID)
	waitDone(t, r1)

	r2, err := m.Start(KindPull, "cli", "")
	require.NoError(t, err)
	_ = m.Cancel(r2.ID)
	waitDone(t, r2)
}

func TestManager_Wait_ReturnsWhenRunFinishes(t *testing.T) {
	t.Parallel()

	m := newTestManager(&mockFlows{delay: 20 * time.Millisecond, result: engine.Result{Outcome: engine.OutcomeCompleted}}, 2)
	r, err := m.Start(KindPush, "mcp", "")
	require.NoError(t, err)

	snap, err := m.Wait(context.Background(), r.ID, 5*time.Second)

	require.NoError(t, err)
	assert.Equal(t, StatusCompleted, snap.Status)
}

func TestManager_Wait_ReturnsSnapshotOnTimeout(t *testing.T) {
	t.Parallel()

	m := newTestManager(&mockFlows{delay: 10 * time.Second}, 2)
	r, err := m.Start(KindPush, "mcp", "")
	require.NoError(t, err)

	snap, err := m.Wait(context.Background(), r.ID, 20*time.Millisecond)

	require.NoError(t, err)
	assert.Equal(t, StatusRunning, snap.Status)
	_ = m.Cancel(r.ID)
	waitDone(t, r)
}

func TestManager_List_FiltersAndLimits(t *testing.T) {
	t.Parallel()

	m := newTestManager(&mockFlows{result: engine.Result{Outcome: engine.OutcomeCompleted}}, 5)
	for _, kind := range []Kind{KindPush, KindPull, KindPush} {
		r, err := m.Start(kind, "cli", "")
		require.NoError(t, err)
		waitDone(t, r)
	}

	assert.Len(t, m.List(Filter{}), 3)
	assert.Len(t, m.List(Filter{Kind: KindPush}), 2)
	assert.Len(t, m.List(Filter{Status: StatusFailed}), 0)
	limited := m.List(Filter{Limit: 1})
	require.Len(t, limited, 1)
	assert.Nil(t, limited[0].Events)
}

func TestManager_Notify_IgnoresUnknownRuns(t *testing.T) {
	t.Parallel()

	m := newTestManager(&mockFlows{}, 2)

	assert.NotPanics(t, func() {
		m.Notify(notify.Event{RunID: "sync-unknown", Stage: notify.StagePushSending})
		m.Notify(notify.Event{Stage: notify.StagePushSending})
	})
}

func TestManager_Evicts_OldestFinishedRuns(t *testing.T) {
	t.Parallel()

	m := newTestManager(&mockFlows{result: engine.Result{Outcome: engine.OutcomeCompleted}}, 2)
	m.retain = 2
	var ids []string
	for range 4 {
		r, err := m.Start(KindPush, "cli", "")
		require.NoError(t, err)
		waitDone(t, r)
		ids = append(ids, r.ID)
		time.Sleep(2 * time.Millisecond)
	}

	assert.LessOrEqual(t, len(m.List(Filter{})), 3)
	_, err := m.Get(ids[3])
	assert.NoError(t, err)
}

func TestManager_Shutdown_CancelsRuns(t *testing.T) {
	t.Parallel()

	m := newTestManager(&mockFlows{delay: 10 * time.Second}, 2)
	r, err := m.Start(KindPush, "cli", "")
	require.NoError(t, err)

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	require.NoError(t, m.Shutdown(ctx))

	assert.Equal(t, StatusCancelled, r.Snapshot().Status)
}

func TestSnapshot_FormatDuration(t *testing.T) {
	t.Parallel()

	start := time.Date(2026, 5, 4, 10, 0, 0, 0, time.UTC)
	snap := Snapshot{StartedAt: start, CompletedAt: start.Add(75 * time.Second)}
	assert.Equal(t, "1m 15s", snap.FormatDuration(start))
	assert.Equal(t, "< 1s", Snapshot{}.FormatDuration(start))
	assert.Equal(t, "30s", Snapshot{StartedAt: start}.FormatDuration(start.Add(30*time.Second)))
}
