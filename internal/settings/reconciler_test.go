package settings

import (
	"context"
	"encoding/json"
	"errors"
	"sync"
	"testing"

	"github.com/btouchard/cookiejar/internal/notify"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type memKV struct {
	mu      sync.Mutex
	items   map[string]json.RawMessage
	failSet error
}

func newMemKV() *memKV {
	return &memKV{items: make(map[string]json.RawMessage)}
}

func (m *memKV) GetItem(_ context.Context, key string) (json.RawMessage, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.items[key], nil
}

func (m *memKV) SetItem(_ context.Context, key string, value any) error {
	if m.failSet != nil {
		return m.failSet
	}
	data, err := json.Marshal(value)
	if err != nil {
		return err
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	m.items[key] = data
	return nil
}

type countByOrigin map[string]int

func (c countByOrigin) CountForOrigin(_ context.Context, origin string) (int, error) {
	return c[origin], nil
}

type events struct {
	mu  sync.Mutex
	got []notify.Event
}

func (e *events) Notify(ev notify.Event) {
	e.mu.Lock()
	e.got = append(e.got, ev)
	e.mu.Unlock()
}

func (e *events) last() notify.Event {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.got[len(e.got)-1]
}

func TestReconciler_Load_WhenNothingPersisted_ReturnsNil(t *testing.T) {
	t.Parallel()
	r := NewReconciler(newMemKV(), nil, nil)

	s, err := r.Load(context.Background())
	require.NoError(t, err)
	assert.Nil(t, s)
	assert.Equal(t, Defaults(), r.Current())
}

func TestReconciler_Load_FillsMissingFieldsFromDefaults(t *testing.T) {
	t.Parallel()
	kv := newMemKV()
	kv.items[StorageKey] = json.RawMessage(`{"gistId":"doc-1","syncOnChange":false}`)
	r := NewReconciler(kv, nil, nil)

	s, err := r.Load(context.Background())
	require.NoError(t, err)
	require.NotNil(t, s)
	assert.Equal(t, "doc-1", s.RemoteDocumentID)
	assert.False(t, s.SyncOnChange)
	assert.True(t, s.AutoSyncEnabled)
	assert.Equal(t, 15, s.SyncIntervalMinutes)
	assert.Equal(t, []string{}, s.SyncURLs)
}

func TestReconciler_Update_FillsOmittedFieldsFromCurrent(t *testing.T) {
	t.Parallel()
	kv := newMemKV()
	r := NewReconciler(kv, nil, nil)
	ctx := context.Background()

	_, err := r.Update(ctx, Patch{SyncIntervalMinutes: Ptr(30), SyncURLs: &[]string{"https://a.com/*"}})
	require.NoError(t, err)
	s, err := r.Update(ctx, Patch{SyncOnChange: Ptr(false)})
	require.NoError(t, err)

	assert.True(t, s.AutoSyncEnabled)
	assert.Equal(t, 30, s.SyncIntervalMinutes)
	assert.False(t, s.SyncOnChange)
	assert.Equal(t, []string{"https://a.com/*"}, s.SyncURLs)

	persisted, err := r.Persisted(ctx)
	require.NoError(t, err)
	require.NotNil(t, persisted)
	assert.Equal(t, s, *persisted)
}

func TestReconciler_Update_RejectsIntervalBelowOneMinute(t *testing.T) {
	t.Parallel()
	kv := newMemKV()
	r := NewReconciler(kv, nil, nil)

	_, err := r.Update(context.Background(), Patch{SyncIntervalMinutes: Ptr(0)})
	assert.ErrorIs(t, err, ErrInvalid)
	assert.Empty(t, kv.items)
}

func TestReconciler_Update_WhenPersistFails_DoesNotBroadcast(t *testing.T) {
	t.Parallel()
	kv := newMemKV()
	kv.failSet = errors.New("disk full")
	r := NewReconciler(kv, nil, nil)
	called := false
	r.Subscribe(func(Settings) { called = true })

	_, err := r.Update(context.Background(), Patch{SyncOnChange: Ptr(false)})
	assert.ErrorContains(t, err, "disk full")
	assert.False(t, called)
	assert.True(t, r.Current().SyncOnChange)
}

func TestReconciler_Subscribe_ReceivesPersistedSettingsInOrder(t *testing.T) {
	t.Parallel()
	kv := newMemKV()
	r := NewReconciler(kv, nil, nil)
	ctx := context.Background()

	var seen []int
	r.Subscribe(func(s Settings) {
		persisted, err := r.Persisted(ctx)
		require.NoError(t, err)
		assert.Equal(t, s, *persisted, "broadcast matches persisted state")
		seen = append(seen, s.SyncIntervalMinutes)
	})

	for _, n := range []int{5, 10, 20} {
		_, err := r.Update(ctx, Patch{SyncIntervalMinutes: Ptr(n)})
		require.NoError(t, err)
	}
	assert.Equal(t, []int{5, 10, 20}, seen)
}

func TestReconciler_Subscribe_CancelStopsDelivery(t *testing.T) {
	t.Parallel()
	r := NewReconciler(newMemKV(), nil, nil)
	count := 0
	cancel := r.Subscribe(func(Settings) { count++ })

	_, _ = r.Update(context.Background(), Patch{})
	cancel()
	_, _ = r.Update(context.Background(), Patch{})

	assert.Equal(t, 1, count)
}

func TestReconciler_AddSyncURL_IsIdempotent(t *testing.T) {
	t.Parallel()
	ev := &events{}
	r := NewReconciler(newMemKV(), ev, countByOrigin{"https://example.com/*": 3})
	ctx := context.Background()

	_, err := r.AddSyncURL(ctx, "example.com")
	require.NoError(t, err)
	s, err := r.AddSyncURL(ctx, "https://example.com/login")
	require.NoError(t, err)

	assert.Equal(t, []string{"https://example.com/*"}, s.SyncURLs)
	last := ev.last()
	assert.Equal(t, notify.StageSettingsUpdatingCompleted, last.Stage)
	assert.Equal(t, "Added new sync URL: https://example.com/* with 3 cookies associated.", last.Message)
}

func TestReconciler_AddSyncURL_RejectsInvalidOrigin(t *testing.T) {
	t.Parallel()
	r := NewReconciler(newMemKV(), nil, nil)

	_, err := r.AddSyncURL(context.Background(), "ftp://example.com")
	assert.Error(t, err)
}

func TestReconciler_RemoveSyncURL_AbsentOriginStillNotifies(t *testing.T) {
	t.Parallel()
	ev := &events{}
	r := NewReconciler(newMemKV(), ev, nil)
	ctx := context.Background()

	_, err := r.AddSyncURL(ctx, "https://a.com")
	require.NoError(t, err)

	s, err := r.RemoveSyncURL(ctx, "b.com")
	require.NoError(t, err)
	assert.Equal(t, []string{"https://a.com/*"}, s.SyncURLs)
	assert.Equal(t, "Removed sync URL: https://b.com/* with 0 cookies associated.", ev.last().Message)

	s, err = r.RemoveSyncURL(ctx, "a.com")
	require.NoError(t, err)
	assert.Empty(t, s.SyncURLs)
}

func TestReconciler_RemoveSyncURL_MatchesRawEntries(t *testing.T) {
	t.Parallel()
	r := NewReconciler(newMemKV(), nil, nil)
	ctx := context.Background()
	_, err := r.Update(ctx, Patch{SyncURLs: &[]string{"*://*.legacy.org", "https://keep.com/*"}})
	require.NoError(t, err)

	s, err := r.RemoveSyncURL(ctx, "*://*.legacy.org")
	require.NoError(t, err)
	assert.Equal(t, []string{"https://keep.com/*"}, s.SyncURLs)
}

func TestReconciler_ConcurrentAdds_LoseNothing(t *testing.T) {
	t.Parallel()
	r := NewReconciler(newMemKV(), nil, nil)
	ctx := context.Background()

	hosts := []string{"a.com", "b.com", "c.com", "d.com", "e.com", "f.com"}
	var wg sync.WaitGroup
	for _, h := range hosts {
		wg.Add(1)
		go func() {
			defer wg.Done()
			_, err := r.AddSyncURL(ctx, h)
			assert.NoError(t, err)
		}()
	}
	wg.Wait()

	assert.Len(t, r.Current().SyncURLs, len(hosts))
}

func TestPatch_Apply_DedupesURLs(t *testing.T) {
	t.Parallel()
	s := Patch{SyncURLs: &[]string{"a", "b", "a", "", "c"}}.apply(Defaults())
	assert.Equal(t, []string{"a", "b", "c"}, s.SyncURLs)
}

func TestSettings_ChangeTriggerActive(t *testing.T) {
	t.Parallel()
	s := Defaults()
	assert.True(t, s.ChangeTriggerActive())
	s.AutoSyncEnabled = false
	assert.False(t, s.ChangeTriggerActive(), "sync on change requires auto sync")
}
