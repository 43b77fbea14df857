package settings

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"slices"
	"sync"

	"github.com/btouchard/cookiejar/internal/notify"
	"github.com/btouchard/cookiejar/internal/pattern"
)

// KV is the durable key-value slice the reconciler needs.
type KV interface {
	GetItem(ctx context.Context, key string) (json.RawMessage, error)
	SetItem(ctx context.Context, key string, value any) error
}

// CookieCounter reports how many local cookies belong to an origin.
type CookieCounter interface {
	CountForOrigin(ctx context.Context, origin string) (int, error)
}

// Reconciler is the only writer of the settings document. Each update is
// persisted and then broadcast to subscribers before the next update
// starts, so subscribers never observe a state that was not persisted.
type Reconciler struct {
	kv      KV
	events  notify.Notifier
	counter CookieCounter

	// updateMu orders persist+broadcast cycles.
	updateMu sync.Mutex

	mu      sync.RWMutex
	current *Settings

	subsMu sync.RWMutex
	subs   map[int]func(Settings)
	nextID int
}

// NewReconciler creates a Reconciler. events and counter may be nil.
func NewReconciler(kv KV, events notify.Notifier, counter CookieCounter) *Reconciler {
	if events == nil {
		events = notify.NewHub()
	}
	return &Reconciler{
		kv:      kv,
		events:  events,
		counter: counter,
		subs:    make(map[int]func(Settings)),
	}
}

// Load reads the persisted settings and makes them current. It returns
// nil when nothing has been persisted yet.
func (r *Reconciler) Load(ctx context.Context) (*Settings, error) {
	r.events.Notify(notify.Event{Stage: notify.StageSettingsLoading, Kind: notify.KindProgress, Message: "Loading settings"})

	s, err := r.read(ctx)
	if err != nil {
		return nil, err
	}
	r.mu.Lock()
	r.current = s
	r.mu.Unlock()

	r.events.Notify(notify.Event{Stage: notify.StageSettingsLoadingCompleted, Kind: notify.KindProgress, Message: "Settings loaded"})
	if s == nil {
		return nil, nil
	}
	out := s.Clone()
	return &out, nil
}

// Persisted returns the settings document as stored, nil when absent.
func (r *Reconciler) Persisted(ctx context.Context) (*Settings, error) {
	return r.read(ctx)
}

func (r *Reconciler) read(ctx context.Context) (*Settings, error) {
	raw, err := r.kv.GetItem(ctx, StorageKey)
	if err != nil {
		return nil, fmt.Errorf("loading settings: %w", err)
	}
	if raw == nil {
		return nil, nil
	}
	s := Defaults()
	if err := json.Unmarshal(raw, &s); err != nil {
		slog.Warn("ignoring unreadable settings document", "error", err)
		return nil, nil
	}
	if s.SyncURLs == nil {
		s.SyncURLs = []string{}
	}
	return &s, nil
}

// Current returns the in-memory settings, filled from Defaults when
// nothing was loaded. Callers get a copy.
func (r *Reconciler) Current() Settings {
	r.mu.RLock()
	defer r.mu.RUnlock()
	if r.current == nil {
		return Defaults()
	}
	return r.current.Clone()
}

// Update applies a partial update over the current settings, persists the
// result and broadcasts it.
func (r *Reconciler) Update(ctx context.Context, p Patch) (Settings, error) {
	s, err := r.modify(ctx, func(Settings) (Patch, error) { return p, nil })
	if err != nil {
		return Settings{}, err
	}
	r.events.Notify(notify.Event{Stage: notify.StageSettingsUpdatingCompleted, Kind: notify.KindInfo, Message: "Settings updated successfully"})
	return s, nil
}

// Modify builds a patch from the current settings and applies it in one
// read-modify-write cycle.
func (r *Reconciler) Modify(ctx context.Context, fn func(current Settings) (Patch, error)) (Settings, error) {
	s, err := r.modify(ctx, fn)
	if err != nil {
		return Settings{}, err
	}
	r.events.Notify(notify.Event{Stage: notify.StageSettingsUpdatingCompleted, Kind: notify.KindInfo, Message: "Settings updated successfully"})
	return s, nil
}

// modify runs a read-modify-write cycle under updateMu.
func (r *Reconciler) modify(ctx context.Context, fn func(current Settings) (Patch, error)) (Settings, error) {
	r.updateMu.Lock()
	defer r.updateMu.Unlock()

	p, err := fn(r.Current())
	if err != nil {
		return Settings{}, err
	}
	if err := p.validate(); err != nil {
		return Settings{}, err
	}

	r.events.Notify(notify.Event{Stage: notify.StageSettingsUpdating, Kind: notify.KindProgress, Message: "Updating settings"})
	next := p.apply(r.Current())
	if err := r.kv.SetItem(ctx, StorageKey, next); err != nil {
		return Settings{}, fmt.Errorf("saving settings: %w", err)
	}

	r.mu.Lock()
	stored := next.Clone()
	r.current = &stored
	r.mu.Unlock()

	slog.Debug("settings updated",
		"auto_sync", next.AutoSyncEnabled,
		"interval_minutes", next.SyncIntervalMinutes,
		"sync_on_change", next.SyncOnChange,
		"sync_urls", len(next.SyncURLs),
		"document_id", next.RemoteDocumentID)

	r.broadcast(next)
	return next.Clone(), nil
}

// AddSyncURL adds a normalized origin to SyncURLs. Adding an origin that
// is already present leaves the list unchanged.
func (r *Reconciler) AddSyncURL(ctx context.Context, origin string) (Settings, error) {
	normalized, err := pattern.Normalize(origin)
	if err != nil {
		return Settings{}, fmt.Errorf("adding sync URL %q: %w", origin, err)
	}
	s, err := r.modify(ctx, func(cur Settings) (Patch, error) {
		urls := slices.Clone(cur.SyncURLs)
		if !slices.Contains(urls, normalized) {
			urls = append(urls, normalized)
		}
		return Patch{SyncURLs: &urls}, nil
	})
	if err != nil {
		return Settings{}, err
	}
	r.events.Notify(notify.Event{
		Stage:   notify.StageSettingsUpdatingCompleted,
		Kind:    notify.KindInfo,
		Message: fmt.Sprintf("Added new sync URL: %s with %d cookies associated.", normalized, r.count(ctx, normalized)),
		URLs:    []string{normalized},
	})
	return s, nil
}

// RemoveSyncURL removes an origin from SyncURLs. Removing an absent
// origin leaves the list unchanged.
func (r *Reconciler) RemoveSyncURL(ctx context.Context, origin string) (Settings, error) {
	target := origin
	if normalized, err := pattern.Normalize(origin); err == nil {
		target = normalized
	}
	s, err := r.modify(ctx, func(cur Settings) (Patch, error) {
		urls := slices.DeleteFunc(slices.Clone(cur.SyncURLs), func(u string) bool {
			return u == target || u == origin
		})
		return Patch{SyncURLs: &urls}, nil
	})
	if err != nil {
		return Settings{}, err
	}
	r.events.Notify(notify.Event{
		Stage:   notify.StageSettingsUpdatingCompleted,
		Kind:    notify.KindInfo,
		Message: fmt.Sprintf("Removed sync URL: %s with %d cookies associated.", target, r.count(ctx, target)),
		URLs:    []string{target},
	})
	return s, nil
}

func (r *Reconciler) count(ctx context.Context, origin string) int {
	if r.counter == nil {
		return 0
	}
	n, err := r.counter.CountForOrigin(ctx, origin)
	if err != nil {
		slog.Warn("failed to count cookies for origin", "origin", origin, "error", err)
		return 0
	}
	return n
}

// Subscribe registers fn to receive every settings value after it is
// persisted. fn runs synchronously inside Update and must not call
// Update. The returned function unsubscribes.
func (r *Reconciler) Subscribe(fn func(Settings)) (cancel func()) {
	r.subsMu.Lock()
	id := r.nextID
	r.nextID++
	r.subs[id] = fn
	r.subsMu.Unlock()

	return func() {
		r.subsMu.Lock()
		delete(r.subs, id)
		r.subsMu.Unlock()
	}
}

func (r *Reconciler) broadcast(s Settings) {
	r.subsMu.RLock()
	ids := make([]int, 0, len(r.subs))
	for id := range r.subs {
		ids = append(ids, id)
	}
	slices.Sort(ids)
	fns := make([]func(Settings), 0, len(ids))
	for _, id := range ids {
		fns = append(fns, r.subs[id])
	}
	r.subsMu.RUnlock()

	for _, fn := range fns {
		fn(s.Clone())
	}
}
