// Package run tracks sync flow executions started by the CLI, the control
// API, MCP tools and the background triggers.
package run

import (
	"cmp"
	"context"
	"errors"
	"fmt"
	"log/slog"
	"slices"
	"sync"
	"time"

	"github.com/btouchard/cookiejar/internal/clock"
	"github.com/btouchard/cookiejar/internal/engine"
	"github.com/btouchard/cookiejar/internal/notify"
)

var (
	ErrNotFound = errors.New("run not found")
	ErrBusy     = errors.New("too many runs in progress")
	ErrFinished = errors.New("run already finished")
)

// Flows runs the sync flows.
type Flows interface {
	Push(ctx context.Context) engine.Result
	Sync(ctx context.Context) engine.Result
}

// Filter specifies criteria for listing runs.
type Filter struct {
	Kind   Kind
	Status Status
	Limit  int
	Since  time.Time
}

// Manager starts runs in the background and keeps their state. It also
// implements notify.Notifier so flow events land on the run that emitted
// them.
type Manager struct {
	mu   sync.RWMutex
	runs map[string]*Run

	flows         Flows
	clock         clock.Clock
	maxConcurrent int
	timeout       time.Duration
	retain        int
	cancelFuncs   map[string]context.CancelFunc
	wg            sync.WaitGroup
}

// NewManager creates a Manager. Runs time out after timeout and at most
// maxConcurrent run at once.
func NewManager(flows Flows, clk clock.Clock, maxConcurrent int, timeout time.Duration) *Manager {
	if maxConcurrent < 1 {
		maxConcurrent = 2
	}
	if timeout <= 0 {
		timeout = 10 * time.Minute
	}
	if clk == nil {
		clk = clock.Real()
	}
	return &Manager{
		runs:          make(map[string]*Run),
		flows:         flows,
		clock:         clk,
		maxConcurrent: maxConcurrent,
		timeout:       timeout,
		retain:        100,
		cancelFuncs:   make(map[string]context.CancelFunc),
	}
}

// Start launches a flow of the given kind. Runs use a background context
// so they outlive the request that started them.
func (m *Manager) Start(kind Kind, source, mcpSessionID string) (*Run, error) {
	if kind != KindPush && kind != KindPull {
		return nil, fmt.Errorf("unknown run kind %q", kind)
	}
	r := newRun(kind, source, mcpSessionID, m.clock.Now())

	m.mu.Lock()
	if n := m.runningLocked(); n >= m.maxConcurrent {
		m.mu.Unlock()
		return nil, fmt.Errorf("%w (%d/%d)", ErrBusy, n, m.maxConcurrent)
	}
	ctx, cancel := context.WithTimeout(context.Background(), m.timeout)
	m.runs[r.ID] = r
	m.cancelFuncs[r.ID] = cancel
	m.evictLocked()
	m.mu.Unlock()

	slog.Info("run created", "run_id", r.ID, "kind", string(kind), "source", source)

	r.setStatus(StatusRunning, m.clock.Now())
	m.wg.Add(1)
	go m.run(ctx, cancel, r)
	return r, nil
}

// StartPush starts a push run on behalf of a background trigger.
func (m *Manager) StartPush(source string) error {
	_, err := m.Start(KindPush, source, "")
	return err
}

func (m *Manager) run(ctx context.Context, cancel context.CancelFunc, r *Run) {
	defer m.wg.Done()
	defer cancel()
	defer func() {
		m.mu.Lock()
		delete(m.cancelFuncs, r.ID)
		m.mu.Unlock()
	}()
	defer func() {
		if p := recover(); p != nil {
			slog.Error("run panicked", "run_id", r.ID, "panic", p)
			r.finish(engine.Result{Outcome: engine.OutcomeFailed, Err: fmt.Errorf("internal panic: %v", p)}, m.clock.Now())
		}
	}()

	ctx = notify.WithRun(ctx, r.ID, r.MCPSessionID)
	var res engine.Result
	switch r.Kind {
	case KindPush:
		res = m.flows.Push(ctx)
	case KindPull:
		res = m.flows.Sync(ctx)
	}

	if errors.Is(ctx.Err(), context.Canceled) && res.Outcome == engine.OutcomeFailed {
		r.mu.Lock()
		r.Error = "run cancelled"
		r.mu.Unlock()
		r.setStatus(StatusCancelled, m.clock.Now())
		slog.Info("run cancelled", "run_id", r.ID)
		return
	}
	if errors.Is(ctx.Err(), context.DeadlineExceeded) && res.Outcome == engine.OutcomeFailed {
		res.Err = errors.New("run timed out")
	}
	r.finish(res, m.clock.Now())

	snap := r.Snapshot()
	attrs := []any{"run_id", r.ID, "kind", string(r.Kind), "status", string(snap.Status), "duration", snap.FormatDuration(m.clock.Now())}
	if snap.Error != "" {
		slog.Warn("run finished", append(attrs, "error", snap.Error)...)
		return
	}
	slog.Info("run finished", attrs...)
}

// Notify records ev on the run it belongs to.
func (m *Manager) Notify(ev notify.Event) {
	if ev.RunID == "" {
		return
	}
	m.mu.RLock()
	r, ok := m.runs[ev.RunID]
	m.mu.RUnlock()
	if ok {
		r.record(ev)
	}
}

// Get returns a run by id.
func (m *Manager) Get(id string) (*Run, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	r, ok := m.runs[id]
	if !ok {
		return nil, fmt.Errorf("%w: %q", ErrNotFound, id)
	}
	return r, nil
}

// Wait blocks until the run finishes, wait elapses or ctx is done, and
// returns the latest snapshot.
func (m *Manager) Wait(ctx context.Context, id string, wait time.Duration) (Snapshot, error) {
	r, err := m.Get(id)
	if err != nil {
		return Snapshot{}, err
	}
	if wait > 0 && !r.IsTerminal() {
		timer := time.NewTimer(wait)
		defer timer.Stop()
		select {
		case <-r.Done():
		case <-timer.C:
		case <-ctx.Done():
		}
	}
	return r.Snapshot(), nil
}

// List returns runs matching filter, newest first.
func (m *Manager) List(filter Filter) []Snapshot {
	m.mu.RLock()
	all := make([]*Run, 0, len(m.runs))
	for _, r := range m.runs {
		all = append(all, r)
	}
	m.mu.RUnlock()

	var results []Snapshot
	for _, r := range all {
		snap := r.Snapshot()
		if filter.Kind != "" && snap.Kind != filter.Kind {
			continue
		}
		if filter.Status != "" && snap.Status != filter.Status {
			continue
		}
		if !filter.Since.IsZero() && snap.CreatedAt.Before(filter.Since) {
			continue
		}
		snap.Events = nil
		results = append(results, snap)
	}

	slices.SortFunc(results, func(a, b Snapshot) int {
		if c := b.CreatedAt.Compare(a.CreatedAt); c != 0 {
			return c
		}
		return cmp.Compare(a.ID, b.ID)
	})
	if filter.Limit > 0 && len(results) > filter.Limit {
		results = results[:filter.Limit]
	}
	return results
}

// Cancel stops a running run.
func (m *Manager) Cancel(id string) error {
	m.mu.RLock()
	r, ok := m.runs[id]
	cancelFn := m.cancelFuncs[id]
	m.mu.RUnlock()

	if !ok {
		return fmt.Errorf("%w: %q", ErrNotFound, id)
	}
	if r.IsTerminal() {
		return fmt.Errorf("%w: %q is %s", ErrFinished, id, r.Snapshot().Status)
	}

	slog.Info("cancelling run", "run_id", id)
	if cancelFn != nil {
		cancelFn()
	}
	return nil
}

// RunningCount returns the number of runs in progress.
func (m *Manager) RunningCount() int {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.runningLocked()
}

func (m *Manager) runningLocked() int {
	count := 0
	for _, r := range m.runs {
		if !r.IsTerminal() {
			count++
		}
	}
	return count
}

// Shutdown cancels every run in progress and waits for them to return.
func (m *Manager) Shutdown(ctx context.Context) error {
	m.mu.RLock()
	for _, cancel := range m.cancelFuncs {
		cancel()
	}
	m.mu.RUnlock()

	done := make(chan struct{})
	go func() {
		m.wg.Wait()
		close(done)
	}()
	select {
	case <-done:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

// evictLocked drops the oldest finished runs beyond the retention limit.
func (m *Manager) evictLocked() {
	if len(m.runs) <= m.retain {
		return
	}
	finished := make([]*Run, 0, len(m.runs))
	for _, r := range m.runs {
		if r.IsTerminal() {
			finished = append(finished, r)
		}
	}
	slices.SortFunc(finished, func(a, b *Run) int { return a.CreatedAt.Compare(b.CreatedAt) })
	for _, r := range finished {
		if len(m.runs) <= m.retain {
			return
		}
		delete(m.runs, r.ID)
	}
}
