// Package trigger starts push flows on a fixed interval and shortly after
// local cookie changes.
package trigger

import (
	"log/slog"
	"sync"
	"time"

	"github.com/btouchard/cookiejar/internal/clock"
	"github.com/btouchard/cookiejar/internal/cookies"
	"github.com/btouchard/cookiejar/internal/notify"
	"github.com/btouchard/cookiejar/internal/pattern"
	"github.com/btouchard/cookiejar/internal/settings"
)

// DefaultDebounce is the quiet window after the last matching cookie
// change before a push starts.
const DefaultDebounce = 60 * time.Second

// Push sources reported to the Pusher.
const (
	SourceInterval = "interval"
	SourceChange   = "change"
)

// Pusher starts a push flow in the background.
type Pusher interface {
	StartPush(source string) error
}

// SettingsSource is the settings owner.
type SettingsSource interface {
	Current() settings.Settings
	Subscribe(fn func(settings.Settings)) (cancel func())
}

// ChangeFeed delivers local cookie changes.
type ChangeFeed interface {
	Listen(fn func(cookies.Change)) (cancel func())
}

// State describes what the scheduler has armed.
type State struct {
	IntervalPeriod  time.Duration `json:"intervalPeriod"`
	ChangeListening bool          `json:"changeListening"`
	DebouncePending bool          `json:"debouncePending"`
}

// Scheduler owns the interval timer, the change listener and the
// debounce timer. Every settings change re-applies all three. Timers
// re-read settings when they fire.
type Scheduler struct {
	pusher   Pusher
	settings SettingsSource
	feed     ChangeFeed
	clock    clock.Clock
	events   notify.Notifier
	debounce time.Duration

	mu          sync.Mutex
	started     bool
	unsubscribe func()

	intervalTimer  clock.Timer
	intervalPeriod time.Duration
	intervalGen    int

	detach        func()
	debounceTimer clock.Timer
	debounceGen   int
}

// New creates a Scheduler. A non-positive debounce uses DefaultDebounce.
func New(p Pusher, s SettingsSource, feed ChangeFeed, clk clock.Clock, events notify.Notifier, debounce time.Duration) *Scheduler {
	if debounce <= 0 {
		debounce = DefaultDebounce
	}
	if clk == nil {
		clk = clock.Real()
	}
	if events == nil {
		events = notify.NewHub()
	}
	return &Scheduler{
		pusher:   p,
		settings: s,
		feed:     feed,
		clock:    clk,
		events:   events,
		debounce: debounce,
	}
}

// Start subscribes to settings changes and applies the current settings.
// Calling Start twice is a no-op.
func (s *Scheduler) Start() {
	s.mu.Lock()
	if s.started {
		s.mu.Unlock()
		return
	}
	s.started = true
	s.mu.Unlock()

	unsubscribe := s.settings.Subscribe(s.Apply)
	s.mu.Lock()
	s.unsubscribe = unsubscribe
	s.mu.Unlock()

	s.Apply(s.settings.Current())
}

// Stop cancels every timer and detaches the change listener.
func (s *Scheduler) Stop() {
	s.mu.Lock()
	defer s.mu.Unlock()
	if !s.started {
		return
	}
	s.started = false
	if s.unsubscribe != nil {
		s.unsubscribe()
		s.unsubscribe = nil
	}
	s.stopIntervalLocked()
	s.intervalPeriod = 0
	s.detachLocked()
}

// Apply reconfigures both triggers for cfg.
func (s *Scheduler) Apply(cfg settings.Settings) {
	s.emit(notify.StageApplyAutoSyncInterval, "Applying auto sync interval")
	period := s.applyInterval(cfg)
	if period > 0 {
		s.emit(notify.StageApplyAutoSyncIntervalCompleted, "Auto sync every "+period.String())
	} else {
		s.emit(notify.StageApplyAutoSyncIntervalCompleted, "Auto sync interval disabled")
	}

	s.emit(notify.StageApplySyncOnChange, "Applying sync on change")
	if s.applyChange(cfg) {
		s.emit(notify.StageApplySyncOnChangeCompleted, "Sync on change enabled")
	} else {
		s.emit(notify.StageApplySyncOnChangeCompleted, "Sync on change disabled")
	}
}

// State reports what is currently armed.
func (s *Scheduler) State() State {
	s.mu.Lock()
	defer s.mu.Unlock()
	return State{
		IntervalPeriod:  s.intervalPeriod,
		ChangeListening: s.detach != nil,
		DebouncePending: s.debounceTimer != nil,
	}
}

func (s *Scheduler) applyInterval(cfg settings.Settings) time.Duration {
	s.mu.Lock()
	defer s.mu.Unlock()
	if !s.started {
		return 0
	}

	var period time.Duration
	if cfg.AutoSyncEnabled && cfg.SyncIntervalMinutes > 0 {
		period = cfg.SyncInterval()
	}
	if period == s.intervalPeriod && (period == 0 || s.intervalTimer != nil) {
		return period
	}
	s.stopIntervalLocked()
	s.intervalPeriod = period
	if period > 0 {
		s.armIntervalLocked()
	}
	slog.Debug("interval trigger applied", "period", period.String())
	return period
}

func (s *Scheduler) armIntervalLocked() {
	s.intervalGen++
	gen := s.intervalGen
	s.intervalTimer = s.clock.AfterFunc(s.intervalPeriod, func() { s.fireInterval(gen) })
}

func (s *Scheduler) stopIntervalLocked() {
	s.intervalGen++
	if s.intervalTimer != nil {
		s.intervalTimer.Stop()
		s.intervalTimer = nil
	}
}

func (s *Scheduler) fireInterval(gen int) {
	s.mu.Lock()
	if gen != s.intervalGen || !s.started {
		s.mu.Unlock()
		return
	}
	s.armIntervalLocked()
	s.mu.Unlock()

	if !s.settings.Current().AutoSyncEnabled {
		return
	}
	s.push(SourceInterval)
}

// applyChange attaches or detaches the change listener. Attaching twice
// keeps the existing listener.
func (s *Scheduler) applyChange(cfg settings.Settings) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	if !s.started || !cfg.ChangeTriggerActive() {
		s.detachLocked()
		return false
	}
	if s.detach == nil {
		s.detach = s.feed.Listen(s.onChange)
		slog.Debug("cookie change listener attached")
	}
	return true
}

func (s *Scheduler) detachLocked() {
	if s.detach != nil {
		s.detach()
		s.detach = nil
		slog.Debug("cookie change listener detached")
	}
	s.stopDebounceLocked()
}

func (s *Scheduler) stopDebounceLocked() {
	s.debounceGen++
	if s.debounceTimer != nil {
		s.debounceTimer.Stop()
		s.debounceTimer = nil
	}
}

func (s *Scheduler) onChange(ch cookies.Change) {
	if ch.Cause != cookies.CauseExplicit {
		return
	}
	cfg := s.settings.Current()
	if !cfg.ChangeTriggerActive() {
		return
	}
	if !pattern.Matches(ch.Cookie.Domain, ch.Cookie.Secure, pattern.Compile(cfg.SyncURLs)) {
		return
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	if s.detach == nil {
		return
	}
	s.stopDebounceLocked()
	gen := s.debounceGen
	s.debounceTimer = s.clock.AfterFunc(s.debounce, func() { s.fireDebounce(gen) })
	slog.Debug("sync debounce armed", "domain", ch.Cookie.Domain, "cookie", ch.Cookie.Name, "removed", ch.Removed)
}

func (s *Scheduler) fireDebounce(gen int) {
	s.mu.Lock()
	if gen != s.debounceGen || s.detach == nil {
		s.mu.Unlock()
		return
	}
	s.debounceTimer = nil
	s.mu.Unlock()

	if !s.settings.Current().ChangeTriggerActive() {
		return
	}
	s.push(SourceChange)
}

func (s *Scheduler) push(source string) {
	slog.Info("triggered push", "source", source)
	if err := s.pusher.StartPush(source); err != nil {
		slog.Warn("triggered push not started", "source", source, "error", err)
	}
}

func (s *Scheduler) emit(stage notify.Stage, message string) {
	s.events.Notify(notify.Event{Stage: stage, Kind: notify.KindProgress, Message: message})
}
