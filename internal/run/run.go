package run

import (
	"crypto/rand"
	"fmt"
	"sync"
	"time"

	"github.com/btouchard/cookiejar/internal/engine"
	"github.com/btouchard/cookiejar/internal/notify"
)

// Kind is the flow a run executes.
type Kind string

const (
	KindPush Kind = "push"
	// KindPull pulls and then applies the downloaded cookies.
	KindPull Kind = "pull"
)

// Status is the lifecycle state of a run.
type Status string

const (
	StatusPending     Status = "pending"
	StatusRunning     Status = "running"
	StatusCompleted   Status = "completed"
	StatusQueued      Status = "queued"
	StatusRateLimited Status = "rate_limited"
	StatusFailed      Status = "failed"
	StatusCancelled   Status = "cancelled"
)

// Terminal reports whether s is a final state.
func (s Status) Terminal() bool {
	switch s {
	case StatusCompleted, StatusQueued, StatusRateLimited, StatusFailed, StatusCancelled:
		return true
	}
	return false
}

// maxEvents bounds the events kept per run.
const maxEvents = 200

// Run is one execution of a sync flow.
type Run struct {
	mu sync.RWMutex

	ID           string
	Kind         Kind
	Source       string
	MCPSessionID string

	Status     Status
	Stage      notify.Stage
	Progress   int
	Message    string
	Error      string
	DocumentID string
	RetryAt    time.Time
	Result     *engine.Result
	events     []notify.Event

	CreatedAt   time.Time
	StartedAt   time.Time
	CompletedAt time.Time

	done chan struct{}
}

// GenerateID creates a run id in the format sync-{8 hex chars}.
func GenerateID() string {
	b := make([]byte, 4)
	_, _ = rand.Read(b)
	return fmt.Sprintf("sync-%x", b)
}

func newRun(kind Kind, source, mcpSessionID string, now time.Time) *Run {
	return &Run{
		ID:           GenerateID(),
		Kind:         kind,
		Source:       source,
		MCPSessionID: mcpSessionID,
		Status:       StatusPending,
		CreatedAt:    now,
		done:         make(chan struct{}),
	}
}

// Done returns a channel closed when the run reaches a terminal state.
func (r *Run) Done() <-chan struct{} {
	return r.done
}

// IsTerminal reports whether the run has finished.
func (r *Run) IsTerminal() bool {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return r.Status.Terminal()
}

func (r *Run) setStatus(s Status, now time.Time) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.Status.Terminal() {
		return
	}
	r.Status = s
	switch {
	case s == StatusRunning:
		r.StartedAt = now
	case s.Terminal():
		r.CompletedAt = now
		close(r.done)
	}
}

func (r *Run) record(ev notify.Event) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.Stage = ev.Stage
	if ev.Progress > 0 {
		r.Progress = ev.Progress
	}
	if ev.Message != "" {
		r.Message = ev.Message
	}
	if ev.Error != "" && ev.Kind == notify.KindError {
		r.Error = ev.Error
	}
	if ev.DocumentID != "" {
		r.DocumentID = ev.DocumentID
	}
	r.events = append(r.events, ev)
	if len(r.events) > maxEvents {
		r.events = r.events[len(r.events)-maxEvents:]
	}
}

func (r *Run) finish(res engine.Result, now time.Time) {
	r.mu.Lock()
	r.Result = &res
	if res.DocumentID != "" {
		r.DocumentID = res.DocumentID
	}
	r.RetryAt = res.RetryAt
	if res.Err != nil {
		r.Error = res.Err.Error()
	}
	r.mu.Unlock()
	r.setStatus(statusFor(res.Outcome), now)
}

func statusFor(o engine.Outcome) Status {
	switch o {
	case engine.OutcomeCompleted, engine.OutcomeAwaitingPermission:
		return StatusCompleted
	case engine.OutcomeQueued:
		return StatusQueued
	case engine.OutcomeRateLimited:
		return StatusRateLimited
	default:
		return StatusFailed
	}
}

// Snapshot returns a read-consistent copy of the run.
func (r *Run) Snapshot() Snapshot {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return Snapshot{
		ID:          r.ID,
		Kind:        r.Kind,
		Source:      r.Source,
		Status:      r.Status,
		Stage:       r.Stage,
		Progress:    r.Progress,
		Message:     r.Message,
		Error:       r.Error,
		DocumentID:  r.DocumentID,
		RetryAt:     r.RetryAt,
		Result:      r.Result,
		Events:      append([]notify.Event(nil), r.events...),
		CreatedAt:   r.CreatedAt,
		StartedAt:   r.StartedAt,
		CompletedAt: r.CompletedAt,
	}
}

// Snapshot is a read-only copy of a Run at a point in time.
type Snapshot struct {
	ID          string         `json:"id"`
	Kind        Kind           `json:"kind"`
	Source      string         `json:"source"`
	Status      Status         `json:"status"`
	Stage       notify.Stage   `json:"stage,omitempty"`
	Progress    int            `json:"progress"`
	Message     string         `json:"message,omitempty"`
	Error       string         `json:"error,omitempty"`
	DocumentID  string         `json:"documentId,omitempty"`
	RetryAt     time.Time      `json:"retryAt,omitzero"`
	Result      *engine.Result `json:"result,omitempty"`
	Events      []notify.Event `json:"events,omitempty"`
	CreatedAt   time.Time      `json:"createdAt"`
	StartedAt   time.Time      `json:"startedAt,omitzero"`
	CompletedAt time.Time      `json:"completedAt,omitzero"`
}

// Duration returns the elapsed time from start to completion, or to now
// while the run is still going.
func (s Snapshot) Duration(now time.Time) time.Duration {
	if s.StartedAt.IsZero() {
		return 0
	}
	end := s.CompletedAt
	if end.IsZero() {
		end = now
	}
	return end.Sub(s.StartedAt)
}

// FormatDuration returns a human-readable duration string.
func (s Snapshot) FormatDuration(now time.Time) string {
	d := s.Duration(now)
	if d < time.Second {
		return "< 1s"
	}
	minutes := int(d.Minutes())
	seconds := int(d.Seconds()) % 60
	if minutes > 0 {
		return fmt.Sprintf("%dm %ds", minutes, seconds)
	}
	return fmt.Sprintf("%ds", seconds)
}
