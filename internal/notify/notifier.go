package notify

import (
	"sync"
	"time"
)

// Kind tags what an Event means for the flow that emitted it.
type Kind string

const (
	KindProgress Kind = "progress"
	KindInfo     Kind = "info"
	KindWarn     Kind = "warn"
	KindError    Kind = "error"
)

// Event is one progress notification. Listeners never answer it.
type Event struct {
	RunID   string `json:"runId,omitempty"`
	Stage   Stage  `json:"stage"`
	Kind    Kind   `json:"kind"`
	Message string `json:"message,omitempty"`
	// Progress is a percentage in 0..100; zero when not reported.
	Progress int    `json:"progress,omitempty"`
	Error    string `json:"error,omitempty"`

	// Stage-specific payload.
	URLs                []string  `json:"urls,omitempty"`
	Cookies             int       `json:"cookies,omitempty"`
	LatestSyncTimestamp int64     `json:"latestSyncTimestamp,omitempty"`
	DocumentID          string    `json:"documentId,omitempty"`
	RetryAt             time.Time `json:"retryAt,omitzero"`

	// MCPSessionID targets a specific MCP client session.
	// Empty means broadcast to all.
	MCPSessionID string    `json:"-"`
	Time         time.Time `json:"time"`
}

// Terminal reports whether the event ends its flow with a failure.
func (e Event) Terminal() bool {
	return e.Stage == StageError
}

// Notifier receives progress events.
type Notifier interface {
	Notify(event Event)
}

// NotifierFunc adapts a function to Notifier.
type NotifierFunc func(Event)

func (f NotifierFunc) Notify(event Event) { f(event) }

// Hub dispatches events to multiple notifiers. Delivery is synchronous and
// in registration order, so every listener sees a flow's events in the
// order they were emitted.
type Hub struct {
	mu        sync.RWMutex
	notifiers []Notifier
}

// NewHub creates a Hub with the given notifiers.
func NewHub(notifiers ...Notifier) *Hub {
	return &Hub{notifiers: notifiers}
}

// Add registers another notifier.
func (h *Hub) Add(n Notifier) {
	h.mu.Lock()
	h.notifiers = append(h.notifiers, n)
	h.mu.Unlock()
}

// Notify sends an event to all registered notifiers.
func (h *Hub) Notify(event Event) {
	if event.Time.IsZero() {
		event.Time = time.Now()
	}
	h.mu.RLock()
	notifiers := h.notifiers
	h.mu.RUnlock()
	for _, n := range notifiers {
		n.Notify(event)
	}
}
