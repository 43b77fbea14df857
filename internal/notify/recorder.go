package notify

import (
	"context"
	"log/slog"
	"time"

	"github.com/btouchard/cookiejar/internal/store"
)

// EventWriter is the slice of the store the Recorder needs.
type EventWriter interface {
	AddEvent(ctx context.Context, e *store.EventRecord) error
}

// Recorder persists every event to the sync history.
type Recorder struct {
	store   EventWriter
	timeout time.Duration
}

// NewRecorder creates a Recorder.
func NewRecorder(s EventWriter) *Recorder {
	return &Recorder{store: s, timeout: 5 * time.Second}
}

func (r *Recorder) Notify(event Event) {
	ctx, cancel := context.WithTimeout(context.Background(), r.timeout)
	defer cancel()

	rec := &store.EventRecord{
		RunID:     event.RunID,
		Stage:     string(event.Stage),
		Kind:      string(event.Kind),
		Message:   event.Message,
		Error:     event.Error,
		CreatedAt: event.Time,
	}
	if err := r.store.AddEvent(ctx, rec); err != nil {
		slog.Warn("failed to record sync event", "stage", string(event.Stage), "error", err)
	}
}
