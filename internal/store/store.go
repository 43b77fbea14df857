package store

import (
	"context"
	"encoding/json"
	"time"
)

// Store is the persistence interface for cookiejar.
// Consumers declare the narrower slices they need.
type Store interface {
	// Key-value documents (settings, job queue, permission grants)
	GetItem(ctx context.Context, key string) (json.RawMessage, error)
	SetItem(ctx context.Context, key string, value any) error
	DeleteItem(ctx context.Context, key string) error

	// Sync event history
	AddEvent(ctx context.Context, e *EventRecord) error
	ListEvents(ctx context.Context, f EventFilter) ([]EventRecord, error)

	// Maintenance
	Cleanup(ctx context.Context, retention time.Duration) (int64, error)
	Close() error
}

// EventRecord is a persisted progress event.
type EventRecord struct {
	ID        int64     `json:"id"`
	RunID     string    `json:"runId,omitempty"`
	Stage     string    `json:"stage"`
	Kind      string    `json:"kind"`
	Message   string    `json:"message,omitempty"`
	Error     string    `json:"error,omitempty"`
	CreatedAt time.Time `json:"createdAt"`
}

// EventFilter specifies criteria for listing events.
type EventFilter struct {
	RunID string
	Stage string
	Limit int
	Since time.Time
}
