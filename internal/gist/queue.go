package gist

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/google/uuid"
)

// QueueKey is the storage key of the durable job list.
const QueueKey = "CJ_GIST_QUEUE"

// Op is a mutating document operation.
type Op string

const (
	OpCreate Op = "create"
	OpUpdate Op = "update"
	OpDelete Op = "delete"
)

// Job is a queued write awaiting retry after rate limiting.
// It never carries the API token.
type Job struct {
	ID            string        `json:"id"`
	Op            Op            `json:"op"`
	CreatedAt     time.Time     `json:"createdAt"`
	Attempts      int           `json:"attempts"`
	NextAttemptAt time.Time     `json:"nextAttemptAt"`
	Body          *DocumentBody `json:"body,omitempty"`
	DocumentID    string        `json:"gistId,omitempty"`
}

// KV is the durable key-value slice the queue needs.
type KV interface {
	GetItem(ctx context.Context, key string) (json.RawMessage, error)
	SetItem(ctx context.Context, key string, value any) error
}

// Queue is the persisted job list. Every mutation is a read-modify-write
// under mu.
type Queue struct {
	mu sync.Mutex
	kv KV
}

// NewQueue creates a Queue over kv.
func NewQueue(kv KV) *Queue {
	return &Queue{kv: kv}
}

// Jobs returns the persisted jobs in insertion order.
func (q *Queue) Jobs(ctx context.Context) ([]Job, error) {
	q.mu.Lock()
	defer q.mu.Unlock()
	return q.load(ctx)
}

// Enqueue appends a new job and returns it.
func (q *Queue) Enqueue(ctx context.Context, op Op, documentID string, body *DocumentBody, now, due time.Time) (Job, error) {
	job := Job{
		ID:            uuid.NewString(),
		Op:            op,
		CreatedAt:     now,
		NextAttemptAt: due,
		Body:          body,
		DocumentID:    documentID,
	}

	q.mu.Lock()
	defer q.mu.Unlock()

	jobs, err := q.load(ctx)
	if err != nil {
		return Job{}, err
	}
	jobs = append(jobs, job)
	if err := q.save(ctx, jobs); err != nil {
		return Job{}, err
	}
	slog.Info("queued remote write",
		"job_id", job.ID,
		"op", string(op),
		"document_id", documentID,
		"next_attempt_at", due)
	return job, nil
}

// Commit applies the outcome of a drain pass: jobs in done are removed,
// jobs in updated replace their stored version, and anything enqueued
// meanwhile is kept. It returns the resulting list.
func (q *Queue) Commit(ctx context.Context, done map[string]bool, updated []Job) ([]Job, error) {
	byID := make(map[string]Job, len(updated))
	for _, j := range updated {
		byID[j.ID] = j
	}

	q.mu.Lock()
	defer q.mu.Unlock()

	jobs, err := q.load(ctx)
	if err != nil {
		return nil, err
	}
	out := make([]Job, 0, len(jobs))
	for _, j := range jobs {
		if done[j.ID] {
			continue
		}
		if u, ok := byID[j.ID]; ok {
			j = u
		}
		out = append(out, j)
	}
	if err := q.save(ctx, out); err != nil {
		return nil, err
	}
	return out, nil
}

func (q *Queue) load(ctx context.Context) ([]Job, error) {
	raw, err := q.kv.GetItem(ctx, QueueKey)
	if err != nil {
		return nil, fmt.Errorf("loading job queue: %w", err)
	}
	if raw == nil {
		return nil, nil
	}
	var jobs []Job
	if err := json.Unmarshal(raw, &jobs); err != nil {
		slog.Warn("discarding unreadable job queue", "error", err)
		return nil, nil
	}
	return jobs, nil
}

func (q *Queue) save(ctx context.Context, jobs []Job) error {
	if jobs == nil {
		jobs = []Job{}
	}
	if err := q.kv.SetItem(ctx, QueueKey, jobs); err != nil {
		return fmt.Errorf("saving job queue: %w", err)
	}
	return nil
}

func soonest(jobs []Job) (time.Time, bool) {
	var t time.Time
	for i, j := range jobs {
		if i == 0 || j.NextAttemptAt.Before(t) {
			t = j.NextAttemptAt
		}
	}
	return t, len(jobs) > 0
}
