package gist

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/btouchard/cookiejar/internal/clock"
)

// TokenSource loads the API token on demand. An empty token means none is
// configured.
type TokenSource func(ctx context.Context) (string, error)

// Level classifies a Notice.
type Level string

const (
	LevelInfo  Level = "info"
	LevelWarn  Level = "warn"
	LevelError Level = "error"
)

// Notice reports queue activity to the rest of the application.
type Notice struct {
	Level  Level
	Title  string
	Detail string
	// Job is set for notices about a specific queued job.
	Job *Job
	// DocumentID is the id returned by a drained create.
	DocumentID string
}

// NotifyFunc receives queue notices.
type NotifyFunc func(Notice)

// Repository wraps a Client with the durable retry queue: rate-limited
// writes are queued and replayed by ProcessQueue when the wake-up timer
// fires. Reads are never queued.
type Repository struct {
	client *Client
	queue  *Queue
	policy Policy
	clock  clock.Clock
	token  TokenSource

	notifyMu sync.RWMutex
	onNotify NotifyFunc

	// processMu serialises drain passes.
	processMu sync.Mutex

	timerMu sync.Mutex
	timer   clock.Timer
	wakeAt  time.Time
	baseCtx context.Context
}

// NewRepository creates a Repository.
func NewRepository(client *Client, queue *Queue, policy Policy, clk clock.Clock, token TokenSource) *Repository {
	if clk == nil {
		clk = clock.Real()
	}
	return &Repository{
		client:  client,
		queue:   queue,
		policy:  policy,
		clock:   clk,
		token:   token,
		baseCtx: context.Background(),
	}
}

// SetNotifyFunc sets the callback for queue notices.
func (r *Repository) SetNotifyFunc(fn NotifyFunc) {
	r.notifyMu.Lock()
	r.onNotify = fn
	r.notifyMu.Unlock()
}

func (r *Repository) notify(n Notice) {
	r.notifyMu.RLock()
	fn := r.onNotify
	r.notifyMu.RUnlock()
	if fn != nil {
		fn(n)
	}
}

// Get fetches a document. Rate limiting is returned to the caller.
func (r *Repository) Get(ctx context.Context, id, token string) (*Document, error) {
	return r.client.Get(ctx, id, token)
}

// FindLatestOwnMatching delegates to the client. Rate limiting is
// returned to the caller.
func (r *Repository) FindLatestOwnMatching(ctx context.Context, required []string, token string) (*Document, error) {
	return r.client.FindLatestOwnMatching(ctx, required, token)
}

// Create creates a document. On rate limiting the write is queued and the
// RateLimitError is still returned, joined with ErrQueueFailed when the
// job could not be stored.
func (r *Repository) Create(ctx context.Context, token string, body DocumentBody) (string, error) {
	id, err := r.client.Create(ctx, token, body)
	if rl, ok := IsRateLimit(err); ok {
		if qerr := r.deferWrite(ctx, OpCreate, "", &body, rl); qerr != nil {
			err = errors.Join(err, qerr)
		}
	}
	return id, err
}

// Update patches a document. On rate limiting the write is queued and the
// RateLimitError is still returned.
func (r *Repository) Update(ctx context.Context, id string, body DocumentBody, token string) (*Document, error) {
	doc, err := r.client.Update(ctx, id, body, token)
	if rl, ok := IsRateLimit(err); ok {
		if qerr := r.deferWrite(ctx, OpUpdate, id, &body, rl); qerr != nil {
			err = errors.Join(err, qerr)
		}
	}
	return doc, err
}

// Delete removes a document. On rate limiting the delete is queued and
// the RateLimitError is still returned.
func (r *Repository) Delete(ctx context.Context, id, token string) error {
	err := r.client.Delete(ctx, id, token)
	if rl, ok := IsRateLimit(err); ok {
		if qerr := r.deferWrite(ctx, OpDelete, id, nil, rl); qerr != nil {
			err = errors.Join(err, qerr)
		}
	}
	return err
}

// deferWrite persists a rate-limited write and arms the wake-up timer.
// A storage failure is returned wrapped in ErrQueueFailed.
func (r *Repository) deferWrite(ctx context.Context, op Op, documentID string, body *DocumentBody, rl *RateLimitError) error {
	now := r.clock.Now()
	due := r.policy.NotBefore(rl.ResetAt, now)
	job, err := r.queue.Enqueue(ctx, op, documentID, body, now, due)
	if err != nil {
		slog.Error("failed to queue rate-limited write", "op", string(op), "error", err)
		return fmt.Errorf("%w: %w", ErrQueueFailed, err)
	}
	r.scheduleAt(due)
	r.notify(Notice{
		Level:  LevelWarn,
		Title:  fmt.Sprintf("GitHub rate limit, queued %s", op),
		Detail: "Will retry after " + rl.ResetAt.Local().Format(time.TimeOnly),
		Job:    &job,
	})
	return nil
}

// Jobs returns the queued jobs.
func (r *Repository) Jobs(ctx context.Context) ([]Job, error) {
	return r.queue.Jobs(ctx)
}

// NextWakeUp returns when the queue timer fires, if armed.
func (r *Repository) NextWakeUp() (time.Time, bool) {
	r.timerMu.Lock()
	defer r.timerMu.Unlock()
	return r.wakeAt, r.timer != nil
}

// Resume arms the wake-up timer for jobs persisted by a previous process.
// Timer-driven drains run under ctx.
func (r *Repository) Resume(ctx context.Context) error {
	r.timerMu.Lock()
	r.baseCtx = ctx
	r.timerMu.Unlock()

	jobs, err := r.queue.Jobs(ctx)
	if err != nil {
		return err
	}
	if t, ok := soonest(jobs); ok {
		slog.Info("resuming queued remote writes", "jobs", len(jobs), "next_attempt_at", t)
		r.scheduleAt(t)
	}
	return nil
}

// Stop cancels the wake-up timer.
func (r *Repository) Stop() {
	r.cancelTimer()
}

// ProcessQueue runs one drain pass over the due jobs. Successful jobs are
// dropped, rate-limited jobs are rescheduled by the policy, and jobs that
// fail for any other reason are dropped and reported.
func (r *Repository) ProcessQueue(ctx context.Context) error {
	r.processMu.Lock()
	defer r.processMu.Unlock()

	jobs, err := r.queue.Jobs(ctx)
	if err != nil {
		return err
	}
	if len(jobs) == 0 {
		r.cancelTimer()
		return nil
	}
	if !anyDue(jobs, r.clock.Now()) {
		if t, ok := soonest(jobs); ok {
			r.scheduleAt(t)
		}
		return nil
	}

	token, err := r.token(ctx)
	if err != nil || token == "" {
		r.clearFiredTimer()
		r.notify(Notice{Level: LevelError, Title: "Missing token for queued Gist jobs"})
		if err != nil {
			return fmt.Errorf("loading token for queue: %w", err)
		}
		return nil
	}

	done := make(map[string]bool)
	var updated []Job
	for _, job := range jobs {
		if job.NextAttemptAt.After(r.clock.Now()) {
			continue
		}
		if ctx.Err() != nil {
			break
		}

		docID, err := r.execute(ctx, token, job)
		switch rl, limited := IsRateLimit(err); {
		case err == nil:
			done[job.ID] = true
			slog.Info("queued remote write sent", "job_id", job.ID, "op", string(job.Op), "document_id", docID)
			j := job
			r.notify(Notice{
				Level:      LevelInfo,
				Title:      fmt.Sprintf("Queued Gist %s sent", job.Op),
				Job:        &j,
				DocumentID: docID,
			})
		case limited:
			next := r.policy.NextAttempt(job, rl.ResetAt, r.clock.Now())
			updated = append(updated, next)
			slog.Warn("queued remote write still rate limited",
				"job_id", job.ID,
				"attempts", next.Attempts,
				"next_attempt_at", next.NextAttemptAt)
		case errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded):
			// Left untouched for the next pass.
		default:
			done[job.ID] = true
			slog.Error("dropping queued remote write", "job_id", job.ID, "op", string(job.Op), "error", err)
			j := job
			r.notify(Notice{
				Level:  LevelError,
				Title:  fmt.Sprintf("Queued Gist %s failed", job.Op),
				Detail: err.Error(),
				Job:    &j,
			})
		}
	}

	remaining, err := r.queue.Commit(ctx, done, updated)
	if err != nil {
		return err
	}
	if t, ok := soonest(remaining); ok {
		r.scheduleAt(t)
	} else {
		r.cancelTimer()
	}
	return nil
}

func (r *Repository) execute(ctx context.Context, token string, job Job) (string, error) {
	var body DocumentBody
	if job.Body != nil {
		body = *job.Body
	}
	switch job.Op {
	case OpCreate:
		return r.client.Create(ctx, token, body)
	case OpUpdate:
		_, err := r.client.Update(ctx, job.DocumentID, body, token)
		return job.DocumentID, err
	case OpDelete:
		return job.DocumentID, r.client.Delete(ctx, job.DocumentID, token)
	default:
		return "", fmt.Errorf("unknown queued operation %q", job.Op)
	}
}

// scheduleAt re-arms the single wake-up timer. The previous timer is
// always stopped first.
func (r *Repository) scheduleAt(t time.Time) {
	now := r.clock.Now()
	when := r.policy.NotBefore(t, now)

	r.timerMu.Lock()
	defer r.timerMu.Unlock()
	if r.timer != nil {
		r.timer.Stop()
	}
	ctx := r.baseCtx
	r.wakeAt = when
	r.timer = r.clock.AfterFunc(when.Sub(now), func() {
		if err := r.ProcessQueue(ctx); err != nil {
			slog.Error("queue drain failed", "error", err)
		}
	})
}

func (r *Repository) cancelTimer() {
	r.timerMu.Lock()
	defer r.timerMu.Unlock()
	if r.timer != nil {
		r.timer.Stop()
		r.timer = nil
		r.wakeAt = time.Time{}
	}
}

// clearFiredTimer forgets a timer that has already fired so NextWakeUp
// reports nothing armed. A timer armed for a later instant is kept.
func (r *Repository) clearFiredTimer() {
	r.timerMu.Lock()
	defer r.timerMu.Unlock()
	if r.timer != nil && !r.wakeAt.After(r.clock.Now()) {
		r.timer = nil
		r.wakeAt = time.Time{}
	}
}

func anyDue(jobs []Job, now time.Time) bool {
	for _, j := range jobs {
		if !j.NextAttemptAt.After(now) {
			return true
		}
	}
	return false
}
