package engine

import (
	"context"
	"log/slog"
	"time"

	"github.com/btouchard/cookiejar/internal/gist"
	"github.com/btouchard/cookiejar/internal/notify"
	"github.com/btouchard/cookiejar/internal/settings"
)

// NoticeSource is the retry queue owner.
type NoticeSource interface {
	SetNotifyFunc(fn gist.NotifyFunc)
}

// WatchQueue forwards retry queue notices as events and records the
// result of drained writes in settings.
func (e *Engine) WatchQueue(src NoticeSource) {
	src.SetNotifyFunc(e.handleNotice)
}

func (e *Engine) handleNotice(n gist.Notice) {
	ev := notify.Event{
		Stage:   notify.StagePushSending,
		Kind:    notify.KindInfo,
		Message: n.Title,
	}
	if n.Detail != "" {
		ev.Message = n.Title + ": " + n.Detail
	}
	switch n.Level {
	case gist.LevelError:
		ev.Kind = notify.KindError
		ev.Error = n.Detail
	case gist.LevelWarn:
		ev.Kind = notify.KindWarn
	}
	if n.Job != nil {
		ev.DocumentID = n.Job.DocumentID
		ev.RetryAt = n.Job.NextAttemptAt
	}
	if n.DocumentID != "" {
		ev.DocumentID = n.DocumentID
	}

	if n.Level == gist.LevelInfo && n.Job != nil {
		e.recordDrained(*n.Job, n.DocumentID)
		ev.Stage = notify.StagePushSendingCompleted
	}
	e.events.Notify(ev)
}

// recordDrained stores the outcome of a queued write that finally went
// through.
func (e *Engine) recordDrained(job gist.Job, documentID string) {
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	patch := settings.Patch{LastSyncTimestamp: settings.Ptr(e.clock.Now().UnixMilli())}
	switch job.Op {
	case gist.OpCreate:
		if documentID == "" {
			return
		}
		patch.RemoteDocumentID = settings.Ptr(documentID)
	case gist.OpUpdate:
	default:
		return
	}
	if _, err := e.settings.Update(ctx, patch); err != nil {
		slog.Warn("recording drained write failed", "op", job.Op, "job_id", job.ID, "error", err)
	}
}
