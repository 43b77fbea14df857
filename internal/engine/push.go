package engine

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"

	"github.com/btouchard/cookiejar/internal/gist"
	"github.com/btouchard/cookiejar/internal/notify"
	"github.com/btouchard/cookiejar/internal/settings"
)

// Push dumps the cookies of every sync origin, seals them and writes the
// remote document, creating it on first use.
func (e *Engine) Push(ctx context.Context) Result {
	em := e.emitter(ctx)
	em.progress(notify.StageInitial, "Starting push process", 0)

	cur, err := e.settings.Persisted(ctx)
	if err != nil {
		return em.fail(notify.StageInitial, "Settings or secrets not found", err)
	}
	sec, err := e.loadSecrets(ctx)
	if err != nil {
		return em.fail(notify.StageInitial, "Settings or secrets not found", err)
	}
	if cur == nil {
		return em.fail(notify.StageInitial, "Settings or secrets not found", &ConfigurationError{Missing: []string{"settings"}})
	}
	if cfgErr := missingSecrets(sec); cfgErr != nil {
		return em.fail(notify.StageInitial, "Settings or secrets not found", cfgErr)
	}

	em.progress(notify.StagePushDumping, "Dumping data", 0)
	list, err := e.cookies.ListForOrigins(ctx, cur.SyncURLs)
	if err != nil {
		return em.fail(notify.StagePushDumping, "Failed to read local cookies", err)
	}
	em.emit(notify.Event{
		Stage:    notify.StagePushDumpingCompleted,
		Message:  fmt.Sprintf("Dumping completed with %d cookies", len(list)),
		Progress: 20,
		Cookies:  len(list),
	})

	em.progress(notify.StagePushEncrypting, "Encrypting data", 20)
	now := e.clock.Now()
	sealed, err := e.sealer.Seal(Payload{
		Plain:               list,
		Origins:             cur.SyncURLs,
		LatestSyncTimestamp: now.UnixMilli(),
	}, sec.Passphrase)
	if err != nil {
		return em.fail(notify.StagePushEncrypting, "Encryption failed", err)
	}
	em.progress(notify.StagePushEncryptingCompleted, "Encryption completed", 40)

	em.progress(notify.StagePushSending, "Sending data", 40)
	settingsJSON, err := json.MarshalIndent(cur, "", "  ")
	if err != nil {
		return em.fail(notify.StagePushSending, "An error occurred while processing the push request", err)
	}
	files := map[string]string{
		gist.ContentFile:  sealed,
		gist.SettingsFile: string(settingsJSON),
	}

	id := cur.RemoteDocumentID
	var sent string
	if id == "" {
		id, err = e.remote.Create(ctx, sec.Token, gist.NewBody(e.description, files))
		sent = "New Gist created with ID: " + id
	} else {
		body := gist.NewBody("", files)
		body.Public = nil
		_, err = e.remote.Update(ctx, id, body, sec.Token)
		sent = "Gist updated with ID: " + id
	}
	if errors.Is(err, gist.ErrQueueFailed) {
		return em.fail(notify.StagePushSending, "GitHub rate limit, and the request could not be queued for retry", err)
	}
	if rl, ok := gist.IsRateLimit(err); ok {
		em.emit(notify.Event{
			Stage:    notify.StagePushSending,
			Kind:     notify.KindWarn,
			Message:  "GitHub rate limit, request queued. Will retry automatically in " + formatDuration(rl.ResetAt.Sub(e.clock.Now())) + ".",
			Progress: 80,
			RetryAt:  rl.ResetAt,
		})
		return Result{Outcome: OutcomeQueued, Stage: notify.StagePushSending, Err: err, DocumentID: cur.RemoteDocumentID, RetryAt: rl.ResetAt}
	}
	if err != nil {
		return em.fail(notify.StagePushSending, "An error occurred while processing the push request", err)
	}
	em.emit(notify.Event{Stage: notify.StagePushSendingCompleted, Message: sent, Progress: 80, DocumentID: id})

	synced := e.clock.Now().UnixMilli()
	if _, err := e.settings.Update(ctx, settings.Patch{
		RemoteDocumentID:  settings.Ptr(id),
		LastSyncTimestamp: settings.Ptr(synced),
	}); err != nil {
		return em.fail(notify.StagePushSendingCompleted, "Failed to record sync state", err)
	}

	em.emit(notify.Event{
		Stage:               notify.StagePushCompleted,
		Kind:                notify.KindInfo,
		Message:             "Push process completed successfully",
		Progress:            100,
		DocumentID:          id,
		LatestSyncTimestamp: synced,
	})
	return Result{Outcome: OutcomeCompleted, Stage: notify.StagePushCompleted, DocumentID: id}
}
