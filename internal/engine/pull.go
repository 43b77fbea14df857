package engine

import (
	"context"
	"errors"
	"fmt"

	"github.com/btouchard/cookiejar/internal/envelope"
	"github.com/btouchard/cookiejar/internal/gist"
	"github.com/btouchard/cookiejar/internal/notify"
)

// Pull resolves the remote document, downloads and decrypts it, and
// stops with a Handoff before any cookie is written. Apply finishes the
// flow once the caller is ready to ask for origin permissions.
func (e *Engine) Pull(ctx context.Context) Result {
	em := e.emitter(ctx)
	em.progress(notify.StageInitial, "Starting pull process", 0)

	sec, err := e.loadSecrets(ctx)
	if err != nil {
		return em.fail(notify.StageInitial, "Missing secrets", err)
	}
	if cfgErr := missingSecrets(sec); cfgErr != nil {
		return em.fail(notify.StageInitial, "Missing secrets", cfgErr)
	}
	cur, err := e.settings.Persisted(ctx)
	if err != nil {
		return em.fail(notify.StageInitial, "Failed to read settings", err)
	}

	em.progress(notify.StagePullDownloading, "Resolving Gist source", 10)
	id := ""
	if cur != nil {
		id = cur.RemoteDocumentID
	}
	if id == "" {
		latest, err := e.remote.FindLatestOwnMatching(ctx, []string{gist.ContentFile}, sec.Token)
		if rl, ok := gist.IsRateLimit(err); ok {
			return e.rateLimited(em, "GitHub rate limit, cannot list gists now. Try again in ", rl, err)
		}
		if err != nil {
			return em.fail(notify.StagePullDownloading, "Failed to list Gists", err)
		}
		if latest == nil {
			return em.fail(notify.StagePullDownloading, "No compatible Gist found",
				fmt.Errorf("%w: no document contains %q", ErrNoDocument, gist.ContentFile))
		}
		id = latest.ID
	}

	em.progress(notify.StagePullDownloading, "Fetching from GitHub Gist", 25)
	doc, err := e.remote.Get(ctx, id, sec.Token)
	if rl, ok := gist.IsRateLimit(err); ok {
		return e.rateLimited(em, "GitHub rate limit, cannot fetch now. Try again in ", rl, err)
	}
	if err != nil {
		if errors.Is(err, gist.ErrNotFound) {
			return em.fail(notify.StagePullDownloading, "Gist not found", err)
		}
		return em.fail(notify.StagePullDownloading, "Failed to fetch Gist", err)
	}
	file, ok := doc.Files[gist.ContentFile]
	if !ok || file.Content == "" {
		return em.fail(notify.StagePullDownloading, "Incomplete gist content",
			fmt.Errorf("%w: expected file %q not found", ErrIncompleteDocument, gist.ContentFile))
	}
	if file.Truncated {
		return em.fail(notify.StagePullDownloading, "Incomplete gist content",
			fmt.Errorf("%w: %q is truncated", ErrIncompleteDocument, gist.ContentFile))
	}
	em.emit(notify.Event{Stage: notify.StagePullDownloadingCompleted, Message: "Download completed", Progress: 40, DocumentID: id})

	em.progress(notify.StagePullDecrypting, "Decrypting cookies", 60)
	raw, err := e.sealer.Open(file.Content, sec.Passphrase)
	if errors.Is(err, envelope.ErrDecryptionFailed) {
		return em.fail(notify.StagePullDecrypting, "Could not decrypt cookies. Passphrase may be incorrect.", err)
	}
	if err != nil {
		return em.fail(notify.StagePullDecrypting, "Decryption failed", err)
	}
	payload, err := decodePayload(raw)
	if err != nil {
		return em.fail(notify.StagePullDecrypting, "Decryption failed", err)
	}
	em.emit(notify.Event{
		Stage:    notify.StagePullDecryptingCompleted,
		Message:  fmt.Sprintf("Decryption completed with %d cookies", len(payload.Plain)),
		Progress: 70,
		Cookies:  len(payload.Plain),
	})

	em.progress(notify.StagePullApplying, "Applying cookies", 75)
	groups := group(payload.Origins, payload.Plain)
	origins := make([]string, 0, len(groups))
	for _, g := range groups {
		origins = append(origins, g.Origin)
	}
	handoff := &Handoff{
		DocumentID:          id,
		Origins:             origins,
		Groups:              groups,
		Cookies:             len(payload.Plain),
		LatestSyncTimestamp: payload.LatestSyncTimestamp,
	}
	em.emit(notify.Event{
		Stage:               notify.StagePullWaitForPermission,
		Message:             "Requesting permission to access cookie domains",
		Progress:            80,
		URLs:                origins,
		Cookies:             len(payload.Plain),
		LatestSyncTimestamp: payload.LatestSyncTimestamp,
		DocumentID:          id,
	})
	return Result{Outcome: OutcomeAwaitingPermission, Stage: notify.StagePullWaitForPermission, DocumentID: id, Handoff: handoff}
}

func (e *Engine) rateLimited(em emitter, prefix string, rl *gist.RateLimitError, err error) Result {
	em.emit(notify.Event{
		Stage:    notify.StagePullDownloading,
		Kind:     notify.KindWarn,
		Message:  prefix + formatDuration(rl.ResetAt.Sub(e.clock.Now())) + ".",
		Progress: 100,
		RetryAt:  rl.ResetAt,
	})
	return Result{Outcome: OutcomeRateLimited, Stage: notify.StagePullDownloading, Err: err, RetryAt: rl.ResetAt}
}
