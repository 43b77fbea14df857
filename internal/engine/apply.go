package engine

import (
	"context"
	"errors"
	"fmt"
	"slices"
	"strings"

	"github.com/btouchard/cookiejar/internal/notify"
	"github.com/btouchard/cookiejar/internal/permission"
	"github.com/btouchard/cookiejar/internal/settings"
)

// Apply asks for access to each origin of h and writes the cookies of
// every granted origin, one at a time. A failed cookie is reported but
// never stops the batch.
func (e *Engine) Apply(ctx context.Context, h Handoff) Result {
	em := e.emitter(ctx)
	em.emit(notify.Event{
		Stage:    notify.StagePullApplying,
		Message:  fmt.Sprintf("Applying %d cookies", h.Cookies),
		Progress: 80,
		Cookies:  h.Cookies,
	})

	res := Result{DocumentID: h.DocumentID}
	var granted []string
	var failures []string
	for _, g := range h.Groups {
		ok, err := e.perms.RequestAccess(ctx, g.Origin)
		if err != nil || !ok {
			if err == nil {
				err = permission.ErrDenied
			}
			res.DeniedOrigins = append(res.DeniedOrigins, g.Origin)
			em.emit(notify.Event{
				Stage:   notify.StageApplyCookieFailed,
				Kind:    notify.KindWarn,
				Message: "Permission denied for " + g.Origin,
				Error:   err.Error(),
				URLs:    []string{g.Origin},
				Cookies: len(g.Cookies),
			})
			continue
		}
		granted = append(granted, g.Origin)
		em.emit(notify.Event{
			Stage:   notify.StagePullWaitForPermissionCompleted,
			Message: "Permission granted for " + g.Origin,
			URLs:    []string{g.Origin},
			Cookies: len(g.Cookies),
		})

		for _, c := range g.Cookies {
			if err := ctx.Err(); err != nil {
				return em.fail(notify.StagePullApplying, "Apply interrupted", err)
			}
			if _, err := e.cookies.SetCookie(ctx, c); err != nil {
				res.FailedCookies = append(res.FailedCookies, c.Name)
				failures = append(failures, fmt.Sprintf("%s (%s)", c.Name, err))
				em.emit(notify.Event{Stage: notify.StageApplyCookieFailed, Kind: notify.KindWarn, Message: "Failed to apply cookie " + c.Name, Error: err.Error()})
			} else {
				res.Applied = append(res.Applied, c.Name)
				em.emit(notify.Event{Stage: notify.StageApplyCookieSuccess, Message: "Applied cookie " + c.Name})
			}
			if e.throttle > 0 {
				if err := e.clock.Sleep(ctx, e.throttle); err != nil {
					return em.fail(notify.StagePullApplying, "Apply interrupted", err)
				}
			}
		}
	}

	em.emit(notify.Event{
		Stage:    notify.StagePullApplyingCompleted,
		Message:  fmt.Sprintf("Applied %d cookies successfully: %s", len(res.Applied), strings.Join(res.Applied, ", ")),
		Progress: 90,
		Cookies:  len(res.Applied),
	})
	if len(failures) > 0 {
		em.emit(notify.Event{
			Stage:   notify.StageApplyCookieFailed,
			Kind:    notify.KindError,
			Message: fmt.Sprintf("Failed to apply %d cookies: %s", len(failures), strings.Join(failures, ", ")),
		})
	}

	synced := e.clock.Now().UnixMilli()
	updated, err := e.settings.Modify(ctx, func(cur settings.Settings) (settings.Patch, error) {
		urls := slices.Clone(cur.SyncURLs)
		for _, o := range granted {
			if !slices.Contains(urls, o) {
				urls = append(urls, o)
			}
		}
		patch := settings.Patch{LastSyncTimestamp: settings.Ptr(synced), SyncURLs: &urls}
		if h.DocumentID != "" {
			patch.RemoteDocumentID = settings.Ptr(h.DocumentID)
		}
		return patch, nil
	})
	if err != nil {
		return em.fail(notify.StagePullApplyingCompleted, "Failed to record sync state", err)
	}

	if len(granted) == 0 && len(h.Groups) > 0 {
		res.Err = errors.Join(permission.ErrDenied, fmt.Errorf("no origin granted out of %d", len(h.Groups)))
	}
	em.emit(notify.Event{
		Stage:               notify.StagePullCompleted,
		Kind:                notify.KindInfo,
		Message:             "Pull process completed successfully",
		Progress:            100,
		URLs:                granted,
		Cookies:             len(res.Applied),
		DocumentID:          updated.RemoteDocumentID,
		LatestSyncTimestamp: updated.LastSyncTimestamp,
	})
	res.Outcome = OutcomeCompleted
	res.Stage = notify.StagePullCompleted
	return res
}
