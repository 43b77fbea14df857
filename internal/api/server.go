// Package api serves the local control API. Every route except /health
// requires the control token.
package api

import (
	"context"
	"encoding/json"
	"errors"
	"log/slog"
	"net/http"
	"strconv"
	"time"

	"github.com/go-chi/chi/v5"

	"github.com/btouchard/cookiejar/internal/gist"
	"github.com/btouchard/cookiejar/internal/pattern"
	"github.com/btouchard/cookiejar/internal/run"
	"github.com/btouchard/cookiejar/internal/settings"
	"github.com/btouchard/cookiejar/internal/store"
	"github.com/btouchard/cookiejar/internal/trigger"
)

const (
	maxBodyBytes = 1 << 20
	maxWait      = 2 * time.Minute
	sourceAPI    = "api"
)

// Runs starts and tracks sync runs.
type Runs interface {
	Start(kind run.Kind, source, mcpSessionID string) (*run.Run, error)
	Wait(ctx context.Context, id string, wait time.Duration) (run.Snapshot, error)
	List(filter run.Filter) []run.Snapshot
	Cancel(id string) error
}

// SettingsStore reads and writes the sync configuration.
type SettingsStore interface {
	Current() settings.Settings
	Update(ctx context.Context, p settings.Patch) (settings.Settings, error)
	AddSyncURL(ctx context.Context, origin string) (settings.Settings, error)
	RemoveSyncURL(ctx context.Context, origin string) (settings.Settings, error)
}

// EventLister reads the persisted event history.
type EventLister interface {
	ListEvents(ctx context.Context, f store.EventFilter) ([]store.EventRecord, error)
}

// Queue exposes the deferred remote writes.
type Queue interface {
	Jobs(ctx context.Context) ([]gist.Job, error)
	NextWakeUp() (time.Time, bool)
	ProcessQueue(ctx context.Context) error
}

// Triggers reports what the scheduler has armed.
type Triggers interface {
	State() trigger.State
}

// Deps holds the collaborators of the router. MCP is optional.
type Deps struct {
	Runs     Runs
	Settings SettingsStore
	Events   EventLister
	Queue    Queue
	Triggers Triggers
	Token    string
	Version  string
	MCP      http.Handler
	MCPPath  string
}

type server struct {
	d Deps
}

// NewRouter builds the control API router.
func NewRouter(d Deps) chi.Router {
	s := &server{d: d}

	r := chi.NewRouter()
	r.Use(SecurityHeaders)

	r.Get("/health", s.health)

	r.Group(func(r chi.Router) {
		r.Use(BearerAuth(d.Token))

		r.Route("/v1", func(r chi.Router) {
			r.Post("/push", s.startRun(run.KindPush))
			r.Post("/pull", s.startRun(run.KindPull))

			r.Get("/runs", s.listRuns)
			r.Get("/runs/{id}", s.getRun)
			r.Delete("/runs/{id}", s.cancelRun)

			r.Get("/settings", s.getSettings)
			r.Patch("/settings", s.patchSettings)
			r.Post("/settings/urls", s.addURL)
			r.Delete("/settings/urls", s.removeURL)

			r.Get("/events", s.listEvents)

			r.Get("/queue", s.queueStatus)
			r.Post("/queue/drain", s.drainQueue)

			r.Get("/triggers", s.triggers)
		})

		if d.MCP != nil {
			path := d.MCPPath
			if path == "" {
				path = "/mcp"
			}
			r.Handle(path, d.MCP)
		}
	})

	return r
}

func (s *server) health(w http.ResponseWriter, _ *http.Request) {
	writeJSON(w, http.StatusOK, map[string]string{"status": "ok", "version": s.d.Version})
}

func (s *server) startRun(kind run.Kind) http.HandlerFunc {
	return func(w http.ResponseWriter, _ *http.Request) {
		r, err := s.d.Runs.Start(kind, sourceAPI, "")
		if err != nil {
			if errors.Is(err, run.ErrBusy) {
				writeError(w, http.StatusConflict, "busy", err.Error())
				return
			}
			writeError(w, http.StatusInternalServerError, "internal", err.Error())
			return
		}
		writeJSON(w, http.StatusAccepted, r.Snapshot())
	}
}

func (s *server) listRuns(w http.ResponseWriter, r *http.Request) {
	q := r.URL.Query()
	filter := run.Filter{
		Kind:   run.Kind(q.Get("kind")),
		Status: run.Status(q.Get("status")),
	}
	var err error
	if filter.Limit, err = intParam(q.Get("limit"), 20); err != nil {
		writeError(w, http.StatusBadRequest, "bad_request", "limit must be a non-negative integer")
		return
	}
	if filter.Since, err = timeParam(q.Get("since")); err != nil {
		writeError(w, http.StatusBadRequest, "bad_request", "since must be an RFC 3339 time")
		return
	}
	runs := s.d.Runs.List(filter)
	if runs == nil {
		runs = []run.Snapshot{}
	}
	writeJSON(w, http.StatusOK, map[string]any{"runs": runs})
}

func (s *server) getRun(w http.ResponseWriter, r *http.Request) {
	var wait time.Duration
	if raw := r.URL.Query().Get("wait"); raw != "" {
		d, err := time.ParseDuration(raw)
		if err != nil || d < 0 {
			writeError(w, http.StatusBadRequest, "bad_request", "wait must be a positive duration such as 30s")
			return
		}
		wait = min(d, maxWait)
	}

	snap, err := s.d.Runs.Wait(r.Context(), chi.URLParam(r, "id"), wait)
	if err != nil {
		writeRunError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, snap)
}

func (s *server) cancelRun(w http.ResponseWriter, r *http.Request) {
	if err := s.d.Runs.Cancel(chi.URLParam(r, "id")); err != nil {
		writeRunError(w, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

func (s *server) getSettings(w http.ResponseWriter, _ *http.Request) {
	writeJSON(w, http.StatusOK, s.d.Settings.Current())
}

func (s *server) patchSettings(w http.ResponseWriter, r *http.Request) {
	var p settings.Patch
	if !decodeJSONBody(w, r, &p) {
		return
	}
	if p.Empty() {
		writeJSON(w, http.StatusOK, s.d.Settings.Current())
		return
	}
	updated, err := s.d.Settings.Update(r.Context(), p)
	if err != nil {
		writeSettingsError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, updated)
}

type urlRequest struct {
	URL string `json:"url"`
}

func (s *server) addURL(w http.ResponseWriter, r *http.Request) {
	var req urlRequest
	if !decodeJSONBody(w, r, &req) {
		return
	}
	updated, err := s.d.Settings.AddSyncURL(r.Context(), req.URL)
	if err != nil {
		writeSettingsError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, updated)
}

func (s *server) removeURL(w http.ResponseWriter, r *http.Request) {
	var req urlRequest
	if !decodeJSONBody(w, r, &req) {
		return
	}
	if req.URL == "" {
		writeError(w, http.StatusBadRequest, "bad_request", "url is required")
		return
	}
	updated, err := s.d.Settings.RemoveSyncURL(r.Context(), req.URL)
	if err != nil {
		writeSettingsError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, updated)
}

func (s *server) listEvents(w http.ResponseWriter, r *http.Request) {
	q := r.URL.Query()
	filter := store.EventFilter{
		RunID: q.Get("run_id"),
		Stage: q.Get("stage"),
	}
	var err error
	if filter.Limit, err = intParam(q.Get("limit"), 50); err != nil {
		writeError(w, http.StatusBadRequest, "bad_request", "limit must be a non-negative integer")
		return
	}
	if filter.Since, err = timeParam(q.Get("since")); err != nil {
		writeError(w, http.StatusBadRequest, "bad_request", "since must be an RFC 3339 time")
		return
	}
	events, err := s.d.Events.ListEvents(r.Context(), filter)
	if err != nil {
		slog.Error("listing events failed", "error", err)
		writeError(w, http.StatusInternalServerError, "internal", "failed to list events")
		return
	}
	if events == nil {
		events = []store.EventRecord{}
	}
	writeJSON(w, http.StatusOK, map[string]any{"events": events})
}

// jobView is a queued job without its document body.
type jobView struct {
	ID            string    `json:"id"`
	Op            gist.Op   `json:"op"`
	DocumentID    string    `json:"documentId,omitempty"`
	Attempts      int       `json:"attempts"`
	CreatedAt     time.Time `json:"createdAt"`
	NextAttemptAt time.Time `json:"nextAttemptAt"`
}

type queueView struct {
	Jobs       []jobView `json:"jobs"`
	NextWakeUp time.Time `json:"nextWakeUp,omitzero"`
}

func (s *server) queueView(ctx context.Context) (queueView, error) {
	jobs, err := s.d.Queue.Jobs(ctx)
	if err != nil {
		return queueView{}, err
	}
	view := queueView{Jobs: make([]jobView, 0, len(jobs))}
	for _, j := range jobs {
		view.Jobs = append(view.Jobs, jobView{
			ID:            j.ID,
			Op:            j.Op,
			DocumentID:    j.DocumentID,
			Attempts:      j.Attempts,
			CreatedAt:     j.CreatedAt,
			NextAttemptAt: j.NextAttemptAt,
		})
	}
	if t, ok := s.d.Queue.NextWakeUp(); ok {
		view.NextWakeUp = t
	}
	return view, nil
}

func (s *server) queueStatus(w http.ResponseWriter, r *http.Request) {
	view, err := s.queueView(r.Context())
	if err != nil {
		slog.Error("reading queue failed", "error", err)
		writeError(w, http.StatusInternalServerError, "internal", "failed to read queue")
		return
	}
	writeJSON(w, http.StatusOK, view)
}

func (s *server) drainQueue(w http.ResponseWriter, r *http.Request) {
	if err := s.d.Queue.ProcessQueue(r.Context()); err != nil {
		slog.Error("draining queue failed", "error", err)
		writeError(w, http.StatusInternalServerError, "internal", err.Error())
		return
	}
	s.queueStatus(w, r)
}

func (s *server) triggers(w http.ResponseWriter, _ *http.Request) {
	writeJSON(w, http.StatusOK, s.d.Triggers.State())
}

func decodeJSONBody(w http.ResponseWriter, r *http.Request, dst any) bool {
	dec := json.NewDecoder(http.MaxBytesReader(w, r.Body, maxBodyBytes))
	dec.DisallowUnknownFields()
	if err := dec.Decode(dst); err != nil {
		writeError(w, http.StatusBadRequest, "bad_request", "invalid json body")
		return false
	}
	return true
}

func writeRunError(w http.ResponseWriter, err error) {
	switch {
	case errors.Is(err, run.ErrNotFound):
		writeError(w, http.StatusNotFound, "not_found", err.Error())
	case errors.Is(err, run.ErrFinished):
		writeError(w, http.StatusConflict, "finished", err.Error())
	default:
		writeError(w, http.StatusInternalServerError, "internal", err.Error())
	}
}

func writeSettingsError(w http.ResponseWriter, err error) {
	if errors.Is(err, settings.ErrInvalid) || errors.Is(err, pattern.ErrInvalidOrigin) {
		writeError(w, http.StatusBadRequest, "bad_request", err.Error())
		return
	}
	slog.Error("settings update failed", "error", err)
	writeError(w, http.StatusInternalServerError, "internal", "failed to update settings")
}

func intParam(raw string, def int) (int, error) {
	if raw == "" {
		return def, nil
	}
	n, err := strconv.Atoi(raw)
	if err != nil || n < 0 {
		return 0, errors.New("invalid integer")
	}
	return n, nil
}

func timeParam(raw string) (time.Time, error) {
	if raw == "" {
		return time.Time{}, nil
	}
	return time.Parse(time.RFC3339, raw)
}

func writeJSON(w http.ResponseWriter, status int, data any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(data)
}

func writeError(w http.ResponseWriter, status int, code, message string) {
	writeJSON(w, status, map[string]string{
		"code":    code,
		"message": message,
	})
}
