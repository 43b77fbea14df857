// Package engine runs the push, pull and apply flows that move the
// encrypted cookie set between the local jar and the remote document.
package engine

import (
	"context"
	"encoding/json"
	"time"

	"github.com/btouchard/cookiejar/internal/clock"
	"github.com/btouchard/cookiejar/internal/cookies"
	"github.com/btouchard/cookiejar/internal/gist"
	"github.com/btouchard/cookiejar/internal/notify"
	"github.com/btouchard/cookiejar/internal/secrets"
	"github.com/btouchard/cookiejar/internal/settings"
)

// DefaultApplyThrottle is the pause between two cookie writes during apply.
const DefaultApplyThrottle = 100 * time.Millisecond

// Remote is the document API the flows talk to.
type Remote interface {
	Get(ctx context.Context, id, token string) (*gist.Document, error)
	Create(ctx context.Context, token string, body gist.DocumentBody) (string, error)
	Update(ctx context.Context, id string, body gist.DocumentBody, token string) (*gist.Document, error)
	FindLatestOwnMatching(ctx context.Context, required []string, token string) (*gist.Document, error)
}

// CookieStore reads and writes the local jar.
type CookieStore interface {
	ListForOrigins(ctx context.Context, origins []string) ([]cookies.Cookie, error)
	SetCookie(ctx context.Context, c cookies.Cookie) (cookies.Cookie, error)
}

// Permissions grants access to an origin before cookies are written to it.
type Permissions interface {
	RequestAccess(ctx context.Context, origin string) (bool, error)
}

// SettingsStore is the settings owner. Flows never write settings
// directly.
type SettingsStore interface {
	Persisted(ctx context.Context) (*settings.Settings, error)
	Update(ctx context.Context, p settings.Patch) (settings.Settings, error)
	Modify(ctx context.Context, fn func(current settings.Settings) (settings.Patch, error)) (settings.Settings, error)
}

// Sealer encrypts and decrypts the content file.
type Sealer interface {
	Seal(payload any, passphrase string) (string, error)
	Open(sealed, passphrase string) (json.RawMessage, error)
}

// Outcome is how a flow ended.
type Outcome string

const (
	OutcomeCompleted          Outcome = "completed"
	OutcomeQueued             Outcome = "queued"
	OutcomeRateLimited        Outcome = "rate_limited"
	OutcomeAwaitingPermission Outcome = "awaiting_permission"
	OutcomeFailed             Outcome = "failed"
)

// Result describes the end of one flow.
type Result struct {
	Outcome Outcome `json:"outcome"`
	// Stage is the last stage the flow reached.
	Stage      notify.Stage `json:"stage"`
	Err        error        `json:"-"`
	DocumentID string       `json:"documentId,omitempty"`
	RetryAt    time.Time    `json:"retryAt,omitzero"`
	// Handoff is set when a pull stops before writing cookies. It holds
	// cookie values and is never serialized.
	Handoff *Handoff `json:"-"`

	Applied       []string `json:"applied,omitempty"`
	FailedCookies []string `json:"failedCookies,omitempty"`
	DeniedOrigins []string `json:"deniedOrigins,omitempty"`
}

// Handoff carries a decrypted payload from pull to apply.
type Handoff struct {
	DocumentID          string          `json:"documentId"`
	Origins             []string        `json:"origins"`
	Groups              []OriginCookies `json:"groups"`
	Cookies             int             `json:"cookies"`
	LatestSyncTimestamp int64           `json:"latestSyncTimestamp,omitempty"`
}

// Deps are the collaborators of an Engine.
type Deps struct {
	Remote      Remote
	Cookies     CookieStore
	Permissions Permissions
	Settings    SettingsStore
	Secrets     secrets.Store
	Sealer      Sealer
	Events      notify.Notifier
	Clock       clock.Clock
	// Throttle defaults to DefaultApplyThrottle. Negative disables it.
	Throttle time.Duration
	// Description is the remote document description on create.
	Description string
}

// Engine runs the sync flows. Flows may run concurrently; the remote
// document is last-write-wins.
type Engine struct {
	remote      Remote
	cookies     CookieStore
	perms       Permissions
	settings    SettingsStore
	secrets     secrets.Store
	sealer      Sealer
	events      notify.Notifier
	clock       clock.Clock
	throttle    time.Duration
	description string
}

// New builds an Engine. Events and Clock may be nil.
func New(d Deps) *Engine {
	e := &Engine{
		remote:      d.Remote,
		cookies:     d.Cookies,
		perms:       d.Permissions,
		settings:    d.Settings,
		secrets:     d.Secrets,
		sealer:      d.Sealer,
		events:      d.Events,
		clock:       d.Clock,
		throttle:    d.Throttle,
		description: d.Description,
	}
	if e.events == nil {
		e.events = notify.NotifierFunc(func(notify.Event) {})
	}
	if e.clock == nil {
		e.clock = clock.Real()
	}
	if e.throttle == 0 {
		e.throttle = DefaultApplyThrottle
	}
	if e.description == "" {
		e.description = gist.DefaultDescription
	}
	return e
}

// Sync pulls and, when the pull hands off a payload, applies it.
func (e *Engine) Sync(ctx context.Context) Result {
	res := e.Pull(ctx)
	if res.Outcome != OutcomeAwaitingPermission || res.Handoff == nil {
		return res
	}
	return e.Apply(ctx, *res.Handoff)
}

// emitter stamps every event of one flow with its run identity.
type emitter struct {
	events    notify.Notifier
	runID     string
	sessionID string
}

func (e *Engine) emitter(ctx context.Context) emitter {
	runID, sessionID := notify.RunFrom(ctx)
	return emitter{events: e.events, runID: runID, sessionID: sessionID}
}

func (em emitter) emit(ev notify.Event) {
	ev.RunID = em.runID
	ev.MCPSessionID = em.sessionID
	if ev.Kind == "" {
		ev.Kind = notify.KindProgress
	}
	em.events.Notify(ev)
}

func (em emitter) progress(stage notify.Stage, message string, pct int) {
	em.emit(notify.Event{Stage: stage, Message: message, Progress: pct})
}

// fail emits the terminal error event and returns the failed Result.
func (em emitter) fail(reached notify.Stage, message string, err error) Result {
	ev := notify.Event{Stage: notify.StageError, Kind: notify.KindError, Message: message, Progress: 100}
	if err != nil {
		ev.Error = err.Error()
	}
	em.emit(ev)
	return Result{Outcome: OutcomeFailed, Stage: reached, Err: err}
}

func (e *Engine) loadSecrets(ctx context.Context) (secrets.Secrets, error) {
	if e.secrets == nil {
		return secrets.Secrets{}, nil
	}
	return e.secrets.Load(ctx)
}

func missingSecrets(s secrets.Secrets) *ConfigurationError {
	var missing []string
	if s.Token == "" {
		missing = append(missing, "api token")
	}
	if s.Passphrase == "" {
		missing = append(missing, "passphrase")
	}
	if len(missing) == 0 {
		return nil
	}
	return &ConfigurationError{Missing: missing}
}
