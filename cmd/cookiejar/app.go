package main

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"

	"github.com/btouchard/cookiejar/internal/clock"
	"github.com/btouchard/cookiejar/internal/config"
	"github.com/btouchard/cookiejar/internal/cookies"
	"github.com/btouchard/cookiejar/internal/engine"
	"github.com/btouchard/cookiejar/internal/envelope"
	"github.com/btouchard/cookiejar/internal/gist"
	"github.com/btouchard/cookiejar/internal/notify"
	"github.com/btouchard/cookiejar/internal/permission"
	"github.com/btouchard/cookiejar/internal/secrets"
	"github.com/btouchard/cookiejar/internal/settings"
	"github.com/btouchard/cookiejar/internal/store"
)

// app is the local stack shared by the daemon and one-shot commands.
type app struct {
	cfg      *config.Config
	lock     *store.InstanceLock
	db       *store.SQLiteStore
	clock    clock.Clock
	hub      *notify.Hub
	jar      *cookies.FileJar
	settings *settings.Reconciler
	secrets  secrets.Store
	perms    *permission.Manager
	repo     *gist.Repository
	engine   *engine.Engine
}

// openApp takes the instance lock and wires the stores, the remote
// repository and the sync engine. Events go to the hub, which holds the
// history recorder plus extra.
func openApp(ctx context.Context, cfg *config.Config, extra ...notify.Notifier) (*app, error) {
	lock, err := store.AcquireLock(cfg.Server.DataDir)
	if err != nil {
		return nil, err
	}

	db, err := store.NewSQLiteStore(cfg.Database.Path)
	if err != nil {
		_ = lock.Release()
		return nil, fmt.Errorf("opening database: %w", err)
	}
	slog.Debug("database opened", "path", cfg.Database.Path)

	a := &app{cfg: cfg, lock: lock, db: db, clock: clock.Real()}
	a.hub = notify.NewHub(append([]notify.Notifier{notify.NewRecorder(db)}, extra...)...)

	a.jar, err = cookies.OpenFileJar(cfg.Cookies.JarPath)
	if err != nil {
		a.Close()
		return nil, fmt.Errorf("opening cookie jar: %w", err)
	}

	a.settings = settings.NewReconciler(db, a.hub, a.jar)
	if _, err := a.settings.Load(ctx); err != nil {
		a.Close()
		return nil, fmt.Errorf("loading settings: %w", err)
	}

	a.secrets = secretStore(cfg.Secrets, db)

	var prompter permission.Prompter
	if cfg.Permissions.Interactive {
		prompter = permission.NewTerminalPrompter()
	}
	a.perms = permission.NewManager(db, permission.Policy{
		AutoGrant: cfg.Permissions.AutoGrant,
		Allowed:   cfg.Permissions.AllowedOrigins,
	}, prompter)

	client := gist.NewClient(cfg.Remote.BaseURL,
		&http.Client{Timeout: cfg.Remote.Timeout},
		gist.WithAPIVersion(cfg.Remote.APIVersion),
		gist.WithPaging(cfg.Remote.PerPage, cfg.Remote.MaxPages),
		gist.WithClock(a.clock),
	)
	policy := gist.Policy{MinDelay: cfg.Sync.MinRetryDelay, MaxBackoff: cfg.Sync.MaxBackoff}
	a.repo = gist.NewRepository(client, gist.NewQueue(db), policy, a.clock, secrets.TokenSource(a.secrets))

	a.engine = engine.New(engine.Deps{
		Remote:      a.repo,
		Cookies:     a.jar,
		Permissions: a.perms,
		Settings:    a.settings,
		Secrets:     a.secrets,
		Sealer:      envelope.New(envelope.WithIterations(cfg.Crypto.Iterations)),
		Events:      a.hub,
		Clock:       a.clock,
		Throttle:    cfg.Sync.ApplyThrottle,
		Description: cfg.Remote.Description,
	})
	a.engine.WatchQueue(a.repo)

	return a, nil
}

// secretStore selects the writable backend and falls back to the
// environment for anything it does not hold.
func secretStore(cfg config.SecretsConfig, db *store.SQLiteStore) secrets.Store {
	env := secrets.NewEnvStore(cfg.TokenEnv, cfg.PassphraseEnv)
	if cfg.Backend == "store" {
		return secrets.Chain{secrets.NewKVStore(db), env}
	}
	return secrets.Chain{secrets.NewKeyringStore(cfg.Service), env}
}

// Close stops the queue timer and releases the database and the lock.
func (a *app) Close() {
	if a.repo != nil {
		a.repo.Stop()
	}
	var errs []error
	if a.db != nil {
		errs = append(errs, a.db.Close())
	}
	if a.lock != nil {
		errs = append(errs, a.lock.Release())
	}
	if err := errors.Join(errs...); err != nil {
		slog.Warn("closing cookiejar", "error", err)
	}
}
