package main

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"time"

	"github.com/mark3labs/mcp-go/server"

	"github.com/btouchard/cookiejar/internal/api"
	"github.com/btouchard/cookiejar/internal/auth"
	"github.com/btouchard/cookiejar/internal/config"
	cjmcp "github.com/btouchard/cookiejar/internal/mcp"
	"github.com/btouchard/cookiejar/internal/notify"
	"github.com/btouchard/cookiejar/internal/run"
	"github.com/btouchard/cookiejar/internal/trigger"
)

const maintenanceInterval = time.Hour

func serve(ctx context.Context, cfg *config.Config) error {
	// --- Local stack ---
	a, err := openApp(ctx, cfg, notify.NewLogNotifier(slog.Default()))
	if err != nil {
		return err
	}
	defer a.Close()

	// --- Control token ---
	token := cfg.Server.APIToken
	if token == "" {
		token, err = auth.LoadOrCreateToken(cfg.Server.DataDir)
		if err != nil {
			return fmt.Errorf("loading control token: %w", err)
		}
		slog.Info("control token ready", "path", auth.TokenPath(cfg.Server.DataDir))
	}

	// --- Run Manager ---
	runs := run.NewManager(a.engine, a.clock, cfg.Sync.MaxConcurrentRuns, cfg.Sync.RunTimeout)
	a.hub.Add(runs)
	defer func() {
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer cancel()
		if err := runs.Shutdown(shutdownCtx); err != nil {
			slog.Warn("runs did not stop in time", "error", err)
		}
	}()

	// --- Retry Queue ---
	if err := a.repo.Resume(ctx); err != nil {
		slog.Warn("failed to resume queued remote writes", "error", err)
	}

	// --- Cookie Watcher ---
	if cfg.Cookies.Watch {
		go func() {
			if err := a.jar.Watch(ctx); err != nil {
				slog.Error("cookie jar watcher stopped", "error", err)
			}
		}()
	}

	// --- Triggers ---
	sched := trigger.New(runs, a.settings, a.jar, a.clock, a.hub, cfg.Sync.Debounce)
	sched.Start()
	defer sched.Stop()

	go maintain(ctx, a, cfg.Database.RetentionDays)

	// --- MCP Server ---
	var mcpHTTP http.Handler
	if cfg.MCP.Enabled {
		mcpServer := cjmcp.NewServer(&cjmcp.Deps{
			Runs:     runs,
			Settings: a.settings,
			Events:   a.db,
			Queue:    a.repo,
			Version:  version,
		})
		a.hub.Add(notify.NewMCPNotifier(mcpServer, cfg.MCP.ProgressDebounce))
		mcpHTTP = server.NewStreamableHTTPServer(mcpServer)
	}

	// --- HTTP Router ---
	r := api.NewRouter(api.Deps{
		Runs:     runs,
		Settings: a.settings,
		Events:   a.db,
		Queue:    a.repo,
		Triggers: sched,
		Token:    token,
		Version:  version,
		MCP:      mcpHTTP,
		MCPPath:  cfg.MCP.Path,
	})

	// --- HTTP Server ---
	addr := fmt.Sprintf("%s:%d", cfg.Server.Host, cfg.Server.Port)
	srv := &http.Server{
		Addr:         addr,
		Handler:      r,
		ReadTimeout:  30 * time.Second,
		WriteTimeout: 5 * time.Minute,
		IdleTimeout:  2 * time.Minute,
	}

	errCh := make(chan error, 1)
	go func() {
		slog.Info("cookiejar is ready", "addr", addr)
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errCh <- err
		}
		close(errCh)
	}()

	select {
	case err := <-errCh:
		return fmt.Errorf("http server: %w", err)
	case <-ctx.Done():
	}

	slog.Info("shutting down")
	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	return srv.Shutdown(shutdownCtx)
}

// maintain prunes old history and expired cookies until ctx is done.
func maintain(ctx context.Context, a *app, retentionDays int) {
	ticker := time.NewTicker(maintenanceInterval)
	defer ticker.Stop()

	for {
		if n, err := a.db.Cleanup(ctx, time.Duration(retentionDays)*24*time.Hour); err != nil {
			slog.Warn("event cleanup failed", "error", err)
		} else if n > 0 {
			slog.Info("pruned sync history", "events", n)
		}
		if n, err := a.jar.PurgeExpired(ctx); err != nil {
			slog.Warn("purging expired cookies failed", "error", err)
		} else if n > 0 {
			slog.Debug("purged expired cookies", "count", n)
		}

		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
		}
	}
}
