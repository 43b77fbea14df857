package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"syscall"

	"gopkg.in/natefinch/lumberjack.v2"

	"github.com/btouchard/cookiejar/internal/config"
	"github.com/btouchard/cookiejar/internal/store"
)

var version = "dev"

func main() {
	if len(os.Args) < 2 {
		printUsage()
		os.Exit(1)
	}

	args := os.Args[2:]
	switch os.Args[1] {
	case "serve":
		cmdServe(args)
	case "push":
		cmdPush(args)
	case "pull":
		cmdPull(args)
	case "settings":
		cmdSettings(args)
	case "secrets":
		cmdSecrets(args)
	case "queue":
		cmdQueue(args)
	case "token":
		cmdToken(args)
	case "check":
		cmdCheck(args)
	case "version":
		fmt.Printf("cookiejar %s\n", version)
	default:
		fmt.Fprintf(os.Stderr, "unknown command: %s\n", os.Args[1])
		printUsage()
		os.Exit(1)
	}
}

func printUsage() {
	fmt.Fprintf(os.Stderr, "Usage: cookiejar <command> [flags]\n\n")
	fmt.Fprintf(os.Stderr, "Commands:\n")
	fmt.Fprintf(os.Stderr, "  serve                         Run the sync daemon and control API\n")
	fmt.Fprintf(os.Stderr, "  push                          Upload the cookies of the sync URLs once\n")
	fmt.Fprintf(os.Stderr, "  pull                          Download and apply cookies once\n")
	fmt.Fprintf(os.Stderr, "  settings show|set|add-url|remove-url\n")
	fmt.Fprintf(os.Stderr, "                                Inspect or change sync settings\n")
	fmt.Fprintf(os.Stderr, "  secrets set|clear             Store or forget the GitHub token and passphrase\n")
	fmt.Fprintf(os.Stderr, "  queue list|drain              Inspect or retry rate-limited Gist writes\n")
	fmt.Fprintf(os.Stderr, "  token show|rotate             Show or rotate the control API token\n")
	fmt.Fprintf(os.Stderr, "  check                         Validate configuration\n")
	fmt.Fprintf(os.Stderr, "  version                       Print version\n")
}

// newFlagSet returns a flag set carrying the shared -config flag.
func newFlagSet(name string) (*flag.FlagSet, *string) {
	fs := flag.NewFlagSet(name, flag.ExitOnError)
	configPath := fs.String("config", "", "path to config file")
	return fs, configPath
}

func cmdServe(args []string) {
	fs, configPath := newFlagSet("serve")
	_ = fs.Parse(args) // ExitOnError handles errors

	cfg := mustLoadConfig(*configPath)
	setupLogging(cfg, true)

	slog.Info("starting cookiejar",
		"version", version,
		"host", cfg.Server.Host,
		"port", cfg.Server.Port)

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGTERM, syscall.SIGINT)
	defer stop()

	if err := serve(ctx, cfg); err != nil {
		slog.Error("server error", "error", err)
		os.Exit(1)
	}
}

func cmdCheck(args []string) {
	fs, configPath := newFlagSet("check")
	_ = fs.Parse(args) // ExitOnError handles errors

	if _, err := loadConfig(*configPath); err != nil {
		fmt.Fprintf(os.Stderr, "configuration error: %v\n", err)
		os.Exit(1)
	}

	fmt.Println("configuration is valid")
}

func loadConfig(path string) (*config.Config, error) {
	if path != "" {
		return config.LoadFromFile(path)
	}
	return config.Load()
}

func mustLoadConfig(path string) *config.Config {
	cfg, err := loadConfig(path)
	if err != nil {
		fmt.Fprintf(os.Stderr, "configuration error: %v\n", err)
		os.Exit(1)
	}
	return cfg
}

// setupLogging installs the default logger. The daemon writes JSON to
// stdout; one-shot commands keep stdout for their output and log warnings
// to stderr. Both also write to the rotating log file when configured.
func setupLogging(cfg *config.Config, daemon bool) {
	var level slog.Level
	switch cfg.Server.LogLevel {
	case "debug":
		level = slog.LevelDebug
	case "warn":
		level = slog.LevelWarn
	case "error":
		level = slog.LevelError
	default:
		level = slog.LevelInfo
	}

	var handlers []slog.Handler
	if daemon {
		handlers = append(handlers, slog.NewJSONHandler(os.Stdout, &slog.HandlerOptions{Level: level}))
	} else {
		handlers = append(handlers, slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{Level: max(level, slog.LevelWarn)}))
	}

	if cfg.Server.LogFile != "" {
		rotator := &lumberjack.Logger{
			Filename:   cfg.Server.LogFile,
			MaxSize:    cfg.Server.LogMaxSizeMB,
			MaxBackups: cfg.Server.LogMaxBackups,
			Compress:   true,
		}
		handlers = append(handlers, slog.NewJSONHandler(rotator, &slog.HandlerOptions{Level: level}))
	}

	logger := slog.New(slog.NewMultiHandler(handlers...))
	slog.SetDefault(logger)
}

// fatal prints err and exits. A held instance lock gets a hint instead of
// the raw error.
func fatal(cfg *config.Config, err error) {
	if errors.Is(err, store.ErrLocked) {
		fmt.Fprintf(os.Stderr, "another cookiejar process holds %s; stop it or use the control API\n", cfg.Server.DataDir)
		os.Exit(2)
	}
	fmt.Fprintf(os.Stderr, "error: %v\n", err)
	os.Exit(1)
}
