package main

import (
	"bufio"
	"context"
	"encoding/json"
	"errors"
	"flag"
	"fmt"
	"io"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"golang.org/x/term"

	"github.com/btouchard/cookiejar/internal/auth"
	"github.com/btouchard/cookiejar/internal/engine"
	"github.com/btouchard/cookiejar/internal/notify"
	"github.com/btouchard/cookiejar/internal/run"
	"github.com/btouchard/cookiejar/internal/secrets"
	"github.com/btouchard/cookiejar/internal/settings"
)

// consoleNotifier prints flow events for one-shot commands.
type consoleNotifier struct {
	w io.Writer
}

func (c consoleNotifier) Notify(ev notify.Event) {
	if ev.Message == "" {
		return
	}
	switch ev.Kind {
	case notify.KindError:
		fmt.Fprintf(c.w, "error: %s", ev.Message)
	case notify.KindWarn:
		fmt.Fprintf(c.w, "warning: %s", ev.Message)
	default:
		fmt.Fprintf(c.w, "[%3d%%] %s", ev.Progress, ev.Message)
	}
	if ev.Error != "" && ev.Error != ev.Message {
		fmt.Fprintf(c.w, " (%s)", ev.Error)
	}
	fmt.Fprintln(c.w)
}

// withApp loads the configuration, opens the local stack and hands it to
// fn under a signal-aware context.
func withApp(name string, args []string, bind func(fs *flag.FlagSet), fn func(ctx context.Context, a *app, fs *flag.FlagSet) error) {
	fs, configPath := newFlagSet(name)
	if bind != nil {
		bind(fs)
	}
	_ = fs.Parse(args) // ExitOnError handles errors

	cfg := mustLoadConfig(*configPath)
	setupLogging(cfg, false)

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGTERM, syscall.SIGINT)
	defer stop()

	a, err := openApp(ctx, cfg, consoleNotifier{w: os.Stderr})
	if err != nil {
		fatal(cfg, err)
	}
	err = fn(ctx, a, fs)
	a.Close()
	if err != nil {
		fatal(cfg, err)
	}
}

func cmdPush(args []string) {
	withApp("push", args, nil, func(ctx context.Context, a *app, _ *flag.FlagSet) error {
		res := a.engine.Push(notify.WithRun(ctx, run.GenerateID(), ""))
		return report(res)
	})
}

func cmdPull(args []string) {
	withApp("pull", args, nil, func(ctx context.Context, a *app, _ *flag.FlagSet) error {
		res := a.engine.Sync(notify.WithRun(ctx, run.GenerateID(), ""))
		if err := report(res); err != nil {
			return err
		}
		if len(res.DeniedOrigins) > 0 {
			fmt.Fprintf(os.Stderr, "permission denied for: %s\n", strings.Join(res.DeniedOrigins, ", "))
		}
		return nil
	})
}

// report prints the outcome of a flow and converts failures to errors.
func report(res engine.Result) error {
	switch res.Outcome {
	case engine.OutcomeCompleted:
		if res.DocumentID != "" {
			fmt.Printf("done (gist %s)\n", res.DocumentID)
		} else {
			fmt.Println("done")
		}
		return nil
	case engine.OutcomeQueued:
		fmt.Printf("queued; retry after %s with `cookiejar queue drain` or keep `cookiejar serve` running\n", res.RetryAt.Local().Format(time.RFC3339))
		return nil
	case engine.OutcomeRateLimited:
		return fmt.Errorf("rate limited until %s", res.RetryAt.Local().Format(time.RFC3339))
	default:
		if res.Err != nil {
			return res.Err
		}
		return fmt.Errorf("%s failed at %s", res.Outcome, res.Stage)
	}
}

func cmdSettings(args []string) {
	if len(args) == 0 {
		args = []string{"show"}
	}
	sub, rest := args[0], args[1:]

	switch sub {
	case "show":
		withApp("settings show", rest, nil, func(_ context.Context, a *app, _ *flag.FlagSet) error {
			return printJSON(a.settings.Current())
		})

	case "set":
		var (
			autoSync     bool
			syncOnChange bool
			interval     int
			gistID       string
		)
		bind := func(fs *flag.FlagSet) {
			fs.BoolVar(&autoSync, "auto-sync", true, "enable automatic sync")
			fs.BoolVar(&syncOnChange, "sync-on-change", true, "push after cookie changes")
			fs.IntVar(&interval, "interval", settings.DefaultSyncIntervalMinutes, "interval in minutes")
			fs.StringVar(&gistID, "gist-id", "", "Gist ID to sync with")
		}
		withApp("settings set", rest, bind, func(ctx context.Context, a *app, fs *flag.FlagSet) error {
			var p settings.Patch
			fs.Visit(func(f *flag.Flag) {
				switch f.Name {
				case "auto-sync":
					p.AutoSyncEnabled = settings.Ptr(autoSync)
				case "sync-on-change":
					p.SyncOnChange = settings.Ptr(syncOnChange)
				case "interval":
					p.SyncIntervalMinutes = settings.Ptr(interval)
				case "gist-id":
					p.RemoteDocumentID = settings.Ptr(strings.TrimSpace(gistID))
				}
			})
			if p.Empty() {
				return errors.New("nothing to set; see cookiejar settings set -h")
			}
			s, err := a.settings.Update(ctx, p)
			if err != nil {
				return err
			}
			return printJSON(s)
		})

	case "add-url", "remove-url":
		withApp("settings "+sub, rest, nil, func(ctx context.Context, a *app, fs *flag.FlagSet) error {
			if fs.NArg() != 1 {
				return fmt.Errorf("usage: cookiejar settings %s <url>", sub)
			}
			var (
				s   settings.Settings
				err error
			)
			if sub == "add-url" {
				s, err = a.settings.AddSyncURL(ctx, fs.Arg(0))
			} else {
				s, err = a.settings.RemoveSyncURL(ctx, fs.Arg(0))
			}
			if err != nil {
				return err
			}
			return printJSON(s)
		})

	default:
		fmt.Fprintf(os.Stderr, "unknown settings command: %s\n", sub)
		os.Exit(1)
	}
}

func cmdSecrets(args []string) {
	if len(args) == 0 {
		fmt.Fprintln(os.Stderr, "usage: cookiejar secrets set|clear")
		os.Exit(1)
	}
	sub, rest := args[0], args[1:]

	switch sub {
	case "set":
		withApp("secrets set", rest, nil, func(ctx context.Context, a *app, _ *flag.FlagSet) error {
			in := bufio.NewReader(os.Stdin)
			token, err := readSecret(in, "GitHub token: ")
			if err != nil {
				return err
			}
			pass, err := readSecret(in, "Passphrase: ")
			if err != nil {
				return err
			}
			if token == "" && pass == "" {
				return errors.New("nothing to store")
			}
			if err := a.secrets.Save(ctx, secrets.Secrets{Token: token, Passphrase: pass}); err != nil {
				return fmt.Errorf("saving secrets: %w", err)
			}
			fmt.Println("secrets saved")
			return nil
		})

	case "clear":
		withApp("secrets clear", rest, nil, func(ctx context.Context, a *app, _ *flag.FlagSet) error {
			if err := a.secrets.Clear(ctx); err != nil {
				return err
			}
			fmt.Println("secrets cleared")
			return nil
		})

	default:
		fmt.Fprintf(os.Stderr, "unknown secrets command: %s\n", sub)
		os.Exit(1)
	}
}

// readSecret reads one line without echo on a terminal, or plainly from
// piped input. An empty answer keeps the stored value.
func readSecret(in *bufio.Reader, prompt string) (string, error) {
	fd := int(os.Stdin.Fd())
	if term.IsTerminal(fd) {
		fmt.Fprint(os.Stderr, prompt)
		b, err := term.ReadPassword(fd)
		fmt.Fprintln(os.Stderr)
		if err != nil {
			return "", fmt.Errorf("reading secret: %w", err)
		}
		return strings.TrimSpace(string(b)), nil
	}
	line, err := in.ReadString('\n')
	if err != nil && !errors.Is(err, io.EOF) {
		return "", fmt.Errorf("reading secret: %w", err)
	}
	return strings.TrimSpace(line), nil
}

func cmdQueue(args []string) {
	if len(args) == 0 {
		args = []string{"list"}
	}
	sub, rest := args[0], args[1:]

	switch sub {
	case "list":
		withApp("queue list", rest, nil, func(ctx context.Context, a *app, _ *flag.FlagSet) error {
			return printQueue(ctx, a)
		})
	case "drain":
		withApp("queue drain", rest, nil, func(ctx context.Context, a *app, _ *flag.FlagSet) error {
			if err := a.repo.ProcessQueue(ctx); err != nil {
				return err
			}
			return printQueue(ctx, a)
		})
	default:
		fmt.Fprintf(os.Stderr, "unknown queue command: %s\n", sub)
		os.Exit(1)
	}
}

func printQueue(ctx context.Context, a *app) error {
	jobs, err := a.repo.Jobs(ctx)
	if err != nil {
		return err
	}
	if len(jobs) == 0 {
		fmt.Println("no queued Gist writes")
		return nil
	}
	for _, j := range jobs {
		fmt.Printf("%s\t%s\t%s\tattempts=%d\tnext=%s\n",
			j.ID, j.Op, j.DocumentID, j.Attempts, j.NextAttemptAt.Local().Format(time.RFC3339))
	}
	return nil
}

func cmdToken(args []string) {
	sub := "show"
	if len(args) > 0 {
		sub, args = args[0], args[1:]
	}
	fs, configPath := newFlagSet("token " + sub)
	_ = fs.Parse(args) // ExitOnError handles errors
	cfg := mustLoadConfig(*configPath)

	var (
		token string
		err   error
	)
	switch sub {
	case "show":
		token, err = auth.LoadOrCreateToken(cfg.Server.DataDir)
	case "rotate":
		token, err = auth.RotateToken(cfg.Server.DataDir)
	default:
		fmt.Fprintf(os.Stderr, "unknown token command: %s\n", sub)
		os.Exit(1)
	}
	if err != nil {
		fatal(cfg, err)
	}
	if cfg.Server.APIToken != "" {
		fmt.Fprintln(os.Stderr, "note: server.api_token is set in the configuration and takes precedence")
	}
	fmt.Println(token)
}

func printJSON(v any) error {
	enc := json.NewEncoder(os.Stdout)
	enc.SetIndent("", "  ")
	return enc.Encode(v)
}
