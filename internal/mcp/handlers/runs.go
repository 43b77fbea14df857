package handlers

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/mark3labs/mcp-go/mcp"
	"github.com/mark3labs/mcp-go/server"

	"github.com/btouchard/cookiejar/internal/run"
)

const (
	sourceMCP       = "mcp"
	longPollMaxWait = 30
)

// Runs starts and tracks sync runs. Defined at the consumer side.
type Runs interface {
	Start(kind run.Kind, source, mcpSessionID string) (*run.Run, error)
	Wait(ctx context.Context, id string, wait time.Duration) (run.Snapshot, error)
}

// Push returns a handler that starts a push run.
func Push(runs Runs) server.ToolHandlerFunc {
	return startRun(runs, run.KindPush)
}

// Pull returns a handler that starts a pull run. The run applies the
// downloaded cookies once origin permissions are resolved.
func Pull(runs Runs) server.ToolHandlerFunc {
	return startRun(runs, run.KindPull)
}

func startRun(runs Runs, kind run.Kind) server.ToolHandlerFunc {
	return func(ctx context.Context, _ mcp.CallToolRequest) (*mcp.CallToolResult, error) {
		var sessionID string
		if sess := server.ClientSessionFromContext(ctx); sess != nil {
			sessionID = sess.SessionID()
		}

		r, err := runs.Start(kind, sourceMCP, sessionID)
		if err != nil {
			if errors.Is(err, run.ErrBusy) {
				return mcp.NewToolResultError(fmt.Sprintf("Cannot start %s: %s. Try again once the current run finishes.", kind, err)), nil
			}
			return mcp.NewToolResultError(fmt.Sprintf("Cannot start %s: %s", kind, err)), nil
		}

		var b strings.Builder
		fmt.Fprintf(&b, "%s started\n\n", titleFor(kind))
		fmt.Fprintf(&b, "- ID: %s\n", r.ID)
		b.WriteString("\nUse check_run with this ID to follow progress.")
		return mcp.NewToolResultText(b.String()), nil
	}
}

// CheckRun returns a handler that reports a run's state. When
// wait_seconds > 0 and the run is still going, it waits for the run to
// finish or the timeout to expire.
func CheckRun(runs Runs) server.ToolHandlerFunc {
	return func(ctx context.Context, req mcp.CallToolRequest) (*mcp.CallToolResult, error) {
		args := req.GetArguments()

		runID, _ := args["run_id"].(string)
		if runID == "" {
			return mcp.NewToolResultError("run_id is required"), nil
		}

		waitSeconds := 0
		if w, ok := args["wait_seconds"].(float64); ok && w > 0 {
			waitSeconds = min(int(w), longPollMaxWait)
		}

		snap, err := runs.Wait(ctx, runID, time.Duration(waitSeconds)*time.Second)
		if err != nil {
			return mcp.NewToolResultError(fmt.Sprintf("Run not found: %s", err)), nil
		}
		return mcp.NewToolResultText(formatRun(snap, time.Now())), nil
	}
}

func titleFor(kind run.Kind) string {
	if kind == run.KindPull {
		return "Pull"
	}
	return "Push"
}

func formatRun(snap run.Snapshot, now time.Time) string {
	var b strings.Builder

	fmt.Fprintf(&b, "Run: %s (%s, from %s)\n", snap.ID, snap.Kind, snap.Source)
	fmt.Fprintf(&b, "Status: %s\n", snap.Status)

	switch snap.Status {
	case run.StatusPending:
	case run.StatusRunning:
		fmt.Fprintf(&b, "Duration: %s\n", snap.FormatDuration(now))
		fmt.Fprintf(&b, "Progress: %d%%", snap.Progress)
		if snap.Stage != "" {
			fmt.Fprintf(&b, " (%s)", snap.Stage)
		}
		b.WriteString("\n")
		if snap.Message != "" {
			fmt.Fprintf(&b, "Last step: %s\n", snap.Message)
		}
	default:
		fmt.Fprintf(&b, "Duration: %s\n", snap.FormatDuration(now))
		if snap.Message != "" {
			fmt.Fprintf(&b, "Message: %s\n", snap.Message)
		}
		if snap.Error != "" {
			fmt.Fprintf(&b, "Error: %s\n", snap.Error)
		}
	}

	if snap.DocumentID != "" {
		fmt.Fprintf(&b, "Gist: %s\n", snap.DocumentID)
	}
	if !snap.RetryAt.IsZero() {
		fmt.Fprintf(&b, "Retry at: %s\n", snap.RetryAt.Format(time.RFC3339))
	}
	if res := snap.Result; res != nil {
		if len(res.Applied) > 0 {
			fmt.Fprintf(&b, "Applied: %d cookies\n", len(res.Applied))
		}
		if len(res.FailedCookies) > 0 {
			fmt.Fprintf(&b, "Failed: %s\n", strings.Join(res.FailedCookies, ", "))
		}
		if len(res.DeniedOrigins) > 0 {
			fmt.Fprintf(&b, "Permission denied: %s\n", strings.Join(res.DeniedOrigins, ", "))
		}
	}
	return b.String()
}
