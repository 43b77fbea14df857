package handlers

import (
	"context"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/mark3labs/mcp-go/mcp"
	"github.com/mark3labs/mcp-go/server"

	"github.com/btouchard/cookiejar/internal/gist"
	"github.com/btouchard/cookiejar/internal/store"
)

// EventLister reads persisted sync events.
type EventLister interface {
	ListEvents(ctx context.Context, f store.EventFilter) ([]store.EventRecord, error)
}

// Queue exposes the deferred remote writes.
type Queue interface {
	Jobs(ctx context.Context) ([]gist.Job, error)
	NextWakeUp() (time.Time, bool)
}

// SyncHistory returns a handler that lists recent sync events.
func SyncHistory(events EventLister) server.ToolHandlerFunc {
	return func(ctx context.Context, req mcp.CallToolRequest) (*mcp.CallToolResult, error) {
		args := req.GetArguments()

		filter := store.EventFilter{Limit: 50}
		if id, ok := args["run_id"].(string); ok {
			filter.RunID = id
		}
		if limit, ok := args["limit"].(float64); ok && limit > 0 {
			filter.Limit = int(limit)
		}
		if since, ok := args["since"].(string); ok && since != "" {
			t, err := time.Parse(time.RFC3339, since)
			if err != nil {
				return mcp.NewToolResultError("since must be an RFC 3339 time"), nil
			}
			filter.Since = t
		}

		records, err := events.ListEvents(ctx, filter)
		if err != nil {
			slog.Error("listing sync history failed", "error", err)
			return mcp.NewToolResultError("Failed to read sync history"), nil
		}
		if len(records) == 0 {
			return mcp.NewToolResultText("No sync events recorded."), nil
		}

		var b strings.Builder
		fmt.Fprintf(&b, "Sync events (%d, newest first)\n\n", len(records))
		for _, e := range records {
			fmt.Fprintf(&b, "[%s] %s %s", e.CreatedAt.UTC().Format(time.RFC3339), e.Kind, e.Stage)
			if e.RunID != "" {
				fmt.Fprintf(&b, " (%s)", e.RunID)
			}
			if e.Message != "" {
				fmt.Fprintf(&b, ": %s", e.Message)
			}
			if e.Error != "" {
				fmt.Fprintf(&b, " | error: %s", e.Error)
			}
			b.WriteString("\n")
		}
		return mcp.NewToolResultText(b.String()), nil
	}
}

// QueueStatus returns a handler that describes queued remote writes.
func QueueStatus(q Queue) server.ToolHandlerFunc {
	return func(ctx context.Context, _ mcp.CallToolRequest) (*mcp.CallToolResult, error) {
		jobs, err := q.Jobs(ctx)
		if err != nil {
			slog.Error("reading queue failed", "error", err)
			return mcp.NewToolResultError("Failed to read the job queue"), nil
		}
		if len(jobs) == 0 {
			return mcp.NewToolResultText("No queued Gist writes."), nil
		}

		var b strings.Builder
		fmt.Fprintf(&b, "Queued Gist writes (%d)\n\n", len(jobs))
		for _, j := range jobs {
			fmt.Fprintf(&b, "- %s %s", j.ID, j.Op)
			if j.DocumentID != "" {
				fmt.Fprintf(&b, " gist %s", j.DocumentID)
			}
			fmt.Fprintf(&b, " | attempts: %d | next attempt: %s\n", j.Attempts, j.NextAttemptAt.UTC().Format(time.RFC3339))
		}
		if t, ok := q.NextWakeUp(); ok {
			fmt.Fprintf(&b, "\nNext wake-up: %s\n", t.UTC().Format(time.RFC3339))
		}
		return mcp.NewToolResultText(b.String()), nil
	}
}
