package handlers

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/mark3labs/mcp-go/mcp"
	"github.com/mark3labs/mcp-go/server"

	"github.com/btouchard/cookiejar/internal/settings"
)

// SettingsStore reads and writes the sync configuration.
type SettingsStore interface {
	Current() settings.Settings
	Update(ctx context.Context, p settings.Patch) (settings.Settings, error)
	AddSyncURL(ctx context.Context, origin string) (settings.Settings, error)
	RemoveSyncURL(ctx context.Context, origin string) (settings.Settings, error)
}

// GetSettings returns a handler that shows the current settings.
func GetSettings(s SettingsStore) server.ToolHandlerFunc {
	return func(_ context.Context, _ mcp.CallToolRequest) (*mcp.CallToolResult, error) {
		return mcp.NewToolResultText(formatSettings(s.Current())), nil
	}
}

// UpdateSettings returns a handler that applies a partial settings update.
func UpdateSettings(s SettingsStore) server.ToolHandlerFunc {
	return func(ctx context.Context, req mcp.CallToolRequest) (*mcp.CallToolResult, error) {
		args := req.GetArguments()

		var p settings.Patch
		if v, ok := args["auto_sync"].(bool); ok {
			p.AutoSyncEnabled = settings.Ptr(v)
		}
		if v, ok := args["sync_on_change"].(bool); ok {
			p.SyncOnChange = settings.Ptr(v)
		}
		if v, ok := args["interval_minutes"].(float64); ok {
			p.SyncIntervalMinutes = settings.Ptr(int(v))
		}
		if v, ok := args["gist_id"].(string); ok {
			p.RemoteDocumentID = settings.Ptr(strings.TrimSpace(v))
		}
		if p.Empty() {
			return mcp.NewToolResultError("nothing to update: set at least one of auto_sync, sync_on_change, interval_minutes, gist_id"), nil
		}

		updated, err := s.Update(ctx, p)
		if err != nil {
			return mcp.NewToolResultError(fmt.Sprintf("Cannot update settings: %s", err)), nil
		}
		return mcp.NewToolResultText("Settings updated\n\n" + formatSettings(updated)), nil
	}
}

// AddSyncURL returns a handler that adds an origin to the sync list.
func AddSyncURL(s SettingsStore) server.ToolHandlerFunc {
	return func(ctx context.Context, req mcp.CallToolRequest) (*mcp.CallToolResult, error) {
		url, _ := req.GetArguments()["url"].(string)
		if url == "" {
			return mcp.NewToolResultError("url is required"), nil
		}
		updated, err := s.AddSyncURL(ctx, url)
		if err != nil {
			return mcp.NewToolResultError(fmt.Sprintf("Cannot add sync URL: %s", err)), nil
		}
		return mcp.NewToolResultText("Sync URL added\n\n" + formatSettings(updated)), nil
	}
}

// RemoveSyncURL returns a handler that removes an origin from the sync list.
func RemoveSyncURL(s SettingsStore) server.ToolHandlerFunc {
	return func(ctx context.Context, req mcp.CallToolRequest) (*mcp.CallToolResult, error) {
		url, _ := req.GetArguments()["url"].(string)
		if url == "" {
			return mcp.NewToolResultError("url is required"), nil
		}
		updated, err := s.RemoveSyncURL(ctx, url)
		if err != nil {
			return mcp.NewToolResultError(fmt.Sprintf("Cannot remove sync URL: %s", err)), nil
		}
		return mcp.NewToolResultText("Sync URL removed\n\n" + formatSettings(updated)), nil
	}
}

func formatSettings(s settings.Settings) string {
	var b strings.Builder
	fmt.Fprintf(&b, "- Auto sync: %s\n", onOff(s.AutoSyncEnabled))
	fmt.Fprintf(&b, "- Interval: %d min\n", s.SyncIntervalMinutes)
	fmt.Fprintf(&b, "- Sync on change: %s\n", onOff(s.SyncOnChange))
	if s.RemoteDocumentID != "" {
		fmt.Fprintf(&b, "- Gist: %s\n", s.RemoteDocumentID)
	} else {
		b.WriteString("- Gist: none yet\n")
	}
	if last := s.LastSync(); !last.IsZero() {
		fmt.Fprintf(&b, "- Last sync: %s\n", last.UTC().Format(time.RFC3339))
	} else {
		b.WriteString("- Last sync: never\n")
	}
	if len(s.SyncURLs) == 0 {
		b.WriteString("- Sync URLs: none\n")
	} else {
		fmt.Fprintf(&b, "- Sync URLs (%d):\n", len(s.SyncURLs))
		for _, u := range s.SyncURLs {
			fmt.Fprintf(&b, "  - %s\n", u)
		}
	}
	return b.String()
}

func onOff(v bool) string {
	if v {
		return "on"
	}
	return "off"
}
