package mcp

import (
	"github.com/mark3labs/mcp-go/mcp"
	"github.com/mark3labs/mcp-go/server"

	"github.com/btouchard/cookiejar/internal/mcp/handlers"
)

func registerTools(s *server.MCPServer, deps *Deps) {
	s.AddTool(
		mcp.NewTool("push",
			mcp.WithDescription("Encrypt the cookies of the configured sync URLs and upload them to the Gist. Returns immediately with a run ID; use check_run to follow progress."),
		),
		handlers.Push(deps.Runs),
	)

	s.AddTool(
		mcp.NewTool("pull",
			mcp.WithDescription("Download the Gist, decrypt it and apply the cookies locally once each origin is permitted. Returns immediately with a run ID; use check_run to follow progress."),
		),
		handlers.Pull(deps.Runs),
	)

	// check_run supports long-polling to reduce polling overhead
	s.AddTool(
		mcp.NewTool("check_run",
			mcp.WithDescription("Check the status and progress of a push or pull run."),
			mcp.WithString("run_id",
				mcp.Required(),
				mcp.Description("The run ID returned by push or pull"),
			),
			mcp.WithNumber("wait_seconds",
				mcp.Description("Wait up to N seconds (max 30) for the run to finish before responding. 0 for immediate response."),
			),
		),
		handlers.CheckRun(deps.Runs),
	)

	s.AddTool(
		mcp.NewTool("get_settings",
			mcp.WithDescription("Show the sync settings: auto sync, interval, sync on change, Gist ID and sync URLs."),
		),
		handlers.GetSettings(deps.Settings),
	)

	s.AddTool(
		mcp.NewTool("update_settings",
			mcp.WithDescription("Change sync settings. Omitted fields keep their current value."),
			mcp.WithBoolean("auto_sync",
				mcp.Description("Enable or disable automatic sync"),
			),
			mcp.WithBoolean("sync_on_change",
				mcp.Description("Push shortly after cookies of a sync URL change"),
			),
			mcp.WithNumber("interval_minutes",
				mcp.Description("Periodic push interval in minutes (at least 1)"),
			),
			mcp.WithString("gist_id",
				mcp.Description("Gist ID to sync with. Empty string forgets the current Gist."),
			),
		),
		handlers.UpdateSettings(deps.Settings),
	)

	s.AddTool(
		mcp.NewTool("add_sync_url",
			mcp.WithDescription("Add a site to the sync list, e.g. example.com or https://app.example.com."),
			mcp.WithString("url",
				mcp.Required(),
				mcp.Description("Site or origin to sync"),
			),
		),
		handlers.AddSyncURL(deps.Settings),
	)

	s.AddTool(
		mcp.NewTool("remove_sync_url",
			mcp.WithDescription("Remove a site from the sync list."),
			mcp.WithString("url",
				mcp.Required(),
				mcp.Description("Site or origin to remove"),
			),
		),
		handlers.RemoveSyncURL(deps.Settings),
	)

	s.AddTool(
		mcp.NewTool("sync_history",
			mcp.WithDescription("List recent sync events, newest first."),
			mcp.WithString("run_id",
				mcp.Description("Only events of this run"),
			),
			mcp.WithNumber("limit",
				mcp.Description("Maximum number of events to return (default: 50)"),
			),
			mcp.WithString("since",
				mcp.Description("RFC 3339 datetime, only events after this time"),
			),
		),
		handlers.SyncHistory(deps.Events),
	)

	s.AddTool(
		mcp.NewTool("queue_status",
			mcp.WithDescription("List Gist writes queued after rate limiting and when they will be retried."),
		),
		handlers.QueueStatus(deps.Queue),
	)
}
