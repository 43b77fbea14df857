package mcp

import (
	"github.com/mark3labs/mcp-go/server"

	"github.com/btouchard/cookiejar/internal/mcp/handlers"
)

// Deps holds shared dependencies injected into MCP handlers.
type Deps struct {
	Runs     handlers.Runs
	Settings handlers.SettingsStore
	Events   handlers.EventLister
	Queue    handlers.Queue
	Version  string
}

// NewServer creates and configures the MCP server with all tools registered.
func NewServer(deps *Deps) *server.MCPServer {
	s := server.NewMCPServer(
		"CookieJar",
		deps.Version,
		server.WithToolCapabilities(true),
		server.WithLogging(),
	)

	registerTools(s, deps)

	return s
}
