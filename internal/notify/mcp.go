package notify

import (
	"log/slog"
	"sync"
	"time"
)

// MCPSender abstracts the mcp-go server notification methods.
// Defined consumer-side per Go convention.
type MCPSender interface {
	SendNotificationToSpecificClient(sessionID string, method string, params map[string]any) error
	SendNotificationToAllClients(method string, params map[string]any)
}

// MCPNotifier forwards sync events to MCP clients.
type MCPNotifier struct {
	sender   MCPSender
	debounce time.Duration
	now      func() time.Time

	mu       sync.Mutex
	lastSent map[string]time.Time // runID → last progress notification time
}

// NewMCPNotifier creates an MCPNotifier with the given debounce interval
// for progress events. Info, warning and error events are always sent
// immediately.
func NewMCPNotifier(sender MCPSender, debounce time.Duration) *MCPNotifier {
	if debounce <= 0 {
		debounce = 3 * time.Second
	}
	return &MCPNotifier{
		sender:   sender,
		debounce: debounce,
		now:      time.Now,
		lastSent: make(map[string]time.Time),
	}
}

// Notify sends an MCP notification for the given event.
func (n *MCPNotifier) Notify(event Event) {
	switch {
	case event.Terminal():
		n.clearDebounce(event.RunID)
		n.sendMessage(event, "error")
	case event.Stage == StagePushCompleted || event.Stage == StagePullCompleted:
		n.clearDebounce(event.RunID)
		n.sendMessage(event, "info")
	case event.Kind == KindProgress && event.RunID != "":
		n.sendProgress(event)
	case event.Kind == KindError:
		n.sendMessage(event, "error")
	case event.Kind == KindWarn:
		n.sendMessage(event, "warning")
	case event.Kind == KindInfo:
		n.sendMessage(event, "info")
	default:
		slog.Debug("mcp notifier: event not forwarded", "stage", string(event.Stage))
	}
}

// sendProgress sends a notifications/progress with debounce.
func (n *MCPNotifier) sendProgress(event Event) {
	n.mu.Lock()
	last, ok := n.lastSent[event.RunID]
	if ok && n.now().Sub(last) < n.debounce {
		n.mu.Unlock()
		return
	}
	n.lastSent[event.RunID] = n.now()
	n.mu.Unlock()

	params := map[string]any{
		"progressToken": event.RunID,
		"progress":      event.Progress,
		"total":         100,
		"message":       event.Message,
	}

	n.send(event.MCPSessionID, "notifications/progress", params)
}

// sendMessage sends a notifications/message.
func (n *MCPNotifier) sendMessage(event Event, level string) {
	data := map[string]any{
		"stage":   string(event.Stage),
		"message": event.Message,
	}
	if event.RunID != "" {
		data["run_id"] = event.RunID
	}
	if event.Error != "" {
		data["error"] = event.Error
	}
	if event.DocumentID != "" {
		data["document_id"] = event.DocumentID
	}
	if !event.RetryAt.IsZero() {
		data["retry_at"] = event.RetryAt.UTC().Format(time.RFC3339)
	}
	if len(event.URLs) > 0 {
		data["urls"] = event.URLs
	}

	params := map[string]any{
		"level":  level,
		"logger": "cookiejar",
		"data":   data,
	}

	n.send(event.MCPSessionID, "notifications/message", params)
}

// send dispatches to a specific client or broadcasts.
func (n *MCPNotifier) send(mcpSessionID, method string, params map[string]any) {
	if mcpSessionID != "" {
		if err := n.sender.SendNotificationToSpecificClient(mcpSessionID, method, params); err != nil {
			slog.Debug("mcp notification failed, falling back to broadcast",
				"session_id", mcpSessionID,
				"method", method,
				"error", err)
			n.sender.SendNotificationToAllClients(method, params)
		}
		return
	}
	n.sender.SendNotificationToAllClients(method, params)
}

// clearDebounce removes the debounce entry for a finished run.
func (n *MCPNotifier) clearDebounce(runID string) {
	if runID == "" {
		return
	}
	n.mu.Lock()
	delete(n.lastSent, runID)
	n.mu.Unlock()
}
