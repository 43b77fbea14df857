package notify

import (
	"context"
	"log/slog"
)

// LogNotifier writes every event to a structured logger.
type LogNotifier struct {
	logger *slog.Logger
}

// NewLogNotifier creates a LogNotifier. A nil logger uses slog.Default.
func NewLogNotifier(logger *slog.Logger) *LogNotifier {
	if logger == nil {
		logger = slog.Default()
	}
	return &LogNotifier{logger: logger}
}

func (n *LogNotifier) Notify(event Event) {
	level := slog.LevelInfo
	switch {
	case event.Terminal() || event.Kind == KindError:
		level = slog.LevelError
	case event.Kind == KindWarn:
		level = slog.LevelWarn
	case event.Kind == KindProgress:
		level = slog.LevelDebug
	}

	attrs := []slog.Attr{
		slog.String("stage", string(event.Stage)),
		slog.String("message", event.Message),
	}
	if event.RunID != "" {
		attrs = append(attrs, slog.String("run_id", event.RunID))
	}
	if event.Progress > 0 {
		attrs = append(attrs, slog.Int("progress", event.Progress))
	}
	if event.Error != "" {
		attrs = append(attrs, slog.String("error", event.Error))
	}
	if event.DocumentID != "" {
		attrs = append(attrs, slog.String("document_id", event.DocumentID))
	}
	if !event.RetryAt.IsZero() {
		attrs = append(attrs, slog.Time("retry_at", event.RetryAt))
	}
	n.logger.LogAttrs(context.Background(), level, "sync event", attrs...)
}
