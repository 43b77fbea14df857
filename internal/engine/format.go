package engine

import (
	"fmt"
	"time"
)

// formatDuration renders a wait as "1h 2m 3s", "2m 5s", "9s" or "now",
// rounding up to whole seconds.
func formatDuration(d time.Duration) string {
	if d <= 0 {
		return "now"
	}
	total := int64((d + time.Second - 1) / time.Second)
	hrs := total / 3600
	mins := (total % 3600) / 60
	secs := total % 60
	switch {
	case hrs > 0:
		return fmt.Sprintf("%dh %dm %ds", hrs, mins, secs)
	case mins > 0:
		return fmt.Sprintf("%dm %ds", mins, secs)
	default:
		return fmt.Sprintf("%ds", secs)
	}
}
