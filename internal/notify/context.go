package notify

import "context"

type runKey struct{}

type runInfo struct {
	runID     string
	sessionID string
}

// WithRun tags events emitted under ctx with a run id and, optionally,
// the MCP session that started the run.
func WithRun(ctx context.Context, runID, sessionID string) context.Context {
	return context.WithValue(ctx, runKey{}, runInfo{runID: runID, sessionID: sessionID})
}

// RunFrom returns the run id and MCP session id carried by ctx.
func RunFrom(ctx context.Context) (runID, sessionID string) {
	info, _ := ctx.Value(runKey{}).(runInfo)
	return info.runID, info.sessionID
}
