package logging

import (
	"log/slog"
	"os"
	"strings"
)

// Init configures the global slog logger.
// In production (ENVIRONMENT=production) it uses JSON output for log aggregation.
// Otherwise it uses the human-readable text handler.
func Init() {
	env := strings.ToLower(os.Getenv("ENVIRONMENT"))

	var handler slog.Handler
	if env == "production" {
		handler = slog.NewJSONHandler(os.Stdout, &slog.HandlerOptions{
			Level: slog.LevelInfo,
		})
	} else {
		handler = slog.NewTextHandler(os.Stdout, &slog.HandlerOptions{
			Level: slog.LevelDebug,
		})
	}

	slog.SetDefault(slog.New(handler))
}

// WithSignal returns a logger with signal context fields attached.
// Use this for all logging while a signal is being processed.
func WithSignal(signalID, userID string) *slog.Logger {
	return slog.With(
		"signal_id", signalID,
		"user_id", userID,
	)
}

// WithWorkflow returns a logger scoped to a durable workflow run.
func WithWorkflow(logger *slog.Logger, workflowID, runID string) *slog.Logger {
	return logger.With(
		"workflow_id", workflowID,
		"run_id", runID,
	)
}
