package status

import (
	"context"
	"log/slog"
)

// LogReporter writes status updates to the structured log. It is the
// default reporter when no webhook endpoint is configured.
type LogReporter struct {
	logger *slog.Logger
}

func NewLogReporter(logger *slog.Logger) *LogReporter {
	return &LogReporter{logger: logger.With("module", "status")}
}

func (r *LogReporter) Report(ctx context.Context, update Update) error {
	r.logger.InfoContext(ctx, "Status update",
		"repository", update.Repository,
		"sha", update.HeadSHA,
		"context", update.Context,
		"state", update.State,
		"description", update.Description,
		"run_id", update.RunID)

	return nil
}
