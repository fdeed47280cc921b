// Package status pushes run and job outcomes to external consumers, the
// way a hosted forge shows commit statuses next to a push or pull request.
package status

import (
	"context"

	"github.com/dukex/gale/pkg/models"
)

// State is a forge commit status state.
type State string

const (
	StatePending State = "pending"
	StateSuccess State = "success"
	StateFailure State = "failure"
	StateError   State = "error"
)

// StateFor maps a run status to the commit status it should display.
// Skipped counts as success: a skipped job either follows a failure that
// reports on its own, or cannot execute on the current host.
func StateFor(status models.RunStatus) State {
	switch status {
	case models.RunStatusPassed, models.RunStatusSkipped:
		return StateSuccess
	case models.RunStatusFailed:
		return StateFailure
	case models.RunStatusCancelled:
		return StateError
	default:
		return StatePending
	}
}

// Update is one status line for a commit.
type Update struct {
	Repository  string `json:"repository"`
	HeadSHA     string `json:"head_sha"`
	Context     string `json:"context"`
	State       State  `json:"state"`
	Description string `json:"description"`
	RunID       string `json:"run_id"`
}

// Reporter delivers status updates. Implementations must be safe for
// concurrent use; the dispatcher reports from multiple job goroutines.
type Reporter interface {
	Report(ctx context.Context, update Update) error
}

// NopReporter drops every update.
type NopReporter struct{}

func (NopReporter) Report(context.Context, Update) error { return nil }

// MultiReporter fans an update out to several reporters. Every reporter
// sees the update even when an earlier one fails; the first error wins.
type MultiReporter []Reporter

func (m MultiReporter) Report(ctx context.Context, update Update) error {
	var firstErr error
	for _, reporter := range m {
		if err := reporter.Report(ctx, update); err != nil && firstErr == nil {
			firstErr = err
		}
	}
	return firstErr
}
