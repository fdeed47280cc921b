// Package protocol defines the contracts between the registry and the
// built-in step actions.
package protocol

import (
	"context"
	"log/slog"

	"github.com/dukex/gale/pkg/models"
)

// Action is one executable "uses" step. Outputs returned by Execute are
// merged into the job environment for subsequent steps.
type Action interface {
	Execute(ctx context.Context, executionCtx models.ExecutionContext, logger *slog.Logger) (map[string]string, error)
}

// ActionFactory creates actions from the step's with configuration.
type ActionFactory interface {
	// ID is the canonical action name, e.g. "checkout".
	ID() string
	// Aliases lists hosted-platform action names that resolve to this
	// action, e.g. "actions/checkout".
	Aliases() []string
	// Schema returns the JSON schema for the with configuration.
	Schema() map[string]any
	Create(with map[string]string) (Action, error)
}
