package workflow

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/dukex/gale/pkg/models"
	"github.com/dukex/gale/pkg/workfile"
)

// ErrWorkflowNotFound indicates a workflow name with no definition behind
// it.
var ErrWorkflowNotFound = errors.New("workflow not found")

// Repository serves workflow definitions from a directory of workflow
// files, reloading from disk on demand.
type Repository struct {
	dir    string
	loader *workfile.Loader
	logger *slog.Logger

	mu        sync.RWMutex
	workflows []*models.Workflow
	loadedAt  time.Time
}

func NewRepository(dir string, logger *slog.Logger) *Repository {
	return &Repository{
		dir:    dir,
		loader: workfile.NewLoader(logger),
		logger: logger.With("module", "workflow_repository"),
	}
}

// Reload reads every workflow file in the directory and swaps the cached
// set. The previous set stays in place when loading fails.
func (r *Repository) Reload() error {
	workflows, err := r.loader.LoadDir(r.dir)
	if err != nil {
		return fmt.Errorf("reload workflows: %w", err)
	}

	r.mu.Lock()
	r.workflows = workflows
	r.loadedAt = time.Now().UTC()
	r.mu.Unlock()

	r.logger.Debug("Reloaded workflows", "dir", r.dir, "count", len(workflows))

	return nil
}

// FetchAll returns the cached workflow set, loading it on first use.
func (r *Repository) FetchAll(ctx context.Context) ([]*models.Workflow, error) {
	r.mu.RLock()
	loaded := !r.loadedAt.IsZero()
	workflows := r.workflows
	r.mu.RUnlock()

	if loaded {
		return workflows, nil
	}

	if err := r.Reload(); err != nil {
		return nil, err
	}

	r.mu.RLock()
	defer r.mu.RUnlock()

	return r.workflows, nil
}

// FetchByName returns one workflow by its declared name.
func (r *Repository) FetchByName(ctx context.Context, name string) (*models.Workflow, error) {
	workflows, err := r.FetchAll(ctx)
	if err != nil {
		return nil, err
	}

	for _, workflow := range workflows {
		if workflow.Name == name {
			return workflow, nil
		}
	}

	return nil, fmt.Errorf("%w: %s", ErrWorkflowNotFound, name)
}

// HealthCheck reports whether the workflow directory is loadable.
func (r *Repository) HealthCheck(ctx context.Context) (string, bool) {
	if _, err := r.FetchAll(ctx); err != nil {
		return err.Error(), false
	}

	r.mu.RLock()
	defer r.mu.RUnlock()

	return fmt.Sprintf("%d workflows loaded", len(r.workflows)), true
}
