package services

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/dukex/gale/internal/store"
	"github.com/dukex/gale/pkg/models"
)

// ErrRunNotFound is returned when a run is not found.
var ErrRunNotFound = store.ErrRunNotFound

// RunCanceller stops an actively executing run.
type RunCanceller interface {
	Cancel(runID string) error
}

// Runs serves run records and run-level operations.
type Runs struct {
	store     *store.Store
	canceller RunCanceller
}

// NewRuns creates a new runs service. The canceller may be nil when the
// caller has no executing runs to cancel.
func NewRuns(st *store.Store, canceller RunCanceller) *Runs {
	return &Runs{
		store:     st,
		canceller: canceller,
	}
}

// HealthCheck checks the health of the run store.
func (r *Runs) HealthCheck(ctx context.Context) (string, bool) {
	if r.store == nil {
		return "Run store not initialized", false
	}

	return r.store.HealthCheck(ctx)
}

// ListRunsRequest contains options for listing runs.
type ListRunsRequest struct {
	// Filtering
	Workflow string

	// Pagination
	Limit  int64
	Offset int64
}

// ListRunsResponse contains the result of listing runs.
type ListRunsResponse struct {
	Runs        []*models.WorkflowRun `json:"runs"`
	TotalCount  int64                 `json:"total_count"`
	HasNextPage bool                  `json:"has_next_page"`
}

// ListRuns retrieves run summaries, newest first.
func (r *Runs) ListRuns(ctx context.Context, req ListRunsRequest) (*ListRunsResponse, error) {
	if req.Limit <= 0 {
		req.Limit = 20
	}

	if req.Limit > 100 {
		req.Limit = 100
	}

	if req.Offset < 0 {
		req.Offset = 0
	}

	runs, err := r.store.ListRuns(ctx, req.Workflow, req.Limit, req.Offset)
	if err != nil {
		return nil, fmt.Errorf("failed to list runs: %w", err)
	}

	total, err := r.store.CountRuns(ctx, req.Workflow)
	if err != nil {
		return nil, fmt.Errorf("failed to count runs: %w", err)
	}

	return &ListRunsResponse{
		Runs:        runs,
		TotalCount:  total,
		HasNextPage: req.Offset+int64(len(runs)) < total,
	}, nil
}

// FetchByID retrieves a run with its jobs and step results.
func (r *Runs) FetchByID(ctx context.Context, id string) (*models.WorkflowRun, error) {
	return r.store.GetRun(ctx, id)
}

// Cancel stops an executing run. Runs that already reached a terminal
// status report a conflict; queued runs on another instance report
// ErrRunNotActive.
func (r *Runs) Cancel(ctx context.Context, id string) error {
	if r.canceller == nil {
		return fmt.Errorf("run %s: %w", id, ErrRunNotActive)
	}

	err := r.canceller.Cancel(id)
	if err == nil {
		return nil
	}

	if !errors.Is(err, ErrRunNotActive) {
		return err
	}

	run, getErr := r.store.GetRun(ctx, id)
	if getErr != nil {
		return getErr
	}

	if run.Status.Terminal() {
		return fmt.Errorf("run %s is %s: %w", id, run.Status, ErrRunNotCancellable)
	}

	return err
}

// Delete removes a run and its job records.
func (r *Runs) Delete(ctx context.Context, id string) error {
	return r.store.DeleteRun(ctx, id)
}

// Prune removes terminal runs older than the retention window and
// returns how many were deleted.
func (r *Runs) Prune(ctx context.Context, retention time.Duration) (int64, error) {
	if retention <= 0 {
		return 0, NewValidationError(
			"Prune",
			"INVALID_RETENTION",
			"retention must be positive",
			ErrInvalidRequest,
		)
	}

	return r.store.PruneBefore(ctx, time.Now().UTC().Add(-retention))
}
