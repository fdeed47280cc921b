package services

import (
	"context"
	"errors"
	"fmt"

	"github.com/dukex/gale/pkg/models"
	"github.com/dukex/gale/pkg/workfile"
	"github.com/dukex/gale/pkg/workflow"
)

// ErrWorkflowNotFound is returned when a workflow is not found.
var ErrWorkflowNotFound = workflow.ErrWorkflowNotFound

// ScheduleRebuilder re-registers cron entries after a reload.
type ScheduleRebuilder interface {
	Rebuild(ctx context.Context) error
}

// Workflows serves the loaded workflow set.
type Workflows struct {
	repository *workflow.Repository
	loader     *workfile.Loader
	validator  *workfile.Validator
	scheduler  ScheduleRebuilder
}

// NewWorkflows creates a new workflows service. The scheduler may be nil
// when no schedule triggers run in this process.
func NewWorkflows(repository *workflow.Repository, loader *workfile.Loader, validator *workfile.Validator, scheduler ScheduleRebuilder) *Workflows {
	return &Workflows{
		repository: repository,
		loader:     loader,
		validator:  validator,
		scheduler:  scheduler,
	}
}

// HealthCheck checks the health of the workflow repository.
func (w *Workflows) HealthCheck(ctx context.Context) (string, bool) {
	if w.repository == nil {
		return "Workflow repository not initialized", false
	}

	return w.repository.HealthCheck(ctx)
}

// List returns every loaded workflow in file order.
func (w *Workflows) List(ctx context.Context) ([]*models.Workflow, error) {
	return w.repository.FetchAll(ctx)
}

// FetchByName returns one loaded workflow.
func (w *Workflows) FetchByName(ctx context.Context, name string) (*models.Workflow, error) {
	return w.repository.FetchByName(ctx, name)
}

// ValidateSource checks a workflow document without loading it. Schema
// and decode failures come back as findings, not errors; the document
// being broken is the expected answer, not a fault.
func (w *Workflows) ValidateSource(ctx context.Context, source []byte) (workfile.Findings, error) {
	if len(source) == 0 {
		return nil, NewValidationError(
			"ValidateSource",
			"EMPTY_SOURCE",
			"workflow source cannot be empty",
			ErrEmptySource,
		)
	}

	wf, err := w.loader.Parse(source, "request")
	if err != nil {
		return parseFindings(err), nil
	}

	return w.validator.Validate(wf), nil
}

// Reload re-reads the workflow directory and re-registers schedules.
func (w *Workflows) Reload(ctx context.Context) error {
	if err := w.repository.Reload(); err != nil {
		return fmt.Errorf("failed to reload workflows: %w", err)
	}

	if w.scheduler != nil {
		if err := w.scheduler.Rebuild(ctx); err != nil {
			return fmt.Errorf("failed to rebuild schedules: %w", err)
		}
	}

	return nil
}

// parseFindings converts a parse failure into findings so callers get
// the same shape for every kind of brokenness.
func parseFindings(err error) workfile.Findings {
	schemaErr := &workfile.SchemaError{}
	if errors.As(err, &schemaErr) {
		findings := make(workfile.Findings, 0, len(schemaErr.Causes))
		for _, cause := range schemaErr.Causes {
			findings = append(findings, workfile.Finding{
				Severity: workfile.SeverityError,
				Code:     workfile.CodeSchema,
				Message:  cause,
			})
		}

		return findings
	}

	return workfile.Findings{{
		Severity: workfile.SeverityError,
		Code:     workfile.CodeModel,
		Message:  err.Error(),
	}}
}
