package workfile

import (
	"errors"
	"fmt"
	"log/slog"

	"github.com/dominikbraun/graph"
	"github.com/go-playground/validator/v10"
	"github.com/robfig/cron/v3"

	"github.com/dukex/gale/pkg/expr"
	"github.com/dukex/gale/pkg/models"
	"github.com/dukex/gale/pkg/registry"
)

// Validator runs the static checks a workflow must pass before it is
// eligible for planning.
type Validator struct {
	registry *registry.Registry
	validate *validator.Validate
	logger   *slog.Logger
}

func NewValidator(reg *registry.Registry, logger *slog.Logger) *Validator {
	return &Validator{
		registry: reg,
		validate: validator.New(validator.WithRequiredStructEnabled()),
		logger:   logger.With("module", "workfile"),
	}
}

// ValidateAll validates every workflow and rejects duplicate names across
// the set.
func (v *Validator) ValidateAll(workflows []*models.Workflow) Findings {
	var findings Findings

	seen := make(map[string]string, len(workflows))

	for _, workflow := range workflows {
		if prev, ok := seen[workflow.Name]; ok {
			findings = append(findings, Finding{
				Severity: SeverityError,
				Code:     CodeModel,
				Workflow: workflow.Name,
				Message:  fmt.Sprintf("workflow name already declared by %s", prev),
			})
		} else {
			seen[workflow.Name] = workflow.Source
		}

		findings = append(findings, v.Validate(workflow)...)
	}

	return findings
}

// Validate runs every static check against one workflow and returns the
// findings in declaration order.
func (v *Validator) Validate(workflow *models.Workflow) Findings {
	var findings Findings

	findings = append(findings, v.checkModel(workflow)...)
	findings = append(findings, v.checkTriggers(workflow)...)

	for _, job := range workflow.Jobs {
		findings = append(findings, v.checkMatrix(workflow, job)...)
		findings = append(findings, v.checkRunner(workflow, job)...)
		findings = append(findings, v.checkSteps(workflow, job)...)
	}

	findings = append(findings, v.checkNeeds(workflow)...)

	v.logger.Debug("Validated workflow",
		"workflow", workflow.Name,
		"findings", len(findings),
		"errors", len(findings.Errors()))

	return findings
}

func (v *Validator) checkModel(workflow *models.Workflow) Findings {
	err := v.validate.Struct(workflow)
	if err == nil {
		return nil
	}

	var violations validator.ValidationErrors
	if !errors.As(err, &violations) {
		return Findings{{
			Severity: SeverityError,
			Code:     CodeModel,
			Workflow: workflow.Name,
			Message:  err.Error(),
		}}
	}

	findings := make(Findings, 0, len(violations))
	for _, violation := range violations {
		findings = append(findings, Finding{
			Severity: SeverityError,
			Code:     CodeModel,
			Workflow: workflow.Name,
			Message:  fmt.Sprintf("%s fails %q", violation.Namespace(), violation.Tag()),
		})
	}

	return findings
}

func (v *Validator) checkTriggers(workflow *models.Workflow) Findings {
	var findings Findings

	if workflow.On.Empty() {
		findings = append(findings, Finding{
			Severity: SeverityError,
			Code:     CodeTriggerMissing,
			Workflow: workflow.Name,
			Message:  "workflow declares no push, pull_request or schedule trigger",
		})
	}

	for _, rule := range workflow.On.Schedule {
		if _, err := cron.ParseStandard(rule.Cron); err != nil {
			findings = append(findings, Finding{
				Severity: SeverityError,
				Code:     CodeCronInvalid,
				Workflow: workflow.Name,
				Message:  fmt.Sprintf("schedule %q: %v", rule.Cron, err),
			})
		}
	}

	return findings
}

func (v *Validator) checkMatrix(workflow *models.Workflow, job *models.Job) Findings {
	entries := job.MatrixEntries()
	if len(entries) == 0 {
		return nil
	}

	var findings Findings

	for i, entry := range entries {
		if entry.Empty() {
			findings = append(findings, Finding{
				Severity: SeverityError,
				Code:     CodeMatrixEmpty,
				Workflow: workflow.Name,
				Job:      job.ID,
				Message:  fmt.Sprintf("matrix entry %d is empty", i+1),
			})

			continue
		}

		target := entry.Target()

		switch {
		case target == "":
			findings = append(findings, Finding{
				Severity: SeverityError,
				Code:     CodeTargetInvalid,
				Workflow: workflow.Name,
				Job:      job.ID,
				Message:  fmt.Sprintf("matrix entry %d declares no target", i+1),
			})
		case !models.ValidTargetTriple(target):
			findings = append(findings, Finding{
				Severity: SeverityError,
				Code:     CodeTargetInvalid,
				Workflow: workflow.Name,
				Job:      job.ID,
				Message:  fmt.Sprintf("target %q is not a target triple", target),
			})
		}

		if osName := entry.OS(); osName != "" {
			if _, err := v.registry.ResolveRunner(osName); err != nil {
				findings = append(findings, Finding{
					Severity: SeverityError,
					Code:     CodeRunnerUnknown,
					Workflow: workflow.Name,
					Job:      job.ID,
					Message:  fmt.Sprintf("matrix entry %d: %v", i+1, err),
				})
			}
		}
	}

	if !referencesMatrix(job) {
		findings = append(findings, Finding{
			Severity: SeverityWarning,
			Code:     CodeMatrixUnused,
			Workflow: workflow.Name,
			Job:      job.ID,
			Message:  "job declares a matrix but never references it",
		})
	}

	return findings
}

func (v *Validator) checkRunner(workflow *models.Workflow, job *models.Job) Findings {
	var findings Findings

	if !expr.HasExpression(job.RunsOn) {
		if _, err := v.registry.ResolveRunner(job.RunsOn); err != nil {
			findings = append(findings, Finding{
				Severity: SeverityError,
				Code:     CodeRunnerUnknown,
				Workflow: workflow.Name,
				Job:      job.ID,
				Message:  err.Error(),
			})
		}

		return findings
	}

	for _, entry := range entriesOrNil(job) {
		resolved, err := expr.Expand(job.RunsOn, validationContext(workflow, job, entry))
		if err != nil {
			findings = append(findings, Finding{
				Severity: SeverityError,
				Code:     CodeExprInvalid,
				Workflow: workflow.Name,
				Job:      job.ID,
				Message:  fmt.Sprintf("runs-on: %v", err),
			})

			continue
		}

		if _, err := v.registry.ResolveRunner(resolved); err != nil {
			findings = append(findings, Finding{
				Severity: SeverityError,
				Code:     CodeRunnerUnknown,
				Workflow: workflow.Name,
				Job:      job.ID,
				Message:  err.Error(),
			})
		}
	}

	return findings
}

func (v *Validator) checkSteps(workflow *models.Workflow, job *models.Job) Findings {
	var findings Findings

	for i, step := range job.Steps {
		idx := i + 1

		if step.IsUses() == step.IsRun() {
			findings = append(findings, Finding{
				Severity: SeverityError,
				Code:     CodeStepAmbiguous,
				Workflow: workflow.Name,
				Job:      job.ID,
				Step:     idx,
				Message:  "step must declare exactly one of uses or run",
			})

			continue
		}

		if step.IsUses() {
			findings = append(findings, v.checkUsesStep(workflow, job, step, idx)...)

			continue
		}

		findings = append(findings, v.checkRunStep(workflow, job, step, idx)...)
	}

	return findings
}

func (v *Validator) checkUsesStep(workflow *models.Workflow, job *models.Job, step *models.Step, idx int) Findings {
	var findings Findings

	if _, _, err := v.registry.ResolveAction(step.Uses); err != nil {
		return Findings{{
			Severity: SeverityError,
			Code:     CodeActionUnresolved,
			Workflow: workflow.Name,
			Job:      job.ID,
			Step:     idx,
			Message:  err.Error(),
		}}
	}

	for _, entry := range entriesOrNil(job) {
		ctx := validationContext(workflow, job, entry)

		with, err := expr.ExpandMap(step.With, ctx)
		if err != nil {
			findings = append(findings, Finding{
				Severity: SeverityError,
				Code:     CodeExprInvalid,
				Workflow: workflow.Name,
				Job:      job.ID,
				Step:     idx,
				Message:  err.Error(),
			})

			break
		}

		if _, err := expr.ExpandMap(step.Env, ctx); err != nil {
			findings = append(findings, Finding{
				Severity: SeverityError,
				Code:     CodeExprInvalid,
				Workflow: workflow.Name,
				Job:      job.ID,
				Step:     idx,
				Message:  err.Error(),
			})

			break
		}

		if err := v.registry.ValidateActionConfig(step.Uses, with); err != nil {
			findings = append(findings, Finding{
				Severity: SeverityError,
				Code:     CodeActionConfig,
				Workflow: workflow.Name,
				Job:      job.ID,
				Step:     idx,
				Message:  err.Error(),
			})

			break
		}
	}

	return findings
}

func (v *Validator) checkRunStep(workflow *models.Workflow, job *models.Job, step *models.Step, idx int) Findings {
	for _, entry := range entriesOrNil(job) {
		ctx := validationContext(workflow, job, entry)

		if _, err := expr.Expand(step.Run, ctx); err != nil {
			return Findings{{
				Severity: SeverityError,
				Code:     CodeExprInvalid,
				Workflow: workflow.Name,
				Job:      job.ID,
				Step:     idx,
				Message:  err.Error(),
			}}
		}

		if _, err := expr.ExpandMap(step.Env, ctx); err != nil {
			return Findings{{
				Severity: SeverityError,
				Code:     CodeExprInvalid,
				Workflow: workflow.Name,
				Job:      job.ID,
				Step:     idx,
				Message:  err.Error(),
			}}
		}
	}

	return nil
}

func (v *Validator) checkNeeds(workflow *models.Workflow) Findings {
	var findings Findings

	g := graph.New(graph.StringHash, graph.Directed(), graph.PreventCycles())

	for _, job := range workflow.Jobs {
		_ = g.AddVertex(job.ID)
	}

	for _, job := range workflow.Jobs {
		for _, need := range job.Needs {
			if workflow.Job(need) == nil {
				findings = append(findings, Finding{
					Severity: SeverityError,
					Code:     CodeNeedsUnknown,
					Workflow: workflow.Name,
					Job:      job.ID,
					Message:  fmt.Sprintf("needs %q which is not a job in this workflow", need),
				})

				continue
			}

			if err := g.AddEdge(need, job.ID); err != nil {
				if errors.Is(err, graph.ErrEdgeCreatesCycle) {
					findings = append(findings, Finding{
						Severity: SeverityError,
						Code:     CodeNeedsCycle,
						Workflow: workflow.Name,
						Job:      job.ID,
						Message:  fmt.Sprintf("needs %q creates a dependency cycle", need),
					})
				}
			}
		}
	}

	return findings
}

// entriesOrNil yields the matrix entries, or a single nil entry for jobs
// without a matrix so expansion checks still run once.
func entriesOrNil(job *models.Job) []models.MatrixEntry {
	entries := job.MatrixEntries()
	if len(entries) == 0 {
		return []models.MatrixEntry{nil}
	}

	return entries
}

// validationContext is the expression context used during static checks.
// Event fields resolve to empty strings because no event exists yet.
func validationContext(workflow *models.Workflow, job *models.Job, entry models.MatrixEntry) expr.Context {
	env := make(map[string]string, len(workflow.Env)+len(job.Env))

	for k, val := range workflow.Env {
		env[k] = val
	}

	for k, val := range job.Env {
		env[k] = val
	}

	return expr.Context{
		"matrix": map[string]string(entry),
		"env":    env,
		"event":  models.Event{}.Context(),
	}
}

func referencesMatrix(job *models.Job) bool {
	for _, ref := range jobReferences(job) {
		if ref.Context == "matrix" {
			return true
		}
	}

	return false
}

func jobReferences(job *models.Job) []expr.Ref {
	var refs []expr.Ref

	refs = append(refs, expr.References(job.RunsOn)...)

	for _, val := range job.Env {
		refs = append(refs, expr.References(val)...)
	}

	for _, step := range job.Steps {
		refs = append(refs, expr.References(step.Run)...)

		for _, val := range step.With {
			refs = append(refs, expr.References(val)...)
		}

		for _, val := range step.Env {
			refs = append(refs, expr.References(val)...)
		}
	}

	return refs
}
