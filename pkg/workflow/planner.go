package workflow

import (
	"fmt"
	"log/slog"
	"maps"
	"slices"
	"time"

	"github.com/dukex/gale/pkg/expr"
	"github.com/dukex/gale/pkg/models"
	"github.com/dukex/gale/pkg/registry"
)

// Planner expands matched workflows into executable plans.
type Planner struct {
	registry *registry.Registry
	logger   *slog.Logger
}

func NewPlanner(reg *registry.Registry, logger *slog.Logger) *Planner {
	return &Planner{
		registry: reg,
		logger:   logger.With("module", "planner"),
	}
}

// Plan expands one workflow for one event. Every matrix entry becomes its
// own job instance and needs relations become waves. The workflow is
// expected to have passed validation; a workflow that did not may fail
// here instead.
func (p *Planner) Plan(workflow *models.Workflow, event models.Event) (*Plan, error) {
	instancesByJob := make(map[string][]*JobPlan, len(workflow.Jobs))

	for _, job := range workflow.Jobs {
		instances, err := p.planJob(workflow, job, event)
		if err != nil {
			return nil, err
		}

		instancesByJob[job.ID] = instances
	}

	waves, err := jobWaves(workflow)
	if err != nil {
		return nil, err
	}

	plan := &Plan{
		Workflow: workflow.Name,
		Event:    event,
		Env:      maps.Clone(workflow.Env),
	}

	for _, wave := range waves {
		var expanded []*JobPlan

		for _, jobID := range wave {
			expanded = append(expanded, instancesByJob[jobID]...)
		}

		plan.Waves = append(plan.Waves, expanded)
	}

	p.logger.Debug("Planned workflow",
		"workflow", workflow.Name,
		"event", event.Kind,
		"waves", len(plan.Waves),
		"instances", plan.InstanceCount())

	return plan, nil
}

func (p *Planner) planJob(workflow *models.Workflow, job *models.Job, event models.Event) ([]*JobPlan, error) {
	entries := job.MatrixEntries()
	if len(entries) == 0 {
		instance, err := p.planInstance(workflow, job, event, nil)
		if err != nil {
			return nil, err
		}

		return []*JobPlan{instance}, nil
	}

	instances := make([]*JobPlan, 0, len(entries))

	for _, entry := range entries {
		instance, err := p.planInstance(workflow, job, event, entry)
		if err != nil {
			return nil, err
		}

		instances = append(instances, instance)
	}

	return instances, nil
}

func (p *Planner) planInstance(workflow *models.Workflow, job *models.Job, event models.Event, entry models.MatrixEntry) (*JobPlan, error) {
	ctx := expressionContext(workflow, job, event, entry)

	runsOn, err := expr.Expand(job.RunsOn, ctx)
	if err != nil {
		return nil, fmt.Errorf("job %s: runs-on: %w", job.ID, err)
	}

	image, err := p.registry.ResolveRunner(runsOn)
	if err != nil {
		return nil, fmt.Errorf("job %s: %w", job.ID, err)
	}

	env, err := expr.ExpandMap(mergeEnv(workflow.Env, job.Env), ctx)
	if err != nil {
		return nil, fmt.Errorf("job %s: env: %w", job.ID, err)
	}

	instance := &JobPlan{
		JobID:        job.ID,
		InstanceName: instanceName(job, entry),
		RunnerImage:  image,
		Matrix:       entry,
		Env:          env,
		Needs:        slices.Clone(job.Needs),
		Timeout:      jobTimeout(job),
	}

	for i, step := range job.Steps {
		stepPlan, err := p.planStep(step, i+1, ctx)
		if err != nil {
			return nil, fmt.Errorf("job %s step %d: %w", job.ID, i+1, err)
		}

		instance.Steps = append(instance.Steps, stepPlan)
	}

	return instance, nil
}

func (p *Planner) planStep(step *models.Step, index int, ctx expr.Context) (*StepPlan, error) {
	with, err := expr.ExpandMap(step.With, ctx)
	if err != nil {
		return nil, err
	}

	run, err := expr.Expand(step.Run, ctx)
	if err != nil {
		return nil, err
	}

	env, err := expr.ExpandMap(step.Env, ctx)
	if err != nil {
		return nil, err
	}

	expanded := models.Step{Name: step.Name, Uses: step.Uses, Run: run}

	var timeout time.Duration
	if step.TimeoutMinutes > 0 {
		timeout = time.Duration(step.TimeoutMinutes) * time.Minute
	}

	return &StepPlan{
		Index:   index,
		Label:   expanded.Label(),
		Uses:    step.Uses,
		With:    with,
		Run:     run,
		Env:     env,
		Timeout: timeout,
	}, nil
}

// instanceName labels a job instance. Matrix instances carry the entry
// label in parentheses, such as "build (x86_64-unknown-linux-gnu)".
func instanceName(job *models.Job, entry models.MatrixEntry) string {
	if entry == nil {
		return job.DisplayName()
	}

	return fmt.Sprintf("%s (%s)", job.DisplayName(), entry.Label())
}

func jobTimeout(job *models.Job) time.Duration {
	if job.TimeoutMinutes > 0 {
		return time.Duration(job.TimeoutMinutes) * time.Minute
	}

	return DefaultJobTimeout
}

func mergeEnv(base, overlay map[string]string) map[string]string {
	merged := make(map[string]string, len(base)+len(overlay))
	maps.Copy(merged, base)
	maps.Copy(merged, overlay)

	return merged
}

func expressionContext(workflow *models.Workflow, job *models.Job, event models.Event, entry models.MatrixEntry) expr.Context {
	return expr.Context{
		"matrix": map[string]string(entry),
		"env":    mergeEnv(workflow.Env, job.Env),
		"event":  event.Context(),
	}
}
