// Package runner executes workflow plans on the local host. Jobs inside a
// wave run concurrently; a wave starts only after the previous wave
// finished, and job instances whose needs failed are skipped instead of
// executed. Steps inside a job run sequentially and fail fast: a non-zero
// exit fails the step, the job stops, and nothing is retried.
package runner

import (
	"context"
	"fmt"
	"log/slog"
	"runtime"
	"sync"
	"time"

	"github.com/google/uuid"
	"golang.org/x/sync/errgroup"

	"github.com/dukex/gale/pkg/models"
	"github.com/dukex/gale/pkg/registry"
	"github.com/dukex/gale/pkg/workflow"
)

// Options configures a Runner.
type Options struct {
	// Workdir is the base directory for job workspaces. Empty means a
	// temporary directory per job, removed when the job finishes.
	Workdir string
	// Pretend resolves actions and walks every step without touching the
	// host. Script steps are echoed instead of executed.
	Pretend bool
	// MaxParallel caps how many job instances of a wave run at once.
	// Zero means no limit.
	MaxParallel int
}

// Runner executes plans against the host machine.
type Runner struct {
	registry *registry.Registry
	logger   *slog.Logger
	hostOS   models.OSFamily
	workdir  string
	pretend  bool
	parallel int
}

func NewRunner(reg *registry.Registry, logger *slog.Logger, opts Options) *Runner {
	return &Runner{
		registry: reg,
		logger:   logger.With("module", "runner"),
		hostOS:   hostFamily(),
		workdir:  opts.Workdir,
		pretend:  opts.Pretend,
		parallel: opts.MaxParallel,
	}
}

func hostFamily() models.OSFamily {
	switch runtime.GOOS {
	case "windows":
		return models.OSWindows
	case "darwin":
		return models.OSDarwin
	default:
		return models.OSLinux
	}
}

// NewRun builds the queued run record for a plan, one job record per
// instance. Nothing is executed and nothing is persisted.
func NewRun(plan *workflow.Plan) *models.WorkflowRun {
	run := &models.WorkflowRun{
		ID:        newID("run"),
		Workflow:  plan.Workflow,
		EventKind: plan.Event.Kind,
		Branch:    plan.Event.Branch,
		HeadSHA:   plan.Event.HeadSHA,
		Status:    models.RunStatusQueued,
		CreatedAt: time.Now().UTC(),
	}
	for _, instance := range plan.Instances() {
		run.Jobs = append(run.Jobs, &models.JobRun{
			ID:          newID("job"),
			RunID:       run.ID,
			JobID:       instance.JobID,
			Instance:    instance.InstanceName,
			RunnerImage: instance.RunnerImage.Name,
			Status:      models.RunStatusQueued,
		})
	}
	return run
}

// Execute runs a plan from scratch and returns the finished run record.
func (r *Runner) Execute(ctx context.Context, plan *workflow.Plan, sink Sink) (*models.WorkflowRun, error) {
	return r.ExecuteRun(ctx, NewRun(plan), plan, sink)
}

// ExecuteRun executes a plan against an already minted run record, so
// callers can persist the queued record before execution starts. The run
// is mutated in place and also returned.
func (r *Runner) ExecuteRun(ctx context.Context, run *models.WorkflowRun, plan *workflow.Plan, sink Sink) (*models.WorkflowRun, error) {
	if sink == nil {
		sink = NopSink{}
	}

	jobRuns := make(map[string]*models.JobRun, len(run.Jobs))
	for _, jobRun := range run.Jobs {
		jobRuns[jobRun.Instance] = jobRun
	}
	for _, instance := range plan.Instances() {
		if _, ok := jobRuns[instance.InstanceName]; !ok {
			return run, fmt.Errorf("run %s has no job record for instance %q", run.ID, instance.InstanceName)
		}
	}

	started := time.Now().UTC()
	run.Status = models.RunStatusRunning
	run.StartedAt = &started

	r.logger.Info("Run started",
		"run_id", run.ID,
		"workflow", run.Workflow,
		"event_kind", run.EventKind,
		"instances", len(run.Jobs))

	// failed marks job IDs whose outcome blocks dependents. All instances
	// of a matrix job must pass for the job to count as passed.
	failed := make(map[string]bool)
	var mu sync.Mutex

	for _, wave := range plan.Waves {
		if ctx.Err() != nil {
			break
		}

		group, groupCtx := errgroup.WithContext(ctx)
		if r.parallel > 0 {
			group.SetLimit(r.parallel)
		}

		for _, instance := range wave {
			jobRun := jobRuns[instance.InstanceName]

			mu.Lock()
			blocked := false
			for _, need := range instance.Needs {
				if failed[need] {
					blocked = true
					break
				}
			}
			mu.Unlock()

			if blocked {
				jobRun.Status = models.RunStatusSkipped
				mu.Lock()
				failed[instance.JobID] = true
				mu.Unlock()
				r.logger.Info("Job skipped, a needed job did not pass",
					"run_id", run.ID, "instance", instance.InstanceName)
				sink.OnJobFinish(jobRun)
				continue
			}

			group.Go(func() error {
				status := r.executeJob(groupCtx, ctx, run, plan.Event, instance, jobRun, sink)
				if status != models.RunStatusPassed && status != models.RunStatusSkipped {
					mu.Lock()
					failed[instance.JobID] = true
					mu.Unlock()
				}
				// A failing job must not cancel its wave siblings.
				return nil
			})
		}

		if err := group.Wait(); err != nil {
			return run, err
		}
	}

	if ctx.Err() != nil {
		for _, jobRun := range run.Jobs {
			if jobRun.Status == models.RunStatusQueued {
				jobRun.Status = models.RunStatusCancelled
			}
		}
	}

	finished := time.Now().UTC()
	run.FinishedAt = &finished
	run.Status = runStatus(ctx, run.Jobs)

	r.logger.Info("Run finished",
		"run_id", run.ID,
		"status", run.Status,
		"duration", finished.Sub(started))
	return run, nil
}

// runStatus folds job outcomes into the run status. Failed beats
// cancelled beats passed. Skipped jobs are neutral: a needs skip always
// follows a failure that already decides the run, and a host-OS skip
// must not fail a run on a machine that cannot execute every image.
func runStatus(ctx context.Context, jobs []*models.JobRun) models.RunStatus {
	status := models.RunStatusPassed
	for _, jobRun := range jobs {
		switch jobRun.Status {
		case models.RunStatusFailed:
			return models.RunStatusFailed
		case models.RunStatusCancelled:
			status = models.RunStatusCancelled
		}
	}
	if ctx.Err() != nil {
		status = models.RunStatusCancelled
	}
	return status
}

func (r *Runner) executeJob(ctx, runCtx context.Context, run *models.WorkflowRun, event models.Event, instance *workflow.JobPlan, jobRun *models.JobRun, sink Sink) models.RunStatus {
	logger := r.logger.With("run_id", run.ID, "instance", instance.InstanceName)

	if instance.RunnerImage.OS != r.hostOS && !r.pretend {
		jobRun.Status = models.RunStatusSkipped
		jobRun.Output = fmt.Sprintf("runner image %s needs a %s host, this host is %s\n",
			instance.RunnerImage.Name, instance.RunnerImage.OS, r.hostOS)
		logger.Warn("Job skipped, runner image does not match host",
			"runner_image", instance.RunnerImage.Name, "host_os", r.hostOS)
		sink.OnJobFinish(jobRun)
		return jobRun.Status
	}

	started := time.Now().UTC()
	jobRun.Status = models.RunStatusRunning
	jobRun.StartedAt = &started
	sink.OnJobStart(jobRun)
	logger.Info("Job started", "runner_image", instance.RunnerImage.Name, "steps", len(instance.Steps))

	status := r.runSteps(ctx, runCtx, run, event, instance, jobRun, sink)

	finished := time.Now().UTC()
	jobRun.FinishedAt = &finished
	jobRun.Status = status
	sink.OnJobFinish(jobRun)

	logger.Info("Job finished", "status", status, "duration", finished.Sub(started))
	return status
}

func newID(prefix string) string {
	return prefix + "-" + uuid.New().String()[:8]
}
