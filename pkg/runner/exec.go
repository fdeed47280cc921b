package runner

import (
	"bufio"
	"context"
	"errors"
	"fmt"
	"io"
	"maps"
	"os"
	"os/exec"
	"path/filepath"
	"slices"
	"sync"
	"time"

	"github.com/dukex/gale/pkg/models"
	"github.com/dukex/gale/pkg/workflow"
)

// scanBufferSize bounds a single output line. Compiler and test output
// can produce very long lines, bufio's default 64K is too small.
const scanBufferSize = 1024 * 1024

func (r *Runner) runSteps(ctx, runCtx context.Context, run *models.WorkflowRun, event models.Event, instance *workflow.JobPlan, jobRun *models.JobRun, sink Sink) models.RunStatus {
	output := &jobOutput{jobRun: jobRun, sink: sink}

	workspace, cleanup, err := r.createWorkspace(run.ID, jobRun.ID)
	if err != nil {
		output.line(fmt.Sprintf("failed to create workspace: %v", err))
		return models.RunStatusFailed
	}
	defer cleanup()

	jobCtx, cancel := context.WithTimeout(ctx, instance.Timeout)
	defer cancel()

	// Env mutates as uses steps publish outputs for later steps.
	env := make(map[string]string, len(instance.Env)+4)
	maps.Copy(env, instance.Env)
	env["CI"] = "true"
	env["GALE_RUN_ID"] = run.ID
	env["GALE_JOB"] = instance.JobID
	env["GALE_WORKSPACE"] = workspace

	for i, step := range instance.Steps {
		result := r.runStep(jobCtx, runCtx, run, event, instance, jobRun, step, workspace, env, output)
		jobRun.Steps = append(jobRun.Steps, &result)
		sink.OnStepFinish(jobRun, result)

		if result.Status == models.RunStatusPassed {
			continue
		}

		// Fail fast: the remaining steps are recorded but never started.
		for _, rest := range instance.Steps[i+1:] {
			skipped := models.StepResult{
				JobRunID: jobRun.ID,
				Idx:      rest.Index,
				Label:    rest.Label,
				Status:   models.RunStatusSkipped,
			}
			jobRun.Steps = append(jobRun.Steps, &skipped)
			sink.OnStepFinish(jobRun, skipped)
		}
		if result.Status == models.RunStatusCancelled {
			return models.RunStatusCancelled
		}
		return models.RunStatusFailed
	}
	return models.RunStatusPassed
}

func (r *Runner) runStep(ctx, runCtx context.Context, run *models.WorkflowRun, event models.Event, instance *workflow.JobPlan, jobRun *models.JobRun, step *workflow.StepPlan, workspace string, env map[string]string, output *jobOutput) models.StepResult {
	output.sink.OnStepStart(jobRun, step)
	started := time.Now()

	stepCtx := ctx
	if step.Timeout > 0 {
		var cancel context.CancelFunc
		stepCtx, cancel = context.WithTimeout(ctx, step.Timeout)
		defer cancel()
	}

	var exitCode int
	var err error
	if step.Uses != "" {
		exitCode, err = r.runActionStep(stepCtx, run, event, instance, step, workspace, env, output)
	} else {
		exitCode, err = r.runScriptStep(stepCtx, instance, step, workspace, env, output)
	}

	result := models.StepResult{
		JobRunID:   jobRun.ID,
		Idx:        step.Index,
		Label:      step.Label,
		Status:     models.RunStatusPassed,
		ExitCode:   exitCode,
		DurationMs: time.Since(started).Milliseconds(),
	}
	if err == nil {
		return result
	}

	switch {
	case runCtx.Err() != nil:
		result.Status = models.RunStatusCancelled
		output.line(fmt.Sprintf("step %q cancelled", step.Label))
	case errors.Is(stepCtx.Err(), context.DeadlineExceeded):
		result.Status = models.RunStatusFailed
		output.line(fmt.Sprintf("step %q timed out", step.Label))
	default:
		result.Status = models.RunStatusFailed
		output.line(fmt.Sprintf("step %q failed: %v", step.Label, err))
	}
	return result
}

// runScriptStep executes a run step through the image shell, streaming
// combined stdout and stderr line by line.
func (r *Runner) runScriptStep(ctx context.Context, instance *workflow.JobPlan, step *workflow.StepPlan, workspace string, env map[string]string, output *jobOutput) (int, error) {
	if r.pretend {
		output.line(fmt.Sprintf("[pretend] %s$ %s", instance.RunnerImage.Name, step.Run))
		return 0, nil
	}

	argv := instance.RunnerImage.ShellCommand(step.Run)
	cmd := exec.CommandContext(ctx, argv[0], argv[1:]...)
	cmd.Dir = workspace
	cmd.Env = append(os.Environ(), flattenEnv(env, step.Env)...)

	stdout, err := cmd.StdoutPipe()
	if err != nil {
		return -1, err
	}
	stderr, err := cmd.StderrPipe()
	if err != nil {
		return -1, err
	}

	if err := cmd.Start(); err != nil {
		return -1, err
	}

	var wg sync.WaitGroup
	scan := func(pipe io.Reader) {
		defer wg.Done()
		scanner := bufio.NewScanner(pipe)
		scanner.Buffer(make([]byte, 0, 64*1024), scanBufferSize)
		for scanner.Scan() {
			output.line(scanner.Text())
		}
	}
	wg.Add(2)
	go scan(stdout)
	go scan(stderr)

	// Both pipes must be drained before Wait closes them.
	wg.Wait()

	if err := cmd.Wait(); err != nil {
		var exitErr *exec.ExitError
		if errors.As(err, &exitErr) {
			return exitErr.ExitCode(), err
		}
		return -1, err
	}
	return 0, nil
}

// runActionStep resolves and executes a uses step. Action outputs merge
// into the job env so later steps can read them.
func (r *Runner) runActionStep(ctx context.Context, run *models.WorkflowRun, event models.Event, instance *workflow.JobPlan, step *workflow.StepPlan, workspace string, env map[string]string, output *jobOutput) (int, error) {
	action, err := r.registry.CreateAction(step.Uses, step.With)
	if err != nil {
		return 1, err
	}

	stepEnv := make(map[string]string, len(env)+len(step.Env))
	maps.Copy(stepEnv, env)
	maps.Copy(stepEnv, step.Env)

	execCtx := models.ExecutionContext{
		RunID:     run.ID,
		Workflow:  run.Workflow,
		JobID:     instance.JobID,
		Instance:  instance.InstanceName,
		Workspace: workspace,
		Event:     event,
		Matrix:    instance.Matrix,
		Env:       stepEnv,
		Pretend:   r.pretend,
	}

	logger := r.logger.With("run_id", run.ID, "instance", instance.InstanceName, "uses", step.Uses)
	outputs, err := action.Execute(ctx, execCtx, logger)
	if err != nil {
		return 1, err
	}

	for _, key := range slices.Sorted(maps.Keys(outputs)) {
		env[key] = outputs[key]
		output.line(fmt.Sprintf("%s=%s", key, outputs[key]))
	}
	return 0, nil
}

func (r *Runner) createWorkspace(runID, jobRunID string) (string, func(), error) {
	if r.workdir != "" {
		path := filepath.Join(r.workdir, runID, jobRunID)
		if err := os.MkdirAll(path, 0o755); err != nil {
			return "", nil, err
		}
		return path, func() {}, nil
	}
	path, err := os.MkdirTemp("", "gale-"+jobRunID+"-")
	if err != nil {
		return "", nil, err
	}
	return path, func() { _ = os.RemoveAll(path) }, nil
}

// flattenEnv renders job env plus step env as KEY=VALUE pairs, step env
// winning, sorted so command environments stay deterministic.
func flattenEnv(jobEnv, stepEnv map[string]string) []string {
	merged := make(map[string]string, len(jobEnv)+len(stepEnv))
	maps.Copy(merged, jobEnv)
	maps.Copy(merged, stepEnv)

	pairs := make([]string, 0, len(merged))
	for _, key := range slices.Sorted(maps.Keys(merged)) {
		pairs = append(pairs, key+"="+merged[key])
	}
	return pairs
}

// jobOutput appends lines to the job record and forwards them to the
// sink. The two pipe scanners write concurrently, so appends are locked.
type jobOutput struct {
	mu     sync.Mutex
	jobRun *models.JobRun
	sink   Sink
}

func (o *jobOutput) line(text string) {
	o.mu.Lock()
	defer o.mu.Unlock()
	o.jobRun.Output += text + "\n"
	o.sink.OnStepOutput(o.jobRun, text)
}
