package dispatch

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/dukex/gale/internal/store"
	"github.com/dukex/gale/pkg/eventbus"
	"github.com/dukex/gale/pkg/events"
	"github.com/dukex/gale/pkg/models"
	"github.com/dukex/gale/pkg/status"
	"github.com/dukex/gale/pkg/workflow"
)

// recordingSink streams execution progress into the store, the event bus
// and the status reporter. Storage failures are logged and swallowed, a
// briefly unreachable database must not abort a running job.
type recordingSink struct {
	ctx      context.Context
	store    *store.Store
	bus      eventbus.EventBus
	reporter status.Reporter
	run      *models.WorkflowRun
	event    models.Event
	logger   *slog.Logger
}

func newRecordingSink(ctx context.Context, st *store.Store, bus eventbus.EventBus, reporter status.Reporter, run *models.WorkflowRun, event models.Event, logger *slog.Logger) *recordingSink {
	return &recordingSink{
		ctx:      ctx,
		store:    st,
		bus:      bus,
		reporter: reporter,
		run:      run,
		event:    event,
		logger:   logger.With("run_id", run.ID),
	}
}

func (s *recordingSink) OnJobStart(jobRun *models.JobRun) {
	at := time.Now().UTC()
	if jobRun.StartedAt != nil {
		at = *jobRun.StartedAt
	}

	if err := s.store.MarkJobStarted(s.ctx, jobRun.ID, at); err != nil {
		s.logger.Error("Failed to mark job started", "job", jobRun.Instance, "error", err)
	}

	s.publish(events.JobStarted{
		BaseEvent:   events.NewBaseEvent(events.JobStartedEvent, s.run.Workflow, s.run.ID),
		JobID:       jobRun.JobID,
		Instance:    jobRun.Instance,
		RunnerImage: jobRun.RunnerImage,
	})
}

func (s *recordingSink) OnStepStart(jobRun *models.JobRun, step *workflow.StepPlan) {
	s.publish(events.StepStarted{
		BaseEvent: events.NewBaseEvent(events.StepStartedEvent, s.run.Workflow, s.run.ID),
		JobID:     jobRun.JobID,
		Instance:  jobRun.Instance,
		StepIdx:   step.Index,
		Label:     step.Label,
	})
}

func (s *recordingSink) OnStepOutput(jobRun *models.JobRun, line string) {
	if err := s.store.AppendJobOutput(s.ctx, jobRun.ID, line+"\n"); err != nil {
		s.logger.Error("Failed to append job output", "job", jobRun.Instance, "error", err)
	}
}

func (s *recordingSink) OnStepFinish(jobRun *models.JobRun, result models.StepResult) {
	if err := s.store.CreateStepResult(s.ctx, &result); err != nil {
		s.logger.Error("Failed to record step result", "job", jobRun.Instance, "error", err)
	}

	s.publish(events.StepFinished{
		BaseEvent:  events.NewBaseEvent(events.StepFinishedEvent, s.run.Workflow, s.run.ID),
		JobID:      jobRun.JobID,
		Instance:   jobRun.Instance,
		StepIdx:    result.Idx,
		Label:      result.Label,
		Status:     result.Status,
		ExitCode:   result.ExitCode,
		DurationMs: result.DurationMs,
	})
}

func (s *recordingSink) OnJobFinish(jobRun *models.JobRun) {
	at := time.Now().UTC()
	if jobRun.FinishedAt != nil {
		at = *jobRun.FinishedAt
	}

	if err := s.store.MarkJobFinished(s.ctx, jobRun.ID, jobRun.Status, at); err != nil {
		s.logger.Error("Failed to mark job finished", "job", jobRun.Instance, "error", err)
	}

	var durationMs int64
	if jobRun.StartedAt != nil && jobRun.FinishedAt != nil {
		durationMs = jobRun.FinishedAt.Sub(*jobRun.StartedAt).Milliseconds()
	}

	s.publish(events.JobFinished{
		BaseEvent:  events.NewBaseEvent(events.JobFinishedEvent, s.run.Workflow, s.run.ID),
		JobID:      jobRun.JobID,
		Instance:   jobRun.Instance,
		Status:     jobRun.Status,
		DurationMs: durationMs,
		Error:      failedStepLabel(jobRun),
	})

	update := status.Update{
		Repository:  s.event.Repository,
		HeadSHA:     s.run.HeadSHA,
		Context:     s.run.Workflow + "/" + jobRun.Instance,
		State:       status.StateFor(jobRun.Status),
		Description: jobDescription(jobRun, durationMs),
		RunID:       s.run.ID,
	}
	if err := s.reporter.Report(s.ctx, update); err != nil {
		s.logger.Warn("Failed to report job status", "job", jobRun.Instance, "error", err)
	}
}

func (s *recordingSink) publish(event eventbus.Event) {
	if err := s.bus.Publish(s.ctx, s.run.ID, event); err != nil {
		s.logger.Warn("Failed to publish event", "event_type", event.GetType(), "error", err)
	}
}

// failedStepLabel names the step that broke a failed job, or empty.
func failedStepLabel(jobRun *models.JobRun) string {
	if jobRun.Status != models.RunStatusFailed {
		return ""
	}

	for _, step := range jobRun.Steps {
		if step.Status == models.RunStatusFailed {
			return fmt.Sprintf("step %q failed with exit code %d", step.Label, step.ExitCode)
		}
	}

	return "job failed"
}

func jobDescription(jobRun *models.JobRun, durationMs int64) string {
	switch jobRun.Status {
	case models.RunStatusPassed:
		return fmt.Sprintf("passed in %s", (time.Duration(durationMs) * time.Millisecond).Round(time.Second))
	case models.RunStatusFailed:
		return failedStepLabel(jobRun)
	case models.RunStatusSkipped:
		return "skipped"
	case models.RunStatusCancelled:
		return "cancelled"
	default:
		return string(jobRun.Status)
	}
}
