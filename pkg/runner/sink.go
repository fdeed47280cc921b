package runner

import (
	"github.com/dukex/gale/pkg/models"
	"github.com/dukex/gale/pkg/workflow"
)

// Sink receives execution progress as it happens. Jobs inside a wave run
// concurrently, so methods may be called from multiple goroutines at once;
// calls for a single job are always serialized.
type Sink interface {
	OnJobStart(jobRun *models.JobRun)
	OnStepStart(jobRun *models.JobRun, step *workflow.StepPlan)
	OnStepOutput(jobRun *models.JobRun, line string)
	OnStepFinish(jobRun *models.JobRun, result models.StepResult)
	OnJobFinish(jobRun *models.JobRun)
}

// NopSink discards all progress notifications.
type NopSink struct{}

func (NopSink) OnJobStart(*models.JobRun)                      {}
func (NopSink) OnStepStart(*models.JobRun, *workflow.StepPlan) {}
func (NopSink) OnStepOutput(*models.JobRun, string)            {}
func (NopSink) OnStepFinish(*models.JobRun, models.StepResult) {}
func (NopSink) OnJobFinish(*models.JobRun)                     {}

// MultiSink fans every notification out to each sink in order.
type MultiSink []Sink

func (m MultiSink) OnJobStart(jobRun *models.JobRun) {
	for _, s := range m {
		s.OnJobStart(jobRun)
	}
}

func (m MultiSink) OnStepStart(jobRun *models.JobRun, step *workflow.StepPlan) {
	for _, s := range m {
		s.OnStepStart(jobRun, step)
	}
}

func (m MultiSink) OnStepOutput(jobRun *models.JobRun, line string) {
	for _, s := range m {
		s.OnStepOutput(jobRun, line)
	}
}

func (m MultiSink) OnStepFinish(jobRun *models.JobRun, result models.StepResult) {
	for _, s := range m {
		s.OnStepFinish(jobRun, result)
	}
}

func (m MultiSink) OnJobFinish(jobRun *models.JobRun) {
	for _, s := range m {
		s.OnJobFinish(jobRun)
	}
}
