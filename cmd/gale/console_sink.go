package main

import (
	"fmt"
	"io"
	"sync"

	"github.com/dukex/gale/pkg/models"
	"github.com/dukex/gale/pkg/workflow"
)

// consoleSink multiplexes live job output onto one writer, each line
// prefixed with the instance that produced it.
type consoleSink struct {
	mu  sync.Mutex
	out io.Writer
}

func (s *consoleSink) printf(format string, args ...any) {
	s.mu.Lock()
	defer s.mu.Unlock()

	fmt.Fprintf(s.out, format+"\n", args...)
}

func (s *consoleSink) OnJobStart(jobRun *models.JobRun) {
	s.printf("%s | starting on %s", jobRun.Instance, jobRun.RunnerImage)
}

func (s *consoleSink) OnStepStart(jobRun *models.JobRun, step *workflow.StepPlan) {
	s.printf("%s | --- %s", jobRun.Instance, step.Label)
}

func (s *consoleSink) OnStepOutput(jobRun *models.JobRun, line string) {
	s.printf("%s | %s", jobRun.Instance, line)
}

func (s *consoleSink) OnStepFinish(jobRun *models.JobRun, result models.StepResult) {
	if result.Status == models.RunStatusFailed {
		s.printf("%s | step %q failed with exit code %d", jobRun.Instance, result.Label, result.ExitCode)
	}
}

func (s *consoleSink) OnJobFinish(jobRun *models.JobRun) {
	s.printf("%s | %s", jobRun.Instance, jobRun.Status)
}
