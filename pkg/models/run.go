package models

import "time"

// RunStatus is the lifecycle state of a run, a job instance, or a step.
type RunStatus string

const (
	RunStatusQueued    RunStatus = "queued"
	RunStatusRunning   RunStatus = "running"
	RunStatusPassed    RunStatus = "passed"
	RunStatusFailed    RunStatus = "failed"
	RunStatusCancelled RunStatus = "cancelled"
	RunStatusSkipped   RunStatus = "skipped"
)

// Terminal reports whether the status is final.
func (s RunStatus) Terminal() bool {
	switch s {
	case RunStatusPassed, RunStatusFailed, RunStatusCancelled, RunStatusSkipped:
		return true
	default:
		return false
	}
}

// WorkflowRun records one triggered execution of a workflow.
type WorkflowRun struct {
	ID         string     `json:"id"`
	Workflow   string     `json:"workflow"`
	EventKind  EventKind  `json:"event_kind"`
	Branch     string     `json:"branch,omitempty"`
	HeadSHA    string     `json:"head_sha,omitempty"`
	Status     RunStatus  `json:"status"`
	CreatedAt  time.Time  `json:"created_at"`
	StartedAt  *time.Time `json:"started_at,omitempty"`
	FinishedAt *time.Time `json:"finished_at,omitempty"`
	Jobs       []*JobRun  `json:"jobs,omitempty"       db:"-"`
}

// JobRun records one job instance inside a run. Matrix jobs produce one
// JobRun per declared entry; Instance carries the entry label.
type JobRun struct {
	ID          string        `json:"id"`
	RunID       string        `json:"run_id"`
	JobID       string        `json:"job_id"`
	Instance    string        `json:"instance"`
	RunnerImage string        `json:"runner_image"`
	Status      RunStatus     `json:"status"`
	StartedAt   *time.Time    `json:"started_at,omitempty"`
	FinishedAt  *time.Time    `json:"finished_at,omitempty"`
	Output      string        `json:"output,omitempty"`
	Steps       []*StepResult `json:"steps,omitempty"      db:"-"`
}

// StepResult records the outcome of a single step. A non-zero exit code
// fails the step; steps are never retried.
type StepResult struct {
	JobRunID   string    `json:"-"`
	Idx        int       `json:"index"`
	Label      string    `json:"label"`
	Status     RunStatus `json:"status"`
	ExitCode   int       `json:"exit_code"`
	DurationMs int64     `json:"duration_ms"`
}
