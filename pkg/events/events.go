// Package events defines event types and structures for run lifecycle
// notifications.
package events

import (
	"time"

	"github.com/google/uuid"

	"github.com/dukex/gale/pkg/models"
)

type EventType string

// Topic is the channel all run lifecycle events are published on.
const Topic = "gale.runs"

const EventMetadataKey = "key"
const EventTypeMetadataKey = "event_type"

const (
	// Trigger events.
	WorkflowTriggeredEvent EventType = "workflow.triggered"

	// Run lifecycle events.
	RunStartedEvent  EventType = "run.started"
	RunFinishedEvent EventType = "run.finished"

	// Job instance lifecycle events.
	JobStartedEvent  EventType = "job.started"
	JobFinishedEvent EventType = "job.finished"

	// Step lifecycle events.
	StepStartedEvent  EventType = "step.started"
	StepFinishedEvent EventType = "step.finished"
)

type BaseEvent struct {
	ID        string         `json:"id"`
	Type      EventType      `json:"type"`
	Timestamp time.Time      `json:"timestamp"`
	Workflow  string         `json:"workflow"`
	RunID     string         `json:"run_id,omitempty"`
	Metadata  map[string]any `json:"metadata,omitempty"`
}

type WorkflowTriggered struct {
	BaseEvent

	Event     models.Event `json:"event"`
	Instances int          `json:"instances"`
}

func (w WorkflowTriggered) GetType() EventType {
	return WorkflowTriggeredEvent
}

type RunStarted struct {
	BaseEvent

	EventKind models.EventKind `json:"event_kind"`
	Branch    string           `json:"branch,omitempty"`
	HeadSHA   string           `json:"head_sha,omitempty"`
	Instances int              `json:"instances"`
}

func (r RunStarted) GetType() EventType {
	return RunStartedEvent
}

type RunFinished struct {
	BaseEvent

	Status     models.RunStatus `json:"status"`
	DurationMs int64            `json:"duration_ms"`
	JobsPassed int              `json:"jobs_passed"`
	JobsFailed int              `json:"jobs_failed"`
}

func (r RunFinished) GetType() EventType {
	return RunFinishedEvent
}

type JobStarted struct {
	BaseEvent

	JobID       string `json:"job_id"`
	Instance    string `json:"instance"`
	RunnerImage string `json:"runner_image"`
}

func (j JobStarted) GetType() EventType {
	return JobStartedEvent
}

type JobFinished struct {
	BaseEvent

	JobID      string           `json:"job_id"`
	Instance   string           `json:"instance"`
	Status     models.RunStatus `json:"status"`
	DurationMs int64            `json:"duration_ms"`
	Error      string           `json:"error,omitempty"`
}

func (j JobFinished) GetType() EventType {
	return JobFinishedEvent
}

type StepStarted struct {
	BaseEvent

	JobID    string `json:"job_id"`
	Instance string `json:"instance"`
	StepIdx  int    `json:"step_idx"`
	Label    string `json:"label"`
}

func (s StepStarted) GetType() EventType {
	return StepStartedEvent
}

type StepFinished struct {
	BaseEvent

	JobID      string           `json:"job_id"`
	Instance   string           `json:"instance"`
	StepIdx    int              `json:"step_idx"`
	Label      string           `json:"label"`
	Status     models.RunStatus `json:"status"`
	ExitCode   int              `json:"exit_code"`
	DurationMs int64            `json:"duration_ms"`
}

func (s StepFinished) GetType() EventType {
	return StepFinishedEvent
}

func NewBaseEvent(eventType EventType, workflow, runID string) BaseEvent {
	return BaseEvent{
		ID:        uuid.New().String(),
		Type:      eventType,
		Timestamp: time.Now().UTC(),
		Workflow:  workflow,
		RunID:     runID,
		Metadata:  make(map[string]any),
	}
}
