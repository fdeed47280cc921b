// Package models defines the core domain models for forge-hosted CI workflows.
package models

import "time"

// Workflow is a parsed workflow definition: the triggers that schedule it,
// the workflow-level environment, and its jobs in declaration order.
type Workflow struct {
	Name     string            `json:"name"                validate:"required,min=1"`
	On       Triggers          `json:"on"`
	Env      map[string]string `json:"env,omitempty"`
	Jobs     []*Job            `json:"jobs"                validate:"required,min=1,dive"`
	Source   string            `json:"source,omitempty"` // Path the definition was loaded from
	LoadedAt time.Time         `json:"loaded_at,omitempty"`
}

// Job returns the job with the given ID, or nil.
func (w *Workflow) Job(id string) *Job {
	for _, job := range w.Jobs {
		if job.ID == id {
			return job
		}
	}

	return nil
}

// JobIDs returns job IDs in declaration order.
func (w *Workflow) JobIDs() []string {
	ids := make([]string, 0, len(w.Jobs))
	for _, job := range w.Jobs {
		ids = append(ids, job.ID)
	}

	return ids
}
