package models

// ExecutionContext carries run state into action execution.
type ExecutionContext struct {
	RunID     string            `json:"run_id"`
	Workflow  string            `json:"workflow"`
	JobID     string            `json:"job_id"`
	Instance  string            `json:"instance,omitempty"`
	Workspace string            `json:"workspace"`
	Event     Event             `json:"event"`
	Matrix    MatrixEntry       `json:"matrix,omitempty"`
	Env       map[string]string `json:"env,omitempty"`
	Pretend   bool              `json:"pretend,omitempty"` // Resolve and record without touching the host
}
