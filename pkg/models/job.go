package models

// Job is a named unit of work inside a workflow. Jobs without a needs
// relationship are independent of each other.
type Job struct {
	ID             string            `json:"id"                        validate:"required"`
	Name           string            `json:"name,omitempty"`
	RunsOn         string            `json:"runs_on"                   validate:"required"` // Runner image name or a ${{ matrix.* }} expression
	Strategy       *Strategy         `json:"strategy,omitempty"`
	Needs          []string          `json:"needs,omitempty"`
	Env            map[string]string `json:"env,omitempty"`
	TimeoutMinutes int               `json:"timeout_minutes,omitempty" validate:"gte=0"`
	Steps          []*Step           `json:"steps"                     validate:"required,min=1,dive"`
}

// DisplayName returns the job name, falling back to its ID.
func (j *Job) DisplayName() string {
	if j.Name != "" {
		return j.Name
	}

	return j.ID
}

// MatrixEntries returns the declared matrix entries, or nil for plain jobs.
func (j *Job) MatrixEntries() []MatrixEntry {
	if j.Strategy == nil || j.Strategy.Matrix == nil {
		return nil
	}

	return j.Strategy.Matrix.Include
}

// Strategy carries the job parameterization. The matrix is a declared
// include list only; entries are never generated from axis products.
type Strategy struct {
	Matrix *Matrix `json:"matrix,omitempty"`
}
