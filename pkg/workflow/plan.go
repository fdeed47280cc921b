package workflow

import (
	"time"

	"github.com/dukex/gale/pkg/models"
)

// DefaultJobTimeout bounds job instances that declare no timeout of
// their own.
const DefaultJobTimeout = 360 * time.Minute

// Plan is the executable expansion of one workflow for one event. Waves
// hold job instances in dependency order; instances within a wave are
// independent of each other and may run concurrently.
type Plan struct {
	Workflow string            `json:"workflow"`
	Event    models.Event      `json:"event"`
	Env      map[string]string `json:"env,omitempty"`
	Waves    [][]*JobPlan      `json:"waves"`
}

// JobPlan is one scheduled job instance. A matrix job contributes one
// instance per declared entry; any other job contributes exactly one.
type JobPlan struct {
	JobID        string             `json:"job_id"`
	InstanceName string             `json:"instance_name"`
	RunnerImage  models.RunnerImage `json:"runner_image"`
	Matrix       models.MatrixEntry `json:"matrix,omitempty"`
	Env          map[string]string  `json:"env,omitempty"`
	Needs        []string           `json:"needs,omitempty"`
	Timeout      time.Duration      `json:"timeout"`
	Steps        []*StepPlan        `json:"steps"`
}

// StepPlan is one fully expanded step of a job instance. Index is
// 1-based. Timeout zero means the step inherits the job timeout.
type StepPlan struct {
	Index   int               `json:"index"`
	Label   string            `json:"label"`
	Uses    string            `json:"uses,omitempty"`
	With    map[string]string `json:"with,omitempty"`
	Run     string            `json:"run,omitempty"`
	Env     map[string]string `json:"env,omitempty"`
	Timeout time.Duration     `json:"timeout,omitempty"`
}

// Instances returns every job instance across all waves, in wave order.
func (p *Plan) Instances() []*JobPlan {
	var out []*JobPlan

	for _, wave := range p.Waves {
		out = append(out, wave...)
	}

	return out
}

// InstanceCount returns the number of job instances the plan schedules.
func (p *Plan) InstanceCount() int {
	count := 0

	for _, wave := range p.Waves {
		count += len(wave)
	}

	return count
}

// JobIDs returns the distinct job IDs the plan schedules, in wave order.
func (p *Plan) JobIDs() []string {
	var ids []string

	seen := make(map[string]bool)

	for _, wave := range p.Waves {
		for _, instance := range wave {
			if seen[instance.JobID] {
				continue
			}

			seen[instance.JobID] = true
			ids = append(ids, instance.JobID)
		}
	}

	return ids
}
