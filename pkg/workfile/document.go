// Package workfile loads and validates workflow definition files.
package workfile

import (
	"fmt"
	"time"

	"github.com/goccy/go-yaml"

	"github.com/dukex/gale/pkg/models"
)

// document is the YAML shape of a workflow file. Jobs are decoded through
// a MapSlice so declaration order survives into the model.
type document struct {
	Name string         `yaml:"name"`
	On   onDocument     `yaml:"on"`
	Env  map[string]any `yaml:"env"`
	Jobs yaml.MapSlice  `yaml:"jobs"`
}

type onDocument struct {
	Push        *branchesDocument  `yaml:"push"`
	PullRequest *branchesDocument  `yaml:"pull_request"`
	Schedule    []scheduleDocument `yaml:"schedule"`
}

type branchesDocument struct {
	Branches []string `yaml:"branches"`
}

type scheduleDocument struct {
	Cron string `yaml:"cron"`
}

type jobDocument struct {
	Name           string            `yaml:"name"`
	RunsOn         string            `yaml:"runs-on"`
	Strategy       *strategyDocument `yaml:"strategy"`
	Needs          stringList        `yaml:"needs"`
	Env            map[string]any    `yaml:"env"`
	TimeoutMinutes int               `yaml:"timeout-minutes"`
	Steps          []stepDocument    `yaml:"steps"`
}

type strategyDocument struct {
	Matrix *matrixDocument `yaml:"matrix"`
}

type matrixDocument struct {
	Include []map[string]any `yaml:"include"`
}

type stepDocument struct {
	Name           string         `yaml:"name"`
	Uses           string         `yaml:"uses"`
	With           map[string]any `yaml:"with"`
	Run            string         `yaml:"run"`
	Env            map[string]any `yaml:"env"`
	TimeoutMinutes int            `yaml:"timeout-minutes"`
}

// stringList accepts either a scalar or a sequence, the way needs is
// written in the wild.
type stringList []string

func (l *stringList) UnmarshalYAML(data []byte) error {
	var single string
	if err := yaml.Unmarshal(data, &single); err == nil {
		*l = stringList{single}

		return nil
	}

	var many []string
	if err := yaml.Unmarshal(data, &many); err != nil {
		return err
	}

	*l = stringList(many)

	return nil
}

func (d *document) toModel(source string) (*models.Workflow, error) {
	workflow := &models.Workflow{
		Name:     d.Name,
		Env:      stringMap(d.Env),
		Source:   source,
		LoadedAt: time.Now().UTC(),
	}

	if d.On.Push != nil {
		workflow.On.Push = &models.BranchFilter{Branches: d.On.Push.Branches}
	}

	if d.On.PullRequest != nil {
		workflow.On.PullRequest = &models.BranchFilter{Branches: d.On.PullRequest.Branches}
	}

	for _, rule := range d.On.Schedule {
		workflow.On.Schedule = append(workflow.On.Schedule, models.ScheduleRule{Cron: rule.Cron})
	}

	workflow.Jobs = make([]*models.Job, 0, len(d.Jobs))

	for _, item := range d.Jobs {
		id, ok := item.Key.(string)
		if !ok {
			return nil, fmt.Errorf("job key %v is not a string", item.Key)
		}

		raw, err := yaml.Marshal(item.Value)
		if err != nil {
			return nil, fmt.Errorf("job %s: %w", id, err)
		}

		var jobDoc jobDocument
		if err := yaml.Unmarshal(raw, &jobDoc); err != nil {
			return nil, fmt.Errorf("job %s: %w", id, err)
		}

		job, err := jobDoc.toModel(id)
		if err != nil {
			return nil, err
		}

		workflow.Jobs = append(workflow.Jobs, job)
	}

	return workflow, nil
}

func (d *jobDocument) toModel(id string) (*models.Job, error) {
	job := &models.Job{
		ID:             id,
		Name:           d.Name,
		RunsOn:         d.RunsOn,
		Needs:          d.Needs,
		Env:            stringMap(d.Env),
		TimeoutMinutes: d.TimeoutMinutes,
	}

	if d.Strategy != nil && d.Strategy.Matrix != nil {
		matrix := &models.Matrix{}
		for _, entry := range d.Strategy.Matrix.Include {
			matrix.Include = append(matrix.Include, models.MatrixEntry(stringMap(entry)))
		}

		job.Strategy = &models.Strategy{Matrix: matrix}
	}

	job.Steps = make([]*models.Step, 0, len(d.Steps))
	for _, stepDoc := range d.Steps {
		job.Steps = append(job.Steps, &models.Step{
			Name:           stepDoc.Name,
			Uses:           stepDoc.Uses,
			With:           stringMap(stepDoc.With),
			Run:            stepDoc.Run,
			Env:            stringMap(stepDoc.Env),
			TimeoutMinutes: stepDoc.TimeoutMinutes,
		})
	}

	return job, nil
}

// stringMap flattens YAML scalar values to strings, so env and with blocks
// may use bare numbers and booleans.
func stringMap(in map[string]any) map[string]string {
	if in == nil {
		return nil
	}

	out := make(map[string]string, len(in))
	for k, v := range in {
		if s, ok := v.(string); ok {
			out[k] = s

			continue
		}

		out[k] = fmt.Sprintf("%v", v)
	}

	return out
}
