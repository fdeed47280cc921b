package models

// Triggers declares which forge events schedule a workflow.
type Triggers struct {
	Push        *BranchFilter  `json:"push,omitempty"`
	PullRequest *BranchFilter  `json:"pull_request,omitempty"`
	Schedule    []ScheduleRule `json:"schedule,omitempty"`
}

// Empty reports whether no trigger is declared at all.
func (t Triggers) Empty() bool {
	return t.Push == nil && t.PullRequest == nil && len(t.Schedule) == 0
}

// BranchFilter limits push and pull-request triggers to a set of branches.
// For pull requests the filter applies to the target branch.
type BranchFilter struct {
	Branches []string `json:"branches" validate:"required,min=1,dive,required"`
}

// ScheduleRule fires the workflow on a cron expression.
// Uses standard 5-field cron format (minute hour day month weekday).
type ScheduleRule struct {
	Cron string `json:"cron" validate:"required"`
}
