// Package workflow matches forge events against workflow definitions and
// expands the matches into executable plans.
package workflow

import (
	"log/slog"
	"strings"

	"github.com/dukex/gale/pkg/models"
)

// TriggerMatcher decides which workflows a forge event schedules.
type TriggerMatcher struct {
	logger *slog.Logger
}

// MatchResult pairs a workflow with the event that admitted it.
type MatchResult struct {
	Workflow *models.Workflow
	Kind     models.EventKind
	Branch   string
}

// NewTriggerMatcher creates a new trigger matcher.
func NewTriggerMatcher(logger *slog.Logger) *TriggerMatcher {
	return &TriggerMatcher{
		logger: logger.With("module", "trigger_matcher"),
	}
}

// MatchWorkflows returns every workflow whose triggers admit the event,
// keeping the order the workflows were given in.
func (tm *TriggerMatcher) MatchWorkflows(event models.Event, workflows []*models.Workflow) []MatchResult {
	var results []MatchResult

	tm.logger.Debug("Matching event against workflows",
		"kind", event.Kind,
		"branch", event.Branch,
		"workflows_count", len(workflows))

	for _, workflow := range workflows {
		if !tm.Match(event, workflow) {
			continue
		}

		results = append(results, MatchResult{
			Workflow: workflow,
			Kind:     event.Kind,
			Branch:   event.Branch,
		})

		tm.logger.Debug("Found matching workflow",
			"workflow", workflow.Name,
			"kind", event.Kind)
	}

	tm.logger.Info("Completed trigger matching",
		"kind", event.Kind,
		"branch", event.Branch,
		"matches_found", len(results))

	return results
}

// Match reports whether one workflow's triggers admit the event. Push
// events match the push branch filter against the pushed branch. Pull
// request events match the pull_request filter against the target branch.
// Schedule events match when the event's cron line is one of the
// workflow's schedule rules.
func (tm *TriggerMatcher) Match(event models.Event, workflow *models.Workflow) bool {
	switch event.Kind {
	case models.KindPush:
		return tm.matchBranchFilter(event, workflow.On.Push)
	case models.KindPullRequest:
		return tm.matchBranchFilter(event, workflow.On.PullRequest)
	case models.KindSchedule:
		return tm.matchSchedule(event, workflow.On.Schedule)
	default:
		tm.logger.Warn("Unknown event kind", "kind", event.Kind)

		return false
	}
}

func (tm *TriggerMatcher) matchBranchFilter(event models.Event, filter *models.BranchFilter) bool {
	if filter == nil {
		return false
	}

	// A filter without branches admits every branch.
	if len(filter.Branches) == 0 {
		return true
	}

	for _, pattern := range filter.Branches {
		if tm.matchPattern(event.Branch, pattern) {
			return true
		}
	}

	return false
}

func (tm *TriggerMatcher) matchSchedule(event models.Event, rules []models.ScheduleRule) bool {
	for _, rule := range rules {
		if rule.Cron == event.Cron {
			return true
		}
	}

	return false
}

// matchPattern performs simple pattern matching (supports wildcards).
func (tm *TriggerMatcher) matchPattern(value, pattern string) bool {
	if pattern == "*" {
		return true
	}

	if strings.Contains(pattern, "*") {
		parts := strings.Split(pattern, "*")
		if len(parts) == 2 {
			return strings.HasPrefix(value, parts[0]) && strings.HasSuffix(value, parts[1])
		}
	}

	return value == pattern
}
