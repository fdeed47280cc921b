package models

import "time"

// EventKind is the forge notification type that can trigger workflows.
type EventKind string

const (
	KindPush        EventKind = "push"
	KindPullRequest EventKind = "pull_request"
	KindSchedule    EventKind = "schedule"
)

func (k EventKind) Valid() bool {
	switch k {
	case KindPush, KindPullRequest, KindSchedule:
		return true
	default:
		return false
	}
}

// Event is a normalized forge notification. Push and pull-request events
// carry the branch and head commit; schedule events carry the cron
// expression that fired.
type Event struct {
	Kind       EventKind `json:"kind"                  validate:"required"`
	Branch     string    `json:"branch,omitempty"` // Target branch for pull requests
	Ref        string    `json:"ref,omitempty"`
	HeadSHA    string    `json:"head_sha,omitempty"`
	Repository string    `json:"repository,omitempty"`
	Sender     string    `json:"sender,omitempty"`
	Cron       string    `json:"cron,omitempty"`
	DeliveryID string    `json:"delivery_id,omitempty"`
	ReceivedAt time.Time `json:"received_at"`
}

// Context exposes the event to expression expansion under the "event" name.
func (e Event) Context() map[string]string {
	return map[string]string{
		"kind":       string(e.Kind),
		"branch":     e.Branch,
		"ref":        e.Ref,
		"sha":        e.HeadSHA,
		"repository": e.Repository,
		"sender":     e.Sender,
	}
}
