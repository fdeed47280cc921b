// Package web provides HTTP request and response types for the forge API.
package web

import (
	"strings"
	"time"

	"github.com/dukex/gale/pkg/models"
)

// DeliveryHeader carries the forge's unique delivery ID. Redeliveries
// reuse the ID, which is what makes duplicate suppression possible.
const DeliveryHeader = "X-Gale-Delivery"

// Repository identifies the repository a webhook refers to.
type Repository struct {
	FullName string `json:"full_name"`
}

// Account is the forge user attached to a delivery.
type Account struct {
	Login string `json:"login"`
	Name  string `json:"name,omitempty"`
}

// PushPayload is the body of a push delivery, shaped like the common
// forge webhook format.
type PushPayload struct {
	Ref        string     `json:"ref"   validate:"required"`
	After      string     `json:"after" validate:"required"`
	Repository Repository `json:"repository"`
	Pusher     Account    `json:"pusher"`
}

// ToEvent converts the payload into the internal event form.
func (p PushPayload) ToEvent(deliveryID string) models.Event {
	return models.Event{
		Kind:       models.KindPush,
		Branch:     strings.TrimPrefix(p.Ref, "refs/heads/"),
		Ref:        p.Ref,
		HeadSHA:    p.After,
		Repository: p.Repository.FullName,
		Sender:     p.Pusher.Login,
		DeliveryID: deliveryID,
		ReceivedAt: time.Now().UTC(),
	}
}

// GitRef is one side of a pull request.
type GitRef struct {
	Ref string `json:"ref"`
	SHA string `json:"sha"`
}

// PullRequest is the pull_request object inside a delivery.
type PullRequest struct {
	Title string `json:"title,omitempty"`
	Base  GitRef `json:"base"`
	Head  GitRef `json:"head"`
}

// PullRequestPayload is the body of a pull_request delivery.
type PullRequestPayload struct {
	Action      string      `json:"action"`
	Number      int         `json:"number"`
	PullRequest PullRequest `json:"pull_request"`
	Repository  Repository  `json:"repository"`
	Sender      Account     `json:"sender"`
}

// ToEvent converts the payload into the internal event form. The event
// branch is the pull request's target branch, which is what trigger
// rules match against.
func (p PullRequestPayload) ToEvent(deliveryID string) models.Event {
	return models.Event{
		Kind:       models.KindPullRequest,
		Branch:     p.PullRequest.Base.Ref,
		Ref:        p.PullRequest.Head.Ref,
		HeadSHA:    p.PullRequest.Head.SHA,
		Repository: p.Repository.FullName,
		Sender:     p.Sender.Login,
		DeliveryID: deliveryID,
		ReceivedAt: time.Now().UTC(),
	}
}

// ValidateRequest is the body of a workflow validation request. Source
// holds a complete workflow document as YAML text.
type ValidateRequest struct {
	Source string `json:"source"`
}
