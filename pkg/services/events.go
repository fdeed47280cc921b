package services

import (
	"context"
	"fmt"

	"github.com/dukex/gale/pkg/dispatch"
	"github.com/dukex/gale/pkg/models"
)

// EventDispatcher turns a validated forge event into queued runs.
type EventDispatcher interface {
	Dispatch(ctx context.Context, event models.Event) (*dispatch.Receipt, error)
}

// Events accepts forge events, validates them and hands them to the
// dispatcher.
type Events struct {
	dispatcher EventDispatcher
}

func NewEvents(dispatcher EventDispatcher) *Events {
	return &Events{dispatcher: dispatcher}
}

// Accept validates and dispatches one forge event.
func (e *Events) Accept(ctx context.Context, event models.Event) (*dispatch.Receipt, error) {
	if err := validateEvent(event); err != nil {
		return nil, err
	}

	return e.dispatcher.Dispatch(ctx, event)
}

func validateEvent(event models.Event) error {
	if !event.Kind.Valid() {
		return NewValidationError(
			"Accept",
			"INVALID_EVENT_KIND",
			fmt.Sprintf("unknown event kind %q", event.Kind),
			ErrInvalidEventKind,
		)
	}

	switch event.Kind {
	case models.KindPush:
		if event.Branch == "" {
			return NewValidationError("Accept", "MISSING_BRANCH", "push event requires a branch", ErrInvalidRequest)
		}

		if event.HeadSHA == "" {
			return NewValidationError("Accept", "MISSING_HEAD_SHA", "push event requires a head SHA", ErrInvalidRequest)
		}
	case models.KindPullRequest:
		if event.Branch == "" {
			return NewValidationError("Accept", "MISSING_BRANCH", "pull request event requires a target branch", ErrInvalidRequest)
		}
	case models.KindSchedule:
		if event.Cron == "" {
			return NewValidationError("Accept", "MISSING_CRON", "schedule event requires a cron rule", ErrInvalidRequest)
		}
	}

	return nil
}
