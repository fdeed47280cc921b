package services

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/dukex/gale/pkg/dispatch"
	"github.com/dukex/gale/pkg/models"
)

type stubDispatcher struct {
	receipt *dispatch.Receipt
	err     error
	events  []models.Event
}

func (s *stubDispatcher) Dispatch(_ context.Context, event models.Event) (*dispatch.Receipt, error) {
	s.events = append(s.events, event)

	return s.receipt, s.err
}

func TestAcceptDispatchesValidPush(t *testing.T) {
	dispatcher := &stubDispatcher{
		receipt: &dispatch.Receipt{Runs: []dispatch.RunRef{{ID: "run-1a2b3c4d", Workflow: "ci"}}},
	}
	service := NewEvents(dispatcher)

	event := models.Event{
		Kind:    models.KindPush,
		Branch:  "main",
		HeadSHA: "4f2d1c0",
	}

	receipt, err := service.Accept(context.Background(), event)
	require.NoError(t, err)
	require.Len(t, receipt.Runs, 1)
	require.Len(t, dispatcher.events, 1)
	assert.Equal(t, models.KindPush, dispatcher.events[0].Kind)
}

func TestAcceptRejectsInvalidEvents(t *testing.T) {
	tests := []struct {
		name  string
		event models.Event
	}{
		{"unknown kind", models.Event{Kind: "deployment"}},
		{"push without branch", models.Event{Kind: models.KindPush, HeadSHA: "4f2d1c0"}},
		{"push without head sha", models.Event{Kind: models.KindPush, Branch: "main"}},
		{"pull request without target", models.Event{Kind: models.KindPullRequest}},
		{"schedule without cron", models.Event{Kind: models.KindSchedule}},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			dispatcher := &stubDispatcher{}
			service := NewEvents(dispatcher)

			_, err := service.Accept(context.Background(), tt.event)
			require.Error(t, err)
			assert.True(t, IsValidationError(err), err.Error())
			assert.Empty(t, dispatcher.events, "invalid events must not reach the dispatcher")
		})
	}
}

func TestAcceptPullRequestTargetsBranch(t *testing.T) {
	dispatcher := &stubDispatcher{receipt: &dispatch.Receipt{Runs: []dispatch.RunRef{}}}
	service := NewEvents(dispatcher)

	event := models.Event{
		Kind:   models.KindPullRequest,
		Branch: "main",
		Ref:    "refs/pull/7/head",
	}

	_, err := service.Accept(context.Background(), event)
	require.NoError(t, err)
	require.Len(t, dispatcher.events, 1)
}
