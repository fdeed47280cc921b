package eventbus

import (
	"context"
	"testing"
	"time"

	"github.com/ThreeDotsLabs/watermill"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/dukex/gale/pkg/channels/gochannel"
	"github.com/dukex/gale/pkg/events"
	"github.com/dukex/gale/pkg/models"
)

func newTestBus(t *testing.T) EventBus {
	t.Helper()

	pub, sub, err := gochannel.CreateTestChannel(watermill.NopLogger{})
	require.NoError(t, err)

	bus := NewWatermillEventBus(pub, sub)
	t.Cleanup(func() {
		_ = bus.Close()
	})

	return bus
}

func TestWatermillEventBusDeliversTypedEvents(t *testing.T) {
	bus := newTestBus(t)

	received := make(chan any, 1)

	err := bus.Handle(events.JobFinishedEvent, func(_ context.Context, event interface{}) error {
		received <- event

		return nil
	})
	require.NoError(t, err)

	ctx, cancel := context.WithCancel(t.Context())
	defer cancel()

	require.NoError(t, bus.Subscribe(ctx))

	published := events.JobFinished{
		BaseEvent:  events.NewBaseEvent(events.JobFinishedEvent, "ci", "run-1a2b3c4d"),
		JobID:      "build",
		Instance:   "build (x86_64-unknown-linux-gnu)",
		Status:     models.RunStatusPassed,
		DurationMs: 1200,
	}

	require.NoError(t, bus.Publish(ctx, "ci", published))

	select {
	case event := <-received:
		finished, ok := event.(*events.JobFinished)
		require.True(t, ok)
		assert.Equal(t, "build", finished.JobID)
		assert.Equal(t, models.RunStatusPassed, finished.Status)
		assert.Equal(t, "run-1a2b3c4d", finished.RunID)
	case <-time.After(2 * time.Second):
		t.Fatal("event was not delivered")
	}
}

func TestWatermillEventBusIgnoresUnhandledTypes(t *testing.T) {
	bus := newTestBus(t)

	received := make(chan any, 1)

	err := bus.Handle(events.RunFinishedEvent, func(_ context.Context, event interface{}) error {
		received <- event

		return nil
	})
	require.NoError(t, err)

	ctx, cancel := context.WithCancel(t.Context())
	defer cancel()

	require.NoError(t, bus.Subscribe(ctx))

	started := events.RunStarted{
		BaseEvent: events.NewBaseEvent(events.RunStartedEvent, "ci", "run-1a2b3c4d"),
		EventKind: models.KindPush,
	}

	require.NoError(t, bus.Publish(ctx, "ci", started))

	select {
	case <-received:
		t.Fatal("handler for a different type must not fire")
	case <-time.After(200 * time.Millisecond):
	}
}

func TestGenerateID(t *testing.T) {
	bus := newTestBus(t)

	first := bus.GenerateID()
	second := bus.GenerateID()

	assert.NotEmpty(t, first)
	assert.NotEqual(t, first, second)
}
