package dispatch

import (
	"context"
	"database/sql"
	"io"
	"log/slog"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"

	"github.com/dukex/gale/internal/store"
	"github.com/dukex/gale/pkg/actions/checkout"
	"github.com/dukex/gale/pkg/actions/toolchain"
	"github.com/dukex/gale/pkg/events"
	"github.com/dukex/gale/pkg/mocks"
	"github.com/dukex/gale/pkg/models"
	"github.com/dukex/gale/pkg/registry"
	"github.com/dukex/gale/pkg/runner"
	"github.com/dukex/gale/pkg/workflow"
)

const pushWorkflow = `
name: ci
on:
  push:
    branches: [main]
env:
  CARGO_TERM_COLOR: always
jobs:
  build:
    runs-on: ubuntu-latest
    steps:
      - name: Build
        run: cargo build --verbose
  docs:
    runs-on: ubuntu-latest
    steps:
      - name: Build documentation
        run: cargo doc --no-deps
`

func discardLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

type harness struct {
	dispatcher *Dispatcher
	store      *store.Store
	bus        *mocks.MockEventBus
	reporter   *mocks.MockReporter
	dir        string
}

func newHarness(t *testing.T, opts Options) *harness {
	t.Helper()

	dir := t.TempDir()
	require.NoError(t, os.WriteFile(filepath.Join(dir, "ci.yaml"), []byte(pushWorkflow), 0o644))

	db, err := sql.Open("sqlite", ":memory:")
	require.NoError(t, err)
	t.Cleanup(func() { _ = db.Close() })

	// One connection, or every pooled connection would get its own empty
	// in-memory database.
	db.SetMaxOpenConns(1)

	_, err = db.Exec("PRAGMA foreign_keys = ON")
	require.NoError(t, err)
	require.NoError(t, store.RunMigrations(db))

	st := store.NewStore(db, db, discardLogger())

	reg := registry.NewRegistry(discardLogger())
	reg.RegisterAction(checkout.NewActionFactory())
	reg.RegisterAction(toolchain.NewActionFactory())

	for _, image := range registry.DefaultRunnerImages() {
		reg.RegisterRunnerImage(image)
	}

	bus := &mocks.MockEventBus{}
	bus.On("Publish", mock.Anything, mock.Anything, mock.Anything).Return(nil)

	reporter := &mocks.MockReporter{}
	reporter.On("Report", mock.Anything, mock.Anything).Return(nil)

	dispatcher := NewDispatcher(Deps{
		Repository: workflow.NewRepository(dir, discardLogger()),
		Matcher:    workflow.NewTriggerMatcher(discardLogger()),
		Planner:    workflow.NewPlanner(reg, discardLogger()),
		Runner:     runner.NewRunner(reg, discardLogger(), runner.Options{Pretend: true}),
		Store:      st,
		Bus:        bus,
		Reporter:   reporter,
		Ledger:     NewMemoryLedger(time.Minute),
	}, discardLogger(), opts)

	return &harness{dispatcher: dispatcher, store: st, bus: bus, reporter: reporter, dir: dir}
}

func pushEvent(branch, deliveryID string) models.Event {
	return models.Event{
		Kind:       models.KindPush,
		Branch:     branch,
		Ref:        "refs/heads/" + branch,
		HeadSHA:    "4f2d1c0",
		Repository: "acme/widget",
		Sender:     "dev",
		DeliveryID: deliveryID,
	}
}

func waitForRun(t *testing.T, st *store.Store, runID string) *models.WorkflowRun {
	t.Helper()

	deadline := time.Now().Add(5 * time.Second)

	for time.Now().Before(deadline) {
		run, err := st.GetRun(context.Background(), runID)
		require.NoError(t, err)

		if run.Status.Terminal() {
			return run
		}

		time.Sleep(10 * time.Millisecond)
	}

	t.Fatalf("run %s did not finish in time", runID)

	return nil
}

func publishedTypes(bus *mocks.MockEventBus) map[events.EventType]int {
	types := make(map[events.EventType]int)

	for _, call := range bus.Calls {
		if call.Method != "Publish" {
			continue
		}

		if event, ok := call.Arguments.Get(2).(interface{ GetType() events.EventType }); ok {
			types[event.GetType()]++
		}
	}

	return types
}

func TestDispatchExecutesMatchedWorkflows(t *testing.T) {
	h := newHarness(t, Options{})

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	h.dispatcher.Start(ctx)

	receipt, err := h.dispatcher.Dispatch(ctx, pushEvent("main", "delivery-1"))
	require.NoError(t, err)
	require.Len(t, receipt.Runs, 1)
	assert.Equal(t, "ci", receipt.Runs[0].Workflow)
	assert.Equal(t, "delivery-1", receipt.DeliveryID)

	run := waitForRun(t, h.store, receipt.Runs[0].ID)
	assert.Equal(t, models.RunStatusPassed, run.Status)
	require.NotNil(t, run.StartedAt)
	require.NotNil(t, run.FinishedAt)

	require.Len(t, run.Jobs, 2)
	for _, jobRun := range run.Jobs {
		assert.Equal(t, models.RunStatusPassed, jobRun.Status, jobRun.Instance)
		assert.Contains(t, jobRun.Output, "[pretend]")
		require.Len(t, jobRun.Steps, 1)
		assert.Equal(t, models.RunStatusPassed, jobRun.Steps[0].Status)
	}

	types := publishedTypes(h.bus)
	assert.Equal(t, 1, types[events.WorkflowTriggeredEvent])
	assert.Equal(t, 1, types[events.RunStartedEvent])
	assert.Equal(t, 2, types[events.JobStartedEvent])
	assert.Equal(t, 2, types[events.StepStartedEvent])
	assert.Equal(t, 2, types[events.StepFinishedEvent])
	assert.Equal(t, 2, types[events.JobFinishedEvent])
	assert.Equal(t, 1, types[events.RunFinishedEvent])

	// One status update per job plus one for the run.
	h.reporter.AssertNumberOfCalls(t, "Report", 3)
}

func TestDispatchRejectsDuplicateDeliveries(t *testing.T) {
	h := newHarness(t, Options{})

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	h.dispatcher.Start(ctx)

	_, err := h.dispatcher.Dispatch(ctx, pushEvent("main", "delivery-1"))
	require.NoError(t, err)

	_, err = h.dispatcher.Dispatch(ctx, pushEvent("main", "delivery-1"))
	require.ErrorIs(t, err, ErrDuplicateDelivery)
}

func TestDispatchIgnoresUnmatchedEvents(t *testing.T) {
	h := newHarness(t, Options{})

	receipt, err := h.dispatcher.Dispatch(context.Background(), pushEvent("feature/x", "delivery-1"))
	require.NoError(t, err)
	assert.Empty(t, receipt.Runs)

	count, err := h.store.CountRuns(context.Background(), "")
	require.NoError(t, err)
	assert.Zero(t, count)
}

func TestDispatchQueueFullRollsBack(t *testing.T) {
	// Workers never start, so the queue only drains by capacity.
	h := newHarness(t, Options{QueueSize: 1})

	_, err := h.dispatcher.Dispatch(context.Background(), pushEvent("main", "delivery-1"))
	require.NoError(t, err)

	_, err = h.dispatcher.Dispatch(context.Background(), pushEvent("main", "delivery-2"))
	require.ErrorIs(t, err, ErrQueueFull)

	// The rejected run is removed and the delivery released, so the
	// forge's redelivery is accepted rather than treated as duplicate.
	count, err := h.store.CountRuns(context.Background(), "")
	require.NoError(t, err)
	assert.Equal(t, int64(1), count)

	_, err = h.dispatcher.Dispatch(context.Background(), pushEvent("main", "delivery-2"))
	require.ErrorIs(t, err, ErrQueueFull)
	assert.Equal(t, 1, h.dispatcher.Backlog())
}

func TestCancelUnknownRun(t *testing.T) {
	h := newHarness(t, Options{})

	err := h.dispatcher.Cancel("run-missing")
	require.ErrorIs(t, err, ErrRunNotActive)
}
