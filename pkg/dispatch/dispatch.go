// Package dispatch turns forge events into persisted, executing runs. An
// incoming event is matched against the loaded workflows, every match is
// planned and recorded as a queued run, and a bounded worker pool picks
// the runs up for execution. Progress streams to the store, the event bus
// and the status reporter while a run executes.
package dispatch

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"slices"
	"sync"
	"time"

	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/trace"
	"go.opentelemetry.io/otel/trace/noop"

	"github.com/dukex/gale/internal/store"
	"github.com/dukex/gale/pkg/eventbus"
	"github.com/dukex/gale/pkg/events"
	"github.com/dukex/gale/pkg/models"
	"github.com/dukex/gale/pkg/runner"
	"github.com/dukex/gale/pkg/status"
	"github.com/dukex/gale/pkg/tracing"
	"github.com/dukex/gale/pkg/workflow"
)

var (
	// ErrDuplicateDelivery is returned when a forge redelivers a webhook
	// that already produced runs.
	ErrDuplicateDelivery = errors.New("delivery already processed")
	// ErrQueueFull is returned when the run backlog is at capacity.
	ErrQueueFull = errors.New("run queue is full")
	// ErrRunNotActive is returned when cancelling a run that is not
	// executing on this instance.
	ErrRunNotActive = errors.New("run is not active")
)

const (
	defaultWorkers   = 2
	defaultQueueSize = 64
)

// Options tunes the dispatcher pool.
type Options struct {
	// Workers is how many runs execute concurrently. Zero means 2.
	Workers int
	// QueueSize bounds the backlog of queued runs. Zero means 64.
	QueueSize int
}

// Deps are the collaborators a dispatcher drives. Reporter, Ledger and
// Tracer may be nil; they default to a no-op reporter, an in-memory
// ledger and a no-op tracer.
type Deps struct {
	Repository *workflow.Repository
	Matcher    *workflow.TriggerMatcher
	Planner    *workflow.Planner
	Runner     *runner.Runner
	Store      *store.Store
	Bus        eventbus.EventBus
	Reporter   status.Reporter
	Ledger     DeliveryLedger
	Tracer     trace.Tracer
	// ExtraSink, when set, receives the same execution callbacks as the
	// recording sink. The CLI attaches a console sink here.
	ExtraSink runner.Sink
}

// Receipt summarizes what an event triggered.
type Receipt struct {
	DeliveryID string   `json:"delivery_id,omitempty"`
	Runs       []RunRef `json:"runs"`
}

// RunRef points at one run created by a dispatch.
type RunRef struct {
	ID       string `json:"id"`
	Workflow string `json:"workflow"`
}

type work struct {
	run   *models.WorkflowRun
	plan  *workflow.Plan
	event models.Event
}

type Dispatcher struct {
	repository *workflow.Repository
	matcher    *workflow.TriggerMatcher
	planner    *workflow.Planner
	runner     *runner.Runner
	store      *store.Store
	bus        eventbus.EventBus
	reporter   status.Reporter
	ledger     DeliveryLedger
	tracer     trace.Tracer
	extraSink  runner.Sink
	logger     *slog.Logger

	queue   chan work
	workers int

	mu      sync.Mutex
	cancels map[string]context.CancelFunc
	wg      sync.WaitGroup
}

func NewDispatcher(deps Deps, logger *slog.Logger, opts Options) *Dispatcher {
	if deps.Reporter == nil {
		deps.Reporter = status.NopReporter{}
	}

	if deps.Ledger == nil {
		deps.Ledger = NewMemoryLedger(time.Hour)
	}

	if deps.Tracer == nil {
		deps.Tracer = noop.NewTracerProvider().Tracer("gale")
	}

	workers := opts.Workers
	if workers <= 0 {
		workers = defaultWorkers
	}

	queueSize := opts.QueueSize
	if queueSize <= 0 {
		queueSize = defaultQueueSize
	}

	return &Dispatcher{
		repository: deps.Repository,
		matcher:    deps.Matcher,
		planner:    deps.Planner,
		runner:     deps.Runner,
		store:      deps.Store,
		bus:        deps.Bus,
		reporter:   deps.Reporter,
		ledger:     deps.Ledger,
		tracer:     deps.Tracer,
		extraSink:  deps.ExtraSink,
		logger:     logger.With("module", "dispatch"),
		queue:      make(chan work, queueSize),
		workers:    workers,
		cancels:    make(map[string]context.CancelFunc),
	}
}

// Start launches the worker pool. Workers exit when ctx is cancelled.
func (d *Dispatcher) Start(ctx context.Context) {
	for i := range d.workers {
		d.wg.Add(1)

		go d.worker(ctx, i)
	}

	d.logger.Info("Dispatcher started", "workers", d.workers, "queue_size", cap(d.queue))
}

// Wait blocks until every worker has exited.
func (d *Dispatcher) Wait() {
	d.wg.Wait()
}

// Dispatch matches an event against the loaded workflows and queues one
// run per match. Runs are persisted as queued before they are enqueued,
// so a crashed instance leaves an inspectable record.
func (d *Dispatcher) Dispatch(ctx context.Context, event models.Event) (*Receipt, error) {
	if event.DeliveryID != "" {
		seen, err := d.ledger.MarkSeen(ctx, event.DeliveryID)
		if err != nil {
			// A degraded ledger must not drop events; risk a duplicate
			// run instead.
			d.logger.WarnContext(ctx, "Delivery ledger unavailable", "error", err)
		} else if seen {
			return nil, fmt.Errorf("delivery %s: %w", event.DeliveryID, ErrDuplicateDelivery)
		}
	}

	if event.ReceivedAt.IsZero() {
		event.ReceivedAt = time.Now().UTC()
	}

	workflows, err := d.repository.FetchAll(ctx)
	if err != nil {
		return nil, fmt.Errorf("failed to load workflows: %w", err)
	}

	receipt := &Receipt{DeliveryID: event.DeliveryID, Runs: []RunRef{}}

	for _, match := range d.matcher.MatchWorkflows(event, workflows) {
		plan, err := d.planner.Plan(match.Workflow, event)
		if err != nil {
			d.logger.ErrorContext(ctx, "Failed to plan run",
				"workflow", match.Workflow.Name, "error", err)

			continue
		}

		run := runner.NewRun(plan)
		if err := d.store.CreateRun(ctx, run); err != nil {
			d.logger.ErrorContext(ctx, "Failed to persist run",
				"workflow", match.Workflow.Name, "error", err)

			continue
		}

		select {
		case d.queue <- work{run: run, plan: plan, event: event}:
		default:
			// Roll back so the forge's retry is not counted a duplicate.
			if err := d.store.DeleteRun(ctx, run.ID); err != nil {
				d.logger.ErrorContext(ctx, "Failed to roll back queued run", "run_id", run.ID, "error", err)
			}

			if event.DeliveryID != "" {
				if err := d.ledger.Forget(ctx, event.DeliveryID); err != nil {
					d.logger.WarnContext(ctx, "Failed to release delivery", "error", err)
				}
			}

			return receipt, fmt.Errorf("workflow %s: %w", match.Workflow.Name, ErrQueueFull)
		}

		d.publish(ctx, run.ID, events.WorkflowTriggered{
			BaseEvent: events.NewBaseEvent(events.WorkflowTriggeredEvent, run.Workflow, run.ID),
			Event:     event,
			Instances: len(run.Jobs),
		})

		receipt.Runs = append(receipt.Runs, RunRef{ID: run.ID, Workflow: run.Workflow})

		d.logger.InfoContext(ctx, "Run queued",
			"run_id", run.ID,
			"workflow", run.Workflow,
			"event_kind", event.Kind,
			"instances", len(run.Jobs))
	}

	return receipt, nil
}

// DispatchSync matches an event and executes every matched run inline,
// bypassing the queue and the delivery ledger. One-shot local runs use
// this; the first planning or persistence failure stops the walk. A
// non-empty names list restricts execution to those workflows.
func (d *Dispatcher) DispatchSync(ctx context.Context, event models.Event, names ...string) ([]*models.WorkflowRun, error) {
	if event.ReceivedAt.IsZero() {
		event.ReceivedAt = time.Now().UTC()
	}

	workflows, err := d.repository.FetchAll(ctx)
	if err != nil {
		return nil, fmt.Errorf("failed to load workflows: %w", err)
	}

	var runs []*models.WorkflowRun

	for _, match := range d.matcher.MatchWorkflows(event, workflows) {
		if len(names) > 0 && !slices.Contains(names, match.Workflow.Name) {
			continue
		}

		plan, err := d.planner.Plan(match.Workflow, event)
		if err != nil {
			return runs, fmt.Errorf("workflow %s: %w", match.Workflow.Name, err)
		}

		run := runner.NewRun(plan)
		if err := d.store.CreateRun(ctx, run); err != nil {
			return runs, fmt.Errorf("workflow %s: %w", match.Workflow.Name, err)
		}

		d.publish(ctx, run.ID, events.WorkflowTriggered{
			BaseEvent: events.NewBaseEvent(events.WorkflowTriggeredEvent, run.Workflow, run.ID),
			Event:     event,
			Instances: len(run.Jobs),
		})

		d.process(ctx, work{run: run, plan: plan, event: event})

		runs = append(runs, run)
	}

	return runs, nil
}

// Cancel stops a run executing on this instance. The run is marked
// cancelled by the worker that owns it.
func (d *Dispatcher) Cancel(runID string) error {
	d.mu.Lock()
	cancel, ok := d.cancels[runID]
	d.mu.Unlock()

	if !ok {
		return fmt.Errorf("run %s: %w", runID, ErrRunNotActive)
	}

	cancel()

	return nil
}

// Backlog reports how many runs are waiting for a worker.
func (d *Dispatcher) Backlog() int {
	return len(d.queue)
}

func (d *Dispatcher) worker(ctx context.Context, id int) {
	defer d.wg.Done()

	logger := d.logger.With("worker", id)
	logger.Info("Dispatch worker started")

	for {
		select {
		case <-ctx.Done():
			logger.Info("Dispatch worker stopped")

			return
		case item := <-d.queue:
			d.process(ctx, item)
		}
	}
}

func (d *Dispatcher) process(ctx context.Context, item work) {
	run := item.run
	logger := d.logger.With("run_id", run.ID, "workflow", run.Workflow)

	runCtx, cancel := context.WithCancel(ctx)

	d.mu.Lock()
	d.cancels[run.ID] = cancel
	d.mu.Unlock()

	defer func() {
		cancel()

		d.mu.Lock()
		delete(d.cancels, run.ID)
		d.mu.Unlock()
	}()

	runCtx, span := tracing.StartSpan(runCtx, d.tracer, "dispatch.run execute",
		attribute.String(tracing.RunIDKey, run.ID),
		attribute.String(tracing.WorkflowNameKey, run.Workflow),
		attribute.String(tracing.EventKindKey, string(run.EventKind)),
		attribute.String(tracing.BranchKey, run.Branch),
	)
	defer span.End()

	// Final state must reach the store and the bus even when the run
	// context is already cancelled.
	persistCtx := context.WithoutCancel(ctx)

	started := time.Now().UTC()
	if err := d.store.MarkRunStarted(persistCtx, run.ID, started); err != nil {
		logger.Error("Failed to mark run started", "error", err)
	}

	d.publish(persistCtx, run.ID, events.RunStarted{
		BaseEvent: events.NewBaseEvent(events.RunStartedEvent, run.Workflow, run.ID),
		EventKind: run.EventKind,
		Branch:    run.Branch,
		HeadSHA:   run.HeadSHA,
		Instances: len(run.Jobs),
	})

	var sink runner.Sink = newRecordingSink(persistCtx, d.store, d.bus, d.reporter, run, item.event, d.logger)
	if d.extraSink != nil {
		sink = runner.MultiSink{d.extraSink, sink}
	}

	if _, err := d.runner.ExecuteRun(runCtx, run, item.plan, sink); err != nil {
		logger.Error("Run execution failed", "error", err)
		tracing.SetError(span, err)

		run.Status = models.RunStatusFailed
	}

	finished := time.Now().UTC()
	if run.FinishedAt != nil {
		finished = *run.FinishedAt
	}

	if err := d.store.MarkRunFinished(persistCtx, run.ID, run.Status, finished); err != nil {
		logger.Error("Failed to mark run finished", "error", err)
	}

	passed, failed := 0, 0

	for _, jobRun := range run.Jobs {
		switch jobRun.Status {
		case models.RunStatusPassed:
			passed++
		case models.RunStatusFailed:
			failed++
		}
	}

	d.publish(persistCtx, run.ID, events.RunFinished{
		BaseEvent:  events.NewBaseEvent(events.RunFinishedEvent, run.Workflow, run.ID),
		Status:     run.Status,
		DurationMs: finished.Sub(started).Milliseconds(),
		JobsPassed: passed,
		JobsFailed: failed,
	})

	span.AddEvent("run_finished", trace.WithAttributes(
		attribute.String("status", string(run.Status)),
	))

	update := status.Update{
		Repository:  item.event.Repository,
		HeadSHA:     run.HeadSHA,
		Context:     "ci/" + run.Workflow,
		State:       status.StateFor(run.Status),
		Description: fmt.Sprintf("%d of %d jobs passed", passed, len(run.Jobs)),
		RunID:       run.ID,
	}
	if err := d.reporter.Report(persistCtx, update); err != nil {
		logger.Warn("Failed to report run status", "error", err)
	}
}

func (d *Dispatcher) publish(ctx context.Context, key string, event eventbus.Event) {
	if err := d.bus.Publish(ctx, key, event); err != nil {
		d.logger.WarnContext(ctx, "Failed to publish event",
			"event_type", event.GetType(), "error", err)
	}
}
