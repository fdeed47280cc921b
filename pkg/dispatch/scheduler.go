package dispatch

import (
	"context"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/robfig/cron/v3"

	"github.com/dukex/gale/pkg/models"
	"github.com/dukex/gale/pkg/workflow"
)

// Scheduler fires schedule triggers. Every cron rule declared by a loaded
// workflow becomes one cron entry; firing dispatches a schedule event
// carrying the rule, and trigger matching selects the workflows that
// declared it.
type Scheduler struct {
	repository *workflow.Repository
	dispatcher *Dispatcher
	logger     *slog.Logger
	cron       *cron.Cron

	mutex   sync.Mutex
	entries map[string]cron.EntryID // cron expression -> entry
}

func NewScheduler(repository *workflow.Repository, dispatcher *Dispatcher, logger *slog.Logger) *Scheduler {
	return &Scheduler{
		repository: repository,
		dispatcher: dispatcher,
		logger:     logger.With("module", "scheduler"),
		cron: cron.New(cron.WithChain(
			cron.SkipIfStillRunning(cron.DefaultLogger),
			cron.Recover(cron.DefaultLogger),
		)),
		entries: make(map[string]cron.EntryID),
	}
}

// Start registers every declared cron rule and starts firing. Identical
// expressions share one entry; a single firing dispatches to every
// workflow that declared the rule.
func (s *Scheduler) Start(ctx context.Context) error {
	workflows, err := s.repository.FetchAll(ctx)
	if err != nil {
		return fmt.Errorf("failed to load workflows: %w", err)
	}

	if err := s.register(ctx, workflows); err != nil {
		return err
	}

	s.cron.Start()
	s.logger.InfoContext(ctx, "Scheduler started", "entries", len(s.entries))

	return nil
}

// Rebuild re-registers cron entries after workflows were reloaded.
func (s *Scheduler) Rebuild(ctx context.Context) error {
	workflows, err := s.repository.FetchAll(ctx)
	if err != nil {
		return fmt.Errorf("failed to load workflows: %w", err)
	}

	s.mutex.Lock()
	for expr, entryID := range s.entries {
		s.cron.Remove(entryID)
		delete(s.entries, expr)
	}
	s.mutex.Unlock()

	return s.register(ctx, workflows)
}

func (s *Scheduler) register(ctx context.Context, workflows []*models.Workflow) error {
	for _, wf := range workflows {
		for _, rule := range wf.On.Schedule {
			s.mutex.Lock()
			_, exists := s.entries[rule.Cron]
			s.mutex.Unlock()

			if exists {
				continue
			}

			expr := rule.Cron
			entryID, err := s.cron.AddFunc(expr, func() {
				s.fire(expr)
			})
			if err != nil {
				return fmt.Errorf("workflow %s: invalid cron rule %q: %w", wf.Name, expr, err)
			}

			s.mutex.Lock()
			s.entries[expr] = entryID
			s.mutex.Unlock()

			s.logger.InfoContext(ctx, "Registered schedule",
				"workflow", wf.Name, "cron", expr, "entry_id", entryID)
		}
	}

	return nil
}

// Entries reports how many distinct cron rules are registered.
func (s *Scheduler) Entries() int {
	s.mutex.Lock()
	defer s.mutex.Unlock()

	return len(s.entries)
}

func (s *Scheduler) fire(expr string) {
	logger := s.logger.With("cron", expr)
	logger.Debug("Schedule fired")

	event := models.Event{
		Kind:       models.KindSchedule,
		Cron:       expr,
		Sender:     "scheduler",
		ReceivedAt: time.Now().UTC(),
	}

	receipt, err := s.dispatcher.Dispatch(context.Background(), event)
	if err != nil {
		logger.Error("Failed to dispatch schedule event", "error", err)

		return
	}

	logger.Info("Schedule dispatched", "runs", len(receipt.Runs))
}

func (s *Scheduler) Stop() {
	stopCtx := s.cron.Stop()
	// Wait for in-flight jobs so shutdown does not orphan a dispatch.
	<-stopCtx.Done()

	s.logger.Info("Scheduler stopped")
}
