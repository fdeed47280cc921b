package main

import (
	"context"
	"log/slog"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/gofiber/fiber/v3"

	"github.com/dukex/gale/pkg/config"
	"github.com/dukex/gale/pkg/dispatch"
	"github.com/dukex/gale/pkg/services"
)

const shutdownTimeout = 10 * time.Second

// ServerManager runs the HTTP listener, the dispatch workers and the
// cron scheduler as one unit, and winds them down together.
type ServerManager struct {
	cfg             *config.Config
	app             *fiber.App
	dispatcher      *dispatch.Dispatcher
	scheduler       *dispatch.Scheduler
	workflowService *services.Workflows
	logger          *slog.Logger
}

func NewServerManager(
	cfg *config.Config,
	app *fiber.App,
	dispatcher *dispatch.Dispatcher,
	scheduler *dispatch.Scheduler,
	workflowService *services.Workflows,
	logger *slog.Logger,
) *ServerManager {
	return &ServerManager{
		cfg:             cfg,
		app:             app,
		dispatcher:      dispatcher,
		scheduler:       scheduler,
		workflowService: workflowService,
		logger:          logger.With("module", "gale-server"),
	}
}

func (sm *ServerManager) Start(ctx context.Context) error {
	smCtx, cancel := context.WithCancel(ctx)
	defer cancel()

	sm.logger.InfoContext(smCtx, "Starting gale server", "port", sm.cfg.Port)

	sm.dispatcher.Start(smCtx)

	if err := sm.scheduler.Start(smCtx); err != nil {
		return err
	}

	sm.signals(smCtx)

	err := sm.app.Listen(sm.cfg.Port)

	// Listen returned, either after Shutdown or a listener failure.
	// Cancelling smCtx stops the workers; in-flight runs are cancelled
	// and still reach the store as cancelled.
	cancel()
	sm.scheduler.Stop()
	sm.dispatcher.Wait()

	sm.logger.Info("Gale server stopped")

	return err
}

func (sm *ServerManager) signals(ctx context.Context) {
	signals := make(chan os.Signal, 1)
	signal.Notify(signals, syscall.SIGHUP, syscall.SIGINT, syscall.SIGTERM)

	go func() {
		for sig := range signals {
			switch sig {
			case syscall.SIGHUP:
				sm.logger.InfoContext(ctx, "Reloading workflow definitions...")

				if err := sm.workflowService.Reload(ctx); err != nil {
					sm.logger.ErrorContext(ctx, "Failed to reload workflows", "error", err)
				}
			case syscall.SIGINT, syscall.SIGTERM:
				sm.logger.InfoContext(ctx, "Shutting down gracefully...", "signal", sig)

				shutdownCtx, release := context.WithTimeout(context.Background(), shutdownTimeout)
				if err := sm.app.ShutdownWithContext(shutdownCtx); err != nil {
					sm.logger.ErrorContext(ctx, "HTTP shutdown failed", "error", err)
				}

				release()

				return
			default:
				sm.logger.WarnContext(ctx, "Unhandled signal received", "signal", sig)
			}
		}
	}()
}
