// Package main provides the Gale API server implementation.
package main

import (
	"log/slog"

	"github.com/gofiber/fiber/v3"
	"github.com/gofiber/fiber/v3/middleware/cors"
	"github.com/gofiber/fiber/v3/middleware/healthcheck"
	"github.com/gofiber/fiber/v3/middleware/logger"

	"github.com/dukex/gale/pkg/registry"
	"github.com/dukex/gale/pkg/services"
	"github.com/dukex/gale/pkg/web"
)

type API struct {
	logger          *slog.Logger
	eventService    *services.Events
	runService      *services.Runs
	workflowService *services.Workflows
	registry        *registry.Registry
}

func NewAPI(
	logger *slog.Logger,
	eventService *services.Events,
	runService *services.Runs,
	workflowService *services.Workflows,
	reg *registry.Registry,
) *API {
	return &API{
		logger:          logger,
		eventService:    eventService,
		runService:      runService,
		workflowService: workflowService,
		registry:        reg,
	}
}

func (a *API) App() *fiber.App {
	handlers := web.NewAPIHandlers(a.eventService, a.runService, a.workflowService, a.registry, a.logger)

	app := fiber.New()
	app.Use(cors.New())
	app.Use(logger.New(logger.Config{
		DisableColors: true,
	}))

	app.Get(healthcheck.DefaultLivenessEndpoint, healthcheck.NewHealthChecker())
	app.Get(healthcheck.DefaultReadinessEndpoint, healthcheck.NewHealthChecker())

	app.Get("/", func(c fiber.Ctx) error {
		return c.SendString("Gale CI")
	})

	e := app.Group("/events")
	e.Post("/push", handlers.ReceivePushEvent)
	e.Post("/pull_request", handlers.ReceivePullRequestEvent)

	w := app.Group("/workflows")
	w.Get("/", handlers.GetWorkflows)
	w.Post("/validate", handlers.ValidateWorkflow)
	w.Post("/reload", handlers.ReloadWorkflows)
	w.Get("/:name", handlers.GetWorkflow)

	r := app.Group("/runs")
	r.Get("/", handlers.GetRuns)
	r.Get("/:id", handlers.GetRun)
	r.Post("/:id/cancel", handlers.CancelRun)
	r.Delete("/:id", handlers.DeleteRun)

	app.Get("/health", handlers.HealthCheck)

	return app
}
