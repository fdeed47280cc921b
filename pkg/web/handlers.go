package web

import (
	"errors"
	"log/slog"
	"net/http"
	"strconv"
	"time"

	"github.com/dukex/gale/pkg/models"
	"github.com/dukex/gale/pkg/registry"
	"github.com/dukex/gale/pkg/services"
	"github.com/gofiber/fiber/v3"
)

// APIHandlers bundles the HTTP handlers of the forge API.
type APIHandlers struct {
	eventService    *services.Events
	runService      *services.Runs
	workflowService *services.Workflows
	registry        *registry.Registry
	logger          *slog.Logger
}

func NewAPIHandlers(
	eventService *services.Events,
	runService *services.Runs,
	workflowService *services.Workflows,
	reg *registry.Registry,
	logger *slog.Logger,
) *APIHandlers {
	return &APIHandlers{
		eventService:    eventService,
		runService:      runService,
		workflowService: workflowService,
		registry:        reg,
		logger:          logger.With("module", "web"),
	}
}

func (h *APIHandlers) HealthCheck(c fiber.Ctx) error {
	registryCheck, regOk := h.registry.HealthCheck()
	runCheck, runOk := h.runService.HealthCheck(c.Context())
	workflowCheck, wfOk := h.workflowService.HealthCheck(c.Context())

	status := "unhealthy"
	message := "Gale API is unhealthy"
	httpStatus := http.StatusInternalServerError

	if regOk && runOk && wfOk {
		status = "healthy"
		message = "Gale API is healthy"
		httpStatus = http.StatusOK
	}

	return c.Status(httpStatus).JSON(fiber.Map{
		"status":  status,
		"message": message,
		"checkers": fiber.Map{
			"registry":  registryCheck,
			"store":     runCheck,
			"workflows": workflowCheck,
		},
		"timestamp": time.Now().UTC(),
	})
}

// ReceivePushEvent accepts a push webhook delivery and schedules every
// workflow whose trigger rules match it.
func (h *APIHandlers) ReceivePushEvent(c fiber.Ctx) error {
	var payload PushPayload
	if err := c.Bind().JSON(&payload); err != nil {
		return badRequest(c, "Invalid JSON format")
	}

	return h.acceptEvent(c, payload.ToEvent(c.Get(DeliveryHeader)))
}

// ReceivePullRequestEvent accepts a pull_request webhook delivery.
func (h *APIHandlers) ReceivePullRequestEvent(c fiber.Ctx) error {
	var payload PullRequestPayload
	if err := c.Bind().JSON(&payload); err != nil {
		return badRequest(c, "Invalid JSON format")
	}

	return h.acceptEvent(c, payload.ToEvent(c.Get(DeliveryHeader)))
}

func (h *APIHandlers) acceptEvent(c fiber.Ctx, event models.Event) error {
	receipt, err := h.eventService.Accept(c.Context(), event)
	if err != nil {
		if errors.Is(err, services.ErrDuplicateDelivery) {
			// The forge redelivered an event that already ran. Answering
			// with success stops it from retrying forever.
			return c.JSON(fiber.Map{
				"status":      "duplicate",
				"delivery_id": event.DeliveryID,
			})
		}

		return handleServiceError(c, err)
	}

	return c.Status(fiber.StatusAccepted).JSON(receipt)
}

func (h *APIHandlers) GetWorkflows(c fiber.Ctx) error {
	workflows, err := h.workflowService.List(c.Context())
	if err != nil {
		return handleServiceError(c, err)
	}

	return c.JSON(fiber.Map{
		"workflows": workflows,
		"count":     len(workflows),
	})
}

func (h *APIHandlers) GetWorkflow(c fiber.Ctx) error {
	name := c.Params("name")
	if name == "" {
		return badRequest(c, "Workflow name is required")
	}

	workflow, err := h.workflowService.FetchByName(c.Context(), name)
	if err != nil {
		return handleServiceError(c, err)
	}

	return c.JSON(workflow)
}

// ValidateWorkflow checks a workflow document without installing it and
// reports every finding. A broken document is a 200 with findings, not
// an error status.
func (h *APIHandlers) ValidateWorkflow(c fiber.Ctx) error {
	var req ValidateRequest
	if err := c.Bind().JSON(&req); err != nil {
		return badRequest(c, "Invalid JSON format")
	}

	findings, err := h.workflowService.ValidateSource(c.Context(), []byte(req.Source))
	if err != nil {
		return handleServiceError(c, err)
	}

	return c.JSON(fiber.Map{
		"valid":    !findings.HasErrors(),
		"findings": findings,
	})
}

// ReloadWorkflows re-reads the workflow directory and rebuilds the
// schedule table from the fresh definitions.
func (h *APIHandlers) ReloadWorkflows(c fiber.Ctx) error {
	if err := h.workflowService.Reload(c.Context()); err != nil {
		return handleServiceError(c, err)
	}

	workflows, err := h.workflowService.List(c.Context())
	if err != nil {
		return handleServiceError(c, err)
	}

	return c.JSON(fiber.Map{
		"status": "reloaded",
		"count":  len(workflows),
	})
}

func (h *APIHandlers) GetRuns(c fiber.Ctx) error {
	req, err := h.parseListRunsRequest(c)
	if err != nil {
		return badRequest(c, "Invalid query parameters: "+err.Error())
	}

	result, err := h.runService.ListRuns(c.Context(), *req)
	if err != nil {
		return handleServiceError(c, err)
	}

	return c.JSON(fiber.Map{
		"runs":          result.Runs,
		"total_count":   result.TotalCount,
		"has_next_page": result.HasNextPage,
		"pagination": fiber.Map{
			"limit":  req.Limit,
			"offset": req.Offset,
		},
	})
}

// parseListRunsRequest parses and validates query parameters for listing runs.
func (h *APIHandlers) parseListRunsRequest(c fiber.Ctx) (*services.ListRunsRequest, error) {
	req := &services.ListRunsRequest{}

	if limitStr := c.Query("limit"); limitStr != "" {
		limit, err := strconv.ParseInt(limitStr, 10, 64)
		if err != nil {
			return nil, err
		}

		req.Limit = limit
	}

	if offsetStr := c.Query("offset"); offsetStr != "" {
		offset, err := strconv.ParseInt(offsetStr, 10, 64)
		if err != nil {
			return nil, err
		}

		req.Offset = offset
	}

	req.Workflow = c.Query("workflow")

	return req, nil
}

func (h *APIHandlers) GetRun(c fiber.Ctx) error {
	id := c.Params("id")
	if id == "" {
		return badRequest(c, "Run ID is required")
	}

	run, err := h.runService.FetchByID(c.Context(), id)
	if err != nil {
		return handleServiceError(c, err)
	}

	return c.JSON(run)
}

// CancelRun asks the dispatcher to stop an in-flight run. The run winds
// down asynchronously, so the response only acknowledges the request.
func (h *APIHandlers) CancelRun(c fiber.Ctx) error {
	id := c.Params("id")
	if id == "" {
		return badRequest(c, "Run ID is required")
	}

	if err := h.runService.Cancel(c.Context(), id); err != nil {
		return handleServiceError(c, err)
	}

	return c.Status(fiber.StatusAccepted).JSON(fiber.Map{
		"id":     id,
		"status": "cancelling",
	})
}

func (h *APIHandlers) DeleteRun(c fiber.Ctx) error {
	id := c.Params("id")
	if id == "" {
		return badRequest(c, "Run ID is required")
	}

	if err := h.runService.Delete(c.Context(), id); err != nil {
		return handleServiceError(c, err)
	}

	return c.SendStatus(fiber.StatusNoContent)
}
