package web_test

import (
	"bytes"
	"context"
	"database/sql"
	"encoding/json"
	"io"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/gofiber/fiber/v3"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"

	"github.com/dukex/gale/internal/store"
	"github.com/dukex/gale/pkg/actions/checkout"
	"github.com/dukex/gale/pkg/actions/toolchain"
	"github.com/dukex/gale/pkg/dispatch"
	"github.com/dukex/gale/pkg/mocks"
	"github.com/dukex/gale/pkg/models"
	"github.com/dukex/gale/pkg/registry"
	"github.com/dukex/gale/pkg/runner"
	"github.com/dukex/gale/pkg/services"
	"github.com/dukex/gale/pkg/web"
	"github.com/dukex/gale/pkg/workfile"
	"github.com/dukex/gale/pkg/workflow"
)

const ciWorkflow = `
name: ci
on:
  push:
    branches: [main]
  pull_request:
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

type testEnv struct {
	app  *fiber.App
	runs *services.Runs
	dir  string
}

func setupTestApp(t *testing.T) *testEnv {
	t.Helper()

	logger := slog.New(slog.NewTextHandler(io.Discard, nil))

	dir := t.TempDir()
	require.NoError(t, os.WriteFile(filepath.Join(dir, "ci.yaml"), []byte(ciWorkflow), 0o644))

	db, err := sql.Open("sqlite", ":memory:")
	require.NoError(t, err)
	t.Cleanup(func() { _ = db.Close() })

	// One connection, or every pooled connection would get its own empty
	// in-memory database.
	db.SetMaxOpenConns(1)

	_, err = db.Exec("PRAGMA foreign_keys = ON")
	require.NoError(t, err)
	require.NoError(t, store.RunMigrations(db))

	st := store.NewStore(db, db, logger)

	reg := registry.NewRegistry(logger)
	reg.RegisterAction(checkout.NewActionFactory())
	reg.RegisterAction(toolchain.NewActionFactory())

	for _, image := range registry.DefaultRunnerImages() {
		reg.RegisterRunnerImage(image)
	}

	bus := &mocks.MockEventBus{}
	bus.On("Publish", mock.Anything, mock.Anything, mock.Anything).Return(nil)

	reporter := &mocks.MockReporter{}
	reporter.On("Report", mock.Anything, mock.Anything).Return(nil)

	repository := workflow.NewRepository(dir, logger)

	dispatcher := dispatch.NewDispatcher(dispatch.Deps{
		Repository: repository,
		Matcher:    workflow.NewTriggerMatcher(logger),
		Planner:    workflow.NewPlanner(reg, logger),
		Runner:     runner.NewRunner(reg, logger, runner.Options{Pretend: true}),
		Store:      st,
		Bus:        bus,
		Reporter:   reporter,
		Ledger:     dispatch.NewMemoryLedger(time.Minute),
	}, logger, dispatch.Options{})

	ctx, cancel := context.WithCancel(context.Background())
	dispatcher.Start(ctx)
	t.Cleanup(func() {
		cancel()
		dispatcher.Wait()
	})

	eventService := services.NewEvents(dispatcher)
	runService := services.NewRuns(st, dispatcher)
	workflowService := services.NewWorkflows(
		repository,
		workfile.NewLoader(logger),
		workfile.NewValidator(reg, logger),
		nil,
	)

	handlers := web.NewAPIHandlers(eventService, runService, workflowService, reg, logger)

	app := fiber.New()
	app.Get("/health", handlers.HealthCheck)

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

	return &testEnv{app: app, runs: runService, dir: dir}
}

func postJSON(t *testing.T, app *fiber.App, path string, body any, headers map[string]string) *http.Response {
	t.Helper()

	payload, err := json.Marshal(body)
	require.NoError(t, err)

	req := httptest.NewRequest(http.MethodPost, path, bytes.NewReader(payload))
	req.Header.Set("Content-Type", "application/json")

	for name, value := range headers {
		req.Header.Set(name, value)
	}

	resp, err := app.Test(req)
	require.NoError(t, err)

	return resp
}

func pushBody(branch, sha string) web.PushPayload {
	return web.PushPayload{
		Ref:        "refs/heads/" + branch,
		After:      sha,
		Repository: web.Repository{FullName: "acme/widget"},
		Pusher:     web.Account{Login: "octocat"},
	}
}

func decodeReceipt(t *testing.T, resp *http.Response) dispatch.Receipt {
	t.Helper()

	var receipt dispatch.Receipt
	require.NoError(t, json.NewDecoder(resp.Body).Decode(&receipt))

	return receipt
}

func waitForRun(t *testing.T, env *testEnv, id string) *models.WorkflowRun {
	t.Helper()

	deadline := time.After(5 * time.Second)

	for {
		run, err := env.runs.FetchByID(context.Background(), id)
		require.NoError(t, err)

		if run.Status.Terminal() {
			return run
		}

		select {
		case <-deadline:
			t.Fatalf("run %s still %s after 5s", id, run.Status)
		case <-time.After(10 * time.Millisecond):
		}
	}
}

func TestReceivePushEventCreatesRun(t *testing.T) {
	env := setupTestApp(t)

	resp := postJSON(t, env.app, "/events/push", pushBody("main", "4f2d1c0"), map[string]string{
		web.DeliveryHeader: "delivery-1",
	})
	require.Equal(t, http.StatusAccepted, resp.StatusCode)

	receipt := decodeReceipt(t, resp)
	assert.Equal(t, "delivery-1", receipt.DeliveryID)
	require.Len(t, receipt.Runs, 1)
	assert.Equal(t, "ci", receipt.Runs[0].Workflow)

	run := waitForRun(t, env, receipt.Runs[0].ID)
	assert.Equal(t, models.RunStatusPassed, run.Status)

	req := httptest.NewRequest(http.MethodGet, "/runs/"+run.ID, nil)
	getResp, err := env.app.Test(req)
	require.NoError(t, err)
	require.Equal(t, http.StatusOK, getResp.StatusCode)

	var fetched models.WorkflowRun
	require.NoError(t, json.NewDecoder(getResp.Body).Decode(&fetched))
	assert.Equal(t, "ci", fetched.Workflow)
	assert.Equal(t, models.KindPush, fetched.EventKind)
	assert.Len(t, fetched.Jobs, 2)
}

func TestReceivePushEventDuplicateDelivery(t *testing.T) {
	env := setupTestApp(t)

	headers := map[string]string{web.DeliveryHeader: "delivery-dup"}

	first := postJSON(t, env.app, "/events/push", pushBody("main", "4f2d1c0"), headers)
	require.Equal(t, http.StatusAccepted, first.StatusCode)

	second := postJSON(t, env.app, "/events/push", pushBody("main", "4f2d1c0"), headers)
	require.Equal(t, http.StatusOK, second.StatusCode)

	var body map[string]string
	require.NoError(t, json.NewDecoder(second.Body).Decode(&body))
	assert.Equal(t, "duplicate", body["status"])
	assert.Equal(t, "delivery-dup", body["delivery_id"])
}

func TestReceivePushEventRejectsBadPayloads(t *testing.T) {
	env := setupTestApp(t)

	t.Run("malformed JSON", func(t *testing.T) {
		req := httptest.NewRequest(http.MethodPost, "/events/push", bytes.NewReader([]byte("{not json")))
		req.Header.Set("Content-Type", "application/json")

		resp, err := env.app.Test(req)
		require.NoError(t, err)
		assert.Equal(t, http.StatusBadRequest, resp.StatusCode)
	})

	t.Run("missing head SHA", func(t *testing.T) {
		body := pushBody("main", "")

		resp := postJSON(t, env.app, "/events/push", body, nil)
		assert.Equal(t, http.StatusBadRequest, resp.StatusCode)
	})
}

func TestReceivePushEventUnmatchedBranch(t *testing.T) {
	env := setupTestApp(t)

	resp := postJSON(t, env.app, "/events/push", pushBody("feature/x", "4f2d1c0"), nil)
	require.Equal(t, http.StatusAccepted, resp.StatusCode)

	receipt := decodeReceipt(t, resp)
	assert.Empty(t, receipt.Runs)
}

func TestReceivePullRequestEvent(t *testing.T) {
	env := setupTestApp(t)

	payload := web.PullRequestPayload{
		Action: "opened",
		Number: 7,
		PullRequest: web.PullRequest{
			Base: web.GitRef{Ref: "main"},
			Head: web.GitRef{Ref: "feature/parser", SHA: "9a8b7c6"},
		},
		Repository: web.Repository{FullName: "acme/widget"},
		Sender:     web.Account{Login: "octocat"},
	}

	resp := postJSON(t, env.app, "/events/pull_request", payload, map[string]string{
		web.DeliveryHeader: "delivery-pr",
	})
	require.Equal(t, http.StatusAccepted, resp.StatusCode)

	receipt := decodeReceipt(t, resp)
	require.Len(t, receipt.Runs, 1)

	run := waitForRun(t, env, receipt.Runs[0].ID)
	assert.Equal(t, models.KindPullRequest, run.EventKind)
	assert.Equal(t, models.RunStatusPassed, run.Status)
	assert.Equal(t, "9a8b7c6", run.HeadSHA)
}

func TestGetWorkflows(t *testing.T) {
	env := setupTestApp(t)

	req := httptest.NewRequest(http.MethodGet, "/workflows/", nil)
	resp, err := env.app.Test(req)
	require.NoError(t, err)
	require.Equal(t, http.StatusOK, resp.StatusCode)

	var body struct {
		Workflows []*models.Workflow `json:"workflows"`
		Count     int                `json:"count"`
	}
	require.NoError(t, json.NewDecoder(resp.Body).Decode(&body))
	assert.Equal(t, 1, body.Count)
	require.Len(t, body.Workflows, 1)
	assert.Equal(t, "ci", body.Workflows[0].Name)
}

func TestGetWorkflowNotFound(t *testing.T) {
	env := setupTestApp(t)

	req := httptest.NewRequest(http.MethodGet, "/workflows/nightly", nil)
	resp, err := env.app.Test(req)
	require.NoError(t, err)
	assert.Equal(t, http.StatusNotFound, resp.StatusCode)

	var problem map[string]any
	require.NoError(t, json.NewDecoder(resp.Body).Decode(&problem))
	assert.Equal(t, "not_found", problem["type"])
}

func TestValidateWorkflow(t *testing.T) {
	env := setupTestApp(t)

	t.Run("valid document", func(t *testing.T) {
		resp := postJSON(t, env.app, "/workflows/validate", web.ValidateRequest{Source: ciWorkflow}, nil)
		require.Equal(t, http.StatusOK, resp.StatusCode)

		var body struct {
			Valid    bool              `json:"valid"`
			Findings workfile.Findings `json:"findings"`
		}
		require.NoError(t, json.NewDecoder(resp.Body).Decode(&body))
		assert.True(t, body.Valid)
	})

	t.Run("unresolvable action", func(t *testing.T) {
		source := `
name: broken
on:
  push:
    branches: [main]
jobs:
  build:
    runs-on: ubuntu-latest
    steps:
      - uses: ghcr/mystery-action@v1
`

		resp := postJSON(t, env.app, "/workflows/validate", web.ValidateRequest{Source: source}, nil)
		require.Equal(t, http.StatusOK, resp.StatusCode)

		var body struct {
			Valid    bool              `json:"valid"`
			Findings workfile.Findings `json:"findings"`
		}
		require.NoError(t, json.NewDecoder(resp.Body).Decode(&body))
		assert.False(t, body.Valid)
		require.NotEmpty(t, body.Findings)
		assert.Equal(t, workfile.CodeActionUnresolved, body.Findings[0].Code)
	})

	t.Run("empty source", func(t *testing.T) {
		resp := postJSON(t, env.app, "/workflows/validate", web.ValidateRequest{}, nil)
		assert.Equal(t, http.StatusBadRequest, resp.StatusCode)
	})
}

func TestReloadWorkflows(t *testing.T) {
	env := setupTestApp(t)

	nightly := `
name: nightly
on:
  schedule:
    - cron: "0 3 * * *"
jobs:
  audit:
    runs-on: ubuntu-latest
    steps:
      - run: cargo audit
`
	require.NoError(t, os.WriteFile(filepath.Join(env.dir, "nightly.yaml"), []byte(nightly), 0o644))

	resp := postJSON(t, env.app, "/workflows/reload", struct{}{}, nil)
	require.Equal(t, http.StatusOK, resp.StatusCode)

	var body struct {
		Status string `json:"status"`
		Count  int    `json:"count"`
	}
	require.NoError(t, json.NewDecoder(resp.Body).Decode(&body))
	assert.Equal(t, "reloaded", body.Status)
	assert.Equal(t, 2, body.Count)
}

func TestRunListingAndDeletion(t *testing.T) {
	env := setupTestApp(t)

	resp := postJSON(t, env.app, "/events/push", pushBody("main", "4f2d1c0"), nil)
	require.Equal(t, http.StatusAccepted, resp.StatusCode)

	receipt := decodeReceipt(t, resp)
	require.Len(t, receipt.Runs, 1)
	runID := receipt.Runs[0].ID
	waitForRun(t, env, runID)

	listReq := httptest.NewRequest(http.MethodGet, "/runs/?workflow=ci&limit=10", nil)
	listResp, err := env.app.Test(listReq)
	require.NoError(t, err)
	require.Equal(t, http.StatusOK, listResp.StatusCode)

	var listing struct {
		Runs       []*models.WorkflowRun `json:"runs"`
		TotalCount int64                 `json:"total_count"`
	}
	require.NoError(t, json.NewDecoder(listResp.Body).Decode(&listing))
	assert.Equal(t, int64(1), listing.TotalCount)
	require.Len(t, listing.Runs, 1)
	assert.Equal(t, runID, listing.Runs[0].ID)

	deleteReq := httptest.NewRequest(http.MethodDelete, "/runs/"+runID, nil)
	deleteResp, err := env.app.Test(deleteReq)
	require.NoError(t, err)
	assert.Equal(t, http.StatusNoContent, deleteResp.StatusCode)

	getReq := httptest.NewRequest(http.MethodGet, "/runs/"+runID, nil)
	getResp, err := env.app.Test(getReq)
	require.NoError(t, err)
	assert.Equal(t, http.StatusNotFound, getResp.StatusCode)
}

func TestRunListingRejectsBadPagination(t *testing.T) {
	env := setupTestApp(t)

	req := httptest.NewRequest(http.MethodGet, "/runs/?limit=lots", nil)
	resp, err := env.app.Test(req)
	require.NoError(t, err)
	assert.Equal(t, http.StatusBadRequest, resp.StatusCode)
}

func TestCancelFinishedRunConflicts(t *testing.T) {
	env := setupTestApp(t)

	resp := postJSON(t, env.app, "/events/push", pushBody("main", "4f2d1c0"), nil)
	require.Equal(t, http.StatusAccepted, resp.StatusCode)

	receipt := decodeReceipt(t, resp)
	require.Len(t, receipt.Runs, 1)
	waitForRun(t, env, receipt.Runs[0].ID)

	cancelResp := postJSON(t, env.app, "/runs/"+receipt.Runs[0].ID+"/cancel", struct{}{}, nil)
	assert.Equal(t, http.StatusConflict, cancelResp.StatusCode)
}

func TestCancelUnknownRunNotFound(t *testing.T) {
	env := setupTestApp(t)

	resp := postJSON(t, env.app, "/runs/run-missing/cancel", struct{}{}, nil)
	assert.Equal(t, http.StatusNotFound, resp.StatusCode)
}

func TestHealthCheck(t *testing.T) {
	env := setupTestApp(t)

	req := httptest.NewRequest(http.MethodGet, "/health", nil)
	resp, err := env.app.Test(req)
	require.NoError(t, err)
	require.Equal(t, http.StatusOK, resp.StatusCode)

	var body map[string]any
	require.NoError(t, json.NewDecoder(resp.Body).Decode(&body))
	assert.Equal(t, "healthy", body["status"])
}
