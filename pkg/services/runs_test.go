package services

import (
	"context"
	"database/sql"
	"io"
	"log/slog"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/dukex/gale/internal/store"
	"github.com/dukex/gale/pkg/models"
)

func discardLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

func newTestStore(t *testing.T) *store.Store {
	t.Helper()

	db, err := sql.Open("sqlite", ":memory:")
	require.NoError(t, err)
	t.Cleanup(func() { _ = db.Close() })

	// One connection, or every pooled connection would get its own empty
	// in-memory database.
	db.SetMaxOpenConns(1)

	_, err = db.Exec("PRAGMA foreign_keys = ON")
	require.NoError(t, err)
	require.NoError(t, store.RunMigrations(db))

	return store.NewStore(db, db, discardLogger())
}

func seedRun(t *testing.T, st *store.Store, workflow string, status models.RunStatus, createdAt time.Time) *models.WorkflowRun {
	t.Helper()

	run := &models.WorkflowRun{
		Workflow:  workflow,
		EventKind: models.KindPush,
		Branch:    "main",
		HeadSHA:   "4f2d1c0",
		Status:    status,
		CreatedAt: createdAt,
		Jobs: []*models.JobRun{
			{JobID: "build", Instance: "build", RunnerImage: "ubuntu-latest", Status: status},
		},
	}
	require.NoError(t, st.CreateRun(context.Background(), run))

	return run
}

type stubCanceller struct {
	err       error
	cancelled []string
}

func (s *stubCanceller) Cancel(runID string) error {
	s.cancelled = append(s.cancelled, runID)

	return s.err
}

func TestListRunsPaging(t *testing.T) {
	st := newTestStore(t)
	base := time.Now().UTC().Add(-time.Hour)

	for i := range 5 {
		seedRun(t, st, "ci", models.RunStatusPassed, base.Add(time.Duration(i)*time.Minute))
	}

	seedRun(t, st, "nightly", models.RunStatusFailed, base.Add(10*time.Minute))

	service := NewRuns(st, nil)

	resp, err := service.ListRuns(context.Background(), ListRunsRequest{Limit: 2})
	require.NoError(t, err)
	assert.Len(t, resp.Runs, 2)
	assert.Equal(t, int64(6), resp.TotalCount)
	assert.True(t, resp.HasNextPage)

	// Newest first.
	assert.Equal(t, "nightly", resp.Runs[0].Workflow)

	resp, err = service.ListRuns(context.Background(), ListRunsRequest{Workflow: "ci", Limit: 10})
	require.NoError(t, err)
	assert.Len(t, resp.Runs, 5)
	assert.Equal(t, int64(5), resp.TotalCount)
	assert.False(t, resp.HasNextPage)

	resp, err = service.ListRuns(context.Background(), ListRunsRequest{Workflow: "ci", Limit: 2, Offset: 4})
	require.NoError(t, err)
	assert.Len(t, resp.Runs, 1)
	assert.False(t, resp.HasNextPage)
}

func TestListRunsDefaultsLimit(t *testing.T) {
	st := newTestStore(t)
	seedRun(t, st, "ci", models.RunStatusPassed, time.Now().UTC())

	service := NewRuns(st, nil)

	resp, err := service.ListRuns(context.Background(), ListRunsRequest{Limit: -3, Offset: -1})
	require.NoError(t, err)
	assert.Len(t, resp.Runs, 1)
}

func TestFetchByID(t *testing.T) {
	st := newTestStore(t)
	run := seedRun(t, st, "ci", models.RunStatusPassed, time.Now().UTC())

	service := NewRuns(st, nil)

	got, err := service.FetchByID(context.Background(), run.ID)
	require.NoError(t, err)
	assert.Equal(t, run.ID, got.ID)
	require.Len(t, got.Jobs, 1)

	_, err = service.FetchByID(context.Background(), "run-missing")
	require.ErrorIs(t, err, ErrRunNotFound)
}

func TestCancelActiveRun(t *testing.T) {
	st := newTestStore(t)
	run := seedRun(t, st, "ci", models.RunStatusRunning, time.Now().UTC())

	canceller := &stubCanceller{}
	service := NewRuns(st, canceller)

	require.NoError(t, service.Cancel(context.Background(), run.ID))
	assert.Equal(t, []string{run.ID}, canceller.cancelled)
}

func TestCancelFinishedRunConflicts(t *testing.T) {
	st := newTestStore(t)
	run := seedRun(t, st, "ci", models.RunStatusPassed, time.Now().UTC())

	service := NewRuns(st, &stubCanceller{err: ErrRunNotActive})

	err := service.Cancel(context.Background(), run.ID)
	require.ErrorIs(t, err, ErrRunNotCancellable)
	assert.True(t, IsConflictError(err))
}

func TestCancelMissingRun(t *testing.T) {
	st := newTestStore(t)

	service := NewRuns(st, &stubCanceller{err: ErrRunNotActive})

	err := service.Cancel(context.Background(), "run-missing")
	require.ErrorIs(t, err, ErrRunNotFound)
}

func TestDeleteRun(t *testing.T) {
	st := newTestStore(t)
	run := seedRun(t, st, "ci", models.RunStatusPassed, time.Now().UTC())

	service := NewRuns(st, nil)

	require.NoError(t, service.Delete(context.Background(), run.ID))
	require.ErrorIs(t, service.Delete(context.Background(), run.ID), ErrRunNotFound)
}

func TestPrune(t *testing.T) {
	st := newTestStore(t)
	seedRun(t, st, "ci", models.RunStatusPassed, time.Now().UTC().Add(-48*time.Hour))
	fresh := seedRun(t, st, "ci", models.RunStatusPassed, time.Now().UTC())

	service := NewRuns(st, nil)

	pruned, err := service.Prune(context.Background(), 24*time.Hour)
	require.NoError(t, err)
	assert.Equal(t, int64(1), pruned)

	_, err = service.FetchByID(context.Background(), fresh.ID)
	require.NoError(t, err)
}

func TestPruneRejectsNonPositiveRetention(t *testing.T) {
	service := NewRuns(newTestStore(t), nil)

	_, err := service.Prune(context.Background(), 0)
	require.Error(t, err)
	assert.True(t, IsValidationError(err))
}
