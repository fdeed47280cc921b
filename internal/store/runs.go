package store

import (
	"context"
	"fmt"
	"time"

	"github.com/georgysavva/scany/v2/sqlscan"

	"github.com/dukex/gale/pkg/models"
)

// timestampLayout matches the text format sqlite's current_timestamp
// produces, so stored values stay comparable and scan back as time.Time.
const timestampLayout = "2006-01-02 15:04:05"

func formatTime(t time.Time) string {
	return t.UTC().Format(timestampLayout)
}

// CreateRun inserts a queued run record together with its job instance
// records. Missing IDs and timestamps are filled in.
func (s *Store) CreateRun(ctx context.Context, run *models.WorkflowRun) error {
	if run.ID == "" {
		run.ID = NewID("run")
	}

	if run.Status == "" {
		run.Status = models.RunStatusQueued
	}

	if run.CreatedAt.IsZero() {
		run.CreatedAt = time.Now().UTC()
	}

	tx, err := s.rwdb.BeginTx(ctx, nil)
	if err != nil {
		return err
	}
	defer func() { _ = tx.Rollback() }()

	query := `insert into workflow_runs (id, workflow, event_kind, branch, head_sha, status, created_at)
	values ($1, $2, $3, $4, $5, $6, $7)`

	_, err = tx.ExecContext(ctx, query,
		run.ID, run.Workflow, run.EventKind, run.Branch, run.HeadSHA, run.Status, formatTime(run.CreatedAt))
	if err != nil {
		return err
	}

	for _, job := range run.Jobs {
		if job.ID == "" {
			job.ID = NewID("job")
		}

		job.RunID = run.ID

		if job.Status == "" {
			job.Status = models.RunStatusQueued
		}

		jobQuery := `insert into job_runs (id, run_id, job_id, instance, runner_image, status)
		values ($1, $2, $3, $4, $5, $6)`

		_, err = tx.ExecContext(ctx, jobQuery,
			job.ID, job.RunID, job.JobID, job.Instance, job.RunnerImage, job.Status)
		if err != nil {
			return err
		}
	}

	if err := tx.Commit(); err != nil {
		return err
	}

	s.logger.Debug("Created run", "run_id", run.ID, "workflow", run.Workflow, "jobs", len(run.Jobs))

	return nil
}

// GetRun returns one run with its job instances and step results.
func (s *Store) GetRun(ctx context.Context, id string) (*models.WorkflowRun, error) {
	run := &models.WorkflowRun{}

	query := `select * from workflow_runs where id = $1`
	if err := sqlscan.Get(ctx, s.rdb, run, query, id); err != nil {
		if sqlscan.NotFound(err) {
			return nil, fmt.Errorf("%w: %s", ErrRunNotFound, id)
		}

		return nil, err
	}

	jobsQuery := `select * from job_runs where run_id = $1 order by rowid`
	if err := sqlscan.Select(ctx, s.rdb, &run.Jobs, jobsQuery, id); err != nil {
		return nil, err
	}

	for _, job := range run.Jobs {
		stepsQuery := `select * from step_results where job_run_id = $1 order by idx`
		if err := sqlscan.Select(ctx, s.rdb, &job.Steps, stepsQuery, job.ID); err != nil {
			return nil, err
		}
	}

	return run, nil
}

// ListRuns returns run summaries ordered newest first, without job and
// step details. An empty workflow name lists every workflow.
func (s *Store) ListRuns(ctx context.Context, workflow string, limit, offset int64) ([]*models.WorkflowRun, error) {
	runs := make([]*models.WorkflowRun, 0)

	if workflow != "" {
		query := `select * from workflow_runs
		where workflow = $1
		order by created_at desc limit $2 offset $3`

		err := sqlscan.Select(ctx, s.rdb, &runs, query, workflow, limit, offset)

		return runs, err
	}

	query := `select * from workflow_runs
	order by created_at desc limit $1 offset $2`

	err := sqlscan.Select(ctx, s.rdb, &runs, query, limit, offset)

	return runs, err
}

// CountRuns counts run records, optionally scoped to one workflow.
func (s *Store) CountRuns(ctx context.Context, workflow string) (int64, error) {
	var count int64

	if workflow != "" {
		query := `select count(*) from workflow_runs where workflow = $1`
		err := sqlscan.Get(ctx, s.rdb, &count, query, workflow)

		return count, err
	}

	query := `select count(*) from workflow_runs`
	err := sqlscan.Get(ctx, s.rdb, &count, query)

	return count, err
}

// MarkRunStarted flips a run to running.
func (s *Store) MarkRunStarted(ctx context.Context, id string, at time.Time) error {
	query := `update workflow_runs
	set status = $1,
		started_at = $2
	where id = $3`

	_, err := s.rwdb.ExecContext(ctx, query, models.RunStatusRunning, formatTime(at), id)

	return err
}

// MarkRunFinished records a run's terminal status.
func (s *Store) MarkRunFinished(ctx context.Context, id string, status models.RunStatus, at time.Time) error {
	query := `update workflow_runs
	set status = $1,
		finished_at = $2
	where id = $3`

	_, err := s.rwdb.ExecContext(ctx, query, status, formatTime(at), id)

	return err
}

// MarkJobStarted flips a job instance to running.
func (s *Store) MarkJobStarted(ctx context.Context, jobRunID string, at time.Time) error {
	query := `update job_runs
	set status = $1,
		started_at = $2
	where id = $3`

	_, err := s.rwdb.ExecContext(ctx, query, models.RunStatusRunning, formatTime(at), jobRunID)

	return err
}

// MarkJobFinished records a job instance's terminal status.
func (s *Store) MarkJobFinished(ctx context.Context, jobRunID string, status models.RunStatus, at time.Time) error {
	query := `update job_runs
	set status = $1,
		finished_at = $2
	where id = $3`

	_, err := s.rwdb.ExecContext(ctx, query, status, formatTime(at), jobRunID)

	return err
}

// AppendJobOutput appends a chunk to the job instance's captured output.
func (s *Store) AppendJobOutput(ctx context.Context, jobRunID, chunk string) error {
	tx, err := s.rwdb.BeginTx(ctx, nil)
	if err != nil {
		return err
	}
	defer func() { _ = tx.Rollback() }()

	var existing string

	readQuery := `select output from job_runs where id = $1`
	if err := sqlscan.Get(ctx, tx, &existing, readQuery, jobRunID); err != nil {
		return err
	}

	updateQuery := `update job_runs set output = $1 where id = $2`
	if _, err := tx.ExecContext(ctx, updateQuery, existing+chunk, jobRunID); err != nil {
		return err
	}

	return tx.Commit()
}

// CreateStepResult records one finished step of a job instance.
func (s *Store) CreateStepResult(ctx context.Context, result *models.StepResult) error {
	query := `insert into step_results (job_run_id, idx, label, status, exit_code, duration_ms)
	values ($1, $2, $3, $4, $5, $6)`

	_, err := s.rwdb.ExecContext(ctx, query,
		result.JobRunID, result.Idx, result.Label, result.Status, result.ExitCode, result.DurationMs)

	return err
}

// DeleteRun removes a run and, through cascade, its jobs and steps.
func (s *Store) DeleteRun(ctx context.Context, id string) error {
	query := `delete from workflow_runs where id = $1`

	result, err := s.rwdb.ExecContext(ctx, query, id)
	if err != nil {
		return err
	}

	affected, err := result.RowsAffected()
	if err != nil {
		return err
	}

	if affected == 0 {
		return fmt.Errorf("%w: %s", ErrRunNotFound, id)
	}

	return nil
}

// PruneBefore deletes finished runs created before the cutoff and returns
// how many were removed.
func (s *Store) PruneBefore(ctx context.Context, cutoff time.Time) (int64, error) {
	query := `delete from workflow_runs
	where created_at < $1
	and status in ($2, $3, $4, $5)`

	result, err := s.rwdb.ExecContext(ctx, query, formatTime(cutoff),
		models.RunStatusPassed, models.RunStatusFailed, models.RunStatusCancelled, models.RunStatusSkipped)
	if err != nil {
		return 0, err
	}

	return result.RowsAffected()
}
