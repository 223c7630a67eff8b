package postgres

import (
	"context"
	"fmt"

	"github.com/goccy/go-json"

	"github.com/meikuraledutech/flow"
)

// CreateRun appends a task run row. Runs are never updated in place
// except for their status transition columns.
func (s *PGStore) CreateRun(ctx context.Context, run *flow.TaskRun) error {
	children, err := json.Marshal(childTasksOrEmpty(run.ChildTasks))
	if err != nil {
		return fmt.Errorf("flow: encode child tasks: %w", err)
	}
	_, err = s.db.Exec(ctx,
		`INSERT INTO workflow_task_runs
		   (id, instance_id, task_name, kind, status, parent_run_id, child_tasks, override, error, created_at, started_at, finished_at)
		 VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12)`,
		run.ID, run.InstanceID, run.TaskName, run.Kind, run.Status, run.ParentRunID,
		children, run.Override, run.Error, run.CreatedAt, run.StartedAt, run.FinishedAt,
	)
	if err != nil {
		return fmt.Errorf("flow: insert run: %w", err)
	}
	return nil
}

// GetRun fetches a single task run by its ID.
// Returns nil, nil if not found.
func (s *PGStore) GetRun(ctx context.Context, runID string) (*flow.TaskRun, error) {
	row := s.db.QueryRow(ctx,
		`SELECT id, instance_id, task_name, kind, status, parent_run_id, child_tasks, override, error, created_at, started_at, finished_at
		   FROM workflow_task_runs WHERE id = $1`, runID)
	run, err := scanRun(row)
	if err != nil {
		if isNoRows(err) {
			return nil, nil
		}
		return nil, fmt.Errorf("flow: get run: %w", err)
	}
	return run, nil
}

// ListRuns returns all runs of an instance in creation order.
// Returns an empty slice (not nil) if none found.
func (s *PGStore) ListRuns(ctx context.Context, instanceID string) ([]flow.TaskRun, error) {
	return s.listRuns(ctx,
		`SELECT id, instance_id, task_name, kind, status, parent_run_id, child_tasks, override, error, created_at, started_at, finished_at
		   FROM workflow_task_runs WHERE instance_id = $1 ORDER BY created_at, id`, instanceID)
}

// ListRunsByTask returns an instance's runs of one task in creation
// order. Returns an empty slice (not nil) if none found.
func (s *PGStore) ListRunsByTask(ctx context.Context, instanceID, taskName string) ([]flow.TaskRun, error) {
	return s.listRuns(ctx,
		`SELECT id, instance_id, task_name, kind, status, parent_run_id, child_tasks, override, error, created_at, started_at, finished_at
		   FROM workflow_task_runs WHERE instance_id = $1 AND task_name = $2 ORDER BY created_at, id`, instanceID, taskName)
}

func (s *PGStore) listRuns(ctx context.Context, query string, args ...any) ([]flow.TaskRun, error) {
	rows, err := s.db.Query(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("flow: query runs: %w", err)
	}
	defer rows.Close()

	runs := []flow.TaskRun{}
	for rows.Next() {
		run, err := scanRun(rows)
		if err != nil {
			return nil, fmt.Errorf("flow: scan run: %w", err)
		}
		runs = append(runs, *run)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("flow: rows runs: %w", err)
	}
	return runs, nil
}

// ClaimRun atomically moves a run from scheduled to running via a
// conditional UPDATE. Returns flow.ErrRunNotClaimable if the run is in
// any other state, flow.ErrRunNotFound if it doesn't exist.
func (s *PGStore) ClaimRun(ctx context.Context, runID string) error {
	ct, err := s.db.Exec(ctx,
		`UPDATE workflow_task_runs SET status = 'running', started_at = NOW() WHERE id = $1 AND status = 'scheduled'`,
		runID,
	)
	if err != nil {
		return fmt.Errorf("flow: claim run: %w", err)
	}
	if ct.RowsAffected() > 0 {
		return nil
	}
	return s.runConflict(ctx, runID)
}

// FinishRun moves a running run to succeeded and records the tasks it
// activated.
func (s *PGStore) FinishRun(ctx context.Context, runID string, childTasks []string) error {
	children, err := json.Marshal(childTasksOrEmpty(childTasks))
	if err != nil {
		return fmt.Errorf("flow: encode child tasks: %w", err)
	}
	ct, err := s.db.Exec(ctx,
		`UPDATE workflow_task_runs SET status = 'succeeded', child_tasks = $1, finished_at = NOW() WHERE id = $2 AND status = 'running'`,
		children, runID,
	)
	if err != nil {
		return fmt.Errorf("flow: finish run: %w", err)
	}
	if ct.RowsAffected() > 0 {
		return nil
	}
	return s.runConflict(ctx, runID)
}

// FailRun moves a running run to failed, retaining the cause.
func (s *PGStore) FailRun(ctx context.Context, runID string, cause string) error {
	ct, err := s.db.Exec(ctx,
		`UPDATE workflow_task_runs SET status = 'failed', error = $1, finished_at = NOW() WHERE id = $2 AND status = 'running'`,
		cause, runID,
	)
	if err != nil {
		return fmt.Errorf("flow: fail run: %w", err)
	}
	if ct.RowsAffected() > 0 {
		return nil
	}
	return s.runConflict(ctx, runID)
}

// runConflict maps a zero-row conditional update to the right sentinel.
func (s *PGStore) runConflict(ctx context.Context, runID string) error {
	var exists bool
	if err := s.db.QueryRow(ctx,
		`SELECT EXISTS (SELECT 1 FROM workflow_task_runs WHERE id = $1)`, runID,
	).Scan(&exists); err != nil {
		return fmt.Errorf("flow: check run: %w", err)
	}
	if !exists {
		return flow.ErrRunNotFound
	}
	return flow.ErrRunNotClaimable
}

type rowScanner interface {
	Scan(dest ...any) error
}

func scanRun(row rowScanner) (*flow.TaskRun, error) {
	var (
		run      flow.TaskRun
		children []byte
	)
	if err := row.Scan(
		&run.ID, &run.InstanceID, &run.TaskName, &run.Kind, &run.Status, &run.ParentRunID,
		&children, &run.Override, &run.Error, &run.CreatedAt, &run.StartedAt, &run.FinishedAt,
	); err != nil {
		return nil, err
	}
	if err := json.Unmarshal(children, &run.ChildTasks); err != nil {
		return nil, err
	}
	return &run, nil
}

// childTasksOrEmpty keeps the JSONB column a list, never null.
func childTasksOrEmpty(children []string) []string {
	if children == nil {
		return []string{}
	}
	return children
}
