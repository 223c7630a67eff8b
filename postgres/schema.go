package postgres

import "context"

const schemaSQL = `
CREATE TABLE IF NOT EXISTS workflow_instances (
    id         TEXT PRIMARY KEY,
    graph_name TEXT NOT NULL,
    state      JSONB NOT NULL DEFAULT '{}',
    version    BIGINT NOT NULL DEFAULT 1,
    created_at TIMESTAMPTZ NOT NULL DEFAULT NOW()
);

CREATE TABLE IF NOT EXISTS workflow_task_runs (
    id            TEXT PRIMARY KEY,
    instance_id   TEXT NOT NULL REFERENCES workflow_instances(id) ON DELETE CASCADE,
    task_name     TEXT NOT NULL,
    kind          TEXT NOT NULL,
    status        TEXT NOT NULL DEFAULT 'scheduled',
    parent_run_id TEXT NOT NULL DEFAULT '',
    child_tasks   JSONB NOT NULL DEFAULT '[]',
    override      BOOLEAN NOT NULL DEFAULT FALSE,
    error         TEXT NOT NULL DEFAULT '',
    created_at    TIMESTAMPTZ NOT NULL DEFAULT NOW(),
    started_at    TIMESTAMPTZ,
    finished_at   TIMESTAMPTZ
);

CREATE INDEX IF NOT EXISTS idx_workflow_task_runs_instance ON workflow_task_runs(instance_id);
CREATE INDEX IF NOT EXISTS idx_workflow_task_runs_task     ON workflow_task_runs(instance_id, task_name);
CREATE INDEX IF NOT EXISTS idx_workflow_task_runs_status   ON workflow_task_runs(status);
`

// CreateSchema creates the workflow_instances and workflow_task_runs
// tables if they don't exist.
func (s *PGStore) CreateSchema(ctx context.Context) error {
	_, err := s.db.Exec(ctx, schemaSQL)
	return err
}

// DropSchema drops the workflow tables.
func (s *PGStore) DropSchema(ctx context.Context) error {
	_, err := s.db.Exec(ctx, `DROP TABLE IF EXISTS workflow_task_runs, workflow_instances CASCADE;`)
	return err
}
