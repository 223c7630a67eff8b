package postgres

import (
	"context"
	"fmt"

	"github.com/goccy/go-json"

	"github.com/meikuraledutech/flow"
)

// CreateInstance inserts a new workflow instance row.
func (s *PGStore) CreateInstance(ctx context.Context, inst *flow.WorkflowInstance) error {
	state, err := json.Marshal(inst.State)
	if err != nil {
		return fmt.Errorf("flow: encode state: %w", err)
	}
	_, err = s.db.Exec(ctx,
		`INSERT INTO workflow_instances (id, graph_name, state, version, created_at) VALUES ($1, $2, $3, $4, $5)`,
		inst.ID, inst.GraphName, state, inst.Version, inst.CreatedAt,
	)
	if err != nil {
		return fmt.Errorf("flow: insert instance: %w", err)
	}
	return nil
}

// GetInstance fetches an instance by ID.
// Returns nil, nil if not found.
func (s *PGStore) GetInstance(ctx context.Context, instanceID string) (*flow.WorkflowInstance, error) {
	var (
		inst flow.WorkflowInstance
		raw  []byte
	)
	err := s.db.QueryRow(ctx,
		`SELECT id, graph_name, state, version, created_at FROM workflow_instances WHERE id = $1`, instanceID,
	).Scan(&inst.ID, &inst.GraphName, &raw, &inst.Version, &inst.CreatedAt)

	if err != nil {
		if isNoRows(err) {
			return nil, nil
		}
		return nil, fmt.Errorf("flow: get instance: %w", err)
	}

	if err := json.Unmarshal(raw, &inst.State); err != nil {
		return nil, fmt.Errorf("flow: decode state: %w", err)
	}
	return &inst, nil
}

// UpdateState replaces the instance state if the version still matches,
// bumping the version. Returns flow.ErrVersionConflict when another
// writer got there first, flow.ErrInstanceNotFound if the instance
// doesn't exist.
func (s *PGStore) UpdateState(ctx context.Context, instanceID string, expectedVersion int64, state flow.State) error {
	raw, err := json.Marshal(state)
	if err != nil {
		return fmt.Errorf("flow: encode state: %w", err)
	}

	ct, err := s.db.Exec(ctx,
		`UPDATE workflow_instances SET state = $1, version = version + 1 WHERE id = $2 AND version = $3`,
		raw, instanceID, expectedVersion,
	)
	if err != nil {
		return fmt.Errorf("flow: update state: %w", err)
	}
	if ct.RowsAffected() > 0 {
		return nil
	}

	// No row matched: distinguish a missing instance from a lost race.
	var exists bool
	if err := s.db.QueryRow(ctx,
		`SELECT EXISTS (SELECT 1 FROM workflow_instances WHERE id = $1)`, instanceID,
	).Scan(&exists); err != nil {
		return fmt.Errorf("flow: check instance: %w", err)
	}
	if !exists {
		return flow.ErrInstanceNotFound
	}
	return flow.ErrVersionConflict
}
