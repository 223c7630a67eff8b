package flow

import (
	"context"
	"errors"
)

var (
	ErrInstanceNotFound = errors.New("flow: workflow instance not found")
	ErrRunNotFound      = errors.New("flow: task run not found")
	ErrVersionConflict  = errors.New("flow: instance state version conflict")
	ErrRunNotClaimable  = errors.New("flow: task run is not in a claimable state")
	ErrStaleAdvance     = errors.New("flow: advance called for a task run that has not succeeded")
)

// Store defines the contract for persisting workflow instances and
// their task run history. Implementations must make UpdateState a
// compare-and-set on the instance version and ClaimRun an atomic
// Scheduled→Running transition; everything else is plain reads and
// append-only inserts.
type Store interface {
	// Instances
	CreateInstance(ctx context.Context, inst *WorkflowInstance) error
	// GetInstance returns nil, nil if the instance does not exist.
	GetInstance(ctx context.Context, instanceID string) (*WorkflowInstance, error)
	// UpdateState replaces the instance state if its version still equals
	// expectedVersion, bumping the version. Returns ErrVersionConflict
	// when another writer got there first.
	UpdateState(ctx context.Context, instanceID string, expectedVersion int64, state State) error

	// Task runs (append-only)
	CreateRun(ctx context.Context, run *TaskRun) error
	// GetRun returns nil, nil if the run does not exist.
	GetRun(ctx context.Context, runID string) (*TaskRun, error)
	ListRuns(ctx context.Context, instanceID string) ([]TaskRun, error)
	ListRunsByTask(ctx context.Context, instanceID, taskName string) ([]TaskRun, error)

	// Run state transitions
	// ClaimRun atomically moves a run from Scheduled to Running.
	// Returns ErrRunNotClaimable if the run is in any other state.
	ClaimRun(ctx context.Context, runID string) error
	// FinishRun moves a Running run to Succeeded and records the tasks it
	// activated. Returns ErrRunNotClaimable if the run is not Running.
	FinishRun(ctx context.Context, runID string, childTasks []string) error
	// FailRun moves a Running run to Failed, retaining the cause.
	// Returns ErrRunNotClaimable if the run is not Running.
	FailRun(ctx context.Context, runID string, cause string) error
}
