package flow

import (
	"context"
	"errors"
	"fmt"

	"dario.cat/mergo"
)

var ErrNotHumanTask = errors.New("flow: task run is not a human task")

// PendingHuman lists the human task runs of an instance that are still
// waiting for input. Pending runs have no timeout; they wait until
// completed or overridden.
func (e *Engine) PendingHuman(ctx context.Context, instanceID string) ([]TaskRun, error) {
	runs, err := e.store.ListRuns(ctx, instanceID)
	if err != nil {
		return nil, fmt.Errorf("flow: list runs: %w", err)
	}
	// Only the latest run of a task counts: a human run superseded by
	// an override is no longer actionable.
	latest := make(map[string]TaskRun, len(runs))
	for _, r := range runs {
		latest[r.TaskName] = r
	}
	pending := []TaskRun{}
	for _, r := range runs {
		if r.Kind == TaskHuman && r.Status == StatusScheduled && latest[r.TaskName].ID == r.ID {
			pending = append(pending, r)
		}
	}
	return pending, nil
}

// CompleteHuman finishes a pending human task with externally supplied
// input: delta is merged into the instance state and tr selects the
// successors, under the same contract as a machine handler's return.
// A second submission for the same run is rejected with
// ErrRunNotClaimable.
func (e *Engine) CompleteHuman(ctx context.Context, runID string, delta State, tr Transition) error {
	run, err := e.store.GetRun(ctx, runID)
	if err != nil {
		return fmt.Errorf("flow: load task run: %w", err)
	}
	if run == nil {
		return ErrRunNotFound
	}
	if run.Kind != TaskHuman {
		return ErrNotHumanTask
	}

	if err := e.store.ClaimRun(ctx, run.ID); err != nil {
		return err
	}

	_, def, err := e.instanceGraph(ctx, run.InstanceID)
	if err != nil {
		return e.failRun(ctx, run, err)
	}
	children, err := resolveChildren(def, run.TaskName, tr)
	if err != nil {
		return e.failRun(ctx, run, err)
	}
	if err := e.applyDelta(ctx, run.InstanceID, delta); err != nil {
		return e.failRun(ctx, run, err)
	}

	if err := e.store.FinishRun(ctx, run.ID, children); err != nil {
		return fmt.Errorf("flow: finish run: %w", err)
	}
	e.log.Info("human task completed", "instance", run.InstanceID, "task", run.TaskName, "run", run.ID)

	run.Status = StatusSucceeded
	run.ChildTasks = children
	return e.Advance(ctx, run)
}

// applyDelta merges a state delta into the instance state under
// compare-and-set, re-reading on conflict until the merge lands.
func (e *Engine) applyDelta(ctx context.Context, instanceID string, delta State) error {
	if len(delta) == 0 {
		return nil
	}
	for {
		inst, err := e.store.GetInstance(ctx, instanceID)
		if err != nil {
			return fmt.Errorf("flow: load instance: %w", err)
		}
		if inst == nil {
			return ErrInstanceNotFound
		}

		merged, err := cloneState(inst.State)
		if err != nil {
			return fmt.Errorf("flow: decode state: %w", err)
		}
		if err := mergo.Merge(&merged, delta, mergo.WithOverride); err != nil {
			return fmt.Errorf("flow: merge state delta: %w", err)
		}

		err = e.store.UpdateState(ctx, inst.ID, inst.Version, merged)
		if errors.Is(err, ErrVersionConflict) {
			continue
		}
		if err != nil {
			return fmt.Errorf("flow: persist state: %w", err)
		}
		return nil
	}
}
