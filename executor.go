package flow

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
)

// Execute runs one scheduled machine task. The run is first claimed
// with an atomic Scheduled→Running transition; a rejected claim means
// another worker already has it and this attempt ends without side
// effects. The handler runs against a copy of the instance state and
// its result is persisted under compare-and-set: if a concurrent
// branch updated the state in the meantime, the handler is re-run on
// the fresh state, so no update is ever lost.
func (e *Engine) Execute(ctx context.Context, msg TaskMessage) error {
	run, err := e.store.GetRun(ctx, msg.RunID)
	if err != nil {
		return fmt.Errorf("flow: load task run: %w", err)
	}
	if run == nil {
		return ErrRunNotFound
	}

	if err := e.store.ClaimRun(ctx, run.ID); err != nil {
		if errors.Is(err, ErrRunNotClaimable) {
			e.log.Debug("duplicate execution attempt rejected",
				"instance", run.InstanceID, "task", run.TaskName, "run", run.ID)
			return nil
		}
		return fmt.Errorf("flow: claim task run: %w", err)
	}

	inst, def, err := e.instanceGraph(ctx, run.InstanceID)
	if err != nil {
		return e.failRun(ctx, run, err)
	}
	spec, ok := def.Task(run.TaskName)
	if !ok || spec.Kind != TaskMachine {
		derr := &DefinitionError{Graph: def.Name(), Detail: fmt.Sprintf("run targets %q which is not an executable machine task", run.TaskName)}
		return e.failRun(ctx, run, derr)
	}

	var children []string
	for {
		input, cerr := cloneState(inst.State)
		if cerr != nil {
			return e.failRun(ctx, run, fmt.Errorf("flow: decode state: %w", cerr))
		}

		next, tr, herr := spec.Handler(ctx, input)
		if herr != nil {
			return e.failRun(ctx, run, fmt.Errorf("flow: task %q: %w", run.TaskName, herr))
		}

		children, err = resolveChildren(def, run.TaskName, tr)
		if err != nil {
			return e.failRun(ctx, run, err)
		}

		uerr := e.store.UpdateState(ctx, inst.ID, inst.Version, next)
		if errors.Is(uerr, ErrVersionConflict) {
			// A concurrent branch moved the state; re-read and re-run.
			inst, err = e.store.GetInstance(ctx, run.InstanceID)
			if err != nil {
				return fmt.Errorf("flow: reload instance: %w", err)
			}
			if inst == nil {
				return ErrInstanceNotFound
			}
			continue
		}
		if uerr != nil {
			return fmt.Errorf("flow: persist state: %w", uerr)
		}
		break
	}

	if err := e.store.FinishRun(ctx, run.ID, children); err != nil {
		return fmt.Errorf("flow: finish run: %w", err)
	}
	e.log.Info("task succeeded", "instance", run.InstanceID, "task", run.TaskName, "run", run.ID)

	run.Status = StatusSucceeded
	run.ChildTasks = children
	return e.Advance(ctx, run)
}

// Retry appends a fresh Scheduled run for a failed task and dispatches
// it. The failed run stays in the history; retry policy (how often,
// when) belongs to the caller.
func (e *Engine) Retry(ctx context.Context, runID string) (*TaskRun, error) {
	run, err := e.store.GetRun(ctx, runID)
	if err != nil {
		return nil, fmt.Errorf("flow: load task run: %w", err)
	}
	if run == nil {
		return nil, ErrRunNotFound
	}
	if run.Status != StatusFailed {
		return nil, fmt.Errorf("%w: run %s is %s, only failed runs can be retried", ErrRunNotClaimable, run.ID, run.Status)
	}

	fresh := &TaskRun{
		ID:          uuid.NewString(),
		InstanceID:  run.InstanceID,
		TaskName:    run.TaskName,
		Kind:        run.Kind,
		Status:      StatusScheduled,
		ParentRunID: run.ParentRunID,
		CreatedAt:   time.Now().UTC(),
	}
	if err := e.store.CreateRun(ctx, fresh); err != nil {
		return nil, fmt.Errorf("flow: create retry run: %w", err)
	}
	e.log.Info("failed task rescheduled", "instance", run.InstanceID, "task", run.TaskName, "run", fresh.ID)
	if err := e.dispatch(ctx, fresh); err != nil {
		return fresh, err
	}
	return fresh, nil
}

// failRun marks a claimed run Failed with the cause and returns the
// cause. The instance keeps its pre-execution frontier.
func (e *Engine) failRun(ctx context.Context, run *TaskRun, cause error) error {
	if err := e.store.FailRun(ctx, run.ID, cause.Error()); err != nil {
		return fmt.Errorf("flow: fail run: %w (cause: %s)", err, cause)
	}
	e.log.Error("task failed", "instance", run.InstanceID, "task", run.TaskName, "run", run.ID, "error", cause)
	return cause
}
