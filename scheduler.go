package flow

import (
	"context"
	"fmt"
	"time"

	"github.com/google/uuid"
)

// Advance schedules the successors of a run that just succeeded.
// Machine successors are handed to the transport, human successors stay
// pending for the gateway. Advance is idempotent: a successor that this
// run already activated is skipped, so duplicate delivery of the same
// completion never forks the instance.
func (e *Engine) Advance(ctx context.Context, run *TaskRun) error {
	if run.Status != StatusSucceeded {
		e.log.Warn("stale advance rejected",
			"instance", run.InstanceID, "task", run.TaskName, "run", run.ID, "status", run.Status)
		return ErrStaleAdvance
	}

	_, def, err := e.instanceGraph(ctx, run.InstanceID)
	if err != nil {
		return err
	}

	for _, name := range run.ChildTasks {
		if _, ok := def.Task(name); !ok {
			return &DefinitionError{Graph: def.Name(), Detail: fmt.Sprintf("run of %q activated undeclared task %q", run.TaskName, name)}
		}
	}

	if len(run.ChildTasks) == 0 {
		e.log.Debug("branch terminated", "instance", run.InstanceID, "task", run.TaskName)
		return nil
	}

	var firstErr error
	for _, name := range run.ChildTasks {
		if err := e.scheduleTask(ctx, def, run.InstanceID, run.ID, name); err != nil && firstErr == nil {
			firstErr = err
		}
	}
	return firstErr
}

// scheduleTask creates a Scheduled run for a task unless this parent
// already activated it, then dispatches machine tasks to the transport.
func (e *Engine) scheduleTask(ctx context.Context, def *GraphDefinition, instanceID, parentRunID, name string) error {
	spec, _ := def.Task(name)

	prior, err := e.store.ListRunsByTask(ctx, instanceID, name)
	if err != nil {
		return fmt.Errorf("flow: list runs for %q: %w", name, err)
	}
	for _, r := range prior {
		// A Failed sibling does not block: retries append a fresh run.
		if r.ParentRunID == parentRunID && r.Status != StatusFailed {
			e.log.Debug("task already activated by this parent, skipping",
				"instance", instanceID, "task", name, "parent", parentRunID)
			return nil
		}
	}

	run := &TaskRun{
		ID:          uuid.NewString(),
		InstanceID:  instanceID,
		TaskName:    name,
		Kind:        spec.Kind,
		Status:      StatusScheduled,
		ParentRunID: parentRunID,
		CreatedAt:   time.Now().UTC(),
	}
	if err := e.store.CreateRun(ctx, run); err != nil {
		return fmt.Errorf("flow: create run for %q: %w", name, err)
	}
	return e.dispatch(ctx, run)
}

// dispatch routes a freshly scheduled run: machine tasks go to the
// transport, human tasks wait for the gateway.
func (e *Engine) dispatch(ctx context.Context, run *TaskRun) error {
	if run.Kind == TaskHuman {
		e.log.Info("human task pending", "instance", run.InstanceID, "task", run.TaskName, "run", run.ID)
		return nil
	}
	if err := e.transport.Enqueue(ctx, TaskMessage{
		InstanceID: run.InstanceID,
		TaskName:   run.TaskName,
		RunID:      run.ID,
	}); err != nil {
		// The run stays Scheduled; a redelivery or retry picks it up.
		return fmt.Errorf("flow: enqueue %q: %w", run.TaskName, err)
	}
	return nil
}

// resolveChildren applies the branching rule: an explicit transition
// selects exactly its named tasks, each of which must be connected by
// an edge; an unspecified transition fans out to every successor.
func resolveChildren(def *GraphDefinition, taskName string, tr Transition) ([]string, error) {
	if !tr.Explicit() {
		return def.Successors(taskName), nil
	}
	adjacent := make(map[string]bool)
	for _, s := range def.Successors(taskName) {
		adjacent[s] = true
	}
	children := make([]string, 0, len(tr.Tasks()))
	for _, name := range tr.Tasks() {
		if !adjacent[name] {
			return nil, &DefinitionError{Graph: def.Name(), Detail: fmt.Sprintf("task %q selected successor %q without a connecting edge", taskName, name)}
		}
		children = append(children, name)
	}
	return children, nil
}
