package flow

import (
	"context"
	"fmt"
	"time"

	"github.com/google/uuid"
)

// OverrideTask is the operator escape hatch for a stuck instance: it
// inserts a synthetic Succeeded run for taskName regardless of any
// existing run's status, merges delta into the instance state and
// advances into the given transition. The claim guard is deliberately
// bypassed; the run is flagged as an override in the history.
//
// Unlike a normal completion, an explicit transition may name any
// declared task, not just edge-connected ones — the operator is
// re-pointing the instance, not following the graph.
func (e *Engine) OverrideTask(ctx context.Context, instanceID, taskName string, delta State, tr Transition) (*TaskRun, error) {
	_, def, err := e.instanceGraph(ctx, instanceID)
	if err != nil {
		return nil, err
	}
	spec, ok := def.Task(taskName)
	if !ok {
		return nil, &DefinitionError{Graph: def.Name(), Detail: fmt.Sprintf("override targets undeclared task %q", taskName)}
	}

	var children []string
	if tr.Explicit() {
		children = make([]string, 0, len(tr.Tasks()))
		for _, name := range tr.Tasks() {
			if _, ok := def.Task(name); !ok {
				return nil, &DefinitionError{Graph: def.Name(), Detail: fmt.Sprintf("override selected undeclared task %q", name)}
			}
			children = append(children, name)
		}
	} else {
		children = def.Successors(taskName)
	}

	if err := e.applyDelta(ctx, instanceID, delta); err != nil {
		return nil, err
	}

	now := time.Now().UTC()
	run := &TaskRun{
		ID:         uuid.NewString(),
		InstanceID: instanceID,
		TaskName:   taskName,
		Kind:       spec.Kind,
		Status:     StatusSucceeded,
		ChildTasks: children,
		Override:   true,
		CreatedAt:  now,
		StartedAt:  &now,
		FinishedAt: &now,
	}
	if err := e.store.CreateRun(ctx, run); err != nil {
		return nil, fmt.Errorf("flow: create override run: %w", err)
	}
	e.log.Warn("operator override applied",
		"instance", instanceID, "task", taskName, "children", children)

	if err := e.Advance(ctx, run); err != nil {
		return run, err
	}
	return run, nil
}
