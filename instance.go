package flow

import (
	"sort"
	"time"

	"github.com/goccy/go-json"
)

// Status is the lifecycle state of a single task run.
// Scheduled → Running → Succeeded or Failed; Succeeded is terminal,
// Failed is retried by appending a fresh run for the same task.
type Status string

const (
	StatusScheduled Status = "scheduled"
	StatusRunning   Status = "running"
	StatusSucceeded Status = "succeeded"
	StatusFailed    Status = "failed"
)

// WorkflowInstance is one running (or completed) execution of a graph
// definition. Version is the compare-and-set token guarding State:
// every update must name the version it read, so concurrent branches
// never overwrite each other's writes.
type WorkflowInstance struct {
	ID        string    `json:"id"`
	GraphName string    `json:"graph_name"`
	State     State     `json:"state"`
	Version   int64     `json:"version"`
	CreatedAt time.Time `json:"created_at"`
}

// TaskRun is one execution attempt of a task within an instance.
// Runs are append-only: retries and overrides insert new rows, the
// history is never rewritten.
type TaskRun struct {
	ID          string     `json:"id"`
	InstanceID  string     `json:"instance_id"`
	TaskName    string     `json:"task_name"`
	Kind        TaskKind   `json:"kind"`
	Status      Status     `json:"status"`
	ParentRunID string     `json:"parent_run_id,omitempty"`
	ChildTasks  []string   `json:"child_tasks,omitempty"`
	Override    bool       `json:"override,omitempty"`
	Error       string     `json:"error,omitempty"`
	CreatedAt   time.Time  `json:"created_at"`
	StartedAt   *time.Time `json:"started_at,omitempty"`
	FinishedAt  *time.Time `json:"finished_at,omitempty"`
}

// Frontier derives the set of currently runnable task names from a run
// history ordered by creation. A task is on the frontier while its most
// recent run is Scheduled, Running, or Failed; a Succeeded latest run
// retires it. The result is sorted, so the frontier is reproducible
// from history alone.
func Frontier(runs []TaskRun) []string {
	latest := make(map[string]Status, len(runs))
	for _, r := range runs {
		latest[r.TaskName] = r.Status
	}

	var out []string
	for name, status := range latest {
		if status != StatusSucceeded {
			out = append(out, name)
		}
	}
	sort.Strings(out)
	return out
}

// Complete reports whether an instance has finished: it has run at
// least one task and its frontier is empty.
func Complete(runs []TaskRun) bool {
	return len(runs) > 0 && len(Frontier(runs)) == 0
}

// cloneState deep-copies a state payload through its JSON form, so
// handlers and callers never alias stored state.
func cloneState(s State) (State, error) {
	if len(s) == 0 {
		return State{}, nil
	}
	raw, err := json.Marshal(s)
	if err != nil {
		return nil, err
	}
	out := State{}
	if err := json.Unmarshal(raw, &out); err != nil {
		return nil, err
	}
	return out, nil
}
