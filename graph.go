package flow

import (
	"context"
	"fmt"
	"sort"
)

// TaskKind distinguishes tasks executed by background workers from tasks
// that wait for a human decision.
type TaskKind string

const (
	// TaskMachine tasks run a registered Handler on a worker.
	TaskMachine TaskKind = "machine"
	// TaskHuman tasks stay pending until completed through the gateway
	// or overridden by an operator.
	TaskHuman TaskKind = "human"
)

// State is the mutable payload a workflow instance accumulates as its
// tasks run. It is persisted as JSON.
type State map[string]any

// Handler is the behavior of a machine task. It receives a copy of the
// instance state and returns the new state plus the transition that
// selects the task's successors. Handlers must be safe to re-run: on a
// concurrent state update the executor re-reads the state and invokes
// the handler again.
type Handler func(ctx context.Context, state State) (State, Transition, error)

// Transition is a machine or human task's choice of successors.
//
// The zero value leaves the choice to the graph: every task connected by
// an outgoing edge becomes runnable (fan-out). An explicit transition
// built with Next selects exactly the named tasks; Next with no names
// deliberately ends the branch.
type Transition struct {
	explicit bool
	tasks    []string
}

// Next selects exactly the named tasks as successors. Each name must be
// connected to the completing task by an edge. Next() ends the branch.
func Next(tasks ...string) Transition {
	return Transition{explicit: true, tasks: tasks}
}

// AllSuccessors leaves the successor choice to the graph: every directly
// connected task becomes runnable.
func AllSuccessors() Transition {
	return Transition{}
}

// Explicit reports whether the transition names its successors itself.
func (t Transition) Explicit() bool { return t.explicit }

// Tasks returns the explicitly selected successor names.
func (t Transition) Tasks() []string { return t.tasks }

// TaskSpec declares one node of a graph definition.
type TaskSpec struct {
	Name    string
	Kind    TaskKind
	Start   bool
	Handler Handler
}

// Edge is a directed connection between two declared tasks.
type Edge struct {
	From string `json:"from"`
	To   string `json:"to"`
}

// DefinitionError reports an invalid graph definition or a task run
// that referenced tasks the definition does not allow.
type DefinitionError struct {
	Graph  string
	Detail string
}

func (e *DefinitionError) Error() string {
	return fmt.Sprintf("flow: invalid definition %q: %s", e.Graph, e.Detail)
}

// GraphDefinition is the immutable description of a workflow type:
// its tasks and the directed edges between them. Definitions are
// validated once at construction and never change afterwards; running
// instances reference them by name.
type GraphDefinition struct {
	name  string
	tasks map[string]TaskSpec
	edges []Edge
	succ  map[string][]string
}

// NewGraphDefinition validates and builds a graph definition.
//
// Validation rejects duplicate or empty task names, edges referencing
// undeclared tasks, definitions without a start task, machine tasks
// without a handler, human tasks with one, and tasks reachable from a
// start that can never reach an end task (a cycle with no exit).
func NewGraphDefinition(name string, tasks []TaskSpec, edges []Edge) (*GraphDefinition, error) {
	if name == "" {
		return nil, &DefinitionError{Graph: name, Detail: "graph name is empty"}
	}

	g := &GraphDefinition{
		name:  name,
		tasks: make(map[string]TaskSpec, len(tasks)),
		edges: make([]Edge, len(edges)),
		succ:  make(map[string][]string),
	}
	copy(g.edges, edges)

	starts := 0
	for _, t := range tasks {
		if t.Name == "" {
			return nil, &DefinitionError{Graph: name, Detail: "task with empty name"}
		}
		if _, ok := g.tasks[t.Name]; ok {
			return nil, &DefinitionError{Graph: name, Detail: fmt.Sprintf("duplicate task %q", t.Name)}
		}
		switch t.Kind {
		case TaskMachine:
			if t.Handler == nil {
				return nil, &DefinitionError{Graph: name, Detail: fmt.Sprintf("machine task %q has no handler", t.Name)}
			}
		case TaskHuman:
			if t.Handler != nil {
				return nil, &DefinitionError{Graph: name, Detail: fmt.Sprintf("human task %q must not have a handler", t.Name)}
			}
		default:
			return nil, &DefinitionError{Graph: name, Detail: fmt.Sprintf("task %q has unknown kind %q", t.Name, t.Kind)}
		}
		if t.Start {
			starts++
		}
		g.tasks[t.Name] = t
	}
	if starts == 0 {
		return nil, &DefinitionError{Graph: name, Detail: "no start task declared"}
	}

	for _, e := range g.edges {
		if _, ok := g.tasks[e.From]; !ok {
			return nil, &DefinitionError{Graph: name, Detail: fmt.Sprintf("edge references undeclared task %q", e.From)}
		}
		if _, ok := g.tasks[e.To]; !ok {
			return nil, &DefinitionError{Graph: name, Detail: fmt.Sprintf("edge references undeclared task %q", e.To)}
		}
		g.succ[e.From] = append(g.succ[e.From], e.To)
	}

	if err := g.validateTermination(); err != nil {
		return nil, err
	}

	return g, nil
}

// Name returns the graph's unique name.
func (g *GraphDefinition) Name() string { return g.name }

// Task looks up a declared task by name.
func (g *GraphDefinition) Task(name string) (TaskSpec, bool) {
	t, ok := g.tasks[name]
	return t, ok
}

// Tasks returns all declared tasks, sorted by name.
func (g *GraphDefinition) Tasks() []TaskSpec {
	out := make([]TaskSpec, 0, len(g.tasks))
	for _, t := range g.tasks {
		out = append(out, t)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Name < out[j].Name })
	return out
}

// Edges returns the graph's edges in declaration order.
func (g *GraphDefinition) Edges() []Edge {
	out := make([]Edge, len(g.edges))
	copy(out, g.edges)
	return out
}

// Successors returns the names of the tasks directly reachable from the
// given task, in edge declaration order. An empty result marks an end
// task.
func (g *GraphDefinition) Successors(name string) []string {
	out := make([]string, len(g.succ[name]))
	copy(out, g.succ[name])
	return out
}

// StartTasks returns the names of all start tasks, sorted.
func (g *GraphDefinition) StartTasks() []string {
	var out []string
	for name, t := range g.tasks {
		if t.Start {
			out = append(out, name)
		}
	}
	sort.Strings(out)
	return out
}

// validateTermination checks with DFS that every task reachable from a
// start task can reach an end task (a task with no outgoing edges), so
// no instance can get trapped in an exit-less cycle.
func (g *GraphDefinition) validateTermination() error {
	// terminates memoizes "can reach an end task from here".
	const (
		unknown = 0
		probing = 1
		yes     = 2
		no      = 3
	)
	mark := make(map[string]int, len(g.tasks))

	var reaches func(name string) bool
	reaches = func(name string) bool {
		switch mark[name] {
		case yes:
			return true
		case no, probing:
			return false
		}
		if len(g.succ[name]) == 0 {
			mark[name] = yes
			return true
		}
		mark[name] = probing
		for _, next := range g.succ[name] {
			if reaches(next) {
				mark[name] = yes
				return true
			}
		}
		mark[name] = no
		return false
	}

	// Collect tasks reachable from any start.
	seen := make(map[string]bool, len(g.tasks))
	var walk func(name string)
	walk = func(name string) {
		if seen[name] {
			return
		}
		seen[name] = true
		for _, next := range g.succ[name] {
			walk(next)
		}
	}
	for _, start := range g.StartTasks() {
		walk(start)
	}

	for name := range seen {
		// Reset probe marks between roots so shared cycles are re-examined
		// from each task's own perspective.
		for k, v := range mark {
			if v == probing || v == no {
				delete(mark, k)
			}
		}
		if !reaches(name) {
			return &DefinitionError{Graph: g.name, Detail: fmt.Sprintf("task %q can never reach an end task", name)}
		}
	}

	return nil
}
