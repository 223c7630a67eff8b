package flow

import (
	"fmt"
	"strings"
)

// DOT renders the definition as Graphviz dot source. Human tasks are
// drawn rounded, machine tasks as plain rectangles.
func (g *GraphDefinition) DOT() string {
	var b strings.Builder
	fmt.Fprintf(&b, "digraph %q {\n", g.name)
	b.WriteString("  rankdir=LR;\n")
	b.WriteString("  node [fontname=\"sans-serif\" shape=rect style=filled fillcolor=white];\n")
	for _, t := range g.Tasks() {
		fmt.Fprintf(&b, "  %q [style=%q];\n", t.Name, nodeStyle(t.Kind, false))
	}
	for _, e := range g.edges {
		fmt.Fprintf(&b, "  %q -> %q;\n", e.From, e.To)
	}
	b.WriteString("}\n")
	return b.String()
}

// InstanceDOT renders a running instance over its definition: tasks
// still on the frontier are drawn bold, operator overrides appear as
// dashed satellite nodes wired to the tasks they activated.
func InstanceDOT(def *GraphDefinition, runs []TaskRun) string {
	latest := make(map[string]Status)
	var overrides []TaskRun
	for _, r := range runs {
		if r.Override {
			overrides = append(overrides, r)
			continue
		}
		latest[r.TaskName] = r.Status
	}

	var b strings.Builder
	fmt.Fprintf(&b, "digraph %q {\n", def.name)
	b.WriteString("  rankdir=LR;\n")
	b.WriteString("  node [fontname=\"sans-serif\" shape=rect style=filled fillcolor=white];\n")
	for _, t := range def.Tasks() {
		status, ran := latest[t.Name]
		pending := ran && status != StatusSucceeded
		fmt.Fprintf(&b, "  %q [style=%q];\n", t.Name, nodeStyle(t.Kind, pending))
	}
	for _, e := range def.edges {
		fmt.Fprintf(&b, "  %q -> %q;\n", e.From, e.To)
	}
	for _, o := range overrides {
		label := fmt.Sprintf("override %s %.8s", o.TaskName, o.ID)
		fmt.Fprintf(&b, "  %q [style=\"filled, rounded, dashed\"];\n", label)
		for _, child := range o.ChildTasks {
			fmt.Fprintf(&b, "  %q -> %q [style=dashed];\n", label, child)
		}
	}
	b.WriteString("}\n")
	return b.String()
}

func nodeStyle(kind TaskKind, pending bool) string {
	style := "filled"
	if kind == TaskHuman {
		style += ", rounded"
	}
	if pending {
		style += ", bold"
	}
	return style
}
