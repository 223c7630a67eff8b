package main

import (
	"context"
	"fmt"
	"log"
	"time"

	"github.com/goccy/go-json"
	"github.com/hashicorp/go-hclog"

	"github.com/meikuraledutech/flow"
	"github.com/meikuraledutech/flow/memstore"
)

func main() {
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	store := memstore.New()
	engine, err := flow.NewEngine(flow.Config{
		Store: store,
		Logger: hclog.New(&hclog.LoggerOptions{
			Name:  "flow",
			Level: hclog.Info,
		}),
	})
	if err != nil {
		log.Fatalf("engine: %v", err)
	}

	// ── Define the welcome workflow ───────────────────────────────────
	// start (human form) → has_user → {send_email | end}, send_email → end
	def, err := flow.NewGraphDefinition("welcome",
		[]flow.TaskSpec{
			{Name: "start", Kind: flow.TaskHuman, Start: true},
			{Name: "has_user", Kind: flow.TaskMachine, Handler: hasUser},
			{Name: "send_email", Kind: flow.TaskMachine, Handler: sendEmail},
			{Name: "end", Kind: flow.TaskMachine, Handler: endTask},
		},
		[]flow.Edge{
			{From: "start", To: "has_user"},
			{From: "has_user", To: "send_email"},
			{From: "has_user", To: "end"},
			{From: "send_email", To: "end"},
		},
	)
	if err != nil {
		log.Fatalf("define: %v", err)
	}
	if err := engine.Register(def); err != nil {
		log.Fatalf("register: %v", err)
	}
	go engine.Run(ctx)

	// ── Start an instance ─────────────────────────────────────────────
	inst, err := engine.StartInstance(ctx, "welcome", nil)
	if err != nil {
		log.Fatalf("start: %v", err)
	}
	fmt.Printf("instance started: %s\n", inst.ID)

	// The start task is human, so the instance waits for input.
	pending, err := engine.PendingHuman(ctx, inst.ID)
	if err != nil {
		log.Fatalf("pending: %v", err)
	}
	fmt.Printf("pending human tasks: %d (%s)\n", len(pending), pending[0].TaskName)

	// ── Complete the start form with a user ───────────────────────────
	err = engine.CompleteHuman(ctx, pending[0].ID,
		flow.State{"user": "alice@example.com"}, flow.AllSuccessors())
	if err != nil {
		log.Fatalf("complete: %v", err)
	}

	waitForCompletion(ctx, engine, inst.ID)

	// ── Inspect the finished instance ─────────────────────────────────
	final, runs, err := engine.Instance(ctx, inst.ID)
	if err != nil {
		log.Fatalf("inspect: %v", err)
	}
	fmt.Println("\nfinal state:")
	printJSON(final.State)
	fmt.Println("\nrun history:")
	for _, r := range runs {
		fmt.Printf("  %-10s %-9s children=%v\n", r.TaskName, r.Status, r.ChildTasks)
	}
	fmt.Println("\ninstance graph:")
	fmt.Println(flow.InstanceDOT(def, runs))

	// ── Override demo: a stuck instance forced to the end ─────────────
	stuck, err := engine.StartInstance(ctx, "welcome", nil)
	if err != nil {
		log.Fatalf("start: %v", err)
	}
	// Nobody ever fills in the start form; an operator forces it.
	_, err = engine.OverrideTask(ctx, stuck.ID, "start",
		flow.State{"user": ""}, flow.Next("has_user"))
	if err != nil {
		log.Fatalf("override: %v", err)
	}
	waitForCompletion(ctx, engine, stuck.ID)

	_, runs, err = engine.Instance(ctx, stuck.ID)
	if err != nil {
		log.Fatalf("inspect: %v", err)
	}
	fmt.Println("overridden instance history:")
	for _, r := range runs {
		marker := ""
		if r.Override {
			marker = " (override)"
		}
		fmt.Printf("  %-10s %-9s children=%v%s\n", r.TaskName, r.Status, r.ChildTasks, marker)
	}
}

// waitForCompletion polls the run history until the frontier empties.
func waitForCompletion(ctx context.Context, engine *flow.Engine, instanceID string) {
	for {
		_, runs, err := engine.Instance(ctx, instanceID)
		if err != nil {
			log.Fatalf("inspect: %v", err)
		}
		if flow.Complete(runs) {
			return
		}
		time.Sleep(10 * time.Millisecond)
	}
}

func hasUser(_ context.Context, state flow.State) (flow.State, flow.Transition, error) {
	if user, ok := state["user"].(string); ok && user != "" {
		return state, flow.Next("send_email"), nil
	}
	return state, flow.Next("end"), nil
}

func sendEmail(_ context.Context, state flow.State) (flow.State, flow.Transition, error) {
	state["email_sent"] = true
	return state, flow.AllSuccessors(), nil
}

func endTask(_ context.Context, state flow.State) (flow.State, flow.Transition, error) {
	return state, flow.AllSuccessors(), nil
}

func printJSON(v any) {
	out, _ := json.MarshalIndent(v, "", "  ")
	fmt.Println(string(out))
}
