package main

import (
	"context"
	"errors"
	"log"
	"os"

	"github.com/gofiber/fiber/v3"
	"github.com/hashicorp/go-hclog"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/meikuraledutech/flow"
	"github.com/meikuraledutech/flow/postgres"
)

func main() {
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	dbURL := os.Getenv("DATABASE_URL")
	if dbURL == "" {
		log.Fatal("DATABASE_URL is not set")
	}

	pool, err := pgxpool.New(ctx, dbURL)
	if err != nil {
		log.Fatalf("connect: %v", err)
	}
	defer pool.Close()

	store := postgres.New(pool)

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
	if err := engine.Register(welcomeGraph()); err != nil {
		log.Fatalf("register: %v", err)
	}
	go engine.Run(ctx)

	app := fiber.New()

	// ── Schema ────────────────────────────────────────────────────────
	app.Post("/schema", func(c fiber.Ctx) error {
		if err := store.CreateSchema(c.Context()); err != nil {
			return c.Status(500).JSON(fiber.Map{"error": err.Error()})
		}
		return c.JSON(fiber.Map{"message": "schema created"})
	})

	app.Delete("/schema", func(c fiber.Ctx) error {
		if err := store.DropSchema(c.Context()); err != nil {
			return c.Status(500).JSON(fiber.Map{"error": err.Error()})
		}
		return c.JSON(fiber.Map{"message": "schema dropped"})
	})

	// ── Instances ─────────────────────────────────────────────────────
	app.Post("/workflows/:graph/instances", func(c fiber.Ctx) error {
		var body struct {
			State flow.State `json:"state"`
		}
		if err := c.Bind().JSON(&body); err != nil {
			return c.Status(400).JSON(fiber.Map{"error": "invalid body"})
		}
		inst, err := engine.StartInstance(c.Context(), c.Params("graph"), body.State)
		if err != nil {
			return fail(c, err)
		}
		return c.Status(201).JSON(inst)
	})

	app.Get("/instances/:id", func(c fiber.Ctx) error {
		inst, runs, err := engine.Instance(c.Context(), c.Params("id"))
		if err != nil {
			return fail(c, err)
		}
		return c.JSON(fiber.Map{
			"instance": inst,
			"runs":     runs,
			"frontier": flow.Frontier(runs),
			"complete": flow.Complete(runs),
		})
	})

	app.Get("/instances/:id/dot", func(c fiber.Ctx) error {
		inst, runs, err := engine.Instance(c.Context(), c.Params("id"))
		if err != nil {
			return fail(c, err)
		}
		def, ok := engine.Graph(inst.GraphName)
		if !ok {
			return c.Status(404).JSON(fiber.Map{"error": "graph not registered"})
		}
		c.Set("Content-Type", "text/vnd.graphviz")
		return c.SendString(flow.InstanceDOT(def, runs))
	})

	// ── Human tasks ───────────────────────────────────────────────────
	app.Get("/instances/:id/tasks", func(c fiber.Ctx) error {
		pending, err := engine.PendingHuman(c.Context(), c.Params("id"))
		if err != nil {
			return fail(c, err)
		}
		return c.JSON(pending)
	})

	app.Post("/tasks/:id/complete", func(c fiber.Ctx) error {
		var body struct {
			StateDelta flow.State `json:"state_delta"`
			ChildTasks *[]string  `json:"child_tasks"`
		}
		if err := c.Bind().JSON(&body); err != nil {
			return c.Status(400).JSON(fiber.Map{"error": "invalid body"})
		}
		err := engine.CompleteHuman(c.Context(), c.Params("id"), body.StateDelta, transitionFrom(body.ChildTasks))
		if err != nil {
			return fail(c, err)
		}
		return c.SendStatus(204)
	})

	app.Post("/tasks/:id/retry", func(c fiber.Ctx) error {
		run, err := engine.Retry(c.Context(), c.Params("id"))
		if err != nil {
			return fail(c, err)
		}
		return c.Status(201).JSON(run)
	})

	// ── Override ──────────────────────────────────────────────────────
	app.Post("/instances/:id/override", func(c fiber.Ctx) error {
		var body struct {
			TaskName   string     `json:"task_name"`
			StateDelta flow.State `json:"state_delta"`
			ChildTasks *[]string  `json:"child_tasks"`
		}
		if err := c.Bind().JSON(&body); err != nil {
			return c.Status(400).JSON(fiber.Map{"error": "invalid body"})
		}
		run, err := engine.OverrideTask(c.Context(), c.Params("id"), body.TaskName, body.StateDelta, transitionFrom(body.ChildTasks))
		if err != nil {
			return fail(c, err)
		}
		return c.Status(201).JSON(run)
	})

	log.Fatal(app.Listen(":3000"))
}

// transitionFrom maps the wire encoding of a successor choice: a null
// child_tasks list means "all edges", an explicit list (possibly empty)
// selects exactly those tasks.
func transitionFrom(children *[]string) flow.Transition {
	if children == nil {
		return flow.AllSuccessors()
	}
	return flow.Next(*children...)
}

// fail maps engine errors to HTTP statuses.
func fail(c fiber.Ctx, err error) error {
	var derr *flow.DefinitionError
	switch {
	case errors.Is(err, flow.ErrInstanceNotFound),
		errors.Is(err, flow.ErrRunNotFound),
		errors.Is(err, flow.ErrGraphNotRegistered):
		return c.Status(404).JSON(fiber.Map{"error": err.Error()})
	case errors.Is(err, flow.ErrRunNotClaimable),
		errors.Is(err, flow.ErrStaleAdvance),
		errors.Is(err, flow.ErrVersionConflict):
		return c.Status(409).JSON(fiber.Map{"error": err.Error()})
	case errors.Is(err, flow.ErrNotHumanTask), errors.As(err, &derr):
		return c.Status(422).JSON(fiber.Map{"error": err.Error()})
	default:
		return c.Status(500).JSON(fiber.Map{"error": err.Error()})
	}
}

// welcomeGraph is the workflow served by this binary: a human start
// form collects a user, then the machine branch either sends a welcome
// email or ends directly.
func welcomeGraph() *flow.GraphDefinition {
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
		log.Fatalf("welcome graph: %v", err)
	}
	return def
}

func hasUser(_ context.Context, state flow.State) (flow.State, flow.Transition, error) {
	if user, ok := state["user"].(string); ok && user != "" {
		return state, flow.Next("send_email"), nil
	}
	return state, flow.Next("end"), nil
}

func sendEmail(_ context.Context, state flow.State) (flow.State, flow.Transition, error) {
	// Delivery is out of scope here; record that the mail went out.
	state["email_sent"] = true
	return state, flow.AllSuccessors(), nil
}

func endTask(_ context.Context, state flow.State) (flow.State, flow.Transition, error) {
	return state, flow.AllSuccessors(), nil
}
