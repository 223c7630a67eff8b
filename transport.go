package flow

import (
	"context"
	"fmt"
	"sync"

	"github.com/hashicorp/go-hclog"
)

// TaskMessage tells a worker to execute one scheduled machine task.
type TaskMessage struct {
	InstanceID string `json:"instance_id"`
	TaskName   string `json:"task_name"`
	RunID      string `json:"task_run_id"`
}

// Transport delivers task messages to worker processes. Delivery must
// be at-least-once; duplicates are absorbed by the engine's claim
// guard, so a transport never needs exactly-once semantics.
type Transport interface {
	Enqueue(ctx context.Context, msg TaskMessage) error
}

const defaultWorkers = 4

// LocalTransport delivers task messages to an in-process worker pool.
// It is the default transport for single-process deployments; external
// brokers implement Transport instead and run their own workers.
type LocalTransport struct {
	engine  *Engine
	queue   chan TaskMessage
	workers int
	log     hclog.Logger
}

// NewLocalTransport creates a transport whose workers execute tasks on
// the given engine.
func NewLocalTransport(engine *Engine, workers int) *LocalTransport {
	if workers <= 0 {
		workers = defaultWorkers
	}
	return &LocalTransport{
		engine:  engine,
		queue:   make(chan TaskMessage, 64),
		workers: workers,
		log:     engine.log.Named("transport"),
	}
}

// Enqueue hands a task message to the worker pool.
func (t *LocalTransport) Enqueue(ctx context.Context, msg TaskMessage) error {
	select {
	case t.queue <- msg:
		return nil
	case <-ctx.Done():
		return fmt.Errorf("flow: enqueue: %w", ctx.Err())
	}
}

// Run blocks, executing queued tasks on the worker pool until ctx is
// cancelled. Execution failures are logged and left in the run history
// for retry; they never stop the pool.
func (t *LocalTransport) Run(ctx context.Context) error {
	var wg sync.WaitGroup
	for i := 0; i < t.workers; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			for {
				select {
				case <-ctx.Done():
					return
				case msg := <-t.queue:
					if err := t.engine.Execute(ctx, msg); err != nil {
						t.log.Error("task execution failed",
							"instance", msg.InstanceID, "task", msg.TaskName, "run", msg.RunID, "error", err)
					}
				}
			}
		}()
	}
	wg.Wait()
	return ctx.Err()
}
