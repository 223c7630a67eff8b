package flow

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/hashicorp/go-hclog"
)

var ErrGraphNotRegistered = errors.New("flow: graph definition not registered")

// Config configures an Engine.
type Config struct {
	// Store persists instances and task runs. Required.
	Store Store
	// Transport delivers runnable machine tasks to workers. Leave nil to
	// use an in-process LocalTransport driven by Engine.Run.
	Transport Transport
	// Workers is the LocalTransport pool size. Ignored when Transport is
	// set. Defaults to 4.
	Workers int
	// Logger defaults to a no-op logger.
	Logger hclog.Logger
}

// Engine runs workflow instances against registered graph definitions.
// It schedules successor tasks when a run succeeds, executes machine
// tasks delivered by the transport, accepts human task completions and
// operator overrides. All progress lives in the Store, so an engine can
// be restarted at any time and picks up where the history left off.
type Engine struct {
	store     Store
	transport Transport
	local     *LocalTransport
	log       hclog.Logger

	mu     sync.RWMutex
	graphs map[string]*GraphDefinition
}

// NewEngine creates an engine over the given store.
func NewEngine(cfg Config) (*Engine, error) {
	if cfg.Store == nil {
		return nil, errors.New("flow: config requires a store")
	}
	log := cfg.Logger
	if log == nil {
		log = hclog.NewNullLogger()
	}
	e := &Engine{
		store:  cfg.Store,
		log:    log,
		graphs: make(map[string]*GraphDefinition),
	}
	if cfg.Transport != nil {
		e.transport = cfg.Transport
	} else {
		e.local = NewLocalTransport(e, cfg.Workers)
		e.transport = e.local
	}
	return e, nil
}

// Register makes a graph definition available for new and resumed
// instances. Registering the same name twice is an error.
func (e *Engine) Register(def *GraphDefinition) error {
	e.mu.Lock()
	defer e.mu.Unlock()
	if _, ok := e.graphs[def.Name()]; ok {
		return fmt.Errorf("flow: graph %q already registered", def.Name())
	}
	e.graphs[def.Name()] = def
	return nil
}

// Graph looks up a registered definition by name.
func (e *Engine) Graph(name string) (*GraphDefinition, bool) {
	e.mu.RLock()
	defer e.mu.RUnlock()
	def, ok := e.graphs[name]
	return def, ok
}

// Run drives the in-process transport's worker pool until ctx is
// cancelled. With an external transport it just waits for ctx.
func (e *Engine) Run(ctx context.Context) error {
	if e.local == nil {
		<-ctx.Done()
		return ctx.Err()
	}
	return e.local.Run(ctx)
}

// StartInstance creates a new instance of the named graph and schedules
// its start tasks.
func (e *Engine) StartInstance(ctx context.Context, graphName string, initial State) (*WorkflowInstance, error) {
	def, ok := e.Graph(graphName)
	if !ok {
		return nil, fmt.Errorf("%w: %s", ErrGraphNotRegistered, graphName)
	}

	state, err := cloneState(initial)
	if err != nil {
		return nil, fmt.Errorf("flow: encode initial state: %w", err)
	}
	inst := &WorkflowInstance{
		ID:        uuid.NewString(),
		GraphName: graphName,
		State:     state,
		Version:   1,
		CreatedAt: time.Now().UTC(),
	}
	if err := e.store.CreateInstance(ctx, inst); err != nil {
		return nil, fmt.Errorf("flow: create instance: %w", err)
	}
	e.log.Info("workflow instance started", "graph", graphName, "instance", inst.ID)

	var firstErr error
	for _, name := range def.StartTasks() {
		if err := e.scheduleTask(ctx, def, inst.ID, "", name); err != nil && firstErr == nil {
			firstErr = err
		}
	}
	return inst, firstErr
}

// Instance returns an instance together with its full run history.
func (e *Engine) Instance(ctx context.Context, instanceID string) (*WorkflowInstance, []TaskRun, error) {
	inst, err := e.store.GetInstance(ctx, instanceID)
	if err != nil {
		return nil, nil, fmt.Errorf("flow: load instance: %w", err)
	}
	if inst == nil {
		return nil, nil, ErrInstanceNotFound
	}
	runs, err := e.store.ListRuns(ctx, instanceID)
	if err != nil {
		return nil, nil, fmt.Errorf("flow: list runs: %w", err)
	}
	return inst, runs, nil
}

// instanceGraph loads an instance and resolves its registered
// definition.
func (e *Engine) instanceGraph(ctx context.Context, instanceID string) (*WorkflowInstance, *GraphDefinition, error) {
	inst, err := e.store.GetInstance(ctx, instanceID)
	if err != nil {
		return nil, nil, fmt.Errorf("flow: load instance: %w", err)
	}
	if inst == nil {
		return nil, nil, ErrInstanceNotFound
	}
	def, ok := e.Graph(inst.GraphName)
	if !ok {
		return nil, nil, fmt.Errorf("%w: %s", ErrGraphNotRegistered, inst.GraphName)
	}
	return inst, def, nil
}
