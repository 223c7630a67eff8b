// Package memstore provides an in-memory flow.Store for tests,
// examples and embedded single-process use. It honors the same
// compare-and-set and claim semantics as the postgres store.
package memstore

import (
	"context"
	"sync"
	"time"

	"github.com/meikuraledutech/flow"
)

// Store implements flow.Store backed by maps under one mutex.
type Store struct {
	mu        sync.Mutex
	instances map[string]*flow.WorkflowInstance
	runs      map[string]*flow.TaskRun
	order     []string // run IDs in creation order
}

// New creates an empty store.
func New() *Store {
	return &Store{
		instances: make(map[string]*flow.WorkflowInstance),
		runs:      make(map[string]*flow.TaskRun),
	}
}

// CreateInstance stores a copy of the instance.
func (s *Store) CreateInstance(_ context.Context, inst *flow.WorkflowInstance) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	cp := *inst
	cp.State = copyState(inst.State)
	s.instances[inst.ID] = &cp
	return nil
}

// GetInstance returns a copy of the instance, or nil, nil if absent.
func (s *Store) GetInstance(_ context.Context, instanceID string) (*flow.WorkflowInstance, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	inst, ok := s.instances[instanceID]
	if !ok {
		return nil, nil
	}
	cp := *inst
	cp.State = copyState(inst.State)
	return &cp, nil
}

// UpdateState replaces the state under compare-and-set on the version.
func (s *Store) UpdateState(_ context.Context, instanceID string, expectedVersion int64, state flow.State) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	inst, ok := s.instances[instanceID]
	if !ok {
		return flow.ErrInstanceNotFound
	}
	if inst.Version != expectedVersion {
		return flow.ErrVersionConflict
	}
	inst.State = copyState(state)
	inst.Version++
	return nil
}

// CreateRun appends a copy of the run to the history.
func (s *Store) CreateRun(_ context.Context, run *flow.TaskRun) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	cp := *run
	cp.ChildTasks = append([]string(nil), run.ChildTasks...)
	s.runs[run.ID] = &cp
	s.order = append(s.order, run.ID)
	return nil
}

// GetRun returns a copy of the run, or nil, nil if absent.
func (s *Store) GetRun(_ context.Context, runID string) (*flow.TaskRun, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	run, ok := s.runs[runID]
	if !ok {
		return nil, nil
	}
	cp := *run
	cp.ChildTasks = append([]string(nil), run.ChildTasks...)
	return &cp, nil
}

// ListRuns returns the instance's runs in creation order.
func (s *Store) ListRuns(_ context.Context, instanceID string) ([]flow.TaskRun, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := []flow.TaskRun{}
	for _, id := range s.order {
		run := s.runs[id]
		if run.InstanceID != instanceID {
			continue
		}
		cp := *run
		cp.ChildTasks = append([]string(nil), run.ChildTasks...)
		out = append(out, cp)
	}
	return out, nil
}

// ListRunsByTask returns the instance's runs of one task in creation
// order.
func (s *Store) ListRunsByTask(_ context.Context, instanceID, taskName string) ([]flow.TaskRun, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := []flow.TaskRun{}
	for _, id := range s.order {
		run := s.runs[id]
		if run.InstanceID != instanceID || run.TaskName != taskName {
			continue
		}
		cp := *run
		cp.ChildTasks = append([]string(nil), run.ChildTasks...)
		out = append(out, cp)
	}
	return out, nil
}

// ClaimRun atomically moves a run from Scheduled to Running.
func (s *Store) ClaimRun(_ context.Context, runID string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	run, ok := s.runs[runID]
	if !ok {
		return flow.ErrRunNotFound
	}
	if run.Status != flow.StatusScheduled {
		return flow.ErrRunNotClaimable
	}
	now := time.Now().UTC()
	run.Status = flow.StatusRunning
	run.StartedAt = &now
	return nil
}

// FinishRun moves a Running run to Succeeded with its children.
func (s *Store) FinishRun(_ context.Context, runID string, childTasks []string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	run, ok := s.runs[runID]
	if !ok {
		return flow.ErrRunNotFound
	}
	if run.Status != flow.StatusRunning {
		return flow.ErrRunNotClaimable
	}
	now := time.Now().UTC()
	run.Status = flow.StatusSucceeded
	run.ChildTasks = append([]string(nil), childTasks...)
	run.FinishedAt = &now
	return nil
}

// FailRun moves a Running run to Failed, retaining the cause.
func (s *Store) FailRun(_ context.Context, runID string, cause string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	run, ok := s.runs[runID]
	if !ok {
		return flow.ErrRunNotFound
	}
	if run.Status != flow.StatusRunning {
		return flow.ErrRunNotClaimable
	}
	now := time.Now().UTC()
	run.Status = flow.StatusFailed
	run.Error = cause
	run.FinishedAt = &now
	return nil
}

// copyState shallow-copies the top level of a state map. Nested values
// are shared; callers that mutate nested structures go through the
// engine, which hands handlers a deep copy.
func copyState(s flow.State) flow.State {
	out := flow.State{}
	for k, v := range s {
		out[k] = v
	}
	return out
}
