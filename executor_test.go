package flow_test

import (
	"context"
	"errors"
	"sync"
	"sync/atomic"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/meikuraledutech/flow"
)

func TestConcurrentExecutionClaimsOnce(t *testing.T) {
	var invocations atomic.Int64
	def, err := flow.NewGraphDefinition("single",
		[]flow.TaskSpec{
			{Name: "only", Kind: flow.TaskMachine, Start: true, Handler: func(_ context.Context, state flow.State) (flow.State, flow.Transition, error) {
				invocations.Add(1)
				return state, flow.AllSuccessors(), nil
			}},
		},
		nil,
	)
	require.NoError(t, err)
	eng, tr, _ := newTestEngine(t, def)

	inst, err := eng.StartInstance(context.Background(), "single", nil)
	require.NoError(t, err)
	msg, ok := tr.pop()
	require.True(t, ok)

	// Two workers race on the same delivery; the claim guard must let
	// exactly one through, the other ends as a benign no-op.
	var wg sync.WaitGroup
	errs := make([]error, 2)
	for i := 0; i < 2; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			errs[i] = eng.Execute(context.Background(), msg)
		}(i)
	}
	wg.Wait()

	require.NoError(t, errs[0])
	require.NoError(t, errs[1])
	assert.Equal(t, int64(1), invocations.Load())

	runs := taskRuns(t, eng, inst.ID, "only")
	require.Len(t, runs, 1)
	assert.Equal(t, flow.StatusSucceeded, runs[0].Status)
}

func TestConcurrentBranchesDoNotLoseStateUpdates(t *testing.T) {
	increment := func(_ context.Context, state flow.State) (flow.State, flow.Transition, error) {
		n, _ := state["n"].(float64)
		state["n"] = n + 1
		return state, flow.AllSuccessors(), nil
	}
	def, err := flow.NewGraphDefinition("parallel",
		[]flow.TaskSpec{
			{Name: "a", Kind: flow.TaskMachine, Start: true, Handler: pass},
			{Name: "b", Kind: flow.TaskMachine, Handler: increment},
			{Name: "c", Kind: flow.TaskMachine, Handler: increment},
		},
		[]flow.Edge{{From: "a", To: "b"}, {From: "a", To: "c"}},
	)
	require.NoError(t, err)
	eng, tr, _ := newTestEngine(t, def)

	inst, err := eng.StartInstance(context.Background(), "parallel", flow.State{"n": 0})
	require.NoError(t, err)

	msg, ok := tr.pop()
	require.True(t, ok)
	require.NoError(t, eng.Execute(context.Background(), msg))

	// b and c run concurrently; the compare-and-set retry must keep
	// both increments.
	first, ok := tr.pop()
	require.True(t, ok)
	second, ok := tr.pop()
	require.True(t, ok)

	var wg sync.WaitGroup
	for _, m := range []flow.TaskMessage{first, second} {
		wg.Add(1)
		go func(m flow.TaskMessage) {
			defer wg.Done()
			_ = eng.Execute(context.Background(), m)
		}(m)
	}
	wg.Wait()

	final, runs, err := eng.Instance(context.Background(), inst.ID)
	require.NoError(t, err)
	assert.True(t, flow.Complete(runs))
	assert.Equal(t, float64(2), final.State["n"])
}

func TestHandlerFailureAndRetry(t *testing.T) {
	var attempts atomic.Int64
	def, err := flow.NewGraphDefinition("flaky",
		[]flow.TaskSpec{
			{Name: "work", Kind: flow.TaskMachine, Start: true, Handler: func(_ context.Context, state flow.State) (flow.State, flow.Transition, error) {
				if attempts.Add(1) == 1 {
					return nil, flow.Transition{}, errors.New("smtp unreachable")
				}
				state["done"] = true
				return state, flow.AllSuccessors(), nil
			}},
			{Name: "end", Kind: flow.TaskMachine, Handler: pass},
		},
		[]flow.Edge{{From: "work", To: "end"}},
	)
	require.NoError(t, err)
	eng, tr, _ := newTestEngine(t, def)

	inst, err := eng.StartInstance(context.Background(), "flaky", nil)
	require.NoError(t, err)

	msg, ok := tr.pop()
	require.True(t, ok)
	execErr := eng.Execute(context.Background(), msg)
	require.Error(t, execErr)
	assert.Contains(t, execErr.Error(), "smtp unreachable")

	runs := taskRuns(t, eng, inst.ID, "work")
	require.Len(t, runs, 1)
	assert.Equal(t, flow.StatusFailed, runs[0].Status)
	assert.Contains(t, runs[0].Error, "smtp unreachable")

	// The frontier still holds the failed task; nothing advanced.
	_, all, err := eng.Instance(context.Background(), inst.ID)
	require.NoError(t, err)
	assert.Equal(t, []string{"work"}, flow.Frontier(all))

	// External retry policy appends a fresh run.
	fresh, err := eng.Retry(context.Background(), runs[0].ID)
	require.NoError(t, err)
	assert.NotEqual(t, runs[0].ID, fresh.ID)
	drain(eng, tr)

	_, all, err = eng.Instance(context.Background(), inst.ID)
	require.NoError(t, err)
	assert.True(t, flow.Complete(all))

	// Both the failed and the succeeded run survive in the history.
	runs = taskRuns(t, eng, inst.ID, "work")
	require.Len(t, runs, 2)
	assert.Equal(t, flow.StatusFailed, runs[0].Status)
	assert.Equal(t, flow.StatusSucceeded, runs[1].Status)
}

func TestRetryRequiresFailedRun(t *testing.T) {
	eng, _, _ := newTestEngine(t, welcomeDef(t))

	inst, err := eng.StartInstance(context.Background(), "welcome", nil)
	require.NoError(t, err)

	runs := taskRuns(t, eng, inst.ID, "start")
	require.Len(t, runs, 1)

	_, err = eng.Retry(context.Background(), runs[0].ID)
	require.ErrorIs(t, err, flow.ErrRunNotClaimable)
}

func TestExecuteUnknownRun(t *testing.T) {
	eng, _, _ := newTestEngine(t, welcomeDef(t))

	err := eng.Execute(context.Background(), flow.TaskMessage{RunID: "nope"})
	require.ErrorIs(t, err, flow.ErrRunNotFound)
}
