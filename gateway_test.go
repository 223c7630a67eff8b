package flow_test

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/meikuraledutech/flow"
)

// approvalDef builds a human-gated graph:
// request (human, start) → {publish | end}, publish → end.
func approvalDef(t *testing.T) *flow.GraphDefinition {
	t.Helper()
	def, err := flow.NewGraphDefinition("approval",
		[]flow.TaskSpec{
			{Name: "request", Kind: flow.TaskHuman, Start: true},
			{Name: "publish", Kind: flow.TaskMachine, Handler: func(_ context.Context, state flow.State) (flow.State, flow.Transition, error) {
				state["published"] = true
				return state, flow.AllSuccessors(), nil
			}},
			{Name: "end", Kind: flow.TaskMachine, Handler: pass},
		},
		[]flow.Edge{
			{From: "request", To: "publish"},
			{From: "request", To: "end"},
			{From: "publish", To: "end"},
		},
	)
	require.NoError(t, err)
	return def
}

func TestHumanTaskStaysPending(t *testing.T) {
	eng, tr, _ := newTestEngine(t, approvalDef(t))

	inst, err := eng.StartInstance(context.Background(), "approval", nil)
	require.NoError(t, err)

	// Human tasks never reach the transport.
	_, ok := tr.pop()
	assert.False(t, ok)

	pending, err := eng.PendingHuman(context.Background(), inst.ID)
	require.NoError(t, err)
	require.Len(t, pending, 1)
	assert.Equal(t, "request", pending[0].TaskName)
	assert.Equal(t, flow.StatusScheduled, pending[0].Status)
}

func TestCompleteHumanMergesDeltaAndAdvances(t *testing.T) {
	eng, tr, _ := newTestEngine(t, approvalDef(t))

	inst, err := eng.StartInstance(context.Background(), "approval", flow.State{"title": "hello"})
	require.NoError(t, err)
	pending, err := eng.PendingHuman(context.Background(), inst.ID)
	require.NoError(t, err)
	require.Len(t, pending, 1)

	err = eng.CompleteHuman(context.Background(), pending[0].ID,
		flow.State{"approved_by": "bob"}, flow.Next("publish"))
	require.NoError(t, err)
	drain(eng, tr)

	final, runs, err := eng.Instance(context.Background(), inst.ID)
	require.NoError(t, err)
	assert.True(t, flow.Complete(runs))
	assert.Equal(t, "hello", final.State["title"])
	assert.Equal(t, "bob", final.State["approved_by"])
	assert.Equal(t, true, final.State["published"])

	pending, err = eng.PendingHuman(context.Background(), inst.ID)
	require.NoError(t, err)
	assert.Empty(t, pending)
}

func TestCompleteHumanTwiceIsRejected(t *testing.T) {
	eng, tr, _ := newTestEngine(t, approvalDef(t))

	inst, err := eng.StartInstance(context.Background(), "approval", nil)
	require.NoError(t, err)
	pending, err := eng.PendingHuman(context.Background(), inst.ID)
	require.NoError(t, err)
	require.Len(t, pending, 1)

	require.NoError(t, eng.CompleteHuman(context.Background(), pending[0].ID, nil, flow.Next("end")))
	err = eng.CompleteHuman(context.Background(), pending[0].ID, nil, flow.Next("end"))
	require.ErrorIs(t, err, flow.ErrRunNotClaimable)
	drain(eng, tr)

	// The double submit did not fork the instance.
	endRuns := taskRuns(t, eng, inst.ID, "end")
	assert.Len(t, endRuns, 1)
}

func TestCompleteHumanRejectsMachineRun(t *testing.T) {
	eng, _, _ := newTestEngine(t, welcomeDef(t))

	inst, err := eng.StartInstance(context.Background(), "welcome", nil)
	require.NoError(t, err)

	runs := taskRuns(t, eng, inst.ID, "start")
	require.Len(t, runs, 1)

	err = eng.CompleteHuman(context.Background(), runs[0].ID, nil, flow.AllSuccessors())
	require.ErrorIs(t, err, flow.ErrNotHumanTask)
}

func TestCompleteHumanUnknownRun(t *testing.T) {
	eng, _, _ := newTestEngine(t, approvalDef(t))

	err := eng.CompleteHuman(context.Background(), "missing", nil, flow.AllSuccessors())
	require.ErrorIs(t, err, flow.ErrRunNotFound)
}
