package memstore_test

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/meikuraledutech/flow"
	"github.com/meikuraledutech/flow/memstore"
)

func TestUpdateStateCompareAndSet(t *testing.T) {
	ctx := context.Background()
	store := memstore.New()

	inst := &flow.WorkflowInstance{
		ID: "i1", GraphName: "g", State: flow.State{"n": 1},
		Version: 1, CreatedAt: time.Now().UTC(),
	}
	require.NoError(t, store.CreateInstance(ctx, inst))

	err := store.UpdateState(ctx, "i1", 1, flow.State{"n": 2})
	require.NoError(t, err)

	// The old version token no longer matches.
	err = store.UpdateState(ctx, "i1", 1, flow.State{"n": 99})
	require.ErrorIs(t, err, flow.ErrVersionConflict)

	got, err := store.GetInstance(ctx, "i1")
	require.NoError(t, err)
	assert.Equal(t, int64(2), got.Version)
	assert.Equal(t, 2, got.State["n"])

	err = store.UpdateState(ctx, "missing", 1, flow.State{})
	require.ErrorIs(t, err, flow.ErrInstanceNotFound)
}

func TestGetInstanceReturnsCopy(t *testing.T) {
	ctx := context.Background()
	store := memstore.New()

	require.NoError(t, store.CreateInstance(ctx, &flow.WorkflowInstance{
		ID: "i1", State: flow.State{"k": "v"}, Version: 1,
	}))

	got, err := store.GetInstance(ctx, "i1")
	require.NoError(t, err)
	got.State["k"] = "mutated"

	again, err := store.GetInstance(ctx, "i1")
	require.NoError(t, err)
	assert.Equal(t, "v", again.State["k"])

	missing, err := store.GetInstance(ctx, "nope")
	require.NoError(t, err)
	assert.Nil(t, missing)
}

func TestClaimRunTransitions(t *testing.T) {
	ctx := context.Background()
	store := memstore.New()

	runID := "r1"
	require.NoError(t, store.CreateRun(ctx, &flow.TaskRun{
		ID: runID, InstanceID: "i1", TaskName: "work",
		Kind: flow.TaskMachine, Status: flow.StatusScheduled,
	}))

	require.NoError(t, store.ClaimRun(ctx, runID))

	// Second claim loses the race.
	err := store.ClaimRun(ctx, runID)
	require.ErrorIs(t, err, flow.ErrRunNotClaimable)

	require.NoError(t, store.FinishRun(ctx, runID, []string{"next"}))
	got, err := store.GetRun(ctx, runID)
	require.NoError(t, err)
	assert.Equal(t, flow.StatusSucceeded, got.Status)
	assert.Equal(t, []string{"next"}, got.ChildTasks)
	assert.NotNil(t, got.StartedAt)
	assert.NotNil(t, got.FinishedAt)

	// A finished run can be neither finished again nor failed.
	require.ErrorIs(t, store.FinishRun(ctx, runID, nil), flow.ErrRunNotClaimable)
	require.ErrorIs(t, store.FailRun(ctx, runID, "late"), flow.ErrRunNotClaimable)

	require.ErrorIs(t, store.ClaimRun(ctx, "missing"), flow.ErrRunNotFound)
}

func TestFailRunKeepsCause(t *testing.T) {
	ctx := context.Background()
	store := memstore.New()

	require.NoError(t, store.CreateRun(ctx, &flow.TaskRun{
		ID: "r1", InstanceID: "i1", TaskName: "work",
		Kind: flow.TaskMachine, Status: flow.StatusScheduled,
	}))
	require.NoError(t, store.ClaimRun(ctx, "r1"))
	require.NoError(t, store.FailRun(ctx, "r1", "smtp unreachable"))

	got, err := store.GetRun(ctx, "r1")
	require.NoError(t, err)
	assert.Equal(t, flow.StatusFailed, got.Status)
	assert.Equal(t, "smtp unreachable", got.Error)
}

func TestListRunsOrderAndFilter(t *testing.T) {
	ctx := context.Background()
	store := memstore.New()

	for _, r := range []flow.TaskRun{
		{ID: "r1", InstanceID: "i1", TaskName: "a", Status: flow.StatusSucceeded},
		{ID: "r2", InstanceID: "i2", TaskName: "a", Status: flow.StatusScheduled},
		{ID: "r3", InstanceID: "i1", TaskName: "b", Status: flow.StatusScheduled},
		{ID: "r4", InstanceID: "i1", TaskName: "a", Status: flow.StatusScheduled},
	} {
		run := r
		require.NoError(t, store.CreateRun(ctx, &run))
	}

	runs, err := store.ListRuns(ctx, "i1")
	require.NoError(t, err)
	ids := []string{}
	for _, r := range runs {
		ids = append(ids, r.ID)
	}
	assert.Equal(t, []string{"r1", "r3", "r4"}, ids)

	byTask, err := store.ListRunsByTask(ctx, "i1", "a")
	require.NoError(t, err)
	require.Len(t, byTask, 2)
	assert.Equal(t, "r1", byTask[0].ID)
	assert.Equal(t, "r4", byTask[1].ID)
}
