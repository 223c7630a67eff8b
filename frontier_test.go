package flow_test

import (
	"testing"

	"github.com/stretchr/testify/assert"

	"github.com/meikuraledutech/flow"
)

func run(id, task string, status flow.Status) flow.TaskRun {
	return flow.TaskRun{ID: id, InstanceID: "i", TaskName: task, Status: status}
}

func TestFrontierFromHistory(t *testing.T) {
	tests := []struct {
		name     string
		runs     []flow.TaskRun
		frontier []string
		complete bool
	}{
		{
			name:     "no runs yet",
			runs:     nil,
			frontier: nil,
			complete: false,
		},
		{
			name:     "scheduled run is on the frontier",
			runs:     []flow.TaskRun{run("1", "start", flow.StatusScheduled)},
			frontier: []string{"start"},
		},
		{
			name:     "running run is on the frontier",
			runs:     []flow.TaskRun{run("1", "start", flow.StatusRunning)},
			frontier: []string{"start"},
		},
		{
			name: "succeeded run retires its task",
			runs: []flow.TaskRun{
				run("1", "start", flow.StatusSucceeded),
				run("2", "next", flow.StatusScheduled),
			},
			frontier: []string{"next"},
		},
		{
			name: "failed run stays on the frontier for retry",
			runs: []flow.TaskRun{
				run("1", "start", flow.StatusSucceeded),
				run("2", "work", flow.StatusFailed),
			},
			frontier: []string{"work"},
		},
		{
			name: "retry supersedes the failed run",
			runs: []flow.TaskRun{
				run("1", "start", flow.StatusSucceeded),
				run("2", "work", flow.StatusFailed),
				run("3", "work", flow.StatusSucceeded),
			},
			frontier: nil,
			complete: true,
		},
		{
			name: "fan-out keeps both branches until each finishes",
			runs: []flow.TaskRun{
				run("1", "a", flow.StatusSucceeded),
				run("2", "b", flow.StatusSucceeded),
				run("3", "c", flow.StatusRunning),
			},
			frontier: []string{"c"},
		},
		{
			name: "frontier is sorted regardless of run order",
			runs: []flow.TaskRun{
				run("1", "zeta", flow.StatusScheduled),
				run("2", "alpha", flow.StatusScheduled),
			},
			frontier: []string{"alpha", "zeta"},
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.frontier, flow.Frontier(tt.runs))
			assert.Equal(t, tt.complete, flow.Complete(tt.runs))
		})
	}
}

func TestFrontierIsReproducible(t *testing.T) {
	history := []flow.TaskRun{
		run("1", "start", flow.StatusSucceeded),
		run("2", "review", flow.StatusScheduled),
		run("3", "notify", flow.StatusFailed),
	}

	first := flow.Frontier(history)
	for i := 0; i < 10; i++ {
		assert.Equal(t, first, flow.Frontier(history))
	}
}
