package batch

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"simdeck/internal/core"
	"simdeck/internal/events"
	"simdeck/internal/logging"
)

func statuses(ss ...core.RunStatus) []core.ScenarioRunStatus {
	out := make([]core.ScenarioRunStatus, len(ss))
	for i, s := range ss {
		out[i] = core.ScenarioRunStatus{
			ScenarioID: core.ScenarioID(string(rune('a' + i))),
			Status:     s,
		}
	}
	return out
}

func TestDeriveStatus(t *testing.T) {
	tests := []struct {
		name      string
		scenarios []core.ScenarioRunStatus
		want      core.RunStatus
	}{
		{
			name:      "mixed terminal and running stays running",
			scenarios: statuses(core.RunStatusCompleted, core.RunStatusRunning, core.RunStatusPending),
			want:      core.RunStatusRunning,
		},
		{
			name:      "all terminal with a failure is completed",
			scenarios: statuses(core.RunStatusCompleted, core.RunStatusCompleted, core.RunStatusFailed),
			want:      core.RunStatusCompleted,
		},
		{
			name:      "all failed is failed",
			scenarios: statuses(core.RunStatusFailed, core.RunStatusFailed),
			want:      core.RunStatusFailed,
		},
		{
			name:      "all completed is completed",
			scenarios: statuses(core.RunStatusCompleted, core.RunStatusCompleted),
			want:      core.RunStatusCompleted,
		},
		{
			name:      "pending only is running",
			scenarios: statuses(core.RunStatusPending, core.RunStatusPending),
			want:      core.RunStatusRunning,
		},
		{
			name:      "not_run counts as pending work",
			scenarios: statuses(core.RunStatusCompleted, core.RunStatusNotRun),
			want:      core.RunStatusRunning,
		},
		{
			name:      "empty batch is not_run",
			scenarios: nil,
			want:      core.RunStatusNotRun,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, DeriveStatus(tt.scenarios))
		})
	}
}

func TestProgress(t *testing.T) {
	tests := []struct {
		name      string
		scenarios []core.ScenarioRunStatus
		want      int
	}{
		{"none completed", statuses(core.RunStatusRunning, core.RunStatusPending), 0},
		{"one of three", statuses(core.RunStatusCompleted, core.RunStatusRunning, core.RunStatusPending), 33},
		{"two of three", statuses(core.RunStatusCompleted, core.RunStatusCompleted, core.RunStatusFailed), 67},
		{"all completed", statuses(core.RunStatusCompleted, core.RunStatusCompleted), 100},
		{"empty", nil, 0},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, Progress(tt.scenarios))
		})
	}
}

func TestMerge_ServerIsAuthoritative(t *testing.T) {
	created := time.Now().Add(-time.Minute)
	local := &core.BatchJob{
		ID:        "batch-1",
		CreatedAt: created,
		Scenarios: []core.ScenarioRunStatus{
			{ScenarioID: "a", Status: core.RunStatusRunning, Progress: 40},
			{ScenarioID: "b", Status: core.RunStatusPending},
		},
	}
	server := &core.BatchJob{
		ID: "server-id-ignored",
		Scenarios: []core.ScenarioRunStatus{
			{ScenarioID: "a", Status: core.RunStatusCompleted, Progress: 100},
			{ScenarioID: "b", Status: core.RunStatusRunning, Progress: 20},
		},
	}

	merged := Merge(local, server)

	assert.Equal(t, core.BatchID("batch-1"), merged.ID)
	assert.Equal(t, created, merged.CreatedAt)

	a, _ := merged.Scenario("a")
	assert.Equal(t, core.RunStatusCompleted, a.Status)
	b, _ := merged.Scenario("b")
	assert.Equal(t, core.RunStatusRunning, b.Status)

	assert.Equal(t, core.RunStatusRunning, merged.Status)
	assert.Equal(t, 50, merged.Progress)
}

func TestMerge_TerminalNeverRegresses(t *testing.T) {
	local := &core.BatchJob{
		ID: "batch-1",
		Scenarios: []core.ScenarioRunStatus{
			{ScenarioID: "a", Status: core.RunStatusCompleted, Progress: 100},
			{ScenarioID: "b", Status: core.RunStatusRunning, Progress: 30},
		},
	}
	// Server lags behind and still reports scenario a as running.
	server := &core.BatchJob{
		Scenarios: []core.ScenarioRunStatus{
			{ScenarioID: "a", Status: core.RunStatusRunning, Progress: 80},
			{ScenarioID: "b", Status: core.RunStatusRunning, Progress: 60},
		},
	}

	merged := Merge(local, server)

	a, _ := merged.Scenario("a")
	assert.Equal(t, core.RunStatusCompleted, a.Status)
	assert.Equal(t, float64(100), a.Progress)

	b, _ := merged.Scenario("b")
	assert.Equal(t, core.RunStatusRunning, b.Status)
	assert.Equal(t, float64(60), b.Progress)
}

func TestMerge_DoesNotMutateInputs(t *testing.T) {
	local := &core.BatchJob{
		ID:        "batch-1",
		Scenarios: statuses(core.RunStatusRunning),
	}
	server := &core.BatchJob{
		Scenarios: statuses(core.RunStatusCompleted),
	}

	_ = Merge(local, server)

	assert.Equal(t, core.RunStatusRunning, local.Scenarios[0].Status)
	assert.Equal(t, core.RunStatusCompleted, server.Scenarios[0].Status)
}

func TestAggregator_SeedOptimisticStatuses(t *testing.T) {
	bus := events.New(10)
	defer bus.Close()
	agg := NewAggregator(bus, logging.NewNop().Logger)

	job, err := agg.Seed(SeedSpec{
		Name:         "nightly",
		Workspace:    "ws-1",
		Scenarios:    []core.ScenarioID{"a", "b", "c"},
		Parallel:     true,
		ExportFormat: core.ExportFormatCSV,
	})
	require.NoError(t, err)
	require.NotEmpty(t, job.ID)

	first, _ := job.Scenario("a")
	assert.Equal(t, core.RunStatusRunning, first.Status)
	second, _ := job.Scenario("b")
	assert.Equal(t, core.RunStatusPending, second.Status)

	assert.Equal(t, core.RunStatusRunning, job.Status)
	assert.Equal(t, 0, job.Progress)
}

func TestAggregator_SeedRejectsEmptyBatch(t *testing.T) {
	bus := events.New(10)
	defer bus.Close()
	agg := NewAggregator(bus, logging.NewNop().Logger)

	_, err := agg.Seed(SeedSpec{Name: "empty"})
	require.Error(t, err)
	assert.True(t, core.IsCategory(err, core.ErrCatValidation))
}

func TestAggregator_MergePublishesFinishedOnce(t *testing.T) {
	bus := events.New(10)
	defer bus.Close()
	finishedCh := bus.Subscribe(events.TypeBatchFinished)

	agg := NewAggregator(bus, logging.NewNop().Logger)
	job, err := agg.Seed(SeedSpec{
		Name:      "b",
		Scenarios: []core.ScenarioID{"a", "b"},
	})
	require.NoError(t, err)

	terminal := job.Clone()
	terminal.Scenarios[0].Status = core.RunStatusCompleted
	terminal.Scenarios[1].Status = core.RunStatusFailed

	merged, err := agg.MergeServerStatus(job.ID, terminal)
	require.NoError(t, err)
	assert.Equal(t, core.RunStatusCompleted, merged.Status)
	assert.Equal(t, 50, merged.Progress)

	// A second terminal merge must not re-announce the finish.
	_, err = agg.MergeServerStatus(job.ID, terminal)
	require.NoError(t, err)

	finished := 0
	timeout := time.After(200 * time.Millisecond)
	for done := false; !done; {
		select {
		case e := <-finishedCh:
			if e.EventType() == events.TypeBatchFinished {
				finished++
			}
		case <-timeout:
			done = true
		}
	}
	assert.Equal(t, 1, finished)
}

func TestAggregator_MergeUnknownBatch(t *testing.T) {
	bus := events.New(10)
	defer bus.Close()
	agg := NewAggregator(bus, logging.NewNop().Logger)

	_, err := agg.MergeServerStatus("missing", &core.BatchJob{})
	require.Error(t, err)
	assert.True(t, core.IsCategory(err, core.ErrCatNotFound))
}

func TestAggregator_ListRetainsTerminalJobs(t *testing.T) {
	bus := events.New(10)
	defer bus.Close()
	agg := NewAggregator(bus, logging.NewNop().Logger)

	job, err := agg.Seed(SeedSpec{Name: "b", Scenarios: []core.ScenarioID{"a"}})
	require.NoError(t, err)

	terminal := job.Clone()
	terminal.Scenarios[0].Status = core.RunStatusCompleted
	_, err = agg.MergeServerStatus(job.ID, terminal)
	require.NoError(t, err)

	jobs := agg.List()
	require.Len(t, jobs, 1)
	assert.Equal(t, core.RunStatusCompleted, jobs[0].Status)
	assert.Equal(t, 100, jobs[0].Progress)
}
