// Package batch derives a batch job's aggregate status and progress from the
// independently-arriving statuses of its member scenario runs. Local seeds
// are optimistic; server snapshots merged in by the poll reconciler are
// authoritative, except that a scenario already known terminal locally is
// never regressed to a non-terminal state.
package batch

import (
	"log/slog"
	"math"
	"sync"
	"time"

	"github.com/google/uuid"

	"simdeck/internal/core"
	"simdeck/internal/events"
)

// DeriveStatus computes the aggregate status of a batch from its scenarios.
//
//	any running or pending        -> running
//	all terminal, any completed   -> completed
//	all terminal, none completed  -> failed
//
// The last rule is an explicit product decision: a batch whose every
// scenario ended without a single success is reported failed.
func DeriveStatus(scenarios []core.ScenarioRunStatus) core.RunStatus {
	if len(scenarios) == 0 {
		return core.RunStatusNotRun
	}

	anyCompleted := false
	for _, s := range scenarios {
		switch s.Status {
		case core.RunStatusRunning, core.RunStatusPending:
			return core.RunStatusRunning
		case core.RunStatusCompleted:
			anyCompleted = true
		case core.RunStatusNotRun:
			// A seeded-but-unassigned scenario still counts as pending work.
			return core.RunStatusRunning
		}
	}
	if anyCompleted {
		return core.RunStatusCompleted
	}
	return core.RunStatusFailed
}

// Progress computes batch progress as completed scenarios over total,
// rounded to the nearest whole percent.
func Progress(scenarios []core.ScenarioRunStatus) int {
	if len(scenarios) == 0 {
		return 0
	}
	completed := 0
	for _, s := range scenarios {
		if s.Status == core.RunStatusCompleted {
			completed++
		}
	}
	return int(math.Round(100 * float64(completed) / float64(len(scenarios))))
}

// Merge applies an authoritative server snapshot onto the local job: every
// field from the server replaces the local one, except scenarios already
// terminal locally keep their terminal status when the server still reports
// them non-terminal. That guards against a poll response racing ahead of a
// terminal update it has not yet seen; not expected in steady state.
// The inputs are not mutated.
func Merge(local, server *core.BatchJob) *core.BatchJob {
	merged := server.Clone()
	merged.ID = local.ID
	merged.CreatedAt = local.CreatedAt

	for i, s := range merged.Scenarios {
		prev, ok := local.Scenario(s.ScenarioID)
		if !ok {
			continue
		}
		if prev.Status.Terminal() && !s.Status.Terminal() {
			merged.Scenarios[i].Status = prev.Status
			merged.Scenarios[i].Progress = prev.Progress
		}
	}

	merged.Status = DeriveStatus(merged.Scenarios)
	merged.Progress = Progress(merged.Scenarios)
	merged.UpdatedAt = time.Now()
	return merged
}

// SeedSpec describes a batch to create.
type SeedSpec struct {
	Name         string
	Workspace    core.WorkspaceID
	Scenarios    []core.ScenarioID
	Parallel     bool
	ExportFormat core.ExportFormat
}

// Aggregator holds the read model for all tracked batch jobs.
type Aggregator struct {
	bus    *events.EventBus
	logger *slog.Logger

	mu   sync.RWMutex
	jobs map[core.BatchID]*core.BatchJob
}

// NewAggregator creates a batch aggregator.
func NewAggregator(bus *events.EventBus, logger *slog.Logger) *Aggregator {
	if logger == nil {
		logger = slog.Default()
	}
	return &Aggregator{
		bus:    bus,
		logger: logger,
		jobs:   make(map[core.BatchID]*core.BatchJob),
	}
}

// Seed creates a batch with optimistic initial statuses: every scenario is
// pending, with the first transitioned to running when the execution mode is
// parallel-eligible (the engine starts the first scenario immediately);
// otherwise all stay pending until the server assigns.
func (a *Aggregator) Seed(spec SeedSpec) (*core.BatchJob, error) {
	if len(spec.Scenarios) == 0 {
		return nil, core.ErrValidation(core.CodeInvalidBatch, "batch needs at least one scenario")
	}

	scenarios := make([]core.ScenarioRunStatus, len(spec.Scenarios))
	for i, id := range spec.Scenarios {
		scenarios[i] = core.ScenarioRunStatus{
			ScenarioID: id,
			Status:     core.RunStatusPending,
		}
	}
	if spec.Parallel {
		scenarios[0].Status = core.RunStatusRunning
	}

	job := &core.BatchJob{
		ID:           core.BatchID(uuid.NewString()),
		Name:         spec.Name,
		Workspace:    spec.Workspace,
		Scenarios:    scenarios,
		Parallel:     spec.Parallel,
		ExportFormat: spec.ExportFormat,
		CreatedAt:    time.Now(),
		UpdatedAt:    time.Now(),
	}
	job.Status = DeriveStatus(job.Scenarios)
	job.Progress = Progress(job.Scenarios)

	a.mu.Lock()
	a.jobs[job.ID] = job
	a.mu.Unlock()

	a.logger.Info("batch seeded",
		"batch_id", job.ID,
		"scenarios", len(job.Scenarios),
		"parallel", job.Parallel)
	a.bus.Publish(events.NewBatchUpdatedEvent(job))

	return job.Clone(), nil
}

// Adopt registers an externally created job (e.g. the engine's start
// response) without reseeding, keeping its id.
func (a *Aggregator) Adopt(job *core.BatchJob) {
	cp := job.Clone()
	cp.Status = DeriveStatus(cp.Scenarios)
	cp.Progress = Progress(cp.Scenarios)

	a.mu.Lock()
	a.jobs[cp.ID] = cp
	a.mu.Unlock()
}

// MergeServerStatus merges an authoritative server snapshot into the tracked
// job and returns the recomputed job. The returned job's Status going
// terminal is the reconciler's cue to stop polling.
func (a *Aggregator) MergeServerStatus(id core.BatchID, server *core.BatchJob) (*core.BatchJob, error) {
	a.mu.Lock()
	local, ok := a.jobs[id]
	if !ok {
		a.mu.Unlock()
		return nil, core.ErrNotFound("batch", string(id))
	}

	wasTerminal := local.Status.Terminal()
	merged := Merge(local, server)
	a.jobs[id] = merged
	a.mu.Unlock()

	a.bus.Publish(events.NewBatchUpdatedEvent(merged))
	if merged.Status.Terminal() && !wasTerminal {
		a.logger.Info("batch finished",
			"batch_id", id,
			"status", merged.Status,
			"progress", merged.Progress)
		a.bus.PublishPriority(events.NewBatchFinishedEvent(merged))
	}

	return merged.Clone(), nil
}

// Get returns a copy of the tracked job.
func (a *Aggregator) Get(id core.BatchID) (*core.BatchJob, bool) {
	a.mu.RLock()
	defer a.mu.RUnlock()
	job, ok := a.jobs[id]
	if !ok {
		return nil, false
	}
	return job.Clone(), true
}

// List returns copies of all tracked jobs, terminal ones included; finished
// batches are retained as history.
func (a *Aggregator) List() []*core.BatchJob {
	a.mu.RLock()
	defer a.mu.RUnlock()
	out := make([]*core.BatchJob, 0, len(a.jobs))
	for _, job := range a.jobs {
		out = append(out, job.Clone())
	}
	return out
}
