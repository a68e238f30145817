// Package core contains the domain model for the simdeck run-lifecycle
// subsystem: runs, telemetry snapshots, scenarios, batch jobs, and the
// structured error taxonomy shared by every other package.
package core

import "time"

// RunID uniquely identifies one execution of a simulation.
type RunID string

// ScenarioID identifies a configured scenario.
type ScenarioID string

// WorkspaceID identifies the workspace a run belongs to.
type WorkspaceID string

// RunHandle identifies one in-flight run. It is immutable once created and
// owned exclusively by the run-state store; consumers must treat it as
// read-only. Stale-update detection compares handle identity (the pointer),
// not just the run id, so a restart that reuses a run id is still
// distinguishable from the original run.
type RunHandle struct {
	RunID      RunID
	ScenarioID ScenarioID
	Workspace  WorkspaceID
	StartedAt  time.Time
}

// Stage represents the simulation engine's execution phase.
type Stage string

const (
	StageInit              Stage = "INIT"
	StageFoundation        Stage = "FOUNDATION"
	StageEventGeneration   Stage = "EVENT_GENERATION"
	StageStateAccumulation Stage = "STATE_ACCUMULATION"
	StageValidation        Stage = "VALIDATION"
	StageReporting         Stage = "REPORTING"
	StageCompleted         Stage = "COMPLETED"
)

// MemoryPressure classifies engine memory usage reported with telemetry.
type MemoryPressure string

const (
	MemoryPressureLow      MemoryPressure = "low"
	MemoryPressureModerate MemoryPressure = "moderate"
	MemoryPressureHigh     MemoryPressure = "high"
	MemoryPressureCritical MemoryPressure = "critical"
)

// TelemetrySnapshot is one progress/metrics update pushed during a run.
// Snapshots are consumed, never mutated. For a fixed run id the progress of
// accepted snapshots is monotonically non-decreasing; snapshots that would
// decrease progress are discarded as out-of-order or duplicate.
type TelemetrySnapshot struct {
	RunID           RunID          `json:"run_id"`
	Stage           Stage          `json:"stage"`
	CurrentYear     int            `json:"current_year"`
	TotalYears      int            `json:"total_years"`
	Progress        float64        `json:"progress"` // 0..100
	ElapsedSeconds  float64        `json:"elapsed_seconds"`
	EventsGenerated int64          `json:"events_generated"`
	EventsPerSecond float64        `json:"events_per_second"`
	MemoryMB        float64        `json:"memory_mb"`
	MemoryPressure  MemoryPressure `json:"memory_pressure"`
	ArrivalTime     time.Time      `json:"arrival_time"`
}

// Terminal reports whether this snapshot marks the end of the run.
func (s TelemetrySnapshot) Terminal() bool {
	return s.Stage == StageCompleted || s.Progress >= 100
}

// RunStatus represents the lifecycle state of a scenario run.
type RunStatus string

const (
	RunStatusNotRun    RunStatus = "not_run"
	RunStatusPending   RunStatus = "pending"
	RunStatusRunning   RunStatus = "running"
	RunStatusCompleted RunStatus = "completed"
	RunStatusFailed    RunStatus = "failed"
)

// Terminal reports whether no further transitions can occur.
func (s RunStatus) Terminal() bool {
	return s == RunStatusCompleted || s == RunStatusFailed
}
