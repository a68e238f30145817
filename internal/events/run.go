package events

import (
	"time"

	"simdeck/internal/core"
)

// Event type constants for run events.
const (
	TypeRunStarted   = "run_started"
	TypeRunProgress  = "run_progress"
	TypeRunCompleted = "run_completed"
	TypeRunFailed    = "run_failed"
	TypeRunCancelled = "run_cancelled"
	TypeRunStale     = "run_stale"
	TypeRunReset     = "run_reset"
	TypeNavigation   = "navigation"
)

// RunStartedEvent is emitted when a run is adopted by the run-state store.
type RunStartedEvent struct {
	BaseEvent
	ScenarioID string `json:"scenario_id"`
	Workspace  string `json:"workspace_id"`
}

// NewRunStartedEvent creates a new run started event.
func NewRunStartedEvent(h *core.RunHandle) RunStartedEvent {
	return RunStartedEvent{
		BaseEvent:  NewBaseEvent(TypeRunStarted, string(h.RunID)),
		ScenarioID: string(h.ScenarioID),
		Workspace:  string(h.Workspace),
	}
}

// RunProgressEvent is emitted for every accepted (monotonic) telemetry
// snapshot. Snapshots rejected by the monotonic filter never produce one.
type RunProgressEvent struct {
	BaseEvent
	Stage           string  `json:"stage"`
	Progress        float64 `json:"progress"`
	CurrentYear     int     `json:"current_year"`
	TotalYears      int     `json:"total_years"`
	EventsPerSecond float64 `json:"events_per_second"`
	MemoryMB        float64 `json:"memory_mb"`
	MemoryPressure  string  `json:"memory_pressure"`
}

// NewRunProgressEvent creates a new run progress event.
func NewRunProgressEvent(snap core.TelemetrySnapshot) RunProgressEvent {
	return RunProgressEvent{
		BaseEvent:       NewBaseEvent(TypeRunProgress, string(snap.RunID)),
		Stage:           string(snap.Stage),
		Progress:        snap.Progress,
		CurrentYear:     snap.CurrentYear,
		TotalYears:      snap.TotalYears,
		EventsPerSecond: snap.EventsPerSecond,
		MemoryMB:        snap.MemoryMB,
		MemoryPressure:  string(snap.MemoryPressure),
	}
}

// RunCompletedEvent is emitted exactly once when a run reaches a terminal
// completed state. This is a PRIORITY event - never dropped.
type RunCompletedEvent struct {
	BaseEvent
	ScenarioID string        `json:"scenario_id"`
	Duration   time.Duration `json:"duration"`
}

// NewRunCompletedEvent creates a new run completed event.
func NewRunCompletedEvent(h *core.RunHandle, duration time.Duration) RunCompletedEvent {
	return RunCompletedEvent{
		BaseEvent:  NewBaseEvent(TypeRunCompleted, string(h.RunID)),
		ScenarioID: string(h.ScenarioID),
		Duration:   duration,
	}
}

// RunFailedEvent is emitted when a run fails.
// This is a PRIORITY event - never dropped.
type RunFailedEvent struct {
	BaseEvent
	Stage string `json:"stage"`
	Error string `json:"error"`
}

// NewRunFailedEvent creates a new run failed event.
func NewRunFailedEvent(runID core.RunID, stage core.Stage, err error) RunFailedEvent {
	errStr := ""
	if err != nil {
		errStr = err.Error()
	}
	return RunFailedEvent{
		BaseEvent: NewBaseEvent(TypeRunFailed, string(runID)),
		Stage:     string(stage),
		Error:     errStr,
	}
}

// RunCancelledEvent is emitted after a user-initiated stop.
type RunCancelledEvent struct {
	BaseEvent
	ScenarioID string `json:"scenario_id"`
}

// NewRunCancelledEvent creates a new run cancelled event.
func NewRunCancelledEvent(h *core.RunHandle) RunCancelledEvent {
	return RunCancelledEvent{
		BaseEvent:  NewBaseEvent(TypeRunCancelled, string(h.RunID)),
		ScenarioID: string(h.ScenarioID),
	}
}

// RunStaleEvent is advisory: the run is nominally running but no telemetry
// arrived within the staleness threshold. The monitor never auto-clears; the
// UI surfaces a manual force-reset action instead.
type RunStaleEvent struct {
	BaseEvent
	LastTelemetry time.Time     `json:"last_telemetry"`
	Threshold     time.Duration `json:"threshold"`
}

// NewRunStaleEvent creates a new run stale event.
func NewRunStaleEvent(runID core.RunID, lastTelemetry time.Time, threshold time.Duration) RunStaleEvent {
	return RunStaleEvent{
		BaseEvent:     NewBaseEvent(TypeRunStale, string(runID)),
		LastTelemetry: lastTelemetry,
		Threshold:     threshold,
	}
}

// RunResetEvent is emitted after a user-initiated force reset.
type RunResetEvent struct {
	BaseEvent
	ScenarioID string `json:"scenario_id"`
}

// NewRunResetEvent creates a new run reset event.
func NewRunResetEvent(h *core.RunHandle) RunResetEvent {
	return RunResetEvent{
		BaseEvent:  NewBaseEvent(TypeRunReset, string(h.RunID)),
		ScenarioID: string(h.ScenarioID),
	}
}

// NavigationEvent is the one-shot forward navigation scheduled after a run
// completes and its grace period elapses. Exactly one is emitted per run.
// This is a PRIORITY event - never dropped.
type NavigationEvent struct {
	BaseEvent
	Target string `json:"target"`
}

// NewNavigationEvent creates a new navigation event.
func NewNavigationEvent(runID core.RunID, target string) NavigationEvent {
	return NavigationEvent{
		BaseEvent: NewBaseEvent(TypeNavigation, string(runID)),
		Target:    target,
	}
}
