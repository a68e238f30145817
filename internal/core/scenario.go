package core

import "time"

// Scenario is one configured simulation scenario as listed by the engine.
type Scenario struct {
	ID          ScenarioID  `json:"id"`
	Name        string      `json:"name"`
	Workspace   WorkspaceID `json:"workspace_id"`
	Description string      `json:"description,omitempty"`
	LastRunAt   *time.Time  `json:"last_run_at,omitempty"`
	LastStatus  RunStatus   `json:"last_status,omitempty"`
}

// ScenarioRunStatus tracks the lifecycle state of a single scenario inside a
// batch. It is mutated either by optimistic local updates at batch start or
// by authoritative merges from the poll reconciler.
type ScenarioRunStatus struct {
	ScenarioID ScenarioID `json:"scenario_id"`
	Status     RunStatus  `json:"status"`
	Progress   float64    `json:"progress"`
}
