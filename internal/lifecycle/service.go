// Package lifecycle orchestrates run start, cancel, and force-reset across
// the run-state store, the telemetry source, and the engine client. HTTP
// handlers and CLI commands both go through the service so the ordering
// guarantees live in exactly one place.
package lifecycle

import (
	"context"
	"log/slog"
	"time"

	"simdeck/internal/core"
	"simdeck/internal/events"
	"simdeck/internal/runstate"
	"simdeck/internal/telemetry"
)

// Engine is the slice of the engine client the service needs.
type Engine interface {
	StartRun(ctx context.Context, scenarioID core.ScenarioID) (core.RunID, error)
	CancelRun(ctx context.Context, scenarioID core.ScenarioID) error
	ResetRun(ctx context.Context, scenarioID core.ScenarioID) error
	StreamTelemetry(ctx context.Context, runID core.RunID) (telemetry.Stream, error)
}

// Service coordinates the run lifecycle for one workspace.
type Service struct {
	store   *runstate.Store
	source  *telemetry.Source
	monitor *telemetry.Monitor
	engine  Engine
	bus     *events.EventBus
	logger  *slog.Logger
}

// NewService creates a lifecycle service.
func NewService(store *runstate.Store, source *telemetry.Source, monitor *telemetry.Monitor, eng Engine, bus *events.EventBus, logger *slog.Logger) *Service {
	if logger == nil {
		logger = slog.Default()
	}
	return &Service{
		store:   store,
		source:  source,
		monitor: monitor,
		engine:  eng,
		bus:     bus,
		logger:  logger,
	}
}

// ActiveRun is a read model of the current run for UI consumption.
type ActiveRun struct {
	RunID      core.RunID              `json:"run_id"`
	ScenarioID core.ScenarioID         `json:"scenario_id"`
	Workspace  core.WorkspaceID        `json:"workspace_id"`
	StartedAt  time.Time               `json:"started_at"`
	Stale      bool                    `json:"stale"`
	Snapshot   *core.TelemetrySnapshot `json:"snapshot,omitempty"`
}

// Active returns the current run view, or nil when no run is active.
func (s *Service) Active() *ActiveRun {
	h := s.store.Current()
	if h == nil {
		return nil
	}
	return &ActiveRun{
		RunID:      h.RunID,
		ScenarioID: h.ScenarioID,
		Workspace:  h.Workspace,
		StartedAt:  h.StartedAt,
		Stale:      s.monitor.IsStale(h),
		Snapshot:   s.store.LastSnapshot(),
	}
}

// StartRun starts a run for the scenario. The conflict check happens twice:
// a fast local check before the engine call, and the store's own check when
// adopting the engine-assigned run id. The first active run always wins.
func (s *Service) StartRun(ctx context.Context, scenarioID core.ScenarioID) (*core.RunHandle, error) {
	if current := s.store.Current(); current != nil {
		return nil, core.ErrAlreadyRunning(s.store.Workspace(), current.RunID)
	}

	runID, err := s.engine.StartRun(ctx, scenarioID)
	if err != nil {
		return nil, err
	}

	handle, err := s.store.Start(scenarioID, runID)
	if err != nil {
		// Lost a race after the engine already accepted. Back out the engine
		// run so the winner's telemetry is not contended.
		s.logger.Warn("run adoption conflict, cancelling engine run",
			"run_id", runID, "scenario_id", scenarioID)
		if cancelErr := s.engine.CancelRun(context.WithoutCancel(ctx), scenarioID); cancelErr != nil {
			s.logger.Warn("backing out conflicting run", "error", cancelErr)
		}
		return nil, err
	}

	// The stream must outlive the start request.
	stream, err := s.engine.StreamTelemetry(context.WithoutCancel(ctx), runID)
	if err != nil {
		// The run is live on the engine even without telemetry. Keep it
		// adopted; the staleness detector will flag it and reset stays
		// available as the manual way out.
		s.logger.Warn("opening telemetry stream failed, run continues unobserved",
			"run_id", runID, "error", err)
	} else {
		s.source.Subscribe(context.WithoutCancel(ctx), handle, stream)
	}

	s.bus.Publish(events.NewRunStartedEvent(handle))
	return handle, nil
}

// CancelRun stops the active run. The local clear is authoritative and
// happens even when the engine call fails; in-flight snapshots are discarded
// by subscription cancellation plus the store's identity check. Calling with
// no active run is a no-op.
func (s *Service) CancelRun(ctx context.Context) error {
	h := s.store.Current()
	if h == nil {
		return nil
	}

	s.source.CancelActive()

	if err := s.engine.CancelRun(ctx, h.ScenarioID); err != nil {
		s.logger.Warn("engine cancel failed, clearing locally anyway",
			"run_id", h.RunID, "error", err)
	}

	s.monitor.Forget(h)
	s.store.Clear()
	s.bus.PublishPriority(events.NewRunCancelledEvent(h))
	return nil
}

// ResetRun force-resets a wedged run: subscription cancelled, engine told to
// reset, local state cleared unconditionally. Safe to call when nothing is
// active.
func (s *Service) ResetRun(ctx context.Context, scenarioID core.ScenarioID) error {
	h := s.store.Current()
	if h != nil && scenarioID == "" {
		scenarioID = h.ScenarioID
	}

	s.source.CancelActive()

	if scenarioID != "" {
		if err := s.engine.ResetRun(ctx, scenarioID); err != nil {
			s.logger.Warn("engine reset failed, clearing locally anyway",
				"scenario_id", scenarioID, "error", err)
		}
	}

	if h != nil {
		s.monitor.Forget(h)
		s.store.Clear()
		s.bus.PublishPriority(events.NewRunResetEvent(h))
	}
	return nil
}
