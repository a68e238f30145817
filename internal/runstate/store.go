// Package runstate owns the single source of truth for "is a run active,
// which one, and what is its last known status". At most one non-terminal
// run handle exists per workspace at any instant; every other component only
// reads the store or proposes transitions through its contract.
package runstate

import (
	"log/slog"
	"sync"
	"time"

	"simdeck/internal/core"
)

// Subscriber is notified synchronously on every state change, so there is no
// window in which a reader can observe an intermediate state the subscriber
// has not been told about. Callbacks must be fast and must not call back into
// the store.
type Subscriber func(current *core.RunHandle)

// Store tracks the active run for one workspace.
type Store struct {
	workspace core.WorkspaceID
	logger    *slog.Logger

	mu      sync.Mutex
	current *core.RunHandle
	last    *core.TelemetrySnapshot
	subs    []Subscriber
}

// New creates a store scoped to a single workspace.
func New(workspace core.WorkspaceID, logger *slog.Logger) *Store {
	if logger == nil {
		logger = slog.Default()
	}
	return &Store{
		workspace: workspace,
		logger:    logger,
	}
}

// Workspace returns the workspace this store is scoped to.
func (s *Store) Workspace() core.WorkspaceID {
	return s.workspace
}

// Subscribe registers a synchronous state-change callback.
func (s *Store) Subscribe(sub Subscriber) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.subs = append(s.subs, sub)
}

// Start adopts a new run. The run id comes from the engine's start response.
// It fails with a conflict error if another run is already active; the
// existing handle stays authoritative and Current continues to report it.
func (s *Store) Start(scenarioID core.ScenarioID, runID core.RunID) (*core.RunHandle, error) {
	s.mu.Lock()
	if s.current != nil {
		active := s.current.RunID
		s.mu.Unlock()
		return nil, core.ErrAlreadyRunning(s.workspace, active)
	}

	handle := &core.RunHandle{
		RunID:      runID,
		ScenarioID: scenarioID,
		Workspace:  s.workspace,
		StartedAt:  time.Now(),
	}
	s.current = handle
	s.last = nil
	subs := append([]Subscriber(nil), s.subs...)
	s.mu.Unlock()

	s.logger.Info("run adopted",
		"run_id", runID,
		"scenario_id", scenarioID,
		"workspace", s.workspace)

	for _, sub := range subs {
		sub(handle)
	}
	return handle, nil
}

// Current returns the active handle, or nil if no run is active.
func (s *Store) Current() *core.RunHandle {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.current
}

// IsCurrent reports whether the given handle is the active one. The check is
// by identity, not run id, so a stale callback created for an earlier run
// with the same id is still recognized as stale.
func (s *Store) IsCurrent(h *core.RunHandle) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.current != nil && s.current == h
}

// Apply records an accepted telemetry snapshot for the given handle. The
// snapshot is discarded when the handle is no longer current: a cleared or
// restarted run must never have state mutated by an in-flight update.
// Returns true if the snapshot was applied.
func (s *Store) Apply(h *core.RunHandle, snap core.TelemetrySnapshot) bool {
	s.mu.Lock()
	if s.current == nil || s.current != h {
		s.mu.Unlock()
		s.logger.Debug("discarding snapshot for stale handle", "run_id", snap.RunID)
		return false
	}
	s.last = &snap
	subs := append([]Subscriber(nil), s.subs...)
	current := s.current
	s.mu.Unlock()

	for _, sub := range subs {
		sub(current)
	}
	return true
}

// LastSnapshot returns the most recent accepted snapshot for the active run,
// or nil. The final snapshot remains visible during the completion grace
// period so the UI can show 100% before the transition.
func (s *Store) LastSnapshot() *core.TelemetrySnapshot {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.last == nil {
		return nil
	}
	snap := *s.last
	return &snap
}

// Clear releases the active handle. Idempotent; clearing an already-empty
// store is a no-op and notifies nobody.
func (s *Store) Clear() {
	s.mu.Lock()
	if s.current == nil {
		s.mu.Unlock()
		return
	}
	cleared := s.current
	s.current = nil
	s.last = nil
	subs := append([]Subscriber(nil), s.subs...)
	s.mu.Unlock()

	s.logger.Info("run cleared", "run_id", cleared.RunID, "scenario_id", cleared.ScenarioID)

	for _, sub := range subs {
		sub(nil)
	}
}

// ClearIf clears the store only if the given handle is still current.
// Returns true if the store was cleared. Used by completion detection so a
// grace-period timer created for an earlier run cannot clear its successor.
func (s *Store) ClearIf(h *core.RunHandle) bool {
	s.mu.Lock()
	if s.current == nil || s.current != h {
		s.mu.Unlock()
		return false
	}
	s.current = nil
	s.last = nil
	subs := append([]Subscriber(nil), s.subs...)
	s.mu.Unlock()

	s.logger.Info("run cleared", "run_id", h.RunID, "scenario_id", h.ScenarioID)

	for _, sub := range subs {
		sub(nil)
	}
	return true
}
