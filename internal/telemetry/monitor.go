package telemetry

import (
	"context"
	"log/slog"
	"sync"
	"time"

	"simdeck/internal/core"
	"simdeck/internal/events"
	"simdeck/internal/runstate"
)

// Monitor watches the most recent telemetry arrival time per run handle and
// flags staleness after a fixed threshold. Staleness is advisory: the monitor
// never clears a run itself, because an apparently stale run may simply be
// between telemetry ticks under heavy load. Reset is an explicit user action.
type Monitor struct {
	threshold time.Duration
	logger    *slog.Logger

	mu   sync.Mutex
	last map[*core.RunHandle]time.Time

	detectorCancel context.CancelFunc
}

// NewMonitor creates a heartbeat monitor with the given staleness threshold.
func NewMonitor(threshold time.Duration, logger *slog.Logger) *Monitor {
	if logger == nil {
		logger = slog.Default()
	}
	return &Monitor{
		threshold: threshold,
		logger:    logger,
		last:      make(map[*core.RunHandle]time.Time),
	}
}

// Threshold returns the configured staleness threshold.
func (m *Monitor) Threshold() time.Duration {
	return m.threshold
}

// Touch records a telemetry arrival for the given handle. Called on every
// accepted snapshot.
func (m *Monitor) Touch(h *core.RunHandle, t time.Time) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.last[h] = t
}

// LastSeen returns the last telemetry arrival time for the handle.
func (m *Monitor) LastSeen(h *core.RunHandle) (time.Time, bool) {
	m.mu.Lock()
	defer m.mu.Unlock()
	t, ok := m.last[h]
	return t, ok
}

// IsStale reports whether the handle's last telemetry is older than the
// threshold. A handle that was never touched is considered stale once it has
// been running longer than the threshold.
func (m *Monitor) IsStale(h *core.RunHandle) bool {
	m.mu.Lock()
	last, ok := m.last[h]
	m.mu.Unlock()
	if !ok {
		return time.Since(h.StartedAt) > m.threshold
	}
	return time.Since(last) > m.threshold
}

// Forget drops tracking for a handle. Idempotent.
func (m *Monitor) Forget(h *core.RunHandle) {
	m.mu.Lock()
	defer m.mu.Unlock()
	delete(m.last, h)
}

// StartDetector begins periodic staleness checks against the store's current
// run, publishing an advisory run_stale event when the threshold is crossed.
// Returns immediately; stops when ctx is cancelled or StopDetector is called.
func (m *Monitor) StartDetector(ctx context.Context, store *runstate.Store, bus *events.EventBus, checkInterval time.Duration) {
	ctx, cancel := context.WithCancel(ctx)
	m.detectorCancel = cancel

	go m.detectorLoop(ctx, store, bus, checkInterval)

	m.logger.Info("staleness detector started",
		"check_interval", checkInterval,
		"threshold", m.threshold)
}

// StopDetector stops the staleness detector.
func (m *Monitor) StopDetector() {
	if m.detectorCancel != nil {
		m.detectorCancel()
		m.detectorCancel = nil
		m.logger.Info("staleness detector stopped")
	}
}

func (m *Monitor) detectorLoop(ctx context.Context, store *runstate.Store, bus *events.EventBus, interval time.Duration) {
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			m.check(store, bus)
		}
	}
}

func (m *Monitor) check(store *runstate.Store, bus *events.EventBus) {
	h := store.Current()
	if h == nil {
		return
	}
	if !m.IsStale(h) {
		return
	}

	last, _ := m.LastSeen(h)
	m.logger.Warn("run telemetry is stale",
		"run_id", h.RunID,
		"last_telemetry", last,
		"threshold", m.threshold)
	bus.Publish(events.NewRunStaleEvent(h.RunID, last, m.threshold))
}
