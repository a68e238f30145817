package telemetry

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"simdeck/internal/core"
	"simdeck/internal/events"
	"simdeck/internal/logging"
	"simdeck/internal/runstate"
)

func TestMonitor_FreshTelemetryIsNotStale(t *testing.T) {
	m := NewMonitor(100*time.Millisecond, logging.NewNop().Logger)
	h := &core.RunHandle{RunID: "run-1", StartedAt: time.Now()}

	m.Touch(h, time.Now())
	assert.False(t, m.IsStale(h))
}

func TestMonitor_OldTelemetryIsStale(t *testing.T) {
	m := NewMonitor(50*time.Millisecond, logging.NewNop().Logger)
	h := &core.RunHandle{RunID: "run-1", StartedAt: time.Now()}

	m.Touch(h, time.Now().Add(-time.Second))
	assert.True(t, m.IsStale(h))
}

func TestMonitor_UntouchedHandleStaleAfterThreshold(t *testing.T) {
	m := NewMonitor(50*time.Millisecond, logging.NewNop().Logger)

	young := &core.RunHandle{RunID: "run-1", StartedAt: time.Now()}
	assert.False(t, m.IsStale(young))

	old := &core.RunHandle{RunID: "run-2", StartedAt: time.Now().Add(-time.Second)}
	assert.True(t, m.IsStale(old))
}

func TestMonitor_ForgetDropsTracking(t *testing.T) {
	m := NewMonitor(time.Minute, logging.NewNop().Logger)
	h := &core.RunHandle{RunID: "run-1", StartedAt: time.Now()}

	m.Touch(h, time.Now())
	_, ok := m.LastSeen(h)
	require.True(t, ok)

	m.Forget(h)
	m.Forget(h) // idempotent

	_, ok = m.LastSeen(h)
	assert.False(t, ok)
}

func TestMonitor_DetectorPublishesAdvisoryAndNeverClears(t *testing.T) {
	logger := logging.NewNop().Logger
	bus := events.New(16)
	defer bus.Close()
	staleCh := bus.Subscribe(events.TypeRunStale)

	store := runstate.New("ws-1", logger)
	handle, err := store.Start("scn-1", "run-1")
	require.NoError(t, err)

	m := NewMonitor(10*time.Millisecond, logger)
	m.Touch(handle, time.Now().Add(-time.Second))

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	m.StartDetector(ctx, store, bus, 20*time.Millisecond)
	defer m.StopDetector()

	select {
	case e := <-staleCh:
		assert.Equal(t, "run-1", e.RunID())
	case <-time.After(time.Second):
		t.Fatal("timeout waiting for stale advisory")
	}

	// Advisory only: the run stays active until an explicit reset.
	assert.True(t, store.IsCurrent(handle))
}
