package telemetry

import (
	"context"
	"io"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"simdeck/internal/core"
	"simdeck/internal/events"
	"simdeck/internal/logging"
	"simdeck/internal/runstate"
)

// fakeStream feeds scripted snapshots through a channel.
type fakeStream struct {
	ch     chan core.TelemetrySnapshot
	closed atomic.Bool
}

func newFakeStream() *fakeStream {
	return &fakeStream{ch: make(chan core.TelemetrySnapshot, 16)}
}

func (f *fakeStream) Recv(ctx context.Context) (core.TelemetrySnapshot, error) {
	select {
	case <-ctx.Done():
		return core.TelemetrySnapshot{}, ctx.Err()
	case snap, ok := <-f.ch:
		if !ok {
			return core.TelemetrySnapshot{}, io.EOF
		}
		return snap, nil
	}
}

func (f *fakeStream) Close() error {
	f.closed.Store(true)
	return nil
}

func (f *fakeStream) send(progress float64, stage core.Stage) {
	f.ch <- core.TelemetrySnapshot{RunID: "run-1", Stage: stage, Progress: progress}
}

type fixture struct {
	store   *runstate.Store
	monitor *Monitor
	bus     *events.EventBus
	source  *Source
	handle  *core.RunHandle
	stream  *fakeStream
}

func newFixture(t *testing.T, grace time.Duration) *fixture {
	t.Helper()
	logger := logging.NewNop().Logger
	bus := events.New(64)
	t.Cleanup(bus.Close)

	store := runstate.New("ws-1", logger)
	monitor := NewMonitor(time.Minute, logger)
	source := NewSource(store, monitor, bus, grace, logger)

	handle, err := store.Start("scn-1", "run-1")
	require.NoError(t, err)

	return &fixture{
		store:   store,
		monitor: monitor,
		bus:     bus,
		source:  source,
		handle:  handle,
		stream:  newFakeStream(),
	}
}

func drainProgress(ch <-chan events.Event, wait time.Duration) []float64 {
	var out []float64
	deadline := time.After(wait)
	for {
		select {
		case e := <-ch:
			if pe, ok := e.(events.RunProgressEvent); ok {
				out = append(out, pe.Progress)
			}
		case <-deadline:
			return out
		}
	}
}

func TestSource_MonotonicFilterDropsOutOfOrder(t *testing.T) {
	f := newFixture(t, time.Hour)
	progressCh := f.bus.Subscribe(events.TypeRunProgress)

	sub := f.source.Subscribe(context.Background(), f.handle, f.stream)
	defer sub.Cancel()

	f.stream.send(10, core.StageFoundation)
	f.stream.send(50, core.StageEventGeneration)
	f.stream.send(30, core.StageEventGeneration) // late duplicate
	f.stream.send(60, core.StageStateAccumulation)

	got := drainProgress(progressCh, 300*time.Millisecond)
	assert.Equal(t, []float64{10, 50, 60}, got)

	require.NotNil(t, f.store.LastSnapshot())
	assert.Equal(t, float64(60), f.store.LastSnapshot().Progress)
}

func TestSource_EqualProgressIsAccepted(t *testing.T) {
	f := newFixture(t, time.Hour)
	progressCh := f.bus.Subscribe(events.TypeRunProgress)

	sub := f.source.Subscribe(context.Background(), f.handle, f.stream)
	defer sub.Cancel()

	f.stream.send(40, core.StageEventGeneration)
	f.stream.send(40, core.StageEventGeneration)

	got := drainProgress(progressCh, 300*time.Millisecond)
	assert.Equal(t, []float64{40, 40}, got)
}

func TestSource_CompletionClearsStoreAndNavigatesOnce(t *testing.T) {
	f := newFixture(t, 200*time.Millisecond)
	completedCh := f.bus.Subscribe(events.TypeRunCompleted)
	navCh := f.bus.Subscribe(events.TypeNavigation)

	f.source.Subscribe(context.Background(), f.handle, f.stream)

	f.stream.send(90, core.StageReporting)
	f.stream.send(100, core.StageCompleted)

	select {
	case <-completedCh:
	case <-time.After(time.Second):
		t.Fatal("timeout waiting for run_completed")
	}

	// The final snapshot stays visible during the grace period.
	require.NotNil(t, f.store.LastSnapshot())
	assert.Equal(t, float64(100), f.store.LastSnapshot().Progress)
	assert.True(t, f.store.IsCurrent(f.handle))

	select {
	case e := <-navCh:
		nav := e.(events.NavigationEvent)
		assert.Equal(t, "results", nav.Target)
	case <-time.After(time.Second):
		t.Fatal("timeout waiting for navigation")
	}

	// After the grace period the store is cleared exactly once.
	assert.Nil(t, f.store.Current())

	select {
	case <-navCh:
		t.Fatal("navigation emitted more than once")
	case <-time.After(100 * time.Millisecond):
	}
}

func TestSource_StageCompletedWithoutFullProgressIsTerminal(t *testing.T) {
	f := newFixture(t, 20*time.Millisecond)
	completedCh := f.bus.Subscribe(events.TypeRunCompleted)

	f.source.Subscribe(context.Background(), f.handle, f.stream)
	f.stream.send(97, core.StageCompleted)

	select {
	case <-completedCh:
	case <-time.After(time.Second):
		t.Fatal("COMPLETED stage must terminate the run regardless of progress")
	}
}

func TestSource_UserClearDuringGraceSuppressesNavigation(t *testing.T) {
	f := newFixture(t, 150*time.Millisecond)
	completedCh := f.bus.Subscribe(events.TypeRunCompleted)
	navCh := f.bus.Subscribe(events.TypeNavigation)

	f.source.Subscribe(context.Background(), f.handle, f.stream)
	f.stream.send(100, core.StageCompleted)

	select {
	case <-completedCh:
	case <-time.After(time.Second):
		t.Fatal("timeout waiting for run_completed")
	}

	// The user clears the run before the grace period elapses.
	f.store.Clear()

	select {
	case <-navCh:
		t.Fatal("navigation must not fire after a user clear")
	case <-time.After(400 * time.Millisecond):
	}
}

func TestSource_CancelledSubscriptionDiscardsInFlightSnapshots(t *testing.T) {
	f := newFixture(t, time.Hour)
	progressCh := f.bus.Subscribe(events.TypeRunProgress)

	sub := f.source.Subscribe(context.Background(), f.handle, f.stream)
	sub.Cancel()

	select {
	case <-sub.Done():
	case <-time.After(time.Second):
		t.Fatal("subscription did not stop")
	}

	f.stream.send(75, core.StageEventGeneration)

	got := drainProgress(progressCh, 200*time.Millisecond)
	assert.Empty(t, got)
	assert.Nil(t, f.store.LastSnapshot())
}

func TestSource_StreamEndWithoutTerminalLeavesRunActive(t *testing.T) {
	f := newFixture(t, time.Hour)

	sub := f.source.Subscribe(context.Background(), f.handle, f.stream)
	f.stream.send(42, core.StageEventGeneration)
	close(f.stream.ch)

	select {
	case <-sub.Done():
	case <-time.After(time.Second):
		t.Fatal("subscription did not stop on EOF")
	}

	// A dropped stream is a transient failure, never a terminal state.
	assert.True(t, f.store.IsCurrent(f.handle))
	assert.True(t, f.stream.closed.Load())
}

func TestSource_SubscribeReplacesActiveSubscription(t *testing.T) {
	f := newFixture(t, time.Hour)

	first := f.source.Subscribe(context.Background(), f.handle, f.stream)
	second := f.source.Subscribe(context.Background(), f.handle, newFakeStream())

	select {
	case <-first.Done():
	case <-time.After(time.Second):
		t.Fatal("first subscription not cancelled by the second")
	}
	assert.Same(t, second, f.source.Active())
}

func TestSource_TouchesMonitorOnAcceptedSnapshot(t *testing.T) {
	f := newFixture(t, time.Hour)

	sub := f.source.Subscribe(context.Background(), f.handle, f.stream)
	defer sub.Cancel()

	_, ok := f.monitor.LastSeen(f.handle)
	assert.False(t, ok)

	f.stream.send(5, core.StageInit)

	require.Eventually(t, func() bool {
		_, ok := f.monitor.LastSeen(f.handle)
		return ok
	}, time.Second, 10*time.Millisecond)
}
