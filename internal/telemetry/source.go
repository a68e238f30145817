// Package telemetry consumes the engine's push telemetry stream for the
// active run: it filters snapshots to be progress-monotonic, feeds the
// heartbeat monitor, detects completion exactly once, and schedules the
// one-shot forward navigation after the completion grace period.
package telemetry

import (
	"context"
	"errors"
	"io"
	"log/slog"
	"sync"
	"sync/atomic"
	"time"

	"simdeck/internal/core"
	"simdeck/internal/events"
	"simdeck/internal/runstate"
)

// Stream is a lazy, unbounded, non-restartable sequence of telemetry
// snapshots for one run id. Recv blocks until a snapshot arrives, the stream
// ends, or ctx is cancelled. Delivery is at-most-once, best-effort.
type Stream interface {
	Recv(ctx context.Context) (core.TelemetrySnapshot, error)
	Close() error
}

// Source manages the telemetry subscription for the active run. There is at
// most one live subscription at a time, mirroring the store's at-most-one
// active run invariant.
type Source struct {
	store   *runstate.Store
	monitor *Monitor
	bus     *events.EventBus
	sampler *Sampler
	logger  *slog.Logger

	// Grace period between completion detection and store clear/navigation.
	grace     time.Duration
	navTarget string

	mu     sync.Mutex
	active *Subscription
}

// SourceOption configures the source.
type SourceOption func(*Source)

// WithSampler sets the memory sampler used to enrich snapshots.
func WithSampler(s *Sampler) SourceOption {
	return func(src *Source) { src.sampler = s }
}

// WithNavTarget sets the navigation target emitted after completion.
func WithNavTarget(target string) SourceOption {
	return func(src *Source) { src.navTarget = target }
}

// NewSource creates a telemetry source.
func NewSource(store *runstate.Store, monitor *Monitor, bus *events.EventBus, grace time.Duration, logger *slog.Logger, opts ...SourceOption) *Source {
	if logger == nil {
		logger = slog.Default()
	}
	s := &Source{
		store:     store,
		monitor:   monitor,
		bus:       bus,
		logger:    logger,
		grace:     grace,
		navTarget: "results",
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// Subscription is one live telemetry subscription, tagged with the run
// handle it was created for. Every snapshot application carries that handle;
// the store discards applications whose handle is no longer current, so a
// restart that reuses a run id cannot be corrupted by leftover callbacks.
type Subscription struct {
	handle *core.RunHandle

	cancel    context.CancelFunc
	cancelled atomic.Bool
	done      chan struct{}

	mu           sync.Mutex
	lastProgress float64
	completed    bool

	navOnce sync.Once
}

// Handle returns the run handle this subscription serves.
func (s *Subscription) Handle() *core.RunHandle {
	return s.handle
}

// Cancel stops the subscription. Idempotent. Snapshots already in flight are
// discarded: the reader loop re-checks the cancelled flag before every
// application, and the store rejects applications for a cleared handle.
func (s *Subscription) Cancel() {
	if s.cancelled.CompareAndSwap(false, true) {
		s.cancel()
	}
}

// Done returns a channel closed when the reader loop has exited.
func (s *Subscription) Done() <-chan struct{} {
	return s.done
}

// Subscribe starts consuming the stream for the given handle. The returned
// subscription is cancelled automatically when a terminal snapshot is
// accepted or the stream ends.
func (s *Source) Subscribe(ctx context.Context, handle *core.RunHandle, stream Stream) *Subscription {
	ctx, cancel := context.WithCancel(ctx)
	sub := &Subscription{
		handle: handle,
		cancel: cancel,
		done:   make(chan struct{}),
	}

	s.mu.Lock()
	if s.active != nil {
		s.active.Cancel()
	}
	s.active = sub
	s.mu.Unlock()

	go s.consume(ctx, sub, stream)
	return sub
}

// Active returns the current subscription, or nil.
func (s *Source) Active() *Subscription {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.active
}

// CancelActive cancels the current subscription, if any. Idempotent.
func (s *Source) CancelActive() {
	s.mu.Lock()
	sub := s.active
	s.mu.Unlock()
	if sub != nil {
		sub.Cancel()
	}
}

func (s *Source) consume(ctx context.Context, sub *Subscription, stream Stream) {
	defer close(sub.done)
	defer func() {
		if err := stream.Close(); err != nil {
			s.logger.Debug("closing telemetry stream", "error", err)
		}
	}()

	logger := s.logger.With("run_id", sub.handle.RunID)

	for {
		snap, err := stream.Recv(ctx)
		if err != nil {
			switch {
			case errors.Is(err, context.Canceled), errors.Is(err, context.DeadlineExceeded):
			case errors.Is(err, io.EOF):
				logger.Debug("telemetry stream ended")
			default:
				// Transient push failure. The heartbeat monitor will flag
				// staleness if nothing else arrives; never terminal here.
				logger.Warn("telemetry stream error", "error", err)
			}
			return
		}

		if sub.cancelled.Load() {
			return
		}

		snap.ArrivalTime = time.Now()
		if s.sampler != nil {
			snap = s.sampler.Enrich(snap)
		}

		if !s.accept(sub, snap) {
			logger.Debug("discarding out-of-order snapshot",
				"progress", snap.Progress)
			continue
		}

		if !s.store.Apply(sub.handle, snap) {
			// Handle no longer current: cancelled or force-reset underneath us.
			return
		}

		s.monitor.Touch(sub.handle, snap.ArrivalTime)
		s.bus.Publish(events.NewRunProgressEvent(snap))

		if snap.Terminal() && s.markCompleted(sub) {
			s.finish(sub, snap)
			return
		}
	}
}

// accept applies the monotonic filter: a snapshot that would decrease the
// already-observed progress is an out-of-order duplicate and is dropped.
func (s *Source) accept(sub *Subscription, snap core.TelemetrySnapshot) bool {
	sub.mu.Lock()
	defer sub.mu.Unlock()
	if snap.Progress < sub.lastProgress {
		return false
	}
	sub.lastProgress = snap.Progress
	return true
}

// markCompleted flips the completed flag once. A late snapshot can never
// re-open a closed run.
func (s *Source) markCompleted(sub *Subscription) bool {
	sub.mu.Lock()
	defer sub.mu.Unlock()
	if sub.completed {
		return false
	}
	sub.completed = true
	return true
}

// finish retains the final snapshot for the grace period, then atomically
// clears the store and emits exactly one navigation event.
func (s *Source) finish(sub *Subscription, final core.TelemetrySnapshot) {
	duration := time.Since(sub.handle.StartedAt)
	s.bus.PublishPriority(events.NewRunCompletedEvent(sub.handle, duration))
	s.logger.Info("run completed",
		"run_id", sub.handle.RunID,
		"duration", duration,
		"final_progress", final.Progress)

	handle := sub.handle
	time.AfterFunc(s.grace, func() {
		s.monitor.Forget(handle)
		if s.store.ClearIf(handle) {
			sub.navOnce.Do(func() {
				s.bus.PublishPriority(events.NewNavigationEvent(handle.RunID, s.navTarget))
			})
		}
		s.mu.Lock()
		if s.active == sub {
			s.active = nil
		}
		s.mu.Unlock()
	})

	sub.Cancel()
}
