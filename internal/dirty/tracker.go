package dirty

import (
	"context"
	"log/slog"
	"sync"

	"github.com/google/renameio/v2"

	"simdeck/internal/core"
	"simdeck/internal/events"
)

// Saver persists a configuration document and returns the canonical saved
// document, which replaces the saved snapshot exactly rather than echoing
// the request.
type Saver interface {
	SaveConfig(ctx context.Context, doc Snapshot) (Snapshot, error)
}

// Tracker holds the saved and current configuration snapshots and derives
// the dirty-section set from them. DirtySections is never independently
// mutated; it is always exactly the structural difference of the two
// snapshots.
type Tracker struct {
	bus    *events.EventBus
	logger *slog.Logger

	// Path the canonical saved document is mirrored to, atomically.
	// Empty disables the mirror.
	path string

	mu      sync.Mutex
	saved   Snapshot
	current Snapshot
	// last published dirty set, to publish only on change
	lastDirty []string
}

// TrackerOption configures the tracker.
type TrackerOption func(*Tracker)

// WithMirrorPath enables mirroring the canonical saved document to disk.
func WithMirrorPath(path string) TrackerOption {
	return func(t *Tracker) { t.path = path }
}

// NewTracker creates a tracker with both snapshots set to the loaded
// document.
func NewTracker(loaded Snapshot, bus *events.EventBus, logger *slog.Logger, opts ...TrackerOption) *Tracker {
	if logger == nil {
		logger = slog.Default()
	}
	t := &Tracker{
		bus:     bus,
		logger:  logger,
		saved:   loaded.Clone(),
		current: loaded.Clone(),
	}
	for _, opt := range opts {
		opt(t)
	}
	return t
}

// SetCurrent replaces the current snapshot (called on every configuration
// edit) and republishes the dirty set if it changed.
func (t *Tracker) SetCurrent(snap Snapshot) {
	t.mu.Lock()
	t.current = snap.Clone()
	dirty := Diff(t.saved, t.current)
	changed := !equalStrings(dirty, t.lastDirty)
	t.lastDirty = dirty
	t.mu.Unlock()

	if changed {
		t.bus.Publish(events.NewConfigDirtyEvent(dirty))
	}
}

// Current returns a copy of the current snapshot.
func (t *Tracker) Current() Snapshot {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.current.Clone()
}

// Saved returns a copy of the saved snapshot.
func (t *Tracker) Saved() Snapshot {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.saved.Clone()
}

// DirtySections returns the sections whose current values differ from the
// saved snapshot.
func (t *Tracker) DirtySections() []string {
	t.mu.Lock()
	defer t.mu.Unlock()
	return Diff(t.saved, t.current)
}

// IsDirty reports whether any section has unsaved changes.
func (t *Tracker) IsDirty() bool {
	return len(t.DirtySections()) > 0
}

// Save persists the current snapshot through the saver. On success the saved
// snapshot is replaced with the canonical document returned by the saver
// before any queued navigation is allowed to proceed, so a discard cannot
// race ahead of the save. On failure the saved snapshot is left untouched
// and dirty tracking stays accurate.
func (t *Tracker) Save(ctx context.Context, saver Saver) error {
	t.mu.Lock()
	doc := t.current.Clone()
	t.mu.Unlock()

	canonical, err := saver.SaveConfig(ctx, doc)
	if err != nil {
		t.logger.Error("configuration save failed", "error", err)
		return core.ErrState(core.CodeSaveFailed, "configuration save failed").WithCause(err)
	}

	t.markSaved(canonical)
	return nil
}

// markSaved atomically replaces the saved snapshot with the canonical
// document and mirrors it to disk.
func (t *Tracker) markSaved(canonical Snapshot) {
	t.mu.Lock()
	t.saved = canonical.Clone()
	t.current = canonical.Clone()
	t.lastDirty = nil
	path := t.path
	t.mu.Unlock()

	if path != "" {
		if data, err := MarshalDocument(canonical); err == nil {
			if err := renameio.WriteFile(path, data, 0o644); err != nil {
				t.logger.Warn("mirroring saved configuration", "path", path, "error", err)
			}
		}
	}

	t.logger.Info("configuration saved")
	t.bus.Publish(events.NewConfigSavedEvent())
	t.bus.Publish(events.NewConfigDirtyEvent(nil))
}

// Discard drops unsaved edits by resetting the current snapshot to the
// saved one.
func (t *Tracker) Discard() {
	t.mu.Lock()
	t.current = t.saved.Clone()
	t.lastDirty = nil
	t.mu.Unlock()

	t.bus.Publish(events.NewConfigDirtyEvent(nil))
}

func equalStrings(a, b []string) bool {
	if len(a) != len(b) {
		return false
	}
	for i := range a {
		if a[i] != b[i] {
			return false
		}
	}
	return true
}
