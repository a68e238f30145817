package dirty

import (
	"context"
	"log/slog"
)

// PendingNavigation describes a view transition the user attempted.
type PendingNavigation struct {
	Target string
}

// Interception is the result of guarding a navigation. When Blocked, the
// caller has exactly two resolutions: ProceedAndDiscard or CancelAndStay.
// There is no silent auto-save; SaveAndProceed is offered for callers that
// explicitly choose to persist first, and it guarantees the saved snapshot
// is replaced before the navigation runs.
type Interception struct {
	Blocked bool
	Dirty   []string

	nav     PendingNavigation
	tracker *Tracker
	proceed func(PendingNavigation)
}

// ProceedAndDiscard drops unsaved edits and performs the navigation.
func (i *Interception) ProceedAndDiscard() {
	if i.Blocked {
		i.tracker.Discard()
	}
	i.proceed(i.nav)
}

// CancelAndStay abandons the navigation; the edits stay in place.
func (i *Interception) CancelAndStay() {}

// SaveAndProceed saves the current snapshot and then navigates. The save
// completes (and the saved snapshot is replaced) before the navigation
// proceeds; on save failure the navigation is abandoned and the error
// returned, with dirty tracking untouched.
func (i *Interception) SaveAndProceed(ctx context.Context, saver Saver) error {
	if i.Blocked {
		if err := i.tracker.Save(ctx, saver); err != nil {
			return err
		}
	}
	i.proceed(i.nav)
	return nil
}

// Guard intercepts attempted view transitions while the tracker reports
// unsaved changes.
type Guard struct {
	tracker *Tracker
	logger  *slog.Logger
	proceed func(PendingNavigation)
}

// NewGuard creates a navigation guard. The proceed callback performs the
// actual view transition when a navigation is allowed or resolved.
func NewGuard(tracker *Tracker, proceed func(PendingNavigation), logger *slog.Logger) *Guard {
	if logger == nil {
		logger = slog.Default()
	}
	if proceed == nil {
		proceed = func(PendingNavigation) {}
	}
	return &Guard{
		tracker: tracker,
		logger:  logger,
		proceed: proceed,
	}
}

// Intercept checks a pending navigation against the tracker. A clean
// tracker lets the navigation through immediately; otherwise the navigation
// is blocked and the caller must resolve the interception.
func (g *Guard) Intercept(nav PendingNavigation) *Interception {
	dirty := g.tracker.DirtySections()
	i := &Interception{
		Blocked: len(dirty) > 0,
		Dirty:   dirty,
		nav:     nav,
		tracker: g.tracker,
		proceed: g.proceed,
	}

	if !i.Blocked {
		g.proceed(nav)
		return i
	}

	g.logger.Debug("navigation blocked by unsaved changes",
		"target", nav.Target,
		"dirty_sections", dirty)
	return i
}
