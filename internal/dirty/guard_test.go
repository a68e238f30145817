package dirty

import (
	"context"
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"simdeck/internal/events"
	"simdeck/internal/logging"
)

type navRecorder struct {
	targets []string
}

func (n *navRecorder) proceed(nav PendingNavigation) {
	n.targets = append(n.targets, nav.Target)
}

func newGuardFixture(t *testing.T) (*Guard, *Tracker, *navRecorder) {
	t.Helper()
	bus := events.New(10)
	t.Cleanup(bus.Close)
	tracker := NewTracker(baseDoc(), bus, logging.NewNop().Logger)
	rec := &navRecorder{}
	guard := NewGuard(tracker, rec.proceed, logging.NewNop().Logger)
	return guard, tracker, rec
}

func makeDirty(tracker *Tracker) {
	edited := baseDoc()
	edited["workforce"]["headcount"] = 999
	tracker.SetCurrent(edited)
}

func TestGuard_CleanNavigationProceedsImmediately(t *testing.T) {
	guard, _, rec := newGuardFixture(t)

	i := guard.Intercept(PendingNavigation{Target: "results"})

	assert.False(t, i.Blocked)
	assert.Equal(t, []string{"results"}, rec.targets)
}

func TestGuard_DirtyNavigationBlocks(t *testing.T) {
	guard, tracker, rec := newGuardFixture(t)
	makeDirty(tracker)

	i := guard.Intercept(PendingNavigation{Target: "results"})

	assert.True(t, i.Blocked)
	assert.Equal(t, []string{"workforce"}, i.Dirty)
	assert.Empty(t, rec.targets, "blocked navigation must not proceed")
}

func TestGuard_ProceedAndDiscardDropsEditsThenNavigates(t *testing.T) {
	guard, tracker, rec := newGuardFixture(t)
	makeDirty(tracker)

	i := guard.Intercept(PendingNavigation{Target: "results"})
	require.True(t, i.Blocked)

	i.ProceedAndDiscard()

	assert.Equal(t, []string{"results"}, rec.targets)
	assert.False(t, tracker.IsDirty())
	assert.Equal(t, 250, tracker.Current()["workforce"]["headcount"])
}

func TestGuard_CancelAndStayKeepsEdits(t *testing.T) {
	guard, tracker, rec := newGuardFixture(t)
	makeDirty(tracker)

	i := guard.Intercept(PendingNavigation{Target: "results"})
	require.True(t, i.Blocked)

	i.CancelAndStay()

	assert.Empty(t, rec.targets)
	assert.True(t, tracker.IsDirty())
	assert.Equal(t, 999, tracker.Current()["workforce"]["headcount"])
}

func TestGuard_SaveAndProceedSavesBeforeNavigating(t *testing.T) {
	guard, tracker, rec := newGuardFixture(t)
	makeDirty(tracker)

	i := guard.Intercept(PendingNavigation{Target: "results"})
	require.True(t, i.Blocked)

	saver := &orderedSaver{tracker: tracker, rec: rec}
	require.NoError(t, i.SaveAndProceed(context.Background(), saver))

	assert.Equal(t, []string{"results"}, rec.targets)
	assert.False(t, tracker.IsDirty())
	assert.False(t, saver.navigatedDuringSave, "navigation must wait for the save")
}

// orderedSaver asserts the navigation has not happened while the save runs.
type orderedSaver struct {
	tracker             *Tracker
	rec                 *navRecorder
	navigatedDuringSave bool
}

func (s *orderedSaver) SaveConfig(_ context.Context, doc Snapshot) (Snapshot, error) {
	if len(s.rec.targets) > 0 {
		s.navigatedDuringSave = true
	}
	return doc.Clone(), nil
}

func TestGuard_SaveFailureAbandonsNavigation(t *testing.T) {
	guard, tracker, rec := newGuardFixture(t)
	makeDirty(tracker)

	i := guard.Intercept(PendingNavigation{Target: "results"})
	require.True(t, i.Blocked)

	err := i.SaveAndProceed(context.Background(), &fakeSaver{err: errors.New("boom")})
	require.Error(t, err)

	assert.Empty(t, rec.targets)
	assert.True(t, tracker.IsDirty(), "edits survive the failed save")
}
