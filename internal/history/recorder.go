package history

import (
	"context"
	"log/slog"
	"time"

	"simdeck/internal/batch"
	"simdeck/internal/core"
	"simdeck/internal/events"
)

// Recorder subscribes to lifecycle events and persists terminal outcomes, so
// the dashboard's history view survives daemon restarts. It uses a priority
// subscription: terminal events must reach storage even under event pressure.
type Recorder struct {
	store     *Store
	agg       *batch.Aggregator
	bus       *events.EventBus
	workspace core.WorkspaceID
	logger    *slog.Logger
}

// NewRecorder creates a history recorder.
func NewRecorder(store *Store, agg *batch.Aggregator, bus *events.EventBus, workspace core.WorkspaceID, logger *slog.Logger) *Recorder {
	if logger == nil {
		logger = slog.Default()
	}
	return &Recorder{
		store:     store,
		agg:       agg,
		bus:       bus,
		workspace: workspace,
		logger:    logger,
	}
}

// Run consumes events until ctx is cancelled or the bus closes.
func (r *Recorder) Run(ctx context.Context) error {
	ch := r.bus.SubscribePriority()
	defer r.bus.Unsubscribe(ch)

	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case event, ok := <-ch:
			if !ok {
				return nil
			}
			r.handle(ctx, event)
		}
	}
}

func (r *Recorder) handle(ctx context.Context, event events.Event) {
	switch e := event.(type) {
	case events.RunCompletedEvent:
		r.recordRun(ctx, RunRecord{
			RunID:      core.RunID(e.RunID()),
			ScenarioID: core.ScenarioID(e.ScenarioID),
			Workspace:  r.workspace,
			Status:     core.RunStatusCompleted,
			Progress:   100,
			StartedAt:  e.Timestamp().Add(-e.Duration),
			FinishedAt: e.Timestamp(),
			Duration:   e.Duration,
		})
	case events.RunFailedEvent:
		r.recordRun(ctx, RunRecord{
			RunID:      core.RunID(e.RunID()),
			Workspace:  r.workspace,
			Status:     core.RunStatusFailed,
			FinishedAt: e.Timestamp(),
		})
	case events.BatchFinishedEvent:
		if job, ok := r.agg.Get(core.BatchID(e.BatchID)); ok {
			if err := r.store.RecordBatch(ctx, job); err != nil {
				r.logger.Warn("recording batch history", "batch_id", e.BatchID, "error", err)
			}
		}
	}
}

func (r *Recorder) recordRun(ctx context.Context, rec RunRecord) {
	if rec.FinishedAt.IsZero() {
		rec.FinishedAt = time.Now()
	}
	if err := r.store.RecordRun(ctx, rec); err != nil {
		r.logger.Warn("recording run history", "run_id", rec.RunID, "error", err)
	}
}
