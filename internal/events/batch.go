package events

import "simdeck/internal/core"

// Event type constants for batch and configuration events.
const (
	TypeBatchUpdated  = "batch_updated"
	TypeBatchFinished = "batch_finished"
	TypeConfigDirty   = "config_dirty"
	TypeConfigSaved   = "config_saved"
)

// BatchUpdatedEvent is emitted whenever a merge recomputes a batch's
// aggregate status or progress.
type BatchUpdatedEvent struct {
	BaseEvent
	BatchID  string `json:"batch_id"`
	Status   string `json:"status"`
	Progress int    `json:"progress"`
}

// NewBatchUpdatedEvent creates a new batch updated event.
func NewBatchUpdatedEvent(job *core.BatchJob) BatchUpdatedEvent {
	return BatchUpdatedEvent{
		BaseEvent: NewBaseEvent(TypeBatchUpdated, ""),
		BatchID:   string(job.ID),
		Status:    string(job.Status),
		Progress:  job.Progress,
	}
}

// BatchFinishedEvent is emitted exactly once when a batch's aggregate status
// turns terminal. This is a PRIORITY event - never dropped.
type BatchFinishedEvent struct {
	BaseEvent
	BatchID   string `json:"batch_id"`
	Status    string `json:"status"`
	Completed int    `json:"completed"`
	Failed    int    `json:"failed"`
}

// NewBatchFinishedEvent creates a new batch finished event.
func NewBatchFinishedEvent(job *core.BatchJob) BatchFinishedEvent {
	var completed, failed int
	for _, s := range job.Scenarios {
		switch s.Status {
		case core.RunStatusCompleted:
			completed++
		case core.RunStatusFailed:
			failed++
		}
	}
	return BatchFinishedEvent{
		BaseEvent: NewBaseEvent(TypeBatchFinished, ""),
		BatchID:   string(job.ID),
		Status:    string(job.Status),
		Completed: completed,
		Failed:    failed,
	}
}

// ConfigDirtyEvent is emitted when the set of dirty configuration sections
// changes.
type ConfigDirtyEvent struct {
	BaseEvent
	Sections []string `json:"sections"`
}

// NewConfigDirtyEvent creates a new config dirty event.
func NewConfigDirtyEvent(sections []string) ConfigDirtyEvent {
	return ConfigDirtyEvent{
		BaseEvent: NewBaseEvent(TypeConfigDirty, ""),
		Sections:  sections,
	}
}

// ConfigSavedEvent is emitted after a successful save replaced the saved
// snapshot.
type ConfigSavedEvent struct {
	BaseEvent
}

// NewConfigSavedEvent creates a new config saved event.
func NewConfigSavedEvent() ConfigSavedEvent {
	return ConfigSavedEvent{BaseEvent: NewBaseEvent(TypeConfigSaved, "")}
}
