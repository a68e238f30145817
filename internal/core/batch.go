package core

import "time"

// BatchID uniquely identifies a batch job.
type BatchID string

// ExportFormat selects the output format for a batch's reports.
type ExportFormat string

const (
	ExportFormatCSV     ExportFormat = "csv"
	ExportFormatParquet ExportFormat = "parquet"
	ExportFormatJSON    ExportFormat = "json"
)

// BatchJob is a set of scenario runs submitted together and tracked as one
// aggregate. Status and Progress are derived from the scenarios' individual
// statuses and recomputed on every merge; they are never set independently.
// A terminal batch is retained as history.
type BatchJob struct {
	ID           BatchID             `json:"id"`
	Name         string              `json:"name"`
	Workspace    WorkspaceID         `json:"workspace_id"`
	Scenarios    []ScenarioRunStatus `json:"scenarios"`
	Parallel     bool                `json:"parallel"`
	ExportFormat ExportFormat        `json:"export_format"`
	Status       RunStatus           `json:"status"`
	Progress     int                 `json:"progress"` // completed scenarios over total, 0..100
	CreatedAt    time.Time           `json:"created_at"`
	UpdatedAt    time.Time           `json:"updated_at"`
}

// Clone returns a deep copy so callers can hand out read models without
// exposing the aggregator's internal slice.
func (b *BatchJob) Clone() *BatchJob {
	if b == nil {
		return nil
	}
	cp := *b
	cp.Scenarios = make([]ScenarioRunStatus, len(b.Scenarios))
	copy(cp.Scenarios, b.Scenarios)
	return &cp
}

// Scenario returns the status entry for the given scenario id.
func (b *BatchJob) Scenario(id ScenarioID) (ScenarioRunStatus, bool) {
	for _, s := range b.Scenarios {
		if s.ScenarioID == id {
			return s, true
		}
	}
	return ScenarioRunStatus{}, false
}
