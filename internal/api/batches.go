package api

import (
	"context"
	"encoding/json"
	"net/http"
	"strconv"

	"github.com/go-chi/chi/v5"

	"simdeck/internal/batch"
	"simdeck/internal/core"
)

type startBatchRequest struct {
	Name         string   `json:"name"`
	ScenarioIDs  []string `json:"scenario_ids"`
	Parallel     bool     `json:"parallel"`
	ExportFormat string   `json:"export_format"`
}

// handleStartBatch seeds a batch with optimistic statuses, submits it to the
// engine, and starts the poll loop. When the engine rejects the submission
// the seeded job is finalized as failed rather than left running forever.
func (s *Server) handleStartBatch(w http.ResponseWriter, r *http.Request) {
	var req startBatchRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		respondErrorMessage(w, http.StatusBadRequest, "invalid request body")
		return
	}

	format := core.ExportFormat(req.ExportFormat)
	if format == "" {
		format = core.ExportFormatCSV
	}
	switch format {
	case core.ExportFormatCSV, core.ExportFormatParquet, core.ExportFormatJSON:
	default:
		respondError(w, core.ErrValidation(core.CodeInvalidBatch, "unknown export format: "+req.ExportFormat))
		return
	}

	scenarios := make([]core.ScenarioID, len(req.ScenarioIDs))
	for i, id := range req.ScenarioIDs {
		scenarios[i] = core.ScenarioID(id)
	}

	job, err := s.deps.Aggregator.Seed(batch.SeedSpec{
		Name:         req.Name,
		Workspace:    s.deps.Workspace,
		Scenarios:    scenarios,
		Parallel:     req.Parallel,
		ExportFormat: format,
	})
	if err != nil {
		respondError(w, err)
		return
	}

	if err := s.deps.Engine.StartBatch(r.Context(), job); err != nil {
		s.failSeededBatch(job)
		respondError(w, err)
		return
	}

	s.deps.Reconciler.Watch(context.WithoutCancel(r.Context()), job.ID)
	respondJSON(w, http.StatusCreated, job)
}

// failSeededBatch marks every scenario of a just-seeded job failed, driving
// the aggregate terminal through the normal merge path.
func (s *Server) failSeededBatch(job *core.BatchJob) {
	failed := job.Clone()
	for i := range failed.Scenarios {
		failed.Scenarios[i].Status = core.RunStatusFailed
	}
	if _, err := s.deps.Aggregator.MergeServerStatus(job.ID, failed); err != nil {
		s.logger.Warn("failing rejected batch", "batch_id", job.ID, "error", err)
	}
}

// handleListBatches returns all tracked batch jobs, terminal ones included.
func (s *Server) handleListBatches(w http.ResponseWriter, _ *http.Request) {
	jobs := s.deps.Aggregator.List()
	respondJSON(w, http.StatusOK, map[string]interface{}{
		"batches": jobs,
		"count":   len(jobs),
	})
}

// handleGetBatch returns one tracked batch job, falling back to history for
// jobs finished before the daemon last restarted.
func (s *Server) handleGetBatch(w http.ResponseWriter, r *http.Request) {
	id := core.BatchID(chi.URLParam(r, "batchID"))

	if job, ok := s.deps.Aggregator.Get(id); ok {
		respondJSON(w, http.StatusOK, job)
		return
	}

	job, err := s.deps.History.GetBatch(r.Context(), id)
	if err != nil {
		respondError(w, err)
		return
	}
	respondJSON(w, http.StatusOK, job)
}

// handleBatchHistory lists persisted batch jobs, newest first.
func (s *Server) handleBatchHistory(w http.ResponseWriter, r *http.Request) {
	limit, _ := strconv.Atoi(r.URL.Query().Get("limit"))

	jobs, err := s.deps.History.ListBatches(r.Context(), s.deps.Workspace, limit)
	if err != nil {
		respondError(w, err)
		return
	}
	respondJSON(w, http.StatusOK, map[string]interface{}{
		"batches": jobs,
		"count":   len(jobs),
	})
}

// handleListScenarios proxies the engine's scenario catalog for the
// workspace.
func (s *Server) handleListScenarios(w http.ResponseWriter, r *http.Request) {
	scenarios, err := s.deps.Engine.ListScenarios(r.Context(), s.deps.Workspace)
	if err != nil {
		respondError(w, err)
		return
	}
	respondJSON(w, http.StatusOK, map[string]interface{}{
		"scenarios": scenarios,
		"count":     len(scenarios),
	})
}
