package api

import (
	"encoding/json"
	"net/http"
	"strconv"

	"simdeck/internal/core"
)

type startRunRequest struct {
	ScenarioID string `json:"scenario_id"`
}

type runResponse struct {
	RunID      string `json:"run_id"`
	ScenarioID string `json:"scenario_id"`
	Workspace  string `json:"workspace_id"`
	StartedAt  string `json:"started_at"`
}

// handleStartRun starts a run for a scenario. Answers 409 when a run is
// already active; the response details carry the active run id so the UI can
// point at it.
func (s *Server) handleStartRun(w http.ResponseWriter, r *http.Request) {
	var req startRunRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		respondErrorMessage(w, http.StatusBadRequest, "invalid request body")
		return
	}
	if req.ScenarioID == "" {
		respondErrorMessage(w, http.StatusBadRequest, "scenario_id is required")
		return
	}

	handle, err := s.deps.Lifecycle.StartRun(r.Context(), core.ScenarioID(req.ScenarioID))
	if err != nil {
		respondError(w, err)
		return
	}

	respondJSON(w, http.StatusCreated, runResponse{
		RunID:      string(handle.RunID),
		ScenarioID: string(handle.ScenarioID),
		Workspace:  string(handle.Workspace),
		StartedAt:  handle.StartedAt.UTC().Format(timeFormat),
	})
}

// handleActiveRun returns the active run with its last telemetry snapshot,
// or 204 when no run is active.
func (s *Server) handleActiveRun(w http.ResponseWriter, _ *http.Request) {
	active := s.deps.Lifecycle.Active()
	if active == nil {
		w.WriteHeader(http.StatusNoContent)
		return
	}
	respondJSON(w, http.StatusOK, active)
}

// handleCancelRun stops the active run. A no-op 200 when nothing is running.
func (s *Server) handleCancelRun(w http.ResponseWriter, r *http.Request) {
	if err := s.deps.Lifecycle.CancelRun(r.Context()); err != nil {
		respondError(w, err)
		return
	}
	respondJSON(w, http.StatusOK, map[string]string{"status": "cancelled"})
}

type resetRunRequest struct {
	ScenarioID string `json:"scenario_id"`
}

// handleResetRun force-resets a wedged run. Idempotent.
func (s *Server) handleResetRun(w http.ResponseWriter, r *http.Request) {
	var req resetRunRequest
	// Body is optional; an empty reset targets the active run.
	_ = json.NewDecoder(r.Body).Decode(&req)

	if err := s.deps.Lifecycle.ResetRun(r.Context(), core.ScenarioID(req.ScenarioID)); err != nil {
		respondError(w, err)
		return
	}
	respondJSON(w, http.StatusOK, map[string]string{"status": "reset"})
}

// handleRunHistory lists past runs, newest first.
func (s *Server) handleRunHistory(w http.ResponseWriter, r *http.Request) {
	limit, _ := strconv.Atoi(r.URL.Query().Get("limit"))

	records, err := s.deps.History.ListRuns(r.Context(), s.deps.Workspace, limit)
	if err != nil {
		respondError(w, err)
		return
	}
	respondJSON(w, http.StatusOK, map[string]interface{}{
		"runs":  records,
		"count": len(records),
	})
}

const timeFormat = "2006-01-02T15:04:05.000Z07:00"
