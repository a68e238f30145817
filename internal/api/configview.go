package api

import (
	"encoding/json"
	"net/http"

	"simdeck/internal/dirty"
)

type configResponse struct {
	Document dirty.Snapshot `json:"document"`
	Dirty    []string       `json:"dirty"`
}

// handleGetConfig returns the current configuration document with its dirty
// sections.
func (s *Server) handleGetConfig(w http.ResponseWriter, _ *http.Request) {
	respondJSON(w, http.StatusOK, configResponse{
		Document: s.deps.Tracker.Current(),
		Dirty:    s.deps.Tracker.DirtySections(),
	})
}

// handlePutConfig replaces the current snapshot with the edited document.
// This is the UI's every-edit update; it never persists anything.
func (s *Server) handlePutConfig(w http.ResponseWriter, r *http.Request) {
	var doc map[string]map[string]interface{}
	if err := json.NewDecoder(r.Body).Decode(&doc); err != nil {
		respondErrorMessage(w, http.StatusBadRequest, "invalid configuration document")
		return
	}

	s.deps.Tracker.SetCurrent(dirty.Snapshot(doc))
	respondJSON(w, http.StatusOK, configResponse{
		Document: s.deps.Tracker.Current(),
		Dirty:    s.deps.Tracker.DirtySections(),
	})
}

// handleDirtySections returns just the dirty-section names, for the save
// affordance.
func (s *Server) handleDirtySections(w http.ResponseWriter, _ *http.Request) {
	dirtySections := s.deps.Tracker.DirtySections()
	respondJSON(w, http.StatusOK, map[string]interface{}{
		"dirty":    dirtySections,
		"is_dirty": len(dirtySections) > 0,
	})
}

// handleSaveConfig persists the current snapshot through the engine. The
// saved snapshot is replaced with the canonical document before the response
// is written, so a navigation issued right after a 200 sees a clean tracker.
func (s *Server) handleSaveConfig(w http.ResponseWriter, r *http.Request) {
	if err := s.deps.Tracker.Save(r.Context(), s.deps.Engine); err != nil {
		respondError(w, err)
		return
	}
	respondJSON(w, http.StatusOK, configResponse{
		Document: s.deps.Tracker.Current(),
		Dirty:    nil,
	})
}

// handleDiscardConfig drops unsaved edits.
func (s *Server) handleDiscardConfig(w http.ResponseWriter, _ *http.Request) {
	s.deps.Tracker.Discard()
	respondJSON(w, http.StatusOK, configResponse{
		Document: s.deps.Tracker.Current(),
		Dirty:    nil,
	})
}

type navigateRequest struct {
	Target string `json:"target"`
	// Resolution is empty on the first attempt. A blocked navigation is
	// retried with "discard", "save", or "cancel".
	Resolution string `json:"resolution,omitempty"`
}

type navigateResponse struct {
	Proceeded bool     `json:"proceeded"`
	Blocked   bool     `json:"blocked"`
	Dirty     []string `json:"dirty,omitempty"`
}

// handleNavigate runs a view transition through the navigation guard. Clean
// state proceeds immediately; dirty state blocks until the client resolves
// with an explicit choice. There is no silent auto-save.
func (s *Server) handleNavigate(w http.ResponseWriter, r *http.Request) {
	var req navigateRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		respondErrorMessage(w, http.StatusBadRequest, "invalid request body")
		return
	}
	if req.Target == "" {
		respondErrorMessage(w, http.StatusBadRequest, "target is required")
		return
	}

	interception := s.deps.Guard.Intercept(dirty.PendingNavigation{Target: req.Target})
	if !interception.Blocked {
		respondJSON(w, http.StatusOK, navigateResponse{Proceeded: true})
		return
	}

	switch req.Resolution {
	case "":
		respondJSON(w, http.StatusConflict, navigateResponse{
			Blocked: true,
			Dirty:   interception.Dirty,
		})
	case "discard":
		interception.ProceedAndDiscard()
		respondJSON(w, http.StatusOK, navigateResponse{Proceeded: true})
	case "save":
		if err := interception.SaveAndProceed(r.Context(), s.deps.Engine); err != nil {
			respondError(w, err)
			return
		}
		respondJSON(w, http.StatusOK, navigateResponse{Proceeded: true})
	case "cancel":
		interception.CancelAndStay()
		respondJSON(w, http.StatusOK, navigateResponse{
			Blocked: true,
			Dirty:   interception.Dirty,
		})
	default:
		respondErrorMessage(w, http.StatusBadRequest, "unknown resolution: "+req.Resolution)
	}
}
