package http

import (
	"encoding/json"
	"errors"
	"net/http"

	"github.com/go-chi/chi/v5"

	"github.com/ledgerprep/tbs/internal/rbac"
	"github.com/ledgerprep/tbs/internal/session"
	"github.com/ledgerprep/tbs/internal/sim"
	"github.com/ledgerprep/tbs/internal/store"
)

// CreateSessionHandler starts a new session over a stored simulation for
// the authenticated taker.
func CreateSessionHandler(reg *session.Registry, st store.SimulationStore) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		var req struct {
			SimulationID string `json:"simulation_id"`
		}
		if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
			http.Error(w, "bad json", 400)
			return
		}
		if req.SimulationID == "" {
			http.Error(w, "simulation_id required", 400)
			return
		}
		takerID := rbac.SubjectFromContext(r.Context())
		s, err := st.GetSimulation(r.Context(), req.SimulationID)
		if err != nil {
			if errors.Is(err, store.ErrSimulationNotFound) {
				http.Error(w, err.Error(), 404)
				return
			}
			http.Error(w, err.Error(), 500)
			return
		}
		ctl, err := reg.Create(s, takerID)
		if err != nil {
			http.Error(w, err.Error(), 400)
			return
		}
		_ = json.NewEncoder(w).Encode(ctl.State())
	}
}

// GetSessionHandler returns the current session snapshot: view, timer,
// progress, undo/redo availability and any pending submit confirmation.
func GetSessionHandler(reg *session.Registry) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		ctl, ok := lookup(w, r, reg)
		if !ok {
			return
		}
		_ = json.NewEncoder(w).Encode(ctl.State())
	}
}

// SaveResponseHandler records one answer. The body is a tagged response
// envelope matching the requirement's kind; the widget owns the shape.
func SaveResponseHandler(reg *session.Registry) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		ctl, ok := lookup(w, r, reg)
		if !ok {
			return
		}
		reqID := chi.URLParam(r, "reqID")
		var raw json.RawMessage
		if err := json.NewDecoder(r.Body).Decode(&raw); err != nil {
			http.Error(w, "bad json", 400)
			return
		}
		resp, err := sim.UnmarshalResponse(raw)
		if err != nil {
			http.Error(w, err.Error(), 400)
			return
		}
		if err := ctl.SetResponse(reqID, resp); err != nil {
			http.Error(w, err.Error(), 400)
			return
		}
		_ = json.NewEncoder(w).Encode(ctl.State())
	}
}

// ClearResponseHandler removes one answer as an undoable edit.
func ClearResponseHandler(reg *session.Registry) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		ctl, ok := lookup(w, r, reg)
		if !ok {
			return
		}
		if err := ctl.ClearResponse(chi.URLParam(r, "reqID")); err != nil {
			http.Error(w, err.Error(), 400)
			return
		}
		_ = json.NewEncoder(w).Encode(ctl.State())
	}
}

func UndoHandler(reg *session.Registry) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		ctl, ok := lookup(w, r, reg)
		if !ok {
			return
		}
		applied := ctl.Undo()
		_ = json.NewEncoder(w).Encode(map[string]interface{}{
			"applied": applied,
			"state":   ctl.State(),
		})
	}
}

func RedoHandler(reg *session.Registry) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		ctl, ok := lookup(w, r, reg)
		if !ok {
			return
		}
		applied := ctl.Redo()
		_ = json.NewEncoder(w).Encode(map[string]interface{}{
			"applied": applied,
			"state":   ctl.State(),
		})
	}
}

func PauseHandler(reg *session.Registry) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		ctl, ok := lookup(w, r, reg)
		if !ok {
			return
		}
		if err := ctl.Pause(); err != nil {
			http.Error(w, err.Error(), 409)
			return
		}
		_ = json.NewEncoder(w).Encode(ctl.State())
	}
}

func ResumeHandler(reg *session.Registry) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		ctl, ok := lookup(w, r, reg)
		if !ok {
			return
		}
		if err := ctl.Resume(); err != nil {
			http.Error(w, err.Error(), 409)
			return
		}
		_ = json.NewEncoder(w).Encode(ctl.State())
	}
}

func FlagHandler(reg *session.Registry) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		ctl, ok := lookup(w, r, reg)
		if !ok {
			return
		}
		var req struct {
			Flagged bool `json:"flagged"`
		}
		if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
			http.Error(w, "bad json", 400)
			return
		}
		ctl.SetFlagged(req.Flagged)
		_ = json.NewEncoder(w).Encode(ctl.State())
	}
}

// ExhibitFocusHandler tracks which exhibit the taker is viewing.
func ExhibitFocusHandler(reg *session.Registry) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		ctl, ok := lookup(w, r, reg)
		if !ok {
			return
		}
		var req struct {
			Key string `json:"key"`
		}
		if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
			http.Error(w, "bad json", 400)
			return
		}
		ctl.SetCurrentExhibit(req.Key)
		_ = json.NewEncoder(w).Encode(ctl.State())
	}
}

func ReviewHandler(reg *session.Registry) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		ctl, ok := lookup(w, r, reg)
		if !ok {
			return
		}
		if err := ctl.EnterReview(); err != nil {
			http.Error(w, err.Error(), 409)
			return
		}
		_ = json.NewEncoder(w).Encode(ctl.State())
	}
}

// ReturnHandler jumps from review back to a specific requirement.
func ReturnHandler(reg *session.Registry) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		ctl, ok := lookup(w, r, reg)
		if !ok {
			return
		}
		var req struct {
			RequirementID string `json:"requirement_id"`
		}
		if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
			http.Error(w, "bad json", 400)
			return
		}
		if err := ctl.ReturnToRequirement(req.RequirementID); err != nil {
			http.Error(w, err.Error(), 409)
			return
		}
		_ = json.NewEncoder(w).Encode(ctl.State())
	}
}

// SubmitHandler drives the grade transition. Without confirmed=true it may
// come back asking for confirmation when requirements are unanswered.
func SubmitHandler(reg *session.Registry) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		ctl, ok := lookup(w, r, reg)
		if !ok {
			return
		}
		var req struct {
			Confirmed bool `json:"confirmed"`
		}
		if r.ContentLength > 0 {
			if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
				http.Error(w, "bad json", 400)
				return
			}
		}
		out, err := ctl.RequestSubmit()
		if err != nil {
			http.Error(w, err.Error(), 409)
			return
		}
		// confirmed=true answers the confirmation prompt in the same call,
		// and is a no-op when the session graded outright.
		if out.NeedsConfirmation && req.Confirmed {
			res, err := ctl.ConfirmSubmit()
			if err != nil {
				http.Error(w, err.Error(), 409)
				return
			}
			out = session.SubmitOutcome{Graded: true, Result: res}
		}
		_ = json.NewEncoder(w).Encode(out)
	}
}

// AbandonHandler tears the session down without grading.
func AbandonHandler(reg *session.Registry) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		id := chi.URLParam(r, "sessionID")
		if err := reg.Remove(id); err != nil {
			http.Error(w, err.Error(), 404)
			return
		}
		w.WriteHeader(http.StatusNoContent)
	}
}

// SessionOwner reports whether the request's subject owns the addressed
// session. Unknown session IDs pass so the handler can report not-found;
// pair it with rbac.RequireOwnerOr to keep live sessions private to their
// taker.
func SessionOwner(reg *session.Registry) func(r *http.Request) bool {
	return func(r *http.Request) bool {
		ctl, err := reg.Get(chi.URLParam(r, "sessionID"))
		if err != nil {
			return true
		}
		return ctl.TakerID() == rbac.SubjectFromContext(r.Context())
	}
}

func lookup(w http.ResponseWriter, r *http.Request, reg *session.Registry) (*session.Controller, bool) {
	ctl, err := reg.Get(chi.URLParam(r, "sessionID"))
	if err != nil {
		http.Error(w, err.Error(), 404)
		return nil, false
	}
	return ctl, true
}
