package http

import (
	"encoding/json"
	"errors"
	"net/http"

	"github.com/go-chi/chi/v5"

	"github.com/ledgerprep/tbs/internal/rbac"
	"github.com/ledgerprep/tbs/internal/sim"
	"github.com/ledgerprep/tbs/internal/store"
)

// UploadSimulationHandler accepts a full simulation definition, answer keys
// included. Authoring-side only.
func UploadSimulationHandler(st store.SimulationStore) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		var s sim.Simulation
		if err := json.NewDecoder(r.Body).Decode(&s); err != nil {
			http.Error(w, "bad json", 400)
			return
		}
		if err := st.PutSimulation(r.Context(), s); err != nil {
			http.Error(w, err.Error(), 400)
			return
		}
		_ = json.NewEncoder(w).Encode(map[string]string{"id": s.ID})
	}
}

// GetSimulationHandler serves a definition. Takers get the answer keys
// stripped; authoring roles get the full payload.
func GetSimulationHandler(st store.SimulationStore) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		id := chi.URLParam(r, "simID")
		full := rbac.NewChecker(nil).Has(rbac.RoleFromContext(r.Context()), "simulation:view-full")
		var (
			s   sim.Simulation
			err error
		)
		if full {
			s, err = st.GetSimulation(r.Context(), id)
		} else {
			s, err = st.GetSimulationForTaker(r.Context(), id)
		}
		if err != nil {
			if errors.Is(err, store.ErrSimulationNotFound) {
				http.Error(w, err.Error(), 404)
				return
			}
			http.Error(w, err.Error(), 500)
			return
		}
		_ = json.NewEncoder(w).Encode(s)
	}
}

func ListSimulationsHandler(st store.SimulationStore) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		sums, err := st.ListSimulations(r.Context())
		if err != nil {
			http.Error(w, err.Error(), 500)
			return
		}
		_ = json.NewEncoder(w).Encode(sums)
	}
}
