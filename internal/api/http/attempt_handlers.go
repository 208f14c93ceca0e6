package http

import (
	"encoding/json"
	"errors"
	"net/http"
	"strconv"

	"github.com/go-chi/chi/v5"

	"github.com/ledgerprep/tbs/internal/rbac"
	"github.com/ledgerprep/tbs/internal/store"
)

func GetAttemptHandler(st store.AttemptStore) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		rec, err := st.GetAttempt(r.Context(), chi.URLParam(r, "attemptID"))
		if err != nil {
			if errors.Is(err, store.ErrAttemptNotFound) {
				http.Error(w, err.Error(), 404)
				return
			}
			http.Error(w, err.Error(), 500)
			return
		}
		// Takers see their own attempts only.
		role := rbac.RoleFromContext(r.Context())
		if !rbac.NewChecker(nil).Has(role, "attempt:view-all") &&
			rec.TakerID != rbac.SubjectFromContext(r.Context()) {
			http.Error(w, "forbidden", http.StatusForbidden)
			return
		}
		_ = json.NewEncoder(w).Encode(rec)
	}
}

// ListAttemptsHandler serves the review dashboard. Takers are pinned to
// their own attempts regardless of query parameters.
func ListAttemptsHandler(st store.AttemptStore) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		q := r.URL.Query()
		opts := store.AttemptListOpts{
			SimulationID: q.Get("simulation_id"),
			TakerID:      q.Get("taker_id"),
		}
		if v := q.Get("limit"); v != "" {
			opts.Limit, _ = strconv.Atoi(v)
		}
		if v := q.Get("offset"); v != "" {
			opts.Offset, _ = strconv.Atoi(v)
		}
		role := rbac.RoleFromContext(r.Context())
		if !rbac.NewChecker(nil).Has(role, "attempt:view-all") {
			opts.TakerID = rbac.SubjectFromContext(r.Context())
		}
		recs, err := st.ListAttempts(r.Context(), opts)
		if err != nil {
			http.Error(w, err.Error(), 500)
			return
		}
		_ = json.NewEncoder(w).Encode(recs)
	}
}
