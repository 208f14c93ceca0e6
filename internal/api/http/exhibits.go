package http

import (
	"encoding/json"
	"io"
	"net/http"
	"strings"

	"github.com/go-chi/chi/v5"

	"github.com/ledgerprep/tbs/internal/storage"
)

// UploadExhibitHandler stores one exhibit document (source doc, memo,
// ledger excerpt) under a simulation. Authoring side only.
func UploadExhibitHandler(es storage.ExhibitStore) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		simID := chi.URLParam(r, "simID")
		f, hdr, err := r.FormFile("file")
		if err != nil {
			http.Error(w, "file required", http.StatusBadRequest)
			return
		}
		defer f.Close()

		name := r.FormValue("name")
		if name == "" {
			name = hdr.Filename
		}
		key, err := es.Put(simID+"/"+name, f)
		if err != nil {
			http.Error(w, "store error: "+err.Error(), http.StatusInternalServerError)
			return
		}
		_ = json.NewEncoder(w).Encode(map[string]string{"key": key})
	}
}

// ServeExhibitHandler returns the document at whatever follows /exhibits/.
// Read-only: the session core only tracks focus, never content.
func ServeExhibitHandler(es storage.ExhibitStore) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		key := strings.TrimPrefix(chi.URLParam(r, "*"), "/")
		rc, err := es.Get(key)
		if err != nil {
			http.Error(w, "not found", http.StatusNotFound)
			return
		}
		defer rc.Close()
		w.Header().Set("Content-Type", "application/octet-stream")
		_, _ = io.Copy(w, rc)
	}
}
