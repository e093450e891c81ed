package feeder

import (
	"encoding/json"
	"errors"
	"io"
	"net/http"

	"github.com/go-chi/chi/v5"

	"granule-reprocessing/internal/blobstore"
)

// Router exposes the manual trigger endpoint. The body is an optional
// RunRequest; an empty body runs with defaults.
func (f *Feeder) Router() chi.Router {
	r := chi.NewRouter()
	r.Post("/run", f.handleRun)
	return r
}

func (f *Feeder) handleRun(w http.ResponseWriter, r *http.Request) {
	var req RunRequest
	body, err := io.ReadAll(r.Body)
	if err != nil {
		writeJSON(w, http.StatusBadRequest, map[string]string{"error": "reading request body"})
		return
	}
	if len(body) > 0 {
		if err := json.Unmarshal(body, &req); err != nil {
			writeJSON(w, http.StatusBadRequest, map[string]string{"error": "invalid run request: " + err.Error()})
			return
		}
	}

	result, err := f.Run(r.Context(), req)
	if err != nil {
		status := http.StatusInternalServerError
		if errors.Is(err, blobstore.ErrConflict) {
			status = http.StatusConflict
		}
		writeJSON(w, status, map[string]string{"error": err.Error()})
		return
	}
	writeJSON(w, http.StatusOK, result)
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}
