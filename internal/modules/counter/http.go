package counter

import (
	"encoding/json"
	"net/http"
	"strconv"

	"github.com/go-chi/chi/v5"
)

// router serves GET /count and POST /reset.
func (c *Counter) router() http.Handler {
	r := chi.NewRouter()
	r.Get("/count", func(w http.ResponseWriter, _ *http.Request) {
		c.mu.Lock()
		body := map[string]any{"count": c.count, "last_action": c.lastAction}
		c.mu.Unlock()
		writeJSON(w, http.StatusOK, body)
	})
	r.Post("/reset", func(w http.ResponseWriter, _ *http.Request) {
		c.reset()
		w.WriteHeader(http.StatusNoContent)
	})
	return r
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(v) //nolint:errcheck // Recorder writes cannot fail
}

func formatCount(v float64) string {
	return strconv.FormatFloat(v, 'f', -1, 64)
}
