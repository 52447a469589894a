package api

import (
	"encoding/json"
	"net/http"

	"github.com/recelilious/Anicargo/internal/apierr"
	"github.com/recelilious/Anicargo/internal/log"
)

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if v != nil {
		_ = json.NewEncoder(w).Encode(v)
	}
}

// writeError renders any error as the taxonomy's {"error": string} body at
// its mapped HTTP status. Unclassified errors default to 500
// without leaking their underlying message.
func writeError(w http.ResponseWriter, r *http.Request, err error) {
	kind, msg := apierr.Classify(err)
	if kind == apierr.KindInternal {
		logger := log.WithComponentFromContext(r.Context(), "api")
		logger.Error().Err(err).Str("path", r.URL.Path).Msg("internal error")
		msg = "internal error"
	}
	writeJSON(w, kind.Status(), map[string]string{"error": msg})
}
