package apiserver

import (
	"encoding/json"
	"errors"
	"net/http"

	"github.com/megayours/megaforwarder/pkg/oracleerr"
)

func writeJSON(w http.ResponseWriter, status int, body any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(body)
}

// writeError mirrors the peer server's { error: kind, context } error
// envelope, reused here for the external API.
func writeError(w http.ResponseWriter, status int, kind, message string, errCtx map[string]any) {
	body := map[string]any{"error": message}
	if kind != "" {
		body["error"] = kind
	}
	if errCtx != nil {
		body["context"] = errCtx
	}
	writeJSON(w, status, body)
}

// writeTaskError maps a Task's terminal error onto the HTTP response,
// reusing the error's own Kind-derived status where available.
func writeTaskError(w http.ResponseWriter, err error) {
	var oe *oracleerr.Error
	if errors.As(err, &oe) {
		writeError(w, oe.HTTPStatus(), string(oe.Kind), oe.Message, oe.Context)
		return
	}
	writeError(w, http.StatusInternalServerError, "internal_error", err.Error(), nil)
}
