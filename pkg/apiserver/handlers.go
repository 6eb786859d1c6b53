package apiserver

import (
	"encoding/json"
	"io"
	"net/http"
)

func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		writeError(w, http.StatusMethodNotAllowed, "method_not_allowed", "method not allowed", nil)
		return
	}
	writeJSON(w, http.StatusOK, map[string]string{"message": "OK"})
}

func (s *Server) handleSources(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		writeError(w, http.StatusMethodNotAllowed, "method_not_allowed", "method not allowed", nil)
		return
	}
	sources := s.sources
	if sources == nil {
		sources = []string{}
	}
	writeJSON(w, http.StatusOK, sources)
}

type taskRequest struct {
	PluginID string `json:"pluginId"`
	Input    any    `json:"input"`
}

// handleTask runs a Task synchronously against the local coordinator,
// returning plain "OK" on success.
func (s *Server) handleTask(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		writeError(w, http.StatusMethodNotAllowed, "method_not_allowed", "method not allowed", nil)
		return
	}

	body, err := io.ReadAll(r.Body)
	if err != nil {
		writeError(w, http.StatusBadRequest, "invalid_request", "failed to read request body", nil)
		return
	}
	var req taskRequest
	if err := json.Unmarshal(body, &req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid_request", "failed to decode request body", nil)
		return
	}
	if req.PluginID == "" {
		writeError(w, http.StatusBadRequest, "invalid_request", "pluginId is required", nil)
		return
	}

	if _, err := s.coordinator.Run(r.Context(), req.PluginID, req.Input); err != nil {
		writeTaskError(w, err)
		return
	}

	w.Header().Set("Content-Type", "text/plain")
	w.WriteHeader(http.StatusOK)
	_, _ = w.Write([]byte("OK"))
}
