package server

import (
	"log/slog"
	"net/http"

	"github.com/tablefinder/tablefinder/pkg/transcript"
)

func (s *Server) handleSessions(w http.ResponseWriter, r *http.Request) {
	ids, err := s.cfg.Transcripts.Sessions(r.Context())
	if err != nil {
		slog.Error("server: list sessions", "err", err)
		writeError(w, http.StatusInternalServerError, "list sessions failed")
		return
	}
	if ids == nil {
		ids = []string{}
	}
	writeJSON(w, http.StatusOK, map[string]any{"sessions": ids})
}

func (s *Server) handleSession(w http.ResponseWriter, r *http.Request) {
	id := r.PathValue("id")
	records, err := s.cfg.Transcripts.List(r.Context(), id)
	if err != nil {
		slog.Error("server: list transcript", "session", id, "err", err)
		writeError(w, http.StatusInternalServerError, "read transcript failed")
		return
	}
	if len(records) == 0 {
		writeError(w, http.StatusNotFound, "unknown session")
		return
	}
	writeJSON(w, http.StatusOK, struct {
		SessionID string              `json:"session_id"`
		Records   []transcript.Record `json:"records"`
	}{id, records})
}
