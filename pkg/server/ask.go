package server

import (
	"encoding/json"
	"fmt"
	"log/slog"
	"net/http"
	"strings"

	"github.com/google/uuid"
)

// AskRequest is the body of POST /v1/ask and of WebSocket messages.
type AskRequest struct {
	Query     string `json:"query"`
	SessionID string `json:"session_id,omitempty"`
}

func (r *AskRequest) normalize() error {
	r.Query = strings.TrimSpace(r.Query)
	if r.Query == "" {
		return fmt.Errorf("query is required")
	}
	if r.SessionID == "" {
		r.SessionID = uuid.NewString()
	}
	return nil
}

// handleAsk streams updates as server-sent events. Each event's data is one
// JSON-encoded convo.Update; the last one has is_task_complete set.
func (s *Server) handleAsk(w http.ResponseWriter, r *http.Request) {
	var req AskRequest
	if err := json.NewDecoder(http.MaxBytesReader(w, r.Body, 1<<20)).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid request body")
		return
	}
	if err := req.normalize(); err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}
	flusher, ok := w.(http.Flusher)
	if !ok {
		writeError(w, http.StatusInternalServerError, "streaming not supported")
		return
	}

	h := w.Header()
	h.Set("Content-Type", "text/event-stream")
	h.Set("Cache-Control", "no-cache")
	h.Set("Connection", "keep-alive")
	h.Set("X-Session-ID", req.SessionID)
	w.WriteHeader(http.StatusOK)

	slog.Info("server: ask", "session", req.SessionID, "query", req.Query)
	for u := range s.answer(r.Context(), req.Query, req.SessionID) {
		data, err := json.Marshal(u)
		if err != nil {
			slog.Error("server: encode update", "err", err)
			return
		}
		if _, err := fmt.Fprintf(w, "data: %s\n\n", data); err != nil {
			return
		}
		flusher.Flush()
	}
}
