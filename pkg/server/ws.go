package server

import (
	"context"
	"log/slog"
	"net/http"

	"github.com/gorilla/websocket"

	"github.com/tablefinder/tablefinder/pkg/convo"
)

// wsUpdate is a convo.Update tagged with its session, as sent over the
// WebSocket.
type wsUpdate struct {
	SessionID string `json:"session_id"`
	convo.Update
}

func (s *Server) upgrader() *websocket.Upgrader {
	return &websocket.Upgrader{
		CheckOrigin: func(r *http.Request) bool {
			origin := r.Header.Get("Origin")
			return origin == "" || s.cfg.AllowOrigin.MatchString(origin)
		},
	}
}

// handleWS answers AskRequest messages one at a time. Closing the connection
// cancels the answer in flight.
func (s *Server) handleWS(w http.ResponseWriter, r *http.Request) {
	ws, err := s.upgrader().Upgrade(w, r, nil)
	if err != nil {
		slog.Debug("server: websocket upgrade", "err", err)
		return
	}
	defer ws.Close()

	ctx, cancel := context.WithCancel(r.Context())
	defer cancel()

	reqs := make(chan AskRequest)
	go func() {
		defer close(reqs)
		defer cancel()
		for {
			var req AskRequest
			if err := ws.ReadJSON(&req); err != nil {
				if !websocket.IsCloseError(err, websocket.CloseNormalClosure, websocket.CloseGoingAway) {
					slog.Debug("server: websocket read", "err", err)
				}
				return
			}
			select {
			case reqs <- req:
			case <-ctx.Done():
				return
			}
		}
	}()

	for req := range reqs {
		if err := req.normalize(); err != nil {
			if err := ws.WriteJSON(map[string]string{"error": err.Error()}); err != nil {
				return
			}
			continue
		}
		slog.Info("server: ws ask", "session", req.SessionID, "query", req.Query)
		for u := range s.answer(ctx, req.Query, req.SessionID) {
			if err := ws.WriteJSON(wsUpdate{SessionID: req.SessionID, Update: u}); err != nil {
				slog.Debug("server: websocket write", "err", err)
				return
			}
		}
	}
}
