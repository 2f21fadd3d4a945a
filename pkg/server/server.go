// Package server exposes the restaurant agent over HTTP: a server-sent event
// stream per question, a WebSocket for conversational clients, transcript
// lookup and the static images referenced by UI answers.
package server

import (
	"context"
	"encoding/json"
	"errors"
	"iter"
	"log/slog"
	"net/http"
	"regexp"
	"time"

	"github.com/tablefinder/tablefinder/pkg/convo"
	"github.com/tablefinder/tablefinder/pkg/pipeline"
	"github.com/tablefinder/tablefinder/pkg/retry"
	"github.com/tablefinder/tablefinder/pkg/storage"
	"github.com/tablefinder/tablefinder/pkg/transcript"
)

// ProcessingMessage is sent before the first agent event of every request.
const ProcessingMessage = "Finding restaurants that match your criteria..."

// DefaultAllowOrigin matches browser clients served from any localhost port.
var DefaultAllowOrigin = regexp.MustCompile(`^http://localhost:\d+$`)

// AnswerFunc streams the updates answering one query. An error ends the
// stream; the server turns it into a terminal fallback update.
type AnswerFunc func(ctx context.Context, query, sessionID string) iter.Seq2[convo.Update, error]

// FromController answers with a retry controller.
func FromController(c *retry.Controller) AnswerFunc {
	return func(ctx context.Context, query, sessionID string) iter.Seq2[convo.Update, error] {
		return func(yield func(convo.Update, error) bool) {
			for u := range c.Stream(ctx, query, sessionID) {
				if !yield(u, nil) {
					return
				}
			}
		}
	}
}

// FromPipeline answers with a pipeline executor.
func FromPipeline(e *pipeline.Executor) AnswerFunc {
	return e.Stream
}

// Config configures a Server.
type Config struct {
	// Answer produces the updates for a query. Required.
	Answer AnswerFunc

	// Card is served at /.well-known/agent.json. Nil disables it.
	Card *AgentCard

	// Transcripts backs /v1/sessions. Nil disables those routes.
	Transcripts transcript.Store

	// Static serves StaticDir of the source under /static/. Nil disables it.
	Static    storage.Source
	StaticDir string

	// AllowOrigin selects the origins allowed by CORS. Nil means
	// DefaultAllowOrigin.
	AllowOrigin *regexp.Regexp

	// RequestTimeout bounds one answer. Zero means no limit.
	RequestTimeout time.Duration
}

// Server is the HTTP front of the agent.
type Server struct {
	cfg Config
	mux *http.ServeMux
}

// New builds a Server.
func New(cfg Config) (*Server, error) {
	if cfg.Answer == nil {
		return nil, errors.New("server: Answer is required")
	}
	if cfg.AllowOrigin == nil {
		cfg.AllowOrigin = DefaultAllowOrigin
	}
	s := &Server{cfg: cfg, mux: http.NewServeMux()}
	s.setupRoutes()
	return s, nil
}

func (s *Server) setupRoutes() {
	s.mux.HandleFunc("GET /healthz", func(w http.ResponseWriter, r *http.Request) {
		writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
	})
	s.mux.HandleFunc("POST /v1/ask", s.handleAsk)
	s.mux.HandleFunc("GET /v1/ws", s.handleWS)
	if s.cfg.Card != nil {
		s.mux.HandleFunc("GET /.well-known/agent.json", func(w http.ResponseWriter, r *http.Request) {
			writeJSON(w, http.StatusOK, s.cfg.Card)
		})
	}
	if s.cfg.Transcripts != nil {
		s.mux.HandleFunc("GET /v1/sessions", s.handleSessions)
		s.mux.HandleFunc("GET /v1/sessions/{id}", s.handleSession)
	}
	if s.cfg.Static != nil {
		s.mux.Handle("/static/", http.StripPrefix("/static", storage.Handler(s.cfg.Static, s.cfg.StaticDir)))
	}
}

// Handler returns the root handler with CORS applied.
func (s *Server) Handler() http.Handler {
	return s.cors(s.mux)
}

// ListenAndServe serves on addr until ctx is done, then shuts down
// gracefully.
func (s *Server) ListenAndServe(ctx context.Context, addr string) error {
	srv := &http.Server{
		Addr:              addr,
		Handler:           s.Handler(),
		ReadHeaderTimeout: 10 * time.Second,
	}
	errCh := make(chan error, 1)
	go func() {
		slog.Info("server: listening", "addr", addr)
		errCh <- srv.ListenAndServe()
	}()
	select {
	case err := <-errCh:
		if errors.Is(err, http.ErrServerClosed) {
			return nil
		}
		return err
	case <-ctx.Done():
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer cancel()
		slog.Info("server: shutting down")
		return srv.Shutdown(shutdownCtx)
	}
}

func (s *Server) cors(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		origin := r.Header.Get("Origin")
		if origin != "" && s.cfg.AllowOrigin.MatchString(origin) {
			h := w.Header()
			h.Set("Access-Control-Allow-Origin", origin)
			h.Set("Access-Control-Allow-Credentials", "true")
			h.Add("Vary", "Origin")
			if r.Method == http.MethodOptions {
				h.Set("Access-Control-Allow-Methods", "GET, POST, OPTIONS")
				if reqHeaders := r.Header.Get("Access-Control-Request-Headers"); reqHeaders != "" {
					h.Set("Access-Control-Allow-Headers", reqHeaders)
				}
				w.WriteHeader(http.StatusNoContent)
				return
			}
		}
		next.ServeHTTP(w, r)
	})
}

// answer runs the configured AnswerFunc and guarantees a terminal update.
func (s *Server) answer(ctx context.Context, query, session string) iter.Seq[convo.Update] {
	return func(yield func(convo.Update) bool) {
		if s.cfg.RequestTimeout > 0 {
			var cancel context.CancelFunc
			ctx, cancel = context.WithTimeout(ctx, s.cfg.RequestTimeout)
			defer cancel()
		}
		if !yield(convo.Progress(ProcessingMessage)) {
			return
		}
		for u, err := range s.cfg.Answer(ctx, query, session) {
			if err != nil {
				slog.Error("server: answer failed", "session", session, "err", err)
				yield(convo.Final(retry.NoResponseMessage))
				return
			}
			if !yield(u) {
				return
			}
			if u.Complete {
				return
			}
		}
	}
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(v); err != nil {
		slog.Debug("server: write response", "err", err)
	}
}

func writeError(w http.ResponseWriter, status int, msg string) {
	writeJSON(w, status, map[string]string{"error": msg})
}
