// Package transcript persists the attempts of every answered request, keyed
// by session, so operators can inspect how an answer was produced.
//
// The package includes a BadgerDB-backed implementation for production use and
// an in-memory implementation for testing.
package transcript

import (
	"context"
	"errors"
	"log/slog"
	"time"

	"github.com/tablefinder/tablefinder/pkg/retry"
)

// ErrInvalidSession is returned for an empty session id.
var ErrInvalidSession = errors.New("transcript: invalid session id")

// Record is one stored attempt.
type Record struct {
	Session  string        `json:"session" msgpack:"session"`
	Agent    string        `json:"agent" msgpack:"agent"`
	Attempt  retry.Attempt `json:"attempt" msgpack:"attempt"`
	Recorded time.Time     `json:"recorded" msgpack:"recorded"`
}

// Store keeps records per session.
type Store interface {
	// Append stores r under r.Session.
	Append(ctx context.Context, r Record) error

	// List returns the records of a session in the order they were appended.
	List(ctx context.Context, session string) ([]Record, error)

	// Sessions returns the ids of all sessions with records, sorted.
	Sessions(ctx context.Context) ([]string, error)

	// Close releases any resources held by the store.
	Close() error
}

// Recorder returns a retry observer that appends every finished attempt of
// agent to s. Storage errors are logged, never returned to the request.
func Recorder(s Store, agent string) retry.Observer {
	return func(session string, a retry.Attempt) {
		if session == "" {
			return
		}
		ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		err := s.Append(ctx, Record{Session: session, Agent: agent, Attempt: a, Recorded: time.Now()})
		if err != nil {
			slog.Error("transcript: append", "session", session, "attempt", a.N, "err", err)
		}
	}
}
