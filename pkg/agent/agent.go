// Package agent defines the agent capability consumed by the pipeline and
// the retry controller, and provides ToolAgent, a tool-calling loop over a
// genx.Generator.
package agent

import (
	"context"
	"errors"

	"github.com/tablefinder/tablefinder/pkg/convo"
)

// ErrDone is returned by EventStream.Next when the stream is exhausted.
var ErrDone = errors.New("agent: done")

// ErrMaxSteps is returned when a ToolAgent keeps calling tools past its step
// limit.
var ErrMaxSteps = errors.New("agent: too many steps")

// EventStream is a finite, non-restartable sequence of events.
type EventStream interface {
	// Next returns the next event, ErrDone at the end, or the error that
	// stopped the agent.
	Next() (convo.Event, error)

	// Close releases the stream and cancels any in-flight model or tool
	// call. It is safe to call more than once.
	Close() error
}

// Agent answers a conversation with a stream of events.
type Agent interface {
	Name() string
	Run(ctx context.Context, conv *convo.Conversation, sessionID string) (EventStream, error)
}

// Func adapts a function to the Agent interface.
type Func struct {
	AgentName string
	Fn        func(ctx context.Context, conv *convo.Conversation, sessionID string) (EventStream, error)
}

func (f *Func) Name() string { return f.AgentName }

func (f *Func) Run(ctx context.Context, conv *convo.Conversation, sessionID string) (EventStream, error) {
	return f.Fn(ctx, conv, sessionID)
}

// SliceStream replays a fixed list of events, then returns Err (or ErrDone
// when Err is nil).
type SliceStream struct {
	Events []convo.Event
	Err    error

	pos    int
	closed bool
}

// Replay returns a stream over events.
func Replay(events ...convo.Event) *SliceStream {
	return &SliceStream{Events: events}
}

func (s *SliceStream) Next() (convo.Event, error) {
	if s.closed {
		return nil, ErrDone
	}
	if s.pos < len(s.Events) {
		e := s.Events[s.pos]
		s.pos++
		return e, nil
	}
	if s.Err != nil {
		return nil, s.Err
	}
	return nil, ErrDone
}

func (s *SliceStream) Close() error {
	s.closed = true
	return nil
}
