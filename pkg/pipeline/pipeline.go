// Package pipeline runs a fixed sequence of specialist agents over one shared
// conversation, streaming every intermediate event as it happens.
//
// Stages run strictly in order; each stage's events are appended to the
// shared conversation before the next stage starts, and each stage sees the
// part of the conversation its Input shaper selects.
package pipeline

import (
	"context"
	"errors"
	"fmt"
	"iter"
	"log/slog"
	"strings"

	"github.com/tablefinder/tablefinder/pkg/a2ui"
	"github.com/tablefinder/tablefinder/pkg/agent"
	"github.com/tablefinder/tablefinder/pkg/convo"
	"github.com/tablefinder/tablefinder/pkg/progress"
)

var _ agent.Agent = (*Executor)(nil)

// ErrNoTerminalResponse is returned when a stage finishes without a final
// assistant message.
var ErrNoTerminalResponse = errors.New("pipeline: stage produced no final response")

// StageError attributes a failure to a stage.
type StageError struct {
	Stage string
	Err   error
}

func (e *StageError) Error() string {
	return fmt.Sprintf("pipeline: stage %s: %v", e.Stage, e.Err)
}

func (e *StageError) Unwrap() error {
	return e.Err
}

// Stage is one step of a pipeline.
type Stage struct {
	Name  string
	Agent agent.Agent

	// Input selects what the stage's agent sees. Nil passes a copy of the
	// whole conversation.
	Input convo.Shaper
}

// Mode selects how Stream builds the final answer.
type Mode int

const (
	// ModeUI expects the last stage to answer with text, the A2UI delimiter
	// and a payload. The final answer is the progress narrative followed by
	// that payload.
	ModeUI Mode = iota

	// ModeText appends the progress narrative to the last stage's text.
	ModeText
)

func (m Mode) String() string {
	if m == ModeText {
		return "text"
	}
	return "ui"
}

// Option configures an Executor.
type Option func(*Executor)

// WithMode sets the final answer mode. The default is ModeUI.
func WithMode(m Mode) Option {
	return func(e *Executor) { e.mode = m }
}

// Executor runs stages in order. It is immutable after construction and may
// serve concurrent requests; each run owns its conversation.
type Executor struct {
	name   string
	stages []Stage
	mode   Mode
}

// New validates stages and returns an Executor.
func New(name string, stages []Stage, opts ...Option) (*Executor, error) {
	if len(stages) == 0 {
		return nil, errors.New("pipeline: no stages")
	}
	seen := make(map[string]struct{}, len(stages))
	for i, st := range stages {
		if st.Name == "" {
			return nil, fmt.Errorf("pipeline: stage %d has no name", i)
		}
		if st.Agent == nil {
			return nil, fmt.Errorf("pipeline: stage %s has no agent", st.Name)
		}
		if _, ok := seen[st.Name]; ok {
			return nil, fmt.Errorf("pipeline: duplicate stage %s", st.Name)
		}
		seen[st.Name] = struct{}{}
	}
	e := &Executor{name: name, stages: stages}
	for _, opt := range opts {
		opt(e)
	}
	return e, nil
}

// Restaurant returns the search, data, presenter stage list. The data and
// presenter stages see only the original query and the previous stage's
// answer.
func Restaurant(search, data, presenter agent.Agent) []Stage {
	return []Stage{
		{Name: "search", Agent: search},
		{Name: "data", Agent: data, Input: convo.QueryAndLast},
		{Name: "presenter", Agent: presenter, Input: convo.QueryAndLast},
	}
}

func (e *Executor) Name() string {
	return e.name
}

// Mode returns the final answer mode.
func (e *Executor) Mode() Mode {
	return e.mode
}

// Stages returns the stage names in execution order.
func (e *Executor) Stages() []string {
	names := make([]string, len(e.stages))
	for i, st := range e.stages {
		names[i] = st.Name
	}
	return names
}

// Run executes the stages lazily: a stage starts when the previous one is
// drained. Every event is appended to conv before it is returned.
func (e *Executor) Run(ctx context.Context, conv *convo.Conversation, sessionID string) (agent.EventStream, error) {
	if conv == nil || conv.Len() == 0 {
		return nil, errors.New("pipeline: empty conversation")
	}
	ctx, cancel := context.WithCancel(ctx)
	return &run{exec: e, ctx: ctx, cancel: cancel, conv: conv, session: sessionID}, nil
}

// Stream runs the pipeline for query and yields one progress update per
// event, then the final answer. Errors end the sequence.
func (e *Executor) Stream(ctx context.Context, query, sessionID string) iter.Seq2[convo.Update, error] {
	return func(yield func(convo.Update, error) bool) {
		conv := convo.New(query)
		s, err := e.Run(ctx, conv, sessionID)
		if err != nil {
			yield(convo.Update{}, err)
			return
		}
		defer s.Close()

		var (
			agg progress.Aggregate
			msg string
		)
		for {
			evt, err := s.Next()
			if errors.Is(err, agent.ErrDone) {
				break
			}
			if err != nil {
				yield(convo.Update{}, err)
				return
			}
			msg, agg = progress.Classify(e.display(evt), agg)
			if !yield(convo.Progress(msg), nil) {
				return
			}
		}
		final, err := e.Final(conv, agg)
		if err != nil {
			yield(convo.Update{}, err)
			return
		}
		slog.Debug("pipeline: done", "pipeline", e.name, "session", sessionID, "agg", agg.Summary())
		yield(convo.Final(final), nil)
	}
}

// display hides the A2UI payload of assistant messages from progress
// messages, so the narrative never carries a delimiter of its own.
func (e *Executor) display(evt convo.Event) convo.Event {
	a, ok := evt.(*convo.AssistantText)
	if !ok || e.mode != ModeUI {
		return evt
	}
	text, _, err := a2ui.Split(a.Text)
	if err != nil {
		return evt
	}
	cp := *a
	cp.Text = strings.TrimRight(text, "\n")
	return &cp
}

// Final builds the final answer from a completed conversation and its
// progress aggregate. In ModeUI a last answer without the delimiter fails
// with a2ui.ErrMissingDelimiter.
func (e *Executor) Final(conv *convo.Conversation, agg progress.Aggregate) (string, error) {
	last, ok := conv.LastAssistant()
	if !ok {
		return "", ErrNoTerminalResponse
	}
	if e.mode == ModeText {
		return last.Text + "\n" + agg.Narrative, nil
	}
	_, payload, err := a2ui.Split(last.Text)
	if err != nil {
		return "", fmt.Errorf("pipeline: final answer: %w", err)
	}
	return a2ui.Assemble(agg.Narrative, payload), nil
}

type run struct {
	exec    *Executor
	ctx     context.Context
	cancel  context.CancelFunc
	conv    *convo.Conversation
	session string

	idx      int
	cur      agent.EventStream
	sawFinal bool
	err      error
}

func (r *run) Next() (convo.Event, error) {
	for {
		if r.err != nil {
			return nil, r.err
		}
		if r.cur == nil {
			if r.idx >= len(r.exec.stages) {
				return nil, agent.ErrDone
			}
			r.start(r.exec.stages[r.idx])
			continue
		}
		st := r.exec.stages[r.idx]
		evt, err := r.cur.Next()
		switch {
		case errors.Is(err, agent.ErrDone):
			r.finishStage()
			if !r.sawFinal {
				r.err = &StageError{Stage: st.Name, Err: ErrNoTerminalResponse}
				continue
			}
			slog.Debug("pipeline: stage done", "stage", st.Name, "session", r.session)
			r.idx++
			continue
		case err != nil:
			r.finishStage()
			r.err = &StageError{Stage: st.Name, Err: err}
			continue
		case evt == nil:
			continue
		}
		if _, ok := evt.(*convo.AssistantText); ok {
			r.sawFinal = true
		}
		r.conv.Append(evt)
		return evt, nil
	}
}

func (r *run) start(st Stage) {
	if err := r.ctx.Err(); err != nil {
		r.err = err
		return
	}
	input := st.Input
	if input == nil {
		input = func(c *convo.Conversation) *convo.Conversation { return convo.From(c.Snapshot()...) }
	}
	slog.Debug("pipeline: stage start", "stage", st.Name, "agent", st.Agent.Name(), "session", r.session)
	s, err := st.Agent.Run(r.ctx, input(r.conv), r.session)
	if err != nil {
		r.err = &StageError{Stage: st.Name, Err: err}
		return
	}
	r.cur = s
	r.sawFinal = false
}

func (r *run) finishStage() {
	if r.cur != nil {
		r.cur.Close()
		r.cur = nil
	}
}

func (r *run) Close() error {
	r.finishStage()
	r.cancel()
	return nil
}
