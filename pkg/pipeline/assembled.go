package pipeline

import (
	"context"
	"errors"

	"github.com/tablefinder/tablefinder/pkg/agent"
	"github.com/tablefinder/tablefinder/pkg/convo"
	"github.com/tablefinder/tablefinder/pkg/progress"
)

// Assembled returns the executor as an agent whose stream ends with one extra
// assistant message carrying the assembled final answer, the same content
// Stream yields as its final update. Callers that take the last assistant
// message as the answer, such as the retry controller, then see the
// narrative and the presenter's payload instead of the presenter's raw text.
//
// When assembly fails the extra message carries the last stage's answer
// unchanged, so a contract check downstream reports why.
func (e *Executor) Assembled() agent.Agent {
	return assembled{e}
}

type assembled struct {
	exec *Executor
}

func (a assembled) Name() string {
	return a.exec.name
}

func (a assembled) Run(ctx context.Context, conv *convo.Conversation, sessionID string) (agent.EventStream, error) {
	s, err := a.exec.Run(ctx, conv, sessionID)
	if err != nil {
		return nil, err
	}
	return &assembledRun{exec: a.exec, conv: conv, inner: s}, nil
}

type assembledRun struct {
	exec  *Executor
	conv  *convo.Conversation
	inner agent.EventStream
	agg   progress.Aggregate
	done  bool
}

func (r *assembledRun) Next() (convo.Event, error) {
	if r.done {
		return nil, agent.ErrDone
	}
	evt, err := r.inner.Next()
	if errors.Is(err, agent.ErrDone) {
		r.done = true
		return r.final()
	}
	if err != nil {
		return nil, err
	}
	evt = r.exec.display(evt)
	_, r.agg = progress.Classify(evt, r.agg)
	return evt, nil
}

func (r *assembledRun) final() (convo.Event, error) {
	last, ok := r.conv.LastAssistant()
	if !ok {
		return nil, ErrNoTerminalResponse
	}
	text, err := r.exec.Final(r.conv, r.agg)
	if err != nil {
		text = last.Text
	}
	return &convo.AssistantText{Text: text, Agent: r.exec.name}, nil
}

func (r *assembledRun) Close() error {
	return r.inner.Close()
}
