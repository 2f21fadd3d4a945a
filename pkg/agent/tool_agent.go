package agent

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"

	"github.com/tablefinder/tablefinder/pkg/convo"
	"github.com/tablefinder/tablefinder/pkg/genx"
)

var _ Agent = (*ToolAgent)(nil)

// DefaultMaxSteps bounds the number of model calls in one run.
const DefaultMaxSteps = 8

// Phase is the execution phase of a ToolAgent run.
type Phase string

const (
	PhaseThinking Phase = "thinking"
	PhaseTool     Phase = "tool"
	PhaseFinished Phase = "finished"
)

// ToolAgentConfig describes a ToolAgent.
type ToolAgentConfig struct {
	// Name identifies the agent in events and logs.
	Name string `json:"name" yaml:"name"`

	// Model is the generator name passed to GenerateStream and reported in
	// event metadata.
	Model string `json:"model" yaml:"model"`

	// Prompt is the system instruction.
	Prompt string `json:"prompt" yaml:"prompt"`

	// MaxSteps bounds model calls per run. Zero means DefaultMaxSteps.
	MaxSteps int `json:"max_steps,omitzero" yaml:"max_steps,omitzero"`

	Params *genx.ModelParams `json:"params,omitzero" yaml:"params,omitzero"`
}

// ToolAgent runs the think, act, observe loop: it asks the model, executes
// the tools the model calls, feeds the results back, and stops at the first
// reply without tool calls.
//
// Each run emits a ToolCallRequest and a ToolResult per tool call and ends
// with exactly one AssistantText carrying the model name and the run's
// cumulative token usage.
type ToolAgent struct {
	cfg   ToolAgentConfig
	gen   genx.Generator
	tools []*genx.FuncTool
}

// NewToolAgent creates a ToolAgent.
func NewToolAgent(gen genx.Generator, cfg ToolAgentConfig, tools ...*genx.FuncTool) (*ToolAgent, error) {
	if gen == nil {
		return nil, errors.New("agent: generator is nil")
	}
	if cfg.Name == "" {
		return nil, errors.New("agent: name is required")
	}
	if cfg.MaxSteps <= 0 {
		cfg.MaxSteps = DefaultMaxSteps
	}
	seen := make(map[string]struct{}, len(tools))
	for _, t := range tools {
		if _, ok := seen[t.Name]; ok {
			return nil, fmt.Errorf("agent %s: duplicate tool %q", cfg.Name, t.Name)
		}
		seen[t.Name] = struct{}{}
	}
	return &ToolAgent{cfg: cfg, gen: gen, tools: tools}, nil
}

func (a *ToolAgent) Name() string {
	return a.cfg.Name
}

// Run starts a run over conv. No model call happens until the first Next.
func (a *ToolAgent) Run(ctx context.Context, conv *convo.Conversation, sessionID string) (EventStream, error) {
	mcb := &genx.ModelContextBuilder{Params: a.cfg.Params}
	if a.cfg.Prompt != "" {
		mcb.PromptText(a.cfg.Name, a.cfg.Prompt)
	}
	for _, t := range a.tools {
		mcb.AddTool(t)
	}
	if err := replay(mcb, conv, a.tools); err != nil {
		return nil, fmt.Errorf("agent %s: %w", a.cfg.Name, err)
	}
	ctx, cancel := context.WithCancel(ctx)
	return &toolRun{
		agent:   a,
		ctx:     ctx,
		cancel:  cancel,
		session: sessionID,
		mcb:     mcb,
		phase:   PhaseThinking,
	}, nil
}

// replay converts conversation events into model messages.
func replay(mcb *genx.ModelContextBuilder, conv *convo.Conversation, tools []*genx.FuncTool) error {
	if conv == nil || conv.Len() == 0 {
		return errors.New("empty conversation")
	}
	byName := make(map[string]*genx.FuncTool, len(tools))
	for _, t := range tools {
		byName[t.Name] = t
	}
	for evt := range conv.Events() {
		switch e := evt.(type) {
		case *convo.UserQuery:
			mcb.UserText("", e.Text)
		case *convo.AssistantText:
			if e.Text != "" {
				mcb.ModelText(e.Agent, e.Text)
			}
		case *convo.ToolCallRequest:
			fc := &genx.FuncCall{Name: e.Name, Arguments: e.Arguments}
			if t, ok := byName[e.Name]; ok {
				fc = t.NewFuncCall(e.Arguments)
			}
			mcb.AddToolCall(e.Agent, &genx.ToolCall{ID: e.ID, FuncCall: fc})
		case *convo.ToolResult:
			mcb.AddToolResult(e.ID, e.Name, e.Result)
		case *convo.Other:
			if e.Text != "" {
				mcb.UserText("", e.Text)
			}
		}
	}
	return nil
}

type toolRun struct {
	agent   *ToolAgent
	ctx     context.Context
	cancel  context.CancelFunc
	session string
	mcb     *genx.ModelContextBuilder

	mu      sync.Mutex
	phase   Phase
	steps   int
	usage   genx.Usage
	pending []convo.Event
	calls   []*genx.ToolCall
	err     error
}

func (r *toolRun) Next() (convo.Event, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	for {
		if len(r.pending) > 0 {
			e := r.pending[0]
			r.pending = r.pending[1:]
			return e, nil
		}
		if r.err != nil {
			return nil, r.err
		}
		if err := r.ctx.Err(); err != nil {
			r.err = err
			continue
		}
		switch {
		case r.phase == PhaseFinished:
			return nil, ErrDone
		case len(r.calls) > 0:
			r.invoke()
		case r.steps >= r.agent.cfg.MaxSteps:
			r.err = fmt.Errorf("agent %s: %w (%d)", r.agent.cfg.Name, ErrMaxSteps, r.steps)
		default:
			r.think()
		}
	}
}

func (r *toolRun) think() {
	a := r.agent
	r.phase = PhaseThinking
	r.steps++
	slog.Debug("agent: thinking", "agent", a.cfg.Name, "session", r.session, "step", r.steps)

	stream, err := a.gen.GenerateStream(r.ctx, a.cfg.Model, r.mcb.Build())
	if err != nil {
		r.err = fmt.Errorf("agent %s: %w", a.cfg.Name, err)
		return
	}
	reply, err := genx.Collect(stream)
	if reply != nil {
		r.usage = r.usage.Add(reply.Usage)
	}
	if err != nil {
		r.err = fmt.Errorf("agent %s: %w", a.cfg.Name, err)
		return
	}
	if len(reply.ToolCalls) == 0 {
		r.phase = PhaseFinished
		r.pending = append(r.pending, &convo.AssistantText{
			Text:  reply.Text,
			Agent: a.cfg.Name,
			Meta:  &convo.Meta{Model: a.cfg.Model, Tokens: r.usage.Total()},
		})
		slog.Debug("agent: finished", "agent", a.cfg.Name, "session", r.session, "tokens", r.usage.Total())
		return
	}
	if reply.Text != "" {
		r.pending = append(r.pending, &convo.Other{Text: reply.Text})
	}
	for _, call := range reply.ToolCalls {
		r.pending = append(r.pending, &convo.ToolCallRequest{
			ID:        call.ID,
			Name:      call.FuncCall.Name,
			Arguments: call.FuncCall.Arguments,
			Agent:     a.cfg.Name,
		})
	}
	r.calls = reply.ToolCalls
}

// invoke runs the next queued tool call. Tool failures are reported to the
// model as the tool's result so it can recover.
func (r *toolRun) invoke() {
	a := r.agent
	r.phase = PhaseTool
	call := r.calls[0]
	r.calls = r.calls[1:]

	text, err := r.mcb.InvokeTool(r.ctx, a.cfg.Name, call)
	if err != nil {
		if ctxErr := r.ctx.Err(); ctxErr != nil {
			r.err = ctxErr
			return
		}
		slog.Warn("agent: tool failed", "agent", a.cfg.Name, "tool", call.FuncCall.Name, "error", err)
		text = fmt.Sprintf("error: %v", err)
		r.mcb.AddToolCall(a.cfg.Name, call)
		r.mcb.AddToolResult(call.ID, call.FuncCall.Name, text)
	}
	r.pending = append(r.pending, &convo.ToolResult{
		ID:     call.ID,
		Name:   call.FuncCall.Name,
		Result: text,
	})
}

func (r *toolRun) Close() error {
	r.cancel()
	return nil
}
