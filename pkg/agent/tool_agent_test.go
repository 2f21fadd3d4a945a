package agent_test

import (
	"context"
	"errors"
	"sync"
	"testing"

	"github.com/tablefinder/tablefinder/pkg/agent"
	"github.com/tablefinder/tablefinder/pkg/convo"
	"github.com/tablefinder/tablefinder/pkg/genx"
)

// step is one scripted model reply.
type step struct {
	text  string
	calls []*genx.ToolCall
	usage genx.Usage
	err   error
}

// scriptedGen replays steps in order and records what each call saw.
type scriptedGen struct {
	mu    sync.Mutex
	steps []step
	seen  []int // number of messages per call
	roles [][]genx.Role
}

func (g *scriptedGen) GenerateStream(_ context.Context, _ string, mctx genx.ModelContext) (genx.Stream, error) {
	g.mu.Lock()
	defer g.mu.Unlock()
	n := 0
	var roles []genx.Role
	for m := range mctx.Messages() {
		n++
		roles = append(roles, m.Role)
	}
	g.seen = append(g.seen, n)
	g.roles = append(g.roles, roles)
	if len(g.steps) == 0 {
		return nil, errors.New("script exhausted")
	}
	st := g.steps[0]
	g.steps = g.steps[1:]

	sb := genx.NewStreamBuilder(mctx, 16)
	go func() {
		if st.text != "" {
			sb.Add(&genx.MessageChunk{Role: genx.RoleModel, Text: st.text})
		}
		for _, c := range st.calls {
			sb.Add(&genx.MessageChunk{Role: genx.RoleModel, ToolCall: c})
		}
		if st.err != nil {
			sb.Abort(st.err)
			return
		}
		sb.Done(st.usage)
	}()
	return sb.Stream(), nil
}

type searchArg struct {
	Cuisine string `json:"cuisine"`
}

func drain(t *testing.T, s agent.EventStream) ([]convo.Event, error) {
	t.Helper()
	defer s.Close()
	var out []convo.Event
	for {
		e, err := s.Next()
		if errors.Is(err, agent.ErrDone) {
			return out, nil
		}
		if err != nil {
			return out, err
		}
		out = append(out, e)
	}
}

func TestToolAgentCallsToolsThenAnswers(t *testing.T) {
	var gotCuisine string
	tool := genx.MustNewFuncTool[searchArg]("get_restaurants", "search",
		genx.InvokeFunc[searchArg](func(_ context.Context, _ *genx.FuncCall, arg searchArg) (any, error) {
			gotCuisine = arg.Cuisine
			return []string{"Han Dynasty"}, nil
		}),
	)
	gen := &scriptedGen{steps: []step{
		{
			calls: []*genx.ToolCall{{ID: "c1", FuncCall: &genx.FuncCall{Name: "get_restaurants", Arguments: `{"cuisine":"chinese"}`}}},
			usage: genx.Usage{PromptTokenCount: 50, GeneratedTokenCount: 10},
		},
		{
			text:  "Han Dynasty is a good pick.",
			usage: genx.Usage{PromptTokenCount: 70, GeneratedTokenCount: 20},
		},
	}}
	a, err := agent.NewToolAgent(gen, agent.ToolAgentConfig{Name: "finder", Model: "oci/gpt-4.1", Prompt: "find food"}, tool)
	if err != nil {
		t.Fatal(err)
	}
	s, err := a.Run(context.Background(), convo.New("chinese in NY"), "s1")
	if err != nil {
		t.Fatal(err)
	}
	evts, err := drain(t, s)
	if err != nil {
		t.Fatalf("drain error = %v", err)
	}
	if len(evts) != 3 {
		t.Fatalf("events = %d, want 3: %#v", len(evts), evts)
	}
	call, ok := evts[0].(*convo.ToolCallRequest)
	if !ok || call.Name != "get_restaurants" || call.Agent != "finder" || call.ID != "c1" {
		t.Errorf("evts[0] = %#v", evts[0])
	}
	res, ok := evts[1].(*convo.ToolResult)
	if !ok || res.ID != "c1" || res.Result != `["Han Dynasty"]` {
		t.Errorf("evts[1] = %#v", evts[1])
	}
	final, ok := evts[2].(*convo.AssistantText)
	if !ok {
		t.Fatalf("evts[2] = %#v", evts[2])
	}
	if final.Text != "Han Dynasty is a good pick." || final.Agent != "finder" {
		t.Errorf("final = %#v", final)
	}
	if final.Meta == nil || final.Meta.Model != "oci/gpt-4.1" || final.Meta.Tokens != 150 {
		t.Errorf("Meta = %#v", final.Meta)
	}
	if gotCuisine != "chinese" {
		t.Errorf("tool arg = %q", gotCuisine)
	}
	// second call sees query + tool call + tool result
	if len(gen.seen) != 2 || gen.seen[1] != 3 {
		t.Errorf("messages seen = %v", gen.seen)
	}
}

func TestToolAgentToolErrorIsReported(t *testing.T) {
	tool := genx.MustNewFuncTool[searchArg]("get_restaurants", "",
		genx.InvokeFunc[searchArg](func(context.Context, *genx.FuncCall, searchArg) (any, error) {
			return nil, errors.New("backend down")
		}),
	)
	gen := &scriptedGen{steps: []step{
		{calls: []*genx.ToolCall{{ID: "c1", FuncCall: &genx.FuncCall{Name: "get_restaurants", Arguments: `{}`}}}},
		{text: "Sorry, search is unavailable."},
	}}
	a, _ := agent.NewToolAgent(gen, agent.ToolAgentConfig{Name: "finder"}, tool)
	s, _ := a.Run(context.Background(), convo.New("q"), "s")
	evts, err := drain(t, s)
	if err != nil {
		t.Fatal(err)
	}
	res, ok := evts[1].(*convo.ToolResult)
	if !ok || res.Result != "error: backend down" {
		t.Errorf("evts[1] = %#v", evts[1])
	}
}

func TestToolAgentMaxSteps(t *testing.T) {
	tool := genx.MustNewFuncTool[searchArg]("loop", "",
		genx.InvokeFunc[searchArg](func(context.Context, *genx.FuncCall, searchArg) (any, error) {
			return "again", nil
		}),
	)
	loop := step{calls: []*genx.ToolCall{{ID: "x", FuncCall: &genx.FuncCall{Name: "loop", Arguments: `{}`}}}}
	gen := &scriptedGen{steps: []step{loop, loop, loop}}
	a, _ := agent.NewToolAgent(gen, agent.ToolAgentConfig{Name: "a", MaxSteps: 2}, tool)
	s, _ := a.Run(context.Background(), convo.New("q"), "s")
	if _, err := drain(t, s); !errors.Is(err, agent.ErrMaxSteps) {
		t.Errorf("err = %v, want ErrMaxSteps", err)
	}
}

func TestToolAgentUpstreamError(t *testing.T) {
	cause := genx.Upstream("test", errors.New("boom"))
	gen := &scriptedGen{steps: []step{{err: cause}}}
	a, _ := agent.NewToolAgent(gen, agent.ToolAgentConfig{Name: "a"})
	s, _ := a.Run(context.Background(), convo.New("q"), "s")
	_, err := drain(t, s)
	var ue *genx.UpstreamError
	if !errors.As(err, &ue) {
		t.Errorf("err = %v, want *genx.UpstreamError", err)
	}
}

func TestToolAgentClosedStream(t *testing.T) {
	gen := &scriptedGen{steps: []step{{text: "never"}}}
	a, _ := agent.NewToolAgent(gen, agent.ToolAgentConfig{Name: "a"})
	s, _ := a.Run(context.Background(), convo.New("q"), "s")
	s.Close()
	if _, err := s.Next(); !errors.Is(err, context.Canceled) {
		t.Errorf("Next() after Close = %v, want context.Canceled", err)
	}
	if len(gen.seen) != 0 {
		t.Error("model called after Close")
	}
}

func TestNewToolAgentValidation(t *testing.T) {
	gen := &scriptedGen{}
	if _, err := agent.NewToolAgent(nil, agent.ToolAgentConfig{Name: "a"}); err == nil {
		t.Error("nil generator accepted")
	}
	if _, err := agent.NewToolAgent(gen, agent.ToolAgentConfig{}); err == nil {
		t.Error("empty name accepted")
	}
	tool := genx.MustNewFuncTool[searchArg]("dup", "")
	if _, err := agent.NewToolAgent(gen, agent.ToolAgentConfig{Name: "a"}, tool, tool); err == nil {
		t.Error("duplicate tools accepted")
	}
	a, _ := agent.NewToolAgent(gen, agent.ToolAgentConfig{Name: "a"})
	if _, err := a.Run(context.Background(), convo.From(), "s"); err == nil {
		t.Error("empty conversation accepted")
	}
}

func TestReplay(t *testing.T) {
	s := agent.Replay(&convo.Other{Text: "a"})
	if e, err := s.Next(); err != nil || e.Content() != "a" {
		t.Fatalf("Next() = %v, %v", e, err)
	}
	if _, err := s.Next(); !errors.Is(err, agent.ErrDone) {
		t.Errorf("Next() = %v, want ErrDone", err)
	}
	failing := &agent.SliceStream{Err: errors.New("x")}
	if _, err := failing.Next(); err == nil || errors.Is(err, agent.ErrDone) {
		t.Errorf("Next() = %v, want custom error", err)
	}
}

func TestToolAgentStageInputIsUserTurn(t *testing.T) {
	prev := convo.New("cheap chinese in NYC")
	prev.Append(&convo.AssistantText{Text: "Xi'an Famous Foods, 81 St Marks Pl", Agent: "finder_agent"})

	gen := &scriptedGen{steps: []step{{text: "details"}}}
	a, _ := agent.NewToolAgent(gen, agent.ToolAgentConfig{Name: "data_agent"})
	s, err := a.Run(context.Background(), convo.QueryAndLast(prev), "s")
	if err != nil {
		t.Fatal(err)
	}
	if _, err := drain(t, s); err != nil {
		t.Fatal(err)
	}
	if len(gen.roles) != 1 || len(gen.roles[0]) == 0 {
		t.Fatalf("roles = %v", gen.roles)
	}
	for _, r := range gen.roles[0] {
		if r != genx.RoleUser {
			t.Errorf("roles seen by model = %v, want only user", gen.roles[0])
			break
		}
	}
}
