package retry_test

import (
	"context"
	"errors"
	"strings"
	"sync"
	"testing"

	"github.com/cenkalti/backoff/v4"

	"github.com/tablefinder/tablefinder/pkg/a2ui"
	"github.com/tablefinder/tablefinder/pkg/agent"
	"github.com/tablefinder/tablefinder/pkg/convo"
	"github.com/tablefinder/tablefinder/pkg/genx"
	"github.com/tablefinder/tablefinder/pkg/retry"
)

type reply struct {
	events []convo.Event
	err    error
}

// scripted answers each Run with the next reply and records the prompts.
type scripted struct {
	mu      sync.Mutex
	replies []reply
	prompts []string
}

func (s *scripted) Name() string { return "restaurant" }

func (s *scripted) Run(_ context.Context, conv *convo.Conversation, _ string) (agent.EventStream, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.prompts = append(s.prompts, conv.Query())
	if len(s.replies) == 0 {
		return agent.Replay(), nil
	}
	r := s.replies[0]
	if len(s.replies) > 1 {
		s.replies = s.replies[1:]
	}
	st := agent.Replay(r.events...)
	st.Err = r.err
	return st, nil
}

func text(s string, tokens int64) *convo.AssistantText {
	return &convo.AssistantText{Text: s, Agent: "restaurant", Meta: &convo.Meta{Model: "m", Tokens: tokens}}
}

const validUI = "Here are your picks\n---a2ui_JSON---\n" +
	`[{"beginRendering":{"surfaceId":"default","root":"root"}}]`

func collect(t *testing.T, c *retry.Controller, query string) []convo.Update {
	t.Helper()
	var out []convo.Update
	for u := range c.Stream(context.Background(), query, "sess") {
		out = append(out, u)
	}
	return out
}

func terminal(t *testing.T, updates []convo.Update) convo.Update {
	t.Helper()
	if len(updates) == 0 {
		t.Fatal("no updates")
	}
	n := 0
	for _, u := range updates {
		if u.Complete {
			n++
		}
	}
	if n != 1 {
		t.Fatalf("complete updates = %d, want 1", n)
	}
	last := updates[len(updates)-1]
	if !last.Complete {
		t.Fatal("last update is not complete")
	}
	return last
}

func uiController(a agent.Agent, opts ...retry.Option) *retry.Controller {
	opts = append([]retry.Option{retry.WithSchema(a2ui.DefaultSchema)}, opts...)
	return retry.New(a, opts...)
}

func TestScenarioAValidFirstTry(t *testing.T) {
	a := &scripted{replies: []reply{{events: []convo.Event{
		&convo.ToolCallRequest{ID: "1", Name: "get_restaurants", Arguments: `{"cuisine":"chinese"}`},
		&convo.ToolResult{ID: "1", Name: "get_restaurants", Result: "[]"},
		text(validUI, 10),
	}}}}
	var attempts []retry.Attempt
	c := uiController(a, retry.WithObserver(func(_ string, at retry.Attempt) { attempts = append(attempts, at) }))

	updates := collect(t, c, "chinese in NY")
	if len(updates) != 4 {
		t.Fatalf("updates = %d, want 4", len(updates))
	}
	if got := terminal(t, updates).Content; got != validUI {
		t.Errorf("content = %q, want %q", got, validUI)
	}
	if len(attempts) != 1 || attempts[0].Outcome != retry.OutcomeValid || attempts[0].Next != retry.Succeeded {
		t.Errorf("attempts = %+v", attempts)
	}
	if attempts[0].Tokens != 10 || attempts[0].Events != 3 {
		t.Errorf("attempt stats = %+v", attempts[0])
	}
}

func TestScenarioBMissingDelimiterExhausts(t *testing.T) {
	a := &scripted{replies: []reply{{events: []convo.Event{text("no delimiter here", 1)}}}}
	var attempts []retry.Attempt
	c := uiController(a, retry.WithObserver(func(_ string, at retry.Attempt) { attempts = append(attempts, at) }))

	updates := collect(t, c, "find food")
	if got := terminal(t, updates).Content; got != retry.InterfaceFailureMessage {
		t.Errorf("content = %q", got)
	}
	if len(a.prompts) != 2 {
		t.Fatalf("invocations = %d, want 2", len(a.prompts))
	}
	if a.prompts[0] != "find food" {
		t.Errorf("first prompt = %q", a.prompts[0])
	}
	if !strings.HasPrefix(a.prompts[1], "Your previous response was invalid. Validation failed: ") ||
		!strings.HasSuffix(a.prompts[1], "Please retry the original request: 'find food'") ||
		!strings.Contains(a.prompts[1], a2ui.Delimiter) {
		t.Errorf("retry prompt = %q", a.prompts[1])
	}
	if len(attempts) != 2 || attempts[0].Reason != attempts[1].Reason {
		t.Errorf("attempts = %+v", attempts)
	}
	if attempts[0].Next != retry.Invoking || attempts[1].Next != retry.Exhausted {
		t.Errorf("states = %v, %v", attempts[0].Next, attempts[1].Next)
	}
}

func TestScenarioCNoResponseThenValid(t *testing.T) {
	a := &scripted{replies: []reply{
		{events: []convo.Event{&convo.Other{Text: "thinking"}}},
		{events: []convo.Event{text(validUI, 5)}},
	}}
	c := uiController(a)

	updates := collect(t, c, "sushi")
	if got := terminal(t, updates).Content; got != validUI {
		t.Errorf("content = %q", got)
	}
	if len(a.prompts) != 2 {
		t.Fatalf("invocations = %d, want 2", len(a.prompts))
	}
	if want := retry.NoResponsePrompt("sushi"); a.prompts[1] != want {
		t.Errorf("retry prompt = %q, want %q", a.prompts[1], want)
	}
}

func TestScenarioDPlainText(t *testing.T) {
	a := &scripted{replies: []reply{{events: []convo.Event{text("no delimiter, still fine", 1)}}}}
	c := retry.New(a)
	if c.UI() {
		t.Fatal("default controller must be plain text")
	}
	if got := terminal(t, collect(t, c, "q")).Content; got != "no delimiter, still fine" {
		t.Errorf("content = %q", got)
	}
	if len(a.prompts) != 1 {
		t.Errorf("invocations = %d, want 1", len(a.prompts))
	}
}

func TestNoResponseExhausted(t *testing.T) {
	a := &scripted{}
	c := uiController(a, retry.WithMaxAttempts(3))
	if got := terminal(t, collect(t, c, "q")).Content; got != retry.NoResponseMessage {
		t.Errorf("content = %q", got)
	}
	if len(a.prompts) != 3 {
		t.Errorf("invocations = %d, want 3", len(a.prompts))
	}
}

func TestEmptyAnswerIsNoResponse(t *testing.T) {
	a := &scripted{replies: []reply{{events: []convo.Event{text("  ", 1)}}}}
	c := retry.New(a, retry.WithMaxAttempts(1))
	if got := terminal(t, collect(t, c, "q")).Content; got != retry.NoResponseMessage {
		t.Errorf("content = %q", got)
	}
}

func TestConfigError(t *testing.T) {
	a := &scripted{}
	c := retry.New(a, retry.WithSchema([]byte("{not json")))
	updates := collect(t, c, "q")
	if len(updates) != 1 || terminal(t, updates).Content != retry.ConfigErrorMessage {
		t.Errorf("updates = %+v", updates)
	}
	if len(a.prompts) != 0 {
		t.Error("agent must not run without a schema")
	}
}

func TestPermanentUpstreamFailsFast(t *testing.T) {
	perm := &genx.UpstreamError{Provider: "openai", StatusCode: 401, Err: errors.New("bad key")}
	a := &scripted{replies: []reply{{err: perm}}}
	var attempts []retry.Attempt
	c := uiController(a, retry.WithObserver(func(_ string, at retry.Attempt) { attempts = append(attempts, at) }))

	if got := terminal(t, collect(t, c, "q")).Content; got != retry.NoResponseMessage {
		t.Errorf("content = %q", got)
	}
	if len(a.prompts) != 1 {
		t.Errorf("invocations = %d, want 1", len(a.prompts))
	}
	if len(attempts) != 1 || attempts[0].Outcome != retry.OutcomeUpstream {
		t.Errorf("attempts = %+v", attempts)
	}
}

func TestUnclassifiedUpstreamUsesNextAttempt(t *testing.T) {
	tests := []struct {
		name string
		err  error
	}{
		{"no status", genx.Upstream("openai", errors.New("unexpected end of stream: no finish reason"))},
		{"server error", &genx.UpstreamError{Provider: "openai", StatusCode: 500, Err: errors.New("boom")}},
		{"request timeout", &genx.UpstreamError{Provider: "gemini", StatusCode: 408, Err: errors.New("timeout")}},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			a := &scripted{replies: []reply{
				{err: tt.err},
				{events: []convo.Event{text(validUI, 1)}},
			}}
			var attempts []retry.Attempt
			c := uiController(a,
				retry.WithTransientRetries(0),
				retry.WithObserver(func(_ string, at retry.Attempt) { attempts = append(attempts, at) }),
			)

			if got := terminal(t, collect(t, c, "q")).Content; got != validUI {
				t.Errorf("content = %q", got)
			}
			if len(a.prompts) != 2 {
				t.Fatalf("invocations = %d, want 2", len(a.prompts))
			}
			if a.prompts[1] != retry.NoResponsePrompt("q") {
				t.Errorf("second prompt = %q", a.prompts[1])
			}
			if len(attempts) != 2 || attempts[0].Outcome != retry.OutcomeNoResponse {
				t.Errorf("attempts = %+v", attempts)
			}
		})
	}
}

func TestTransientUpstreamRetriedWithinAttempt(t *testing.T) {
	flaky := &genx.UpstreamError{Provider: "openai", StatusCode: 429, Transient: true, Err: errors.New("slow down")}
	a := &scripted{replies: []reply{
		{err: flaky},
		{err: flaky},
		{events: []convo.Event{text(validUI, 1)}},
	}}
	var attempts []retry.Attempt
	c := uiController(a,
		retry.WithMaxAttempts(1),
		retry.WithBackOff(func() backoff.BackOff { return &backoff.ZeroBackOff{} }),
		retry.WithObserver(func(_ string, at retry.Attempt) { attempts = append(attempts, at) }),
	)

	if got := terminal(t, collect(t, c, "q")).Content; got != validUI {
		t.Errorf("content = %q", got)
	}
	if len(attempts) != 1 || attempts[0].TransientRetries != 2 {
		t.Errorf("attempts = %+v", attempts)
	}
}

func TestTransientRetriesBounded(t *testing.T) {
	flaky := &genx.UpstreamError{Provider: "gemini", StatusCode: 503, Transient: true, Err: errors.New("unavailable")}
	a := &scripted{replies: []reply{{err: flaky}}}
	c := uiController(a,
		retry.WithMaxAttempts(2),
		retry.WithTransientRetries(1),
		retry.WithBackOff(func() backoff.BackOff { return &backoff.ZeroBackOff{} }),
	)
	if got := terminal(t, collect(t, c, "q")).Content; got != retry.NoResponseMessage {
		t.Errorf("content = %q", got)
	}
	// Two attempts, each with one transient retry.
	if len(a.prompts) != 4 {
		t.Errorf("invocations = %d, want 4", len(a.prompts))
	}
}

func TestConsumerStopsEarly(t *testing.T) {
	a := &scripted{replies: []reply{{events: []convo.Event{
		&convo.Other{Text: "a"}, &convo.Other{Text: "b"}, text(validUI, 1),
	}}}}
	var attempts []retry.Attempt
	c := uiController(a, retry.WithObserver(func(_ string, at retry.Attempt) { attempts = append(attempts, at) }))

	n := 0
	for range c.Stream(context.Background(), "q", "s") {
		n++
		break
	}
	if n != 1 {
		t.Errorf("updates = %d", n)
	}
	if len(attempts) != 1 || attempts[0].Outcome != retry.OutcomeCanceled {
		t.Errorf("attempts = %+v", attempts)
	}
}

func TestAttemptsNeverExceedMax(t *testing.T) {
	for _, n := range []int{0, 1, 2, 5} {
		a := &scripted{replies: []reply{{events: []convo.Event{text("bad", 1)}}}}
		c := uiController(a, retry.WithMaxAttempts(n))
		terminal(t, collect(t, c, "q"))
		want := max(n, 1)
		if len(a.prompts) != want {
			t.Errorf("max=%d: invocations = %d, want %d", n, len(a.prompts), want)
		}
	}
}

func TestStateString(t *testing.T) {
	for s, want := range map[retry.State]string{
		retry.Invoking:   "invoking",
		retry.Validating: "validating",
		retry.Succeeded:  "succeeded",
		retry.Exhausted:  "exhausted",
	} {
		if s.String() != want {
			t.Errorf("%d.String() = %q", int(s), s.String())
		}
	}
}
