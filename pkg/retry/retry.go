// Package retry wraps an agent with bounded re-prompting: the agent's answer
// is validated against the response contract and, when it fails, the agent
// is asked again with the failure reason until the attempt budget runs out.
//
// Every invocation yields exactly one terminal update, carrying either the
// validated answer or a fixed fallback message. Failures never surface as
// errors to the caller.
package retry

import (
	"context"
	"errors"
	"fmt"
	"iter"
	"log/slog"
	"net/http"
	"strings"
	"time"

	"github.com/cenkalti/backoff/v4"

	"github.com/tablefinder/tablefinder/pkg/a2ui"
	"github.com/tablefinder/tablefinder/pkg/agent"
	"github.com/tablefinder/tablefinder/pkg/convo"
	"github.com/tablefinder/tablefinder/pkg/genx"
	"github.com/tablefinder/tablefinder/pkg/progress"
)

const (
	DefaultMaxAttempts      = 2
	DefaultTransientRetries = 3
)

// Fallback answers.
const (
	ConfigErrorMessage = "I'm sorry, I'm facing an internal configuration error with my UI components. " +
		"Please contact support."
	InterfaceFailureMessage = "I'm sorry, I'm having trouble generating the interface for that request right now. " +
		"Please try again in a moment."
	NoResponseMessage = "I'm sorry, I encountered an error and couldn't process your request."
)

// NoResponsePrompt is the follow-up prompt after an attempt produced no answer.
func NoResponsePrompt(query string) string {
	return fmt.Sprintf("I received no response. Please try again. Please retry the original request: '%s'", query)
}

// InvalidPrompt is the follow-up prompt after an answer failed validation.
func InvalidPrompt(reason, query string) string {
	return fmt.Sprintf(
		"Your previous response was invalid. Validation failed: %s. "+
			"You MUST generate a valid response that strictly follows the A2UI JSON SCHEMA. "+
			"The response MUST be a JSON list of A2UI messages. "+
			"Ensure the response is split by '%s' and the JSON part is well-formed. "+
			"Please retry the original request: '%s'",
		reason, a2ui.Delimiter, query,
	)
}

// State is a retry controller state.
type State int

const (
	Invoking State = iota
	Validating
	Succeeded
	Exhausted
)

func (s State) String() string {
	switch s {
	case Invoking:
		return "invoking"
	case Validating:
		return "validating"
	case Succeeded:
		return "succeeded"
	case Exhausted:
		return "exhausted"
	default:
		return fmt.Sprintf("State(%d)", int(s))
	}
}

// Outcome is how an attempt ended.
type Outcome string

const (
	OutcomeValid      Outcome = "valid"
	OutcomeInvalid    Outcome = "invalid"
	OutcomeNoResponse Outcome = "no_response"
	OutcomeUpstream   Outcome = "upstream_error"
	OutcomeCanceled   Outcome = "canceled"
)

// Attempt records one invocation of the agent.
type Attempt struct {
	N       int     `json:"n" msgpack:"n"`
	Prompt  string  `json:"prompt" msgpack:"prompt"`
	Outcome Outcome `json:"outcome" msgpack:"outcome"`
	Reason  string  `json:"reason,omitempty" msgpack:"reason,omitempty"`
	Content string  `json:"content,omitempty" msgpack:"content,omitempty"`

	// Next is the controller state entered after the attempt: Invoking when
	// another attempt follows, Succeeded or Exhausted otherwise.
	Next State `json:"next" msgpack:"next"`

	Events           int       `json:"events" msgpack:"events"`
	Tokens           int64     `json:"tokens" msgpack:"tokens"`
	TransientRetries int       `json:"transient_retries,omitempty" msgpack:"transient_retries,omitempty"`
	Started          time.Time `json:"started" msgpack:"started"`
	Finished         time.Time `json:"finished" msgpack:"finished"`
}

// Observer receives every finished attempt. It is called synchronously from
// the streaming goroutine.
type Observer func(sessionID string, a Attempt)

// Option configures a Controller.
type Option func(*Controller)

// WithMaxAttempts sets the total number of agent invocations allowed per
// request. Values below 1 are treated as 1.
func WithMaxAttempts(n int) Option {
	return func(c *Controller) { c.maxAttempts = max(n, 1) }
}

// WithTransientRetries sets how many times a transient upstream failure is
// retried within one attempt.
func WithTransientRetries(n int) Option {
	return func(c *Controller) { c.transientRetries = max(n, 0) }
}

// WithBackOff replaces the exponential backoff used between transient
// retries. The function is called once per attempt.
func WithBackOff(fn func() backoff.BackOff) Option {
	return func(c *Controller) { c.newBackOff = fn }
}

// WithObserver registers an attempt observer.
func WithObserver(o Observer) Option {
	return func(c *Controller) { c.observer = o }
}

// WithValidator turns on UI mode: answers must satisfy the A2UI contract.
func WithValidator(v *a2ui.Validator) Option {
	return func(c *Controller) {
		c.ui = true
		c.validator = v
	}
}

// WithSchema turns on UI mode with a validator built from schema. A schema
// that cannot be used makes every request answer ConfigErrorMessage.
func WithSchema(schema []byte, opts ...a2ui.Option) Option {
	return func(c *Controller) {
		c.ui = true
		v, err := a2ui.NewValidator(schema, opts...)
		if err != nil {
			slog.Error("retry: A2UI schema unusable, UI requests will be refused", "err", err)
			c.cfgErr = err
			return
		}
		c.validator = v
	}
}

// Controller drives an agent through the bounded retry state machine. It is
// safe for concurrent use; each Stream call owns its own state.
type Controller struct {
	agent            agent.Agent
	ui               bool
	validator        *a2ui.Validator
	cfgErr           error
	maxAttempts      int
	transientRetries int
	newBackOff       func() backoff.BackOff
	observer         Observer
}

// New returns a plain-text controller around a unless an option turns on UI
// mode.
func New(a agent.Agent, opts ...Option) *Controller {
	c := &Controller{
		agent:            a,
		maxAttempts:      DefaultMaxAttempts,
		transientRetries: DefaultTransientRetries,
		newBackOff:       defaultBackOff,
	}
	for _, opt := range opts {
		opt(c)
	}
	if c.ui && c.validator == nil && c.cfgErr == nil {
		c.cfgErr = &a2ui.ConfigError{Err: errors.New("no validator")}
	}
	return c
}

func defaultBackOff() backoff.BackOff {
	b := backoff.NewExponentialBackOff()
	b.InitialInterval = 500 * time.Millisecond
	b.MaxInterval = 5 * time.Second
	b.MaxElapsedTime = 30 * time.Second
	return b
}

// UI reports whether answers are validated against the A2UI contract.
func (c *Controller) UI() bool {
	return c.ui
}

// MaxAttempts returns the attempt budget.
func (c *Controller) MaxAttempts() int {
	return c.maxAttempts
}

// Stream answers query. It yields one progress update per agent event and
// ends with exactly one complete update, unless the consumer stops early.
func (c *Controller) Stream(ctx context.Context, query, sessionID string) iter.Seq[convo.Update] {
	return func(yield func(convo.Update) bool) {
		if c.cfgErr != nil {
			slog.Error("retry: refusing UI request", "session", sessionID, "err", c.cfgErr)
			yield(convo.Final(ConfigErrorMessage))
			return
		}
		r := &request{c: c, ctx: ctx, query: query, session: sessionID, yield: yield}
		if final, ok := r.run(); ok {
			yield(convo.Final(final))
		}
	}
}

type request struct {
	c       *Controller
	ctx     context.Context
	query   string
	session string
	yield   func(convo.Update) bool
	agg     progress.Aggregate
}

// run returns the terminal content, or false when the consumer stopped.
func (r *request) run() (string, bool) {
	prompt := r.query
	for n := 1; ; n++ {
		slog.Info("retry: attempt", "session", r.session, "attempt", n, "max", r.c.maxAttempts)
		a := Attempt{N: n, Prompt: prompt, Started: time.Now()}
		tokens := r.agg.Tokens

		content, stopped, err := r.invoke(prompt, &a)
		a.Tokens = r.agg.Tokens - tokens
		last := n >= r.c.maxAttempts

		switch {
		case stopped:
			r.finish(&a, OutcomeCanceled, "consumer stopped", Exhausted)
			return "", false
		case r.ctx.Err() != nil:
			r.finish(&a, OutcomeCanceled, r.ctx.Err().Error(), Exhausted)
			return NoResponseMessage, true
		case err != nil && permanent(err):
			slog.Error("retry: permanent upstream failure", "session", r.session, "attempt", n, "err", err)
			r.finish(&a, OutcomeUpstream, err.Error(), Exhausted)
			return NoResponseMessage, true
		case err != nil || strings.TrimSpace(content) == "":
			reason := "no response"
			if err != nil {
				reason = err.Error()
			}
			slog.Warn("retry: no response", "session", r.session, "attempt", n, "reason", reason)
			if last {
				r.finish(&a, OutcomeNoResponse, reason, Exhausted)
				return NoResponseMessage, true
			}
			r.finish(&a, OutcomeNoResponse, reason, Invoking)
			prompt = NoResponsePrompt(r.query)
			continue
		}

		res := r.validate(content)
		if res.Valid() {
			a.Content = res.Content
			r.finish(&a, OutcomeValid, "", Succeeded)
			return res.Content, true
		}
		a.Content = content
		slog.Warn("retry: validation failed", "session", r.session, "attempt", n, "reason", res.Reason())
		if last {
			r.finish(&a, OutcomeInvalid, res.Reason(), Exhausted)
			return InterfaceFailureMessage, true
		}
		r.finish(&a, OutcomeInvalid, res.Reason(), Invoking)
		prompt = InvalidPrompt(res.Reason(), r.query)
	}
}

func (r *request) validate(content string) a2ui.Result {
	if !r.c.ui {
		return a2ui.PlainText(content)
	}
	return r.c.validator.Validate(content)
}

func (r *request) finish(a *Attempt, o Outcome, reason string, next State) {
	a.Outcome = o
	a.Reason = reason
	a.Next = next
	a.Finished = time.Now()
	if r.c.observer != nil {
		r.c.observer(r.session, *a)
	}
}

// invoke runs one attempt, retrying transient upstream failures with backoff.
func (r *request) invoke(prompt string, a *Attempt) (string, bool, error) {
	bo := backoff.WithContext(backoff.WithMaxRetries(r.c.newBackOff(), uint64(r.c.transientRetries)), r.ctx)
	bo.Reset()
	for {
		content, stopped, err := r.once(prompt, a)
		if stopped || err == nil || !genx.IsTransient(err) {
			return content, stopped, err
		}
		d := bo.NextBackOff()
		if d == backoff.Stop {
			return "", false, err
		}
		a.TransientRetries++
		slog.Warn("retry: transient upstream failure", "session", r.session, "attempt", a.N, "wait", d, "err", err)
		t := time.NewTimer(d)
		select {
		case <-r.ctx.Done():
			t.Stop()
			return "", false, r.ctx.Err()
		case <-t.C:
		}
	}
}

// once streams the agent's events as progress updates and returns the text of
// the last assistant message.
func (r *request) once(prompt string, a *Attempt) (string, bool, error) {
	s, err := r.c.agent.Run(r.ctx, convo.New(prompt), r.session)
	if err != nil {
		return "", false, err
	}
	defer s.Close()

	var terminal string
	for {
		evt, err := s.Next()
		if errors.Is(err, agent.ErrDone) {
			return terminal, false, nil
		}
		if err != nil {
			return "", false, err
		}
		a.Events++
		if at, ok := evt.(*convo.AssistantText); ok {
			terminal = at.Text
		}
		var msg string
		msg, r.agg = progress.Classify(evt, r.agg)
		if !r.yield(convo.Progress(msg)) {
			return "", true, nil
		}
	}
}

// permanent reports an upstream failure that retrying cannot fix: a client
// error status such as bad credentials or a malformed request. Failures
// without a status still count against the attempt budget.
func permanent(err error) bool {
	var ue *genx.UpstreamError
	if !errors.As(err, &ue) || ue.Transient {
		return false
	}
	return ue.StatusCode >= 400 && ue.StatusCode < 500 &&
		ue.StatusCode != http.StatusRequestTimeout &&
		ue.StatusCode != http.StatusTooManyRequests
}
