// Package progress turns conversation events into short human-readable
// progress messages and keeps the running aggregate a request needs for its
// final answer.
//
// Classification is a pure function: the caller owns the Aggregate and passes
// the value returned by one call into the next.
package progress

import (
	"fmt"

	"github.com/tablefinder/tablefinder/pkg/convo"
)

// PreviewLen is the number of runes of event content shown in a message.
const PreviewLen = 100

// Aggregate is the state carried across the events of one request.
type Aggregate struct {
	// Tokens is the cumulative token count over all assistant messages that
	// reported usage. It never decreases.
	Tokens int64 `json:"tokens"`

	// Narrative is the progress message built for the most recent assistant
	// message. It becomes the text part of a multi-stage final answer.
	Narrative string `json:"narrative,omitempty"`

	// Content is the raw content of the most recent event.
	Content string `json:"content,omitempty"`

	// Replies counts assistant messages seen so far.
	Replies int `json:"replies"`
}

// Classify returns the progress message for evt and the updated aggregate.
// It is total: every event yields a message.
func Classify(evt convo.Event, agg Aggregate) (string, Aggregate) {
	if evt == nil {
		return Processing(""), agg
	}
	agg.Content = evt.Content()
	switch e := evt.(type) {
	case *convo.ToolCallRequest:
		return fmt.Sprintf("Model calling tool: %s with args %s", e.Name, FormatArgs(e.Arguments)), agg
	case *convo.ToolResult:
		return fmt.Sprintf(
			"Tool %s responded with:\n%s...\n\nInformation passed to agent to build response",
			e.Name, Preview(e.Result),
		), agg
	case *convo.AssistantText:
		model := "unknown"
		if e.Meta != nil {
			agg.Tokens += e.Meta.Tokens
			if e.Meta.Model != "" {
				model = e.Meta.Model
			}
		}
		agent := e.Agent
		if agent == "" {
			agent = "unknown"
		}
		agg.Replies++
		agg.Narrative = fmt.Sprintf(
			"Agent current response:\n%s...\n\nAgent metadata:\nmodel_id: %s,\nagent_name: %s,\ntotal_tokens_on_call: %d",
			Preview(e.Text), model, agent, agg.Tokens,
		)
		return agg.Narrative, agg
	default:
		return Processing(evt.Content()), agg
	}
}

// Processing formats the fallback message for events without a more
// specific rendering.
func Processing(content string) string {
	return "Processing task, current state:\n" + Preview(content) + "..."
}

// Preview returns at most PreviewLen runes of s.
func Preview(s string) string {
	n := 0
	for i := range s {
		if n == PreviewLen {
			return s[:i]
		}
		n++
	}
	return s
}

// Summary renders the aggregate as a single line for logs.
func (a Aggregate) Summary() string {
	return fmt.Sprintf("replies=%d tokens=%d", a.Replies, a.Tokens)
}
