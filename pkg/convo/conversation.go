// Package convo holds the per-request conversation: an append-only, ordered
// sequence of typed events shared by every stage that serves one request.
//
// A Conversation is owned by a single request and is not safe for concurrent
// mutation. Pipeline stages run strictly one after another, so no locking is
// needed.
package convo

import (
	"iter"
	"slices"
)

// Conversation is an append-only list of events.
type Conversation struct {
	events []Event
}

// New starts a conversation with the user's query.
func New(query string) *Conversation {
	return &Conversation{events: []Event{&UserQuery{Text: query}}}
}

// From builds a conversation from existing events. The slice is copied.
func From(events ...Event) *Conversation {
	return &Conversation{events: slices.Clone(events)}
}

// Append adds events at the end. Nil events are ignored.
func (c *Conversation) Append(evts ...Event) {
	for _, e := range evts {
		if e == nil {
			continue
		}
		c.events = append(c.events, e)
	}
}

// Len returns the number of events.
func (c *Conversation) Len() int {
	return len(c.events)
}

// Events iterates over the events in insertion order.
func (c *Conversation) Events() iter.Seq[Event] {
	return slices.Values(c.events)
}

// Last returns the most recent event.
func (c *Conversation) Last() (Event, bool) {
	if len(c.events) == 0 {
		return nil, false
	}
	return c.events[len(c.events)-1], true
}

// Query returns the text of the first UserQuery.
func (c *Conversation) Query() string {
	for _, e := range c.events {
		if q, ok := e.(*UserQuery); ok {
			return q.Text
		}
	}
	return ""
}

// LastAssistant returns the most recent AssistantText.
func (c *Conversation) LastAssistant() (*AssistantText, bool) {
	for i := len(c.events) - 1; i >= 0; i-- {
		if a, ok := c.events[i].(*AssistantText); ok {
			return a, true
		}
	}
	return nil, false
}

// Snapshot returns a copy of the event list.
func (c *Conversation) Snapshot() []Event {
	return slices.Clone(c.events)
}

// Shaper decides which part of a shared conversation a stage sees.
type Shaper func(*Conversation) *Conversation

// Whole passes the conversation unchanged.
func Whole(c *Conversation) *Conversation {
	return c
}

// QueryAndLast passes only the original query followed by the text of the
// previous stage's final answer. The answer is handed over as user input, so
// the next stage's model sees a conversation ending on a user turn.
func QueryAndLast(c *Conversation) *Conversation {
	out := New(c.Query())
	if a, ok := c.LastAssistant(); ok {
		out.Append(&Other{Text: a.Text})
	} else if last, ok := c.Last(); ok && c.Len() > 1 {
		out.Append(&Other{Text: last.Content()})
	}
	return out
}
