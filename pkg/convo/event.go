package convo

var (
	_ Event = (*UserQuery)(nil)
	_ Event = (*ToolCallRequest)(nil)
	_ Event = (*ToolResult)(nil)
	_ Event = (*AssistantText)(nil)
	_ Event = (*Other)(nil)
)

// Event is one message produced while a request is served. The concrete type
// is decided once, where the event enters the system, and never re-derived.
type Event interface {
	// Content returns the human-readable text carried by the event.
	Content() string

	isEvent()
}

// UserQuery is the natural-language request that opened the conversation, or
// a corrective prompt added by a retry.
type UserQuery struct {
	Text string
}

func (*UserQuery) isEvent() {}

func (q *UserQuery) Content() string { return q.Text }

// ToolCallRequest is a model's request to run a tool.
//
// Arguments holds the JSON object text as produced by the model. Key order is
// preserved so progress messages render the arguments the way they were sent.
type ToolCallRequest struct {
	ID        string
	Name      string
	Arguments string
	Agent     string
}

func (*ToolCallRequest) isEvent() {}

func (c *ToolCallRequest) Content() string { return c.Arguments }

// ToolResult is the textual output of a tool run. ID correlates it with the
// ToolCallRequest that caused it; an unknown ID is tolerated.
type ToolResult struct {
	ID     string
	Name   string
	Result string
}

func (*ToolResult) isEvent() {}

func (r *ToolResult) Content() string { return r.Result }

// Meta describes the model call that produced an AssistantText.
type Meta struct {
	Model  string `json:"model_id" msgpack:"model_id"`
	Tokens int64  `json:"total_tokens" msgpack:"total_tokens"`
}

// AssistantText is text produced by a model. Meta is nil when the agent did
// not report usage.
type AssistantText struct {
	Text  string
	Agent string
	Meta  *Meta
}

func (*AssistantText) isEvent() {}

func (a *AssistantText) Content() string { return a.Text }

// Other is any event the ingestion layer could not place in a more specific
// variant.
type Other struct {
	Text string
}

func (*Other) isEvent() {}

func (o *Other) Content() string { return o.Text }

// Update is the unit streamed to the caller. Exactly one update with Complete
// set terminates a request.
type Update struct {
	Complete bool   `json:"is_task_complete" msgpack:"is_task_complete"`
	Content  string `json:"content" msgpack:"content"`
}

// Progress returns a non-terminal update.
func Progress(content string) Update {
	return Update{Content: content}
}

// Final returns a terminal update.
func Final(content string) Update {
	return Update{Complete: true, Content: content}
}
