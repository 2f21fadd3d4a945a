package genx

import (
	"context"
	"fmt"
	"iter"
	"slices"

	"github.com/goccy/go-yaml"
)

var _ ModelContext = (*modelContext)(nil)

type ModelContextBuilder struct {
	Prompts  []*Prompt
	Messages []*Message

	Tools []Tool

	Params *ModelParams
}

func (mcb *ModelContextBuilder) Build() ModelContext {
	return &modelContext{
		prompts:  slices.Clone(mcb.Prompts),
		messages: slices.Clone(mcb.Messages),
		tools:    slices.Clone(mcb.Tools),
		params:   mcb.Params,
	}
}

func (mcb *ModelContextBuilder) lastPrompt() (*Prompt, bool) {
	if len(mcb.Prompts) == 0 {
		return nil, false
	}
	return mcb.Prompts[len(mcb.Prompts)-1], true
}

// AddPrompt appends a prompt, merging it into the previous one when both
// share a name.
func (mcb *ModelContextBuilder) AddPrompt(prompt *Prompt) {
	if p, ok := mcb.lastPrompt(); ok && p.Name == prompt.Name {
		if p.Text != "" {
			p.Text += "\n" + prompt.Text
		} else {
			p.Text = prompt.Text
		}
		return
	}
	mcb.Prompts = append(mcb.Prompts, prompt)
}

func (mcb *ModelContextBuilder) lastMessage() (*Message, bool) {
	if len(mcb.Messages) == 0 {
		return nil, false
	}
	return mcb.Messages[len(mcb.Messages)-1], true
}

// AddMessage appends msg. Consecutive content messages from the same role
// and name are merged.
func (mcb *ModelContextBuilder) AddMessage(msg *Message) {
	if m, ok := mcb.lastMessage(); ok {
		if p, ok := m.Payload.(Contents); ok && msg.Role == m.Role && msg.Name == m.Name {
			if next, ok := msg.Payload.(Contents); ok {
				m.Payload = append(p, next...)
				return
			}
		}
	}
	mcb.Messages = append(mcb.Messages, msg)
}

func (mcb *ModelContextBuilder) AddTool(tool Tool) {
	mcb.Tools = append(mcb.Tools, tool)
}

// Prompt adds a prompt holding value rendered as YAML under key.
func (mcb *ModelContextBuilder) Prompt(name, key string, value any) error {
	b, err := yaml.Marshal(map[string]any{key: value})
	if err != nil {
		return err
	}
	mcb.AddPrompt(&Prompt{Name: name, Text: string(b)})
	return nil
}

func (mcb *ModelContextBuilder) PromptText(name, text string) {
	mcb.AddPrompt(&Prompt{Name: name, Text: text})
}

func (mcb *ModelContextBuilder) UserText(name, text string) {
	mcb.AddMessage(&Message{
		Role:    RoleUser,
		Name:    name,
		Payload: Contents{text},
	})
}

func (mcb *ModelContextBuilder) ModelText(name, text string) {
	mcb.AddMessage(&Message{
		Role:    RoleModel,
		Name:    name,
		Payload: Contents{text},
	})
}

// AddToolCall records a model's tool call.
func (mcb *ModelContextBuilder) AddToolCall(name string, call *ToolCall) {
	mcb.Messages = append(mcb.Messages, &Message{
		Role:    RoleModel,
		Name:    name,
		Payload: call,
	})
}

// AddToolResult records the result of a tool call.
func (mcb *ModelContextBuilder) AddToolResult(id, tool, result string) {
	mcb.Messages = append(mcb.Messages, &Message{
		Role:    RoleTool,
		Payload: &ToolResult{ID: id, Name: tool, Result: result},
	})
}

// InvokeTool runs call and records both the call and its result. The result
// text is returned.
func (mcb *ModelContextBuilder) InvokeTool(ctx context.Context, name string, call *ToolCall) (string, error) {
	if call.FuncCall == nil {
		return "", fmt.Errorf("invoke can only be called on function call: id=%s", call.ID)
	}
	res, err := call.Invoke(ctx)
	if err != nil {
		return "", err
	}
	text, err := ResultText(res)
	if err != nil {
		return "", err
	}
	mcb.AddToolCall(name, call)
	mcb.AddToolResult(call.ID, call.FuncCall.Name, text)
	return text, nil
}

type modelContext struct {
	prompts  []*Prompt
	messages []*Message

	tools []Tool

	params *ModelParams
}

func (mctx *modelContext) Prompts() iter.Seq[*Prompt] {
	return slices.Values(mctx.prompts)
}

func (mctx *modelContext) Messages() iter.Seq[*Message] {
	return slices.Values(mctx.messages)
}

func (mctx *modelContext) Tools() iter.Seq[Tool] {
	return slices.Values(mctx.tools)
}

func (mctx *modelContext) Params() *ModelParams {
	return mctx.params
}
