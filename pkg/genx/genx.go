package genx

import (
	"context"
	"iter"

	"github.com/goccy/go-yaml"
)

type Stream interface {
	Next() (*MessageChunk, error)
	Close() error
	CloseWithError(error) error
}

type ModelParams struct {
	MaxTokens        int     `json:"max_tokens,omitzero" yaml:"max_tokens,omitzero"`
	FrequencyPenalty float32 `json:"frequency_penalty,omitzero" yaml:"frequency_penalty,omitzero"`
	Temperature      float32 `json:"temperature,omitzero" yaml:"temperature,omitzero"`
	TopP             float32 `json:"top_p,omitzero" yaml:"top_p,omitzero"`
	TopK             float32 `json:"top_k,omitzero" yaml:"top_k,omitzero"`
	PresencePenalty  float32 `json:"presence_penalty,omitzero" yaml:"presence_penalty,omitzero"`
}

type Prompt struct {
	Name string
	Text string
}

type Tool interface {
	isTool()
}

type ModelContext interface {
	Prompts() iter.Seq[*Prompt]
	Messages() iter.Seq[*Message]
	Tools() iter.Seq[Tool]

	Params() *ModelParams
}

// Generator produces a stream of chunks for a model context. The name is the
// registered model name; implementations that serve a single model ignore it.
type Generator interface {
	GenerateStream(ctx context.Context, name string, mctx ModelContext) (Stream, error)
}

// Usage is the token accounting of one model call.
type Usage struct {
	PromptTokenCount int64 `json:"prompt_tokens" msgpack:"prompt_tokens"`

	// Tokens served from the provider's prompt cache. Included in
	// PromptTokenCount.
	CachedContentTokenCount int64 `json:"cached_tokens" msgpack:"cached_tokens"`

	GeneratedTokenCount int64 `json:"generated_tokens" msgpack:"generated_tokens"`
}

// Total returns prompt plus generated tokens.
func (u Usage) Total() int64 {
	return u.PromptTokenCount + u.GeneratedTokenCount
}

// Add returns the sum of two usages.
func (u Usage) Add(o Usage) Usage {
	return Usage{
		PromptTokenCount:        u.PromptTokenCount + o.PromptTokenCount,
		CachedContentTokenCount: u.CachedContentTokenCount + o.CachedContentTokenCount,
		GeneratedTokenCount:     u.GeneratedTokenCount + o.GeneratedTokenCount,
	}
}

func (u Usage) String() string {
	b, _ := yaml.Marshal(map[string]map[string]any{
		"Usage": {
			"Prompt":    u.PromptTokenCount,
			"Cached":    u.CachedContentTokenCount,
			"Generated": u.GeneratedTokenCount,
		},
	})
	return string(b)
}
