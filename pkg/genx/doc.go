// Package genx is the model capability layer: a provider-neutral view of a
// chat model that streams text and tool calls.
//
// # Core Types
//
// ModelContext is what a model sees: prompts, messages and tools. Build one
// with ModelContextBuilder.
//
// Generator turns a ModelContext into a Stream:
//
//	type Stream interface {
//	    Next() (*MessageChunk, error)
//	    Close() error
//	    CloseWithError(error) error
//	}
//
// A stream ends with a *State error wrapping ErrDone on success, or a State
// describing truncation, blocking or failure. Errors from the provider are
// reported as *UpstreamError so callers can tell transient failures (rate
// limits, 5xx, network) from permanent ones.
//
// FuncTool declares a callable tool whose argument schema is derived from a
// Go type.
//
// # Package Structure
//
//   - genx/generators: a registry of named generators
//   - genx/modelloader: YAML/JSON model configuration that registers
//     OpenAI-compatible and Gemini generators
package genx
