package a2ui

import (
	"encoding/json"
	"fmt"
	"strings"

	"github.com/google/jsonschema-go/jsonschema"
	"github.com/kaptinlin/jsonrepair"
)

// Result is the outcome of validating one answer.
type Result struct {
	// Text is the part before the delimiter.
	Text string
	// Payload is the JSON text after trimming and fence removal.
	Payload string
	// Data is the decoded payload.
	Data any
	// Content is what gets emitted on success. Normally the original answer
	// verbatim; a repaired payload replaces the JSON part.
	Content string
	// Err is nil for a valid answer, otherwise it wraps one of the package
	// sentinel errors.
	Err error
}

// Valid reports whether the answer satisfied the contract.
func (r Result) Valid() bool {
	return r.Err == nil
}

// Reason returns the failure description without the package prefix, or ""
// for a valid result. It is quoted back to the model when re-prompting.
func (r Result) Reason() string {
	if r.Err == nil {
		return ""
	}
	return strings.TrimPrefix(r.Err.Error(), "a2ui: ")
}

// PlainText accepts any content as a text-only answer.
func PlainText(content string) Result {
	return Result{Text: content, Content: content}
}

// Option configures a Validator.
type Option func(*Validator)

// WithRepair lets the validator fix near-miss JSON (trailing commas, missing
// brackets, single quotes) before giving up on a malformed payload.
func WithRepair() Option {
	return func(v *Validator) {
		v.repair = true
	}
}

// Validator checks answers against an array-of-messages schema. It is
// immutable after construction and safe for concurrent use.
type Validator struct {
	schema *jsonschema.Resolved
	repair bool
}

// NewValidator wraps the schema of a single UI message into an array schema
// and resolves it. Any failure is returned as a *ConfigError.
func NewValidator(messageSchema []byte, opts ...Option) (*Validator, error) {
	if len(strings.TrimSpace(string(messageSchema))) == 0 {
		return nil, &ConfigError{Err: fmt.Errorf("empty message schema")}
	}
	var msg jsonschema.Schema
	if err := json.Unmarshal(messageSchema, &msg); err != nil {
		return nil, &ConfigError{Err: fmt.Errorf("parse message schema: %w", err)}
	}
	wrapped := &jsonschema.Schema{
		Type:  "array",
		Items: &msg,
	}
	resolved, err := wrapped.Resolve(nil)
	if err != nil {
		return nil, &ConfigError{Err: fmt.Errorf("resolve schema: %w", err)}
	}
	v := &Validator{schema: resolved}
	for _, opt := range opts {
		opt(v)
	}
	return v, nil
}

// MustNewValidator is like NewValidator but panics on error.
func MustNewValidator(messageSchema []byte, opts ...Option) *Validator {
	v, err := NewValidator(messageSchema, opts...)
	if err != nil {
		panic(err)
	}
	return v
}

// Validate checks content against the contract.
func (v *Validator) Validate(content string) Result {
	text, rest, err := Split(content)
	if err != nil {
		return Result{Text: content, Err: err}
	}
	res := Result{Text: text, Content: content}
	if strings.TrimSpace(rest) == "" {
		res.Err = ErrEmptyPayload
		return res
	}
	payload := stripFence(rest)
	if payload == "" {
		res.Err = ErrEmptyPayload
		return res
	}
	res.Payload = payload

	var data any
	if err := json.Unmarshal([]byte(payload), &data); err != nil {
		fixed, ok := v.tryRepair(payload, &data)
		if !ok {
			res.Err = fmt.Errorf("%w: %v", ErrMalformed, err)
			return res
		}
		res.Payload = fixed
		res.Content = text + Delimiter + "\n" + fixed
	}
	res.Data = data

	if err := v.schema.Validate(data); err != nil {
		res.Err = fmt.Errorf("%w: %v", ErrSchemaViolation, err)
		return res
	}
	return res
}

func (v *Validator) tryRepair(payload string, out *any) (string, bool) {
	if !v.repair {
		return "", false
	}
	fixed, err := jsonrepair.JSONRepair(payload)
	if err != nil {
		return "", false
	}
	if err := json.Unmarshal([]byte(fixed), out); err != nil {
		return "", false
	}
	return fixed, true
}
