// Package a2ui implements the response contract for UI answers: a free-text
// part, the literal delimiter, then a JSON array of UI messages that must
// conform to the A2UI message schema.
//
// The delimiter is a wire token shared with the model prompt and with
// clients. It is matched literally and only its first occurrence splits the
// content.
package a2ui

import (
	"errors"
	"strings"
)

// Delimiter separates the text part of an answer from its UI payload.
const Delimiter = "---a2ui_JSON---"

// Sentinel errors describing why content failed the contract.
var (
	ErrMissingDelimiter = errors.New("a2ui: missing delimiter")
	ErrEmptyPayload     = errors.New("a2ui: empty payload")
	ErrMalformed        = errors.New("a2ui: malformed encoding")
	ErrSchemaViolation  = errors.New("a2ui: schema violation")
)

// ConfigError reports a schema that could not be loaded or wrapped. It is
// fatal for UI mode: no answer can be validated without a schema.
type ConfigError struct {
	Err error
}

func (e *ConfigError) Error() string {
	return "a2ui: schema configuration: " + e.Err.Error()
}

func (e *ConfigError) Unwrap() error {
	return e.Err
}

// Split cuts content at the first delimiter. The payload is returned as it
// follows the delimiter, untrimmed.
func Split(content string) (text, payload string, err error) {
	text, payload, ok := strings.Cut(content, Delimiter)
	if !ok {
		return content, "", ErrMissingDelimiter
	}
	return text, payload, nil
}

// Assemble joins a text part and a payload into a contract-shaped answer.
func Assemble(text, payload string) string {
	return text + "\n" + Delimiter + "\n" + strings.TrimSpace(payload)
}

// stripFence removes an optional markdown code fence around the payload.
func stripFence(s string) string {
	s = strings.TrimSpace(s)
	if rest, ok := strings.CutPrefix(s, "```json"); ok {
		s = rest
	} else if rest, ok := strings.CutPrefix(s, "```"); ok {
		s = rest
	}
	s = strings.TrimSuffix(strings.TrimSpace(s), "```")
	return strings.TrimSpace(s)
}
