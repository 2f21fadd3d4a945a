package tools

import (
	"encoding/json"
	"fmt"

	"github.com/goccy/go-yaml"
	"github.com/itchyny/gojq"
)

// JQExpr is a jq expression parsed when it is loaded, so bad expressions
// fail at config time instead of on the first tool call.
type JQExpr struct {
	Expr  string
	Query *gojq.Query
}

// ParseJQ parses expr.
func ParseJQ(expr string) (*JQExpr, error) {
	e := &JQExpr{}
	if err := e.set(expr); err != nil {
		return nil, err
	}
	return e, nil
}

func (e *JQExpr) set(expr string) error {
	e.Expr = expr
	e.Query = nil
	if expr == "" {
		return nil
	}
	q, err := gojq.Parse(expr)
	if err != nil {
		return fmt.Errorf("invalid jq expression %q: %w", expr, err)
	}
	e.Query = q
	return nil
}

func (e JQExpr) MarshalJSON() ([]byte, error) {
	return json.Marshal(e.Expr)
}

func (e *JQExpr) UnmarshalJSON(data []byte) error {
	var s string
	if err := json.Unmarshal(data, &s); err != nil {
		return err
	}
	return e.set(s)
}

func (e JQExpr) MarshalYAML() (any, error) {
	return e.Expr, nil
}

func (e *JQExpr) UnmarshalYAML(b []byte) error {
	var s string
	if err := yaml.Unmarshal(b, &s); err != nil {
		return err
	}
	return e.set(s)
}

// Run executes the query on input and returns the first result as JSON.
func (e *JQExpr) Run(input any) (string, error) {
	if e == nil || e.Query == nil {
		return "", nil
	}
	it := e.Query.Run(input)
	v, ok := it.Next()
	if !ok {
		return "", fmt.Errorf("jq expression returned no result")
	}
	if err, ok := v.(error); ok {
		return "", fmt.Errorf("jq error: %w", err)
	}
	b, err := json.Marshal(v)
	if err != nil {
		return "", fmt.Errorf("marshal jq result: %w", err)
	}
	return string(b), nil
}
