package tools

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"net/url"
	"os"
	"strings"

	"github.com/google/jsonschema-go/jsonschema"

	"github.com/tablefinder/tablefinder/pkg/genx"
)

// Default max response size: 1MB
const defaultMaxResponseSizeMB = 1

// HTTPToolConfig declares a tool backed by an HTTP endpoint.
//
// Endpoint, header values and BearerToken support ${ENV_VAR} expansion.
// Arguments of GET and DELETE tools are sent as query parameters unless
// ReqBodyJQ is set; other methods send them as a JSON body.
type HTTPToolConfig struct {
	Name        string            `json:"name" yaml:"name"`
	Description string            `json:"description" yaml:"description"`
	Method      string            `json:"method,omitzero" yaml:"method,omitempty"`
	Endpoint    string            `json:"endpoint" yaml:"endpoint"`
	Headers     map[string]string `json:"headers,omitzero" yaml:"headers,omitempty"`
	BearerToken string            `json:"bearer_token,omitzero" yaml:"bearer_token,omitempty"`

	// Parameters is the JSON schema of the argument object shown to the
	// model. Empty means any object.
	Parameters map[string]any `json:"parameters,omitzero" yaml:"parameters,omitempty"`

	ReqBodyJQ         *JQExpr `json:"req_body_jq,omitzero" yaml:"req_body_jq,omitempty"`
	RespBodyJQ        *JQExpr `json:"resp_body_jq,omitzero" yaml:"resp_body_jq,omitempty"`
	MaxResponseSizeMB int64   `json:"max_response_size_mb,omitzero" yaml:"max_response_size_mb,omitempty"`
}

var validHTTPMethods = map[string]struct{}{
	http.MethodGet:    {},
	http.MethodPost:   {},
	http.MethodPut:    {},
	http.MethodDelete: {},
	http.MethodPatch:  {},
}

// Validate checks required fields and normalizes the method.
func (c *HTTPToolConfig) Validate() error {
	if c.Name == "" {
		return fmt.Errorf("http tool: name is required")
	}
	if c.Endpoint == "" {
		return fmt.Errorf("tool %s: endpoint is required", c.Name)
	}
	if c.Method == "" {
		c.Method = http.MethodPost
	}
	c.Method = strings.ToUpper(c.Method)
	if _, ok := validHTTPMethods[c.Method]; !ok {
		return fmt.Errorf("tool %s: invalid HTTP method %q (must be GET, POST, PUT, DELETE, or PATCH)", c.Name, c.Method)
	}
	return nil
}

// HTTPTool executes HTTP tool calls. One instance serves every configured
// HTTP tool and is safe for concurrent use.
type HTTPTool struct {
	client *http.Client
}

// NewHTTPTool creates an HTTP tool runtime. A nil client means
// http.DefaultClient.
func NewHTTPTool(client *http.Client) *HTTPTool {
	if client == nil {
		client = http.DefaultClient
	}
	return &HTTPTool{client: client}
}

// FuncTool builds the model-callable tool for cfg.
func (t *HTTPTool) FuncTool(cfg *HTTPToolConfig) (*genx.FuncTool, error) {
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	tool, err := genx.NewFuncTool[map[string]any](
		cfg.Name,
		cfg.Description,
		genx.InvokeFunc[map[string]any](func(ctx context.Context, _ *genx.FuncCall, args map[string]any) (any, error) {
			return t.Execute(ctx, cfg, args)
		}),
	)
	if err != nil {
		return nil, fmt.Errorf("tool %s: %w", cfg.Name, err)
	}
	if len(cfg.Parameters) > 0 {
		b, err := json.Marshal(cfg.Parameters)
		if err != nil {
			return nil, fmt.Errorf("tool %s: parameters: %w", cfg.Name, err)
		}
		var s jsonschema.Schema
		if err := json.Unmarshal(b, &s); err != nil {
			return nil, fmt.Errorf("tool %s: parameters: %w", cfg.Name, err)
		}
		tool.Argument = &s
	}
	return tool, nil
}

// Execute performs the request for args and returns the decoded (and
// optionally jq-shaped) response.
func (t *HTTPTool) Execute(ctx context.Context, cfg *HTTPToolConfig, args map[string]any) (any, error) {
	endpoint := expandEnvVars(cfg.Endpoint)

	var body io.Reader
	switch {
	case cfg.ReqBodyJQ != nil && cfg.ReqBodyJQ.Query != nil:
		result, err := cfg.ReqBodyJQ.Run(args)
		if err != nil {
			return nil, fmt.Errorf("build request body: %w", err)
		}
		body = strings.NewReader(result)
	case cfg.Method == http.MethodGet || cfg.Method == http.MethodDelete:
		u, err := withQuery(endpoint, args)
		if err != nil {
			return nil, err
		}
		endpoint = u
	default:
		data, err := json.Marshal(args)
		if err != nil {
			return nil, fmt.Errorf("marshal args: %w", err)
		}
		body = bytes.NewReader(data)
	}

	req, err := http.NewRequestWithContext(ctx, cfg.Method, endpoint, body)
	if err != nil {
		return nil, fmt.Errorf("create request: %w", err)
	}
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	req.Header.Set("Accept", "application/json")
	for key, value := range cfg.Headers {
		req.Header.Set(key, expandEnvVars(value))
	}
	if cfg.BearerToken != "" {
		req.Header.Set("Authorization", "Bearer "+expandEnvVars(cfg.BearerToken))
	}

	slog.Debug("tools: http call", "tool", cfg.Name, "method", cfg.Method, "endpoint", endpoint)
	resp, err := t.client.Do(req)
	if err != nil {
		return nil, fmt.Errorf("http request: %w", err)
	}
	defer resp.Body.Close()

	maxSizeMB := cfg.MaxResponseSizeMB
	if maxSizeMB <= 0 {
		maxSizeMB = defaultMaxResponseSizeMB
	}
	maxSize := maxSizeMB << 20
	limited := io.LimitReader(resp.Body, maxSize+1)

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		errBody, _ := io.ReadAll(io.LimitReader(limited, 4096))
		return nil, fmt.Errorf("http status %d: %s", resp.StatusCode, string(errBody))
	}

	raw, err := io.ReadAll(limited)
	if err != nil {
		return nil, fmt.Errorf("read response: %w", err)
	}
	if int64(len(raw)) > maxSize {
		return nil, fmt.Errorf("response exceeds %d MB", maxSizeMB)
	}
	var respBody any
	if err := json.Unmarshal(raw, &respBody); err != nil {
		return nil, fmt.Errorf("decode response: %w", err)
	}

	if cfg.RespBodyJQ != nil && cfg.RespBodyJQ.Query != nil {
		result, err := cfg.RespBodyJQ.Run(respBody)
		if err != nil {
			return nil, fmt.Errorf("extract response: %w", err)
		}
		var parsed any
		if err := json.Unmarshal([]byte(result), &parsed); err != nil {
			return result, nil
		}
		return parsed, nil
	}
	return respBody, nil
}

func withQuery(endpoint string, args map[string]any) (string, error) {
	if len(args) == 0 {
		return endpoint, nil
	}
	u, err := url.Parse(endpoint)
	if err != nil {
		return "", fmt.Errorf("parse endpoint: %w", err)
	}
	q := u.Query()
	for k, v := range args {
		switch v := v.(type) {
		case string:
			q.Set(k, v)
		case nil:
		default:
			b, err := json.Marshal(v)
			if err != nil {
				return "", fmt.Errorf("encode query %s: %w", k, err)
			}
			q.Set(k, string(b))
		}
	}
	u.RawQuery = q.Encode()
	return u.String(), nil
}

// expandEnvVars expands ${VAR} patterns in the string with environment variables.
func expandEnvVars(s string) string {
	return os.Expand(s, os.Getenv)
}
