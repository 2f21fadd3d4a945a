// Package modelloader reads model configuration files and registers the
// generators they describe.
//
// A config file lists one provider and the models served through it:
//
//	kind: openai
//	api_key: $OCI_GENAI_API_KEY
//	base_url: https://inference.generativeai.us-chicago-1.oci.oraclecloud.com/openai/v1
//	models:
//	  - name: oci/gpt-4.1
//	    model: openai.gpt-4.1
//	    support_tool_calls: true
//
// Values starting with "$" are expanded from the environment.
package modelloader

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"io/fs"
	"log/slog"
	"net/http"
	"os"
	"path/filepath"
	"strings"

	"github.com/goccy/go-yaml"
	"github.com/openai/openai-go"
	"github.com/openai/openai-go/option"
	"google.golang.org/genai"

	"github.com/tablefinder/tablefinder/pkg/genx"
	"github.com/tablefinder/tablefinder/pkg/genx/generators"
)

// ErrMissingCredentials is returned for a config whose API key is empty after
// environment expansion.
var ErrMissingCredentials = errors.New("modelloader: api_key is required")

// Verbose enables request body logging for debugging.
var Verbose bool

type verboseTransport struct {
	base http.RoundTripper
}

func (t *verboseTransport) RoundTrip(req *http.Request) (*http.Response, error) {
	if req.Body != nil {
		body, err := io.ReadAll(req.Body)
		if err != nil {
			return nil, err
		}
		req.Body = io.NopCloser(bytes.NewReader(body))

		var pretty bytes.Buffer
		if err := json.Indent(&pretty, body, "", "  "); err == nil {
			body = pretty.Bytes()
		}
		slog.Debug("modelloader: request", "url", req.URL.String(), "body", string(body))
	}
	return t.base.RoundTrip(req)
}

type ConfigFile struct {
	Kind    string  `json:"kind" yaml:"kind"` // "openai", "gemini"
	APIKey  string  `json:"api_key,omitzero" yaml:"api_key,omitzero"`
	BaseURL string  `json:"base_url,omitzero" yaml:"base_url,omitzero"`
	Models  []Entry `json:"models,omitzero" yaml:"models,omitzero"`
}

type Entry struct {
	Name             string            `json:"name" yaml:"name"`
	Model            string            `json:"model" yaml:"model"`
	GenerateParams   *genx.ModelParams `json:"generate_params,omitzero" yaml:"generate_params,omitzero"`
	SupportToolCalls bool              `json:"support_tool_calls,omitzero" yaml:"support_tool_calls,omitzero"`
	UseSystemRole    bool              `json:"use_system_role,omitzero" yaml:"use_system_role,omitzero"`
	ExtraFields      map[string]any    `json:"extra_fields,omitzero" yaml:"extra_fields,omitzero"`
	Desc             string            `json:"desc,omitzero" yaml:"desc,omitzero"`
}

// LoadFromDir loads model configs from dir recursively and registers their
// generators to mux. Configs with missing credentials are skipped.
// Returns the registered model names.
func LoadFromDir(mux *generators.Mux, dir string) ([]string, error) {
	var names []string
	err := filepath.WalkDir(dir, func(path string, d fs.DirEntry, err error) error {
		if err != nil {
			return err
		}
		if d.IsDir() || !isConfigFile(path) {
			return nil
		}
		fileNames, err := LoadFile(mux, path)
		if errors.Is(err, ErrMissingCredentials) {
			slog.Info("modelloader: skipping config without credentials", "path", path)
			return nil
		}
		if err != nil {
			return err
		}
		names = append(names, fileNames...)
		return nil
	})
	return names, err
}

// LoadFile registers the generators described by one config file.
func LoadFile(mux *generators.Mux, path string) ([]string, error) {
	cfg, err := parseConfig(path)
	if err != nil {
		return nil, fmt.Errorf("parse %s: %w", path, err)
	}
	names, err := Register(mux, *cfg)
	if err != nil {
		return nil, fmt.Errorf("register %s: %w", path, err)
	}
	return names, nil
}

func isConfigFile(path string) bool {
	switch strings.ToLower(filepath.Ext(path)) {
	case ".json", ".yaml", ".yml":
		return true
	}
	return false
}

func parseConfig(path string) (*ConfigFile, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, err
	}
	var cfg ConfigFile
	switch strings.ToLower(filepath.Ext(path)) {
	case ".json":
		err = json.Unmarshal(data, &cfg)
	case ".yaml", ".yml":
		err = yaml.Unmarshal(data, &cfg)
	default:
		err = fmt.Errorf("unsupported extension: %s", filepath.Ext(path))
	}
	if err != nil {
		return nil, err
	}
	return &cfg, nil
}

// Register creates the provider client for cfg and registers one generator
// per model entry.
func Register(mux *generators.Mux, cfg ConfigFile) ([]string, error) {
	cfg.APIKey = expandEnv(cfg.APIKey)
	cfg.BaseURL = expandEnv(cfg.BaseURL)

	var newGen func(Entry) genx.Generator
	switch strings.ToLower(cfg.Kind) {
	case "openai":
		client, err := openAIClient(cfg)
		if err != nil {
			return nil, err
		}
		newGen = func(m Entry) genx.Generator {
			return &genx.OpenAIGenerator{
				Client:           client,
				Model:            m.Model,
				GenerateParams:   m.GenerateParams,
				SupportToolCalls: m.SupportToolCalls,
				UseSystemRole:    m.UseSystemRole,
				ExtraFields:      m.ExtraFields,
			}
		}
	case "gemini":
		client, err := geminiClient(cfg)
		if err != nil {
			return nil, err
		}
		newGen = func(m Entry) genx.Generator {
			return &genx.GeminiGenerator{
				Client:         client,
				Model:          m.Model,
				GenerateParams: m.GenerateParams,
			}
		}
	default:
		return nil, fmt.Errorf("unknown kind: %q", cfg.Kind)
	}

	var names []string
	for _, m := range cfg.Models {
		if m.Name == "" || m.Model == "" {
			return nil, fmt.Errorf("model entry missing name or model")
		}
		if err := mux.Handle(m.Name, newGen(m)); err != nil {
			return nil, fmt.Errorf("register generator %q: %w", m.Name, err)
		}
		names = append(names, m.Name)
	}
	return names, nil
}

func expandEnv(s string) string {
	if strings.HasPrefix(s, "$") {
		return os.ExpandEnv(s)
	}
	return s
}

func openAIClient(cfg ConfigFile) (*openai.Client, error) {
	if cfg.APIKey == "" {
		return nil, fmt.Errorf("%w for openai kind", ErrMissingCredentials)
	}
	opts := []option.RequestOption{option.WithAPIKey(cfg.APIKey)}
	if cfg.BaseURL != "" {
		opts = append(opts, option.WithBaseURL(cfg.BaseURL))
	}
	if Verbose {
		opts = append(opts, option.WithHTTPClient(&http.Client{
			Transport: &verboseTransport{base: http.DefaultTransport},
		}))
	}
	client := openai.NewClient(opts...)
	return &client, nil
}

func geminiClient(cfg ConfigFile) (*genai.Client, error) {
	if cfg.APIKey == "" {
		return nil, fmt.Errorf("%w for gemini kind", ErrMissingCredentials)
	}
	return genai.NewClient(context.Background(), &genai.ClientConfig{
		APIKey:  cfg.APIKey,
		Backend: genai.BackendGeminiAPI,
	})
}
