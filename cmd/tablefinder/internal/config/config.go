// Package config loads the tablefinder configuration file.
//
// The file is YAML and lives at ~/.tablefinder/config.yaml unless --config
// names another path:
//
//	models:
//	  - kind: openai
//	    api_key: $OPENAI_API_KEY
//	    models:
//	      - name: gpt-4.1
//	        model: gpt-4.1
//	        support_tool_calls: true
//	agent:
//	  model: gpt-4.1
//	  mode: ui
//	pipeline:
//	  retry: true
//	resources:
//	  dir: ./resources
//	transcripts:
//	  driver: badger
//	server:
//	  addr: localhost:10002
//
// Values starting with "$" are expanded from the environment. Every section
// is optional; defaults are applied after load.
package config

import (
	"errors"
	"fmt"
	"io/fs"
	"os"
	"regexp"
	"strings"
	"time"

	"github.com/goccy/go-yaml"

	"github.com/tablefinder/tablefinder/pkg/a2ui"
	"github.com/tablefinder/tablefinder/pkg/cli"
	"github.com/tablefinder/tablefinder/pkg/genx/modelloader"
	"github.com/tablefinder/tablefinder/pkg/storage"
	"github.com/tablefinder/tablefinder/pkg/tools"
)

// Answer modes.
const (
	ModeUI   = "ui"
	ModeText = "text"
)

// Transcript drivers.
const (
	DriverNone   = "none"
	DriverMemory = "memory"
	DriverBadger = "badger"
)

// Defaults.
const (
	DefaultAgentName    = "restaurant_agent"
	DefaultPipelineName = "restaurant_pipeline"
	DefaultAddr         = "localhost:10002"
	DefaultSchemaFile   = a2ui.SchemaFile
	DefaultDatasetFile  = tools.DatasetFile
	DefaultStaticDir    = "images"
	DefaultMaxAttempts  = 2
	DefaultTransient    = 3
	DefaultTimeout      = 5 * time.Minute
)

// Config is the whole configuration file.
type Config struct {
	// Path is the file the config was read from, empty for defaults.
	Path string `yaml:"-" json:"-"`

	Models      []modelloader.ConfigFile `yaml:"models,omitempty" json:"models,omitempty"`
	ModelsDir   string                   `yaml:"models_dir,omitempty" json:"models_dir,omitempty"`
	Agent       AgentConfig              `yaml:"agent" json:"agent"`
	Pipeline    PipelineConfig           `yaml:"pipeline" json:"pipeline"`
	Resources   ResourcesConfig          `yaml:"resources" json:"resources"`
	Transcripts TranscriptsConfig        `yaml:"transcripts" json:"transcripts"`
	Server      ServerConfig             `yaml:"server" json:"server"`
	HTTPTools   []*tools.HTTPToolConfig  `yaml:"http_tools,omitempty" json:"http_tools,omitempty"`
	Restaurants RestaurantsConfig        `yaml:"restaurants" json:"restaurants"`
}

// AgentConfig configures the single restaurant agent and its retry
// controller.
type AgentConfig struct {
	Name             string   `yaml:"name" json:"name"`
	Model            string   `yaml:"model" json:"model"`
	Mode             string   `yaml:"mode" json:"mode"`
	MaxSteps         int      `yaml:"max_steps,omitempty" json:"max_steps,omitempty"`
	MaxAttempts      int      `yaml:"max_attempts" json:"max_attempts"`
	// TransientRetries bounds retries of one attempt after a transient
	// upstream failure. Zero means DefaultTransient, negative disables them.
	TransientRetries int      `yaml:"transient_retries" json:"transient_retries"`
	Repair           bool     `yaml:"repair,omitempty" json:"repair,omitempty"`
	Tools            []string `yaml:"tools,omitempty" json:"tools,omitempty"`
}

// UI reports whether answers follow the A2UI contract.
func (a AgentConfig) UI() bool {
	return a.Mode == ModeUI
}

// StageConfig configures one pipeline stage agent. An empty Model falls back
// to the agent model.
type StageConfig struct {
	Model    string   `yaml:"model,omitempty" json:"model,omitempty"`
	MaxSteps int      `yaml:"max_steps,omitempty" json:"max_steps,omitempty"`
	Tools    []string `yaml:"tools,omitempty" json:"tools,omitempty"`
}

// PipelineConfig configures the search, data, presenter pipeline.
type PipelineConfig struct {
	Name      string      `yaml:"name" json:"name"`
	Mode      string      `yaml:"mode" json:"mode"`
	Retry     bool        `yaml:"retry,omitempty" json:"retry,omitempty"`
	Finder    StageConfig `yaml:"finder" json:"finder"`
	Data      StageConfig `yaml:"data" json:"data"`
	Presenter StageConfig `yaml:"presenter" json:"presenter"`
}

// UI reports whether the pipeline assembles A2UI answers.
func (p PipelineConfig) UI() bool {
	return p.Mode == ModeUI
}

// ResourcesConfig locates the schema, dataset and images. Dir and S3 are
// layered in that order over the built-in schema and dataset.
type ResourcesConfig struct {
	Dir       string            `yaml:"dir,omitempty" json:"dir,omitempty"`
	S3        *storage.S3Config `yaml:"s3,omitempty" json:"s3,omitempty"`
	Schema    string            `yaml:"schema" json:"schema"`
	Dataset   string            `yaml:"dataset" json:"dataset"`
	StaticDir string            `yaml:"static_dir" json:"static_dir"`
}

// TranscriptsConfig selects where attempts are recorded.
type TranscriptsConfig struct {
	Driver string `yaml:"driver" json:"driver"`
	Dir    string `yaml:"dir,omitempty" json:"dir,omitempty"`
}

// ServerConfig configures `tablefinder serve`.
type ServerConfig struct {
	Addr           string `yaml:"addr" json:"addr"`
	BaseURL        string `yaml:"base_url" json:"base_url"`
	AllowOrigin    string `yaml:"allow_origin,omitempty" json:"allow_origin,omitempty"`
	RequestTimeout string `yaml:"request_timeout,omitempty" json:"request_timeout,omitempty"`
	Pipeline       bool   `yaml:"pipeline,omitempty" json:"pipeline,omitempty"`
}

// Timeout parses RequestTimeout. Empty means DefaultTimeout, "0" disables
// the limit.
func (s ServerConfig) Timeout() (time.Duration, error) {
	if s.RequestTimeout == "" {
		return DefaultTimeout, nil
	}
	d, err := time.ParseDuration(s.RequestTimeout)
	if err != nil {
		return 0, fmt.Errorf("config: server.request_timeout: %w", err)
	}
	return d, nil
}

// Origin compiles AllowOrigin. Nil means the server default.
func (s ServerConfig) Origin() (*regexp.Regexp, error) {
	if s.AllowOrigin == "" {
		return nil, nil
	}
	re, err := regexp.Compile(s.AllowOrigin)
	if err != nil {
		return nil, fmt.Errorf("config: server.allow_origin: %w", err)
	}
	return re, nil
}

// RestaurantsConfig configures the bundled restaurant tools.
type RestaurantsConfig struct {
	// ImageBaseURL replaces the image host of the dataset. Empty means the
	// server base URL.
	ImageBaseURL string `yaml:"image_base_url,omitempty" json:"image_base_url,omitempty"`
}

// Default returns the configuration used when no file exists.
func Default() *Config {
	c := &Config{}
	c.applyDefaults()
	return c
}

// Load reads the config at path. An empty path means the default location;
// a missing file there is not an error.
func Load(path string) (*Config, error) {
	explicit := path != ""
	if !explicit {
		p, err := cli.NewPaths()
		if err != nil {
			return nil, fmt.Errorf("config: %w", err)
		}
		path = p.ConfigFile()
	}
	data, err := os.ReadFile(path)
	if err != nil {
		if !explicit && errors.Is(err, fs.ErrNotExist) {
			return Default(), nil
		}
		return nil, fmt.Errorf("config: read %s: %w", path, err)
	}
	c, err := Parse(data)
	if err != nil {
		return nil, fmt.Errorf("config: %s: %w", path, err)
	}
	c.Path = path
	return c, nil
}

// Parse decodes YAML config data, expands environment references and applies
// defaults.
func Parse(data []byte) (*Config, error) {
	var c Config
	if err := yaml.Unmarshal(data, &c); err != nil {
		return nil, fmt.Errorf("parse: %w", err)
	}
	c.expandEnv()
	c.applyDefaults()
	if err := c.Validate(); err != nil {
		return nil, err
	}
	return &c, nil
}

func (c *Config) expandEnv() {
	c.ModelsDir = expandEnv(c.ModelsDir)
	c.Resources.Dir = expandEnv(c.Resources.Dir)
	if s3 := c.Resources.S3; s3 != nil {
		s3.Bucket = expandEnv(s3.Bucket)
		s3.Endpoint = expandEnv(s3.Endpoint)
		s3.AccessKeyID = expandEnv(s3.AccessKeyID)
		s3.SecretAccessKey = expandEnv(s3.SecretAccessKey)
	}
	c.Transcripts.Dir = expandEnv(c.Transcripts.Dir)
	c.Server.BaseURL = expandEnv(c.Server.BaseURL)
	c.Restaurants.ImageBaseURL = expandEnv(c.Restaurants.ImageBaseURL)
}

func (c *Config) applyDefaults() {
	if c.Agent.Name == "" {
		c.Agent.Name = DefaultAgentName
	}
	if c.Agent.Mode == "" {
		c.Agent.Mode = ModeUI
	}
	if c.Agent.MaxAttempts <= 0 {
		c.Agent.MaxAttempts = DefaultMaxAttempts
	}
	switch {
	case c.Agent.TransientRetries == 0:
		c.Agent.TransientRetries = DefaultTransient
	case c.Agent.TransientRetries < 0:
		c.Agent.TransientRetries = 0
	}
	if c.Pipeline.Name == "" {
		c.Pipeline.Name = DefaultPipelineName
	}
	if c.Pipeline.Mode == "" {
		c.Pipeline.Mode = c.Agent.Mode
	}
	if c.Pipeline.Finder.Tools == nil {
		c.Pipeline.Finder.Tools = []string{"get_restaurants"}
	}
	if c.Pipeline.Data.Tools == nil {
		for _, t := range c.HTTPTools {
			c.Pipeline.Data.Tools = append(c.Pipeline.Data.Tools, t.Name)
		}
	}
	if c.Resources.Schema == "" {
		c.Resources.Schema = DefaultSchemaFile
	}
	if c.Resources.Dataset == "" {
		c.Resources.Dataset = DefaultDatasetFile
	}
	if c.Resources.StaticDir == "" {
		c.Resources.StaticDir = DefaultStaticDir
	}
	if c.Transcripts.Driver == "" {
		c.Transcripts.Driver = DriverMemory
	}
	if c.Transcripts.Driver == DriverBadger && c.Transcripts.Dir == "" {
		if p, err := cli.NewPaths(); err == nil {
			c.Transcripts.Dir = p.TranscriptDir()
		}
	}
	if c.Server.Addr == "" {
		c.Server.Addr = DefaultAddr
	}
	if c.Server.BaseURL == "" {
		c.Server.BaseURL = "http://" + c.Server.Addr
	}
	c.Server.BaseURL = strings.TrimSuffix(c.Server.BaseURL, "/")
	if c.Restaurants.ImageBaseURL == "" {
		c.Restaurants.ImageBaseURL = c.Server.BaseURL
	}
}

// Validate checks values defaults cannot fix.
func (c *Config) Validate() error {
	for _, m := range []string{c.Agent.Mode, c.Pipeline.Mode} {
		if m != ModeUI && m != ModeText {
			return fmt.Errorf("config: mode %q: want %q or %q", m, ModeUI, ModeText)
		}
	}
	switch c.Transcripts.Driver {
	case DriverNone, DriverMemory:
	case DriverBadger:
		if c.Transcripts.Dir == "" {
			return errors.New("config: transcripts.dir is required for badger")
		}
	default:
		return fmt.Errorf("config: transcripts.driver %q: want none, memory or badger", c.Transcripts.Driver)
	}
	if s3 := c.Resources.S3; s3 != nil && s3.Bucket == "" {
		return errors.New("config: resources.s3.bucket is required")
	}
	for i, t := range c.HTTPTools {
		if t == nil {
			return fmt.Errorf("config: http_tools[%d] is empty", i)
		}
		if err := t.Validate(); err != nil {
			return fmt.Errorf("config: http_tools[%d]: %w", i, err)
		}
	}
	if _, err := c.Server.Timeout(); err != nil {
		return err
	}
	if _, err := c.Server.Origin(); err != nil {
		return err
	}
	return nil
}

// StageModel returns the model of a stage, falling back to the agent model.
func (c *Config) StageModel(s StageConfig) string {
	if s.Model != "" {
		return s.Model
	}
	return c.Agent.Model
}

// expandEnv expands a value of the form "$VAR" or "${VAR}".
func expandEnv(s string) string {
	if strings.HasPrefix(s, "$") {
		return os.ExpandEnv(s)
	}
	return s
}
