// Package app assembles the runtime objects described by a config: model
// generators, tools, resources, transcript store, agents, the pipeline and
// the retry controller.
package app

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"time"

	"github.com/tablefinder/tablefinder/cmd/tablefinder/internal/config"
	"github.com/tablefinder/tablefinder/pkg/a2ui"
	"github.com/tablefinder/tablefinder/pkg/agent"
	"github.com/tablefinder/tablefinder/pkg/genx/generators"
	"github.com/tablefinder/tablefinder/pkg/genx/modelloader"
	"github.com/tablefinder/tablefinder/pkg/pipeline"
	"github.com/tablefinder/tablefinder/pkg/prompts"
	"github.com/tablefinder/tablefinder/pkg/retry"
	"github.com/tablefinder/tablefinder/pkg/server"
	"github.com/tablefinder/tablefinder/pkg/storage"
	"github.com/tablefinder/tablefinder/pkg/tools"
	"github.com/tablefinder/tablefinder/pkg/transcript"
)

// ErrNoModel is returned when an agent has no model configured.
var ErrNoModel = errors.New("app: no model configured (set agent.model)")

// App holds everything built from one config.
type App struct {
	Config      *config.Config
	Models      *generators.Mux
	Tools       *tools.Registry
	Resources   storage.Source
	Schema      []byte
	Transcripts transcript.Store // nil when disabled
}

// New builds an App. The caller must Close it.
func New(ctx context.Context, cfg *config.Config) (*App, error) {
	a := &App{Config: cfg, Models: generators.NewMux()}
	if err := a.loadModels(); err != nil {
		return nil, err
	}
	src, err := Resources(cfg.Resources)
	if err != nil {
		return nil, err
	}
	a.Resources = src

	a.Schema, err = readResource(ctx, src, cfg.Resources.Schema)
	if err != nil {
		return nil, err
	}
	data, err := readResource(ctx, src, cfg.Resources.Dataset)
	if err != nil {
		return nil, err
	}
	ds, err := tools.LoadDataset(data, cfg.Restaurants.ImageBaseURL)
	if err != nil {
		return nil, err
	}
	a.Tools, err = tools.Builtin(ds, &http.Client{Timeout: 30 * time.Second}, cfg.HTTPTools)
	if err != nil {
		return nil, err
	}
	a.Transcripts, err = Transcripts(cfg.Transcripts)
	if err != nil {
		return nil, err
	}
	slog.Debug("app: ready",
		"models", a.Models.Names(), "tools", a.Tools.Names(),
		"restaurants", ds.Len(), "transcripts", cfg.Transcripts.Driver)
	return a, nil
}

func (a *App) loadModels() error {
	for _, m := range a.Config.Models {
		names, err := modelloader.Register(a.Models, m)
		if errors.Is(err, modelloader.ErrMissingCredentials) {
			slog.Info("app: skipping models without credentials", "kind", m.Kind)
			continue
		}
		if err != nil {
			return fmt.Errorf("app: register %s models: %w", m.Kind, err)
		}
		slog.Debug("app: registered models", "kind", m.Kind, "names", names)
	}
	if dir := a.Config.ModelsDir; dir != "" {
		names, err := modelloader.LoadFromDir(a.Models, dir)
		if err != nil {
			return fmt.Errorf("app: load models from %s: %w", dir, err)
		}
		slog.Debug("app: registered models", "dir", dir, "names", names)
	}
	return nil
}

// Resources layers the configured directory over the configured bucket over
// the built-in schema and dataset.
func Resources(rc config.ResourcesConfig) (storage.Source, error) {
	var layers storage.Layered
	if rc.Dir != "" {
		d, err := storage.NewDir(rc.Dir)
		if err != nil {
			return nil, fmt.Errorf("app: resources: %w", err)
		}
		layers = append(layers, d)
	}
	if rc.S3 != nil {
		layers = append(layers, storage.NewS3(storage.NewS3Client(*rc.S3), rc.S3.Bucket, rc.S3.Prefix))
	}
	return append(layers, storage.NewFS(a2ui.Assets()), storage.NewFS(tools.Assets())), nil
}

// Schema reads the A2UI message schema named by rc.
func Schema(ctx context.Context, rc config.ResourcesConfig) ([]byte, error) {
	src, err := Resources(rc)
	if err != nil {
		return nil, err
	}
	return readResource(ctx, src, rc.Schema)
}

func readResource(ctx context.Context, src storage.Source, name string) ([]byte, error) {
	data, err := storage.ReadFile(ctx, src, name)
	if err != nil {
		return nil, fmt.Errorf("app: read resource %s: %w", name, err)
	}
	return data, nil
}

// Transcripts opens the configured store.
func Transcripts(tc config.TranscriptsConfig) (transcript.Store, error) {
	switch tc.Driver {
	case config.DriverNone:
		return nil, nil
	case config.DriverBadger:
		return transcript.NewBadger(transcript.BadgerOptions{Dir: tc.Dir})
	default:
		return transcript.NewMemory(), nil
	}
}

// Close releases the transcript store.
func (a *App) Close() error {
	if a.Transcripts != nil {
		return a.Transcripts.Close()
	}
	return nil
}

func (a *App) promptParams(ui bool) prompts.Params {
	return prompts.Params{
		UI:      ui,
		BaseURL: a.Config.Restaurants.ImageBaseURL,
		Schema:  string(a.Schema),
	}
}

func (a *App) toolAgent(name, model, prompt string, maxSteps int, toolNames []string) (*agent.ToolAgent, error) {
	if model == "" {
		return nil, ErrNoModel
	}
	if _, err := a.Models.Get(model); err != nil {
		return nil, fmt.Errorf("app: agent %s: %w", name, err)
	}
	fts, err := a.Tools.Select(toolNames...)
	if err != nil {
		return nil, fmt.Errorf("app: agent %s: %w", name, err)
	}
	return agent.NewToolAgent(a.Models, agent.ToolAgentConfig{
		Name:     name,
		Model:    model,
		Prompt:   prompt,
		MaxSteps: maxSteps,
	}, fts...)
}

// Agent builds the single restaurant agent.
func (a *App) Agent() (*agent.ToolAgent, error) {
	ac := a.Config.Agent
	prompt, err := prompts.Render(prompts.Restaurant, a.promptParams(ac.UI()))
	if err != nil {
		return nil, err
	}
	names := ac.Tools
	if len(names) == 0 {
		names = a.Tools.Names()
	}
	return a.toolAgent(ac.Name, ac.Model, prompt, ac.MaxSteps, names)
}

// Pipeline builds the search, data, presenter executor.
func (a *App) Pipeline() (*pipeline.Executor, error) {
	pc := a.Config.Pipeline
	params := a.promptParams(pc.UI())
	build := func(name, prompt string, sc config.StageConfig) (agent.Agent, error) {
		text, err := prompts.Render(prompt, params)
		if err != nil {
			return nil, err
		}
		return a.toolAgent(name, a.Config.StageModel(sc), text, sc.MaxSteps, sc.Tools)
	}
	finder, err := build("finder_agent", prompts.Finder, pc.Finder)
	if err != nil {
		return nil, err
	}
	data, err := build("data_agent", prompts.Data, pc.Data)
	if err != nil {
		return nil, err
	}
	presenter, err := build("presenter_agent", prompts.Presenter, pc.Presenter)
	if err != nil {
		return nil, err
	}
	mode := pipeline.ModeText
	if pc.UI() {
		mode = pipeline.ModeUI
	}
	return pipeline.New(pc.Name, pipeline.Restaurant(finder, data, presenter), pipeline.WithMode(mode))
}

// Controller wraps ag in the retry state machine configured by the agent
// section. UI mode validates against the loaded schema.
func (a *App) Controller(ag agent.Agent, ui bool) *retry.Controller {
	ac := a.Config.Agent
	opts := []retry.Option{
		retry.WithMaxAttempts(ac.MaxAttempts),
		retry.WithTransientRetries(ac.TransientRetries),
	}
	if a.Transcripts != nil {
		opts = append(opts, retry.WithObserver(transcript.Recorder(a.Transcripts, ag.Name())))
	}
	if ui {
		var vopts []a2ui.Option
		if ac.Repair {
			vopts = append(vopts, a2ui.WithRepair())
		}
		opts = append(opts, retry.WithSchema(a.Schema, vopts...))
	}
	return retry.New(ag, opts...)
}

// Answer returns what `tablefinder serve` answers with: the single agent
// behind retry, or the pipeline, itself behind retry when pipeline.retry is
// set.
func (a *App) Answer(usePipeline bool) (server.AnswerFunc, error) {
	if !usePipeline {
		ag, err := a.Agent()
		if err != nil {
			return nil, err
		}
		return server.FromController(a.Controller(ag, a.Config.Agent.UI())), nil
	}
	p, err := a.Pipeline()
	if err != nil {
		return nil, err
	}
	if a.Config.Pipeline.Retry {
		return server.FromController(a.Controller(p.Assembled(), a.Config.Pipeline.UI())), nil
	}
	return server.FromPipeline(p), nil
}
