package app

import (
	"context"
	"errors"
	"os"
	"path/filepath"
	"slices"
	"testing"

	"github.com/tablefinder/tablefinder/cmd/tablefinder/internal/config"
	"github.com/tablefinder/tablefinder/pkg/a2ui"
	"github.com/tablefinder/tablefinder/pkg/convo"
	"github.com/tablefinder/tablefinder/pkg/genx"
	"github.com/tablefinder/tablefinder/pkg/tools"
	"github.com/tablefinder/tablefinder/pkg/transcript"
)

// replyGen answers every call with the same text.
type replyGen struct {
	text string
}

func (g *replyGen) GenerateStream(_ context.Context, _ string, mctx genx.ModelContext) (genx.Stream, error) {
	sb := genx.NewStreamBuilder(mctx, 4)
	go func() {
		sb.Add(&genx.MessageChunk{Role: genx.RoleModel, Text: g.text})
		sb.Done(genx.Usage{PromptTokenCount: 10, GeneratedTokenCount: 5})
	}()
	return sb.Stream(), nil
}

func newApp(t *testing.T, cfg *config.Config) *App {
	t.Helper()
	a, err := New(context.Background(), cfg)
	if err != nil {
		t.Fatalf("New error: %v", err)
	}
	t.Cleanup(func() { a.Close() })
	return a
}

func TestNewDefaults(t *testing.T) {
	a := newApp(t, config.Default())
	if string(a.Schema) != string(a2ui.DefaultSchema) {
		t.Error("schema should come from the built-in copy")
	}
	if ok, err := a.Resources.Exists(context.Background(), tools.DatasetFile); err != nil || !ok {
		t.Errorf("built-in dataset missing: %v, %v", ok, err)
	}
	if !slices.Contains(a.Tools.Names(), "get_restaurants") {
		t.Errorf("tools = %v", a.Tools.Names())
	}
	if _, ok := a.Transcripts.(*transcript.Memory); !ok {
		t.Errorf("Transcripts = %T, want *transcript.Memory", a.Transcripts)
	}
	if _, err := a.Agent(); !errors.Is(err, ErrNoModel) {
		t.Errorf("Agent() error = %v, want ErrNoModel", err)
	}
}

func TestResourcesOverride(t *testing.T) {
	dir := t.TempDir()
	schema := []byte(`{"type":"object"}`)
	if err := os.WriteFile(filepath.Join(dir, config.DefaultSchemaFile), schema, 0644); err != nil {
		t.Fatal(err)
	}
	cfg := config.Default()
	cfg.Resources.Dir = dir

	a := newApp(t, cfg)
	if string(a.Schema) != string(schema) {
		t.Errorf("Schema = %s", a.Schema)
	}
	// The dataset is not in dir, so the built-in one is used.
	if !slices.Contains(a.Tools.Names(), "make_reservation") {
		t.Errorf("tools = %v", a.Tools.Names())
	}
}

func TestResourcesMissing(t *testing.T) {
	cfg := config.Default()
	cfg.Resources.Schema = "nope.json"
	if _, err := New(context.Background(), cfg); err == nil {
		t.Error("New should fail for a missing schema resource")
	}
}

func TestTranscriptDrivers(t *testing.T) {
	s, err := Transcripts(config.TranscriptsConfig{Driver: config.DriverNone})
	if err != nil || s != nil {
		t.Errorf("none = %v, %v", s, err)
	}
	s, err = Transcripts(config.TranscriptsConfig{Driver: config.DriverBadger, Dir: t.TempDir()})
	if err != nil {
		t.Fatalf("badger error: %v", err)
	}
	if _, ok := s.(*transcript.Badger); !ok {
		t.Errorf("badger = %T", s)
	}
	s.Close()
}

func TestAnswerTextAgent(t *testing.T) {
	cfg := config.Default()
	cfg.Agent.Model = "fake"
	cfg.Agent.Mode = config.ModeText
	a := newApp(t, cfg)
	if err := a.Models.Handle("fake", &replyGen{text: "Try Xi'an Famous Foods."}); err != nil {
		t.Fatal(err)
	}

	answer, err := a.Answer(false)
	if err != nil {
		t.Fatalf("Answer error: %v", err)
	}
	var last convo.Update
	for u, err := range answer(context.Background(), "chinese food in NY", "s1") {
		if err != nil {
			t.Fatalf("stream error: %v", err)
		}
		last = u
	}
	if !last.Complete || last.Content != "Try Xi'an Famous Foods." {
		t.Errorf("last = %+v", last)
	}

	recs, err := a.Transcripts.List(context.Background(), "s1")
	if err != nil {
		t.Fatal(err)
	}
	if len(recs) != 1 || recs[0].Agent != config.DefaultAgentName {
		t.Errorf("records = %+v", recs)
	}
}

func TestPipelineStages(t *testing.T) {
	cfg := config.Default()
	cfg.Agent.Model = "fake"
	cfg.Pipeline.Mode = config.ModeText
	a := newApp(t, cfg)
	if err := a.Models.Handle("fake", &replyGen{text: "ok"}); err != nil {
		t.Fatal(err)
	}

	p, err := a.Pipeline()
	if err != nil {
		t.Fatalf("Pipeline error: %v", err)
	}
	want := []string{"finder_agent", "data_agent", "presenter_agent"}
	if got := p.Stages(); !slices.Equal(got, want) {
		t.Errorf("Stages() = %v, want %v", got, want)
	}
	if p.Name() != config.DefaultPipelineName {
		t.Errorf("Name() = %q", p.Name())
	}
}

func TestAgentUnknownModel(t *testing.T) {
	cfg := config.Default()
	cfg.Agent.Model = "missing"
	a := newApp(t, cfg)
	if _, err := a.Agent(); err == nil {
		t.Error("Agent() should fail for an unregistered model")
	}
}
