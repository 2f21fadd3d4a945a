package cli

import (
	"os"
	"path/filepath"
	"testing"
)

func TestNewPaths(t *testing.T) {
	paths, err := NewPaths()
	if err != nil {
		t.Fatalf("NewPaths error: %v", err)
	}
	if paths.HomeDir == "" {
		t.Error("HomeDir should not be empty")
	}
}

func TestPathsLayout(t *testing.T) {
	home := t.TempDir()
	p := &Paths{HomeDir: home}

	base := filepath.Join(home, DefaultBaseDir)
	if got := p.BaseDir(); got != base {
		t.Errorf("BaseDir() = %q, want %q", got, base)
	}
	if got := p.ConfigFile(); got != filepath.Join(base, DefaultConfigFile) {
		t.Errorf("ConfigFile() = %q", got)
	}
	if got := p.TranscriptDir(); got != filepath.Join(base, "data", "transcripts") {
		t.Errorf("TranscriptDir() = %q", got)
	}
	if got := p.DataPath("x.db"); got != filepath.Join(base, "data", "x.db") {
		t.Errorf("DataPath() = %q", got)
	}
}

func TestPathsEnsureDataDir(t *testing.T) {
	p := &Paths{HomeDir: t.TempDir()}
	if err := p.EnsureDataDir(); err != nil {
		t.Fatalf("EnsureDataDir error: %v", err)
	}
	info, err := os.Stat(p.DataDir())
	if err != nil {
		t.Fatalf("stat: %v", err)
	}
	if !info.IsDir() {
		t.Error("DataDir is not a directory")
	}
}
