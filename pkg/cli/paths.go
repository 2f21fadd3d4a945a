package cli

import (
	"os"
	"path/filepath"
)

const (
	// DefaultBaseDir is the per-user directory under $HOME.
	DefaultBaseDir = ".tablefinder"

	// DefaultConfigFile is the config file name inside the base directory.
	DefaultConfigFile = "config.yaml"
)

// Paths locates the tablefinder files of the current user.
type Paths struct {
	HomeDir string
}

// NewPaths resolves the user's home directory.
func NewPaths() (*Paths, error) {
	home, err := os.UserHomeDir()
	if err != nil {
		return nil, err
	}
	return &Paths{HomeDir: home}, nil
}

// BaseDir returns ~/.tablefinder.
func (p *Paths) BaseDir() string {
	return filepath.Join(p.HomeDir, DefaultBaseDir)
}

// ConfigFile returns ~/.tablefinder/config.yaml.
func (p *Paths) ConfigFile() string {
	return filepath.Join(p.BaseDir(), DefaultConfigFile)
}

// DataDir returns ~/.tablefinder/data.
func (p *Paths) DataDir() string {
	return filepath.Join(p.BaseDir(), "data")
}

// TranscriptDir is where the badger transcript store lives by default.
func (p *Paths) TranscriptDir() string {
	return filepath.Join(p.DataDir(), "transcripts")
}

// EnsureDataDir creates the data directory if it doesn't exist
func (p *Paths) EnsureDataDir() error {
	return os.MkdirAll(p.DataDir(), 0755)
}

// DataPath returns a path within the data directory
func (p *Paths) DataPath(name string) string {
	return filepath.Join(p.DataDir(), name)
}
