package storage

import (
	"context"
	"errors"
	"fmt"
	"io"
	"io/fs"
	"os"
	"path/filepath"
)

// Dir is a Source backed by a local directory.
type Dir struct {
	root string
}

// NewDir returns a Dir rooted at dir. The directory must exist.
func NewDir(dir string) (*Dir, error) {
	abs, err := filepath.Abs(dir)
	if err != nil {
		return nil, err
	}
	fi, err := os.Stat(abs)
	if err != nil {
		return nil, fmt.Errorf("storage: %w", err)
	}
	if !fi.IsDir() {
		return nil, fmt.Errorf("storage: %s is not a directory", abs)
	}
	return &Dir{root: abs}, nil
}

// resolve turns a resource name into an absolute filesystem path.
func (d *Dir) resolve(name string) (string, error) {
	n, err := clean(name)
	if err != nil {
		return "", err
	}
	return filepath.Join(d.root, filepath.FromSlash(n)), nil
}

func (d *Dir) Open(_ context.Context, name string) (io.ReadCloser, error) {
	p, err := d.resolve(name)
	if err != nil {
		return nil, err
	}
	f, err := os.Open(p)
	if err != nil {
		return nil, err
	}
	if fi, err := f.Stat(); err == nil && fi.IsDir() {
		f.Close()
		return nil, fmt.Errorf("storage: open %s: %w", name, fs.ErrNotExist)
	}
	return f, nil
}

func (d *Dir) Exists(_ context.Context, name string) (bool, error) {
	p, err := d.resolve(name)
	if err != nil {
		return false, err
	}
	fi, err := os.Stat(p)
	if err == nil {
		return !fi.IsDir(), nil
	}
	if errors.Is(err, fs.ErrNotExist) {
		return false, nil
	}
	return false, err
}

var _ Source = (*Dir)(nil)
