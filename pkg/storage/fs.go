package storage

import (
	"context"
	"errors"
	"io"
	"io/fs"
)

// FS adapts an fs.FS, typically an embed.FS, to Source.
type FS struct {
	fsys fs.FS
}

// NewFS returns a Source reading from fsys.
func NewFS(fsys fs.FS) *FS {
	return &FS{fsys: fsys}
}

func (f *FS) Open(_ context.Context, name string) (io.ReadCloser, error) {
	n, err := clean(name)
	if err != nil {
		return nil, err
	}
	return f.fsys.Open(n)
}

func (f *FS) Exists(_ context.Context, name string) (bool, error) {
	n, err := clean(name)
	if err != nil {
		return false, err
	}
	_, err = fs.Stat(f.fsys, n)
	if err == nil {
		return true, nil
	}
	if errors.Is(err, fs.ErrNotExist) {
		return false, nil
	}
	return false, err
}

var _ Source = (*FS)(nil)
