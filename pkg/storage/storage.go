// Package storage reads the resources the agents depend on: the A2UI message
// schema, the restaurant dataset and the static images served to clients.
// Resources live in a local directory, an embedded filesystem or an S3
// bucket, and can be layered so deployments override only what they need.
package storage

import (
	"context"
	"errors"
	"fmt"
	"io"
	"io/fs"
	"path"
	"strings"
)

// Source is a read-only store of named resources.
//
// Names are forward-slash separated and relative to the source root.
// Implementations must be safe for concurrent use.
type Source interface {
	// Open opens the named resource for reading. The caller must close the
	// returned ReadCloser. If the resource does not exist, an error wrapping
	// fs.ErrNotExist is returned.
	Open(ctx context.Context, name string) (io.ReadCloser, error)

	// Exists reports whether the named resource exists.
	Exists(ctx context.Context, name string) (bool, error)
}

// ReadFile reads a whole resource.
func ReadFile(ctx context.Context, src Source, name string) ([]byte, error) {
	rc, err := src.Open(ctx, name)
	if err != nil {
		return nil, err
	}
	defer rc.Close()
	return io.ReadAll(rc)
}

// clean validates a resource name and returns its canonical form. Names that
// escape the root are rejected.
func clean(name string) (string, error) {
	n := path.Clean("/" + strings.TrimPrefix(name, "/"))[1:]
	if n == "" || !fs.ValidPath(n) {
		return "", fmt.Errorf("storage: invalid name %q: %w", name, fs.ErrInvalid)
	}
	return n, nil
}

// Layered consults sources in order and returns the first hit.
type Layered []Source

func (l Layered) Open(ctx context.Context, name string) (io.ReadCloser, error) {
	for _, s := range l {
		rc, err := s.Open(ctx, name)
		if err == nil {
			return rc, nil
		}
		if !errors.Is(err, fs.ErrNotExist) {
			return nil, err
		}
	}
	return nil, fmt.Errorf("storage: open %s: %w", name, fs.ErrNotExist)
}

func (l Layered) Exists(ctx context.Context, name string) (bool, error) {
	for _, s := range l {
		ok, err := s.Exists(ctx, name)
		if err != nil {
			return false, err
		}
		if ok {
			return true, nil
		}
	}
	return false, nil
}

var _ Source = Layered(nil)
