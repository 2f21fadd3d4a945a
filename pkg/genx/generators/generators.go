// Package generators provides a registry that routes genx.Generator calls by
// model name.
package generators

import (
	"context"
	"fmt"
	"slices"
	"sync"

	"github.com/tablefinder/tablefinder/pkg/genx"
)

var _ genx.Generator = (*Mux)(nil)

// DefaultMux is the default generator multiplexer.
var DefaultMux = NewMux()

// Handle registers a generator for the given name to the default mux.
func Handle(name string, gen genx.Generator) error {
	return DefaultMux.Handle(name, gen)
}

// GenerateStream generates a stream using the default mux.
func GenerateStream(ctx context.Context, name string, mctx genx.ModelContext) (genx.Stream, error) {
	return DefaultMux.GenerateStream(ctx, name, mctx)
}

// Mux routes requests to generators registered under a model name.
// It is safe for concurrent use.
type Mux struct {
	mu   sync.RWMutex
	gens map[string]genx.Generator
}

// NewMux creates an empty multiplexer.
func NewMux() *Mux {
	return &Mux{gens: make(map[string]genx.Generator)}
}

// Handle registers a generator for name.
// Returns an error if a generator is already registered for the name.
func (gm *Mux) Handle(name string, gen genx.Generator) error {
	if name == "" {
		return fmt.Errorf("generator name is empty")
	}
	if gen == nil {
		return fmt.Errorf("generator for %s is nil", name)
	}
	gm.mu.Lock()
	defer gm.mu.Unlock()
	if _, ok := gm.gens[name]; ok {
		return fmt.Errorf("generator already registered for %s", name)
	}
	gm.gens[name] = gen
	return nil
}

// GenerateStream generates a stream with the generator registered for name.
func (gm *Mux) GenerateStream(ctx context.Context, name string, mctx genx.ModelContext) (genx.Stream, error) {
	gen, err := gm.Get(name)
	if err != nil {
		return nil, err
	}
	return gen.GenerateStream(ctx, name, mctx)
}

// Get returns the generator registered for name.
func (gm *Mux) Get(name string) (genx.Generator, error) {
	gm.mu.RLock()
	defer gm.mu.RUnlock()
	gen, ok := gm.gens[name]
	if !ok {
		return nil, fmt.Errorf("generator not found for %s", name)
	}
	return gen, nil
}

// Names returns the registered names in sorted order.
func (gm *Mux) Names() []string {
	gm.mu.RLock()
	defer gm.mu.RUnlock()
	names := make([]string, 0, len(gm.gens))
	for n := range gm.gens {
		names = append(names, n)
	}
	slices.Sort(names)
	return names
}
