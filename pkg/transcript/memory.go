package transcript

import (
	"context"
	"slices"
	"sync"
)

// Memory is an in-memory Store. It is safe for concurrent use.
type Memory struct {
	mu       sync.RWMutex
	sessions map[string][]Record
}

// NewMemory returns an empty Memory store.
func NewMemory() *Memory {
	return &Memory{sessions: make(map[string][]Record)}
}

func (m *Memory) Append(_ context.Context, r Record) error {
	if r.Session == "" {
		return ErrInvalidSession
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	m.sessions[r.Session] = append(m.sessions[r.Session], r)
	return nil
}

func (m *Memory) List(_ context.Context, session string) ([]Record, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return slices.Clone(m.sessions[session]), nil
}

func (m *Memory) Sessions(_ context.Context) ([]string, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	out := make([]string, 0, len(m.sessions))
	for s := range m.sessions {
		out = append(out, s)
	}
	slices.Sort(out)
	return out, nil
}

func (m *Memory) Close() error {
	return nil
}

var _ Store = (*Memory)(nil)
