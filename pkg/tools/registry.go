package tools

import (
	"fmt"
	"net/http"

	"github.com/tablefinder/tablefinder/pkg/genx"
)

// Registry holds named tools so agents can pick theirs by name.
type Registry struct {
	tools map[string]*genx.FuncTool
	order []string
}

// NewRegistry returns an empty registry.
func NewRegistry() *Registry {
	return &Registry{tools: make(map[string]*genx.FuncTool)}
}

// Add registers tools. Duplicate names are an error.
func (r *Registry) Add(tools ...*genx.FuncTool) error {
	for _, t := range tools {
		if t == nil {
			continue
		}
		if _, ok := r.tools[t.Name]; ok {
			return fmt.Errorf("tools: duplicate tool %s", t.Name)
		}
		r.tools[t.Name] = t
		r.order = append(r.order, t.Name)
	}
	return nil
}

// Get returns the tool named name.
func (r *Registry) Get(name string) (*genx.FuncTool, bool) {
	t, ok := r.tools[name]
	return t, ok
}

// Select returns the named tools in the given order.
func (r *Registry) Select(names ...string) ([]*genx.FuncTool, error) {
	out := make([]*genx.FuncTool, 0, len(names))
	for _, n := range names {
		t, ok := r.tools[n]
		if !ok {
			return nil, fmt.Errorf("tools: unknown tool %s", n)
		}
		out = append(out, t)
	}
	return out, nil
}

// Names lists registered tools in registration order.
func (r *Registry) Names() []string {
	return append([]string(nil), r.order...)
}

// Builtin returns a registry with get_restaurants over d, make_reservation,
// and one HTTP tool per entry of httpTools.
func Builtin(d *Dataset, client *http.Client, httpTools []*HTTPToolConfig) (*Registry, error) {
	r := NewRegistry()
	gr, err := GetRestaurants(d)
	if err != nil {
		return nil, err
	}
	mr, err := MakeReservation()
	if err != nil {
		return nil, err
	}
	if err := r.Add(gr, mr); err != nil {
		return nil, err
	}
	ht := NewHTTPTool(client)
	for _, cfg := range httpTools {
		t, err := ht.FuncTool(cfg)
		if err != nil {
			return nil, err
		}
		if err := r.Add(t); err != nil {
			return nil, err
		}
	}
	return r, nil
}
