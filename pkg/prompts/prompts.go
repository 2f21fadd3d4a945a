// Package prompts renders the system instructions of the restaurant agents.
package prompts

import (
	"embed"
	"fmt"
	"strings"
	"text/template"

	"github.com/tablefinder/tablefinder/pkg/a2ui"
	"github.com/tablefinder/tablefinder/pkg/tools"
)

//go:embed templates/*.tmpl
var templateFS embed.FS

var templates = template.Must(template.New("prompts").ParseFS(templateFS, "templates/*.tmpl"))

// Names of the renderable prompts.
const (
	Finder     = "finder"
	Data       = "data"
	Presenter  = "presenter"
	Restaurant = "restaurant"
)

// Params fill the prompt templates.
type Params struct {
	// UI selects the A2UI answer contract instead of plain text.
	UI bool
	// BaseURL is where static images are served.
	BaseURL string
	// Schema is the A2UI message schema quoted in UI prompts.
	Schema string
}

// Render executes the named prompt.
func Render(name string, p Params) (string, error) {
	if p.BaseURL == "" {
		p.BaseURL = tools.DefaultImageBase
	}
	p.BaseURL = strings.TrimSuffix(p.BaseURL, "/")
	if p.Schema == "" {
		p.Schema = string(a2ui.DefaultSchema)
	}
	data := struct {
		Params
		Delimiter string
	}{p, a2ui.Delimiter}

	var sb strings.Builder
	if err := templates.ExecuteTemplate(&sb, name, data); err != nil {
		return "", fmt.Errorf("prompts: render %s: %w", name, err)
	}
	return strings.TrimSpace(sb.String()), nil
}

// MustRender is like Render but panics on error.
func MustRender(name string, p Params) string {
	s, err := Render(name, p)
	if err != nil {
		panic(err)
	}
	return s
}
