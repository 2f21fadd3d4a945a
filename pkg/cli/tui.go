package cli

import (
	"bytes"
	"encoding/json"
	"fmt"
	"io"
	"strings"

	"github.com/charmbracelet/lipgloss"

	"github.com/tablefinder/tablefinder/pkg/a2ui"
	"github.com/tablefinder/tablefinder/pkg/convo"
)

// Theme defines the color scheme for the TUI.
type Theme struct {
	Primary lipgloss.Color // Main accent color
	Dim     lipgloss.Color // Dimmed/help text color
}

// DefaultTheme is the default bright green theme.
var DefaultTheme = Theme{
	Primary: lipgloss.Color("#00ff9f"),
	Dim:     lipgloss.Color("#6e7681"),
}

// Styles holds all styles derived from a theme.
type Styles struct {
	Title    lipgloss.Style
	Label    lipgloss.Style
	Progress lipgloss.Style
	Box      lipgloss.Style
}

// NewStyles creates styles from a theme, bound to r.
func NewStyles(r *lipgloss.Renderer, t Theme) Styles {
	return Styles{
		Title:    r.NewStyle().Bold(true).Foreground(t.Primary),
		Label:    r.NewStyle().Bold(true).Foreground(t.Primary),
		Progress: r.NewStyle().Foreground(t.Dim),
		Box: r.NewStyle().
			Border(lipgloss.RoundedBorder()).
			BorderForeground(t.Primary).
			Padding(0, 1),
	}
}

// DefaultWidth is the wrap width used when the terminal size is unknown.
const DefaultWidth = 80

// Printer renders a stream of updates: progress messages dimmed and
// numbered, the final answer boxed, with an A2UI payload pretty-printed
// under its own label.
type Printer struct {
	w      io.Writer
	styles Styles
	width  int
	step   int
}

// NewPrinter returns a Printer writing to w. Colors are only emitted when w
// is a terminal.
func NewPrinter(w io.Writer, t Theme) *Printer {
	return &Printer{
		w:      w,
		styles: NewStyles(lipgloss.NewRenderer(w), t),
		width:  DefaultWidth,
	}
}

// SetWidth changes the wrap width. Values below 20 are ignored.
func (p *Printer) SetWidth(width int) {
	if width >= 20 {
		p.width = width
	}
}

// Update renders one streamed update.
func (p *Printer) Update(u convo.Update) {
	if u.Complete {
		p.Final(u.Content)
		return
	}
	p.Progress(u.Content)
}

// Progress prints a non-terminal update. Only the first line is kept,
// truncated to the printer width.
func (p *Printer) Progress(msg string) {
	p.step++
	line, _, _ := strings.Cut(msg, "\n")
	prefix := fmt.Sprintf("[%d]", p.step)
	if room := p.width - len(prefix) - 2; lipgloss.Width(line) > room {
		line = truncateString(line, room) + "…"
	}
	fmt.Fprintln(p.w, p.styles.Label.Render(prefix)+" "+p.styles.Progress.Render(line))
}

// Final prints the terminal answer.
func (p *Printer) Final(content string) {
	box := p.styles.Box.Width(p.width - 2)
	text, payload, err := a2ui.Split(content)
	if err != nil {
		fmt.Fprintln(p.w, box.Render(strings.TrimSpace(content)))
		return
	}
	if t := strings.TrimSpace(text); t != "" {
		fmt.Fprintln(p.w, box.Render(t))
	}
	fmt.Fprintln(p.w, p.styles.Title.Render("A2UI"))
	fmt.Fprintln(p.w, prettyJSON(payload))
}

func prettyJSON(s string) string {
	s = strings.TrimSpace(s)
	s = strings.TrimPrefix(s, "```json")
	s = strings.TrimPrefix(s, "```")
	s = strings.TrimSuffix(s, "```")
	var buf bytes.Buffer
	if err := json.Indent(&buf, []byte(strings.TrimSpace(s)), "", "  "); err != nil {
		return s
	}
	return buf.String()
}

// truncateString safely truncates a string to the given width,
// handling multi-byte characters correctly.
func truncateString(s string, width int) string {
	if width <= 0 {
		return ""
	}
	runes := []rune(s)
	currentWidth := 0
	for i, r := range runes {
		w := lipgloss.Width(string(r))
		if currentWidth+w > width {
			return string(runes[:i])
		}
		currentWidth += w
	}
	return s
}
