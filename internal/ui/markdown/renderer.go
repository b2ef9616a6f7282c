package markdown

import (
	"strings"

	glamour "github.com/charmbracelet/glamour"
)

// Renderer converts assistant markdown to styled terminal output
type Renderer struct {
	style    string
	width    int
	renderer *glamour.TermRenderer
}

// NewRenderer creates a renderer. style is a glamour standard style name
// ("dark", "light", "notty", "ascii") or "auto".
func NewRenderer(style string, width int) *Renderer {
	r := &Renderer{style: style, width: width}
	r.updateRenderer()
	return r
}

// SetWidth updates the wrap width
func (r *Renderer) SetWidth(width int) {
	if width != r.width {
		r.width = width
		r.updateRenderer()
	}
}

// Render renders content, returning it unchanged when it has no markdown
// or rendering fails
func (r *Renderer) Render(content string) string {
	if r.renderer == nil || !containsMarkdown(content) {
		return content
	}

	rendered, err := r.renderer.Render(content)
	if err != nil {
		return content
	}
	return strings.Trim(rendered, "\n")
}

func (r *Renderer) updateRenderer() {
	opts := []glamour.TermRendererOption{glamour.WithWordWrap(r.width)}
	switch r.style {
	case "", "auto":
		opts = append(opts, glamour.WithAutoStyle())
	default:
		opts = append(opts, glamour.WithStandardStyle(r.style))
	}

	renderer, err := glamour.NewTermRenderer(opts...)
	if err != nil {
		renderer, err = glamour.NewTermRenderer(glamour.WithStandardStyle("notty"), glamour.WithWordWrap(r.width))
		if err != nil {
			renderer = nil
		}
	}
	r.renderer = renderer
}

var markdownMarkers = []string{"```", "`", "**", "__", "# ", "- ", "* ", "1. ", "> ", "](", "|"}

// containsMarkdown skips glamour for plain prose
func containsMarkdown(content string) bool {
	for _, marker := range markdownMarkers {
		if strings.Contains(content, marker) {
			return true
		}
	}
	return false
}
