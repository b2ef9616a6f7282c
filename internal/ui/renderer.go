package ui

import (
	"fmt"
	"strings"

	domain "github.com/kode-sdk/kode-chat/internal/domain"
	formatting "github.com/kode-sdk/kode-chat/internal/formatting"
	markdown "github.com/kode-sdk/kode-chat/internal/ui/markdown"
	styles "github.com/kode-sdk/kode-chat/internal/ui/styles"
)

const (
	maxToolInputLen   = 120
	maxToolResultRows = 6
)

// RendererOptions configures a Renderer
type RendererOptions struct {
	Width          int
	MarkdownStyle  string
	ShowThinking   bool
	ShowTokenUsage bool
}

// Renderer turns conversation snapshots into terminal text
type Renderer struct {
	styles   *styles.Styles
	markdown *markdown.Renderer
	width    int
	opts     RendererOptions
}

// NewRenderer creates a transcript renderer
func NewRenderer(opts RendererOptions) *Renderer {
	if opts.Width <= 0 {
		opts.Width = 80
	}
	return &Renderer{
		styles:   styles.New(),
		markdown: markdown.NewRenderer(opts.MarkdownStyle, opts.Width),
		width:    opts.Width,
		opts:     opts,
	}
}

// SetWidth updates the wrap width
func (r *Renderer) SetWidth(width int) {
	if width <= 0 || width == r.width {
		return
	}
	r.width = width
	r.markdown.SetWidth(width)
}

// Width returns the current wrap width
func (r *Renderer) Width() int {
	return r.width
}

// Render renders every entry of the snapshot in order
func (r *Renderer) Render(conv domain.Conversation) string {
	if len(conv.Entries) == 0 {
		return r.styles.Dim.Render("No messages yet. Type a message and press enter.")
	}

	blocks := make([]string, 0, len(conv.Entries))
	for _, entry := range conv.Entries {
		if block := r.RenderEntry(entry); block != "" {
			blocks = append(blocks, block)
		}
	}
	return strings.Join(blocks, "\n\n")
}

// RenderEntry renders a single transcript row
func (r *Renderer) RenderEntry(entry domain.ChatEntry) string {
	switch entry.Kind {
	case domain.EntryKindText:
		return r.renderText(entry)
	case domain.EntryKindThinking:
		return r.renderThinking(entry)
	case domain.EntryKindTool:
		return r.renderTool(entry)
	case domain.EntryKindEvent:
		return r.renderEvent(entry)
	default:
		return ""
	}
}

func (r *Renderer) renderText(entry domain.ChatEntry) string {
	if entry.Role == domain.RoleUser {
		label := r.styles.UserLabel.Render("You")
		body := r.styles.UserText.Render(formatting.WrapText(entry.Content, r.width))
		if entry.Failed {
			body = r.styles.Failed.Render(formatting.WrapText(entry.Content, r.width))
		}
		return label + "\n" + body
	}

	label := r.styles.AgentLabel.Render("Agent")
	content := entry.Content
	if entry.Streaming {
		// partial markdown renders badly, so wrap it plainly until it settles
		content = formatting.WrapText(content, r.width) + r.styles.Dim.Render(" ▍")
	} else {
		content = r.markdown.Render(content)
	}
	return label + "\n" + content
}

func (r *Renderer) renderThinking(entry domain.ChatEntry) string {
	if !r.opts.ShowThinking {
		return ""
	}
	if entry.Collapsed {
		summary := formatting.TruncateText(formatting.FirstLine(entry.Content), r.width-12)
		return r.styles.Thinking.Render(fmt.Sprintf("%s Thought: %s", styles.Thinking, summary))
	}

	header := styles.Thinking + " Thinking"
	if entry.Streaming {
		header += "..."
	}
	body := formatting.WrapText(entry.Content, r.width-2)
	return r.styles.Thinking.Render(header + "\n" + formatting.Indent(body, "  "))
}

func (r *Renderer) renderTool(entry domain.ChatEntry) string {
	var badge string
	switch entry.Status {
	case domain.ToolStatusCompleted:
		badge = r.styles.ToolSuccess.Render(styles.CheckMark + " done")
	case domain.ToolStatusError:
		badge = r.styles.ToolError.Render(styles.CrossMark + " failed")
	default:
		badge = r.styles.ToolRunning.Render(styles.Running + " running")
	}

	header := r.styles.ToolName.Render(entry.Name) + " " + badge
	if entry.DurationMs != nil {
		header += r.styles.Dim.Render(" (" + formatting.FormatDurationMs(*entry.DurationMs) + ")")
	}

	lines := []string{header}
	if entry.Input != "" {
		lines = append(lines, r.styles.Dim.Render("in:  "+formatting.TruncateText(entry.Input, maxToolInputLen)))
	}
	if entry.Result != "" {
		result := limitLines(formatting.WrapText(entry.Result, r.width-7), maxToolResultRows)
		style := r.styles.Dim
		if entry.Status == domain.ToolStatusError {
			style = r.styles.Failed
		}
		lines = append(lines, style.Render("out: "+result))
	}
	return r.styles.ToolCard.Render(strings.Join(lines, "\n"))
}

func (r *Renderer) renderEvent(entry domain.ChatEntry) string {
	line := r.styles.EventTitle.Render(styles.Bullet + " " + entry.Title)
	if entry.Details != "" {
		line += " " + r.styles.EventDetails.Render(entry.Details)
	}
	return line
}

// RenderError renders the error banner, or "" when err is nil
func (r *Renderer) RenderError(err error) string {
	if err == nil {
		return ""
	}
	return r.styles.ErrorBanner.Render(styles.CrossMark + " " + formatting.WrapText(err.Error(), r.width-2))
}

// StatusLine summarizes connection state and usage for the header
func (r *Renderer) StatusLine(conv domain.Conversation) string {
	var state string
	switch conv.ReadyState {
	case domain.ReadyStateOpen:
		state = r.styles.StatusOpen.Render(styles.Running + " " + conv.ReadyState.String())
	case domain.ReadyStateConnecting:
		state = r.styles.StatusIdle.Render(styles.Running + " " + conv.ReadyState.String())
	default:
		state = r.styles.StatusClosed.Render(styles.Running + " " + conv.ReadyState.String())
	}

	parts := []string{r.styles.Header.Render(conv.Title()), state}
	if conv.ID != "" {
		parts = append(parts, r.styles.Dim.Render(formatting.TruncateText(conv.ID, 12)))
	}
	if r.opts.ShowTokenUsage && conv.Usage.Total() > 0 {
		parts = append(parts, r.styles.Dim.Render(fmt.Sprintf("%s tokens", formatting.FormatTokens(conv.Usage.Total()))))
	}
	return strings.Join(parts, "  ")
}

func limitLines(text string, max int) string {
	lines := strings.Split(text, "\n")
	if len(lines) <= max {
		return text
	}
	return strings.Join(lines[:max], "\n") + fmt.Sprintf("\n… %d more lines", len(lines)-max)
}
