package ui

import (
	"errors"
	"strings"
	"testing"

	domain "github.com/kode-sdk/kode-chat/internal/domain"
	assert "github.com/stretchr/testify/assert"
)

func newTestRenderer() *Renderer {
	return NewRenderer(RendererOptions{
		Width:          80,
		MarkdownStyle:  "notty",
		ShowThinking:   true,
		ShowTokenUsage: true,
	})
}

func TestRenderer_EmptyConversation(t *testing.T) {
	r := newTestRenderer()
	out := r.Render(*domain.NewConversation("c1"))
	assert.Contains(t, out, "No messages yet")
}

func TestRenderer_RenderEntry(t *testing.T) {
	r := newTestRenderer()

	failed := domain.NewTextEntry("u2", domain.RoleUser, "hello\n(send failed)", false)
	failed.Failed = true

	collapsed := domain.NewThinkingEntry("th2", "Considering the request\nmore detail")
	collapsed.Streaming = false
	collapsed.Collapsed = true

	done := domain.NewToolEntry("t2", "echo", domain.ToolStatusCompleted, `{"message":"hi"}`)
	done.Result = `{"echo":"hi"}`
	done.DurationMs = domain.Int64Ptr(1500)

	failedTool := domain.NewToolEntry("t3", "search", domain.ToolStatusError, "")
	failedTool.Result = "interrupted"

	tests := []struct {
		name     string
		entry    domain.ChatEntry
		contains []string
		excludes []string
	}{
		{
			name:     "user text",
			entry:    domain.NewTextEntry("u1", domain.RoleUser, "hello there", false),
			contains: []string{"You", "hello there"},
		},
		{
			name:     "failed user text",
			entry:    failed,
			contains: []string{"(send failed)"},
		},
		{
			name:     "streaming assistant text",
			entry:    domain.NewTextEntry("a1", domain.RoleAssistant, "partial reply", true),
			contains: []string{"Agent", "partial reply", "▍"},
		},
		{
			name:     "final assistant text",
			entry:    domain.NewTextEntry("a2", domain.RoleAssistant, "complete reply", false),
			contains: []string{"Agent", "complete reply"},
			excludes: []string{"▍"},
		},
		{
			name:     "streaming thinking",
			entry:    domain.NewThinkingEntry("th1", "pondering"),
			contains: []string{"Thinking...", "pondering"},
		},
		{
			name:     "collapsed thinking shows summary",
			entry:    collapsed,
			contains: []string{"Thought: Considering the request"},
			excludes: []string{"more detail"},
		},
		{
			name:     "running tool",
			entry:    domain.NewToolEntry("t1", "echo", domain.ToolStatusRunning, `{"message":"hi"}`),
			contains: []string{"echo", "running", `in:  {"message":"hi"}`},
		},
		{
			name:     "completed tool",
			entry:    done,
			contains: []string{"✓ done", "(1.5s)", `out: {"echo":"hi"}`},
		},
		{
			name:     "failed tool",
			entry:    failedTool,
			contains: []string{"✗ failed", "out: interrupted"},
		},
		{
			name:     "event",
			entry:    domain.NewEventEntry("e1", "Conversation complete", "All done"),
			contains: []string{"Conversation complete", "All done"},
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			out := r.RenderEntry(tt.entry)
			for _, want := range tt.contains {
				assert.Contains(t, out, want)
			}
			for _, unwanted := range tt.excludes {
				assert.NotContains(t, out, unwanted)
			}
		})
	}
}

func TestRenderer_HidesThinking(t *testing.T) {
	r := NewRenderer(RendererOptions{Width: 80, MarkdownStyle: "notty"})
	assert.Empty(t, r.RenderEntry(domain.NewThinkingEntry("th1", "secret")))
}

func TestRenderer_RenderKeepsOrder(t *testing.T) {
	r := newTestRenderer()
	conv := domain.NewConversation("c1")
	conv.Entries = append(conv.Entries,
		domain.NewTextEntry("u1", domain.RoleUser, "first question", false),
		domain.NewTextEntry("a1", domain.RoleAssistant, "first answer", false),
		domain.NewEventEntry("e1", "Conversation complete", ""),
	)

	out := r.Render(*conv)
	q := strings.Index(out, "first question")
	a := strings.Index(out, "first answer")
	e := strings.Index(out, "Conversation complete")
	assert.True(t, q >= 0 && q < a && a < e, out)
}

func TestRenderer_RenderError(t *testing.T) {
	r := newTestRenderer()
	assert.Empty(t, r.RenderError(nil))
	assert.Contains(t, r.RenderError(errors.New("stream lost")), "stream lost")
}

func TestRenderer_StatusLine(t *testing.T) {
	r := newTestRenderer()
	conv := domain.NewConversation("conversation-1234567890")
	conv.ReadyState = domain.ReadyStateOpen
	conv.Usage = domain.TokenUsage{InputTokens: 1000, OutputTokens: 200}
	conv.Entries = append(conv.Entries, domain.NewTextEntry("u1", domain.RoleUser, "Plan a trip", false))

	line := r.StatusLine(*conv)
	assert.Contains(t, line, "Plan a trip")
	assert.Contains(t, line, "open")
	assert.Contains(t, line, "1.2k tokens")
	assert.Contains(t, line, "conversat...")
}

func TestLimitLines(t *testing.T) {
	assert.Equal(t, "a\nb", limitLines("a\nb", 3))
	assert.Equal(t, "a\nb\n… 2 more lines", limitLines("a\nb\nc\nd", 2))
}
