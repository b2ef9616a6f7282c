package ui

import (
	"fmt"
	"io"
	"strings"
	"sync"

	domain "github.com/kode-sdk/kode-chat/internal/domain"
	formatting "github.com/kode-sdk/kode-chat/internal/formatting"
	styles "github.com/kode-sdk/kode-chat/internal/ui/styles"
)

// PlainPrinter writes a conversation to a line-oriented writer as it
// streams. Assistant text is printed incrementally; other entries are
// printed once they can no longer change.
type PlainPrinter struct {
	mu  sync.Mutex
	out io.Writer

	showThinking bool

	convID   string
	version  uint64
	seen     bool
	written  map[string]int
	finished map[string]bool
	openLine bool
	lastErr  string
}

// NewPlainPrinter creates a printer writing to out
func NewPlainPrinter(out io.Writer, showThinking bool) *PlainPrinter {
	return &PlainPrinter{
		out:          out,
		showThinking: showThinking,
		written:      make(map[string]int),
		finished:     make(map[string]bool),
	}
}

// Update prints whatever changed since the previous snapshot. Snapshots
// older than the last one seen for the same conversation are ignored.
func (p *PlainPrinter) Update(conv domain.Conversation) {
	p.mu.Lock()
	defer p.mu.Unlock()

	if conv.ID != p.convID {
		p.convID = conv.ID
		p.seen = false
		p.written = make(map[string]int)
		p.finished = make(map[string]bool)
		p.lastErr = ""
	}
	if p.seen && conv.Version <= p.version {
		return
	}
	p.seen = true
	p.version = conv.Version

	for _, entry := range conv.Entries {
		if p.finished[entry.ID] {
			continue
		}
		switch entry.Kind {
		case domain.EntryKindText:
			p.printText(entry)
		case domain.EntryKindThinking:
			if entry.Streaming {
				continue
			}
			if p.showThinking && strings.TrimSpace(entry.Content) != "" {
				p.printLine(styles.Thinking + " " + formatting.FirstLine(entry.Content))
			}
			p.finished[entry.ID] = true
		case domain.EntryKindTool:
			if !entry.Status.IsTerminal() {
				continue
			}
			p.printLine(toolLine(entry))
			p.finished[entry.ID] = true
		case domain.EntryKindEvent:
			line := "[" + entry.Title + "]"
			if entry.Details != "" {
				line += " " + entry.Details
			}
			p.printLine(line)
			p.finished[entry.ID] = true
		}
	}

	if conv.LastError == nil {
		p.lastErr = ""
	} else if msg := conv.LastError.Error(); msg != p.lastErr {
		p.lastErr = msg
		p.printLine("error: " + msg)
	}
}

// Baseline records conv as already printed, so only later changes are
// written. Used when attaching to a resumed conversation.
func (p *PlainPrinter) Baseline(conv domain.Conversation) {
	p.mu.Lock()
	defer p.mu.Unlock()

	p.convID = conv.ID
	p.seen = true
	p.version = conv.Version
	p.written = make(map[string]int)
	p.finished = make(map[string]bool)
	for _, entry := range conv.Entries {
		p.written[entry.ID] = len(entry.Content)
		p.finished[entry.ID] = !entry.Streaming && (entry.Kind != domain.EntryKindTool || entry.Status.IsTerminal())
	}
	if conv.LastError != nil {
		p.lastErr = conv.LastError.Error()
	}
}

func (p *PlainPrinter) printText(entry domain.ChatEntry) {
	if entry.Role == domain.RoleUser {
		p.printLine("> " + entry.Content)
		p.finished[entry.ID] = true
		return
	}

	done := p.written[entry.ID]
	if done < len(entry.Content) {
		fmt.Fprint(p.out, entry.Content[done:])
		p.written[entry.ID] = len(entry.Content)
		p.openLine = !strings.HasSuffix(entry.Content, "\n")
	}
	if !entry.Streaming {
		p.endLine()
		p.finished[entry.ID] = true
	}
}

func (p *PlainPrinter) printLine(line string) {
	p.endLine()
	fmt.Fprintln(p.out, line)
}

func (p *PlainPrinter) endLine() {
	if p.openLine {
		fmt.Fprintln(p.out)
		p.openLine = false
	}
}

func toolLine(entry domain.ChatEntry) string {
	icon := styles.CheckMark
	if entry.Status == domain.ToolStatusError {
		icon = styles.CrossMark
	}

	line := fmt.Sprintf("%s %s", icon, entry.Name)
	if entry.DurationMs != nil {
		line += " (" + formatting.FormatDurationMs(*entry.DurationMs) + ")"
	}
	if entry.Result != "" {
		line += ": " + formatting.TruncateText(formatting.FirstLine(entry.Result), 100)
	}
	return line
}
