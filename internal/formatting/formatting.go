package formatting

import (
	"fmt"
	"strings"
	"time"

	wordwrap "github.com/muesli/reflow/wordwrap"
	wrap "github.com/muesli/reflow/wrap"
)

// WrapText wraps text to fit within width. Words longer than width are
// hard-wrapped so no line exceeds it.
func WrapText(text string, width int) string {
	if width <= 0 {
		return text
	}
	return wrap.String(wordwrap.String(text, width), width)
}

// GetResponsiveWidth calculates the content width for a terminal width
func GetResponsiveWidth(terminalWidth int) int {
	const (
		minWidth = 40
		maxWidth = 150
		margin   = 4
	)

	available := terminalWidth - margin
	if available < minWidth {
		return minWidth
	}
	if available > maxWidth {
		return maxWidth
	}
	return available
}

// TruncateText shortens text to maxLength runes, adding an ellipsis
func TruncateText(text string, maxLength int) string {
	runes := []rune(text)
	if maxLength <= 0 || len(runes) <= maxLength {
		return text
	}
	if maxLength <= 3 {
		return string(runes[:maxLength])
	}
	return string(runes[:maxLength-3]) + "..."
}

// FirstLine returns the first non-empty line of text
func FirstLine(text string) string {
	for _, line := range strings.Split(text, "\n") {
		if trimmed := strings.TrimSpace(line); trimmed != "" {
			return trimmed
		}
	}
	return ""
}

// FormatDurationMs renders a millisecond duration for tool cards
func FormatDurationMs(ms int64) string {
	if ms < 1000 {
		return fmt.Sprintf("%dms", ms)
	}
	d := time.Duration(ms) * time.Millisecond
	if d < time.Minute {
		return fmt.Sprintf("%.1fs", d.Seconds())
	}
	return d.Round(time.Second).String()
}

// FormatTokens renders a token count with a k suffix above a thousand
func FormatTokens(n int64) string {
	if n < 1000 {
		return fmt.Sprintf("%d", n)
	}
	return fmt.Sprintf("%.1fk", float64(n)/1000)
}

// FormatTimestamp renders t in local time for listings
func FormatTimestamp(t time.Time) string {
	if t.IsZero() {
		return "-"
	}
	return t.Local().Format("2006-01-02 15:04")
}

// Indent prefixes every line of text
func Indent(text, prefix string) string {
	lines := strings.Split(text, "\n")
	for i, line := range lines {
		lines[i] = prefix + line
	}
	return strings.Join(lines, "\n")
}
