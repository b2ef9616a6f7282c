package styles

import (
	lipgloss "github.com/charmbracelet/lipgloss"
)

// Tokyo Night palette
const (
	Red     = lipgloss.Color("#f7768e")
	Green   = lipgloss.Color("#9ece6a")
	Blue    = lipgloss.Color("#7aa2f7")
	Cyan    = lipgloss.Color("#7dcfff")
	Magenta = lipgloss.Color("#bb9af7")
	White   = lipgloss.Color("#a9b1d6")
	Gray    = lipgloss.Color("#565f89")
	Amber   = lipgloss.Color("#e0af68")
)

// Status icons
const (
	CheckMark = "✓"
	CrossMark = "✗"
	Running   = "●"
	Thinking  = "∴"
	Bullet    = "•"
)

// Styles contains the lipgloss styles used by the chat views
type Styles struct {
	Header       lipgloss.Style
	Dim          lipgloss.Style
	UserLabel    lipgloss.Style
	UserText     lipgloss.Style
	AgentLabel   lipgloss.Style
	Thinking     lipgloss.Style
	ToolCard     lipgloss.Style
	ToolName     lipgloss.Style
	ToolRunning  lipgloss.Style
	ToolSuccess  lipgloss.Style
	ToolError    lipgloss.Style
	EventTitle   lipgloss.Style
	EventDetails lipgloss.Style
	ErrorBanner  lipgloss.Style
	Failed       lipgloss.Style
	StatusOpen   lipgloss.Style
	StatusIdle   lipgloss.Style
	StatusClosed lipgloss.Style
}

// New creates the default style set
func New() *Styles {
	return &Styles{
		Header:       lipgloss.NewStyle().Foreground(Blue).Bold(true),
		Dim:          lipgloss.NewStyle().Foreground(Gray),
		UserLabel:    lipgloss.NewStyle().Foreground(Cyan).Bold(true),
		UserText:     lipgloss.NewStyle().Foreground(White),
		AgentLabel:   lipgloss.NewStyle().Foreground(Magenta).Bold(true),
		Thinking:     lipgloss.NewStyle().Foreground(Gray).Italic(true),
		ToolCard:     lipgloss.NewStyle().PaddingLeft(2),
		ToolName:     lipgloss.NewStyle().Foreground(Blue).Bold(true),
		ToolRunning:  lipgloss.NewStyle().Foreground(Amber),
		ToolSuccess:  lipgloss.NewStyle().Foreground(Green),
		ToolError:    lipgloss.NewStyle().Foreground(Red),
		EventTitle:   lipgloss.NewStyle().Foreground(Amber).Bold(true),
		EventDetails: lipgloss.NewStyle().Foreground(Gray),
		ErrorBanner:  lipgloss.NewStyle().Foreground(Red).Bold(true),
		Failed:       lipgloss.NewStyle().Foreground(Red),
		StatusOpen:   lipgloss.NewStyle().Foreground(Green),
		StatusIdle:   lipgloss.NewStyle().Foreground(Amber),
		StatusClosed: lipgloss.NewStyle().Foreground(Red),
	}
}
