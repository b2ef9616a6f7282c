package ui

import (
	"context"
	"errors"
	"strings"

	help "github.com/charmbracelet/bubbles/help"
	key "github.com/charmbracelet/bubbles/key"
	spinner "github.com/charmbracelet/bubbles/spinner"
	textarea "github.com/charmbracelet/bubbles/textarea"
	viewport "github.com/charmbracelet/bubbles/viewport"
	tea "github.com/charmbracelet/bubbletea"
	lipgloss "github.com/charmbracelet/lipgloss"
	clipboard "github.com/kode-sdk/kode-chat/internal/clipboard"
	domain "github.com/kode-sdk/kode-chat/internal/domain"
	formatting "github.com/kode-sdk/kode-chat/internal/formatting"
	logger "github.com/kode-sdk/kode-chat/internal/logger"
	keys "github.com/kode-sdk/kode-chat/internal/ui/keys"
	styles "github.com/kode-sdk/kode-chat/internal/ui/styles"
)

const composerHeight = 3

// Controller is the conversation surface the chat view drives
type Controller interface {
	Submit(ctx context.Context, text string) error
	Restart(ctx context.Context) error
	Interrupt(ctx context.Context) error
	DismissError()
	Snapshot() domain.Conversation
	Subscribe(listener domain.ConversationListener) func()
}

type (
	// snapshotMsg signals that the controller has a newer snapshot
	snapshotMsg struct{}

	submitDoneMsg struct{ err error }

	actionDoneMsg struct {
		action string
		err    error
	}
)

// ChatModel is the interactive bubbletea chat view
type ChatModel struct {
	ctx      context.Context
	ctrl     Controller
	renderer *Renderer
	keys     keys.KeyMap
	styles   *styles.Styles

	input    textarea.Model
	viewport viewport.Model
	spinner  spinner.Model
	help     help.Model

	conv    domain.Conversation
	sending bool
	notice  string
	width   int
	height  int

	updates     chan struct{}
	unsubscribe func()
	copyText    func(string) error
}

// NewChatModel creates the chat view and subscribes it to ctrl
func NewChatModel(ctx context.Context, ctrl Controller, opts RendererOptions) *ChatModel {
	ta := textarea.New()
	ta.Placeholder = "Send a message..."
	ta.ShowLineNumbers = false
	ta.CharLimit = 0
	ta.SetHeight(composerHeight)
	ta.KeyMap.InsertNewline = key.NewBinding(key.WithKeys("alt+enter", "ctrl+j"))
	ta.Focus()

	sp := spinner.New()
	sp.Spinner = spinner.Dot
	sp.Style = lipgloss.NewStyle().Foreground(styles.Magenta)

	vp := viewport.New(80, 20)
	vp.MouseWheelEnabled = true

	m := &ChatModel{
		ctx:      ctx,
		ctrl:     ctrl,
		renderer: NewRenderer(opts),
		keys:     keys.DefaultKeyMap(),
		styles:   styles.New(),
		input:    ta,
		viewport: vp,
		spinner:  sp,
		help:     help.New(),
		conv:     ctrl.Snapshot(),
		updates:  make(chan struct{}, 1),
		copyText: clipboard.CopyText,
	}

	m.unsubscribe = ctrl.Subscribe(func(domain.Conversation) {
		// coalesce: the model always reads the latest snapshot
		select {
		case m.updates <- struct{}{}:
		default:
		}
	})
	m.refreshViewport()
	return m
}

// Close detaches the model from its controller
func (m *ChatModel) Close() {
	if m.unsubscribe != nil {
		m.unsubscribe()
		m.unsubscribe = nil
	}
}

// Init implements tea.Model
func (m *ChatModel) Init() tea.Cmd {
	return tea.Batch(textarea.Blink, m.spinner.Tick, m.waitForUpdate())
}

func (m *ChatModel) waitForUpdate() tea.Cmd {
	updates := m.updates
	return func() tea.Msg {
		<-updates
		return snapshotMsg{}
	}
}

// Update implements tea.Model
func (m *ChatModel) Update(msg tea.Msg) (tea.Model, tea.Cmd) {
	var cmds []tea.Cmd

	switch msg := msg.(type) {
	case tea.WindowSizeMsg:
		m.resize(msg.Width, msg.Height)
		return m, nil

	case tea.KeyMsg:
		if cmd, handled := m.handleKey(msg); handled {
			return m, cmd
		}

	case snapshotMsg:
		m.conv = m.ctrl.Snapshot()
		m.refreshViewport()
		return m, m.waitForUpdate()

	case submitDoneMsg:
		m.sending = false
		m.input.Focus()
		if msg.err != nil && m.ctrl.Snapshot().LastError == nil {
			m.notice = msg.err.Error()
		}
		return m, nil

	case actionDoneMsg:
		if msg.err != nil {
			logger.Warn("chat action failed", "action", msg.action, "error", msg.err)
			m.notice = msg.action + " failed: " + msg.err.Error()
		}
		return m, nil

	case spinner.TickMsg:
		var cmd tea.Cmd
		m.spinner, cmd = m.spinner.Update(msg)
		return m, cmd
	}

	if !m.sending {
		var cmd tea.Cmd
		m.input, cmd = m.input.Update(msg)
		cmds = append(cmds, cmd)
	}

	var cmd tea.Cmd
	m.viewport, cmd = m.viewport.Update(msg)
	cmds = append(cmds, cmd)

	return m, tea.Batch(cmds...)
}

func (m *ChatModel) handleKey(msg tea.KeyMsg) (tea.Cmd, bool) {
	switch {
	case key.Matches(msg, m.keys.Quit):
		m.Close()
		return tea.Quit, true

	case key.Matches(msg, m.keys.Send):
		return m.submit(), true

	case key.Matches(msg, m.keys.Interrupt):
		return m.runAction("interrupt", m.ctrl.Interrupt), true

	case key.Matches(msg, m.keys.Restart):
		m.notice = ""
		return m.runAction("restart", m.ctrl.Restart), true

	case key.Matches(msg, m.keys.Copy):
		m.copyLastReply()
		return nil, true

	case key.Matches(msg, m.keys.Dismiss):
		m.notice = ""
		m.ctrl.DismissError()
		return nil, true

	case key.Matches(msg, m.keys.ScrollUp):
		m.viewport.ScrollUp(max(m.viewport.Height/2, 1))
		return nil, true

	case key.Matches(msg, m.keys.ScrollDown):
		m.viewport.ScrollDown(max(m.viewport.Height/2, 1))
		return nil, true
	}
	return nil, false
}

func (m *ChatModel) submit() tea.Cmd {
	if m.sending {
		return nil
	}
	text := strings.TrimSpace(m.input.Value())
	if text == "" {
		return nil
	}

	m.input.Reset()
	m.input.Blur()
	m.sending = true
	m.notice = ""

	ctx, ctrl := m.ctx, m.ctrl
	return func() tea.Msg {
		return submitDoneMsg{err: ctrl.Submit(ctx, text)}
	}
}

func (m *ChatModel) runAction(name string, fn func(context.Context) error) tea.Cmd {
	ctx := m.ctx
	return func() tea.Msg {
		return actionDoneMsg{action: name, err: fn(ctx)}
	}
}

func (m *ChatModel) copyLastReply() {
	text, ok := m.conv.LastAssistantText()
	if !ok {
		m.notice = "no reply to copy yet"
		return
	}
	if err := m.copyText(text); err != nil {
		if errors.Is(err, clipboard.ErrUnavailable) {
			m.notice = "clipboard is not available on this platform"
			return
		}
		m.notice = "copy failed: " + err.Error()
		return
	}
	m.notice = "copied reply to clipboard"
}

func (m *ChatModel) resize(width, height int) {
	m.width = width
	m.height = height

	m.input.SetWidth(width)
	m.help.Width = width
	m.renderer.SetWidth(formatting.GetResponsiveWidth(width))

	m.viewport.Width = width
	m.viewport.Height = max(height-m.chromeHeight(), 3)
	m.refreshViewport()
}

// chromeHeight is the number of rows outside the transcript viewport
func (m *ChatModel) chromeHeight() int {
	return 1 + 1 + composerHeight + 1 + 1
}

func (m *ChatModel) refreshViewport() {
	atBottom := m.viewport.AtBottom() || m.viewport.TotalLineCount() == 0
	m.viewport.SetContent(m.renderer.Render(m.conv))
	if atBottom {
		m.viewport.GotoBottom()
	}
}

// View implements tea.Model
func (m *ChatModel) View() string {
	sections := []string{
		m.renderer.StatusLine(m.conv),
		m.viewport.View(),
	}

	if banner := m.renderer.RenderError(m.conv.LastError); banner != "" {
		sections = append(sections, banner)
	}
	if m.notice != "" {
		sections = append(sections, m.styles.Dim.Render(m.notice))
	}

	switch {
	case m.sending:
		sections = append(sections, m.spinner.View()+" sending...")
	case m.conv.IsStreaming():
		sections = append(sections, m.spinner.View()+" agent is responding", m.input.View())
	default:
		sections = append(sections, m.input.View())
	}

	sections = append(sections, m.help.View(m.keys))
	return strings.Join(sections, "\n")
}
