package console

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/charmbracelet/bubbles/spinner"
	"github.com/charmbracelet/bubbles/textinput"
	"github.com/charmbracelet/bubbles/viewport"
	tea "github.com/charmbracelet/bubbletea"
	"github.com/charmbracelet/lipgloss"

	"pairbot/pkg/bus"
)

const (
	consoleChatID   = "console@local"
	consoleSenderID = "operator@local"
	consoleGroupID  = "console@g.local"
)

type role int

const (
	roleOperator role = iota
	roleBot
	roleError
)

type entry struct {
	role    role
	content string
	at      time.Time
}

type handledMsg struct {
	err error
}

type model struct {
	ctx    context.Context
	handle HandleFunc
	outbox *Outbox
	info   Info

	theme     theme
	spinner   spinner.Model
	input     textinput.Model
	viewport  viewport.Model
	entries   []entry
	width     int
	height    int
	isReady   bool
	isBusy    bool
	group     bool
	followLog bool
	sent      int
	replies   int
	now       func() time.Time
}

func newModel(ctx context.Context, handle HandleFunc, outbox *Outbox, info Info) *model {
	spin := spinner.New()
	spin.Spinner = spinner.Points
	spin.Style = lipgloss.NewStyle().Foreground(lipgloss.Color("214"))

	in := textinput.New()
	in.Prompt = ""
	in.Placeholder = fmt.Sprintf("Type %shelp to see the commands...", info.prefix())
	in.Focus()
	in.CharLimit = 0

	return &model{
		ctx:       ctx,
		handle:    handle,
		outbox:    outbox,
		info:      info,
		theme:     defaultTheme(),
		spinner:   spin,
		input:     in,
		viewport:  viewport.New(80, 12),
		width:     100,
		height:    28,
		group:     info.Group,
		followLog: true,
		now:       time.Now,
	}
}

func (m *model) Init() tea.Cmd {
	return tea.Batch(textinput.Blink, m.outbox.wait())
}

func (m *model) Update(msg tea.Msg) (tea.Model, tea.Cmd) {
	switch typed := msg.(type) {
	case tea.WindowSizeMsg:
		m.width = typed.Width
		m.height = typed.Height
		m.resizeComponents()
		m.refreshViewport(false)
		m.isReady = true
		return m, nil
	case replyMsg:
		m.replies++
		m.entries = append(m.entries, entry{role: roleBot, content: typed.text, at: m.now()})
		m.refreshViewport(false)
		return m, m.outbox.wait()
	case outboxClosedMsg:
		return m, nil
	case handledMsg:
		m.isBusy = false
		if typed.err != nil {
			m.entries = append(m.entries, entry{role: roleError, content: typed.err.Error(), at: m.now()})
			m.refreshViewport(false)
		}
		return m, nil
	case spinner.TickMsg:
		if !m.isBusy {
			return m, nil
		}
		var cmd tea.Cmd
		m.spinner, cmd = m.spinner.Update(typed)
		return m, cmd
	case tea.KeyMsg:
		switch typed.String() {
		case "ctrl+c", "esc":
			return m, tea.Quit
		case "ctrl+g":
			m.group = !m.group
			return m, nil
		case "enter":
			return m, m.submit()
		}

		if m.handleViewportKey(typed) {
			return m, nil
		}
	}

	var cmd tea.Cmd
	m.input, cmd = m.input.Update(msg)
	return m, cmd
}

// submit hands the typed line to the router as if it arrived from a chat.
func (m *model) submit() tea.Cmd {
	if m.isBusy {
		return nil
	}

	text := strings.TrimSpace(m.input.Value())
	if text == "" {
		return nil
	}
	if isExitCommand(text) {
		return tea.Quit
	}

	m.input.SetValue("")
	m.sent++
	m.entries = append(m.entries, entry{role: roleOperator, content: text, at: m.now()})
	m.isBusy = true
	m.followLog = true
	m.refreshViewport(true)

	return tea.Batch(m.spinner.Tick, handleCmd(m.ctx, m.handle, m.inbound(text)))
}

func (m *model) inbound(text string) bus.InboundMessage {
	chatID := consoleChatID
	if m.group {
		chatID = consoleGroupID
	}

	return bus.InboundMessage{
		ID:         fmt.Sprintf("console-%d", m.sent),
		SenderID:   consoleSenderID,
		SenderName: "operator",
		ChatID:     chatID,
		IsGroup:    m.group,
		Content:    text,
		At:         m.now(),
	}
}

func handleCmd(ctx context.Context, handle HandleFunc, msg bus.InboundMessage) tea.Cmd {
	return func() tea.Msg {
		return handledMsg{err: handle(ctx, msg)}
	}
}

func (m *model) View() string {
	if !m.isReady {
		m.resizeComponents()
		m.refreshViewport(false)
	}

	chat := "direct"
	if m.group {
		chat = "group"
	}

	header := m.theme.header.Width(m.width - 2).Render("📱 " + m.info.name() + " console")
	meta := m.theme.headerMeta.Render(fmt.Sprintf(
		"prefix:%s · chat:%s · sent:%d · replies:%d",
		m.info.prefix(), chat, m.sent, m.replies,
	))
	line := m.theme.divider.Width(m.width - 2).Render(strings.Repeat("═", max(8, m.width-2)))

	status := m.theme.status.Render("💡 Enter send  ·  Ctrl+G toggle group chat  ·  PgUp/PgDn scroll  ·  🛑 Ctrl+C/Esc quit")
	if m.isBusy {
		status = m.theme.statusBusy.Render(m.spinner.View() + " routing message...")
	}

	return lipgloss.JoinVertical(lipgloss.Left,
		header,
		meta,
		line,
		m.theme.viewport.Width(m.width-2).Render(m.viewport.View()),
		status,
		m.theme.inputLabel.Render("👤 You")+" "+m.theme.hint.Render("(type exit, quit, or :q)"),
		m.theme.input.Width(m.width-2).Render(m.input.View()),
	)
}

func (m *model) resizeComponents() {
	m.viewport.Width = max(50, m.width-6)
	m.viewport.Height = max(8, m.height-10)
	m.input.Width = m.viewport.Width - 2
}

func (m *model) refreshViewport(forceBottom bool) {
	previousOffset := m.viewport.YOffset

	sections := make([]string, 0, len(m.entries))
	for _, item := range m.entries {
		stamp := item.at.Format("15:04:05")
		switch item.role {
		case roleOperator:
			sections = append(sections, lipgloss.JoinVertical(lipgloss.Left,
				m.theme.operatorTitle.Render("👤 you · "+stamp),
				m.theme.operatorBox.Width(m.viewport.Width).Render(item.content),
			))
		case roleBot:
			sections = append(sections, lipgloss.JoinVertical(lipgloss.Left,
				m.theme.botTitle.Render("🤖 "+m.info.name()+" · "+stamp),
				m.theme.botBox.Width(m.viewport.Width).Render(strings.TrimSpace(item.content)),
			))
		case roleError:
			sections = append(sections, lipgloss.JoinVertical(lipgloss.Left,
				m.theme.errorTitle.Render("ERROR · "+stamp),
				m.theme.errorBox.Width(m.viewport.Width).Render(item.content),
			))
		}
	}

	m.viewport.SetContent(strings.Join(sections, "\n\n"))
	if m.followLog || forceBottom {
		m.viewport.GotoBottom()
		m.followLog = true
		return
	}

	maxOffset := max(0, m.viewport.TotalLineCount()-m.viewport.Height)
	m.viewport.SetYOffset(min(previousOffset, maxOffset))
}

func (m *model) handleViewportKey(msg tea.KeyMsg) bool {
	switch msg.String() {
	case "pgup", "ctrl+b":
		m.viewport.PageUp()
		m.followLog = false
		return true
	case "pgdown", "ctrl+f":
		m.viewport.PageDown()
		if m.viewport.AtBottom() {
			m.followLog = true
		}
		return true
	case "home":
		m.viewport.GotoTop()
		m.followLog = false
		return true
	case "end":
		m.viewport.GotoBottom()
		m.followLog = true
		return true
	default:
		return false
	}
}

func isExitCommand(input string) bool {
	switch strings.ToLower(strings.TrimSpace(input)) {
	case "exit", "quit", ":q":
		return true
	default:
		return false
	}
}
