package chat

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
)

type mode int

const (
	modeInteractive mode = iota
	modeOneShot
)

const wheelStep = 3

const (
	roleUser  = "user"
	roleReply = "reply"
	roleAck   = "ack"
	roleError = "error"
)

type chatMessage struct {
	role    string
	content string
	rule    string
}

type replyMsg struct {
	reply Reply
	err   error
}

type bootTickMsg struct{}

type model struct {
	ctx          context.Context
	sendFn       SendFunc
	mode         mode
	oneShotInput string

	theme     theme
	spinner   spinner.Model
	input     textinput.Model
	viewport  viewport.Model
	messages  []chatMessage
	width     int
	height    int
	isReady   bool
	isLoading bool
	lastErr   string
	booting   bool
	bootStep  int
	followLog bool
	session   SessionInfo
	replied   int
	acked     int
}

func newModel(ctx context.Context, sendFn SendFunc, runMode mode, text string, info SessionInfo) *model {
	spin := spinner.New()
	spin.Spinner = spinner.Points
	spin.Style = lipgloss.NewStyle().Foreground(lipgloss.Color("42"))

	in := textinput.New()
	in.Prompt = ""
	in.Placeholder = "Type a message as a follower would..."
	in.Focus()
	in.CharLimit = 0

	vp := viewport.New(80, 12)

	return &model{
		ctx:          ctx,
		sendFn:       sendFn,
		mode:         runMode,
		oneShotInput: strings.TrimSpace(text),
		theme:        defaultTheme(),
		spinner:      spin,
		input:        in,
		viewport:     vp,
		width:        100,
		height:       28,
		booting:      runMode == modeInteractive,
		followLog:    true,
		session:      info,
	}
}

func (m *model) Init() tea.Cmd {
	if m.mode == modeOneShot && m.oneShotInput != "" {
		m.messages = append(m.messages, chatMessage{role: roleUser, content: m.oneShotInput})
		m.isLoading = true
		m.refreshViewport(false)
		return tea.Batch(m.spinner.Tick, sendCmd(m.ctx, m.sendFn, m.oneShotInput))
	}

	return bootTickCmd()
}

func (m *model) Update(msg tea.Msg) (tea.Model, tea.Cmd) {
	var cmd tea.Cmd

	switch typed := msg.(type) {
	case tea.WindowSizeMsg:
		m.width = typed.Width
		m.height = typed.Height
		m.resizeComponents()
		m.refreshViewport(false)
		m.isReady = true
		return m, nil
	case bootTickMsg:
		if !m.booting {
			return m, nil
		}

		m.bootStep++
		if m.bootStep < len(bootScriptLines(m.session))+1 {
			return m, bootTickCmd()
		}

		m.booting = false
		return m, textinput.Blink
	case tea.MouseMsg:
		if m.mode == modeInteractive && !m.booting {
			m.handleViewportMouse(typed)
		}
		return m, nil
	case tea.KeyMsg:
		switch typed.String() {
		case "ctrl+c", "esc":
			return m, tea.Quit
		}

		if m.booting || m.mode == modeOneShot {
			return m, nil
		}

		if handled := m.handleViewportKey(typed); handled {
			return m, nil
		}

		if typed.String() == "enter" {
			if m.isLoading {
				return m, nil
			}

			text := strings.TrimSpace(m.input.Value())
			if text == "" {
				return m, nil
			}
			if isExitCommand(text) {
				return m, tea.Quit
			}

			m.lastErr = ""
			m.messages = append(m.messages, chatMessage{role: roleUser, content: text})
			m.input.SetValue("")
			m.isLoading = true
			m.followLog = true
			m.refreshViewport(true)
			return m, tea.Batch(m.spinner.Tick, sendCmd(m.ctx, m.sendFn, text))
		}
	}

	if m.mode == modeInteractive {
		m.input, cmd = m.input.Update(msg)
	}

	switch typed := msg.(type) {
	case spinner.TickMsg:
		if !m.isLoading {
			return m, nil
		}
		m.spinner, cmd = m.spinner.Update(typed)
		return m, cmd
	case replyMsg:
		m.isLoading = false
		m.recordReply(typed)
		m.refreshViewport(false)
		if m.mode == modeOneShot {
			return m, tea.Quit
		}
	}

	return m, cmd
}

func (m *model) recordReply(msg replyMsg) {
	switch {
	case msg.err != nil:
		m.lastErr = msg.err.Error()
		m.messages = append(m.messages, chatMessage{role: roleError, content: msg.err.Error()})
	case msg.reply.Matched():
		m.lastErr = ""
		m.replied++
		m.messages = append(m.messages, chatMessage{role: roleReply, content: msg.reply.Text, rule: msg.reply.Rule})
	default:
		m.lastErr = ""
		m.acked++
		m.messages = append(m.messages, chatMessage{role: roleAck, content: ackDescription(msg.reply)})
	}
}

func (m *model) View() string {
	if !m.isReady {
		m.resizeComponents()
		m.refreshViewport(false)
	}
	if m.mode == modeOneShot {
		return m.oneShotView()
	}
	if m.booting {
		return m.bootView()
	}

	header := m.theme.header.Width(m.width - 2).Render("💬 wxreply rule console")
	meta := m.theme.headerMeta.Render(fmt.Sprintf(
		"rules:%d · functions:%d · turns:%d · replied/acked:%d/%d",
		m.session.Rules,
		m.session.Functions,
		conversationTurns(m.messages),
		m.replied,
		m.acked,
	))
	line := m.theme.divider.Width(m.width - 2).Render(strings.Repeat("═", max(8, m.width-2)))

	status := m.theme.status.Render("💡 Enter send  ·  PgUp/PgDn or wheel scroll  ·  End jump latest  ·  🛑 Ctrl+C/Esc quit")
	if m.isLoading {
		status = m.theme.statusBusy.Render(fmt.Sprintf("%s matching rules...", m.spinner.View()))
	}
	if m.lastErr != "" {
		status = m.theme.statusErr.Render("🚨 last message failed - try again")
	}

	return lipgloss.JoinVertical(lipgloss.Left,
		header,
		meta,
		line,
		m.theme.viewport.Width(m.width-2).Render(m.viewport.View()),
		status,
		m.theme.inputLabel.Render("🙋 Follower")+" "+m.theme.hint.Render("(type /exit, quit, or :q)"),
		m.theme.input.Width(m.width-2).Render(m.input.View()),
	)
}

func (m *model) resizeComponents() {
	w := max(50, m.width-6)
	h := m.height - 10
	if m.mode == modeOneShot {
		h = m.height - 6
	}
	h = max(8, h)

	m.viewport.Width = w
	m.viewport.Height = h
	m.input.Width = w - 2
}

func (m *model) refreshViewport(forceBottom bool) {
	previousOffset := m.viewport.YOffset

	sections := make([]string, 0, len(m.messages))
	for _, item := range m.messages {
		sections = append(sections, m.renderMessage(item, m.viewport.Width))
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

func (m *model) renderMessage(item chatMessage, width int) string {
	body := strings.TrimSpace(item.content)

	switch item.role {
	case roleUser:
		return m.renderCard(m.theme.userTitle.Render("▛▚ [ 🙋 ] ▞▜"), m.theme.userBox.Width(width).Render(body))
	case roleReply:
		body = strings.TrimSpace(body + "\n\n" + m.theme.hint.Render("rule: "+item.rule))
		return m.renderCard(m.theme.replyTitle.Render("▛▚ [ 🤖 ] ▞▜"), m.theme.replyBox.Width(width).Render(body))
	case roleAck:
		return m.renderCard(m.theme.ackTitle.Render("▛▚ [ACK] ▞▜"), m.theme.ackBox.Width(width).Render(body))
	default:
		return m.renderCard(m.theme.errorTitle.Render("▛▚ [ERROR] ▞▜"), m.theme.errorBox.Width(width).Render(body))
	}
}

func (m *model) renderCard(title string, body string) string {
	return lipgloss.JoinVertical(lipgloss.Left, title, body)
}

func (m *model) oneShotView() string {
	contentWidth := max(40, m.width-6)
	parts := []string{m.renderCard(
		m.theme.userTitle.Render("▛▚ [SENT] ▞▜"),
		m.theme.userBox.Width(contentWidth).Render(m.oneShotInput),
	)}

	if m.isLoading {
		parts = append(parts, m.theme.statusBusy.Render(fmt.Sprintf("%s matching rules...", m.spinner.View())))
		return lipgloss.JoinVertical(lipgloss.Left, parts...) + "\n"
	}

	if len(m.messages) > 1 {
		parts = append(parts, m.renderMessage(m.messages[len(m.messages)-1], contentWidth))
	}

	return lipgloss.JoinVertical(lipgloss.Left, parts...) + "\n\n"
}

func (m *model) bootView() string {
	header := m.theme.header.Width(m.width - 2).Render("💬 wxreply rule console")
	meta := m.theme.headerMeta.Render("loading rule set")
	line := m.theme.divider.Width(m.width - 2).Render(strings.Repeat("═", max(8, m.width-2)))

	script := bootScriptLines(m.session)
	count := min(m.bootStep, len(script))
	visible := make([]string, 0, count+1)
	for i := 0; i < count; i++ {
		visible = append(visible, m.theme.bootLine.Render(script[i]))
	}
	if m.bootStep > len(script) {
		visible = append(visible, m.theme.bootDone.Render("✅ console ready"))
	}

	body := m.theme.viewport.Width(m.width - 2).Render(strings.Join(visible, "\n"))
	return lipgloss.JoinVertical(lipgloss.Left, header, meta, line, body)
}

func bootTickCmd() tea.Cmd {
	return tea.Tick(80*time.Millisecond, func(_ time.Time) tea.Msg {
		return bootTickMsg{}
	})
}

func (m *model) handleViewportKey(msg tea.KeyMsg) bool {
	switch msg.String() {
	case "pgup", "ctrl+b", "alt+up", "ctrl+up":
		m.viewport.PageUp()
		m.followLog = false
		return true
	case "pgdown", "ctrl+f", "alt+down", "ctrl+down":
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

// handleViewportMouse scrolls on wheel presses. Scrolling up stops following new messages;
// reaching the bottom resumes it.
func (m *model) handleViewportMouse(msg tea.MouseMsg) bool {
	if msg.Action != tea.MouseActionPress {
		return false
	}

	switch msg.Button {
	case tea.MouseButtonWheelUp:
		m.viewport.SetYOffset(m.viewport.YOffset - wheelStep)
		m.followLog = false
		return true
	case tea.MouseButtonWheelDown:
		m.viewport.SetYOffset(m.viewport.YOffset + wheelStep)
		m.followLog = m.viewport.AtBottom()
		return true
	default:
		return false
	}
}

func bootScriptLines(info SessionInfo) []string {
	return []string{
		"[BOOT] codec: xml envelopes with cdata",
		fmt.Sprintf("[BOOT] pattern rules loaded: %d", info.Rules),
		fmt.Sprintf("[BOOT] function rules loaded: %d", info.Functions),
		"[BOOT] dispatcher attached",
	}
}

func sendCmd(ctx context.Context, sendFn SendFunc, text string) tea.Cmd {
	return func() tea.Msg {
		if sendFn == nil {
			return replyMsg{err: fmt.Errorf("no dispatcher attached")}
		}
		reply, err := sendFn(ctx, text)
		return replyMsg{reply: reply, err: err}
	}
}

func ackDescription(reply Reply) string {
	reason := strings.TrimSpace(reply.Reason)
	if reason == "" {
		reason = "no rule matched"
	}

	return fmt.Sprintf("%s · the platform receives %q", reason, "success")
}

func conversationTurns(messages []chatMessage) int {
	count := 0
	for _, message := range messages {
		if message.role == roleUser {
			count++
		}
	}

	return count
}

func isExitCommand(input string) bool {
	switch strings.ToLower(strings.TrimSpace(input)) {
	case "exit", "/exit", "quit", ":q":
		return true
	default:
		return false
	}
}
