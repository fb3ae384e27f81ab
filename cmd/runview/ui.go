// ui.go — 终端界面: 转写视图 + 输入行 + 状态行。
package main

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

	"github.com/multi-agent/runview/internal/engine"
	"github.com/multi-agent/runview/internal/view"
	"github.com/multi-agent/runview/pkg/util"
)

const actionTimeout = 30 * time.Second

// viewChangedMsg 引擎状态变更信号 (经 program.Send 投递)。
type viewChangedMsg struct{}

// tickMsg 秒级计时器 (状态行的已运行时长)。
type tickMsg time.Time

// actionDoneMsg 用户动作完成。
type actionDoneMsg struct{ err error }

type theme struct {
	user      lipgloss.Style
	assistant lipgloss.Style
	activity  lipgloss.Style
	stream    lipgloss.Style
	errText   lipgloss.Style
	statusBar lipgloss.Style
	dim       lipgloss.Style
}

func newTheme() theme {
	return theme{
		user:      lipgloss.NewStyle().Foreground(lipgloss.Color("#05ffa1")).Bold(true),
		assistant: lipgloss.NewStyle().Foreground(lipgloss.Color("#7aa2f7")),
		activity:  lipgloss.NewStyle().Foreground(lipgloss.Color("#a0a0b0")),
		stream:    lipgloss.NewStyle().Foreground(lipgloss.Color("#7aa2f7")).Italic(true),
		errText:   lipgloss.NewStyle().Foreground(lipgloss.Color("#ff5370")).Bold(true),
		statusBar: lipgloss.NewStyle().Foreground(lipgloss.Color("#1a1b26")).Background(lipgloss.Color("#7aa2f7")),
		dim:       lipgloss.NewStyle().Foreground(lipgloss.Color("#565f89")),
	}
}

type model struct {
	eng *engine.Engine

	transcript viewport.Model
	input      textinput.Model
	spin       spinner.Model
	theme      theme

	width  int
	height int
	ready  bool
	now    time.Time
}

func newUIModel(eng *engine.Engine) model {
	input := textinput.New()
	input.Prompt = "❯ "
	input.CharLimit = 4000
	input.Placeholder = "message the agent (esc to stop, ctrl+n new run, ctrl+c quit)"
	input.Focus()

	sp := spinner.New()
	sp.Spinner = spinner.Points
	sp.Style = lipgloss.NewStyle().Foreground(lipgloss.Color("#05ffa1"))

	return model{
		eng:   eng,
		input: input,
		spin:  sp,
		theme: newTheme(),
		now:   time.Now(),
	}
}

func (m model) Init() tea.Cmd {
	return tea.Batch(m.spin.Tick, tickEverySecond())
}

func tickEverySecond() tea.Cmd {
	return tea.Tick(time.Second, func(t time.Time) tea.Msg { return tickMsg(t) })
}

func (m model) Update(msg tea.Msg) (tea.Model, tea.Cmd) {
	var cmds []tea.Cmd

	switch msg := msg.(type) {
	case tea.WindowSizeMsg:
		m.width = msg.Width
		m.height = msg.Height
		if !m.ready {
			m.transcript = viewport.New(msg.Width, msg.Height-3)
			m.transcript.MouseWheelEnabled = true
			m.ready = true
		} else {
			m.transcript.Width = msg.Width
			m.transcript.Height = msg.Height - 3
		}
		m.refreshTranscript()

	case tea.KeyMsg:
		switch msg.String() {
		case "ctrl+c":
			return m, tea.Quit
		case "enter":
			text := strings.TrimSpace(m.input.Value())
			if text != "" {
				m.input.Reset()
				cmds = append(cmds, sendCmd(m.eng, text))
			}
		case "esc":
			cmds = append(cmds, stopCmd(m.eng))
		case "ctrl+n":
			cmds = append(cmds, resetCmd(m.eng))
		case "ctrl+r":
			cmds = append(cmds, refreshCmd(m.eng))
		}

	case viewChangedMsg:
		m.refreshTranscript()

	case tickMsg:
		m.now = time.Time(msg)
		cmds = append(cmds, tickEverySecond())

	case actionDoneMsg:
		// 错误已落在引擎的 ActionError 上, 随视图重绘显示
		m.refreshTranscript()

	case spinner.TickMsg:
		var cmd tea.Cmd
		m.spin, cmd = m.spin.Update(msg)
		cmds = append(cmds, cmd)
	}

	var cmd tea.Cmd
	m.input, cmd = m.input.Update(msg)
	cmds = append(cmds, cmd)
	return m, tea.Batch(cmds...)
}

func sendCmd(eng *engine.Engine, text string) tea.Cmd {
	return func() tea.Msg {
		ctx, cancel := context.WithTimeout(context.Background(), actionTimeout)
		defer cancel()
		return actionDoneMsg{err: eng.Send(ctx, text)}
	}
}

func stopCmd(eng *engine.Engine) tea.Cmd {
	return func() tea.Msg {
		ctx, cancel := context.WithTimeout(context.Background(), actionTimeout)
		defer cancel()
		return actionDoneMsg{err: eng.Stop(ctx)}
	}
}

func resetCmd(eng *engine.Engine) tea.Cmd {
	return func() tea.Msg {
		ctx, cancel := context.WithTimeout(context.Background(), actionTimeout)
		defer cancel()
		return actionDoneMsg{err: eng.Reset(ctx)}
	}
}

func refreshCmd(eng *engine.Engine) tea.Cmd {
	return func() tea.Msg {
		ctx, cancel := context.WithTimeout(context.Background(), actionTimeout)
		defer cancel()
		return actionDoneMsg{err: eng.Refresh(ctx)}
	}
}

// refreshTranscript 从引擎视图重渲染转写区, 贴底跟随最新内容。
func (m *model) refreshTranscript() {
	if !m.ready {
		return
	}
	wasAtBottom := m.transcript.AtBottom()
	m.transcript.SetContent(m.renderTranscript())
	if wasAtBottom {
		m.transcript.GotoBottom()
	}
}

func (m *model) renderTranscript() string {
	v := m.eng.View()
	var b strings.Builder

	if v.RunNotFound {
		b.WriteString(m.theme.errText.Render("run not found"))
		b.WriteString("\n")
	}

	for _, row := range v.Rows {
		switch row.Kind {
		case view.RowMessage:
			b.WriteString(m.renderMessage(row))
		case view.RowActivity:
			b.WriteString(m.renderBucket(row.Bucket))
		}
		b.WriteString("\n")
	}

	for _, st := range v.Streams {
		b.WriteString(m.theme.stream.Render(st.Role + " ▌ " + st.Text))
		b.WriteString("\n")
	}

	if v.ActionError != "" {
		b.WriteString(m.theme.errText.Render("✗ " + v.ActionError))
		b.WriteString("\n")
	}
	return b.String()
}

func (m *model) renderMessage(row view.Row) string {
	style := m.theme.assistant
	label := "agent"
	if row.Role == "user" {
		style = m.theme.user
		label = "you"
	}
	return style.Render(label) + "  " + row.Text
}

// renderBucket 折叠活动块: 计数 + 当前动作, 细节留给 inspector。
func (m *model) renderBucket(bucket *view.ActivityBucket) string {
	if bucket == nil {
		return ""
	}
	parts := []string{}
	if bucket.ToolCount > 0 {
		parts = append(parts, fmt.Sprintf("%d tool", bucket.ToolCount))
	}
	if bucket.ReasoningCount > 0 {
		parts = append(parts, fmt.Sprintf("%d thought", bucket.ReasoningCount))
	}
	line := "⚙ " + strings.Join(parts, " · ")
	if bucket.CurrentToolLabel != "" {
		line += " · running " + bucket.CurrentToolLabel
	} else if bucket.LatestReasoning != "" {
		line += " · " + util.CompactOneLine(bucket.LatestReasoning, 60)
	}
	return m.theme.activity.Render(line)
}

func (m model) View() string {
	if !m.ready {
		return "loading..."
	}
	return m.transcript.View() + "\n" + m.statusLine() + "\n" + m.input.View()
}

func (m model) statusLine() string {
	v := m.eng.View()

	label := "idle"
	switch v.Activity {
	case view.ActivityThinking:
		label = m.spin.View() + " thinking"
	case view.ActivityResponding:
		label = m.spin.View() + " responding"
	case view.ActivityStopped:
		label = "stopped"
	}

	elapsed := ""
	if v.Run != nil && !v.Run.CreatedAt.IsZero() && v.Run.Status.Active() {
		elapsed = " " + view.FormatElapsed(int(m.now.Sub(v.Run.CreatedAt)/time.Second))
	}

	runID := ""
	if v.Run != nil {
		runID = " run " + util.CompactOneLine(v.Run.ID, 12)
	}
	line := " " + label + elapsed + runID + " "
	pad := m.width - lipgloss.Width(line)
	if pad > 0 {
		line += strings.Repeat(" ", pad)
	}
	return m.theme.statusBar.Render(line)
}
