// Package tui is the interactive surface of the daemon: a terminal panel
// that presents queued questions one at a time and feeds answers back
// through the bridge.
package tui

import (
	"fmt"

	"github.com/charmbracelet/bubbles/textarea"
	tea "github.com/charmbracelet/bubbletea"
	"github.com/charmbracelet/lipgloss"

	"parley/internal/bridge"
	"parley/internal/wire"
)

var (
	panelStyle = lipgloss.NewStyle().
			Border(lipgloss.RoundedBorder()).
			BorderForeground(lipgloss.Color("63")).
			Padding(1, 2)
	titleStyle = lipgloss.NewStyle().Bold(true).Foreground(lipgloss.Color("63"))
	// Markdown questions get a subtle marker; the terminal does not render
	// them, but the human should know the source meant formatting.
	hintStyle     = lipgloss.NewStyle().Faint(true)
	questionStyle = lipgloss.NewStyle().MarginTop(1).MarginBottom(1)
	cursorStyle   = lipgloss.NewStyle().Foreground(lipgloss.Color("212"))
	selectedStyle = lipgloss.NewStyle().Foreground(lipgloss.Color("42"))
	statusStyle   = lipgloss.NewStyle().Faint(true).MarginTop(1)
	helpStyle     = lipgloss.NewStyle().Faint(true)
	idleStyle     = lipgloss.NewStyle().Faint(true).Padding(1, 2)
)

// focus switches key handling between the choice list and the free-text box.
type focus int

const (
	focusChoices focus = iota
	focusText
)

type notificationMsg wire.Notification

// Model is the bubbletea model for the question queue.
type Model struct {
	bridge *bridge.Bridge
	sub    *bridge.Subscription

	queue    []wire.Notification
	seen     map[string]bool
	text     textarea.Model
	cursor   int
	selected map[int]bool
	focus    focus
	status   string
	width    int
}

func NewModel(b *bridge.Bridge) Model {
	ta := textarea.New()
	ta.Placeholder = "Type an answer (optional)..."
	ta.SetHeight(3)
	ta.CharLimit = 0

	m := Model{
		bridge:   b,
		sub:      b.Subscribe(),
		seen:     make(map[string]bool),
		text:     ta,
		selected: make(map[int]bool),
	}
	// Questions registered before the surface attached are not lost.
	for _, n := range b.Pending() {
		m.enqueue(n)
	}
	m.syncFocus()
	return m
}

func (m *Model) enqueue(n wire.Notification) {
	if m.seen[n.ID] {
		return
	}
	m.seen[n.ID] = true
	m.queue = append(m.queue, n)
}

func (m Model) current() *wire.Notification {
	if len(m.queue) == 0 {
		return nil
	}
	return &m.queue[0]
}

// waitForNotification blocks on the bridge feed as a tea command.
func (m Model) waitForNotification() tea.Cmd {
	return func() tea.Msg {
		n, ok := <-m.sub.C()
		if !ok {
			return tea.Quit()
		}
		return notificationMsg(n)
	}
}

func (m Model) Init() tea.Cmd {
	return tea.Batch(textarea.Blink, m.waitForNotification())
}

func (m Model) Update(msg tea.Msg) (tea.Model, tea.Cmd) {
	switch msg := msg.(type) {
	case tea.WindowSizeMsg:
		m.width = msg.Width
		m.text.SetWidth(min(msg.Width-8, 76))
		return m, nil

	case notificationMsg:
		m.enqueue(wire.Notification(msg))
		m.syncFocus()
		return m, m.waitForNotification()

	case tea.KeyMsg:
		return m.handleKey(msg)
	}

	var cmd tea.Cmd
	m.text, cmd = m.text.Update(msg)
	return m, cmd
}

func (m Model) handleKey(msg tea.KeyMsg) (tea.Model, tea.Cmd) {
	if msg.Type == tea.KeyCtrlC {
		return m, tea.Quit
	}

	cur := m.current()
	if cur == nil {
		return m, nil
	}

	switch msg.String() {
	case "esc":
		m.resolve(m.bridge.Dismiss(cur.ID), "dismissed")
		return m, nil
	case "enter":
		// Enter submits from the choice list; in the text box it submits
		// too, since answers here are short. Multiline paste still works.
		m.submit(cur)
		return m, nil
	case "tab":
		if len(cur.Payload.Choices) > 0 {
			m.toggleFocus()
			return m, nil
		}
	case "up", "k":
		if m.focus == focusChoices && m.cursor > 0 {
			m.cursor--
			return m, nil
		}
	case "down", "j":
		if m.focus == focusChoices && m.cursor < len(cur.Payload.Choices)-1 {
			m.cursor++
			return m, nil
		}
	case " ":
		if m.focus == focusChoices && len(cur.Payload.Choices) > 0 {
			m.selected[m.cursor] = !m.selected[m.cursor]
			return m, nil
		}
	}

	if m.focus == focusText {
		var cmd tea.Cmd
		m.text, cmd = m.text.Update(msg)
		return m, cmd
	}
	return m, nil
}

func (m *Model) submit(cur *wire.Notification) {
	ans := wire.Answer{Text: m.text.Value()}
	for i, c := range cur.Payload.Choices {
		if m.selected[i] {
			ans.Choices = append(ans.Choices, c)
		}
	}
	m.resolve(m.bridge.SubmitAnswer(cur.ID, ans), "answer sent")
}

// resolve advances the queue after a submit or dismiss attempt. A stale id
// is reported, not fatal: the question may have expired while the human was
// typing.
func (m *Model) resolve(err error, okStatus string) {
	if err != nil {
		m.status = "request is no longer active"
	} else {
		m.status = okStatus
	}
	m.queue = m.queue[1:]
	m.text.Reset()
	m.cursor = 0
	m.selected = make(map[int]bool)
	m.syncFocus()
}

func (m *Model) toggleFocus() {
	if m.focus == focusChoices {
		m.focus = focusText
		m.text.Focus()
	} else {
		m.focus = focusChoices
		m.text.Blur()
	}
}

// syncFocus points input at the right widget for the current question.
func (m *Model) syncFocus() {
	cur := m.current()
	if cur == nil {
		m.text.Blur()
		return
	}
	if len(cur.Payload.Choices) > 0 {
		m.focus = focusChoices
		m.text.Blur()
	} else {
		m.focus = focusText
		m.text.Focus()
	}
}

func (m Model) View() string {
	cur := m.current()
	if cur == nil {
		s := idleStyle.Render("parley: waiting for questions... (ctrl+c to quit)")
		if m.status != "" {
			s += "\n" + statusStyle.Render(m.status)
		}
		return s
	}

	title := titleStyle.Render(fmt.Sprintf("Question (%d pending)", len(m.queue)))
	body := title + "\n"
	if cur.Payload.RenderHint == wire.RenderMarkdown {
		body += hintStyle.Render("markdown") + "\n"
	}
	body += questionStyle.Render(cur.Payload.Text) + "\n"

	for i, c := range cur.Payload.Choices {
		cursor := "  "
		if m.focus == focusChoices && i == m.cursor {
			cursor = cursorStyle.Render("> ")
		}
		box := "[ ]"
		line := fmt.Sprintf("%s %s", box, c)
		if m.selected[i] {
			line = selectedStyle.Render(fmt.Sprintf("[x] %s", c))
		}
		body += cursor + line + "\n"
	}
	if len(cur.Payload.Choices) > 0 {
		body += "\n"
	}

	body += m.text.View() + "\n"
	body += helpStyle.Render("enter submit · esc dismiss · tab switch · space toggle · ctrl+c quit")
	if m.status != "" {
		body += "\n" + statusStyle.Render(m.status)
	}
	return panelStyle.Render(body)
}
