// Package chatui is a terminal front end for the food safety assistant.
//
// The responder reports every change through its listener. Forward turns
// those events into tea messages on a channel that the program drains, and
// calls into the responder are issued as commands so the event loop never
// waits on the responder's lock.
package chatui

import (
	"context"
	"errors"
	"strings"

	"github.com/charmbracelet/bubbles/spinner"
	"github.com/charmbracelet/bubbles/textinput"
	"github.com/charmbracelet/bubbles/viewport"
	tea "github.com/charmbracelet/bubbletea"
	"github.com/charmbracelet/glamour"
	"github.com/charmbracelet/lipgloss"
	"github.com/franckalain/freshness/internal/chat"
	"github.com/franckalain/freshness/internal/models"
)

const (
	headerHeight = 2
	footerHeight = 3
	eventBuffer  = 64
)

var (
	titleStyle  = lipgloss.NewStyle().Bold(true).Foreground(lipgloss.Color("10"))
	userStyle   = lipgloss.NewStyle().Bold(true).Foreground(lipgloss.Color("12"))
	botStyle    = lipgloss.NewStyle().Bold(true).Foreground(lipgloss.Color("11"))
	hintStyle   = lipgloss.NewStyle().Faint(true)
	closedStyle = lipgloss.NewStyle().Border(lipgloss.RoundedBorder()).Padding(0, 1)
)

// eventMsg carries a responder event into the program
type eventMsg chat.Event

// Forward returns a listener that queues responder events on ch. It gives up
// once done is closed so a responder outliving the program never blocks.
func Forward(ch chan<- tea.Msg, done <-chan struct{}) chat.Listener {
	return func(ev chat.Event) {
		select {
		case ch <- eventMsg(ev):
		case <-done:
		}
	}
}

// Model is the chat window
type Model struct {
	responder *chat.Responder
	events    <-chan tea.Msg

	input    textinput.Model
	viewport viewport.Model
	spin     spinner.Model
	renderer *glamour.TermRenderer

	messages []models.ChatMessage
	open     bool
	typing   bool
	ready    bool
	width    int
	height   int
}

// New creates a closed chat window fed by events
func New(r *chat.Responder, events <-chan tea.Msg) Model {
	in := textinput.New()
	in.Placeholder = "Ask about food freshness..."
	in.Prompt = "You> "
	in.CharLimit = 500
	in.Width = 60

	return Model{
		responder: r,
		events:    events,
		input:     in,
		spin:      spinner.New(spinner.WithSpinner(spinner.Dot), spinner.WithStyle(botStyle)),
		messages:  r.History(),
	}
}

// Run shows the chat until the user quits or ctx is cancelled
func Run(ctx context.Context, opts ...chat.Option) error {
	events := make(chan tea.Msg, eventBuffer)
	done := make(chan struct{})

	r := chat.NewResponder(append(opts, chat.WithListener(Forward(events, done)))...)
	defer r.Close()
	defer close(done)

	p := tea.NewProgram(New(r, events), tea.WithAltScreen(), tea.WithContext(ctx))
	_, err := p.Run()
	if errors.Is(err, tea.ErrProgramKilled) && ctx.Err() != nil {
		return nil
	}
	return err
}

func (m Model) Init() tea.Cmd {
	return tea.Batch(listen(m.events), textinput.Blink)
}

func (m Model) Update(msg tea.Msg) (tea.Model, tea.Cmd) {
	switch msg := msg.(type) {
	case tea.WindowSizeMsg:
		m.resize(msg.Width, msg.Height)
		return m, nil

	case tea.KeyMsg:
		switch msg.String() {
		case "ctrl+c":
			return m, tea.Quit
		case "esc":
			return m, toggle(m.responder)
		case "enter":
			if !m.open {
				return m, toggle(m.responder)
			}
			text := m.input.Value()
			m.input.Reset()
			return m, submit(m.responder, text)
		case "pgup", "pgdown":
			var cmd tea.Cmd
			m.viewport, cmd = m.viewport.Update(msg)
			return m, cmd
		}
		if !m.open {
			return m, nil
		}
		var cmd tea.Cmd
		m.input, cmd = m.input.Update(msg)
		return m, cmd

	case eventMsg:
		cmds := []tea.Cmd{listen(m.events)}
		switch msg.Type {
		case chat.EventMessage:
			m.messages = append(m.messages, msg.Message)
		case chat.EventTyping:
			m.typing = msg.Typing
			if m.typing {
				cmds = append(cmds, m.spin.Tick)
			}
		case chat.EventOpen:
			m.open = msg.Open
			if m.open {
				cmds = append(cmds, m.input.Focus())
			} else {
				m.input.Blur()
			}
		}
		m.refresh()
		return m, tea.Batch(cmds...)

	case spinner.TickMsg:
		if !m.typing {
			return m, nil
		}
		var cmd tea.Cmd
		m.spin, cmd = m.spin.Update(msg)
		m.refresh()
		return m, cmd
	}

	var cmd tea.Cmd
	m.input, cmd = m.input.Update(msg)
	return m, cmd
}

func (m Model) View() string {
	if !m.open {
		return closedStyle.Render("💬 Food Safety Assistant") + "\n" +
			hintStyle.Render("enter or esc to open, ctrl+c to quit")
	}

	var b strings.Builder
	b.WriteString(titleStyle.Render("🍎 Food Safety Assistant") + "\n\n")
	if m.ready {
		b.WriteString(m.viewport.View())
	} else {
		b.WriteString(m.transcript())
	}
	b.WriteString("\n")
	b.WriteString(m.input.View() + "\n")
	b.WriteString(hintStyle.Render("esc to close, pgup/pgdown to scroll, ctrl+c to quit"))
	return b.String()
}

func (m *Model) resize(width, height int) {
	m.width = max(width, 20)
	m.height = max(height, headerHeight+footerHeight+1)
	m.input.Width = m.width - len(m.input.Prompt) - 1

	vpHeight := m.height - headerHeight - footerHeight
	if !m.ready {
		m.viewport = viewport.New(m.width, vpHeight)
		m.ready = true
	} else {
		m.viewport.Width = m.width
		m.viewport.Height = vpHeight
	}

	// A renderer that cannot be built falls back to plain text
	m.renderer, _ = glamour.NewTermRenderer(
		glamour.WithStandardStyle("dark"),
		glamour.WithWordWrap(m.width-4),
	)
	m.refresh()
}

// refresh redraws the transcript and scrolls to the newest entry
func (m *Model) refresh() {
	if !m.ready {
		return
	}
	m.viewport.SetContent(m.transcript())
	m.viewport.GotoBottom()
}

func (m Model) transcript() string {
	var b strings.Builder
	for _, msg := range m.messages {
		switch msg.Sender {
		case models.SenderUser:
			b.WriteString(userStyle.Render("You") + "\n")
			b.WriteString(msg.Text + "\n\n")
		default:
			b.WriteString(botStyle.Render("Assistant") + "\n")
			b.WriteString(m.markdown(msg.Text) + "\n")
		}
	}
	if m.typing {
		b.WriteString(m.spin.View() + " typing...\n")
	}
	return b.String()
}

func (m Model) markdown(text string) string {
	if m.renderer == nil {
		return text + "\n"
	}
	out, err := m.renderer.Render(text)
	if err != nil {
		return text + "\n"
	}
	return out
}

func listen(ch <-chan tea.Msg) tea.Cmd {
	if ch == nil {
		return nil
	}
	return func() tea.Msg {
		return <-ch
	}
}

func toggle(r *chat.Responder) tea.Cmd {
	return func() tea.Msg {
		r.ToggleOpen()
		return nil
	}
}

func submit(r *chat.Responder, text string) tea.Cmd {
	return func() tea.Msg {
		r.Submit(text)
		return nil
	}
}
