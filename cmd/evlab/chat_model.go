package main

import (
	"context"
	"fmt"
	"strings"

	"evidencelab/internal/session"

	"github.com/charmbracelet/bubbles/key"
	"github.com/charmbracelet/bubbles/spinner"
	"github.com/charmbracelet/bubbles/textarea"
	"github.com/charmbracelet/bubbles/viewport"
	tea "github.com/charmbracelet/bubbletea"
	"github.com/charmbracelet/lipgloss"
)

const (
	chatInputHeight = 4
	chatChromeLines = 3 // header, status line and the gap above the input
)

// replyMsg carries the rendered result of a turn or command.
type replyMsg struct {
	text string
	err  error
}

// chatEntry is one rendered block of the transcript.
type chatEntry struct {
	user bool
	text string
}

// chatModel is the interactive session: a transcript viewport above a
// multi-line input. Enter sends the whole input as one turn, so a pasted
// block of research is never split.
type chatModel struct {
	ctx context.Context
	app *app

	textarea textarea.Model
	viewport viewport.Model
	spinner  spinner.Model

	history []chatEntry
	busy    bool
}

func newChatModel(ctx context.Context, a *app) chatModel {
	ta := textarea.New()
	ta.Placeholder = "Paste research or ask a question... (Enter to send, Alt+Enter for a new line)"
	ta.ShowLineNumbers = false
	ta.CharLimit = 0
	ta.MaxHeight = 0
	ta.SetWidth(100)
	ta.SetHeight(chatInputHeight)
	ta.KeyMap.InsertNewline = key.NewBinding(key.WithKeys("alt+enter", "ctrl+j"))
	ta.Focus()

	sp := spinner.New()
	sp.Spinner = spinner.Dot
	sp.Style = styles.Prompt

	m := chatModel{
		ctx:      ctx,
		app:      a,
		textarea: ta,
		viewport: viewport.New(100, 20),
		spinner:  sp,
	}
	if id := a.engine.Current(); id != 0 {
		m.history = append(m.history, chatEntry{text: styles.Muted.Render(fmt.Sprintf("resuming session %d", id))})
	}
	m.refresh()
	return m
}

func (m chatModel) Init() tea.Cmd {
	return textarea.Blink
}

func (m chatModel) Update(msg tea.Msg) (tea.Model, tea.Cmd) {
	switch msg := msg.(type) {
	case tea.KeyMsg:
		switch msg.Type {
		case tea.KeyCtrlC, tea.KeyEsc:
			return m, tea.Quit
		case tea.KeyEnter:
			if msg.Alt {
				break
			}
			if m.busy {
				return m, nil
			}
			return m.submit()
		case tea.KeyPgUp, tea.KeyPgDown:
			var cmd tea.Cmd
			m.viewport, cmd = m.viewport.Update(msg)
			return m, cmd
		}
		if m.busy {
			return m, nil
		}
		var cmd tea.Cmd
		m.textarea, cmd = m.textarea.Update(msg)
		return m, cmd

	case tea.WindowSizeMsg:
		m.textarea.SetWidth(max(msg.Width-2, 10))
		m.viewport.Width = msg.Width
		m.viewport.Height = max(msg.Height-chatInputHeight-chatChromeLines, 1)
		m.refresh()
		return m, nil

	case replyMsg:
		m.busy = false
		if msg.err != nil {
			m.history = append(m.history, chatEntry{text: styles.Error.Render("Error: ") + msg.err.Error()})
		} else if strings.TrimSpace(msg.text) != "" {
			m.history = append(m.history, chatEntry{text: strings.TrimRight(msg.text, "\n")})
		}
		m.refresh()
		return m, nil

	case spinner.TickMsg:
		if !m.busy {
			return m, nil
		}
		var cmd tea.Cmd
		m.spinner, cmd = m.spinner.Update(msg)
		return m, cmd
	}
	return m, nil
}

// submit sends the input as one turn or slash command.
func (m chatModel) submit() (tea.Model, tea.Cmd) {
	input := strings.TrimSpace(m.textarea.Value())
	if input == "" {
		return m, nil
	}
	m.textarea.Reset()
	m.history = append(m.history, chatEntry{user: true, text: input})
	m.refresh()

	var cmd tea.Cmd
	if strings.HasPrefix(input, "/") {
		var quit bool
		cmd, quit = dispatchCommand(m.ctx, m.app, input)
		if quit {
			return m, tea.Quit
		}
	} else {
		cmd = turnCmd(m.ctx, m.app, func(ctx context.Context) (*session.TurnResult, error) {
			return m.app.engine.HandleTurn(ctx, input)
		})
	}
	m.busy = true
	return m, tea.Batch(cmd, m.spinner.Tick)
}

// refresh re-renders the transcript into the viewport and scrolls to it.
func (m *chatModel) refresh() {
	m.viewport.SetContent(m.transcript())
	m.viewport.GotoBottom()
}

func (m chatModel) transcript() string {
	var sb strings.Builder
	for _, e := range m.history {
		if e.user {
			sb.WriteString(styles.Prompt.Render("› "))
			sb.WriteString(strings.ReplaceAll(e.text, "\n", "\n  "))
		} else {
			sb.WriteString(e.text)
		}
		sb.WriteString("\n\n")
	}
	return sb.String()
}

func (m chatModel) View() string {
	header := styles.Title.Render("evlab") + styles.Muted.Render(" · /help for commands")
	if id := m.app.engine.Current(); id != 0 {
		header += styles.Muted.Render(fmt.Sprintf(" · session %d", id))
	}
	status := styles.Muted.Render("Enter to send · Alt+Enter for a new line · PgUp/PgDn to scroll · Ctrl+C to quit")
	if m.busy {
		status = m.spinner.View() + styles.Muted.Render(" thinking...")
	}
	return lipgloss.JoinVertical(lipgloss.Left,
		header,
		m.viewport.View(),
		status,
		m.textarea.View(),
	)
}
