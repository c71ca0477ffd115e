package main

import (
	"errors"
	"strings"

	"github.com/charmbracelet/bubbles/textinput"
	tea "github.com/charmbracelet/bubbletea"
	"github.com/charmbracelet/lipgloss"
	"github.com/muesli/reflow/wordwrap"
)

// errNoReply is returned when the user leaves the prompt without answering.
var errNoReply = errors.New("no reply given")

// replyModel asks a single question and collects a one-line answer.
type replyModel struct {
	question  string
	input     textinput.Model
	width     int
	done      bool
	cancelled bool
}

func newReplyModel(question string) replyModel {
	ti := textinput.New()
	ti.Placeholder = "Type your answer"
	ti.Focus()
	ti.CharLimit = 2000
	ti.Width = 70
	return replyModel{question: question, input: ti, width: 80}
}

func (m replyModel) Init() tea.Cmd {
	return textinput.Blink
}

func (m replyModel) Update(msg tea.Msg) (tea.Model, tea.Cmd) {
	switch msg := msg.(type) {
	case tea.KeyMsg:
		switch msg.Type {
		case tea.KeyEnter:
			if strings.TrimSpace(m.input.Value()) == "" {
				return m, nil
			}
			m.done = true
			return m, tea.Quit
		case tea.KeyEsc, tea.KeyCtrlC:
			m.cancelled = true
			return m, tea.Quit
		}
	case tea.WindowSizeMsg:
		m.width = msg.Width
		m.input.Width = max(20, msg.Width-4)
	}
	var cmd tea.Cmd
	m.input, cmd = m.input.Update(msg)
	return m, cmd
}

func (m replyModel) View() string {
	if m.done || m.cancelled {
		return ""
	}
	q := lipgloss.NewStyle().Bold(true).Foreground(lipgloss.Color("11")).Render(wordwrap.String(m.question, m.width-2))
	help := dimStyle.Render("enter: send • esc: save and exit")
	return q + "\n\n" + m.input.View() + "\n\n" + help + "\n"
}

// askUser shows question in the terminal and returns the answer.
func askUser(question string) (string, error) {
	final, err := tea.NewProgram(newReplyModel(question)).Run()
	if err != nil {
		return "", err
	}
	m := final.(replyModel)
	if m.cancelled || !m.done {
		return "", errNoReply
	}
	return strings.TrimSpace(m.input.Value()), nil
}
