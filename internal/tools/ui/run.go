package ui

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	tea "github.com/charmbracelet/bubbletea"
	"github.com/charmbracelet/lipgloss"
)

var (
	titleStyle   = lipgloss.NewStyle().Bold(true).Foreground(lipgloss.Color("63"))
	spinnerStyle = lipgloss.NewStyle().Foreground(lipgloss.Color("205"))
	okStyle      = lipgloss.NewStyle().Foreground(lipgloss.Color("42")).Bold(true)
	failStyle    = lipgloss.NewStyle().Foreground(lipgloss.Color("196")).Bold(true)
	detailStyle  = lipgloss.NewStyle().Foreground(lipgloss.Color("245")).PaddingLeft(2)
)

var frames = []string{"⠋", "⠙", "⠹", "⠸", "⠼", "⠴", "⠦", "⠧", "⠇", "⠏"}

// ErrInterrupted is returned when the user aborts the task from the keyboard.
var ErrInterrupted = errors.New("interrupted")

type tickMsg struct{}

type doneMsg struct {
	details []string
	err     error
}

type model struct {
	title   string
	frame   int
	started time.Time
	cancel  context.CancelFunc
	run     tea.Cmd
	done    bool
	details []string
	err     error
}

func newModel(title string, fn func(context.Context) ([]string, error)) *model {
	ctx, cancel := context.WithCancel(context.Background())
	return &model{
		title:   title,
		started: time.Now(),
		cancel:  cancel,
		run: func() tea.Msg {
			details, err := fn(ctx)
			return doneMsg{details: details, err: err}
		},
	}
}

func tick() tea.Cmd {
	return tea.Tick(100*time.Millisecond, func(time.Time) tea.Msg { return tickMsg{} })
}

func (m *model) Init() tea.Cmd {
	return tea.Batch(m.run, tick())
}

func (m *model) Update(msg tea.Msg) (tea.Model, tea.Cmd) {
	switch msg := msg.(type) {
	case tea.KeyMsg:
		if msg.Type == tea.KeyCtrlC || msg.String() == "q" {
			m.cancel()
			m.done = true
			m.err = ErrInterrupted
			return m, tea.Quit
		}
	case tickMsg:
		if m.done {
			return m, nil
		}
		m.frame = (m.frame + 1) % len(frames)
		return m, tick()
	case doneMsg:
		m.cancel()
		m.done = true
		m.details = msg.details
		m.err = msg.err
		return m, tea.Quit
	}
	return m, nil
}

func (m *model) View() string {
	var b strings.Builder
	elapsed := time.Since(m.started).Truncate(100 * time.Millisecond)
	switch {
	case !m.done:
		fmt.Fprintf(&b, "%s %s %s\n", spinnerStyle.Render(frames[m.frame]), titleStyle.Render(m.title), detailStyle.Render(elapsed.String()))
	case m.err != nil:
		fmt.Fprintf(&b, "%s %s\n", failStyle.Render("FAIL"), titleStyle.Render(m.title))
	default:
		fmt.Fprintf(&b, "%s %s %s\n", okStyle.Render("OK"), titleStyle.Render(m.title), detailStyle.Render(elapsed.String()))
	}
	if m.done {
		for _, d := range m.details {
			b.WriteString(detailStyle.Render("- "+d) + "\n")
		}
		if m.err != nil {
			b.WriteString(detailStyle.Render(failStyle.Render("error: ")+m.err.Error()) + "\n")
		}
	}
	return b.String()
}

// Run executes fn behind an interactive progress view and returns its result
// once fn completes or the user interrupts it.
func Run(title string, fn func(context.Context) ([]string, error), opts ...tea.ProgramOption) ([]string, error) {
	m := newModel(title, fn)
	final, err := tea.NewProgram(m, opts...).Run()
	if err != nil {
		m.cancel()
		return nil, err
	}
	fm := final.(*model)
	return fm.details, fm.err
}
