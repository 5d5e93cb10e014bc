package watch

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/charmbracelet/bubbles/progress"
	"github.com/charmbracelet/bubbles/textinput"
	tea "github.com/charmbracelet/bubbletea"
	"github.com/charmbracelet/lipgloss"

	"github.com/simonraj1/pdf/constants"
	"github.com/simonraj1/pdf/internal/jobs"
)

var (
	titleStyle = lipgloss.NewStyle().Bold(true).Foreground(lipgloss.Color("212"))
	mutedStyle = lipgloss.NewStyle().Foreground(lipgloss.Color("245"))
	errorStyle = lipgloss.NewStyle().Foreground(lipgloss.Color("203")).Bold(true)
	okStyle    = lipgloss.NewStyle().Foreground(lipgloss.Color("42")).Bold(true)
	panelStyle = lipgloss.NewStyle().Border(lipgloss.RoundedBorder()).Padding(0, 1)
)

type mode int

const (
	modeInput mode = iota
	modeWatch
)

type snapshotMsg struct {
	rec jobs.Record
}

type fetchErrMsg struct {
	err error
}

type tickMsg struct{}

// Model is the bubbletea model for following one job.
type Model struct {
	fetcher  Fetcher
	interval time.Duration

	mode     mode
	input    textinput.Model
	bar      progress.Model
	jobID    string
	rec      jobs.Record
	haveRec  bool
	err      error
	failures int
	width    int
}

// NewModel starts in watch mode when jobID is set, otherwise asks for one.
func NewModel(fetcher Fetcher, jobID string, interval time.Duration) Model {
	if interval <= 0 {
		interval = time.Second
	}
	input := textinput.New()
	input.Prompt = "> "
	input.Placeholder = "job id"
	input.CharLimit = 64
	input.Width = 40

	m := Model{
		fetcher:  fetcher,
		interval: interval,
		input:    input,
		bar:      progress.New(progress.WithDefaultGradient()),
		jobID:    strings.TrimSpace(jobID),
	}
	if m.jobID != "" {
		m.mode = modeWatch
	} else {
		m.input.Focus()
	}
	return m
}

func (m Model) Init() tea.Cmd {
	if m.mode == modeWatch {
		return m.fetchCmd()
	}
	return textinput.Blink
}

func (m Model) Update(msg tea.Msg) (tea.Model, tea.Cmd) {
	switch msg := msg.(type) {
	case tea.WindowSizeMsg:
		m.width = msg.Width
		m.bar.Width = clamp(msg.Width-8, 20, 80)
		return m, nil

	case tea.KeyMsg:
		switch msg.String() {
		case "ctrl+c", "esc":
			return m, tea.Quit
		case "q":
			if m.mode == modeWatch {
				return m, tea.Quit
			}
		}
		if m.mode == modeInput {
			return m.updateInput(msg)
		}
		return m, nil

	case snapshotMsg:
		m.rec = msg.rec
		m.haveRec = true
		m.err = nil
		m.failures = 0
		if m.rec.Terminal() {
			return m, tea.Quit
		}
		return m, m.tickCmd()

	case fetchErrMsg:
		m.err = msg.err
		if errors.Is(msg.err, ErrJobNotFound) {
			return m, tea.Quit
		}
		m.failures++
		return m, m.tickCmd()

	case tickMsg:
		return m, m.fetchCmd()
	}
	return m, nil
}

func (m Model) updateInput(msg tea.KeyMsg) (tea.Model, tea.Cmd) {
	if msg.Type == tea.KeyEnter {
		id := strings.TrimSpace(m.input.Value())
		if id == "" {
			return m, nil
		}
		m.jobID = id
		m.mode = modeWatch
		m.input.Blur()
		return m, m.fetchCmd()
	}
	var cmd tea.Cmd
	m.input, cmd = m.input.Update(msg)
	return m, cmd
}

func (m Model) fetchCmd() tea.Cmd {
	fetcher, id := m.fetcher, m.jobID
	return func() tea.Msg {
		ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer cancel()
		rec, err := fetcher.Fetch(ctx, id)
		if err != nil {
			return fetchErrMsg{err: err}
		}
		return snapshotMsg{rec: rec}
	}
}

func (m Model) tickCmd() tea.Cmd {
	return tea.Tick(m.interval, func(time.Time) tea.Msg { return tickMsg{} })
}

// Result is the last snapshot seen, if any.
func (m Model) Result() (jobs.Record, bool) {
	return m.rec, m.haveRec
}

func (m Model) View() string {
	header := titleStyle.Render("PDF question extraction")
	if m.mode == modeInput {
		return lipgloss.JoinVertical(lipgloss.Left,
			header,
			mutedStyle.Render("Enter the job id to follow (esc to quit)"),
			m.input.View(),
		)
	}

	lines := []string{fmt.Sprintf("Job %s", m.jobID)}
	if m.haveRec {
		lines = append(lines,
			m.bar.ViewAs(m.rec.Progress/100),
			m.rec.StatusMessage,
			mutedStyle.Render(fmt.Sprintf("page %d of %d  questions %d",
				m.rec.CurrentPage, m.rec.StartPage+m.rec.TotalPages-1, m.rec.QuestionsExtracted)),
		)
		switch m.rec.Status {
		case constants.JobStatusCompleted:
			lines = append(lines, okStyle.Render(m.rec.Message), "Output: "+m.rec.OutputFile)
			if m.rec.OutputURL != "" {
				lines = append(lines, "URL: "+m.rec.OutputURL)
			}
		case constants.JobStatusFailed:
			lines = append(lines, errorStyle.Render(m.rec.Message))
			if m.rec.PartialOutput {
				lines = append(lines, "Partial output: "+m.rec.OutputFile)
			}
		}
	} else {
		lines = append(lines, mutedStyle.Render("waiting for first update..."))
	}
	if m.err != nil {
		lines = append(lines, errorStyle.Render("error: "+m.err.Error()))
	}

	panel := panelStyle.Render(lipgloss.JoinVertical(lipgloss.Left, lines...))
	return lipgloss.JoinVertical(lipgloss.Left, header, panel, mutedStyle.Render("q to quit"))
}

func clamp(v, lo, hi int) int {
	if v < lo {
		return lo
	}
	if v > hi {
		return hi
	}
	return v
}
