// Package tui provides the full-screen progress display for import runs.
package tui

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/charmbracelet/bubbles/progress"
	"github.com/charmbracelet/bubbles/spinner"
	tea "github.com/charmbracelet/bubbletea"
	"github.com/charmbracelet/lipgloss"

	"github.com/custodia-labs/refsync-cli/internal/core/domain"
	"github.com/custodia-labs/refsync-cli/internal/core/ports/driving"
)

// ErrAborted is returned when the user quits the display mid-run.
var ErrAborted = errors.New("import aborted")

var (
	titleStyle = lipgloss.NewStyle().
			Bold(true).
			Foreground(lipgloss.Color("#06B6D4"))
	phaseStyle  = lipgloss.NewStyle().Foreground(lipgloss.Color("#CDD6F4"))
	countStyle  = lipgloss.NewStyle().Foreground(lipgloss.Color("#6C7086"))
	failedStyle = lipgloss.NewStyle().Foreground(lipgloss.Color("#F38BA8"))
	helpStyle   = lipgloss.NewStyle().Foreground(lipgloss.Color("#45475A"))
)

type tickMsg time.Time

type doneMsg struct {
	summary *driving.ImportSummary
	err     error
}

// Model is the progress display state.
type Model struct {
	importer driving.BatchImporter

	spinner  spinner.Model
	progress progress.Model

	status  *driving.ImportStatus
	summary *driving.ImportSummary
	err     error
	aborted bool
	done    bool
}

// NewModel creates the progress model.
func NewModel(importer driving.BatchImporter) Model {
	sp := spinner.New()
	sp.Spinner = spinner.Dot
	sp.Style = lipgloss.NewStyle().Foreground(lipgloss.Color("#7C3AED"))

	return Model{
		importer: importer,
		spinner:  sp,
		progress: progress.New(progress.WithDefaultGradient()),
	}
}

// Init starts the spinner and the status poll loop.
func (m Model) Init() tea.Cmd {
	return tea.Batch(m.spinner.Tick, tick())
}

func tick() tea.Cmd {
	return tea.Tick(250*time.Millisecond, func(t time.Time) tea.Msg {
		return tickMsg(t)
	})
}

// Update handles messages.
func (m Model) Update(msg tea.Msg) (tea.Model, tea.Cmd) {
	switch msg := msg.(type) {
	case tea.KeyMsg:
		switch msg.String() {
		case "ctrl+c", "q", "esc":
			m.aborted = true
			return m, tea.Quit
		}
		return m, nil

	case tea.WindowSizeMsg:
		m.progress.Width = msg.Width - 8
		if m.progress.Width > 60 {
			m.progress.Width = 60
		}
		return m, nil

	case tickMsg:
		// One run at a time; the snapshot has at most one entry.
		if active := m.importer.Active(); len(active) > 0 {
			m.status = active[0]
		}
		return m, tick()

	case doneMsg:
		m.summary = msg.summary
		m.err = msg.err
		m.done = true
		return m, tea.Quit

	case spinner.TickMsg:
		var cmd tea.Cmd
		m.spinner, cmd = m.spinner.Update(msg)
		return m, cmd
	}

	return m, nil
}

// View renders the display.
func (m Model) View() string {
	if m.done {
		return ""
	}

	s := titleStyle.Render("refsync import") + "\n\n"

	if m.status == nil {
		s += fmt.Sprintf("%s starting...\n", m.spinner.View())
		s += "\n" + helpStyle.Render("q to abort") + "\n"
		return s
	}

	s += fmt.Sprintf("%s %s\n\n", m.spinner.View(), phaseStyle.Render(phaseLabel(m.status.Phase)))

	if m.status.Phase == domain.PhaseDownloading {
		s += countStyle.Render(fmt.Sprintf("  %d downloaded, %d failed",
			m.status.Downloaded, m.status.DownloadsFailed)) + "\n"
	} else if m.status.DocumentsTotal > 0 {
		settled := m.status.DocumentsCompleted + m.status.DocumentsSkipped + m.status.DocumentsFailed
		s += "  " + m.progress.ViewAs(float64(settled)/float64(m.status.DocumentsTotal)) + "\n"
		s += countStyle.Render(fmt.Sprintf("  %d/%d documents (%d skipped)",
			settled, m.status.DocumentsTotal, m.status.DocumentsSkipped))
		if m.status.DocumentsFailed > 0 {
			s += failedStyle.Render(fmt.Sprintf("  %d failed", m.status.DocumentsFailed))
		}
		s += "\n"
	}

	s += "\n" + helpStyle.Render("q to abort") + "\n"
	return s
}

func phaseLabel(phase domain.RunPhase) string {
	switch phase {
	case domain.PhaseDownloading:
		return "downloading attachments"
	case domain.PhaseProcessing:
		return "processing documents"
	default:
		return string(phase)
	}
}

// RunProgress displays the progress UI while start executes, and returns
// whatever start returned. Quitting the display does not stop the import;
// it returns ErrAborted while the run keeps its checkpoint for resume.
func RunProgress(
	ctx context.Context,
	importer driving.BatchImporter,
	start func(context.Context) (*driving.ImportSummary, error),
) (*driving.ImportSummary, error) {
	p := tea.NewProgram(NewModel(importer), tea.WithContext(ctx))

	go func() {
		summary, err := start(ctx)
		p.Send(doneMsg{summary: summary, err: err})
	}()

	final, err := p.Run()
	if err != nil {
		return nil, err
	}

	m, ok := final.(Model)
	if !ok {
		return nil, fmt.Errorf("unexpected model type %T", final)
	}
	if m.aborted {
		return nil, ErrAborted
	}
	return m.summary, m.err
}
