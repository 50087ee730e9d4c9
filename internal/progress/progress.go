// Package progress renders live ingestion progress in the terminal.
package progress

import (
	"context"
	"fmt"
	"path/filepath"
	"strings"

	"github.com/charmbracelet/bubbles/key"
	"github.com/charmbracelet/bubbles/progress"
	"github.com/charmbracelet/bubbles/spinner"
	tea "github.com/charmbracelet/bubbletea"
	"github.com/charmbracelet/lipgloss"
	"github.com/mattn/go-runewidth"

	"github.com/zjrosen/tracelake/internal/ingest"
	"github.com/zjrosen/tracelake/internal/keys"
	"github.com/zjrosen/tracelake/internal/log"
	"github.com/zjrosen/tracelake/internal/metrics"
	"github.com/zjrosen/tracelake/internal/pubsub"
)

const defaultWidth = 80

var (
	titleStyle  = lipgloss.NewStyle().Bold(true).Foreground(lipgloss.Color("7"))
	failedStyle = lipgloss.NewStyle().Foreground(lipgloss.Color("1"))
	mutedStyle  = lipgloss.NewStyle().Foreground(lipgloss.Color("8"))
)

// FinishedMsg tells the model the run is over. The caller sends it through
// tea.Program.Send once the pipeline has returned, since the broker may drop
// the final progress event.
type FinishedMsg struct {
	Progress ingest.Progress
}

// Model is a Bubble Tea model fed by pipeline progress events.
type Model struct {
	title    string
	listener *pubsub.ContinuousListener[ingest.Progress]
	spinner  spinner.Model
	bar      progress.Model
	width    int

	total    int
	done     int
	failed   int
	lines    int64
	rate     float64
	lastFile string
	finished bool

	logs      <-chan log.LogEvent
	lastIssue string
}

// logMsg delivers one log entry to the model.
type logMsg log.Entry

// New subscribes to broker and returns a model for a run over total files.
func New(ctx context.Context, title string, total int, broker pubsub.Subscriber[ingest.Progress]) Model {
	sp := spinner.New()
	sp.Spinner = spinner.Dot
	sp.Style = lipgloss.NewStyle().Foreground(lipgloss.Color("6"))

	bar := progress.New(progress.WithDefaultGradient())
	bar.Width = defaultWidth - 4

	return Model{
		title:    title,
		listener: pubsub.NewContinuousListener(ctx, broker),
		spinner:  sp,
		bar:      bar,
		width:    defaultWidth,
		total:    total,
	}
}

// WithLogs makes the model show the latest warning or error read from logs.
func (m Model) WithLogs(logs <-chan log.LogEvent) Model {
	m.logs = logs
	return m
}

func (m Model) Init() tea.Cmd {
	return tea.Batch(m.spinner.Tick, m.listener.Listen(), m.listenLogs())
}

// listenLogs waits for the next log entry. The subscription channel closes
// with its context, which ends the wait.
func (m Model) listenLogs() tea.Cmd {
	if m.logs == nil {
		return nil
	}
	logs := m.logs
	return func() tea.Msg {
		ev, ok := <-logs
		if !ok {
			return nil
		}
		return logMsg(ev.Payload)
	}
}

func (m Model) Update(msg tea.Msg) (tea.Model, tea.Cmd) {
	switch msg := msg.(type) {
	case pubsub.Event[ingest.Progress]:
		m = m.apply(msg.Payload)
		if msg.Type == pubsub.RunFinishedEvent {
			m.finished = true
			return m, tea.Quit
		}
		animate := m.bar.SetPercent(m.Percent())
		return m, tea.Batch(animate, m.listener.Listen())

	case FinishedMsg:
		m = m.apply(msg.Progress)
		m.finished = true
		return m, tea.Quit

	case logMsg:
		if msg.Level >= log.LevelWarn {
			m.lastIssue = msg.Text
		}
		return m, m.listenLogs()

	case pubsub.ClosedMsg:
		m.finished = true
		return m, tea.Quit

	case tea.KeyMsg:
		// Only the display stops; the run continues in the background.
		if key.Matches(msg, keys.Progress.Hide) {
			return m, tea.Quit
		}
		return m, nil

	case tea.WindowSizeMsg:
		if msg.Width > 0 {
			m.width = msg.Width
			m.bar.Width = max(msg.Width-4, 10)
		}
		return m, nil

	case spinner.TickMsg:
		if m.finished {
			return m, nil
		}
		var cmd tea.Cmd
		m.spinner, cmd = m.spinner.Update(msg)
		return m, cmd

	case progress.FrameMsg:
		bar, cmd := m.bar.Update(msg)
		m.bar = bar.(progress.Model)
		return m, cmd
	}
	return m, nil
}

func (m Model) apply(p ingest.Progress) Model {
	if p.FilesTotal > 0 {
		m.total = p.FilesTotal
	}
	if p.FilesDone > m.done {
		m.done = p.FilesDone
	}
	if p.Failed {
		m.failed++
	}
	if p.LinesTotal > m.lines {
		m.lines = p.LinesTotal
	}
	m.rate = p.LinesPerSec
	if p.LastFile != "" {
		m.lastFile = p.LastFile
	}
	return m
}

// Percent returns the fraction of files finished, 0 to 1.
func (m Model) Percent() float64 {
	if m.total <= 0 {
		return 0
	}
	return min(float64(m.done)/float64(m.total), 1)
}

// Finished reports whether the run is over.
func (m Model) Finished() bool {
	return m.finished
}

func (m Model) View() string {
	header := fmt.Sprintf("%s %d/%d files", m.title, m.done, m.total)
	if m.finished {
		header = "done: " + header
	} else {
		header = m.spinner.View() + " " + header
	}

	var b strings.Builder
	b.WriteString(titleStyle.Render(header))
	if m.failed > 0 {
		b.WriteString(" ")
		b.WriteString(failedStyle.Render(fmt.Sprintf("(%d failed)", m.failed)))
	}
	b.WriteString("\n")

	if m.finished {
		b.WriteString(m.bar.ViewAs(m.Percent()))
	} else {
		b.WriteString(m.bar.View())
	}
	b.WriteString("\n")

	stats := fmt.Sprintf("%d lines  %s", m.lines, metrics.FormatRate(m.rate))
	b.WriteString(stats)
	if m.lastFile != "" {
		room := m.width - runewidth.StringWidth(stats) - 4
		b.WriteString("  ")
		b.WriteString(mutedStyle.Render(truncate(filepath.Base(m.lastFile), room)))
	}
	b.WriteString("\n")
	if m.lastIssue != "" {
		b.WriteString(failedStyle.Render(truncate(m.lastIssue, m.width-2)))
		b.WriteString("\n")
	}
	return b.String()
}

func truncate(value string, width int) string {
	if width <= 0 {
		return ""
	}
	if runewidth.StringWidth(value) <= width {
		return value
	}
	if width <= 3 {
		return runewidth.Truncate(value, width, "")
	}
	return runewidth.Truncate(value, width, "...")
}
