package progress

import (
	"bytes"
	"io"
	"testing"
	"time"

	tea "github.com/charmbracelet/bubbletea"
	"github.com/charmbracelet/lipgloss"
	"github.com/charmbracelet/x/ansi"
	"github.com/charmbracelet/x/exp/teatest"
	"github.com/muesli/termenv"
	"github.com/stretchr/testify/require"

	"github.com/zjrosen/tracelake/internal/ingest"
	"github.com/zjrosen/tracelake/internal/log"
	"github.com/zjrosen/tracelake/internal/pubsub"
)

func init() {
	lipgloss.SetColorProfile(termenv.Ascii)
}

func newModel(t *testing.T, total int) (Model, *pubsub.Broker[ingest.Progress]) {
	t.Helper()
	broker := pubsub.NewBroker[ingest.Progress]()
	t.Cleanup(broker.Close)
	return New(t.Context(), "Ingesting", total, broker), broker
}

func event(typ pubsub.EventType, p ingest.Progress) pubsub.Event[ingest.Progress] {
	return pubsub.Event[ingest.Progress]{Type: typ, Payload: p, Timestamp: time.Now()}
}

func update(t *testing.T, m Model, msg tea.Msg) (Model, tea.Cmd) {
	t.Helper()
	next, cmd := m.Update(msg)
	got, ok := next.(Model)
	require.True(t, ok)
	return got, cmd
}

func TestModel_Initial(t *testing.T) {
	m, _ := newModel(t, 4)

	require.Zero(t, m.Percent())
	require.False(t, m.Finished())
	view := ansi.Strip(m.View())
	require.Contains(t, view, "Ingesting 0/4 files")
	require.Contains(t, view, "0 lines  0.0K lines/sec")
}

func TestModel_FileCompleted(t *testing.T) {
	m, _ := newModel(t, 4)

	m, cmd := update(t, m, event(pubsub.FileCompletedEvent, ingest.Progress{
		FilesDone:   1,
		FilesTotal:  4,
		LinesTotal:  1500,
		LinesPerSec: 3000,
		LastFile:    "/traces/trace.101",
	}))
	require.NotNil(t, cmd, "keeps listening")
	require.InDelta(t, 0.25, m.Percent(), 1e-9)

	view := ansi.Strip(m.View())
	require.Contains(t, view, "Ingesting 1/4 files")
	require.Contains(t, view, "1500 lines  3.0K lines/sec")
	require.Contains(t, view, "trace.101")
	require.NotContains(t, view, "failed")
}

func TestModel_OutOfOrderEventsNeverGoBackwards(t *testing.T) {
	m, _ := newModel(t, 3)

	m, _ = update(t, m, event(pubsub.FileCompletedEvent, ingest.Progress{FilesDone: 2, FilesTotal: 3, LinesTotal: 20}))
	m, _ = update(t, m, event(pubsub.FileCompletedEvent, ingest.Progress{FilesDone: 1, FilesTotal: 3, LinesTotal: 10}))

	require.Contains(t, ansi.Strip(m.View()), "2/3 files")
	require.Contains(t, ansi.Strip(m.View()), "20 lines")
}

func TestModel_FileFailed(t *testing.T) {
	m, _ := newModel(t, 2)

	m, _ = update(t, m, event(pubsub.FileFailedEvent, ingest.Progress{
		FilesDone: 1, FilesTotal: 2, LastFile: "missing.1", Failed: true,
	}))

	require.Contains(t, ansi.Strip(m.View()), "(1 failed)")
}

func TestModel_RunFinishedQuits(t *testing.T) {
	m, _ := newModel(t, 2)

	m, cmd := update(t, m, event(pubsub.RunFinishedEvent, ingest.Progress{FilesDone: 2, FilesTotal: 2, Worker: -1}))
	require.True(t, m.Finished())
	require.NotNil(t, cmd)
	require.IsType(t, tea.QuitMsg{}, cmd())
	require.Contains(t, ansi.Strip(m.View()), "done: Ingesting 2/2 files")
}

func TestModel_FinishedMsgQuits(t *testing.T) {
	m, _ := newModel(t, 2)

	m, cmd := update(t, m, FinishedMsg{Progress: ingest.Progress{FilesDone: 2, FilesTotal: 2, LinesTotal: 7}})
	require.True(t, m.Finished())
	require.IsType(t, tea.QuitMsg{}, cmd())
	require.InDelta(t, 1.0, m.Percent(), 1e-9)
}

func TestModel_ClosedQuits(t *testing.T) {
	m, _ := newModel(t, 2)

	m, cmd := update(t, m, pubsub.ClosedMsg{})
	require.True(t, m.Finished())
	require.IsType(t, tea.QuitMsg{}, cmd())
}

func TestModel_HideKeysQuitDisplay(t *testing.T) {
	m, _ := newModel(t, 2)

	m, cmd := update(t, m, tea.KeyMsg{Type: tea.KeyCtrlC})
	require.False(t, m.Finished())
	require.IsType(t, tea.QuitMsg{}, cmd())

	_, cmd = update(t, m, tea.KeyMsg{Type: tea.KeyRunes, Runes: []rune("q")})
	require.IsType(t, tea.QuitMsg{}, cmd())

	_, cmd = update(t, m, tea.KeyMsg{Type: tea.KeyRunes, Runes: []rune("x")})
	require.Nil(t, cmd)
}

func TestModel_WindowResizeTruncatesFile(t *testing.T) {
	m, _ := newModel(t, 1)

	m, _ = update(t, m, tea.WindowSizeMsg{Width: 40, Height: 10})
	m, _ = update(t, m, event(pubsub.FileCompletedEvent, ingest.Progress{
		FilesDone: 0, FilesTotal: 1, LastFile: "a-very-long-trace-file-name-that-cannot-fit.12345",
	}))

	for _, line := range bytes.Split([]byte(ansi.Strip(m.View())), []byte("\n")) {
		require.LessOrEqual(t, ansi.StringWidth(string(line)), 40)
	}
	require.Contains(t, m.View(), "...")
}

func TestTruncate(t *testing.T) {
	require.Equal(t, "trace.1", truncate("trace.1", 10))
	require.Equal(t, "trace...", truncate("trace.12345", 8))
	require.Equal(t, "tr", truncate("trace.12345", 2))
	require.Equal(t, "", truncate("trace.12345", 0))
}

func TestModel_Program(t *testing.T) {
	m, broker := newModel(t, 2)

	tm := teatest.NewTestModel(t, m, teatest.WithInitialTermSize(80, 10))

	broker.Publish(pubsub.FileCompletedEvent, ingest.Progress{FilesDone: 1, FilesTotal: 2, LinesTotal: 10, LastFile: "trace.1"})
	teatest.WaitFor(t, tm.Output(), func(b []byte) bool {
		return bytes.Contains(b, []byte("1/2 files"))
	}, teatest.WithDuration(3*time.Second))

	broker.Publish(pubsub.FileCompletedEvent, ingest.Progress{FilesDone: 2, FilesTotal: 2, LinesTotal: 20, LastFile: "trace.2"})
	broker.Publish(pubsub.RunFinishedEvent, ingest.Progress{FilesDone: 2, FilesTotal: 2, LinesTotal: 20, Worker: -1})

	final, ok := tm.FinalModel(t, teatest.WithFinalTimeout(3*time.Second)).(Model)
	require.True(t, ok)
	require.True(t, final.Finished())
	require.InDelta(t, 1.0, final.Percent(), 1e-9)
}

func TestModel_ShowsLatestProblem(t *testing.T) {
	m, _ := newModel(t, 2)

	m, cmd := update(t, m, logMsg{Level: log.LevelInfo, Category: log.CatPipeline, Text: "pipeline started"})
	require.Nil(t, cmd, "no log subscription to resume")
	require.NotContains(t, ansi.Strip(m.View()), "pipeline started")

	m, _ = update(t, m, logMsg{Level: log.LevelError, Category: log.CatPipeline, Text: "file failed worker=1 file=trace.7"})
	m, _ = update(t, m, logMsg{Level: log.LevelDebug, Category: log.CatScan, Text: "file scanned"})

	view := ansi.Strip(m.View())
	require.Contains(t, view, "file failed worker=1 file=trace.7")
	require.NotContains(t, view, "file scanned")
}

func TestModel_ProgramFollowsLog(t *testing.T) {
	cleanup := log.InitWriter(io.Discard, log.LevelWarn)
	t.Cleanup(cleanup)

	m, broker := newModel(t, 2)
	m = m.WithLogs(log.NewListener(t.Context()))

	tm := teatest.NewTestModel(t, m, teatest.WithInitialTermSize(80, 10))

	log.Warn(log.CatPipeline, "file failed", "file", "trace.9")
	teatest.WaitFor(t, tm.Output(), func(b []byte) bool {
		return bytes.Contains(b, []byte("file failed file=trace.9"))
	}, teatest.WithDuration(3*time.Second))

	broker.Publish(pubsub.RunFinishedEvent, ingest.Progress{FilesDone: 2, FilesTotal: 2, Worker: -1})
	final, ok := tm.FinalModel(t, teatest.WithFinalTimeout(3*time.Second)).(Model)
	require.True(t, ok)
	require.Equal(t, "file failed file=trace.9", final.lastIssue)
}
