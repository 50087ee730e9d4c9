package presentation

import (
	"encoding/json"
	"fmt"
	"io"
	"strconv"
	"time"

	"github.com/charmbracelet/lipgloss"
	"github.com/charmbracelet/lipgloss/table"
)

var headerStyle = lipgloss.NewStyle().Bold(true).Padding(0, 1)
var cellStyle = lipgloss.NewStyle().Padding(0, 1)
var sectionStyle = lipgloss.NewStyle().Bold(true)

// Formatter handles output formatting
type Formatter struct {
	writer io.Writer
}

// NewFormatter creates a new formatter
func NewFormatter(writer io.Writer) *Formatter {
	return &Formatter{
		writer: writer,
	}
}

// FormatJSON writes v as indented JSON.
func (f *Formatter) FormatJSON(v any) error {
	encoder := json.NewEncoder(f.writer)
	encoder.SetIndent("", "  ")
	return encoder.Encode(v)
}

// FormatStats writes the stats report as a sequence of tables.
func (f *Formatter) FormatStats(s StatsDTO) error {
	if _, err := fmt.Fprintf(f.writer, "Database:       %s\nSyscalls in DB: %d\n", s.Database, s.Rows); err != nil {
		return err
	}

	top := make([][]string, len(s.TopSyscalls))
	for i, c := range s.TopSyscalls {
		top[i] = []string{c.Syscall, itoa(c.Calls), itoa(c.Errors)}
	}
	errs := make([][]string, len(s.ErrorCodes))
	for i, c := range s.ErrorCodes {
		errs[i] = []string{c.Code, itoa(c.Count)}
	}
	slow := make([][]string, len(s.Slowest))
	for i, c := range s.Slowest {
		slow[i] = []string{c.Syscall, itoa(c.Calls), seconds(c.TotalSeconds), seconds(c.MaxSeconds)}
	}
	procs := make([][]string, len(s.Processes))
	for i, c := range s.Processes {
		procs[i] = []string{c.TraceFile, strconv.Itoa(int(c.PID)), itoa(c.Calls), itoa(c.Errors)}
	}

	sections := []struct {
		title   string
		headers []string
		rows    [][]string
	}{
		{"Top syscalls", []string{"SYSCALL", "CALLS", "ERRORS"}, top},
		{"Error codes", []string{"CODE", "COUNT"}, errs},
		{"Slowest syscalls", []string{"SYSCALL", "CALLS", "TOTAL", "MAX"}, slow},
		{"Processes", []string{"FILE", "PID", "CALLS", "ERRORS"}, procs},
	}
	for _, sec := range sections {
		if err := f.section(sec.title, sec.headers, sec.rows); err != nil {
			return err
		}
	}
	return nil
}

// FormatRuns writes recorded runs as a table, newest first.
func (f *Formatter) FormatRuns(runs []RunDTO) error {
	rows := make([][]string, len(runs))
	for i, r := range runs {
		finished := "running"
		if r.FinishedAt != nil {
			finished = r.FinishedAt.Sub(r.StartedAt).Round(time.Millisecond).String()
		}
		rows[i] = []string{
			r.ID,
			r.StartedAt.Format(time.DateTime),
			r.Mode,
			strconv.Itoa(r.Workers),
			fmt.Sprintf("%d/%d", r.Files-r.FilesFailed, r.Files),
			itoa(r.TotalLines),
			itoa(r.FailedLines),
			finished,
		}
	}
	return f.section("Ingest runs",
		[]string{"ID", "STARTED", "MODE", "WORKERS", "FILES OK", "LINES", "FAILED LINES", "DURATION"},
		rows)
}

// FormatQuery writes a query result as one table. NULL values print as NULL.
func (f *Formatter) FormatQuery(q QueryDTO) error {
	rows := make([][]string, len(q.Rows))
	for i, r := range q.Rows {
		cells := make([]string, len(r))
		for j, v := range r {
			if v == nil {
				cells[j] = "NULL"
				continue
			}
			cells[j] = fmt.Sprint(v)
		}
		rows[i] = cells
	}
	title := fmt.Sprintf("%d row(s)", len(rows))
	if q.Truncated {
		title = fmt.Sprintf("first %d row(s)", len(rows))
	}
	return f.section(title, q.Columns, rows)
}

func (f *Formatter) section(title string, headers []string, rows [][]string) error {
	if _, err := fmt.Fprintf(f.writer, "\n%s\n", sectionStyle.Render(title)); err != nil {
		return err
	}
	if len(rows) == 0 {
		_, err := fmt.Fprintln(f.writer, "  (none)")
		return err
	}

	t := table.New().
		Border(lipgloss.NormalBorder()).
		Headers(headers...).
		Rows(rows...).
		StyleFunc(func(row, _ int) lipgloss.Style {
			if row == table.HeaderRow {
				return headerStyle
			}
			return cellStyle
		})
	_, err := fmt.Fprintln(f.writer, t.Render())
	return err
}

func itoa(n int64) string {
	return strconv.FormatInt(n, 10)
}

func seconds(s float64) string {
	return strconv.FormatFloat(s, 'f', 6, 64) + "s"
}
