package presentation

import (
	"fmt"
	"io"
	"strings"

	"github.com/zjrosen/tracelake/internal/ingest"
	"github.com/zjrosen/tracelake/internal/metrics"
)

// Summary is the report printed after an ingest run.
type Summary struct {
	Metrics      metrics.RunMetrics
	FilesOK      int
	FilesFailed  int
	Failures     []ingest.FileError
	WorkerErrors []error
	Database     string
	Rows         int64
}

// SummaryFromResult builds a Summary for a finished run.
func SummaryFromResult(res ingest.Result, database string, rows int64) Summary {
	return Summary{
		Metrics: metrics.RunMetrics{
			TotalLines:  res.Stats.TotalLines,
			ParsedLines: res.Stats.ParsedLines,
			FailedLines: res.Stats.FailedLines,
			Wall:        res.Elapsed,
			ReadTime:    res.Stats.ReadTime,
			ParseTime:   res.Stats.ParseTime,
			SinkTime:    res.Stats.SinkTime,
		},
		FilesOK:      res.FilesOK,
		FilesFailed:  res.FilesFailed,
		Failures:     res.Failures,
		WorkerErrors: res.WorkerErrors,
		Database:     database,
		Rows:         rows,
	}
}

// FormatSummary writes the totals, time breakdown and database line.
func (f *Formatter) FormatSummary(s Summary) error {
	m := s.Metrics
	var b strings.Builder

	b.WriteString("\n=== Summary ===\n")
	fmt.Fprintf(&b, "Total lines:  %d\n", m.TotalLines)
	fmt.Fprintf(&b, "Parsed:       %d\n", m.ParsedLines)
	fmt.Fprintf(&b, "Failed:       %d\n", m.FailedLines)
	fmt.Fprintf(&b, "Files:        %d ok, %d failed\n", s.FilesOK, s.FilesFailed)
	fmt.Fprintf(&b, "Time:         %s\n", metrics.FormatSeconds(m.Wall))
	fmt.Fprintf(&b, "Throughput:   %s\n", m.FormatThroughput())

	b.WriteString("\n=== Time Breakdown ===\n")
	fmt.Fprintf(&b, "File I/O:     %s\n", m.FormatPhase(m.ReadTime))
	fmt.Fprintf(&b, "Parsing:      %s\n", m.FormatPhase(m.ParseTime))
	fmt.Fprintf(&b, "DB Insert:    %s\n", m.FormatPhase(m.SinkTime))
	fmt.Fprintf(&b, "Total Work:   %s\n", metrics.FormatSeconds(m.WorkTime()))
	fmt.Fprintf(&b, "Parallelism:  %s\n", m.FormatParallelism())

	if len(s.Failures) > 0 || len(s.WorkerErrors) > 0 {
		b.WriteString("\n=== Failures ===\n")
		for _, fe := range s.Failures {
			fmt.Fprintf(&b, "  %s\n", fe.Error())
		}
		for _, err := range s.WorkerErrors {
			fmt.Fprintf(&b, "  %v\n", err)
		}
	}

	fmt.Fprintf(&b, "\nDatabase:     %s\n", s.Database)
	fmt.Fprintf(&b, "Syscalls in DB: %d\n", s.Rows)

	_, err := io.WriteString(f.writer, b.String())
	return err
}
