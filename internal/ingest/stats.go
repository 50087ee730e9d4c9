// Package ingest scans strace files and loads the parsed events into the
// sink, either one file at a time or across a fixed pool of workers.
package ingest

import (
	"time"
)

// ProcessStats counts the lines of one file (or a set of files) and the time
// spent in each phase. Stats for disjoint file sets combine by field-wise sum.
type ProcessStats struct {
	TotalLines  int64
	ParsedLines int64
	FailedLines int64

	ReadTime  time.Duration
	ParseTime time.Duration
	SinkTime  time.Duration
}

// Add merges o into s.
func (s *ProcessStats) Add(o ProcessStats) {
	s.TotalLines += o.TotalLines
	s.ParsedLines += o.ParsedLines
	s.FailedLines += o.FailedLines
	s.ReadTime += o.ReadTime
	s.ParseTime += o.ParseTime
	s.SinkTime += o.SinkTime
}

// WorkTime is the sum of the three phase durations.
func (s ProcessStats) WorkTime() time.Duration {
	return s.ReadTime + s.ParseTime + s.SinkTime
}

// Counts returns the stats with durations zeroed, for comparing runs.
func (s ProcessStats) Counts() ProcessStats {
	return ProcessStats{
		TotalLines:  s.TotalLines,
		ParsedLines: s.ParsedLines,
		FailedLines: s.FailedLines,
	}
}

// Mode names the driver that produced a Result.
type Mode string

const (
	ModeSequential Mode = "sequential"
	ModeParallel   Mode = "parallel"
)

// Result is the outcome of a driver run.
type Result struct {
	Mode        Mode
	Workers     int
	Stats       ProcessStats
	FilesOK     int
	FilesFailed int
	Failures    []FileError

	// WorkerErrors holds workers that stopped abnormally (panic, final flush).
	WorkerErrors []error

	Elapsed time.Duration
}
