// Package metrics derives throughput figures from ingestion totals and formats
// them for the run summary.
package metrics

import (
	"fmt"
	"time"
)

// RunMetrics holds the totals of one ingestion run.
type RunMetrics struct {
	TotalLines  int64
	ParsedLines int64
	FailedLines int64

	// Wall is the elapsed time of the whole run.
	Wall time.Duration

	// Phase times summed over every file (and so over every worker).
	ReadTime  time.Duration
	ParseTime time.Duration
	SinkTime  time.Duration
}

// WorkTime is the total time spent in the three phases.
func (m RunMetrics) WorkTime() time.Duration {
	return m.ReadTime + m.ParseTime + m.SinkTime
}

// LinesPerSec returns line throughput against wall time.
func (m RunMetrics) LinesPerSec() float64 {
	if m.Wall <= 0 {
		return 0
	}
	return float64(m.TotalLines) / m.Wall.Seconds()
}

// Share returns d as a percentage (0-100) of the total work time.
func (m RunMetrics) Share(d time.Duration) float64 {
	work := m.WorkTime()
	if work <= 0 {
		return 0
	}
	return float64(d) / float64(work) * 100
}

// Parallelism is work time divided by wall time: how many phases were, on
// average, running at once.
func (m RunMetrics) Parallelism() float64 {
	if m.Wall <= 0 {
		return 0
	}
	return m.WorkTime().Seconds() / m.Wall.Seconds()
}

// FormatThroughput returns e.g. "123.4K lines/sec".
func (m RunMetrics) FormatThroughput() string {
	return FormatRate(m.LinesPerSec())
}

// FormatPhase returns e.g. "0.42s (12.5%)".
func (m RunMetrics) FormatPhase(d time.Duration) string {
	return fmt.Sprintf("%.2fs (%.1f%%)", d.Seconds(), m.Share(d))
}

// FormatParallelism returns e.g. "3.2x (wall: 1.00s, work: 3.20s)".
func (m RunMetrics) FormatParallelism() string {
	return fmt.Sprintf("%.1fx (wall: %.2fs, work: %.2fs)",
		m.Parallelism(), m.Wall.Seconds(), m.WorkTime().Seconds())
}

// FormatRate renders a lines-per-second figure in thousands.
func FormatRate(linesPerSec float64) string {
	return fmt.Sprintf("%.1fK lines/sec", linesPerSec/1000)
}

// FormatSeconds renders d as seconds with two decimals, e.g. "1.25s".
func FormatSeconds(d time.Duration) string {
	return fmt.Sprintf("%.2fs", d.Seconds())
}
