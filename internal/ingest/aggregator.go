package ingest

import (
	"sync"
	"sync/atomic"
	"time"
)

// Aggregator merges per-file stats from concurrent workers. Line and file
// counters are lock-free; the phase durations share one mutex because they
// change at most once per file.
type Aggregator struct {
	totalLines  atomic.Int64
	parsedLines atomic.Int64
	failedLines atomic.Int64
	filesDone   atomic.Int64
	filesFailed atomic.Int64

	mu        sync.Mutex
	readTime  time.Duration
	parseTime time.Duration
	sinkTime  time.Duration
	failures  []FileError

	start time.Time
}

// NewAggregator returns an empty aggregator whose throughput clock starts at start.
func NewAggregator(start time.Time) *Aggregator {
	return &Aggregator{start: start}
}

// Add merges the stats of one completed file and returns the running line
// total and completed file count.
func (a *Aggregator) Add(s ProcessStats) (linesTotal, filesDone int64) {
	linesTotal = a.totalLines.Add(s.TotalLines)
	a.parsedLines.Add(s.ParsedLines)
	a.failedLines.Add(s.FailedLines)

	a.mu.Lock()
	a.readTime += s.ReadTime
	a.parseTime += s.ParseTime
	a.sinkTime += s.SinkTime
	a.mu.Unlock()

	filesDone = a.filesDone.Add(1)
	return linesTotal, filesDone
}

// Fail records a file that could not be ingested and returns the number of
// files finished so far, failed ones included.
func (a *Aggregator) Fail(fe FileError) int64 {
	a.mu.Lock()
	a.failures = append(a.failures, fe)
	a.mu.Unlock()

	a.filesFailed.Add(1)
	return a.filesDone.Load() + a.filesFailed.Load()
}

// Snapshot returns the totals merged so far.
func (a *Aggregator) Snapshot() ProcessStats {
	s := ProcessStats{
		TotalLines:  a.totalLines.Load(),
		ParsedLines: a.parsedLines.Load(),
		FailedLines: a.failedLines.Load(),
	}
	a.mu.Lock()
	s.ReadTime = a.readTime
	s.ParseTime = a.parseTime
	s.SinkTime = a.sinkTime
	a.mu.Unlock()
	return s
}

// FilesDone returns the number of files merged with Add.
func (a *Aggregator) FilesDone() int64 {
	return a.filesDone.Load()
}

// FilesFailed returns the number of files recorded with Fail.
func (a *Aggregator) FilesFailed() int64 {
	return a.filesFailed.Load()
}

// Failures returns a copy of the recorded file failures.
func (a *Aggregator) Failures() []FileError {
	a.mu.Lock()
	defer a.mu.Unlock()
	return append([]FileError(nil), a.failures...)
}

// LinesPerSec is the line throughput since start, measured at now.
func (a *Aggregator) LinesPerSec(now time.Time) float64 {
	elapsed := now.Sub(a.start).Seconds()
	if elapsed <= 0 {
		return 0
	}
	return float64(a.totalLines.Load()) / elapsed
}
