package ingest

import (
	"bufio"
	"context"
	"errors"
	"io"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/zjrosen/tracelake/internal/infrastructure/sqlite"
	"github.com/zjrosen/tracelake/internal/log"
	"github.com/zjrosen/tracelake/internal/strace"
)

const readBufferSize = 64 * 1024

// readLine returns the next line of r without its line terminator. Lines have
// no length limit. A final line without a newline is still returned.
func readLine(r *bufio.Reader) (string, error) {
	line, err := r.ReadString('\n')
	if err == io.EOF && line != "" {
		err = nil
	}
	if err != nil {
		return "", err
	}
	line = strings.TrimSuffix(line, "\n")
	return strings.TrimSuffix(line, "\r"), nil
}

// scanLines parses every line of r into stats and hands each parsed event to
// emit. Read, parse and emit time are accumulated separately. Unparseable
// lines are counted and skipped.
func scanLines(r io.Reader, stats *ProcessStats, emit func(strace.Event) error) error {
	br := bufio.NewReaderSize(r, readBufferSize)

	for {
		readStart := time.Now()
		line, err := readLine(br)
		stats.ReadTime += time.Since(readStart)
		if err == io.EOF {
			return nil
		}
		if err != nil {
			return &FileError{Op: OpRead, Err: err}
		}

		stats.TotalLines++

		parseStart := time.Now()
		ev := strace.ParseLine(line)
		stats.ParseTime += time.Since(parseStart)

		if ev == nil {
			stats.FailedLines++
			continue
		}
		stats.ParsedLines++

		if emit == nil {
			continue
		}
		sinkStart := time.Now()
		err = emit(*ev)
		stats.SinkTime += time.Since(sinkStart)
		if err != nil {
			return &FileError{Op: OpAppend, Err: err}
		}
	}
}

func openTrace(path string) (*os.File, error) {
	f, err := os.Open(path) // #nosec G304 -- trace paths come from the user
	if err != nil {
		return nil, &FileError{Worker: -1, Path: path, Op: OpOpen, Err: err}
	}
	return f, nil
}

func withPath(err error, path string) error {
	var fe *FileError
	if errors.As(err, &fe) {
		fe.Worker = -1
		fe.Path = path
		return fe
	}
	return err
}

// ScanFile reads the whole file, then submits every parsed event to store in
// one batch. Nothing from the file is visible unless the batch commits.
func ScanFile(ctx context.Context, store *sqlite.Store, path string) (ProcessStats, error) {
	var stats ProcessStats

	f, err := openTrace(path)
	if err != nil {
		return stats, err
	}
	defer func() { _ = f.Close() }()

	name := filepath.Base(path)
	pid := ExtractPID(name)

	var events []strace.Event
	collect := func(ev strace.Event) error {
		events = append(events, ev)
		return nil
	}
	if err := scanLines(f, &stats, collect); err != nil {
		return stats, withPath(err, path)
	}

	sinkStart := time.Now()
	err = store.AppendBatch(ctx, name, pid, events)
	stats.SinkTime += time.Since(sinkStart)
	if err != nil {
		return stats, &FileError{Worker: -1, Path: path, Op: OpAppend, Err: err}
	}

	log.Debug(log.CatScan, "file scanned",
		"file", path, "lines", stats.TotalLines, "parsed", stats.ParsedLines, "failed", stats.FailedLines)
	return stats, nil
}

// ScanFileWithHandle appends each parsed event through h as it is read and
// flushes h once the file is done. On a read or append failure the rows of
// this file still buffered in h are dropped; rows from earlier full batches
// remain committed.
func ScanFileWithHandle(ctx context.Context, h *sqlite.Handle, path string) (ProcessStats, error) {
	var stats ProcessStats

	f, err := openTrace(path)
	if err != nil {
		return stats, err
	}
	defer func() { _ = f.Close() }()

	name := filepath.Base(path)
	pid := ExtractPID(name)

	appendRow := func(ev strace.Event) error {
		return h.Append(ctx, sqlite.Row{TraceFile: name, PID: pid, Event: ev})
	}
	if err := scanLines(f, &stats, appendRow); err != nil {
		if n := h.Discard(); n > 0 {
			log.Debug(log.CatScan, "dropped buffered rows", "file", path, "rows", n)
		}
		return stats, withPath(err, path)
	}

	pending := h.Pending()
	sinkStart := time.Now()
	err = h.Flush(ctx)
	stats.SinkTime += time.Since(sinkStart)
	if err != nil {
		return stats, &FileError{Worker: -1, Path: path, Op: OpFlush, Err: err}
	}

	log.Debug(log.CatScan, "file scanned",
		"file", path, "lines", stats.TotalLines, "parsed", stats.ParsedLines, "failed", stats.FailedLines,
		"final_flush", pending)
	return stats, nil
}

// CountReader parses every line of r without writing anything.
func CountReader(r io.Reader) (ProcessStats, error) {
	var stats ProcessStats
	err := scanLines(r, &stats, nil)
	return stats, err
}
