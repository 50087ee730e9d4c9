package sqlite

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
)

// Run is one recorded ingestion run.
type Run struct {
	ID         string
	Mode       string
	Workers    int
	Files      int
	StartedAt  time.Time
	FinishedAt *time.Time
	Summary    RunSummary
}

// RunSummary holds the totals recorded when a run finishes.
type RunSummary struct {
	FilesFailed int
	TotalLines  int64
	ParsedLines int64
	FailedLines int64
	ReadTime    time.Duration
	ParseTime   time.Duration
	SinkTime    time.Duration
}

// RunNotFoundError is returned when no run has the requested ID.
type RunNotFoundError struct {
	ID string
}

func (e *RunNotFoundError) Error() string {
	return fmt.Sprintf("ingest run not found: %s", e.ID)
}

// RunRepository records ingestion runs in the ingest_runs table.
type RunRepository struct {
	db  *DB
	now func() time.Time
}

func newRunRepository(db *DB) *RunRepository {
	return &RunRepository{db: db, now: time.Now}
}

// Start inserts a new unfinished run and returns it.
func (r *RunRepository) Start(ctx context.Context, mode string, workers, files int) (*Run, error) {
	run := &Run{
		ID:        uuid.NewString(),
		Mode:      mode,
		Workers:   workers,
		Files:     files,
		StartedAt: r.now(),
	}

	r.db.writeMu.Lock()
	defer r.db.writeMu.Unlock()

	_, err := r.db.conn.ExecContext(ctx,
		`INSERT INTO ingest_runs (id, mode, workers, files, started_at) VALUES (?, ?, ?, ?, ?)`,
		run.ID, run.Mode, run.Workers, run.Files, run.StartedAt.UnixMilli(),
	)
	if err != nil {
		return nil, fmt.Errorf("failed to insert ingest run: %w", err)
	}
	return run, nil
}

// Finish stores the run totals and marks the run finished.
func (r *RunRepository) Finish(ctx context.Context, run *Run, sum RunSummary) error {
	finished := r.now()

	r.db.writeMu.Lock()
	defer r.db.writeMu.Unlock()

	res, err := r.db.conn.ExecContext(ctx, `
		UPDATE ingest_runs SET
			files_failed = ?, total_lines = ?, parsed_lines = ?, failed_lines = ?,
			read_ms = ?, parse_ms = ?, sink_ms = ?, finished_at = ?
		WHERE id = ?`,
		sum.FilesFailed, sum.TotalLines, sum.ParsedLines, sum.FailedLines,
		millis(sum.ReadTime), millis(sum.ParseTime), millis(sum.SinkTime), finished.UnixMilli(),
		run.ID,
	)
	if err != nil {
		return fmt.Errorf("failed to finish ingest run: %w", err)
	}
	if n, err := res.RowsAffected(); err == nil && n == 0 {
		return &RunNotFoundError{ID: run.ID}
	}

	run.FinishedAt = &finished
	run.Summary = sum
	return nil
}

// FindByID returns the run with the given ID.
func (r *RunRepository) FindByID(ctx context.Context, id string) (*Run, error) {
	row := r.db.conn.QueryRowContext(ctx, `SELECT `+runColumns+` FROM ingest_runs WHERE id = ?`, id)
	run, err := scanRun(row)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, &RunNotFoundError{ID: id}
	}
	if err != nil {
		return nil, fmt.Errorf("failed to find ingest run: %w", err)
	}
	return run, nil
}

// Recent returns up to n runs, newest first.
func (r *RunRepository) Recent(ctx context.Context, n int) ([]*Run, error) {
	rows, err := r.db.conn.QueryContext(ctx,
		`SELECT `+runColumns+` FROM ingest_runs ORDER BY started_at DESC, rowid DESC LIMIT ?`, n)
	if err != nil {
		return nil, fmt.Errorf("failed to list ingest runs: %w", err)
	}
	defer func() { _ = rows.Close() }()

	var out []*Run
	for rows.Next() {
		run, err := scanRun(rows)
		if err != nil {
			return nil, fmt.Errorf("failed to scan ingest run: %w", err)
		}
		out = append(out, run)
	}
	return out, rows.Err()
}

const runColumns = `id, mode, workers, files, files_failed, total_lines, parsed_lines, failed_lines,
	read_ms, parse_ms, sink_ms, started_at, finished_at`

func scanRun(scanner interface{ Scan(...any) error }) (*Run, error) {
	var (
		run                     Run
		readMs, parseMs, sinkMs float64
		startedAt               int64
		finishedAt              *int64
	)
	err := scanner.Scan(
		&run.ID, &run.Mode, &run.Workers, &run.Files,
		&run.Summary.FilesFailed, &run.Summary.TotalLines, &run.Summary.ParsedLines, &run.Summary.FailedLines,
		&readMs, &parseMs, &sinkMs, &startedAt, &finishedAt,
	)
	if err != nil {
		return nil, err
	}
	run.Summary.ReadTime = fromMillis(readMs)
	run.Summary.ParseTime = fromMillis(parseMs)
	run.Summary.SinkTime = fromMillis(sinkMs)
	run.StartedAt = time.UnixMilli(startedAt)
	if finishedAt != nil {
		t := time.UnixMilli(*finishedAt)
		run.FinishedAt = &t
	}
	return &run, nil
}

func millis(d time.Duration) float64 {
	return float64(d) / float64(time.Millisecond)
}

func fromMillis(ms float64) time.Duration {
	return time.Duration(ms * float64(time.Millisecond))
}
