package sqlite

import (
	"context"
	"database/sql"
	"fmt"

	"fortio.org/safecast"

	"github.com/zjrosen/tracelake/internal/log"
	"github.com/zjrosen/tracelake/internal/strace"
)

// DefaultBatchSize is the number of rows a Handle buffers before flushing.
const DefaultBatchSize = 4096

const insertSyscallSQL = `INSERT INTO syscalls (
	trace_file, pid, timestamp, syscall, args,
	return_value, error_code, error_message, duration,
	unfinished, resumed
) VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`

const syscallColumns = `trace_file, pid, timestamp, syscall, args,
	return_value, error_code, error_message, duration, unfinished, resumed`

// Store appends parsed syscalls and answers analytic queries over them.
type Store struct {
	db        *DB
	batchSize int
}

// BatchSize returns the number of rows a Handle buffers before flushing.
func (s *Store) BatchSize() int {
	return s.batchSize
}

// OpenForWrite returns a Handle owning a dedicated connection. The handle lock
// is held only while the connection is acquired; the Handle itself must be
// used by one goroutine at a time.
func (s *Store) OpenForWrite(ctx context.Context) (*Handle, error) {
	if s.db.closed.Load() {
		return nil, ErrStoreClosed
	}

	s.db.handleMu.Lock()
	conn, err := s.db.conn.Conn(ctx)
	s.db.handleMu.Unlock()
	if err != nil {
		return nil, fmt.Errorf("acquire write connection: %w", err)
	}

	return &Handle{
		store: s,
		conn:  conn,
		buf:   make([]Row, 0, s.batchSize),
	}, nil
}

// AppendBatch writes events from one trace file in a single transaction
// through a short-lived handle.
func (s *Store) AppendBatch(ctx context.Context, traceFile string, pid int32, events []strace.Event) error {
	if len(events) == 0 {
		return nil
	}

	h, err := s.OpenForWrite(ctx)
	if err != nil {
		return err
	}

	rows := make([]Row, len(events))
	for i, ev := range events {
		rows[i] = Row{TraceFile: traceFile, PID: pid, Event: ev}
	}
	if err := h.AppendBatch(ctx, rows); err != nil {
		_ = h.Close()
		return err
	}
	return h.Close()
}

// CountRows returns the number of syscall rows visible to readers.
func (s *Store) CountRows(ctx context.Context) (int64, error) {
	if s.db.closed.Load() {
		return 0, ErrStoreClosed
	}
	var n int64
	if err := s.db.conn.QueryRowContext(ctx, `SELECT COUNT(*) FROM syscalls`).Scan(&n); err != nil {
		return 0, fmt.Errorf("count rows: %w", err)
	}
	return n, nil
}

// DeleteTraceFile removes every row loaded from traceFile and returns how many
// were removed.
func (s *Store) DeleteTraceFile(ctx context.Context, traceFile string) (int64, error) {
	if s.db.closed.Load() {
		return 0, ErrStoreClosed
	}

	s.db.writeMu.Lock()
	defer s.db.writeMu.Unlock()

	res, err := s.db.conn.ExecContext(ctx, `DELETE FROM syscalls WHERE trace_file = ?`, traceFile)
	if err != nil {
		return 0, fmt.Errorf("delete rows of %s: %w", traceFile, err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return 0, fmt.Errorf("delete rows of %s: %w", traceFile, err)
	}
	return n, nil
}

// RowsByTimestamp returns up to limit rows ordered by timestamp.
func (s *Store) RowsByTimestamp(ctx context.Context, limit int) ([]Row, error) {
	rows, err := s.db.conn.QueryContext(ctx,
		`SELECT `+syscallColumns+` FROM syscalls ORDER BY timestamp, rowid LIMIT ?`, limit)
	if err != nil {
		return nil, fmt.Errorf("query rows: %w", err)
	}
	defer func() { _ = rows.Close() }()

	var out []Row
	for rows.Next() {
		var m SyscallModel
		if err := rows.Scan(
			&m.TraceFile, &m.PID, &m.Timestamp, &m.Syscall, &m.Args,
			&m.ReturnValue, &m.ErrorCode, &m.ErrorMessage, &m.Duration,
			&m.Unfinished, &m.Resumed,
		); err != nil {
			return nil, fmt.Errorf("scan row: %w", err)
		}
		r, err := m.toRow()
		if err != nil {
			return nil, err
		}
		out = append(out, r)
	}
	return out, rows.Err()
}

// writeRows inserts rows in one transaction on conn. Writers from every handle
// share the database write lock, so a transaction never waits on SQLITE_BUSY.
func (s *Store) writeRows(ctx context.Context, conn *sql.Conn, rows []Row) error {
	if len(rows) == 0 {
		return nil
	}

	s.db.writeMu.Lock()
	defer s.db.writeMu.Unlock()

	tx, err := conn.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("begin batch: %w", err)
	}

	stmt, err := tx.PrepareContext(ctx, insertSyscallSQL)
	if err != nil {
		_ = tx.Rollback()
		return fmt.Errorf("prepare insert: %w", err)
	}

	for i := range rows {
		m := toSyscallModel(rows[i])
		if _, err := stmt.ExecContext(ctx, m.args()...); err != nil {
			_ = stmt.Close()
			_ = tx.Rollback()
			return fmt.Errorf("insert row %d of %d: %w", i+1, len(rows), err)
		}
	}

	if err := stmt.Close(); err != nil {
		_ = tx.Rollback()
		return fmt.Errorf("close insert: %w", err)
	}
	if err := tx.Commit(); err != nil {
		return fmt.Errorf("commit batch: %w", err)
	}

	log.Debug(log.CatSink, "batch committed", "rows", len(rows))
	return nil
}

func narrowPID(v int64) (int32, error) {
	pid, err := safecast.Conv[int32](v)
	if err != nil {
		return 0, fmt.Errorf("pid %d out of range: %w", v, err)
	}
	return pid, nil
}
