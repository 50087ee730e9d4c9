package sqlite

import (
	"context"
	"fmt"
)

// SyscallCount is the number of calls (and failed calls) for one syscall name.
type SyscallCount struct {
	Name   string
	Calls  int64
	Errors int64
}

// ErrorCount is the number of rows carrying one error code.
type ErrorCount struct {
	Code  string
	Count int64
}

// SyscallTime is the time spent in one syscall name.
type SyscallTime struct {
	Name  string
	Calls int64
	Total float64
	Max   float64
}

// ProcessCount summarises one traced process.
type ProcessCount struct {
	TraceFile string
	PID       int32
	Calls     int64
	Errors    int64
}

// TopSyscalls returns the n most frequent syscalls.
func (s *Store) TopSyscalls(ctx context.Context, n int) ([]SyscallCount, error) {
	rows, err := s.db.conn.QueryContext(ctx, `
		SELECT syscall, COUNT(*), SUM(CASE WHEN error_code IS NOT NULL THEN 1 ELSE 0 END)
		FROM syscalls
		GROUP BY syscall
		ORDER BY COUNT(*) DESC, syscall
		LIMIT ?`, n)
	if err != nil {
		return nil, fmt.Errorf("query top syscalls: %w", err)
	}
	defer func() { _ = rows.Close() }()

	var out []SyscallCount
	for rows.Next() {
		var c SyscallCount
		if err := rows.Scan(&c.Name, &c.Calls, &c.Errors); err != nil {
			return nil, fmt.Errorf("scan top syscalls: %w", err)
		}
		out = append(out, c)
	}
	return out, rows.Err()
}

// ErrorCodes returns the n most frequent error codes.
func (s *Store) ErrorCodes(ctx context.Context, n int) ([]ErrorCount, error) {
	rows, err := s.db.conn.QueryContext(ctx, `
		SELECT error_code, COUNT(*)
		FROM syscalls
		WHERE error_code IS NOT NULL
		GROUP BY error_code
		ORDER BY COUNT(*) DESC, error_code
		LIMIT ?`, n)
	if err != nil {
		return nil, fmt.Errorf("query error codes: %w", err)
	}
	defer func() { _ = rows.Close() }()

	var out []ErrorCount
	for rows.Next() {
		var c ErrorCount
		if err := rows.Scan(&c.Code, &c.Count); err != nil {
			return nil, fmt.Errorf("scan error codes: %w", err)
		}
		out = append(out, c)
	}
	return out, rows.Err()
}

// SlowestSyscalls returns the n syscalls with the largest total duration.
// Rows without a duration are ignored.
func (s *Store) SlowestSyscalls(ctx context.Context, n int) ([]SyscallTime, error) {
	rows, err := s.db.conn.QueryContext(ctx, `
		SELECT syscall, COUNT(*), SUM(duration), MAX(duration)
		FROM syscalls
		WHERE duration IS NOT NULL
		GROUP BY syscall
		ORDER BY SUM(duration) DESC, syscall
		LIMIT ?`, n)
	if err != nil {
		return nil, fmt.Errorf("query slowest syscalls: %w", err)
	}
	defer func() { _ = rows.Close() }()

	var out []SyscallTime
	for rows.Next() {
		var c SyscallTime
		if err := rows.Scan(&c.Name, &c.Calls, &c.Total, &c.Max); err != nil {
			return nil, fmt.Errorf("scan slowest syscalls: %w", err)
		}
		out = append(out, c)
	}
	return out, rows.Err()
}

// PerProcess returns the n busiest traced processes.
func (s *Store) PerProcess(ctx context.Context, n int) ([]ProcessCount, error) {
	rows, err := s.db.conn.QueryContext(ctx, `
		SELECT trace_file, pid, COUNT(*), SUM(CASE WHEN error_code IS NOT NULL THEN 1 ELSE 0 END)
		FROM syscalls
		GROUP BY trace_file, pid
		ORDER BY COUNT(*) DESC, trace_file
		LIMIT ?`, n)
	if err != nil {
		return nil, fmt.Errorf("query per-process counts: %w", err)
	}
	defer func() { _ = rows.Close() }()

	var out []ProcessCount
	for rows.Next() {
		var (
			c   ProcessCount
			pid int64
		)
		if err := rows.Scan(&c.TraceFile, &pid, &c.Calls, &c.Errors); err != nil {
			return nil, fmt.Errorf("scan per-process counts: %w", err)
		}
		if c.PID, err = narrowPID(pid); err != nil {
			return nil, err
		}
		out = append(out, c)
	}
	return out, rows.Err()
}
