package sqlite

import (
	"github.com/zjrosen/tracelake/internal/strace"
)

// Row is one parsed event together with the trace file it came from.
type Row struct {
	TraceFile string
	PID       int32
	Event     strace.Event
}

// SyscallModel represents the database row for the syscalls table.
// Fields map directly to SQL columns.
type SyscallModel struct {
	TraceFile    string
	PID          int64
	Timestamp    string
	Syscall      string
	Args         string
	ReturnValue  *int64   // nullable
	ErrorCode    *string  // nullable
	ErrorMessage *string  // nullable
	Duration     *float64 // nullable
	Unfinished   int
	Resumed      int
}

// toSyscallModel converts a Row to its column values.
func toSyscallModel(r Row) SyscallModel {
	return SyscallModel{
		TraceFile:    r.TraceFile,
		PID:          int64(r.PID),
		Timestamp:    r.Event.Timestamp,
		Syscall:      r.Event.Name,
		Args:         r.Event.Args,
		ReturnValue:  r.Event.ReturnValue,
		ErrorCode:    r.Event.ErrorCode,
		ErrorMessage: r.Event.ErrorMessage,
		Duration:     r.Event.Duration,
		Unfinished:   boolToInt(r.Event.Unfinished),
		Resumed:      boolToInt(r.Event.Resumed),
	}
}

// toRow converts a scanned model back into a Row.
func (m *SyscallModel) toRow() (Row, error) {
	pid, err := narrowPID(m.PID)
	if err != nil {
		return Row{}, err
	}
	return Row{
		TraceFile: m.TraceFile,
		PID:       pid,
		Event: strace.Event{
			Timestamp:    m.Timestamp,
			Name:         m.Syscall,
			Args:         m.Args,
			ReturnValue:  m.ReturnValue,
			ErrorCode:    m.ErrorCode,
			ErrorMessage: m.ErrorMessage,
			Duration:     m.Duration,
			Unfinished:   m.Unfinished != 0,
			Resumed:      m.Resumed != 0,
		},
	}, nil
}

func (m *SyscallModel) args() []any {
	return []any{
		m.TraceFile, m.PID, m.Timestamp, m.Syscall, m.Args,
		m.ReturnValue, m.ErrorCode, m.ErrorMessage, m.Duration,
		m.Unfinished, m.Resumed,
	}
}

func boolToInt(b bool) int {
	if b {
		return 1
	}
	return 0
}
