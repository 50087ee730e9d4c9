// Package presentation renders ingestion results and sink statistics for the
// terminal, as text tables or JSON.
package presentation

import (
	"time"

	"github.com/zjrosen/tracelake/internal/infrastructure/sqlite"
)

// SyscallCountDTO is one row of the top-syscalls table.
type SyscallCountDTO struct {
	Syscall string `json:"syscall"`
	Calls   int64  `json:"calls"`
	Errors  int64  `json:"errors"`
}

// ErrorCountDTO is one row of the error-code table.
type ErrorCountDTO struct {
	Code  string `json:"code"`
	Count int64  `json:"count"`
}

// SyscallTimeDTO is one row of the slowest-syscalls table.
type SyscallTimeDTO struct {
	Syscall      string  `json:"syscall"`
	Calls        int64   `json:"calls"`
	TotalSeconds float64 `json:"total_seconds"`
	MaxSeconds   float64 `json:"max_seconds"`
}

// ProcessCountDTO is one row of the per-process table.
type ProcessCountDTO struct {
	TraceFile string `json:"trace_file"`
	PID       int32  `json:"pid"`
	Calls     int64  `json:"calls"`
	Errors    int64  `json:"errors"`
}

// StatsDTO is everything the stats command reports.
type StatsDTO struct {
	Database    string            `json:"database"`
	Rows        int64             `json:"rows"`
	TopSyscalls []SyscallCountDTO `json:"top_syscalls"`
	ErrorCodes  []ErrorCountDTO   `json:"error_codes"`
	Slowest     []SyscallTimeDTO  `json:"slowest_syscalls"`
	Processes   []ProcessCountDTO `json:"processes"`
}

// RunDTO is one recorded ingestion run.
type RunDTO struct {
	ID          string     `json:"id"`
	Mode        string     `json:"mode"`
	Workers     int        `json:"workers"`
	Files       int        `json:"files"`
	FilesFailed int        `json:"files_failed"`
	TotalLines  int64      `json:"total_lines"`
	ParsedLines int64      `json:"parsed_lines"`
	FailedLines int64      `json:"failed_lines"`
	StartedAt   time.Time  `json:"started_at"`
	FinishedAt  *time.Time `json:"finished_at,omitempty"`
}

// QueryDTO is the result of an ad-hoc query.
type QueryDTO struct {
	Columns   []string `json:"columns"`
	Rows      [][]any  `json:"rows"`
	Truncated bool     `json:"truncated,omitempty"`
}

// FromSyscallCounts converts sink rows to DTOs.
func FromSyscallCounts(in []sqlite.SyscallCount) []SyscallCountDTO {
	out := make([]SyscallCountDTO, len(in))
	for i, c := range in {
		out[i] = SyscallCountDTO{Syscall: c.Name, Calls: c.Calls, Errors: c.Errors}
	}
	return out
}

// FromErrorCounts converts sink rows to DTOs.
func FromErrorCounts(in []sqlite.ErrorCount) []ErrorCountDTO {
	out := make([]ErrorCountDTO, len(in))
	for i, c := range in {
		out[i] = ErrorCountDTO{Code: c.Code, Count: c.Count}
	}
	return out
}

// FromSyscallTimes converts sink rows to DTOs.
func FromSyscallTimes(in []sqlite.SyscallTime) []SyscallTimeDTO {
	out := make([]SyscallTimeDTO, len(in))
	for i, c := range in {
		out[i] = SyscallTimeDTO{Syscall: c.Name, Calls: c.Calls, TotalSeconds: c.Total, MaxSeconds: c.Max}
	}
	return out
}

// FromProcessCounts converts sink rows to DTOs.
func FromProcessCounts(in []sqlite.ProcessCount) []ProcessCountDTO {
	out := make([]ProcessCountDTO, len(in))
	for i, c := range in {
		out[i] = ProcessCountDTO{TraceFile: c.TraceFile, PID: c.PID, Calls: c.Calls, Errors: c.Errors}
	}
	return out
}

// FromRuns converts recorded runs to DTOs.
func FromRuns(in []*sqlite.Run) []RunDTO {
	out := make([]RunDTO, len(in))
	for i, r := range in {
		out[i] = RunDTO{
			ID:          r.ID,
			Mode:        r.Mode,
			Workers:     r.Workers,
			Files:       r.Files,
			FilesFailed: r.Summary.FilesFailed,
			TotalLines:  r.Summary.TotalLines,
			ParsedLines: r.Summary.ParsedLines,
			FailedLines: r.Summary.FailedLines,
			StartedAt:   r.StartedAt,
			FinishedAt:  r.FinishedAt,
		}
	}
	return out
}
