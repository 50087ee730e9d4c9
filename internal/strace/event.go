// Package strace parses strace(1) output lines recorded with timestamps and
// syscall durations (strace -tt -T) into structured events.
//
// Three line shapes are recognised:
//
//	22:21:11.524449 brk(NULL) = 0x55edad95f000 <0.000004>
//	22:21:24.927885 wait4(1387721 <unfinished ...>) = ?
//	22:21:24.931002 <... wait4 resumed>, [{WIFEXITED(s)}], 0, NULL) = 1387721 <0.003117>
//
// Parsing is pure: no I/O, no shared state, safe for concurrent use.
package strace

// Event is one parsed trace line.
//
// Optional fields are nil when the value is not present on the line or could
// not be extracted. Unfinished and Resumed are mutually exclusive.
type Event struct {
	Timestamp    string   // HH:MM:SS.ffffff, not validated
	Name         string   // syscall name
	Args         string   // raw argument text, untokenized
	ReturnValue  *int64   // nil for unfinished calls and non-numeric returns (e.g. "?")
	ErrorCode    *string  // e.g. ENOENT
	ErrorMessage *string  // e.g. No such file or directory
	Duration     *float64 // seconds, from the trailing <...> marker
	Unfinished   bool
	Resumed      bool
}
