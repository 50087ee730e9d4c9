package ingest

import (
	"path/filepath"
	"strconv"
	"strings"

	"fortio.org/safecast"
)

// UnknownPID is stored when a trace file name carries no usable process ID.
const UnknownPID int32 = 0

// ExtractPID returns the process ID encoded as the final dot-separated
// segment of a trace file name, as written by strace -ff -o NAME:
//
//	trace.12345                         -> 12345
//	zoom-trace-20251110-222110.1387679  -> 1387679
//	trace.txt                           -> UnknownPID
//
// Values that do not fit in an int32 also yield UnknownPID.
func ExtractPID(name string) int32 {
	base := filepath.Base(name)
	suffix := base
	if i := strings.LastIndexByte(base, '.'); i >= 0 {
		suffix = base[i+1:]
	}
	if suffix == "" || strings.TrimLeft(suffix, "0123456789") != "" {
		return UnknownPID
	}

	n, err := strconv.ParseInt(suffix, 10, 64)
	if err != nil {
		return UnknownPID
	}
	pid, err := safecast.Conv[int32](n)
	if err != nil {
		return UnknownPID
	}
	return pid
}
