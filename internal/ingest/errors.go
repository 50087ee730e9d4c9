package ingest

import (
	"errors"
	"fmt"
)

// ErrNoInputFiles is returned when a driver is given an empty file list.
var ErrNoInputFiles = errors.New("no input files specified")

// File operations that can fail.
const (
	OpOpen   = "open"
	OpRead   = "read"
	OpAppend = "append"
	OpFlush  = "flush"
)

// FileError is a failure confined to one input file.
type FileError struct {
	Worker int // -1 for the sequential driver
	Path   string
	Op     string
	Err    error
}

func (e *FileError) Error() string {
	if e.Worker < 0 {
		return fmt.Sprintf("%s %s: %v", e.Op, e.Path, e.Err)
	}
	return fmt.Sprintf("worker %d: %s %s: %v", e.Worker, e.Op, e.Path, e.Err)
}

func (e *FileError) Unwrap() error {
	return e.Err
}

// asFileError converts err into a FileError, keeping any op already attached.
func asFileError(err error, worker int, path string) FileError {
	var fe *FileError
	if errors.As(err, &fe) {
		out := *fe
		out.Worker = worker
		return out
	}
	return FileError{Worker: worker, Path: path, Op: OpRead, Err: err}
}
