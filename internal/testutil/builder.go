package testutil

import (
	"fmt"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
)

// TraceBuilder accumulates strace files and writes them into a temp directory.
type TraceBuilder struct {
	t     testing.TB
	dir   string
	files []*FileBuilder
}

// NewTraceBuilder creates a builder writing into t.TempDir().
func NewTraceBuilder(t testing.TB) *TraceBuilder {
	t.Helper()
	return &TraceBuilder{t: t, dir: t.TempDir()}
}

// Dir returns the directory files are written to.
func (b *TraceBuilder) Dir() string {
	return b.dir
}

// File starts a new trace file. Names like "trace.1234" carry a PID suffix.
func (b *TraceBuilder) File(name string) *FileBuilder {
	f := &FileBuilder{
		b:     b,
		name:  name,
		clock: time.Date(2026, 1, 2, 10, 0, 0, 0, time.UTC),
	}
	b.files = append(b.files, f)
	return f
}

// Build writes every file and returns their paths in creation order.
func (b *TraceBuilder) Build() []string {
	b.t.Helper()
	paths := make([]string, 0, len(b.files))
	for _, f := range b.files {
		path := filepath.Join(b.dir, f.name)
		content := strings.Join(f.lines, "\n")
		if len(f.lines) > 0 {
			content += "\n"
		}
		require.NoError(b.t, os.WriteFile(path, []byte(content), 0o600))
		paths = append(paths, path)
	}
	return paths
}

// FileBuilder appends lines to one trace file. Each line gets a timestamp one
// microsecond after the previous one.
type FileBuilder struct {
	b     *TraceBuilder
	name  string
	lines []string
	clock time.Time
}

func (f *FileBuilder) stamp() string {
	ts := f.clock.Format("15:04:05.000000")
	f.clock = f.clock.Add(time.Microsecond)
	return ts
}

// Call appends a completed call returning ret.
func (f *FileBuilder) Call(name, args string, ret int64, opts ...CallOption) *FileBuilder {
	c := callData{ret: strconv.FormatInt(ret, 10), duration: "0.000010"}
	for _, opt := range opts {
		opt(&c)
	}
	f.lines = append(f.lines, fmt.Sprintf("%s %s(%s) = %s", f.stamp(), name, args, c.outcome()))
	return f
}

// Unfinished appends an interrupted call.
func (f *FileBuilder) Unfinished(name, args string) *FileBuilder {
	f.lines = append(f.lines, fmt.Sprintf("%s %s(%s <unfinished ...>", f.stamp(), name, args))
	return f
}

// Resumed appends the completion of an interrupted call.
func (f *FileBuilder) Resumed(name, args string, ret int64, opts ...CallOption) *FileBuilder {
	c := callData{ret: strconv.FormatInt(ret, 10), duration: "0.000010"}
	for _, opt := range opts {
		opt(&c)
	}
	f.lines = append(f.lines, fmt.Sprintf("%s <... %s resumed>%s) = %s", f.stamp(), name, args, c.outcome()))
	return f
}

// Raw appends line verbatim.
func (f *FileBuilder) Raw(line string) *FileBuilder {
	f.lines = append(f.lines, line)
	return f
}

// Lines returns the lines added so far.
func (f *FileBuilder) Lines() []string {
	return append([]string(nil), f.lines...)
}

// Done returns to the parent builder.
func (f *FileBuilder) Done() *TraceBuilder {
	return f.b
}
