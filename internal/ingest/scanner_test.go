package ingest

import (
	"context"
	"errors"
	"io"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"testing/iotest"

	"github.com/stretchr/testify/require"

	"github.com/zjrosen/tracelake/internal/testutil"
)

const tinyTrace = "testdata/tiny-trace.txt"

func TestScanFile_TinyTrace(t *testing.T) {
	db := testutil.NewTestDB(t)
	store := db.Store(0)
	ctx := context.Background()

	stats, err := ScanFile(ctx, store, tinyTrace)
	require.NoError(t, err)
	require.Equal(t, int64(10), stats.TotalLines)
	require.Equal(t, int64(10), stats.ParsedLines)
	require.Equal(t, int64(0), stats.FailedLines)

	n, err := store.CountRows(ctx)
	require.NoError(t, err)
	require.Equal(t, int64(10), n)

	rows, err := store.RowsByTimestamp(ctx, 1)
	require.NoError(t, err)
	require.Len(t, rows, 1)
	require.Equal(t, "execve", rows[0].Event.Name)
	require.Equal(t, "22:21:11.524157", rows[0].Event.Timestamp)
	require.Equal(t, "tiny-trace.txt", rows[0].TraceFile)
	require.Equal(t, UnknownPID, rows[0].PID)
}

func TestScanFile_CountsUnparseableLines(t *testing.T) {
	paths := testutil.NewTraceBuilder(t).
		File("trace.4242").WithProcessStartup().WithGarbage(3).WithInterruptedWait(99).Done().
		Build()

	db := testutil.NewTestDB(t)
	store := db.Store(0)
	stats, err := ScanFile(context.Background(), store, paths[0])
	require.NoError(t, err)
	require.Equal(t, ProcessStats{TotalLines: 13, ParsedLines: 10, FailedLines: 3}, stats.Counts())

	procs, err := store.PerProcess(context.Background(), 5)
	require.NoError(t, err)
	require.Len(t, procs, 1)
	require.Equal(t, int32(4242), procs[0].PID)
	require.Equal(t, int64(10), procs[0].Calls)
}

func TestScanFile_EmptyFile(t *testing.T) {
	paths := testutil.NewTraceBuilder(t).File("trace.1").Done().Build()

	db := testutil.NewTestDB(t)
	stats, err := ScanFile(context.Background(), db.Store(0), paths[0])
	require.NoError(t, err)
	require.Equal(t, ProcessStats{}, stats.Counts())
}

func TestScanFile_MissingFile(t *testing.T) {
	db := testutil.NewTestDB(t)
	missing := filepath.Join(t.TempDir(), "nope.1")

	_, err := ScanFile(context.Background(), db.Store(0), missing)
	var fe *FileError
	require.True(t, errors.As(err, &fe))
	require.Equal(t, OpOpen, fe.Op)
	require.Equal(t, missing, fe.Path)
	require.True(t, errors.Is(err, os.ErrNotExist))
}

func TestScanFile_VeryLongLine(t *testing.T) {
	path := filepath.Join(t.TempDir(), "trace.7")
	payload := strings.Repeat("a", 5<<20)
	long := "10:00:00.000000 write(1, \"" + payload + "\", 5242880) = 5242880 <0.000001>\n" +
		"10:00:00.000001 close(1) = 0\r\n" +
		"10:00:00.000002 exit_group(0) = ?"
	require.NoError(t, os.WriteFile(path, []byte(long), 0o600))

	db := testutil.NewTestDB(t)
	store := db.Store(0)
	stats, err := ScanFile(context.Background(), store, path)
	require.NoError(t, err)
	require.Equal(t, ProcessStats{TotalLines: 3, ParsedLines: 3}, stats.Counts())

	rows, err := store.RowsByTimestamp(context.Background(), 3)
	require.NoError(t, err)
	require.Len(t, rows, 3)
	require.Equal(t, "write", rows[0].Event.Name)
	require.Len(t, rows[0].Event.Args, len(payload)+len(`1, "", 5242880`))
	require.Equal(t, "close", rows[1].Event.Name)
	require.Equal(t, "exit_group", rows[2].Event.Name)
}

func TestScanLines_ReadErrorFailsFile(t *testing.T) {
	boom := errors.New("disk gone")
	r := io.MultiReader(strings.NewReader("10:00:00.000001 close(3) = 0\n"), iotest.ErrReader(boom))

	stats, err := CountReader(r)
	var fe *FileError
	require.True(t, errors.As(err, &fe))
	require.Equal(t, OpRead, fe.Op)
	require.ErrorIs(t, err, boom)
	require.Equal(t, int64(1), stats.ParsedLines)
}

func TestScanFile_SinkFailureLeavesNoRows(t *testing.T) {
	db := testutil.NewTestDB(t)
	store := db.Store(0)
	_, err := db.Connection().Exec(`CREATE TRIGGER reject BEFORE INSERT ON syscalls
		WHEN NEW.syscall = 'close' BEGIN SELECT RAISE(ABORT, 'rejected'); END`)
	require.NoError(t, err)

	_, err = ScanFile(context.Background(), store, tinyTrace)
	var fe *FileError
	require.True(t, errors.As(err, &fe))
	require.Equal(t, OpAppend, fe.Op)

	n, err := store.CountRows(context.Background())
	require.NoError(t, err)
	require.Zero(t, n, "the file's batch is all-or-nothing")
}

func TestScanFileWithHandle_ReusesHandle(t *testing.T) {
	paths := testutil.NewTraceBuilder(t).
		File("trace.1").WithProcessStartup().Done().
		File("trace.2").WithInterruptedWait(1).WithGarbage(1).Done().
		Build()

	db := testutil.NewTestDB(t)
	store := db.Store(3)
	ctx := context.Background()

	h, err := store.OpenForWrite(ctx)
	require.NoError(t, err)
	defer h.Close()

	var total ProcessStats
	for _, p := range paths {
		stats, err := ScanFileWithHandle(ctx, h, p)
		require.NoError(t, err)
		require.Zero(t, h.Pending(), "each file is flushed when done")
		total.Add(stats)
	}
	require.Equal(t, ProcessStats{TotalLines: 11, ParsedLines: 10, FailedLines: 1}, total.Counts())

	n, err := store.CountRows(ctx)
	require.NoError(t, err)
	require.Equal(t, int64(10), n)
	require.Equal(t, int64(10), h.Written())
}

func TestScanFileWithHandle_OpenFailureKeepsHandleUsable(t *testing.T) {
	db := testutil.NewTestDB(t)
	store := db.Store(0)
	ctx := context.Background()

	h, err := store.OpenForWrite(ctx)
	require.NoError(t, err)
	defer h.Close()

	_, err = ScanFileWithHandle(ctx, h, filepath.Join(t.TempDir(), "missing"))
	require.Error(t, err)

	stats, err := ScanFileWithHandle(ctx, h, tinyTrace)
	require.NoError(t, err)
	require.Equal(t, int64(10), stats.ParsedLines)
}

func TestScanFileWithHandle_SinkFailureDropsFile(t *testing.T) {
	db := testutil.NewTestDB(t)
	store := db.Store(0)
	ctx := context.Background()
	_, err := db.Connection().Exec(`CREATE TRIGGER reject BEFORE INSERT ON syscalls
		WHEN NEW.trace_file = 'tiny-trace.txt' BEGIN SELECT RAISE(ABORT, 'rejected'); END`)
	require.NoError(t, err)

	h, err := store.OpenForWrite(ctx)
	require.NoError(t, err)
	defer h.Close()

	_, err = ScanFileWithHandle(ctx, h, tinyTrace)
	var fe *FileError
	require.True(t, errors.As(err, &fe))
	require.Equal(t, OpFlush, fe.Op)
	require.Zero(t, h.Pending())

	n, err := store.CountRows(ctx)
	require.NoError(t, err)
	require.Zero(t, n)
}

func TestScanLines_PhaseTimes(t *testing.T) {
	stats, err := CountReader(strings.NewReader(
		"10:00:00.000001 read(3, \"\", 0) = 0 <0.000001>\nnot a trace line\n"))
	require.NoError(t, err)
	require.Equal(t, ProcessStats{TotalLines: 2, ParsedLines: 1, FailedLines: 1}, stats.Counts())
	require.Zero(t, stats.SinkTime, "nothing is emitted when counting")
}

func TestScanFileWithHandle_FullBatchesStayCommitted(t *testing.T) {
	f := testutil.NewTraceBuilder(t).File("trace.31")
	for i := 0; i < 5; i++ {
		f.Call("read", `3, "x", 1`, 1)
	}
	paths := f.Call("close", "3", 0).Call("read", `4, "y", 1`, 1).Done().Build()

	db := testutil.NewTestDB(t)
	store := db.Store(2)
	ctx := context.Background()
	_, err := db.Connection().Exec(`CREATE TRIGGER reject BEFORE INSERT ON syscalls
		WHEN NEW.syscall = 'close' BEGIN SELECT RAISE(ABORT, 'rejected'); END`)
	require.NoError(t, err)

	h, err := store.OpenForWrite(ctx)
	require.NoError(t, err)
	defer h.Close()

	stats, err := ScanFileWithHandle(ctx, h, paths[0])
	var fe *FileError
	require.True(t, errors.As(err, &fe))
	require.Equal(t, OpAppend, fe.Op)
	require.Equal(t, int64(6), stats.ParsedLines)

	// The first two batches of two were flushed before the rejected one.
	n, err := store.CountRows(ctx)
	require.NoError(t, err)
	require.Equal(t, int64(4), n)
	require.Equal(t, int64(4), h.Written())
	require.Less(t, n, stats.ParsedLines)
	require.Zero(t, h.Pending())
}
