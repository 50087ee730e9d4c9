package ingest

import (
	"context"
	"fmt"
	"path/filepath"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
	"go.opentelemetry.io/otel/sdk/trace"
	"go.opentelemetry.io/otel/sdk/trace/tracetest"
	"pgregory.net/rapid"

	"github.com/zjrosen/tracelake/internal/infrastructure/sqlite"
	"github.com/zjrosen/tracelake/internal/pubsub"
	"github.com/zjrosen/tracelake/internal/testutil"
	"github.com/zjrosen/tracelake/internal/tracing"
)

// buildCorpus writes n trace files of varying size and shape.
func buildCorpus(t *testing.T, n int) []string {
	t.Helper()
	b := testutil.NewTraceBuilder(t)
	for i := 0; i < n; i++ {
		f := b.File(fmt.Sprintf("trace.%d", 1000+i)).WithProcessStartup()
		for j := 0; j < i%4; j++ {
			f.WithInterruptedWait(int64(2000 + j))
		}
		f.WithGarbage(i % 3)
	}
	return b.Build()
}

// recordingPublisher keeps every published progress event.
type recordingPublisher struct {
	mu     sync.Mutex
	events []pubsub.Event[Progress]
}

func (r *recordingPublisher) Publish(t pubsub.EventType, p Progress) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.events = append(r.events, pubsub.Event[Progress]{Type: t, Payload: p})
}

func (r *recordingPublisher) byType(t pubsub.EventType) []Progress {
	r.mu.Lock()
	defer r.mu.Unlock()
	var out []Progress
	for _, e := range r.events {
		if e.Type == t {
			out = append(out, e.Payload)
		}
	}
	return out
}

func TestPipeline_TinyTrace(t *testing.T) {
	db := testutil.NewTestDB(t)
	store := db.Store(0)

	result, err := NewPipeline(Options{Workers: 4}).Run(context.Background(), store, []string{tinyTrace})
	require.NoError(t, err)
	require.Equal(t, ProcessStats{TotalLines: 10, ParsedLines: 10}, result.Stats.Counts())
	require.Equal(t, 1, result.FilesOK)
	require.Equal(t, 4, result.Workers)

	rows, err := store.RowsByTimestamp(context.Background(), 1)
	require.NoError(t, err)
	require.Equal(t, "execve", rows[0].Event.Name)
}

func TestPipeline_MatchesSequential(t *testing.T) {
	paths := buildCorpus(t, 23)

	seqDB := testutil.NewTestDB(t)
	seqStore := seqDB.Store(0)
	seq, err := RunSequential(context.Background(), seqStore, paths, nil)
	require.NoError(t, err)

	parDB := testutil.NewTestDB(t)
	parStore := parDB.Store(5)
	par, err := NewPipeline(Options{Workers: 6}).Run(context.Background(), parStore, paths)
	require.NoError(t, err)

	require.Equal(t, seq.Stats.Counts(), par.Stats.Counts())
	require.Equal(t, seq.FilesOK, par.FilesOK)

	seqRows, err := seqStore.CountRows(context.Background())
	require.NoError(t, err)
	parRows, err := parStore.CountRows(context.Background())
	require.NoError(t, err)
	require.Equal(t, seqRows, parRows)
	require.Equal(t, seq.Stats.ParsedLines, parRows)
}

func TestPipeline_FileFailuresAreIsolated(t *testing.T) {
	paths := buildCorpus(t, 6)
	missing := filepath.Join(t.TempDir(), "trace.404")
	poisoned := paths[2]
	files := append([]string{missing}, paths...)

	db := testutil.NewTestDB(t)
	_, err := db.Connection().Exec(fmt.Sprintf(`CREATE TRIGGER reject BEFORE INSERT ON syscalls
		WHEN NEW.trace_file = '%s' BEGIN SELECT RAISE(ABORT, 'rejected'); END`, filepath.Base(poisoned)))
	require.NoError(t, err)
	store := db.Store(0)

	pub := &recordingPublisher{}
	result, err := NewPipeline(Options{Workers: 3, Progress: pub}).Run(context.Background(), store, files)
	require.NoError(t, err, "per-file failures do not fail the run")

	require.Equal(t, 5, result.FilesOK)
	require.Equal(t, 2, result.FilesFailed)
	require.Empty(t, result.WorkerErrors)

	ops := map[string]string{}
	for _, fe := range result.Failures {
		require.GreaterOrEqual(t, fe.Worker, 0)
		ops[fe.Path] = fe.Op
	}
	require.Equal(t, map[string]string{missing: OpOpen, poisoned: OpFlush}, ops)

	var wantRows int64
	for i, p := range paths {
		if p == poisoned {
			continue
		}
		stats, err := ScanFile(context.Background(), testutil.NewTestStore(t, 0), p)
		require.NoError(t, err, "file %d", i)
		wantRows += stats.ParsedLines
	}
	n, err := store.CountRows(context.Background())
	require.NoError(t, err)
	require.Equal(t, wantRows, n)

	require.Len(t, pub.byType(pubsub.FileFailedEvent), 2)
	require.Len(t, pub.byType(pubsub.FileCompletedEvent), 5)
	finished := pub.byType(pubsub.RunFinishedEvent)
	require.Len(t, finished, 1)
	require.Equal(t, 7, finished[0].FilesDone)
	require.Equal(t, 7, finished[0].FilesTotal)
}

func TestPipeline_WorkerPanicIsRecovered(t *testing.T) {
	paths := buildCorpus(t, 8)
	db := testutil.NewTestDB(t)
	store := db.Store(0)

	p := NewPipeline(Options{Workers: 2})
	p.scan = func(ctx context.Context, h *sqlite.Handle, path string) (ProcessStats, error) {
		if path == paths[3] {
			panic("scanner exploded")
		}
		return ScanFileWithHandle(ctx, h, path)
	}

	result, err := p.Run(context.Background(), store, paths)
	require.NoError(t, err)
	require.Len(t, result.WorkerErrors, 1)
	require.Contains(t, result.WorkerErrors[0].Error(), "scanner exploded")

	// the surviving worker drains the rest of the queue
	require.Equal(t, 7, result.FilesOK)
}

func TestPipeline_SetupFailureClaimsNothing(t *testing.T) {
	db, err := sqlite.NewDB(filepath.Join(t.TempDir(), "trace.db"))
	require.NoError(t, err)
	store := db.Store(0)
	require.NoError(t, db.Close())

	pub := &recordingPublisher{}
	_, err = NewPipeline(Options{Workers: 2, Progress: pub}).Run(context.Background(), store, []string{tinyTrace})
	require.ErrorIs(t, err, sqlite.ErrStoreClosed)
	require.Empty(t, pub.events)
}

func TestPipeline_NoFiles(t *testing.T) {
	db := testutil.NewTestDB(t)
	_, err := NewPipeline(Options{}).Run(context.Background(), db.Store(0), nil)
	require.ErrorIs(t, err, ErrNoInputFiles)
}

func TestPipeline_DefaultWorkers(t *testing.T) {
	require.Greater(t, NewPipeline(Options{}).Workers(), 0)
	require.Equal(t, 3, NewPipeline(Options{Workers: 3}).Workers())
}

func TestPipeline_EmitsSpans(t *testing.T) {
	rec := tracetest.NewSpanRecorder()
	tp := trace.NewTracerProvider(trace.WithSpanProcessor(rec))

	paths := buildCorpus(t, 3)
	db := testutil.NewTestDB(t)

	result, err := NewPipeline(Options{Workers: 2, Tracer: tp.Tracer("test")}).
		Run(context.Background(), db.Store(0), paths)
	require.NoError(t, err)

	counts := map[string]int{}
	var written int64
	for _, s := range rec.Ended() {
		counts[s.Name()]++
		if s.Name() != tracing.SpanWorker {
			continue
		}
		for _, kv := range s.Attributes() {
			if string(kv.Key) == tracing.AttrRowsWritten {
				written += kv.Value.AsInt64()
			}
		}
	}
	require.Equal(t, 2, counts[tracing.SpanWorker])
	require.Equal(t, 3, counts[tracing.SpanFile])
	require.Equal(t, result.Stats.ParsedLines, written, "worker spans account for every stored row")
}

func TestPipeline_ProgressIsMonotonic(t *testing.T) {
	paths := buildCorpus(t, 12)
	db := testutil.NewTestDB(t)
	broker := pubsub.NewBroker[Progress]()
	defer broker.Close()

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	events := broker.Subscribe(ctx)

	result, err := NewPipeline(Options{Workers: 4, Progress: broker}).Run(ctx, db.Store(0), paths)
	require.NoError(t, err)

	deadline := time.After(2 * time.Second)
	for {
		select {
		case ev := <-events:
			if ev.Type == pubsub.RunFinishedEvent {
				require.Equal(t, 12, ev.Payload.FilesDone)
				require.Equal(t, result.Stats.TotalLines, ev.Payload.LinesTotal)
				return
			}
			require.LessOrEqual(t, ev.Payload.FilesDone, 12)
			require.NotEmpty(t, ev.Payload.LastFile)
		case <-deadline:
			t.Fatal("run finished event not received")
		}
	}
}

func joinLines(lines []string) string {
	var b strings.Builder
	for _, l := range lines {
		b.WriteString(l)
		b.WriteByte('\n')
	}
	return b.String()
}

// Splitting one file's lines across two files and summing their stats gives
// the stats of the whole file.
func TestScan_IdempotentCountingUnderSplit(t *testing.T) {
	f := testutil.NewTraceBuilder(t).File("trace.1").
		WithProcessStartup().WithGarbage(4).WithInterruptedWait(3).WithProcessStartup()
	lines := f.Lines()

	rapid.Check(t, func(rt *rapid.T) {
		extra := rapid.SliceOfN(rapid.SampledFrom([]string{
			"garbage",
			"10:00:00.000001 read(3, \"\", 0) = 0 <0.000001>",
			"10:00:00.000002 wait4(-1, <unfinished ...>",
			"",
		}), 0, 10).Draw(rt, "extra")
		all := append(append([]string(nil), lines...), extra...)
		cut := rapid.IntRange(0, len(all)).Draw(rt, "cut")

		whole, err := CountReader(strings.NewReader(joinLines(all)))
		require.NoError(rt, err)

		left, err := CountReader(strings.NewReader(joinLines(all[:cut])))
		require.NoError(rt, err)
		right, err := CountReader(strings.NewReader(joinLines(all[cut:])))
		require.NoError(rt, err)

		left.Add(right)
		require.Equal(rt, whole.Counts(), left.Counts())
	})
}
