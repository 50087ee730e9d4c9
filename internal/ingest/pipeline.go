package ingest

import (
	"context"
	"errors"
	"fmt"
	"runtime"
	"runtime/debug"
	"time"

	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/trace"
	"golang.org/x/sync/errgroup"

	"github.com/zjrosen/tracelake/internal/infrastructure/sqlite"
	"github.com/zjrosen/tracelake/internal/log"
	"github.com/zjrosen/tracelake/internal/pubsub"
	"github.com/zjrosen/tracelake/internal/queue"
	"github.com/zjrosen/tracelake/internal/tracing"
)

// Progress is published after every file a worker finishes.
type Progress struct {
	FilesDone   int
	FilesTotal  int
	LinesTotal  int64
	LinesPerSec float64
	LastFile    string
	Worker      int
	Failed      bool
}

// Options configures a Pipeline.
type Options struct {
	// Workers is the pool size. Zero or less uses runtime.NumCPU().
	Workers int

	// Tracer starts worker and file spans. Nil derives one from the span in
	// the context passed to Run.
	Tracer trace.Tracer

	// Progress receives a FileCompletedEvent or FileFailedEvent per file and a
	// RunFinishedEvent at the end. Nil disables progress events.
	Progress pubsub.Publisher[Progress]
}

type scanFunc func(ctx context.Context, h *sqlite.Handle, path string) (ProcessStats, error)

// Pipeline fans files out to a fixed pool of workers. Each worker owns one
// sink handle for its whole life and claims files until the queue drains.
type Pipeline struct {
	opts Options
	scan scanFunc
}

// NewPipeline creates a pipeline with the given options.
func NewPipeline(opts Options) *Pipeline {
	return &Pipeline{opts: opts, scan: ScanFileWithHandle}
}

// Workers returns the effective pool size.
func (p *Pipeline) Workers() int {
	if p.opts.Workers > 0 {
		return p.opts.Workers
	}
	return runtime.NumCPU()
}

// Run ingests files into store and returns the merged totals. It fails only
// when a worker handle cannot be opened, in which case no file is claimed.
// Per-file failures are logged and returned in Result.Failures. ctx is used
// for tracing and handle setup; a run is never cancelled part way.
func (p *Pipeline) Run(ctx context.Context, store *sqlite.Store, files []string) (Result, error) {
	workers := p.Workers()
	result := Result{Mode: ModeParallel, Workers: workers}
	if len(files) == 0 {
		return result, ErrNoInputFiles
	}

	tracer := p.opts.Tracer
	if tracer == nil {
		tracer = tracing.FromContext(ctx)
	}

	handles := make([]*sqlite.Handle, 0, workers)
	for i := 0; i < workers; i++ {
		h, err := store.OpenForWrite(ctx)
		if err != nil {
			for _, opened := range handles {
				_ = opened.Close()
			}
			return result, fmt.Errorf("open handle for worker %d: %w", i, err)
		}
		handles = append(handles, h)
	}
	log.Info(log.CatPipeline, "pipeline started",
		"workers", workers, "files", len(files), "batch_size", store.BatchSize())

	q := queue.New()
	for _, path := range files {
		if err := q.Push(path); err != nil {
			for _, h := range handles {
				_ = h.Close()
			}
			return result, fmt.Errorf("queue %s: %w", path, err)
		}
	}
	q.Seal()
	log.Debug(log.CatPipeline, "work queue sealed", "files", q.Len())

	start := time.Now()
	agg := NewAggregator(start)
	// Workers run to completion even after a sibling fails, so the group
	// carries no cancellation context.
	var g errgroup.Group
	workerErrs := make([]error, workers)

	for i, h := range handles {
		w := &worker{
			id:     i,
			handle: h,
			queue:  q,
			agg:    agg,
			total:  len(files),
			tracer: tracer,
			scan:   p.scan,
			pub:    p.opts.Progress,
		}
		g.Go(func() error {
			workerErrs[i] = w.run(context.WithoutCancel(ctx))
			return workerErrs[i]
		})
	}

	if err := g.Wait(); err != nil {
		log.Warn(log.CatPipeline, "pipeline finished with worker failures", "first", err)
	}

	result.Elapsed = time.Since(start)
	result.Stats = agg.Snapshot()
	result.FilesOK = int(agg.FilesDone())
	result.FilesFailed = int(agg.FilesFailed())
	result.Failures = agg.Failures()
	for _, err := range workerErrs {
		if err != nil {
			result.WorkerErrors = append(result.WorkerErrors, err)
		}
	}

	if p.opts.Progress != nil {
		p.opts.Progress.Publish(pubsub.RunFinishedEvent, Progress{
			FilesDone:   result.FilesOK + result.FilesFailed,
			FilesTotal:  len(files),
			LinesTotal:  result.Stats.TotalLines,
			LinesPerSec: agg.LinesPerSec(time.Now()),
			Worker:      -1,
		})
	}

	log.Info(log.CatPipeline, "pipeline finished",
		"files_ok", result.FilesOK, "files_failed", result.FilesFailed,
		"lines", result.Stats.TotalLines, "elapsed", result.Elapsed)
	return result, nil
}

type worker struct {
	id     int
	handle *sqlite.Handle
	queue  *queue.WorkQueue
	agg    *Aggregator
	total  int
	tracer trace.Tracer
	scan   scanFunc
	pub    pubsub.Publisher[Progress]
}

// run claims files until the queue is drained, then flushes and closes the
// handle. The handle is closed on every exit path, panics included.
func (w *worker) run(ctx context.Context) (err error) {
	ctx, span := w.tracer.Start(ctx, tracing.SpanWorker,
		trace.WithAttributes(attribute.Int(tracing.AttrWorkerID, w.id)))

	defer func() {
		if r := recover(); r != nil {
			log.Error(log.CatPipeline, "worker panic recovered",
				"worker", w.id,
				"panic", r,
				"stack", string(debug.Stack()))
			// the unflushed batch of the crashed worker is lost
			w.handle.Discard()
			err = fmt.Errorf("worker %d panicked: %v", w.id, r)
		}

		closeErr := w.handle.Close()
		if closeErr != nil {
			log.ErrorErr(log.CatPipeline, "final flush failed", closeErr, "worker", w.id)
			err = errors.Join(err, fmt.Errorf("worker %d final flush: %w", w.id, closeErr))
		}
		written := w.handle.Written()
		span.SetAttributes(attribute.Int64(tracing.AttrRowsWritten, written))
		log.Debug(log.CatPipeline, "worker finished", "worker", w.id, "rows", written)
		op := ""
		if closeErr != nil {
			op = OpFlush
		}
		tracing.EndWithError(span, op, err)
	}()

	span.AddEvent(tracing.EventHandleOpened)
	for {
		path, ok := w.queue.Claim()
		if !ok {
			return nil
		}
		w.process(ctx, path)
	}
}

func (w *worker) process(ctx context.Context, path string) {
	ctx, span := tracing.StartFile(ctx, w.tracer, w.id, path)

	stats, err := w.scan(ctx, w.handle, path)
	if err != nil {
		fe := asFileError(err, w.id, path)
		tracing.EndWithError(span, fe.Op, err)
		log.ErrorErr(log.CatPipeline, "file failed", fe.Err, "worker", w.id, "file", path, "op", fe.Op)

		done := w.agg.Fail(fe)
		w.publish(pubsub.FileFailedEvent, Progress{
			FilesDone:   int(done),
			FilesTotal:  w.total,
			LinesTotal:  w.agg.Snapshot().TotalLines,
			LinesPerSec: w.agg.LinesPerSec(time.Now()),
			LastFile:    path,
			Worker:      w.id,
			Failed:      true,
		})
		return
	}

	tracing.RecordLines(span, stats.TotalLines, stats.ParsedLines, stats.FailedLines)
	span.AddEvent(tracing.EventHandleFlushed)
	tracing.EndWithError(span, "", nil)

	lines, _ := w.agg.Add(stats)
	w.publish(pubsub.FileCompletedEvent, Progress{
		FilesDone:   int(w.agg.FilesDone() + w.agg.FilesFailed()),
		FilesTotal:  w.total,
		LinesTotal:  lines,
		LinesPerSec: w.agg.LinesPerSec(time.Now()),
		LastFile:    path,
		Worker:      w.id,
	})
}

func (w *worker) publish(t pubsub.EventType, p Progress) {
	if w.pub != nil {
		w.pub.Publish(t, p)
	}
}
