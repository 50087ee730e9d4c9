package ingest

import (
	"context"
	"errors"
	"fmt"
	"io"
	"time"

	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/trace"

	"github.com/zjrosen/tracelake/internal/infrastructure/sqlite"
	"github.com/zjrosen/tracelake/internal/log"
	"github.com/zjrosen/tracelake/internal/tracing"
)

// RunSequential scans files one at a time in the order given, writing each
// file as a single batch. Per-file progress is written to report. The first
// file error stops the run; the Result still carries the files finished so far.
func RunSequential(ctx context.Context, store *sqlite.Store, files []string, report io.Writer) (Result, error) {
	result := Result{Mode: ModeSequential, Workers: 1}
	if len(files) == 0 {
		return result, ErrNoInputFiles
	}
	if report == nil {
		report = io.Discard
	}

	tracer := tracing.FromContext(ctx)
	ctx, span := tracer.Start(ctx, tracing.SpanWorker,
		trace.WithAttributes(attribute.Int(tracing.AttrWorkerID, 0)))

	start := time.Now()
	var runErr error
	for _, path := range files {
		fmt.Fprintf(report, "Processing: %s\n", path)

		fileCtx, fileSpan := tracing.StartFile(ctx, tracer, 0, path)
		stats, err := ScanFile(fileCtx, store, path)
		if err != nil {
			fe := asFileError(err, -1, path)
			tracing.EndWithError(fileSpan, fe.Op, err)
			log.ErrorErr(log.CatPipeline, "file failed", err, "file", path, "op", fe.Op)

			result.FilesFailed++
			result.Failures = append(result.Failures, fe)
			runErr = &fe
			break
		}
		tracing.RecordLines(fileSpan, stats.TotalLines, stats.ParsedLines, stats.FailedLines)
		tracing.EndWithError(fileSpan, "", nil)

		result.Stats.Add(stats)
		result.FilesOK++
		fmt.Fprintf(report, "  Lines: %d total, %d parsed, %d failed\n",
			stats.TotalLines, stats.ParsedLines, stats.FailedLines)
	}
	result.Elapsed = time.Since(start)

	var fe *FileError
	if errors.As(runErr, &fe) {
		tracing.EndWithError(span, fe.Op, runErr)
	} else {
		tracing.EndWithError(span, "", nil)
	}
	return result, runErr
}
