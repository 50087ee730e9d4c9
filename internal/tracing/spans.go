package tracing

import (
	"context"

	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"
	"go.opentelemetry.io/otel/trace/noop"
)

// Span names.
const (
	SpanRun    = "ingest.run"
	SpanWorker = "ingest.worker"
	SpanFile   = "ingest.file"
)

// Span attribute keys.
const (
	AttrRunID       = "run.id"
	AttrRunMode     = "run.mode"
	AttrRunFiles    = "run.files"
	AttrRunWorkers  = "run.workers"
	AttrWorkerID    = "worker.id"
	AttrFilePath    = "file.path"
	AttrLinesTotal  = "lines.total"
	AttrLinesParsed = "lines.parsed"
	AttrLinesFailed = "lines.failed"
	AttrErrorOp     = "error.op"
	AttrRowsWritten = "sink.rows_written"
)

// Event names.
const (
	EventHandleOpened  = "sink.handle_opened"
	EventHandleFlushed = "sink.handle_flushed"
)

// OrNoop returns t, or a no-op tracer when t is nil.
func OrNoop(t trace.Tracer) trace.Tracer {
	if t == nil {
		return noop.NewTracerProvider().Tracer("noop")
	}
	return t
}

// StartFile starts the span covering one claimed file.
func StartFile(ctx context.Context, t trace.Tracer, worker int, path string) (context.Context, trace.Span) {
	return t.Start(ctx, SpanFile,
		trace.WithSpanKind(trace.SpanKindInternal),
		trace.WithAttributes(
			attribute.Int(AttrWorkerID, worker),
			attribute.String(AttrFilePath, path),
		),
	)
}

// RecordLines attaches line counters to span.
func RecordLines(span trace.Span, total, parsed, failed int64) {
	span.SetAttributes(
		attribute.Int64(AttrLinesTotal, total),
		attribute.Int64(AttrLinesParsed, parsed),
		attribute.Int64(AttrLinesFailed, failed),
	)
}

// EndWithError records err (if any) on span and ends it.
func EndWithError(span trace.Span, op string, err error) {
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
		if op != "" {
			span.SetAttributes(attribute.String(AttrErrorOp, op))
		}
	} else {
		span.SetStatus(codes.Ok, "")
	}
	span.End()
}

// ScopeName is the instrumentation scope used for spans started by the
// ingestion packages.
const ScopeName = "github.com/zjrosen/tracelake/internal/ingest"

// FromContext returns a tracer from the provider of the span in ctx, or a
// no-op tracer when ctx carries no recording span.
func FromContext(ctx context.Context) trace.Tracer {
	return trace.SpanFromContext(ctx).TracerProvider().Tracer(ScopeName)
}
