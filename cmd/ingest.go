package cmd

import (
	"context"
	"errors"
	"fmt"
	"io"
	"os"

	tea "github.com/charmbracelet/bubbletea"
	"github.com/spf13/cobra"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/trace"

	"github.com/zjrosen/tracelake/internal/config"
	"github.com/zjrosen/tracelake/internal/infrastructure/sqlite"
	"github.com/zjrosen/tracelake/internal/ingest"
	"github.com/zjrosen/tracelake/internal/log"
	"github.com/zjrosen/tracelake/internal/paths"
	"github.com/zjrosen/tracelake/internal/presentation"
	"github.com/zjrosen/tracelake/internal/progress"
	"github.com/zjrosen/tracelake/internal/pubsub"
	"github.com/zjrosen/tracelake/internal/tracing"
)

func runRoot(cmd *cobra.Command, args []string) error {
	if noProgress, _ := cmd.Flags().GetBool("no-progress"); noProgress {
		cfg.Progress = false
	}

	interactive := cfg.Progress && !cfg.Sequential && isTerminal(os.Stdout)

	cleanup, err := setupLogging(cfg)
	if err != nil {
		return err
	}
	if interactive && cfg.Log.File == "" && !debugEnabled() {
		// stderr lines would tear the progress bar; it shows the latest
		// problem itself and the summary lists every failed file
		cleanup()
		cleanup = log.InitWriter(io.Discard, log.LevelWarn)
	}
	defer cleanup()

	return runIngest(cmd.Context(), cfg, args, cmd.OutOrStdout(), interactive)
}

// runIngest expands args, recreates the output database and loads every file
// into it, then prints the summary to out.
func runIngest(ctx context.Context, c config.Config, args []string, out io.Writer, interactive bool) error {
	if ctx == nil {
		ctx = context.Background()
	}

	files, err := paths.Expand(args)
	if err != nil {
		return err
	}
	if len(files) == 0 {
		return ingest.ErrNoInputFiles
	}

	if err := sqlite.RemoveFiles(c.Output); err != nil {
		return fmt.Errorf("failed to delete existing database: %w", err)
	}
	db, err := sqlite.NewDB(c.Output)
	if err != nil {
		return fmt.Errorf("failed to initialize database: %w", err)
	}
	defer func() { _ = db.Close() }()
	store := db.Store(c.BatchSize)

	provider, err := tracing.NewProvider(c.Tracing)
	if err != nil {
		return fmt.Errorf("failed to initialize tracing: %w", err)
	}
	defer func() {
		if err := provider.Shutdown(context.Background()); err != nil {
			log.Warn(log.CatTracing, "tracer shutdown failed", "error", err)
		}
	}()

	mode := ingest.ModeParallel
	opts := ingest.Options{Workers: c.Workers, Tracer: provider.Tracer()}
	workers := ingest.NewPipeline(opts).Workers()
	if c.Sequential {
		mode = ingest.ModeSequential
		workers = 1
	}

	ctx, span := provider.Tracer().Start(ctx, tracing.SpanRun, trace.WithAttributes(
		attribute.String(tracing.AttrRunMode, string(mode)),
		attribute.Int(tracing.AttrRunFiles, len(files)),
		attribute.Int(tracing.AttrRunWorkers, workers),
	))

	runs := db.RunRepository()
	run, err := runs.Start(ctx, string(mode), workers, len(files))
	if err != nil {
		log.Warn(log.CatCLI, "could not record run", "error", err)
	} else {
		span.SetAttributes(attribute.String(tracing.AttrRunID, run.ID))
	}

	_, _ = fmt.Fprintf(out, "Processing %d file(s)...\n", len(files))

	var res ingest.Result
	if c.Sequential {
		res, err = ingest.RunSequential(ctx, store, files, out)
	} else {
		_, _ = fmt.Fprintf(out, "Using %d threads\n", workers)
		res, err = runParallel(ctx, opts, store, files, out, interactive)
	}

	if run != nil {
		if ferr := runs.Finish(ctx, run, runSummary(res)); ferr != nil {
			log.Warn(log.CatCLI, "could not finish run record", "run", run.ID, "error", ferr)
		}
	}
	op := ""
	var fe *ingest.FileError
	if errors.As(err, &fe) {
		op = fe.Op
	}
	tracing.EndWithError(span, op, err)
	if err != nil {
		return err
	}

	rows, err := store.CountRows(ctx)
	if err != nil {
		return err
	}
	return presentation.NewFormatter(out).FormatSummary(presentation.SummaryFromResult(res, c.Output, rows))
}

// runParallel runs the pipeline, rendering the progress bar while it works
// when interactive is set.
func runParallel(ctx context.Context, opts ingest.Options, store *sqlite.Store, files []string, out io.Writer, interactive bool) (ingest.Result, error) {
	if !interactive {
		return ingest.NewPipeline(opts).Run(ctx, store, files)
	}

	broker := pubsub.NewBroker[ingest.Progress]()
	defer broker.Close()

	uiCtx, cancel := context.WithCancel(ctx)
	defer cancel()

	model := progress.New(uiCtx, "Ingesting", len(files), broker).WithLogs(log.NewListener(uiCtx))
	program := tea.NewProgram(model, tea.WithOutput(out), tea.WithContext(uiCtx))
	uiDone := make(chan struct{})
	go func() {
		defer close(uiDone)
		if _, err := program.Run(); err != nil {
			log.Debug(log.CatCLI, "progress display stopped", "error", err)
		}
	}()

	opts.Progress = broker
	res, err := ingest.NewPipeline(opts).Run(ctx, store, files)

	program.Send(progress.FinishedMsg{Progress: ingest.Progress{
		FilesDone:  res.FilesOK + res.FilesFailed,
		FilesTotal: len(files),
		LinesTotal: res.Stats.TotalLines,
	}})
	<-uiDone
	if n := broker.Dropped(); n > 0 {
		log.Debug(log.CatCLI, "progress events dropped", "count", n)
	}
	return res, err
}

func runSummary(res ingest.Result) sqlite.RunSummary {
	return sqlite.RunSummary{
		FilesFailed: res.FilesFailed,
		TotalLines:  res.Stats.TotalLines,
		ParsedLines: res.Stats.ParsedLines,
		FailedLines: res.Stats.FailedLines,
		ReadTime:    res.Stats.ReadTime,
		ParseTime:   res.Stats.ParseTime,
		SinkTime:    res.Stats.SinkTime,
	}
}
