package cmd

import (
	"context"
	"fmt"
	"io"
	"os"
	"os/signal"
	"path/filepath"
	"syscall"

	"github.com/spf13/cobra"

	"github.com/zjrosen/tracelake/internal/cachemanager"
	"github.com/zjrosen/tracelake/internal/config"
	"github.com/zjrosen/tracelake/internal/infrastructure/sqlite"
	"github.com/zjrosen/tracelake/internal/ingest"
	"github.com/zjrosen/tracelake/internal/log"
	"github.com/zjrosen/tracelake/internal/metrics"
	"github.com/zjrosen/tracelake/internal/paths"
	"github.com/zjrosen/tracelake/internal/tracing"
	"github.com/zjrosen/tracelake/internal/watcher"
)

var watchCmd = &cobra.Command{
	Use:   "watch DIR",
	Short: "Ingest trace files as they appear in a directory",
	Long: `Recreate the output database, ingest every trace file already in DIR and
then keep ingesting files as they are written. A file is picked up once it
has been quiet for the debounce period. A file that changes after it was
ingested is loaded again, replacing its earlier rows.

Stop with Ctrl+C.`,
	Args: cobra.ExactArgs(1),
	RunE: runWatch,
}

func init() {
	watchCmd.Flags().IntP("workers", "w", 0, "worker pool size (default: number of CPUs)")
	watchCmd.Flags().String("pattern", "", "only ingest files whose name matches this glob")
	watchCmd.Flags().Duration("debounce", 0, "quiet period before a batch is ingested")
	rootCmd.AddCommand(watchCmd)
}

func runWatch(cmd *cobra.Command, args []string) error {
	c := cfg
	if n, _ := cmd.Flags().GetInt("workers"); n > 0 {
		c.Workers = n
	}
	if p, _ := cmd.Flags().GetString("pattern"); p != "" {
		c.Watch.Pattern = p
	}
	if d, _ := cmd.Flags().GetDuration("debounce"); d > 0 {
		c.Watch.Debounce = d
	}
	if err := config.ValidateWatch(c.Watch); err != nil {
		return err
	}

	cleanup, err := setupLogging(c)
	if err != nil {
		return err
	}
	defer cleanup()

	ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	return watchDir(ctx, c, args[0], cmd.OutOrStdout())
}

// watchDir runs until ctx is cancelled or the watcher stops.
func watchDir(ctx context.Context, c config.Config, dir string, out io.Writer) error {
	info, err := os.Stat(dir)
	if err != nil {
		return err
	}
	if !info.IsDir() {
		return fmt.Errorf("%s is not a directory", dir)
	}

	if err := sqlite.RemoveFiles(c.Output); err != nil {
		return fmt.Errorf("failed to delete existing database: %w", err)
	}
	db, err := sqlite.NewDB(c.Output)
	if err != nil {
		return fmt.Errorf("failed to initialize database: %w", err)
	}
	defer func() { _ = db.Close() }()

	provider, err := tracing.NewProvider(c.Tracing)
	if err != nil {
		return fmt.Errorf("failed to initialize tracing: %w", err)
	}
	defer func() { _ = provider.Shutdown(context.Background()) }()

	w, err := watcher.New(watcher.Config{
		Dir:         dir,
		Pattern:     c.Watch.Pattern,
		Ignore:      []string{c.Output, c.Output + "-wal", c.Output + "-shm", c.Output + "-journal"},
		DebounceDur: c.Watch.Debounce,
	})
	if err != nil {
		return err
	}
	batches, err := w.Start()
	if err != nil {
		return err
	}
	defer func() { _ = w.Stop() }()

	ing := &batchIngester{
		store:    db.Store(c.BatchSize),
		runs:     db.RunRepository(),
		seen:     cachemanager.NewSeenSet(c.Watch.SeenTTL),
		ingested: make(map[string]bool),
		opts:     ingest.Options{Workers: c.Workers, Tracer: provider.Tracer()},
		out:      out,
	}

	_, _ = fmt.Fprintf(out, "Watching %s (pattern %q) into %s\n", dir, c.Watch.Pattern, c.Output)

	initial, err := paths.MatchDir(dir, c.Watch.Pattern)
	if err != nil {
		return err
	}
	ing.ingest(ctx, ing.withoutOutput(initial, c.Output))

	for {
		select {
		case <-ctx.Done():
			_, _ = fmt.Fprintln(out, "Stopping.")
			return nil
		case batch, ok := <-batches:
			if !ok {
				return nil
			}
			ing.ingest(ctx, batch)
		}
	}
}

// batchIngester loads watcher batches into one store, skipping file versions
// it has already loaded.
type batchIngester struct {
	store    *sqlite.Store
	runs     *sqlite.RunRepository
	seen     *cachemanager.SeenSet
	ingested map[string]bool // trace_file names with rows in the store
	opts     ingest.Options
	out      io.Writer
}

func (b *batchIngester) withoutOutput(files []string, output string) []string {
	outAbs, _ := filepath.Abs(output)
	kept := files[:0:0]
	for _, f := range files {
		abs, _ := filepath.Abs(f)
		if abs == outAbs || abs == outAbs+"-wal" || abs == outAbs+"-shm" || abs == outAbs+"-journal" {
			continue
		}
		kept = append(kept, f)
	}
	return kept
}

func (b *batchIngester) ingest(ctx context.Context, batch []string) {
	versions := b.seen.Unseen(ctx, batch)
	if len(versions) == 0 {
		return
	}

	files := make([]string, 0, len(versions))
	attempted := versions[:0:0]
	for _, v := range versions {
		name := filepath.Base(v.Path)
		if b.ingested[name] {
			n, err := b.store.DeleteTraceFile(ctx, name)
			if err != nil {
				log.ErrorErr(log.CatCLI, "could not replace rows", err, "file", v.Path)
				continue
			}
			log.Debug(log.CatCLI, "replacing changed file", "file", v.Path, "rows", n)
		}
		files = append(files, v.Path)
		attempted = append(attempted, v)
	}
	if len(files) == 0 {
		return
	}

	p := ingest.NewPipeline(b.opts)
	run, err := b.runs.Start(ctx, string(ingest.ModeParallel), p.Workers(), len(files))
	if err != nil {
		log.Warn(log.CatCLI, "could not record run", "error", err)
	}

	res, err := p.Run(ctx, b.store, files)
	if err != nil {
		log.ErrorErr(log.CatCLI, "batch failed", err, "files", len(files))
		_, _ = fmt.Fprintf(b.out, "batch of %d file(s) failed: %v\n", len(files), err)
		return
	}
	if run != nil {
		if err := b.runs.Finish(ctx, run, runSummary(res)); err != nil {
			log.Warn(log.CatCLI, "could not finish run record", "run", run.ID, "error", err)
		}
	}

	failed := make(map[string]bool, len(res.Failures))
	for _, f := range res.Failures {
		failed[f.Path] = true
	}
	for _, v := range attempted {
		// a failed file may still have committed rows, so it is replaced too
		b.ingested[filepath.Base(v.Path)] = true
		if !failed[v.Path] {
			b.seen.Mark(ctx, v)
		}
	}

	rows, err := b.store.CountRows(ctx)
	if err != nil {
		log.Warn(log.CatCLI, "could not count rows", "error", err)
	}
	m := metrics.RunMetrics{TotalLines: res.Stats.TotalLines, Wall: res.Elapsed}
	_, _ = fmt.Fprintf(b.out, "Ingested %d file(s), %d failed: %d lines in %s (%s), %d syscalls in DB\n",
		res.FilesOK, res.FilesFailed, res.Stats.TotalLines,
		metrics.FormatSeconds(res.Elapsed), m.FormatThroughput(), rows)
}
