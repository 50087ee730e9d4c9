package cmd

import (
	"context"
	"fmt"
	"io"
	"os"

	"github.com/spf13/cobra"

	"github.com/zjrosen/tracelake/internal/infrastructure/sqlite"
	"github.com/zjrosen/tracelake/internal/presentation"
)

var (
	statsLimit int
	statsJSON  bool
)

var statsCmd = &cobra.Command{
	Use:   "stats",
	Short: "Summarize the syscalls in an output database",
	Long: `Print the row count, the most frequent syscalls and error codes, the
syscalls with the most total time and the per-process call counts.

Examples:
  tracelake stats -o trace.db
  tracelake stats -o trace.db --limit 5
  tracelake stats -o trace.db --json | jq '.top_syscalls'`,
	Args: cobra.NoArgs,
	RunE: func(cmd *cobra.Command, _ []string) error {
		return runStats(cmd.Context(), cfg.Output, statsLimit, statsJSON, cmd.OutOrStdout())
	},
}

var runsCmd = &cobra.Command{
	Use:   "runs",
	Short: "List the ingestion runs recorded in an output database",
	Args:  cobra.NoArgs,
	RunE: func(cmd *cobra.Command, _ []string) error {
		return runRuns(cmd.Context(), cfg.Output, statsLimit, statsJSON, cmd.OutOrStdout())
	},
}

func init() {
	for _, c := range []*cobra.Command{statsCmd, runsCmd} {
		c.Flags().IntVarP(&statsLimit, "limit", "n", 10, "rows per table")
		c.Flags().BoolVar(&statsJSON, "json", false, "print JSON instead of tables")
		rootCmd.AddCommand(c)
	}
}

// openExisting opens a database that an ingest run has already written.
func openExisting(path string) (*sqlite.DB, error) {
	if path == "" {
		return nil, fmt.Errorf("no database given (use --output)")
	}
	if _, err := os.Stat(path); err != nil {
		return nil, fmt.Errorf("database %s: %w", path, err)
	}
	return sqlite.NewDB(path)
}

func runStats(ctx context.Context, path string, limit int, asJSON bool, out io.Writer) error {
	if ctx == nil {
		ctx = context.Background()
	}
	db, err := openExisting(path)
	if err != nil {
		return err
	}
	defer func() { _ = db.Close() }()
	store := db.Store(0)

	rows, err := store.CountRows(ctx)
	if err != nil {
		return err
	}
	top, err := store.TopSyscalls(ctx, limit)
	if err != nil {
		return err
	}
	codes, err := store.ErrorCodes(ctx, limit)
	if err != nil {
		return err
	}
	slowest, err := store.SlowestSyscalls(ctx, limit)
	if err != nil {
		return err
	}
	procs, err := store.PerProcess(ctx, limit)
	if err != nil {
		return err
	}

	dto := presentation.StatsDTO{
		Database:    path,
		Rows:        rows,
		TopSyscalls: presentation.FromSyscallCounts(top),
		ErrorCodes:  presentation.FromErrorCounts(codes),
		Slowest:     presentation.FromSyscallTimes(slowest),
		Processes:   presentation.FromProcessCounts(procs),
	}
	f := presentation.NewFormatter(out)
	if asJSON {
		return f.FormatJSON(dto)
	}
	return f.FormatStats(dto)
}

func runRuns(ctx context.Context, path string, limit int, asJSON bool, out io.Writer) error {
	if ctx == nil {
		ctx = context.Background()
	}
	db, err := openExisting(path)
	if err != nil {
		return err
	}
	defer func() { _ = db.Close() }()

	runs, err := db.RunRepository().Recent(ctx, limit)
	if err != nil {
		return err
	}
	dtos := presentation.FromRuns(runs)
	f := presentation.NewFormatter(out)
	if asJSON {
		return f.FormatJSON(dtos)
	}
	return f.FormatRuns(dtos)
}
