package cmd

import (
	"context"
	"database/sql"
	"fmt"
	"io"

	"github.com/spf13/cobra"

	"github.com/zjrosen/tracelake/internal/presentation"
)

var (
	queryLimit int
	queryJSON  bool
)

var queryCmd = &cobra.Command{
	Use:   "query SQL",
	Short: "Run a read-only SQL query against an output database",
	Long: `Run one SQL statement against the output database inside a read-only
transaction and print the result. Statements that write fail.

Examples:
  tracelake query -o trace.db "SELECT syscall, COUNT(*) FROM syscalls GROUP BY 1 ORDER BY 2 DESC"
  tracelake query -o trace.db --json "SELECT * FROM syscalls WHERE error_code = 'ENOENT'"`,
	Args: cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		return runQuery(cmd.Context(), cfg.Output, args[0], queryLimit, queryJSON, cmd.OutOrStdout())
	},
}

func init() {
	queryCmd.Flags().IntVarP(&queryLimit, "limit", "n", 100, "maximum rows to print, 0 for all")
	queryCmd.Flags().BoolVar(&queryJSON, "json", false, "print JSON instead of a table")
	rootCmd.AddCommand(queryCmd)
}

func runQuery(ctx context.Context, path, query string, limit int, asJSON bool, out io.Writer) error {
	if ctx == nil {
		ctx = context.Background()
	}
	db, err := openExisting(path)
	if err != nil {
		return err
	}
	defer func() { _ = db.Close() }()

	tx, err := db.Connection().BeginTx(ctx, &sql.TxOptions{ReadOnly: true})
	if err != nil {
		return fmt.Errorf("begin read-only transaction: %w", err)
	}
	defer func() { _ = tx.Rollback() }()

	rows, err := tx.QueryContext(ctx, query)
	if err != nil {
		return fmt.Errorf("query: %w", err)
	}
	defer func() { _ = rows.Close() }()

	cols, err := rows.Columns()
	if err != nil {
		return err
	}
	result := presentation.QueryDTO{Columns: cols, Rows: [][]any{}}
	for rows.Next() {
		if limit > 0 && len(result.Rows) == limit {
			result.Truncated = true
			break
		}
		vals := make([]any, len(cols))
		ptrs := make([]any, len(cols))
		for i := range vals {
			ptrs[i] = &vals[i]
		}
		if err := rows.Scan(ptrs...); err != nil {
			return fmt.Errorf("scan row: %w", err)
		}
		for i, v := range vals {
			if b, ok := v.([]byte); ok {
				vals[i] = string(b)
			}
		}
		result.Rows = append(result.Rows, vals)
	}
	if err := rows.Err(); err != nil {
		return fmt.Errorf("query: %w", err)
	}

	f := presentation.NewFormatter(out)
	if asJSON {
		return f.FormatJSON(result)
	}
	return f.FormatQuery(result)
}
