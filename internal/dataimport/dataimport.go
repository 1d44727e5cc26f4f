// Package dataimport implements the bulk data-import tool:
// bounded-batch streaming rows into a target table, using
// pgx's CopyFrom path when the caller supplies known column types and
// falling back to a parameterized INSERT batch otherwise.
package dataimport

import (
	"context"
	"fmt"
	"strings"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	mcperrors "github.com/pulsegrid/mcpcore/internal/errors"
)

const defaultBatchSize = 500

// Request describes one import invocation.
type Request struct {
	Table      string
	Columns    []string
	Rows       [][]any
	BatchSize  int
	UseCopy    bool // true when Columns' types are known and stable across Rows
}

// Result reports how many rows were imported, or the first failure.
type Result struct {
	RowsImported int
	FailedRow    int // -1 if every row succeeded
	FailedValues []any
}

// Run imports req.Rows into req.Table in batches of req.BatchSize (default
// 500). On the first failing row the import stops and reports its index
// and values rather than attempting partial recovery, so a failure is
// immediately actionable.
func Run(ctx context.Context, conn *pgxpool.Conn, req Request) (Result, error) {
	batchSize := req.BatchSize
	if batchSize <= 0 {
		batchSize = defaultBatchSize
	}

	result := Result{FailedRow: -1}
	for start := 0; start < len(req.Rows); start += batchSize {
		end := start + batchSize
		if end > len(req.Rows) {
			end = len(req.Rows)
		}
		batch := req.Rows[start:end]

		var err error
		var n int
		if req.UseCopy {
			n, err = copyBatch(ctx, conn, req.Table, req.Columns, batch)
		} else {
			n, err = insertBatch(ctx, conn, req.Table, req.Columns, batch)
		}
		if err != nil {
			result.FailedRow = start + n
			if result.FailedRow < len(req.Rows) {
				result.FailedValues = req.Rows[result.FailedRow]
			}
			return result, mcperrors.Wrap(mcperrors.Internal, err, "import failed at row %d", result.FailedRow)
		}
		result.RowsImported += n
	}
	return result, nil
}

func copyBatch(ctx context.Context, conn *pgxpool.Conn, table string, columns []string, rows [][]any) (int, error) {
	n, err := conn.CopyFrom(ctx, pgx.Identifier{table}, columns, pgx.CopyFromRows(rows))
	return int(n), err
}

func insertBatch(ctx context.Context, conn *pgxpool.Conn, table string, columns []string, rows [][]any) (int, error) {
	tx, err := conn.Begin(ctx)
	if err != nil {
		return 0, err
	}
	inserted := 0
	for _, row := range rows {
		if _, err := tx.Exec(ctx, insertStatement(table, columns), row...); err != nil {
			_ = tx.Rollback(ctx)
			return inserted, err
		}
		inserted++
	}
	if err := tx.Commit(ctx); err != nil {
		return inserted, err
	}
	return inserted, nil
}

func insertStatement(table string, columns []string) string {
	quoted := make([]string, len(columns))
	placeholders := make([]string, len(columns))
	for i, c := range columns {
		quoted[i] = quoteIdent(c)
		placeholders[i] = fmt.Sprintf("$%d", i+1)
	}
	return fmt.Sprintf("INSERT INTO %s (%s) VALUES (%s)",
		quoteIdent(table), strings.Join(quoted, ", "), strings.Join(placeholders, ", "))
}

func quoteIdent(s string) string {
	return `"` + s + `"`
}
