package query

import (
	"context"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/pulsegrid/mcpcore/internal/cache"
	mcperrors "github.com/pulsegrid/mcpcore/internal/errors"
)

// Request is one query invocation.
type Request struct {
	SQL          string
	Params       map[string]any
	Timeout      time.Duration
	Cache        Directive
	Stream       bool
	ConnectionID string
}

// Result is the outcome of a non-streaming query.
type Result struct {
	Rows     []map[string]any
	RowCount int
	Fields   []string
	Elapsed  time.Duration
	CacheHit bool
}

// Executor runs queries against an acquired pgx connection and layers in
// cache lookups keyed by Fingerprint.
type Executor struct {
	cache *cache.Cache
}

// NewExecutor builds an Executor backed by c. c may be nil to disable
// caching entirely.
func NewExecutor(c *cache.Cache) *Executor {
	return &Executor{cache: c}
}

// Run executes req.SQL once and materializes every row.
func (e *Executor) Run(ctx context.Context, conn *pgxpool.Conn, req Request) (Result, error) {
	start := time.Now()

	cacheable := e.cache != nil && IsCacheable(req.Cache, req.SQL)
	var key string
	if cacheable {
		key = Fingerprint(req.SQL, req.Params, req.ConnectionID)
		if v, ok := e.cache.Get(ctx, key); ok {
			res := v.(Result)
			res.CacheHit = true
			return res, nil
		}
	}

	runCtx := ctx
	var cancel context.CancelFunc
	if req.Timeout > 0 {
		runCtx, cancel = context.WithTimeout(ctx, req.Timeout)
		defer cancel()
	}

	args := positionalArgs(req.SQL, req.Params)
	rows, err := conn.Query(runCtx, req.SQL, args...)
	if err != nil {
		return Result{}, translateQueryError(err)
	}
	defer rows.Close()

	fields := make([]string, 0)
	for _, fd := range rows.FieldDescriptions() {
		fields = append(fields, fd.Name)
	}

	var out []map[string]any
	for rows.Next() {
		vals, err := rows.Values()
		if err != nil {
			return Result{}, mcperrors.Wrap(mcperrors.Internal, err, "failed to read row")
		}
		row := make(map[string]any, len(fields))
		for i, f := range fields {
			if i < len(vals) {
				row[f] = vals[i]
			}
		}
		out = append(out, row)
	}
	if err := rows.Err(); err != nil {
		return Result{}, translateQueryError(err)
	}

	result := Result{Rows: out, RowCount: len(out), Fields: fields, Elapsed: time.Since(start)}
	if cacheable {
		e.cache.Set(ctx, key, result, 0)
	}
	return result, nil
}

// RunBatch executes stmts inside a single transaction; either all commit or
// all roll back.
func RunBatch(ctx context.Context, conn *pgxpool.Conn, stmts []Request) ([]Result, error) {
	tx, err := conn.Begin(ctx)
	if err != nil {
		return nil, mcperrors.Wrap(mcperrors.Internal, err, "failed to begin transaction")
	}

	results := make([]Result, 0, len(stmts))
	for _, stmt := range stmts {
		args := positionalArgs(stmt.SQL, stmt.Params)
		rows, err := tx.Query(ctx, stmt.SQL, args...)
		if err != nil {
			_ = tx.Rollback(ctx)
			return nil, translateQueryError(err)
		}
		count := 0
		for rows.Next() {
			count++
		}
		rerr := rows.Err()
		rows.Close()
		if rerr != nil {
			_ = tx.Rollback(ctx)
			return nil, translateQueryError(rerr)
		}
		results = append(results, Result{RowCount: count})
	}

	if err := tx.Commit(ctx); err != nil {
		return nil, mcperrors.Wrap(mcperrors.Internal, err, "failed to commit batch")
	}
	return results, nil
}

// positionalArgs wraps the named parameters in a pgx.NamedArgs, which pgx
// rewrites into positional $n bindings for every @name placeholder in the
// SQL; sql itself is not inspected here. String interpolation into SQL text
// is never performed by this package.
func positionalArgs(sql string, params map[string]any) []any {
	if len(params) == 0 {
		return nil
	}
	named := pgx.NamedArgs{}
	for k, v := range params {
		named[k] = v
	}
	return []any{named}
}

func translateQueryError(err error) error {
	return mcperrors.Wrap(mcperrors.Internal, err, "query execution failed")
}
