package sandbox

import (
	"context"

	"github.com/jackc/pgx/v5/pgxpool"

	mcperrors "github.com/pulsegrid/mcpcore/internal/errors"
	"github.com/pulsegrid/mcpcore/internal/query"
)

// RegisterQueryCapability wires the "query" step kind to executor, running
// each pipeline's query against conn and binding the row set under the
// step's Bind name for later pipeline.* steps to consume.
func RegisterQueryCapability(i *Interpreter, executor *query.Executor, conn *pgxpool.Conn) {
	i.Register(StepQuery, func(ctx context.Context, args map[string]any, _ map[string]any, budget *Budget) (any, error) {
		sql, _ := args["sql"].(string)
		params, _ := args["params"].(map[string]any)
		if sql == "" {
			return nil, mcperrors.New(mcperrors.InvalidArgument, "query step requires sql")
		}

		result, err := executor.Run(ctx, conn, query.Request{SQL: sql, Params: params, Cache: query.DirectiveOff})
		if err != nil {
			return nil, err
		}
		if err := budget.Charge(estimateRowsSize(result.Rows)); err != nil {
			return nil, err
		}
		return result.Rows, nil
	})
}

// RegisterStreamAggregateCapability wires "streamAggregate": runs sql through
// Executor.Run and sums the numeric values of args["field"] across the
// returned rows into a single number. Every row is materialized before the
// sum; rows are not streamed, and summing is the only aggregate offered.
func RegisterStreamAggregateCapability(i *Interpreter, executor *query.Executor, conn *pgxpool.Conn) {
	i.Register(StepStreamAggregate, func(ctx context.Context, args map[string]any, _ map[string]any, budget *Budget) (any, error) {
		sql, _ := args["sql"].(string)
		params, _ := args["params"].(map[string]any)
		field, _ := args["field"].(string)
		if sql == "" || field == "" {
			return nil, mcperrors.New(mcperrors.InvalidArgument, "streamAggregate step requires sql and field")
		}

		result, err := executor.Run(ctx, conn, query.Request{SQL: sql, Params: params, Cache: query.DirectiveOff})
		if err != nil {
			return nil, err
		}
		if err := budget.Charge(int64(len(result.Rows))); err != nil {
			return nil, err
		}

		var sum float64
		for _, row := range result.Rows {
			if n, ok := toFloat(row[field]); ok {
				sum += n
			}
		}
		return sum, nil
	})
}

// RegisterFSCapability wires "fs.read" and "fs.write" to scratch.
func RegisterFSCapability(i *Interpreter, scratch *Scratch) {
	i.Register(StepFSRead, func(_ context.Context, args map[string]any, _ map[string]any, budget *Budget) (any, error) {
		path, _ := args["path"].(string)
		maxBytes, _ := args["maxBytes"].(float64)
		data, err := scratch.Read(path, int64(maxBytes))
		if err != nil {
			return nil, err
		}
		if err := budget.Charge(int64(len(data))); err != nil {
			return nil, err
		}
		return string(data), nil
	})
	i.Register(StepFSWrite, func(_ context.Context, args map[string]any, _ map[string]any, _ *Budget) (any, error) {
		path, _ := args["path"].(string)
		content, _ := args["content"].(string)
		if err := scratch.Write(path, []byte(content)); err != nil {
			return nil, err
		}
		return nil, nil
	})
}

func estimateRowsSize(rows []map[string]any) int64 {
	var total int64
	for _, row := range rows {
		for k, v := range row {
			total += int64(len(k)) + 32
			if s, ok := v.(string); ok {
				total += int64(len(s))
			}
		}
	}
	return total
}

func toFloat(v any) (float64, bool) {
	switch n := v.(type) {
	case float64:
		return n, true
	case float32:
		return float64(n), true
	case int:
		return float64(n), true
	case int32:
		return float64(n), true
	case int64:
		return float64(n), true
	default:
		return 0, false
	}
}
