package sandbox

import (
	"context"
	"fmt"
	"sort"
	"time"

	mcperrors "github.com/pulsegrid/mcpcore/internal/errors"
)

// Reducer implements one StepKind. env is the accumulated variable bindings
// from prior steps (keyed by Step.Bind); budget tracks cumulative result
// size for the memory soft-limit.
type Reducer func(ctx context.Context, args map[string]any, env map[string]any, budget *Budget) (any, error)

// Budget enforces a soft memory limit across a pipeline's intermediate
// results, rejecting with RESOURCE_EXHAUSTED once exceeded. This stands in
// for a real allocator hook: every reducer that produces a sizable result
// must call Charge with an estimate of its size.
type Budget struct {
	limit int64
	used  int64
}

func NewBudget(limitBytes int64) *Budget {
	return &Budget{limit: limitBytes}
}

func (b *Budget) Charge(n int64) error {
	if b == nil || b.limit <= 0 {
		return nil
	}
	b.used += n
	if b.used > b.limit {
		return mcperrors.New(mcperrors.ResourceExhausted, "sandbox memory budget of %d bytes exceeded", b.limit)
	}
	return nil
}

// Interpreter walks a Pipeline's steps in order, dispatching each to its
// registered Reducer.
type Interpreter struct {
	reducers map[StepKind]Reducer
}

// NewInterpreter builds an Interpreter with the built-in pipeline reducers
// registered; callers add query/streamAggregate/skills/fs reducers via
// Register since those require a live connection, skill set, or scratch
// directory respectively.
func NewInterpreter() *Interpreter {
	i := &Interpreter{reducers: make(map[StepKind]Reducer)}
	i.Register(StepFilter, reduceFilter)
	i.Register(StepMap, reduceMap)
	i.Register(StepGroupBy, reduceGroupBy)
	i.Register(StepSort, reduceSort)
	i.Register(StepLimit, reduceLimit)
	return i
}

func (i *Interpreter) Register(kind StepKind, r Reducer) {
	i.reducers[kind] = r
}

// Run executes every step of p in order under the given wall-clock timeout
// and memory budget, returning the result of the final step.
func (i *Interpreter) Run(ctx context.Context, p Pipeline, timeout time.Duration, budget *Budget) (any, error) {
	runCtx := ctx
	if timeout > 0 {
		var cancel context.CancelFunc
		runCtx, cancel = context.WithTimeout(ctx, timeout)
		defer cancel()
	}

	env := make(map[string]any)
	var last any
	for idx, step := range p.Steps {
		if runCtx.Err() != nil {
			return nil, mcperrors.New(mcperrors.DeadlineExceeded, "sandbox pipeline exceeded its wall-clock limit at step %d", idx)
		}
		reducer, ok := i.reducers[step.Kind]
		if !ok {
			return nil, mcperrors.New(mcperrors.InvalidArgument, "unknown pipeline step kind %q", step.Kind)
		}
		result, err := reducer(runCtx, step.Args, env, budget)
		if err != nil {
			return nil, mcperrors.Wrap(mcperrors.CodeOf(err), err, "step %d (%s) failed", idx, step.Kind)
		}
		if step.Bind != "" {
			env[step.Bind] = result
		}
		last = result
	}
	return last, nil
}

func inputRows(args map[string]any, env map[string]any) ([]map[string]any, error) {
	from, _ := args["from"].(string)
	var raw any
	if from != "" {
		raw = env[from]
	} else {
		raw = args["rows"]
	}
	rows, ok := raw.([]map[string]any)
	if !ok {
		return nil, mcperrors.New(mcperrors.InvalidArgument, "step input is not a row set")
	}
	return rows, nil
}

func reduceFilter(_ context.Context, args map[string]any, env map[string]any, _ *Budget) (any, error) {
	rows, err := inputRows(args, env)
	if err != nil {
		return nil, err
	}
	field, _ := args["field"].(string)
	equals := args["equals"]

	out := make([]map[string]any, 0, len(rows))
	for _, row := range rows {
		if v, ok := row[field]; ok && valuesEqual(v, equals) {
			out = append(out, row)
		}
	}
	return out, nil
}

func reduceMap(_ context.Context, args map[string]any, env map[string]any, _ *Budget) (any, error) {
	rows, err := inputRows(args, env)
	if err != nil {
		return nil, err
	}
	fields, _ := args["fields"].([]any)
	if len(fields) == 0 {
		return rows, nil
	}

	out := make([]map[string]any, 0, len(rows))
	for _, row := range rows {
		projected := make(map[string]any, len(fields))
		for _, f := range fields {
			name, _ := f.(string)
			projected[name] = row[name]
		}
		out = append(out, projected)
	}
	return out, nil
}

func reduceGroupBy(_ context.Context, args map[string]any, env map[string]any, _ *Budget) (any, error) {
	rows, err := inputRows(args, env)
	if err != nil {
		return nil, err
	}
	field, _ := args["field"].(string)

	groups := make(map[string][]map[string]any)
	var order []string
	for _, row := range rows {
		key := toKey(row[field])
		if _, ok := groups[key]; !ok {
			order = append(order, key)
		}
		groups[key] = append(groups[key], row)
	}

	out := make([]map[string]any, 0, len(order))
	for _, key := range order {
		out = append(out, map[string]any{"key": key, "rows": groups[key]})
	}
	return out, nil
}

func reduceSort(_ context.Context, args map[string]any, env map[string]any, _ *Budget) (any, error) {
	rows, err := inputRows(args, env)
	if err != nil {
		return nil, err
	}
	field, _ := args["field"].(string)
	descending, _ := args["descending"].(bool)

	sorted := make([]map[string]any, len(rows))
	copy(sorted, rows)
	sort.SliceStable(sorted, func(i, j int) bool {
		less := toKey(sorted[i][field]) < toKey(sorted[j][field])
		if descending {
			return !less
		}
		return less
	})
	return sorted, nil
}

func reduceLimit(_ context.Context, args map[string]any, env map[string]any, _ *Budget) (any, error) {
	rows, err := inputRows(args, env)
	if err != nil {
		return nil, err
	}
	n, _ := args["count"].(float64)
	limit := int(n)
	if limit <= 0 || limit > len(rows) {
		limit = len(rows)
	}
	return rows[:limit], nil
}

func valuesEqual(a, b any) bool {
	return toKey(a) == toKey(b)
}

func toKey(v any) string {
	if s, ok := v.(string); ok {
		return s
	}
	if v == nil {
		return ""
	}
	return fmt.Sprintf("%v", v)
}
