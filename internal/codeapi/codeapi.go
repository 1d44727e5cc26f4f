// Package codeapi registers the single Code-API mode tool: one tool
// accepting a typed pipeline (a JSON step sequence rather than source
// text), executed by internal/sandbox's interpreter with
// query/streamAggregate/skills/fs capabilities wired against a live
// connection and scratch dir.
package codeapi

import (
	"context"
	"encoding/json"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/pulsegrid/mcpcore/internal/config"
	"github.com/pulsegrid/mcpcore/internal/dbpool"
	mcperrors "github.com/pulsegrid/mcpcore/internal/errors"
	"github.com/pulsegrid/mcpcore/internal/query"
	"github.com/pulsegrid/mcpcore/internal/registry"
	"github.com/pulsegrid/mcpcore/internal/rpc"
	"github.com/pulsegrid/mcpcore/internal/sandbox"
)

// unconstrainedBudget and unconstrainedWallClock are the ceilings applied
// in SandboxModeDirect — generous rather than literally infinite, so a
// runaway pipeline still terminates instead of wedging the dispatcher.
const (
	unconstrainedBudget    = 1 << 30 // 1 GiB
	unconstrainedWallClock = 10 * time.Minute
)

// Deps bundles everything one code_execute invocation needs.
type Deps struct {
	Manager        *dbpool.Manager
	Executor       *query.Executor
	Skills         *sandbox.Registry
	ScratchRoot    string
	SandboxMode    config.SandboxMode
	WallClockLimit time.Duration
	MemoryBudget   int64
	AcquireTimeout time.Duration
}

// Register wires the code_execute tool into reg. SandboxModeDirect (a
// trusted direct run rather than the sandboxed evaluator) relaxes the
// wall-clock and memory ceilings to the generous unconstrained values
// instead of the configured ones.
func Register(reg *registry.Registry, deps Deps) error {
	if deps.SandboxMode == config.SandboxModeDirect {
		deps.WallClockLimit = unconstrainedWallClock
		deps.MemoryBudget = unconstrainedBudget
	}
	if deps.WallClockLimit <= 0 {
		deps.WallClockLimit = 30 * time.Second
	}
	if deps.AcquireTimeout <= 0 {
		deps.AcquireTimeout = 10 * time.Second
	}
	t := &toolset{deps: deps}
	return reg.RegisterTool(codeExecuteTool(), t.execute)
}

type toolset struct {
	deps Deps
}

func (t *toolset) execute(ctx context.Context, args map[string]any) (rpc.CallToolResult, error) {
	raw, ok := args["pipeline"]
	if !ok {
		return rpc.ErrorResult(mcperrors.New(mcperrors.InvalidArgument, "pipeline is required")), nil
	}
	encoded, err := json.Marshal(raw)
	if err != nil {
		return rpc.ErrorResult(mcperrors.Wrap(mcperrors.InvalidArgument, err, "pipeline must be JSON-encodable")), nil
	}
	var pipeline sandbox.Pipeline
	if err := json.Unmarshal(encoded, &pipeline); err != nil {
		return rpc.ErrorResult(mcperrors.Wrap(mcperrors.InvalidArgument, err, "failed to parse pipeline")), nil
	}

	invocationID := uuid.New().String()
	scratch, err := sandbox.NewScratch(t.deps.ScratchRoot, invocationID)
	if err != nil {
		return rpc.ErrorResult(err), nil
	}
	defer scratch.Cleanup()

	interp := sandbox.NewInterpreter()
	if t.deps.Skills != nil {
		interp.Register(sandbox.StepSkill, t.deps.Skills.Reducer())
	}
	sandbox.RegisterFSCapability(interp, scratch)

	var conn *pgxpool.Conn
	if t.deps.Manager != nil {
		if c, _, err := t.deps.Manager.Acquire(ctx, t.deps.AcquireTimeout); err == nil {
			conn = c
			defer conn.Release()
			sandbox.RegisterQueryCapability(interp, t.deps.Executor, conn)
			sandbox.RegisterStreamAggregateCapability(interp, t.deps.Executor, conn)
		}
	}

	budget := sandbox.NewBudget(t.deps.MemoryBudget)
	result, err := interp.Run(ctx, pipeline, t.deps.WallClockLimit, budget)
	if err != nil {
		return rpc.ErrorResult(err), nil
	}
	return rpc.JSONResult(map[string]any{"result": result}), nil
}
