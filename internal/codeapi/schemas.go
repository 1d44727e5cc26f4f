package codeapi

import "github.com/pulsegrid/mcpcore/internal/rpc"

func codeExecuteTool() rpc.Tool {
	return rpc.Tool{
		Name: "code_execute",
		Description: "Execute a declarative data pipeline (query, streamAggregate, filter, map, groupBy, sort, limit, " +
			"skill, and fs steps) against the active database connection inside a sandboxed scratch directory, " +
			"bounded by a wall-clock timeout and a memory budget.",
		InputSchema: rpc.InputSchema{
			Type: "object",
			Properties: map[string]rpc.PropertySchema{
				"pipeline": {
					Type:        "object",
					Description: "A {steps: [...]} pipeline document. Each step has a kind and kind-specific args; later steps may reference earlier results by name.",
				},
			},
			Required: []string{"pipeline"},
		},
	}
}
