package registry

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	mcperrors "github.com/pulsegrid/mcpcore/internal/errors"
	"github.com/pulsegrid/mcpcore/internal/rpc"
)

func echoTool(name string) rpc.Tool {
	return rpc.Tool{
		Name:        name,
		Description: "echo",
		InputSchema: rpc.InputSchema{
			Type: "object",
			Properties: map[string]rpc.PropertySchema{
				"text": {Type: "string"},
				"mode": {Type: "string", Enum: []string{"plain", "loud"}},
			},
			Required: []string{"text"},
		},
	}
}

func echoExec(calls *int) Executor {
	return func(ctx context.Context, args map[string]any) (rpc.CallToolResult, error) {
		*calls++
		return rpc.JSONResult(map[string]any{"echo": args["text"]}), nil
	}
}

func TestRegisterTool_DuplicateNameIsAStartupError(t *testing.T) {
	r := New()
	calls := 0
	require.NoError(t, r.RegisterTool(echoTool("echo"), echoExec(&calls)))
	err := r.RegisterTool(echoTool("echo"), echoExec(&calls))
	require.Error(t, err)
	assert.Contains(t, err.Error(), "duplicate tool name")
}

func TestRegisterTool_RejectedAfterClose(t *testing.T) {
	r := New()
	r.Close()
	calls := 0
	err := r.RegisterTool(echoTool("late"), echoExec(&calls))
	require.Error(t, err)
}

func TestCall_InvokesExecutorExactlyOnceWithValidArgs(t *testing.T) {
	r := New()
	calls := 0
	require.NoError(t, r.RegisterTool(echoTool("echo"), echoExec(&calls)))
	r.Close()

	result, err := r.Call(context.Background(), "echo", map[string]any{"text": "hi"})
	require.NoError(t, err)
	assert.Equal(t, 1, calls)
	payload, ok := result.StructuredContent.(map[string]any)
	require.True(t, ok)
	assert.Equal(t, "hi", payload["echo"])
}

func TestCall_SchemaViolationsDoNotReachTheExecutor(t *testing.T) {
	cases := []struct {
		name string
		args map[string]any
	}{
		{"missing required", map[string]any{}},
		{"wrong type", map[string]any{"text": 123}},
		{"bad enum value", map[string]any{"text": "hi", "mode": "whisper"}},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			r := New()
			calls := 0
			require.NoError(t, r.RegisterTool(echoTool("echo"), echoExec(&calls)))
			r.Close()

			_, err := r.Call(context.Background(), "echo", tc.args)
			require.Error(t, err)
			var mcpErr *mcperrors.Error
			require.ErrorAs(t, err, &mcpErr)
			assert.Equal(t, mcperrors.InvalidArgument, mcpErr.Code)
			assert.Equal(t, 0, calls, "the executor must not run on invalid arguments")
		})
	}
}

func TestCall_UnknownToolIsNotFound(t *testing.T) {
	r := New()
	r.Close()
	_, err := r.Call(context.Background(), "nope", nil)
	var mcpErr *mcperrors.Error
	require.ErrorAs(t, err, &mcpErr)
	assert.Equal(t, mcperrors.NotFound, mcpErr.Code)
}

func TestListTools_SortedByName(t *testing.T) {
	r := New()
	calls := 0
	require.NoError(t, r.RegisterTool(echoTool("zeta"), echoExec(&calls)))
	require.NoError(t, r.RegisterTool(echoTool("alpha"), echoExec(&calls)))
	r.Close()

	tools := r.ListTools()
	require.Len(t, tools, 2)
	assert.Equal(t, "alpha", tools[0].Name)
	assert.Equal(t, "zeta", tools[1].Name)
}
