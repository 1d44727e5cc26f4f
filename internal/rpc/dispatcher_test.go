package rpc_test

import (
	"bufio"
	"bytes"
	"context"
	"encoding/json"
	"strings"
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/pulsegrid/mcpcore/internal/registry"
	"github.com/pulsegrid/mcpcore/internal/rpc"
)

func newEchoRegistry(t *testing.T) *registry.Registry {
	t.Helper()
	reg := registry.New()
	err := reg.RegisterTool(rpc.Tool{
		Name:        "echo",
		InputSchema: rpc.InputSchema{Type: "object"},
	}, func(ctx context.Context, args map[string]any) (rpc.CallToolResult, error) {
		return rpc.TextResult("ok"), nil
	})
	require.NoError(t, err)
	reg.Close()
	return reg
}

func readLines(t *testing.T, out *bytes.Buffer, n int) []rpc.Response {
	t.Helper()
	sc := bufio.NewScanner(bytes.NewReader(out.Bytes()))
	var resps []rpc.Response
	for sc.Scan() && len(resps) < n {
		var resp rpc.Response
		require.NoError(t, json.Unmarshal(sc.Bytes(), &resp))
		resps = append(resps, resp)
	}
	require.Len(t, resps, n)
	return resps
}

// A malformed request line must not terminate the dispatch loop: the
// server replies with a JSON-RPC parse error for that line and keeps
// serving subsequent, well-formed requests.
func TestDispatcher_MalformedLineDoesNotKillLoop(t *testing.T) {
	reg := newEchoRegistry(t)

	in := strings.NewReader("not json at all\n" +
		`{"jsonrpc":"2.0","id":1,"method":"tools/call","params":{"name":"echo","arguments":{}}}` + "\n")
	var out bytes.Buffer
	transport := rpc.NewTransport(in, &out)
	dispatcher := rpc.NewDispatcher(transport, reg, rpc.ServerInfo{Name: "test", Version: "0"})

	err := dispatcher.Serve(context.Background())
	require.NoError(t, err)

	resps := readLines(t, &out, 2)

	require.NotNil(t, resps[0].Error)
	require.Equal(t, rpc.ErrParse, resps[0].Error.Code)

	require.Nil(t, resps[1].Error)
	var result rpc.CallToolResult
	require.NoError(t, json.Unmarshal(resps[1].Result, &result))
	require.False(t, result.IsError)
}

func TestDispatcher_ServesRegisteredPrompts(t *testing.T) {
	reg := registry.New()
	require.NoError(t, reg.RegisterPrompt(rpc.Prompt{Name: "greet"}, func(args map[string]string) (rpc.GetPromptResult, error) {
		return rpc.GetPromptResult{Messages: []rpc.PromptMessage{{Role: "user", Content: rpc.NewTextContent("hello " + args["who"])}}}, nil
	}))
	reg.Close()

	in := strings.NewReader(`{"jsonrpc":"2.0","id":1,"method":"prompts/list"}` + "\n" +
		`{"jsonrpc":"2.0","id":2,"method":"prompts/get","params":{"name":"greet","arguments":{"who":"world"}}}` + "\n")
	var out bytes.Buffer
	transport := rpc.NewTransport(in, &out)
	dispatcher := rpc.NewDispatcher(transport, reg, rpc.ServerInfo{Name: "test", Version: "0"})

	require.NoError(t, dispatcher.Serve(context.Background()))
	resps := readLines(t, &out, 2)

	byID := map[string]rpc.Response{}
	for _, r := range resps {
		byID[string(r.ID)] = r
	}

	var list rpc.ListPromptsResult
	require.NoError(t, json.Unmarshal(byID["1"].Result, &list))
	require.Len(t, list.Prompts, 1)
	require.Equal(t, "greet", list.Prompts[0].Name)

	var got rpc.GetPromptResult
	require.NoError(t, json.Unmarshal(byID["2"].Result, &got))
	require.Len(t, got.Messages, 1)
	require.Equal(t, "hello world", got.Messages[0].Content.Text)
}

func TestDispatcher_SchemaGateBlocksExecutor(t *testing.T) {
	reg := registry.New()
	invoked := false
	err := reg.RegisterTool(rpc.Tool{
		Name: "typed",
		InputSchema: rpc.InputSchema{
			Type:       "object",
			Properties: map[string]rpc.PropertySchema{"sql": {Type: "string"}},
			Required:   []string{"sql"},
		},
	}, func(ctx context.Context, args map[string]any) (rpc.CallToolResult, error) {
		invoked = true
		return rpc.TextResult("ok"), nil
	})
	require.NoError(t, err)
	reg.Close()

	in := strings.NewReader(`{"jsonrpc":"2.0","id":7,"method":"tools/call","params":{"name":"typed","arguments":{"sql":123}}}` + "\n")
	var out bytes.Buffer
	transport := rpc.NewTransport(in, &out)
	dispatcher := rpc.NewDispatcher(transport, reg, rpc.ServerInfo{Name: "test", Version: "0"})

	require.NoError(t, dispatcher.Serve(context.Background()))
	resps := readLines(t, &out, 1)

	require.False(t, invoked)
	require.Nil(t, resps[0].Error)
	var result rpc.CallToolResult
	require.NoError(t, json.Unmarshal(resps[0].Result, &result))
	require.True(t, result.IsError)
	payload, ok := result.StructuredContent.(map[string]any)
	require.True(t, ok)
	require.Equal(t, "INVALID_ARGUMENT", payload["code"])
}
