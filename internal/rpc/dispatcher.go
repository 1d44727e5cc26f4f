package rpc

import (
	"context"
	"encoding/json"
	"errors"
	"sync"

	"github.com/rs/zerolog/log"

	mcperrors "github.com/pulsegrid/mcpcore/internal/errors"
)

// ToolCaller is satisfied by internal/registry.Registry. Kept as a small
// local interface so rpc never imports registry (registry imports rpc).
type ToolCaller interface {
	Call(ctx context.Context, name string, args map[string]any) (CallToolResult, error)
	ListTools() []Tool
	ReadResource(ctx context.Context, uri string) (ReadResourceResult, error)
	ListResources() []Resource
}

// PromptProvider is the optional interface a registry implements to serve
// prompts/list and prompts/get. A registry without prompts simply doesn't
// satisfy it and those methods return method-not-found.
type PromptProvider interface {
	ListPrompts() []Prompt
	GetPrompt(name string, args map[string]string) (GetPromptResult, error)
}

// Middleware wraps tool invocation. Rate limiting, policy evaluation, and
// cache lookup each register as a Middleware around the registry's Call:
// rate limiter -> policy -> cache -> executor.
type Middleware func(next ToolCallFunc) ToolCallFunc

// ToolCallFunc is the shape every middleware wraps.
type ToolCallFunc func(ctx context.Context, name string, args map[string]any) (CallToolResult, error)

// Dispatcher resolves verbs to registry operations and serializes
// responses through a Transport.
type Dispatcher struct {
	transport *Transport
	registry  ToolCaller
	call      ToolCallFunc
	info      ServerInfo

	wg sync.WaitGroup
}

// NewDispatcher builds a dispatcher. middlewares are applied innermost-last,
// i.e. the first middleware in the slice is the outermost wrapper.
func NewDispatcher(t *Transport, reg ToolCaller, info ServerInfo, middlewares ...Middleware) *Dispatcher {
	call := ToolCallFunc(reg.Call)
	for i := len(middlewares) - 1; i >= 0; i-- {
		call = middlewares[i](call)
	}
	return &Dispatcher{transport: t, registry: reg, call: call, info: info}
}

// Serve runs the dispatch loop until stdin is closed (io.EOF) or ctx is
// canceled. Each tools/call is dispatched on its own goroutine; Serve waits
// for in-flight handlers to finish (the drain window) before returning.
func (d *Dispatcher) Serve(ctx context.Context) error {
	for {
		req, err := d.transport.ReadRequest()
		if err != nil {
			var perr *ParseError
			if errors.As(err, &perr) {
				d.writeError(nil, ErrParse, "parse error: "+perr.Error())
				continue
			}
			break
		}
		d.wg.Add(1)
		go func(req Request) {
			defer d.wg.Done()
			d.handle(ctx, req)
		}(req)
	}
	d.wg.Wait()
	return nil
}

func (d *Dispatcher) handle(ctx context.Context, req Request) {
	if req.Method == "" {
		d.writeError(req.ID, ErrInvalidRequest, "missing method")
		return
	}

	switch req.Method {
	case "initialize":
		d.handleInitialize(req)
	case "initialized", "notifications/initialized":
		// notification, no response expected, but MCP stdio servers still
		// tolerate an id being present; respond empty if one was sent.
		if len(req.ID) > 0 {
			d.writeResult(req.ID, map[string]any{})
		}
	case "ping":
		d.writeResult(req.ID, map[string]any{})
	case "tools/list":
		d.writeResult(req.ID, ListToolsResult{Tools: d.registry.ListTools()})
	case "tools/call":
		d.handleCallTool(ctx, req)
	case "resources/list":
		d.writeResult(req.ID, ListResourcesResult{Resources: d.registry.ListResources()})
	case "resources/read":
		d.handleReadResource(ctx, req)
	case "prompts/list":
		if pp, ok := d.registry.(PromptProvider); ok {
			d.writeResult(req.ID, ListPromptsResult{Prompts: pp.ListPrompts()})
			return
		}
		d.writeError(req.ID, ErrMethodNotFound, "method not found: "+req.Method)
	case "prompts/get":
		d.handleGetPrompt(req)
	default:
		d.writeError(req.ID, ErrMethodNotFound, "method not found: "+req.Method)
	}
}

func (d *Dispatcher) handleInitialize(req Request) {
	var params InitializeParams
	if len(req.Params) > 0 {
		if err := json.Unmarshal(req.Params, &params); err != nil {
			d.writeError(req.ID, ErrInvalidParams, "invalid initialize params")
			return
		}
	}
	log.Info().Str("client", params.ClientInfo.Name).Str("clientVersion", params.ClientInfo.Version).Msg("client connected")
	caps := Capabilities{
		Tools:     &ToolsCapability{},
		Resources: &ResourcesCapability{},
	}
	if _, ok := d.registry.(PromptProvider); ok {
		caps.Prompts = &PromptsCapability{}
	}
	d.writeResult(req.ID, InitializeResult{
		ProtocolVersion: ProtocolVersion,
		Capabilities:    caps,
		ServerInfo:      d.info,
	})
}

func (d *Dispatcher) handleGetPrompt(req Request) {
	pp, ok := d.registry.(PromptProvider)
	if !ok {
		d.writeError(req.ID, ErrMethodNotFound, "method not found: "+req.Method)
		return
	}
	var params GetPromptParams
	if err := json.Unmarshal(req.Params, &params); err != nil {
		d.writeError(req.ID, ErrInvalidParams, "invalid prompts/get params")
		return
	}
	result, err := pp.GetPrompt(params.Name, params.Arguments)
	if err != nil {
		e := mcperrors.As(err)
		d.writeError(req.ID, ErrInvalidParams, e.Message)
		return
	}
	d.writeResult(req.ID, result)
}

func (d *Dispatcher) handleCallTool(ctx context.Context, req Request) {
	var params CallToolParams
	if err := json.Unmarshal(req.Params, &params); err != nil {
		d.writeError(req.ID, ErrInvalidParams, "invalid tools/call params")
		return
	}

	result, err := d.call(ctx, params.Name, params.Arguments)
	if err != nil {
		log.Debug().Err(err).Str("tool", params.Name).Msg("tool call failed")
		d.writeResult(req.ID, ErrorResult(err))
		return
	}
	d.writeResult(req.ID, result)
}

func (d *Dispatcher) handleReadResource(ctx context.Context, req Request) {
	var params ReadResourceParams
	if err := json.Unmarshal(req.Params, &params); err != nil {
		d.writeError(req.ID, ErrInvalidParams, "invalid resources/read params")
		return
	}
	result, err := d.registry.ReadResource(ctx, params.URI)
	if err != nil {
		e := mcperrors.As(err)
		d.writeError(req.ID, ErrInvalidParams, e.Message)
		return
	}
	d.writeResult(req.ID, result)
}

func (d *Dispatcher) writeResult(id json.RawMessage, result any) {
	b, err := json.Marshal(result)
	if err != nil {
		d.writeError(id, ErrInternal, "failed to marshal result")
		return
	}
	_ = d.transport.WriteResponse(Response{JSONRPC: "2.0", ID: id, Result: b})
}

func (d *Dispatcher) writeError(id json.RawMessage, code int, message string) {
	_ = d.transport.WriteResponse(Response{
		JSONRPC: "2.0",
		ID:      id,
		Error:   &WireError{Code: code, Message: message},
	})
}
