// Package registry implements the tool and resource registry: a
// closed-after-startup mapping from name to handler, shared by every
// server binary instead of one hand-written method switch each.
package registry

import (
	"context"
	"fmt"
	"sort"
	"sync"

	mcperrors "github.com/pulsegrid/mcpcore/internal/errors"
	"github.com/pulsegrid/mcpcore/internal/rpc"
)

// Executor runs a tool call and returns its structured result.
type Executor func(ctx context.Context, args map[string]any) (rpc.CallToolResult, error)

// ResourceReader reads a resource snapshot. Readers must be pure and
// idempotent over the snapshot they observe.
type ResourceReader func(ctx context.Context, uri string) (rpc.ReadResourceResult, error)

type toolEntry struct {
	tool rpc.Tool
	exec Executor
}

type resourceEntry struct {
	resource rpc.Resource
	read     ResourceReader
}

// PromptRenderer expands a prompt template with the client's arguments.
type PromptRenderer func(args map[string]string) (rpc.GetPromptResult, error)

type promptEntry struct {
	prompt rpc.Prompt
	render PromptRenderer
}

// Registry is the server's immutable-after-Close tool/resource table.
type Registry struct {
	mu        sync.RWMutex
	closed    bool
	tools     map[string]toolEntry
	resources map[string]resourceEntry
	prompts   map[string]promptEntry
}

// New returns an empty, open registry.
func New() *Registry {
	return &Registry{
		tools:     make(map[string]toolEntry),
		resources: make(map[string]resourceEntry),
		prompts:   make(map[string]promptEntry),
	}
}

// RegisterTool adds a tool. It is a startup error to register the same name
// twice, or to register after Close.
func (r *Registry) RegisterTool(tool rpc.Tool, exec Executor) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.closed {
		return fmt.Errorf("registry: cannot register tool %q after startup", tool.Name)
	}
	if _, exists := r.tools[tool.Name]; exists {
		return fmt.Errorf("registry: duplicate tool name %q", tool.Name)
	}
	r.tools[tool.Name] = toolEntry{tool: tool, exec: exec}
	return nil
}

// RegisterResource adds a resource reader under uri.
func (r *Registry) RegisterResource(resource rpc.Resource, read ResourceReader) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.closed {
		return fmt.Errorf("registry: cannot register resource %q after startup", resource.URI)
	}
	if _, exists := r.resources[resource.URI]; exists {
		return fmt.Errorf("registry: duplicate resource uri %q", resource.URI)
	}
	r.resources[resource.URI] = resourceEntry{resource: resource, read: read}
	return nil
}

// RegisterPrompt adds a server-authored prompt template under its name.
func (r *Registry) RegisterPrompt(prompt rpc.Prompt, render PromptRenderer) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.closed {
		return fmt.Errorf("registry: cannot register prompt %q after startup", prompt.Name)
	}
	if _, exists := r.prompts[prompt.Name]; exists {
		return fmt.Errorf("registry: duplicate prompt name %q", prompt.Name)
	}
	r.prompts[prompt.Name] = promptEntry{prompt: prompt, render: render}
	return nil
}

// Close freezes registration; the dispatcher calls this once at startup
// before serving any request.
func (r *Registry) Close() {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.closed = true
}

// ListTools enumerates every registered tool in a stable (sorted) order.
func (r *Registry) ListTools() []rpc.Tool {
	r.mu.RLock()
	defer r.mu.RUnlock()
	out := make([]rpc.Tool, 0, len(r.tools))
	for _, e := range r.tools {
		out = append(out, e.tool)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Name < out[j].Name })
	return out
}

// ListResources enumerates every registered resource in a stable order.
func (r *Registry) ListResources() []rpc.Resource {
	r.mu.RLock()
	defer r.mu.RUnlock()
	out := make([]rpc.Resource, 0, len(r.resources))
	for _, e := range r.resources {
		out = append(out, e.resource)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].URI < out[j].URI })
	return out
}

// ListPrompts enumerates every registered prompt in a stable order.
func (r *Registry) ListPrompts() []rpc.Prompt {
	r.mu.RLock()
	defer r.mu.RUnlock()
	out := make([]rpc.Prompt, 0, len(r.prompts))
	for _, e := range r.prompts {
		out = append(out, e.prompt)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Name < out[j].Name })
	return out
}

// GetPrompt renders the named prompt with args.
func (r *Registry) GetPrompt(name string, args map[string]string) (rpc.GetPromptResult, error) {
	r.mu.RLock()
	e, ok := r.prompts[name]
	r.mu.RUnlock()
	if !ok {
		return rpc.GetPromptResult{}, mcperrors.New(mcperrors.NotFound, "no such prompt: %s", name)
	}
	return e.render(args)
}

// Lookup returns the tool descriptor and executor for name.
func (r *Registry) Lookup(name string) (rpc.Tool, Executor, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	e, ok := r.tools[name]
	if !ok {
		return rpc.Tool{}, nil, false
	}
	return e.tool, e.exec, true
}

// ReadResource looks up and reads a resource by uri.
func (r *Registry) ReadResource(ctx context.Context, uri string) (rpc.ReadResourceResult, error) {
	r.mu.RLock()
	e, ok := r.resources[uri]
	r.mu.RUnlock()
	if !ok {
		return rpc.ReadResourceResult{}, mcperrors.New(mcperrors.NotFound, "no such resource: %s", uri)
	}
	return e.read(ctx, uri)
}

// Call validates args against the tool's schema and, if valid, invokes its
// executor. Schema failures short-circuit with INVALID_ARGUMENT and the
// executor is never invoked.
func (r *Registry) Call(ctx context.Context, name string, args map[string]any) (rpc.CallToolResult, error) {
	tool, exec, ok := r.Lookup(name)
	if !ok {
		return rpc.CallToolResult{}, mcperrors.New(mcperrors.NotFound, "no such tool: %s", name)
	}
	if err := ValidateArgs(tool.InputSchema, args); err != nil {
		return rpc.CallToolResult{}, mcperrors.Wrap(mcperrors.InvalidArgument, err, "invalid arguments for tool %s", name)
	}
	return exec(ctx, args)
}
