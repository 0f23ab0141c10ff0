// Package tools implements the builtin tool registry (spec §4.3): the
// Tool contract every builtin and MCP-bridged tool satisfies, the registry
// that holds them, and the concrete builtins the agent loop calls through.
package tools

import (
	"context"
	"errors"
	"sort"
	"sync"

	"github.com/nextlevelbuilder/codeloom/internal/providers"
)

// ErrToolNotFound is returned by Registry.Get-adjacent lookups that fail.
var ErrToolNotFound = errors.New("tools: no such tool registered")

// Tool is the contract every builtin and MCP-bridged tool implements.
type Tool interface {
	Name() string
	Description() string
	// Parameters returns the tool's input_schema as a JSON-schema-shaped map.
	Parameters() map[string]interface{}
	// RequiresApproval reports whether invocations of this tool need a
	// human approval round-trip unless matched by an auto-approve rule.
	RequiresApproval() bool
	Execute(ctx context.Context, args map[string]interface{}) *Result
}

// Registry holds the set of tools available to a chat's agent loop.
type Registry struct {
	mu    sync.RWMutex
	tools map[string]Tool
}

// NewRegistry constructs an empty Registry.
func NewRegistry() *Registry {
	return &Registry{tools: make(map[string]Tool)}
}

// Register adds or replaces a tool by name.
func (r *Registry) Register(t Tool) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.tools[t.Name()] = t
}

// Unregister removes a tool, e.g. when an MCP server disconnects.
func (r *Registry) Unregister(name string) {
	r.mu.Lock()
	defer r.mu.Unlock()
	delete(r.tools, name)
}

// Get looks up a tool by name.
func (r *Registry) Get(name string) (Tool, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	t, ok := r.tools[name]
	return t, ok
}

// List returns every registered tool name, sorted for deterministic output.
func (r *Registry) List() []string {
	r.mu.RLock()
	defer r.mu.RUnlock()
	names := make([]string, 0, len(r.tools))
	for name := range r.tools {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}

// Definitions returns the provider-facing ToolDefinition for every
// registered tool, sorted by name.
func (r *Registry) Definitions() []providers.ToolDefinition {
	r.mu.RLock()
	defer r.mu.RUnlock()
	names := make([]string, 0, len(r.tools))
	for name := range r.tools {
		names = append(names, name)
	}
	sort.Strings(names)

	defs := make([]providers.ToolDefinition, 0, len(names))
	for _, name := range names {
		defs = append(defs, toProviderDef(r.tools[name]))
	}
	return defs
}

// Execute looks up and runs a tool, returning ErrToolNotFound if it's not
// registered.
func (r *Registry) Execute(ctx context.Context, name string, args map[string]interface{}) (*Result, error) {
	t, ok := r.Get(name)
	if !ok {
		return nil, ErrToolNotFound
	}
	return t.Execute(ctx, args), nil
}

func toProviderDef(t Tool) providers.ToolDefinition {
	return providers.ToolDefinition{
		Type: "function",
		Function: providers.ToolFunctionSchema{
			Name:        t.Name(),
			Description: t.Description(),
			Parameters:  t.Parameters(),
		},
	}
}

// BaseTool supplies a default RequiresApproval() of true; read-only tools
// embed it and override only what differs.
type BaseTool struct{}

func (BaseTool) RequiresApproval() bool { return true }
