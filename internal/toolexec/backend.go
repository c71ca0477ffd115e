package toolexec

import (
	"context"
	"fmt"
	"sort"
	"sync"

	"github.com/vinayprograms/agentkit/llm"
	"github.com/vinayprograms/agentkit/tools"
)

// RegistryBackend runs tools from an agentkit registry.
type RegistryBackend struct {
	registry *tools.Registry
}

// NewRegistryBackend wraps registry.
func NewRegistryBackend(registry *tools.Registry) *RegistryBackend {
	return &RegistryBackend{registry: registry}
}

// Execute implements Backend.
func (b *RegistryBackend) Execute(ctx context.Context, name string, args map[string]interface{}) (interface{}, error) {
	tool := b.registry.Get(name)
	if tool == nil {
		return nil, fmt.Errorf("tool not found: %s", name)
	}
	return tool.Execute(ctx, args)
}

// Definitions implements Backend.
func (b *RegistryBackend) Definitions() []llm.ToolDef {
	var defs []llm.ToolDef
	for _, def := range b.registry.Definitions() {
		defs = append(defs, llm.ToolDef{
			Name:        def.Name,
			Description: def.Description,
			Parameters:  def.Parameters,
		})
	}
	return defs
}

// Has implements Backend.
func (b *RegistryBackend) Has(name string) bool {
	return b.registry.Has(name)
}

// Handler implements one tool for MapBackend.
type Handler func(ctx context.Context, args map[string]interface{}) (interface{}, error)

// MapBackend is an in-process backend built from handler functions.
type MapBackend struct {
	mu       sync.RWMutex
	defs     map[string]llm.ToolDef
	handlers map[string]Handler
}

// NewMapBackend creates an empty backend.
func NewMapBackend() *MapBackend {
	return &MapBackend{defs: map[string]llm.ToolDef{}, handlers: map[string]Handler{}}
}

// Register adds or replaces a tool.
func (b *MapBackend) Register(def llm.ToolDef, h Handler) {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.defs[def.Name] = def
	b.handlers[def.Name] = h
}

// Execute implements Backend.
func (b *MapBackend) Execute(ctx context.Context, name string, args map[string]interface{}) (interface{}, error) {
	b.mu.RLock()
	h, ok := b.handlers[name]
	b.mu.RUnlock()
	if !ok {
		return nil, fmt.Errorf("tool not found: %s", name)
	}
	return h(ctx, args)
}

// Definitions implements Backend, sorted by name.
func (b *MapBackend) Definitions() []llm.ToolDef {
	b.mu.RLock()
	defer b.mu.RUnlock()
	defs := make([]llm.ToolDef, 0, len(b.defs))
	for _, d := range b.defs {
		defs = append(defs, d)
	}
	sort.Slice(defs, func(i, j int) bool { return defs[i].Name < defs[j].Name })
	return defs
}

// Has implements Backend.
func (b *MapBackend) Has(name string) bool {
	b.mu.RLock()
	defer b.mu.RUnlock()
	_, ok := b.handlers[name]
	return ok
}
