// Package iterlimit resolves the maximum loop iterations for a specialist.
//
// Limits are layered, highest precedence first: a dynamic per-specialist
// source (hot-reloadable), a static per-specialist override, the default for
// the specialist's category, and finally a global default.
package iterlimit

import "sync"

// FallbackLimit is used when no layer, including the global default, yields a positive value.
const FallbackLimit = 10

// Layer identifies which configuration layer produced a limit.
type Layer string

const (
	LayerDynamic  Layer = "dynamic"
	LayerOverride Layer = "override"
	LayerCategory Layer = "category"
	LayerGlobal   Layer = "global"
	LayerFallback Layer = "fallback"
)

// Source is the dynamic layer. Implementations must be safe for concurrent use.
type Source interface {
	Lookup(specialistID string) (int, bool)
}

// Layers holds the static layers.
type Layers struct {
	GlobalDefault    int
	Overrides        map[string]int    // specialist id -> limit
	CategoryDefaults map[string]int    // category -> limit
	Categories       map[string]string // specialist id -> category
}

// Resolver combines the dynamic source with the static layers.
type Resolver struct {
	mu      sync.RWMutex
	layers  Layers
	dynamic Source
}

// NewResolver creates a resolver. dynamic may be nil.
func NewResolver(layers Layers, dynamic Source) *Resolver {
	return &Resolver{layers: layers, dynamic: dynamic}
}

// Resolve returns the iteration limit for a specialist. The result is always positive.
func (r *Resolver) Resolve(specialistID string) int {
	n, _ := r.Explain(specialistID)
	return n
}

// Explain returns the limit together with the layer that produced it.
// Non-positive values at any layer are ignored.
func (r *Resolver) Explain(specialistID string) (int, Layer) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	if r.dynamic != nil {
		if n, ok := r.dynamic.Lookup(specialistID); ok && n > 0 {
			return n, LayerDynamic
		}
	}
	if n := r.layers.Overrides[specialistID]; n > 0 {
		return n, LayerOverride
	}
	if cat, ok := r.layers.Categories[specialistID]; ok {
		if n := r.layers.CategoryDefaults[cat]; n > 0 {
			return n, LayerCategory
		}
	}
	if r.layers.GlobalDefault > 0 {
		return r.layers.GlobalDefault, LayerGlobal
	}
	return FallbackLimit, LayerFallback
}

// SetLayers replaces the static layers.
func (r *Resolver) SetLayers(layers Layers) {
	r.mu.Lock()
	r.layers = layers
	r.mu.Unlock()
}

// MapSource is a static dynamic layer, mostly useful for tests and embedding.
type MapSource struct {
	mu     sync.RWMutex
	limits map[string]int
}

// NewMapSource creates a MapSource from a copy of limits.
func NewMapSource(limits map[string]int) *MapSource {
	m := &MapSource{limits: make(map[string]int, len(limits))}
	for k, v := range limits {
		m.limits[k] = v
	}
	return m
}

// Lookup implements Source.
func (m *MapSource) Lookup(specialistID string) (int, bool) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	n, ok := m.limits[specialistID]
	return n, ok
}

// Set updates one limit.
func (m *MapSource) Set(specialistID string, n int) {
	m.mu.Lock()
	m.limits[specialistID] = n
	m.mu.Unlock()
}
