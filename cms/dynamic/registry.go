package dynamic

import (
	"sync"
	"sync/atomic"
)

// Registry caches runtime entity definitions per content type slug. Reads are
// cheap under a read lock; writes swap the descriptor pointer whole so a
// concurrent reader never observes a half-updated definition.
type Registry struct {
	mu   sync.RWMutex
	defs map[string]*EntityDef

	// resolve produces (and registers) the definition for an uncached slug.
	// Wired by the synchronizer after construction.
	resolve func(slug string) (*EntityDef, error)

	version atomic.Uint64
}

func NewRegistry() *Registry {
	return &Registry{defs: make(map[string]*EntityDef)}
}

func (r *Registry) SetResolver(resolve func(slug string) (*EntityDef, error)) {
	r.resolve = resolve
}

// Get returns the cached definition for the slug, synchronizing the content
// type first if it has not been registered yet.
func (r *Registry) Get(slug string) (*EntityDef, error) {
	r.mu.RLock()
	def, ok := r.defs[slug]
	r.mu.RUnlock()
	if ok {
		return def, nil
	}

	if r.resolve == nil {
		return nil, ErrNotRegistered
	}
	return r.resolve(slug)
}

// Register replaces any prior definition for the slug. Schema evolution
// supersedes the cached shape.
func (r *Registry) Register(def *EntityDef) {
	r.mu.Lock()
	r.defs[def.Slug] = def
	r.mu.Unlock()
	r.version.Add(1)
}

// Invalidate drops a cached definition, forcing a re-sync on next access.
// Used when a type's shape is edited or the type is removed.
func (r *Registry) Invalidate(slug string) {
	r.mu.Lock()
	delete(r.defs, slug)
	r.mu.Unlock()
	r.version.Add(1)
}

// Version increments on every registration or invalidation. The query surface
// uses it to notice definition changes and rebuild its schema.
func (r *Registry) Version() uint64 {
	return r.version.Load()
}
