// Package router implements the immutable-after-start (method, path)
// handler table: a copy-on-write, atomic.Value-backed static map offering
// lock-free O(1) lookup once frozen.
package router

import (
	"fmt"
	"sync"
	"sync/atomic"
)

// Router maps an exact (method, literal path) pair to a handler of type
// H. Registration is copy-on-write and guarded by a mutex; once Freeze is
// called, Add panics and Lookup is a single atomic load plus map index,
// with no locking on the hot path.
type Router[H any] struct {
	routes atomic.Value // map[key]H

	mu       sync.Mutex // serializes Add/registration-time mutation only
	frozen   atomic.Bool
	optionsF bool // synthesize OPTIONS responses per path (config flag)
	headGet  bool // fall back HEAD to the registered GET handler
}

type key struct {
	method string
	path   string
}

// New constructs an empty Router.
func New[H any]() *Router[H] {
	r := &Router[H]{}
	r.routes.Store(map[key]H{})
	return r
}

// WithOptionsSynthesis enables per-path OPTIONS synthesis; must be called
// before Freeze.
func (r *Router[H]) WithOptionsSynthesis(enabled bool) *Router[H] {
	r.optionsF = enabled
	return r
}

// WithHeadToGetFallback enables falling back unmatched HEAD lookups to
// the path's GET handler; must be called before Freeze.
func (r *Router[H]) WithHeadToGetFallback(enabled bool) *Router[H] {
	r.headGet = enabled
	return r
}

// Add registers a handler for (method, path). Duplicate registration of
// the same (method, path) panics, as does calling Add after Freeze.
func (r *Router[H]) Add(method, path string, handler H) {
	if r.frozen.Load() {
		panic("router: Add called after Freeze")
	}

	r.mu.Lock()
	defer r.mu.Unlock()

	old := r.routes.Load().(map[key]H)
	k := key{method, path}
	if _, exists := old[k]; exists {
		panic(fmt.Sprintf("router: duplicate route %s %s", method, path))
	}

	next := make(map[key]H, len(old)+1)
	for existingKey, h := range old {
		next[existingKey] = h
	}
	next[k] = handler

	r.routes.Store(next)
}

// Freeze marks the router immutable. Lookup is safe to call concurrently
// with or without a prior Freeze; Freeze exists to make the "no further
// mutation" contract explicit and to let Add fail fast on misuse.
func (r *Router[H]) Freeze() {
	r.frozen.Store(true)
}

// Lookup returns the handler registered for (method, path), or the zero
// value and false if none matches (including the HEAD-to-GET fallback
// when enabled).
func (r *Router[H]) Lookup(method, path string) (H, bool) {
	routes := r.routes.Load().(map[key]H)

	if h, ok := routes[key{method, path}]; ok {
		return h, true
	}

	if r.headGet && method == "HEAD" {
		if h, ok := routes[key{"GET", path}]; ok {
			return h, true
		}
	}

	var zero H
	return zero, false
}

// HasOptionsSynthesis reports whether per-path OPTIONS synthesis is
// enabled, so the connection layer can decide whether to special-case an
// unmatched OPTIONS request instead of returning 404.
func (r *Router[H]) HasOptionsSynthesis() bool {
	return r.optionsF
}

// AllowedMethods returns every method registered for path, used by
// OPTIONS synthesis to build the Allow header.
func (r *Router[H]) AllowedMethods(path string) []string {
	routes := r.routes.Load().(map[key]H)
	var methods []string
	for k := range routes {
		if k.path == path {
			methods = append(methods, k.method)
		}
	}
	return methods
}
