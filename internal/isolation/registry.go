package isolation

import (
	"sync"

	"github.com/charmbracelet/log"
)

// Handle is the per-module isolation handle held by a loaded module.
type Handle interface {
	// Resolve looks up a symbol in the module, then in every other module.
	Resolve(name string) (any, bool)

	// Enumerate collects resources from the module and every other module.
	Enumerate(name string) []any

	// Release unregisters the handle and frees its resources.
	Release()
}

// Registry owns the set of live contexts.
type Registry struct {
	mu       sync.Mutex
	contexts []*Context
	closed   bool
	logger   *log.Logger
}

// RegistryOption configures a Registry.
type RegistryOption func(*Registry)

// WithLogger sets the logger used for release failures.
func WithLogger(logger *log.Logger) RegistryOption {
	return func(r *Registry) {
		if logger != nil {
			r.logger = logger
		}
	}
}

// NewRegistry creates an empty registry.
func NewRegistry(opts ...RegistryOption) *Registry {
	r := &Registry{
		logger: log.Default(),
	}
	for _, opt := range opts {
		opt(r)
	}
	r.logger = r.logger.With("component", "isolation")
	return r
}

// NewContext registers a context for the named module. Contexts are asked in
// the order they were registered.
func (r *Registry) NewContext(name string, finder Finder) (*Context, error) {
	c := &Context{
		name:       name,
		finder:     finder,
		registry:   r,
		delegating: make(map[string]int),
	}

	r.mu.Lock()
	defer r.mu.Unlock()
	if r.closed {
		return nil, ErrRegistryClosed
	}
	r.contexts = append(r.contexts, c)
	return c, nil
}

// Resolve asks every registered context except exclude for name and returns
// the first hit.
func (r *Registry) Resolve(name string, exclude *Context) (any, bool) {
	for _, c := range r.others(exclude) {
		if v, ok := c.resolveDelegated(name); ok {
			return v, true
		}
	}
	return nil, false
}

// Enumerate concatenates the matches of every registered context except exclude.
func (r *Registry) Enumerate(name string, exclude *Context) []any {
	var out []any
	for _, c := range r.others(exclude) {
		out = append(out, c.enumerateDelegated(name)...)
	}
	return out
}

// Names returns the names of the registered contexts in registration order.
func (r *Registry) Names() []string {
	r.mu.Lock()
	defer r.mu.Unlock()
	names := make([]string, 0, len(r.contexts))
	for _, c := range r.contexts {
		names = append(names, c.name)
	}
	return names
}

// Len returns the number of registered contexts.
func (r *Registry) Len() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return len(r.contexts)
}

// Close releases every context and rejects new ones.
func (r *Registry) Close() {
	r.mu.Lock()
	r.closed = true
	contexts := append([]*Context(nil), r.contexts...)
	r.mu.Unlock()

	for _, c := range contexts {
		c.Release()
	}
}

// others snapshots the member list without exclude.
func (r *Registry) others(exclude *Context) []*Context {
	r.mu.Lock()
	defer r.mu.Unlock()
	out := make([]*Context, 0, len(r.contexts))
	for _, c := range r.contexts {
		if c != exclude {
			out = append(out, c)
		}
	}
	return out
}

// remove drops c from the member list. It reports whether c was present.
func (r *Registry) remove(c *Context) bool {
	r.mu.Lock()
	defer r.mu.Unlock()
	for i, cur := range r.contexts {
		if cur == c {
			r.contexts = append(r.contexts[:i], r.contexts[i+1:]...)
			return true
		}
	}
	return false
}
