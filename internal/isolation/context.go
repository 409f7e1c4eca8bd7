package isolation

import "sync"

// Context is the namespace of one loaded module. It implements Handle.
type Context struct {
	name     string
	finder   Finder
	registry *Registry

	mu         sync.Mutex
	delegating map[string]int
	released   bool
}

var _ Handle = (*Context)(nil)

// Name returns the module name the context was registered for.
func (c *Context) Name() string {
	return c.name
}

// Resolve looks name up in the module itself, then in every other module.
// A name this context is currently resolving on behalf of another context is
// only looked up locally.
func (c *Context) Resolve(name string) (any, bool) {
	if v, ok := c.find(name); ok {
		return v, true
	}
	return c.Delegate(name)
}

// Delegate looks name up in every other module only.
func (c *Context) Delegate(name string) (any, bool) {
	if c.isReleased() || c.inFlight(name) {
		return nil, false
	}
	return c.registry.Resolve(name, c)
}

// DelegateAll collects the matches of every other module only.
func (c *Context) DelegateAll(name string) []any {
	if c.isReleased() || c.inFlight(name) {
		return nil
	}
	return c.registry.Enumerate(name, c)
}

// Enumerate returns the module's own matches followed by the matches of
// every other module.
func (c *Context) Enumerate(name string) []any {
	if c.isReleased() {
		return nil
	}
	return append(c.finder.FindAll(name), c.DelegateAll(name)...)
}

// Release unregisters the context and closes its finder. Further lookups
// through the context miss. Calling Release again is a no-op.
func (c *Context) Release() {
	c.mu.Lock()
	if c.released {
		c.mu.Unlock()
		return
	}
	c.released = true
	c.mu.Unlock()

	c.registry.remove(c)
	if closer, ok := c.finder.(Closer); ok {
		if err := closer.Close(); err != nil {
			c.registry.logger.Warn("closing isolation context", "module", c.name, "err", err)
		}
	}
}

// Released reports whether Release has been called.
func (c *Context) Released() bool {
	return c.isReleased()
}

// resolveDelegated answers a lookup issued by the registry on behalf of
// another context. While the name is in flight here the context does not
// delegate it again. A request arriving meanwhile, from the same chain or a
// concurrent one, still sees the module's own symbols.
func (c *Context) resolveDelegated(name string) (any, bool) {
	if !c.enter(name) {
		return c.find(name)
	}
	defer c.leave(name)
	return c.Resolve(name)
}

// enumerateDelegated is the enumeration counterpart of resolveDelegated.
func (c *Context) enumerateDelegated(name string) []any {
	if !c.enter(name) {
		if c.isReleased() {
			return nil
		}
		return c.finder.FindAll(name)
	}
	defer c.leave(name)
	return c.Enumerate(name)
}

func (c *Context) find(name string) (any, bool) {
	if c.isReleased() {
		return nil, false
	}
	return c.finder.Find(name)
}

// enter marks name as delegated to this context. It reports false when the
// name is already in flight or the context is released.
func (c *Context) enter(name string) bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.released || c.delegating[name] > 0 {
		return false
	}
	c.delegating[name]++
	return true
}

func (c *Context) leave(name string) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.delegating[name]--
	if c.delegating[name] <= 0 {
		delete(c.delegating, name)
	}
}

func (c *Context) inFlight(name string) bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.delegating[name] > 0
}

func (c *Context) isReleased() bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.released
}
