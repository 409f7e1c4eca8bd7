package isolation

import "sync"

// Finder looks up names inside a single module. Implementations must be
// safe for concurrent use; they are called from arbitrary goroutines.
type Finder interface {
	// Find returns the module's own symbol called name.
	Find(name string) (any, bool)

	// FindAll returns every resource called name contributed by the module.
	FindAll(name string) []any
}

// Closer is implemented by finders that hold resources released together
// with their context.
type Closer interface {
	Close() error
}

// StaticFinder is a Finder backed by maps. It is used by Go-native modules
// and tests.
type StaticFinder struct {
	mu        sync.RWMutex
	symbols   map[string]any
	resources map[string][]any
}

// NewStaticFinder creates an empty StaticFinder.
func NewStaticFinder() *StaticFinder {
	return &StaticFinder{
		symbols:   make(map[string]any),
		resources: make(map[string][]any),
	}
}

// Set stores a symbol.
func (f *StaticFinder) Set(name string, value any) *StaticFinder {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.symbols[name] = value
	return f
}

// Add appends a resource.
func (f *StaticFinder) Add(name string, value any) *StaticFinder {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.resources[name] = append(f.resources[name], value)
	return f
}

// Find implements Finder.
func (f *StaticFinder) Find(name string) (any, bool) {
	f.mu.RLock()
	defer f.mu.RUnlock()
	v, ok := f.symbols[name]
	return v, ok
}

// FindAll implements Finder.
func (f *StaticFinder) FindAll(name string) []any {
	f.mu.RLock()
	defer f.mu.RUnlock()
	return append([]any(nil), f.resources[name]...)
}
