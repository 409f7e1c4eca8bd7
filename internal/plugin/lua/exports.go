package lua

import (
	"sync"

	lua "github.com/yuin/gopher-lua"
)

// export is a value published by a module: the raw Lua value for use inside
// the owning state and its Go conversion for everyone else.
type export struct {
	raw   lua.LValue
	value any
}

// Exports holds the symbols and resources a module publishes. It satisfies
// isolation.Finder and never touches the Lua state, so lookups from other
// modules do not contend for the owning VM.
type Exports struct {
	mu        sync.RWMutex
	symbols   map[string]export
	resources map[string][]export
}

// NewExports creates an empty export table.
func NewExports() *Exports {
	return &Exports{
		symbols:   make(map[string]export),
		resources: make(map[string][]export),
	}
}

// SetSymbol publishes a symbol, replacing any previous one with the same name.
func (e *Exports) SetSymbol(name string, raw lua.LValue, value any) {
	e.mu.Lock()
	defer e.mu.Unlock()
	e.symbols[name] = export{raw: raw, value: value}
}

// AddResource appends a resource under name.
func (e *Exports) AddResource(name string, raw lua.LValue, value any) {
	e.mu.Lock()
	defer e.mu.Unlock()
	e.resources[name] = append(e.resources[name], export{raw: raw, value: value})
}

// Find returns the converted value of the symbol called name.
func (e *Exports) Find(name string) (any, bool) {
	e.mu.RLock()
	defer e.mu.RUnlock()
	sym, ok := e.symbols[name]
	if !ok {
		return nil, false
	}
	return sym.value, true
}

// FindAll returns the converted values of every resource called name.
func (e *Exports) FindAll(name string) []any {
	e.mu.RLock()
	defer e.mu.RUnlock()
	list := e.resources[name]
	if len(list) == 0 {
		return nil
	}
	out := make([]any, len(list))
	for i, r := range list {
		out[i] = r.value
	}
	return out
}

// LocalSymbol returns the raw Lua value of an own symbol.
func (e *Exports) LocalSymbol(name string) (lua.LValue, bool) {
	e.mu.RLock()
	defer e.mu.RUnlock()
	sym, ok := e.symbols[name]
	return sym.raw, ok
}

// LocalResources returns the raw Lua values of own resources called name.
func (e *Exports) LocalResources(name string) []lua.LValue {
	e.mu.RLock()
	defer e.mu.RUnlock()
	list := e.resources[name]
	out := make([]lua.LValue, len(list))
	for i, r := range list {
		out[i] = r.raw
	}
	return out
}

// Symbols returns the names of all published symbols.
func (e *Exports) Symbols() []string {
	e.mu.RLock()
	defer e.mu.RUnlock()
	names := make([]string, 0, len(e.symbols))
	for name := range e.symbols {
		names = append(names, name)
	}
	return names
}

// Close drops every published value.
func (e *Exports) Close() error {
	e.mu.Lock()
	defer e.mu.Unlock()
	e.symbols = make(map[string]export)
	e.resources = make(map[string][]export)
	return nil
}
