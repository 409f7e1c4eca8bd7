package plugin

import (
	"context"
	"fmt"
	"io"
	"maps"

	"github.com/charmbracelet/log"

	"github.com/dshills/modhost/internal/isolation"
	plua "github.com/dshills/modhost/internal/plugin/lua"
)

// LuaRuntime instantiates Lua modules. Each module gets its own state and
// an isolation context in the shared registry.
type LuaRuntime struct {
	registry  *isolation.Registry
	stateOpts []plua.StateOption
	config    map[string]map[string]any
	logger    *log.Logger
}

// LuaRuntimeOption configures a LuaRuntime.
type LuaRuntimeOption func(*LuaRuntime)

// WithStateOptions sets the options every Lua state is created with.
func WithStateOptions(opts ...plua.StateOption) LuaRuntimeOption {
	return func(r *LuaRuntime) {
		r.stateOpts = opts
	}
}

// WithModuleConfig sets per-module configuration, keyed by module id. It
// overrides the manifest's config keys.
func WithModuleConfig(config map[string]map[string]any) LuaRuntimeOption {
	return func(r *LuaRuntime) {
		r.config = config
	}
}

// WithRuntimeLogger sets the logger modules log through.
func WithRuntimeLogger(logger *log.Logger) LuaRuntimeOption {
	return func(r *LuaRuntime) {
		if logger != nil {
			r.logger = logger
		}
	}
}

// NewLuaRuntime creates a LuaRuntime over registry.
func NewLuaRuntime(registry *isolation.Registry, opts ...LuaRuntimeOption) *LuaRuntime {
	r := &LuaRuntime{
		registry: registry,
		logger:   log.New(io.Discard),
	}
	for _, opt := range opts {
		opt(r)
	}
	return r
}

// Loadable is a LoadableFactory producing Lua modules.
func (r *LuaRuntime) Loadable(manifest *Manifest, source string) LoadableModule {
	return &LuaLoadable{runtime: r, manifest: manifest, source: source}
}

// moduleConfig merges the manifest's config with the host's.
func (r *LuaRuntime) moduleConfig(manifest *Manifest) map[string]any {
	config := make(map[string]any, len(manifest.Config))
	maps.Copy(config, manifest.Config)
	maps.Copy(config, r.config[manifest.ID])
	return config
}

// LuaLoadable is a Lua module that has not been loaded yet.
type LuaLoadable struct {
	runtime  *LuaRuntime
	manifest *Manifest
	source   string
}

// Manifest returns the module's manifest.
func (l *LuaLoadable) Manifest() *Manifest {
	return l.manifest
}

// Source returns the path the module was discovered at.
func (l *LuaLoadable) Source() any {
	return l.source
}

// Load creates the module's state, links it into the registry and runs its
// entry file. Nothing is left behind on failure.
func (l *LuaLoadable) Load(ctx context.Context) (*LoadedModule, error) {
	id := l.manifest.ID

	state, err := plua.NewState(l.runtime.stateOpts...)
	if err != nil {
		return nil, &LoadError{ID: id, Reason: "create lua state", Err: fmt.Errorf("%w: %w", ErrInstantiation, err)}
	}

	exports := plua.NewExports()
	link, err := l.runtime.registry.NewContext(id, exports)
	if err != nil {
		_ = state.Close()
		return nil, &LoadError{ID: id, Reason: "register isolation context", Err: fmt.Errorf("%w: %w", ErrInstantiation, err)}
	}

	info := plua.ModuleInfo{ID: id, Version: l.manifest.Version}
	plua.InstallModuleAPI(state, info, exports, link, l.runtime.logger)

	if err := state.DoFile(ctx, l.manifest.EntryPath()); err != nil {
		link.Release()
		_ = state.Close()
		return nil, &LoadError{ID: id, Reason: "run " + l.manifest.Entry, Err: fmt.Errorf("%w: %w", ErrInstantiation, err)}
	}

	module := &LuaModule{
		id:      id,
		state:   state,
		exports: exports,
		config:  l.runtime.moduleConfig(l.manifest),
	}
	handle := &luaHandle{Context: link, state: state}
	return NewLoadedModule(l.manifest, l.source, module, handle), nil
}

// luaHandle releases the isolation context and closes the state together.
type luaHandle struct {
	*isolation.Context
	state *plua.State
}

// Release implements isolation.Handle.
func (h *luaHandle) Release() {
	h.Context.Release()
	_ = h.state.Close()
}

// LuaModule is a loaded Lua module.
//
// OnLoad calls the module's setup(config) and then on_load(); OnUnload
// calls on_unload(). Each function is optional.
type LuaModule struct {
	id      string
	state   *plua.State
	exports *plua.Exports
	config  map[string]any
}

// OnLoad implements Module.
func (m *LuaModule) OnLoad(ctx context.Context) error {
	if m.state.HasFunction("setup") {
		if _, err := m.state.Call(ctx, "setup", m.config); err != nil {
			return fmt.Errorf("%s: setup: %w", m.id, err)
		}
	}
	if m.state.HasFunction("on_load") {
		if _, err := m.state.Call(ctx, "on_load"); err != nil {
			return fmt.Errorf("%s: on_load: %w", m.id, err)
		}
	}
	return nil
}

// OnUnload implements Module.
func (m *LuaModule) OnUnload(ctx context.Context) error {
	if m.state.HasFunction("on_unload") {
		if _, err := m.state.Call(ctx, "on_unload"); err != nil {
			return fmt.Errorf("%s: on_unload: %w", m.id, err)
		}
	}
	return nil
}

// Call invokes a global function of the module.
func (m *LuaModule) Call(ctx context.Context, fn string, args ...any) ([]any, error) {
	return m.state.Call(ctx, fn, args...)
}

// Export returns a symbol the module exported.
func (m *LuaModule) Export(name string) (any, bool) {
	return m.exports.Find(name)
}

// Exports returns the names of the module's exported symbols.
func (m *LuaModule) Exports() []string {
	return m.exports.Symbols()
}

// Config returns the configuration passed to setup.
func (m *LuaModule) Config() map[string]any {
	return m.config
}
