package plugin

import (
	"context"
	"errors"
	"fmt"
	"io"
	"slices"
	"sync"
	"sync/atomic"

	"github.com/charmbracelet/log"
)

// Manager is the entry point for loading modules after startup. It resolves
// sources through discovery and forwards to the Container. After Shutdown
// it stops accepting new loads.
//
// Load, Unload, Reload and Shutdown run one at a time, so a reload is never
// interleaved with another mutation.
type Manager struct {
	container *Container
	discovery Discovery

	ops       sync.Mutex
	accepting atomic.Bool

	mu            sync.RWMutex
	eventHandlers []EventHandler

	logger *log.Logger
}

// EventHandler handles manager events. Handlers run while the Manager holds
// its operation lock and must not call Load, Unload, Reload or Shutdown.
// Panics in handlers are recovered.
type EventHandler func(event ManagerEvent)

// ManagerEvent represents a manager event.
type ManagerEvent struct {
	Type   ManagerEventType
	Module string
	Error  error
}

// ManagerEventType distinguishes manager events.
type ManagerEventType int

const (
	// EventModuleLoaded is emitted when a module is loaded.
	EventModuleLoaded ManagerEventType = iota
	// EventModuleUnloaded is emitted for every module unloaded, cascades included.
	EventModuleUnloaded
	// EventModuleReloaded is emitted when a module is loaded again by Reload.
	EventModuleReloaded
	// EventModuleError is emitted when a load or reload fails.
	EventModuleError
	// EventShutdown is emitted once Shutdown has unloaded everything.
	EventShutdown
)

// String returns the lower-case event name.
func (t ManagerEventType) String() string {
	switch t {
	case EventModuleLoaded:
		return "loaded"
	case EventModuleUnloaded:
		return "unloaded"
	case EventModuleReloaded:
		return "reloaded"
	case EventModuleError:
		return "error"
	case EventShutdown:
		return "shutdown"
	default:
		return "unknown"
	}
}

// ManagerOption configures a Manager.
type ManagerOption func(*Manager)

// WithManagerLogger sets the logger.
func WithManagerLogger(logger *log.Logger) ManagerOption {
	return func(m *Manager) {
		if logger != nil {
			m.logger = logger
		}
	}
}

// NewManager creates a Manager over container. discovery may be nil, in
// which case only LoadableModule sources can be loaded.
func NewManager(container *Container, discovery Discovery, opts ...ManagerOption) *Manager {
	m := &Manager{
		container: container,
		discovery: discovery,
		logger:    log.New(io.Discard),
	}
	for _, opt := range opts {
		opt(m)
	}
	m.logger = m.logger.With("component", "manager")
	m.accepting.Store(true)
	return m
}

// Load loads the module src refers to. src is either a LoadableModule or
// a reference understood by discovery, such as a path. After Shutdown,
// Load does nothing and returns (nil, nil).
func (m *Manager) Load(ctx context.Context, src any) (*LoadedModule, error) {
	m.ops.Lock()
	defer m.ops.Unlock()

	if !m.accepting.Load() {
		return nil, nil
	}

	loaded, err := m.loadSource(ctx, src)
	if err != nil {
		m.emitEvent(ManagerEvent{Type: EventModuleError, Module: loadErrorID(err), Error: err})
		return nil, err
	}

	m.emitEvent(ManagerEvent{Type: EventModuleLoaded, Module: loaded.ID()})
	return loaded, nil
}

// loadSource resolves src and loads it. The caller holds ops.
func (m *Manager) loadSource(ctx context.Context, src any) (*LoadedModule, error) {
	loadable, ok := src.(LoadableModule)
	if !ok {
		if m.discovery == nil {
			return nil, loadErrorf("", ErrModuleNotFound, "no discovery for %v", src)
		}

		var err error
		loadable, ok, err = m.discovery.DiscoverFrom(ctx, src)
		if err != nil {
			return nil, &LoadError{Reason: fmt.Sprintf("discover %v", src), Err: fmt.Errorf("%w: %w", ErrModuleNotFound, err)}
		}
		if !ok {
			return nil, loadErrorf("", ErrModuleNotFound, "no module at %v", src)
		}
	}

	return m.container.Load(ctx, loadable)
}

// Unload unloads mod and its dependants. It returns the ids unloaded.
func (m *Manager) Unload(ctx context.Context, mod *LoadedModule) []string {
	m.ops.Lock()
	defer m.ops.Unlock()
	return m.unload(ctx, mod)
}

func (m *Manager) unload(ctx context.Context, mod *LoadedModule) []string {
	ids := m.container.Unload(ctx, mod)
	for _, id := range ids {
		m.emitEvent(ManagerEvent{Type: EventModuleUnloaded, Module: id})
	}
	return ids
}

// UnloadByID unloads the module loaded under id.
func (m *Manager) UnloadByID(ctx context.Context, id string) ([]string, error) {
	mod, ok := m.container.Get(id)
	if !ok {
		return nil, fmt.Errorf("module %q: %w", id, ErrModuleNotFound)
	}
	return m.Unload(ctx, mod), nil
}

// Reload unloads ms together with every module depending on them and
// loads them again from their retained sources, dependencies first.
//
// Reload is not atomic. If loading the k-th module fails, the modules
// before it are active again and it and the rest stay unloaded; the
// returned *ReloadError names both groups. A Shutdown issued meanwhile stops
// the reload before its next module with ErrShuttingDown.
func (m *Manager) Reload(ctx context.Context, ms ...*LoadedModule) ([]*LoadedModule, error) {
	m.ops.Lock()
	defer m.ops.Unlock()

	if !m.accepting.Load() {
		return nil, nil
	}

	closure := m.container.OrderedDependencies(ms...)
	if len(closure) == 0 {
		return nil, nil
	}

	for i := len(closure) - 1; i >= 0; i-- {
		m.unload(ctx, closure[i])
	}

	reloaded := make([]*LoadedModule, 0, len(closure))
	for k, old := range closure {
		var (
			loaded *LoadedModule
			err    = ErrShuttingDown
		)
		if m.accepting.Load() {
			loaded, err = m.loadSource(ctx, old.Source())
		}
		if err != nil {
			rerr := &ReloadError{
				Failed:   old.ID(),
				Reloaded: moduleIDs(reloaded),
				Pending:  moduleIDs(closure[k+1:]),
				Err:      err,
			}
			m.logger.Error("reload failed", "id", old.ID(), "pending", rerr.Pending, "err", err)
			m.emitEvent(ManagerEvent{Type: EventModuleError, Module: old.ID(), Error: rerr})
			return reloaded, rerr
		}
		reloaded = append(reloaded, loaded)
		m.emitEvent(ManagerEvent{Type: EventModuleReloaded, Module: loaded.ID()})
	}
	return reloaded, nil
}

// ReloadByID reloads the modules loaded under ids.
func (m *Manager) ReloadByID(ctx context.Context, ids ...string) ([]*LoadedModule, error) {
	ms := make([]*LoadedModule, 0, len(ids))
	for _, id := range ids {
		mod, ok := m.container.Get(id)
		if !ok {
			return nil, fmt.Errorf("module %q: %w", id, ErrModuleNotFound)
		}
		ms = append(ms, mod)
	}
	return m.Reload(ctx, ms...)
}

// Shutdown stops accepting loads, waits for a running operation and
// unloads every module, most dependent first. It is idempotent.
func (m *Manager) Shutdown(ctx context.Context) {
	first := m.accepting.CompareAndSwap(true, false)
	m.ops.Lock()
	defer m.ops.Unlock()
	if !first {
		return
	}

	mods := m.container.Modules()
	slices.Reverse(mods)
	for _, mod := range mods {
		m.unload(ctx, mod)
	}

	m.logger.Info("shutdown complete", "unloaded", len(mods))
	m.emitEvent(ManagerEvent{Type: EventShutdown})
}

// Accepting reports whether new loads are accepted.
func (m *Manager) Accepting() bool {
	return m.accepting.Load()
}

// Get returns the loaded module with the given id.
func (m *Manager) Get(id string) (*LoadedModule, bool) {
	return m.container.Get(id)
}

// IsLoaded reports whether a module with the given id is loaded.
func (m *Manager) IsLoaded(id string) bool {
	return m.container.IsLoaded(id)
}

// Modules returns every loaded module in load order.
func (m *Manager) Modules() []*LoadedModule {
	return m.container.Modules()
}

// FindByInstance returns the loaded module whose instance is inst.
func (m *Manager) FindByInstance(inst Module) (*LoadedModule, bool) {
	return m.container.FindByInstance(inst)
}

// Container returns the underlying container.
func (m *Manager) Container() *Container {
	return m.container
}

// Subscribe registers handler for manager events. Calling the returned
// function detaches it again.
func (m *Manager) Subscribe(handler EventHandler) func() {
	if handler == nil {
		return func() {}
	}

	m.mu.Lock()
	m.eventHandlers = append(m.eventHandlers, handler)
	index := len(m.eventHandlers) - 1
	m.mu.Unlock()

	return func() {
		m.mu.Lock()
		defer m.mu.Unlock()
		// Slots stay in place so other handlers keep their index.
		if index < len(m.eventHandlers) {
			m.eventHandlers[index] = nil
		}
	}
}

// emitEvent passes event to every handler. Handler panics are recovered.
func (m *Manager) emitEvent(event ManagerEvent) {
	m.mu.RLock()
	handlers := make([]EventHandler, len(m.eventHandlers))
	copy(handlers, m.eventHandlers)
	m.mu.RUnlock()

	for _, handler := range handlers {
		if handler == nil {
			continue
		}
		func() {
			defer func() {
				if r := recover(); r != nil {
					m.logger.Error("event handler panic", "event", event.Type, "err", r)
				}
			}()
			handler(event)
		}()
	}
}

// moduleIDs returns the ids of ms.
func moduleIDs(ms []*LoadedModule) []string {
	ids := make([]string, len(ms))
	for i, mod := range ms {
		ids[i] = mod.ID()
	}
	return ids
}

// loadErrorID returns the module id carried by err, if any.
func loadErrorID(err error) string {
	var le *LoadError
	if errors.As(err, &le) {
		return le.ID
	}
	return ""
}
