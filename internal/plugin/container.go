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

	"github.com/dshills/modhost/internal/graph"
)

// Container owns the set of loaded modules and the graph of their
// dependencies. It is the only component that mutates either.
//
// Every load and unload is serialized by one mutex that stays held while
// module callbacks run. Module code must not call back into the Container
// from OnLoad or OnUnload on the same goroutine. Reads go through an
// atomically published snapshot and never block; they may be stale.
type Container struct {
	mu sync.Mutex

	// Guarded by mu. A key is in modules iff it is in graph.
	modules map[string]*LoadedModule
	graph   *graph.Graph[string, *LoadedModule]
	states  map[string]State

	snapshot atomic.Pointer[containerSnapshot]

	observers  []Observer
	validators []Validator

	logger *log.Logger
}

// containerSnapshot is an immutable view of the container for readers.
type containerSnapshot struct {
	byID   map[string]*LoadedModule
	order  []*LoadedModule
	states map[string]State
}

// ContainerOption configures a Container.
type ContainerOption func(*Container)

// WithContainerLogger sets the logger.
func WithContainerLogger(logger *log.Logger) ContainerOption {
	return func(c *Container) {
		if logger != nil {
			c.logger = logger
		}
	}
}

// WithObserver adds an observer after the default LogObserver.
func WithObserver(o Observer) ContainerOption {
	return func(c *Container) {
		c.observers = append(c.observers, o)
	}
}

// WithValidator adds a load precondition.
func WithValidator(v Validator) ContainerOption {
	return func(c *Container) {
		c.validators = append(c.validators, v)
	}
}

// NewContainer creates an empty Container.
func NewContainer(opts ...ContainerOption) *Container {
	c := &Container{
		modules: make(map[string]*LoadedModule),
		graph:   graph.New[string, *LoadedModule](),
		states:  make(map[string]State),
		logger:  log.New(io.Discard),
	}

	for _, opt := range opts {
		opt(c)
	}

	c.logger = c.logger.With("component", "container")
	c.observers = append([]Observer{NewLogObserver(c.logger)}, c.observers...)
	c.publishLocked()
	return c
}

// AddObserver registers an observer.
func (c *Container) AddObserver(o Observer) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.observers = append(c.observers, o)
}

// Load instantiates and activates a module.
//
// The module is validated, instantiated, inserted into the graph and then
// activated. If activation fails, the module is unloaded again before Load
// returns, so callers never see a loaded but inactive module.
func (c *Container) Load(ctx context.Context, loadable LoadableModule) (*LoadedModule, error) {
	if loadable == nil || loadable.Manifest() == nil {
		return nil, &LoadError{Reason: "no manifest", Err: ErrNilManifest}
	}
	id := loadable.Manifest().ID

	c.mu.Lock()
	defer c.mu.Unlock()

	if err := c.ensureLoadableLocked(loadable); err != nil {
		c.notifyLoadFailed(id, err)
		return nil, err
	}

	c.setStateLocked(id, StateLoading)

	loaded, err := c.instantiate(ctx, loadable)
	if err != nil {
		c.setStateLocked(id, StateAbsent)
		lerr := asLoadError(id, ErrInstantiation, err)
		c.notifyLoadFailed(id, lerr)
		return nil, lerr
	}

	if err := c.insertLocked(loaded); err != nil {
		loaded.Detach()
		c.setStateLocked(id, StateAbsent)
		c.notifyLoadFailed(id, err)
		return nil, err
	}

	if err := c.activate(ctx, loaded); err != nil {
		c.unloadLocked(ctx, loaded)
		lerr := &LoadError{ID: id, Reason: "activation failed", Err: fmt.Errorf("%w: %w", ErrActivation, err)}
		c.notifyLoadFailed(id, lerr)
		return nil, lerr
	}

	c.setStateLocked(id, StateActive)
	for _, o := range c.observers {
		c.notify("loaded", id, func() { o.OnLoaded(loaded) })
	}
	return loaded, nil
}

// EnsureLoadable checks that loadable could be loaded right now: its id is
// free, its dependencies are loaded and every validator accepts it.
func (c *Container) EnsureLoadable(loadable LoadableModule) error {
	if loadable == nil || loadable.Manifest() == nil {
		return &LoadError{Reason: "no manifest", Err: ErrNilManifest}
	}

	c.mu.Lock()
	defer c.mu.Unlock()
	return c.ensureLoadableLocked(loadable)
}

func (c *Container) ensureLoadableLocked(loadable LoadableModule) error {
	manifest := loadable.Manifest()

	if existing, ok := c.modules[manifest.ID]; ok {
		return newAlreadyLoadedError(existing)
	}

	deps := make(map[string]*LoadedModule, len(manifest.DependsOn))
	for _, dep := range manifest.DependsOn {
		if dep == manifest.ID {
			return loadErrorf(manifest.ID, ErrCyclicDependency, "'%s' depends on itself", dep)
		}
		m, ok := c.modules[dep]
		if !ok {
			return loadErrorf(manifest.ID, ErrUnknownDependency, "unknown dependency %q", dep)
		}
		deps[dep] = m
	}

	for _, v := range c.validators {
		if err := v.Validate(manifest, deps); err != nil {
			return asLoadError(manifest.ID, ErrPrecondition, err)
		}
	}
	return nil
}

// instantiate calls loadable.Load, turning panics and nil results into errors.
func (c *Container) instantiate(ctx context.Context, loadable LoadableModule) (loaded *LoadedModule, err error) {
	defer func() {
		if r := recover(); r != nil {
			err = fmt.Errorf("panic: %v", r)
		}
	}()

	loaded, err = loadable.Load(ctx)
	if err != nil {
		return nil, err
	}
	if loaded == nil || loaded.Manifest() == nil {
		return nil, errors.New("loader returned no module")
	}
	if loaded.ID() != loadable.Manifest().ID {
		loaded.Detach()
		return nil, fmt.Errorf("loader returned module %q", loaded.ID())
	}
	return loaded, nil
}

// insertLocked adds loaded to the map and the graph with edges from its
// dependencies.
func (c *Container) insertLocked(loaded *LoadedModule) error {
	id := loaded.ID()
	node := c.graph.GetOrCreate(id, loaded)

	for _, dep := range loaded.Manifest().DependsOn {
		depNode, ok := c.graph.Get(dep)
		if !ok || !c.graph.AddEdge(depNode, node) {
			c.graph.RemoveNode(id)
			return loadErrorf(id, ErrCyclicDependency, "cannot link %q to %q", id, dep)
		}
	}

	c.modules[id] = loaded
	return nil
}

// activate runs the OnLoading observers and the module's OnLoad.
func (c *Container) activate(ctx context.Context, loaded *LoadedModule) (err error) {
	for _, o := range c.observers {
		if err := observe(func() { o.OnLoading(loaded) }); err != nil {
			return err
		}
	}

	instance := loaded.Instance()
	if instance == nil {
		return nil
	}

	defer func() {
		if r := recover(); r != nil {
			err = fmt.Errorf("OnLoad panic: %v", r)
		}
	}()
	return instance.OnLoad(ctx)
}

// Unload unloads m and every module that depends on it, most dependent
// first. It returns the ids unloaded, in order. Unloading a module that is
// not loaded, or that has been replaced by a newer instance, does nothing.
func (c *Container) Unload(ctx context.Context, m *LoadedModule) []string {
	if m == nil {
		return nil
	}

	c.mu.Lock()
	defer c.mu.Unlock()
	return c.unloadLocked(ctx, m)
}

func (c *Container) unloadLocked(ctx context.Context, m *LoadedModule) []string {
	current, ok := c.modules[m.ID()]
	if !ok || current != m {
		return nil
	}

	targets := c.orderedDependantsLocked(m)
	slices.Reverse(targets)
	targets = append(targets, m)

	ids := make([]string, 0, len(targets))
	for _, t := range targets {
		c.unloadOneLocked(ctx, t)
		ids = append(ids, t.ID())
	}
	return ids
}

// unloadOneLocked tears down a single module. It always completes.
func (c *Container) unloadOneLocked(ctx context.Context, m *LoadedModule) {
	id := m.ID()
	c.setStateLocked(id, StateUnloading)

	for _, o := range c.observers {
		c.notify("unloading", id, func() { o.OnUnloading(m) })
	}

	if instance := m.Instance(); instance != nil {
		if err := safeUnload(ctx, instance); err != nil {
			c.logger.Error("module unload failed", "id", id, "err", err)
		}
	}

	delete(c.modules, id)
	c.graph.RemoveNode(id)
	c.setStateLocked(id, StateAbsent)

	m.Detach()

	for _, o := range c.observers {
		c.notify("unloaded", id, func() { o.OnUnloaded(m) })
	}
}

// safeUnload calls OnUnload, turning a panic into an error.
func safeUnload(ctx context.Context, instance Module) (err error) {
	defer func() {
		if r := recover(); r != nil {
			err = fmt.Errorf("OnUnload panic: %v", r)
		}
	}()
	return instance.OnUnload(ctx)
}

// OrderedDependants returns every module that transitively depends on m,
// in load order.
func (c *Container) OrderedDependants(m *LoadedModule) []*LoadedModule {
	if m == nil {
		return nil
	}

	c.mu.Lock()
	defer c.mu.Unlock()
	return c.orderedDependantsLocked(m)
}

func (c *Container) orderedDependantsLocked(m *LoadedModule) []*LoadedModule {
	closure := c.closureLocked(m)
	out := closure[:0]
	for _, d := range closure {
		if d != m {
			out = append(out, d)
		}
	}
	return out
}

// OrderedDependencies returns ms together with every module that depends
// on any of them, in load order. This is the set a reload must cycle.
// Modules that are no longer loaded are ignored.
func (c *Container) OrderedDependencies(ms ...*LoadedModule) []*LoadedModule {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.closureLocked(ms...)
}

// closureLocked is the topological order of the subgraph reachable from ms.
func (c *Container) closureLocked(ms ...*LoadedModule) []*LoadedModule {
	roots := make([]*graph.Node[string, *LoadedModule], 0, len(ms))
	for _, m := range ms {
		if m == nil {
			continue
		}
		node, ok := c.graph.Get(m.ID())
		if !ok || node.Value() != m {
			continue
		}
		roots = append(roots, node)
	}
	if len(roots) == 0 {
		return nil
	}

	order, err := c.graph.TopologicalOrder(roots...)
	if err != nil {
		// addEdge never creates cycles; reaching this means the graph is corrupt.
		c.logger.Error("dependency graph corrupted", "err", err)
		return nil
	}
	return order
}

// Dependencies returns the loaded modules m directly depends on.
func (c *Container) Dependencies(m *LoadedModule) []*LoadedModule {
	c.mu.Lock()
	defer c.mu.Unlock()

	node, ok := c.graph.Get(m.ID())
	if !ok || node.Value() != m {
		return nil
	}
	return c.graph.Parents(node)
}

// Dependants returns the loaded modules that directly depend on m.
func (c *Container) Dependants(m *LoadedModule) []*LoadedModule {
	c.mu.Lock()
	defer c.mu.Unlock()

	node, ok := c.graph.Get(m.ID())
	if !ok || node.Value() != m {
		return nil
	}
	return c.graph.Children(node)
}

// Get returns the loaded module with the given id.
func (c *Container) Get(id string) (*LoadedModule, bool) {
	m, ok := c.snapshot.Load().byID[id]
	return m, ok
}

// IsLoaded reports whether a module with the given id is loaded.
func (c *Container) IsLoaded(id string) bool {
	_, ok := c.Get(id)
	return ok
}

// Modules returns every loaded module in load order.
func (c *Container) Modules() []*LoadedModule {
	return slices.Clone(c.snapshot.Load().order)
}

// FindByInstance returns the loaded module whose instance is inst.
func (c *Container) FindByInstance(inst Module) (*LoadedModule, bool) {
	if inst == nil {
		return nil, false
	}
	for _, m := range c.snapshot.Load().order {
		if m.Instance() == inst {
			return m, true
		}
	}
	return nil, false
}

// State returns the lifecycle state of id.
func (c *Container) State(id string) State {
	return c.snapshot.Load().states[id]
}

// Len returns the number of loaded modules.
func (c *Container) Len() int {
	return len(c.snapshot.Load().byID)
}

// setStateLocked records a state change and publishes a new snapshot.
func (c *Container) setStateLocked(id string, s State) {
	if s == StateAbsent {
		delete(c.states, id)
	} else {
		c.states[id] = s
	}
	c.publishLocked()
}

// publishLocked builds and stores a new snapshot.
func (c *Container) publishLocked() {
	snap := &containerSnapshot{
		byID:   make(map[string]*LoadedModule, len(c.modules)),
		states: make(map[string]State, len(c.states)),
	}
	for id, s := range c.states {
		snap.states[id] = s
	}

	order, err := c.graph.TopologicalOrder()
	if err != nil {
		c.logger.Error("dependency graph corrupted", "err", err)
	}
	for _, m := range order {
		// Only active modules are visible to readers.
		if c.states[m.ID()] != StateActive {
			continue
		}
		snap.byID[m.ID()] = m
		snap.order = append(snap.order, m)
	}

	c.snapshot.Store(snap)
}

// notify runs an observer callback, logging a panic.
func (c *Container) notify(event, id string, fn func()) {
	if err := observe(fn); err != nil {
		c.logger.Error("observer failed", "event", event, "id", id, "err", err)
	}
}

func (c *Container) notifyLoadFailed(id string, err error) {
	for _, o := range c.observers {
		c.notify("load failed", id, func() { o.OnLoadFailed(id, err) })
	}
}
