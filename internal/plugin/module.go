package plugin

import (
	"context"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/dshills/modhost/internal/isolation"
)

// Module is the capability implemented by foreign module code.
// Both callbacks may fail; the Container reports OnLoad failures and logs
// OnUnload failures.
type Module interface {
	OnLoad(ctx context.Context) error
	OnUnload(ctx context.Context) error
}

// LoadableModule is a discovered module that has not been loaded yet.
type LoadableModule interface {
	// Manifest returns the module's manifest.
	Manifest() *Manifest

	// Source returns the opaque reference the module was discovered from.
	// It is retained on the LoadedModule so the module can be reloaded.
	Source() any

	// Load instantiates the module. It fails with a *LoadError.
	Load(ctx context.Context) (*LoadedModule, error)
}

// LoadedModule is one successful instantiation of a module. It is owned by
// the Container and becomes inert once detached.
type LoadedModule struct {
	manifest   *Manifest
	source     any
	instanceID uuid.UUID
	loadedAt   time.Time

	mu       sync.RWMutex
	instance Module
	handle   isolation.Handle
	detached bool
}

// NewLoadedModule creates a LoadedModule. handle may be nil for modules
// without an isolation context.
func NewLoadedModule(manifest *Manifest, source any, instance Module, handle isolation.Handle) *LoadedModule {
	return &LoadedModule{
		manifest:   manifest,
		source:     source,
		instanceID: uuid.New(),
		loadedAt:   time.Now(),
		instance:   instance,
		handle:     handle,
	}
}

// ID returns the module id.
func (m *LoadedModule) ID() string {
	return m.manifest.ID
}

// Manifest returns the module's manifest.
func (m *LoadedModule) Manifest() *Manifest {
	return m.manifest
}

// Source returns the reference the module was loaded from.
func (m *LoadedModule) Source() any {
	return m.source
}

// InstanceID identifies this particular instantiation.
func (m *LoadedModule) InstanceID() uuid.UUID {
	return m.instanceID
}

// LoadedAt returns when the module was instantiated.
func (m *LoadedModule) LoadedAt() time.Time {
	return m.loadedAt
}

// Instance returns the module's capability object, or nil once detached.
func (m *LoadedModule) Instance() Module {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.instance
}

// Handle returns the module's isolation handle, or nil once detached.
func (m *LoadedModule) Handle() isolation.Handle {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.handle
}

// Detached reports whether Detach has run.
func (m *LoadedModule) Detached() bool {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.detached
}

// Detach clears the instance and releases the isolation handle. It is
// irreversible and safe to call more than once.
func (m *LoadedModule) Detach() {
	m.mu.Lock()
	if m.detached {
		m.mu.Unlock()
		return
	}
	handle := m.handle
	m.instance = nil
	m.handle = nil
	m.detached = true
	m.mu.Unlock()

	if handle != nil {
		handle.Release()
	}
}

// String returns "id@version".
func (m *LoadedModule) String() string {
	return m.manifest.ID + "@" + m.manifest.Version
}
