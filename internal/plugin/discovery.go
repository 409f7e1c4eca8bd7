package plugin

import (
	"context"
	"errors"
	"fmt"
	"io"
	"io/fs"
	"os"
	"path/filepath"
	"strings"

	"github.com/charmbracelet/log"
)

// Discovery finds modules that can be loaded.
type Discovery interface {
	// Discover returns every module it can find.
	Discover(ctx context.Context) ([]LoadableModule, error)

	// DiscoverFrom resolves a single source reference. It returns false
	// when src does not refer to a module this discovery understands.
	DiscoverFrom(ctx context.Context, src any) (LoadableModule, bool, error)
}

// LoadableFactory turns a manifest and the path it was found at into a
// LoadableModule.
type LoadableFactory func(manifest *Manifest, source string) LoadableModule

// DirectoryDiscovery finds modules in a list of directories.
//
// Each sub-directory holding a manifest (module.json, module.yaml or
// module.yml) or an init.lua is a module, and so is every top-level
// <id>.lua file. Invalid entries are logged and skipped.
type DirectoryDiscovery struct {
	paths   []string
	factory LoadableFactory
	logger  *log.Logger
}

// DiscoveryOption configures a DirectoryDiscovery.
type DiscoveryOption func(*DirectoryDiscovery)

// WithPaths sets the module search paths.
func WithPaths(paths ...string) DiscoveryOption {
	return func(d *DirectoryDiscovery) {
		d.paths = paths
	}
}

// WithDiscoveryLogger sets the logger.
func WithDiscoveryLogger(logger *log.Logger) DiscoveryOption {
	return func(d *DirectoryDiscovery) {
		if logger != nil {
			d.logger = logger
		}
	}
}

// NewDirectoryDiscovery creates a DirectoryDiscovery.
func NewDirectoryDiscovery(factory LoadableFactory, opts ...DiscoveryOption) *DirectoryDiscovery {
	d := &DirectoryDiscovery{
		factory: factory,
		logger:  log.New(io.Discard),
	}
	for _, opt := range opts {
		opt(d)
	}
	d.logger = d.logger.With("component", "discovery")
	return d
}

// Paths returns the search paths in scan order.
func (d *DirectoryDiscovery) Paths() []string {
	return d.paths
}

// Discover scans every search path. Missing paths are skipped. Results
// follow path order, then entry name order.
func (d *DirectoryDiscovery) Discover(ctx context.Context) ([]LoadableModule, error) {
	var found []LoadableModule

	for _, basePath := range d.paths {
		if err := ctx.Err(); err != nil {
			return nil, err
		}

		entries, err := os.ReadDir(basePath)
		if err != nil {
			if errors.Is(err, fs.ErrNotExist) {
				d.logger.Debug("module path does not exist", "path", basePath)
				continue
			}
			return nil, fmt.Errorf("read module path %s: %w", basePath, err)
		}

		for _, entry := range entries {
			path := filepath.Join(basePath, entry.Name())
			m, ok, err := d.inspect(path, entry.IsDir())
			if err != nil {
				d.logger.Warn("skipping invalid module", "path", path, "err", err)
				continue
			}
			if ok {
				found = append(found, m)
			}
		}
	}

	return found, nil
}

// DiscoverFrom resolves a path to a module directory, a manifest file or
// a single .lua file.
func (d *DirectoryDiscovery) DiscoverFrom(_ context.Context, src any) (LoadableModule, bool, error) {
	path, ok := src.(string)
	if !ok || path == "" {
		return nil, false, nil
	}

	info, err := os.Stat(path)
	if err != nil {
		if errors.Is(err, fs.ErrNotExist) {
			return nil, false, nil
		}
		return nil, false, err
	}

	if !info.IsDir() && isManifestFile(path) {
		manifest, err := LoadManifest(path)
		if err != nil {
			return nil, false, err
		}
		return d.factory(manifest, filepath.Dir(path)), true, nil
	}

	return d.inspect(path, info.IsDir())
}

// inspect examines one directory entry.
func (d *DirectoryDiscovery) inspect(path string, isDir bool) (LoadableModule, bool, error) {
	if !isDir {
		if filepath.Ext(path) != ".lua" {
			return nil, false, nil
		}
		id := strings.TrimSuffix(filepath.Base(path), ".lua")
		manifest := NewManifestMinimal(id, path)
		if err := manifest.Validate(); err != nil {
			return nil, false, err
		}
		return d.factory(manifest, path), true, nil
	}

	if _, ok := FindManifest(path); ok {
		manifest, err := LoadManifestFromDir(path)
		if err != nil {
			return nil, false, err
		}
		return d.factory(manifest, path), true, nil
	}

	// A bare directory is a module when it has an init.lua.
	if _, err := os.Stat(filepath.Join(path, "init.lua")); err == nil {
		manifest := NewManifestMinimal(filepath.Base(path), filepath.Join(path, "init.lua"))
		if err := manifest.Validate(); err != nil {
			return nil, false, err
		}
		return d.factory(manifest, path), true, nil
	}

	return nil, false, nil
}

func isManifestFile(path string) bool {
	base := filepath.Base(path)
	for _, name := range manifestFiles {
		if base == name {
			return true
		}
	}
	return false
}

// MultiDiscovery combines several discoveries.
type MultiDiscovery struct {
	children []Discovery
}

// NewMultiDiscovery creates a MultiDiscovery over children.
func NewMultiDiscovery(children ...Discovery) *MultiDiscovery {
	return &MultiDiscovery{children: children}
}

// Discover concatenates the results of every child, in order.
func (d *MultiDiscovery) Discover(ctx context.Context) ([]LoadableModule, error) {
	var all []LoadableModule
	for _, child := range d.children {
		found, err := child.Discover(ctx)
		if err != nil {
			return nil, err
		}
		all = append(all, found...)
	}
	return all, nil
}

// DiscoverFrom returns the first child's match.
func (d *MultiDiscovery) DiscoverFrom(ctx context.Context, src any) (LoadableModule, bool, error) {
	for _, child := range d.children {
		m, ok, err := child.DiscoverFrom(ctx, src)
		if err != nil {
			return nil, false, err
		}
		if ok {
			return m, true, nil
		}
	}
	return nil, false, nil
}

// StaticDiscovery serves a fixed set of modules. DiscoverFrom accepts a
// module id.
type StaticDiscovery struct {
	modules []LoadableModule
}

// NewStaticDiscovery creates a StaticDiscovery.
func NewStaticDiscovery(modules ...LoadableModule) *StaticDiscovery {
	return &StaticDiscovery{modules: modules}
}

// Discover returns the configured modules.
func (d *StaticDiscovery) Discover(context.Context) ([]LoadableModule, error) {
	out := make([]LoadableModule, len(d.modules))
	copy(out, d.modules)
	return out, nil
}

// DiscoverFrom finds a configured module by id.
func (d *StaticDiscovery) DiscoverFrom(_ context.Context, src any) (LoadableModule, bool, error) {
	id, ok := src.(string)
	if !ok {
		return nil, false, nil
	}
	for _, m := range d.modules {
		if m.Manifest().ID == id {
			return m, true, nil
		}
	}
	return nil, false, nil
}
