package plugin

import (
	"context"
	"errors"
	"fmt"
	"io"
	"slices"
	"sort"

	"github.com/charmbracelet/log"

	"github.com/dshills/modhost/internal/graph"
)

// Bootstrap loads the modules found at startup in dependency order.
type Bootstrap struct {
	discovery Discovery
	container *Container
	logger    *log.Logger
}

// BootstrapOption configures a Bootstrap.
type BootstrapOption func(*Bootstrap)

// WithBootstrapLogger sets the logger.
func WithBootstrapLogger(logger *log.Logger) BootstrapOption {
	return func(b *Bootstrap) {
		if logger != nil {
			b.logger = logger
		}
	}
}

// NewBootstrap creates a Bootstrap. discovery may be nil when only
// LoadBatch is used.
func NewBootstrap(discovery Discovery, container *Container, opts ...BootstrapOption) *Bootstrap {
	b := &Bootstrap{
		discovery: discovery,
		container: container,
		logger:    log.New(io.Discard),
	}
	for _, opt := range opts {
		opt(b)
	}
	b.logger = b.logger.With("component", "bootstrap")
	return b
}

// LoadAll discovers every module and loads them in dependency order.
func (b *Bootstrap) LoadAll(ctx context.Context) ([]*LoadedModule, error) {
	batch, err := b.discover(ctx)
	if err != nil {
		return nil, err
	}
	return b.LoadBatch(ctx, batch)
}

// Plan discovers every module and returns the order LoadAll would use.
func (b *Bootstrap) Plan(ctx context.Context) ([]LoadableModule, error) {
	batch, err := b.discover(ctx)
	if err != nil {
		return nil, err
	}
	return Order(batch)
}

// LoadBatch loads batch in dependency order. The first failure stops the
// batch; modules loaded before it stay loaded and are returned.
func (b *Bootstrap) LoadBatch(ctx context.Context, batch []LoadableModule) ([]*LoadedModule, error) {
	order, err := Order(batch)
	if err != nil {
		return nil, err
	}

	loaded := make([]*LoadedModule, 0, len(order))
	for _, loadable := range order {
		if err := ctx.Err(); err != nil {
			return loaded, err
		}

		m, err := b.container.Load(ctx, loadable)
		if err != nil {
			b.logger.Error("bootstrap aborted", "id", loadable.Manifest().ID, "loaded", len(loaded), "remaining", len(order)-len(loaded)-1, "err", err)
			return loaded, err
		}
		loaded = append(loaded, m)
	}

	b.logger.Info("bootstrap complete", "modules", len(loaded))
	return loaded, nil
}

func (b *Bootstrap) discover(ctx context.Context) ([]LoadableModule, error) {
	if b.discovery == nil {
		return nil, nil
	}
	batch, err := b.discovery.Discover(ctx)
	if err != nil {
		return nil, fmt.Errorf("discover modules: %w", err)
	}
	return batch, nil
}

// Order returns batch sorted so that every module follows its
// dependencies. Modules that are ready at the same time keep their input
// order. Every dependency must be part of the batch.
func Order(batch []LoadableModule) ([]LoadableModule, error) {
	byID := make(map[string]LoadableModule, len(batch))
	var dups []string
	for _, m := range batch {
		if m == nil || m.Manifest() == nil {
			return nil, &LoadError{Reason: "no manifest", Err: ErrNilManifest}
		}
		id := m.Manifest().ID
		if _, ok := byID[id]; ok {
			dups = append(dups, id)
			continue
		}
		byID[id] = m
	}
	if len(dups) > 0 {
		sort.Strings(dups)
		dups = slices.Compact(dups)
		return nil, loadErrorf("", ErrDuplicateID, "duplicate ids: %v", dups)
	}

	g := graph.New[string, LoadableModule]()
	for _, m := range batch {
		g.GetOrCreate(m.Manifest().ID, m)
	}

	for _, m := range batch {
		manifest := m.Manifest()
		node, _ := g.Get(manifest.ID)

		for _, dep := range manifest.DependsOn {
			depNode, ok := g.Get(dep)
			if !ok {
				return nil, loadErrorf(manifest.ID, ErrUnknownDependency, "unknown dependency %q", dep)
			}
			if !g.AddEdge(depNode, node) {
				return nil, loadErrorf(manifest.ID, ErrCyclicDependency,
					"'%s' depends on '%s', which already depends on '%s'", manifest.ID, dep, manifest.ID)
			}
		}
	}

	order, err := g.TopologicalOrder()
	if err != nil {
		if errors.Is(err, graph.ErrCyclicGraph) {
			return nil, &LoadError{Reason: "dependency graph", Err: fmt.Errorf("%w: %w", ErrCyclicDependency, err)}
		}
		return nil, err
	}
	return order, nil
}
