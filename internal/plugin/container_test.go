package plugin

import (
	"context"
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/dshills/modhost/internal/isolation"
)

func TestContainerLoad(t *testing.T) {
	j := &journal{}
	c := NewContainer()

	m, err := c.Load(context.Background(), newFake(j, "a"))
	require.NoError(t, err)

	assert.Equal(t, "a", m.ID())
	assert.NotNil(t, m.Instance())
	assert.True(t, c.IsLoaded("a"))
	assert.Equal(t, StateActive, c.State("a"))
	assert.Equal(t, []string{"load:a"}, j.list())

	got, ok := c.Get("a")
	require.True(t, ok)
	assert.Same(t, m, got)
}

func TestContainerLoadNil(t *testing.T) {
	c := NewContainer()

	_, err := c.Load(context.Background(), nil)
	assert.ErrorIs(t, err, ErrNilManifest)
}

func TestContainerUnloadCascadesDependantsFirst(t *testing.T) {
	j := &journal{}
	c := NewContainer()
	mods := mustLoad(t, c, newFake(j, "a"), newFake(j, "b", "a"), newFake(j, "c", "b"))
	j.reset()

	unloaded := c.Unload(context.Background(), mods[0])

	assert.Equal(t, []string{"c", "b", "a"}, unloaded)
	assert.Equal(t, []string{"unload:c", "unload:b", "unload:a"}, j.list())
	assert.Zero(t, c.Len())
	assert.Zero(t, c.graph.Len())
	for _, m := range mods {
		assert.True(t, m.Detached(), m.ID())
		assert.Nil(t, m.Instance(), m.ID())
	}
}

func TestContainerReloadAfterCascadeLeavesNoOrphans(t *testing.T) {
	j := &journal{}
	c := NewContainer()
	la, lb, lc := newFake(j, "a"), newFake(j, "b", "a"), newFake(j, "c", "b")
	mods := mustLoad(t, c, la, lb, lc)

	c.Unload(context.Background(), mods[0])
	assert.Empty(t, c.OrderedDependants(mods[0]))

	again := mustLoad(t, c, la, lb)
	assert.False(t, c.IsLoaded("c"))
	assert.Equal(t, []string{"b"}, ids(c.OrderedDependants(again[0])))
	assert.Equal(t, []string{"a", "b"}, ids(c.Modules()))
}

func TestContainerUnknownDependencyLeavesNoTrace(t *testing.T) {
	j := &journal{}
	c := NewContainer()
	mustLoad(t, c, newFake(j, "a"))
	l := newFake(j, "b", "a", "missing")

	_, err := c.Load(context.Background(), l)

	var le *LoadError
	require.ErrorAs(t, err, &le)
	assert.ErrorIs(t, err, ErrUnknownDependency)
	assert.Equal(t, "b", le.ID)
	assert.Zero(t, l.loadCount(), "instantiation must not run")
	assert.Equal(t, []string{"a"}, ids(c.Modules()))
	assert.Equal(t, 1, c.graph.Len())
	assert.Equal(t, StateAbsent, c.State("b"))
}

func TestContainerAlreadyLoadedKeepsOriginal(t *testing.T) {
	j := &journal{}
	c := NewContainer()
	original := mustLoad(t, c, newFake(j, "a"))[0]

	_, err := c.Load(context.Background(), newFake(j, "a"))

	assert.ErrorIs(t, err, ErrAlreadyLoaded)
	var ale *AlreadyLoadedError
	require.ErrorAs(t, err, &ale)
	assert.Same(t, original, ale.Existing)
	var le *LoadError
	require.ErrorAs(t, err, &le, "AlreadyLoadedError is a LoadError")
	assert.Equal(t, "a", le.ID)

	got, ok := c.Get("a")
	require.True(t, ok)
	assert.Same(t, original, got)
	assert.NotNil(t, original.Instance())
	assert.Equal(t, []string{"load:a"}, j.list())
}

func TestContainerActivationFailureRollsBack(t *testing.T) {
	cause := errors.New("no database")

	tests := []struct {
		name  string
		setup func(l *fakeLoadable)
	}{
		{"error", func(l *fakeLoadable) { l.loadErr = cause }},
		{"panic", func(l *fakeLoadable) { l.loadPanic = true }},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			j := &journal{}
			obs := &recordingObserver{j: &journal{}}
			c := NewContainer(WithObserver(obs))
			mustLoad(t, c, newFake(j, "base"))
			l := newFake(j, "x", "base")
			tt.setup(l)

			m, err := c.Load(context.Background(), l)

			require.Error(t, err)
			assert.Nil(t, m)
			assert.ErrorIs(t, err, ErrActivation)
			if l.loadErr != nil {
				assert.ErrorIs(t, err, cause)
			}
			assert.False(t, c.IsLoaded("x"))
			assert.Equal(t, []string{"base"}, ids(c.Modules()))
			assert.Empty(t, c.OrderedDependants(mustGet(t, c, "base")))
			assert.Contains(t, j.list(), "unload:x", "rollback runs the unload path")
			assert.Contains(t, obs.j.list(), "failed:x")
			assert.NotContains(t, obs.j.list(), "loaded:x")

			l.loadErr, l.loadPanic = nil, false
			_, err = c.Load(context.Background(), l)
			require.NoError(t, err)
			assert.True(t, c.IsLoaded("x"))
		})
	}
}

func TestContainerInstantiationFailure(t *testing.T) {
	j := &journal{}
	c := NewContainer()
	l := newFake(j, "a")
	l.instErr = errors.New("bad bytecode")

	_, err := c.Load(context.Background(), l)

	assert.ErrorIs(t, err, ErrInstantiation)
	assert.False(t, c.IsLoaded("a"))
	assert.Equal(t, StateAbsent, c.State("a"))
	assert.Zero(t, c.graph.Len())
	assert.Empty(t, j.list())
}

func TestContainerInstantiationLoadErrorPassesThrough(t *testing.T) {
	c := NewContainer()
	l := newFake(&journal{}, "a")
	l.instErr = &LoadError{ID: "a", Reason: "custom", Err: ErrModuleNotFound}

	_, err := c.Load(context.Background(), l)

	assert.ErrorIs(t, err, ErrModuleNotFound)
	assert.Same(t, l.instErr, err)
}

func TestContainerUnloadFaultsAreContained(t *testing.T) {
	j := &journal{}
	c := NewContainer()
	l := newFake(j, "a")
	l.unloadErr = errors.New("flush failed")
	m := mustLoad(t, c, l)[0]

	unloaded := c.Unload(context.Background(), m)

	assert.Equal(t, []string{"a"}, unloaded)
	assert.False(t, c.IsLoaded("a"))
	assert.True(t, m.Detached())
}

func TestContainerUnloadIsIdempotent(t *testing.T) {
	j := &journal{}
	c := NewContainer()
	m := mustLoad(t, c, newFake(j, "a"))[0]

	assert.Equal(t, []string{"a"}, c.Unload(context.Background(), m))
	assert.Nil(t, c.Unload(context.Background(), m))
	assert.Nil(t, c.Unload(context.Background(), nil))
}

func TestContainerUnloadStaleInstanceIsNoop(t *testing.T) {
	j := &journal{}
	c := NewContainer()
	l := newFake(j, "a")
	first := mustLoad(t, c, l)[0]
	c.Unload(context.Background(), first)
	second := mustLoad(t, c, l)[0]

	assert.Nil(t, c.Unload(context.Background(), first))
	got, ok := c.Get("a")
	require.True(t, ok)
	assert.Same(t, second, got)
	assert.NotEqual(t, first.InstanceID(), second.InstanceID())
}

func TestContainerDetachReleasesIsolationHandle(t *testing.T) {
	registry := isolation.NewRegistry()
	c := NewContainer()

	finder := isolation.NewStaticFinder().Set("svc", 1)
	link, err := registry.NewContext("a", finder)
	require.NoError(t, err)

	manifest := &Manifest{ID: "a", Version: "1.0.0", Entry: "init.lua"}
	l := &handleLoadable{manifest: manifest, handle: link}
	m, err := c.Load(context.Background(), l)
	require.NoError(t, err)
	assert.Equal(t, 1, registry.Len())

	c.Unload(context.Background(), m)

	assert.Zero(t, registry.Len())
	assert.True(t, link.Released())
	assert.Nil(t, m.Handle())
	m.Detach() // second detach is harmless
}

type handleLoadable struct {
	manifest *Manifest
	handle   isolation.Handle
}

func (l *handleLoadable) Manifest() *Manifest { return l.manifest }
func (l *handleLoadable) Source() any         { return l }
func (l *handleLoadable) Load(context.Context) (*LoadedModule, error) {
	return NewLoadedModule(l.manifest, l, &fakeModule{id: l.manifest.ID, j: &journal{}}, l.handle), nil
}

func TestContainerOrderedDependencies(t *testing.T) {
	j := &journal{}
	c := NewContainer()
	mods := mustLoad(t, c,
		newFake(j, "a"),
		newFake(j, "b", "a"),
		newFake(j, "c", "a"),
		newFake(j, "d", "b", "c"),
		newFake(j, "e"),
	)
	a, b, e := mods[0], mods[1], mods[4]

	assert.Equal(t, []string{"a", "b", "c", "d"}, ids(c.OrderedDependencies(a)))
	assert.Equal(t, []string{"b", "d"}, ids(c.OrderedDependencies(b)))
	assert.Equal(t, []string{"b", "d", "e"}, ids(c.OrderedDependencies(b, e)))
	assert.Equal(t, []string{"b", "c", "d"}, ids(c.OrderedDependants(a)))
	assert.Empty(t, c.OrderedDependants(e))

	assert.Equal(t, []string{"b", "c"}, ids(c.Dependencies(mods[3])))
	assert.Equal(t, []string{"b", "c"}, ids(c.Dependants(a)))
}

func TestContainerObserverSequence(t *testing.T) {
	j := &journal{}
	obs := &recordingObserver{j: j}
	c := NewContainer(WithObserver(obs))

	mods := mustLoad(t, c, newFake(j, "a"), newFake(j, "b", "a"))
	c.Unload(context.Background(), mods[0])

	assert.Equal(t, []string{
		"loading:a", "load:a", "loaded:a",
		"loading:b", "load:b", "loaded:b",
		"unloading:b", "unload:b", "unloaded:b",
		"unloading:a", "unload:a", "unloaded:a",
	}, j.list())
}

func TestContainerObserverPanics(t *testing.T) {
	t.Run("loading rolls back", func(t *testing.T) {
		c := NewContainer(WithObserver(&panicObserver{at: "loading"}))
		_, err := c.Load(context.Background(), newFake(&journal{}, "a"))
		assert.ErrorIs(t, err, ErrActivation)
		assert.False(t, c.IsLoaded("a"))
	})

	t.Run("loaded is recovered", func(t *testing.T) {
		c := NewContainer(WithObserver(&panicObserver{at: "loaded"}))
		_, err := c.Load(context.Background(), newFake(&journal{}, "a"))
		require.NoError(t, err)
		assert.True(t, c.IsLoaded("a"))
	})

	t.Run("unloaded is recovered", func(t *testing.T) {
		c := NewContainer(WithObserver(&panicObserver{at: "unloaded"}))
		m := mustLoad(t, c, newFake(&journal{}, "a"))[0]
		assert.Equal(t, []string{"a"}, c.Unload(context.Background(), m))
		assert.False(t, c.IsLoaded("a"))
	})
}

func TestContainerStates(t *testing.T) {
	c := NewContainer()
	seen := map[string]State{}
	c.AddObserver(&stateObserver{c: c, seen: seen})

	m := mustLoad(t, c, newFake(&journal{}, "a"))[0]
	c.Unload(context.Background(), m)

	assert.Equal(t, StateLoading, seen["loading"])
	assert.Equal(t, StateActive, seen["loaded"])
	assert.Equal(t, StateUnloading, seen["unloading"])
	assert.Equal(t, StateAbsent, seen["unloaded"])
}

type stateObserver struct {
	NopObserver
	c    *Container
	seen map[string]State
}

func (o *stateObserver) OnLoading(m *LoadedModule)   { o.seen["loading"] = o.c.State(m.ID()) }
func (o *stateObserver) OnLoaded(m *LoadedModule)    { o.seen["loaded"] = o.c.State(m.ID()) }
func (o *stateObserver) OnUnloading(m *LoadedModule) { o.seen["unloading"] = o.c.State(m.ID()) }
func (o *stateObserver) OnUnloaded(m *LoadedModule)  { o.seen["unloaded"] = o.c.State(m.ID()) }

func TestContainerFindByInstance(t *testing.T) {
	c := NewContainer()
	m := mustLoad(t, c, newFake(&journal{}, "a"))[0]

	got, ok := c.FindByInstance(m.Instance())
	require.True(t, ok)
	assert.Same(t, m, got)

	_, ok = c.FindByInstance(&fakeModule{id: "other"})
	assert.False(t, ok)
	_, ok = c.FindByInstance(nil)
	assert.False(t, ok)
}

func TestContainerEnsureLoadable(t *testing.T) {
	c := NewContainer(WithValidator(ValidatorFunc(func(m *Manifest, _ map[string]*LoadedModule) error {
		if m.ID == "banned" {
			return errors.New("not allowed")
		}
		return nil
	})))

	assert.NoError(t, c.EnsureLoadable(newFake(&journal{}, "a")))
	assert.ErrorIs(t, c.EnsureLoadable(newFake(&journal{}, "b", "a")), ErrUnknownDependency)

	_, err := c.Load(context.Background(), newFake(&journal{}, "banned"))
	var le *LoadError
	require.ErrorAs(t, err, &le)
	assert.Equal(t, "banned", le.ID)
	assert.ErrorIs(t, err, ErrPrecondition)
	assert.NotErrorIs(t, err, ErrInstantiation)
	assert.False(t, c.IsLoaded("banned"))
}

func TestContainerSelfDependency(t *testing.T) {
	c := NewContainer()
	l := newFake(&journal{}, "a")
	l.manifest.DependsOn = []string{"a"}

	_, err := c.Load(context.Background(), l)
	assert.ErrorIs(t, err, ErrCyclicDependency)
}

func mustGet(t *testing.T, c *Container, id string) *LoadedModule {
	t.Helper()
	m, ok := c.Get(id)
	require.True(t, ok, id)
	return m
}
