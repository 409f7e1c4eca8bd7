package plugin

import (
	"context"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// stubFactory records what discovery produced without creating Lua states.
func stubFactory(manifest *Manifest, source string) LoadableModule {
	return &stubLoadable{manifest: manifest, source: source}
}

type stubLoadable struct {
	manifest *Manifest
	source   string
}

func (l *stubLoadable) Manifest() *Manifest { return l.manifest }
func (l *stubLoadable) Source() any         { return l.source }
func (l *stubLoadable) Load(context.Context) (*LoadedModule, error) {
	return NewLoadedModule(l.manifest, l.source, nil, nil), nil
}

func writeFile(t *testing.T, path, content string) {
	t.Helper()
	require.NoError(t, os.MkdirAll(filepath.Dir(path), 0o755))
	require.NoError(t, os.WriteFile(path, []byte(content), 0o644))
}

func TestDirectoryDiscovery(t *testing.T) {
	root := t.TempDir()
	writeFile(t, filepath.Join(root, "alpha", "module.json"), `{"id": "alpha", "version": "1.0.0"}`)
	writeFile(t, filepath.Join(root, "beta", "module.yaml"), "id: beta\ndependsOn: [alpha]\nentry: main.lua\n")
	writeFile(t, filepath.Join(root, "gamma", "init.lua"), `-- no manifest`)
	writeFile(t, filepath.Join(root, "delta.lua"), `-- single file`)
	writeFile(t, filepath.Join(root, "broken", "module.json"), `{"id": "Broken"}`)
	writeFile(t, filepath.Join(root, "empty", "README.md"), `nothing here`)
	writeFile(t, filepath.Join(root, "notes.txt"), `ignored`)

	d := NewDirectoryDiscovery(stubFactory, WithPaths(root, filepath.Join(root, "missing")))
	found, err := d.Discover(context.Background())
	require.NoError(t, err)

	got := map[string]string{}
	var order []string
	for _, m := range found {
		got[m.Manifest().ID] = m.Source().(string)
		order = append(order, m.Manifest().ID)
	}

	assert.Equal(t, []string{"alpha", "beta", "delta", "gamma"}, order)
	assert.Equal(t, filepath.Join(root, "alpha"), got["alpha"])
	assert.Equal(t, filepath.Join(root, "delta.lua"), got["delta"])

	beta := found[1].Manifest()
	assert.Equal(t, []string{"alpha"}, beta.DependsOn)
	assert.Equal(t, filepath.Join(root, "beta", "main.lua"), beta.EntryPath())

	delta := found[2].Manifest()
	assert.Equal(t, filepath.Join(root, "delta.lua"), delta.EntryPath())
}

func TestDirectoryDiscoveryFrom(t *testing.T) {
	root := t.TempDir()
	writeFile(t, filepath.Join(root, "alpha", "module.json"), `{"id": "alpha"}`)
	writeFile(t, filepath.Join(root, "solo.lua"), ``)
	writeFile(t, filepath.Join(root, "bad", "module.json"), `{`)

	d := NewDirectoryDiscovery(stubFactory)
	ctx := context.Background()

	m, ok, err := d.DiscoverFrom(ctx, filepath.Join(root, "alpha"))
	require.NoError(t, err)
	require.True(t, ok)
	assert.Equal(t, "alpha", m.Manifest().ID)

	m, ok, err = d.DiscoverFrom(ctx, filepath.Join(root, "alpha", "module.json"))
	require.NoError(t, err)
	require.True(t, ok)
	assert.Equal(t, filepath.Join(root, "alpha"), m.Source())

	m, ok, err = d.DiscoverFrom(ctx, filepath.Join(root, "solo.lua"))
	require.NoError(t, err)
	require.True(t, ok)
	assert.Equal(t, "solo", m.Manifest().ID)

	_, ok, err = d.DiscoverFrom(ctx, filepath.Join(root, "nothing"))
	assert.NoError(t, err)
	assert.False(t, ok)

	_, ok, err = d.DiscoverFrom(ctx, 7)
	assert.NoError(t, err)
	assert.False(t, ok)

	_, _, err = d.DiscoverFrom(ctx, filepath.Join(root, "bad"))
	assert.Error(t, err)
}

func TestMultiDiscovery(t *testing.T) {
	first := NewStaticDiscovery(newFake(&journal{}, "a"))
	second := NewStaticDiscovery(newFake(&journal{}, "b"), newFake(&journal{}, "a"))
	d := NewMultiDiscovery(first, second)

	all, err := d.Discover(context.Background())
	require.NoError(t, err)
	require.Len(t, all, 3)

	m, ok, err := d.DiscoverFrom(context.Background(), "a")
	require.NoError(t, err)
	require.True(t, ok)
	assert.Same(t, all[0], m, "first child wins")

	m, ok, err = d.DiscoverFrom(context.Background(), "b")
	require.NoError(t, err)
	require.True(t, ok)
	assert.Equal(t, "b", m.Manifest().ID)

	_, err = NewMultiDiscovery(first, failingDiscovery{}).Discover(context.Background())
	assert.Error(t, err)
}
