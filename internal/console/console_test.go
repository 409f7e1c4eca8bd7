package console

import (
	"bytes"
	"context"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/dshills/modhost/internal/isolation"
	"github.com/dshills/modhost/internal/plugin"
)

type fixture struct {
	root    string
	manager *plugin.Manager
	out     *bytes.Buffer
	console *Console
}

func newFixture(t *testing.T) *fixture {
	t.Helper()
	root := t.TempDir()
	registry := isolation.NewRegistry()
	runtime := plugin.NewLuaRuntime(registry)
	discovery := plugin.NewDirectoryDiscovery(runtime.Loadable, plugin.WithPaths(root))
	manager := plugin.NewManager(plugin.NewContainer(), discovery)
	t.Cleanup(func() {
		manager.Shutdown(context.Background())
		registry.Close()
	})

	out := &bytes.Buffer{}
	return &fixture{
		root:    root,
		manager: manager,
		out:     out,
		console: New(manager, strings.NewReader(""), out),
	}
}

func (f *fixture) module(t *testing.T, id, manifest, code string) string {
	t.Helper()
	dir := filepath.Join(f.root, id)
	require.NoError(t, os.MkdirAll(dir, 0o755))
	if manifest != "" {
		require.NoError(t, os.WriteFile(filepath.Join(dir, "module.json"), []byte(manifest), 0o644))
	}
	require.NoError(t, os.WriteFile(filepath.Join(dir, "init.lua"), []byte(code), 0o644))
	return dir
}

func (f *fixture) exec(t *testing.T, line string) string {
	t.Helper()
	f.out.Reset()
	require.NoError(t, f.console.Execute(context.Background(), line))
	return f.out.String()
}

func TestLoadListUnload(t *testing.T) {
	f := newFixture(t)
	base := f.module(t, "base", `{"id": "base", "version": "1.2.3"}`, `export("x", 1)`)
	top := f.module(t, "top", `{"id": "top", "dependsOn": ["base"]}`, ``)

	assert.Contains(t, f.exec(t, "list"), "no modules loaded")
	assert.Equal(t, "loaded base@1.2.3\n", f.exec(t, "load "+base))
	assert.Equal(t, "loaded top@0.0.0\n", f.exec(t, "load "+top))

	out := f.exec(t, "list")
	lines := strings.Split(strings.TrimSpace(out), "\n")
	require.Len(t, lines, 3)
	assert.True(t, strings.HasPrefix(lines[1], "base"))
	assert.True(t, strings.HasPrefix(lines[2], "top"))
	assert.Contains(t, lines[2], "base")

	deps := f.exec(t, "deps base")
	assert.Contains(t, deps, "depends on: -")
	assert.Contains(t, deps, "needed by:  top")
	assert.Contains(t, deps, "unload order: top, base")

	assert.Equal(t, "unloaded top, base\n", f.exec(t, "unload base"))
	assert.False(t, f.manager.IsLoaded("top"))
}

func TestReloadAndCall(t *testing.T) {
	f := newFixture(t)
	dir := f.module(t, "calc", "", `function add(a, b) return a + b end`)
	f.exec(t, "load "+dir)

	assert.Equal(t, "5\n", f.exec(t, "call calc add 2 3"))

	require.NoError(t, os.WriteFile(filepath.Join(dir, "init.lua"), []byte(`function add(a, b) return a * b end`), 0o644))
	assert.Contains(t, f.exec(t, "reload calc"), "reloaded calc")
	assert.Equal(t, "6\n", f.exec(t, "call calc add 2 3"))
}

func TestCommandErrors(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	assert.ErrorIs(t, f.console.Execute(ctx, "frobnicate"), ErrUnknownCommand)
	assert.ErrorIs(t, f.console.Execute(ctx, "unload ghost"), plugin.ErrModuleNotFound)
	assert.ErrorIs(t, f.console.Execute(ctx, "deps ghost"), plugin.ErrModuleNotFound)
	assert.ErrorIs(t, f.console.Execute(ctx, "call ghost fn"), plugin.ErrModuleNotFound)
	assert.ErrorIs(t, f.console.Execute(ctx, "load "+filepath.Join(f.root, "ghost")), plugin.ErrModuleNotFound)
	assert.ErrorContains(t, f.console.Execute(ctx, "load"), "usage: load <path>")
	assert.ErrorContains(t, f.console.Execute(ctx, "call x"), "usage: call")
	assert.NoError(t, f.console.Execute(ctx, "   "))
}

func TestQuit(t *testing.T) {
	f := newFixture(t)

	assert.ErrorIs(t, f.console.Execute(context.Background(), "quit"), ErrQuit)
	assert.ErrorIs(t, f.console.Execute(context.Background(), "exit"), ErrQuit)
}

func TestHelpListsCommands(t *testing.T) {
	f := newFixture(t)

	out := f.exec(t, "help")
	for _, name := range []string{"list", "load <path>", "unload <id>", "reload <id>...", "deps <id>", "call <id>", "quit"} {
		assert.Contains(t, out, name)
	}
}

func TestRunLoop(t *testing.T) {
	f := newFixture(t)
	dir := f.module(t, "a", "", ``)

	var out bytes.Buffer
	in := strings.NewReader("load " + dir + "\nbogus\nlist\nquit\nlist\n")
	c := New(f.manager, in, &out)

	require.NoError(t, c.Run(context.Background()))

	text := out.String()
	assert.Contains(t, text, "loaded a@0.0.0")
	assert.Contains(t, text, `error: unknown command "bogus"`)
	assert.Equal(t, 1, strings.Count(text, "ID "), "commands after quit must not run")
}

func TestRunEndOfInput(t *testing.T) {
	f := newFixture(t)
	c := New(f.manager, strings.NewReader("list\n"), &bytes.Buffer{})

	assert.NoError(t, c.Run(context.Background()))
}

func TestParseArg(t *testing.T) {
	assert.Equal(t, int64(42), parseArg("42"))
	assert.Equal(t, 1.5, parseArg("1.5"))
	assert.Equal(t, true, parseArg("true"))
	assert.Equal(t, "t", parseArg("t"))
	assert.Equal(t, "hello", parseArg("hello"))
}
