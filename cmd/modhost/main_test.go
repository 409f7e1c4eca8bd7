package main

import (
	"bytes"
	"encoding/json"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func execute(t *testing.T, stdin string, args ...string) (string, error) {
	t.Helper()
	var out, errOut bytes.Buffer
	root := newRootCmd()
	root.SetArgs(args)
	root.SetIn(strings.NewReader(stdin))
	root.SetOut(&out)
	root.SetErr(&errOut)
	err := root.Execute()
	return out.String(), err
}

func writeModule(t *testing.T, root, id, manifest, code string) string {
	t.Helper()
	dir := filepath.Join(root, id)
	require.NoError(t, os.MkdirAll(dir, 0o755))
	if manifest != "" {
		require.NoError(t, os.WriteFile(filepath.Join(dir, "module.json"), []byte(manifest), 0o644))
	}
	require.NoError(t, os.WriteFile(filepath.Join(dir, "init.lua"), []byte(code), 0o644))
	return dir
}

func TestVersion(t *testing.T) {
	out, err := execute(t, "", "version")

	require.NoError(t, err)
	assert.Contains(t, out, "modhost dev")
	assert.Contains(t, out, "Commit: unknown")
}

func TestOrder(t *testing.T) {
	root := t.TempDir()
	writeModule(t, root, "c", `{"id": "c", "dependsOn": ["b"]}`, ``)
	writeModule(t, root, "a", `{"id": "a", "version": "1.0.0"}`, ``)
	writeModule(t, root, "b", `{"id": "b", "dependsOn": ["a"]}`, ``)

	out, err := execute(t, "", "order", "-p", root)

	require.NoError(t, err)
	assert.Equal(t, "1. a@1.0.0\n2. b@0.0.0 (after a)\n3. c@0.0.0 (after b)\n", out)
}

func TestOrderReportsCycle(t *testing.T) {
	root := t.TempDir()
	writeModule(t, root, "x", `{"id": "x", "dependsOn": ["y"]}`, ``)
	writeModule(t, root, "y", `{"id": "y", "dependsOn": ["x"]}`, ``)

	_, err := execute(t, "", "order", "--path", root)

	require.Error(t, err)
	assert.Contains(t, err.Error(), "depends on")
}

func TestInspect(t *testing.T) {
	root := t.TempDir()
	dir := writeModule(t, root, "db", `{"id": "db", "version": "2.1.0", "dependsOn": ["log"], "config": {"pool": 4}}`, ``)

	out, err := execute(t, "", "inspect", dir)
	require.NoError(t, err)
	assert.Contains(t, out, "id: db")
	assert.Contains(t, out, "version: 2.1.0")
	assert.Contains(t, out, "entry: init.lua")

	out, err = execute(t, "", "inspect", "--format", "json", dir)
	require.NoError(t, err)
	var decoded map[string]any
	require.NoError(t, json.Unmarshal([]byte(out), &decoded))
	assert.Equal(t, "db", decoded["id"])
	assert.Equal(t, []any{"log"}, decoded["dependsOn"])
}

func TestInspectErrors(t *testing.T) {
	root := t.TempDir()
	dir := writeModule(t, root, "db", "", ``)

	_, err := execute(t, "", "inspect", filepath.Join(root, "missing"))
	assert.ErrorContains(t, err, "not found")

	_, err = execute(t, "", "inspect", "-f", "xml", dir)
	assert.ErrorContains(t, err, "unknown format")

	_, err = execute(t, "", "inspect")
	assert.Error(t, err)
}

func TestRunWithConsole(t *testing.T) {
	root := t.TempDir()
	writeModule(t, root, "greeter", "", `export("greet", function(n) return "hi " .. n end)`)
	writeModule(t, root, "app", `{"id": "app", "dependsOn": ["greeter"]}`, `
		function hello(n) return require("greet")(n) end
	`)

	out, err := execute(t, "list\ncall app hello bob\nquit\n", "run", "-p", root)

	require.NoError(t, err)
	assert.Contains(t, out, "2 module(s) loaded")
	assert.Contains(t, out, "greeter")
	assert.Contains(t, out, "hi bob")
}

func TestRunRejectsBadLogLevel(t *testing.T) {
	_, err := execute(t, "", "run", "-p", t.TempDir(), "--log-level", "loud")

	assert.ErrorContains(t, err, "log.level")
}
