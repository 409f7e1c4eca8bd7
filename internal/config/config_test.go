package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestDefaultIsValid(t *testing.T) {
	cfg := Default()

	require.NoError(t, cfg.Validate())
	assert.Equal(t, []string{"./modules"}, cfg.Modules.Paths)
	assert.Equal(t, 250*time.Millisecond, cfg.Modules.Debounce.Std())
	assert.Equal(t, 5*time.Second, cfg.Lua.CallTimeout.Std())
	assert.Equal(t, 256, cfg.Lua.CallStackSize)
	assert.Equal(t, "info", cfg.Log.Level)
	assert.Empty(t, cfg.Metrics.Listen)
}

func TestParse(t *testing.T) {
	cfg, err := Parse("test.toml", []byte(`
[modules]
paths = ["/opt/modules", "./more"]
watch = true
debounce = "1s"

[lua]
call_timeout = "100ms"

[log]
level = "debug"
format = "json"

[metrics]
listen = "127.0.0.1:9090"

[module_config.greeter]
greeting = "hi"
retries = 3
`))
	require.NoError(t, err)
	require.NoError(t, cfg.Validate())

	assert.Equal(t, []string{"/opt/modules", "./more"}, cfg.Modules.Paths)
	assert.True(t, cfg.Modules.Watch)
	assert.Equal(t, time.Second, cfg.Modules.Debounce.Std())
	assert.Equal(t, 100*time.Millisecond, cfg.Lua.CallTimeout.Std())
	assert.Equal(t, 256, cfg.Lua.CallStackSize, "unset keys keep their defaults")
	assert.Equal(t, "json", cfg.Log.Format)
	assert.Equal(t, "127.0.0.1:9090", cfg.Metrics.Listen)
	assert.Equal(t, "hi", cfg.ModuleConfig["greeter"]["greeting"])
	assert.EqualValues(t, 3, cfg.ModuleConfig["greeter"]["retries"])
}

func TestParseErrors(t *testing.T) {
	tests := []struct {
		name string
		data string
	}{
		{"syntax", "[modules\npaths = 1"},
		{"unknown key", "[modules]\nfolders = [\"x\"]"},
		{"bad duration", "[lua]\ncall_timeout = \"soon\""},
		{"wrong type", "[lua]\ncall_stack_size = \"big\""},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := Parse("bad.toml", []byte(tt.data))
			require.Error(t, err)

			var perr *ParseError
			require.ErrorAs(t, err, &perr)
			assert.Equal(t, "bad.toml", perr.Path)
			assert.Contains(t, err.Error(), "bad.toml")
		})
	}
}

func TestParseErrorPosition(t *testing.T) {
	_, err := Parse("pos.toml", []byte("[log]\nlevel = \"info\"\nformat = @json\n"))

	var perr *ParseError
	require.ErrorAs(t, err, &perr)
	assert.Equal(t, 3, perr.Line)
	assert.Contains(t, err.Error(), "line 3")
}

func TestLoad(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, DefaultFileName)
	require.NoError(t, os.WriteFile(path, []byte("[modules]\npaths = [\"mods\", \"/abs\"]\n"), 0o644))

	cfg, err := Load(path)
	require.NoError(t, err)
	assert.Equal(t, []string{filepath.Join(dir, "mods"), "/abs"}, cfg.Modules.Paths)

	found, ok := FindFile(dir)
	require.True(t, ok)
	assert.Equal(t, path, found)
}

func TestLoadMissingFile(t *testing.T) {
	_, err := Load(filepath.Join(t.TempDir(), "nope.toml"))
	assert.ErrorIs(t, err, ErrFileNotFound)

	_, ok := FindFile(t.TempDir())
	assert.False(t, ok)
}

func TestLoadEmptyPathUsesDefaults(t *testing.T) {
	t.Setenv("MODHOST_LOG_LEVEL", "warn")

	cfg, err := Load("")
	require.NoError(t, err)
	assert.Equal(t, "warn", cfg.Log.Level)
	assert.Equal(t, []string{"./modules"}, cfg.Modules.Paths)
}

func TestApplyEnv(t *testing.T) {
	cfg := Default()
	sep := string(os.PathListSeparator)

	err := ApplyEnv(cfg, []string{
		"MODHOST_MODULES_PATHS=/a" + sep + "/b",
		"MODHOST_MODULES_WATCH=yes",
		"MODHOST_MODULES_DEBOUNCE=50ms",
		"MODHOST_LUA_CALL_TIMEOUT=2s",
		"MODHOST_LUA_CALL_STACK_SIZE=512",
		"MODHOST_LOG_LEVEL=DEBUG",
		"MODHOST_LOG_FORMAT=json",
		"MODHOST_METRICS_LISTEN=:9100",
		"MODHOST_SOMETHING_ELSE=ignored",
		"HOME=/root",
	})
	require.NoError(t, err)

	assert.Equal(t, []string{"/a", "/b"}, cfg.Modules.Paths)
	assert.True(t, cfg.Modules.Watch)
	assert.Equal(t, 50*time.Millisecond, cfg.Modules.Debounce.Std())
	assert.Equal(t, 2*time.Second, cfg.Lua.CallTimeout.Std())
	assert.Equal(t, 512, cfg.Lua.CallStackSize)
	assert.Equal(t, "debug", cfg.Log.Level)
	assert.Equal(t, "json", cfg.Log.Format)
	assert.Equal(t, ":9100", cfg.Metrics.Listen)
	require.NoError(t, cfg.Validate())
}

func TestApplyEnvErrors(t *testing.T) {
	cfg := Default()

	err := ApplyEnv(cfg, []string{
		"MODHOST_MODULES_WATCH=maybe",
		"MODHOST_LUA_CALL_STACK_SIZE=lots",
	})

	require.Error(t, err)
	assert.Contains(t, err.Error(), "MODHOST_MODULES_WATCH")
	assert.Contains(t, err.Error(), "MODHOST_LUA_CALL_STACK_SIZE")
}

func TestValidate(t *testing.T) {
	tests := []struct {
		name   string
		modify func(*Config)
		path   string
	}{
		{"no paths", func(c *Config) { c.Modules.Paths = nil }, "modules.paths"},
		{"blank path", func(c *Config) { c.Modules.Paths = []string{" "} }, "modules.paths"},
		{"negative debounce", func(c *Config) { c.Modules.Debounce = -1 }, "modules.debounce"},
		{"zero timeout", func(c *Config) { c.Lua.CallTimeout = 0 }, "lua.call_timeout"},
		{"zero stack", func(c *Config) { c.Lua.CallStackSize = 0 }, "lua.call_stack_size"},
		{"bad level", func(c *Config) { c.Log.Level = "loud" }, "log.level"},
		{"bad format", func(c *Config) { c.Log.Format = "xml" }, "log.format"},
		{"bad listen", func(c *Config) { c.Metrics.Listen = "9090" }, "metrics.listen"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg := Default()
			tt.modify(cfg)

			err := cfg.Validate()
			require.ErrorIs(t, err, ErrValidationFailed)

			var verr *ValidationError
			require.ErrorAs(t, err, &verr)
			assert.Equal(t, tt.path, verr.Path)
		})
	}
}

func TestValidateReportsEverything(t *testing.T) {
	cfg := Default()
	cfg.Lua.CallTimeout = 0
	cfg.Log.Format = "xml"

	err := cfg.Validate()

	assert.Contains(t, err.Error(), "lua.call_timeout")
	assert.Contains(t, err.Error(), "log.format")
}

func TestEncodeRoundTrip(t *testing.T) {
	cfg := Default()
	cfg.Metrics.Listen = ":9090"

	data, err := Encode(cfg)
	require.NoError(t, err)
	assert.Contains(t, string(data), "250ms")

	back, err := Parse("encoded", data)
	require.NoError(t, err)
	assert.Equal(t, cfg.Lua, back.Lua)
	assert.Equal(t, cfg.Metrics, back.Metrics)
}
