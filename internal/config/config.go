package config

import (
	"errors"
	"net"
	"strings"
	"time"

	"github.com/dshills/modhost/internal/logging"
)

// Config is the complete modhost configuration.
type Config struct {
	Modules      ModulesConfig             `toml:"modules"`
	Lua          LuaConfig                 `toml:"lua"`
	Log          LogConfig                 `toml:"log"`
	Metrics      MetricsConfig             `toml:"metrics"`
	ModuleConfig map[string]map[string]any `toml:"module_config"`
}

// ModulesConfig controls discovery and hot reload.
type ModulesConfig struct {
	Paths    []string `toml:"paths"`
	Watch    bool     `toml:"watch"`
	Debounce Duration `toml:"debounce"`
}

// LuaConfig controls every module's Lua state.
type LuaConfig struct {
	CallTimeout   Duration `toml:"call_timeout"`
	CallStackSize int      `toml:"call_stack_size"`
}

// LogConfig controls the host logger.
type LogConfig struct {
	Level  string `toml:"level"`
	Format string `toml:"format"`
}

// MetricsConfig controls the Prometheus endpoint. An empty Listen
// disables it.
type MetricsConfig struct {
	Listen string `toml:"listen"`
}

// Duration is a time.Duration written as a string such as "250ms".
type Duration time.Duration

// UnmarshalText implements encoding.TextUnmarshaler.
func (d *Duration) UnmarshalText(text []byte) error {
	v, err := time.ParseDuration(string(text))
	if err != nil {
		return err
	}
	*d = Duration(v)
	return nil
}

// MarshalText implements encoding.TextMarshaler.
func (d Duration) MarshalText() ([]byte, error) {
	return []byte(time.Duration(d).String()), nil
}

// Std returns d as a time.Duration.
func (d Duration) Std() time.Duration {
	return time.Duration(d)
}

// Default returns the built-in configuration.
func Default() *Config {
	return &Config{
		Modules: ModulesConfig{
			Paths:    []string{"./modules"},
			Debounce: Duration(250 * time.Millisecond),
		},
		Lua: LuaConfig{
			CallTimeout:   Duration(5 * time.Second),
			CallStackSize: 256,
		},
		Log: LogConfig{
			Level:  "info",
			Format: logging.FormatText,
		},
		ModuleConfig: make(map[string]map[string]any),
	}
}

// Validate checks every setting and reports all problems at once.
func (c *Config) Validate() error {
	var errs []error
	invalid := func(path, msg string, value any) {
		errs = append(errs, &ValidationError{Path: path, Message: msg, Value: value})
	}

	if len(c.Modules.Paths) == 0 {
		invalid("modules.paths", "at least one path is required", c.Modules.Paths)
	}
	for _, p := range c.Modules.Paths {
		if strings.TrimSpace(p) == "" {
			invalid("modules.paths", "paths must not be empty", p)
		}
	}
	if c.Modules.Debounce < 0 {
		invalid("modules.debounce", "must not be negative", c.Modules.Debounce.Std())
	}
	if c.Lua.CallTimeout <= 0 {
		invalid("lua.call_timeout", "must be positive", c.Lua.CallTimeout.Std())
	}
	if c.Lua.CallStackSize <= 0 {
		invalid("lua.call_stack_size", "must be positive", c.Lua.CallStackSize)
	}
	if _, err := logging.ParseLevel(c.Log.Level); err != nil {
		invalid("log.level", "must be debug, info, warn, or error", c.Log.Level)
	}
	switch c.Log.Format {
	case logging.FormatText, logging.FormatJSON:
	default:
		invalid("log.format", "must be text or json", c.Log.Format)
	}
	if c.Metrics.Listen != "" {
		if _, _, err := net.SplitHostPort(c.Metrics.Listen); err != nil {
			invalid("metrics.listen", "must be host:port", c.Metrics.Listen)
		}
	}

	return errors.Join(errs...)
}

// LoggingConfig returns the logger configuration for c.
func (c *Config) LoggingConfig() logging.Config {
	cfg := logging.DefaultConfig()
	cfg.Level = c.Log.Level
	cfg.Format = c.Log.Format
	return cfg
}
