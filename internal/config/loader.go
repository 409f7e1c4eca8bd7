package config

import (
	"bytes"
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"strconv"
	"strings"

	"github.com/pelletier/go-toml/v2"
)

// EnvPrefix prefixes every environment override.
const EnvPrefix = "MODHOST_"

// DefaultFileName is the config file looked up by FindFile.
const DefaultFileName = "modhost.toml"

// Load reads the config file at path over the defaults and applies the
// process environment. An empty path loads the defaults only. The result
// is not validated.
func Load(path string) (*Config, error) {
	cfg := Default()

	if path != "" {
		data, err := os.ReadFile(path)
		if err != nil {
			if errors.Is(err, fs.ErrNotExist) {
				return nil, fmt.Errorf("%w: %s", ErrFileNotFound, path)
			}
			return nil, fmt.Errorf("reading config file %s: %w", path, err)
		}
		if err := decode(path, data, cfg); err != nil {
			return nil, err
		}
		resolvePaths(cfg, filepath.Dir(path))
	}

	if err := ApplyEnv(cfg, os.Environ()); err != nil {
		return nil, err
	}
	return cfg, nil
}

// Parse decodes TOML data over the defaults. source names the data in
// errors.
func Parse(source string, data []byte) (*Config, error) {
	cfg := Default()
	if err := decode(source, data, cfg); err != nil {
		return nil, err
	}
	return cfg, nil
}

// FindFile returns DefaultFileName in dir if it exists.
func FindFile(dir string) (string, bool) {
	path := filepath.Join(dir, DefaultFileName)
	if info, err := os.Stat(path); err == nil && !info.IsDir() {
		return path, true
	}
	return "", false
}

// decode parses data into cfg, rejecting unknown keys.
func decode(source string, data []byte, cfg *Config) error {
	dec := toml.NewDecoder(bytes.NewReader(data))
	dec.DisallowUnknownFields()

	if err := dec.Decode(cfg); err != nil {
		perr := &ParseError{Path: source, Message: err.Error(), Err: err}

		var decErr *toml.DecodeError
		var strictErr *toml.StrictMissingError
		switch {
		case errors.As(err, &decErr):
			perr.Line, perr.Column = decErr.Position()
		case errors.As(err, &strictErr):
			perr.Message = strings.TrimSpace(strictErr.String())
		}
		return perr
	}

	if cfg.ModuleConfig == nil {
		cfg.ModuleConfig = make(map[string]map[string]any)
	}
	return nil
}

// resolvePaths makes relative module paths relative to the config file.
func resolvePaths(cfg *Config, base string) {
	for i, p := range cfg.Modules.Paths {
		if p != "" && !filepath.IsAbs(p) {
			cfg.Modules.Paths[i] = filepath.Join(base, p)
		}
	}
}

// envSetter applies one environment variable to a config.
type envSetter func(cfg *Config, value string) error

// envMapping maps environment variables to config settings.
var envMapping = map[string]envSetter{
	"MODHOST_MODULES_PATHS": func(cfg *Config, v string) error {
		cfg.Modules.Paths = filepath.SplitList(v)
		return nil
	},
	"MODHOST_MODULES_WATCH": func(cfg *Config, v string) error {
		b, err := parseBool(v)
		cfg.Modules.Watch = b
		return err
	},
	"MODHOST_MODULES_DEBOUNCE": func(cfg *Config, v string) error {
		return cfg.Modules.Debounce.UnmarshalText([]byte(v))
	},
	"MODHOST_LUA_CALL_TIMEOUT": func(cfg *Config, v string) error {
		return cfg.Lua.CallTimeout.UnmarshalText([]byte(v))
	},
	"MODHOST_LUA_CALL_STACK_SIZE": func(cfg *Config, v string) error {
		n, err := strconv.Atoi(v)
		cfg.Lua.CallStackSize = n
		return err
	},
	"MODHOST_LOG_LEVEL": func(cfg *Config, v string) error {
		cfg.Log.Level = strings.ToLower(v)
		return nil
	},
	"MODHOST_LOG_FORMAT": func(cfg *Config, v string) error {
		cfg.Log.Format = strings.ToLower(v)
		return nil
	},
	"MODHOST_METRICS_LISTEN": func(cfg *Config, v string) error {
		cfg.Metrics.Listen = v
		return nil
	},
}

// ApplyEnv applies MODHOST_* variables from environ, given in os.Environ
// form, to cfg. Unknown MODHOST_ variables are ignored.
func ApplyEnv(cfg *Config, environ []string) error {
	var errs []error
	for _, kv := range environ {
		name, value, ok := strings.Cut(kv, "=")
		if !ok || !strings.HasPrefix(name, EnvPrefix) {
			continue
		}
		set, known := envMapping[name]
		if !known {
			continue
		}
		if err := set(cfg, value); err != nil {
			errs = append(errs, fmt.Errorf("%s=%q: %w", name, value, err))
		}
	}
	return errors.Join(errs...)
}

// parseBool accepts the usual spellings of true and false.
func parseBool(s string) (bool, error) {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "1", "true", "yes", "on":
		return true, nil
	case "0", "false", "no", "off", "":
		return false, nil
	}
	return false, fmt.Errorf("invalid boolean %q", s)
}

// Encode renders cfg as TOML.
func Encode(cfg *Config) ([]byte, error) {
	var buf bytes.Buffer
	enc := toml.NewEncoder(&buf)
	if err := enc.Encode(cfg); err != nil {
		return nil, err
	}
	return buf.Bytes(), nil
}

