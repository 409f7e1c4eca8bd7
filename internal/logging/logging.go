// Package logging builds the structured loggers used across modhost.
package logging

import (
	"fmt"
	"io"
	"os"
	"strings"
	"time"

	"github.com/charmbracelet/log"
)

// Output formats.
const (
	FormatText = "text"
	FormatJSON = "json"
)

// Config configures a logger.
type Config struct {
	// Level is the minimum level to output: debug, info, warn or error.
	Level string
	// Format is FormatText or FormatJSON.
	Format string
	// Output receives log lines; nil means os.Stderr.
	Output io.Writer
	// Prefix is prepended to every message.
	Prefix string
	// Timestamp adds the time to every message.
	Timestamp bool
}

// DefaultConfig returns the default logger configuration.
func DefaultConfig() Config {
	return Config{
		Level:     "info",
		Format:    FormatText,
		Output:    os.Stderr,
		Prefix:    "modhost",
		Timestamp: true,
	}
}

// ParseLevel parses a level name. "warning" is accepted for warn.
func ParseLevel(s string) (log.Level, error) {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "debug":
		return log.DebugLevel, nil
	case "", "info":
		return log.InfoLevel, nil
	case "warn", "warning":
		return log.WarnLevel, nil
	case "error":
		return log.ErrorLevel, nil
	default:
		return log.InfoLevel, fmt.Errorf("invalid log level %q (must be debug, info, warn, or error)", s)
	}
}

// New creates a logger from cfg.
func New(cfg Config) (*log.Logger, error) {
	level, err := ParseLevel(cfg.Level)
	if err != nil {
		return nil, err
	}

	var formatter log.Formatter
	switch strings.ToLower(cfg.Format) {
	case "", FormatText:
		formatter = log.TextFormatter
	case FormatJSON:
		formatter = log.JSONFormatter
	default:
		return nil, fmt.Errorf("invalid log format %q (must be text or json)", cfg.Format)
	}

	out := cfg.Output
	if out == nil {
		out = os.Stderr
	}

	return log.NewWithOptions(out, log.Options{
		Level:           level,
		Prefix:          cfg.Prefix,
		ReportTimestamp: cfg.Timestamp,
		TimeFormat:      time.RFC3339,
		Formatter:       formatter,
	}), nil
}

// Discard returns a logger that drops everything.
func Discard() *log.Logger {
	return log.New(io.Discard)
}

// WithComponent returns a sub-logger tagged with the component name.
func WithComponent(logger *log.Logger, component string) *log.Logger {
	if logger == nil {
		logger = Discard()
	}
	return logger.With("component", component)
}
