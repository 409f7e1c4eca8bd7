package config

import (
	"errors"
	"fmt"
)

// Sentinels for errors.Is.
var (
	// ErrFileNotFound is returned by Load for a missing file.
	ErrFileNotFound = errors.New("config file not found")

	// ErrValidationFailed indicates a setting has an invalid value.
	ErrValidationFailed = errors.New("validation failed")
)

// ParseError locates a TOML decode failure.
type ParseError struct {
	// Path is the config file.
	Path    string
	// Line and Column are 1-based, zero when the decoder gave no position.
	Line    int
	Column  int
	Message string
	Err     error
}

// Error implements error.
func (e *ParseError) Error() string {
	if e.Line > 0 && e.Column > 0 {
		return fmt.Sprintf("parse error in %s at line %d, column %d: %s", e.Path, e.Line, e.Column, e.Message)
	}
	if e.Line > 0 {
		return fmt.Sprintf("parse error in %s at line %d: %s", e.Path, e.Line, e.Message)
	}
	return fmt.Sprintf("parse error in %s: %s", e.Path, e.Message)
}

// Unwrap returns the decoder error.
func (e *ParseError) Unwrap() error {
	return e.Err
}

// ValidationError describes an invalid setting.
type ValidationError struct {
	// Path is the dotted setting path, e.g. "lua.call_timeout".
	Path    string
	Message string
	// Value is the rejected value.
	Value any
}

// Error implements error.
func (e *ValidationError) Error() string {
	return fmt.Sprintf("%s: %s (got %v)", e.Path, e.Message, e.Value)
}

// Unwrap returns ErrValidationFailed.
func (e *ValidationError) Unwrap() error {
	return ErrValidationFailed
}
