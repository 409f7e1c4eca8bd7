package plugin

import (
	"errors"
	"fmt"
	"strings"
)

// Module system errors.
var (
	// ErrUnknownDependency is returned when a dependency is neither loaded nor part of the batch.
	ErrUnknownDependency = errors.New("unknown dependency")

	// ErrDuplicateID is returned when a batch contains the same id more than once.
	ErrDuplicateID = errors.New("duplicate module id")

	// ErrCyclicDependency is returned when dependencies form a cycle.
	ErrCyclicDependency = errors.New("cyclic module dependency detected")

	// ErrPrecondition is returned when a validator rejects a module before
	// it is instantiated.
	ErrPrecondition = errors.New("module precondition failed")

	// ErrShuttingDown is returned by a reload interrupted by Shutdown.
	ErrShuttingDown = errors.New("manager is shutting down")

	// ErrInstantiation is returned when a module's code cannot be instantiated.
	ErrInstantiation = errors.New("module instantiation failed")

	// ErrActivation is returned when a module fails during activation.
	ErrActivation = errors.New("module activation failed")

	// ErrModuleNotFound is returned when a source does not resolve to a module.
	ErrModuleNotFound = errors.New("module not found")

	// ErrIncompatibleVersion is returned when a dependency's version violates a constraint.
	ErrIncompatibleVersion = errors.New("incompatible dependency version")

	// ErrAlreadyLoaded is returned when loading an id that is already loaded.
	ErrAlreadyLoaded = errors.New("module is already loaded")

	// ErrNilManifest is returned for a LoadableModule without a manifest.
	ErrNilManifest = errors.New("manifest is nil")
)

// LoadError reports why a module could not be loaded. The module is never
// left half-active when a LoadError is returned.
type LoadError struct {
	ID     string
	Reason string
	Err    error
}

// Error implements error.
func (e *LoadError) Error() string {
	var b strings.Builder
	b.WriteString("load")
	if e.ID != "" {
		fmt.Fprintf(&b, " %q", e.ID)
	}
	if e.Reason != "" {
		b.WriteString(": ")
		b.WriteString(e.Reason)
	}
	if e.Err != nil {
		b.WriteString(": ")
		b.WriteString(e.Err.Error())
	}
	return b.String()
}

// Unwrap returns the underlying error.
func (e *LoadError) Unwrap() error {
	return e.Err
}

// AlreadyLoadedError is returned when the id is already loaded. Callers can
// treat it as non-fatal. It matches both ErrAlreadyLoaded and *LoadError.
type AlreadyLoadedError struct {
	LoadError

	// Existing is the module that stays loaded.
	Existing *LoadedModule
}

func newAlreadyLoadedError(existing *LoadedModule) *AlreadyLoadedError {
	return &AlreadyLoadedError{
		LoadError: LoadError{
			ID:     existing.ID(),
			Reason: "already loaded",
			Err:    ErrAlreadyLoaded,
		},
		Existing: existing,
	}
}

// As lets errors.As extract the embedded LoadError.
func (e *AlreadyLoadedError) As(target any) bool {
	if t, ok := target.(**LoadError); ok {
		*t = &e.LoadError
		return true
	}
	return false
}

// ReloadError describes a partially failed reload. Modules in Reloaded are
// active again, Failed and everything in Pending stay unloaded.
type ReloadError struct {
	Failed   string
	Reloaded []string
	Pending  []string
	Err      error
}

// Error implements error.
func (e *ReloadError) Error() string {
	msg := fmt.Sprintf("reload %q failed", e.Failed)
	if len(e.Pending) > 0 {
		msg += fmt.Sprintf(" (left unloaded: %s)", strings.Join(e.Pending, ", "))
	}
	if e.Err != nil {
		msg += ": " + e.Err.Error()
	}
	return msg
}

// Unwrap returns the underlying error.
func (e *ReloadError) Unwrap() error {
	return e.Err
}

// loadErrorf builds a LoadError wrapping sentinel.
func loadErrorf(id string, sentinel error, format string, args ...any) *LoadError {
	return &LoadError{ID: id, Reason: fmt.Sprintf(format, args...), Err: sentinel}
}

// asLoadError returns err as a LoadError, wrapping it in one for id with
// sentinel when it is not one already.
func asLoadError(id string, sentinel error, err error) *LoadError {
	var le *LoadError
	if errors.As(err, &le) {
		return le
	}
	return &LoadError{ID: id, Err: fmt.Errorf("%w: %w", sentinel, err)}
}
