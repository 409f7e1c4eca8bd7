package plugin

import (
	"fmt"

	"github.com/Masterminds/semver/v3"
)

// Validator adds preconditions to Container.Load. deps holds the currently
// loaded dependencies of the module, keyed by id.
type Validator interface {
	Validate(manifest *Manifest, deps map[string]*LoadedModule) error
}

// ValidatorFunc adapts a function to Validator.
type ValidatorFunc func(manifest *Manifest, deps map[string]*LoadedModule) error

// Validate implements Validator.
func (f ValidatorFunc) Validate(manifest *Manifest, deps map[string]*LoadedModule) error {
	return f(manifest, deps)
}

// VersionValidator rejects modules whose dependency constraints are not
// satisfied by the loaded dependency versions.
type VersionValidator struct{}

// Validate implements Validator.
func (VersionValidator) Validate(manifest *Manifest, deps map[string]*LoadedModule) error {
	for id, raw := range manifest.Constraints {
		dep, ok := deps[id]
		if !ok {
			continue
		}

		constraint, err := semver.NewConstraint(raw)
		if err != nil {
			return loadErrorf(manifest.ID, ErrIncompatibleVersion, "constraint %q on %q: %v", raw, id, err)
		}
		version, err := dep.Manifest().SemVer()
		if err != nil {
			return loadErrorf(manifest.ID, ErrIncompatibleVersion, "%q has invalid version %q", id, dep.Manifest().Version)
		}

		if ok, errs := constraint.Validate(version); !ok {
			reason := fmt.Sprintf("requires %s %s, loaded %s", id, raw, version)
			if len(errs) > 0 {
				reason = fmt.Sprintf("%s (%v)", reason, errs[0])
			}
			return &LoadError{ID: manifest.ID, Reason: reason, Err: ErrIncompatibleVersion}
		}
	}
	return nil
}
