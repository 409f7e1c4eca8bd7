package plugin

import (
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"regexp"
	"strings"

	"github.com/Masterminds/semver/v3"
	"gopkg.in/yaml.v3"
)

// Manifest describes a module's identity, entry point and dependencies.
type Manifest struct {
	// Identity
	ID          string `json:"id" yaml:"id"`                   // Unique while loaded (e.g., "greeter")
	Version     string `json:"version" yaml:"version"`         // Semver (e.g., "1.2.0")
	DisplayName string `json:"displayName" yaml:"displayName"` // Human-readable name
	Description string `json:"description" yaml:"description"` // Short description

	// Entry point, relative to the manifest directory (default: "init.lua")
	Entry string `json:"entry" yaml:"entry"`

	// Requirements
	DependsOn   []string          `json:"dependsOn" yaml:"dependsOn"`     // Ids of required modules
	Constraints map[string]string `json:"constraints" yaml:"constraints"` // Dependency id -> semver constraint

	// Default configuration passed to setup(config)
	Config map[string]any `json:"config" yaml:"config"`

	// Internal: path to the module directory
	path string
}

// Manifest file names, in lookup order.
var manifestFiles = []string{"module.json", "module.yaml", "module.yml"}

// Validation errors.
var (
	ErrMissingID         = errors.New("manifest: id is required")
	ErrInvalidID         = errors.New("manifest: id must be lowercase alphanumeric with '.', '_' or '-'")
	ErrInvalidVersion    = errors.New("manifest: version must be valid semver")
	ErrInvalidEntry      = errors.New("manifest: entry must be a .lua file")
	ErrSelfDependency    = errors.New("manifest: module depends on itself")
	ErrInvalidConstraint = errors.New("manifest: invalid version constraint")
	ErrUnknownFormat     = errors.New("manifest: unknown format")
)

// idPattern validates module ids.
var idPattern = regexp.MustCompile(`^[a-z][a-z0-9._-]*$`)

// LoadManifest loads and validates a manifest file. The format is chosen
// by extension (.json, .yaml or .yml).
func LoadManifest(path string) (*Manifest, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read manifest: %w", err)
	}

	m, err := ParseManifest(data, filepath.Ext(path))
	if err != nil {
		return nil, fmt.Errorf("%s: %w", path, err)
	}
	m.path = filepath.Dir(path)
	return m, nil
}

// ParseManifest decodes and validates a manifest. format is a file
// extension: ".json", ".yaml" or ".yml".
func ParseManifest(data []byte, format string) (*Manifest, error) {
	var m Manifest
	switch strings.ToLower(format) {
	case ".json", "json":
		if err := json.Unmarshal(data, &m); err != nil {
			return nil, fmt.Errorf("failed to parse manifest: %w", err)
		}
	case ".yaml", ".yml", "yaml", "yml":
		if err := yaml.Unmarshal(data, &m); err != nil {
			return nil, fmt.Errorf("failed to parse manifest: %w", err)
		}
	default:
		return nil, fmt.Errorf("%w: %q", ErrUnknownFormat, format)
	}

	m.applyDefaults()
	if err := m.Validate(); err != nil {
		return nil, err
	}
	return &m, nil
}

// FindManifest returns the manifest file inside dir, if any.
func FindManifest(dir string) (string, bool) {
	for _, name := range manifestFiles {
		path := filepath.Join(dir, name)
		if info, err := os.Stat(path); err == nil && !info.IsDir() {
			return path, true
		}
	}
	return "", false
}

// LoadManifestFromDir loads the manifest found in a module directory.
func LoadManifestFromDir(dir string) (*Manifest, error) {
	path, ok := FindManifest(dir)
	if !ok {
		return nil, fmt.Errorf("%w: no manifest in %s", ErrModuleNotFound, dir)
	}
	return LoadManifest(path)
}

// NewManifestMinimal creates a manifest for a single-file module.
func NewManifestMinimal(id, file string) *Manifest {
	m := &Manifest{
		ID:    id,
		Entry: filepath.Base(file),
		path:  filepath.Dir(file),
	}
	m.applyDefaults()
	return m
}

// applyDefaults sets default values for optional fields and removes
// duplicate dependencies.
func (m *Manifest) applyDefaults() {
	if m.Entry == "" {
		m.Entry = "init.lua"
	}
	if m.Version == "" {
		m.Version = "0.0.0"
	}

	if len(m.DependsOn) > 0 {
		seen := make(map[string]bool, len(m.DependsOn))
		deps := m.DependsOn[:0]
		for _, dep := range m.DependsOn {
			if seen[dep] {
				continue
			}
			seen[dep] = true
			deps = append(deps, dep)
		}
		m.DependsOn = deps
	}
}

// Validate reports every problem with the manifest, joined.
func (m *Manifest) Validate() error {
	if m.ID == "" {
		return ErrMissingID
	}
	if !idPattern.MatchString(m.ID) {
		return fmt.Errorf("%w: %s", ErrInvalidID, m.ID)
	}

	if _, err := semver.StrictNewVersion(m.Version); err != nil {
		return fmt.Errorf("%w: %s", ErrInvalidVersion, m.Version)
	}

	if filepath.Ext(m.Entry) != ".lua" {
		return fmt.Errorf("%w: %s", ErrInvalidEntry, m.Entry)
	}

	for _, dep := range m.DependsOn {
		if dep == m.ID {
			return fmt.Errorf("%w: %s", ErrSelfDependency, m.ID)
		}
		if !idPattern.MatchString(dep) {
			return fmt.Errorf("%w: dependency %s", ErrInvalidID, dep)
		}
	}

	for dep, c := range m.Constraints {
		if _, err := semver.NewConstraint(c); err != nil {
			return fmt.Errorf("%w: %s %q", ErrInvalidConstraint, dep, c)
		}
	}

	return nil
}

// SemVer returns the parsed version. Validated manifests always parse.
func (m *Manifest) SemVer() (*semver.Version, error) {
	return semver.NewVersion(m.Version)
}

// Path returns the path to the module directory.
func (m *Manifest) Path() string {
	return m.path
}

// EntryPath returns the full path to the entry Lua file.
func (m *Manifest) EntryPath() string {
	return filepath.Join(m.path, m.Entry)
}

// DependsOnID reports whether id is a declared dependency.
func (m *Manifest) DependsOnID(id string) bool {
	for _, dep := range m.DependsOn {
		if dep == id {
			return true
		}
	}
	return false
}

// String returns "id@version".
func (m *Manifest) String() string {
	display := m.DisplayName
	if display == "" {
		display = m.ID
	}
	return fmt.Sprintf("%s v%s", display, m.Version)
}

// Clone creates a deep copy of the manifest. Config values are copied one
// level deep.
func (m *Manifest) Clone() *Manifest {
	clone := *m

	if m.DependsOn != nil {
		clone.DependsOn = make([]string, len(m.DependsOn))
		copy(clone.DependsOn, m.DependsOn)
	}

	if m.Constraints != nil {
		clone.Constraints = make(map[string]string, len(m.Constraints))
		for k, v := range m.Constraints {
			clone.Constraints[k] = v
		}
	}

	if m.Config != nil {
		clone.Config = make(map[string]any, len(m.Config))
		for k, v := range m.Config {
			clone.Config[k] = v
		}
	}

	return &clone
}
