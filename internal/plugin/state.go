package plugin

// State represents the lifecycle state of a module id in a Container.
type State int

// Module states.
const (
	// StateAbsent - Nothing is loaded under the id.
	StateAbsent State = iota

	// StateLoading - The module is being instantiated or activated.
	StateLoading

	// StateActive - The module is loaded and callable.
	StateActive

	// StateUnloading - The module is being torn down.
	StateUnloading
)

// String returns the lower-case state name.
func (s State) String() string {
	switch s {
	case StateAbsent:
		return "absent"
	case StateLoading:
		return "loading"
	case StateActive:
		return "active"
	case StateUnloading:
		return "unloading"
	default:
		return "unknown"
	}
}

// IsUsable returns true if the module can be called by others.
func (s State) IsUsable() bool {
	return s == StateActive
}
