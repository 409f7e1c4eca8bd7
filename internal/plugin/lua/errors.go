package lua

import "errors"

// State errors.
var (
	// ErrStateClosed is returned by every call on a closed State, including
	// Funcs bound to it.
	ErrStateClosed = errors.New("lua state is closed")

	// ErrFunctionNotFound is returned when calling a global that is not defined.
	ErrFunctionNotFound = errors.New("lua function not found")

	// ErrNotFunction is returned when calling a global that is not a function.
	ErrNotFunction = errors.New("lua global is not a function")
)
