package graph

import (
	"errors"
	"fmt"
	"strings"
)

// ErrCyclicGraph is returned when a topological order cannot be computed.
// AddEdge refuses cycles, so seeing this error means the graph was corrupted.
var ErrCyclicGraph = errors.New("cyclic dependency graph")

// CycleError reports the nodes that still had unresolved parents after
// Kahn's algorithm drained its frontier.
type CycleError struct {
	// Keys of the unresolved nodes, formatted with %v, in insertion order.
	Keys []string
}

func (e *CycleError) Error() string {
	return fmt.Sprintf("%s: unresolved nodes %s", ErrCyclicGraph, strings.Join(e.Keys, ", "))
}

// Unwrap allows errors.Is(err, ErrCyclicGraph).
func (e *CycleError) Unwrap() error {
	return ErrCyclicGraph
}
