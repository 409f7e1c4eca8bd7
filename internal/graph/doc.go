// Package graph provides a keyed directed acyclic graph used to order module
// loading and unloading.
//
// Nodes live in an arena addressed by integer ids; edge sets are id sets, so
// there are no pointer cycles between nodes. An edge runs from a dependency
// (parent) to a dependent (child): the parent must be loaded before the child.
//
// AddEdge is the only operation that can introduce a cycle and it refuses to
// do so. TopologicalOrder works on a copy, so queries never mutate the live
// graph. Among nodes that become ready at the same time, the one inserted
// first is emitted first, which makes every ordering reproducible.
//
// A Graph is not safe for concurrent use. Callers serialize access.
package graph
