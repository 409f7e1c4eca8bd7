package graph

import (
	"container/heap"
	"fmt"
	"sort"
)

// Node is a vertex of a Graph. Nodes are created by GetOrCreate and stay
// owned by the graph that created them.
type Node[K comparable, T any] struct {
	id    int
	key   K
	value T

	parents  map[int]struct{}
	children map[int]struct{}
}

// Key returns the node key.
func (n *Node[K, T]) Key() K { return n.key }

// Value returns the node payload.
func (n *Node[K, T]) Value() T { return n.value }

// IsRoot reports whether the node has no parents.
func (n *Node[K, T]) IsRoot() bool { return len(n.parents) == 0 }

// Graph is a keyed DAG with payloads of type T.
type Graph[K comparable, T any] struct {
	index  map[K]int
	nodes  map[int]*Node[K, T]
	nextID int
}

// New creates an empty graph.
func New[K comparable, T any]() *Graph[K, T] {
	return &Graph[K, T]{
		index: make(map[K]int),
		nodes: make(map[int]*Node[K, T]),
	}
}

// GetOrCreate returns the node stored under key, inserting a new node with
// the given value and no edges if the key is absent. The value of an existing
// node is left untouched.
func (g *Graph[K, T]) GetOrCreate(key K, value T) *Node[K, T] {
	if id, ok := g.index[key]; ok {
		return g.nodes[id]
	}

	n := &Node[K, T]{
		id:       g.nextID,
		key:      key,
		value:    value,
		parents:  make(map[int]struct{}),
		children: make(map[int]struct{}),
	}
	g.nextID++
	g.index[key] = n.id
	g.nodes[n.id] = n
	return n
}

// Get returns the node stored under key.
func (g *Graph[K, T]) Get(key K) (*Node[K, T], bool) {
	id, ok := g.index[key]
	if !ok {
		return nil, false
	}
	return g.nodes[id], true
}

// Len returns the number of nodes.
func (g *Graph[K, T]) Len() int {
	return len(g.nodes)
}

// Keys returns all keys in insertion order.
func (g *Graph[K, T]) Keys() []K {
	keys := make([]K, 0, len(g.nodes))
	for _, n := range g.sortedNodes() {
		keys = append(keys, n.key)
	}
	return keys
}

// AddEdge installs the edge dependency -> dependent. It returns false and
// leaves the graph untouched when the edge would close a cycle, that is when
// dependent already reaches dependency (or both are the same node). Adding an
// edge that already exists returns true.
func (g *Graph[K, T]) AddEdge(dependency, dependent *Node[K, T]) bool {
	if dependency == nil || dependent == nil {
		return false
	}
	if !g.owns(dependency) || !g.owns(dependent) {
		return false
	}
	if dependency.id == dependent.id {
		return false
	}
	if g.reaches(dependent, dependency.id, make(map[int]bool)) {
		return false
	}

	dependency.children[dependent.id] = struct{}{}
	dependent.parents[dependency.id] = struct{}{}
	return true
}

// reaches reports whether target is a (transitive) child of from.
func (g *Graph[K, T]) reaches(from *Node[K, T], target int, visited map[int]bool) bool {
	for id := range from.children {
		if id == target {
			return true
		}
		if visited[id] {
			continue
		}
		visited[id] = true
		if g.reaches(g.nodes[id], target, visited) {
			return true
		}
	}
	return false
}

// RemoveNode detaches the node stored under key from all of its neighbours
// and deletes it. Neighbours left without edges are kept.
func (g *Graph[K, T]) RemoveNode(key K) bool {
	id, ok := g.index[key]
	if !ok {
		return false
	}
	n := g.nodes[id]

	for pid := range n.parents {
		delete(g.nodes[pid].children, id)
	}
	for cid := range n.children {
		delete(g.nodes[cid].parents, id)
	}
	n.parents = make(map[int]struct{})
	n.children = make(map[int]struct{})

	delete(g.index, key)
	delete(g.nodes, id)
	return true
}

// Parents returns the values of the node's direct dependencies in insertion order.
func (g *Graph[K, T]) Parents(n *Node[K, T]) []T {
	return g.values(n.parents)
}

// Children returns the values of the node's direct dependents in insertion order.
func (g *Graph[K, T]) Children(n *Node[K, T]) []T {
	return g.values(n.children)
}

func (g *Graph[K, T]) values(set map[int]struct{}) []T {
	ids := sortedIDs(set)
	out := make([]T, 0, len(ids))
	for _, id := range ids {
		out = append(out, g.nodes[id].value)
	}
	return out
}

// TopologicalOrder returns node values so that every dependency precedes its
// dependents. Without roots the whole graph is ordered; with roots only the
// roots and the nodes reachable from them along dependency -> dependent edges
// take part, and parents outside that subgraph are ignored.
//
// Ready nodes are emitted in insertion order.
func (g *Graph[K, T]) TopologicalOrder(roots ...*Node[K, T]) ([]T, error) {
	selected := g.selection(roots)

	// Work on copied in-degrees so the live graph is never touched.
	inDegree := make(map[int]int, len(selected))
	for id := range selected {
		deg := 0
		for pid := range g.nodes[id].parents {
			if selected[pid] {
				deg++
			}
		}
		inDegree[id] = deg
	}

	frontier := &idHeap{}
	for id, deg := range inDegree {
		if deg == 0 {
			heap.Push(frontier, id)
		}
	}

	order := make([]T, 0, len(selected))
	for frontier.Len() > 0 {
		id := heap.Pop(frontier).(int)
		n := g.nodes[id]
		order = append(order, n.value)

		for cid := range n.children {
			if !selected[cid] {
				continue
			}
			inDegree[cid]--
			if inDegree[cid] == 0 {
				heap.Push(frontier, cid)
			}
		}
	}

	if len(order) != len(selected) {
		var unresolved []int
		for id, deg := range inDegree {
			if deg > 0 {
				unresolved = append(unresolved, id)
			}
		}
		sort.Ints(unresolved)
		keys := make([]string, 0, len(unresolved))
		for _, id := range unresolved {
			keys = append(keys, fmt.Sprintf("%v", g.nodes[id].key))
		}
		return nil, &CycleError{Keys: keys}
	}

	return order, nil
}

// selection returns the ids taking part in an ordering query.
func (g *Graph[K, T]) selection(roots []*Node[K, T]) map[int]bool {
	selected := make(map[int]bool, len(g.nodes))
	if len(roots) == 0 {
		for id := range g.nodes {
			selected[id] = true
		}
		return selected
	}

	stack := make([]int, 0, len(roots))
	for _, r := range roots {
		if r != nil && g.owns(r) {
			stack = append(stack, r.id)
		}
	}
	for len(stack) > 0 {
		id := stack[len(stack)-1]
		stack = stack[:len(stack)-1]
		if selected[id] {
			continue
		}
		selected[id] = true
		for cid := range g.nodes[id].children {
			if !selected[cid] {
				stack = append(stack, cid)
			}
		}
	}
	return selected
}

// owns reports whether n is a live node of this graph.
func (g *Graph[K, T]) owns(n *Node[K, T]) bool {
	cur, ok := g.nodes[n.id]
	return ok && cur == n
}

func (g *Graph[K, T]) sortedNodes() []*Node[K, T] {
	ids := make([]int, 0, len(g.nodes))
	for id := range g.nodes {
		ids = append(ids, id)
	}
	sort.Ints(ids)
	out := make([]*Node[K, T], 0, len(ids))
	for _, id := range ids {
		out = append(out, g.nodes[id])
	}
	return out
}

func sortedIDs(set map[int]struct{}) []int {
	ids := make([]int, 0, len(set))
	for id := range set {
		ids = append(ids, id)
	}
	sort.Ints(ids)
	return ids
}

// idHeap is a min-heap of node ids; ids grow with insertion order.
type idHeap []int

func (h idHeap) Len() int           { return len(h) }
func (h idHeap) Less(i, j int) bool { return h[i] < h[j] }
func (h idHeap) Swap(i, j int)      { h[i], h[j] = h[j], h[i] }

func (h *idHeap) Push(x any) { *h = append(*h, x.(int)) }

func (h *idHeap) Pop() any {
	old := *h
	n := len(old)
	x := old[n-1]
	*h = old[:n-1]
	return x
}
