package graph

import (
	"fmt"
	"reflect"
	"sort"
	"sync"
)

// Status describes the outcome recorded for a node.
type Status int

const (
	// Unknown nodes were referenced but never built.
	Unknown Status = iota
	// Built nodes constructed successfully.
	Built
	// Failed nodes are root failures.
	Failed
	// Invalid nodes were built but rejected by their own validation.
	Invalid
	// Skipped nodes failed only because a dependency failed.
	Skipped
)

func (s Status) String() string {
	switch s {
	case Built:
		return "built"
	case Failed:
		return "failed"
	case Invalid:
		return "invalid"
	case Skipped:
		return "skipped"
	default:
		return "unknown"
	}
}

// NodeKey identifies one instance of one plugin type.
type NodeKey struct {
	Type reflect.Type
	Name string
}

// String returns a string representation of the node key
func (k NodeKey) String() string {
	if k.Name != "" {
		return fmt.Sprintf("%v(%s)", k.Type, k.Name)
	}
	return fmt.Sprintf("%v", k.Type)
}

// Node is an instance observed in the dependency graph.
type Node struct {
	Key    NodeKey
	Label  string
	Status Status

	// Depth is the longest dependency chain below this node.
	Depth int

	Dependencies []NodeKey // nodes this node depends on
	Dependents   []NodeKey // nodes that depend on this node
}

// String returns a string representation of the node
func (n *Node) String() string {
	return fmt.Sprintf("Node{%s, %s, deps:%d, dependents:%d}",
		n.Key.String(), n.Status, len(n.Dependencies), len(n.Dependents))
}

// DependencyGraph records dependency edges between instances as they are
// observed during construction.
type DependencyGraph struct {
	mu    sync.RWMutex
	nodes map[NodeKey]*Node
	order []NodeKey

	sortedNodes      []*Node
	sortedNodesDirty bool
}

// NewDependencyGraph creates a new dependency graph
func NewDependencyGraph() *DependencyGraph {
	return &DependencyGraph{
		nodes:            make(map[NodeKey]*Node),
		sortedNodesDirty: true,
	}
}

// AddNode ensures a node exists and returns it.
func (g *DependencyGraph) AddNode(key NodeKey, label string) *Node {
	g.mu.Lock()
	defer g.mu.Unlock()

	n := g.ensure(key)
	if label != "" {
		n.Label = label
	}

	return n
}

func (g *DependencyGraph) ensure(key NodeKey) *Node {
	if n, ok := g.nodes[key]; ok {
		return n
	}

	n := &Node{Key: key}
	g.nodes[key] = n
	g.order = append(g.order, key)
	g.sortedNodesDirty = true
	return n
}

// AddEdge records that from depends on to. Duplicate edges are ignored.
func (g *DependencyGraph) AddEdge(from, to NodeKey) {
	if from == to {
		return
	}

	g.mu.Lock()
	defer g.mu.Unlock()

	fromNode := g.ensure(from)
	toNode := g.ensure(to)

	for _, existing := range fromNode.Dependencies {
		if existing == to {
			return
		}
	}

	fromNode.Dependencies = append(fromNode.Dependencies, to)
	toNode.Dependents = append(toNode.Dependents, from)
	g.sortedNodesDirty = true
}

// SetStatus records the outcome of a node.
func (g *DependencyGraph) SetStatus(key NodeKey, status Status) {
	g.mu.Lock()
	defer g.mu.Unlock()

	g.ensure(key).Status = status
}

// RemoveNode removes a node and every edge touching it.
func (g *DependencyGraph) RemoveNode(key NodeKey) {
	g.mu.Lock()
	defer g.mu.Unlock()

	removed, ok := g.nodes[key]
	if !ok {
		return
	}

	delete(g.nodes, key)
	for i, k := range g.order {
		if k == key {
			g.order = append(g.order[:i:i], g.order[i+1:]...)
			break
		}
	}

	for _, dep := range removed.Dependencies {
		if n, ok := g.nodes[dep]; ok {
			n.Dependents = without(n.Dependents, key)
		}
	}

	for _, dep := range removed.Dependents {
		if n, ok := g.nodes[dep]; ok {
			n.Dependencies = without(n.Dependencies, key)
		}
	}

	g.sortedNodesDirty = true
}

func without(keys []NodeKey, key NodeKey) []NodeKey {
	out := keys[:0:0]
	for _, k := range keys {
		if k != key {
			out = append(out, k)
		}
	}
	return out
}

// TopologicalSort returns nodes in dependency order (dependencies first).
// Nodes are visited in insertion order so the result is stable.
func (g *DependencyGraph) TopologicalSort() ([]*Node, error) {
	g.mu.RLock()
	if !g.sortedNodesDirty && g.sortedNodes != nil {
		result := make([]*Node, len(g.sortedNodes))
		copy(result, g.sortedNodes)
		g.mu.RUnlock()
		return result, nil
	}
	g.mu.RUnlock()

	g.mu.Lock()
	defer g.mu.Unlock()

	// Kahn's algorithm over the count of unresolved dependencies
	pending := make(map[NodeKey]int, len(g.nodes))
	queue := make([]NodeKey, 0)
	for _, key := range g.order {
		pending[key] = len(g.nodes[key].Dependencies)
		if pending[key] == 0 {
			queue = append(queue, key)
		}
	}

	result := make([]*Node, 0, len(g.nodes))
	for len(queue) > 0 {
		current := queue[0]
		queue = queue[1:]

		node := g.nodes[current]
		result = append(result, node)

		for _, dependent := range node.Dependents {
			pending[dependent]--
			if pending[dependent] == 0 {
				queue = append(queue, dependent)
			}
		}
	}

	if len(result) != len(g.nodes) {
		return nil, g.cycleError()
	}

	g.sortedNodes = result
	g.sortedNodesDirty = false

	out := make([]*Node, len(result))
	copy(out, result)
	return out, nil
}

// DetectCycles returns a CircularDependencyError describing the first cycle found.
func (g *DependencyGraph) DetectCycles() error {
	g.mu.RLock()
	defer g.mu.RUnlock()

	return g.cycleError()
}

// cycleError performs an iterative DFS and reconstructs the first cycle.
// Callers must hold the lock.
func (g *DependencyGraph) cycleError() error {
	const (
		white = iota
		grey
		black
	)

	color := make(map[NodeKey]int, len(g.nodes))
	parent := make(map[NodeKey]NodeKey, len(g.nodes))

	type frame struct {
		key  NodeKey
		next int
	}

	for _, start := range g.order {
		if color[start] != white {
			continue
		}

		stack := []frame{{key: start}}
		color[start] = grey

		for len(stack) > 0 {
			top := &stack[len(stack)-1]
			deps := g.nodes[top.key].Dependencies

			if top.next >= len(deps) {
				color[top.key] = black
				stack = stack[:len(stack)-1]
				continue
			}

			dep := deps[top.next]
			top.next++

			switch color[dep] {
			case white:
				color[dep] = grey
				parent[dep] = top.key
				stack = append(stack, frame{key: dep})
			case grey:
				path := []NodeKey{dep}
				for k := top.key; k != dep; k = parent[k] {
					path = append(path, k)
				}
				// path was collected walking back from the edge; reverse it
				for i, j := 1, len(path)-1; i < j; i, j = i+1, j-1 {
					path[i], path[j] = path[j], path[i]
				}
				return &CircularDependencyError{Node: dep, Path: path}
			}
		}
	}

	return nil
}

// GetDependencies returns the direct dependencies of a node.
func (g *DependencyGraph) GetDependencies(key NodeKey) []NodeKey {
	g.mu.RLock()
	defer g.mu.RUnlock()

	if node, ok := g.nodes[key]; ok {
		result := make([]NodeKey, len(node.Dependencies))
		copy(result, node.Dependencies)
		return result
	}

	return nil
}

// GetDependents returns the nodes that depend directly on key.
func (g *DependencyGraph) GetDependents(key NodeKey) []NodeKey {
	g.mu.RLock()
	defer g.mu.RUnlock()

	if node, ok := g.nodes[key]; ok {
		result := make([]NodeKey, len(node.Dependents))
		copy(result, node.Dependents)
		return result
	}

	return nil
}

// GetTransitiveDependents returns every node that depends on key directly or
// indirectly, nearest first.
func (g *DependencyGraph) GetTransitiveDependents(key NodeKey) []NodeKey {
	g.mu.RLock()
	defer g.mu.RUnlock()

	visited := map[NodeKey]bool{key: true}
	result := make([]NodeKey, 0)
	queue := []NodeKey{key}

	for len(queue) > 0 {
		current := queue[0]
		queue = queue[1:]

		node, ok := g.nodes[current]
		if !ok {
			continue
		}

		for _, dep := range node.Dependents {
			if visited[dep] {
				continue
			}
			visited[dep] = true
			result = append(result, dep)
			queue = append(queue, dep)
		}
	}

	return result
}

// GetNode returns the node for key, or nil.
func (g *DependencyGraph) GetNode(key NodeKey) *Node {
	g.mu.RLock()
	defer g.mu.RUnlock()

	return g.nodes[key]
}

// HasNode checks if a node exists in the graph
func (g *DependencyGraph) HasNode(key NodeKey) bool {
	g.mu.RLock()
	defer g.mu.RUnlock()

	_, ok := g.nodes[key]
	return ok
}

// Nodes returns all nodes ordered by key.
func (g *DependencyGraph) Nodes() []*Node {
	g.mu.RLock()
	defer g.mu.RUnlock()

	return g.sortedByKey()
}

func (g *DependencyGraph) sortedByKey() []*Node {
	nodes := make([]*Node, 0, len(g.nodes))
	for _, n := range g.nodes {
		nodes = append(nodes, n)
	}

	sort.Slice(nodes, func(i, j int) bool {
		return nodes[i].Key.String() < nodes[j].Key.String()
	})

	return nodes
}

// Clear removes all nodes and edges from the graph
func (g *DependencyGraph) Clear() {
	g.mu.Lock()
	defer g.mu.Unlock()

	g.nodes = make(map[NodeKey]*Node)
	g.order = nil
	g.sortedNodes = nil
	g.sortedNodesDirty = true
}

// Size returns the number of nodes in the graph
func (g *DependencyGraph) Size() int {
	g.mu.RLock()
	defer g.mu.RUnlock()

	return len(g.nodes)
}

// IsAcyclic returns true if the graph has no cycles
func (g *DependencyGraph) IsAcyclic() bool {
	return g.DetectCycles() == nil
}

// GetRoots returns nodes nothing depends on.
func (g *DependencyGraph) GetRoots() []*Node {
	g.mu.RLock()
	defer g.mu.RUnlock()

	roots := make([]*Node, 0)
	for _, node := range g.sortedByKey() {
		if len(node.Dependents) == 0 {
			roots = append(roots, node)
		}
	}

	return roots
}

// GetLeaves returns nodes without dependencies.
func (g *DependencyGraph) GetLeaves() []*Node {
	g.mu.RLock()
	defer g.mu.RUnlock()

	leaves := make([]*Node, 0)
	for _, node := range g.sortedByKey() {
		if len(node.Dependencies) == 0 {
			leaves = append(leaves, node)
		}
	}

	return leaves
}

// CalculateDepths assigns each node the length of its longest dependency
// chain. Nodes on a cycle keep a depth of -1.
func (g *DependencyGraph) CalculateDepths() {
	g.mu.Lock()
	defer g.mu.Unlock()

	for _, node := range g.nodes {
		node.Depth = -1
	}

	pending := make(map[NodeKey]int, len(g.nodes))
	queue := make([]*Node, 0)
	for _, key := range g.order {
		node := g.nodes[key]
		pending[key] = len(node.Dependencies)
		if pending[key] == 0 {
			node.Depth = 0
			queue = append(queue, node)
		}
	}

	for len(queue) > 0 {
		current := queue[0]
		queue = queue[1:]

		for _, depKey := range current.Dependents {
			dep := g.nodes[depKey]
			if dep.Depth < current.Depth+1 {
				dep.Depth = current.Depth + 1
			}

			pending[depKey]--
			if pending[depKey] == 0 {
				queue = append(queue, dep)
			}
		}
	}

	// nodes still pending sit on or behind a cycle
	for key, n := range pending {
		if n > 0 {
			g.nodes[key].Depth = -1
		}
	}
}
