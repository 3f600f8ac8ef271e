package dag

import (
	"fmt"
	"sort"
	"sync"
)

// Graph holds the vertices of a workflow, keyed by node id string, and the
// edges between them. It is safe for concurrent use.
type Graph struct {
	mutex sync.RWMutex
	nodes map[string]*node
	// seq numbers vertices in insertion order so that orderings are stable.
	seq int
}

type node struct {
	id         string
	seq        int
	deps       map[string]*node // upstream
	dependents map[string]*node // downstream
}

// New creates and returns an initialized, empty Graph.
func New() *Graph {
	return &Graph{
		nodes: make(map[string]*node),
	}
}

// AddNode adds a new node with the given ID to the graph. If a node with
// the same ID already exists, the function does nothing.
func (g *Graph) AddNode(id string) {
	g.mutex.Lock()
	defer g.mutex.Unlock()

	if _, ok := g.nodes[id]; ok {
		return
	}

	g.nodes[id] = &node{
		id:         id,
		seq:        g.seq,
		deps:       make(map[string]*node),
		dependents: make(map[string]*node),
	}
	g.seq++
}

// RemoveNode deletes a node and all edges touching it.
func (g *Graph) RemoveNode(id string) {
	g.mutex.Lock()
	defer g.mutex.Unlock()

	n, ok := g.nodes[id]
	if !ok {
		return
	}
	for _, d := range n.deps {
		delete(d.dependents, id)
	}
	for _, d := range n.dependents {
		delete(d.deps, id)
	}
	delete(g.nodes, id)
}

// AddEdge creates a directed edge from the `fromID` node to the `toID` node.
// This signifies that `toID` has a dependency on `fromID`. An error is returned
// if either node does not exist, if the edge would create a self-reference or
// if it would close a cycle; the graph is unchanged in that case.
func (g *Graph) AddEdge(fromID, toID string) error {
	if fromID == toID {
		return fmt.Errorf("self-referential edge not allowed: %s -> %s", fromID, fromID)
	}

	g.mutex.Lock()
	defer g.mutex.Unlock()

	fromNode, ok := g.nodes[fromID]
	if !ok {
		return fmt.Errorf("source node not found: %s", fromID)
	}

	toNode, ok := g.nodes[toID]
	if !ok {
		return fmt.Errorf("destination node not found: %s", toID)
	}

	if reaches(toNode, fromID) {
		return fmt.Errorf("cycle detected: edge %s -> %s", fromID, toID)
	}

	toNode.deps[fromID] = fromNode
	fromNode.dependents[toID] = toNode

	return nil
}

// reaches reports whether target is downstream of n.
func reaches(n *node, target string) bool {
	seen := make(map[string]bool)
	stack := []*node{n}
	for len(stack) > 0 {
		cur := stack[len(stack)-1]
		stack = stack[:len(stack)-1]
		if cur.id == target {
			return true
		}
		if seen[cur.id] {
			continue
		}
		seen[cur.id] = true
		for _, d := range cur.dependents {
			stack = append(stack, d)
		}
	}
	return false
}

// RemoveEdge deletes the edge from fromID to toID if it exists.
func (g *Graph) RemoveEdge(fromID, toID string) {
	g.mutex.Lock()
	defer g.mutex.Unlock()

	if from, ok := g.nodes[fromID]; ok {
		delete(from.dependents, toID)
	}
	if to, ok := g.nodes[toID]; ok {
		delete(to.deps, fromID)
	}
}

func sorted(set map[string]*node) []string {
	ns := make([]*node, 0, len(set))
	for _, n := range set {
		ns = append(ns, n)
	}
	sort.Slice(ns, func(i, j int) bool { return ns[i].seq < ns[j].seq })
	ids := make([]string, len(ns))
	for i, n := range ns {
		ids[i] = n.id
	}
	return ids
}

// Dependents returns the IDs of the nodes that depend on the given node, in
// insertion order.
func (g *Graph) Dependents(id string) ([]string, error) {
	g.mutex.RLock()
	defer g.mutex.RUnlock()

	n, ok := g.nodes[id]
	if !ok {
		return nil, fmt.Errorf("node not found: %s", id)
	}
	return sorted(n.dependents), nil
}

// Downstream returns every node reachable from id, excluding id, in
// topological order.
func (g *Graph) Downstream(id string) ([]string, error) {
	g.mutex.RLock()
	start, ok := g.nodes[id]
	if !ok {
		g.mutex.RUnlock()
		return nil, fmt.Errorf("node not found: %s", id)
	}
	reach := make(map[string]bool)
	stack := []*node{start}
	for len(stack) > 0 {
		cur := stack[len(stack)-1]
		stack = stack[:len(stack)-1]
		for _, d := range cur.dependents {
			if !reach[d.id] {
				reach[d.id] = true
				stack = append(stack, d)
			}
		}
	}
	g.mutex.RUnlock()

	order, err := g.TopologicalSort()
	if err != nil {
		return nil, err
	}
	out := make([]string, 0, len(reach))
	for _, n := range order {
		if reach[n] {
			out = append(out, n)
		}
	}
	return out, nil
}

// Between returns the nodes on any path from `fromID` to `toID`, excluding
// both ends, in topological order.
func (g *Graph) Between(fromID, toID string) ([]string, error) {
	down, err := g.Downstream(fromID)
	if err != nil {
		return nil, err
	}
	g.mutex.RLock()
	target, ok := g.nodes[toID]
	if !ok {
		g.mutex.RUnlock()
		return nil, fmt.Errorf("node not found: %s", toID)
	}
	var out []string
	for _, id := range down {
		if id != toID && reaches(g.nodes[id], target.id) {
			out = append(out, id)
		}
	}
	g.mutex.RUnlock()
	return out, nil
}

// TopologicalSort orders all nodes so that every node comes after its
// dependencies. Ties are broken by insertion order.
func (g *Graph) TopologicalSort() ([]string, error) {
	g.mutex.RLock()
	defer g.mutex.RUnlock()

	indegree := make(map[string]int, len(g.nodes))
	var ready []*node
	for id, n := range g.nodes {
		indegree[id] = len(n.deps)
		if len(n.deps) == 0 {
			ready = append(ready, n)
		}
	}
	out := make([]string, 0, len(g.nodes))
	for len(ready) > 0 {
		sort.Slice(ready, func(i, j int) bool { return ready[i].seq < ready[j].seq })
		n := ready[0]
		ready = ready[1:]
		out = append(out, n.id)
		for _, d := range n.dependents {
			indegree[d.id]--
			if indegree[d.id] == 0 {
				ready = append(ready, d)
			}
		}
	}
	if len(out) != len(g.nodes) {
		return nil, fmt.Errorf("cycle detected: %d of %d nodes could not be ordered", len(g.nodes)-len(out), len(g.nodes))
	}
	return out, nil
}

// DetectCycles checks the graph for any cycles. It returns a non-nil error
// if a cycle is found, indicating the first node involved in the detected cycle.
func (g *Graph) DetectCycles() error {
	g.mutex.RLock()
	defer g.mutex.RUnlock()

	// permanent: nodes fully visited and not part of a cycle.
	// temporary: nodes on the current recursion stack.
	permanent := make(map[string]bool)
	temporary := make(map[string]bool)

	var visit func(n *node) error
	visit = func(n *node) error {
		if permanent[n.id] {
			return nil
		}
		if temporary[n.id] {
			return fmt.Errorf("cycle detected involving node '%s'", n.id)
		}

		temporary[n.id] = true
		for _, id := range sorted(n.dependents) {
			if err := visit(g.nodes[id]); err != nil {
				return err
			}
		}
		delete(temporary, n.id)
		permanent[n.id] = true

		return nil
	}

	for _, id := range sorted(g.nodes) {
		if err := visit(g.nodes[id]); err != nil {
			return err
		}
	}

	return nil
}
