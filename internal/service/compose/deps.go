package compose

import (
	"errors"
	"sort"
	"sync"

	"github.com/sandevgo/memctx/internal/core"
)

// DependencyTracker is a directed acyclic graph over context item ids.
// An edge a -> b means a depends on b, so b must appear before a in
// any composed ordering.
type DependencyTracker struct {
	mu         sync.Mutex
	deps       map[string]map[string]bool // node -> its dependencies
	dependents map[string]map[string]bool // node -> nodes depending on it
	depths     map[string]int
}

func NewDependencyTracker() *DependencyTracker {
	return &DependencyTracker{
		deps:       make(map[string]map[string]bool),
		dependents: make(map[string]map[string]bool),
		depths:     make(map[string]int),
	}
}

func (d *DependencyTracker) AddNode(id string) {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.ensureNode(id)
}

// AddDependency records that from depends on to. Self-loops and edges
// that would introduce a cycle are rejected and leave the graph
// structurally unchanged.
func (d *DependencyTracker) AddDependency(from, to string) error {
	if from == to {
		return errors.New("self-dependency is not allowed")
	}

	d.mu.Lock()
	defer d.mu.Unlock()

	d.ensureNode(from)
	d.ensureNode(to)

	// DFS before committing: if from is reachable from to through
	// dependency edges, the new edge closes a cycle.
	if d.reachable(to, from) {
		return &core.CycleError{From: from, To: to}
	}

	d.deps[from][to] = true
	d.dependents[to][from] = true
	d.recomputeDepths()
	return nil
}

// Depth is the longest dependency path from a root (a node with no
// dependencies) to id.
func (d *DependencyTracker) Depth(id string) int {
	d.mu.Lock()
	defer d.mu.Unlock()
	return d.depths[id]
}

// TopologicalOrder returns all nodes, dependencies before dependents.
// Ties resolve lexicographically so the order is deterministic.
func (d *DependencyTracker) TopologicalOrder() []string {
	d.mu.Lock()
	defer d.mu.Unlock()
	return d.topoLocked(nil)
}

// OrderedDependencies returns the transitive dependencies of id in
// topological order (dependencies first), excluding id itself.
func (d *DependencyTracker) OrderedDependencies(id string) []string {
	d.mu.Lock()
	defer d.mu.Unlock()

	closure := make(map[string]bool)
	var walk func(string)
	walk = func(n string) {
		for dep := range d.deps[n] {
			if !closure[dep] {
				closure[dep] = true
				walk(dep)
			}
		}
	}
	walk(id)

	if len(closure) == 0 {
		return nil
	}
	return d.topoLocked(closure)
}

// Edges snapshots the graph for persistence and recovery.
func (d *DependencyTracker) Edges() map[string][]string {
	d.mu.Lock()
	defer d.mu.Unlock()

	out := make(map[string][]string, len(d.deps))
	for node, deps := range d.deps {
		list := make([]string, 0, len(deps))
		for dep := range deps {
			list = append(list, dep)
		}
		sort.Strings(list)
		out[node] = list
	}
	return out
}

// Restore rebuilds the graph from an edge snapshot, keeping the
// acyclicity guard.
func (d *DependencyTracker) Restore(edges map[string][]string) error {
	for from, deps := range edges {
		for _, to := range deps {
			if err := d.AddDependency(from, to); err != nil {
				return err
			}
		}
	}
	return nil
}

func (d *DependencyTracker) ensureNode(id string) {
	if _, ok := d.deps[id]; !ok {
		d.deps[id] = make(map[string]bool)
		d.dependents[id] = make(map[string]bool)
		d.depths[id] = 0
	}
}

// reachable reports whether target can be reached from start by
// following dependency edges. Caller holds the lock.
func (d *DependencyTracker) reachable(start, target string) bool {
	stack := []string{start}
	visited := make(map[string]bool)
	for len(stack) > 0 {
		n := stack[len(stack)-1]
		stack = stack[:len(stack)-1]
		if n == target {
			return true
		}
		if visited[n] {
			continue
		}
		visited[n] = true
		for dep := range d.deps[n] {
			stack = append(stack, dep)
		}
	}
	return false
}

// recomputeDepths walks nodes in topological order so each depth is
// final when read. Caller holds the lock.
func (d *DependencyTracker) recomputeDepths() {
	order := d.topoLocked(nil)
	for _, n := range order {
		depth := 0
		for dep := range d.deps[n] {
			if d.depths[dep]+1 > depth {
				depth = d.depths[dep] + 1
			}
		}
		d.depths[n] = depth
	}
}

// topoLocked is Kahn's algorithm restricted to subset (nil = all
// nodes). Caller holds the lock.
func (d *DependencyTracker) topoLocked(subset map[string]bool) []string {
	inSet := func(id string) bool {
		return subset == nil || subset[id]
	}

	indegree := make(map[string]int)
	for node, deps := range d.deps {
		if !inSet(node) {
			continue
		}
		count := 0
		for dep := range deps {
			if inSet(dep) {
				count++
			}
		}
		indegree[node] = count
	}

	var ready []string
	for node, deg := range indegree {
		if deg == 0 {
			ready = append(ready, node)
		}
	}
	sort.Strings(ready)

	var order []string
	for len(ready) > 0 {
		n := ready[0]
		ready = ready[1:]
		order = append(order, n)

		var unlocked []string
		for dependent := range d.dependents[n] {
			if !inSet(dependent) {
				continue
			}
			indegree[dependent]--
			if indegree[dependent] == 0 {
				unlocked = append(unlocked, dependent)
			}
		}
		sort.Strings(unlocked)
		ready = append(ready, unlocked...)
	}
	return order
}
