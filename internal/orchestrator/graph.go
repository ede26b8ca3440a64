package orchestrator

// DependencyGraph is a directed graph over technique identifiers.
// An edge (from -> to) means "from depends on to": to must complete before
// from executes. The graph is mutated only during construction and is
// read-only afterward, so it carries no locking.
type DependencyGraph struct {
	nodes      map[TechniqueID]struct{}
	dependsOn  map[TechniqueID][]TechniqueID
	dependedBy map[TechniqueID][]TechniqueID
	// order preserves insertion order so traversals are deterministic
	order []TechniqueID
}

// NewDependencyGraph creates an empty dependency graph
func NewDependencyGraph() *DependencyGraph {
	return &DependencyGraph{
		nodes:      make(map[TechniqueID]struct{}),
		dependsOn:  make(map[TechniqueID][]TechniqueID),
		dependedBy: make(map[TechniqueID][]TechniqueID),
	}
}

// AddNode adds a node; adding an existing node is a no-op
func (g *DependencyGraph) AddNode(id TechniqueID) {
	if _, ok := g.nodes[id]; ok {
		return
	}
	g.nodes[id] = struct{}{}
	g.order = append(g.order, id)
}

// AddEdge records that from depends on to. Self-loops are never created.
// Missing endpoints are added implicitly; duplicate edges are ignored.
func (g *DependencyGraph) AddEdge(from, to TechniqueID) {
	if from == to {
		return
	}
	g.AddNode(from)
	g.AddNode(to)
	for _, dep := range g.dependsOn[from] {
		if dep == to {
			return
		}
	}
	g.dependsOn[from] = append(g.dependsOn[from], to)
	g.dependedBy[to] = append(g.dependedBy[to], from)
}

// Nodes returns all nodes in insertion order
func (g *DependencyGraph) Nodes() []TechniqueID {
	out := make([]TechniqueID, len(g.order))
	copy(out, g.order)
	return out
}

// Dependencies returns what id depends on
func (g *DependencyGraph) Dependencies(id TechniqueID) []TechniqueID {
	out := make([]TechniqueID, len(g.dependsOn[id]))
	copy(out, g.dependsOn[id])
	return out
}

// Dependents returns the nodes that depend on id
func (g *DependencyGraph) Dependents(id TechniqueID) []TechniqueID {
	out := make([]TechniqueID, len(g.dependedBy[id]))
	copy(out, g.dependedBy[id])
	return out
}

// HasEdge reports whether from depends on to
func (g *DependencyGraph) HasEdge(from, to TechniqueID) bool {
	for _, dep := range g.dependsOn[from] {
		if dep == to {
			return true
		}
	}
	return false
}

// dfs colors for cycle detection
type dfsColor int

const (
	colorWhite dfsColor = iota // unvisited
	colorGray                  // in progress
	colorBlack                 // done
)

// HasCycle reports whether the graph contains a dependency cycle.
// Detection is DFS with three-color marking: re-encountering an
// in-progress node signals a cycle.
func (g *DependencyGraph) HasCycle() bool {
	colors := make(map[TechniqueID]dfsColor, len(g.nodes))

	var visit func(id TechniqueID) bool
	visit = func(id TechniqueID) bool {
		colors[id] = colorGray
		for _, dep := range g.dependsOn[id] {
			switch colors[dep] {
			case colorGray:
				return true
			case colorWhite:
				if visit(dep) {
					return true
				}
			}
		}
		colors[id] = colorBlack
		return false
	}

	for _, id := range g.order {
		if colors[id] == colorWhite && visit(id) {
			return true
		}
	}
	return false
}

// TopologicalSort returns an ordering that places every dependency before
// its dependents, via DFS postorder. The second return is false when the
// graph is cyclic; callers must check it before using the order.
func (g *DependencyGraph) TopologicalSort() ([]TechniqueID, bool) {
	if g.HasCycle() {
		return nil, false
	}

	visited := make(map[TechniqueID]bool, len(g.nodes))
	order := make([]TechniqueID, 0, len(g.nodes))

	var visit func(id TechniqueID)
	visit = func(id TechniqueID) {
		visited[id] = true
		for _, dep := range g.dependsOn[id] {
			if !visited[dep] {
				visit(dep)
			}
		}
		// postorder: all dependencies of id are already placed
		order = append(order, id)
	}

	for _, id := range g.order {
		if !visited[id] {
			visit(id)
		}
	}
	return order, true
}

// IndependentGroups partitions the nodes into sets with no dependency
// relation, in either direction, between any two members. Nodes are
// assigned greedily, in insertion order, to the first group whose members
// share no transitive dependency closure with the node. Quadratic, which
// is fine for technique counts this small.
func (g *DependencyGraph) IndependentGroups() [][]TechniqueID {
	closures := make(map[TechniqueID]map[TechniqueID]struct{}, len(g.nodes))
	for _, id := range g.order {
		closures[id] = g.closure(id)
	}

	var groups [][]TechniqueID
	for _, id := range g.order {
		placed := false
		for i, group := range groups {
			if !overlaps(closures[id], group) {
				groups[i] = append(groups[i], id)
				placed = true
				break
			}
		}
		if !placed {
			groups = append(groups, []TechniqueID{id})
		}
	}
	return groups
}

// closure returns every node reachable from id following dependency edges
// in both directions, excluding id itself.
func (g *DependencyGraph) closure(id TechniqueID) map[TechniqueID]struct{} {
	reach := make(map[TechniqueID]struct{})
	var walk func(n TechniqueID, edges map[TechniqueID][]TechniqueID)
	walk = func(n TechniqueID, edges map[TechniqueID][]TechniqueID) {
		for _, next := range edges[n] {
			if _, seen := reach[next]; seen {
				continue
			}
			reach[next] = struct{}{}
			walk(next, edges)
		}
	}
	walk(id, g.dependsOn)
	walk(id, g.dependedBy)
	delete(reach, id)
	return reach
}

// overlaps reports whether any group member is in the candidate's closure.
// Closures are bidirectional, so a relation in either direction shows up.
func overlaps(closure map[TechniqueID]struct{}, group []TechniqueID) bool {
	for _, member := range group {
		if _, ok := closure[member]; ok {
			return true
		}
	}
	return false
}
