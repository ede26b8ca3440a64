package orchestrator

import (
	"testing"
)

func TestDependencyGraph_AddNodeAndEdge(t *testing.T) {
	g := NewDependencyGraph()
	g.AddNode("a")
	g.AddNode("a") // duplicate is a no-op
	g.AddEdge("b", "a")

	nodes := g.Nodes()
	if len(nodes) != 2 {
		t.Fatalf("Expected 2 nodes, got %d", len(nodes))
	}
	if !g.HasEdge("b", "a") {
		t.Error("Expected edge b -> a")
	}
	if g.HasEdge("a", "b") {
		t.Error("Did not expect reverse edge a -> b")
	}
}

func TestDependencyGraph_SelfLoopIgnored(t *testing.T) {
	g := NewDependencyGraph()
	g.AddEdge("a", "a")

	if g.HasEdge("a", "a") {
		t.Error("Self-loop should not be created")
	}
	if len(g.Dependencies("a")) != 0 {
		t.Errorf("Expected no dependencies, got %v", g.Dependencies("a"))
	}
	if g.HasCycle() {
		t.Error("Self-loop attempt should not register as a cycle")
	}
}

func TestDependencyGraph_DuplicateEdgeIgnored(t *testing.T) {
	g := NewDependencyGraph()
	g.AddEdge("b", "a")
	g.AddEdge("b", "a")

	if len(g.Dependencies("b")) != 1 {
		t.Errorf("Expected 1 dependency after duplicate add, got %d", len(g.Dependencies("b")))
	}
	if len(g.Dependents("a")) != 1 {
		t.Errorf("Expected 1 dependent after duplicate add, got %d", len(g.Dependents("a")))
	}
}

func TestDependencyGraph_HasCycle(t *testing.T) {
	tests := []struct {
		name  string
		edges [][2]TechniqueID
		want  bool
	}{
		{
			name:  "empty graph",
			edges: nil,
			want:  false,
		},
		{
			name:  "chain",
			edges: [][2]TechniqueID{{"c", "b"}, {"b", "a"}},
			want:  false,
		},
		{
			name:  "diamond",
			edges: [][2]TechniqueID{{"d", "b"}, {"d", "c"}, {"b", "a"}, {"c", "a"}},
			want:  false,
		},
		{
			name:  "two node cycle",
			edges: [][2]TechniqueID{{"a", "b"}, {"b", "a"}},
			want:  true,
		},
		{
			name:  "long cycle",
			edges: [][2]TechniqueID{{"a", "b"}, {"b", "c"}, {"c", "d"}, {"d", "a"}},
			want:  true,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			g := NewDependencyGraph()
			for _, e := range tt.edges {
				g.AddEdge(e[0], e[1])
			}
			if got := g.HasCycle(); got != tt.want {
				t.Errorf("HasCycle() = %v, want %v", got, tt.want)
			}
		})
	}
}

func TestDependencyGraph_TopologicalSort(t *testing.T) {
	g := NewDependencyGraph()
	g.AddEdge("d", "b")
	g.AddEdge("d", "c")
	g.AddEdge("b", "a")
	g.AddEdge("c", "a")
	g.AddNode("e")

	order, ok := g.TopologicalSort()
	if !ok {
		t.Fatal("Expected successful sort for acyclic graph")
	}
	if len(order) != 5 {
		t.Fatalf("Expected 5 nodes in order, got %d", len(order))
	}

	pos := make(map[TechniqueID]int, len(order))
	for i, id := range order {
		pos[id] = i
	}
	// every dependency must appear before its dependent
	for _, id := range g.Nodes() {
		for _, dep := range g.Dependencies(id) {
			if pos[dep] >= pos[id] {
				t.Errorf("Dependency %s placed after dependent %s: %v", dep, id, order)
			}
		}
	}
}

func TestDependencyGraph_TopologicalSortCycle(t *testing.T) {
	g := NewDependencyGraph()
	g.AddEdge("a", "b")
	g.AddEdge("b", "a")

	order, ok := g.TopologicalSort()
	if ok {
		t.Error("Expected sort to fail on cyclic graph")
	}
	if order != nil {
		t.Errorf("Expected nil order on cycle, got %v", order)
	}
}

func TestDependencyGraph_IndependentGroups(t *testing.T) {
	// b -> a and d -> c form two chains; e is free
	g := NewDependencyGraph()
	g.AddEdge("b", "a")
	g.AddEdge("d", "c")
	g.AddNode("e")

	groups := g.IndependentGroups()

	total := 0
	membership := make(map[TechniqueID]int)
	for i, group := range groups {
		for _, id := range group {
			if prev, seen := membership[id]; seen {
				t.Errorf("Node %s appears in groups %d and %d", id, prev, i)
			}
			membership[id] = i
			total++
		}
	}
	if total != 5 {
		t.Errorf("Expected all 5 nodes grouped, got %d", total)
	}

	// related nodes must never share a group
	if membership["a"] == membership["b"] {
		t.Error("a and b are dependency-related and must not share a group")
	}
	if membership["c"] == membership["d"] {
		t.Error("c and d are dependency-related and must not share a group")
	}
	// unrelated nodes should co-locate with the first compatible group
	if membership["a"] != membership["c"] {
		t.Error("a and c are independent and should be grouped together")
	}
	if membership["a"] != membership["e"] {
		t.Error("e is free and should join the first group")
	}
}

func TestDependencyGraph_IndependentGroupsTransitive(t *testing.T) {
	// c -> b -> a: all three are transitively related
	g := NewDependencyGraph()
	g.AddEdge("c", "b")
	g.AddEdge("b", "a")

	groups := g.IndependentGroups()
	if len(groups) != 3 {
		t.Fatalf("Expected 3 singleton groups for a chain, got %v", groups)
	}
	for _, group := range groups {
		if len(group) != 1 {
			t.Errorf("Expected singleton group, got %v", group)
		}
	}
}
