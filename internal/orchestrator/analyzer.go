package orchestrator

import (
	"log/slog"
	"strconv"
	"strings"
	"sync"
)

// dependsOnAll is the internal table marker meaning "depends on every other
// technique in the request". It never appears in a built graph or in
// AllDependencies output.
const dependsOnAll TechniqueID = "*"

// hardDependencies maps a technique to the techniques whose output it
// requires. Edges are only materialized when both endpoints are present
// in a request.
var hardDependencies = map[TechniqueID][]TechniqueID{
	TechniqueYesAnd:            {TechniquePO},
	TechniqueConceptExtraction: {TechniqueSCAMPER},
	TechniqueTemporalWork:      {TechniqueNeuralState},
	TechniqueConvergence:       {dependsOnAll},
}

// synergyPairs are soft co-occurrence affinities. They influence grouping
// quality, never correctness.
var synergyPairs = [][2]TechniqueID{
	{TechniqueSixHats, TechniqueSCAMPER},
	{TechniquePO, TechniqueRandomEntry},
	{TechniqueTRIZ, TechniqueNineWindows},
	{TechniqueDesignThinking, TechniqueDisneyMethod},
	{TechniqueNeuralState, TechniqueTemporalWork},
	{TechniqueCrossCultural, TechniqueCollectiveIntel},
	{TechniqueSixHats, TechniqueDesignThinking},
}

// DependencyAnalyzer answers dependency and parallelism questions over
// technique sets using the static hard/soft tables. Unknown identifiers
// are treated as dependency-free nodes rather than errors, so synthetic
// techniques can flow through planning in tests.
type DependencyAnalyzer struct {
	logger *slog.Logger

	mu            sync.Mutex
	groupingCache map[string][][]TechniqueID
}

// NewDependencyAnalyzer creates a dependency analyzer
func NewDependencyAnalyzer(logger *slog.Logger) *DependencyAnalyzer {
	return &DependencyAnalyzer{
		logger:        logger,
		groupingCache: make(map[string][][]TechniqueID),
	}
}

// AnalyzeDependencies builds the dependency graph for a technique set.
// The reserved convergence technique, when present, receives a dependency
// edge to every other technique in the set.
func (a *DependencyAnalyzer) AnalyzeDependencies(techniques []TechniqueID) *DependencyGraph {
	graph := NewDependencyGraph()
	present := make(map[TechniqueID]struct{}, len(techniques))
	for _, t := range techniques {
		graph.AddNode(t)
		present[t] = struct{}{}
	}

	for _, t := range techniques {
		for _, dep := range hardDependencies[t] {
			if dep == dependsOnAll {
				for _, other := range techniques {
					if other != t {
						graph.AddEdge(t, other)
					}
				}
				continue
			}
			if _, ok := present[dep]; ok {
				graph.AddEdge(t, dep)
			}
		}
	}
	return graph
}

// FindSynergies returns the soft-affinity pairs with both sides present
func (a *DependencyAnalyzer) FindSynergies(techniques []TechniqueID) [][2]TechniqueID {
	present := make(map[TechniqueID]struct{}, len(techniques))
	for _, t := range techniques {
		present[t] = struct{}{}
	}

	var out [][2]TechniqueID
	for _, pair := range synergyPairs {
		if _, ok := present[pair[0]]; !ok {
			continue
		}
		if _, ok := present[pair[1]]; !ok {
			continue
		}
		out = append(out, pair)
	}
	return out
}

// CanRunInParallel reports whether two techniques may execute concurrently.
// False when a hard dependency exists in either direction or either side
// is the convergence marker. Symmetric by construction.
func (a *DependencyAnalyzer) CanRunInParallel(x, y TechniqueID) bool {
	if x == TechniqueConvergence || y == TechniqueConvergence {
		return false
	}
	return !hasHardDependency(x, y) && !hasHardDependency(y, x)
}

// CanGroupRunTogether reports whether a technique set has no internal hard
// dependency and does not mix convergence with other techniques.
func (a *DependencyAnalyzer) CanGroupRunTogether(techniques []TechniqueID) bool {
	for i, x := range techniques {
		for _, y := range techniques[i+1:] {
			if !a.CanRunInParallel(x, y) {
				return false
			}
		}
	}
	return true
}

// FindOptimalGrouping partitions techniques into at most maxGroups groups
// of mutually independent techniques. Convergence, when present, is always
// isolated into its own singleton group and does not count against
// maxGroups. When the natural partition exceeds the bound, the two
// smallest mergeable groups merge first (lowest combined size, then lowest
// index), so the result is deterministic for a given input order.
func (a *DependencyAnalyzer) FindOptimalGrouping(techniques []TechniqueID, maxGroups int) [][]TechniqueID {
	if len(techniques) == 0 {
		return nil
	}
	if maxGroups < 1 {
		maxGroups = 1
	}

	key := groupingKey(techniques, maxGroups)
	a.mu.Lock()
	if cached, ok := a.groupingCache[key]; ok {
		a.mu.Unlock()
		return copyGroups(cached)
	}
	a.mu.Unlock()

	var hasConvergence bool
	rest := make([]TechniqueID, 0, len(techniques))
	for _, t := range techniques {
		if t == TechniqueConvergence {
			hasConvergence = true
			continue
		}
		rest = append(rest, t)
	}

	graph := a.AnalyzeDependencies(rest)
	groups := graph.IndependentGroups()

	for len(groups) > maxGroups {
		i, j := a.smallestMergeablePair(groups)
		if i < 0 {
			// every remaining merge would violate a hard dependency
			break
		}
		groups[i] = append(groups[i], groups[j]...)
		groups = append(groups[:j], groups[j+1:]...)
	}

	if hasConvergence {
		groups = append(groups, []TechniqueID{TechniqueConvergence})
	}

	a.mu.Lock()
	a.groupingCache[key] = copyGroups(groups)
	a.mu.Unlock()

	a.logger.Debug("Computed technique grouping",
		"techniques", len(techniques),
		"max_groups", maxGroups,
		"groups", len(groups),
	)
	return groups
}

// smallestMergeablePair finds the pair of groups with the lowest combined
// size whose union stays free of hard dependencies. Returns -1, -1 when no
// pair can merge.
func (a *DependencyAnalyzer) smallestMergeablePair(groups [][]TechniqueID) (int, int) {
	bestI, bestJ, bestSize := -1, -1, 0
	for i := 0; i < len(groups); i++ {
		for j := i + 1; j < len(groups); j++ {
			merged := make([]TechniqueID, 0, len(groups[i])+len(groups[j]))
			merged = append(merged, groups[i]...)
			merged = append(merged, groups[j]...)
			if !a.CanGroupRunTogether(merged) {
				continue
			}
			if bestI < 0 || len(merged) < bestSize {
				bestI, bestJ, bestSize = i, j, len(merged)
			}
		}
	}
	return bestI, bestJ
}

// AllDependencies returns the hard and soft dependencies of one technique,
// with the internal depends-on-everything marker filtered out of the hard
// list.
func (a *DependencyAnalyzer) AllDependencies(t TechniqueID) (hard, soft []TechniqueID) {
	for _, dep := range hardDependencies[t] {
		if dep == dependsOnAll {
			continue
		}
		hard = append(hard, dep)
	}
	for _, pair := range synergyPairs {
		switch t {
		case pair[0]:
			soft = append(soft, pair[1])
		case pair[1]:
			soft = append(soft, pair[0])
		}
	}
	return hard, soft
}

func hasHardDependency(from, to TechniqueID) bool {
	for _, dep := range hardDependencies[from] {
		if dep == to {
			return true
		}
	}
	return false
}

// groupingKey preserves request order: the grouping tie-break is
// order-sensitive, so differently ordered requests cache separately.
func groupingKey(techniques []TechniqueID, maxGroups int) string {
	parts := make([]string, 0, len(techniques))
	for _, t := range techniques {
		parts = append(parts, string(t))
	}
	return strings.Join(parts, ",") + "|" + strconv.Itoa(maxGroups)
}

func copyGroups(groups [][]TechniqueID) [][]TechniqueID {
	out := make([][]TechniqueID, len(groups))
	for i, g := range groups {
		out[i] = make([]TechniqueID, len(g))
		copy(out[i], g)
	}
	return out
}
