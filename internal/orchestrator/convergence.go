package orchestrator

import (
	"context"
	"errors"
	"fmt"
	"hash/fnv"
	"log/slog"
	"math"
	"sort"
	"strings"

	"github.com/mindhatch/thinking-mcp/internal/orchestrator/cache"
)

var (
	// ErrInvalidTechnique is returned when the executor is invoked with
	// any technique other than convergence
	ErrInvalidTechnique = errors.New("convergence executor requires technique \"convergence\"")
	// ErrMissingResults is returned when no usable parallel results were
	// supplied or gathered
	ErrMissingResults = errors.New("parallelResults must contain at least one completed branch result")
)

// convergenceStepCount is the standard number of logical convergence
// phases: collect and categorize, identify cross-branch themes, final
// synthesis. Calls beyond this count still succeed with an extended
// synthesis insight.
const convergenceStepCount = 3

// ConvergenceExecutor synthesizes the completed results of a parallel
// group into one insight set via a selectable strategy.
type ConvergenceExecutor struct {
	store  SessionStore
	sync   *Synchronizer
	cache  *cache.Cache
	logger *slog.Logger
}

// NewConvergenceExecutor creates a convergence executor. The cache may be
// nil, in which case every call recomputes.
func NewConvergenceExecutor(store SessionStore, sync *Synchronizer, outputCache *cache.Cache, logger *slog.Logger) *ConvergenceExecutor {
	return &ConvergenceExecutor{
		store:  store,
		sync:   sync,
		cache:  outputCache,
		logger: logger,
	}
}

// Execute validates the request, gathers branch results from the session
// store when none were supplied, and synthesizes them. Idempotent for the
// same completed-group state.
func (e *ConvergenceExecutor) Execute(ctx context.Context, req ConvergenceRequest) (*ConvergenceOutput, error) {
	if req.Technique != TechniqueConvergence {
		return nil, fmt.Errorf("%w, got %q", ErrInvalidTechnique, req.Technique)
	}

	results := req.ParallelResults
	if len(results) == 0 && req.GroupID != "" {
		gathered, err := e.gatherGroupResults(ctx, req.GroupID)
		if err != nil {
			return nil, err
		}
		results = gathered
	}
	if len(results) == 0 {
		return nil, ErrMissingResults
	}

	for i, r := range results {
		if err := validateResult(i, r); err != nil {
			return nil, err
		}
	}

	strategy := req.Strategy
	if strategy == "" {
		strategy = StrategyMerge
	}

	key := e.cacheKey(req.GroupID, strategy, req.CurrentStep, results)
	if e.cache != nil {
		if cached, ok := e.cache.Get(key); ok {
			if out, ok := cached.(*ConvergenceOutput); ok {
				return out, nil
			}
		}
	}

	var insights []string
	switch strategy {
	case StrategySelect:
		insights = selectBestInsights(results)
	case StrategyHierarchical:
		insights = hierarchicalInsights(results)
	default:
		insights = mergeInsights(results)
	}

	out := &ConvergenceOutput{
		Insights:        insights,
		StrategyApplied: strategy,
	}
	e.applyStepPhase(out, req, results)
	if moment := convergentMoment(results); moment != "" {
		out.NoteworthyMoment = moment
	}

	if e.cache != nil {
		_ = e.cache.Store(key, out)
	}

	e.logger.Debug("Executed convergence",
		"group_id", req.GroupID,
		"strategy", strategy,
		"branches", len(results),
		"insights", len(out.Insights),
	)
	return out, nil
}

// applyStepPhase annotates the output for the convergence phase being
// executed. Steps beyond the standard count append an extended-synthesis
// insight instead of failing, tolerating callers that stretch convergence
// over more steps.
func (e *ConvergenceExecutor) applyStepPhase(out *ConvergenceOutput, req ConvergenceRequest, results []ParallelResult) {
	switch {
	case req.CurrentStep <= 1:
		techniques := make(map[TechniqueID]struct{}, len(results))
		for _, r := range results {
			techniques[r.Technique] = struct{}{}
		}
		out.Insights = append(out.Insights, fmt.Sprintf(
			"Collected %d branch results across %d techniques", len(results), len(techniques)))
	case req.CurrentStep == 2:
		for _, theme := range e.crossBranchThemes(req.GroupID) {
			out.Insights = append(out.Insights, fmt.Sprintf(
				"Cross-branch theme: %s (weight %.1f)", theme.Theme, theme.Weight))
		}
	case req.CurrentStep == convergenceStepCount:
		out.Insights = append(out.Insights, fmt.Sprintf(
			"Final synthesis of %d parallel branches", len(results)))
	default:
		out.Insights = append(out.Insights, fmt.Sprintf(
			"Extended synthesis (step %d): revisited %d branch results", req.CurrentStep, len(results)))
	}
}

// crossBranchThemes reads the group's shared-context summary for themes
// that multiple branches contributed to.
func (e *ConvergenceExecutor) crossBranchThemes(groupID string) []ThemeWeight {
	if e.sync == nil || groupID == "" {
		return nil
	}
	summary, ok := e.sync.ContextSummary(groupID)
	if !ok {
		return nil
	}
	return summary.TopThemes
}

// gatherGroupResults reads the group's completed sessions from the store.
// Each completed session contributes its latest history output, its
// accumulated insights, and any stored metrics.
func (e *ConvergenceExecutor) gatherGroupResults(ctx context.Context, groupID string) ([]ParallelResult, error) {
	group, err := e.store.GetParallelGroup(ctx, groupID)
	if err != nil {
		return nil, fmt.Errorf("gathering parallelResults for group %s: %w", groupID, err)
	}

	var results []ParallelResult
	for _, sessionID := range group.CompletedSessions {
		session, err := e.store.GetSession(ctx, sessionID)
		if err != nil {
			e.logger.Warn("Skipping unreadable completed session",
				"session_id", sessionID,
				"group_id", groupID,
				"error", err,
			)
			continue
		}

		result := ParallelResult{
			PlanID:    session.PlanID,
			Technique: session.Technique,
			Insights:  append([]string(nil), session.Insights...),
			Metrics:   session.Metrics,
		}
		if result.PlanID == "" {
			result.PlanID = session.ID
		}
		if n := len(session.History); n > 0 {
			result.Results = map[string]any{"output": session.History[n-1].Output}
		}
		results = append(results, result)
	}
	return results, nil
}

// validateResult schema-checks one branch result, reporting the offending
// array index on failure.
func validateResult(index int, r ParallelResult) error {
	if r.PlanID == "" {
		return fmt.Errorf("parallelResults[%d].planId must be a non-empty string", index)
	}
	if !r.Technique.Known() {
		return fmt.Errorf("parallelResults[%d].technique %q is not a known technique", index, r.Technique)
	}
	for name, v := range r.Metrics {
		if math.IsNaN(v) || math.IsInf(v, 0) {
			return fmt.Errorf("parallelResults[%d].metrics[%q] must be a finite number", index, name)
		}
	}
	return nil
}

// mergeInsights unions all insights across results, de-duplicated, in
// first-seen order.
func mergeInsights(results []ParallelResult) []string {
	seen := make(map[string]struct{})
	var out []string
	for _, r := range results {
		for _, insight := range r.Insights {
			if _, dup := seen[insight]; dup {
				continue
			}
			seen[insight] = struct{}{}
			out = append(out, insight)
		}
	}
	return out
}

// selectBestInsights draws insights only from the result with the highest
// confidence metric, ties broken by first occurrence.
func selectBestInsights(results []ParallelResult) []string {
	best := 0
	bestConfidence := math.Inf(-1)
	for i, r := range results {
		if c, ok := r.Metrics["confidence"]; ok && c > bestConfidence {
			best, bestConfidence = i, c
		}
	}
	return append([]string(nil), results[best].Insights...)
}

// hierarchicalInsights groups insights by originating technique under a
// synthesized summary insight.
func hierarchicalInsights(results []ParallelResult) []string {
	techniques := make([]string, 0, len(results))
	seen := make(map[TechniqueID]struct{})
	for _, r := range results {
		if _, dup := seen[r.Technique]; !dup {
			seen[r.Technique] = struct{}{}
			techniques = append(techniques, string(r.Technique))
		}
	}

	out := []string{fmt.Sprintf("Hierarchical synthesis across %s", strings.Join(techniques, ", "))}
	for _, r := range results {
		for _, insight := range r.Insights {
			out = append(out, fmt.Sprintf("[%s] %s", r.Technique, insight))
		}
	}
	return out
}

// convergentMoment spots an insight shared by two or more branches
func convergentMoment(results []ParallelResult) string {
	counts := make(map[string]int)
	for _, r := range results {
		branchSeen := make(map[string]struct{})
		for _, insight := range r.Insights {
			if _, dup := branchSeen[insight]; dup {
				continue
			}
			branchSeen[insight] = struct{}{}
			counts[insight]++
		}
	}

	shared := make([]string, 0)
	for insight, n := range counts {
		if n >= 2 {
			shared = append(shared, insight)
		}
	}
	if len(shared) == 0 {
		return ""
	}
	sort.Strings(shared)
	return "Convergent insight across branches: " + shared[0]
}

// cacheKey fingerprints the request and the full content of the
// participating branch results. Insight text, metrics, and raw results all
// feed the digest, so a branch whose confidence or wording changed misses
// the cache even when its insight count did not.
func (e *ConvergenceExecutor) cacheKey(groupID string, strategy ConvergenceStrategy, step int, results []ParallelResult) string {
	h := fnv.New64a()
	for _, r := range results {
		fmt.Fprintf(h, "%s\x00", r.PlanID)
		for _, insight := range r.Insights {
			fmt.Fprintf(h, "%s\x00", insight)
		}
		for _, name := range sortedKeys(r.Metrics) {
			fmt.Fprintf(h, "%s=%v\x00", name, r.Metrics[name])
		}
		for _, name := range sortedKeys(r.Results) {
			fmt.Fprintf(h, "%s=%v\x00", name, r.Results[name])
		}
		h.Write([]byte{0xff})
	}
	return fmt.Sprintf("%s|%s|%d|%016x", groupID, strategy, step, h.Sum64())
}
