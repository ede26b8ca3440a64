package orchestrator

import (
	"errors"
	"fmt"
	"log/slog"

	"github.com/google/uuid"
)

var (
	// ErrNoTechniques is returned when a plan request carries no techniques
	ErrNoTechniques = errors.New("techniques must contain at least one technique")
	// ErrEmptyProblem is returned when a plan request carries no problem text
	ErrEmptyProblem = errors.New("problem must be a non-empty string")
	// ErrCyclicDependencies is returned when the technique set cannot be ordered
	ErrCyclicDependencies = errors.New("technique dependencies form a cycle")
)

// fallbackStepCount is used for techniques the descriptor provider does
// not know; unknown techniques are dependency-free and still plannable.
const fallbackStepCount = 3

// criticalLensSteps names well-known risk-bearing steps the planner
// annotates even when the descriptor leaves the lens empty.
var criticalLensSteps = map[TechniqueID]map[string]string{
	TechniqueSixHats:        {"black hat": "risk review"},
	TechniqueDisneyMethod:   {"critic": "feasibility review"},
	TechniqueDesignThinking: {"test": "assumption check"},
}

// PlanGenerator produces sequential or parallel execution plans for a
// technique set applied to one problem.
type PlanGenerator struct {
	analyzer       *DependencyAnalyzer
	descriptors    DescriptorProvider
	maxParallelism int
	logger         *slog.Logger
}

// NewPlanGenerator creates a plan generator. maxParallelism bounds the
// number of non-convergence groups when a request does not set its own.
func NewPlanGenerator(analyzer *DependencyAnalyzer, descriptors DescriptorProvider, maxParallelism int, logger *slog.Logger) *PlanGenerator {
	return &PlanGenerator{
		analyzer:       analyzer,
		descriptors:    descriptors,
		maxParallelism: maxParallelism,
		logger:         logger,
	}
}

// GeneratePlan turns a plan request into a sequential workflow or a set of
// independent parallel plans plus a coordination strategy. Structural and
// validation failures are returned synchronously and are never retried.
func (g *PlanGenerator) GeneratePlan(req PlanRequest) (*PlanResponse, error) {
	if len(req.Techniques) == 0 {
		return nil, ErrNoTechniques
	}
	if req.Problem == "" {
		return nil, ErrEmptyProblem
	}

	mode := req.ExecutionMode
	if mode == "" {
		mode = ExecutionAuto
	}
	if mode == ExecutionAuto {
		if len(req.Techniques) > 1 {
			mode = ExecutionParallel
		} else {
			mode = ExecutionSequential
		}
	}

	resp := &PlanResponse{
		ExecutionMode: mode,
		Problem:       req.Problem,
		Objectives:    req.Objectives,
		Constraints:   req.Constraints,
	}
	if resp.Objectives == nil {
		resp.Objectives = []string{}
	}
	if resp.Constraints == nil {
		resp.Constraints = []string{}
	}

	if mode == ExecutionSequential {
		for _, t := range req.Techniques {
			resp.Workflow = append(resp.Workflow, g.buildWorkflow(t))
		}
		return resp, nil
	}

	graph := g.analyzer.AnalyzeDependencies(req.Techniques)
	if _, ok := graph.TopologicalSort(); !ok {
		return nil, fmt.Errorf("%w: %v", ErrCyclicDependencies, req.Techniques)
	}

	maxGroups := req.MaxParallelism
	if maxGroups <= 0 {
		maxGroups = g.maxParallelism
	}

	wantConvergence := req.ConvergenceOptions != nil &&
		req.ConvergenceOptions.Method == ConvergeViaStepExecution
	working := make([]TechniqueID, 0, len(req.Techniques))
	for _, t := range req.Techniques {
		if t == TechniqueConvergence {
			// convergence in the request implies step-execution synthesis
			wantConvergence = true
			continue
		}
		working = append(working, t)
	}

	groups := g.analyzer.FindOptimalGrouping(working, maxGroups)

	planIDByTechnique := make(map[TechniqueID]string)
	for _, group := range groups {
		plan := g.buildPlan(group)
		resp.ParallelPlans = append(resp.ParallelPlans, plan)
		for _, t := range group {
			planIDByTechnique[t] = plan.PlanID
		}
	}

	// wire plan-level dependencies from the technique-level hard edges
	for i, group := range groups {
		plan := resp.ParallelPlans[i]
		seen := make(map[string]struct{})
		for _, t := range group {
			for _, dep := range graph.Dependencies(t) {
				depPlan, ok := planIDByTechnique[dep]
				if !ok || depPlan == plan.PlanID {
					continue
				}
				if _, dup := seen[depPlan]; dup {
					continue
				}
				seen[depPlan] = struct{}{}
				plan.Dependencies = append(plan.Dependencies, depPlan)
			}
		}
		plan.CanExecuteIndependently = len(plan.Dependencies) == 0
	}

	if wantConvergence {
		conv := g.buildPlan([]TechniqueID{TechniqueConvergence})
		for _, plan := range resp.ParallelPlans {
			conv.Dependencies = append(conv.Dependencies, plan.PlanID)
		}
		conv.CanExecuteIndependently = false
		resp.ParallelPlans = append(resp.ParallelPlans, conv)

		resp.Coordination = &CoordinationStrategy{
			SyncPoints: []SyncPoint{{Type: "wait", BeforePlanID: conv.PlanID}},
			SharedContext: SharedContextPolicy{
				Enabled:        true,
				UpdateStrategy: UpdateCheckpoint,
			},
		}
	}

	g.logger.Debug("Generated parallel plan",
		"techniques", len(req.Techniques),
		"plans", len(resp.ParallelPlans),
		"convergence", wantConvergence,
	)
	return resp, nil
}

// buildPlan assembles one immutable plan for a technique group
func (g *PlanGenerator) buildPlan(techniques []TechniqueID) *ParallelPlan {
	plan := &ParallelPlan{
		PlanID:                  "plan-" + uuid.NewString(),
		Techniques:              append([]TechniqueID(nil), techniques...),
		CanExecuteIndependently: true,
	}
	total := 0
	for _, t := range techniques {
		wf := g.buildWorkflow(t)
		plan.Workflow = append(plan.Workflow, wf)
		total += wf.TotalSteps
	}
	plan.Metadata = PlanMetadata{
		TechniqueCount: len(techniques),
		TotalSteps:     total,
		Complexity:     complexityFor(total),
	}
	return plan
}

// buildWorkflow expands a technique into its ordered steps via the
// descriptor provider, injecting critical-lens annotations for known
// risk-bearing steps.
func (g *PlanGenerator) buildWorkflow(t TechniqueID) TechniqueWorkflow {
	desc, ok := g.descriptors.Descriptor(t)
	if !ok {
		steps := make([]WorkflowStep, fallbackStepCount)
		for i := range steps {
			steps[i] = WorkflowStep{
				Number:          i + 1,
				Name:            fmt.Sprintf("step %d", i+1),
				RequiredInputs:  []string{"problem"},
				ExpectedOutputs: []string{"output"},
			}
		}
		return TechniqueWorkflow{Technique: t, Steps: steps, TotalSteps: fallbackStepCount}
	}

	wf := TechniqueWorkflow{Technique: t, TotalSteps: desc.TotalSteps}
	lenses := criticalLensSteps[t]
	for i, sd := range desc.Steps {
		step := WorkflowStep{
			Number:          i + 1,
			Name:            sd.Name,
			RequiredInputs:  append([]string(nil), sd.RequiredInputs...),
			ExpectedOutputs: append([]string(nil), sd.ExpectedOutputs...),
			CriticalLens:    sd.CriticalLens,
		}
		if step.CriticalLens == "" {
			step.CriticalLens = lenses[sd.Name]
		}
		wf.Steps = append(wf.Steps, step)
	}
	return wf
}

func complexityFor(totalSteps int) string {
	switch {
	case totalSteps <= 7:
		return "low"
	case totalSteps <= 15:
		return "medium"
	default:
		return "high"
	}
}
