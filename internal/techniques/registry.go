// Package techniques holds the step metadata for the closed technique
// set. Guidance text for each step is produced elsewhere; only step
// structure (names, inputs, outputs, critical-lens annotations) crosses
// the descriptor boundary.
package techniques

import (
	"github.com/mindhatch/thinking-mcp/internal/orchestrator"
)

// Registry implements orchestrator.DescriptorProvider over a static table
type Registry struct {
	descriptors map[orchestrator.TechniqueID]*orchestrator.TechniqueDescriptor
}

// NewRegistry creates a registry populated with the full technique set
func NewRegistry() *Registry {
	r := &Registry{descriptors: make(map[orchestrator.TechniqueID]*orchestrator.TechniqueDescriptor)}
	for _, d := range builtinDescriptors() {
		r.descriptors[d.Technique] = d
	}
	return r
}

// Descriptor returns the descriptor for a technique. The returned value
// is a copy; callers cannot mutate the registry.
func (r *Registry) Descriptor(t orchestrator.TechniqueID) (*orchestrator.TechniqueDescriptor, bool) {
	d, ok := r.descriptors[t]
	if !ok {
		return nil, false
	}
	out := &orchestrator.TechniqueDescriptor{
		Technique:  d.Technique,
		TotalSteps: d.TotalSteps,
		Steps:      append([]orchestrator.StepDescriptor(nil), d.Steps...),
	}
	return out, true
}

// List returns all registered technique identifiers in registration order
func (r *Registry) List() []orchestrator.TechniqueID {
	out := make([]orchestrator.TechniqueID, 0, len(r.descriptors))
	for _, d := range builtinDescriptors() {
		if _, ok := r.descriptors[d.Technique]; ok {
			out = append(out, d.Technique)
		}
	}
	return out
}

// step builds a StepDescriptor, keeping the table below compact
func step(name string, inputs, outputs []string) orchestrator.StepDescriptor {
	return orchestrator.StepDescriptor{Name: name, RequiredInputs: inputs, ExpectedOutputs: outputs}
}

// criticalStep is a step carrying a risk-review lens
func criticalStep(name string, inputs, outputs []string, lens string) orchestrator.StepDescriptor {
	sd := step(name, inputs, outputs)
	sd.CriticalLens = lens
	return sd
}

func builtinDescriptors() []*orchestrator.TechniqueDescriptor {
	problem := []string{"problem"}
	return []*orchestrator.TechniqueDescriptor{
		describe(orchestrator.TechniqueSixHats,
			step("blue hat", problem, []string{"process overview"}),
			step("white hat", problem, []string{"facts", "data gaps"}),
			step("red hat", problem, []string{"intuitions", "emotional responses"}),
			step("yellow hat", problem, []string{"benefits", "opportunities"}),
			criticalStep("black hat", problem, []string{"risks", "weaknesses"}, "risk review"),
			step("green hat", []string{"problem", "risks"}, []string{"creative alternatives"}),
		),
		describe(orchestrator.TechniquePO,
			step("provocation creation", problem, []string{"provocative statement"}),
			step("suspension of judgment", []string{"provocative statement"}, []string{"suspended assumptions"}),
			step("movement", []string{"provocative statement"}, []string{"movement directions"}),
			step("idea extraction", []string{"movement directions"}, []string{"practical ideas"}),
		),
		describe(orchestrator.TechniqueRandomEntry,
			step("stimulus selection", problem, []string{"random stimulus"}),
			step("association", []string{"random stimulus"}, []string{"associations"}),
			step("insight generation", []string{"associations"}, []string{"connected insights"}),
		),
		describe(orchestrator.TechniqueSCAMPER,
			step("substitute", problem, []string{"substitutions"}),
			step("combine", problem, []string{"combinations"}),
			step("adapt", problem, []string{"adaptations"}),
			step("modify", problem, []string{"modifications"}),
			step("put to other use", problem, []string{"alternative uses"}),
			step("eliminate", problem, []string{"eliminations"}),
			step("reverse", problem, []string{"reversals"}),
		),
		describe(orchestrator.TechniqueConceptExtraction,
			step("example selection", problem, []string{"successful examples"}),
			step("concept identification", []string{"successful examples"}, []string{"underlying concepts"}),
			step("abstraction", []string{"underlying concepts"}, []string{"abstracted principles"}),
			step("reapplication", []string{"abstracted principles"}, []string{"transferred solutions"}),
		),
		describe(orchestrator.TechniqueYesAnd,
			step("initial idea", problem, []string{"starting idea"}),
			step("acceptance", []string{"starting idea"}, []string{"accepted premise"}),
			step("building", []string{"accepted premise"}, []string{"built additions"}),
			step("integration", []string{"built additions"}, []string{"integrated solution"}),
		),
		describe(orchestrator.TechniqueDesignThinking,
			step("empathize", problem, []string{"user needs"}),
			step("define", []string{"user needs"}, []string{"problem statement"}),
			step("ideate", []string{"problem statement"}, []string{"candidate ideas"}),
			step("prototype", []string{"candidate ideas"}, []string{"prototype description"}),
			criticalStep("test", []string{"prototype description"}, []string{"validated learnings"}, "assumption check"),
		),
		describe(orchestrator.TechniqueTRIZ,
			step("contradiction identification", problem, []string{"technical contradictions"}),
			step("ideal final result", []string{"technical contradictions"}, []string{"ideal outcome"}),
			step("inventive principles", []string{"technical contradictions"}, []string{"applicable principles"}),
			step("solution adaptation", []string{"applicable principles"}, []string{"adapted solutions"}),
		),
		describe(orchestrator.TechniqueNeuralState,
			step("state assessment", problem, []string{"current cognitive state"}),
			step("suppression check", []string{"current cognitive state"}, []string{"suppressed modes"}),
			step("state switching", []string{"suppressed modes"}, []string{"switching strategies"}),
			step("integration", []string{"switching strategies"}, []string{"integrated practice"}),
		),
		describe(orchestrator.TechniqueTemporalWork,
			step("time mapping", problem, []string{"temporal landscape"}),
			step("pressure transformation", []string{"temporal landscape"}, []string{"reframed pressure"}),
			step("allocation", []string{"reframed pressure"}, []string{"time allocations"}),
			step("synchronization", []string{"time allocations"}, []string{"synchronized rhythm"}),
			step("integration", []string{"synchronized rhythm"}, []string{"temporal strategy"}),
		),
		describe(orchestrator.TechniqueCrossCultural,
			step("cultural mapping", problem, []string{"cultural frameworks"}),
			step("bridge identification", []string{"cultural frameworks"}, []string{"bridging concepts"}),
			step("synthesis", []string{"bridging concepts"}, []string{"synthesized approach"}),
			step("respect check", []string{"synthesized approach"}, []string{"validated sensitivity"}),
			step("integration", []string{"validated sensitivity"}, []string{"integrated solution"}),
		),
		describe(orchestrator.TechniqueCollectiveIntel,
			step("source gathering", problem, []string{"wisdom sources"}),
			step("pattern recognition", []string{"wisdom sources"}, []string{"recurring patterns"}),
			step("synergy identification", []string{"recurring patterns"}, []string{"synergies"}),
			step("wisdom synthesis", []string{"synergies"}, []string{"collective insight"}),
			step("application", []string{"collective insight"}, []string{"applied strategy"}),
		),
		describe(orchestrator.TechniqueDisneyMethod,
			step("dreamer", problem, []string{"visionary ideas"}),
			step("realist", []string{"visionary ideas"}, []string{"implementation plan"}),
			criticalStep("critic", []string{"implementation plan"}, []string{"identified flaws"}, "feasibility review"),
		),
		describe(orchestrator.TechniqueNineWindows,
			step("past sub-system", problem, []string{"component history"}),
			step("past system", problem, []string{"system history"}),
			step("past super-system", problem, []string{"environment history"}),
			step("present sub-system", problem, []string{"current components"}),
			step("present system", problem, []string{"current system"}),
			step("present super-system", problem, []string{"current environment"}),
			step("future sub-system", problem, []string{"component evolution"}),
			step("future system", problem, []string{"system evolution"}),
			step("future super-system", problem, []string{"environment evolution"}),
		),
		describe(orchestrator.TechniqueConvergence,
			step("collect and categorize", []string{"parallelResults"}, []string{"categorized results"}),
			step("identify themes", []string{"categorized results"}, []string{"cross-branch themes"}),
			step("final synthesis", []string{"cross-branch themes"}, []string{"synthesized output"}),
		),
	}
}

func describe(t orchestrator.TechniqueID, steps ...orchestrator.StepDescriptor) *orchestrator.TechniqueDescriptor {
	return &orchestrator.TechniqueDescriptor{
		Technique:  t,
		TotalSteps: len(steps),
		Steps:      steps,
	}
}
