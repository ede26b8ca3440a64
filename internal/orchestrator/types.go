package orchestrator

import (
	"context"
	"time"
)

// TechniqueID identifies one structured-thinking technique
type TechniqueID string

// The closed set of technique identifiers. TechniqueConvergence is a
// reserved marker for the synthesis step and is never grouped with
// other techniques.
const (
	TechniqueSixHats           TechniqueID = "six_hats"
	TechniquePO                TechniqueID = "po"
	TechniqueRandomEntry       TechniqueID = "random_entry"
	TechniqueSCAMPER           TechniqueID = "scamper"
	TechniqueConceptExtraction TechniqueID = "concept_extraction"
	TechniqueYesAnd            TechniqueID = "yes_and"
	TechniqueDesignThinking    TechniqueID = "design_thinking"
	TechniqueTRIZ              TechniqueID = "triz"
	TechniqueNeuralState       TechniqueID = "neural_state"
	TechniqueTemporalWork      TechniqueID = "temporal_work"
	TechniqueCrossCultural     TechniqueID = "cross_cultural"
	TechniqueCollectiveIntel   TechniqueID = "collective_intel"
	TechniqueDisneyMethod      TechniqueID = "disney_method"
	TechniqueNineWindows       TechniqueID = "nine_windows"
	TechniqueConvergence       TechniqueID = "convergence"
)

// KnownTechniques returns the closed technique set including the
// convergence marker, in canonical order.
func KnownTechniques() []TechniqueID {
	return []TechniqueID{
		TechniqueSixHats,
		TechniquePO,
		TechniqueRandomEntry,
		TechniqueSCAMPER,
		TechniqueConceptExtraction,
		TechniqueYesAnd,
		TechniqueDesignThinking,
		TechniqueTRIZ,
		TechniqueNeuralState,
		TechniqueTemporalWork,
		TechniqueCrossCultural,
		TechniqueCollectiveIntel,
		TechniqueDisneyMethod,
		TechniqueNineWindows,
		TechniqueConvergence,
	}
}

// Known reports whether t belongs to the closed technique set
func (t TechniqueID) Known() bool {
	for _, k := range KnownTechniques() {
		if t == k {
			return true
		}
	}
	return false
}

// ExecutionMode selects sequential or parallel plan generation
type ExecutionMode string

const (
	// ExecutionSequential runs all techniques in one ordered workflow
	ExecutionSequential ExecutionMode = "sequential"
	// ExecutionParallel partitions techniques into independent plans
	ExecutionParallel ExecutionMode = "parallel"
	// ExecutionAuto lets the planner choose based on the technique count
	ExecutionAuto ExecutionMode = "auto"
)

// UpdateStrategy selects how shared-context updates are applied
type UpdateStrategy string

const (
	// UpdateImmediate applies each update synchronously under the group lock
	UpdateImmediate UpdateStrategy = "immediate"
	// UpdateBatched queues updates and flushes on size or interval
	UpdateBatched UpdateStrategy = "batched"
	// UpdateCheckpoint queues updates until an explicit checkpoint call
	UpdateCheckpoint UpdateStrategy = "checkpoint"
)

// GroupStatus is the lifecycle state of a parallel session group.
// Transitions are monotonic: active -> converging -> completed, or -> failed.
type GroupStatus string

const (
	GroupActive     GroupStatus = "active"
	GroupConverging GroupStatus = "converging"
	GroupCompleted  GroupStatus = "completed"
	GroupFailed     GroupStatus = "failed"
)

// SessionStatus is the coarse execution status tracked by the session index
type SessionStatus string

const (
	SessionRunning   SessionStatus = "running"
	SessionWaiting   SessionStatus = "waiting"
	SessionCompleted SessionStatus = "completed"
	SessionFailed    SessionStatus = "failed"
)

// WorkflowStep is one ordered step of a technique workflow
type WorkflowStep struct {
	Number          int      `json:"number"`
	Name            string   `json:"name"`
	RequiredInputs  []string `json:"requiredInputs,omitempty"`
	ExpectedOutputs []string `json:"expectedOutputs,omitempty"`
	// CriticalLens marks risk-bearing steps (e.g. a black-hat review)
	CriticalLens string `json:"criticalLens,omitempty"`
}

// TechniqueWorkflow is the ordered step list for one technique in a plan
type TechniqueWorkflow struct {
	Technique  TechniqueID    `json:"technique"`
	Steps      []WorkflowStep `json:"steps"`
	TotalSteps int            `json:"totalSteps"`
}

// PlanMetadata summarizes a parallel plan for callers
type PlanMetadata struct {
	TechniqueCount int    `json:"techniqueCount"`
	TotalSteps     int    `json:"totalSteps"`
	Complexity     string `json:"complexity"`
}

// ParallelPlan groups techniques with no dependency edges between them
// under one execution thread of control. Immutable once returned.
type ParallelPlan struct {
	PlanID     string              `json:"planId"`
	Techniques []TechniqueID       `json:"techniques"`
	Workflow   []TechniqueWorkflow `json:"workflow"`
	// CanExecuteIndependently is false when Dependencies is non-empty
	CanExecuteIndependently bool `json:"canExecuteIndependently"`
	// Dependencies lists plan IDs that must complete before this plan
	Dependencies []string     `json:"dependencies,omitempty"`
	Metadata     PlanMetadata `json:"metadata"`
}

// SyncPoint describes a coordination barrier between plans
type SyncPoint struct {
	Type         string `json:"type"`
	BeforePlanID string `json:"beforePlanId"`
}

// SharedContextPolicy describes how plans share context during execution
type SharedContextPolicy struct {
	Enabled        bool           `json:"enabled"`
	UpdateStrategy UpdateStrategy `json:"updateStrategy"`
}

// CoordinationStrategy tells callers how to coordinate parallel plans
type CoordinationStrategy struct {
	SyncPoints    []SyncPoint         `json:"syncPoints,omitempty"`
	SharedContext SharedContextPolicy `json:"sharedContext"`
}

// ConvergenceMethod selects how synthesis is performed
type ConvergenceMethod string

const (
	// ConvergeViaStepExecution synthesizes through the step-execution path
	ConvergeViaStepExecution ConvergenceMethod = "execute_thinking_step"
	// ConvergeViaHandoff leaves synthesis to the calling LLM
	ConvergeViaHandoff ConvergenceMethod = "llm_handoff"
)

// ConvergenceStrategy selects how branch results are synthesized
type ConvergenceStrategy string

const (
	StrategyMerge        ConvergenceStrategy = "merge"
	StrategySelect       ConvergenceStrategy = "select"
	StrategyHierarchical ConvergenceStrategy = "hierarchical"
)

// ConvergenceOptions configures the convergence phase of a plan request
type ConvergenceOptions struct {
	Method   ConvergenceMethod   `json:"method"`
	Strategy ConvergenceStrategy `json:"strategy,omitempty"`
}

// PlanRequest is a plan generation request
type PlanRequest struct {
	Problem            string              `json:"problem"`
	Techniques         []TechniqueID       `json:"techniques"`
	ExecutionMode      ExecutionMode       `json:"executionMode,omitempty"`
	MaxParallelism     int                 `json:"maxParallelism,omitempty"`
	Objectives         []string            `json:"objectives,omitempty"`
	Constraints        []string            `json:"constraints,omitempty"`
	ConvergenceOptions *ConvergenceOptions `json:"convergenceOptions,omitempty"`
}

// PlanResponse is the plan generation result. Sequential requests populate
// Workflow; parallel requests populate ParallelPlans and Coordination.
type PlanResponse struct {
	ExecutionMode ExecutionMode `json:"executionMode"`
	Problem       string        `json:"problem"`
	// Objectives and Constraints pass through as given: an empty list
	// stays an empty list rather than disappearing from the response.
	Objectives    []string              `json:"objectives"`
	Constraints   []string              `json:"constraints"`
	Workflow      []TechniqueWorkflow   `json:"workflow,omitempty"`
	ParallelPlans []*ParallelPlan       `json:"parallelPlans,omitempty"`
	Coordination  *CoordinationStrategy `json:"coordinationStrategy,omitempty"`
}

// ParallelSessionGroup coordinates the sessions of one parallel execution
type ParallelSessionGroup struct {
	GroupID           string              `json:"groupId"`
	SessionIDs        []string            `json:"sessionIds"`
	ParentProblem     string              `json:"parentProblem"`
	ExecutionMode     ExecutionMode       `json:"executionMode"`
	Status            GroupStatus         `json:"status"`
	Convergence       *ConvergenceOptions `json:"convergenceOptions,omitempty"`
	StartTime         time.Time           `json:"startTime"`
	CompletedSessions []string            `json:"completedSessions"`
}

// SharedContext is the mutable cross-session state of one parallel group.
// All mutation routes through the synchronizer's locked update path.
type SharedContext struct {
	GroupID     string             `json:"groupId"`
	Insights    []string           `json:"insights"`
	Themes      map[string]float64 `json:"themes"`
	Metrics     map[string]float64 `json:"metrics"`
	LastUpdate  time.Time          `json:"lastUpdate"`
	UpdateCount int                `json:"updateCount"`
}

// ThemeWeight is one weighted theme contribution
type ThemeWeight struct {
	Theme  string  `json:"theme"`
	Weight float64 `json:"weight"`
}

// ContextUpdate is the unit of shared-context mutation submitted by a
// session. It is folded into the SharedContext, never stored directly.
type ContextUpdate struct {
	Insights []string           `json:"insights,omitempty"`
	Themes   []ThemeWeight      `json:"themes,omitempty"`
	Metrics  map[string]float64 `json:"metrics,omitempty"`
}

// IsEmpty reports whether the update carries no data
func (u ContextUpdate) IsEmpty() bool {
	return len(u.Insights) == 0 && len(u.Themes) == 0 && len(u.Metrics) == 0
}

// ContextSummary is the read-only digest of a shared context
type ContextSummary struct {
	InsightCount int                `json:"insightCount"`
	TopThemes    []ThemeWeight      `json:"topThemes"`
	Metrics      map[string]float64 `json:"metrics"`
	LastUpdate   time.Time          `json:"lastUpdate"`
	UpdateCount  int                `json:"updateCount"`
}

// ParallelResult is the immutable output of one completed parallel branch
type ParallelResult struct {
	PlanID    string             `json:"planId"`
	Technique TechniqueID        `json:"technique"`
	Insights  []string           `json:"insights"`
	Results   map[string]any     `json:"results,omitempty"`
	Metrics   map[string]float64 `json:"metrics,omitempty"`
}

// ConvergenceRequest asks the executor to synthesize branch results.
// ParallelResults may be omitted when GroupID names a group whose completed
// sessions can be gathered from the session store.
type ConvergenceRequest struct {
	Technique       TechniqueID         `json:"technique"`
	CurrentStep     int                 `json:"currentStep"`
	TotalSteps      int                 `json:"totalSteps"`
	GroupID         string              `json:"groupId,omitempty"`
	ParallelResults []ParallelResult    `json:"parallelResults,omitempty"`
	Strategy        ConvergenceStrategy `json:"convergenceStrategy,omitempty"`
}

// ConvergenceOutput is the synthesis result
type ConvergenceOutput struct {
	Insights         []string            `json:"insights"`
	StrategyApplied  ConvergenceStrategy `json:"strategyApplied"`
	NoteworthyMoment string              `json:"noteworthyMoment,omitempty"`
}

// StepRecord is one entry of a session's step history
type StepRecord struct {
	Step      int       `json:"step"`
	Output    string    `json:"output"`
	Timestamp time.Time `json:"timestamp"`
}

// ThinkingSession is one technique execution against a problem
type ThinkingSession struct {
	ID          string             `json:"id"`
	Technique   TechniqueID        `json:"technique"`
	Problem     string             `json:"problem"`
	PlanID      string             `json:"planId,omitempty"`
	GroupID     string             `json:"groupId,omitempty"`
	CurrentStep int                `json:"currentStep"`
	TotalSteps  int                `json:"totalSteps"`
	Status      SessionStatus      `json:"status"`
	Insights    []string           `json:"insights,omitempty"`
	Metrics     map[string]float64 `json:"metrics,omitempty"`
	History     []StepRecord       `json:"history,omitempty"`
	CreatedAt   time.Time          `json:"createdAt"`
	LastActive  time.Time          `json:"lastActive"`
}

// SessionStore is the persistence surface the orchestrator consumes.
// Implementations live outside this package; the shipped one is in-memory.
type SessionStore interface {
	CreateSession(ctx context.Context, session *ThinkingSession) error
	GetSession(ctx context.Context, sessionID string) (*ThinkingSession, error)
	TouchSession(ctx context.Context, sessionID string) error
	RecordStep(ctx context.Context, sessionID string, record StepRecord, insights []string, metrics map[string]float64) error
	CreateParallelGroup(ctx context.Context, group *ParallelSessionGroup) error
	GetParallelGroup(ctx context.Context, groupID string) (*ParallelSessionGroup, error)
	UpdateGroupStatus(ctx context.Context, groupID string, status GroupStatus) error
	MarkSessionCompleted(ctx context.Context, groupID, sessionID string) error
	CleanupStale(ctx context.Context, maxAge time.Duration) (int, error)
}

// StepDescriptor is per-step metadata supplied by the technique
// descriptor provider.
type StepDescriptor struct {
	Name            string
	RequiredInputs  []string
	ExpectedOutputs []string
	CriticalLens    string
}

// TechniqueDescriptor is the opaque technique metadata the planner consumes
type TechniqueDescriptor struct {
	Technique  TechniqueID
	TotalSteps int
	Steps      []StepDescriptor
}

// DescriptorProvider supplies technique descriptors. Per-technique guidance
// content is an external collaborator; only step structure crosses this
// boundary.
type DescriptorProvider interface {
	Descriptor(t TechniqueID) (*TechniqueDescriptor, bool)
}
