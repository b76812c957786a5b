package analyzer

import (
	"fmt"

	"go.uber.org/zap"

	"github.com/audioforge/orchestrator/internal/model"
	"github.com/audioforge/orchestrator/internal/scoring"
)

// capabilityProfile maps a task type to its capability requirements and
// baseline resource expectations.
type capabilityProfile struct {
	primary     model.Capability
	secondary   []model.Capability
	baseContext int
	priority    model.OptimizationPriority
	baseCost    model.ResourceMap
}

// profiles is the deterministic task-type lookup table
var profiles = map[model.TaskType]capabilityProfile{
	model.TaskTypeTranscribe: {
		primary:     model.CapabilityTranscription,
		secondary:   []model.Capability{model.CapabilityAudioAnalysis, model.CapabilityTextUnderstanding},
		baseContext: 2048,
		priority:    model.OptimizeSpeed,
		baseCost:    model.ResourceMap{MemoryMB: 1024, CPU: 0.4, TokensPerSecond: 60},
	},
	model.TaskTypeAnalyzeAudio: {
		primary:     model.CapabilityAudioAnalysis,
		secondary:   []model.Capability{model.CapabilityFeatureExtraction},
		baseContext: 2048,
		priority:    model.OptimizeEfficiency,
		baseCost:    model.ResourceMap{MemoryMB: 768, CPU: 0.3, TokensPerSecond: 40},
	},
	model.TaskTypeExtractFeatures: {
		primary:     model.CapabilityFeatureExtraction,
		secondary:   []model.Capability{model.CapabilityAudioAnalysis},
		baseContext: 2048,
		priority:    model.OptimizeEfficiency,
		baseCost:    model.ResourceMap{MemoryMB: 512, CPU: 0.25, TokensPerSecond: 40},
	},
	model.TaskTypeGenerateAudio: {
		primary:     model.CapabilityAudioGeneration,
		secondary:   []model.Capability{model.CapabilityTextUnderstanding},
		baseContext: 4096,
		priority:    model.OptimizeQuality,
		baseCost:    model.ResourceMap{MemoryMB: 2048, CPU: 0.6, TokensPerSecond: 30},
	},
	model.TaskTypePlan: {
		primary:     model.CapabilityPlanning,
		secondary:   []model.Capability{model.CapabilityTextUnderstanding},
		baseContext: 4096,
		priority:    model.OptimizeQuality,
		baseCost:    model.ResourceMap{MemoryMB: 512, CPU: 0.2, TokensPerSecond: 80},
	},
}

// ModelChain pairs a planning model with an execution model for
// multi-step tasks.
type ModelChain struct {
	Planner  model.ModelType `json:"planner"`
	Executor model.ModelType `json:"executor"`
}

// TaskAnalyzer derives capability and resource requirements from incoming
// tasks and suggests model chains backed by the capability scorer.
type TaskAnalyzer struct {
	logger   *zap.Logger
	scorer   *scoring.Scorer
	registry []model.ModelType
}

// NewTaskAnalyzer creates a task analyzer over the given model registry
func NewTaskAnalyzer(scorer *scoring.Scorer, registry []model.ModelType, logger *zap.Logger) *TaskAnalyzer {
	return &TaskAnalyzer{
		logger:   logger.Named("task-analyzer"),
		scorer:   scorer,
		registry: registry,
	}
}

// Analyze maps a task to its requirements. Unknown task types are an
// error; everything else is deterministic.
func (a *TaskAnalyzer) Analyze(task *model.Task) (model.TaskRequirements, error) {
	profile, ok := profiles[task.Type]
	if !ok {
		return model.TaskRequirements{}, fmt.Errorf("%w: %s", ErrUnknownTaskType, task.Type)
	}

	contextSize := profile.baseContext
	if len(task.Input) > 1000 {
		if scaled := int(float64(len(task.Input)) * 1.5); scaled > contextSize {
			contextSize = scaled
		}
	}

	minScores := map[model.Capability]float64{
		profile.primary: 0.6,
	}
	for _, c := range profile.secondary {
		minScores[c] = 0.3
	}

	req := model.TaskRequirements{
		PrimaryCapability:     profile.primary,
		SecondaryCapabilities: append([]model.Capability(nil), profile.secondary...),
		MinCapabilityScores:   minScores,
		ContextSize:           contextSize,
		Priority:              profile.priority,
		Constraints: model.ResourceConstraints{
			MaxMemoryMB: profile.baseCost.MemoryMB * 2,
			MaxCPU:      0.8,
			MaxLatency:  5000,
		},
	}

	a.logger.Debug("Task analyzed",
		zap.String("task_id", task.ID),
		zap.String("type", string(task.Type)),
		zap.String("primary_capability", string(req.PrimaryCapability)),
		zap.Int("context_size", req.ContextSize))

	return req, nil
}

// ValidateRequirements checks a requirements struct for well-formedness.
// Returns a boolean and never panics.
func (a *TaskAnalyzer) ValidateRequirements(req model.TaskRequirements) bool {
	if req.PrimaryCapability == "" {
		return false
	}
	if len(req.SecondaryCapabilities) == 0 {
		return false
	}
	if len(req.MinCapabilityScores) == 0 {
		return false
	}
	if req.ContextSize <= 0 {
		return false
	}
	switch req.Priority {
	case model.OptimizeSpeed, model.OptimizeQuality, model.OptimizeEfficiency:
	default:
		return false
	}
	if req.Constraints.MaxMemoryMB <= 0 {
		return false
	}
	if req.Constraints.MaxCPU <= 0 || req.Constraints.MaxCPU > 1 {
		return false
	}
	if req.Constraints.MaxLatency <= 0 {
		return false
	}
	return true
}

// SuggestModelChain picks the best-scoring executor for the primary
// capability and the best planner available. With no performance history
// all scores are 0 and registry order breaks the tie.
func (a *TaskAnalyzer) SuggestModelChain(req model.TaskRequirements) (ModelChain, error) {
	if !a.ValidateRequirements(req) {
		return ModelChain{}, ErrInvalidRequirements
	}

	executors := a.scorer.RankModels(req.PrimaryCapability, a.registry)
	if len(executors) == 0 {
		return ModelChain{}, fmt.Errorf("%w: %s", ErrNoCandidateModels, req.PrimaryCapability)
	}

	planners := a.scorer.RankModels(model.CapabilityPlanning, a.registry)
	if len(planners) == 0 {
		planners = a.scorer.RankModels(model.CapabilityTextUnderstanding, a.registry)
	}

	chain := ModelChain{Executor: executors[0].Model}
	if len(planners) > 0 {
		chain.Planner = planners[0].Model
	} else {
		// No dedicated planner available; the executor plans for itself.
		chain.Planner = executors[0].Model
	}

	return chain, nil
}

// BuildRoute assembles the routing decision handed to the allocator. The
// estimated cost scales the task type's baseline with its context size.
func (a *TaskAnalyzer) BuildRoute(task *model.Task, req model.TaskRequirements, chain ModelChain) model.Route {
	profile := profiles[task.Type]

	scale := 1.0
	if profile.baseContext > 0 && req.ContextSize > profile.baseContext {
		scale = float64(req.ContextSize) / float64(profile.baseContext)
	}

	cost := model.ResourceMap{
		MemoryMB:        profile.baseCost.MemoryMB * scale,
		CPU:             profile.baseCost.CPU,
		TokensPerSecond: profile.baseCost.TokensPerSecond,
	}

	return model.Route{
		Model:         chain.Executor,
		Requirements:  req,
		Confidence:    a.scorer.CapabilityScore(chain.Executor.ID, req.PrimaryCapability),
		EstimatedCost: cost,
	}
}
