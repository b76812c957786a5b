package orchestrator

import (
	"github.com/audioforge/orchestrator/internal/model"
)

// PipelineStep is one stage of a planned multi-step task
type PipelineStep struct {
	Model     model.ModelType `json:"model"`
	Operation model.TaskType  `json:"operation"`
}

// PlanTask builds an ordered pipeline for the task. Generation and
// planning tasks get a separate planning stage when a distinct planner
// model is available; everything else runs as a single step. Every step's
// model must fit the memory limit.
func (o *SequentialOrchestrator) PlanTask(task *model.Task) ([]PipelineStep, error) {
	req, err := o.analyzer.Analyze(task)
	if err != nil {
		return nil, err
	}

	chain, err := o.analyzer.SuggestModelChain(req)
	if err != nil {
		return nil, err
	}

	var steps []PipelineStep
	needsPlanning := task.Type == model.TaskTypeGenerateAudio || task.Type == model.TaskTypePlan
	if needsPlanning && chain.Planner.ID != chain.Executor.ID {
		steps = append(steps, PipelineStep{
			Model:     chain.Planner,
			Operation: model.TaskTypePlan,
		})
	}
	steps = append(steps, PipelineStep{
		Model:     chain.Executor,
		Operation: task.Type,
	})

	for _, step := range steps {
		if step.Model.MemoryRequirement > o.memoryLimit {
			return nil, &InsufficientMemoryError{
				ModelID:  step.Model.ID,
				Required: step.Model.MemoryRequirement,
				Limit:    o.memoryLimit,
			}
		}
	}

	return steps, nil
}
