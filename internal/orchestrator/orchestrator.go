package orchestrator

import (
	"context"
	"fmt"
	"sync"
	"time"

	"go.uber.org/zap"

	"github.com/audioforge/orchestrator/internal/allocator"
	"github.com/audioforge/orchestrator/internal/analyzer"
	"github.com/audioforge/orchestrator/internal/backend"
	"github.com/audioforge/orchestrator/internal/degradation"
	"github.com/audioforge/orchestrator/internal/model"
	"github.com/audioforge/orchestrator/internal/scoring"
)

// Config defines the orchestrator's memory ceiling
type Config struct {
	MemoryLimit int64 // bytes, across all loaded models
}

// SequentialOrchestrator enforces a hard memory ceiling across loaded
// models and serializes every load/unload/handoff. One model is active
// at a time; transitions hold the mutex end to end so two models are
// never concurrently resident beyond the limit.
type SequentialOrchestrator struct {
	logger     *zap.Logger
	backend    backend.Backend
	scorer     *scoring.Scorer
	analyzer   *analyzer.TaskAnalyzer
	allocator  *allocator.ResourceAllocator
	controller *degradation.Controller

	memoryLimit int64

	mu     sync.Mutex
	loaded *model.ModelType
}

// NewSequentialOrchestrator composes the orchestration core. allocator
// and controller may be nil when only direct load/process control is
// needed (ExecuteTask requires both).
func NewSequentialOrchestrator(
	config Config,
	b backend.Backend,
	scorer *scoring.Scorer,
	taskAnalyzer *analyzer.TaskAnalyzer,
	alloc *allocator.ResourceAllocator,
	controller *degradation.Controller,
	logger *zap.Logger,
) *SequentialOrchestrator {
	return &SequentialOrchestrator{
		logger:      logger.Named("orchestrator"),
		backend:     b,
		scorer:      scorer,
		analyzer:    taskAnalyzer,
		allocator:   alloc,
		controller:  controller,
		memoryLimit: config.MemoryLimit,
	}
}

// MemoryLimit returns the configured memory ceiling in bytes
func (o *SequentialOrchestrator) MemoryLimit() int64 {
	return o.memoryLimit
}

// LoadedModel returns the currently active model, or nil
func (o *SequentialOrchestrator) LoadedModel() *model.ModelType {
	o.mu.Lock()
	defer o.mu.Unlock()
	if o.loaded == nil {
		return nil
	}
	cp := *o.loaded
	return &cp
}

// UsedMemory returns the memory claimed by the active model in bytes
func (o *SequentialOrchestrator) UsedMemory() int64 {
	o.mu.Lock()
	defer o.mu.Unlock()
	if o.loaded == nil {
		return 0
	}
	return o.loaded.MemoryRequirement
}

// LoadModel makes the given model active. A model that cannot fit the
// memory limit is rejected before any backend work happens, leaving the
// memory accounting untouched. Loading over an existing model performs a
// serialized handoff: unload first, then load.
func (o *SequentialOrchestrator) LoadModel(ctx context.Context, mt model.ModelType) error {
	o.mu.Lock()
	defer o.mu.Unlock()

	if mt.MemoryRequirement > o.memoryLimit {
		return &InsufficientMemoryError{
			ModelID:  mt.ID,
			Required: mt.MemoryRequirement,
			Limit:    o.memoryLimit,
		}
	}

	if o.loaded != nil {
		if o.loaded.ID == mt.ID {
			return nil
		}
		if err := o.unloadLocked(ctx); err != nil {
			return fmt.Errorf("handoff unload failed: %w", err)
		}
	}

	if err := o.backend.Load(ctx, mt); err != nil {
		return fmt.Errorf("failed to load model %s: %w", mt.ID, err)
	}
	o.loaded = &mt

	o.logger.Info("Model loaded",
		zap.String("model_id", mt.ID),
		zap.Int64("memory_requirement", mt.MemoryRequirement),
		zap.Int64("memory_limit", o.memoryLimit))
	return nil
}

// UnloadModel frees the active model and its memory accounting. Unloading
// with no active model is a no-op.
func (o *SequentialOrchestrator) UnloadModel(ctx context.Context) error {
	o.mu.Lock()
	defer o.mu.Unlock()
	return o.unloadLocked(ctx)
}

// unloadLocked tears down the active model. Caller must hold the mutex.
func (o *SequentialOrchestrator) unloadLocked(ctx context.Context) error {
	if o.loaded == nil {
		return nil
	}

	id := o.loaded.ID
	if err := o.backend.Unload(ctx); err != nil {
		return fmt.Errorf("failed to unload model %s: %w", id, err)
	}
	o.loaded = nil

	o.logger.Info("Model unloaded", zap.String("model_id", id))
	return nil
}

// ProcessTask executes a task against the active model. The model must
// advertise the task's primary capability. The outcome, success or
// failure, feeds back into the capability scorer.
func (o *SequentialOrchestrator) ProcessTask(ctx context.Context, task *model.Task) (*model.TaskResult, error) {
	req, err := o.analyzer.Analyze(task)
	if err != nil {
		return nil, err
	}

	o.mu.Lock()
	defer o.mu.Unlock()

	if o.loaded == nil {
		return nil, ErrNoModelLoaded
	}
	if !o.loaded.HasCapability(req.PrimaryCapability) {
		return nil, fmt.Errorf("%w: model %s lacks %s",
			ErrCapabilityMismatch, o.loaded.ID, req.PrimaryCapability)
	}

	modelID := o.loaded.ID
	start := time.Now()
	result, err := o.backend.Process(ctx, task)
	latency := time.Since(start)

	if err != nil {
		o.scorer.RecordFailure(modelID, req.PrimaryCapability, latency, 0)
		o.logger.Warn("Task processing failed",
			zap.String("task_id", task.ID),
			zap.String("model_id", modelID),
			zap.Error(err))
		return nil, &ModelOrchestratorError{TaskID: task.ID, Err: err}
	}

	o.scorer.RecordSuccess(modelID, req.PrimaryCapability, result.Latency, result.ResourceUsage)

	o.logger.Info("Task processed",
		zap.String("task_id", task.ID),
		zap.String("model_id", modelID),
		zap.Duration("latency", result.Latency))
	return result, nil
}

// ExecuteTask runs the full routing pipeline: analyze, rank, allocate,
// degradation admission, load/handoff, process, record, release.
func (o *SequentialOrchestrator) ExecuteTask(ctx context.Context, task *model.Task) (*model.TaskResult, error) {
	req, err := o.analyzer.Analyze(task)
	if err != nil {
		return nil, err
	}
	if !o.analyzer.ValidateRequirements(req) {
		return nil, analyzer.ErrInvalidRequirements
	}

	chain, err := o.analyzer.SuggestModelChain(req)
	if err != nil {
		return nil, err
	}
	route := o.analyzer.BuildRoute(task, req, chain)

	alloc, err := o.allocator.AllocateResources(route)
	if err != nil {
		return nil, err
	}
	defer func() {
		if releaseErr := o.allocator.ReleaseResources(alloc); releaseErr != nil &&
			releaseErr != allocator.ErrReservationNotFound {
			o.logger.Warn("Failed to release allocation",
				zap.String("reservation_id", alloc.ReservationID),
				zap.Error(releaseErr))
		}
	}()

	if !o.controller.AllocateResource(alloc.ReservationID, alloc.Priority, alloc.Allocated.MemoryMB) {
		return nil, fmt.Errorf("%w: priority %s at level %s",
			ErrAdmissionRejected, alloc.Priority, o.controller.Level())
	}
	defer o.controller.ReleaseResource(alloc.ReservationID)

	if err := o.LoadModel(ctx, route.Model); err != nil {
		return nil, err
	}

	return o.ProcessTask(ctx, task)
}
