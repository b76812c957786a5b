package backend

import (
	"context"

	"github.com/audioforge/orchestrator/internal/model"
)

// Backend is the model runtime invoked by the orchestrator. Inference is
// opaque to the core: Process failures propagate to the caller without
// retry.
type Backend interface {
	// Load prepares the runtime for the given model
	Load(ctx context.Context, mt model.ModelType) error

	// Unload tears down the active model runtime
	Unload(ctx context.Context) error

	// Process executes a task against the loaded model
	Process(ctx context.Context, task *model.Task) (*model.TaskResult, error)
}
