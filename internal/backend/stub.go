package backend

import (
	"context"
	"sync"
	"time"

	"github.com/audioforge/orchestrator/internal/model"
)

// Stub is a scriptable in-memory backend for tests
type Stub struct {
	mu      sync.Mutex
	loaded  *model.ModelType
	loads   int
	unloads int

	// ProcessFunc, when set, overrides the default canned response
	ProcessFunc func(ctx context.Context, task *model.Task) (*model.TaskResult, error)
}

// NewStub creates a stub backend
func NewStub() *Stub {
	return &Stub{}
}

// Load records the model as loaded
func (s *Stub) Load(ctx context.Context, mt model.ModelType) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.loaded = &mt
	s.loads++
	return nil
}

// Unload clears the loaded model
func (s *Stub) Unload(ctx context.Context) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.loaded = nil
	s.unloads++
	return nil
}

// Process returns the scripted result or a canned success
func (s *Stub) Process(ctx context.Context, task *model.Task) (*model.TaskResult, error) {
	if s.ProcessFunc != nil {
		return s.ProcessFunc(ctx, task)
	}
	return &model.TaskResult{
		TaskID:        task.ID,
		Output:        []byte("ok"),
		Latency:       10 * time.Millisecond,
		ResourceUsage: 0.1,
		CompletedAt:   time.Now(),
	}, nil
}

// Loads returns how many times Load was called
func (s *Stub) Loads() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.loads
}

// Unloads returns how many times Unload was called
func (s *Stub) Unloads() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.unloads
}
