package backend

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"os/exec"
	"path/filepath"
	"strings"
	"sync"
	"time"

	"go.uber.org/zap"

	"github.com/audioforge/orchestrator/internal/model"
)

// SubprocessConfig defines how worker scripts are invoked
type SubprocessConfig struct {
	Python    string            // interpreter, default "python3"
	ScriptDir string            // directory holding per-model operation scripts
	Scripts   map[string]string // model id -> script file name
	Timeout   time.Duration     // per-invocation ceiling, 0 disables
}

// SubprocessBackend runs model workers as one-shot python processes,
// passing the task over stdin and reading a JSON result from stdout.
// This mirrors how the transcription and synthesis workers are shipped.
type SubprocessBackend struct {
	logger *zap.Logger
	config SubprocessConfig

	mu     sync.Mutex
	loaded *model.ModelType
}

// subprocessRequest is the line protocol sent to the worker
type subprocessRequest struct {
	Operation string `json:"operation"`
	TaskID    string `json:"task_id"`
	Input     []byte `json:"input"`
}

// subprocessResponse is the worker's reply
type subprocessResponse struct {
	Output        []byte  `json:"output,omitempty"`
	Error         string  `json:"error,omitempty"`
	ResourceUsage float64 `json:"resource_usage"`
}

// NewSubprocessBackend creates a subprocess-based model backend
func NewSubprocessBackend(config SubprocessConfig, logger *zap.Logger) *SubprocessBackend {
	if config.Python == "" {
		config.Python = "python3"
	}
	return &SubprocessBackend{
		logger: logger.Named("subprocess-backend"),
		config: config,
	}
}

// Load verifies the model has a registered worker script
func (b *SubprocessBackend) Load(ctx context.Context, mt model.ModelType) error {
	if _, ok := b.config.Scripts[mt.ID]; !ok {
		return fmt.Errorf("no worker script registered for model %s", mt.ID)
	}

	b.mu.Lock()
	b.loaded = &mt
	b.mu.Unlock()

	b.logger.Info("Model worker ready",
		zap.String("model_id", mt.ID),
		zap.String("script", b.config.Scripts[mt.ID]))
	return nil
}

// Unload clears the active model
func (b *SubprocessBackend) Unload(ctx context.Context) error {
	b.mu.Lock()
	b.loaded = nil
	b.mu.Unlock()
	return nil
}

// Process invokes the worker script for the loaded model
func (b *SubprocessBackend) Process(ctx context.Context, task *model.Task) (*model.TaskResult, error) {
	b.mu.Lock()
	loaded := b.loaded
	b.mu.Unlock()

	if loaded == nil {
		return nil, fmt.Errorf("no model loaded")
	}

	script := filepath.Join(b.config.ScriptDir, b.config.Scripts[loaded.ID])

	cmdCtx := ctx
	if b.config.Timeout > 0 {
		var cancel context.CancelFunc
		cmdCtx, cancel = context.WithTimeout(ctx, b.config.Timeout)
		defer cancel()
	}

	request, err := json.Marshal(subprocessRequest{
		Operation: string(task.Type),
		TaskID:    task.ID,
		Input:     task.Input,
	})
	if err != nil {
		return nil, fmt.Errorf("failed to marshal worker request: %w", err)
	}

	cmd := exec.CommandContext(cmdCtx, b.config.Python, script)
	cmd.Stdin = bytes.NewReader(request)

	start := time.Now()
	output, err := cmd.Output()
	latency := time.Since(start)

	if err != nil {
		if cmdCtx.Err() == context.DeadlineExceeded {
			return nil, fmt.Errorf("worker timed out after %s", b.config.Timeout)
		}
		var exitErr *exec.ExitError
		if errors.As(err, &exitErr) {
			return nil, fmt.Errorf("worker failed: %s", strings.TrimSpace(string(exitErr.Stderr)))
		}
		return nil, fmt.Errorf("failed to run worker: %w", err)
	}

	var response subprocessResponse
	if err := json.Unmarshal(output, &response); err != nil {
		return nil, fmt.Errorf("failed to decode worker response: %w", err)
	}
	if response.Error != "" {
		return nil, fmt.Errorf("worker error: %s", response.Error)
	}

	return &model.TaskResult{
		TaskID:        task.ID,
		Output:        response.Output,
		Latency:       latency,
		ResourceUsage: response.ResourceUsage,
		CompletedAt:   time.Now(),
	}, nil
}
