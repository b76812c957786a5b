package backend

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"sync"
	"time"

	"github.com/docker/docker/api/types/container"
	"github.com/docker/docker/client"
	"go.uber.org/zap"

	"github.com/audioforge/orchestrator/internal/model"
)

// DockerConfig defines how containerized model workers are launched
type DockerConfig struct {
	Images      map[string]string // model id -> image reference
	WorkerPort  int               // port the worker serves requests on
	WorkerURL   string            // base URL reaching the worker, e.g. http://127.0.0.1:8077
	StopTimeout time.Duration
}

// DockerBackend hosts each model in its own container: Load creates and
// starts the worker container, Unload stops and removes it, Process
// forwards the task to the worker's HTTP endpoint.
type DockerBackend struct {
	logger *zap.Logger
	config DockerConfig
	docker *client.Client
	http   *http.Client

	mu          sync.Mutex
	loaded      *model.ModelType
	containerID string
}

// NewDockerBackend creates a docker-based model backend
func NewDockerBackend(config DockerConfig, logger *zap.Logger) (*DockerBackend, error) {
	docker, err := client.NewClientWithOpts(
		client.FromEnv,
		client.WithAPIVersionNegotiation(),
	)
	if err != nil {
		return nil, fmt.Errorf("failed to create Docker client: %w", err)
	}

	if config.StopTimeout <= 0 {
		config.StopTimeout = 30 * time.Second
	}

	return &DockerBackend{
		logger: logger.Named("docker-backend"),
		config: config,
		docker: docker,
		http: &http.Client{
			Timeout: 5 * time.Minute,
		},
	}, nil
}

// Load creates and starts the worker container for the model
func (b *DockerBackend) Load(ctx context.Context, mt model.ModelType) error {
	image, ok := b.config.Images[mt.ID]
	if !ok {
		return fmt.Errorf("no worker image registered for model %s", mt.ID)
	}

	b.mu.Lock()
	defer b.mu.Unlock()

	if b.containerID != "" {
		return fmt.Errorf("container already running for model %s", b.loaded.ID)
	}

	created, err := b.docker.ContainerCreate(ctx,
		&container.Config{
			Image: image,
			Labels: map[string]string{
				"orchestrator.model_id": mt.ID,
			},
		},
		&container.HostConfig{
			Resources: container.Resources{
				Memory: mt.MemoryRequirement,
			},
		},
		nil, nil, "")
	if err != nil {
		return fmt.Errorf("failed to create worker container: %w", err)
	}

	if err := b.docker.ContainerStart(ctx, created.ID, container.StartOptions{}); err != nil {
		return fmt.Errorf("failed to start worker container: %w", err)
	}

	b.loaded = &mt
	b.containerID = created.ID

	b.logger.Info("Worker container started",
		zap.String("model_id", mt.ID),
		zap.String("image", image),
		zap.String("container_id", created.ID))
	return nil
}

// Unload stops and removes the worker container
func (b *DockerBackend) Unload(ctx context.Context) error {
	b.mu.Lock()
	defer b.mu.Unlock()

	if b.containerID == "" {
		return nil
	}

	timeout := int(b.config.StopTimeout.Seconds())
	if err := b.docker.ContainerStop(ctx, b.containerID, container.StopOptions{Timeout: &timeout}); err != nil {
		b.logger.Warn("Failed to stop worker container",
			zap.String("container_id", b.containerID),
			zap.Error(err))
	}

	if err := b.docker.ContainerRemove(ctx, b.containerID, container.RemoveOptions{Force: true}); err != nil {
		return fmt.Errorf("failed to remove worker container: %w", err)
	}

	b.logger.Info("Worker container removed",
		zap.String("container_id", b.containerID))

	b.loaded = nil
	b.containerID = ""
	return nil
}

// Process forwards the task to the worker container's HTTP endpoint
func (b *DockerBackend) Process(ctx context.Context, task *model.Task) (*model.TaskResult, error) {
	b.mu.Lock()
	containerID := b.containerID
	b.mu.Unlock()

	if containerID == "" {
		return nil, fmt.Errorf("no model loaded")
	}

	body, err := json.Marshal(subprocessRequest{
		Operation: string(task.Type),
		TaskID:    task.ID,
		Input:     task.Input,
	})
	if err != nil {
		return nil, fmt.Errorf("failed to marshal worker request: %w", err)
	}

	url := fmt.Sprintf("%s/process", b.config.WorkerURL)
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, url, bytes.NewReader(body))
	if err != nil {
		return nil, fmt.Errorf("failed to create request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")

	start := time.Now()
	resp, err := b.http.Do(req)
	if err != nil {
		return nil, fmt.Errorf("worker request failed: %w", err)
	}
	defer resp.Body.Close()

	payload, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, fmt.Errorf("failed to read worker response: %w", err)
	}
	if resp.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("worker returned status %d: %s", resp.StatusCode, payload)
	}

	var response subprocessResponse
	if err := json.Unmarshal(payload, &response); err != nil {
		return nil, fmt.Errorf("failed to decode worker response: %w", err)
	}
	if response.Error != "" {
		return nil, fmt.Errorf("worker error: %s", response.Error)
	}

	return &model.TaskResult{
		TaskID:        task.ID,
		Output:        response.Output,
		Latency:       time.Since(start),
		ResourceUsage: response.ResourceUsage,
		CompletedAt:   time.Now(),
	}, nil
}

// StreamLogs copies the worker container's log stream to the writer.
// Useful for surfacing worker-side failures during debugging.
func (b *DockerBackend) StreamLogs(ctx context.Context, w io.Writer) error {
	b.mu.Lock()
	containerID := b.containerID
	b.mu.Unlock()

	if containerID == "" {
		return fmt.Errorf("no model loaded")
	}

	reader, err := b.docker.ContainerLogs(ctx, containerID, container.LogsOptions{
		ShowStdout: true,
		ShowStderr: true,
		Follow:     false,
	})
	if err != nil {
		return fmt.Errorf("failed to get container logs: %w", err)
	}
	defer reader.Close()

	_, err = io.Copy(w, reader)
	return err
}
