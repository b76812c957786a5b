package backend

import (
	"context"
	"os"
	"path/filepath"
	"runtime"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap/zaptest"

	"github.com/audioforge/orchestrator/internal/model"
)

// writeWorker drops a shell script standing in for a python worker
func writeWorker(t *testing.T, dir, name, body string) {
	t.Helper()
	require.NoError(t, os.WriteFile(filepath.Join(dir, name), []byte(body), 0o755))
}

func newShellBackend(t *testing.T, scripts map[string]string, timeout time.Duration) (*SubprocessBackend, string) {
	t.Helper()
	if runtime.GOOS == "windows" {
		t.Skip("shell workers require a POSIX shell")
	}
	dir := t.TempDir()
	b := NewSubprocessBackend(SubprocessConfig{
		Python:    "/bin/sh",
		ScriptDir: dir,
		Scripts:   scripts,
		Timeout:   timeout,
	}, zaptest.NewLogger(t))
	return b, dir
}

func TestSubprocessProcess(t *testing.T) {
	b, dir := newShellBackend(t, map[string]string{"m1": "worker.sh"}, 10*time.Second)
	// "aGVsbG8=" is base64 for "hello"
	writeWorker(t, dir, "worker.sh", "cat >/dev/null\necho '{\"output\":\"aGVsbG8=\",\"resource_usage\":0.25}'\n")

	ctx := context.Background()
	require.NoError(t, b.Load(ctx, model.ModelType{ID: "m1"}))

	result, err := b.Process(ctx, &model.Task{ID: "t1", Type: model.TaskTypeTranscribe, Input: []byte("audio")})
	require.NoError(t, err)
	assert.Equal(t, "t1", result.TaskID)
	assert.Equal(t, []byte("hello"), result.Output)
	assert.InDelta(t, 0.25, result.ResourceUsage, 1e-9)
	assert.Greater(t, result.Latency, time.Duration(0))
}

func TestSubprocessWorkerError(t *testing.T) {
	b, dir := newShellBackend(t, map[string]string{"m1": "worker.sh"}, 10*time.Second)
	writeWorker(t, dir, "worker.sh", "cat >/dev/null\necho '{\"error\":\"model exploded\"}'\n")

	ctx := context.Background()
	require.NoError(t, b.Load(ctx, model.ModelType{ID: "m1"}))

	_, err := b.Process(ctx, &model.Task{ID: "t1", Type: model.TaskTypeTranscribe})
	require.Error(t, err)
	assert.Contains(t, err.Error(), "model exploded")
}

func TestSubprocessWorkerCrash(t *testing.T) {
	b, dir := newShellBackend(t, map[string]string{"m1": "worker.sh"}, 10*time.Second)
	writeWorker(t, dir, "worker.sh", "echo boom >&2\nexit 3\n")

	ctx := context.Background()
	require.NoError(t, b.Load(ctx, model.ModelType{ID: "m1"}))

	_, err := b.Process(ctx, &model.Task{ID: "t1", Type: model.TaskTypeTranscribe})
	require.Error(t, err)
	assert.Contains(t, err.Error(), "boom")
}

func TestSubprocessTimeout(t *testing.T) {
	b, dir := newShellBackend(t, map[string]string{"m1": "worker.sh"}, 200*time.Millisecond)
	writeWorker(t, dir, "worker.sh", "sleep 10\n")

	ctx := context.Background()
	require.NoError(t, b.Load(ctx, model.ModelType{ID: "m1"}))

	_, err := b.Process(ctx, &model.Task{ID: "t1", Type: model.TaskTypeTranscribe})
	require.Error(t, err)
	assert.Contains(t, err.Error(), "timed out")
}

func TestSubprocessLoadRequiresScript(t *testing.T) {
	b, _ := newShellBackend(t, map[string]string{"m1": "worker.sh"}, time.Second)

	err := b.Load(context.Background(), model.ModelType{ID: "unregistered"})
	assert.Error(t, err)
}

func TestSubprocessProcessWithoutLoad(t *testing.T) {
	b, _ := newShellBackend(t, map[string]string{"m1": "worker.sh"}, time.Second)

	_, err := b.Process(context.Background(), &model.Task{ID: "t1", Type: model.TaskTypeTranscribe})
	assert.Error(t, err)
}
