package model

import (
	"time"
)

// TaskType identifies the kind of work a task carries
type TaskType string

const (
	TaskTypeTranscribe      TaskType = "transcribe"
	TaskTypeAnalyzeAudio    TaskType = "analyze_audio"
	TaskTypeExtractFeatures TaskType = "extract_features"
	TaskTypeGenerateAudio   TaskType = "generate_audio"
	TaskTypePlan            TaskType = "plan"
)

// OptimizationPriority expresses what a task should be optimized for
type OptimizationPriority string

const (
	OptimizeSpeed      OptimizationPriority = "speed"
	OptimizeQuality    OptimizationPriority = "quality"
	OptimizeEfficiency OptimizationPriority = "efficiency"
)

// Task represents a unit of work to be routed through the orchestrator
type Task struct {
	ID        string    `json:"id"`
	Type      TaskType  `json:"type"`
	Input     []byte    `json:"input"`
	CreatedAt time.Time `json:"created_at"`
}

// TaskRequirements describes what a task needs from a model and the pool.
// Built by the analyzer, consumed by the allocator.
type TaskRequirements struct {
	PrimaryCapability     Capability             `json:"primary_capability"`
	SecondaryCapabilities []Capability           `json:"secondary_capabilities"`
	MinCapabilityScores   map[Capability]float64 `json:"min_capability_scores"`
	ContextSize           int                    `json:"context_size"`
	Priority              OptimizationPriority   `json:"priority"`
	Constraints           ResourceConstraints    `json:"constraints"`
}

// TaskResult represents the outcome of a task execution
type TaskResult struct {
	TaskID        string        `json:"task_id"`
	Output        []byte        `json:"output,omitempty"`
	Latency       time.Duration `json:"latency"`
	ResourceUsage float64       `json:"resource_usage"`
	CompletedAt   time.Time     `json:"completed_at"`
}
